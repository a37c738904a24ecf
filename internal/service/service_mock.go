package service

import (
	"context"
	"io"

	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/wb-go/wbf/retry"
)

// MOCK PHOTO RESPOSITORY

type mockPhotoRepo struct {
	createFn       func(ctx context.Context, p *model.Photo) error
	getFn          func(ctx context.Context, id string) (*model.Photo, error)
	deleteFn       func(ctx context.Context, id string) error
	updateStatusFn func(ctx context.Context, id string, st model.Status) error
	saveResultFn   func(ctx context.Context, p *model.Photo) error
	markFailedFn   func(ctx context.Context, id string, reasons model.StringSlice) error
	fetchOrphansFn func(ctx context.Context, limit int) ([]model.Photo, error)
}

func (m *mockPhotoRepo) Create(ctx context.Context, p *model.Photo) error {
	return m.createFn(ctx, p)
}

func (m *mockPhotoRepo) Get(ctx context.Context, id string) (*model.Photo, error) {
	return m.getFn(ctx, id)
}

func (m *mockPhotoRepo) Delete(ctx context.Context, id string) error {
	return m.deleteFn(ctx, id)
}

func (m *mockPhotoRepo) UpdateStatus(ctx context.Context, id string, st model.Status) error {
	return m.updateStatusFn(ctx, id, st)
}

func (m *mockPhotoRepo) SaveResult(ctx context.Context, p *model.Photo) error {
	return m.saveResultFn(ctx, p)
}

func (m *mockPhotoRepo) MarkFailed(ctx context.Context, id string, reasons model.StringSlice) error {
	return m.markFailedFn(ctx, id, reasons)
}

func (m *mockPhotoRepo) FetchOrphans(ctx context.Context, limit int) ([]model.Photo, error) {
	return m.fetchOrphansFn(ctx, limit)
}

// MOCK WATERMARK RESPOSITORY

type mockWatermarkRepo struct {
	upsertFn       func(ctx context.Context, wm *model.Watermark) error
	updateConfigFn func(ctx context.Context, owner string, cfg model.RawConfig) (*model.Watermark, error)
	getFn          func(ctx context.Context, owner string) (*model.Watermark, error)
}

func (m *mockWatermarkRepo) Upsert(ctx context.Context, wm *model.Watermark) error {
	return m.upsertFn(ctx, wm)
}

func (m *mockWatermarkRepo) UpdateConfig(ctx context.Context, owner string, cfg model.RawConfig) (*model.Watermark, error) {
	return m.updateConfigFn(ctx, owner, cfg)
}

func (m *mockWatermarkRepo) Get(ctx context.Context, owner string) (*model.Watermark, error) {
	return m.getFn(ctx, owner)
}

// MOCK STORAGE

type mockStorage struct {
	putFn    func(ctx context.Context, key string, size int64, ct string, r io.Reader) error
	getFn    func(ctx context.Context, key string) (io.ReadCloser, string, error)
	deleteFn func(ctx context.Context, key string) error
}

func (m *mockStorage) Put(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
	return m.putFn(ctx, key, size, ct, r)
}

func (m *mockStorage) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	return m.getFn(ctx, key)
}

func (m *mockStorage) Delete(ctx context.Context, key string) error {
	return m.deleteFn(ctx, key)
}

// MOCK PUBLISHER

type mockPublisher struct {
	sendFn func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error
}

func (m *mockPublisher) SendWithRetry(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
	return m.sendFn(ctx, s, key, v)
}
