// Package service provides business-logic for the app
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/UnendingLoop/GalleryWatermark/internal/appconfig"
	"github.com/UnendingLoop/GalleryWatermark/internal/imageproc"
	"github.com/UnendingLoop/GalleryWatermark/internal/kafka"
	"github.com/UnendingLoop/GalleryWatermark/internal/logctx"
	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/UnendingLoop/GalleryWatermark/internal/repository"
	"github.com/UnendingLoop/GalleryWatermark/internal/watermark"
	"github.com/google/uuid"
	"github.com/wb-go/wbf/retry"
)

type GalleryService struct {
	photos     repository.PhotoRepo
	watermarks repository.WatermarkRepo
	publisher  TaskPublisher
	storage    ImageStorage
	engine     *watermark.Engine
	keys       appconfig.KeyPrefixes
}

func NewGalleryService(photos repository.PhotoRepo, wms repository.WatermarkRepo, pub TaskPublisher, strg ImageStorage,
	engine *watermark.Engine, keys appconfig.KeyPrefixes,
) *GalleryService {
	return &GalleryService{
		photos:     photos,
		watermarks: wms,
		publisher:  pub,
		storage:    strg,
		engine:     engine,
		keys:       keys,
	}
}

// TaskPublisher - контракт для работы с очередью
type TaskPublisher interface {
	SendWithRetry(ctx context.Context, strategy retry.Strategy, key []byte, v []byte) error
}

// ImageStorage - контракт для работы с хранилищем
type ImageStorage interface {
	Delete(ctx context.Context, key string) error
	Get(ctx context.Context, key string) (output io.ReadCloser, ctype string, err error)
	Put(ctx context.Context, key string, size int64, contentType string, r io.Reader) error
}

// Стратегия ретрая отправки в очередь - можно потом вынести значения в конфиг/env
var retryStrategy = retry.Strategy{
	Attempts: 5,
	Delay:    3 * time.Second,
	Backoff:  1.5,
}

//---------------- watermarks

// SaveWatermark replaces owner's asset and config together. The previous asset blob is removed afterwards.
func (c *GalleryService) SaveWatermark(ctx context.Context, up *model.WatermarkUpload) (*model.Watermark, error) {
	logger := logctx.LoggerFromContext(ctx)

	data, err := validateWatermarkUpload(up)
	if err != nil {
		return nil, err
	}

	// ватермарк должен декодироваться до того как мы его сохраним
	if _, err := c.engine.Prepare(ctx, data, up.Config); err != nil {
		return nil, err
	}

	prev, err := c.watermarks.Get(ctx, up.Owner)
	if err != nil && !errors.Is(err, model.ErrMissingWatermark) {
		logger.Error().Err(err).Msg("Failed to fetch current watermark from DB")
		return nil, model.ErrCommon500
	}

	key := c.keys.Watermark + up.Owner + "_" + uuid.NewString() + model.GetImageFileExt[up.Image.ContentType]
	if err := c.storage.Put(ctx, key, int64(len(data)), up.Image.ContentType, bytesReader(data)); err != nil {
		logger.Error().Err(err).Msg("Failed to save watermark in Storage")
		return nil, model.ErrCommon500
	}

	now := time.Now().UTC()
	wm := &model.Watermark{
		Owner:       up.Owner,
		ImageRef:    key,
		ContentType: up.Image.ContentType,
		Config:      up.Config,
		CreatedAt:   &now,
		UpdatedAt:   &now,
	}
	if prev != nil {
		wm.CreatedAt = prev.CreatedAt
	}

	if err := c.watermarks.Upsert(ctx, wm); err != nil {
		logger.Error().Err(err).Msg("Failed to save watermark in DB")
		c.deleteBlob(ctx, key)
		return nil, mapInfraErr(err)
	}

	if prev != nil && prev.ImageRef != key && !imageproc.IsDataURI([]byte(prev.ImageRef)) {
		c.deleteBlob(ctx, prev.ImageRef)
	}

	return wm, nil
}

// UpdateConfig replaces only the config; the stored asset is kept
func (c *GalleryService) UpdateConfig(ctx context.Context, owner string, raw model.RawConfig) (*model.Watermark, error) {
	logger := logctx.LoggerFromContext(ctx)
	if owner == "" {
		return nil, model.ErrIncorrectOwner
	}

	wm, err := c.watermarks.UpdateConfig(ctx, owner, raw)
	if err != nil {
		if errors.Is(err, model.ErrMissingWatermark) {
			return nil, err
		}
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to update watermark config of %q in DB", owner))
		return nil, mapInfraErr(err)
	}
	return wm, nil
}

func (c *GalleryService) GetWatermark(ctx context.Context, owner string) (*model.Watermark, error) {
	logger := logctx.LoggerFromContext(ctx)
	if owner == "" {
		return nil, model.ErrIncorrectOwner
	}

	wm, err := c.watermarks.Get(ctx, owner)
	if err != nil {
		if errors.Is(err, model.ErrMissingWatermark) {
			return nil, err
		}
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch watermark of %q from DB", owner))
		return nil, mapInfraErr(err)
	}
	return wm, nil
}

// LoadAsset returns the encoded asset: inline data-URIs as is, storage keys from the blob storage
func (c *GalleryService) LoadAsset(ctx context.Context, wm *model.Watermark) ([]byte, error) {
	logger := logctx.LoggerFromContext(ctx)
	if wm == nil || wm.ImageRef == "" {
		return nil, model.ErrMissingWatermark
	}

	if imageproc.IsDataURI([]byte(wm.ImageRef)) {
		return []byte(wm.ImageRef), nil
	}

	data, err := c.readBlob(ctx, wm.ImageRef)
	if err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch watermark asset %q from Storage", wm.ImageRef))
		return nil, model.ErrCommon500
	}
	return data, nil
}

// ResolveWatermark loads, decodes and normalizes owner's watermark once; the result is shared by a whole batch
func (c *GalleryService) ResolveWatermark(ctx context.Context, owner string) (*watermark.Prepared, error) {
	wm, err := c.GetWatermark(ctx, owner)
	if err != nil {
		return nil, err
	}

	asset, err := c.LoadAsset(ctx, wm)
	if err != nil {
		return nil, err
	}

	return c.engine.Prepare(ctx, asset, wm.Config)
}

// PreviewLayout resolves placements for a target size without decoding any photo
func (c *GalleryService) PreviewLayout(ctx context.Context, owner string, width, height int) (model.PlacementPlan, error) {
	if width <= 0 || height <= 0 {
		return model.PlacementPlan{}, fmt.Errorf("%w: target size %dx%d", model.ErrInvalidConfig, width, height)
	}

	p, err := c.ResolveWatermark(ctx, owner)
	if err != nil {
		return model.PlacementPlan{}, err
	}

	return watermark.ResolveLayout(width, height, p.Asset().Width(), p.Asset().Height(), p.Config()), nil
}

//---------------- photos

// RegisterPhotos stores originals, creates records and publishes one job for the whole upload.
// A single photo is a batch of one.
func (c *GalleryService) RegisterPhotos(ctx context.Context, up *model.PhotoUpload) ([]model.Photo, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := validatePhotoUpload(up); err != nil {
		return nil, err
	}

	// без ватермарка нет смысла что-то принимать
	if _, err := c.GetWatermark(ctx, up.Owner); err != nil {
		return nil, err
	}

	job := model.Job{ID: uuid.NewString(), Owner: up.Owner, GalleryID: up.GalleryID}
	photos := make([]model.Photo, 0, len(up.Files))

	for _, f := range up.Files {
		now := time.Now().UTC()
		photo := model.Photo{
			UID:         uuid.New(),
			GalleryID:   up.GalleryID,
			Owner:       up.Owner,
			ContentType: f.ContentType,
			Status:      model.StatusCreated,
			CreatedAt:   &now,
		}

		// кладем в хранилище сорсник
		photo.SourceKey = c.keys.Source + photo.UID.String() + model.GetImageFileExt[f.ContentType]
		if err := c.storage.Put(ctx, photo.SourceKey, f.Size, f.ContentType, f.Data); err != nil {
			logger.Error().Err(err).Msg(fmt.Sprintf("Failed to save source photo %q in Storage", f.Name))
			return nil, model.ErrCommon500
		}

		// шлем в базу
		if err := c.photos.Create(ctx, &photo); err != nil {
			logger.Error().Err(err).Msg("Failed to create photo in DB")
			c.deleteBlob(ctx, photo.SourceKey)
			return nil, mapInfraErr(err)
		}

		photos = append(photos, photo)
		job.PhotoIDs = append(job.PhotoIDs, photo.UID.String())
	}

	// кладем в очередь задач(в кафку)
	if err := c.publish(ctx, job); err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to publish job %q to task-queue", job.ID))
		return nil, model.ErrCommon500
	}

	return photos, nil
}

func (c *GalleryService) Get(ctx context.Context, id string) (*model.Photo, error) {
	logger := logctx.LoggerFromContext(ctx)
	if err := uuid.Validate(id); err != nil {
		return nil, model.ErrIncorrectID
	}

	res, err := c.photos.Get(ctx, id)
	if err != nil {
		if errors.Is(err, model.ErrPhotoNotFound) {
			return nil, err
		}
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch photo %q from DB", id))
		return nil, mapInfraErr(err)
	}

	return res, nil
}

// LoadResult returns the watermarked photo, or its preview when preview is set
func (c *GalleryService) LoadResult(ctx context.Context, id string, preview bool) (io.ReadCloser, string, error) {
	logger := logctx.LoggerFromContext(ctx)

	res, err := c.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if res.Status != model.StatusDone {
		return nil, "", model.ErrResultNotReady
	}

	key := res.ResultKey
	if preview && res.PreviewKey != "" {
		key = res.PreviewKey
	}

	// достаем из хранилища
	data, cType, err := c.storage.Get(ctx, key)
	if err != nil {
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to fetch result-photo %q from Storage", id))
		return nil, "", model.ErrCommon500
	}
	return data, cType, nil
}

func (c *GalleryService) Delete(ctx context.Context, id string) error {
	logger := logctx.LoggerFromContext(ctx)

	// читаем из базы
	res, err := c.Get(ctx, id)
	if err != nil {
		return err
	}

	// удаляем из базы
	if err := c.photos.Delete(ctx, id); err != nil {
		if errors.Is(err, model.ErrPhotoNotFound) {
			return err
		}
		logger.Error().Err(err).Msg("Failed to delete photo from DB")
		return mapInfraErr(err)
	}

	// удаляем из хранилища сорсник, результат и превью (если они есть)
	for _, key := range []string{res.SourceKey, res.ResultKey, res.PreviewKey} {
		if key == "" {
			continue
		}
		if err := c.storage.Delete(ctx, key); err != nil {
			logger.Error().Err(err).Msg(fmt.Sprintf("Failed to delete %q from Storage", key))
			return model.ErrCommon500
		}
	}

	return nil
}

//---------------- worker side

func (c *GalleryService) UpdateStatus(ctx context.Context, id string, newStat model.Status) error {
	if err := uuid.Validate(id); err != nil {
		return model.ErrIncorrectID
	}
	if !model.StatusMap[newStat] {
		return fmt.Errorf("unknown status %q", newStat)
	}

	logger := logctx.LoggerFromContext(ctx)

	if err := c.photos.UpdateStatus(ctx, id, newStat); err != nil {
		if errors.Is(err, model.ErrPhotoNotFound) {
			return err // 404
		}
		logger.Error().Err(err).Msg("Failed to update photo status in DB")
		return mapInfraErr(err) // 500
	}

	return nil
}

func (c *GalleryService) SaveResult(ctx context.Context, input *model.Photo) error {
	logger := logctx.LoggerFromContext(ctx)
	t := time.Now().UTC()
	input.UpdatedAt = &t
	input.Status = model.StatusDone

	if err := c.photos.SaveResult(ctx, input); err != nil {
		if errors.Is(err, model.ErrPhotoNotFound) {
			return err // 404
		}
		logger.Error().Err(err).Msg("Failed to save result photo in DB")
		return mapInfraErr(err) // 500
	}

	return nil
}

func (c *GalleryService) MarkFailed(ctx context.Context, id string, reasons ...string) error {
	logger := logctx.LoggerFromContext(ctx)

	if err := c.photos.MarkFailed(ctx, id, model.StringSlice(reasons)); err != nil {
		if errors.Is(err, model.ErrPhotoNotFound) {
			return err
		}
		logger.Error().Err(err).Msg("Failed to mark photo as failed in DB")
		return mapInfraErr(err)
	}
	return nil
}

// ReviveOrphans republishes photos stuck in created/in_progress, one job per owner and gallery
func (c *GalleryService) ReviveOrphans(ctx context.Context, limit int) {
	logger := logctx.LoggerFromContext(ctx)

	orphans, err := c.photos.FetchOrphans(ctx, limit)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load orphans from DB")
		return
	}

	for _, job := range groupOrphans(orphans) {
		if err := c.publish(ctx, job); err != nil {
			logger.Error().Err(err).Msg("Failed to publish orphan job to queue")
		}
	}
}

func (c *GalleryService) publish(ctx context.Context, job model.Job) error {
	key, value, err := kafka.EncodeJob(job)
	if err != nil {
		return err
	}
	return c.publisher.SendWithRetry(ctx, retryStrategy, key, value)
}

func (c *GalleryService) readBlob(ctx context.Context, key string) ([]byte, error) {
	r, _, err := c.storage.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer closeFileFlow(ctx, r)

	return io.ReadAll(r)
}

func (c *GalleryService) deleteBlob(ctx context.Context, key string) {
	if err := c.storage.Delete(ctx, key); err != nil {
		logger := logctx.LoggerFromContext(ctx)
		logger.Error().Err(err).Msg(fmt.Sprintf("Failed to delete %q from Storage", key))
	}
}
