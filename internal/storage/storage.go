// Package storage connects to the blob storage selected in settings
package storage

import (
	"context"
	"io"
	"log"
	"time"

	"github.com/UnendingLoop/GalleryWatermark/internal/appconfig"
	"github.com/UnendingLoop/GalleryWatermark/internal/storage/miniostorage"
	"github.com/UnendingLoop/GalleryWatermark/internal/storage/s3storage"
)

// BlobStorage - контракт для работы с хранилищем
type BlobStorage interface {
	Put(ctx context.Context, key string, size int64, contentType string, r io.Reader) error
	Get(ctx context.Context, key string) (output io.ReadCloser, ctype string, err error)
	Delete(ctx context.Context, key string) error
}

// NewBlobStorage retries until the storage answers or ctx is done
func NewBlobStorage(ctx context.Context, cfg appconfig.StorageSettings, delay time.Duration) (BlobStorage, error) {
	for {
		log.Printf("Connecting to %s blob-storage...", cfg.Backend)
		client, err := connect(ctx, cfg)
		if err == nil {
			log.Println("Successfully connected blob-storage!")
			return client, nil
		}
		log.Printf("Failed to init connection to blob-storage: %v\nNext retry in %v...", err, delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
}

func connect(ctx context.Context, cfg appconfig.StorageSettings) (BlobStorage, error) {
	switch cfg.Backend {
	case appconfig.BackendS3:
		return s3storage.NewS3Client(ctx, s3storage.Options{
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
			User:     cfg.User,
			Password: cfg.Password,
			Bucket:   cfg.Bucket,
		})
	default:
		return miniostorage.NewMinioClient(ctx, miniostorage.Options{
			Host:     cfg.MinioHost,
			User:     cfg.User,
			Password: cfg.Password,
			Bucket:   cfg.Bucket,
		})
	}
}
