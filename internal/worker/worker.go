// Package worker consumes watermark jobs from the queue and processes every photo of a job
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/UnendingLoop/GalleryWatermark/internal/appconfig"
	"github.com/UnendingLoop/GalleryWatermark/internal/kafka"
	"github.com/UnendingLoop/GalleryWatermark/internal/logctx"
	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/UnendingLoop/GalleryWatermark/internal/pool"
	"github.com/UnendingLoop/GalleryWatermark/internal/service"
	"github.com/UnendingLoop/GalleryWatermark/internal/watermark"
	kafkago "github.com/segmentio/kafka-go"
)

type WatermarkWorkerService interface {
	Get(ctx context.Context, id string) (*model.Photo, error)
	UpdateStatus(ctx context.Context, id string, newStat model.Status) error
	SaveResult(ctx context.Context, res *model.Photo) error
	MarkFailed(ctx context.Context, id string, reasons ...string) error
	ResolveWatermark(ctx context.Context, owner string) (*watermark.Prepared, error)
}

// Committer - подтверждение обработанного сообщения в кафке
type Committer interface {
	Commit(ctx context.Context, msg kafkago.Message) error
}

type Worker struct {
	storage   service.ImageStorage
	service   WatermarkWorkerService
	engine    *watermark.Engine
	queue     <-chan kafkago.Message
	consumer  Committer
	keys      appconfig.KeyPrefixes
	photoPool int
}

func NewWorkerInstance(strg service.ImageStorage, svc WatermarkWorkerService, engine *watermark.Engine,
	q <-chan kafkago.Message, cons Committer, keys appconfig.KeyPrefixes, photoPool int,
) *Worker {
	return &Worker{
		storage:   strg,
		service:   svc,
		engine:    engine,
		queue:     q,
		consumer:  cons,
		keys:      keys,
		photoPool: photoPool,
	}
}

// StartWorker returns nil when ctx is done or the queue is closed, and ErrSchemaMissing
// when the DB cannot hold results anymore: no point in consuming further.
func (w *Worker) StartWorker(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-w.queue:
			if !ok {
				log.Println("Queue channel closed, stopping worker...")
				return nil
			}

			job, err := kafka.DecodeJob(msg)
			if err != nil {
				// битое сообщение не станет лучше при повторе
				log.Printf("Dropping unreadable queue-message at offset %d: %v", msg.Offset, err)
			} else if err := w.processJob(ctx, job); err != nil {
				if errors.Is(err, model.ErrSchemaMissing) {
					return err
				}
				log.Printf("Job %s failed: %v", job.ID, err)
				continue
			}

			if err := w.consumer.Commit(ctx, msg); err != nil {
				log.Printf("Failed to commit queue-message: %v", err)
			}
		}
	}
}

// processJob resolves the owner's watermark once and applies it to every photo of the job.
// Per-photo failures are recorded on the photo and do not fail the job.
func (w *Worker) processJob(ctx context.Context, job model.Job) error {
	ctx, _ = logctx.WithJob(ctx, job.ID, job.Owner)
	logger := logctx.LoggerFromContext(ctx)

	photos, err := w.pendingPhotos(ctx, job.PhotoIDs)
	if err != nil {
		return err
	}
	if len(photos) == 0 {
		logger.Info().Msg("Nothing to process in job")
		return nil
	}

	owner := job.Owner
	if owner == "" {
		owner = photos[0].Owner
	}

	// ватермарк один на всю пачку - если его нет, валим всю пачку сразу
	prepared, err := w.service.ResolveWatermark(ctx, owner)
	if err != nil {
		if errors.Is(err, model.ErrSchemaMissing) {
			return err
		}
		logger.Error().Err(err).Msg("Failed to resolve watermark, failing the whole batch")
		return w.failAll(ctx, photos, err)
	}

	errs := pool.Run(ctx, w.photoPool, photos, func(ctx context.Context, _ int, p *model.Photo) error {
		return w.processPhoto(logctx.WithPhoto(ctx, p.UID.String()), prepared, p)
	})

	// при остановке не помечаем фото как failed - их подберет ReviveOrphans
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("job interrupted: %w", err)
	}

	done := 0
	for i, pErr := range errs {
		if pErr == nil {
			done++
			continue
		}
		if errors.Is(pErr, model.ErrSchemaMissing) {
			return pErr
		}

		id := photos[i].UID.String()
		logger.Error().Err(pErr).Str("photo_id", id).Msg("Failed to watermark photo")
		if mErr := w.service.MarkFailed(ctx, id, pErr.Error()); mErr != nil {
			if errors.Is(mErr, model.ErrSchemaMissing) {
				return mErr
			}
			logger.Error().Err(mErr).Str("photo_id", id).Msg("Failed to mark photo as failed")
		}
	}

	logger.Info().Int("done", done).Int("total", len(photos)).Msg("Job processed")
	return nil
}

// pendingPhotos loads the job's photos and skips unknown and already processed ones
func (w *Worker) pendingPhotos(ctx context.Context, ids []string) ([]*model.Photo, error) {
	logger := logctx.LoggerFromContext(ctx)
	res := make([]*model.Photo, 0, len(ids))

	for _, id := range ids {
		// считать из базы задачу
		p, err := w.service.Get(ctx, id)
		if err != nil {
			switch {
			case errors.Is(err, model.ErrSchemaMissing):
				return nil, err
			case errors.Is(err, model.ErrPhotoNotFound), errors.Is(err, model.ErrIncorrectID):
				logger.Warn().Err(err).Str("photo_id", id).Msg("Skipping photo")
				continue
			default:
				return nil, fmt.Errorf("fetch photo %q: %w", id, err)
			}
		}

		// проверить статус
		if p.Status == model.StatusDone {
			continue
		}
		res = append(res, p)
	}
	return res, nil
}

func (w *Worker) processPhoto(ctx context.Context, prepared *watermark.Prepared, p *model.Photo) error {
	id := p.UID.String()

	// обновить статус
	if err := w.service.UpdateStatus(ctx, id, model.StatusInProgress); err != nil {
		return fmt.Errorf("set status %q: %w", model.StatusInProgress, err)
	}

	// достать из storage исходник
	src, err := w.readSource(ctx, p.SourceKey)
	if err != nil {
		return err
	}

	// выполняем саму операцию
	res, err := w.engine.Apply(ctx, prepared, src)
	if err != nil {
		return err
	}

	// положить результат и превью в сторедж
	name := id + "_watermarked" + model.GetImageFileExt[res.ContentType]

	resultKey := w.keys.Result + name
	if err := w.storage.Put(ctx, resultKey, int64(len(res.Data)), res.ContentType, bytesReader(res.Data)); err != nil {
		return fmt.Errorf("put result image to storage: %w", err)
	}

	previewKey := ""
	if len(res.Preview) > 0 {
		previewKey = w.keys.Preview + name
		if err := w.storage.Put(ctx, previewKey, int64(len(res.Preview)), res.ContentType, bytesReader(res.Preview)); err != nil {
			return fmt.Errorf("put preview image to storage: %w", err)
		}
	}

	p.ResultKey = resultKey
	p.PreviewKey = previewKey
	p.ContentType = res.ContentType

	// обновить запись в БД
	if err := w.service.SaveResult(ctx, p); err != nil {
		return fmt.Errorf("save result to DB: %w", err)
	}
	return nil
}

func (w *Worker) readSource(ctx context.Context, key string) ([]byte, error) {
	r, _, err := w.storage.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetch source image from storage: %w", err)
	}
	defer closeFileFlow(r)

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read source image: %w", err)
	}
	return data, nil
}

func (w *Worker) failAll(ctx context.Context, photos []*model.Photo, reason error) error {
	logger := logctx.LoggerFromContext(ctx)
	for _, p := range photos {
		if err := w.service.MarkFailed(ctx, p.UID.String(), reason.Error()); err != nil {
			if errors.Is(err, model.ErrSchemaMissing) {
				return err
			}
			logger.Error().Err(err).Str("photo_id", p.UID.String()).Msg("Failed to mark photo as failed")
		}
	}
	return nil
}
