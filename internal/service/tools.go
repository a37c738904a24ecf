package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/UnendingLoop/GalleryWatermark/internal/logctx"
	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/google/uuid"
)

// maxWatermarkSize - ватермарк читается в память целиком
const maxWatermarkSize = 20 << 20

func validatePhotoUpload(up *model.PhotoUpload) error {
	if up == nil || up.Owner == "" {
		return model.ErrIncorrectOwner
	}
	if up.GalleryID == "" || len(up.Files) == 0 {
		return model.ErrEmptySource
	}

	// корректен ли каждый исходник
	for _, f := range up.Files {
		if f.Data == nil || f.Size <= 0 {
			return model.ErrEmptySource
		}
		if !model.InImageTypeMap[f.ContentType] {
			return fmt.Errorf("%w: %q (%s)", model.ErrUnsupportedFormat, f.Name, f.ContentType)
		}
	}
	return nil
}

// validateWatermarkUpload checks the upload and reads the asset into memory
func validateWatermarkUpload(up *model.WatermarkUpload) ([]byte, error) {
	if up == nil || up.Owner == "" {
		return nil, model.ErrIncorrectOwner
	}

	img := up.Image
	if img.Data == nil || img.Size <= 0 || img.Size > maxWatermarkSize {
		return nil, model.ErrEmptyWMark
	}
	if !model.InImageTypeMap[img.ContentType] {
		return nil, fmt.Errorf("%w: watermark %s", model.ErrUnsupportedFormat, img.ContentType)
	}

	data, err := io.ReadAll(io.LimitReader(img.Data, maxWatermarkSize+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrEmptyWMark, err)
	}
	if len(data) == 0 || len(data) > maxWatermarkSize {
		return nil, model.ErrEmptyWMark
	}
	return data, nil
}

// groupOrphans - одна задача на пару владелец+галерея, порядок как в выборке
func groupOrphans(orphans []model.Photo) []model.Job {
	type group struct{ owner, gallery string }

	idx := make(map[group]int)
	jobs := make([]model.Job, 0)

	for _, o := range orphans {
		g := group{o.Owner, o.GalleryID}
		i, ok := idx[g]
		if !ok {
			i = len(jobs)
			idx[g] = i
			jobs = append(jobs, model.Job{ID: uuid.NewString(), Owner: o.Owner, GalleryID: o.GalleryID})
		}
		jobs[i].PhotoIDs = append(jobs[i].PhotoIDs, o.UID.String())
	}
	return jobs
}

// mapInfraErr keeps schema errors visible to callers and hides the rest behind ErrCommon500
func mapInfraErr(err error) error {
	if errors.Is(err, model.ErrSchemaMissing) {
		return err
	}
	return model.ErrCommon500
}

func bytesReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

func closeFileFlow(ctx context.Context, res io.Closer) {
	if res == nil {
		return
	}

	if err := res.Close(); err != nil {
		logger := logctx.LoggerFromContext(ctx)
		logger.Error().Err(err).Msg("Failed to close fileflow")
	}
}
