// Package gallerypg stores photo and watermark records in postgres
package gallerypg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/lib/pq"
	"github.com/wb-go/wbf/dbpg"
)

// postgres codes for a missing relation/column
const (
	codeUndefinedTable  pq.ErrorCode = "42P01"
	codeUndefinedColumn pq.ErrorCode = "42703"
)

// mapErr turns schema errors into model.ErrSchemaMissing and keeps everything else as is
func mapErr(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUndefinedTable, codeUndefinedColumn:
			return fmt.Errorf("%w: %s", model.ErrSchemaMissing, pqErr.Message)
		}
	}
	return err
}

// Ping touches every table the app needs
func Ping(ctx context.Context, db *dbpg.DB) error {
	query := `SELECT
	(SELECT count(*) FROM photos WHERE false),
	(SELECT count(*) FROM watermarks WHERE false)`
	var a, b int
	if err := db.QueryRowContext(ctx, query).Scan(&a, &b); err != nil {
		return mapErr(err)
	}
	return nil
}

//--------------------

type PhotoRepo struct {
	DB *dbpg.DB
}

func (p PhotoRepo) Create(ctx context.Context, n *model.Photo) error {
	query := `INSERT INTO photos (photo_uid, gallery_id, owner, source_key, result_key, preview_key, content_type, status, err_msg, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`
	_, err := p.DB.Master.ExecContext(ctx, query, n.UID, n.GalleryID, n.Owner, n.SourceKey, n.ResultKey, n.PreviewKey,
		n.ContentType, n.Status, n.ErrMsg, n.CreatedAt, n.CreatedAt)
	return mapErr(err)
}

func (p PhotoRepo) Get(ctx context.Context, id string) (*model.Photo, error) {
	query := `SELECT photo_uid, gallery_id, owner, source_key, result_key, preview_key, content_type, status, err_msg, created_at, updated_at
	FROM photos
	WHERE photo_uid = $1`
	var photo model.Photo

	err := p.DB.QueryRowContext(ctx, query, id).Scan(&photo.UID,
		&photo.GalleryID,
		&photo.Owner,
		&photo.SourceKey,
		&photo.ResultKey,
		&photo.PreviewKey,
		&photo.ContentType,
		&photo.Status,
		&photo.ErrMsg,
		&photo.CreatedAt,
		&photo.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, model.ErrPhotoNotFound
		default:
			return nil, mapErr(err) // 500
		}
	}
	return &photo, nil
}

func (p PhotoRepo) Delete(ctx context.Context, id string) error {
	query := `DELETE FROM photos
	WHERE photo_uid = $1`

	res, err := p.DB.Master.ExecContext(ctx, query, id)
	if err != nil {
		return mapErr(err)
	}
	return expectOneRow(res, model.ErrPhotoNotFound)
}

func (p PhotoRepo) UpdateStatus(ctx context.Context, id string, newStat model.Status) error {
	query := `UPDATE photos SET status = $1, updated_at = now() WHERE photo_uid = $2`

	res, err := p.DB.Master.ExecContext(ctx, query, newStat, id)
	if err != nil {
		return mapErr(err)
	}
	return expectOneRow(res, model.ErrPhotoNotFound)
}

func (p PhotoRepo) SaveResult(ctx context.Context, input *model.Photo) error {
	query := `UPDATE photos SET status = $1, updated_at = $2, result_key = $3, preview_key = $4, content_type = $5, err_msg = $6
	WHERE photo_uid = $7`

	res, err := p.DB.Master.ExecContext(ctx, query, input.Status, input.UpdatedAt, input.ResultKey, input.PreviewKey,
		input.ContentType, input.ErrMsg, input.UID)
	if err != nil {
		return mapErr(err)
	}
	return expectOneRow(res, model.ErrPhotoNotFound)
}

func (p PhotoRepo) MarkFailed(ctx context.Context, id string, reasons model.StringSlice) error {
	query := `UPDATE photos SET status = $1, err_msg = $2, updated_at = now() WHERE photo_uid = $3`

	res, err := p.DB.Master.ExecContext(ctx, query, model.StatusFailed, reasons, id)
	if err != nil {
		return mapErr(err)
	}
	return expectOneRow(res, model.ErrPhotoNotFound)
}

// FetchOrphans - photos stuck in created/in_progress for more than 10 minutes
func (p PhotoRepo) FetchOrphans(ctx context.Context, limit int) ([]model.Photo, error) {
	query := `SELECT photo_uid, gallery_id, owner
	FROM photos
	WHERE status IN ($1, $2)
	AND updated_at < now() - interval '10 minutes'
	ORDER BY owner, gallery_id
	LIMIT $3`

	rows, err := p.DB.QueryContext(ctx, query, model.StatusCreated, model.StatusInProgress, limit)
	if err != nil {
		return nil, mapErr(err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			log.Printf("Error while closing *sql.Rows after scanning: %v", err)
		}
	}()

	orphans := make([]model.Photo, 0, limit)
	for rows.Next() {
		var photo model.Photo
		if err := rows.Scan(&photo.UID, &photo.GalleryID, &photo.Owner); err != nil {
			return nil, err
		}
		orphans = append(orphans, photo)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	return orphans, nil
}

//--------------------

type WatermarkRepo struct {
	DB *dbpg.DB
}

// Upsert fully replaces owner's watermark: asset reference and config together
func (w WatermarkRepo) Upsert(ctx context.Context, wm *model.Watermark) error {
	query := `INSERT INTO watermarks (owner, image_ref, content_type, config, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $5)
	ON CONFLICT (owner) DO UPDATE
	SET image_ref = EXCLUDED.image_ref,
		content_type = EXCLUDED.content_type,
		config = EXCLUDED.config,
		updated_at = EXCLUDED.updated_at`

	_, err := w.DB.Master.ExecContext(ctx, query, wm.Owner, wm.ImageRef, wm.ContentType, wm.Config, wm.UpdatedAt)
	return mapErr(err)
}

// UpdateConfig replaces only the config and keeps the asset
func (w WatermarkRepo) UpdateConfig(ctx context.Context, owner string, cfg model.RawConfig) (*model.Watermark, error) {
	query := `UPDATE watermarks SET config = $1, updated_at = now()
	WHERE owner = $2
	RETURNING owner, image_ref, content_type, config, created_at, updated_at`

	wm, err := scanWatermark(w.DB.QueryRowContext(ctx, query, cfg, owner))
	if err != nil {
		return nil, err
	}
	return wm, nil
}

func (w WatermarkRepo) Get(ctx context.Context, owner string) (*model.Watermark, error) {
	query := `SELECT owner, image_ref, content_type, config, created_at, updated_at
	FROM watermarks
	WHERE owner = $1`

	return scanWatermark(w.DB.QueryRowContext(ctx, query, owner))
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWatermark(row rowScanner) (*model.Watermark, error) {
	var wm model.Watermark
	err := row.Scan(&wm.Owner, &wm.ImageRef, &wm.ContentType, &wm.Config, &wm.CreatedAt, &wm.UpdatedAt)
	if err != nil {
		switch {
		case errors.Is(err, sql.ErrNoRows):
			return nil, model.ErrMissingWatermark
		default:
			return nil, mapErr(err)
		}
	}
	return &wm, nil
}

func expectOneRow(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
