// Package model provides data-structs for internal app-usage
package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

type Status string

const (
	StatusCreated    Status = "created"
	StatusInProgress Status = "in_progress"
	StatusFailed     Status = "failed"
	StatusDone       Status = "done"
)

var StatusMap = map[Status]bool{
	StatusCreated:    true,
	StatusInProgress: true,
	StatusFailed:     true,
	StatusDone:       true,
}

//---------------------

// Photo - a gallery photograph and the state of its watermarking.
// ContentType is the original's until the photo is done, the result's afterwards.
type Photo struct {
	UID         uuid.UUID   `json:"uid"`
	GalleryID   string      `json:"gallery_id"`
	Owner       string      `json:"owner"`
	SourceKey   string      `json:"-"`
	ResultKey   string      `json:"-"`
	PreviewKey  string      `json:"-"`
	ContentType string      `json:"content_type"`
	Status      Status      `json:"status,omitempty"`
	ErrMsg      StringSlice `json:"error,omitempty"`
	CreatedAt   *time.Time  `json:"created_at,omitempty"`
	UpdatedAt   *time.Time  `json:"updated_at,omitempty"`
}

// Watermark - owner's active watermark: the asset reference plus its placement config.
// ImageRef is either a storage key or an inline data-URI.
type Watermark struct {
	Owner       string     `json:"owner"`
	ImageRef    string     `json:"-"`
	ContentType string     `json:"content_type"`
	Config      RawConfig  `json:"config"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"`
}

// Job - one queue message: every photo of an upload that shares the owner's watermark
type Job struct {
	ID        string   `json:"id"`
	Owner     string   `json:"owner"`
	GalleryID string   `json:"gallery_id"`
	PhotoIDs  []string `json:"photo_ids"`
}

//-------------------

type UploadFile struct {
	Name        string
	Data        io.Reader
	Size        int64
	ContentType string
}

type PhotoUpload struct {
	Owner     string
	GalleryID string
	Files     []UploadFile
}

type WatermarkUpload struct {
	Owner  string
	Image  UploadFile
	Config RawConfig
}

// ------------------

var (
	ErrCommon500         error = errors.New("something went wrong. Try again later")
	ErrIncorrectID       error = errors.New("incorrect photo UUID")
	ErrIncorrectOwner    error = errors.New("owner must not be empty")
	ErrPhotoNotFound     error = errors.New("specified photo UUID doesn't exist")
	ErrResultNotReady    error = errors.New("requested photo is not processed yet")
	ErrEmptySource       error = errors.New("empty/incorrect source image provided")
	ErrEmptyWMark        error = errors.New("empty/incorrect watermark provided")
	ErrUnsupportedFormat error = errors.New("unsupported image format")

	ErrInvalidConfig    error = errors.New("invalid watermark configuration")
	ErrDecode           error = errors.New("failed to decode image")
	ErrEncode           error = errors.New("failed to encode image")
	ErrMissingWatermark error = errors.New("no watermark configured for owner")

	// ErrSchemaMissing - DB schema lacks a table/column the app relies on. Never retried.
	ErrSchemaMissing error = errors.New("database schema is missing required objects")
)

//--------------------

const (
	JPEG = "image/jpeg"
	PNG  = "image/png"
	GIF  = "image/gif"
	BMP  = "image/bmp"
	TIFF = "image/tiff"
	WEBP = "image/webp"
)

var GetImageFileExt = map[string]string{
	JPEG: ".jpg",
	PNG:  ".png",
	GIF:  ".gif",
	BMP:  ".bmp",
	TIFF: ".tiff",
	WEBP: ".webp",
}

var InImageTypeMap = map[string]bool{
	JPEG: true,
	PNG:  true,
	GIF:  true,
	BMP:  true,
	TIFF: true,
	WEBP: true,
}

var GetCType = map[imaging.Format]string{
	imaging.JPEG: JPEG,
	imaging.GIF:  GIF,
	imaging.PNG:  PNG,
	imaging.BMP:  BMP,
	imaging.TIFF: TIFF,
}

//--------------------

type StringSlice []string

func (s *StringSlice) Scan(value any) error {
	if value == nil {
		*s = []string{}
		return nil
	}

	b, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("invalid type for StringSlice")
	}

	if err := json.Unmarshal(b, s); err != nil {
		return fmt.Errorf("failed to unmarshal JSONB to []StringSlice: %w", err)
	}
	return nil
}

func (s StringSlice) Value() (driver.Value, error) {
	if len(s) == 0 || s == nil {
		return []byte(`[]`), nil
	}
	res, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal []StringSlice to JSONB: %w", err)
	}

	return res, nil
}
