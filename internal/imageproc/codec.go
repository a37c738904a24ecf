// Package imageproc decodes and encodes images for the watermark engine: raw bytes, file paths and base64 data-URIs.
package imageproc

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"os"
	"time"

	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultJPEGQuality = 90
)

type Codec struct {
	timeout     time.Duration
	jpegQuality int
}

// Decoded - decoded image plus the format name reported by the image package ("jpeg", "png", "webp"...)
type Decoded struct {
	Image  image.Image
	Format string
}

func NewCodec(timeout time.Duration, jpegQuality int) *Codec {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &Codec{timeout: timeout, jpegQuality: jpegQuality}
}

// Decode accepts encoded image bytes or a data-URI given as bytes
func (c *Codec) Decode(ctx context.Context, data []byte) (*Decoded, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", model.ErrDecode)
	}

	if IsDataURI(data) {
		raw, err := DecodeDataURI(string(data))
		if err != nil {
			return nil, err
		}
		data = raw
	}

	return withTimeout(ctx, c.timeout, model.ErrDecode, func() (*Decoded, error) {
		return decode(data)
	})
}

// DecodeSource accepts a data-URI or a path to a local file
func (c *Codec) DecodeSource(ctx context.Context, src string) (*Decoded, error) {
	if IsDataURI([]byte(src)) {
		return c.Decode(ctx, []byte(src))
	}

	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: read %q: %w", model.ErrDecode, src, err)
	}
	return c.Decode(ctx, data)
}

func (c *Codec) Encode(ctx context.Context, img image.Image, format imaging.Format) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("%w: nil image", model.ErrEncode)
	}

	return withTimeout(ctx, c.timeout, model.ErrEncode, func() ([]byte, error) {
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(c.jpegQuality)); err != nil {
			return nil, fmt.Errorf("%w: %w", model.ErrEncode, err)
		}
		return buf.Bytes(), nil
	})
}

// OutputFormat picks the format a result is written in. Formats imaging can only read fall back to JPEG.
func OutputFormat(detected string) imaging.Format {
	format, err := imaging.FormatFromExtension(detected)
	if err != nil {
		return imaging.JPEG
	}
	return format
}

func decode(data []byte) (*Decoded, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrDecode, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", model.ErrDecode, format, err)
	}

	return &Decoded{Image: img, Format: format}, nil
}

// withTimeout runs fn in its own goroutine and gives up after d; kind is the error reported on expiry or panic.
func withTimeout[T any](ctx context.Context, d time.Duration, kind error, fn func() (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				var zero T
				done <- result{val: zero, err: fmt.Errorf("%w: codec panic: %v", kind, r)}
			}
		}()
		val, err := fn()
		done <- result{val: val, err: err}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		var zero T
		return zero, fmt.Errorf("%w: %w", kind, ctx.Err())
	}
}
