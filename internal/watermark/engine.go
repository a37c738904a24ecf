// Package watermark lays out and composites an owner's watermark onto photographs.
//
// The pipeline is Normalize -> ResolveLayout -> Composite. Engine wraps it with decoding and
// encoding so that single uploads and batches go through exactly the same code.
package watermark

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/UnendingLoop/GalleryWatermark/internal/imageproc"
	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/UnendingLoop/GalleryWatermark/internal/pool"
	"github.com/disintegration/imaging"
)

// Asset - decoded watermark image. Read-only once created, safe to share between goroutines.
type Asset struct {
	img *image.NRGBA
}

func NewAsset(img image.Image) *Asset {
	return &Asset{img: imaging.Clone(img)}
}

func (a *Asset) Width() int  { return a.img.Bounds().Dx() }
func (a *Asset) Height() int { return a.img.Bounds().Dy() }

// Source returns a Source for one compositing run. It resizes the asset once per distinct
// placement size and is not safe for concurrent use.
func (a *Asset) Source() Source {
	cache := make(map[image.Point]image.Image)

	return func(p model.Placement) (image.Image, error) {
		key := image.Pt(p.Width, p.Height)
		if img, ok := cache[key]; ok {
			return img, nil
		}

		var img image.Image = a.img
		if a.Width() != p.Width || a.Height() != p.Height {
			img = imageproc.Resize(a.img, p.Width, p.Height)
		}
		cache[key] = img
		return img, nil
	}
}

// Prepared - owner's decoded asset and normalized config, shared by every photo of a batch
type Prepared struct {
	asset  *Asset
	config model.WatermarkConfig
}

func NewPrepared(asset *Asset, cfg model.WatermarkConfig) *Prepared {
	return &Prepared{asset: asset, config: cfg}
}

func (p *Prepared) Asset() *Asset                 { return p.asset }
func (p *Prepared) Config() model.WatermarkConfig { return p.config }

// Result - encoded watermarked photo and its optional preview
type Result struct {
	Data        []byte
	ContentType string
	Format      imaging.Format
	Width       int
	Height      int
	Preview     []byte
	Plan        model.PlacementPlan
}

type BatchOutcome struct {
	Result *Result
	Err    error
}

type Engine struct {
	codec      *imageproc.Codec
	previewMax int
	workers    int
}

type Option func(*Engine)

// WithPreview makes Apply also produce a preview no larger than maxSide on either side
func WithPreview(maxSide int) Option {
	return func(e *Engine) {
		e.previewMax = maxSide
	}
}

// WithWorkers bounds ApplyBatch concurrency; zero or less means one per CPU
func WithWorkers(n int) Option {
	return func(e *Engine) {
		e.workers = n
	}
}

func NewEngine(codec *imageproc.Codec, opts ...Option) *Engine {
	if codec == nil {
		codec = imageproc.NewCodec(imageproc.DefaultTimeout, imageproc.DefaultJPEGQuality)
	}
	e := &Engine{codec: codec}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Prepare decodes the watermark asset (bytes or data-URI) and normalizes the config once
func (e *Engine) Prepare(ctx context.Context, assetData []byte, raw model.RawConfig) (*Prepared, error) {
	dec, err := e.codec.Decode(ctx, assetData)
	if err != nil {
		return nil, fmt.Errorf("decode watermark asset: %w", err)
	}
	return NewPrepared(NewAsset(dec.Image), Normalize(raw)), nil
}

// Apply watermarks one encoded photo. The result keeps the photo's format when it can be written back.
func (e *Engine) Apply(ctx context.Context, p *Prepared, target []byte) (*Result, error) {
	if p == nil {
		return nil, errors.New("nil prepared watermark provided to Apply")
	}

	dec, err := e.codec.Decode(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("decode target image: %w", err)
	}

	b := dec.Image.Bounds()
	plan := ResolveLayout(b.Dx(), b.Dy(), p.asset.Width(), p.asset.Height(), p.config)

	out, err := Composite(dec.Image, plan, p.asset.Source())
	if err != nil {
		return nil, err
	}

	format := imageproc.OutputFormat(dec.Format)
	data, err := e.codec.Encode(ctx, out, format)
	if err != nil {
		return nil, fmt.Errorf("encode result image: %w", err)
	}

	res := &Result{
		Data:        data,
		ContentType: model.GetCType[format],
		Format:      format,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Plan:        plan,
	}

	if e.previewMax > 0 {
		res.Preview, err = e.codec.Encode(ctx, imageproc.Preview(out, e.previewMax), format)
		if err != nil {
			return nil, fmt.Errorf("encode preview image: %w", err)
		}
	}

	return res, nil
}

// ApplyWatermark is the one-shot form: decode asset, normalize config, watermark target, encode.
func (e *Engine) ApplyWatermark(ctx context.Context, target, asset []byte, raw model.RawConfig) ([]byte, error) {
	p, err := e.Prepare(ctx, asset, raw)
	if err != nil {
		return nil, err
	}

	res, err := e.Apply(ctx, p, target)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

// ApplyBatch watermarks targets concurrently with one shared Prepared. Outcomes are indexed like targets.
func (e *Engine) ApplyBatch(ctx context.Context, p *Prepared, targets [][]byte) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(targets))

	errs := pool.Run(ctx, e.workers, targets, func(ctx context.Context, i int, target []byte) error {
		res, err := e.Apply(ctx, p, target)
		outcomes[i].Result = res
		return err
	})

	for i, err := range errs {
		outcomes[i].Err = err
	}
	return outcomes
}
