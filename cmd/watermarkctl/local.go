package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/UnendingLoop/GalleryWatermark/internal/imageproc"
	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/UnendingLoop/GalleryWatermark/internal/watermark"
)

// runApply watermarks local files with one shared asset; outputs are written as <name>_watermarked<ext>
func runApply(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("apply")
	asset := fs.String("asset", "", "watermark image: file path or data-URI")
	cfgArg := fs.String("config", "", "config JSON, or @file")
	outDir := fs.StringP("out", "o", ".", "output directory")
	preview := fs.Int("preview", 0, "also write a preview no larger than N px per side")
	workers := fs.IntP("workers", "w", 0, "parallel photos, 0 = one per CPU")
	timeout := fs.Duration("timeout", imageproc.DefaultTimeout, "decode/encode timeout per image")
	quality := fs.Int("quality", imageproc.DefaultJPEGQuality, "JPEG quality")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *asset == "" || fs.NArg() == 0 {
		return errors.New("--asset and at least one photo are required")
	}

	raw, err := readConfigArg(*cfgArg)
	if err != nil {
		return err
	}
	assetData, err := readSourceArg(*asset)
	if err != nil {
		return err
	}

	engine := watermark.NewEngine(imageproc.NewCodec(*timeout, *quality),
		watermark.WithPreview(*preview), watermark.WithWorkers(*workers))

	// ватермарк декодируем один раз на всю пачку
	prepared, err := engine.Prepare(ctx, assetData, raw)
	if err != nil {
		return err
	}

	paths := fs.Args()
	targets := make([][]byte, len(paths))
	for i, p := range paths {
		if targets[i], err = os.ReadFile(p); err != nil {
			return fmt.Errorf("read %q: %w", p, err)
		}
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		return err
	}

	failed := 0
	for i, outcome := range engine.ApplyBatch(ctx, prepared, targets) {
		if outcome.Err != nil {
			failed++
			fmt.Fprintf(stdout, "FAIL %s: %v\n", paths[i], outcome.Err)
			continue
		}

		res := outcome.Result
		name := strings.TrimSuffix(filepath.Base(paths[i]), filepath.Ext(paths[i])) + "_watermarked" + model.GetImageFileExt[res.ContentType]
		out := filepath.Join(*outDir, name)
		if err := os.WriteFile(out, res.Data, 0o644); err != nil {
			return err
		}
		if len(res.Preview) > 0 {
			if err := os.WriteFile(filepath.Join(*outDir, "preview_"+name), res.Preview, 0o644); err != nil {
				return err
			}
		}
		fmt.Fprintf(stdout, "OK   %s -> %s (%d placements)\n", paths[i], out, len(res.Plan.Placements))
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d photos failed", failed, len(paths))
	}
	return nil
}

// runLayout prints the plan without touching any photo; the asset size comes from a local asset or owner's stored one
func runLayout(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("layout")
	width := fs.Int("width", 0, "target width")
	height := fs.Int("height", 0, "target height")
	asset := fs.String("asset", "", "local watermark image: file path or data-URI")
	owner := fs.String("owner", "", "use owner's stored watermark and config")
	cfgArg := fs.String("config", "", "config JSON, or @file (with --asset)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *width <= 0 || *height <= 0 {
		return fmt.Errorf("%w: target size %dx%d", model.ErrInvalidConfig, *width, *height)
	}

	var plan model.PlacementPlan
	switch {
	case *owner != "":
		app, err := connectInfra(ctx, false)
		if err != nil {
			return err
		}
		defer app.close()

		if plan, err = app.svc.PreviewLayout(ctx, *owner, *width, *height); err != nil {
			return err
		}
	case *asset != "":
		raw, err := readConfigArg(*cfgArg)
		if err != nil {
			return err
		}
		dec, err := imageproc.NewCodec(0, 0).DecodeSource(ctx, *asset)
		if err != nil {
			return err
		}
		b := dec.Image.Bounds()
		plan = watermark.ResolveLayout(*width, *height, b.Dx(), b.Dy(), watermark.Normalize(raw))
	default:
		return errors.New("either --asset or --owner is required")
	}

	return printJSON(stdout, plan)
}

// readConfigArg accepts inline JSON or @path; empty means all defaults
func readConfigArg(arg string) (model.RawConfig, error) {
	data := []byte(arg)
	if path, ok := strings.CutPrefix(arg, "@"); ok {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return model.RawConfig{}, fmt.Errorf("read config: %w", err)
		}
	}
	return model.ParseRawConfig(data)
}

// readSourceArg - data-URI отдаем как есть, иначе читаем файл
func readSourceArg(src string) ([]byte, error) {
	if imageproc.IsDataURI([]byte(src)) {
		return []byte(src), nil
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrDecode, err)
	}
	return data, nil
}
