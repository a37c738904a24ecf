package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/UnendingLoop/GalleryWatermark/internal/appconfig"
	"github.com/UnendingLoop/GalleryWatermark/internal/imageproc"
	"github.com/UnendingLoop/GalleryWatermark/internal/kafka"
	"github.com/UnendingLoop/GalleryWatermark/internal/logctx"
	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/UnendingLoop/GalleryWatermark/internal/repository"
	"github.com/UnendingLoop/GalleryWatermark/internal/service"
	"github.com/UnendingLoop/GalleryWatermark/internal/storage"
	"github.com/UnendingLoop/GalleryWatermark/internal/watermark"
	"github.com/wb-go/wbf/dbpg"
	wbfkafka "github.com/wb-go/wbf/kafka"
)

const connectTimeout = 30 * time.Second

type infra struct {
	svc  *service.GalleryService
	db   *dbpg.DB
	prod *wbfkafka.Producer
}

// connectInfra wires the same stack as the worker. Schema is only checked here: migrations belong to the worker start.
func connectInfra(ctx context.Context, withProducer bool) (*infra, error) {
	envPath := os.Getenv("WATERMARKCTL_ENV")
	if envPath == "" {
		envPath = "./.env"
	}
	appConfig, err := appconfig.FromEnvFile(envPath)
	if err != nil {
		return nil, fmt.Errorf("load envs from %q: %w", envPath, err)
	}
	settings := appconfig.Load(appConfig)

	if err := logctx.Init(settings.LogLevel); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	app := &infra{db: repository.ConnectWithRetries(settings.PostgresDSN, 3, 2*time.Second)}
	if err := repository.CheckSchema(ctx, app.db); err != nil {
		app.close()
		return nil, err
	}

	strg, err := storage.NewBlobStorage(ctx, settings.Storage, 3*time.Second)
	if err != nil {
		app.close()
		return nil, fmt.Errorf("connect blob-storage: %w", err)
	}

	var pub service.TaskPublisher
	if withProducer {
		if err := kafka.WaitKafkaReady(ctx, settings.Kafka.Broker, 2*time.Second); err != nil {
			app.close()
			return nil, err
		}
		app.prod = wbfkafka.NewProducer([]string{settings.Kafka.Broker}, settings.Kafka.Topic)
		pub = app.prod
	}

	engine := watermark.NewEngine(imageproc.NewCodec(settings.CodecTimeout, settings.JPEGQuality))
	app.svc = service.NewGalleryService(
		repository.NewPostgresPhotoRepo(app.db),
		repository.NewPostgresWatermarkRepo(app.db),
		pub, strg, engine, settings.Keys,
	)
	return app, nil
}

func (a *infra) close() {
	if a.prod != nil {
		if err := a.prod.Close(); err != nil {
			log.Println("Failed to close Kafka-writer:", err)
		}
	}
	if err := a.db.Master.Close(); err != nil {
		log.Println("Failed to close DB-conn correctly:", err)
	}
}

func runSetWatermark(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("set-watermark")
	owner := fs.String("owner", "", "watermark owner")
	asset := fs.String("asset", "", "watermark image: file path or data-URI")
	cfgArg := fs.String("config", "", "config JSON, or @file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw, err := readConfigArg(*cfgArg)
	if err != nil {
		return err
	}
	data, err := readSourceArg(*asset)
	if err != nil {
		return err
	}
	if imageproc.IsDataURI(data) {
		if data, err = imageproc.DecodeDataURI(string(data)); err != nil {
			return err
		}
	}

	app, err := connectInfra(ctx, false)
	if err != nil {
		return err
	}
	defer app.close()

	wm, err := app.svc.SaveWatermark(ctx, &model.WatermarkUpload{
		Owner:  *owner,
		Image:  uploadFile(filepath.Base(*asset), data),
		Config: raw,
	})
	if err != nil {
		return err
	}
	return printJSON(stdout, wm)
}

func runSetConfig(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("set-config")
	owner := fs.String("owner", "", "watermark owner")
	cfgArg := fs.String("config", "", "config JSON, or @file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	raw, err := readConfigArg(*cfgArg)
	if err != nil {
		return err
	}

	app, err := connectInfra(ctx, false)
	if err != nil {
		return err
	}
	defer app.close()

	wm, err := app.svc.UpdateConfig(ctx, *owner, raw)
	if err != nil {
		return err
	}
	return printJSON(stdout, wm)
}

func runUpload(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("upload")
	owner := fs.String("owner", "", "photos owner")
	gallery := fs.String("gallery", "", "gallery id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return errors.New("at least one photo is required")
	}

	up := &model.PhotoUpload{Owner: *owner, GalleryID: *gallery}
	for _, p := range fs.Args() {
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read %q: %w", p, err)
		}
		up.Files = append(up.Files, uploadFile(filepath.Base(p), data))
	}

	app, err := connectInfra(ctx, true)
	if err != nil {
		return err
	}
	defer app.close()

	photos, err := app.svc.RegisterPhotos(ctx, up)
	if err != nil {
		return err
	}
	return printJSON(stdout, photos)
}

func runStatus(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("status")
	id := fs.String("id", "", "photo UUID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := connectInfra(ctx, false)
	if err != nil {
		return err
	}
	defer app.close()

	photo, err := app.svc.Get(ctx, *id)
	if err != nil {
		return err
	}
	return printJSON(stdout, photo)
}

func runFetch(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("fetch")
	id := fs.String("id", "", "photo UUID")
	out := fs.StringP("out", "o", "", "output file")
	preview := fs.Bool("preview", false, "fetch the preview instead of the full result")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *out == "" {
		return errors.New("--out is required")
	}

	app, err := connectInfra(ctx, false)
	if err != nil {
		return err
	}
	defer app.close()

	r, cType, err := app.svc.LoadResult(ctx, *id, *preview)
	if err != nil {
		return err
	}
	defer r.Close()

	f, err := os.Create(*out)
	if err != nil {
		return err
	}
	n, err := io.Copy(f, r)
	if cErr := f.Close(); err == nil {
		err = cErr
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, "%s: %d bytes (%s)\n", *out, n, cType)
	return nil
}

func runDelete(ctx context.Context, args []string, stdout io.Writer) error {
	fs := newFlagSet("delete")
	id := fs.String("id", "", "photo UUID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := connectInfra(ctx, false)
	if err != nil {
		return err
	}
	defer app.close()

	if err := app.svc.Delete(ctx, *id); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "deleted %s\n", *id)
	return nil
}

// uploadFile detects the content type from the image header; unknown data gets an empty type and is rejected by the service
func uploadFile(name string, data []byte) model.UploadFile {
	ct := ""
	if _, format, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		ct = "image/" + format
	}
	return model.UploadFile{
		Name:        name,
		Data:        bytes.NewReader(data),
		Size:        int64(len(data)),
		ContentType: ct,
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
