package service

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/UnendingLoop/GalleryWatermark/internal/appconfig"
	"github.com/UnendingLoop/GalleryWatermark/internal/imageproc"
	"github.com/UnendingLoop/GalleryWatermark/internal/kafka"
	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/UnendingLoop/GalleryWatermark/internal/watermark"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/wb-go/wbf/retry"
)

var testKeys = appconfig.KeyPrefixes{Source: "src/", Watermark: "wm/", Result: "res/", Preview: "preview/"}

// SAVEWATERMARK - SUCCESS, previous blob is removed
func TestGalleryService_SaveWatermark_OK(t *testing.T) {
	asset := pngBytes(t, 40, 20)
	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	var putKey, deleted string
	strg := &mockStorage{
		putFn: func(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
			putKey = key
			data, err := io.ReadAll(r)
			require.NoError(t, err)
			require.Equal(t, asset, data)
			require.Equal(t, int64(len(asset)), size)
			return nil
		},
		deleteFn: func(ctx context.Context, key string) error {
			deleted = key
			return nil
		},
	}
	wms := &mockWatermarkRepo{
		getFn: func(ctx context.Context, owner string) (*model.Watermark, error) {
			return &model.Watermark{Owner: owner, ImageRef: "wm/old.png", CreatedAt: &created}, nil
		},
		upsertFn: func(ctx context.Context, wm *model.Watermark) error {
			require.Equal(t, "owner1", wm.Owner)
			require.Equal(t, model.PNG, wm.ContentType)
			require.Equal(t, &created, wm.CreatedAt)
			return nil
		},
	}

	svc := newTestService(nil, wms, nil, strg)
	wm, err := svc.SaveWatermark(context.Background(), &model.WatermarkUpload{
		Owner:  "owner1",
		Image:  uploadFile(asset, model.PNG),
		Config: model.RawConfig{Opacity: model.Num(0.5)},
	})
	require.NoError(t, err)
	require.Equal(t, putKey, wm.ImageRef)
	require.True(t, strings.HasPrefix(putKey, "wm/owner1_"))
	require.True(t, strings.HasSuffix(putKey, ".png"))
	require.Equal(t, "wm/old.png", deleted)
}

// SAVEWATERMARK - SUCCESS, inline data-URI of the previous one is not a blob
func TestGalleryService_SaveWatermark_PrevDataURI(t *testing.T) {
	asset := pngBytes(t, 10, 10)

	strg := &mockStorage{
		putFn: func(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
			return nil
		},
		deleteFn: func(ctx context.Context, key string) error {
			t.Fatalf("unexpected delete of %q", key)
			return nil
		},
	}
	wms := &mockWatermarkRepo{
		getFn: func(ctx context.Context, owner string) (*model.Watermark, error) {
			return &model.Watermark{Owner: owner, ImageRef: imageproc.EncodeDataURI(model.PNG, asset)}, nil
		},
		upsertFn: func(ctx context.Context, wm *model.Watermark) error { return nil },
	}

	svc := newTestService(nil, wms, nil, strg)
	_, err := svc.SaveWatermark(context.Background(), &model.WatermarkUpload{Owner: "o", Image: uploadFile(asset, model.PNG)})
	require.NoError(t, err)
}

// SAVEWATERMARK - VALIDATION FAIL
func TestGalleryService_SaveWatermark_Invalid(t *testing.T) {
	asset := pngBytes(t, 10, 10)

	tests := []struct {
		name string
		up   *model.WatermarkUpload
		want error
	}{
		{name: "nil", up: nil, want: model.ErrIncorrectOwner},
		{name: "no owner", up: &model.WatermarkUpload{Image: uploadFile(asset, model.PNG)}, want: model.ErrIncorrectOwner},
		{name: "no image", up: &model.WatermarkUpload{Owner: "o"}, want: model.ErrEmptyWMark},
		{name: "bad type", up: &model.WatermarkUpload{Owner: "o", Image: uploadFile(asset, "text/plain")}, want: model.ErrUnsupportedFormat},
		{name: "not an image", up: &model.WatermarkUpload{Owner: "o", Image: uploadFile([]byte("junk"), model.PNG)}, want: model.ErrDecode},
	}

	svc := newTestService(nil, &mockWatermarkRepo{}, nil, &mockStorage{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.SaveWatermark(context.Background(), tt.up)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

// SAVEWATERMARK - DB FAIL, new blob is cleaned up
func TestGalleryService_SaveWatermark_UpsertError(t *testing.T) {
	var putKey, deleted string
	strg := &mockStorage{
		putFn: func(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
			putKey = key
			return nil
		},
		deleteFn: func(ctx context.Context, key string) error {
			deleted = key
			return nil
		},
	}
	wms := &mockWatermarkRepo{
		getFn: func(ctx context.Context, owner string) (*model.Watermark, error) {
			return nil, model.ErrMissingWatermark
		},
		upsertFn: func(ctx context.Context, wm *model.Watermark) error {
			return errors.New("db is down")
		},
	}

	svc := newTestService(nil, wms, nil, strg)
	_, err := svc.SaveWatermark(context.Background(), &model.WatermarkUpload{Owner: "o", Image: uploadFile(pngBytes(t, 8, 8), model.PNG)})
	require.ErrorIs(t, err, model.ErrCommon500)
	require.Equal(t, putKey, deleted)
}

// UPDATECONFIG
func TestGalleryService_UpdateConfig(t *testing.T) {
	tests := []struct {
		name  string
		owner string
		repo  error
		want  error
	}{
		{name: "ok", owner: "o"},
		{name: "no owner", owner: "", want: model.ErrIncorrectOwner},
		{name: "missing", owner: "o", repo: model.ErrMissingWatermark, want: model.ErrMissingWatermark},
		{name: "schema", owner: "o", repo: model.ErrSchemaMissing, want: model.ErrSchemaMissing},
		{name: "db down", owner: "o", repo: errors.New("conn reset"), want: model.ErrCommon500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wms := &mockWatermarkRepo{
				updateConfigFn: func(ctx context.Context, owner string, cfg model.RawConfig) (*model.Watermark, error) {
					if tt.repo != nil {
						return nil, tt.repo
					}
					return &model.Watermark{Owner: owner, Config: cfg}, nil
				},
			}
			svc := newTestService(nil, wms, nil, nil)

			wm, err := svc.UpdateConfig(context.Background(), tt.owner, model.RawConfig{Mode: "tile"})
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			require.Equal(t, model.Label("tile"), wm.Config.Mode)
		})
	}
}

// LOADASSET - data-URI is returned without touching storage
func TestGalleryService_LoadAsset(t *testing.T) {
	asset := pngBytes(t, 4, 4)
	uri := imageproc.EncodeDataURI(model.PNG, asset)

	strg := &mockStorage{
		getFn: func(ctx context.Context, key string) (io.ReadCloser, string, error) {
			require.Equal(t, "wm/a.png", key)
			return io.NopCloser(bytes.NewReader(asset)), model.PNG, nil
		},
	}
	svc := newTestService(nil, nil, nil, strg)

	got, err := svc.LoadAsset(context.Background(), &model.Watermark{ImageRef: uri})
	require.NoError(t, err)
	require.Equal(t, uri, string(got))

	got, err = svc.LoadAsset(context.Background(), &model.Watermark{ImageRef: "wm/a.png"})
	require.NoError(t, err)
	require.Equal(t, asset, got)

	_, err = svc.LoadAsset(context.Background(), &model.Watermark{})
	require.ErrorIs(t, err, model.ErrMissingWatermark)
}

// RESOLVEWATERMARK + PREVIEWLAYOUT
func TestGalleryService_PreviewLayout(t *testing.T) {
	asset := pngBytes(t, 100, 50)
	wms := &mockWatermarkRepo{
		getFn: func(ctx context.Context, owner string) (*model.Watermark, error) {
			return &model.Watermark{
				Owner:    owner,
				ImageRef: imageproc.EncodeDataURI(model.PNG, asset),
				Config: model.RawConfig{
					Positions: model.RawPositions{{X: model.Num(50), Y: model.Num(50)}},
					Size:      &model.RawSize{Width: model.Num(20), Height: model.Num(10)},
				},
			}, nil
		},
	}
	svc := newTestService(nil, wms, nil, nil)

	plan, err := svc.PreviewLayout(context.Background(), "o", 1000, 500)
	require.NoError(t, err)
	require.Equal(t, model.ModeSinglePosition, plan.Mode)
	require.Equal(t, model.Size{Width: 100, Height: 50}, plan.Watermark)
	require.Len(t, plan.Placements, 1)
	require.Equal(t, model.Placement{X: 50, Y: 50, Width: 20, Height: 10, Opacity: 1}, plan.Placements[0])

	_, err = svc.PreviewLayout(context.Background(), "o", 0, 500)
	require.ErrorIs(t, err, model.ErrInvalidConfig)
}

// RESOLVEWATERMARK - FAIL
func TestGalleryService_ResolveWatermark_Missing(t *testing.T) {
	wms := &mockWatermarkRepo{
		getFn: func(ctx context.Context, owner string) (*model.Watermark, error) {
			return nil, model.ErrMissingWatermark
		},
	}
	svc := newTestService(nil, wms, nil, nil)

	_, err := svc.ResolveWatermark(context.Background(), "o")
	require.ErrorIs(t, err, model.ErrMissingWatermark)
}

// REGISTERPHOTOS - SUCCESS, one job for the whole upload
func TestGalleryService_RegisterPhotos_OK(t *testing.T) {
	var created []string
	photos := &mockPhotoRepo{
		createFn: func(ctx context.Context, p *model.Photo) error {
			require.Equal(t, model.StatusCreated, p.Status)
			require.Equal(t, "g1", p.GalleryID)
			require.Equal(t, "src/"+p.UID.String()+".jpg", p.SourceKey)
			created = append(created, p.UID.String())
			return nil
		},
	}
	puts := 0
	strg := &mockStorage{
		putFn: func(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
			puts++
			return nil
		},
	}
	var sent model.Job
	pub := &mockPublisher{
		sendFn: func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
			job, err := kafka.DecodeJob(kafkago.Message{Key: key, Value: v})
			require.NoError(t, err)
			sent = job
			return nil
		},
	}

	svc := newTestService(photos, existingWatermark(), pub, strg)
	res, err := svc.RegisterPhotos(context.Background(), &model.PhotoUpload{
		Owner:     "o",
		GalleryID: "g1",
		Files: []model.UploadFile{
			uploadFile([]byte("one"), model.JPEG),
			uploadFile([]byte("two"), model.JPEG),
		},
	})
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, 2, puts)
	require.Equal(t, created, sent.PhotoIDs)
	require.Equal(t, "o", sent.Owner)
	require.Equal(t, "g1", sent.GalleryID)
	require.NotEmpty(t, sent.ID)
}

// REGISTERPHOTOS - VALIDATION FAIL
func TestGalleryService_RegisterPhotos_Invalid(t *testing.T) {
	tests := []struct {
		name string
		up   *model.PhotoUpload
		want error
	}{
		{name: "nil", up: nil, want: model.ErrIncorrectOwner},
		{name: "no gallery", up: &model.PhotoUpload{Owner: "o", Files: []model.UploadFile{uploadFile([]byte("x"), model.PNG)}}, want: model.ErrEmptySource},
		{name: "no files", up: &model.PhotoUpload{Owner: "o", GalleryID: "g"}, want: model.ErrEmptySource},
		{name: "empty file", up: &model.PhotoUpload{Owner: "o", GalleryID: "g", Files: []model.UploadFile{{ContentType: model.PNG}}}, want: model.ErrEmptySource},
		{name: "bad type", up: &model.PhotoUpload{Owner: "o", GalleryID: "g", Files: []model.UploadFile{uploadFile([]byte("x"), "image/svg+xml")}}, want: model.ErrUnsupportedFormat},
	}

	svc := newTestService(&mockPhotoRepo{}, &mockWatermarkRepo{}, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.RegisterPhotos(context.Background(), tt.up)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

// REGISTERPHOTOS - FAIL - owner has no watermark
func TestGalleryService_RegisterPhotos_NoWatermark(t *testing.T) {
	wms := &mockWatermarkRepo{
		getFn: func(ctx context.Context, owner string) (*model.Watermark, error) {
			return nil, model.ErrMissingWatermark
		},
	}
	svc := newTestService(&mockPhotoRepo{}, wms, nil, &mockStorage{})

	_, err := svc.RegisterPhotos(context.Background(), &model.PhotoUpload{
		Owner: "o", GalleryID: "g", Files: []model.UploadFile{uploadFile([]byte("x"), model.PNG)},
	})
	require.ErrorIs(t, err, model.ErrMissingWatermark)
}

// REGISTERPHOTOS - STORAGE PUT FAIL
func TestGalleryService_RegisterPhotos_StorageError(t *testing.T) {
	strg := &mockStorage{
		putFn: func(ctx context.Context, key string, size int64, ct string, r io.Reader) error {
			return errors.New("storage is down")
		},
	}
	svc := newTestService(&mockPhotoRepo{}, existingWatermark(), nil, strg)

	_, err := svc.RegisterPhotos(context.Background(), &model.PhotoUpload{
		Owner: "o", GalleryID: "g", Files: []model.UploadFile{uploadFile([]byte("x"), model.PNG)},
	})
	require.ErrorIs(t, err, model.ErrCommon500)
}

// GET - SUCCESS
func TestGalleryService_Get_OK(t *testing.T) {
	id := uuid.New().String()

	photos := &mockPhotoRepo{
		getFn: func(ctx context.Context, uid string) (*model.Photo, error) {
			return &model.Photo{UID: uuid.MustParse(uid)}, nil
		},
	}

	svc := newTestService(photos, nil, nil, nil)

	p, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, p.UID.String())
}

// GET - FAIL
func TestGalleryService_Get_InvalidID(t *testing.T) {
	svc := GalleryService{}
	_, err := svc.Get(context.Background(), "bad-id")
	require.ErrorIs(t, err, model.ErrIncorrectID)
}

// LOADRESULT - FAIL
func TestGalleryService_LoadResult_NotReady(t *testing.T) {
	photos := &mockPhotoRepo{
		getFn: func(ctx context.Context, id string) (*model.Photo, error) {
			return &model.Photo{Status: model.StatusCreated}, nil
		},
	}

	svc := newTestService(photos, nil, nil, nil)

	_, _, err := svc.LoadResult(context.Background(), uuid.New().String(), false)
	require.ErrorIs(t, err, model.ErrResultNotReady)
}

// LOADRESULT - SUCCESS, preview key
func TestGalleryService_LoadResult_Preview(t *testing.T) {
	photos := &mockPhotoRepo{
		getFn: func(ctx context.Context, id string) (*model.Photo, error) {
			return &model.Photo{Status: model.StatusDone, ResultKey: "res/a.jpg", PreviewKey: "preview/a.jpg"}, nil
		},
	}
	strg := &mockStorage{
		getFn: func(ctx context.Context, key string) (io.ReadCloser, string, error) {
			require.Equal(t, "preview/a.jpg", key)
			return io.NopCloser(strings.NewReader("x")), model.JPEG, nil
		},
	}

	svc := newTestService(photos, nil, nil, strg)
	r, ct, err := svc.LoadResult(context.Background(), uuid.New().String(), true)
	require.NoError(t, err)
	require.Equal(t, model.JPEG, ct)
	require.NoError(t, r.Close())
}

// DELETE - FAIL - NOT FOUND
func TestGalleryService_Delete_NotFound(t *testing.T) {
	photos := &mockPhotoRepo{
		getFn: func(ctx context.Context, id string) (*model.Photo, error) {
			return nil, model.ErrPhotoNotFound
		},
	}

	svc := newTestService(photos, nil, nil, nil)
	err := svc.Delete(context.Background(), uuid.New().String())
	require.ErrorIs(t, err, model.ErrPhotoNotFound)
}

// DELETE - SUCCESS, every stored blob is removed
func TestGalleryService_Delete_OK(t *testing.T) {
	photos := &mockPhotoRepo{
		getFn: func(ctx context.Context, id string) (*model.Photo, error) {
			return &model.Photo{SourceKey: "src/a.png", ResultKey: "res/a.png"}, nil
		},
		deleteFn: func(ctx context.Context, id string) error { return nil },
	}
	var deleted []string
	strg := &mockStorage{
		deleteFn: func(ctx context.Context, key string) error {
			deleted = append(deleted, key)
			return nil
		},
	}

	svc := newTestService(photos, nil, nil, strg)
	require.NoError(t, svc.Delete(context.Background(), uuid.New().String()))
	require.Equal(t, []string{"src/a.png", "res/a.png"}, deleted)
}

// UPDATESTATUS - SUCCESS
func TestGalleryService_UpdateStatus_OK(t *testing.T) {
	photos := &mockPhotoRepo{
		updateStatusFn: func(ctx context.Context, id string, st model.Status) error {
			require.Equal(t, model.StatusInProgress, st)
			return nil
		},
	}

	svc := newTestService(photos, nil, nil, nil)
	err := svc.UpdateStatus(context.Background(), uuid.New().String(), model.StatusInProgress)
	require.NoError(t, err)

	err = svc.UpdateStatus(context.Background(), uuid.New().String(), model.Status("lost"))
	require.Error(t, err)
}

// SAVERESULT - SUCCESS
func TestGalleryService_SaveResult_OK(t *testing.T) {
	photos := &mockPhotoRepo{
		saveResultFn: func(ctx context.Context, p *model.Photo) error {
			require.NotNil(t, p.UpdatedAt)
			require.Equal(t, model.StatusDone, p.Status)
			return nil
		},
	}

	svc := newTestService(photos, nil, nil, nil)
	err := svc.SaveResult(context.Background(), &model.Photo{})
	require.NoError(t, err)
}

// MARKFAILED - schema error is not hidden
func TestGalleryService_MarkFailed(t *testing.T) {
	photos := &mockPhotoRepo{
		markFailedFn: func(ctx context.Context, id string, reasons model.StringSlice) error {
			require.Equal(t, model.StringSlice{"decode failed"}, reasons)
			return model.ErrSchemaMissing
		},
	}

	svc := newTestService(photos, nil, nil, nil)
	err := svc.MarkFailed(context.Background(), "id", "decode failed")
	require.ErrorIs(t, err, model.ErrSchemaMissing)
}

// REVIVEORPHANS - SUCCESS, one job per owner and gallery
func TestGalleryService_ReviveOrphans(t *testing.T) {
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	photos := &mockPhotoRepo{
		fetchOrphansFn: func(ctx context.Context, limit int) ([]model.Photo, error) {
			require.Equal(t, 10, limit)
			return []model.Photo{
				{UID: a, Owner: "o1", GalleryID: "g1"},
				{UID: b, Owner: "o2", GalleryID: "g1"},
				{UID: c, Owner: "o1", GalleryID: "g1"},
			}, nil
		},
	}

	var jobs []model.Job
	pub := &mockPublisher{
		sendFn: func(ctx context.Context, s retry.Strategy, key []byte, v []byte) error {
			job, err := kafka.DecodeJob(kafkago.Message{Key: key, Value: v})
			require.NoError(t, err)
			jobs = append(jobs, job)
			return nil
		},
	}

	svc := newTestService(photos, nil, pub, nil)
	svc.ReviveOrphans(context.Background(), 10)

	require.Len(t, jobs, 2)
	require.Equal(t, []string{a.String(), c.String()}, jobs[0].PhotoIDs)
	require.Equal(t, "o2", jobs[1].Owner)
	require.Equal(t, []string{b.String()}, jobs[1].PhotoIDs)
}

// хелпер для сервиса с настоящим движком
func newTestService(photos *mockPhotoRepo, wms *mockWatermarkRepo, pub *mockPublisher, strg *mockStorage) *GalleryService {
	engine := watermark.NewEngine(imageproc.NewCodec(5*time.Second, 90))
	return NewGalleryService(photos, wms, pub, strg, engine, testKeys)
}

func existingWatermark() *mockWatermarkRepo {
	return &mockWatermarkRepo{
		getFn: func(ctx context.Context, owner string) (*model.Watermark, error) {
			return &model.Watermark{Owner: owner, ImageRef: "wm/x.png"}, nil
		},
	}
}

func uploadFile(data []byte, ct string) model.UploadFile {
	return model.UploadFile{
		Name:        "file" + model.GetImageFileExt[ct],
		Data:        bytes.NewReader(data),
		Size:        int64(len(data)),
		ContentType: ct,
	}
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, color.NRGBA{R: 200, A: 128})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, img, imaging.PNG))
	return buf.Bytes()
}
