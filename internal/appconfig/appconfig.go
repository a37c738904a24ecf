// Package appconfig reads env settings shared by the worker and the CLI
package appconfig

import (
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/UnendingLoop/GalleryWatermark/internal/imageproc"
	"github.com/wb-go/wbf/config"
)

const (
	BackendMinio = "minio"
	BackendS3    = "s3"
)

// Getter - the part of wbf config the settings are read from
type Getter interface {
	GetString(key string) string
}

type Settings struct {
	PostgresDSN    string
	MigrationsPath string

	Storage StorageSettings
	Kafka   KafkaSettings
	Keys    KeyPrefixes

	Workers        int
	CodecTimeout   time.Duration
	PreviewMaxSide int
	JPEGQuality    int
	LogLevel       string
}

type StorageSettings struct {
	Backend    string
	Bucket     string
	User       string
	Password   string
	MinioHost  string
	S3Region   string
	S3Endpoint string
}

type KafkaSettings struct {
	Broker  string
	Topic   string
	GroupID string
}

// KeyPrefixes - prefixes of blob keys for originals, watermark assets, results and previews
type KeyPrefixes struct {
	Source    string
	Watermark string
	Result    string
	Preview   string
}

// FromEnvFile - инициализировать конфиг и считать энвы (файл + окружение)
func FromEnvFile(path string) (*config.Config, error) {
	appConfig := config.New()
	appConfig.EnableEnv("")
	if err := appConfig.LoadEnvFiles(path); err != nil {
		return nil, err
	}
	return appConfig, nil
}

func Load(cfg Getter) Settings {
	s := Settings{
		PostgresDSN:    cfg.GetString("POSTGRES_DSN"),
		MigrationsPath: withDefault(cfg.GetString("MIGRATIONS_PATH"), "./migrations"),
		Storage: StorageSettings{
			Backend:    strings.ToLower(withDefault(cfg.GetString("STORAGE_BACKEND"), BackendMinio)),
			Bucket:     withDefault(cfg.GetString("BUCKET_NAME"), "default"),
			User:       cfg.GetString("MINIO_USER"),
			Password:   cfg.GetString("MINIO_PASS"),
			MinioHost:  cfg.GetString("MINIO_CONTAINER_NAME"),
			S3Region:   withDefault(cfg.GetString("S3_REGION"), "us-east-1"),
			S3Endpoint: cfg.GetString("S3_ENDPOINT"),
		},
		Kafka: KafkaSettings{
			Broker:  cfg.GetString("KAFKA_BROKER"),
			Topic:   withDefault(cfg.GetString("KAFKA_TOPIC"), "watermark-jobs"),
			GroupID: withDefault(cfg.GetString("KAFKA_GROUPID"), "watermark-workers"),
		},
		Keys: KeyPrefixes{
			Source:    withDefault(cfg.GetString("SOURCE_KEY"), "src/"),
			Watermark: withDefault(cfg.GetString("WATERMARK_KEY"), "wm/"),
			Result:    withDefault(cfg.GetString("RESULT_KEY"), "res/"),
			Preview:   withDefault(cfg.GetString("PREVIEW_KEY"), "preview/"),
		},
		Workers:        intValue(cfg, "WORKERS", 0),
		CodecTimeout:   durationValue(cfg, "CODEC_TIMEOUT", imageproc.DefaultTimeout),
		PreviewMaxSide: intValue(cfg, "PREVIEW_MAX_SIDE", 1200),
		JPEGQuality:    intValue(cfg, "JPEG_QUALITY", imageproc.DefaultJPEGQuality),
		LogLevel:       withDefault(cfg.GetString("LOG_LEVEL"), "info"),
	}

	if s.Storage.Backend != BackendMinio && s.Storage.Backend != BackendS3 {
		log.Printf("Unknown STORAGE_BACKEND %q. Using %q...", s.Storage.Backend, BackendMinio)
		s.Storage.Backend = BackendMinio
	}

	return s
}

func withDefault(v, def string) string {
	if v = strings.TrimSpace(v); v == "" {
		return def
	}
	return v
}

func intValue(cfg Getter, key string, def int) int {
	raw := strings.TrimSpace(cfg.GetString(key))
	if raw == "" {
		return def
	}

	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		log.Printf("Incorrect %s value %q. Using default %d...", key, raw, def)
		return def
	}
	return v
}

// durationValue accepts Go durations ("45s") and plain seconds ("45")
func durationValue(cfg Getter, key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(cfg.GetString(key))
	if raw == "" {
		return def
	}

	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}

	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("Incorrect %s value %q. Using default %v...", key, raw, def)
		return def
	}
	return d
}
