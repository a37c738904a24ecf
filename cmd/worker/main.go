// Package main (in worker-subfolder) launches the watermark worker: queue consumer plus orphan revival
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
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
	"github.com/UnendingLoop/GalleryWatermark/internal/worker"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/wb-go/wbf/dbpg"
	wbfkafka "github.com/wb-go/wbf/kafka"
	"github.com/wb-go/wbf/retry"
)

func main() {
	// инициализировать конфиг/ считать энвы
	appConfig, err := appconfig.FromEnvFile("./.env")
	if err != nil {
		log.Fatalf("Failed to load envs: %s\nExiting app...", err)
	}
	settings := appconfig.Load(appConfig)

	// стартуем логгер
	if err := logctx.Init(settings.LogLevel); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	// готовим заранее слушатель прерываний - контекст для всего приложения
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// подключитсья к базе
	dbConn := repository.ConnectWithRetries(settings.PostgresDSN, 5, 10*time.Second)
	// накатываем миграцию - схему создаем только здесь
	if err := repository.MigrateWithRetries(dbConn.Master, settings.MigrationsPath, 10, 15*time.Second); err != nil {
		log.Fatalf("Failed to apply migrations: %v\nExiting app...", err)
	}
	if err := repository.CheckSchema(ctx, dbConn); err != nil {
		log.Fatalf("DB schema is not usable: %v\nExiting app...", err)
	}

	// подключиться к хранилищу
	strg, err := storage.NewBlobStorage(ctx, settings.Storage, 10*time.Second)
	if err != nil {
		log.Fatalf("Failed to connect blob-storage: %v\nExiting app...", err)
	}

	// ждем пока кафка раздуплится
	broker := settings.Kafka.Broker
	if err := kafka.WaitKafkaReady(ctx, broker, 5*time.Second); err != nil {
		log.Fatalf("Kafka is unavailable: %v\nExiting app...", err)
	}
	if err := kafka.InitKafkaTopics(ctx, broker, 10*time.Second, settings.Kafka.Topic); err != nil {
		log.Fatalf("Failed to init kafka topics: %v\nExiting app...", err)
	}
	// продюсер нужен только для переотправки зависших фото
	pub := wbfkafka.NewProducer([]string{broker}, settings.Kafka.Topic)

	// движок ватермарков и сервис
	codec := imageproc.NewCodec(settings.CodecTimeout, settings.JPEGQuality)
	engine := watermark.NewEngine(codec, watermark.WithPreview(settings.PreviewMaxSide), watermark.WithWorkers(settings.Workers))
	svc := service.NewGalleryService(
		repository.NewPostgresPhotoRepo(dbConn),
		repository.NewPostgresWatermarkRepo(dbConn),
		pub, strg, engine, settings.Keys,
	)

	// подключиться к кафке как читатель
	queue := make(chan kafkago.Message)
	retryStrategy := retry.Strategy{
		Attempts: 5,
		Delay:    2 * time.Second,
		Backoff:  1.5,
	}
	cons := wbfkafka.NewConsumer([]string{broker}, settings.Kafka.Topic, settings.Kafka.GroupID)
	cons.StartConsuming(ctx, queue, retryStrategy)

	// Собираем воедино все что нужно воркеру и запускаем его
	wrk := worker.NewWorkerInstance(strg, svc, engine, queue, cons, settings.Keys, settings.Workers)
	go func() {
		err := wrk.StartWorker(ctx)
		if errors.Is(err, model.ErrSchemaMissing) {
			log.Printf("Worker stopped, DB schema is broken: %v", err)
		}
		stop()
	}()

	// запускаем фонового воркера для отслеживания подвисших задач
	go recoveryLoop(ctx, svc)

	// Waiting for interruption to stop context to start Graceful shutdown
	<-ctx.Done()

	shutdown(cons, pub, dbConn)
	log.Println("Exiting worker...")
}

func shutdown(cons *wbfkafka.Consumer, pub *wbfkafka.Producer, dbConn *dbpg.DB) {
	log.Println("Interrupt received!!! Starting shutdown sequence...")

	// Closing Kafka connections:
	if err := cons.Close(); err != nil {
		log.Println("Failed to close Kafka-reader:", err)
	}
	log.Println("Kafka-consumer connection closed.")

	if err := pub.Close(); err != nil {
		log.Println("Failed to close Kafka-writer:", err)
	}
	log.Println("Kafka-producer connection closed.")

	// Closing DB connection
	if err := dbConn.Master.Close(); err != nil {
		log.Println("Failed to close DB-conn correctly:", err)
		return
	}
	log.Println("DBconn closed")
}
