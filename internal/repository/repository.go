// Package repository provides methods to work with DB
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/UnendingLoop/GalleryWatermark/internal/model"
	"github.com/UnendingLoop/GalleryWatermark/internal/repository/gallerypg"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/wb-go/wbf/dbpg"
)

type PhotoRepo interface {
	Create(ctx context.Context, p *model.Photo) error
	Get(ctx context.Context, id string) (*model.Photo, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, newStat model.Status) error
	SaveResult(ctx context.Context, p *model.Photo) error
	MarkFailed(ctx context.Context, id string, reasons model.StringSlice) error
	FetchOrphans(ctx context.Context, limit int) ([]model.Photo, error)
}

type WatermarkRepo interface {
	Upsert(ctx context.Context, wm *model.Watermark) error
	UpdateConfig(ctx context.Context, owner string, cfg model.RawConfig) (*model.Watermark, error)
	Get(ctx context.Context, owner string) (*model.Watermark, error)
}

func NewPostgresPhotoRepo(dbconn *dbpg.DB) PhotoRepo {
	return gallerypg.PhotoRepo{DB: dbconn}
}

func NewPostgresWatermarkRepo(dbconn *dbpg.DB) WatermarkRepo {
	return gallerypg.WatermarkRepo{DB: dbconn}
}

func ConnectWithRetries(dsn string, retryCount int, idleTime time.Duration) *dbpg.DB {
	dbOptions := dbpg.Options{
		MaxOpenConns:    5,
		MaxIdleConns:    5,
		ConnMaxLifetime: 10 * time.Minute,
	}
	var dbConn *dbpg.DB
	var err error

	for range retryCount {
		dbConn, err = dbpg.New(dsn, nil, &dbOptions)
		if err == nil {
			break
		}
		log.Printf("Failed to connect to PGDB: %s\nWaiting %v before next retry...", err, idleTime)
		time.Sleep(idleTime)
	}

	if err != nil {
		log.Fatal("Failed to connect to DB. Exiting the app...")
	}

	return dbConn
}

// MigrateWithRetries applies migrations once at start. Nothing at runtime creates or alters schema:
// an error returned after the last try means the app must not start.
func MigrateWithRetries(db *sql.DB, migrationsPath string, retries int, idle time.Duration) error {
	var err error
	for i := range retries {
		log.Printf("Migration try #%d...", i+1)
		if err = runMigrate(db, migrationsPath); err == nil {
			return nil
		}
		if i < retries-1 {
			log.Printf("Migration try #%d was unsuccessful: %v. Waiting %v before next try...", i+1, err, idle)
			time.Sleep(idle)
		}
	}
	return fmt.Errorf("out of migration retries: %w", err)
}

// CheckSchema fails with model.ErrSchemaMissing when the tables the app relies on are absent
func CheckSchema(ctx context.Context, db *dbpg.DB) error {
	err := gallerypg.Ping(ctx, db)
	if errors.Is(err, model.ErrSchemaMissing) {
		return err
	}
	if err != nil {
		return fmt.Errorf("schema check: %w", err)
	}
	return nil
}

func runMigrate(db *sql.DB, migrationsPath string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(migrationsPath)
	if err != nil {
		return err
	}

	sourceURL := "file://" + absPath
	log.Println("Running migrations from:", sourceURL)

	m, err := migrate.NewWithDatabaseInstance(
		sourceURL,
		"postgres",
		driver,
	)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	log.Println("Database migrations applied successfully")
	return nil
}
