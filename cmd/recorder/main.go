package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/atomic"

	"github.com/zanzhit/pitch_recorder/internal/camera"
	"github.com/zanzhit/pitch_recorder/internal/config"
	"github.com/zanzhit/pitch_recorder/internal/lib/sl"
	healthservice "github.com/zanzhit/pitch_recorder/internal/services/health"
	schedulerservice "github.com/zanzhit/pitch_recorder/internal/services/scheduler"
	uploadservice "github.com/zanzhit/pitch_recorder/internal/services/upload"
	miniostorage "github.com/zanzhit/pitch_recorder/internal/storage/minio"
	"github.com/zanzhit/pitch_recorder/internal/storage/postgres"
	bookingstorage "github.com/zanzhit/pitch_recorder/internal/storage/postgres/bookings"
	statusstorage "github.com/zanzhit/pitch_recorder/internal/storage/postgres/status"
	videostorage "github.com/zanzhit/pitch_recorder/internal/storage/postgres/videos"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	_ = godotenv.Load()

	cfg := config.MustLoad()

	log := setupLogger(cfg.Env)

	log.Info("starting application", slog.Any("config", cfg))

	cfg.DB.Password = os.Getenv("POSTGRES_PASSWORD")
	if cfg.DB.Password == "" {
		panic("POSTGRES_PASSWORD is required")
	}

	cfg.Minio.AccessKey = os.Getenv("MINIO_ACCESS_KEY")
	if cfg.Minio.AccessKey == "" {
		panic("MINIO_ACCESS_KEY is required")
	}

	cfg.Minio.SecretKey = os.Getenv("MINIO_SECRET_KEY")
	if cfg.Minio.SecretKey == "" {
		panic("MINIO_SECRET_KEY is required")
	}

	loc, err := time.LoadLocation(cfg.Recording.Timezone)
	if err != nil {
		panic(err)
	}

	for _, dir := range []string{cfg.Dirs.Recordings, cfg.Dirs.Temp, cfg.Dirs.Logs} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			panic(err)
		}
	}

	sweepTempDir(log, cfg.Dirs.Temp)

	storage, err := postgres.New(cfg.DB)
	if err != nil {
		panic(err)
	}

	objectStorage, err := miniostorage.New(cfg.Minio)
	if err != nil {
		panic(err)
	}

	bookingStorage := bookingstorage.New(storage)
	videoStorage := videostorage.New(storage)
	statusStorage := statusstorage.New(storage)

	errorsCount := atomic.NewInt64(0)

	cam := camera.New(log, cfg.Camera)

	uploadService := uploadservice.New(log, objectStorage, videoStorage, bookingStorage, bookingStorage,
		cfg.Upload, cfg.Camera.ID, cfg.Dirs.Recordings, errorsCount)

	scheduler := schedulerservice.New(log, bookingStorage, bookingStorage, uploadService, cam,
		schedulerservice.Config{
			CameraID:         cfg.Camera.ID,
			PollInterval:     cfg.Intervals.BookingPoll,
			MaxDuration:      cfg.Recording.MaxDuration,
			MaxStartAttempts: cfg.Recording.MaxStartAttempts,
			TempDir:          cfg.Dirs.Temp,
			RecordingsDir:    cfg.Dirs.Recordings,
		}, loc, errorsCount)

	healthService := healthservice.New(log, scheduler, uploadService, statusStorage,
		errorsCount, cfg.Camera.ID, cfg.Dirs.Recordings, cfg.Intervals.HealthReport)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := uploadService.Recover(ctx); err != nil {
		log.Error("startup recovery failed", sl.Err(err))
	}

	var wg sync.WaitGroup

	wg.Add(3)
	go func() {
		defer wg.Done()
		uploadService.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		healthService.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	<-ctx.Done()

	log.Info("shutting down")

	wg.Wait()

	log.Info("application stopped")
}

// sweepTempDir removes working files orphaned by a crash. Anything in the
// temp dir either belongs to the current run or to no run at all.
func sweepTempDir(log *slog.Logger, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Error("failed to read temp dir", sl.Err(err))

		return
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		if err := os.Remove(path); err != nil {
			log.Warn("failed to sweep stale working file", slog.String("file_path", path), sl.Err(err))

			continue
		}

		log.Info("swept stale working file", slog.String("file_path", path))
	}
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
