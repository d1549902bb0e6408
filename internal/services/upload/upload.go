package uploadservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v3"
	"go.uber.org/atomic"

	"github.com/zanzhit/pitch_recorder/internal/config"
	"github.com/zanzhit/pitch_recorder/internal/domain/constants"
	"github.com/zanzhit/pitch_recorder/internal/domain/errs"
	"github.com/zanzhit/pitch_recorder/internal/domain/models"
	"github.com/zanzhit/pitch_recorder/internal/lib/recname"
	"github.com/zanzhit/pitch_recorder/internal/lib/sl"
)

type FileUploader interface {
	Upload(ctx context.Context, localPath, objectName string) (int64, error)
}

type VideoSaver interface {
	Save(ctx context.Context, video models.Video) error
}

type BookingProvider interface {
	Booking(ctx context.Context, bookingID string) (models.Booking, error)
}

type BookingMarker interface {
	MarkCompleted(ctx context.Context, bookingID string) error
	MarkFailed(ctx context.Context, bookingID, reason string) error
}

type UploadService struct {
	log             *slog.Logger
	uploader        FileUploader
	videoSaver      VideoSaver
	bookingProvider BookingProvider
	bookingMarker   BookingMarker
	cfg             config.Upload
	cameraID        string
	recordingsDir   string
	errorsCount     *atomic.Int64

	work chan models.UploadTask
	now  func() time.Time

	mu        sync.Mutex
	queue     []models.UploadTask
	seen      map[string]bool
	successes int
}

func New(log *slog.Logger, uploader FileUploader, videoSaver VideoSaver, bookingProvider BookingProvider,
	bookingMarker BookingMarker, cfg config.Upload, cameraID, recordingsDir string, errorsCount *atomic.Int64) *UploadService {
	return &UploadService{
		log:             log,
		uploader:        uploader,
		videoSaver:      videoSaver,
		bookingProvider: bookingProvider,
		bookingMarker:   bookingMarker,
		cfg:             cfg,
		cameraID:        cameraID,
		recordingsDir:   recordingsDir,
		errorsCount:     errorsCount,
		work:            make(chan models.UploadTask),
		now:             time.Now,
		seen:            make(map[string]bool),
	}
}

// Enqueue adds a finished recording to the queue. Tasks are deduplicated by
// file path, so startup recovery and a live handoff can never double-queue
// the same file.
func (s *UploadService) Enqueue(task models.UploadTask) {
	const op = "service.upload.Enqueue"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seen[task.FilePath] {
		s.log.Info("upload already queued",
			slog.String("op", op),
			slog.String("file_path", task.FilePath),
		)

		return
	}

	s.seen[task.FilePath] = true
	s.queue = append(s.queue, task)

	s.log.Info("upload queued",
		slog.String("op", op),
		slog.String("file_path", task.FilePath),
		slog.String("booking_id", task.BookingID),
	)
}

// ProcessPending hands at most one due task to the worker. It never blocks,
// so a slow upload cannot delay the scheduling tick that called it.
func (s *UploadService) ProcessPending(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, task := range s.queue {
		if task.NextAttemptAt.After(now) {
			continue
		}

		select {
		case s.work <- task:
			s.queue = append(s.queue[:i], s.queue[i+1:]...)
		default:
		}

		return
	}
}

// Run is the upload worker loop. All upload I/O happens here.
func (s *UploadService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-s.work:
			s.process(ctx, task)
		}
	}
}

func (s *UploadService) process(ctx context.Context, task models.UploadTask) {
	const op = "service.upload.process"

	log := s.log.With(
		slog.String("op", op),
		slog.String("file_path", task.FilePath),
		slog.String("booking_id", task.BookingID),
		slog.Int("retry_count", task.RetryCount),
	)

	filename := filepath.Base(task.FilePath)
	objectName := objectName(filename, s.now())

	size, err := s.uploader.Upload(ctx, task.FilePath, objectName)
	if err != nil {
		log.Error("upload failed", sl.Err(err))

		s.fail(ctx, task, err)

		return
	}

	video := models.Video{
		ID:          shortuuid.New(),
		BookingID:   task.BookingID,
		CameraID:    s.cameraID,
		Filename:    filename,
		StoragePath: objectName,
		FileSize:    size,
		UploadedAt:  s.now(),
		Status:      constants.VideoStatusUploaded,
	}

	if err := s.videoSaver.Save(ctx, video); err != nil {
		log.Error("failed to save video metadata", sl.Err(err))

		s.fail(ctx, task, err)

		return
	}

	if err := s.bookingMarker.MarkCompleted(ctx, task.BookingID); err != nil {
		// A booking deleted or cancelled upstream no longer has a row to
		// complete; the footage itself is safe.
		if !errors.Is(err, errs.ErrBookingNotFound) {
			log.Error("failed to mark booking completed", sl.Err(err))

			s.fail(ctx, task, err)

			return
		}

		log.Warn("booking gone before completion", sl.Err(err))
	}

	if s.cfg.DeleteAfterUpload {
		if err := os.Remove(task.FilePath); err != nil {
			log.Warn("failed to delete local file", sl.Err(err))
		}
	}

	s.mu.Lock()
	delete(s.seen, task.FilePath)
	s.successes++
	s.mu.Unlock()

	log.Info("upload complete",
		slog.String("storage_path", objectName),
		slog.Int64("size_bytes", size),
	)
}

func (s *UploadService) fail(ctx context.Context, task models.UploadTask, cause error) {
	const op = "service.upload.fail"

	s.errorsCount.Inc()

	task.RetryCount++

	log := s.log.With(
		slog.String("op", op),
		slog.String("file_path", task.FilePath),
		slog.String("booking_id", task.BookingID),
		slog.Int("retry_count", task.RetryCount),
	)

	if task.RetryCount >= s.cfg.MaxRetries {
		log.Error("upload retries exhausted, keeping local file", sl.Err(errs.ErrUploadExhausted))

		if err := s.bookingMarker.MarkFailed(ctx, task.BookingID, errs.ErrUploadExhausted.Error()); err != nil {
			log.Error("failed to mark booking failed", sl.Err(err))
		}

		s.mu.Lock()
		delete(s.seen, task.FilePath)
		s.mu.Unlock()

		return
	}

	task.NextAttemptAt = s.now().Add(s.backoff(task.RetryCount))

	s.mu.Lock()
	s.queue = append(s.queue, task)
	s.mu.Unlock()

	log.Info("upload retry scheduled",
		slog.Time("next_attempt_at", task.NextAttemptAt),
		sl.Err(cause),
	)
}

func (s *UploadService) backoff(retryCount int) time.Duration {
	d := s.cfg.BackoffBase << (retryCount - 1)
	if d <= 0 || d > s.cfg.BackoffCap {
		return s.cfg.BackoffCap
	}

	return d
}

// Recover scans the recordings dir on startup and re-enqueues every finished
// file whose booking never reached completed. Runs before the worker starts,
// so a file from a crashed run is uploaded exactly once.
func (s *UploadService) Recover(ctx context.Context) error {
	const op = "service.upload.Recover"

	log := s.log.With(slog.String("op", op))

	entries, err := os.ReadDir(s.recordingsDir)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	recovered := 0

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		bookingID, err := recname.ParseBookingID(entry.Name())
		if err != nil {
			log.Warn("skipping unrecognized file", slog.String("filename", entry.Name()))

			continue
		}

		booking, err := s.bookingProvider.Booking(ctx, bookingID)
		if err != nil && !errors.Is(err, errs.ErrBookingNotFound) {
			log.Error("failed to look up booking, leaving file for next start", sl.Err(err))

			continue
		}

		if err == nil && booking.Status == constants.BookingStatusCompleted {
			continue
		}

		s.Enqueue(models.UploadTask{
			FilePath:  filepath.Join(s.recordingsDir, entry.Name()),
			BookingID: bookingID,
		})
		recovered++
	}

	if recovered > 0 {
		log.Info("recovered unfinished uploads", slog.Int("count", recovered))
	}

	return nil
}

// SuccessfulUploads returns the number of uploads completed since start.
func (s *UploadService) SuccessfulUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.successes
}

// PendingUploads returns the number of queued tasks.
func (s *UploadService) PendingUploads() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// objectName keys the object by the recording date so the bucket stays
// browsable as recordings/YYYY/MM/DD. Files with no parsable stamp fall back
// to the upload date.
func objectName(filename string, now time.Time) string {
	stamp, err := recname.ParseStamp(filename)
	if err != nil {
		stamp = now
	}

	return fmt.Sprintf("recordings/%s/%s", stamp.Format("2006/01/02"), filename)
}
