package healthservice

import (
	"context"
	"log/slog"
	"time"

	"go.uber.org/atomic"

	"github.com/zanzhit/pitch_recorder/internal/domain/models"
	"github.com/zanzhit/pitch_recorder/internal/lib/sl"
	schedulerservice "github.com/zanzhit/pitch_recorder/internal/services/scheduler"
)

type SnapshotProvider interface {
	Snapshot() schedulerservice.Snapshot
}

type UploadStats interface {
	SuccessfulUploads() int
}

type StatusSaver interface {
	Upsert(ctx context.Context, snap models.SystemStatusSnapshot) error
}

// HealthService periodically writes a liveness row for the camera. It only
// reads scheduler and upload state through snapshots, never their internals.
type HealthService struct {
	log           *slog.Logger
	snapshots     SnapshotProvider
	uploadStats   UploadStats
	statusSaver   StatusSaver
	errorsCount   *atomic.Int64
	cameraID      string
	recordingsDir string
	interval      time.Duration
	startedAt     time.Time
	now           func() time.Time
}

func New(log *slog.Logger, snapshots SnapshotProvider, uploadStats UploadStats, statusSaver StatusSaver,
	errorsCount *atomic.Int64, cameraID, recordingsDir string, interval time.Duration) *HealthService {
	return &HealthService{
		log:           log,
		snapshots:     snapshots,
		uploadStats:   uploadStats,
		statusSaver:   statusSaver,
		errorsCount:   errorsCount,
		cameraID:      cameraID,
		recordingsDir: recordingsDir,
		interval:      interval,
		startedAt:     time.Now(),
		now:           time.Now,
	}
}

func (s *HealthService) Run(ctx context.Context) {
	const op = "service.health.Run"

	s.log.Info("health reporting started",
		slog.String("op", op),
		slog.String("camera_id", s.cameraID),
		slog.Duration("interval", s.interval),
	)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.report(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.report(ctx)
		}
	}
}

// report builds and writes one snapshot. A failed write is logged and
// counted; the next tick simply tries again with fresh data.
func (s *HealthService) report(ctx context.Context) {
	const op = "service.health.report"

	if err := s.statusSaver.Upsert(ctx, s.snapshot()); err != nil {
		s.log.Error("failed to report status", slog.String("op", op), sl.Err(err))
		s.errorsCount.Inc()
	}
}

func (s *HealthService) snapshot() models.SystemStatusSnapshot {
	now := s.now()
	sched := s.snapshots.Snapshot()

	return models.SystemStatusSnapshot{
		CameraID:          s.cameraID,
		Timestamp:         now,
		IsRecording:       sched.IsRecording,
		CurrentBookingID:  sched.CurrentBookingID,
		SessionState:      sched.SessionState,
		CameraStatus:      sched.CameraStatus,
		ErrorsCount:       int(s.errorsCount.Load()),
		TotalRecordings:   sched.TotalRecordings,
		SuccessfulUploads: s.uploadStats.SuccessfulUploads(),
		CPUPercent:        cpuPercent(),
		MemoryPercent:     memoryPercent(),
		DiskFreeBytes:     diskFreeBytes(s.recordingsDir),
		StorageUsedBytes:  storageUsedBytes(s.recordingsDir),
		TemperatureC:      temperatureC(),
		IPAddress:         ipAddress(),
		UptimeSeconds:     int64(now.Sub(s.startedAt).Seconds()),
	}
}
