package sessionservice

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/zanzhit/pitch_recorder/internal/camera"
	"github.com/zanzhit/pitch_recorder/internal/domain/errs"
	"github.com/zanzhit/pitch_recorder/internal/domain/models"
	"github.com/zanzhit/pitch_recorder/internal/lib/recname"
	"github.com/zanzhit/pitch_recorder/internal/lib/sl"
)

type State string

const (
	StateIdle       State = "idle"
	StateAcquiring  State = "acquiring"
	StateRecording  State = "recording"
	StateStopping   State = "stopping"
	StateFinalizing State = "finalizing"
	StateHandoff    State = "handoff"
	StateAborted    State = "aborted"
)

type CameraResource interface {
	Acquire(ctx context.Context) (*camera.Handle, error)
	StartRecording(ctx context.Context, h *camera.Handle, path string, maxDuration time.Duration) error
	StopRecording(ctx context.Context, h *camera.Handle) error
	Release(h *camera.Handle)
	HealthCheck(ctx context.Context, h *camera.Handle) bool
}

// Session binds one booking to one camera lifecycle. The scheduler holds the
// only reference, so state moves without locking.
type Session struct {
	log    *slog.Logger
	camera CameraResource

	booking       models.Booking
	handle        *camera.Handle
	state         State
	filePath      string
	finalPath     string
	startedAt     time.Time
	plannedEndAt  time.Time
	maxDuration   time.Duration
	tempDir       string
	recordingsDir string
}

func New(log *slog.Logger, cam CameraResource, booking models.Booking, tempDir, recordingsDir string,
	maxDuration time.Duration, loc *time.Location, now time.Time) *Session {
	s := &Session{
		log:           log,
		camera:        cam,
		booking:       booking,
		state:         StateIdle,
		maxDuration:   maxDuration,
		tempDir:       tempDir,
		recordingsDir: recordingsDir,
	}

	end, err := time.ParseInLocation("2006-01-02 15:04:05", booking.Date+" "+booking.EndTime, loc)
	if err != nil {
		// A malformed window still records, bounded by maxDuration.
		log.Error("failed to parse booking end time",
			slog.String("booking_id", booking.ID), sl.Err(err))

		end = now.Add(maxDuration)
	}
	s.plannedEndAt = end

	return s
}

func (s *Session) State() State {
	return s.state
}

func (s *Session) BookingID() string {
	return s.booking.ID
}

func (s *Session) Booking() models.Booking {
	return s.booking
}

func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

func (s *Session) FinalPath() string {
	return s.finalPath
}

// Active reports whether the session still owns the camera.
func (s *Session) Active() bool {
	switch s.state {
	case StateAcquiring, StateRecording, StateStopping, StateFinalizing:
		return true
	}

	return false
}

// Start drives Idle through Acquiring into Recording. On any failure the
// session ends Aborted and the camera is released.
func (s *Session) Start(ctx context.Context, now time.Time) error {
	const op = "service.session.Start"

	log := s.log.With(
		slog.String("op", op),
		slog.String("booking_id", s.booking.ID),
	)

	if s.state != StateIdle {
		return fmt.Errorf("%s: cannot start from state %s", op, s.state)
	}

	s.state = StateAcquiring

	handle, err := s.camera.Acquire(ctx)
	if err != nil {
		log.Error("failed to acquire camera", sl.Err(err))

		s.state = StateAborted

		return fmt.Errorf("%s: %w", op, err)
	}

	name := recname.Build(s.booking.ID, now)
	s.filePath = filepath.Join(s.tempDir, name)
	s.finalPath = filepath.Join(s.recordingsDir, name)

	if err := s.camera.StartRecording(ctx, handle, s.filePath, s.maxDuration); err != nil {
		log.Error("failed to start recording", sl.Err(err))

		s.camera.Release(handle)
		s.state = StateAborted

		return fmt.Errorf("%s: %w", op, err)
	}

	s.handle = handle
	s.startedAt = now
	s.state = StateRecording

	log.Info("recording started",
		slog.String("tier", handle.Tier),
		slog.String("file_path", s.filePath),
		slog.Time("planned_end_at", s.plannedEndAt),
	)

	return nil
}

// DueToStop reports whether the planned end was reached or the watchdog
// duration ran out.
func (s *Session) DueToStop(now time.Time) bool {
	if s.state != StateRecording {
		return false
	}

	if !now.Before(s.plannedEndAt) {
		return true
	}

	return now.Sub(s.startedAt) > s.maxDuration
}

// CaptureAlive reports whether the capture process is still running.
func (s *Session) CaptureAlive(ctx context.Context) bool {
	if s.state != StateRecording {
		return false
	}

	return s.camera.HealthCheck(ctx, s.handle)
}

// Stop drives Recording through Stopping and Finalizing. The file must exist
// with non-zero size and is moved from the temp dir into the recordings dir;
// only then the session reaches Handoff. Stopping a session that is not
// recording is a no-op.
func (s *Session) Stop(ctx context.Context) error {
	const op = "service.session.Stop"

	log := s.log.With(
		slog.String("op", op),
		slog.String("booking_id", s.booking.ID),
	)

	if s.state != StateRecording {
		return nil
	}

	s.state = StateStopping

	if err := s.camera.StopRecording(ctx, s.handle); err != nil {
		log.Error("failed to stop recording", sl.Err(err))
	}

	s.camera.Release(s.handle)
	s.handle = nil

	s.state = StateFinalizing

	info, err := os.Stat(s.filePath)
	if err != nil || info.Size() == 0 {
		log.Error("recording file missing or empty", slog.String("file_path", s.filePath))

		s.state = StateAborted

		return fmt.Errorf("%s: %w", op, errs.ErrVerificationFailed)
	}

	if err := os.Rename(s.filePath, s.finalPath); err != nil {
		log.Error("failed to move recording", sl.Err(err))

		s.state = StateAborted

		return fmt.Errorf("%s: %w", op, err)
	}

	s.state = StateHandoff

	log.Info("recording finalized",
		slog.String("file_path", s.finalPath),
		slog.Int64("size_bytes", info.Size()),
	)

	return nil
}
