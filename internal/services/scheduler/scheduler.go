package schedulerservice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/zanzhit/pitch_recorder/internal/domain/constants"
	"github.com/zanzhit/pitch_recorder/internal/domain/errs"
	"github.com/zanzhit/pitch_recorder/internal/domain/models"
	"github.com/zanzhit/pitch_recorder/internal/lib/sl"
	sessionservice "github.com/zanzhit/pitch_recorder/internal/services/session"
)

type BookingProvider interface {
	ActiveBooking(ctx context.Context, cameraID, date, clock string) (models.Booking, error)
	Booking(ctx context.Context, bookingID string) (models.Booking, error)
}

type BookingMarker interface {
	MarkRecording(ctx context.Context, bookingID string) error
	MarkFailed(ctx context.Context, bookingID, reason string) error
}

type UploadQueue interface {
	Enqueue(task models.UploadTask)
	ProcessPending(ctx context.Context)
}

type Config struct {
	CameraID         string
	PollInterval     time.Duration
	MaxDuration      time.Duration
	MaxStartAttempts int
	TempDir          string
	RecordingsDir    string
}

// Snapshot is what the health reporter sees. It is rebuilt at the end of
// every tick and read under the mutex, so the reporter never touches live
// session state.
type Snapshot struct {
	IsRecording      bool
	CurrentBookingID string
	SessionState     string
	CameraStatus     string
	TotalRecordings  int
}

// Scheduler is the single poller driving booking discovery, session
// transitions and upload dispatch. It holds the only session reference, so
// at most one recording can ever run.
type Scheduler struct {
	log             *slog.Logger
	bookingProvider BookingProvider
	bookingMarker   BookingMarker
	uploads         UploadQueue
	camera          sessionservice.CameraResource
	cfg             Config
	loc             *time.Location
	errorsCount     *atomic.Int64
	now             func() time.Time

	session           *sessionservice.Session
	attempts          map[string]int
	totalRecordings   int
	lastAcquireFailed bool

	mu   sync.Mutex
	snap Snapshot
}

func New(log *slog.Logger, bookingProvider BookingProvider, bookingMarker BookingMarker,
	uploads UploadQueue, cam sessionservice.CameraResource, cfg Config, loc *time.Location,
	errorsCount *atomic.Int64) *Scheduler {
	s := &Scheduler{
		log:             log,
		bookingProvider: bookingProvider,
		bookingMarker:   bookingMarker,
		uploads:         uploads,
		camera:          cam,
		cfg:             cfg,
		loc:             loc,
		errorsCount:     errorsCount,
		now:             time.Now,
		attempts:        make(map[string]int),
	}
	s.updateSnapshot()

	return s
}

func (s *Scheduler) Run(ctx context.Context) {
	const op = "service.scheduler.Run"

	s.log.Info("scheduler started",
		slog.String("op", op),
		slog.String("camera_id", s.cfg.CameraID),
		slog.Duration("poll_interval", s.cfg.PollInterval),
	)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.shutdown()

			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now().In(s.loc)

	if s.session != nil {
		s.supervise(ctx, now)
	}

	if s.session == nil {
		s.discover(ctx, now)
	}

	s.uploads.ProcessPending(ctx)

	s.updateSnapshot()
}

// discover looks for the booking whose window contains now and starts a
// session for it. A store outage is logged and retried next tick.
func (s *Scheduler) discover(ctx context.Context, now time.Time) {
	const op = "service.scheduler.discover"

	log := s.log.With(slog.String("op", op))

	booking, err := s.bookingProvider.ActiveBooking(ctx, s.cfg.CameraID,
		now.Format("2006-01-02"), now.Format("15:04:05"))
	if err != nil {
		if errors.Is(err, errs.ErrNoActiveBooking) {
			return
		}

		log.Error("failed to poll bookings", sl.Err(err))
		s.errorsCount.Inc()

		return
	}

	if s.attempts[booking.ID] >= s.cfg.MaxStartAttempts {
		return
	}

	sess := sessionservice.New(s.log, s.camera, booking, s.cfg.TempDir, s.cfg.RecordingsDir,
		s.cfg.MaxDuration, s.loc, now)

	if err := sess.Start(ctx, now); err != nil {
		log.Error("failed to start session",
			slog.String("booking_id", booking.ID),
			slog.Int("attempt", s.attempts[booking.ID]+1),
			sl.Err(err),
		)

		s.errorsCount.Inc()
		s.lastAcquireFailed = true

		s.attempts[booking.ID]++
		if s.attempts[booking.ID] >= s.cfg.MaxStartAttempts {
			log.Error("start attempts exhausted, marking booking failed",
				slog.String("booking_id", booking.ID))

			if err := s.bookingMarker.MarkFailed(ctx, booking.ID, "camera acquisition failed"); err != nil {
				log.Error("failed to mark booking failed", sl.Err(err))
			}
		}

		return
	}

	s.lastAcquireFailed = false
	s.session = sess
	delete(s.attempts, booking.ID)

	if err := s.bookingMarker.MarkRecording(ctx, booking.ID); err != nil {
		// The recording itself is running; the status write catches up on a
		// later poll because the booking stays active either way.
		log.Error("failed to mark booking recording", sl.Err(err))
		s.errorsCount.Inc()
	}
}

// supervise decides whether the running session must stop: planned end or
// watchdog reached, capture process died, or the booking was cancelled or
// deleted upstream. Only a successful lookup can trigger a cancellation
// stop, so a store outage never kills a recording.
func (s *Scheduler) supervise(ctx context.Context, now time.Time) {
	const op = "service.scheduler.supervise"

	log := s.log.With(
		slog.String("op", op),
		slog.String("booking_id", s.session.BookingID()),
	)

	if !s.session.Active() {
		s.session = nil

		return
	}

	if s.session.DueToStop(now) {
		log.Info("booking window ended")

		s.finish(ctx)

		return
	}

	if !s.session.CaptureAlive(ctx) {
		log.Error("capture process died, stopping early", sl.Err(errs.ErrRecordingIO))
		s.errorsCount.Inc()

		s.finish(ctx)

		return
	}

	booking, err := s.bookingProvider.Booking(ctx, s.session.BookingID())
	if err != nil {
		if errors.Is(err, errs.ErrBookingNotFound) {
			log.Info("booking deleted upstream, stopping")

			s.finish(ctx)

			return
		}

		log.Error("failed to check booking, keeping session", sl.Err(err))
		s.errorsCount.Inc()

		return
	}

	if booking.Status == constants.BookingStatusCancelled {
		log.Info("booking cancelled upstream, stopping")

		s.finish(ctx)
	}
}

// finish stops the session and either hands the file to the upload queue or
// marks the booking failed when no usable file came out.
func (s *Scheduler) finish(ctx context.Context) {
	const op = "service.scheduler.finish"

	log := s.log.With(
		slog.String("op", op),
		slog.String("booking_id", s.session.BookingID()),
	)

	if err := s.session.Stop(ctx); err != nil {
		log.Error("session ended without a usable file", sl.Err(err))
		s.errorsCount.Inc()

		if err := s.bookingMarker.MarkFailed(ctx, s.session.BookingID(), errs.ErrVerificationFailed.Error()); err != nil {
			log.Error("failed to mark booking failed", sl.Err(err))
		}

		s.session = nil

		return
	}

	s.uploads.Enqueue(models.UploadTask{
		FilePath:  s.session.FinalPath(),
		BookingID: s.session.BookingID(),
	})

	s.totalRecordings++
	s.session = nil
}

// shutdown stops an active recording cleanly so the file survives the
// process exit. The upload happens on this run if the worker gets to it,
// otherwise startup recovery picks the file up.
func (s *Scheduler) shutdown() {
	const op = "service.scheduler.shutdown"

	if s.session == nil || !s.session.Active() {
		return
	}

	s.log.Info("stopping active recording for shutdown",
		slog.String("op", op),
		slog.String("booking_id", s.session.BookingID()),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.finish(ctx)
	s.updateSnapshot()
}

func (s *Scheduler) updateSnapshot() {
	snap := Snapshot{
		SessionState:    string(sessionservice.StateIdle),
		CameraStatus:    constants.CameraStatusOK,
		TotalRecordings: s.totalRecordings,
	}

	if s.session != nil {
		snap.CurrentBookingID = s.session.BookingID()
		snap.SessionState = string(s.session.State())

		if s.session.State() == sessionservice.StateRecording {
			snap.IsRecording = true
			snap.CameraStatus = constants.CameraStatusRecording
		}
	}

	if s.lastAcquireFailed {
		snap.CameraStatus = constants.CameraStatusUnavailable
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snap
}
