package schedulerservice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/zanzhit/pitch_recorder/internal/camera"
	"github.com/zanzhit/pitch_recorder/internal/domain/constants"
	"github.com/zanzhit/pitch_recorder/internal/domain/errs"
	"github.com/zanzhit/pitch_recorder/internal/domain/models"
)

type fakeBookingStore struct {
	bookings      map[string]models.Booking
	lastDate      string
	lastClock     string
	recording     []string
	failed        map[string]string
	activeErr     error
	lookupErr     error
	markRecErr    error
	markFailedErr error
}

func (f *fakeBookingStore) ActiveBooking(ctx context.Context, cameraID, date, clock string) (models.Booking, error) {
	f.lastDate = date
	f.lastClock = clock

	if f.activeErr != nil {
		return models.Booking{}, f.activeErr
	}

	for _, b := range f.bookings {
		if b.Status == constants.BookingStatusConfirmed || b.Status == constants.BookingStatusRecording {
			if b.StartTime <= clock && clock < b.EndTime {
				return b, nil
			}
		}
	}

	return models.Booking{}, errs.ErrNoActiveBooking
}

func (f *fakeBookingStore) Booking(ctx context.Context, bookingID string) (models.Booking, error) {
	if f.lookupErr != nil {
		return models.Booking{}, f.lookupErr
	}

	b, ok := f.bookings[bookingID]
	if !ok {
		return models.Booking{}, errs.ErrBookingNotFound
	}

	return b, nil
}

func (f *fakeBookingStore) MarkRecording(ctx context.Context, bookingID string) error {
	if f.markRecErr != nil {
		return f.markRecErr
	}

	f.recording = append(f.recording, bookingID)

	b := f.bookings[bookingID]
	b.Status = constants.BookingStatusRecording
	f.bookings[bookingID] = b

	return nil
}

func (f *fakeBookingStore) MarkFailed(ctx context.Context, bookingID, reason string) error {
	if f.markFailedErr != nil {
		return f.markFailedErr
	}

	if f.failed == nil {
		f.failed = make(map[string]string)
	}
	f.failed[bookingID] = reason

	b := f.bookings[bookingID]
	b.Status = constants.BookingStatusFailed
	f.bookings[bookingID] = b

	return nil
}

type fakeUploads struct {
	tasks     []models.UploadTask
	processed int
}

func (f *fakeUploads) Enqueue(task models.UploadTask) {
	f.tasks = append(f.tasks, task)
}

func (f *fakeUploads) ProcessPending(ctx context.Context) {
	f.processed++
}

type fakeCamera struct {
	acquireErr error
	alive      bool
	fileData   []byte

	acquires int
	stops    int
	releases int
}

func (f *fakeCamera) Acquire(ctx context.Context) (*camera.Handle, error) {
	f.acquires++
	if f.acquireErr != nil {
		return nil, f.acquireErr
	}
	return &camera.Handle{Tier: "fake"}, nil
}

func (f *fakeCamera) StartRecording(ctx context.Context, h *camera.Handle, path string, maxDuration time.Duration) error {
	if f.fileData != nil {
		return os.WriteFile(path, f.fileData, 0o644)
	}
	return nil
}

func (f *fakeCamera) StopRecording(ctx context.Context, h *camera.Handle) error {
	f.stops++
	return nil
}

func (f *fakeCamera) Release(h *camera.Handle) {
	f.releases++
}

func (f *fakeCamera) HealthCheck(ctx context.Context, h *camera.Handle) bool {
	return f.alive
}

type testEnv struct {
	sched   *Scheduler
	store   *fakeBookingStore
	uploads *fakeUploads
	cam     *fakeCamera
	errors  *atomic.Int64
	now     time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		store: &fakeBookingStore{bookings: map[string]models.Booking{
			"b1": {
				ID:        "b1",
				CameraID:  "cam-1",
				Date:      "2025-03-14",
				StartTime: "09:00:00",
				EndTime:   "10:00:00",
				Status:    constants.BookingStatusConfirmed,
			},
		}},
		uploads: &fakeUploads{},
		cam:     &fakeCamera{alive: true, fileData: []byte("frames")},
		errors:  atomic.NewInt64(0),
		now:     time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC),
	}

	cfg := Config{
		CameraID:         "cam-1",
		PollInterval:     time.Second,
		MaxDuration:      4 * time.Hour,
		MaxStartAttempts: 3,
		TempDir:          t.TempDir(),
		RecordingsDir:    t.TempDir(),
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	env.sched = New(log, env.store, env.store, env.uploads, env.cam, cfg, time.UTC, env.errors)
	env.sched.now = func() time.Time { return env.now }

	return env
}

func TestActiveBookingStartsRecording(t *testing.T) {
	env := newTestEnv(t)

	env.sched.tick(context.Background())

	snap := env.sched.Snapshot()
	if !snap.IsRecording {
		t.Fatalf("snapshot must show recording after one tick")
	}
	if snap.CurrentBookingID != "b1" {
		t.Fatalf("current booking = %q, want b1", snap.CurrentBookingID)
	}
	if snap.CameraStatus != constants.CameraStatusRecording {
		t.Fatalf("camera status = %q, want %q", snap.CameraStatus, constants.CameraStatusRecording)
	}

	if len(env.store.recording) != 1 || env.store.recording[0] != "b1" {
		t.Fatalf("booking must be marked recording, got %v", env.store.recording)
	}
	if env.cam.acquires != 1 {
		t.Fatalf("acquires = %d, want 1", env.cam.acquires)
	}
	if env.uploads.processed != 1 {
		t.Fatalf("upload dispatch must run every tick")
	}

	if env.store.lastDate != "2025-03-14" || env.store.lastClock != "09:00:00" {
		t.Fatalf("poll window = %s %s, want configured-timezone wall clock", env.store.lastDate, env.store.lastClock)
	}
}

func TestPollUsesConfiguredTimezone(t *testing.T) {
	env := newTestEnv(t)

	loc := time.FixedZone("UTC-5", -5*3600)
	env.sched.loc = loc

	// 14:30 UTC is 09:30 in the booking timezone.
	env.now = time.Date(2025, 3, 14, 14, 30, 0, 0, time.UTC)

	env.sched.tick(context.Background())

	if env.store.lastDate != "2025-03-14" || env.store.lastClock != "09:30:00" {
		t.Fatalf("poll window = %s %s, want 2025-03-14 09:30:00", env.store.lastDate, env.store.lastClock)
	}
}

func TestNoActiveBookingStaysIdle(t *testing.T) {
	env := newTestEnv(t)
	env.now = time.Date(2025, 3, 14, 8, 0, 0, 0, time.UTC)

	env.sched.tick(context.Background())

	snap := env.sched.Snapshot()
	if snap.IsRecording || snap.SessionState != "idle" {
		t.Fatalf("snapshot = %+v, want idle", snap)
	}
	if env.errors.Load() != 0 {
		t.Fatalf("no active booking is not an error, count = %d", env.errors.Load())
	}
}

func TestPollOutageCountedAndRetried(t *testing.T) {
	env := newTestEnv(t)
	env.store.activeErr = fmt.Errorf("poll: %w", errs.ErrRemoteUnavailable)

	env.sched.tick(context.Background())
	env.sched.tick(context.Background())

	if env.errors.Load() != 2 {
		t.Fatalf("errors = %d, want 2", env.errors.Load())
	}

	env.store.activeErr = nil
	env.sched.tick(context.Background())

	if !env.sched.Snapshot().IsRecording {
		t.Fatalf("scheduler must recover once the store is back")
	}
}

func TestAcquisitionFailuresExhaustAttempts(t *testing.T) {
	env := newTestEnv(t)
	env.cam.acquireErr = errs.ErrAcquisitionFailed

	for i := 0; i < 3; i++ {
		env.sched.tick(context.Background())
	}

	if env.errors.Load() != 3 {
		t.Fatalf("errors = %d, want 3", env.errors.Load())
	}
	if env.cam.acquires != 3 {
		t.Fatalf("acquires = %d, want 3", env.cam.acquires)
	}
	if reason, ok := env.store.failed["b1"]; !ok || reason == "" {
		t.Fatalf("booking must be marked failed after exhausting attempts, got %v", env.store.failed)
	}
	if env.cam.releases != 0 {
		t.Fatalf("failed acquires must not leak handles, releases = %d", env.cam.releases)
	}

	snap := env.sched.Snapshot()
	if snap.IsRecording {
		t.Fatalf("nothing may be recording after exhausted attempts")
	}
	if snap.CameraStatus != constants.CameraStatusUnavailable {
		t.Fatalf("camera status = %q, want %q", snap.CameraStatus, constants.CameraStatusUnavailable)
	}
}

func TestExhaustedBookingNotRetried(t *testing.T) {
	env := newTestEnv(t)
	env.cam.acquireErr = errs.ErrAcquisitionFailed
	env.store.markFailedErr = fmt.Errorf("mark: %w", errs.ErrRemoteUnavailable)

	for i := 0; i < 5; i++ {
		env.sched.tick(context.Background())
	}

	// The failed mark never landed, so the booking still looks active; the
	// attempt bound must hold anyway.
	if env.cam.acquires != 3 {
		t.Fatalf("acquires = %d, want 3", env.cam.acquires)
	}
	if env.errors.Load() != 3 {
		t.Fatalf("errors = %d, want 3", env.errors.Load())
	}
}

func TestWindowEndStopsAndHandsOff(t *testing.T) {
	env := newTestEnv(t)

	env.sched.tick(context.Background())
	if !env.sched.Snapshot().IsRecording {
		t.Fatalf("precondition: recording after first tick")
	}

	env.now = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	env.sched.tick(context.Background())

	if env.cam.stops != 1 {
		t.Fatalf("stops = %d, want 1", env.cam.stops)
	}
	if env.cam.releases != 1 {
		t.Fatalf("releases = %d, want 1", env.cam.releases)
	}

	if len(env.uploads.tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(env.uploads.tasks))
	}

	task := env.uploads.tasks[0]
	if task.BookingID != "b1" {
		t.Fatalf("task booking = %q, want b1", task.BookingID)
	}

	info, err := os.Stat(task.FilePath)
	if err != nil {
		t.Fatalf("handoff file missing: %v", err)
	}
	if info.Size() == 0 {
		t.Fatalf("handoff file is empty")
	}

	snap := env.sched.Snapshot()
	if snap.IsRecording || snap.SessionState != "idle" {
		t.Fatalf("snapshot after handoff = %+v, want idle", snap)
	}
	if snap.TotalRecordings != 1 {
		t.Fatalf("total recordings = %d, want 1", snap.TotalRecordings)
	}
}

func TestSingleSessionInvariant(t *testing.T) {
	env := newTestEnv(t)

	env.store.bookings["b2"] = models.Booking{
		ID:        "b2",
		CameraID:  "cam-1",
		Date:      "2025-03-14",
		StartTime: "09:00:00",
		EndTime:   "11:00:00",
		Status:    constants.BookingStatusConfirmed,
	}

	for i := 0; i < 5; i++ {
		env.sched.tick(context.Background())
		env.now = env.now.Add(time.Minute)
	}

	if env.cam.acquires != 1 {
		t.Fatalf("acquires = %d, want 1: only one session may exist", env.cam.acquires)
	}
}

func TestCancellationStopsWithinOneTick(t *testing.T) {
	env := newTestEnv(t)

	env.sched.tick(context.Background())

	b := env.store.bookings["b1"]
	b.Status = constants.BookingStatusCancelled
	env.store.bookings["b1"] = b

	env.now = env.now.Add(time.Minute)
	env.sched.tick(context.Background())

	if env.cam.stops != 1 {
		t.Fatalf("cancelled booking must stop within one tick, stops = %d", env.cam.stops)
	}
	if len(env.uploads.tasks) != 1 {
		t.Fatalf("partial footage must still be handed off, tasks = %d", len(env.uploads.tasks))
	}
}

func TestBookingDeletedStops(t *testing.T) {
	env := newTestEnv(t)

	env.sched.tick(context.Background())

	delete(env.store.bookings, "b1")

	env.now = env.now.Add(time.Minute)
	env.sched.tick(context.Background())

	if env.cam.stops != 1 {
		t.Fatalf("deleted booking must stop the session, stops = %d", env.cam.stops)
	}
}

func TestStoreOutageKeepsRecording(t *testing.T) {
	env := newTestEnv(t)

	env.sched.tick(context.Background())

	env.store.lookupErr = fmt.Errorf("lookup: %w", errs.ErrRemoteUnavailable)

	for i := 0; i < 3; i++ {
		env.now = env.now.Add(time.Minute)
		env.sched.tick(context.Background())
	}

	if env.cam.stops != 0 {
		t.Fatalf("store outage must never stop a recording, stops = %d", env.cam.stops)
	}
	if !env.sched.Snapshot().IsRecording {
		t.Fatalf("session must survive the outage")
	}
	if env.errors.Load() != 3 {
		t.Fatalf("outage ticks must be counted, errors = %d", env.errors.Load())
	}
}

func TestCaptureDeathStopsEarly(t *testing.T) {
	env := newTestEnv(t)

	env.sched.tick(context.Background())

	env.cam.alive = false

	env.now = env.now.Add(time.Minute)
	env.sched.tick(context.Background())

	if env.cam.stops != 1 {
		t.Fatalf("dead capture process must stop the session, stops = %d", env.cam.stops)
	}
	if len(env.uploads.tasks) != 1 {
		t.Fatalf("non-empty partial file must be handed off")
	}
	if env.errors.Load() != 1 {
		t.Fatalf("capture death must be counted, errors = %d", env.errors.Load())
	}
}

func TestVerificationFailureMarksBookingFailed(t *testing.T) {
	env := newTestEnv(t)
	env.cam.fileData = []byte{}

	env.sched.tick(context.Background())

	env.now = time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC)
	env.sched.tick(context.Background())

	if len(env.uploads.tasks) != 0 {
		t.Fatalf("empty file must not be handed off")
	}
	if _, ok := env.store.failed["b1"]; !ok {
		t.Fatalf("booking must be marked failed on verification failure")
	}
	if env.sched.Snapshot().TotalRecordings != 0 {
		t.Fatalf("aborted session must not count as a recording")
	}
}

func TestMarkRecordingFailureKeepsSession(t *testing.T) {
	env := newTestEnv(t)
	env.store.markRecErr = fmt.Errorf("mark: %w", errs.ErrRemoteUnavailable)

	env.sched.tick(context.Background())

	if !env.sched.Snapshot().IsRecording {
		t.Fatalf("a failed status write must not abort the recording")
	}
	if env.errors.Load() != 1 {
		t.Fatalf("failed status write must be counted, errors = %d", env.errors.Load())
	}
}
