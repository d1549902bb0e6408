package bookingstorage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/zanzhit/pitch_recorder/internal/domain/constants"
	"github.com/zanzhit/pitch_recorder/internal/domain/errs"
)

const bookingsDDL = `
	CREATE TABLE IF NOT EXISTS bookings
	(
		id            VARCHAR(64) PRIMARY KEY,
		camera_id     VARCHAR(64) NOT NULL,
		date          DATE        NOT NULL,
		start_time    TIME        NOT NULL,
		end_time      TIME        NOT NULL,
		status        VARCHAR(32) NOT NULL DEFAULT 'confirmed',
		title         TEXT,
		error_message TEXT
	)`

// testStorage connects to the database named by TEST_POSTGRES_DSN and is
// skipped everywhere that variable is not set.
func testStorage(t *testing.T) (*BookingStorage, *sqlx.DB, string) {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_DSN is not set")
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, err := db.Exec(bookingsDDL); err != nil {
		t.Fatalf("create table: %v", err)
	}

	cameraID := fmt.Sprintf("it-cam-%d", time.Now().UnixNano())
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM bookings WHERE camera_id = $1", cameraID)
	})

	return New(db), db, cameraID
}

func insertBooking(t *testing.T, db *sqlx.DB, id, cameraID, start, end, status string) {
	t.Helper()

	_, err := db.Exec(`INSERT INTO bookings (id, camera_id, date, start_time, end_time, status, title)
		VALUES ($1, $2, '2025-03-14', $3, $4, $5, 'integration')`,
		id, cameraID, start, end, status)
	if err != nil {
		t.Fatalf("insert %s: %v", id, err)
	}
}

func TestActiveBookingTieBreak(t *testing.T) {
	storage, db, cameraID := testStorage(t)
	ctx := context.Background()

	insertBooking(t, db, cameraID+"-b2", cameraID, "09:00:00", "10:00:00", constants.BookingStatusConfirmed)
	insertBooking(t, db, cameraID+"-b1", cameraID, "09:00:00", "10:00:00", constants.BookingStatusConfirmed)
	insertBooking(t, db, cameraID+"-b0", cameraID, "08:30:00", "10:00:00", constants.BookingStatusConfirmed)

	got, err := storage.ActiveBooking(ctx, cameraID, "2025-03-14", "09:30:00")
	if err != nil {
		t.Fatalf("ActiveBooking() unexpected error: %v", err)
	}

	// Earliest start wins over any id ordering.
	if got.ID != cameraID+"-b0" {
		t.Fatalf("ActiveBooking() = %q, want %q", got.ID, cameraID+"-b0")
	}

	if _, err := db.Exec("DELETE FROM bookings WHERE id = $1", cameraID+"-b0"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	got, err = storage.ActiveBooking(ctx, cameraID, "2025-03-14", "09:30:00")
	if err != nil {
		t.Fatalf("ActiveBooking() unexpected error: %v", err)
	}

	// Equal starts fall back to the lowest id.
	if got.ID != cameraID+"-b1" {
		t.Fatalf("ActiveBooking() = %q, want %q", got.ID, cameraID+"-b1")
	}
}

func TestActiveBookingWindowBoundaries(t *testing.T) {
	storage, db, cameraID := testStorage(t)
	ctx := context.Background()

	insertBooking(t, db, cameraID+"-b1", cameraID, "09:00:00", "10:00:00", constants.BookingStatusConfirmed)

	if _, err := storage.ActiveBooking(ctx, cameraID, "2025-03-14", "09:00:00"); err != nil {
		t.Fatalf("start boundary must be inclusive: %v", err)
	}

	_, err := storage.ActiveBooking(ctx, cameraID, "2025-03-14", "10:00:00")
	if !errors.Is(err, errs.ErrNoActiveBooking) {
		t.Fatalf("end boundary must be exclusive, got %v", err)
	}

	_, err = storage.ActiveBooking(ctx, cameraID, "2025-03-15", "09:30:00")
	if !errors.Is(err, errs.ErrNoActiveBooking) {
		t.Fatalf("other dates must not match, got %v", err)
	}
}

func TestActiveBookingFiltersStatus(t *testing.T) {
	storage, db, cameraID := testStorage(t)
	ctx := context.Background()

	insertBooking(t, db, cameraID+"-b1", cameraID, "09:00:00", "10:00:00", constants.BookingStatusCancelled)
	insertBooking(t, db, cameraID+"-b2", cameraID, "09:00:00", "10:00:00", constants.BookingStatusCompleted)

	_, err := storage.ActiveBooking(ctx, cameraID, "2025-03-14", "09:30:00")
	if !errors.Is(err, errs.ErrNoActiveBooking) {
		t.Fatalf("cancelled and completed must not resolve, got %v", err)
	}

	insertBooking(t, db, cameraID+"-b3", cameraID, "09:00:00", "10:00:00", constants.BookingStatusRecording)

	got, err := storage.ActiveBooking(ctx, cameraID, "2025-03-14", "09:30:00")
	if err != nil {
		t.Fatalf("ActiveBooking() unexpected error: %v", err)
	}
	if got.ID != cameraID+"-b3" {
		t.Fatalf("ActiveBooking() = %q, want the recording row", got.ID)
	}
}

func TestStatusTransitions(t *testing.T) {
	storage, db, cameraID := testStorage(t)
	ctx := context.Background()

	id := cameraID + "-b1"
	insertBooking(t, db, id, cameraID, "09:00:00", "10:00:00", constants.BookingStatusConfirmed)

	if err := storage.MarkRecording(ctx, id); err != nil {
		t.Fatalf("MarkRecording() unexpected error: %v", err)
	}

	got, err := storage.Booking(ctx, id)
	if err != nil {
		t.Fatalf("Booking() unexpected error: %v", err)
	}
	if got.Status != constants.BookingStatusRecording {
		t.Fatalf("status = %q, want %q", got.Status, constants.BookingStatusRecording)
	}
	if got.Date != "2025-03-14" || got.StartTime != "09:00:00" || got.EndTime != "10:00:00" {
		t.Fatalf("window came back as %s %s-%s", got.Date, got.StartTime, got.EndTime)
	}

	if err := storage.MarkCompleted(ctx, id); err != nil {
		t.Fatalf("MarkCompleted() unexpected error: %v", err)
	}

	if err := storage.MarkFailed(ctx, id, "upload retries exhausted"); err != nil {
		t.Fatalf("MarkFailed() unexpected error: %v", err)
	}

	var reason string
	if err := db.Get(&reason, "SELECT error_message FROM bookings WHERE id = $1", id); err != nil {
		t.Fatalf("read error_message: %v", err)
	}
	if reason != "upload retries exhausted" {
		t.Fatalf("error_message = %q", reason)
	}
}

func TestMarkMissingBooking(t *testing.T) {
	storage, _, cameraID := testStorage(t)
	ctx := context.Background()

	if err := storage.MarkRecording(ctx, cameraID+"-none"); !errors.Is(err, errs.ErrBookingNotFound) {
		t.Fatalf("MarkRecording on a missing row = %v, want ErrBookingNotFound", err)
	}

	if _, err := storage.Booking(ctx, cameraID+"-none"); !errors.Is(err, errs.ErrBookingNotFound) {
		t.Fatalf("Booking on a missing row = %v, want ErrBookingNotFound", err)
	}
}
