package bookingstorage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/zanzhit/pitch_recorder/internal/domain/constants"
	"github.com/zanzhit/pitch_recorder/internal/domain/errs"
	"github.com/zanzhit/pitch_recorder/internal/domain/models"
	"github.com/zanzhit/pitch_recorder/internal/storage/postgres"
)

type BookingStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *BookingStorage {
	return &BookingStorage{
		db: db,
	}
}

// ActiveBooking returns the booking whose window contains clock on the given
// date. Ties are broken by earliest start_time, then lowest id, so every call
// with the same table state resolves to the same row.
func (s *BookingStorage) ActiveBooking(ctx context.Context, cameraID, date, clock string) (models.Booking, error) {
	const op = "storage.postgres.bookings.ActiveBooking"

	query := fmt.Sprintf(`
		SELECT id, camera_id, to_char(date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI:SS'),
			to_char(end_time, 'HH24:MI:SS'), status, COALESCE(title, '')
		FROM %s
		WHERE camera_id = $1 AND date = $2 AND start_time <= $3 AND end_time > $3 AND status IN ($4, $5)
		ORDER BY start_time, id
		LIMIT 1`, postgres.BookingsTable)

	var b models.Booking

	row := s.db.QueryRowContext(ctx, query, cameraID, date, clock,
		constants.BookingStatusConfirmed, constants.BookingStatusRecording)
	if err := row.Scan(&b.ID, &b.CameraID, &b.Date, &b.StartTime, &b.EndTime, &b.Status, &b.Title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Booking{}, fmt.Errorf("%s: %w", op, errs.ErrNoActiveBooking)
		}
		return models.Booking{}, fmt.Errorf("%s: %w: %s", op, errs.ErrRemoteUnavailable, err)
	}

	return b, nil
}

func (s *BookingStorage) Booking(ctx context.Context, bookingID string) (models.Booking, error) {
	const op = "storage.postgres.bookings.Booking"

	query := fmt.Sprintf(`
		SELECT id, camera_id, to_char(date, 'YYYY-MM-DD'), to_char(start_time, 'HH24:MI:SS'),
			to_char(end_time, 'HH24:MI:SS'), status, COALESCE(title, '')
		FROM %s
		WHERE id = $1`, postgres.BookingsTable)

	var b models.Booking

	row := s.db.QueryRowContext(ctx, query, bookingID)
	if err := row.Scan(&b.ID, &b.CameraID, &b.Date, &b.StartTime, &b.EndTime, &b.Status, &b.Title); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Booking{}, fmt.Errorf("%s: %w", op, errs.ErrBookingNotFound)
		}
		return models.Booking{}, fmt.Errorf("%s: %w: %s", op, errs.ErrRemoteUnavailable, err)
	}

	return b, nil
}

func (s *BookingStorage) MarkRecording(ctx context.Context, bookingID string) error {
	return s.setStatus(ctx, "storage.postgres.bookings.MarkRecording", bookingID, constants.BookingStatusRecording)
}

func (s *BookingStorage) MarkCompleted(ctx context.Context, bookingID string) error {
	return s.setStatus(ctx, "storage.postgres.bookings.MarkCompleted", bookingID, constants.BookingStatusCompleted)
}

func (s *BookingStorage) MarkFailed(ctx context.Context, bookingID, reason string) error {
	const op = "storage.postgres.bookings.MarkFailed"

	query := fmt.Sprintf(`UPDATE %s SET status = $1, error_message = $2 WHERE id = $3`, postgres.BookingsTable)

	result, err := s.db.ExecContext(ctx, query, constants.BookingStatusFailed, reason, bookingID)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", op, errs.ErrRemoteUnavailable, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrBookingNotFound)
	}

	return nil
}

func (s *BookingStorage) setStatus(ctx context.Context, op, bookingID, status string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = $1 WHERE id = $2`, postgres.BookingsTable)

	result, err := s.db.ExecContext(ctx, query, status, bookingID)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", op, errs.ErrRemoteUnavailable, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", op, errs.ErrBookingNotFound)
	}

	return nil
}
