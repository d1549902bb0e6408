package statusstorage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/zanzhit/pitch_recorder/internal/domain/errs"
	"github.com/zanzhit/pitch_recorder/internal/domain/models"
	"github.com/zanzhit/pitch_recorder/internal/storage/postgres"
)

type StatusStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *StatusStorage {
	return &StatusStorage{
		db: db,
	}
}

// Upsert replaces the single status row for the camera, so the table always
// holds the latest snapshot per device.
func (s *StatusStorage) Upsert(ctx context.Context, snap models.SystemStatusSnapshot) error {
	const op = "storage.postgres.status.Upsert"

	query := fmt.Sprintf(`
		INSERT INTO %s (camera_id, updated_at, is_recording, current_booking_id, session_state,
			camera_status, errors_count, total_recordings, successful_uploads, cpu_percent,
			memory_percent, disk_free_bytes, storage_used_bytes, temperature_c, ip_address, uptime_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (camera_id) DO UPDATE SET
			updated_at = EXCLUDED.updated_at,
			is_recording = EXCLUDED.is_recording,
			current_booking_id = EXCLUDED.current_booking_id,
			session_state = EXCLUDED.session_state,
			camera_status = EXCLUDED.camera_status,
			errors_count = EXCLUDED.errors_count,
			total_recordings = EXCLUDED.total_recordings,
			successful_uploads = EXCLUDED.successful_uploads,
			cpu_percent = EXCLUDED.cpu_percent,
			memory_percent = EXCLUDED.memory_percent,
			disk_free_bytes = EXCLUDED.disk_free_bytes,
			storage_used_bytes = EXCLUDED.storage_used_bytes,
			temperature_c = EXCLUDED.temperature_c,
			ip_address = EXCLUDED.ip_address,
			uptime_seconds = EXCLUDED.uptime_seconds`, postgres.SystemStatusTable)

	_, err := s.db.ExecContext(ctx, query,
		snap.CameraID, snap.Timestamp, snap.IsRecording, snap.CurrentBookingID, snap.SessionState,
		snap.CameraStatus, snap.ErrorsCount, snap.TotalRecordings, snap.SuccessfulUploads, snap.CPUPercent,
		snap.MemoryPercent, snap.DiskFreeBytes, snap.StorageUsedBytes, snap.TemperatureC, snap.IPAddress,
		snap.UptimeSeconds)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", op, errs.ErrRemoteUnavailable, err)
	}

	return nil
}
