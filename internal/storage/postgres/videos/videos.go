package videostorage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/zanzhit/pitch_recorder/internal/domain/errs"
	"github.com/zanzhit/pitch_recorder/internal/domain/models"
	"github.com/zanzhit/pitch_recorder/internal/storage/postgres"
)

type VideoStorage struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *VideoStorage {
	return &VideoStorage{
		db: db,
	}
}

// Save inserts the uploaded video metadata. Re-running an upload for the same
// filename is a no-op, so retries after a partial failure stay safe.
func (s *VideoStorage) Save(ctx context.Context, video models.Video) error {
	const op = "storage.postgres.videos.Save"

	query := fmt.Sprintf(`
		INSERT INTO %s (id, booking_id, camera_id, filename, storage_path, file_size, uploaded_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (filename) DO NOTHING`, postgres.VideosTable)

	_, err := s.db.ExecContext(ctx, query,
		video.ID, video.BookingID, video.CameraID, video.Filename,
		video.StoragePath, video.FileSize, video.UploadedAt, video.Status)
	if err != nil {
		return fmt.Errorf("%s: %w: %s", op, errs.ErrRemoteUnavailable, err)
	}

	return nil
}
