package models

import "time"

type UploadTask struct {
	FilePath      string    `json:"file_path"`
	BookingID     string    `json:"booking_id"`
	RetryCount    int       `json:"retry_count"`
	NextAttemptAt time.Time `json:"next_attempt_at"`
}
