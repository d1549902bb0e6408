package models

import "time"

type Video struct {
	ID          string    `json:"id" db:"id"`
	BookingID   string    `json:"booking_id" db:"booking_id"`
	CameraID    string    `json:"camera_id" db:"camera_id"`
	Filename    string    `json:"filename" db:"filename"`
	StoragePath string    `json:"storage_path" db:"storage_path"`
	FileSize    int64     `json:"file_size" db:"file_size"`
	UploadedAt  time.Time `json:"uploaded_at" db:"uploaded_at"`
	Status      string    `json:"status" db:"status"`
}
