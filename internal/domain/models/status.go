package models

import "time"

type SystemStatusSnapshot struct {
	CameraID          string    `json:"camera_id" db:"camera_id"`
	Timestamp         time.Time `json:"timestamp" db:"updated_at"`
	IsRecording       bool      `json:"is_recording" db:"is_recording"`
	CurrentBookingID  string    `json:"current_booking_id" db:"current_booking_id"`
	SessionState      string    `json:"session_state" db:"session_state"`
	CameraStatus      string    `json:"camera_status" db:"camera_status"`
	ErrorsCount       int       `json:"errors_count" db:"errors_count"`
	TotalRecordings   int       `json:"total_recordings" db:"total_recordings"`
	SuccessfulUploads int       `json:"successful_uploads" db:"successful_uploads"`
	CPUPercent        float64   `json:"cpu_percent" db:"cpu_percent"`
	MemoryPercent     float64   `json:"memory_percent" db:"memory_percent"`
	DiskFreeBytes     int64     `json:"disk_free_bytes" db:"disk_free_bytes"`
	StorageUsedBytes  int64     `json:"storage_used_bytes" db:"storage_used_bytes"`
	TemperatureC      *float64  `json:"temperature_c" db:"temperature_c"`
	IPAddress         string    `json:"ip_address" db:"ip_address"`
	UptimeSeconds     int64     `json:"uptime_seconds" db:"uptime_seconds"`
}
