package models

type Booking struct {
	ID        string `json:"id" db:"id"`
	CameraID  string `json:"camera_id" db:"camera_id"`
	Date      string `json:"date" db:"date"`
	StartTime string `json:"start_time" db:"start_time"`
	EndTime   string `json:"end_time" db:"end_time"`
	Status    string `json:"status" db:"status"`
	Title     string `json:"title" db:"title"`
}
