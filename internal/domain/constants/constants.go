package constants

const (
	BookingStatusConfirmed = "confirmed"
	BookingStatusRecording = "recording"
	BookingStatusCompleted = "completed"
	BookingStatusFailed    = "failed"
	BookingStatusCancelled = "cancelled"
)

const (
	VideoStatusUploaded = "uploaded"
)

const (
	CameraStatusOK          = "ok"
	CameraStatusRecording   = "recording"
	CameraStatusUnavailable = "unavailable"
)
