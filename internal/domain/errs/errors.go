package errs

import "errors"

var (
	ErrResourceBusy      = errors.New("camera is already recording")
	ErrAcquisitionFailed = errors.New("no capture tier produced a frame")
	ErrRecordingIO       = errors.New("capture process failed")

	ErrVerificationFailed = errors.New("recording file is missing or empty")

	ErrNoActiveBooking = errors.New("no active booking")
	ErrBookingNotFound = errors.New("booking not found")

	ErrRemoteUnavailable = errors.New("remote store unavailable")
	ErrUploadExhausted   = errors.New("upload retries exhausted")
)
