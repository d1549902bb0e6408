package recname

import (
	"fmt"
	"strings"
	"time"
)

const (
	prefix    = "rec"
	extension = ".mp4"
)

// Build returns the canonical recording filename for a booking,
// rec_<bookingID>_<YYYYMMDD>_<HHMMSS>.mp4. Booking IDs must not
// contain underscores or the name cannot be parsed back.
func Build(bookingID string, t time.Time) string {
	return fmt.Sprintf("%s_%s_%s%s", prefix, bookingID, t.Format("20060102_150405"), extension)
}

// ParseBookingID extracts the booking ID from a filename produced by Build.
func ParseBookingID(filename string) (string, error) {
	parts, err := split(filename)
	if err != nil {
		return "", err
	}

	return parts[1], nil
}

// ParseStamp extracts the recording start stamp from a filename produced by
// Build. The stamp carries no timezone.
func ParseStamp(filename string) (time.Time, error) {
	parts, err := split(filename)
	if err != nil {
		return time.Time{}, err
	}

	stamp, err := time.Parse("20060102_150405", parts[2]+"_"+parts[3])
	if err != nil {
		return time.Time{}, fmt.Errorf("unexpected stamp in recording name %s: %w", filename, err)
	}

	return stamp, nil
}

func split(filename string) ([]string, error) {
	name := strings.TrimSuffix(filename, extension)
	if name == filename {
		return nil, fmt.Errorf("not a recording file: %s", filename)
	}

	parts := strings.Split(name, "_")
	if len(parts) != 4 || parts[0] != prefix {
		return nil, fmt.Errorf("unexpected recording name format: %s", filename)
	}

	if parts[1] == "" {
		return nil, fmt.Errorf("empty booking id in recording name: %s", filename)
	}

	return parts, nil
}
