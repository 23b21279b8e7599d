package timeparser

import (
	"fmt"
	"strconv"
	"time"
)

// ParseReadingTimestamp attempts to parse a station reading timestamp.
// Stations report either epoch seconds or one of a few date layouts.
func ParseReadingTimestamp(dateStr string) (time.Time, error) {
	if epoch, err := strconv.ParseInt(dateStr, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}

	formats := []string{
		time.RFC3339,          // Standard RFC3339
		"02/01/2006 15:04:05", // DD/MM/YYYY HH:mm:ss
		"2006-01-02 15:04:05",
	}

	var lastErr error
	for _, format := range formats {
		t, err := time.Parse(format, dateStr)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}

	return time.Time{}, fmt.Errorf("failed to parse timestamp '%s': %w", dateStr, lastErr)
}

// IsWithinTolerance checks if the reading timestamp is within tolerance of received time
func IsWithinTolerance(readingTime, receivedTime time.Time, toleranceMinutes int) bool {
	diff := readingTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
