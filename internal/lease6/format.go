package lease6

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// formatTime renders a timestamp in the ISC-dhcpd weekday form, per spec
// §4.2 "Time formatting writes the weekday form with the weekday index
// 0..6 (Sun=0)."
func formatTime(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%d %04d/%02d/%02d %02d:%02d:%02d",
		int(u.Weekday()), u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second())
}

// parseTime accepts either the weekday form or a bare epoch integer, per
// spec §4.2.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(epoch, 0).UTC(), nil
	}
	fields := strings.Fields(s)
	if len(fields) != 3 {
		return time.Time{}, fmt.Errorf("malformed timestamp %q", s)
	}
	dateParts := strings.Split(fields[1], "/")
	timeParts := strings.Split(fields[2], ":")
	if len(dateParts) != 3 || len(timeParts) != 3 {
		return time.Time{}, fmt.Errorf("malformed timestamp %q", s)
	}
	year, err := strconv.Atoi(dateParts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed year in %q: %w", s, err)
	}
	month, err := strconv.Atoi(dateParts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed month in %q: %w", s, err)
	}
	day, err := strconv.Atoi(dateParts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed day in %q: %w", s, err)
	}
	hour, err := strconv.Atoi(timeParts[0])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed hour in %q: %w", s, err)
	}
	minute, err := strconv.Atoi(timeParts[1])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed minute in %q: %w", s, err)
	}
	second, err := strconv.Atoi(timeParts[2])
	if err != nil {
		return time.Time{}, fmt.Errorf("malformed second in %q: %w", s, err)
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), nil
}
