package lease

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// formatTime renders a timestamp in the ISC-dhcpd weekday form, e.g.
// "6 2019/04/27 03:24:45" (weekday 0=Sun..6=Sat), per spec §4.1/§6.
// Save always canonicalizes to this form (§8 property 3).
func formatTime(t time.Time) string {
	u := t.UTC()
	return fmt.Sprintf("%d %04d/%02d/%02d %02d:%02d:%02d",
		int(u.Weekday()), u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second())
}

// parseTime accepts either the weekday form ("<wd> YYYY/MM/DD HH:MM:SS")
// or a bare epoch integer, per spec §4.1.
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
	// fields[0] is the weekday index; not needed to reconstruct the instant.
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

// escapeOctal renders a raw byte string as an ISC-style octal-escaped
// quoted string (used for the `uid` block key): '"' and '\' get a
// backslash prefix, other printable ASCII passes through, everything else
// becomes "\NNN".
func escapeOctal(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"' || c == '\\':
			b.WriteByte('\\')
			b.WriteByte(c)
		case c >= 0x20 && c < 0x7f:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "\\%03o", c)
		}
	}
	return b.String()
}

// unescapeOctal reverses escapeOctal.
func unescapeOctal(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] != '\\' || i+1 >= len(s) {
			b.WriteByte(s[i])
			continue
		}
		if i+3 < len(s) && isOctalDigit(s[i+1]) && isOctalDigit(s[i+2]) && isOctalDigit(s[i+3]) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i+1])
		i++
	}
	return b.String()
}

func isOctalDigit(c byte) bool { return c >= '0' && c <= '7' }
