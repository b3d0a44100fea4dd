package lease

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTimeWeekdayForm(t *testing.T) {
	got, err := parseTime("6 2019/04/27 03:24:45")
	require.NoError(t, err)
	want := time.Date(2019, 4, 27, 3, 24, 45, 0, time.UTC)
	require.True(t, got.Equal(want))
}

func TestParseTimeEpochForm(t *testing.T) {
	got, err := parseTime("1700000000")
	require.NoError(t, err)
	require.Equal(t, int64(1700000000), got.Unix())
}

func TestFormatTimeRoundTrip(t *testing.T) {
	in := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	s := formatTime(in)
	got, err := parseTime(s)
	require.NoError(t, err)
	require.True(t, got.Equal(in))
}

func TestEscapeUnescapeOctalRoundTrip(t *testing.T) {
	raw := string([]byte{0x01, 0x00, 0xd3, 0x70, 0xc3, 0x11, 0xd7})
	esc := escapeOctal(raw)
	require.Equal(t, raw, unescapeOctal(esc))
}

func TestParseTimeMalformed(t *testing.T) {
	_, err := parseTime("not a time")
	require.Error(t, err)
}
