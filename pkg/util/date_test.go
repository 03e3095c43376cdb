package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeRoundTrip(t *testing.T) {
	// seven fractional digits, as written by round-trip ISO-8601 formatters
	got, ok := ParseTime("2024-03-15T14:30:00.1234567Z")
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Nanosecond() != 123456700 {
		t.Fatalf("unexpected nanos %d", got.Nanosecond())
	}
}

func TestParseTimeUnix(t *testing.T) {
	ts := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).Unix()
	got, ok := ParseTime(strconv.FormatInt(ts, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.Unix() != ts {
		t.Fatalf("unexpected unix %v", got.Unix())
	}

	got, ok = ParseTime(strconv.FormatInt(ts*1000+250, 10))
	if !ok || got.UnixMilli() != ts*1000+250 {
		t.Fatalf("unexpected millis %v", got)
	}
}

func TestParseTimeRejectsGarbage(t *testing.T) {
	if _, ok := ParseTime("yesterday"); ok {
		t.Fatalf("expected failure")
	}
}

func TestParseClock(t *testing.T) {
	m, err := ParseClock("15:45")
	if err != nil || m != 945 {
		t.Fatalf("got %d, %v", m, err)
	}
	if _, err := ParseClock("25:00"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestSessionDate(t *testing.T) {
	ny := time.FixedZone("EST", -5*3600)
	ts := time.Date(2024, 1, 3, 2, 0, 0, 0, time.UTC) // 21:00 previous day in EST
	if got := SessionDate(ts, ny); got != "2024-01-02" {
		t.Fatalf("unexpected date %s", got)
	}
	if got := MinuteOfDay(ts, ny); got != 21*60 {
		t.Fatalf("unexpected minute %d", got)
	}
}
