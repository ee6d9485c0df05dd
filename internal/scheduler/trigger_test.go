package scheduler

import (
	"testing"
	"time"

	"github.com/fluviusmagnus/Seelenmaschine/pkg/apperr"
)

func TestParseOnce(t *testing.T) {
	now := int64(1_700_000_000)

	cases := []struct {
		spec string
		want int64
	}{
		{"1700000500", 1_700_000_500},
		{"in 30 seconds", now + 30},
		{"in 5 minutes", now + 300},
		{"in 2 hours", now + 7200},
		{"in 1 day", now + 86400},
	}
	for _, c := range cases {
		got, err := ParseOnce(c.spec, now, time.UTC)
		if err != nil {
			t.Errorf("ParseOnce(%q): %v", c.spec, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseOnce(%q) = %d, want %d", c.spec, got, c.want)
		}
	}
}

func TestParseOnceNamedRelatives(t *testing.T) {
	now := int64(1_700_000_000)

	tomorrow, err := ParseOnce("tomorrow", now, time.UTC)
	if err != nil {
		t.Fatalf("tomorrow: %v", err)
	}
	if tomorrow <= now || tomorrow > now+2*86400 {
		t.Fatalf("tomorrow out of range: %d", tomorrow)
	}

	nextWeek, err := ParseOnce("next week", now, time.UTC)
	if err != nil {
		t.Fatalf("next week: %v", err)
	}
	if nextWeek <= tomorrow || nextWeek > now+8*86400 {
		t.Fatalf("next week out of range: %d", nextWeek)
	}
}

func TestParseOnceISO(t *testing.T) {
	got, err := ParseOnce("2024-06-01T12:00:00Z", 0, time.UTC)
	if err != nil {
		t.Fatalf("ParseOnce RFC3339: %v", err)
	}
	want := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC).Unix()
	if got != want {
		t.Fatalf("got %d, want %d", got, want)
	}

	got, err = ParseOnce("2024-06-01 12:00", 0, time.UTC)
	if err != nil {
		t.Fatalf("ParseOnce zoneless: %v", err)
	}
	if got != want {
		t.Fatalf("zoneless got %d, want %d", got, want)
	}
}

func TestParseOnceBadInputs(t *testing.T) {
	for _, spec := range []string{"", "whenever", "in -3 minutes", "in five minutes", "in 3 fortnights", "0"} {
		if _, err := ParseOnce(spec, 1000, time.UTC); !apperr.Is(err, apperr.KindBadArgument) {
			t.Errorf("ParseOnce(%q): expected BadArgument, got %v", spec, err)
		}
	}
}

func TestParseInterval(t *testing.T) {
	cases := []struct {
		spec string
		want int64
	}{
		{"30s", 30},
		{"5m", 300},
		{"1h", 3600},
		{"1d", 86400},
		{"1w", 7 * 86400},
		{"45", 45},
	}
	for _, c := range cases {
		got, err := ParseInterval(c.spec)
		if err != nil {
			t.Errorf("ParseInterval(%q): %v", c.spec, err)
			continue
		}
		if got != c.want {
			t.Errorf("ParseInterval(%q) = %d, want %d", c.spec, got, c.want)
		}
	}
}

func TestParseIntervalBadInputs(t *testing.T) {
	for _, spec := range []string{"", "0", "-5", "0s", "5x", "h", "every hour"} {
		if _, err := ParseInterval(spec); !apperr.Is(err, apperr.KindBadArgument) {
			t.Errorf("ParseInterval(%q): expected BadArgument, got %v", spec, err)
		}
	}
}
