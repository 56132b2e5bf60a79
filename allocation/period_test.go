package allocation_test

import (
	"errors"
	"testing"
	"time"

	"github.com/maddie-houseman/TVOTapp-sub001/allocation"
)

func TestParsePeriod(t *testing.T) {
	p, err := allocation.ParsePeriod("2026-01")
	if err != nil {
		t.Fatalf("ParsePeriod: %v", err)
	}
	if p.Year != 2026 || p.Month != time.January {
		t.Errorf("expected 2026-01, got %s", p)
	}

	for _, bad := range []string{"", "2026", "2026-13", "2026-00", "jan-2026", "2026-1-1"} {
		if _, err := allocation.ParsePeriod(bad); !errors.Is(err, allocation.ErrInvalidPeriod) {
			t.Errorf("ParsePeriod(%q): expected ErrInvalidPeriod, got %v", bad, err)
		}
	}
}

func TestPeriodRoundTrip(t *testing.T) {
	p := allocation.NewPeriod(2026, time.March)
	parsed, err := allocation.ParsePeriod(p.String())
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if parsed != p {
		t.Errorf("round trip mismatch: %s vs %s", parsed, p)
	}
}

func TestNewPeriodNormalizes(t *testing.T) {
	// Month 13 of 2025 is January 2026.
	p := allocation.NewPeriod(2025, 13)
	if p.Year != 2026 || p.Month != time.January {
		t.Errorf("expected 2026-01, got %s", p)
	}

	p = allocation.NewPeriod(2026, 0)
	if p.Year != 2025 || p.Month != time.December {
		t.Errorf("expected 2025-12, got %s", p)
	}
}

func TestPeriodBounds(t *testing.T) {
	p := allocation.NewPeriod(2026, time.February)

	start := p.Start()
	if !start.Equal(time.Date(2026, time.February, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected start: %s", start)
	}

	end := p.End()
	if !end.Equal(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond)) {
		t.Errorf("unexpected end: %s", end)
	}

	if !p.Contains(end) {
		t.Error("expected last instant of February to be contained")
	}
	if p.Contains(p.Next().Start()) {
		t.Error("first instant of March must not be contained")
	}
}

func TestPeriodNext(t *testing.T) {
	p := allocation.NewPeriod(2026, time.December)
	next := p.Next()
	if next.Year != 2027 || next.Month != time.January {
		t.Errorf("expected 2027-01, got %s", next)
	}
}

func TestPeriodOf(t *testing.T) {
	p := allocation.PeriodOf(time.Date(2026, time.July, 15, 10, 30, 0, 0, time.UTC))
	if p.Year != 2026 || p.Month != time.July {
		t.Errorf("expected 2026-07, got %s", p)
	}
}
