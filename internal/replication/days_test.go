package replication

import (
	"testing"
	"time"
)

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-02-29")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Equal(time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected day %s", d)
	}

	for _, bad := range []string{"", "2024-13-01", "29/02/2024", "2023-02-29"} {
		if _, err := ParseDay(bad); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestDayRange(t *testing.T) {
	from := time.Date(2024, 2, 27, 15, 0, 0, 0, time.UTC)
	to := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)

	days, err := DayRange(from, to)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"2024-02-27", "2024-02-28", "2024-02-29", "2024-03-01"}
	if len(days) != len(want) {
		t.Fatalf("expected %d days, got %d", len(want), len(days))
	}
	for i, d := range days {
		if d.Format(DateLayout) != want[i] || d.Hour() != 0 {
			t.Errorf("day %d: expected %s midnight, got %s", i, want[i], d)
		}
	}

	single, err := DayRange(from, from)
	if err != nil || len(single) != 1 {
		t.Errorf("expected a single day, got %v (%v)", single, err)
	}

	if _, err := DayRange(to, from); err == nil {
		t.Error("expected error for inverted range")
	}
	if _, err := DayRange(from, from.AddDate(2, 0, 0)); err == nil {
		t.Error("expected error for an oversized range")
	}
}
