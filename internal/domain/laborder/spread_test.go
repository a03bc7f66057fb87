package laborder

import (
	"errors"
	"testing"
	"time"

	"github.com/ehr/labshadow/internal/platform/clock"
)

func batch(n int) []*Context {
	out := make([]*Context, n)
	for i := range out {
		out[i] = &Context{Order: &Order{InvoiceID: int64(i + 1)}}
	}
	return out
}

func TestWindow_Bounds(t *testing.T) {
	hours := BusinessHours{Start: 8, End: 22}

	start, end := Window(day, hours, clock.Low{})
	if want := day.Add(8*time.Hour + 3*time.Minute); !start.Equal(want) {
		t.Errorf("low start: expected %s, got %s", want, start)
	}
	if want := day.Add(21*time.Hour + 45*time.Minute); !end.Equal(want) {
		t.Errorf("low end: expected %s, got %s", want, end)
	}

	start, end = Window(day, hours, clock.High{})
	if want := day.Add(8*time.Hour + 12*time.Minute); !start.Equal(want) {
		t.Errorf("high start: expected %s, got %s", want, start)
	}
	if want := day.Add(21*time.Hour + 57*time.Minute); !end.Equal(want) {
		t.Errorf("high end: expected %s, got %s", want, end)
	}
}

func TestWindow_NormalizesDay(t *testing.T) {
	afternoon := day.Add(15*time.Hour + 30*time.Minute)
	start, _ := Window(afternoon, BusinessHours{Start: 8, End: 22}, clock.Low{})
	if want := day.Add(8*time.Hour + 3*time.Minute); !start.Equal(want) {
		t.Errorf("expected %s, got %s", want, start)
	}
}

func TestSpread_StrictlyIncreasingWithinWindow(t *testing.T) {
	hours := BusinessHours{Start: 8, End: 22}
	rnd := clock.NewSequence(7, 50, 3, 57, 12, 45)
	lo := day.Add(8*time.Hour + StartJitterMin*time.Minute)
	hi := day.Add(21*time.Hour + EndJitterMax*time.Minute)

	for _, n := range []int{1, 2, 3, 17, 250} {
		ctxs := batch(n)
		start, end := Window(day, hours, rnd)
		if err := Spread(ctxs, start, end); err != nil {
			t.Fatalf("n=%d: unexpected error: %v", n, err)
		}

		if !ctxs[0].Order.OrderDateTime.Equal(start) {
			t.Errorf("n=%d: first order expected at window start", n)
		}
		for i, c := range ctxs {
			at := c.Order.OrderDateTime
			if at.Before(lo) || at.After(hi) {
				t.Errorf("n=%d: order %d at %s outside [%s, %s]", n, i, at, lo, hi)
			}
			if i > 0 && !at.After(ctxs[i-1].Order.OrderDateTime) {
				t.Errorf("n=%d: order %d not after order %d", n, i, i-1)
			}
			if !at.Before(end) {
				t.Errorf("n=%d: order %d not before window end", n, i)
			}
		}
	}
}

func TestSpread_EvenInterval(t *testing.T) {
	start := day.Add(9 * time.Hour)
	end := day.Add(13 * time.Hour)
	ctxs := batch(4)

	if err := Spread(ctxs, start, end); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range ctxs {
		want := start.Add(time.Duration(i) * time.Hour)
		if !c.Order.OrderDateTime.Equal(want) {
			t.Errorf("order %d: expected %s, got %s", i, want, c.Order.OrderDateTime)
		}
	}
}

func TestSpread_Restartable(t *testing.T) {
	start := day.Add(9 * time.Hour)
	end := day.Add(17 * time.Hour)
	ctxs := batch(5)

	_ = Spread(ctxs, start, end)
	first := make([]time.Time, len(ctxs))
	for i, c := range ctxs {
		first[i] = c.Order.OrderDateTime
	}
	_ = Spread(ctxs, start, end)
	for i, c := range ctxs {
		if !c.Order.OrderDateTime.Equal(first[i]) {
			t.Errorf("order %d moved on second spread", i)
		}
	}
}

func TestSpread_Errors(t *testing.T) {
	start := day.Add(9 * time.Hour)

	if err := Spread(nil, start, start.Add(time.Hour)); !errors.Is(err, ErrEmptyBatch) {
		t.Errorf("expected ErrEmptyBatch, got %v", err)
	}
	if err := Spread(batch(2), start, start); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow for empty window, got %v", err)
	}
	if err := Spread(batch(2), start, start.Add(-time.Minute)); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("expected ErrInvalidWindow for inverted window, got %v", err)
	}
}

func TestBusinessHours_Validate(t *testing.T) {
	tests := []struct {
		hours   BusinessHours
		wantErr bool
	}{
		{BusinessHours{8, 22}, false},
		{BusinessHours{0, 24}, false},
		{BusinessHours{8, 9}, false},
		{BusinessHours{8, 8}, true},
		{BusinessHours{8, 10}, false},
		{BusinessHours{22, 8}, true},
		{BusinessHours{-1, 10}, true},
		{BusinessHours{8, 25}, true},
	}
	for _, tt := range tests {
		err := tt.hours.Validate()
		if tt.wantErr != (err != nil) {
			t.Errorf("%+v: wantErr=%v, got %v", tt.hours, tt.wantErr, err)
		}
	}
}
