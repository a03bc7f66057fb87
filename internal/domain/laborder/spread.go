package laborder

import (
	"fmt"
	"time"

	"github.com/ehr/labshadow/internal/platform/clock"
)

// Jitter bounds, in minutes, applied to the business-hours window.
const (
	StartJitterMin = 3
	StartJitterMax = 12
	EndJitterMin   = 45
	EndJitterMax   = 57
)

// BusinessHours is the [Start, End) hour range orders are spread across.
type BusinessHours struct {
	Start int
	End   int
}

func (h BusinessHours) Validate() error {
	if h.Start < 0 || h.End > 24 || h.Start >= h.End {
		return fmt.Errorf("business hours %d-%d: %w", h.Start, h.End, ErrInvalidWindow)
	}
	return nil
}

// Window returns the jittered spread window of day:
// start = Start h + [3,12] min, end = (End-1) h + [45,57] min.
func Window(day time.Time, hours BusinessHours, rnd clock.Random) (time.Time, time.Time) {
	midnight := clock.Day(day)
	start := midnight.Add(time.Duration(hours.Start)*time.Hour +
		time.Duration(rnd.Between(StartJitterMin, StartJitterMax))*time.Minute)
	end := midnight.Add(time.Duration(hours.End-1)*time.Hour +
		time.Duration(rnd.Between(EndJitterMin, EndJitterMax))*time.Minute)
	return start, end
}

// Spread rewrites the order times of ctxs so that the i-th order lands at
// start + i*(end-start)/n, keeping the sequence order.
func Spread(ctxs []*Context, start, end time.Time) error {
	if len(ctxs) == 0 {
		return ErrEmptyBatch
	}
	if !end.After(start) {
		return fmt.Errorf("%s..%s: %w", start.Format(time.RFC3339), end.Format(time.RFC3339), ErrInvalidWindow)
	}
	interval := end.Sub(start) / time.Duration(len(ctxs))
	for i, c := range ctxs {
		c.Order.OrderDateTime = start.Add(time.Duration(i) * interval)
	}
	return nil
}
