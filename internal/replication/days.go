package replication

import (
	"context"
	"fmt"
	"time"

	"github.com/ehr/labshadow/internal/platform/clock"
)

// DateLayout is the day format accepted on the command line and used in logs.
const DateLayout = "2006-01-02"

// maxRangeDays caps a single backfill, repair or respread invocation.
const maxRangeDays = 366

// ParseDay parses a YYYY-MM-DD day as UTC midnight.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// DayRange lists every day from from to to inclusive.
func DayRange(from, to time.Time) ([]time.Time, error) {
	from, to = clock.Day(from), clock.Day(to)
	if to.Before(from) {
		return nil, fmt.Errorf("range end %s is before start %s", to.Format(DateLayout), from.Format(DateLayout))
	}
	var days []time.Time
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
		if len(days) > maxRangeDays {
			return nil, fmt.Errorf("range %s..%s exceeds %d days", from.Format(DateLayout), to.Format(DateLayout), maxRangeDays)
		}
	}
	return days, nil
}

type runIDKey struct{}

func withRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func runIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}
