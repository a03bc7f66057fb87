package clock

import (
	"math/rand"
	"sync"
	"time"
)

// Clock allows injecting time into the pipeline.
type Clock interface {
	Now() time.Time
}

// Random supplies the jitter used for ceilings and time-spreading.
type Random interface {
	// Between returns a value in the closed range [lo, hi].
	Between(lo, hi int) int
}

type systemClock struct {
	loc *time.Location
}

// NewSystem returns a clock backed by time.Now in the given location.
// A nil location means UTC.
func NewSystem(loc *time.Location) Clock {
	if loc == nil {
		loc = time.UTC
	}
	return systemClock{loc: loc}
}

func (c systemClock) Now() time.Time {
	return time.Now().In(c.loc)
}

type fixedClock struct {
	now time.Time
}

// NewFixed returns a clock that always returns the same instant (useful for tests).
func NewFixed(t time.Time) Clock {
	return fixedClock{now: t}
}

func (f fixedClock) Now() time.Time {
	return f.now
}

type systemRandom struct{}

// NewRandom returns a Random backed by math/rand.
func NewRandom() Random {
	return systemRandom{}
}

func (systemRandom) Between(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.Intn(hi-lo+1)
}

// Sequence replays a fixed list of values, clamped into the requested range.
// When the list is exhausted it starts over.
type Sequence struct {
	mu     sync.Mutex
	values []int
	next   int
}

// NewSequence returns a Random that yields values in order.
func NewSequence(values ...int) *Sequence {
	return &Sequence{values: values}
}

func (s *Sequence) Between(lo, hi int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) == 0 {
		return lo
	}
	v := s.values[s.next%len(s.values)]
	s.next++
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Low always returns the lower bound.
type Low struct{}

func (Low) Between(lo, _ int) int { return lo }

// High always returns the upper bound.
type High struct{}

func (High) Between(_, hi int) int { return hi }

// Day truncates t to midnight of its calendar day, expressed in UTC wall-clock.
// Shadow and source timestamps are stored without a zone, so a day is always
// represented by its UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
