package replication

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/labshadow/internal/config"
	"github.com/ehr/labshadow/internal/domain/laborder"
	"github.com/ehr/labshadow/internal/domain/workshift"
	"github.com/ehr/labshadow/internal/platform/clock"
	"github.com/ehr/labshadow/internal/platform/lock"
)

// DayReport summarizes one day of one run mode.
type DayReport struct {
	RunID    string      `json:"run_id"`
	Day      time.Time   `json:"day"`
	Ceiling  string      `json:"ceiling,omitempty"`
	Purged   PurgeResult `json:"purged"`
	Scanned  int         `json:"scanned"`
	Inserted int         `json:"inserted"`
	Skipped  int         `json:"skipped"`
	Shifts   int         `json:"shifts"`
	Updated  int         `json:"updated,omitempty"`
}

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Scanner *laborder.Scanner
	Shadow  laborder.ShadowRepository
	Shifts  workshift.Repository
	Locker  lock.Locker
	LockKey string
	Clock   clock.Clock
	Random  clock.Random
}

// Orchestrator drives the run modes: backfill, single day, tail, shift
// repair and re-spreading.
type Orchestrator struct {
	scanner *laborder.Scanner
	shadow  laborder.ShadowRepository
	writer  *Writer
	purger  *Purger
	shifts  *workshift.Manager
	locker  lock.Locker
	lockKey string
	clock   clock.Clock
	random  clock.Random
	cfg     config.Pipeline
	logger  zerolog.Logger

	// maxIterations bounds Tail; zero runs until the context is cancelled.
	maxIterations int

	mu       sync.Mutex
	lastTail *DayReport
}

func New(deps Deps, cfg config.Pipeline, logger zerolog.Logger) *Orchestrator {
	locker := deps.Locker
	if locker == nil {
		locker = lock.NewNoop()
	}
	return &Orchestrator{
		scanner: deps.Scanner,
		shadow:  deps.Shadow,
		writer:  NewWriter(deps.Shadow, logger),
		purger:  NewPurger(deps.Shadow, deps.Shifts, logger),
		shifts:  workshift.NewManager(deps.Shifts, deps.Clock, logger),
		locker:  locker,
		lockKey: deps.LockKey,
		clock:   deps.Clock,
		random:  deps.Random,
		cfg:     cfg,
		logger:  logger.With().Str("component", "orchestrator").Logger(),
	}
}

func (o *Orchestrator) hours() laborder.BusinessHours {
	return laborder.BusinessHours{Start: o.cfg.BusinessHoursStart, End: o.cfg.BusinessHoursEnd}
}

// Ceiling draws the net-payable ceiling for one day: barrier ± jitter.
func (o *Orchestrator) Ceiling() decimal.Decimal {
	j := int(o.cfg.BarrierJitter)
	return o.cfg.Barrier.Add(decimal.NewFromInt(int64(o.random.Between(-j, j))))
}

// withLock runs fn while holding the run lock.
func (o *Orchestrator) withLock(ctx context.Context, mode string, fn func(ctx context.Context, log zerolog.Logger, lease lock.Lease) error) error {
	runID := uuid.NewString()
	log := o.logger.With().Str("run_id", runID).Str("mode", mode).Logger()
	ctx = withRunID(ctx, runID)

	lease, err := o.locker.Obtain(ctx, o.lockKey)
	if err != nil {
		return fmt.Errorf("obtain run lock %q: %w", o.lockKey, err)
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			log.Warn().Err(err).Msg("release run lock")
		}
	}()

	log.Info().Msg("run started")
	err = fn(ctx, log, lease)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("run failed")
		return err
	}
	log.Info().Msg("run finished")
	return err
}

// Backfill replicates every day in [from, to], purging each first. It stops
// at the first failed day; reports of completed days are still returned.
func (o *Orchestrator) Backfill(ctx context.Context, from, to time.Time) ([]DayReport, error) {
	days, err := DayRange(from, to)
	if err != nil {
		return nil, err
	}

	var reports []DayReport
	err = o.withLock(ctx, "backfill", func(ctx context.Context, log zerolog.Logger, _ lock.Lease) error {
		for _, day := range days {
			rep, err := o.runDay(ctx, log, day, true)
			if err != nil {
				return fmt.Errorf("day %s: %w", day.Format(DateLayout), err)
			}
			reports = append(reports, rep)
		}
		return nil
	})
	return reports, err
}

// RunDay is one backfill iteration for day; purging is optional.
func (o *Orchestrator) RunDay(ctx context.Context, day time.Time, purge bool) (DayReport, error) {
	var rep DayReport
	err := o.withLock(ctx, "run", func(ctx context.Context, log zerolog.Logger, _ lock.Lease) error {
		var err error
		rep, err = o.runDay(ctx, log, clock.Day(day), purge)
		return err
	})
	return rep, err
}

// PurgeDay removes every shadow order and shift of day under the run lock.
func (o *Orchestrator) PurgeDay(ctx context.Context, day time.Time) (PurgeResult, error) {
	var res PurgeResult
	err := o.withLock(ctx, "purge", func(ctx context.Context, _ zerolog.Logger, _ lock.Lease) error {
		var err error
		res, err = o.purger.Purge(ctx, clock.Day(day))
		return err
	})
	return res, err
}

func (o *Orchestrator) runDay(ctx context.Context, log zerolog.Logger, day time.Time, purge bool) (DayReport, error) {
	rep := DayReport{RunID: runIDFrom(ctx), Day: day}
	log = log.With().Str("day", day.Format(DateLayout)).Logger()

	if purge {
		res, err := o.purger.Purge(ctx, day)
		if err != nil {
			return rep, err
		}
		rep.Purged = res
	}

	ceiling := o.Ceiling()
	rep.Ceiling = ceiling.String()
	batch, err := o.scanner.Scan(ctx, day, laborder.ScanOptions{MaxNet: &ceiling})
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(batch)

	start, end := laborder.Window(day, o.hours(), o.random)
	if err := laborder.Spread(batch, start, end); err != nil {
		if errors.Is(err, laborder.ErrEmptyBatch) {
			log.Info().Str("ceiling", rep.Ceiling).Msg("nothing to replicate")
			return rep, nil
		}
		return rep, err
	}

	// Shifts are resolved before any order is written so each order carries
	// its shift reference at insert time.
	shiftOf := make(map[int64]int64)
	for _, c := range batch {
		user := c.Order.OrderingUserID
		if user == nil {
			continue
		}
		if _, ok := shiftOf[*user]; ok {
			continue
		}
		id, err := o.shifts.Ensure(ctx, *user, day)
		if err != nil {
			return rep, err
		}
		shiftOf[*user] = id
	}

	touched := make(map[int64]struct{})
	for _, c := range batch {
		var shiftID *int64
		if user := c.Order.OrderingUserID; user != nil {
			id := shiftOf[*user]
			shiftID = &id
		}
		if err := o.replicate(ctx, log, c, shiftID, &rep); err != nil {
			return rep, err
		}
		if shiftID != nil {
			touched[*shiftID] = struct{}{}
		}
	}

	if err := o.reconcile(ctx, touched); err != nil {
		return rep, err
	}
	rep.Shifts = len(touched)

	log.Info().
		Str("ceiling", rep.Ceiling).
		Int("scanned", rep.Scanned).
		Int("inserted", rep.Inserted).
		Int("skipped", rep.Skipped).
		Int("shifts", rep.Shifts).
		Msg("day replicated")
	return rep, nil
}

func (o *Orchestrator) replicate(ctx context.Context, log zerolog.Logger, c *laborder.Context, shiftID *int64, rep *DayReport) error {
	outcome, err := o.writer.Replicate(ctx, c, shiftID)
	if err != nil {
		return err
	}
	switch outcome {
	case OutcomeInserted:
		rep.Inserted++
	case OutcomeAlreadyPresent:
		rep.Skipped++
		log.Info().Int64("source_id", c.Order.InvoiceID).Msg("already replicated, skipped")
	}
	return nil
}

func (o *Orchestrator) reconcile(ctx context.Context, touched map[int64]struct{}) error {
	ids := make([]int64, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if err := o.shifts.Reconcile(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// Tail replicates today's new source orders every TailInterval until ctx is
// cancelled. Work already started in an iteration always completes; the
// wait between iterations is the only point where cancellation is observed.
func (o *Orchestrator) Tail(ctx context.Context) error {
	return o.withLock(ctx, "tail", func(ctx context.Context, log zerolog.Logger, lease lock.Lease) error {
		for i := 0; o.maxIterations == 0 || i < o.maxIterations; i++ {
			if i > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(o.cfg.TailInterval):
				}
			}

			work := context.WithoutCancel(ctx)
			rep, err := o.tailOnce(work, log)
			if err != nil {
				return err
			}
			o.mu.Lock()
			o.lastTail = &rep
			o.mu.Unlock()

			if err := lease.Refresh(work); err != nil {
				return fmt.Errorf("refresh run lock: %w", err)
			}
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (o *Orchestrator) tailOnce(ctx context.Context, log zerolog.Logger) (DayReport, error) {
	day := clock.Day(o.clock.Now())
	rep := DayReport{RunID: runIDFrom(ctx), Day: day}

	last, err := o.shadow.LastSourceID(ctx, day)
	if err != nil {
		return rep, err
	}
	batch, err := o.scanner.Scan(ctx, day, laborder.ScanOptions{AfterID: last})
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(batch)

	touched := make(map[int64]struct{})
	for _, c := range batch {
		var shiftID *int64
		if user := c.Order.OrderingUserID; user != nil {
			id, err := o.shifts.Ensure(ctx, *user, day)
			if err != nil {
				return rep, err
			}
			shiftID = &id
			touched[id] = struct{}{}
		}
		if err := o.replicate(ctx, log, c, shiftID, &rep); err != nil {
			return rep, err
		}
	}

	if err := o.reconcile(ctx, touched); err != nil {
		return rep, err
	}
	rep.Shifts = len(touched)

	log.Info().
		Str("day", day.Format(DateLayout)).
		Int64("after_id", last).
		Int("scanned", rep.Scanned).
		Int("inserted", rep.Inserted).
		Int("skipped", rep.Skipped).
		Msg("tail iteration")
	return rep, nil
}

// LastTail returns the report of the most recent tail iteration, or nil.
func (o *Orchestrator) LastTail() *DayReport {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.lastTail == nil {
		return nil
	}
	rep := *o.lastTail
	return &rep
}

// RepairShifts re-attaches every shadow order in [from, to] to its
// operator's shift for that day and reconciles the shifts.
func (o *Orchestrator) RepairShifts(ctx context.Context, from, to time.Time) ([]DayReport, error) {
	days, err := DayRange(from, to)
	if err != nil {
		return nil, err
	}

	var reports []DayReport
	err = o.withLock(ctx, "repair-shifts", func(ctx context.Context, log zerolog.Logger, _ lock.Lease) error {
		for _, day := range days {
			rep := DayReport{RunID: runIDFrom(ctx), Day: day}
			orders, err := o.shadow.ListReplicated(ctx, day)
			if err != nil {
				return err
			}
			rep.Scanned = len(orders)

			touched := make(map[int64]struct{})
			for _, ord := range orders {
				if ord.OrderingUserID == nil {
					continue
				}
				id, err := o.shifts.Ensure(ctx, *ord.OrderingUserID, day)
				if err != nil {
					return err
				}
				if err := o.shifts.Assign(ctx, ord.InvoiceID, id); err != nil {
					return err
				}
				touched[id] = struct{}{}
				rep.Updated++
			}
			if err := o.reconcile(ctx, touched); err != nil {
				return err
			}
			rep.Shifts = len(touched)

			log.Info().
				Str("day", day.Format(DateLayout)).
				Int("orders", rep.Scanned).
				Int("assigned", rep.Updated).
				Int("shifts", rep.Shifts).
				Msg("shifts repaired")
			reports = append(reports, rep)
		}
		return nil
	})
	return reports, err
}

// Respread redistributes the times of shadow orders in [from, to] across a
// freshly drawn window, keeping their current order.
func (o *Orchestrator) Respread(ctx context.Context, from, to time.Time) ([]DayReport, error) {
	days, err := DayRange(from, to)
	if err != nil {
		return nil, err
	}

	var reports []DayReport
	err = o.withLock(ctx, "respread", func(ctx context.Context, log zerolog.Logger, _ lock.Lease) error {
		for _, day := range days {
			rep := DayReport{RunID: runIDFrom(ctx), Day: day}
			orders, err := o.shadow.ListReplicated(ctx, day)
			if err != nil {
				return err
			}
			rep.Scanned = len(orders)

			batch := make([]*laborder.Context, len(orders))
			for i, ord := range orders {
				batch[i] = &laborder.Context{Order: ord}
			}
			start, end := laborder.Window(day, o.hours(), o.random)
			if err := laborder.Spread(batch, start, end); err != nil {
				if errors.Is(err, laborder.ErrEmptyBatch) {
					reports = append(reports, rep)
					continue
				}
				return err
			}

			err = o.shadow.WithTx(ctx, func(ctx context.Context) error {
				for _, c := range batch {
					if err := o.shadow.UpdateOrderTime(ctx, c.Order.InvoiceID, c.Order.OrderDateTime); err != nil {
						return err
					}
				}
				return nil
			})
			if err != nil {
				return err
			}
			rep.Updated = len(batch)

			log.Info().
				Str("day", day.Format(DateLayout)).
				Int("orders", rep.Updated).
				Time("window_start", start).
				Time("window_end", end).
				Msg("day respread")
			reports = append(reports, rep)
		}
		return nil
	})
	return reports, err
}
