package replication

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/labshadow/internal/domain/laborder"
	"github.com/ehr/labshadow/internal/domain/workshift"
)

// PurgeResult counts what a purge removed.
type PurgeResult struct {
	Orders int   `json:"orders"`
	Shifts int64 `json:"shifts"`
}

// Purger removes a shadow day so it can be replicated again.
type Purger struct {
	shadow laborder.ShadowRepository
	shifts workshift.Repository
	logger zerolog.Logger
}

func NewPurger(shadow laborder.ShadowRepository, shifts workshift.Repository, logger zerolog.Logger) *Purger {
	return &Purger{
		shadow: shadow,
		shifts: shifts,
		logger: logger.With().Str("component", "purger").Logger(),
	}
}

// Purge deletes every shadow order chain on day, one transaction per order,
// then the shifts that start on day.
func (p *Purger) Purge(ctx context.Context, day time.Time) (PurgeResult, error) {
	var res PurgeResult

	orders, err := p.shadow.ListReplicated(ctx, day)
	if err != nil {
		return res, err
	}
	for _, o := range orders {
		if err := p.shadow.PurgeOrderChain(ctx, o.InvoiceID); err != nil {
			return res, err
		}
		res.Orders++
	}

	if res.Shifts, err = p.shifts.DeleteForDay(ctx, day); err != nil {
		return res, err
	}

	p.logger.Info().
		Time("day", day).
		Int("orders", res.Orders).
		Int64("shifts", res.Shifts).
		Msg("day purged")
	return res, nil
}
