package replication

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/ehr/labshadow/internal/domain/laborder"
)

// Outcome is the result of replicating one order.
type Outcome int

const (
	OutcomeInserted Outcome = iota + 1
	OutcomeAlreadyPresent
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeAlreadyPresent:
		return "already_present"
	default:
		return "unknown"
	}
}

// Writer copies one order graph into the shadow database.
type Writer struct {
	shadow laborder.ShadowRepository
	logger zerolog.Logger
}

func NewWriter(shadow laborder.ShadowRepository, logger zerolog.Logger) *Writer {
	return &Writer{
		shadow: shadow,
		logger: logger.With().Str("component", "writer").Logger(),
	}
}

// Replicate writes c under shiftID in a single transaction. An order whose
// source id is already in the shadow is left untouched.
func (w *Writer) Replicate(ctx context.Context, c *laborder.Context, shiftID *int64) (Outcome, error) {
	sourceID := c.Order.InvoiceID
	outcome := OutcomeInserted

	err := w.shadow.WithTx(ctx, func(ctx context.Context) error {
		exists, err := w.shadow.Exists(ctx, sourceID)
		if err != nil {
			return err
		}
		if exists {
			outcome = OutcomeAlreadyPresent
			return nil
		}
		return w.write(ctx, c, shiftID)
	})
	if errors.Is(err, laborder.ErrAlreadyReplicated) {
		outcome, err = OutcomeAlreadyPresent, nil
	}
	if err != nil {
		return 0, fmt.Errorf("replicate invoice %d: %w", sourceID, err)
	}

	w.logger.Debug().Int64("source_id", sourceID).Stringer("outcome", outcome).Msg("order replicated")
	return outcome, nil
}

func (w *Writer) write(ctx context.Context, c *laborder.Context, shiftID *int64) error {
	sourceID := c.Order.InvoiceID

	if err := w.shadow.InsertOrder(ctx, c.Order.ShadowCopy(shiftID)); err != nil {
		return err
	}
	shadowID, err := w.shadow.ResolveShadowID(ctx, sourceID)
	if err != nil {
		return err
	}

	if err := w.shadow.InsertMaster(ctx, shadowID, c.Master); err != nil {
		return err
	}
	if err := w.shadow.InsertPrimal(ctx, shadowID, c.Primal); err != nil {
		return err
	}
	if err := w.shadow.InsertTransactions(ctx, shadowID, c.Transactions, shiftID); err != nil {
		return err
	}
	if err := w.shadow.InsertItems(ctx, shadowID, c.Items); err != nil {
		return err
	}
	testIDs, err := w.shadow.InsertTests(ctx, shadowID, c.Tests)
	if err != nil {
		return err
	}
	bundleIDs, err := w.shadow.InsertBundles(ctx, shadowID, c.Bundles)
	if err != nil {
		return err
	}

	// Source bundle ids mean nothing in the shadow; rebind through the new ids.
	shadowBundle := make(map[int64]int64, len(c.Bundles))
	for i, b := range c.Bundles {
		shadowBundle[b.ID] = bundleIDs[i]
	}
	for i, t := range c.Tests {
		if t.ResultBundleID == nil {
			continue
		}
		bundleID, ok := shadowBundle[*t.ResultBundleID]
		if !ok {
			continue
		}
		if err := w.shadow.LinkTestBundle(ctx, testIDs[i], bundleID); err != nil {
			return err
		}
	}
	return nil
}
