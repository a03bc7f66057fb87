package laborder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ScanOptions bounds a scan. A nil MaxNet means no ceiling; AfterID > 0
// restricts the scan to source ids above that low-water mark.
type ScanOptions struct {
	MaxNet  *decimal.Decimal
	AfterID int64
}

// Scanner reads a day's order graphs from the source.
type Scanner struct {
	source  SourceRepository
	catalog CatalogRepository
	logger  zerolog.Logger
}

func NewScanner(source SourceRepository, catalog CatalogRepository, logger zerolog.Logger) *Scanner {
	return &Scanner{
		source:  source,
		catalog: catalog,
		logger:  logger.With().Str("component", "scanner").Logger(),
	}
}

// Scan returns the sanitized contexts of day in ascending source id. The order
// whose net payable brings the running total to MaxNet or above is dropped and
// ends the scan.
func (s *Scanner) Scan(ctx context.Context, day time.Time, opts ScanOptions) ([]*Context, error) {
	tests, err := s.catalog.ActiveLabTests(ctx)
	if err != nil {
		return nil, fmt.Errorf("load test catalog: %w", err)
	}
	testCatalog := NewCatalog(tests)

	staff, err := s.catalog.ActiveStaff(ctx)
	if err != nil {
		return nil, fmt.Errorf("load staff catalog: %w", err)
	}
	staffCatalog := NewCatalog(staff)

	orders, err := s.source.ListOrders(ctx, day, opts.AfterID)
	if err != nil {
		return nil, err
	}

	out := make([]*Context, 0, len(orders))
	running := decimal.Zero
	for i, o := range orders {
		c, err := s.Load(ctx, o)
		if err != nil {
			return nil, err
		}

		next := running.Add(c.NetPayable())
		if opts.MaxNet != nil && next.GreaterThanOrEqual(*opts.MaxNet) {
			s.logger.Info().
				Int64("invoice_id", o.InvoiceID).
				Str("running_net", running.String()).
				Str("order_net", c.NetPayable().String()).
				Str("ceiling", opts.MaxNet.String()).
				Msg("ceiling reached, stopping scan")
			break
		}
		running = next

		if o.OrderingUserID != nil && !staffCatalog.Has(*o.OrderingUserID) {
			s.logger.Warn().
				Int64("invoice_id", o.InvoiceID).
				Int64("user_id", *o.OrderingUserID).
				Msg("ordering user is not active staff")
		}

		before := len(c.Tests)
		c.Sanitize(testCatalog)
		s.logger.Debug().
			Int("index", i).
			Int64("invoice_id", o.InvoiceID).
			Str("running_net", running.String()).
			Int("tests_dropped", before-len(c.Tests)).
			Msg("order scanned")

		out = append(out, c)
	}

	ceiling := "none"
	if opts.MaxNet != nil {
		ceiling = opts.MaxNet.String()
	}
	s.logger.Info().
		Time("day", day).
		Int("found", len(orders)).
		Int("kept", len(out)).
		Str("ceiling", ceiling).
		Str("running_net", running.String()).
		Msg("scan complete")

	return out, nil
}

// Load fetches the full record graph owned by o. Both financial snapshots are
// required.
func (s *Scanner) Load(ctx context.Context, o *Order) (*Context, error) {
	c := &Context{Order: o}
	var err error

	if c.Master, err = s.source.GetMaster(ctx, o.InvoiceID); err != nil {
		return nil, snapshotErr("master", o.InvoiceID, err)
	}
	if c.Primal, err = s.source.GetPrimal(ctx, o.InvoiceID); err != nil {
		return nil, snapshotErr("primal", o.InvoiceID, err)
	}
	if c.Transactions, err = s.source.ListTransactions(ctx, o.InvoiceID); err != nil {
		return nil, err
	}
	if c.Tests, err = s.source.ListTests(ctx, o.InvoiceID); err != nil {
		return nil, err
	}
	if c.Items, err = s.source.ListItems(ctx, o.InvoiceID); err != nil {
		return nil, err
	}
	if c.Bundles, err = s.source.ListBundles(ctx, o.InvoiceID); err != nil {
		return nil, err
	}
	return c, nil
}

func snapshotErr(kind string, invoiceID int64, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("invoice %d %s: %w", invoiceID, kind, ErrMissingFinancialSnapshot)
	}
	return fmt.Errorf("invoice %d %s: %w", invoiceID, kind, err)
}
