package workshift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/labshadow/internal/platform/clock"
)

// Manager finds or creates per-operator daily shifts and keeps their totals
// in line with the payments attached to them. It holds no cache: storage is
// the only record of which shift belongs to which operator and day.
type Manager struct {
	repo   Repository
	clock  clock.Clock
	logger zerolog.Logger
}

func NewManager(repo Repository, clk clock.Clock, logger zerolog.Logger) *Manager {
	return &Manager{
		repo:   repo,
		clock:  clk,
		logger: logger.With().Str("component", "shift-manager").Logger(),
	}
}

// Ensure returns the shift of userID for day, creating an open, zeroed one
// starting at midnight when none exists.
func (m *Manager) Ensure(ctx context.Context, userID int64, day time.Time) (int64, error) {
	ws, err := m.repo.FindForDay(ctx, userID, day)
	if err == nil {
		return ws.ID, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return 0, fmt.Errorf("find shift for user %d: %w", userID, err)
	}

	ws = &WorkShift{
		UserID:         userID,
		StartTime:      clock.Day(day),
		LastUpdated:    m.clock.Now().UTC(),
		ReceiveAmount:  decimal.Zero,
		DiscountAmount: decimal.Zero,
		RefundAmount:   decimal.Zero,
		FinalBalance:   decimal.Zero,
	}
	if err := m.repo.Create(ctx, ws); err != nil {
		return 0, err
	}
	m.logger.Info().Int64("shift_id", ws.ID).Int64("user_id", userID).Time("day", ws.StartTime).Msg("shift created")
	return ws.ID, nil
}

// Reconcile sets the shift's received amount and final balance to the sum of
// its payment transactions.
func (m *Manager) Reconcile(ctx context.Context, shiftID int64) error {
	total, err := m.repo.PaymentTotal(ctx, shiftID)
	if err != nil {
		return err
	}
	if err := m.repo.UpdateTotals(ctx, shiftID, total, total, m.clock.Now().UTC()); err != nil {
		return err
	}
	m.logger.Info().Int64("shift_id", shiftID).Str("receive_amount", total.String()).Msg("shift reconciled")
	return nil
}

// Assign moves an already written order and its transactions onto shiftID.
func (m *Manager) Assign(ctx context.Context, invoiceID, shiftID int64) error {
	return m.repo.AssignOrder(ctx, invoiceID, shiftID)
}
