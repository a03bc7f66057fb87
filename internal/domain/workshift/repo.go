package workshift

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrNotFound = errors.New("work shift not found")

type Repository interface {
	// FindForDay returns the first shift of userID starting on day, or ErrNotFound.
	FindForDay(ctx context.Context, userID int64, day time.Time) (*WorkShift, error)
	Create(ctx context.Context, ws *WorkShift) error
	Get(ctx context.Context, id int64) (*WorkShift, error)
	// PaymentTotal sums payment transactions attached to the shift; zero when none.
	PaymentTotal(ctx context.Context, id int64) (decimal.Decimal, error)
	UpdateTotals(ctx context.Context, id int64, received, final decimal.Decimal, at time.Time) error
	AssignOrder(ctx context.Context, invoiceID, shiftID int64) error
	DeleteForDay(ctx context.Context, day time.Time) (int64, error)
}
