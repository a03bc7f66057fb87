package workshift

import (
	"time"

	"github.com/shopspring/decimal"
)

// WorkShift maps to the work_shifts table: one operator's accounting period
// for one calendar day.
type WorkShift struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user_id"`
	IsClosed       bool            `db:"is_closed" json:"is_closed"`
	StartTime      time.Time       `db:"start_time" json:"start_time"`
	EndTime        *time.Time      `db:"end_time" json:"end_time,omitempty"`
	LastUpdated    time.Time       `db:"last_updated" json:"last_updated"`
	NumOrders      int             `db:"num_orders" json:"num_orders"`
	ReceiveAmount  decimal.Decimal `db:"receive_amount" json:"receive_amount"`
	DiscountAmount decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	RefundAmount   decimal.Decimal `db:"refund_amount" json:"refund_amount"`
	FinalBalance   decimal.Decimal `db:"final_balance" json:"final_balance"`
}
