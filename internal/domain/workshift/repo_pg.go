package workshift

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ehr/labshadow/internal/domain/laborder"
	"github.com/ehr/labshadow/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

const shiftCols = `id, user_id, is_closed, start_time, end_time, last_updated, num_orders,
	receive_amount, discount_amount, refund_amount, final_balance`

func (r *repoPG) FindForDay(ctx context.Context, userID int64, day time.Time) (*WorkShift, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return scanShift(r.conn(ctx).QueryRow(ctx, `SELECT `+shiftCols+` FROM work_shifts
		WHERE user_id = $1 AND start_time >= $2 AND start_time < $3
		ORDER BY id LIMIT 1`, userID, from, from.AddDate(0, 0, 1)))
}

func (r *repoPG) Create(ctx context.Context, ws *WorkShift) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO work_shifts (
			user_id, is_closed, start_time, end_time, last_updated, num_orders,
			receive_amount, discount_amount, refund_amount, final_balance
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING id`,
		ws.UserID, ws.IsClosed, ws.StartTime, ws.EndTime, ws.LastUpdated, ws.NumOrders,
		ws.ReceiveAmount, ws.DiscountAmount, ws.RefundAmount, ws.FinalBalance,
	).Scan(&ws.ID)
	if err != nil {
		return fmt.Errorf("create work shift: %w", err)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id int64) (*WorkShift, error) {
	return scanShift(r.conn(ctx).QueryRow(ctx, `SELECT `+shiftCols+` FROM work_shifts WHERE id = $1`, id))
}

func (r *repoPG) PaymentTotal(ctx context.Context, id int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.conn(ctx).QueryRow(ctx, `SELECT COALESCE(SUM(tx_amount), 0) FROM invoice_transactions
		WHERE work_shift_id = $1 AND tx_type = $2`, id, laborder.TxPayment).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("payment total for shift %d: %w", id, err)
	}
	return total, nil
}

func (r *repoPG) UpdateTotals(ctx context.Context, id int64, received, final decimal.Decimal, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE work_shifts SET
			receive_amount = $2,
			final_balance = $3,
			last_updated = $4,
			num_orders = (SELECT COUNT(*) FROM lab_orders WHERE work_shift_id = $1)
		WHERE id = $1`, id, received, final, at)
	if err != nil {
		return fmt.Errorf("update totals for shift %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) AssignOrder(ctx context.Context, invoiceID, shiftID int64) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx,
			`UPDATE lab_orders SET work_shift_id = $2 WHERE invoice_id = $1`, invoiceID, shiftID)
		if err != nil {
			return fmt.Errorf("assign order %d to shift %d: %w", invoiceID, shiftID, err)
		}
		if tag.RowsAffected() == 0 {
			return laborder.ErrNotFound
		}
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE invoice_transactions SET work_shift_id = $2 WHERE invoice_id = $1`, invoiceID, shiftID); err != nil {
			return fmt.Errorf("assign transactions of %d to shift %d: %w", invoiceID, shiftID, err)
		}
		return nil
	})
}

func (r *repoPG) DeleteForDay(ctx context.Context, day time.Time) (int64, error) {
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	var deleted int64
	err := db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		const shifts = `SELECT id FROM work_shifts WHERE start_time >= $1 AND start_time < $2`
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE lab_orders SET work_shift_id = NULL WHERE work_shift_id IN (`+shifts+`)`, from, to); err != nil {
			return fmt.Errorf("detach orders: %w", err)
		}
		if _, err := r.conn(ctx).Exec(ctx,
			`UPDATE invoice_transactions SET work_shift_id = NULL WHERE work_shift_id IN (`+shifts+`)`, from, to); err != nil {
			return fmt.Errorf("detach transactions: %w", err)
		}
		tag, err := r.conn(ctx).Exec(ctx,
			`DELETE FROM work_shifts WHERE start_time >= $1 AND start_time < $2`, from, to)
		if err != nil {
			return fmt.Errorf("delete shifts: %w", err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	return deleted, err
}

func scanShift(row pgx.Row) (*WorkShift, error) {
	var ws WorkShift
	err := row.Scan(
		&ws.ID, &ws.UserID, &ws.IsClosed, &ws.StartTime, &ws.EndTime, &ws.LastUpdated, &ws.NumOrders,
		&ws.ReceiveAmount, &ws.DiscountAmount, &ws.RefundAmount, &ws.FinalBalance,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &ws, nil
}
