package laborder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/labshadow/internal/platform/db"
)

type repoPG struct {
	pool *pgxpool.Pool
}

// NewSourceRepo returns the read side over pool.
func NewSourceRepo(pool *pgxpool.Pool) SourceRepository {
	return &repoPG{pool: pool}
}

// NewShadowRepo returns the write side over the shadow pool.
func NewShadowRepo(pool *pgxpool.Pool) ShadowRepository {
	return &repoPG{pool: pool}
}

func NewCatalogRepo(pool *pgxpool.Pool) CatalogRepository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Queryable {
	return db.Conn(ctx, r.pool)
}

func (r *repoPG) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

const orderCols = `invoice_id, source_invoice_id, order_id, order_date_time, last_modified,
	workflow_stage, is_cancelled, referrer_id, disallow_referral, ordering_user_id, work_shift_id,
	title, first_name, last_name, sex, age, dob, phone_number, email_address,
	is_referrer_unknown, referrer_custom_name, order_notes, web_access_token`

const invoiceCols = `invoice_id, date_created, gross_payable, discount_amount, tax_amount,
	surcharge_amount, net_payable, paid_amount, due_amount, refund_amount`

const txCols = `id, invoice_id, performing_user_id, work_shift_id, tx_time, tx_type, tx_flag,
	tx_amount, non_cash_amount, payment_method`

const bundleCols = `id, invoice_id, lab_id, test_result_type, display_title, component_lab_tests,
	date_created, last_updated, tat_rank, workflow_stage`

// sourceOrderCols reads a source order with its referrer resolved to a name,
// which is what survives into the shadow once the referrer id is dropped.
const sourceOrderCols = `o.invoice_id, o.source_invoice_id, o.order_id, o.order_date_time, o.last_modified,
	o.workflow_stage, o.is_cancelled, o.referrer_id, o.disallow_referral, o.ordering_user_id, o.work_shift_id,
	o.title, o.first_name, o.last_name, o.sex, o.age, o.dob, o.phone_number, o.email_address,
	o.is_referrer_unknown, COALESCE(r.full_name, o.referrer_custom_name, ''), o.order_notes, o.web_access_token`

func dayBounds(day time.Time) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 0, 1)
}

// -- Source --

func (r *repoPG) ListOrders(ctx context.Context, day time.Time, afterID int64) ([]*Order, error) {
	from, to := dayBounds(day)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+sourceOrderCols+`
		FROM lab_orders o
		LEFT JOIN referrers r ON r.id = o.referrer_id
		WHERE o.order_date_time >= $1 AND o.order_date_time < $2 AND o.invoice_id > $3
		ORDER BY o.invoice_id`, from, to, afterID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *repoPG) GetMaster(ctx context.Context, invoiceID int64) (*Invoice, error) {
	var inv Invoice
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+`, payment_status
		FROM invoice_master WHERE invoice_id = $1`, invoiceID).Scan(
		&inv.InvoiceID, &inv.DateCreated, &inv.GrossPayable, &inv.DiscountAmount, &inv.TaxAmount,
		&inv.SurchargeAmount, &inv.NetPayable, &inv.PaidAmount, &inv.DueAmount, &inv.RefundAmount,
		&inv.PaymentStatus,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get master %d: %w", invoiceID, err)
	}
	return &inv, nil
}

func (r *repoPG) GetPrimal(ctx context.Context, invoiceID int64) (*Invoice, error) {
	var inv Invoice
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+invoiceCols+`
		FROM invoice_primal WHERE invoice_id = $1`, invoiceID).Scan(
		&inv.InvoiceID, &inv.DateCreated, &inv.GrossPayable, &inv.DiscountAmount, &inv.TaxAmount,
		&inv.SurchargeAmount, &inv.NetPayable, &inv.PaidAmount, &inv.DueAmount, &inv.RefundAmount,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get primal %d: %w", invoiceID, err)
	}
	return &inv, nil
}

func (r *repoPG) ListTransactions(ctx context.Context, invoiceID int64) ([]*Transaction, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+txCols+` FROM invoice_transactions
		WHERE invoice_id = $1 ORDER BY tx_time, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list transactions %d: %w", invoiceID, err)
	}
	defer rows.Close()

	var out []*Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.InvoiceID, &t.PerformingUserID, &t.WorkShiftID, &t.TxTime,
			&t.TxType, &t.TxFlag, &t.TxAmount, &t.NonCashAmount, &t.PaymentMethod); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *repoPG) ListTests(ctx context.Context, invoiceID int64) ([]*OrderedTest, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT o.id, o.invoice_id, o.lab_test_id, t.performing_lab_id, t.short_name,
			o.result_bundle_id, o.unit_price, o.workflow_stage, o.date_created, o.last_modified
		FROM ordered_tests o
		JOIN lab_tests t ON t.id = o.lab_test_id
		WHERE o.invoice_id = $1 AND NOT o.is_cancelled
		ORDER BY o.id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list tests %d: %w", invoiceID, err)
	}
	defer rows.Close()

	var out []*OrderedTest
	for rows.Next() {
		var t OrderedTest
		if err := rows.Scan(&t.ID, &t.InvoiceID, &t.LabTestID, &t.LabID, &t.TestName,
			&t.ResultBundleID, &t.UnitPrice, &t.WorkflowStage, &t.DateCreated, &t.LastModified); err != nil {
			return nil, err
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

func (r *repoPG) ListItems(ctx context.Context, invoiceID int64) ([]*OrderedBillableItem, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT o.id, o.invoice_id, o.billable_item_id, COALESCE(b.name, ''),
			o.unit_price, o.quantity, o.date_created, o.last_modified
		FROM ordered_billable_items o
		LEFT JOIN billable_items b ON b.id = o.billable_item_id
		WHERE o.invoice_id = $1 AND NOT o.is_cancelled
		ORDER BY o.id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list items %d: %w", invoiceID, err)
	}
	defer rows.Close()

	var out []*OrderedBillableItem
	for rows.Next() {
		var it OrderedBillableItem
		if err := rows.Scan(&it.ID, &it.InvoiceID, &it.BillableItemID, &it.BillableItemName,
			&it.UnitPrice, &it.Quantity, &it.DateCreated, &it.LastModified); err != nil {
			return nil, err
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

func (r *repoPG) ListBundles(ctx context.Context, invoiceID int64) ([]*ResultBundle, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+bundleCols+` FROM result_bundles
		WHERE invoice_id = $1 AND is_active
		ORDER BY date_created, id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list bundles %d: %w", invoiceID, err)
	}
	defer rows.Close()

	var out []*ResultBundle
	for rows.Next() {
		var b ResultBundle
		if err := rows.Scan(&b.ID, &b.InvoiceID, &b.LabID, &b.TestResultType, &b.DisplayTitle,
			&b.ComponentLabTests, &b.DateCreated, &b.LastUpdated, &b.TATRank, &b.WorkflowStage); err != nil {
			return nil, err
		}
		out = append(out, &b)
	}
	return out, rows.Err()
}

// -- Catalog --

func (r *repoPG) ActiveLabTests(ctx context.Context) ([]LabTest, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT t.id, t.performing_lab_id, t.short_name, l.name
		FROM lab_tests t
		JOIN labs l ON l.id = t.performing_lab_id
		WHERE t.is_active AND l.is_active
		ORDER BY t.id`)
	if err != nil {
		return nil, fmt.Errorf("active lab tests: %w", err)
	}
	defer rows.Close()

	var out []LabTest
	for rows.Next() {
		var t LabTest
		if err := rows.Scan(&t.ID, &t.LabID, &t.Name, &t.LabName); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repoPG) ActiveStaff(ctx context.Context) ([]StaffUser, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, user_name, display_name
		FROM staff_users WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("active staff: %w", err)
	}
	defer rows.Close()

	var out []StaffUser
	for rows.Next() {
		var u StaffUser
		if err := rows.Scan(&u.ID, &u.UserName, &u.DisplayName); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// -- Shadow --

func (r *repoPG) Exists(ctx context.Context, sourceID int64) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM lab_orders WHERE source_invoice_id = $1)`, sourceID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check replicated %d: %w", sourceID, err)
	}
	return exists, nil
}

func (r *repoPG) InsertOrder(ctx context.Context, o *Order) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO lab_orders (
			source_invoice_id, order_id, order_date_time, last_modified,
			workflow_stage, is_cancelled, referrer_id, disallow_referral, ordering_user_id, work_shift_id,
			title, first_name, last_name, sex, age, dob, phone_number, email_address,
			is_referrer_unknown, referrer_custom_name, order_notes, web_access_token
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,
			$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22
		)`,
		o.SourceInvoiceID, o.OrderID, o.OrderDateTime, o.LastModified,
		o.WorkflowStage, o.IsCancelled, o.ReferrerID, o.DisallowReferral, o.OrderingUserID, o.WorkShiftID,
		o.Title, o.FirstName, o.LastName, o.Sex, o.Age, o.DoB, o.PhoneNumber, o.EmailAddress,
		o.IsReferrerUnknown, o.ReferrerCustomName, o.OrderNotes, o.WebAccessToken,
	)
	if db.IsUniqueViolation(err) {
		return ErrAlreadyReplicated
	}
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (r *repoPG) ResolveShadowID(ctx context.Context, sourceID int64) (int64, error) {
	var id int64
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT invoice_id FROM lab_orders WHERE source_invoice_id = $1`, sourceID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve shadow id %d: %w", sourceID, err)
	}
	return id, nil
}

func (r *repoPG) InsertMaster(ctx context.Context, shadowID int64, inv *Invoice) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO invoice_master (`+invoiceCols+`, payment_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		shadowID, inv.DateCreated, inv.GrossPayable, inv.DiscountAmount, inv.TaxAmount,
		inv.SurchargeAmount, inv.NetPayable, inv.PaidAmount, inv.DueAmount, inv.RefundAmount,
		inv.PaymentStatus,
	)
	if err != nil {
		return fmt.Errorf("insert master: %w", err)
	}
	return nil
}

func (r *repoPG) InsertPrimal(ctx context.Context, shadowID int64, inv *Invoice) error {
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO invoice_primal (`+invoiceCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		shadowID, inv.DateCreated, inv.GrossPayable, inv.DiscountAmount, inv.TaxAmount,
		inv.SurchargeAmount, inv.NetPayable, inv.PaidAmount, inv.DueAmount, inv.RefundAmount,
	)
	if err != nil {
		return fmt.Errorf("insert primal: %w", err)
	}
	return nil
}

func (r *repoPG) InsertTransactions(ctx context.Context, shadowID int64, txs []*Transaction, shiftID *int64) error {
	for _, t := range txs {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO invoice_transactions (
				invoice_id, performing_user_id, work_shift_id, tx_time, tx_type, tx_flag,
				tx_amount, non_cash_amount, payment_method
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			shadowID, t.PerformingUserID, shiftID, t.TxTime, t.TxType, t.TxFlag,
			t.TxAmount, t.NonCashAmount, t.PaymentMethod,
		)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
	}
	return nil
}

func (r *repoPG) InsertItems(ctx context.Context, shadowID int64, items []*OrderedBillableItem) error {
	for _, it := range items {
		_, err := r.conn(ctx).Exec(ctx, `
			INSERT INTO ordered_billable_items (
				invoice_id, billable_item_id, unit_price, quantity, date_created, last_modified
			) VALUES ($1,$2,$3,$4,$5,$6)`,
			shadowID, it.BillableItemID, it.UnitPrice, it.Quantity, it.DateCreated, it.LastModified,
		)
		if err != nil {
			return fmt.Errorf("insert billable item: %w", err)
		}
	}
	return nil
}

func (r *repoPG) InsertTests(ctx context.Context, shadowID int64, tests []*OrderedTest) ([]int64, error) {
	ids := make([]int64, 0, len(tests))
	for _, t := range tests {
		var id int64
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO ordered_tests (
				invoice_id, lab_test_id, unit_price, workflow_stage, date_created, last_modified
			) VALUES ($1,$2,$3,$4,$5,$6)
			RETURNING id`,
			shadowID, t.LabTestID, t.UnitPrice, t.WorkflowStage, t.DateCreated, t.LastModified,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert ordered test: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *repoPG) InsertBundles(ctx context.Context, shadowID int64, bundles []*ResultBundle) ([]int64, error) {
	ids := make([]int64, 0, len(bundles))
	for _, b := range bundles {
		var id int64
		err := r.conn(ctx).QueryRow(ctx, `
			INSERT INTO result_bundles (
				invoice_id, lab_id, test_result_type, display_title, component_lab_tests,
				date_created, last_updated, tat_rank, workflow_stage
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			RETURNING id`,
			shadowID, b.LabID, b.TestResultType, b.DisplayTitle, b.ComponentLabTests,
			b.DateCreated, b.LastUpdated, b.TATRank, b.WorkflowStage,
		).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("insert result bundle: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (r *repoPG) LinkTestBundle(ctx context.Context, testID, bundleID int64) error {
	_, err := r.conn(ctx).Exec(ctx,
		`UPDATE ordered_tests SET result_bundle_id = $2 WHERE id = $1`, testID, bundleID)
	if err != nil {
		return fmt.Errorf("link test %d to bundle %d: %w", testID, bundleID, err)
	}
	return nil
}

func (r *repoPG) ListReplicated(ctx context.Context, day time.Time) ([]*Order, error) {
	from, to := dayBounds(day)
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+orderCols+` FROM lab_orders
		WHERE order_date_time >= $1 AND order_date_time < $2
		ORDER BY order_date_time, invoice_id`, from, to)
	if err != nil {
		return nil, fmt.Errorf("list shadow orders: %w", err)
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (r *repoPG) LastSourceID(ctx context.Context, day time.Time) (int64, error) {
	from, to := dayBounds(day)
	var id int64
	err := r.conn(ctx).QueryRow(ctx, `SELECT COALESCE(MAX(source_invoice_id), 0) FROM lab_orders
		WHERE order_date_time >= $1 AND order_date_time < $2`, from, to).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("last source id: %w", err)
	}
	return id, nil
}

func (r *repoPG) PurgeOrderChain(ctx context.Context, shadowID int64) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		stmts := []string{
			`DELETE FROM ordered_tests WHERE invoice_id = $1`,
			`DELETE FROM result_bundles WHERE invoice_id = $1`,
			`DELETE FROM ordered_billable_items WHERE invoice_id = $1`,
			`DELETE FROM invoice_transactions WHERE invoice_id = $1`,
			`DELETE FROM invoice_primal WHERE invoice_id = $1`,
			`DELETE FROM invoice_master WHERE invoice_id = $1`,
			`DELETE FROM lab_orders WHERE invoice_id = $1`,
		}
		for _, s := range stmts {
			if _, err := r.conn(ctx).Exec(ctx, s, shadowID); err != nil {
				return fmt.Errorf("purge order %d: %w", shadowID, err)
			}
		}
		return nil
	})
}

func (r *repoPG) UpdateOrderTime(ctx context.Context, shadowID int64, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE lab_orders SET order_date_time = $2 WHERE invoice_id = $1`, shadowID, at)
	if err != nil {
		return fmt.Errorf("update order time %d: %w", shadowID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func collectOrders(rows pgx.Rows) ([]*Order, error) {
	out := []*Order{}
	for rows.Next() {
		var o Order
		err := rows.Scan(
			&o.InvoiceID, &o.SourceInvoiceID, &o.OrderID, &o.OrderDateTime, &o.LastModified,
			&o.WorkflowStage, &o.IsCancelled, &o.ReferrerID, &o.DisallowReferral, &o.OrderingUserID, &o.WorkShiftID,
			&o.Title, &o.FirstName, &o.LastName, &o.Sex, &o.Age, &o.DoB, &o.PhoneNumber, &o.EmailAddress,
			&o.IsReferrerUnknown, &o.ReferrerCustomName, &o.OrderNotes, &o.WebAccessToken,
		)
		if err != nil {
			return nil, err
		}
		out = append(out, &o)
	}
	return out, rows.Err()
}
