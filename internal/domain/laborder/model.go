package laborder

import (
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types. Only payments feed a work shift's received total.
const (
	TxPayment        = 10
	TxRefund         = 20
	TxCashDiscount   = 30
	TxDiscountRebate = 40
)

// Order maps to the lab_orders table: one patient lab order and its billing header.
type Order struct {
	InvoiceID          int64      `db:"invoice_id" json:"invoice_id"`
	SourceInvoiceID    *int64     `db:"source_invoice_id" json:"source_invoice_id,omitempty"`
	OrderID            string     `db:"order_id" json:"order_id"`
	OrderDateTime      time.Time  `db:"order_date_time" json:"order_date_time"`
	LastModified       time.Time  `db:"last_modified" json:"last_modified"`
	WorkflowStage      int        `db:"workflow_stage" json:"workflow_stage"`
	IsCancelled        bool       `db:"is_cancelled" json:"is_cancelled"`
	ReferrerID         *int64     `db:"referrer_id" json:"referrer_id,omitempty"`
	DisallowReferral   bool       `db:"disallow_referral" json:"disallow_referral"`
	OrderingUserID     *int64     `db:"ordering_user_id" json:"ordering_user_id,omitempty"`
	WorkShiftID        *int64     `db:"work_shift_id" json:"work_shift_id,omitempty"`
	Title              *string    `db:"title" json:"title,omitempty"`
	FirstName          string     `db:"first_name" json:"first_name"`
	LastName           *string    `db:"last_name" json:"last_name,omitempty"`
	Sex                int        `db:"sex" json:"sex"`
	Age                *string    `db:"age" json:"age,omitempty"`
	DoB                *time.Time `db:"dob" json:"dob,omitempty"`
	PhoneNumber        *string    `db:"phone_number" json:"phone_number,omitempty"`
	EmailAddress       *string    `db:"email_address" json:"email_address,omitempty"`
	IsReferrerUnknown  bool       `db:"is_referrer_unknown" json:"is_referrer_unknown"`
	ReferrerCustomName *string    `db:"referrer_custom_name" json:"referrer_custom_name,omitempty"`
	OrderNotes         *string    `db:"order_notes" json:"order_notes,omitempty"`
	WebAccessToken     *string    `db:"web_access_token" json:"web_access_token,omitempty"`
}

// Invoice is a financial snapshot of an order. The same shape backs both
// invoice_master (current, adjustable) and invoice_primal (as created).
type Invoice struct {
	InvoiceID       int64           `db:"invoice_id" json:"invoice_id"`
	DateCreated     time.Time       `db:"date_created" json:"date_created"`
	PaymentStatus   int             `db:"payment_status" json:"payment_status"`
	GrossPayable    decimal.Decimal `db:"gross_payable" json:"gross_payable"`
	DiscountAmount  decimal.Decimal `db:"discount_amount" json:"discount_amount"`
	TaxAmount       decimal.Decimal `db:"tax_amount" json:"tax_amount"`
	SurchargeAmount decimal.Decimal `db:"surcharge_amount" json:"surcharge_amount"`
	NetPayable      decimal.Decimal `db:"net_payable" json:"net_payable"`
	PaidAmount      decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	DueAmount       decimal.Decimal `db:"due_amount" json:"due_amount"`
	RefundAmount    decimal.Decimal `db:"refund_amount" json:"refund_amount"`
}

// Transaction maps to invoice_transactions: one monetary event against an order.
type Transaction struct {
	ID               int64           `db:"id" json:"id"`
	InvoiceID        int64           `db:"invoice_id" json:"invoice_id"`
	PerformingUserID *int64          `db:"performing_user_id" json:"performing_user_id,omitempty"`
	WorkShiftID      *int64          `db:"work_shift_id" json:"work_shift_id,omitempty"`
	TxTime           time.Time       `db:"tx_time" json:"tx_time"`
	TxType           int             `db:"tx_type" json:"tx_type"`
	TxFlag           int             `db:"tx_flag" json:"tx_flag"`
	TxAmount         decimal.Decimal `db:"tx_amount" json:"tx_amount"`
	NonCashAmount    decimal.Decimal `db:"non_cash_amount" json:"non_cash_amount"`
	PaymentMethod    int             `db:"payment_method" json:"payment_method"`
}

// IsPayment reports whether the transaction contributes to shift receipts.
func (t *Transaction) IsPayment() bool { return t.TxType == TxPayment }

// OrderedTest maps to ordered_tests. LabID and TestName come from the catalog join.
type OrderedTest struct {
	ID             int64           `db:"id" json:"id"`
	InvoiceID      int64           `db:"invoice_id" json:"invoice_id"`
	LabTestID      int64           `db:"lab_test_id" json:"lab_test_id"`
	LabID          int64           `db:"lab_id" json:"lab_id"`
	TestName       string          `db:"test_name" json:"test_name"`
	ResultBundleID *int64          `db:"result_bundle_id" json:"result_bundle_id,omitempty"`
	UnitPrice      decimal.Decimal `db:"unit_price" json:"unit_price"`
	WorkflowStage  int             `db:"workflow_stage" json:"workflow_stage"`
	DateCreated    time.Time       `db:"date_created" json:"date_created"`
	LastModified   *time.Time      `db:"last_modified" json:"last_modified,omitempty"`
}

// OrderedBillableItem maps to ordered_billable_items.
type OrderedBillableItem struct {
	ID               int64           `db:"id" json:"id"`
	InvoiceID        int64           `db:"invoice_id" json:"invoice_id"`
	BillableItemID   *int64          `db:"billable_item_id" json:"billable_item_id,omitempty"`
	BillableItemName string          `db:"billable_item_name" json:"billable_item_name"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	Quantity         int             `db:"quantity" json:"quantity"`
	DateCreated      time.Time       `db:"date_created" json:"date_created"`
	LastModified     *time.Time      `db:"last_modified" json:"last_modified,omitempty"`
}

// ResultBundle maps to result_bundles: the grouped results of one performing lab.
type ResultBundle struct {
	ID                int64      `db:"id" json:"id"`
	InvoiceID         int64      `db:"invoice_id" json:"invoice_id"`
	LabID             int64      `db:"lab_id" json:"lab_id"`
	TestResultType    int        `db:"test_result_type" json:"test_result_type"`
	DisplayTitle      *string    `db:"display_title" json:"display_title,omitempty"`
	ComponentLabTests *string    `db:"component_lab_tests" json:"component_lab_tests,omitempty"`
	DateCreated       time.Time  `db:"date_created" json:"date_created"`
	LastUpdated       *time.Time `db:"last_updated" json:"last_updated,omitempty"`
	TATRank           int        `db:"tat_rank" json:"tat_rank"`
	WorkflowStage     int        `db:"workflow_stage" json:"workflow_stage"`
}

// LabTest is an active catalog test joined with its performing lab.
type LabTest struct {
	ID      int64  `db:"id" json:"id"`
	LabID   int64  `db:"performing_lab_id" json:"lab_id"`
	Name    string `db:"short_name" json:"name"`
	LabName string `db:"lab_name" json:"lab_name"`
}

func (t LabTest) Key() int64 { return t.ID }

// StaffUser is an active staff member.
type StaffUser struct {
	ID          int64  `db:"id" json:"id"`
	UserName    string `db:"user_name" json:"user_name"`
	DisplayName string `db:"display_name" json:"display_name"`
}

func (u StaffUser) Key() int64 { return u.ID }

// Context is one source order with its full owned record graph.
type Context struct {
	Order        *Order
	Master       *Invoice
	Primal       *Invoice
	Transactions []*Transaction
	Tests        []*OrderedTest
	Items        []*OrderedBillableItem
	Bundles      []*ResultBundle
}

// NetPayable is the master snapshot's net payable, zero when the snapshot is absent.
func (c *Context) NetPayable() decimal.Decimal {
	if c.Master == nil {
		return decimal.Zero
	}
	return c.Master.NetPayable
}
