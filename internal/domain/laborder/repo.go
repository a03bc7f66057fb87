package laborder

import (
	"context"
	"time"
)

// SourceRepository reads order graphs. Source and shadow share one schema, so
// the shadow side is readable through the same interface.
type SourceRepository interface {
	// ListOrders returns the orders placed on day in ascending invoice id,
	// restricted to ids greater than afterID when afterID > 0.
	ListOrders(ctx context.Context, day time.Time, afterID int64) ([]*Order, error)
	GetMaster(ctx context.Context, invoiceID int64) (*Invoice, error)
	GetPrimal(ctx context.Context, invoiceID int64) (*Invoice, error)
	ListTransactions(ctx context.Context, invoiceID int64) ([]*Transaction, error)
	ListTests(ctx context.Context, invoiceID int64) ([]*OrderedTest, error)
	ListItems(ctx context.Context, invoiceID int64) ([]*OrderedBillableItem, error)
	ListBundles(ctx context.Context, invoiceID int64) ([]*ResultBundle, error)
}

type CatalogRepository interface {
	ActiveLabTests(ctx context.Context) ([]LabTest, error)
	ActiveStaff(ctx context.Context) ([]StaffUser, error)
}

type ShadowRepository interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error

	Exists(ctx context.Context, sourceID int64) (bool, error)
	InsertOrder(ctx context.Context, o *Order) error
	ResolveShadowID(ctx context.Context, sourceID int64) (int64, error)
	InsertMaster(ctx context.Context, shadowID int64, inv *Invoice) error
	InsertPrimal(ctx context.Context, shadowID int64, inv *Invoice) error
	InsertTransactions(ctx context.Context, shadowID int64, txs []*Transaction, shiftID *int64) error
	InsertItems(ctx context.Context, shadowID int64, items []*OrderedBillableItem) error
	// InsertTests and InsertBundles return the new row ids in input order.
	InsertTests(ctx context.Context, shadowID int64, tests []*OrderedTest) ([]int64, error)
	InsertBundles(ctx context.Context, shadowID int64, bundles []*ResultBundle) ([]int64, error)
	LinkTestBundle(ctx context.Context, testID, bundleID int64) error

	// ListReplicated returns every shadow order placed on day, oldest first.
	ListReplicated(ctx context.Context, day time.Time) ([]*Order, error)
	// LastSourceID is the highest source invoice id replicated for day, 0 if none.
	LastSourceID(ctx context.Context, day time.Time) (int64, error)
	PurgeOrderChain(ctx context.Context, shadowID int64) error
	UpdateOrderTime(ctx context.Context, shadowID int64, at time.Time) error
}
