package replication

import (
	"context"
	"errors"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ehr/labshadow/internal/domain/laborder"
	"github.com/ehr/labshadow/internal/domain/workshift"
	"github.com/ehr/labshadow/internal/platform/clock"
)

func testLogger() zerolog.Logger {
	return zerolog.New(os.Stderr).With().Timestamp().Logger().Level(zerolog.Disabled)
}

var errInjected = errors.New("injected failure")

// -- Shadow store --

type memState struct {
	orders  map[int64]laborder.Order
	masters map[int64]laborder.Invoice
	primals map[int64]laborder.Invoice
	txs     []laborder.Transaction
	items   []laborder.OrderedBillableItem
	tests   []laborder.OrderedTest
	bundles []laborder.ResultBundle
	shifts  map[int64]workshift.WorkShift
	nextID  int64
}

func (s memState) clone() memState {
	c := s
	c.orders = make(map[int64]laborder.Order, len(s.orders))
	for k, v := range s.orders {
		c.orders[k] = v
	}
	c.masters = make(map[int64]laborder.Invoice, len(s.masters))
	for k, v := range s.masters {
		c.masters[k] = v
	}
	c.primals = make(map[int64]laborder.Invoice, len(s.primals))
	for k, v := range s.primals {
		c.primals[k] = v
	}
	c.shifts = make(map[int64]workshift.WorkShift, len(s.shifts))
	for k, v := range s.shifts {
		c.shifts[k] = v
	}
	c.txs = append([]laborder.Transaction(nil), s.txs...)
	c.items = append([]laborder.OrderedBillableItem(nil), s.items...)
	c.tests = append([]laborder.OrderedTest(nil), s.tests...)
	c.bundles = append([]laborder.ResultBundle(nil), s.bundles...)
	return c
}

// memStore is an in-memory shadow database implementing both the shadow order
// repository and the shift repository. WithTx restores the prior state when
// fn fails.
type memStore struct {
	st memState

	failInsertTests bool
	raceOnInsert    bool
}

func newMemStore() *memStore {
	return &memStore{st: memState{
		orders:  make(map[int64]laborder.Order),
		masters: make(map[int64]laborder.Invoice),
		primals: make(map[int64]laborder.Invoice),
		shifts:  make(map[int64]workshift.WorkShift),
	}}
}

func (m *memStore) id() int64 {
	m.st.nextID++
	return m.st.nextID
}

type txMarker struct{}

func (m *memStore) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txMarker{}) != nil {
		return fn(ctx)
	}
	saved := m.st.clone()
	if err := fn(context.WithValue(ctx, txMarker{}, true)); err != nil {
		m.st = saved
		return err
	}
	return nil
}

func (m *memStore) Exists(_ context.Context, sourceID int64) (bool, error) {
	for _, o := range m.st.orders {
		if o.SourceInvoiceID != nil && *o.SourceInvoiceID == sourceID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertOrder(ctx context.Context, o *laborder.Order) error {
	if m.raceOnInsert {
		return laborder.ErrAlreadyReplicated
	}
	if exists, _ := m.Exists(ctx, *o.SourceInvoiceID); exists {
		return laborder.ErrAlreadyReplicated
	}
	cp := *o
	cp.InvoiceID = m.id()
	m.st.orders[cp.InvoiceID] = cp
	return nil
}

func (m *memStore) ResolveShadowID(_ context.Context, sourceID int64) (int64, error) {
	for id, o := range m.st.orders {
		if o.SourceInvoiceID != nil && *o.SourceInvoiceID == sourceID {
			return id, nil
		}
	}
	return 0, laborder.ErrNotFound
}

func (m *memStore) InsertMaster(_ context.Context, shadowID int64, inv *laborder.Invoice) error {
	cp := *inv
	cp.InvoiceID = shadowID
	m.st.masters[shadowID] = cp
	return nil
}

func (m *memStore) InsertPrimal(_ context.Context, shadowID int64, inv *laborder.Invoice) error {
	cp := *inv
	cp.InvoiceID = shadowID
	m.st.primals[shadowID] = cp
	return nil
}

func (m *memStore) InsertTransactions(_ context.Context, shadowID int64, txs []*laborder.Transaction, shiftID *int64) error {
	for _, t := range txs {
		cp := *t
		cp.ID = m.id()
		cp.InvoiceID = shadowID
		cp.WorkShiftID = shiftID
		m.st.txs = append(m.st.txs, cp)
	}
	return nil
}

func (m *memStore) InsertItems(_ context.Context, shadowID int64, items []*laborder.OrderedBillableItem) error {
	for _, it := range items {
		cp := *it
		cp.ID = m.id()
		cp.InvoiceID = shadowID
		m.st.items = append(m.st.items, cp)
	}
	return nil
}

func (m *memStore) InsertTests(_ context.Context, shadowID int64, tests []*laborder.OrderedTest) ([]int64, error) {
	if m.failInsertTests {
		return nil, errInjected
	}
	ids := make([]int64, 0, len(tests))
	for _, t := range tests {
		cp := *t
		cp.ID = m.id()
		cp.InvoiceID = shadowID
		cp.ResultBundleID = nil
		m.st.tests = append(m.st.tests, cp)
		ids = append(ids, cp.ID)
	}
	return ids, nil
}

func (m *memStore) InsertBundles(_ context.Context, shadowID int64, bundles []*laborder.ResultBundle) ([]int64, error) {
	ids := make([]int64, 0, len(bundles))
	for _, b := range bundles {
		cp := *b
		cp.ID = m.id()
		cp.InvoiceID = shadowID
		m.st.bundles = append(m.st.bundles, cp)
		ids = append(ids, cp.ID)
	}
	return ids, nil
}

func (m *memStore) LinkTestBundle(_ context.Context, testID, bundleID int64) error {
	for i := range m.st.tests {
		if m.st.tests[i].ID == testID {
			b := bundleID
			m.st.tests[i].ResultBundleID = &b
			return nil
		}
	}
	return laborder.ErrNotFound
}

func (m *memStore) ListReplicated(_ context.Context, day time.Time) ([]*laborder.Order, error) {
	var out []*laborder.Order
	for _, o := range m.st.orders {
		if clock.Day(o.OrderDateTime).Equal(clock.Day(day)) {
			cp := o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OrderDateTime.Equal(out[j].OrderDateTime) {
			return out[i].OrderDateTime.Before(out[j].OrderDateTime)
		}
		return out[i].InvoiceID < out[j].InvoiceID
	})
	return out, nil
}

func (m *memStore) LastSourceID(_ context.Context, day time.Time) (int64, error) {
	var last int64
	for _, o := range m.st.orders {
		if clock.Day(o.OrderDateTime).Equal(clock.Day(day)) && o.SourceInvoiceID != nil && *o.SourceInvoiceID > last {
			last = *o.SourceInvoiceID
		}
	}
	return last, nil
}

func (m *memStore) PurgeOrderChain(ctx context.Context, shadowID int64) error {
	return m.WithTx(ctx, func(context.Context) error {
		m.st.tests = filter(m.st.tests, func(t laborder.OrderedTest) bool { return t.InvoiceID != shadowID })
		m.st.bundles = filter(m.st.bundles, func(b laborder.ResultBundle) bool { return b.InvoiceID != shadowID })
		m.st.items = filter(m.st.items, func(it laborder.OrderedBillableItem) bool { return it.InvoiceID != shadowID })
		m.st.txs = filter(m.st.txs, func(t laborder.Transaction) bool { return t.InvoiceID != shadowID })
		delete(m.st.primals, shadowID)
		delete(m.st.masters, shadowID)
		delete(m.st.orders, shadowID)
		return nil
	})
}

func (m *memStore) UpdateOrderTime(_ context.Context, shadowID int64, at time.Time) error {
	o, ok := m.st.orders[shadowID]
	if !ok {
		return laborder.ErrNotFound
	}
	o.OrderDateTime = at
	m.st.orders[shadowID] = o
	return nil
}

// workshift.Repository

func (m *memStore) FindForDay(_ context.Context, userID int64, day time.Time) (*workshift.WorkShift, error) {
	var found *workshift.WorkShift
	for _, ws := range m.st.shifts {
		if ws.UserID == userID && clock.Day(ws.StartTime).Equal(clock.Day(day)) && (found == nil || ws.ID < found.ID) {
			cp := ws
			found = &cp
		}
	}
	if found == nil {
		return nil, workshift.ErrNotFound
	}
	return found, nil
}

func (m *memStore) Create(_ context.Context, ws *workshift.WorkShift) error {
	ws.ID = m.id()
	m.st.shifts[ws.ID] = *ws
	return nil
}

func (m *memStore) Get(_ context.Context, id int64) (*workshift.WorkShift, error) {
	ws, ok := m.st.shifts[id]
	if !ok {
		return nil, workshift.ErrNotFound
	}
	return &ws, nil
}

func (m *memStore) PaymentTotal(_ context.Context, id int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, t := range m.st.txs {
		if t.WorkShiftID != nil && *t.WorkShiftID == id && t.IsPayment() {
			total = total.Add(t.TxAmount)
		}
	}
	return total, nil
}

func (m *memStore) UpdateTotals(_ context.Context, id int64, received, final decimal.Decimal, at time.Time) error {
	ws, ok := m.st.shifts[id]
	if !ok {
		return workshift.ErrNotFound
	}
	ws.ReceiveAmount, ws.FinalBalance, ws.LastUpdated = received, final, at
	m.st.shifts[id] = ws
	return nil
}

func (m *memStore) AssignOrder(_ context.Context, invoiceID, shiftID int64) error {
	o, ok := m.st.orders[invoiceID]
	if !ok {
		return laborder.ErrNotFound
	}
	id := shiftID
	o.WorkShiftID = &id
	m.st.orders[invoiceID] = o
	for i := range m.st.txs {
		if m.st.txs[i].InvoiceID == invoiceID {
			m.st.txs[i].WorkShiftID = &id
		}
	}
	return nil
}

func (m *memStore) DeleteForDay(_ context.Context, day time.Time) (int64, error) {
	var n int64
	for id, ws := range m.st.shifts {
		if clock.Day(ws.StartTime).Equal(clock.Day(day)) {
			delete(m.st.shifts, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) shiftTotal(id int64) decimal.Decimal {
	return m.st.shifts[id].ReceiveAmount
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := in[:0:0]
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// -- Source --

type memSource struct {
	orders  []*laborder.Order
	masters map[int64]*laborder.Invoice
	txs     map[int64][]*laborder.Transaction
	tests   map[int64][]*laborder.OrderedTest
	bundles map[int64][]*laborder.ResultBundle
	catalog []laborder.LabTest
}

func newMemSource() *memSource {
	return &memSource{
		masters: make(map[int64]*laborder.Invoice),
		txs:     make(map[int64][]*laborder.Transaction),
		tests:   make(map[int64][]*laborder.OrderedTest),
		bundles: make(map[int64][]*laborder.ResultBundle),
		catalog: []laborder.LabTest{{ID: 101, LabID: 1, Name: "LFT"}},
	}
}

// add creates an order with one payment of net and one refund, a catalog test
// and a bundle of its lab.
func (s *memSource) add(id int64, at time.Time, net int64, user *int64) {
	s.orders = append(s.orders, &laborder.Order{
		InvoiceID: id, OrderID: "ORD", OrderDateTime: at, LastModified: at,
		OrderingUserID: user, FirstName: "Patient",
	})
	s.masters[id] = &laborder.Invoice{InvoiceID: id, DateCreated: at, NetPayable: decimal.NewFromInt(net)}
	s.txs[id] = []*laborder.Transaction{
		{ID: id * 10, InvoiceID: id, PerformingUserID: user, TxTime: at, TxType: laborder.TxPayment, TxAmount: decimal.NewFromInt(net)},
		{ID: id*10 + 1, InvoiceID: id, PerformingUserID: user, TxTime: at, TxType: laborder.TxRefund, TxAmount: decimal.NewFromInt(3)},
	}
	s.tests[id] = []*laborder.OrderedTest{
		{ID: id * 100, InvoiceID: id, LabTestID: 101, LabID: 1},
		{ID: id*100 + 1, InvoiceID: id, LabTestID: 999, LabID: 1},
	}
	s.bundles[id] = []*laborder.ResultBundle{{ID: id * 1000, InvoiceID: id, LabID: 1}}
}

func (s *memSource) ListOrders(_ context.Context, day time.Time, afterID int64) ([]*laborder.Order, error) {
	var out []*laborder.Order
	for _, o := range s.orders {
		if o.InvoiceID > afterID && clock.Day(o.OrderDateTime).Equal(clock.Day(day)) {
			cp := *o
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InvoiceID < out[j].InvoiceID })
	return out, nil
}

func (s *memSource) GetMaster(_ context.Context, id int64) (*laborder.Invoice, error) {
	if inv, ok := s.masters[id]; ok {
		return inv, nil
	}
	return nil, laborder.ErrNotFound
}

func (s *memSource) GetPrimal(ctx context.Context, id int64) (*laborder.Invoice, error) {
	return s.GetMaster(ctx, id)
}

func (s *memSource) ListTransactions(_ context.Context, id int64) ([]*laborder.Transaction, error) {
	return s.txs[id], nil
}

// ListTests and ListBundles hand out copies: the scanner mutates what it receives.
func (s *memSource) ListTests(_ context.Context, id int64) ([]*laborder.OrderedTest, error) {
	var out []*laborder.OrderedTest
	for _, t := range s.tests[id] {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memSource) ListItems(_ context.Context, id int64) ([]*laborder.OrderedBillableItem, error) {
	return []*laborder.OrderedBillableItem{{ID: id, InvoiceID: id, UnitPrice: decimal.NewFromInt(50), Quantity: 1}}, nil
}

func (s *memSource) ListBundles(_ context.Context, id int64) ([]*laborder.ResultBundle, error) {
	var out []*laborder.ResultBundle
	for _, b := range s.bundles[id] {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memSource) ActiveLabTests(context.Context) ([]laborder.LabTest, error) { return s.catalog, nil }

func (s *memSource) ActiveStaff(context.Context) ([]laborder.StaffUser, error) {
	return []laborder.StaffUser{{ID: 7}, {ID: 8}}, nil
}
