package workshift

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/labshadow/internal/domain/laborder"
	"github.com/ehr/labshadow/internal/testutil"
)

func TestRepoPG_EnsureAndReconcile(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	m := newTestManager(NewRepo(pool))

	id, err := m.Ensure(ctx, 7, day.Add(9*time.Hour))
	require.NoError(t, err)
	again, err := m.Ensure(ctx, 7, day.Add(20*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, id, again)
	assert.Equal(t, 1, testutil.Count(t, ctx, pool, "work_shifts", "user_id = 7"))

	user := int64(7)
	testutil.InsertSourceOrder(t, ctx, pool, testutil.SourceOrder{
		ID: 1001, At: day.Add(9 * time.Hour), Net: 100, UserID: &user,
		Payments: []int64{60, 15}, Refunds: []int64{20},
	})

	// Nothing attached yet.
	require.NoError(t, m.Reconcile(ctx, id))
	ws, err := m.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, ws.ReceiveAmount.IsZero())

	require.NoError(t, m.Assign(ctx, 1001, id))
	for i := 0; i < 2; i++ {
		require.NoError(t, m.Reconcile(ctx, id))
		ws, err = m.repo.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, ws.ReceiveAmount.Equal(decimal.NewFromInt(75)), "receive_amount %s", ws.ReceiveAmount)
		assert.True(t, ws.FinalBalance.Equal(decimal.NewFromInt(75)), "final_balance %s", ws.FinalBalance)
		assert.Equal(t, 1, ws.NumOrders)
	}
}

func TestRepoPG_AssignUnknownOrder(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	m := newTestManager(NewRepo(pool))

	id, err := m.Ensure(ctx, 7, day)
	require.NoError(t, err)
	require.ErrorIs(t, m.Assign(ctx, 424242, id), laborder.ErrNotFound)
}

func TestRepoPG_DeleteForDay(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	repo := NewRepo(pool)
	m := newTestManager(repo)

	today, err := m.Ensure(ctx, 7, day)
	require.NoError(t, err)
	_, err = m.Ensure(ctx, 8, day)
	require.NoError(t, err)
	tomorrow, err := m.Ensure(ctx, 7, day.AddDate(0, 0, 1))
	require.NoError(t, err)

	user := int64(7)
	testutil.InsertSourceOrder(t, ctx, pool, testutil.SourceOrder{
		ID: 1001, At: day.Add(9 * time.Hour), Net: 10, UserID: &user, Payments: []int64{10},
	})
	require.NoError(t, m.Assign(ctx, 1001, today))

	n, err := repo.DeleteForDay(ctx, day)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = repo.Get(ctx, today)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = repo.Get(ctx, tomorrow)
	require.NoError(t, err)
	assert.Equal(t, 0, testutil.Count(t, ctx, pool, "invoice_transactions", "work_shift_id IS NOT NULL"))

	n, err = repo.DeleteForDay(ctx, day)
	require.NoError(t, err)
	assert.Zero(t, n)
}
