package lock_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ehr/labshadow/internal/platform/lock"
	"github.com/ehr/labshadow/internal/testutil"
)

func TestNoop(t *testing.T) {
	ctx := context.Background()
	l := lock.NewNoop()

	first, err := l.Obtain(ctx, "shadow")
	require.NoError(t, err)
	second, err := l.Obtain(ctx, "shadow")
	require.NoError(t, err)

	require.NoError(t, first.Refresh(ctx))
	require.NoError(t, first.Release(ctx))
	require.NoError(t, second.Release(ctx))
}

func TestAdvisoryKey_Stable(t *testing.T) {
	require.Equal(t, lock.AdvisoryKey("labshadow:shadow"), lock.AdvisoryKey("labshadow:shadow"))
	require.NotEqual(t, lock.AdvisoryKey("labshadow:shadow"), lock.AdvisoryKey("labshadow:other"))
}

func TestAdvisory_SingleHolder(t *testing.T) {
	pool := testutil.NewTestPool(t)
	ctx := context.Background()
	l := lock.NewAdvisory(pool)

	lease, err := l.Obtain(ctx, "labshadow:test-run")
	require.NoError(t, err)

	_, err = l.Obtain(ctx, "labshadow:test-run")
	require.True(t, errors.Is(err, lock.ErrNotObtained), "second obtain should fail, got %v", err)

	require.NoError(t, lease.Release(ctx))

	again, err := l.Obtain(ctx, "labshadow:test-run")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedis_SingleHolder(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	rdb := redis.NewClient(opts)
	t.Cleanup(func() { _ = rdb.Close() })

	ctx := context.Background()
	l := lock.NewRedis(rdb, 5*time.Second)

	lease, err := l.Obtain(ctx, "labshadow:test-run")
	require.NoError(t, err)

	_, err = l.Obtain(ctx, "labshadow:test-run")
	require.ErrorIs(t, err, lock.ErrNotObtained)

	require.NoError(t, lease.Refresh(ctx))
	require.NoError(t, lease.Release(ctx))
}
