package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ProxyTrader/internal/repository"
	"ProxyTrader/pkg/cache"
)

func TestLiveRunnerRefusesHeldLease(t *testing.T) {
	ctx := context.Background()
	store := repository.NewCacheStateStore(cache.NewMemoryCache(), time.Hour)
	ok, err := store.Acquire(ctx, "QQQ", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	r := NewLiveRunner(nil, nil, nil, "QQQ", []string{"TQQQ", "SQQQ"}, WithLease(store, time.Minute))
	err = r.Run(ctx)
	assert.ErrorIs(t, err, ErrLeaseHeld)
}
