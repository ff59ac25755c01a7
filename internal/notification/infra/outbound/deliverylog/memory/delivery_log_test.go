package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/usersync/internal/notification/domain"
)

func TestDeliveryLogMemory_KeepsMostRecentInOrder(t *testing.T) {
	l := NewDeliveryLogMemory(3)
	ctx := context.Background()
	for _, e := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, l.Record(ctx, domain.DeliveryAttempt{Email: e}))
	}

	all, err := l.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "c", all[0].Email)
	assert.Equal(t, "e", all[2].Email)

	last, _ := l.Recent(ctx, 2)
	require.Len(t, last, 2)
	assert.Equal(t, "d", last[0].Email)
}

func TestDeliveryLogMemory_Empty(t *testing.T) {
	l := NewDeliveryLogMemory(2)
	got, err := l.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDeliveryLogMemory_FailureRate(t *testing.T) {
	l := NewDeliveryLogMemory(10)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	rate, err := l.FailureRate(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, rate)

	for i, ok := range []bool{true, false, true, false} {
		require.NoError(t, l.Record(ctx, domain.DeliveryAttempt{Success: ok, At: base.Add(time.Duration(i) * time.Minute)}))
	}
	// fuera del rango
	require.NoError(t, l.Record(ctx, domain.DeliveryAttempt{Success: false, At: base.Add(2 * time.Hour)}))

	rate, err = l.FailureRate(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	assert.InDelta(t, 0.5, rate, 1e-9)
}
