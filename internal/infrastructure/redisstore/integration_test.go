//go:build integration
// +build integration

package redisstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/execution-hub/bizrules/internal/domain/sla"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	c := NewClient(rdb, "bizrules-test-"+uuid.NewString()+":")
	t.Cleanup(func() {
		ctx := context.Background()
		iter := rdb.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
		for iter.Next(ctx) {
			rdb.Del(ctx, iter.Val())
		}
		_ = c.Close()
	})
	return c
}

func TestTrackerRepository_Redis(t *testing.T) {
	ctx := context.Background()
	repo := NewTrackerRepository(newTestClient(t))
	start := time.Now().UTC().Truncate(time.Millisecond)

	tr := &sla.Tracker{TicketID: "T-1", StartTime: start, FirstResponseTarget: start.Add(time.Hour), ResolutionTarget: start.Add(8 * time.Hour)}
	require.NoError(t, repo.Create(ctx, tr))
	assert.ErrorIs(t, repo.Create(ctx, &sla.Tracker{TicketID: "T-1"}), sla.ErrVersionConflict)

	a, err := repo.GetByTicket(ctx, "T-1")
	require.NoError(t, err)
	b, err := repo.GetByTicket(ctx, "T-1")
	require.NoError(t, err)

	a.Pause("hold", start.Add(time.Minute))
	require.NoError(t, repo.Update(ctx, a))
	assert.Equal(t, int64(2), a.Version)

	b.EscalationLevel = 1
	assert.ErrorIs(t, repo.Update(ctx, b), sla.ErrVersionConflict)

	all, err := repo.List(ctx, sla.TrackerFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.True(t, all[0].IsPaused())

	missing, err := repo.GetByTicket(ctx, "T-404")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCheckQueue_Redis(t *testing.T) {
	ctx := context.Background()
	q := NewCheckQueue(newTestClient(t))
	base := time.Now().UTC().Truncate(time.Millisecond)
	tr := &sla.Tracker{TicketID: "T-1", StartTime: base, FirstResponseTarget: base.Add(time.Hour), ResolutionTarget: base.Add(8 * time.Hour)}
	require.NoError(t, q.Enqueue(ctx, sla.ScheduleChecks(tr, base)))

	due, err := q.Due(ctx, base.Add(46*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)

	require.NoError(t, q.MarkProcessed(ctx, due[0].ID, base))
	due, err = q.Due(ctx, base.Add(46*time.Minute), 10)
	require.NoError(t, err)
	assert.Len(t, due, 1)

	n, err := q.CancelPending(ctx, "T-1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	due, err = q.Due(ctx, base.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)
}
