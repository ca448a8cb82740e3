package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/execution-hub/bizrules/internal/domain/sla"
)

// TrackerRepository implements sla.TrackerRepository. Each tracker is a JSON string;
// updates use WATCH/MULTI so a concurrent writer aborts the transaction.
type TrackerRepository struct {
	c *Client
}

func NewTrackerRepository(c *Client) *TrackerRepository {
	return &TrackerRepository{c: c}
}

func (r *TrackerRepository) trackerKey(ticketID string) string {
	return r.c.key("sla", "tracker", ticketID)
}

func (r *TrackerRepository) indexKey() string {
	return r.c.key("sla", "trackers")
}

func (r *TrackerRepository) Create(ctx context.Context, t *sla.Tracker) error {
	t.Version = 1
	b, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ok, err := r.c.rdb.SetNX(ctx, r.trackerKey(t.TicketID), b, 0).Result()
	if err != nil {
		return fmt.Errorf("create tracker: %w", err)
	}
	if !ok {
		return sla.ErrVersionConflict
	}
	return r.c.rdb.SAdd(ctx, r.indexKey(), t.TicketID).Err()
}

func (r *TrackerRepository) GetByTicket(ctx context.Context, ticketID string) (*sla.Tracker, error) {
	b, err := r.c.rdb.Get(ctx, r.trackerKey(ticketID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeTracker(b)
}

func (r *TrackerRepository) Update(ctx context.Context, t *sla.Tracker) error {
	key := r.trackerKey(t.TicketID)
	err := r.c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return sla.ErrTrackerNotFound
		}
		if err != nil {
			return err
		}
		cur, err := decodeTracker(b)
		if err != nil {
			return err
		}
		if cur.Version != t.Version {
			return sla.ErrVersionConflict
		}
		next := *t
		next.Version++
		out, err := json.Marshal(&next)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, out, 0)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return sla.ErrVersionConflict
	}
	if err != nil {
		return err
	}
	t.Version++
	return nil
}

func (r *TrackerRepository) List(ctx context.Context, filter sla.TrackerFilter) ([]*sla.Tracker, error) {
	ids, err := r.c.rdb.SMembers(ctx, r.indexKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.trackerKey(id)
	}
	vals, err := r.c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	var out []*sla.Tracker
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		t, err := decodeTracker([]byte(s))
		if err != nil {
			return nil, err
		}
		if matchTracker(t, filter) {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func matchTracker(t *sla.Tracker, filter sla.TrackerFilter) bool {
	if filter.StartFrom != nil && t.StartTime.Before(*filter.StartFrom) {
		return false
	}
	if filter.StartTo != nil && !t.StartTime.Before(*filter.StartTo) {
		return false
	}
	if filter.Closed != nil && t.Closed != *filter.Closed {
		return false
	}
	return true
}

func decodeTracker(b []byte) (*sla.Tracker, error) {
	var t sla.Tracker
	if err := json.Unmarshal(b, &t); err != nil {
		return nil, fmt.Errorf("decode tracker: %w", err)
	}
	return &t, nil
}
