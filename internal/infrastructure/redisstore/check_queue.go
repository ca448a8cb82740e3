package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/execution-hub/bizrules/internal/domain/sla"
)

// CheckQueue implements sla.CheckQueue. Pending entry ids live in a sorted set scored
// by check time; entries themselves are JSON strings indexed per ticket.
type CheckQueue struct {
	c *Client
}

func NewCheckQueue(c *Client) *CheckQueue {
	return &CheckQueue{c: c}
}

func (q *CheckQueue) dueKey() string {
	return q.c.key("sla", "checks", "due")
}

func (q *CheckQueue) entryKey(id uuid.UUID) string {
	return q.c.key("sla", "check", id.String())
}

func (q *CheckQueue) ticketKey(ticketID string) string {
	return q.c.key("sla", "checks", "ticket", ticketID)
}

func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func (q *CheckQueue) Enqueue(ctx context.Context, entries []*sla.CheckEntry) error {
	if len(entries) == 0 {
		return nil
	}
	_, err := q.c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, e := range entries {
			b, err := json.Marshal(e)
			if err != nil {
				return err
			}
			p.Set(ctx, q.entryKey(e.ID), b, 0)
			p.SAdd(ctx, q.ticketKey(e.TicketID), e.ID.String())
			if e.Status == sla.CheckPending {
				p.ZAdd(ctx, q.dueKey(), redis.Z{Score: score(e.CheckTime), Member: e.ID.String()})
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue checks: %w", err)
	}
	return nil
}

func (q *CheckQueue) Due(ctx context.Context, now time.Time, limit int) ([]*sla.CheckEntry, error) {
	rng := &redis.ZRangeBy{Min: "-inf", Max: strconv.FormatInt(now.UnixMilli(), 10)}
	if limit > 0 {
		rng.Count = int64(limit)
	}
	ids, err := q.c.rdb.ZRangeByScore(ctx, q.dueKey(), rng).Result()
	if err != nil {
		return nil, err
	}
	entries, err := q.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := entries[:0]
	for _, e := range entries {
		if e.Status == sla.CheckPending {
			out = append(out, e)
		}
	}
	return out, nil
}

func (q *CheckQueue) MarkProcessed(ctx context.Context, id uuid.UUID, at time.Time) error {
	return q.mark(ctx, id, func(e *sla.CheckEntry) {
		e.Status = sla.CheckProcessed
		e.ProcessedAt = &at
	})
}

func (q *CheckQueue) MarkFailed(ctx context.Context, id uuid.UUID, at time.Time, reason string) error {
	return q.mark(ctx, id, func(e *sla.CheckEntry) {
		e.Status = sla.CheckFailed
		e.ProcessedAt = &at
		e.Error = &reason
	})
}

func (q *CheckQueue) mark(ctx context.Context, id uuid.UUID, apply func(*sla.CheckEntry)) error {
	key := q.entryKey(id)
	err := q.c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var e sla.CheckEntry
		if err := json.Unmarshal(b, &e); err != nil {
			return err
		}
		apply(&e)
		out, err := json.Marshal(&e)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, out, 0)
			p.ZRem(ctx, q.dueKey(), id.String())
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("mark check %s: %w", id, err)
	}
	return nil
}

func (q *CheckQueue) CancelPending(ctx context.Context, ticketID string) (int, error) {
	entries, err := q.ListByTicket(ctx, ticketID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Status != sla.CheckPending {
			continue
		}
		if err := q.mark(ctx, e.ID, func(e *sla.CheckEntry) {
			if e.Status == sla.CheckPending {
				e.Status = sla.CheckCancelled
			}
		}); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (q *CheckQueue) ListByTicket(ctx context.Context, ticketID string) ([]*sla.CheckEntry, error) {
	ids, err := q.c.rdb.SMembers(ctx, q.ticketKey(ticketID)).Result()
	if err != nil {
		return nil, err
	}
	return q.load(ctx, ids)
}

func (q *CheckQueue) load(ctx context.Context, ids []string) ([]*sla.CheckEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, 0, len(ids))
	for _, s := range ids {
		id, err := uuid.Parse(s)
		if err != nil {
			continue
		}
		keys = append(keys, q.entryKey(id))
	}
	vals, err := q.c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]*sla.CheckEntry, 0, len(vals))
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		var e sla.CheckEntry
		if err := json.Unmarshal([]byte(s), &e); err != nil {
			return nil, fmt.Errorf("decode check entry: %w", err)
		}
		out = append(out, &e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CheckTime.Equal(out[j].CheckTime) {
			return out[i].CheckType < out[j].CheckType
		}
		return out[i].CheckTime.Before(out[j].CheckTime)
	})
	return out, nil
}
