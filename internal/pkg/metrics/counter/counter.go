package counter

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"
)

const (
	messagesKey   = "ghost:counters:messages"
	lastActiveKey = "ghost:counters:last_active"
)

// ActivitySink receives the drained per-bot activity.
type ActivitySink interface {
	UpdateTenantActivity(ctx context.Context, tenantBotID uint, ts time.Time, count int64) error
}

// ActivityCounter buffers message counters and last-active timestamps in
// Redis so workers do not write the tenant row on every message.
type ActivityCounter struct {
	rdb *redis.Client
}

func NewActivityCounter(rdb *redis.Client) *ActivityCounter {
	return &ActivityCounter{rdb: rdb}
}

// RecordActivity increments the pending message counter of a bot.
func (c *ActivityCounter) RecordActivity(ctx context.Context, tenantBotID uint, ts time.Time, count int64) error {
	field := strconv.FormatUint(uint64(tenantBotID), 10)
	pipe := c.rdb.TxPipeline()
	pipe.HIncrBy(ctx, messagesKey, field, count)
	pipe.HSet(ctx, lastActiveKey, field, ts.UnixMilli())
	_, err := pipe.Exec(ctx)
	return err
}

type pending struct {
	id    uint
	count int64
	ts    time.Time
}

// Flush drains the buffered counters into sink. Entries the sink fails to
// store are put back so the next flush retries them.
func (c *ActivityCounter) Flush(ctx context.Context, sink ActivitySink) (int, error) {
	suffix := time.Now().UnixNano()
	tmpMessages := fmt.Sprintf("%s:tmp:%d", messagesKey, suffix)
	tmpLastActive := fmt.Sprintf("%s:tmp:%d", lastActiveKey, suffix)

	// Atomically move the hashes to temp keys for draining
	hasMessages, err := c.rename(ctx, messagesKey, tmpMessages)
	if err != nil {
		return 0, err
	}
	hasLastActive, err := c.rename(ctx, lastActiveKey, tmpLastActive)
	if err != nil {
		return 0, err
	}
	// Ensure cleanup of tmp keys even if later steps fail
	defer c.rdb.Del(ctx, tmpMessages, tmpLastActive)

	if !hasMessages && !hasLastActive {
		return 0, nil
	}

	counts := map[string]string{}
	if hasMessages {
		if counts, err = c.rdb.HGetAll(ctx, tmpMessages).Result(); err != nil {
			return 0, err
		}
	}
	stamps := map[string]string{}
	if hasLastActive {
		if stamps, err = c.rdb.HGetAll(ctx, tmpLastActive).Result(); err != nil {
			return 0, err
		}
	}

	items := collect(counts, stamps)
	flushed := 0
	for _, p := range items {
		if err := sink.UpdateTenantActivity(ctx, p.id, p.ts, p.count); err != nil {
			log.Warnf("[Counter] Failed to flush activity of bot %d, requeueing: %v", p.id, err)
			if rqErr := c.RecordActivity(ctx, p.id, p.ts, p.count); rqErr != nil {
				log.Errorf("[Counter] Failed to requeue activity of bot %d: %v", p.id, rqErr)
			}
			continue
		}
		flushed++
	}
	return flushed, nil
}

func (c *ActivityCounter) rename(ctx context.Context, from, to string) (bool, error) {
	if err := c.rdb.Do(ctx, "RENAME", from, to).Err(); err != nil {
		// If key does not exist, nothing to flush
		if strings.Contains(strings.ToLower(err.Error()), "no such key") || err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func collect(counts, stamps map[string]string) []pending {
	byID := map[uint]*pending{}
	get := func(field string) *pending {
		id, err := strconv.ParseUint(field, 10, 64)
		if err != nil || id == 0 {
			return nil
		}
		p, ok := byID[uint(id)]
		if !ok {
			p = &pending{id: uint(id)}
			byID[uint(id)] = p
		}
		return p
	}
	for field, v := range counts {
		inc, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if p := get(field); p != nil {
			p.count += inc
		}
	}
	for field, v := range stamps {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if p := get(field); p != nil {
			p.ts = time.UnixMilli(ms).UTC()
		}
	}

	out := make([]pending, 0, len(byID))
	for _, p := range byID {
		if p.count == 0 && p.ts.IsZero() {
			continue
		}
		if p.ts.IsZero() {
			p.ts = time.Now().UTC()
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}
