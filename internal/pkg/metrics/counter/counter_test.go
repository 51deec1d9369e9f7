package counter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sinkCall struct {
	id    uint
	ts    time.Time
	count int64
}

type recordingSink struct {
	calls  []sinkCall
	failID uint
}

func (s *recordingSink) UpdateTenantActivity(ctx context.Context, id uint, ts time.Time, count int64) error {
	if id == s.failID {
		return errors.New("db down")
	}
	s.calls = append(s.calls, sinkCall{id: id, ts: ts, count: count})
	return nil
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:6379", DB: 9, DialTimeout: 200 * time.Millisecond})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not reachable: %v", err)
	}
	t.Cleanup(func() {
		rdb.Del(context.Background(), messagesKey, lastActiveKey)
		_ = rdb.Close()
	})
	rdb.Del(context.Background(), messagesKey, lastActiveKey)
	return rdb
}

func TestCollect(t *testing.T) {
	items := collect(
		map[string]string{"2": "3", "1": "1", "bad": "5", "3": "x"},
		map[string]string{"2": "1700000000000", "4": "1700000001000"},
	)
	require.Len(t, items, 3)
	assert.Equal(t, uint(1), items[0].id)
	assert.Equal(t, int64(1), items[0].count)
	assert.False(t, items[0].ts.IsZero())
	assert.Equal(t, uint(2), items[1].id)
	assert.Equal(t, int64(3), items[1].count)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), items[1].ts)
	assert.Equal(t, uint(4), items[2].id)
	assert.Equal(t, int64(0), items[2].count)
}

func TestRecordActivity_UnreachableRedis(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         "127.0.0.1:0",
		DialTimeout:  100 * time.Millisecond,
		ReadTimeout:  100 * time.Millisecond,
		WriteTimeout: 100 * time.Millisecond,
		PoolTimeout:  100 * time.Millisecond,
	})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewActivityCounter(rdb)
	assert.Error(t, c.RecordActivity(context.Background(), 1, time.Now(), 1))
}

func TestFlush_DrainsAndRequeuesFailures(t *testing.T) {
	ctx := context.Background()
	c := NewActivityCounter(testRedis(t))

	ts := time.Now().UTC().Truncate(time.Millisecond)
	require.NoError(t, c.RecordActivity(ctx, 1, ts, 1))
	require.NoError(t, c.RecordActivity(ctx, 1, ts, 1))
	require.NoError(t, c.RecordActivity(ctx, 2, ts, 1))

	sink := &recordingSink{failID: 2}
	n, err := c.Flush(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, sink.calls, 1)
	assert.Equal(t, sinkCall{id: 1, ts: ts, count: 2}, sink.calls[0])

	sink.failID = 0
	sink.calls = nil
	n, err = c.Flush(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, uint(2), sink.calls[0].id)

	n, err = c.Flush(ctx, sink)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
