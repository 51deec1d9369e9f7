package botmanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/engine"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/ghost"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/ghost/ghosttest"
	metrics "github.com/ManuelReschke/GhostRelay/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/telegram"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/telegram/telegramtest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownerChat int64 = 555

type countingFlusher struct {
	mu      sync.Mutex
	flushes int
}

func (c *countingFlusher) Flush(ctx context.Context, sink metrics.ActivitySink) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushes++
	return 0, nil
}

func (c *countingFlusher) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.flushes
}

func newTestManager(t *testing.T, store *ghosttest.Store, provider *telegramtest.Provider, counter CounterFlusher) *Manager {
	t.Helper()
	m := New(store, ghost.Deps{
		Provider:  provider,
		Decryptor: ghosttest.PlainDecryptor{},
		Engine:    engine.New(engine.DefaultConfig()),
		Activity:  store,
	}, counter, Config{ReconcileInterval: time.Hour, CounterFlushInterval: 10 * time.Millisecond})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

func botWithStatus(id uint, credential, status string) models.TenantBot {
	bot := ghosttest.ActiveBot(id, credential, ownerChat)
	bot.Status = status
	return bot
}

func TestReconcile_LiveSetMatchesActiveSet(t *testing.T) {
	store := ghosttest.NewStore()
	provider := telegramtest.NewProvider()
	store.Put(botWithStatus(1, "tok-1", models.BOT_STATUS_ACTIVE))
	store.Put(botWithStatus(2, "tok-2", models.BOT_STATUS_PENDING))
	store.Put(botWithStatus(3, "tok-3", models.BOT_STATUS_SUSPENDED))
	lapsed := botWithStatus(4, "tok-4", models.BOT_STATUS_ACTIVE)
	past := time.Now().UTC().Add(-time.Minute)
	lapsed.TrialExpiresAt = &past
	store.Put(lapsed)

	m := newTestManager(t, store, provider, nil)
	res, err := m.Reconcile(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []uint{4}, res.Expired)
	assert.Equal(t, []uint{1}, res.Started)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []uint{1}, m.LiveIDs())
	assert.Equal(t, models.BOT_STATUS_INACTIVE, store.Tenant(4).Status)
	assert.Zero(t, provider.Opens("tok-2"))
	assert.Zero(t, provider.Opens("tok-4"))

	res, err = m.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Started)
	assert.Equal(t, 1, provider.Opens("tok-1"))
}

func TestStartStop_Idempotent(t *testing.T) {
	store := ghosttest.NewStore()
	provider := telegramtest.NewProvider()
	store.Put(botWithStatus(1, "tok-1", models.BOT_STATUS_ACTIVE))
	store.Put(botWithStatus(2, "tok-2", models.BOT_STATUS_PENDING))
	m := newTestManager(t, store, provider, nil)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, 1))
	require.NoError(t, m.Start(ctx, 1))
	assert.Equal(t, 1, provider.Opens("tok-1"))

	assert.ErrorIs(t, m.Start(ctx, 2), ErrNotActive)
	assert.Zero(t, provider.Opens("tok-2"))

	assert.True(t, m.Stop(1))
	assert.False(t, m.Stop(1))
	require.NoError(t, m.WaitDrained(ctx, 1))
	assert.True(t, provider.Session("tok-1").Closed())
	assert.Empty(t, m.LiveIDs())
}

func TestStart_ConcurrentCallsOpenOnce(t *testing.T) {
	store := ghosttest.NewStore()
	provider := telegramtest.NewProvider()
	provider.SetOpenDelay(20 * time.Millisecond)
	store.Put(botWithStatus(1, "tok-1", models.BOT_STATUS_ACTIVE))
	m := newTestManager(t, store, provider, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Start(ctx, 1))
		}()
	}
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Reconcile(ctx)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, provider.Opens("tok-1"))
	assert.Equal(t, []uint{1}, m.LiveIDs())
	st, err := m.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
}

func TestStatus(t *testing.T) {
	store := ghosttest.NewStore()
	provider := telegramtest.NewProvider()
	store.Put(botWithStatus(1, "tok-1", models.BOT_STATUS_ACTIVE))
	m := newTestManager(t, store, provider, nil)
	ctx := context.Background()

	st, err := m.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BOT_STATUS_ACTIVE, st.State)
	assert.True(t, st.Entitled)
	assert.Nil(t, st.Worker)

	require.NoError(t, m.Start(ctx, 1))
	st, err = m.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, StateRunning, st.State)
	require.NotNil(t, st.Worker)
	assert.NotEmpty(t, st.Worker.SessionID)

	st, err = m.Status(ctx, 404)
	require.NoError(t, err)
	assert.Equal(t, StateNotFound, st.State)

	all, err := m.ListStatuses(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, StateRunning, all[0].State)
}

func TestReconcile_StopsTenantsThatLeftActive(t *testing.T) {
	store := ghosttest.NewStore()
	provider := telegramtest.NewProvider()
	store.Put(botWithStatus(1, "tok-1", models.BOT_STATUS_ACTIVE))
	m := newTestManager(t, store, provider, nil)
	ctx := context.Background()

	_, err := m.Reconcile(ctx)
	require.NoError(t, err)
	require.Equal(t, []uint{1}, m.LiveIDs())

	store.SetStatus(1, models.BOT_STATUS_SUSPENDED)
	res, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, res.Stopped)
	require.NoError(t, m.WaitDrained(ctx, 1))
	assert.Empty(t, m.LiveIDs())
	assert.True(t, provider.Session("tok-1").Closed())
}

func TestReconcile_LapsedTenantStopsReplying(t *testing.T) {
	store := ghosttest.NewStore()
	provider := telegramtest.NewProvider()
	bot := botWithStatus(1, "tok-1", models.BOT_STATUS_ACTIVE)
	store.Put(bot)
	m := newTestManager(t, store, provider, nil)
	ctx := context.Background()

	_, err := m.Reconcile(ctx)
	require.NoError(t, err)
	session := provider.Session("tok-1")

	past := time.Now().UTC().Add(-time.Second)
	bot.TrialExpiresAt = &past
	store.Put(bot)

	res, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, res.Expired)
	assert.Equal(t, []uint{1}, res.Stopped)
	require.NoError(t, m.WaitDrained(ctx, 1))

	assert.False(t, session.Deliver(telegram.Inbound{ChatID: 900, ChatType: telegram.ChatPrivate, SenderID: 900, Text: "hello"}))
	assert.Empty(t, store.Conversations(1))
	assert.Equal(t, models.BOT_STATUS_INACTIVE, store.Tenant(1).Status)
}

func TestReconcile_IsolatesStartFailures(t *testing.T) {
	store := ghosttest.NewStore()
	provider := telegramtest.NewProvider()
	store.Put(botWithStatus(1, "tok-1", models.BOT_STATUS_ACTIVE))
	store.Put(botWithStatus(2, "tok-2", models.BOT_STATUS_ACTIVE))
	provider.Reject("tok-2", true)
	m := newTestManager(t, store, provider, nil)
	ctx := context.Background()

	res, err := m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, res.Started)
	assert.Contains(t, res.Failed, uint(2))
	assert.Equal(t, models.BOT_STATUS_ACTIVE, store.Tenant(2).Status)

	provider.Reject("tok-2", false)
	res, err = m.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint{2}, res.Started)
	assert.Equal(t, []uint{1, 2}, m.LiveIDs())
}

func TestReconcile_ListFailure(t *testing.T) {
	store := ghosttest.NewStore()
	store.FailLists = true
	m := newTestManager(t, store, telegramtest.NewProvider(), nil)

	_, err := m.Reconcile(context.Background())
	assert.Error(t, err)
	assert.Empty(t, m.LiveIDs())
}

func TestRestart(t *testing.T) {
	store := ghosttest.NewStore()
	provider := telegramtest.NewProvider()
	store.Put(botWithStatus(1, "tok-1", models.BOT_STATUS_ACTIVE))
	m := newTestManager(t, store, provider, nil)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx, 1))
	first := provider.Session("tok-1")

	require.NoError(t, m.Restart(ctx, 1))
	assert.Equal(t, 2, provider.Opens("tok-1"))
	assert.True(t, first.Closed())
	assert.NotSame(t, first, provider.Session("tok-1"))
	assert.Equal(t, []uint{1}, m.LiveIDs())
}

func TestSendAsOwner(t *testing.T) {
	store := ghosttest.NewStore()
	provider := telegramtest.NewProvider()
	store.Put(botWithStatus(1, "tok-1", models.BOT_STATUS_ACTIVE))
	m := newTestManager(t, store, provider, nil)
	ctx := context.Background()

	assert.ErrorIs(t, m.SendAsOwner(ctx, 1, 900, "hi"), ErrNotRunning)

	require.NoError(t, m.Start(ctx, 1))
	require.NoError(t, m.SendAsOwner(ctx, 1, 900, "I will call you later"))
	sent := provider.Session("tok-1").Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(900), sent[0].ChatID)
	assert.Equal(t, "I will call you later", sent[0].Text)
}

func TestRetrain(t *testing.T) {
	store := ghosttest.NewStore()
	provider := telegramtest.NewProvider()
	store.Put(botWithStatus(1, "tok-1", models.BOT_STATUS_ACTIVE))
	m := newTestManager(t, store, provider, nil)
	ctx := context.Background()

	now := time.Now().UTC()
	for _, text := range []string{"where is the invoice", "invoice please"} {
		conv := models.NewConversation(1, 900, 900, ownerChat, models.MessageTypePrivate, text, now)
		conv.SetReply("sending the invoice", "heuristic", true, now)
		require.NoError(t, store.SaveConversation(ctx, conv))
	}

	n, err := m.Retrain(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rec := store.PatternRecord(1)
	require.NotNil(t, rec)
	assert.Equal(t, int64(2), rec.Outbound.Data()["invoice"])

	require.NoError(t, m.Start(ctx, 1))
	n, err = m.Retrain(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	rec = store.PatternRecord(1)
	assert.Equal(t, int64(4), rec.TrainingCount)
	assert.Equal(t, int64(4), rec.Outbound.Data()["invoice"], "retraining adds to what was learned")

	_, err = m.Retrain(ctx, 404)
	assert.Error(t, err)
}

func TestLoop_StartAndShutdown(t *testing.T) {
	store := ghosttest.NewStore()
	provider := telegramtest.NewProvider()
	store.Put(botWithStatus(1, "tok-1", models.BOT_STATUS_ACTIVE))
	counter := &countingFlusher{}
	m := newTestManager(t, store, provider, counter)

	m.StartLoop()
	m.StartLoop()

	require.Eventually(t, func() bool {
		return len(m.LiveIDs()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return counter.count() > 0
	}, 2*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	assert.Empty(t, m.LiveIDs())
	assert.True(t, provider.Session("tok-1").Closed())
	st, err := m.Status(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, models.BOT_STATUS_ACTIVE, st.State)
}
