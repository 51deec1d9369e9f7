package botmanager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ManuelReschke/GhostRelay/app/models"
	"github.com/ManuelReschke/GhostRelay/app/repository"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/entitlements"
	"github.com/ManuelReschke/GhostRelay/internal/pkg/ghost"
	metrics "github.com/ManuelReschke/GhostRelay/internal/pkg/metrics/counter"
	"github.com/gofiber/fiber/v2/log"
)

const (
	StateRunning  = "running"
	StateDraining = "draining"
	StateNotFound = "not_found"
)

var (
	ErrNotActive  = errors.New("tenant bot is not active")
	ErrNotRunning = errors.New("tenant bot is not running")
	ErrDraining   = errors.New("tenant bot is still draining")
	ErrTraining   = errors.New("tenant bot is being retrained")
)

// Store is the persistence the runtime manager and its workers need.
type Store interface {
	ghost.Store
	ListActiveTenants(ctx context.Context) ([]models.TenantBot, error)
	ListTenants(ctx context.Context) ([]models.TenantBot, error)
	TransitionTenant(ctx context.Context, bot *models.TenantBot, fromStatus string) error
	ListConversations(ctx context.Context, tenantBotID uint, limit int) ([]models.Conversation, error)
	UpdateTenantActivity(ctx context.Context, tenantBotID uint, ts time.Time, count int64) error
}

// CounterFlusher drains buffered activity counters into a sink.
type CounterFlusher interface {
	Flush(ctx context.Context, sink metrics.ActivitySink) (int, error)
}

type Config struct {
	ReconcileInterval    time.Duration
	CounterFlushInterval time.Duration
	// RetrainHistory caps how many recent conversations a retrain reads.
	RetrainHistory int
}

func DefaultConfig() Config {
	return Config{
		ReconcileInterval:    time.Minute,
		CounterFlushInterval: 5 * time.Second,
		RetrainHistory:       1000,
	}
}

// Status describes the runtime state of one tenant bot.
type Status struct {
	TenantBotID  uint        `json:"tenant_bot_id"`
	State        string      `json:"state"`
	TenantStatus string      `json:"tenant_status,omitempty"`
	Username     string      `json:"username,omitempty"`
	Entitled     bool        `json:"entitled"`
	Worker       *ghost.Info `json:"worker,omitempty"`
}

// PassResult summarizes one reconciliation pass.
type PassResult struct {
	Expired []uint          `json:"expired"`
	Started []uint          `json:"started"`
	Stopped []uint          `json:"stopped"`
	Failed  map[uint]string `json:"failed"`
}

// Manager keeps the live worker set equal to the set of active tenant bots.
type Manager struct {
	store   Store
	deps    ghost.Deps
	counter CounterFlusher
	sweeper *entitlements.Sweeper
	cfg     Config

	// mu guards the registry.
	mu       sync.Mutex
	live     map[uint]*ghost.Worker
	draining map[uint]*ghost.Worker
	starting map[uint]struct{}
	training map[uint]struct{}

	// passMu keeps reconciliation passes from overlapping.
	passMu sync.Mutex

	loopMu             sync.Mutex
	running            bool
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	reconcileTicker    *time.Ticker
	counterFlushTicker *time.Ticker
}

// New creates a manager. deps.Store defaults to store, counter may be nil.
func New(store Store, deps ghost.Deps, counter CounterFlusher, cfg Config) *Manager {
	if deps.Store == nil {
		deps.Store = store
	}
	def := DefaultConfig()
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = def.ReconcileInterval
	}
	if cfg.CounterFlushInterval <= 0 {
		cfg.CounterFlushInterval = def.CounterFlushInterval
	}
	if cfg.RetrainHistory <= 0 {
		cfg.RetrainHistory = def.RetrainHistory
	}
	return &Manager{
		store:    store,
		deps:     deps,
		counter:  counter,
		sweeper:  entitlements.NewSweeper(store),
		cfg:      cfg,
		live:     map[uint]*ghost.Worker{},
		draining: map[uint]*ghost.Worker{},
		starting: map[uint]struct{}{},
		training: map[uint]struct{}{},
	}
}

// Status reports "running" or "draining" for a tenant with a worker, otherwise
// the stored lifecycle status, or "not_found".
func (m *Manager) Status(ctx context.Context, id uint) (Status, error) {
	bot, err := m.store.LoadTenant(ctx, id)
	if err != nil {
		if repository.IsNotFound(err) {
			return Status{TenantBotID: id, State: StateNotFound}, nil
		}
		return Status{}, err
	}
	return m.statusOf(bot), nil
}

func (m *Manager) statusOf(bot *models.TenantBot) Status {
	st := Status{
		TenantBotID:  bot.ID,
		State:        bot.Status,
		TenantStatus: bot.Status,
		Username:     bot.BotUsername,
		Entitled:     entitlements.IsEntitled(bot, m.now()),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.live[bot.ID]; ok {
		info := w.Info()
		st.State = StateRunning
		st.Worker = &info
	} else if w, ok := m.draining[bot.ID]; ok {
		info := w.Info()
		st.State = StateDraining
		st.Worker = &info
	}
	return st
}

// ListStatuses returns the status of every stored tenant bot.
func (m *Manager) ListStatuses(ctx context.Context) ([]Status, error) {
	bots, err := m.store.ListTenants(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, 0, len(bots))
	for i := range bots {
		out = append(out, m.statusOf(&bots[i]))
	}
	return out, nil
}

// LiveIDs returns the ids of running workers in ascending order.
func (m *Manager) LiveIDs() []uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]uint, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Start launches a worker for an active tenant. Starting a running tenant is
// a no-op.
func (m *Manager) Start(ctx context.Context, id uint) error {
	bot, err := m.store.LoadTenant(ctx, id)
	if err != nil {
		return err
	}
	return m.start(ctx, bot)
}

func (m *Manager) start(ctx context.Context, bot *models.TenantBot) error {
	if bot.Status != models.BOT_STATUS_ACTIVE {
		return ErrNotActive
	}

	m.mu.Lock()
	if _, ok := m.live[bot.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	if _, ok := m.starting[bot.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	if _, ok := m.draining[bot.ID]; ok {
		m.mu.Unlock()
		return ErrDraining
	}
	if _, ok := m.training[bot.ID]; ok {
		m.mu.Unlock()
		return ErrTraining
	}
	m.starting[bot.ID] = struct{}{}
	m.mu.Unlock()

	w, err := ghost.Start(ctx, bot, m.deps)

	m.mu.Lock()
	delete(m.starting, bot.ID)
	if err == nil {
		m.live[bot.ID] = w
	}
	m.mu.Unlock()

	if err != nil {
		return err
	}
	go m.monitor(w)
	return nil
}

// monitor removes a worker from the registry once its loop exited.
func (m *Manager) monitor(w *ghost.Worker) {
	<-w.Done()
	id := w.TenantID()

	m.mu.Lock()
	unexpected := false
	if m.live[id] == w {
		delete(m.live, id)
		unexpected = true
	}
	if m.draining[id] == w {
		delete(m.draining, id)
	}
	m.mu.Unlock()

	if unexpected {
		log.Warnf("[BotManager] Worker for bot %d exited on its own, restarting next pass", id)
	}
}

// Stop asks the worker of a tenant to stop and moves it to draining. It
// returns false when the tenant had no running worker.
func (m *Manager) Stop(id uint) bool {
	m.mu.Lock()
	w, ok := m.live[id]
	if ok {
		delete(m.live, id)
		m.draining[id] = w
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	w.Stop()
	log.Infof("[BotManager] Stopping worker for bot %d", id)
	return true
}

// WaitDrained blocks until the tenant has no draining worker.
func (m *Manager) WaitDrained(ctx context.Context, id uint) error {
	m.mu.Lock()
	w, ok := m.draining[id]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-w.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	// monitor may not have run yet.
	m.mu.Lock()
	if m.draining[id] == w {
		delete(m.draining, id)
	}
	m.mu.Unlock()
	return nil
}

// Restart stops the worker, waits for it to drain and starts a new one.
func (m *Manager) Restart(ctx context.Context, id uint) error {
	m.Stop(id)
	if err := m.WaitDrained(ctx, id); err != nil {
		return err
	}
	return m.Start(ctx, id)
}

// Reconcile runs one pass: expiry sweep, then stop workers of tenants that
// are no longer active and start workers for new active tenants. Failures of
// a single tenant are reported and retried by the next pass.
func (m *Manager) Reconcile(ctx context.Context) (PassResult, error) {
	m.passMu.Lock()
	defer m.passMu.Unlock()

	res := PassResult{Failed: map[uint]string{}}

	expired, err := m.sweeper.Sweep(ctx)
	if err != nil {
		log.Warnf("[BotManager] Expiry sweep failed: %v", err)
	}
	res.Expired = expired

	active, err := m.store.ListActiveTenants(ctx)
	if err != nil {
		return res, fmt.Errorf("list active tenants: %w", err)
	}

	wanted := make(map[uint]bool, len(active))
	for _, b := range active {
		wanted[b.ID] = true
	}

	for _, id := range m.LiveIDs() {
		if !wanted[id] && m.Stop(id) {
			res.Stopped = append(res.Stopped, id)
		}
	}

	for i := range active {
		bot := &active[i]
		if m.isLive(bot.ID) {
			continue
		}
		if err := m.start(ctx, bot); err != nil {
			if errors.Is(err, ErrDraining) || errors.Is(err, ErrTraining) {
				continue
			}
			res.Failed[bot.ID] = err.Error()
			log.Errorf("[BotManager] Failed to start bot %d: %v", bot.ID, err)
			continue
		}
		res.Started = append(res.Started, bot.ID)
	}

	if len(res.Started)+len(res.Stopped)+len(res.Failed) > 0 {
		log.Infof("[BotManager] Reconciled: %d started, %d stopped, %d failed, %d live",
			len(res.Started), len(res.Stopped), len(res.Failed), len(m.LiveIDs()))
	}
	return res, nil
}

func (m *Manager) isLive(id uint) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[id]
	return ok
}

// SendAsOwner delivers an operator authored message through a running bot.
func (m *Manager) SendAsOwner(ctx context.Context, id uint, chatID int64, text string) error {
	m.mu.Lock()
	w, ok := m.live[id]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	return w.Send(ctx, chatID, text)
}

// Retrain replays the conversation history of a tenant into its pattern
// store and returns the number of conversations read. Learned counts only
// grow. A running worker trains its cached store; otherwise starts are
// blocked until the store is saved.
func (m *Manager) Retrain(ctx context.Context, id uint) (int, error) {
	if _, err := m.store.LoadTenant(ctx, id); err != nil {
		return 0, err
	}
	history, err := m.store.ListConversations(ctx, id, m.cfg.RetrainHistory)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	w, live := m.live[id]
	if !live {
		if _, busy := m.training[id]; busy {
			m.mu.Unlock()
			return 0, ErrTraining
		}
		if _, ok := m.starting[id]; ok {
			m.mu.Unlock()
			return 0, ErrTraining
		}
		m.training[id] = struct{}{}
	}
	m.mu.Unlock()

	if live {
		if err := w.Retrain(ctx, history); err != nil {
			return 0, err
		}
	} else {
		defer func() {
			m.mu.Lock()
			delete(m.training, id)
			m.mu.Unlock()
		}()
		if err := m.WaitDrained(ctx, id); err != nil {
			return 0, err
		}
		store, err := m.store.LoadPatternStore(ctx, id)
		if err != nil {
			return 0, err
		}
		if store.Train(history) > 0 {
			if err := m.store.SavePatternStore(ctx, store); err != nil {
				return 0, err
			}
		}
	}
	log.Infof("[BotManager] Retrained bot %d from %d conversations", id, len(history))
	return len(history), nil
}

func (m *Manager) now() time.Time {
	if m.deps.Now != nil {
		return m.deps.Now()
	}
	return time.Now().UTC()
}
