package botmanager

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

const passTimeout = 2 * time.Minute

// StartLoop starts the reconciliation and counter flush loops. The first
// reconciliation runs immediately.
func (m *Manager) StartLoop() {
	m.loopMu.Lock()
	defer m.loopMu.Unlock()

	if m.running {
		return
	}

	m.stopCh = make(chan struct{})
	m.running = true
	log.Infof("[BotManager] Starting, reconcile every %s", m.cfg.ReconcileInterval)

	m.reconcileTicker = time.NewTicker(m.cfg.ReconcileInterval)
	m.wg.Add(1)
	go m.reconcileWorker(m.stopCh)

	if m.counter != nil {
		m.counterFlushTicker = time.NewTicker(m.cfg.CounterFlushInterval)
		m.wg.Add(1)
		go m.counterFlushWorker(m.stopCh)
	}
}

// Shutdown stops the loops, stops every worker and waits until all of them
// drained or ctx is done. Buffered counters are flushed last.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.loopMu.Lock()
	if m.running {
		log.Info("[BotManager] Stopping background loops...")
		if m.reconcileTicker != nil {
			m.reconcileTicker.Stop()
		}
		if m.counterFlushTicker != nil {
			m.counterFlushTicker.Stop()
		}
		close(m.stopCh)
		m.stopCh = nil
		m.running = false
		m.wg.Wait()
	}
	m.loopMu.Unlock()

	// No pass may start a worker after this point.
	m.passMu.Lock()
	defer m.passMu.Unlock()

	for _, id := range m.LiveIDs() {
		m.Stop(id)
	}

	m.mu.Lock()
	pending := make(map[uint]<-chan struct{}, len(m.draining))
	for id, w := range m.draining {
		pending[id] = w.Done()
	}
	m.mu.Unlock()

	var err error
	for id, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			log.Warnf("[BotManager] Bot %d did not drain before shutdown deadline", id)
			err = ctx.Err()
		}
		if err != nil {
			break
		}
	}

	m.mu.Lock()
	for id, w := range m.draining {
		select {
		case <-w.Done():
			delete(m.draining, id)
		default:
		}
	}
	m.mu.Unlock()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m.flushCounters(flushCtx)
	log.Info("[BotManager] Stopped")
	return err
}

func (m *Manager) reconcileWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	m.reconcileOnce(stopCh)
	for {
		select {
		case <-stopCh:
			log.Info("[BotManager] Reconcile worker stopping")
			return
		case <-m.reconcileTicker.C:
			m.reconcileOnce(stopCh)
		}
	}
}

func (m *Manager) reconcileOnce(stopCh <-chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), passTimeout)
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	if _, err := m.Reconcile(ctx); err != nil {
		log.Errorf("[BotManager] Reconcile error: %v", err)
	}
}

func (m *Manager) counterFlushWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			log.Info("[BotManager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			ctx, cancel := context.WithTimeout(context.Background(), m.cfg.CounterFlushInterval)
			m.flushCounters(ctx)
			cancel()
		}
	}
}

func (m *Manager) flushCounters(ctx context.Context) {
	if m.counter == nil {
		return
	}
	n, err := m.counter.Flush(ctx, m.store)
	if err != nil {
		log.Errorf("[BotManager] Counter flush error: %v", err)
		return
	}
	if n > 0 {
		log.Debugf("[BotManager] Flushed activity for %d bots", n)
	}
}
