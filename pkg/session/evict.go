package session

import (
	"context"
	"time"
)

// sweeper periodically flushes and evicts sessions that have been idle past a
// TTL. Evicted sessions are repopulated from the durable store on next access
// through the ordinary miss path, so eviction bounds memory without losing
// state.
type sweeper struct {
	manager  *Manager
	ttl      time.Duration
	interval time.Duration

	done chan struct{}
	quit chan struct{}
}

func newSweeper(m *Manager, ttl, interval time.Duration) *sweeper {
	return &sweeper{
		manager:  m,
		ttl:      ttl,
		interval: interval,
		done:     make(chan struct{}),
		quit:     make(chan struct{}),
	}
}

func (s *sweeper) start() {
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.quit:
				return
			case <-ticker.C:
				s.manager.sweepIdle(time.Now().Add(-s.ttl))
			}
		}
	}()
}

func (s *sweeper) stop() {
	close(s.quit)
	<-s.done
}

// sweepIdle flushes then evicts every session idle since before the cutoff.
// A session that fails to flush stays cached so the pending mutation is not
// lost; it will be retried on the next sweep.
func (m *Manager) sweepIdle(cutoff time.Time) {
	for _, id := range m.cache.idleIDs(cutoff) {
		m.evictIfIdle(id, cutoff)
	}
	m.metrics.CacheSize.Set(float64(m.cache.Len()))
}

func (m *Manager) evictIfIdle(sessionID string, cutoff time.Time) {
	_ = m.cache.WithLock(sessionID, func() error {
		c := m.cache

		c.mu.Lock()
		entry, ok := c.entries[sessionID]
		if !ok || !entry.lastAccess.Before(cutoff) {
			c.mu.Unlock()
			return nil
		}
		snapshot := entry.session.Clone()
		c.mu.Unlock()

		// A queued or in-flight write-behind job for this session may carry a
		// snapshot older than the cache. Evicting now would let that stale
		// upsert land after the eviction flush and repopulate the cache from
		// it, losing acknowledged mutations. Holding the per-ID lock keeps
		// new flushes from being scheduled, so once the queue is clear of
		// this id it stays clear. Until then the entry stays cached and the
		// next sweep retries.
		if m.flusher.Pending(sessionID) {
			return nil
		}

		// Holding the per-ID lock keeps mutations out, but reads may still
		// touch lastAccess, so it is re-checked before removal.
		ctx, cancel := context.WithTimeout(context.Background(), m.flusher.cfg.FlushTimeout)
		err := m.store.Upsert(ctx, sessionID, snapshot)
		cancel()
		if err != nil {
			m.logger.Warn("eviction flush failed, keeping session cached",
				"session_id", sessionID,
				"err", err,
			)
			return nil
		}

		c.mu.Lock()
		if entry, ok := c.entries[sessionID]; ok && entry.lastAccess.Before(cutoff) {
			delete(c.entries, sessionID)
			m.metrics.Evictions.Inc()
		}
		c.mu.Unlock()
		return nil
	})
}
