// Package session keeps one pipeline per client session.
//
// DESIGN: Sessions live in a ttlcache with touch-on-hit, so a session that
// keeps talking to the server never expires. Idle sessions and sessions
// past MaxSessions are evicted; eviction cancels the session context
// (stopping a running batch before its next file) and closes the pipeline.
//
// Concurrent first requests for the same id share one pipeline: the loader
// is wrapped in a singleflight group.
package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/compresr/shrinker/internal/pipeline"
)

// Defaults used when Config fields are zero.
const (
	DefaultTTL         = 2 * time.Hour
	DefaultMaxSessions = 1000
)

// Config controls session lifetime.
type Config struct {
	TTL         time.Duration
	MaxSessions uint64
}

// Session is one client's queue.
type Session struct {
	ID       string
	Pipeline *pipeline.Pipeline
	Created  time.Time

	ctx      context.Context
	cancel   context.CancelFunc
	batching atomic.Bool
}

// Context is cancelled when the session is evicted or the manager closes.
func (s *Session) Context() context.Context { return s.ctx }

// StartBatch runs CompressAll in the background under the session context.
// It returns false when a batch started here is still running.
func (s *Session) StartBatch() bool {
	if !s.batching.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		defer s.batching.Store(false)
		_, err := s.Pipeline.CompressAll(s.ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			log.Info().Str("session", s.ID).Msg("session: batch cancelled")
		default:
			log.Warn().Err(err).Str("session", s.ID).Msg("session: batch did not run")
		}
	}()
	return true
}

// Batching reports whether a batch started with StartBatch is running.
func (s *Session) Batching() bool { return s.batching.Load() }

func (s *Session) close() {
	s.cancel()
	s.Pipeline.Close()
}

// Factory builds the pipeline for a new session.
type Factory func(id string) *pipeline.Pipeline

// Manager owns every live session.
type Manager struct {
	cache  *ttlcache.Cache[string, *Session]
	loader ttlcache.Loader[string, *Session]
}

// NewManager creates a manager and starts its expiry loop.
// onEvict, when non-nil, runs after a session has been closed.
func NewManager(cfg Config, factory Factory, onEvict func(*Session)) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}

	cache := ttlcache.New(
		ttlcache.WithTTL[string, *Session](cfg.TTL),
		ttlcache.WithCapacity[string, *Session](cfg.MaxSessions),
	)
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *Session]) {
		s := item.Value()
		s.close()
		log.Debug().
			Str("session", s.ID).
			Int("reason", int(reason)).
			Msg("session: evicted")
		if onEvict != nil {
			onEvict(s)
		}
	})

	loader := ttlcache.LoaderFunc[string, *Session](
		func(c *ttlcache.Cache[string, *Session], id string) *ttlcache.Item[string, *Session] {
			ctx, cancel := context.WithCancel(context.Background())
			s := &Session{
				ID:       id,
				Pipeline: factory(id),
				Created:  time.Now(),
				ctx:      ctx,
				cancel:   cancel,
			}
			log.Debug().Str("session", id).Msg("session: created")
			return c.Set(id, s, ttlcache.DefaultTTL)
		},
	)

	m := &Manager{
		cache:  cache,
		loader: ttlcache.NewSuppressedLoader[string, *Session](loader, new(singleflight.Group)),
	}
	go cache.Start()
	return m
}

// GetOrCreate returns the session for id, creating it on first use.
func (m *Manager) GetOrCreate(id string) *Session {
	return m.cache.Get(id, ttlcache.WithLoader[string, *Session](m.loader)).Value()
}

// Get returns an existing session and refreshes its TTL.
func (m *Manager) Get(id string) (*Session, bool) {
	item := m.cache.Get(id)
	if item == nil {
		return nil, false
	}
	return item.Value(), true
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	return m.cache.Len()
}

// Close ends every session and stops the expiry loop.
func (m *Manager) Close() {
	m.cache.DeleteAll()
	m.cache.Stop()
}
