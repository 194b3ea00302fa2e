package server

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zombor/finance-tracker/internal/gateway"
	"github.com/zombor/finance-tracker/internal/state"
)

type session struct {
	mu       sync.Mutex
	store    *state.Store
	ready    bool
	scanning atomic.Bool
	lastUsed atomic.Int64
}

// Sessions holds one state store per user, loaded on first use
type Sessions struct {
	gw  gateway.Gateway
	now state.TimeSource

	mu       sync.Mutex
	sessions map[string]*session
}

// NewSessions creates an empty registry backed by gw
func NewSessions(gw gateway.Gateway, now state.TimeSource) *Sessions {
	return &Sessions{
		gw:       gw,
		now:      now,
		sessions: make(map[string]*session),
	}
}

func (s *Sessions) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

func (s *Sessions) entry(userID string) *session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &session{store: state.New(s.gw, s.now)}
		s.sessions[userID] = sess
	}
	sess.lastUsed.Store(s.clock().UnixNano())
	return sess
}

// Store returns the initialised store of userID. A failed load is retried on the next call.
func (s *Sessions) Store(ctx context.Context, userID string) (*state.Store, error) {
	sess := s.entry(userID)

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if !sess.ready {
		if err := sess.store.Initialize(ctx, userID); err != nil {
			return nil, fmt.Errorf("loading session: %w", err)
		}
		sess.ready = true
		slog.Debug("Session started", "user_id", userID)
	}
	return sess.store, nil
}

// BeginScan marks a scan in flight for userID. It returns false when one already is;
// otherwise the returned func ends the scan.
func (s *Sessions) BeginScan(userID string) (func(), bool) {
	sess := s.entry(userID)
	if !sess.scanning.CompareAndSwap(false, true) {
		return nil, false
	}
	return func() { sess.scanning.Store(false) }, true
}

// Len returns the number of known users
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep drops sessions unused for longer than idle and returns how many went.
// A session with a scan in flight is kept.
func (s *Sessions) Sweep(idle time.Duration) int {
	cutoff := s.clock().Add(-idle).UnixNano()

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for userID, sess := range s.sessions {
		if sess.scanning.Load() || sess.lastUsed.Load() > cutoff {
			continue
		}
		delete(s.sessions, userID)
		removed++
	}
	return removed
}

// Expire sweeps idle sessions every interval until ctx is done
func (s *Sessions) Expire(ctx context.Context, idle, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(idle); n > 0 {
				slog.Debug("Expired idle sessions", "count", n, "remaining", s.Len())
			}
		}
	}
}
