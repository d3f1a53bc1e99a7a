package mirror

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pkordes/tripsync/internal/docstore"
	"github.com/pkordes/tripsync/internal/domain"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateIdle State = iota
	StateActive
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session mirrors one identity: a live subscription on its itinerary items
// plus the backfill started next to it. A Session goes Idle → Active →
// Stopped exactly once; mirroring the identity again takes a new Start.
type Session struct {
	mirror   *Mirror
	identity string
	cancel   context.CancelFunc
	sub      docstore.Subscription

	backfillDone chan struct{}
	state        atomic.Int32
	stopOnce     sync.Once
}

// Start opens the live subscription for identity and fires a backfill next
// to it without waiting for the backfill to finish. A subscription that
// cannot be opened fails the whole session; there is no retry.
func (m *Mirror) Start(ctx context.Context, identity string) (*Session, error) {
	if identity == "" {
		return nil, fmt.Errorf("mirror.Start: %w: identity is required", domain.ErrValidation)
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		mirror:       m,
		identity:     identity,
		cancel:       cancel,
		backfillDone: make(chan struct{}),
	}

	sub, err := m.store.Subscribe(ctx, sourceCollection(identity), func(changes []docstore.Change) {
		m.ApplyBatch(ctx, identity, changes)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("mirror.Start: subscribe: %w", err)
	}
	s.sub = sub
	s.state.Store(int32(StateActive))
	m.metrics.ActiveSessions.Inc()

	go func() {
		defer close(s.backfillDone)
		if err := m.Backfill(ctx, identity); err != nil && !errors.Is(err, context.Canceled) {
			m.logger.ErrorContext(ctx, "backfill failed", "identity", identity, "error", err)
		}
	}()

	m.logger.InfoContext(ctx, "mirror session started", "identity", identity)
	return s, nil
}

// Identity returns the identity the session mirrors.
func (s *Session) Identity() string {
	return s.identity
}

// State reports where the session is in its lifecycle.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Stop closes the subscription and waits for the batch being applied and
// the backfill to drain; no trip write for this identity is issued after Stop
// returns. Calling Stop again is a no-op.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.sub.Unsubscribe()
		<-s.backfillDone

		s.state.Store(int32(StateStopped))
		s.mirror.metrics.ActiveSessions.Dec()
		s.mirror.logger.Info("mirror session stopped", "identity", s.identity)
	})
}
