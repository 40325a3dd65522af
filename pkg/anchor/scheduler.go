// Copyright 2025 Certen Protocol
//
// Periodic refresh loop for pending anchor references, following the
// stopCh/doneCh ticker pattern the teacher uses for its confirmation
// tracker. The enhanced data node's state machine (spec.md §4.6) requires
// refresh "periodically"; this is the suspendable background task that
// does it, so callers don't have to poll refresh() by hand.

package anchor

import (
	"context"
	"log"
	"sync"
	"time"
)

// Store is the subset of the anchor-state index (C9) the scheduler needs:
// enumerate references still below their finality floor, and persist
// whatever Refresh returns.
type Store interface {
	PendingReferences(ctx context.Context) ([]StoreEntry, error)
	UpdateReference(ctx context.Context, key string, ref *Reference) error
}

// StoreEntry pairs an index key with its current reference snapshot.
type StoreEntry struct {
	Key string
	Ref *Reference
}

// Scheduler periodically refreshes every reference the store reports as
// still pending, via the bound Primitive.
type Scheduler struct {
	p            *Primitive
	store        Store
	pollInterval time.Duration
	logger       *log.Logger

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewScheduler builds a scheduler that refreshes pending anchors every
// pollInterval. A nil logger is replaced by one that writes to the
// standard logger's output with an "[anchor-scheduler] " prefix.
func NewScheduler(p *Primitive, store Store, pollInterval time.Duration, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[anchor-scheduler] ", log.LstdFlags)
	}
	return &Scheduler{p: p, store: store, pollInterval: pollInterval, logger: logger}
}

// Start begins the refresh loop. It is a no-op if already running.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	s.mu.Unlock()

	go s.run(ctx)
}

// Stop halts the refresh loop and waits for the in-flight pass to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.running = false
	s.mu.Unlock()

	<-s.doneCh
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.refreshAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.refreshAll(ctx)
		}
	}
}

func (s *Scheduler) refreshAll(ctx context.Context) {
	entries, err := s.store.PendingReferences(ctx)
	if err != nil {
		s.logger.Printf("list pending references: %v", err)
		return
	}
	for _, e := range entries {
		refreshed, err := s.p.Refresh(ctx, e.Ref)
		if err != nil {
			s.logger.Printf("refresh %s: %v", e.Key, err)
			continue
		}
		if err := s.store.UpdateReference(ctx, e.Key, refreshed); err != nil {
			s.logger.Printf("persist refresh for %s: %v", e.Key, err)
		}
	}
}
