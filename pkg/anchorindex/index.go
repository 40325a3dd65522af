// Copyright 2025 Certen Protocol
//
// Package anchorindex implements the anchor-state index (spec.md §4.9,
// component C9): a durable mapping from a key — an attestation id or an
// (owner-id, record-id) pair — to its latest anchor reference plus an
// append-only log of observations. Reads are concurrent; writes are
// single-threaded per key, mirroring the per-bucket locking the teacher
// uses for its resolver-adjacent caches.
package anchorindex

import (
	"context"
	"sync"
	"time"

	"github.com/certen/btc-identity-core/pkg/anchor"
	"github.com/certen/btc-identity-core/pkg/coreerr"
)

// Observation is one point-in-time reading of a commitment's chain
// position. The log is append-only; compaction may drop old observations
// but must keep the latest confirmed one for each key.
type Observation struct {
	ObservedAt    time.Time
	Confirmations int64
	BlockHeight   *int64
}

// Entry is a key's latest reference plus its observation history.
type Entry struct {
	Key          string
	Reference    *anchor.Reference
	Observations []Observation
}

// Index is the C9 surface. It also satisfies anchor.Store, so a Scheduler
// can refresh directly against it.
type Index interface {
	// Put creates the initial entry for key. It fails with Conflict if
	// key already has an entry, including one whose reference is
	// Orphaned; UpdateReference is the operation that replaces an
	// existing key's reference while preserving its observation history.
	Put(ctx context.Context, key string, ref *anchor.Reference) error

	// Get returns the current entry for key.
	Get(ctx context.Context, key string) (*Entry, error)

	// PendingReferences lists every key whose latest reference has not
	// yet reached its caller-defined finality floor, for the refresh
	// scheduler to poll. The index itself has no notion of "floor"; it
	// reports every reference that is Orphaned or has seen fewer
	// confirmations than a generous ceiling the caller passed at
	// construction, so the scheduler doesn't keep polling references the
	// whole fleet already treats as final. An Orphaned reference is
	// reported whatever its confirmation count.
	PendingReferences(ctx context.Context) ([]anchor.StoreEntry, error)

	// UpdateReference records a new observation for key and makes it the
	// latest reference.
	UpdateReference(ctx context.Context, key string, ref *anchor.Reference) error

	// Compact drops observations older than horizon, preserving the
	// latest confirmed observation for every key regardless of age (the
	// latest observation when none has a confirmation).
	Compact(ctx context.Context, horizon time.Duration) error
}

// Memory is an in-process Index, suitable for tests and for deployments
// that accept losing anchor history across restarts — spec.md §6 leaves
// the storage engine to the deployment as long as durability is met.
// cmd/certen-core falls back to Memory when no database URL is configured
// or the Postgres connection fails.
type Memory struct {
	mu             sync.RWMutex
	entries        map[string]*Entry
	pendingCeiling int64
}

// NewMemory returns an empty in-memory index. pendingCeiling bounds what
// PendingReferences reports: references that have already reached this
// many confirmations are treated as settled enough to stop polling.
func NewMemory(pendingCeiling int64) *Memory {
	return &Memory{entries: make(map[string]*Entry), pendingCeiling: pendingCeiling}
}

func (m *Memory) Put(ctx context.Context, key string, ref *anchor.Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.entries[key]; exists {
		return coreerr.New(coreerr.Conflict, "anchorindex.Put", "key already anchored")
	}
	m.entries[key] = &Entry{
		Key:       key,
		Reference: ref,
		Observations: []Observation{{
			ObservedAt:    ref.AnchoredAt,
			Confirmations: ref.Confirmations,
			BlockHeight:   blockHeightOf(ref),
		}},
	}
	return nil
}

func blockHeightOf(ref *anchor.Reference) *int64 {
	if ref.BlockHash == nil {
		return nil
	}
	h := ref.BlockHeight
	return &h
}

func (m *Memory) Get(ctx context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, coreerr.New(coreerr.NotFound, "anchorindex.Get", "no entry for key")
	}
	cp := *e
	cp.Observations = append([]Observation(nil), e.Observations...)
	return &cp, nil
}

func (m *Memory) PendingReferences(ctx context.Context) ([]anchor.StoreEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []anchor.StoreEntry
	for k, e := range m.entries {
		if e.Reference.Orphaned || e.Reference.Confirmations < m.pendingCeiling {
			out = append(out, anchor.StoreEntry{Key: k, Ref: e.Reference})
		}
	}
	return out, nil
}

func (m *Memory) UpdateReference(ctx context.Context, key string, ref *anchor.Reference) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return coreerr.New(coreerr.NotFound, "anchorindex.UpdateReference", "no entry for key")
	}
	e.Reference = ref
	e.Observations = append(e.Observations, Observation{
		ObservedAt:    time.Now(),
		Confirmations: ref.Confirmations,
		BlockHeight:   blockHeightOf(ref),
	})
	return nil
}

func (m *Memory) Compact(ctx context.Context, horizon time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-horizon)
	for _, e := range m.entries {
		if len(e.Observations) == 0 {
			continue
		}
		latestConfirmed := e.Observations[len(e.Observations)-1]
		for i := len(e.Observations) - 1; i >= 0; i-- {
			if e.Observations[i].Confirmations > 0 {
				latestConfirmed = e.Observations[i]
				break
			}
		}
		kept := make([]Observation, 0, len(e.Observations))
		for _, o := range e.Observations {
			if o.ObservedAt.After(cutoff) {
				kept = append(kept, o)
			}
		}
		if !latestConfirmed.ObservedAt.After(cutoff) {
			kept = append([]Observation{latestConfirmed}, kept...)
		}
		e.Observations = kept
	}
	return nil
}
