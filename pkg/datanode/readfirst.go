// Copyright 2025 Certen Protocol

package datanode

import (
	"context"
	"sync/atomic"

	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/identity"
)

// Metrics is the counter snapshot spec.md §4.7 names: reads, writes,
// violations, plus the derived read-write ratio.
type Metrics struct {
	Reads      int64
	Writes     int64
	Violations int64
}

// ReadWriteRatio is reads / max(1, writes). A ratio below 1.0 indicates
// either violations occurred or the wrapper was bypassed.
func (m Metrics) ReadWriteRatio() float64 {
	writes := m.Writes
	if writes < 1 {
		writes = 1
	}
	return float64(m.Reads) / float64(writes)
}

// ReadFirst wraps a Store, enforcing that every write-shaped operation is
// preceded, within the same call, by a read of the affected record — the
// read-first invariant of spec.md §4.7. Counters are atomic scalars, per
// spec.md §5's shared-resource model.
type ReadFirst struct {
	store Store

	reads      atomic.Int64
	writes     atomic.Int64
	violations atomic.Int64
}

// NewReadFirst wraps store with read-first instrumentation.
func NewReadFirst(store Store) *ReadFirst {
	return &ReadFirst{store: store}
}

// Metrics returns a snapshot of the wrapper's counters.
func (r *ReadFirst) Metrics() Metrics {
	return Metrics{
		Reads:      r.reads.Load(),
		Writes:     r.writes.Load(),
		Violations: r.violations.Load(),
	}
}

// ResetMetrics zeroes every counter.
func (r *ReadFirst) ResetMetrics() {
	r.reads.Store(0)
	r.writes.Store(0)
	r.violations.Store(0)
}

// precedingRead issues the read the write-shaped operation requires before
// its write begins. The read must complete before the write starts — this
// function returning is the ordering point; callers invoke the underlying
// write only after it returns.
func (r *ReadFirst) precedingRead(ctx context.Context, owner identity.ID, recordID string) []*Record {
	defer r.reads.Add(1)
	recs, err := r.store.Query(ctx, owner, Message{
		Descriptor: Descriptor{
			Interface: InterfaceRecords,
			Method:    MethodQuery,
			Filter:    &Filter{RecordID: recordID},
		},
	})
	if err != nil {
		return nil
	}
	return recs
}

// Write performs the preceding read, then delegates the write. Per
// spec.md §4.7, the read must complete before the write begins; no
// pipelining.
func (r *ReadFirst) Write(ctx context.Context, owner identity.ID, msg Message) (*Record, error) {
	r.precedingRead(ctx, owner, msg.ID)
	r.writes.Add(1)
	return r.store.Write(ctx, owner, msg)
}

// Delete performs the preceding read, then delegates the delete. Per
// spec.md §4.7, the wrapper itself always performs the preceding read, so
// a NotFound here despite the read having found the record present means
// some other path deleted it outside this wrapper — a bypass, counted as
// a violation.
func (r *ReadFirst) Delete(ctx context.Context, owner identity.ID, msg Message) error {
	preceding := r.precedingRead(ctx, owner, msg.ID)
	r.writes.Add(1)
	err := r.store.Delete(ctx, owner, msg)
	if coreerr.Is(err, coreerr.NotFound) && len(preceding) > 0 {
		r.violations.Add(1)
	}
	return err
}

// Query is read-shaped: it increments reads and delegates, with no
// preceding-read requirement of its own.
func (r *ReadFirst) Query(ctx context.Context, owner identity.ID, msg Message) ([]*Record, error) {
	r.reads.Add(1)
	return r.store.Query(ctx, owner, msg)
}

var _ Store = (*ReadFirst)(nil)
