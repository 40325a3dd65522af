// Copyright 2025 Certen Protocol

package datanode

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/certen/btc-identity-core/pkg/anchor"
	"github.com/certen/btc-identity-core/pkg/anchorindex"
	"github.com/certen/btc-identity-core/pkg/canonical"
	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/identity"
)

// Policy is the per-operation anchoring policy spec.md §4.6 names.
// Encrypt and Compress are carried for forward compatibility with
// deployments that wire transport-level envelope processing; this
// package does not implement either itself.
type Policy struct {
	AnchorToChain    bool
	MinConfirmations int64
	Encrypt          bool
	Compress         bool
}

func indexKey(owner identity.ID, recordID string) string {
	return fmt.Sprintf("%s/%s", owner, recordID)
}

// Enhanced wraps a base Store, adding the anchoring policy and
// confirmation-gated reads of spec.md §4.6.
type Enhanced struct {
	base     Store
	anchorer *anchor.Primitive
	index    anchorindex.Index

	// maxOutstandingWrites bounds outstanding un-anchored writes per
	// spec.md §5: writes committed on-chain but not yet confirmed.
	// outstandingWrites counts them; Write returns Busy once the bound
	// is reached, and RefreshAnchor releases a slot the moment a
	// tracked reference first reports a confirmation.
	maxOutstandingWrites int64
	outstandingWrites    atomic.Int64
}

// NewEnhanced binds an Enhanced node to its base store, anchor primitive
// and anchor-state index. maxOutstandingWrites bounds the number of
// anchored writes allowed to sit unconfirmed at once (spec.md §5); values
// <= 0 disable the bound.
func NewEnhanced(base Store, a *anchor.Primitive, index anchorindex.Index, maxOutstandingWrites int) *Enhanced {
	return &Enhanced{base: base, anchorer: a, index: index, maxOutstandingWrites: int64(maxOutstandingWrites)}
}

// tryAcquireOutstanding reserves one outstanding-write slot, failing if
// the bound is already reached. maxOutstandingWrites <= 0 means unbounded.
func (e *Enhanced) tryAcquireOutstanding() bool {
	if e.maxOutstandingWrites <= 0 {
		return true
	}
	for {
		cur := e.outstandingWrites.Load()
		if cur >= e.maxOutstandingWrites {
			return false
		}
		if e.outstandingWrites.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

func (e *Enhanced) releaseOutstanding() {
	if e.maxOutstandingWrites <= 0 {
		return
	}
	e.outstandingWrites.Add(-1)
}

// anchorPayload returns the digest spec.md §4.6 anchors: the canonical
// serialization of the record's payload plus descriptor.
func anchorPayload(rec *Record) ([32]byte, error) {
	return canonical.Digest(struct {
		Payload    []byte
		Descriptor Descriptor
	}{Payload: rec.Payload, Descriptor: rec.Descriptor})
}

func policyOf(msg Message) Policy {
	if msg.Policy == nil {
		return Policy{}
	}
	return *msg.Policy
}

// Write delegates to the base store, then — when policy requests it —
// commits an anchor for the written record and indexes the reference.
// Per spec.md §4.6, a post-write anchoring failure is surfaced as
// PartiallyAnchored; the record remains written regardless.
func (e *Enhanced) Write(ctx context.Context, owner identity.ID, msg Message) (*Record, error) {
	policy := policyOf(msg)
	rec, err := e.base.Write(ctx, owner, msg)
	if err != nil {
		return nil, err
	}
	if !policy.AnchorToChain {
		return rec, nil
	}

	if !e.tryAcquireOutstanding() {
		return rec, coreerr.New(coreerr.Busy, "datanode.Enhanced.Write", "too many outstanding un-anchored writes")
	}

	digest, err := anchorPayload(rec)
	if err != nil {
		e.releaseOutstanding()
		return rec, coreerr.Wrap(coreerr.PartiallyAnchored, "datanode.Enhanced.Write", "digest", err)
	}
	ref, err := e.anchorer.Commit(ctx, digest)
	if err != nil {
		e.releaseOutstanding()
		return rec, coreerr.Wrap(coreerr.PartiallyAnchored, "datanode.Enhanced.Write", "commit", err)
	}
	if err := e.index.Put(ctx, indexKey(owner, rec.ID), ref); err != nil {
		// The commitment landed on chain regardless of this indexing
		// failure, so the slot stays reserved until RefreshAnchor
		// observes it confirmed.
		return rec, coreerr.Wrap(coreerr.PartiallyAnchored, "datanode.Enhanced.Write", "index", err)
	}
	return rec, nil
}

// Query delegates to the base store, then filters the result to records
// whose indexed reference has reached policy.MinConfirmations.
// MinConfirmations == 0 disables the filter.
func (e *Enhanced) Query(ctx context.Context, owner identity.ID, msg Message) ([]*Record, error) {
	policy := policyOf(msg)
	recs, err := e.base.Query(ctx, owner, msg)
	if err != nil {
		return nil, err
	}
	if policy.MinConfirmations == 0 {
		return recs, nil
	}

	out := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		entry, err := e.index.Get(ctx, indexKey(owner, rec.ID))
		if err != nil {
			continue // unanchored records never satisfy MinConfirmations > 0
		}
		if entry.Reference.Confirmations >= policy.MinConfirmations {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Delete delegates straight to the base store; the anchor-state index
// entry for the deleted record, if any, is left in place as an
// append-only audit trail.
func (e *Enhanced) Delete(ctx context.Context, owner identity.ID, msg Message) error {
	return e.base.Delete(ctx, owner, msg)
}

// RefreshAnchor calls C1 refresh for (owner, recordID) and persists the
// updated reference to C9.
func (e *Enhanced) RefreshAnchor(ctx context.Context, owner identity.ID, recordID string) (*anchor.Reference, error) {
	key := indexKey(owner, recordID)
	entry, err := e.index.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	refreshed, err := e.anchorer.Refresh(ctx, entry.Reference)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "datanode.Enhanced.RefreshAnchor", "refresh", err)
	}
	if err := e.index.UpdateReference(ctx, key, refreshed); err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "datanode.Enhanced.RefreshAnchor", "persist", err)
	}
	if entry.Reference.Confirmations == 0 && refreshed.Confirmations > 0 {
		e.releaseOutstanding()
	}
	return refreshed, nil
}

// VerifyAnchoring looks up (owner, recordID) in C9, recomputes the
// expected digest from rec, and calls C1 verify.
func (e *Enhanced) VerifyAnchoring(ctx context.Context, owner identity.ID, rec *Record, minConfirmations int64) (anchor.VerifyResult, error) {
	entry, err := e.index.Get(ctx, indexKey(owner, rec.ID))
	if err != nil {
		return anchor.VerifyResult{}, err
	}
	digest, err := anchorPayload(rec)
	if err != nil {
		return anchor.VerifyResult{}, coreerr.Wrap(coreerr.Fatal, "datanode.Enhanced.VerifyAnchoring", "digest", err)
	}
	return e.anchorer.Verify(ctx, digest, entry.Reference, minConfirmations)
}

var _ Store = (*Enhanced)(nil)
