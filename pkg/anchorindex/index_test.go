// Copyright 2025 Certen Protocol

package anchorindex

import (
	"context"
	"testing"
	"time"

	"github.com/certen/btc-identity-core/pkg/anchor"
	"github.com/certen/btc-identity-core/pkg/coreerr"
)

func TestMemory_PutThenGet(t *testing.T) {
	idx := NewMemory(6)
	ctx := context.Background()

	ref := &anchor.Reference{AnchoredAt: time.Now(), Confirmations: 0}
	if err := idx.Put(ctx, "attestation:1", ref); err != nil {
		t.Fatalf("put: %v", err)
	}

	entry, err := idx.Get(ctx, "attestation:1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entry.Observations) != 1 {
		t.Fatalf("expected 1 observation, got %d", len(entry.Observations))
	}
}

func TestMemory_PutDuplicateConflicts(t *testing.T) {
	idx := NewMemory(6)
	ctx := context.Background()
	ref := &anchor.Reference{AnchoredAt: time.Now()}

	if err := idx.Put(ctx, "k", ref); err != nil {
		t.Fatalf("first put: %v", err)
	}
	err := idx.Put(ctx, "k", ref)
	if !coreerr.Is(err, coreerr.Conflict) {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestMemory_PendingReferencesRespectsCeiling(t *testing.T) {
	idx := NewMemory(6)
	ctx := context.Background()

	low := &anchor.Reference{AnchoredAt: time.Now(), Confirmations: 1}
	high := &anchor.Reference{AnchoredAt: time.Now(), Confirmations: 10}
	if err := idx.Put(ctx, "low", low); err != nil {
		t.Fatalf("put low: %v", err)
	}
	if err := idx.Put(ctx, "high", high); err != nil {
		t.Fatalf("put high: %v", err)
	}

	pending, err := idx.PendingReferences(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Key != "low" {
		t.Fatalf("expected only 'low' pending, got %+v", pending)
	}
}

func TestMemory_UpdateReferenceAppendsObservation(t *testing.T) {
	idx := NewMemory(6)
	ctx := context.Background()
	ref := &anchor.Reference{AnchoredAt: time.Now(), Confirmations: 0}
	if err := idx.Put(ctx, "k", ref); err != nil {
		t.Fatalf("put: %v", err)
	}

	updated := *ref
	updated.Confirmations = 3
	if err := idx.UpdateReference(ctx, "k", &updated); err != nil {
		t.Fatalf("update: %v", err)
	}

	entry, err := idx.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entry.Observations) != 2 {
		t.Fatalf("expected 2 observations after update, got %d", len(entry.Observations))
	}
	if entry.Reference.Confirmations != 3 {
		t.Fatalf("expected latest reference to reflect update, got %d confirmations",
			entry.Reference.Confirmations)
	}
}

func TestMemory_RefreshToOrphanKeepsKeyPending(t *testing.T) {
	idx := NewMemory(6)
	ctx := context.Background()
	ref := &anchor.Reference{AnchoredAt: time.Now(), Confirmations: 6}
	if err := idx.Put(ctx, "k", ref); err != nil {
		t.Fatalf("put: %v", err)
	}

	pending, _ := idx.PendingReferences(ctx)
	if len(pending) != 0 {
		t.Fatalf("expected no pending entries once confirmed, got %+v", pending)
	}

	orphaned := *ref
	orphaned.Orphaned = true
	if err := idx.UpdateReference(ctx, "k", &orphaned); err != nil {
		t.Fatalf("update: %v", err)
	}

	pending, _ = idx.PendingReferences(ctx)
	if len(pending) != 1 {
		t.Fatalf("expected orphaned reference to resurface as pending, got %+v", pending)
	}
}

func TestMemory_CompactKeepsLatestObservation(t *testing.T) {
	idx := NewMemory(6)
	ctx := context.Background()
	old := &anchor.Reference{AnchoredAt: time.Now().Add(-48 * time.Hour), Confirmations: 1}
	if err := idx.Put(ctx, "k", old); err != nil {
		t.Fatalf("put: %v", err)
	}

	if err := idx.Compact(ctx, time.Hour); err != nil {
		t.Fatalf("compact: %v", err)
	}

	entry, err := idx.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(entry.Observations) != 1 {
		t.Fatalf("expected latest observation preserved across compaction, got %d",
			len(entry.Observations))
	}
}

func TestMemory_GetMissingKeyNotFound(t *testing.T) {
	idx := NewMemory(6)
	_, err := idx.Get(context.Background(), "missing")
	if !coreerr.Is(err, coreerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

var _ Index = (*Memory)(nil)
