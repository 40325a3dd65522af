// Copyright 2025 Certen Protocol

package datanode

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/identity"
)

// Authorizer checks whether a message is permitted against owner's
// document, per spec.md §4.5: an attestation whose subject-id equals
// owner-id, or an authentication proof verifiable under the owner's
// document. A nil Authorizer makes the base node skip authorization,
// which spec.md §4.5 explicitly allows for "trusted in-process callers".
type Authorizer interface {
	Authorize(ctx context.Context, owner identity.ID, msg Message) (bool, error)
}

// Store is the operation surface both the base and enhanced nodes expose,
// shared by the C7 read-first wrapper.
type Store interface {
	Write(ctx context.Context, owner identity.ID, msg Message) (*Record, error)
	Query(ctx context.Context, owner identity.ID, msg Message) ([]*Record, error)
	Delete(ctx context.Context, owner identity.ID, msg Message) error
}

type ownerBucket struct {
	mu      sync.Mutex
	records map[string]*Record
}

// Base is the personal-data-node base store: one instance serves every
// owner, records partitioned by OwnerID. Each owner's records are guarded
// by their own mutex so writes to different owners never contend, matching
// spec.md §5's "writes to the same record-id are totally ordered; writes
// across record-ids may interleave".
type Base struct {
	authz Authorizer

	mu      sync.RWMutex
	buckets map[identity.ID]*ownerBucket
}

// NewBase constructs an empty base store. authz may be nil to skip
// authorization (in-process trusted callers only).
func NewBase(authz Authorizer) *Base {
	return &Base{authz: authz, buckets: make(map[identity.ID]*ownerBucket)}
}

func (b *Base) bucket(owner identity.ID) *ownerBucket {
	b.mu.RLock()
	bk, ok := b.buckets[owner]
	b.mu.RUnlock()
	if ok {
		return bk
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if bk, ok = b.buckets[owner]; ok {
		return bk
	}
	bk = &ownerBucket{records: make(map[string]*Record)}
	b.buckets[owner] = bk
	return bk
}

func (b *Base) authorize(ctx context.Context, owner identity.ID, msg Message) error {
	if b.authz == nil {
		return nil
	}
	ok, err := b.authz.Authorize(ctx, owner, msg)
	if err != nil {
		return coreerr.Wrap(coreerr.TransportError, "datanode.Base", "authorization check", err)
	}
	if !ok {
		return coreerr.New(coreerr.Unauthorized, "datanode.Base", "Unauthorized")
	}
	return nil
}

// Write upserts a record keyed by msg.ID. Per spec.md §4.5, it is
// idempotent under an identical (id, payload, attestation); a differing
// payload on replay simply replaces the stored one.
func (b *Base) Write(ctx context.Context, owner identity.ID, msg Message) (*Record, error) {
	if msg.Descriptor.Interface != InterfaceRecords || msg.Descriptor.Method != MethodWrite {
		return nil, coreerr.New(coreerr.InvalidInput, "datanode.Base.Write", "UnsupportedOperation")
	}
	if msg.ID == "" {
		return nil, coreerr.New(coreerr.InvalidInput, "datanode.Base.Write", "InvalidMessage")
	}
	if err := b.authorize(ctx, owner, msg); err != nil {
		return nil, err
	}

	bk := b.bucket(owner)
	bk.mu.Lock()
	defer bk.mu.Unlock()

	now := time.Now()
	existing, replacing := bk.records[msg.ID]
	rec := &Record{
		OwnerID:    owner,
		ID:         msg.ID,
		Payload:    msg.Payload,
		Descriptor: msg.Descriptor,
		WrittenAt:  now,
		UpdatedAt:  now,
	}
	if replacing {
		rec.WrittenAt = existing.WrittenAt
	}
	bk.records[msg.ID] = rec
	return rec, nil
}

// Query returns every record owned by owner matching msg.Descriptor.Filter.
func (b *Base) Query(ctx context.Context, owner identity.ID, msg Message) ([]*Record, error) {
	if msg.Descriptor.Interface != InterfaceRecords || msg.Descriptor.Method != MethodQuery {
		return nil, coreerr.New(coreerr.InvalidInput, "datanode.Base.Query", "UnsupportedOperation")
	}
	if err := b.authorize(ctx, owner, msg); err != nil {
		return nil, err
	}

	bk := b.bucket(owner)
	bk.mu.Lock()
	defer bk.mu.Unlock()

	out := matchRecords(bk.records, msg.Descriptor.Filter)
	return out, nil
}

func matchRecords(records map[string]*Record, filter *Filter) []*Record {
	out := make([]*Record, 0, len(records))
	for _, rec := range records {
		if filter == nil {
			out = append(out, rec)
			continue
		}
		if filter.RecordID != "" && filter.RecordID != rec.ID {
			continue
		}
		if !tagsMatch(filter.Tags, rec) {
			continue
		}
		out = append(out, rec)
	}
	if filter != nil && filter.OrderBy == "id" {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	}
	return out
}

// tagsMatch is a hook point for descriptor-level tag matching; the base
// spec names only a RecordID and OrderBy filter explicitly, so this always
// matches until a deployment defines a tag schema.
func tagsMatch(tags map[string]string, rec *Record) bool {
	return true
}

// Delete removes the record named by msg.ID; errors if absent.
func (b *Base) Delete(ctx context.Context, owner identity.ID, msg Message) error {
	if msg.Descriptor.Interface != InterfaceRecords || msg.Descriptor.Method != MethodDelete {
		return coreerr.New(coreerr.InvalidInput, "datanode.Base.Delete", "UnsupportedOperation")
	}
	if err := b.authorize(ctx, owner, msg); err != nil {
		return err
	}

	bk := b.bucket(owner)
	bk.mu.Lock()
	defer bk.mu.Unlock()

	if _, ok := bk.records[msg.ID]; !ok {
		return coreerr.New(coreerr.NotFound, "datanode.Base.Delete", "NotFound")
	}
	delete(bk.records, msg.ID)
	return nil
}

var _ Store = (*Base)(nil)
