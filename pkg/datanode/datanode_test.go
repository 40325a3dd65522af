// Copyright 2025 Certen Protocol

package datanode

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/certen/btc-identity-core/pkg/anchor"
	"github.com/certen/btc-identity-core/pkg/anchorindex"
	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/identity"
	"github.com/certen/btc-identity-core/pkg/wallet"
)

func writeMsg(id string, payload []byte) Message {
	return Message{ID: id, Descriptor: Descriptor{Interface: InterfaceRecords, Method: MethodWrite}, Payload: payload}
}

func queryMsg(filter *Filter) Message {
	return Message{Descriptor: Descriptor{Interface: InterfaceRecords, Method: MethodQuery, Filter: filter}}
}

func deleteMsg(id string) Message {
	return Message{ID: id, Descriptor: Descriptor{Interface: InterfaceRecords, Method: MethodDelete}}
}

func TestBase_WriteThenQuery(t *testing.T) {
	base := NewBase(nil)
	owner := identity.ID("did:example:owner")
	ctx := context.Background()

	if _, err := base.Write(ctx, owner, writeMsg("r1", []byte("hello"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	recs, err := base.Query(ctx, owner, queryMsg(nil))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 || string(recs[0].Payload) != "hello" {
		t.Fatalf("unexpected query result: %+v", recs)
	}
}

func TestBase_WriteIsIdempotentReplacesPayload(t *testing.T) {
	base := NewBase(nil)
	owner := identity.ID("did:example:owner")
	ctx := context.Background()

	first, err := base.Write(ctx, owner, writeMsg("r1", []byte("v1")))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	second, err := base.Write(ctx, owner, writeMsg("r1", []byte("v2")))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if string(second.Payload) != "v2" {
		t.Fatalf("expected replaced payload, got %q", second.Payload)
	}
	if !second.WrittenAt.Equal(first.WrittenAt) {
		t.Fatal("expected WrittenAt to be preserved across replacement")
	}
}

func TestBase_DeleteMissingNotFound(t *testing.T) {
	base := NewBase(nil)
	owner := identity.ID("did:example:owner")
	err := base.Delete(context.Background(), owner, deleteMsg("missing"))
	if !coreerr.Is(err, coreerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestBase_DeleteIsObservableToSubsequentQuery(t *testing.T) {
	base := NewBase(nil)
	owner := identity.ID("did:example:owner")
	ctx := context.Background()

	if _, err := base.Write(ctx, owner, writeMsg("r1", []byte("v"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := base.Delete(ctx, owner, deleteMsg("r1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	recs, err := base.Query(ctx, owner, queryMsg(nil))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("expected deleted record to be absent, got %+v", recs)
	}
}

type denyAuthorizer struct{}

func (denyAuthorizer) Authorize(ctx context.Context, owner identity.ID, msg Message) (bool, error) {
	return false, nil
}

func TestBase_UnauthorizedWriteRejected(t *testing.T) {
	base := NewBase(denyAuthorizer{})
	owner := identity.ID("did:example:owner")
	_, err := base.Write(context.Background(), owner, writeMsg("r1", []byte("v")))
	if !coreerr.Is(err, coreerr.Unauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

type mockWallet struct {
	txs    map[chainhash.Hash]*wire.MsgTx
	status map[chainhash.Hash]wallet.TxStatus
}

func newMockWallet() *mockWallet {
	return &mockWallet{txs: make(map[chainhash.Hash]*wire.MsgTx), status: make(map[chainhash.Hash]wallet.TxStatus)}
}

func (m *mockWallet) FundAndBroadcast(ctx context.Context, tmpl *wire.MsgTx) (*wire.MsgTx, chainhash.Hash, error) {
	final := tmpl.Copy()
	txid := final.TxHash()
	m.txs[txid] = final
	m.status[txid] = wallet.TxStatus{Confirmations: 3}
	return final, txid, nil
}

func (m *mockWallet) GetTransaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, wallet.TxStatus, bool, error) {
	tx, ok := m.txs[txid]
	if !ok {
		return nil, wallet.TxStatus{}, false, nil
	}
	return tx, m.status[txid], true, nil
}

func TestEnhanced_WriteWithAnchoringIndexesReference(t *testing.T) {
	base := NewBase(nil)
	a := anchor.New(newMockWallet())
	idx := anchorindex.NewMemory(6)
	enhanced := NewEnhanced(base, a, idx, 1024)

	owner := identity.ID("did:example:owner")
	msg := writeMsg("r1", []byte("payload"))
	msg.Policy = &Policy{AnchorToChain: true}

	rec, err := enhanced.Write(context.Background(), owner, msg)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	entry, err := idx.Get(context.Background(), indexKey(owner, rec.ID))
	if err != nil {
		t.Fatalf("expected index entry for anchored write: %v", err)
	}
	if entry.Reference == nil {
		t.Fatal("expected non-nil reference")
	}
}

func TestEnhanced_QueryFiltersByMinConfirmations(t *testing.T) {
	base := NewBase(nil)
	a := anchor.New(newMockWallet())
	idx := anchorindex.NewMemory(6)
	enhanced := NewEnhanced(base, a, idx, 1024)
	owner := identity.ID("did:example:owner")
	ctx := context.Background()

	anchoredMsg := writeMsg("anchored", []byte("v1"))
	anchoredMsg.Policy = &Policy{AnchorToChain: true}
	if _, err := enhanced.Write(ctx, owner, anchoredMsg); err != nil {
		t.Fatalf("write anchored: %v", err)
	}

	unanchoredMsg := writeMsg("unanchored", []byte("v2"))
	if _, err := enhanced.Write(ctx, owner, unanchoredMsg); err != nil {
		t.Fatalf("write unanchored: %v", err)
	}

	// Commit indexes the reference at zero confirmations; a refresh picks
	// up the mock wallet's confirmation count.
	if _, err := enhanced.RefreshAnchor(ctx, owner, "anchored"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	q := queryMsg(nil)
	q.Policy = &Policy{MinConfirmations: 1}
	recs, err := enhanced.Query(ctx, owner, q)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != "anchored" {
		t.Fatalf("expected only the anchored record to pass the confirmation filter, got %+v", recs)
	}
}

func TestEnhanced_WriteReturnsBusyPastOutstandingBound(t *testing.T) {
	base := NewBase(nil)
	a := anchor.New(newMockWallet())
	idx := anchorindex.NewMemory(6)
	enhanced := NewEnhanced(base, a, idx, 1)
	owner := identity.ID("did:example:owner")
	ctx := context.Background()

	anchoredMsg := writeMsg("r1", []byte("v1"))
	anchoredMsg.Policy = &Policy{AnchorToChain: true}
	if _, err := enhanced.Write(ctx, owner, anchoredMsg); err != nil {
		t.Fatalf("first write: %v", err)
	}

	secondMsg := writeMsg("r2", []byte("v2"))
	secondMsg.Policy = &Policy{AnchorToChain: true}
	_, err := enhanced.Write(ctx, owner, secondMsg)
	if !coreerr.Is(err, coreerr.Busy) {
		t.Fatalf("expected Busy once the outstanding-write bound is reached, got %v", err)
	}

	if _, err := enhanced.RefreshAnchor(ctx, owner, "r1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if _, err := enhanced.Write(ctx, owner, secondMsg); err != nil {
		t.Fatalf("expected write to succeed after refresh released a slot, got %v", err)
	}
}

func TestReadFirst_WriteIncrementsReadsAndWrites(t *testing.T) {
	base := NewBase(nil)
	rf := NewReadFirst(base)
	owner := identity.ID("did:example:owner")

	if _, err := rf.Write(context.Background(), owner, writeMsg("r1", []byte("v"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := rf.Metrics()
	if m.Reads != 1 || m.Writes != 1 {
		t.Fatalf("expected 1 read and 1 write, got %+v", m)
	}
	if m.ReadWriteRatio() != 1.0 {
		t.Fatalf("expected ratio 1.0, got %v", m.ReadWriteRatio())
	}
}

func TestReadFirst_QueryOnlyIncrementsReads(t *testing.T) {
	base := NewBase(nil)
	rf := NewReadFirst(base)
	owner := identity.ID("did:example:owner")

	if _, err := rf.Query(context.Background(), owner, queryMsg(nil)); err != nil {
		t.Fatalf("query: %v", err)
	}
	m := rf.Metrics()
	if m.Reads != 1 || m.Writes != 0 {
		t.Fatalf("expected 1 read and 0 writes, got %+v", m)
	}
}

func TestReadFirst_ResetMetricsZeroesCounters(t *testing.T) {
	base := NewBase(nil)
	rf := NewReadFirst(base)
	owner := identity.ID("did:example:owner")

	if _, err := rf.Write(context.Background(), owner, writeMsg("r1", []byte("v"))); err != nil {
		t.Fatalf("write: %v", err)
	}
	rf.ResetMetrics()
	m := rf.Metrics()
	if m.Reads != 0 || m.Writes != 0 || m.Violations != 0 {
		t.Fatalf("expected all counters zeroed, got %+v", m)
	}
}

// bypassStore simulates a record that was visibly present on the
// preceding read but vanished by the time the delete itself ran — as if
// some caller deleted it through a path that skipped the wrapper.
type bypassStore struct {
	present *Record
}

func (b bypassStore) Write(ctx context.Context, owner identity.ID, msg Message) (*Record, error) {
	return nil, nil
}
func (b bypassStore) Query(ctx context.Context, owner identity.ID, msg Message) ([]*Record, error) {
	return []*Record{b.present}, nil
}
func (b bypassStore) Delete(ctx context.Context, owner identity.ID, msg Message) error {
	return coreerr.New(coreerr.NotFound, "bypassStore.Delete", "NotFound")
}

func TestReadFirst_DeleteBypassViolationCounted(t *testing.T) {
	rf := NewReadFirst(bypassStore{present: &Record{ID: "r1"}})
	owner := identity.ID("did:example:owner")

	err := rf.Delete(context.Background(), owner, deleteMsg("r1"))
	if !coreerr.Is(err, coreerr.NotFound) {
		t.Fatalf("expected NotFound from delegate, got %v", err)
	}
	m := rf.Metrics()
	if m.Violations != 1 {
		t.Fatalf("expected 1 violation from the bypass, got %d", m.Violations)
	}
}
