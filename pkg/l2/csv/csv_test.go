// Copyright 2025 Certen Protocol

package csv

import (
	"context"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/certen/btc-identity-core/pkg/anchor"
	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/l2"
	"github.com/certen/btc-identity-core/pkg/wallet"
)

// mockWallet mirrors pkg/anchor's own test double, since this backend
// exercises the same commit/verify primitive.
type mockWallet struct {
	txs    map[chainhash.Hash]*wire.MsgTx
	status map[chainhash.Hash]wallet.TxStatus
}

func newMockWallet() *mockWallet {
	return &mockWallet{
		txs:    make(map[chainhash.Hash]*wire.MsgTx),
		status: make(map[chainhash.Hash]wallet.TxStatus),
	}
}

func (m *mockWallet) FundAndBroadcast(ctx context.Context, tmpl *wire.MsgTx) (*wire.MsgTx, chainhash.Hash, error) {
	final := tmpl.Copy()
	final.AddTxOut(wire.NewTxOut(5000, []byte{txscript.OP_TRUE}))
	txid := final.TxHash()
	m.txs[txid] = final
	m.status[txid] = wallet.TxStatus{Confirmations: 0}
	return final, txid, nil
}

func (m *mockWallet) GetTransaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, wallet.TxStatus, bool, error) {
	tx, ok := m.txs[txid]
	if !ok {
		return nil, wallet.TxStatus{}, false, nil
	}
	return tx, m.status[txid], true, nil
}

func connectedBackend() (*Backend, *mockWallet) {
	w := newMockWallet()
	b := New(anchor.New(w))
	b.Initialize(context.Background(), Config{MinConfirmationsForFinality: 3})
	return b, w
}

func TestSubmitTransaction_CreatesPendingSeal(t *testing.T) {
	b, _ := connectedBackend()

	txID, err := b.SubmitTransaction(context.Background(), []byte("transfer payload"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	status, err := b.GetTransactionStatus(context.Background(), txID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Kind != l2.TxPending {
		t.Fatalf("expected Pending, got %s", status.Kind)
	}
}

func TestGetTransactionStatus_ConfirmedBelowFinalityFloor(t *testing.T) {
	b, w := connectedBackend()

	txID, err := b.SubmitTransaction(context.Background(), []byte("transfer payload"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	b.mu.Lock()
	ref := b.seals[txID].reference
	b.mu.Unlock()
	w.status[ref.TxID] = wallet.TxStatus{Confirmations: 1}

	status, err := b.GetTransactionStatus(context.Background(), txID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Kind != l2.TxConfirmed {
		t.Fatalf("expected Confirmed, got %s", status.Kind)
	}
}

func TestGetTransactionStatus_FinalizedAtFinalityFloor(t *testing.T) {
	b, w := connectedBackend()

	txID, err := b.SubmitTransaction(context.Background(), []byte("transfer payload"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	b.mu.Lock()
	ref := b.seals[txID].reference
	b.mu.Unlock()
	w.status[ref.TxID] = wallet.TxStatus{Confirmations: 3}

	status, err := b.GetTransactionStatus(context.Background(), txID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Kind != l2.TxFinalized {
		t.Fatalf("expected Finalized, got %s", status.Kind)
	}
}

func TestVerifyProof_ValidForKnownSealedDigest(t *testing.T) {
	b, w := connectedBackend()

	payload := []byte("transfer payload")
	txID, err := b.SubmitTransaction(context.Background(), payload)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	b.mu.Lock()
	s := b.seals[txID]
	b.mu.Unlock()
	w.status[s.reference.TxID] = wallet.TxStatus{Confirmations: 5}

	result, err := b.VerifyProof(context.Background(), s.digest[:])
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid, got reason %q", result.Reason)
	}
}

func TestVerifyProof_UnknownDigestInvalid(t *testing.T) {
	b, _ := connectedBackend()

	result, err := b.VerifyProof(context.Background(), make([]byte, 32))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Valid {
		t.Fatal("expected invalid result for unknown digest")
	}
}

func TestSubmitTransaction_BatchesUnderSharedRootUntilBatchSizeReached(t *testing.T) {
	w := newMockWallet()
	b := New(anchor.New(w))
	if err := b.Initialize(context.Background(), Config{MinConfirmationsForFinality: 3, BatchSize: 2}); err != nil {
		t.Fatalf("initialize: %v", err)
	}

	firstID, err := b.SubmitTransaction(context.Background(), []byte("transfer one"))
	if err != nil {
		t.Fatalf("submit first: %v", err)
	}
	b.mu.Lock()
	firstPending := b.seals[firstID].reference == nil
	b.mu.Unlock()
	if !firstPending {
		t.Fatal("expected the first seal in an open batch to stay unanchored")
	}
	status, err := b.GetTransactionStatus(context.Background(), firstID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Kind != l2.TxPending {
		t.Fatalf("expected Pending while the batch is still open, got %s", status.Kind)
	}

	secondID, err := b.SubmitTransaction(context.Background(), []byte("transfer two"))
	if err != nil {
		t.Fatalf("submit second: %v", err)
	}

	b.mu.Lock()
	firstSeal, secondSeal := b.seals[firstID], b.seals[secondID]
	b.mu.Unlock()
	if firstSeal.reference == nil || secondSeal.reference == nil {
		t.Fatal("expected both seals anchored once the batch filled")
	}
	if firstSeal.reference.TxID != secondSeal.reference.TxID || firstSeal.root != secondSeal.root {
		t.Fatal("expected both seals in the batch to share one anchor reference and root")
	}

	w.status[firstSeal.reference.TxID] = wallet.TxStatus{Confirmations: 5}

	for _, s := range []struct {
		txID   string
		digest [32]byte
	}{{firstID, firstSeal.digest}, {secondID, secondSeal.digest}} {
		result, err := b.VerifyProof(context.Background(), s.digest[:])
		if err != nil {
			t.Fatalf("verify %s: %v", s.txID, err)
		}
		if !result.Valid {
			t.Fatalf("expected %s to verify inclusion in the shared batch root, got reason %q", s.txID, result.Reason)
		}
	}
}

func TestIssueAsset_RejectsDuplicateSymbol(t *testing.T) {
	b, _ := connectedBackend()

	if _, err := b.IssueAsset(context.Background(), l2.AssetParams{Symbol: "CSV-ASSET"}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err := b.IssueAsset(context.Background(), l2.AssetParams{Symbol: "CSV-ASSET"})
	if !coreerr.Is(err, coreerr.Conflict) {
		t.Fatalf("expected Conflict on duplicate issuance, got %v", err)
	}
}

func TestTransferAsset_UnknownAssetFails(t *testing.T) {
	b, _ := connectedBackend()

	_, err := b.TransferAsset(context.Background(), l2.TransferParams{AssetID: "missing"})
	if !coreerr.Is(err, coreerr.NotFound) {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
