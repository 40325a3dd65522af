// Copyright 2025 Certen Protocol

package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/l2"
)

type fakeSequencer struct {
	nextID     int
	states     map[string]BatchState
	fraudValid bool
}

func newFakeSequencer() *fakeSequencer {
	return &fakeSequencer{states: make(map[string]BatchState)}
}

func (f *fakeSequencer) SubmitTransaction(ctx context.Context, payload []byte) (string, error) {
	f.nextID++
	id := string(rune('a' + f.nextID))
	f.states[id] = Pending
	return id, nil
}

func (f *fakeSequencer) BatchStatus(ctx context.Context, batchID string) (BatchState, error) {
	s, ok := f.states[batchID]
	if !ok {
		return 0, coreerr.New(coreerr.NotFound, "fakeSequencer.BatchStatus", "unknown batch")
	}
	return s, nil
}

func (f *fakeSequencer) StateRoot(ctx context.Context) ([]byte, error) { return []byte("root"), nil }

func (f *fakeSequencer) VerifyFraudProof(ctx context.Context, proof []byte) (bool, error) {
	return f.fraudValid, nil
}

func connectedBackend(t *testing.T, fs *fakeSequencer, challengePeriod time.Duration) *Backend {
	t.Helper()
	b := New(func(ctx context.Context, endpoint string) (SequencerClient, error) { return fs, nil })
	if err := b.Initialize(context.Background(), Config{SequencerEndpoint: "local", ChallengePeriod: challengePeriod}); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return b
}

func TestGetTransactionStatus_PendingWithinChallengePeriod(t *testing.T) {
	fs := newFakeSequencer()
	b := connectedBackend(t, fs, time.Hour)

	batchID, err := b.SubmitTransaction(context.Background(), []byte("tx"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	status, err := b.GetTransactionStatus(context.Background(), batchID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Kind != l2.TxPending {
		t.Fatalf("expected Pending, got %s", status.Kind)
	}
}

func TestGetTransactionStatus_ConfirmedOncePendingPastChallengePeriod(t *testing.T) {
	fs := newFakeSequencer()
	b := connectedBackend(t, fs, time.Millisecond)

	batchID, err := b.SubmitTransaction(context.Background(), []byte("tx"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	original := now
	now = func() time.Time { return original().Add(time.Hour) }
	defer func() { now = original }()

	status, err := b.GetTransactionStatus(context.Background(), batchID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Kind != l2.TxConfirmed {
		t.Fatalf("expected Confirmed once past challenge period, got %s", status.Kind)
	}
}

func TestGetTransactionStatus_FinalizedPassesThrough(t *testing.T) {
	fs := newFakeSequencer()
	b := connectedBackend(t, fs, time.Hour)
	fs.states["batch-1"] = Finalized

	status, err := b.GetTransactionStatus(context.Background(), "batch-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Kind != l2.TxFinalized {
		t.Fatalf("expected Finalized, got %s", status.Kind)
	}
}

func TestGetTransactionStatus_RevertedReportsFailed(t *testing.T) {
	fs := newFakeSequencer()
	b := connectedBackend(t, fs, time.Hour)
	fs.states["batch-2"] = Reverted

	status, err := b.GetTransactionStatus(context.Background(), "batch-2")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Kind != l2.TxFailed || status.Reason != l2.ReasonReverted {
		t.Fatalf("expected Failed/Reverted, got %+v", status)
	}
}

func TestIssueAsset_RejectsDuplicateSymbol(t *testing.T) {
	fs := newFakeSequencer()
	b := connectedBackend(t, fs, time.Hour)

	if _, err := b.IssueAsset(context.Background(), l2.AssetParams{Symbol: "ROLL"}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	_, err := b.IssueAsset(context.Background(), l2.AssetParams{Symbol: "ROLL"})
	if !coreerr.Is(err, coreerr.Conflict) {
		t.Fatalf("expected Conflict on duplicate issuance, got %v", err)
	}
}

func TestVerifyProof_ReflectsSequencerVerdict(t *testing.T) {
	fs := newFakeSequencer()
	fs.fraudValid = true
	b := connectedBackend(t, fs, time.Hour)

	result, err := b.VerifyProof(context.Background(), []byte("proof"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !result.Valid {
		t.Fatal("expected valid proof")
	}
}
