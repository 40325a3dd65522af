// Copyright 2025 Certen Protocol
//
// Package rollup implements the l2.Backend contract (spec.md §4.8) over
// an optimistic-rollup client, batching submitted transactions and
// tracking each batch through the Pending -> Challenged/Finalized ->
// (Reverted) lifecycle. Grounded on
// _examples/orbas1-Synnergy's core/rollups.go Aggregator, generalized
// from an in-process consensus component to an RPC client adapter: a
// SequencerClient stands in for the rollup node this adapter talks to,
// the way evmsidechain.Client stands in for ethclient.
package rollup

import (
	"context"
	"sync"
	"time"

	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/l2"
)

// BatchState mirrors the lifecycle Synnergy's Aggregator names.
type BatchState uint8

const (
	Pending BatchState = iota + 1
	Challenged
	Finalized
	Reverted
)

// Config configures a Backend at Initialize.
type Config struct {
	SequencerEndpoint string
	// ChallengePeriod is how long after submission a batch the sequencer
	// still reports as Pending is reported as Pending; once it has
	// elapsed, GetTransactionStatus reports Confirmed. Finalized is
	// reported only when the sequencer itself reports the batch Finalized.
	ChallengePeriod time.Duration
}

// SequencerClient is the subset of a rollup node RPC surface this
// backend needs.
type SequencerClient interface {
	SubmitTransaction(ctx context.Context, payload []byte) (batchID string, err error)
	BatchStatus(ctx context.Context, batchID string) (BatchState, error)
	StateRoot(ctx context.Context) ([]byte, error)
	VerifyFraudProof(ctx context.Context, proof []byte) (bool, error)
}

// Dialer opens a SequencerClient against an endpoint.
type Dialer func(ctx context.Context, endpoint string) (SequencerClient, error)

// submission records when a batch was first seen, so the backend can
// apply the challenge period locally even if the sequencer itself
// reports Pending past the window (e.g. it finalizes lazily).
type submission struct {
	submittedAt time.Time
}

// Backend adapts an optimistic-rollup sequencer to l2.Backend.
type Backend struct {
	dial   Dialer
	client SequencerClient
	cfg    Config

	submitMu sync.Mutex

	mu          sync.Mutex
	submissions map[string]submission

	assetMu sync.Mutex
	assets  map[string]uint64
}

func New(dial Dialer) *Backend {
	return &Backend{
		dial:        dial,
		submissions: make(map[string]submission),
		assets:      make(map[string]uint64),
	}
}

func (b *Backend) Initialize(ctx context.Context, config l2.BackendConfig) error {
	cfg, ok := config.(Config)
	if !ok {
		return coreerr.New(coreerr.InvalidInput, "rollup.Initialize", "config must be rollup.Config")
	}
	b.cfg = cfg
	return nil
}

func (b *Backend) Connect(ctx context.Context) error {
	client, err := b.dial(ctx, b.cfg.SequencerEndpoint)
	if err != nil {
		return coreerr.Wrap(coreerr.TransportError, "rollup.Connect", "dial sequencer", err)
	}
	b.client = client
	return nil
}

func (b *Backend) Disconnect(ctx context.Context) error {
	b.client = nil
	return nil
}

func (b *Backend) SubmitTransaction(ctx context.Context, payload []byte) (string, error) {
	if b.client == nil {
		return "", coreerr.New(coreerr.Conflict, "rollup.SubmitTransaction", "not connected")
	}

	b.submitMu.Lock()
	defer b.submitMu.Unlock()

	batchID, err := b.client.SubmitTransaction(ctx, payload)
	if err != nil {
		return "", coreerr.Wrap(coreerr.TransportError, "rollup.SubmitTransaction", "submit to sequencer", err)
	}

	b.mu.Lock()
	if _, seen := b.submissions[batchID]; !seen {
		b.submissions[batchID] = submission{submittedAt: now()}
	}
	b.mu.Unlock()

	return batchID, nil
}

// now is a seam so tests can control elapsed challenge-period time
// without sleeping.
var now = time.Now

func (b *Backend) GetTransactionStatus(ctx context.Context, batchID string) (l2.TxStatus, error) {
	if b.client == nil {
		return l2.TxStatus{}, coreerr.New(coreerr.Conflict, "rollup.GetTransactionStatus", "not connected")
	}
	state, err := b.client.BatchStatus(ctx, batchID)
	if err != nil {
		return l2.TxStatus{}, coreerr.Wrap(coreerr.TransportError, "rollup.GetTransactionStatus", "query batch status", err)
	}

	switch state {
	case Reverted:
		return l2.TxStatus{Kind: l2.TxFailed, Reason: l2.ReasonReverted}, nil
	case Finalized:
		return l2.TxStatus{Kind: l2.TxFinalized}, nil
	case Challenged:
		return l2.TxStatus{Kind: l2.TxConfirmed}, nil
	case Pending:
		b.mu.Lock()
		sub, seen := b.submissions[batchID]
		b.mu.Unlock()
		if seen && now().Sub(sub.submittedAt) >= b.cfg.ChallengePeriod {
			return l2.TxStatus{Kind: l2.TxConfirmed}, nil
		}
		return l2.TxStatus{Kind: l2.TxPending}, nil
	default:
		return l2.TxStatus{}, coreerr.New(coreerr.Fatal, "rollup.GetTransactionStatus", "unknown batch state")
	}
}

func (b *Backend) GetState(ctx context.Context) (interface{}, error) {
	if b.client == nil {
		return nil, coreerr.New(coreerr.Conflict, "rollup.GetState", "not connected")
	}
	root, err := b.client.StateRoot(ctx)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "rollup.GetState", "read state root", err)
	}
	return root, nil
}

func (b *Backend) SyncState(ctx context.Context) error { return nil }

func (b *Backend) IssueAsset(ctx context.Context, params l2.AssetParams) (string, error) {
	b.assetMu.Lock()
	defer b.assetMu.Unlock()
	if _, exists := b.assets[params.Symbol]; exists {
		return "", coreerr.New(coreerr.Conflict, "rollup.IssueAsset", "asset already issued: "+params.Symbol)
	}
	b.assets[params.Symbol] = params.Supply
	return params.Symbol, nil
}

// TransferAsset posts a transfer as an ordinary rollup transaction;
// amount bookkeeping lives inside the rollup's own state, opaque to this
// adapter, so the result only reports submission, not settlement.
func (b *Backend) TransferAsset(ctx context.Context, params l2.TransferParams) (l2.TransferResult, error) {
	b.assetMu.Lock()
	_, ok := b.assets[params.AssetID]
	b.assetMu.Unlock()
	if !ok {
		return l2.TransferResult{}, coreerr.New(coreerr.NotFound, "rollup.TransferAsset", "unknown asset: "+params.AssetID)
	}
	batchID, err := b.SubmitTransaction(ctx, encodeTransfer(params))
	if err != nil {
		return l2.TransferResult{}, err
	}
	return l2.TransferResult{TransferID: batchID, Status: l2.TxPending}, nil
}

func encodeTransfer(p l2.TransferParams) []byte {
	return []byte(p.AssetID + "|" + p.From + "|" + p.To)
}

func (b *Backend) VerifyProof(ctx context.Context, proof []byte) (l2.VerifyResult, error) {
	if b.client == nil {
		return l2.VerifyResult{}, coreerr.New(coreerr.Conflict, "rollup.VerifyProof", "not connected")
	}
	ok, err := b.client.VerifyFraudProof(ctx, proof)
	if err != nil {
		return l2.VerifyResult{}, coreerr.Wrap(coreerr.TransportError, "rollup.VerifyProof", "verify fraud proof", err)
	}
	if !ok {
		return l2.VerifyResult{Valid: false, Reason: "fraud proof rejected"}, nil
	}
	return l2.VerifyResult{Valid: true}, nil
}

func (b *Backend) ValidateState(ctx context.Context, state []byte) (l2.VerifyResult, error) {
	return b.VerifyProof(ctx, state)
}

var _ l2.Backend = (*Backend)(nil)
