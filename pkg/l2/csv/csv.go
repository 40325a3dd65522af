// Copyright 2025 Certen Protocol
//
// Package csv implements the l2.Backend contract (spec.md §4.8) over a
// client-side-validated asset protocol (RGB/Taproot-assets style):
// state lives off-chain as a chain of ownership transfers, each sealed
// to a Bitcoin output and verified by checking its commitment against
// the anchoring transaction rather than trusting a third-party ledger.
// Grounded on pkg/anchor.Primitive (the same OP_RETURN commit/verify
// primitive this package's sibling components use) and pkg/merkle: every
// BatchSize submissions are folded into one Merkle tree, only the root
// is anchored on-chain, and each submission keeps its own inclusion
// proof so it can demonstrate membership without the whole batch.
package csv

import (
	"context"
	"crypto/sha256"
	"sync"

	"github.com/certen/btc-identity-core/pkg/anchor"
	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/l2"
	"github.com/certen/btc-identity-core/pkg/merkle"
)

// Config configures a Backend at Initialize. BatchSize <= 1 anchors
// every submission on its own, which degenerates to a single-leaf tree
// whose root equals the leaf digest.
type Config struct {
	MinConfirmationsForFinality int64
	BatchSize                   int
}

// seal records one client-side-validated asset transfer: the digest
// submitted, the batch root it was folded into, the Bitcoin reference
// that root was anchored under, and the inclusion proof tying the
// digest to that root. reference and proof stay nil until the batch
// containing this seal is flushed.
type seal struct {
	digest    [32]byte
	root      [32]byte
	reference *anchor.Reference
	proof     *merkle.InclusionProof
}

// Backend adapts a client-side-validated asset protocol to l2.Backend.
// Unlike the other backends it has no remote RPC client: verification
// happens entirely against the Bitcoin anchor primitive, which is the
// point of "client-side validated" — there is no issuer or sequencer to
// ask.
type Backend struct {
	primary *anchor.Primitive
	cfg     Config

	// submitMu serializes both enqueueing a new seal and any batch
	// flush it triggers, so a flush always sees a consistent pending set.
	submitMu sync.Mutex
	pending  []string // txIDs queued since the last flush

	mu    sync.Mutex
	seals map[string]seal // keyed by txID this adapter assigns

	assetMu sync.Mutex
	assets  map[string]uint64
	nextTx  int
}

// New constructs a Backend that anchors commitments through primary.
func New(primary *anchor.Primitive) *Backend {
	return &Backend{
		primary: primary,
		seals:   make(map[string]seal),
		assets:  make(map[string]uint64),
	}
}

func (b *Backend) Initialize(ctx context.Context, config l2.BackendConfig) error {
	cfg, ok := config.(Config)
	if !ok {
		return coreerr.New(coreerr.InvalidInput, "csv.Initialize", "config must be csv.Config")
	}
	b.cfg = cfg
	return nil
}

// Connect and Disconnect are no-ops: the underlying anchor.Primitive
// owns its own wallet connection lifecycle.
func (b *Backend) Connect(ctx context.Context) error    { return nil }
func (b *Backend) Disconnect(ctx context.Context) error { return nil }

func (b *Backend) batchSize() int {
	if b.cfg.BatchSize <= 0 {
		return 1
	}
	return b.cfg.BatchSize
}

// SubmitTransaction queues sha256(payload) as a new seal and returns a
// locally assigned transaction ID. Once BatchSize digests are queued,
// this call also flushes the batch: it builds a Merkle tree over the
// queued digests and anchors only the root, the way client-side
// validated protocols keep transfer data off-chain.
func (b *Backend) SubmitTransaction(ctx context.Context, payload []byte) (string, error) {
	if b.primary == nil {
		return "", coreerr.New(coreerr.Conflict, "csv.SubmitTransaction", "not initialized with an anchor primitive")
	}
	digest := sha256.Sum256(payload)

	b.submitMu.Lock()
	defer b.submitMu.Unlock()

	b.mu.Lock()
	b.nextTx++
	txID := "seal-" + itoa(b.nextTx)
	b.seals[txID] = seal{digest: digest}
	b.mu.Unlock()
	b.pending = append(b.pending, txID)

	if len(b.pending) < b.batchSize() {
		return txID, nil
	}
	if err := b.flushLocked(ctx); err != nil {
		return "", err
	}
	return txID, nil
}

// flushLocked anchors the currently queued seals as one Merkle-batched
// commitment. Callers must hold submitMu.
func (b *Backend) flushLocked(ctx context.Context) error {
	txIDs := b.pending
	b.pending = nil

	b.mu.Lock()
	digests := make([][]byte, len(txIDs))
	for i, id := range txIDs {
		d := b.seals[id].digest
		digests[i] = d[:]
	}
	b.mu.Unlock()

	root, proofs, err := merkle.BatchDigest(digests)
	if err != nil {
		return coreerr.Wrap(coreerr.InvalidInput, "csv.flush", "build batch merkle tree", err)
	}
	var rootArr [32]byte
	copy(rootArr[:], root)

	ref, err := b.primary.Commit(ctx, rootArr)
	if err != nil {
		return coreerr.Wrap(coreerr.TransportError, "csv.flush", "commit batch root", err)
	}

	b.mu.Lock()
	for i, id := range txIDs {
		s := b.seals[id]
		s.root = rootArr
		s.reference = ref
		s.proof = proofs[i]
		b.seals[id] = s
	}
	b.mu.Unlock()
	return nil
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (b *Backend) GetTransactionStatus(ctx context.Context, txID string) (l2.TxStatus, error) {
	b.mu.Lock()
	s, ok := b.seals[txID]
	b.mu.Unlock()
	if !ok {
		return l2.TxStatus{}, coreerr.New(coreerr.NotFound, "csv.GetTransactionStatus", "unknown seal: "+txID)
	}
	if s.reference == nil {
		// Queued but not yet folded into an on-chain commitment.
		return l2.TxStatus{Kind: l2.TxPending}, nil
	}

	refreshed, err := b.primary.Refresh(ctx, s.reference)
	if err != nil {
		return l2.TxStatus{}, coreerr.Wrap(coreerr.TransportError, "csv.GetTransactionStatus", "refresh anchor reference", err)
	}

	b.mu.Lock()
	s.reference = refreshed
	b.seals[txID] = s
	b.mu.Unlock()

	if refreshed.Confirmations == 0 {
		return l2.TxStatus{Kind: l2.TxPending}, nil
	}
	if refreshed.Confirmations >= b.cfg.MinConfirmationsForFinality {
		return l2.TxStatus{Kind: l2.TxFinalized}, nil
	}
	return l2.TxStatus{Kind: l2.TxConfirmed}, nil
}

// GetState reports how many seals this adapter is tracking; there is no
// global state root in a client-side-validated protocol, only the set
// of seals each party independently verifies.
func (b *Backend) GetState(ctx context.Context) (interface{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.seals), nil
}

func (b *Backend) SyncState(ctx context.Context) error { return nil }

func (b *Backend) IssueAsset(ctx context.Context, params l2.AssetParams) (string, error) {
	b.assetMu.Lock()
	defer b.assetMu.Unlock()
	if _, exists := b.assets[params.Symbol]; exists {
		return "", coreerr.New(coreerr.Conflict, "csv.IssueAsset", "asset already issued: "+params.Symbol)
	}
	b.assets[params.Symbol] = params.Supply
	return params.Symbol, nil
}

// TransferAsset seals a transfer record (from, to, amount, asset) as a
// new commitment; the recipient later verifies the full transfer
// history by chasing each seal's anchor reference and inclusion proof
// themselves, the way client-side validation requires.
func (b *Backend) TransferAsset(ctx context.Context, params l2.TransferParams) (l2.TransferResult, error) {
	b.assetMu.Lock()
	_, ok := b.assets[params.AssetID]
	b.assetMu.Unlock()
	if !ok {
		return l2.TransferResult{}, coreerr.New(coreerr.NotFound, "csv.TransferAsset", "unknown asset: "+params.AssetID)
	}

	payload := []byte(params.AssetID + "|" + params.From + "|" + params.To)
	txID, err := b.SubmitTransaction(ctx, payload)
	if err != nil {
		return l2.TransferResult{}, err
	}
	return l2.TransferResult{TransferID: txID, Status: l2.TxPending}, nil
}

// VerifyProof checks that digest was included in one of this backend's
// anchored batches: it walks the seal's Merkle inclusion proof up to the
// batch root, then verifies that root commits on-chain via the same
// anchor.Primitive.Verify every other anchored component in this core
// relies on.
func (b *Backend) VerifyProof(ctx context.Context, proof []byte) (l2.VerifyResult, error) {
	if len(proof) != 32 {
		return l2.VerifyResult{}, coreerr.New(coreerr.InvalidInput, "csv.VerifyProof", "proof must be a 32-byte digest")
	}
	var digest [32]byte
	copy(digest[:], proof)

	b.mu.Lock()
	var found *seal
	for _, s := range b.seals {
		if s.digest == digest {
			found = &s
			break
		}
	}
	b.mu.Unlock()
	if found == nil {
		return l2.VerifyResult{Valid: false, Reason: "no known seal for digest"}, nil
	}
	if found.reference == nil {
		return l2.VerifyResult{Valid: false, Reason: "seal not yet anchored"}, nil
	}

	included, err := merkle.VerifyProof(digest[:], found.proof, found.root[:])
	if err != nil {
		return l2.VerifyResult{}, coreerr.Wrap(coreerr.InvalidInput, "csv.VerifyProof", "check batch inclusion", err)
	}
	if !included {
		return l2.VerifyResult{Valid: false, Reason: "digest not included in its batch root"}, nil
	}

	result, err := b.primary.Verify(ctx, found.root, found.reference, b.cfg.MinConfirmationsForFinality)
	if err != nil {
		return l2.VerifyResult{}, coreerr.Wrap(coreerr.TransportError, "csv.VerifyProof", "verify anchor commitment", err)
	}
	return l2.VerifyResult{Valid: result.Valid, Reason: result.Reason}, nil
}

func (b *Backend) ValidateState(ctx context.Context, state []byte) (l2.VerifyResult, error) {
	return b.VerifyProof(ctx, state)
}

var _ l2.Backend = (*Backend)(nil)
