// Copyright 2025 Certen Protocol
//
// Package anchor implements the chain-anchor primitive (spec.md §4.1,
// component C1): it commits a 32-byte digest to Bitcoin via an
// unspendable data-carrying output, tracks confirmation depth, and
// re-derives a digest from a known output for verification. It is
// payload-shape-agnostic beyond an optional build-constant tag prefix, so
// the credential pipeline (C4) and the enhanced data node (C6) can share
// one anchoring path.
package anchor

import (
	"bytes"
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"

	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/wallet"
)

// Tag, if non-empty, is prepended to every digest committed by this build.
// It must be a compile-time constant — varying it across a running fleet
// would make verify() non-deterministic between implementations. Leave it
// nil to commit the bare 32-byte digest.
var Tag []byte

// Reference records a commitment and everything later needed to verify
// or refresh it (spec.md §3 "Anchor reference"). Observations accumulate
// append-only in the index (pkg/anchorindex); Reference itself is the
// latest snapshot.
type Reference struct {
	TxID          chainhash.Hash
	OutputIndex   int
	BlockHash     *chainhash.Hash
	BlockHeight   int64
	Confirmations int64
	AnchoredAt    time.Time
	// Orphaned is set by Refresh when the wallet can no longer find the
	// commitment transaction (spec.md §4.6 reorg handling). It is a
	// verification failure, not a silent rollback: once set, Verify
	// always reports Invalid with reason "Orphaned" until a fresh commit
	// replaces this Reference.
	Orphaned bool
}

// Primitive is the chain-anchor primitive bound to one wallet.
type Primitive struct {
	w wallet.Wallet
}

// New binds the chain-anchor primitive to a funded wallet collaborator.
func New(w wallet.Wallet) *Primitive {
	return &Primitive{w: w}
}

func payload(digest [32]byte) []byte {
	if len(Tag) == 0 {
		return digest[:]
	}
	out := make([]byte, 0, len(Tag)+32)
	out = append(out, Tag...)
	out = append(out, digest[:]...)
	return out
}

// Commit builds a transaction with one unspendable OP_RETURN output
// carrying digest (optionally Tag-prefixed), asks the wallet to fund,
// sign and broadcast it, and returns the resulting reference with
// confirmations=0.
func (p *Primitive) Commit(ctx context.Context, digest [32]byte) (*Reference, error) {
	if p.w == nil {
		return nil, coreerr.New(coreerr.TransportError, "anchor.Commit", "WalletUnavailable")
	}

	script, err := txscript.NullDataScript(payload(digest))
	if err != nil {
		return nil, coreerr.Wrap(coreerr.InvalidInput, "anchor.Commit", "Funding", err)
	}

	tmpl := wire.NewMsgTx(wire.TxVersion)
	tmpl.AddTxOut(wire.NewTxOut(0, script))

	final, txid, err := p.w.FundAndBroadcast(ctx, tmpl)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "anchor.Commit", "Broadcast", err)
	}

	idx, found := findDataOutput(final, script)
	if !found {
		return nil, coreerr.New(coreerr.Fatal, "anchor.Commit", "funded transaction lost the data output")
	}

	return &Reference{
		TxID:        txid,
		OutputIndex: idx,
		AnchoredAt:  time.Now(),
	}, nil
}

func findDataOutput(tx *wire.MsgTx, script []byte) (int, bool) {
	for i, out := range tx.TxOut {
		if bytes.Equal(out.PkScript, script) {
			return i, true
		}
	}
	return 0, false
}

// Refresh asks the wallet for the commitment transaction's current chain
// position and returns an updated reference. If the wallet reports the
// transaction absent, the reference transitions to Orphaned rather than
// returning NotFound, so callers see the reorg as part of the normal
// state machine (spec.md §4.6).
func (p *Primitive) Refresh(ctx context.Context, ref *Reference) (*Reference, error) {
	if p.w == nil {
		return nil, coreerr.New(coreerr.TransportError, "anchor.Refresh", "WalletUnavailable")
	}

	_, status, found, err := p.w.GetTransaction(ctx, ref.TxID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "anchor.Refresh", "transport failure", err)
	}
	if !found {
		orphaned := *ref
		orphaned.Orphaned = true
		return &orphaned, nil
	}

	updated := *ref
	updated.BlockHash = status.BlockHash
	updated.BlockHeight = status.BlockHeight
	updated.Confirmations = status.Confirmations
	updated.Orphaned = false
	return &updated, nil
}

// VerifyResult is the outcome of re-deriving and checking a commitment.
type VerifyResult struct {
	Valid  bool
	Reason string // empty when Valid
}

func invalid(reason string) VerifyResult { return VerifyResult{Valid: false, Reason: reason} }

// Verify retrieves the committed transaction, checks that the output at
// ref.OutputIndex is an unspendable data output, extracts its payload,
// compares it to digest, and requires confirmations >= minConfirmations.
// The confirmation floor is entirely caller-supplied (§4.4 and §4.6 each
// set their own); Verify itself enforces no reorg-safety depth of its own.
func (p *Primitive) Verify(ctx context.Context, digest [32]byte, ref *Reference, minConfirmations int64) (VerifyResult, error) {
	if ref.Orphaned {
		return invalid("Orphaned"), nil
	}
	if p.w == nil {
		return VerifyResult{}, coreerr.New(coreerr.TransportError, "anchor.Verify", "WalletUnavailable")
	}

	tx, status, found, err := p.w.GetTransaction(ctx, ref.TxID)
	if err != nil {
		return VerifyResult{}, coreerr.Wrap(coreerr.TransportError, "anchor.Verify", "transport failure", err)
	}
	if !found {
		return invalid("Orphaned"), nil
	}
	if ref.OutputIndex < 0 || ref.OutputIndex >= len(tx.TxOut) {
		return invalid("NotUnspendableData"), nil
	}

	out := tx.TxOut[ref.OutputIndex]
	class := txscript.GetScriptClass(out.PkScript)
	if class != txscript.NullDataTy {
		return invalid("NotUnspendableData"), nil
	}

	extracted, err := extractNullData(out.PkScript)
	if err != nil {
		return invalid("NotUnspendableData"), nil
	}

	want := payload(digest)
	if !bytes.Equal(extracted, want) {
		return invalid("PayloadMismatch"), nil
	}

	if status.Confirmations < minConfirmations {
		return invalid("InsufficientConfirmations"), nil
	}

	return VerifyResult{Valid: true}, nil
}

// extractNullData pulls the pushed data out of an OP_RETURN script. It
// does not re-verify the script class; callers check that separately.
func extractNullData(script []byte) ([]byte, error) {
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	if !tokenizer.Next() { // OP_RETURN
		return nil, tokenizer.Err()
	}
	if !tokenizer.Next() { // pushed data, if any
		return []byte{}, nil
	}
	return tokenizer.Data(), tokenizer.Err()
}
