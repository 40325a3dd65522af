// Copyright 2025 Certen Protocol
//
// Package wallet declares the Bitcoin wallet collaborator the chain-anchor
// primitive depends on (spec.md §1: "The core consumes from them: a
// wallet capable of producing a data-carrying transaction and reporting
// its inclusion"). UTXO management, signing and broadcast live outside
// the core; this package only states the contract pkg/anchor needs.
package wallet

import (
	"context"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
)

// Wallet is the minimal surface pkg/anchor needs from a funded Bitcoin
// wallet. Implementations own UTXO selection, signing and broadcast.
type Wallet interface {
	// FundAndBroadcast takes a transaction template carrying at least
	// one unspendable data output, adds inputs/change/fee, signs, and
	// broadcasts it. It returns the final transaction (so the caller can
	// find the data output's final index, since funding may reorder
	// outputs) and its txid.
	FundAndBroadcast(ctx context.Context, tmpl *wire.MsgTx) (final *wire.MsgTx, txid chainhash.Hash, err error)

	// GetTransaction retrieves a previously broadcast transaction plus
	// its confirmation status. Confirmations is 0 for an unconfirmed
	// (mempool) transaction. Found is false if the wallet has no record
	// of the transaction (e.g. it fell below its reorg horizon).
	GetTransaction(ctx context.Context, txid chainhash.Hash) (tx *wire.MsgTx, status TxStatus, found bool, err error)
}

// TxStatus reports a transaction's chain position as seen by the wallet.
type TxStatus struct {
	BlockHash     *chainhash.Hash
	BlockHeight   int64
	Confirmations int64
}
