// Copyright 2025 Certen Protocol
//
// Package evmsidechain implements the l2.Backend contract (spec.md §4.8)
// over an EVM-compatible sidechain, following the two-way-peg bookkeeping
// original_source/dependencies/anya-bitcoin's rsk module describes:
// asset issuance and transfer are tracked against a federated bridge
// address rather than minted natively, and a transaction only reaches
// Finalized once it clears a confirmation floor above the chain's own
// notion of "confirmed". Client wiring follows the teacher's
// pkg/execution/ethereum_contracts.go EthereumContractManager: dial once
// at Connect, hold the *ethclient.Client for the adapter's lifetime.
package evmsidechain

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/l2"
)

// Config configures a Backend at Initialize.
type Config struct {
	RPCEndpoint string
	// BridgeAddress is the federated two-way-peg contract asset issuance
	// and transfer bookkeeping is recorded against.
	BridgeAddress common.Address
	// FinalityDepth is how many confirmations beyond the chain's own
	// "confirmed" receipt are required before GetTransactionStatus
	// reports Finalized rather than Confirmed.
	FinalityDepth uint64
}

// Client is the subset of *ethclient.Client the backend needs; declared
// as an interface so tests can supply a fake, the way pkg/wallet.Wallet
// abstracts broadcast away from pkg/anchor.
type Client interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Dialer opens a Client against an RPC endpoint. Production wiring uses
// ethclient.Dial; tests substitute an in-memory fake.
type Dialer func(ctx context.Context, endpoint string) (Client, error)

// ledgerEntry tracks one bridge-recorded asset's known supply and holder
// balances, since the bridge contract itself is opaque to this adapter.
type ledgerEntry struct {
	supply   uint64
	balances map[string]uint64
}

// Backend adapts an EVM-compatible sidechain to l2.Backend.
type Backend struct {
	dial   Dialer
	client Client
	cfg    Config

	submitMu sync.Mutex // serializes SubmitTransaction per spec.md §4.8

	ledgerMu sync.Mutex
	ledger   map[string]*ledgerEntry
}

// New constructs a Backend that dials endpoints with dial.
func New(dial Dialer) *Backend {
	return &Backend{dial: dial, ledger: make(map[string]*ledgerEntry)}
}

func (b *Backend) Initialize(ctx context.Context, config l2.BackendConfig) error {
	cfg, ok := config.(Config)
	if !ok {
		return coreerr.New(coreerr.InvalidInput, "evmsidechain.Initialize", "config must be evmsidechain.Config")
	}
	b.cfg = cfg
	return nil
}

func (b *Backend) Connect(ctx context.Context) error {
	client, err := b.dial(ctx, b.cfg.RPCEndpoint)
	if err != nil {
		return coreerr.Wrap(coreerr.TransportError, "evmsidechain.Connect", "dial rpc endpoint", err)
	}
	b.client = client
	return nil
}

func (b *Backend) Disconnect(ctx context.Context) error {
	b.client = nil
	return nil
}

// SubmitTransaction broadcasts a pre-signed RLP-encoded transaction.
// Encoding and signing are the caller's responsibility, mirroring the
// way pkg/wallet.Wallet.FundAndBroadcast takes a pre-built template
// rather than raw intent.
func (b *Backend) SubmitTransaction(ctx context.Context, payload []byte) (string, error) {
	if b.client == nil {
		return "", coreerr.New(coreerr.Conflict, "evmsidechain.SubmitTransaction", "not connected")
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(payload); err != nil {
		return "", coreerr.Wrap(coreerr.InvalidInput, "evmsidechain.SubmitTransaction", "decode signed transaction", err)
	}

	b.submitMu.Lock()
	defer b.submitMu.Unlock()

	if err := b.client.SendTransaction(ctx, &tx); err != nil {
		return "", coreerr.Wrap(coreerr.TransportError, "evmsidechain.SubmitTransaction", "broadcast", err)
	}
	return tx.Hash().Hex(), nil
}

func (b *Backend) GetTransactionStatus(ctx context.Context, txID string) (l2.TxStatus, error) {
	if b.client == nil {
		return l2.TxStatus{}, coreerr.New(coreerr.Conflict, "evmsidechain.GetTransactionStatus", "not connected")
	}
	receipt, err := b.client.TransactionReceipt(ctx, common.HexToHash(txID))
	if err != nil {
		return l2.TxStatus{Kind: l2.TxPending}, nil
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return l2.TxStatus{Kind: l2.TxFailed, Reason: l2.ReasonReverted}, nil
	}

	head, err := b.client.BlockNumber(ctx)
	if err != nil {
		return l2.TxStatus{}, coreerr.Wrap(coreerr.TransportError, "evmsidechain.GetTransactionStatus", "read chain head", err)
	}
	if head < receipt.BlockNumber.Uint64() {
		return l2.TxStatus{Kind: l2.TxConfirmed}, nil
	}
	confirmations := head - receipt.BlockNumber.Uint64()
	if confirmations >= b.cfg.FinalityDepth {
		return l2.TxStatus{Kind: l2.TxFinalized}, nil
	}
	return l2.TxStatus{Kind: l2.TxConfirmed}, nil
}

// GetState reports the bridge contract's balance, the adapter's coarse
// view of sidechain liquidity.
func (b *Backend) GetState(ctx context.Context) (interface{}, error) {
	if b.client == nil {
		return nil, coreerr.New(coreerr.Conflict, "evmsidechain.GetState", "not connected")
	}
	balance, err := b.client.BalanceAt(ctx, b.cfg.BridgeAddress, nil)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "evmsidechain.GetState", "read bridge balance", err)
	}
	return balance, nil
}

// SyncState is a no-op for this backend: every read above queries the
// RPC endpoint directly rather than a locally cached view.
func (b *Backend) SyncState(ctx context.Context) error { return nil }

// IssueAsset records a new peg-in issuance against the bridge ledger.
// The actual mint happens on-chain via a SubmitTransaction the caller
// arranges separately; this bookkeeping only tracks what the bridge
// believes it has issued, per the two-way-peg accounting rsk describes.
func (b *Backend) IssueAsset(ctx context.Context, params l2.AssetParams) (string, error) {
	b.ledgerMu.Lock()
	defer b.ledgerMu.Unlock()
	if _, exists := b.ledger[params.Symbol]; exists {
		return "", coreerr.New(coreerr.Conflict, "evmsidechain.IssueAsset", "asset already issued: "+params.Symbol)
	}
	b.ledger[params.Symbol] = &ledgerEntry{supply: params.Supply, balances: map[string]uint64{}}
	return params.Symbol, nil
}

func (b *Backend) TransferAsset(ctx context.Context, params l2.TransferParams) (l2.TransferResult, error) {
	b.ledgerMu.Lock()
	defer b.ledgerMu.Unlock()
	entry, ok := b.ledger[params.AssetID]
	if !ok {
		return l2.TransferResult{}, coreerr.New(coreerr.NotFound, "evmsidechain.TransferAsset", "unknown asset: "+params.AssetID)
	}
	if entry.balances[params.From] < params.Amount && params.From != "" {
		return l2.TransferResult{Status: l2.TxFailed}, coreerr.New(coreerr.InvalidInput, "evmsidechain.TransferAsset", "insufficient balance")
	}
	if params.From != "" {
		entry.balances[params.From] -= params.Amount
	}
	entry.balances[params.To] += params.Amount
	return l2.TransferResult{TransferID: params.AssetID + ":" + params.To, Status: l2.TxConfirmed}, nil
}

// VerifyProof checks a Merkle-style inclusion proof against a contract
// call exposed by the bridge, the eth_call analogue of
// pkg/anchor.Primitive.Verify.
func (b *Backend) VerifyProof(ctx context.Context, proof []byte) (l2.VerifyResult, error) {
	if b.client == nil {
		return l2.VerifyResult{}, coreerr.New(coreerr.Conflict, "evmsidechain.VerifyProof", "not connected")
	}
	result, err := b.client.CallContract(ctx, ethereum.CallMsg{
		To:   &b.cfg.BridgeAddress,
		Data: proof,
	}, nil)
	if err != nil {
		return l2.VerifyResult{}, coreerr.Wrap(coreerr.TransportError, "evmsidechain.VerifyProof", "call bridge contract", err)
	}
	if len(result) == 0 || result[len(result)-1] == 0 {
		return l2.VerifyResult{Valid: false, Reason: "bridge contract rejected proof"}, nil
	}
	return l2.VerifyResult{Valid: true}, nil
}

// ValidateState delegates to the same contract-call path as VerifyProof;
// the bridge contract distinguishes proof kinds by payload shape, not by
// a separate entry point.
func (b *Backend) ValidateState(ctx context.Context, state []byte) (l2.VerifyResult, error) {
	return b.VerifyProof(ctx, state)
}

var _ l2.Backend = (*Backend)(nil)
