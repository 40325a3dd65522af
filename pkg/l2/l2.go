// Copyright 2025 Certen Protocol
//
// Package l2 defines the uniform Layer-2 adapter contract (spec.md §4.8,
// component C8): one interface implemented by heterogeneous backends
// (EVM-style sidechain, optimistic rollup, Clarity-chain, client-side
// validated asset protocol), so the rest of the core never branches on
// backend identity. Grounded on the teacher's
// pkg/chain/strategy.ChainExecutionStrategy, which plays the identical
// role — one interface, many chain-specific implementations dispatched
// through the strategy registry.
package l2

import "context"

// TxStatusKind is the coarse transaction-status taxonomy spec.md §4.8
// names.
type TxStatusKind string

const (
	TxPending   TxStatusKind = "Pending"
	TxConfirmed TxStatusKind = "Confirmed"
	TxFinalized TxStatusKind = "Finalized"
	TxFailed    TxStatusKind = "Failed"
)

// FailureReason is the short machine-readable tag a Failed status carries.
type FailureReason string

const (
	ReasonInsufficientFunds FailureReason = "InsufficientFunds"
	ReasonReverted          FailureReason = "Reverted"
	ReasonTimeout           FailureReason = "Timeout"
	ReasonBackendError      FailureReason = "BackendError"
)

// TxStatus is the result of get_transaction_status.
type TxStatus struct {
	Kind   TxStatusKind
	Reason FailureReason // set only when Kind == TxFailed
}

// AssetParams carries the backend-opaque parameters for issue_asset.
type AssetParams struct {
	Name     string
	Symbol   string
	Supply   uint64
	Metadata map[string]string
}

// TransferParams carries the backend-opaque parameters for
// transfer_asset.
type TransferParams struct {
	AssetID string
	From    string
	To      string
	Amount  uint64
}

// TransferResult is the outcome of transfer_asset.
type TransferResult struct {
	TransferID string
	Status     TxStatusKind
}

// VerifyResult is the outcome of verify_proof / validate_state.
type VerifyResult struct {
	Valid  bool
	Reason string // empty when Valid
}

// BackendConfig carries whatever a backend needs for initialize; its
// shape is backend-specific and type-asserted inside each backend.
type BackendConfig interface{}

// Backend is the uniform adapter contract every Layer-2 backend
// implements (spec.md §4.8). Submissions are serialized per backend
// instance; queries are concurrent — each implementation enforces this
// with its own mutex around the submit path, not the contract itself.
type Backend interface {
	Initialize(ctx context.Context, config BackendConfig) error
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error

	SubmitTransaction(ctx context.Context, payload []byte) (txID string, err error)
	GetTransactionStatus(ctx context.Context, txID string) (TxStatus, error)

	GetState(ctx context.Context) (interface{}, error)
	SyncState(ctx context.Context) error

	IssueAsset(ctx context.Context, params AssetParams) (assetID string, err error)
	TransferAsset(ctx context.Context, params TransferParams) (TransferResult, error)

	VerifyProof(ctx context.Context, proof []byte) (VerifyResult, error)
	ValidateState(ctx context.Context, state []byte) (VerifyResult, error)
}
