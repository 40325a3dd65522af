// Copyright 2025 Certen Protocol
//
// Package datanode implements the personal-data-node base store (spec.md
// §4.5, component C5), the anchoring-aware enhanced store wrapping it
// (§4.6, C6), and the read-first instrumentation decorator (§4.7, C7).
// Grounded on the teacher's dispatch-table style for message handling
// (pkg/strategy.Registry's method lookup by key) generalized to the
// uniform {interface, method} message shape this spec names — the DWN
// ("decentralized web node") message-grammar supplement from
// original_source informs the Message field names.
package datanode

import (
	"time"

	"github.com/certen/btc-identity-core/pkg/credential"
	"github.com/certen/btc-identity-core/pkg/identity"
	"github.com/certen/btc-identity-core/pkg/signer"
)

// Interface names a message's target surface; spec.md §4.5 names exactly
// one ("Records") but leaves room for more, following the DWN message
// protocol the supplemented spec borrows its {interface, method} shape
// from.
type Interface string

const (
	InterfaceRecords Interface = "Records"
)

// Method names the operation within an Interface.
type Method string

const (
	MethodWrite  Method = "Write"
	MethodQuery  Method = "Query"
	MethodDelete Method = "Delete"
)

// Descriptor carries a message's routing and format metadata.
type Descriptor struct {
	Interface  Interface
	Method     Method
	DataFormat string
	Schema     string
	// Filter is consulted by Query; nil means match-all.
	Filter *Filter
}

// Filter selects records for a Query message.
type Filter struct {
	RecordID string            // exact match when non-empty
	Tags     map[string]string // not applied: the base store's tagsMatch accepts every record
	OrderBy  string            // record field name; empty means unspecified order
}

// Message is the uniform envelope spec.md §4.5 describes:
// {id, descriptor, payload?, attestation?}.
type Message struct {
	ID         string
	Descriptor Descriptor
	// Protocol and MessageType are carried but not dispatched on by this
	// package's base/enhanced stores; they exist so a deployment routing
	// messages across multiple protocol definitions (DWN-style) has
	// somewhere to put that information without inventing its own
	// envelope.
	Protocol    string
	MessageType string
	Payload     []byte
	Attestation *credential.Attestation
	// AuthProof lets a caller authorize without an attestation, per
	// spec.md §4.5: "OR originate from a principal whose authentication
	// proof is verifiable under the owner's document". AuthBytes is what
	// AuthProof was computed over; it is the caller's responsibility to
	// bind it to this message (e.g. a canonical digest of id+descriptor).
	AuthProof *signer.Proof
	AuthBytes []byte
	// Policy is consulted by the enhanced node (C6) only; the base node
	// ignores it. Nil means the zero Policy (no anchoring, no
	// confirmation filter).
	Policy *Policy
}

// Record is a stored unit, keyed by (OwnerID, ID).
type Record struct {
	OwnerID    identity.ID
	ID         string
	Payload    []byte
	Descriptor Descriptor
	WrittenAt  time.Time
	UpdatedAt  time.Time
}
