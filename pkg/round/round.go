// Copyright 2025 Certen Protocol
//
// Package round implements the federated-round bookkeeping spec.md §3
// names ("Round (federated variant)") but leaves without dedicated
// operations. Lifecycle and state names are grounded on
// original_source/anya-core's federated_agent.rs and system_map.rs, which
// describe a round progressing Initializing → ReadingModels →
// EvaluatingModels → AggregatingModels → DistributingModel →
// Completed/Failed. It has no component of its own in C1–C9; pkg/datanode
// tests use it as an example record payload shape.
package round

import (
	"time"

	"github.com/certen/btc-identity-core/pkg/coreerr"
)

// State names a federated round's lifecycle stage.
type State string

const (
	StateInitializing      State = "Initializing"
	StateReadingModels     State = "ReadingModels"
	StateEvaluatingModels  State = "EvaluatingModels"
	StateAggregatingModels State = "AggregatingModels"
	StateDistributingModel State = "DistributingModel"
	StateCompleted         State = "Completed"
	StateFailed            State = "Failed"
)

// transitions enumerates the only state changes Advance permits.
var transitions = map[State]State{
	StateInitializing:      StateReadingModels,
	StateReadingModels:     StateEvaluatingModels,
	StateEvaluatingModels:  StateAggregatingModels,
	StateAggregatingModels: StateDistributingModel,
	StateDistributingModel: StateCompleted,
}

// Round tracks one federated aggregation round's progress. Participants
// and model digests are left to the caller; Round only enforces the
// lifecycle ordering.
type Round struct {
	ID           string
	State        State
	ParticipantIDs []string
	StartedAt    time.Time
	UpdatedAt    time.Time
	FailureReason string
}

// New starts a round in the Initializing state.
func New(id string, participantIDs []string) *Round {
	now := time.Now()
	return &Round{
		ID:             id,
		State:          StateInitializing,
		ParticipantIDs: participantIDs,
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

// Advance moves the round to its next lifecycle state. It fails if the
// round is already terminal (Completed or Failed) or the transition would
// skip a stage.
func (r *Round) Advance() error {
	if r.State == StateCompleted || r.State == StateFailed {
		return coreerr.New(coreerr.Conflict, "round.Advance", "round already terminal")
	}
	next, ok := transitions[r.State]
	if !ok {
		return coreerr.New(coreerr.Fatal, "round.Advance", "no transition defined for state "+string(r.State))
	}
	r.State = next
	r.UpdatedAt = time.Now()
	return nil
}

// Fail transitions the round to Failed from any non-terminal state,
// recording reason.
func (r *Round) Fail(reason string) error {
	if r.State == StateCompleted || r.State == StateFailed {
		return coreerr.New(coreerr.Conflict, "round.Fail", "round already terminal")
	}
	r.State = StateFailed
	r.FailureReason = reason
	r.UpdatedAt = time.Now()
	return nil
}

// Terminal reports whether the round has reached Completed or Failed.
func (r *Round) Terminal() bool {
	return r.State == StateCompleted || r.State == StateFailed
}
