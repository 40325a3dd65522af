// Copyright 2025 Certen Protocol

package round

import (
	"testing"

	"github.com/certen/btc-identity-core/pkg/coreerr"
)

func TestRound_AdvancesThroughFullLifecycle(t *testing.T) {
	r := New("round-1", []string{"p1", "p2"})
	want := []State{
		StateReadingModels, StateEvaluatingModels, StateAggregatingModels,
		StateDistributingModel, StateCompleted,
	}
	for _, w := range want {
		if err := r.Advance(); err != nil {
			t.Fatalf("advance to %s: %v", w, err)
		}
		if r.State != w {
			t.Fatalf("expected state %s, got %s", w, r.State)
		}
	}
	if !r.Terminal() {
		t.Fatal("expected round to be terminal after reaching Completed")
	}
}

func TestRound_AdvancePastTerminalFails(t *testing.T) {
	r := New("round-1", nil)
	for i := 0; i < 5; i++ {
		if err := r.Advance(); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
	}
	err := r.Advance()
	if !coreerr.Is(err, coreerr.Conflict) {
		t.Fatalf("expected Conflict advancing past terminal state, got %v", err)
	}
}

func TestRound_FailFromMidLifecycle(t *testing.T) {
	r := New("round-1", nil)
	if err := r.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if err := r.Fail("participant timeout"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	if r.State != StateFailed || r.FailureReason != "participant timeout" {
		t.Fatalf("unexpected state after fail: %+v", r)
	}
}
