// Copyright 2025 Certen Protocol

package datanode

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/certen/btc-identity-core/pkg/identity"
	"github.com/certen/btc-identity-core/pkg/round"
)

// Round has no dedicated component of its own; this exercises it as an
// ordinary record payload, round-tripped through the base store like any
// other application-defined data shape.
func TestBase_StoresRoundAsRecordPayload(t *testing.T) {
	r := round.New("round-1", []string{"participant-a", "participant-b"})
	if err := r.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}

	payload, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal round: %v", err)
	}

	base := NewBase(nil)
	owner := identity.ID("did:example:coordinator")
	ctx := context.Background()

	if _, err := base.Write(ctx, owner, writeMsg(r.ID, payload)); err != nil {
		t.Fatalf("write: %v", err)
	}

	recs, err := base.Query(ctx, owner, queryMsg(&Filter{RecordID: r.ID}))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}

	var decoded round.Round
	if err := json.Unmarshal(recs[0].Payload, &decoded); err != nil {
		t.Fatalf("unmarshal stored round: %v", err)
	}
	if decoded.State != round.StateReadingModels {
		t.Fatalf("expected stored round to preserve its advanced state, got %s", decoded.State)
	}
}
