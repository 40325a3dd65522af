// Copyright 2025 Certen Protocol

package datanode

import (
	"context"

	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/identity"
	"github.com/certen/btc-identity-core/pkg/signer"
)

// SignatureVerifier is the C3 surface this package needs to check an
// authentication proof against the owner's document.
type SignatureVerifier interface {
	Verify(ctx context.Context, bytes []byte, proof *signer.Proof, controller identity.ID, expectedPurpose identity.Purpose) (signer.VerifyResult, error)
}

// DefaultAuthorizer implements spec.md §4.5 authorization: a message is
// permitted if its attestation's subject-id equals owner, or its
// AuthProof verifies as an authentication proof under owner's document.
type DefaultAuthorizer struct {
	Verifier SignatureVerifier
}

func (d DefaultAuthorizer) Authorize(ctx context.Context, owner identity.ID, msg Message) (bool, error) {
	if msg.Attestation != nil && msg.Attestation.SubjectID == owner {
		return true, nil
	}
	if msg.AuthProof != nil {
		res, err := d.Verifier.Verify(ctx, msg.AuthBytes, msg.AuthProof, owner, identity.PurposeAuthentication)
		if err != nil {
			return false, coreerr.Wrap(coreerr.TransportError, "datanode.DefaultAuthorizer", "verify auth proof", err)
		}
		return res.Valid, nil
	}
	return false, nil
}

var _ Authorizer = DefaultAuthorizer{}
