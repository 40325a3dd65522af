// Copyright 2025 Certen Protocol

package credential

import (
	"context"

	"github.com/certen/btc-identity-core/pkg/anchor"
	"github.com/certen/btc-identity-core/pkg/anchorindex"
	"github.com/certen/btc-identity-core/pkg/canonical"
	"github.com/certen/btc-identity-core/pkg/coreerr"
)

// ListStore is the minimal surface a list-based revocation mechanism
// needs: an issuer-maintained set of revoked attestation ids, addressed
// by the list record id carried in StatusReference.ListID.
type ListStore interface {
	IsListed(ctx context.Context, listID, attestationID string) (bool, error)
	Revoke(ctx context.Context, listID, attestationID string) error
}

// ListRevocation checks StatusReference.Mechanism == "list" attestations
// against an issuer-maintained revocation list (spec.md §4.4 Revocation,
// list-based mechanism).
type ListRevocation struct {
	Store ListStore
}

func (l ListRevocation) IsRevoked(ctx context.Context, att *Attestation) (bool, error) {
	if att.StatusReference == nil || att.StatusReference.Mechanism != "list" {
		return false, nil
	}
	return l.Store.IsListed(ctx, att.StatusReference.ListID, att.ID)
}

// AnchorRevocationIndex is the minimal surface an anchor-based revocation
// mechanism needs: a local index of recent commitments to scan for a
// matching revocation digest, since re-scanning the whole chain for every
// check-revocation call is not viable.
type AnchorRevocationIndex interface {
	// HasCommitment reports whether digest has ever been committed,
	// consulting the local index of recent anchor observations.
	HasCommitment(ctx context.Context, digest [32]byte) (bool, error)
}

// AnchorRevocation implements the anchor-based mechanism: revocation is
// signalled by committing SHA-256("revoke:<attestation-id>") to the chain;
// once committed, it is revoked irrespective of later state (write-once).
type AnchorRevocation struct {
	Index AnchorRevocationIndex
}

func revocationDigest(attestationID string) [32]byte {
	return canonical.HashConcat([]byte("revoke:" + attestationID))
}

func (a AnchorRevocation) IsRevoked(ctx context.Context, att *Attestation) (bool, error) {
	if att.StatusReference == nil || att.StatusReference.Mechanism != "anchor" {
		return false, nil
	}
	digest := revocationDigest(att.ID)
	return a.Index.HasCommitment(ctx, digest)
}

// Revoke commits the revocation digest for attestationID. Per spec.md
// §4.4, this is write-once: a second call for the same id commits a
// duplicate but idempotent signal (the digest is identical), never an
// un-revocation.
func Revoke(ctx context.Context, a *anchor.Primitive, attestationID string) (*anchor.Reference, error) {
	digest := revocationDigest(attestationID)
	ref, err := a.Commit(ctx, digest)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "credential.Revoke", "commit", err)
	}
	return ref, nil
}

// Combined dispatches to the mechanism named by each attestation's
// StatusReference, so a Pipeline can be handed one RevocationChecker
// regardless of which mechanisms the deployment supports.
type Combined struct {
	List   ListRevocation
	Anchor AnchorRevocation
}

func (c Combined) IsRevoked(ctx context.Context, att *Attestation) (bool, error) {
	if att.StatusReference == nil {
		return false, nil
	}
	switch att.StatusReference.Mechanism {
	case "list":
		return c.List.IsRevoked(ctx, att)
	case "anchor":
		return c.Anchor.IsRevoked(ctx, att)
	default:
		return false, coreerr.New(coreerr.InvalidInput, "credential.Combined.IsRevoked", "unknown revocation mechanism")
	}
}

// recentCommitmentIndex is a reference AnchorRevocationIndex implementation
// backed by the anchor-state index (C9): it reports a commitment when the
// index holds an entry under the key "digest:" followed by the 32 raw
// digest bytes. Revoke does not write such an entry itself, so a
// revocation is found only once its reference has been Put into the same
// anchorindex.Index under that key.
type recentCommitmentIndex struct {
	idx anchorindex.Index
}

// NewAnchorRevocationIndex adapts an anchorindex.Index into an
// AnchorRevocationIndex under that convention.
func NewAnchorRevocationIndex(idx anchorindex.Index) AnchorRevocationIndex {
	return recentCommitmentIndex{idx: idx}
}

func (r recentCommitmentIndex) HasCommitment(ctx context.Context, digest [32]byte) (bool, error) {
	_, err := r.idx.Get(ctx, "digest:"+string(digest[:]))
	if err == nil {
		return true, nil
	}
	if coreerr.Is(err, coreerr.NotFound) {
		return false, nil
	}
	return false, err
}
