// Copyright 2025 Certen Protocol
//
// Package credential implements the credential pipeline (spec.md §4.4,
// component C4): issuance, anchored issuance, verification, presentation
// and revocation over attestations signed by pkg/signer and anchored
// through pkg/anchor. Grounded on the teacher's attestation lifecycle in
// certenIO-certen-validator's pkg/strategy (attestation schemes dispatched
// by type) generalized to the W3C-shaped attestation this spec names.
package credential

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/certen/btc-identity-core/pkg/anchor"
	"github.com/certen/btc-identity-core/pkg/canonical"
	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/identity"
	"github.com/certen/btc-identity-core/pkg/signer"
)

// StatusReference names the revocation mechanism an attestation was issued
// under, and enough detail for check-revocation to re-derive what to look
// for.
type StatusReference struct {
	Mechanism string // "list" or "anchor"
	ListID    string // set when Mechanism == "list": the revocation list record id
}

// Attestation is the credential envelope spec.md §3 and §4.4 describe.
type Attestation struct {
	ID                string                 `json:"id"`
	IssuerID          identity.ID            `json:"issuerId"`
	SubjectID         identity.ID            `json:"subjectId"`
	Type              string                 `json:"type"`
	Claims            map[string]interface{} `json:"claims"`
	IssuanceInstant   time.Time              `json:"issuanceInstant"`
	ExpirationInstant *time.Time             `json:"expirationInstant,omitempty"`
	StatusReference   *StatusReference       `json:"statusReference,omitempty"`
	AnchorReference   *anchor.Reference      `json:"anchorReference,omitempty"`
	Proof             *signer.Proof          `json:"proof,omitempty"`
}

// withoutProof returns a shallow copy of a with Proof cleared, for
// canonicalizing the signing payload.
func (a Attestation) withoutProof() Attestation {
	a.Proof = nil
	return a
}

// withoutAnchorReference returns a shallow copy of a with AnchorReference
// cleared, for digesting the pre-anchor payload.
func (a Attestation) withoutAnchorReference() Attestation {
	a.AnchorReference = nil
	return a
}

// Resolver is the C2 surface this package needs.
type Resolver interface {
	Resolve(ctx context.Context, id identity.ID) (*identity.Document, error)
}

// Pipeline implements issue/verify/presentation/revocation over one
// resolver, signer and anchor primitive.
type Pipeline struct {
	resolver Resolver
	signer   *signer.Signer
	anchorer *anchor.Primitive
	revoker  RevocationChecker
}

// New binds a Pipeline to its collaborators. revoker may be nil if the
// deployment issues no revocable attestations; with a nil revoker Verify
// performs no revocation check under either mechanism.
func New(resolver Resolver, s *signer.Signer, a *anchor.Primitive, revoker RevocationChecker) *Pipeline {
	return &Pipeline{resolver: resolver, signer: s, anchorer: a, revoker: revoker}
}

func truncatedDigest(issuerID, subjectID identity.ID, typ string) (string, error) {
	nonce := make([]byte, 8)
	if _, err := rand.Read(nonce); err != nil {
		return "", coreerr.Wrap(coreerr.Fatal, "credential.truncatedDigest", "entropy source", err)
	}
	d := canonical.HashConcat([]byte(issuerID), []byte(subjectID), []byte(typ), nonce)
	return "urn:vc:" + hex.EncodeToString(d[:16]), nil
}

// IssueParams carries issue's optional arguments.
type IssueParams struct {
	ValidFor        time.Duration // zero means no expiration
	StatusReference *StatusReference
}

// Issue implements spec.md §4.4 issuance.
func (p *Pipeline) Issue(ctx context.Context, issuerID, subjectID identity.ID, typ string, claims map[string]interface{}, params IssueParams) (*Attestation, error) {
	issuerDoc, err := p.resolver.Resolve(ctx, issuerID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.NotFound, "credential.Issue", "resolve issuer", err)
	}
	assertionVM, ok := issuerDoc.FirstVerificationMethodForPurpose(identity.PurposeAssertion)
	if !ok {
		return nil, coreerr.New(coreerr.InvalidInput, "credential.Issue", "issuer has no assertion-capable verification method")
	}

	id, err := truncatedDigest(issuerID, subjectID, typ)
	if err != nil {
		return nil, err
	}

	att := &Attestation{
		ID:              id,
		IssuerID:        issuerID,
		SubjectID:       subjectID,
		Type:            typ,
		Claims:          claims,
		IssuanceInstant: time.Now(),
		StatusReference: params.StatusReference,
	}
	if params.ValidFor > 0 {
		exp := att.IssuanceInstant.Add(params.ValidFor)
		att.ExpirationInstant = &exp
	}

	canon, err := canonical.Marshal(att.withoutProof())
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Fatal, "credential.Issue", "canonicalize", err)
	}
	proof, err := p.signer.Sign(ctx, canon, assertionVM, identity.PurposeAssertion)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Fatal, "credential.Issue", "sign", err)
	}
	att.Proof = proof
	return att, nil
}

// IssueAnchored runs Issue then commits a digest of the unsigned-of-anchor
// attestation to C1, per spec.md §4.4 "anchored issuance". The returned
// attestation carries confirmations=0.
func (p *Pipeline) IssueAnchored(ctx context.Context, issuerID, subjectID identity.ID, typ string, claims map[string]interface{}, params IssueParams) (*Attestation, error) {
	att, err := p.Issue(ctx, issuerID, subjectID, typ, claims, params)
	if err != nil {
		return nil, err
	}
	digest, err := canonical.Digest(att.withoutAnchorReference())
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Fatal, "credential.IssueAnchored", "digest", err)
	}
	ref, err := p.anchorer.Commit(ctx, digest)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.PartiallyAnchored, "credential.IssueAnchored", "commit", err)
	}
	att.AnchorReference = ref
	return att, nil
}

// RevocationChecker answers whether an attestation id is currently
// revoked, regardless of which mechanism was chosen at issuance.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, att *Attestation) (bool, error)
}

// Verify implements spec.md §4.4 verification. minConfirmations gates the
// anchor check when the attestation carries an AnchorReference; callers
// raise it for higher-value claims.
func (p *Pipeline) Verify(ctx context.Context, att *Attestation, minConfirmations int64) (bool, error) {
	if att.ExpirationInstant != nil && att.ExpirationInstant.Before(time.Now()) {
		return false, nil
	}

	if _, err := p.resolver.Resolve(ctx, att.IssuerID); err != nil {
		return false, nil
	}

	canon, err := canonical.Marshal(att.withoutProof())
	if err != nil {
		return false, coreerr.Wrap(coreerr.Fatal, "credential.Verify", "canonicalize", err)
	}
	if att.Proof == nil {
		return false, nil
	}
	res, err := p.signer.Verify(ctx, canon, att.Proof, att.IssuerID, identity.PurposeAssertion)
	if err != nil {
		return false, coreerr.Wrap(coreerr.TransportError, "credential.Verify", "signature verify", err)
	}
	if !res.Valid {
		return false, nil
	}

	if att.AnchorReference != nil {
		digest, err := canonical.Digest(att.withoutAnchorReference())
		if err != nil {
			return false, coreerr.Wrap(coreerr.Fatal, "credential.Verify", "anchor digest", err)
		}
		floor := minConfirmations
		if floor < 1 {
			floor = 1
		}
		vr, err := p.anchorer.Verify(ctx, digest, att.AnchorReference, floor)
		if err != nil {
			return false, coreerr.Wrap(coreerr.TransportError, "credential.Verify", "anchor verify", err)
		}
		if !vr.Valid {
			return false, nil
		}
	}

	if att.StatusReference != nil && p.revoker != nil {
		revoked, err := p.revoker.IsRevoked(ctx, att)
		if err != nil {
			return false, coreerr.Wrap(coreerr.TransportError, "credential.Verify", "revocation check", err)
		}
		if revoked {
			return false, nil
		}
	}

	return true, nil
}

// Presentation bundles one or more attestations under a holder's
// authentication proof, per spec.md §4.4.
type Presentation struct {
	HolderID     identity.ID   `json:"holderId"`
	Attestations []Attestation `json:"attestations"`
	Proof        *signer.Proof `json:"proof,omitempty"`
}

func (pr Presentation) withoutProof() Presentation {
	pr.Proof = nil
	return pr
}

// CreatePresentation canonicalizes and signs a presentation with the
// holder's authentication-purpose key.
func (p *Pipeline) CreatePresentation(ctx context.Context, holderID identity.ID, attestations []Attestation) (*Presentation, error) {
	holderDoc, err := p.resolver.Resolve(ctx, holderID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.NotFound, "credential.CreatePresentation", "resolve holder", err)
	}
	authVM, ok := holderDoc.FirstVerificationMethodForPurpose(identity.PurposeAuthentication)
	if !ok {
		return nil, coreerr.New(coreerr.InvalidInput, "credential.CreatePresentation", "holder has no authentication-capable verification method")
	}

	pres := &Presentation{HolderID: holderID, Attestations: attestations}
	canon, err := canonical.Marshal(pres.withoutProof())
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Fatal, "credential.CreatePresentation", "canonicalize", err)
	}
	proof, err := p.signer.Sign(ctx, canon, authVM, identity.PurposeAuthentication)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.Fatal, "credential.CreatePresentation", "sign", err)
	}
	pres.Proof = proof
	return pres, nil
}

// VerifyPresentation checks the presentation's own proof and every
// attestation it carries.
func (p *Pipeline) VerifyPresentation(ctx context.Context, pres *Presentation, minConfirmations int64) (bool, error) {
	if pres.Proof == nil {
		return false, nil
	}
	canon, err := canonical.Marshal(pres.withoutProof())
	if err != nil {
		return false, coreerr.Wrap(coreerr.Fatal, "credential.VerifyPresentation", "canonicalize", err)
	}
	res, err := p.signer.Verify(ctx, canon, pres.Proof, pres.HolderID, identity.PurposeAuthentication)
	if err != nil {
		return false, coreerr.Wrap(coreerr.TransportError, "credential.VerifyPresentation", "signature verify", err)
	}
	if !res.Valid {
		return false, nil
	}

	for i := range pres.Attestations {
		ok, err := p.Verify(ctx, &pres.Attestations[i], minConfirmations)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// NewAttestationLineageID is a collision-resistant id generator an issuer
// may mix into claims for reissuance tracking, distinct from the
// attestation id itself (which truncatedDigest derives from issuer,
// subject, type and 8 random bytes).
func NewAttestationLineageID() string {
	return uuid.NewString()
}
