// Copyright 2025 Certen Protocol
//
// Package signer implements the signer and verifier (spec.md §4.3,
// component C3): signing and verification operate over the canonical byte
// serialization from pkg/canonical with the proof field elided, under one
// of two key types — BIP340 Schnorr over secp256k1 (btcec/v2/schnorr,
// grounded the same way the coinjoin-engine example signs PSBT inputs) and
// Ed25519 (crypto/ed25519, matching the teacher's Accumulate submodule key
// handling).
package signer

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"

	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/identity"
)

func sha256Of(msg []byte) [32]byte { return sha256.Sum256(msg) }

// Proof is the detachable signature envelope spec.md §4.3 describes:
// {type, created, verification-method, proof-purpose, proof-value}.
type Proof struct {
	Type               identity.KeyType `json:"type"`
	Created            time.Time        `json:"created"`
	VerificationMethod string           `json:"verificationMethod"`
	ProofPurpose       identity.Purpose `json:"proofPurpose"`
	ProofValue         []byte           `json:"proofValue"`
}

// KeyStore resolves the private key material bound to a verification
// method id. Key custody is outside this package's concern; KeyStore is
// the seam a deployment's HSM or file-backed keystore implements.
type KeyStore interface {
	PrivateKey(ctx context.Context, vmID string) (keyType identity.KeyType, key []byte, found bool, err error)
}

// Resolver is the minimal surface this package needs from C2 to verify a
// proof: resolve the controller document a verification method belongs to.
type Resolver interface {
	Resolve(ctx context.Context, id identity.ID) (*identity.Document, error)
}

// Signer signs and verifies canonical byte payloads.
type Signer struct {
	keys     KeyStore
	resolver Resolver
}

// New binds a Signer to a keystore (for Sign) and a resolver (for Verify).
func New(keys KeyStore, resolver Resolver) *Signer {
	return &Signer{keys: keys, resolver: resolver}
}

// Sign produces a Proof over bytes under vmID's key, tagged with purpose.
func (s *Signer) Sign(ctx context.Context, bytes []byte, vmID string, purpose identity.Purpose) (*Proof, error) {
	keyType, key, found, err := s.keys.PrivateKey(ctx, vmID)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "signer.Sign", "keystore lookup", err)
	}
	if !found {
		return nil, coreerr.New(coreerr.NotFound, "signer.Sign", "UnknownKey")
	}

	sig, err := signBytes(keyType, key, bytes)
	if err != nil {
		return nil, err
	}

	return &Proof{
		Type:               keyType,
		Created:            time.Now(),
		VerificationMethod: vmID,
		ProofPurpose:       purpose,
		ProofValue:         sig,
	}, nil
}

func signBytes(keyType identity.KeyType, key, msg []byte) ([]byte, error) {
	switch keyType {
	case identity.KeyTypeSchnorrSecp256k1:
		priv, _ := btcec.PrivKeyFromBytes(key)
		digest := sha256Of(msg)
		sig, err := schnorr.Sign(priv, digest[:])
		if err != nil {
			return nil, coreerr.Wrap(coreerr.Fatal, "signer.signBytes", "schnorr sign", err)
		}
		return sig.Serialize(), nil
	case identity.KeyTypeEd25519:
		if len(key) != ed25519.PrivateKeySize {
			return nil, coreerr.New(coreerr.InvalidInput, "signer.signBytes", "malformed ed25519 key")
		}
		return ed25519.Sign(ed25519.PrivateKey(key), msg), nil
	default:
		return nil, coreerr.New(coreerr.InvalidInput, "signer.signBytes", "unsupported key type: "+string(keyType))
	}
}

// VerifyResult is the outcome of checking a Proof against a payload.
type VerifyResult struct {
	Valid  bool
	Reason string // one of UnknownKey, PurposeMismatch, SignatureBad, DocumentStale
}

func invalid(reason string) VerifyResult { return VerifyResult{Valid: false, Reason: reason} }

// Verify resolves proof.VerificationMethod's controller document, checks
// the method is listed under expectedPurpose, and checks the signature
// over bytes. controller is the identifier owning the verification method
// (spec.md §4.3: "resolve the controller of proof.verification-method").
func (s *Signer) Verify(ctx context.Context, bytes []byte, proof *Proof, controller identity.ID, expectedPurpose identity.Purpose) (VerifyResult, error) {
	doc, err := s.resolver.Resolve(ctx, controller)
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return invalid("DocumentStale"), nil
		}
		return VerifyResult{}, coreerr.Wrap(coreerr.TransportError, "signer.Verify", "resolve controller", err)
	}
	if doc.Deactivated {
		return invalid("DocumentStale"), nil
	}

	vm, ok := doc.VerificationMethodByID(proof.VerificationMethod)
	if !ok {
		return invalid("UnknownKey"), nil
	}
	if !doc.HasPurpose(vm.ID, expectedPurpose) {
		return invalid("PurposeMismatch"), nil
	}

	ok, err = verifySignature(vm.Type, vm.PublicKey, bytes, proof.ProofValue)
	if err != nil {
		return VerifyResult{}, err
	}
	if !ok {
		return invalid("SignatureBad"), nil
	}
	return VerifyResult{Valid: true}, nil
}

func verifySignature(keyType identity.KeyType, pubKey, msg, sigBytes []byte) (bool, error) {
	switch keyType {
	case identity.KeyTypeSchnorrSecp256k1:
		pub, err := schnorr.ParsePubKey(pubKey)
		if err != nil {
			return false, coreerr.Wrap(coreerr.InvalidInput, "signer.verifySignature", "parse schnorr pubkey", err)
		}
		sig, err := schnorr.ParseSignature(sigBytes)
		if err != nil {
			return false, nil
		}
		digest := sha256Of(msg)
		return sig.Verify(digest[:], pub), nil
	case identity.KeyTypeEd25519:
		if len(pubKey) != ed25519.PublicKeySize {
			return false, coreerr.New(coreerr.InvalidInput, "signer.verifySignature", "malformed ed25519 pubkey")
		}
		return ed25519.Verify(ed25519.PublicKey(pubKey), msg, sigBytes), nil
	default:
		return false, coreerr.New(coreerr.InvalidInput, "signer.verifySignature", "unsupported key type: "+string(keyType))
	}
}
