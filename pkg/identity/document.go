// Copyright 2025 Certen Protocol
//
// Package identity holds the data model shared by the resolver, signer and
// credential pipeline: identifiers, identifier documents, verification
// methods and service endpoints (spec data model §3).
package identity

import "time"

// ID is an opaque identifier of the form "method:method-specific-id".
// It is immutable once created and is never mutated in place.
type ID string

// Purpose names a role a verification method may be used for.
type Purpose string

const (
	PurposeAuthentication Purpose = "authentication"
	PurposeAssertion      Purpose = "assertion"
	PurposeKeyAgreement   Purpose = "keyAgreement"
)

// KeyType names the cryptographic scheme of a verification method's key
// material. Additions must stay backward compatible with existing values.
type KeyType string

const (
	KeyTypeSchnorrSecp256k1 KeyType = "SchnorrSecp256k1VerificationKey2024"
	KeyTypeEd25519          KeyType = "Ed25519VerificationKey2020"
)

// VerificationMethod binds a key to a controller identifier under a
// declared key type.
type VerificationMethod struct {
	ID         string  `json:"id"`
	Type       KeyType `json:"type"`
	Controller ID      `json:"controller"`
	PublicKey  []byte  `json:"publicKeyBytes"`
}

// ServiceEndpoint names a network-reachable service offered on behalf of
// the identifier's controller.
type ServiceEndpoint struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Endpoint string `json:"serviceEndpoint"`
}

// Document maps an ID to its verification methods, the purpose subsets
// those methods may be used for, and its service endpoints. A document is
// replaced atomically on update; it is never mutated field by field.
type Document struct {
	ID                   ID                    `json:"id"`
	VerificationMethods  []VerificationMethod  `json:"verificationMethod"`
	Authentication       []string              `json:"authentication"`
	AssertionMethod      []string              `json:"assertionMethod"`
	KeyAgreement         []string              `json:"keyAgreement"`
	Services             []ServiceEndpoint     `json:"service,omitempty"`
	Created              time.Time             `json:"created"`
	Updated              time.Time             `json:"updated"`
	Deactivated          bool                  `json:"deactivated,omitempty"`
}

// VerificationMethodByID returns the verification method with the given
// vm-id, or false if the document does not name it.
func (d *Document) VerificationMethodByID(vmID string) (VerificationMethod, bool) {
	for _, vm := range d.VerificationMethods {
		if vm.ID == vmID {
			return vm, true
		}
	}
	return VerificationMethod{}, false
}

// HasPurpose reports whether vmID is listed under the given purpose.
func (d *Document) HasPurpose(vmID string, purpose Purpose) bool {
	var set []string
	switch purpose {
	case PurposeAuthentication:
		set = d.Authentication
	case PurposeAssertion:
		set = d.AssertionMethod
	case PurposeKeyAgreement:
		set = d.KeyAgreement
	}
	for _, id := range set {
		if id == vmID {
			return true
		}
	}
	return false
}

// FirstVerificationMethodForPurpose returns the first vm-id in the
// document usable for purpose, used by signers that don't care which key
// is picked as long as it qualifies.
func (d *Document) FirstVerificationMethodForPurpose(purpose Purpose) (string, bool) {
	var set []string
	switch purpose {
	case PurposeAuthentication:
		set = d.Authentication
	case PurposeAssertion:
		set = d.AssertionMethod
	case PurposeKeyAgreement:
		set = d.KeyAgreement
	}
	if len(set) == 0 {
		return "", false
	}
	return set[0], true
}
