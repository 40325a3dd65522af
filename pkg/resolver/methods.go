// Copyright 2025 Certen Protocol

package resolver

import (
	"context"
	"crypto/ed25519"
	"time"

	"github.com/certen/btc-identity-core/pkg/anchor"
	"github.com/certen/btc-identity-core/pkg/anchorindex"
	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/identity"
)

// KeyDerivation is the resolver registered for identifiers of the form
// "did:key:<...>". It does not decode the identifier itself: its Resolve
// always fails, and ResolveKey synthesizes the single-key Ed25519
// document, without network access, from key bytes the caller has
// already decoded.
type KeyDerivation struct{}

// Resolve does not decode id's method-specific segment
// (multibase/multicodec) and synthesizes no document; it always returns
// an InvalidInput error that names ResolveKey.
func (KeyDerivation) Resolve(ctx context.Context, id identity.ID) (*identity.Document, error) {
	return nil, coreerr.New(coreerr.InvalidInput, "resolver.KeyDerivation.Resolve",
		"Malformed: use ResolveKey with decoded key material")
}

// ResolveKey synthesizes the document a did:key identifier resolves to,
// given its already-decoded public key. Exposed separately from Resolve
// because decoding the id's method-specific segment (multibase/multicodec)
// is out of this package's scope; callers decode and call this directly,
// or wrap it behind their own MethodResolver that does the decoding.
func ResolveKey(id identity.ID, pubKey ed25519.PublicKey) (*identity.Document, error) {
	if len(pubKey) != ed25519.PublicKeySize {
		return nil, coreerr.New(coreerr.InvalidInput, "resolver.ResolveKey", "Malformed")
	}
	vmID := string(id) + "#key-1"
	vm := identity.VerificationMethod{
		ID:         vmID,
		Type:       identity.KeyTypeEd25519,
		Controller: id,
		PublicKey:  append([]byte(nil), pubKey...),
	}
	now := time.Now()
	return &identity.Document{
		ID:                  id,
		VerificationMethods: []identity.VerificationMethod{vm},
		Authentication:      []string{vmID},
		AssertionMethod:     []string{vmID},
		KeyAgreement:        []string{vmID},
		Created:             now,
		Updated:             now,
	}, nil
}

// Network is the DHT-style resolver: a network fetch to a document
// provider keyed by id. Any content-addressed or DHT-backed store can
// implement Fetcher; this package only defines the resolve-path contract.
type Network struct {
	Fetcher Fetcher
}

// Fetcher performs the actual network lookup for a DHT-style method.
type Fetcher interface {
	Fetch(ctx context.Context, id identity.ID) (*identity.Document, bool, error)
}

func (n Network) Resolve(ctx context.Context, id identity.ID) (*identity.Document, error) {
	doc, found, err := n.Fetcher.Fetch(ctx, id)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "resolver.Network.Resolve", "fetch failed", err)
	}
	if !found {
		return nil, coreerr.New(coreerr.NotFound, "resolver.Network.Resolve", "NotFound")
	}
	return doc, nil
}

// BitcoinAnchored resolves an identifier by scanning the anchor-state
// index for the latest confirmed observation under that id's key and
// decoding the document payload carried alongside it. Per spec.md §4.2,
// "resolves to a document whose latest version is located by scanning
// anchor-references for the id".
type BitcoinAnchored struct {
	Index   anchorindex.Index
	Primary *anchor.Primitive
	// DocumentStore supplies the document. The chain carries only a
	// digest, not the document itself: the document lives off-chain, is
	// fetched by DocumentStore, and the digest DocumentStore reports with
	// it is verified against the anchored reference.
	DocumentStore DocumentStore
}

// DocumentStore fetches the off-chain document bytes last committed for a
// key, to be verified against the on-chain digest.
type DocumentStore interface {
	FetchDocument(ctx context.Context, id identity.ID) (*identity.Document, [32]byte, bool, error)
}

func (b BitcoinAnchored) Resolve(ctx context.Context, id identity.ID) (*identity.Document, error) {
	entry, err := b.Index.Get(ctx, string(id))
	if err != nil {
		if coreerr.Is(err, coreerr.NotFound) {
			return nil, coreerr.New(coreerr.NotFound, "resolver.BitcoinAnchored.Resolve", "NotFound")
		}
		return nil, coreerr.Wrap(coreerr.TransportError, "resolver.BitcoinAnchored.Resolve", "index lookup", err)
	}
	if entry.Reference.Orphaned {
		return nil, coreerr.New(coreerr.NotFound, "resolver.BitcoinAnchored.Resolve", "latest reference orphaned")
	}

	doc, digest, found, err := b.DocumentStore.FetchDocument(ctx, id)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "resolver.BitcoinAnchored.Resolve", "document fetch", err)
	}
	if !found {
		return nil, coreerr.New(coreerr.NotFound, "resolver.BitcoinAnchored.Resolve", "NotFound")
	}

	res, err := b.Primary.Verify(ctx, digest, entry.Reference, 1)
	if err != nil {
		return nil, coreerr.Wrap(coreerr.TransportError, "resolver.BitcoinAnchored.Resolve", "anchor verify", err)
	}
	if !res.Valid {
		return nil, coreerr.New(coreerr.InvalidInput, "resolver.BitcoinAnchored.Resolve", "Malformed: "+res.Reason)
	}
	return doc, nil
}
