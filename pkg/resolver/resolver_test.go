// Copyright 2025 Certen Protocol

package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/identity"
)

type countingResolver struct {
	calls int32
	doc   *identity.Document
	delay time.Duration
}

func (c *countingResolver) Resolve(ctx context.Context, id identity.ID) (*identity.Document, error) {
	atomic.AddInt32(&c.calls, 1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	return c.doc, nil
}

func newTestResolver(t *testing.T, mr MethodResolver) (*Resolver, *Registry) {
	t.Helper()
	reg := NewRegistry()
	if err := reg.Register("example", mr); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := New(reg, 10)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}
	return res, reg
}

func TestRegistry_WriteOncePerMethod(t *testing.T) {
	reg := NewRegistry()
	mr := &countingResolver{doc: &identity.Document{ID: "did:example:1"}}
	if err := reg.Register("example", mr); err != nil {
		t.Fatalf("first register: %v", err)
	}
	err := reg.Register("example", mr)
	if !coreerr.Is(err, coreerr.Conflict) {
		t.Fatalf("expected Conflict on re-registration, got %v", err)
	}
}

func TestResolve_UnsupportedMethod(t *testing.T) {
	res, _ := newTestResolver(t, &countingResolver{})
	_, _, err := res.Resolve(context.Background(), identity.ID("did:other:1"))
	if !coreerr.Is(err, coreerr.InvalidInput) {
		t.Fatalf("expected InvalidInput for unsupported method, got %v", err)
	}
}

func TestResolve_CachesAfterFirstFetch(t *testing.T) {
	mr := &countingResolver{doc: &identity.Document{ID: "did:example:1"}}
	res, _ := newTestResolver(t, mr)

	_, meta1, err := res.Resolve(context.Background(), identity.ID("did:example:1"))
	if err != nil {
		t.Fatalf("first resolve: %v", err)
	}
	if meta1.Cached {
		t.Fatal("first resolve should not be cached")
	}

	_, meta2, err := res.Resolve(context.Background(), identity.ID("did:example:1"))
	if err != nil {
		t.Fatalf("second resolve: %v", err)
	}
	if !meta2.Cached {
		t.Fatal("second resolve should be served from cache")
	}
	if atomic.LoadInt32(&mr.calls) != 1 {
		t.Fatalf("expected exactly one dispatch to the method resolver, got %d", mr.calls)
	}
}

func TestResolve_ExpiredTTLRefetches(t *testing.T) {
	mr := &countingResolver{doc: &identity.Document{ID: "did:example:1"}}
	reg := NewRegistry()
	if err := reg.Register("example", mr); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := New(reg, 10, WithTTL(time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if _, _, err := res.Resolve(context.Background(), identity.ID("did:example:1")); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	_, meta, err := res.Resolve(context.Background(), identity.ID("did:example:1"))
	if err != nil {
		t.Fatalf("resolve after ttl: %v", err)
	}
	if meta.Cached {
		t.Fatal("expected a fresh fetch once the TTL expired")
	}
	if atomic.LoadInt32(&mr.calls) != 2 {
		t.Fatalf("expected two dispatches after TTL expiry, got %d", mr.calls)
	}
}

func TestResolve_ConcurrentMissesCoalesce(t *testing.T) {
	mr := &countingResolver{doc: &identity.Document{ID: "did:example:1"}, delay: 20 * time.Millisecond}
	res, _ := newTestResolver(t, mr)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, _, err := res.Resolve(context.Background(), identity.ID("did:example:1")); err != nil {
				t.Errorf("concurrent resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	if atomic.LoadInt32(&mr.calls) != 1 {
		t.Fatalf("expected single in-flight fetch to be shared, got %d dispatches", mr.calls)
	}
}

func TestResolveKey_SynthesizesSingleKeyDocument(t *testing.T) {
	pub := make([]byte, 32)
	doc, err := ResolveKey(identity.ID("did:key:z6Mk..."), pub)
	if err != nil {
		t.Fatalf("resolve key: %v", err)
	}
	if len(doc.VerificationMethods) != 1 {
		t.Fatalf("expected 1 verification method, got %d", len(doc.VerificationMethods))
	}
	if !doc.HasPurpose(doc.VerificationMethods[0].ID, identity.PurposeAuthentication) {
		t.Fatal("expected synthesized key to carry authentication purpose")
	}
}
