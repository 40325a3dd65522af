// Copyright 2025 Certen Protocol
//
// certen-core wires the library packages in this module into a running
// process: load configuration, construct the anchor primitive, the
// identifier resolver, the signer, the credential pipeline, the
// personal-data-node stack, the Layer-2 backends the configuration names
// plus the always-present csv backend, then block until signaled to stop. CLI flag
// parsing beyond the config path is out of scope (spec.md §6); this is
// a wiring demonstration, not a service with its own HTTP surface.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/certen/btc-identity-core/pkg/anchor"
	"github.com/certen/btc-identity-core/pkg/anchorindex"
	"github.com/certen/btc-identity-core/pkg/config"
	"github.com/certen/btc-identity-core/pkg/coreerr"
	"github.com/certen/btc-identity-core/pkg/credential"
	"github.com/certen/btc-identity-core/pkg/datanode"
	"github.com/certen/btc-identity-core/pkg/identity"
	"github.com/certen/btc-identity-core/pkg/l2"
	"github.com/certen/btc-identity-core/pkg/l2/clarity"
	"github.com/certen/btc-identity-core/pkg/l2/csv"
	"github.com/certen/btc-identity-core/pkg/l2/evmsidechain"
	"github.com/certen/btc-identity-core/pkg/l2/rollup"
	"github.com/certen/btc-identity-core/pkg/metrics"
	"github.com/certen/btc-identity-core/pkg/resolver"
	"github.com/certen/btc-identity-core/pkg/signer"
	"github.com/certen/btc-identity-core/pkg/wallet"
)

func main() {
	log.SetOutput(os.Stdout)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	configPath := flag.String("config", "config.yaml", "path to the core's YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Printf("no configuration at %s, falling back to defaults: %v", *configPath, err)
		cfg = config.Default()
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	primary := anchor.New(unconfiguredWallet{})
	index := buildAnchorIndex(ctx, cfg)
	res := buildResolver(cfg, index, primary)
	keys := newMemoryKeyStore()
	s := signer.New(keys, resolverAdapter{res})
	revoker := credential.AnchorRevocation{Index: credential.NewAnchorRevocationIndex(index)}
	pipeline := credential.New(resolverAdapter{res}, s, primary, revoker)

	authz := datanode.DefaultAuthorizer{Verifier: s}
	base := datanode.NewBase(authz)
	enhanced := datanode.NewEnhanced(base, primary, index, cfg.DataNode.MaxOutstandingWrites)
	readFirst := datanode.NewReadFirst(enhanced)

	registry := prometheus.NewRegistry()
	registry.MustRegister(metrics.NewReadFirstCollector("primary", readFirst))

	backends := buildL2Backends(ctx, cfg, primary)

	log.Printf("certen-core wired: environment=%s anchor-min-confirmations=%d l2-backends=%d credential-pipeline-ready=%t",
		cfg.Environment, cfg.Anchor.MinConfirmationsDefault, len(backends), pipeline != nil)

	<-ctx.Done()
	log.Println("shutting down")
}

// unconfiguredWallet stands in for the funded Bitcoin wallet spec.md §1
// names as an external collaborator. It lets every subsystem downstream
// of pkg/anchor wire together at startup even before an operator points
// this process at a real wallet; any attempt to actually broadcast
// fails loudly rather than silently doing nothing.
type unconfiguredWallet struct{}

func (unconfiguredWallet) FundAndBroadcast(ctx context.Context, tmpl *wire.MsgTx) (*wire.MsgTx, chainhash.Hash, error) {
	return nil, chainhash.Hash{}, coreerr.New(coreerr.Fatal, "unconfiguredWallet.FundAndBroadcast", "no wallet configured for this process")
}

func (unconfiguredWallet) GetTransaction(ctx context.Context, txid chainhash.Hash) (*wire.MsgTx, wallet.TxStatus, bool, error) {
	return nil, wallet.TxStatus{}, false, coreerr.New(coreerr.Fatal, "unconfiguredWallet.GetTransaction", "no wallet configured for this process")
}

var _ wallet.Wallet = unconfiguredWallet{}

func buildAnchorIndex(ctx context.Context, cfg *config.Config) anchorindex.Index {
	if cfg.Database.URL == "" {
		log.Println("no database url configured, using in-memory anchor index")
		return anchorindex.NewMemory(6)
	}
	idx, err := anchorindex.NewPostgres(ctx, cfg.Database.URL, 6,
		anchorindex.WithMaxOpenConns(cfg.Database.MaxOpenConns),
		anchorindex.WithMaxIdleConns(cfg.Database.MaxIdleConns),
	)
	if err != nil {
		log.Printf("postgres anchor index unavailable, falling back to in-memory: %v", err)
		return anchorindex.NewMemory(6)
	}
	return idx
}

func buildResolver(cfg *config.Config, index anchorindex.Index, primary *anchor.Primitive) *resolver.Resolver {
	registry := resolver.NewRegistry()
	if err := registry.Register("key", resolver.KeyDerivation{}); err != nil {
		log.Fatalf("register key-derivation resolver: %v", err)
	}
	// DocumentStore is left unset here; an operator wires their own
	// off-chain document store (the anchor only commits a digest, per
	// resolver.BitcoinAnchored's doc comment).
	if err := registry.Register("btc", resolver.BitcoinAnchored{Index: index, Primary: primary}); err != nil {
		log.Fatalf("register bitcoin-anchored resolver: %v", err)
	}

	res, err := resolver.New(registry, cfg.Resolver.CacheBound, resolver.WithTTL(cfg.Resolver.CacheTTL))
	if err != nil {
		log.Fatalf("construct resolver: %v", err)
	}
	return res
}

// resolverAdapter discards resolver.Resolve's cache Metadata to satisfy
// the narrower Resolver surfaces pkg/signer and pkg/credential depend
// on.
type resolverAdapter struct{ *resolver.Resolver }

func (r resolverAdapter) Resolve(ctx context.Context, id identity.ID) (*identity.Document, error) {
	doc, _, err := r.Resolver.Resolve(ctx, id)
	return doc, err
}

// memoryKeyStore is a development stand-in for an HSM or file-backed
// keystore; production deployments supply their own signer.KeyStore.
type memoryKeyStore struct {
	keys map[string]struct {
		typ identity.KeyType
		key []byte
	}
}

func newMemoryKeyStore() *memoryKeyStore {
	return &memoryKeyStore{keys: map[string]struct {
		typ identity.KeyType
		key []byte
	}{}}
}

func (m *memoryKeyStore) PrivateKey(ctx context.Context, vmID string) (identity.KeyType, []byte, bool, error) {
	entry, ok := m.keys[vmID]
	if !ok {
		return "", nil, false, nil
	}
	return entry.typ, entry.key, true, nil
}

// buildL2Backends constructs the evmsidechain, rollup and clarity adapters
// whose endpoint is set in configuration. Each is left Initialized but not
// Connected: Connect dials the remote endpoint and is deferred to
// whichever subsystem first needs the backend, so an unreachable endpoint
// at startup does not block wiring. The csv adapter is always added; it
// is built over primary and not Initialized, so it runs with a zero
// csv.Config (each submission anchored on its own, Finalized from the
// first confirmation).
func buildL2Backends(ctx context.Context, cfg *config.Config, primary *anchor.Primitive) map[string]l2.Backend {
	backends := make(map[string]l2.Backend)

	if cfg.L2.EVMSidechain.RPC != "" {
		b := evmsidechain.New(nil) // operator supplies a Dialer wrapping ethclient.Dial
		if err := b.Initialize(ctx, evmsidechain.Config{
			RPCEndpoint:   cfg.L2.EVMSidechain.RPC,
			BridgeAddress: common.Address{},
			FinalityDepth: uint64(cfg.L2.EVMSidechain.RequiredConfirmations),
		}); err != nil {
			log.Printf("evmsidechain backend not initialized: %v", err)
		} else {
			backends["evmsidechain"] = b
		}
	}

	if cfg.L2.Rollup.RPC != "" {
		b := rollup.New(nil)
		if err := b.Initialize(ctx, rollup.Config{
			SequencerEndpoint: cfg.L2.Rollup.RPC,
			ChallengePeriod:   cfg.L2.Rollup.ChallengePeriod,
		}); err != nil {
			log.Printf("rollup backend not initialized: %v", err)
		} else {
			backends["rollup"] = b
		}
	}

	if cfg.L2.Clarity.APIURL != "" {
		b := clarity.New(nil)
		if err := b.Initialize(ctx, clarity.Config{APIURL: cfg.L2.Clarity.APIURL}); err != nil {
			log.Printf("clarity backend not initialized: %v", err)
		} else {
			backends["clarity"] = b
		}
	}

	backends["csv"] = csv.New(primary)

	return backends
}
