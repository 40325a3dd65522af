// Copyright 2025 Certen Protocol
//
// Package config loads the core's settings from YAML, with ${ENV_VAR}
// substitution, in the style of the teacher's anchor configuration
// loader. CLI flag parsing is out of scope (spec.md §6) — this package
// only ever reads from a path or an io.Reader.
package config

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document for a core process.
type Config struct {
	Environment string `yaml:"environment"`

	Anchor   AnchorSettings   `yaml:"anchor"`
	Resolver ResolverSettings `yaml:"resolver"`
	DataNode DataNodeSettings `yaml:"data_node"`
	L2       L2Settings       `yaml:"l2"`
	Database DatabaseSettings `yaml:"database"`
}

// AnchorSettings configures the Bitcoin anchoring primitive (C1).
type AnchorSettings struct {
	// TagPrefix, if non-empty, is the compile-time-constant 4-byte hex
	// prefix written before the digest in the commitment output.
	TagPrefix string `yaml:"tag_prefix"`
	// MinConfirmationsDefault is the confirmation floor used when a
	// caller does not specify its own policy.
	MinConfirmationsDefault int           `yaml:"min_confirmations_default"`
	RefreshInterval         time.Duration `yaml:"refresh_interval"`
	CallTimeout             time.Duration `yaml:"call_timeout"`
}

// ResolverSettings configures the identifier resolver cache (C2).
type ResolverSettings struct {
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	CacheBound int           `yaml:"cache_bound"`
}

// DataNodeSettings configures the enhanced data node's anchoring policy
// and backpressure bound (C6, §5 backpressure).
type DataNodeSettings struct {
	AnchorToChain         bool `yaml:"anchor_to_chain"`
	MinConfirmations      int  `yaml:"min_confirmations"`
	MaxOutstandingWrites  int  `yaml:"max_outstanding_writes"`
}

// L2Settings configures the Layer-2 adapter backends (C8).
type L2Settings struct {
	EVMSidechain EVMSidechainSettings `yaml:"evm_sidechain"`
	Rollup       RollupSettings       `yaml:"rollup"`
	Clarity      ClaritySettings      `yaml:"clarity"`
	CSV          CSVSettings          `yaml:"csv"`
}

type EVMSidechainSettings struct {
	RPC                   string `yaml:"rpc"`
	ChainID               int64  `yaml:"chain_id"`
	RequiredConfirmations int    `yaml:"required_confirmations"`
}

type RollupSettings struct {
	RPC            string `yaml:"rpc"`
	ChallengePeriod time.Duration `yaml:"challenge_period"`
}

type ClaritySettings struct {
	APIURL  string `yaml:"api_url"`
	Network string `yaml:"network"`
}

type CSVSettings struct {
	// PeerEndpoint is loaded from YAML but nothing reads it:
	// cmd/certen-core builds the csv backend over the anchor primitive
	// alone, and the backend has no peer connection or chain RPC.
	PeerEndpoint string `yaml:"peer_endpoint"`
}

// DatabaseSettings configures the anchor-state index's durable store (C9).
type DatabaseSettings struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
}

var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func substituteEnv(raw []byte) []byte {
	return envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		name := envPattern.FindSubmatch(match)[1]
		if v, ok := os.LookupEnv(string(name)); ok {
			return []byte(v)
		}
		return match
	})
}

// Load reads and parses a YAML configuration file at path, substituting
// ${ENV_VAR} references first.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses a YAML configuration document from r, substituting
// ${ENV_VAR} references first.
func Read(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	raw = substituteEnv(raw)

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Default returns a Config populated with the spec's documented defaults
// (resolver cache TTL = 2h, bound = 5000; backpressure queue depth = 1024).
func Default() *Config {
	return &Config{
		Anchor: AnchorSettings{
			MinConfirmationsDefault: 1,
			RefreshInterval:         10 * time.Minute,
			CallTimeout:             30 * time.Second,
		},
		Resolver: ResolverSettings{
			CacheTTL:   2 * time.Hour,
			CacheBound: 5000,
		},
		DataNode: DataNodeSettings{
			MaxOutstandingWrites: 1024,
		},
	}
}
