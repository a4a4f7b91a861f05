// Package config loads walletd's layered configuration (file + env),
// adapted from the teacher's pkg/config/config.go viper pattern but
// restructured around wallet concerns instead of node/consensus ones.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"lightwallet/core"
	"lightwallet/pkg/utils"
)

// Network holds peer discovery and connection settings (core.DiscoveryConfig
// plus the NetworkID genesis-challenge constant TxBuilder signs against).
type Network struct {
	NetworkID       string   `mapstructure:"network_id"`
	Introducers     []string `mapstructure:"introducers"`
	TargetPeers     int      `mapstructure:"target_peers"`
	DNSBatchSize    int      `mapstructure:"dns_batch_size"`
	ConnBatchSize   int      `mapstructure:"conn_batch_size"`
	DiscoveryOn     bool     `mapstructure:"discovery_enabled"`
	ProtocolVersion uint32   `mapstructure:"protocol_version"`

	TLSCertPath string `mapstructure:"tls_cert_path"`
	TLSKeyPath  string `mapstructure:"tls_key_path"`
	// TLSCAPath and TLSPinnedCertPath are optional: when TLSPinnedCertPath
	// is set, discovery dials introducer peers with core.NewZeroTrustTLSConfig
	// pinned to that certificate's fingerprint instead of core.NewTLSConfig,
	// since those peers have no established identity yet (spec §4.3).
	TLSCAPath         string `mapstructure:"tls_ca_path"`
	TLSPinnedCertPath string `mapstructure:"tls_pinned_cert_path"`
}

// Timeouts mirrors core.Timeouts so it can be overridden per-deployment
// (a testnet or a slow transport wants longer legs than spec §5's
// defaults); zero fields fall back to core.DefaultTimeouts.
type Timeouts struct {
	ConnectionMS   int `mapstructure:"connection_ms"`
	InitialPeakMS  int `mapstructure:"initial_peak_ms"`
	RequestPeersMS int `mapstructure:"request_peers_ms"`
	DNSMS          int `mapstructure:"dns_ms"`
	PuzzleFetchMS  int `mapstructure:"puzzle_fetch_ms"`
	URIFetchMS     int `mapstructure:"uri_fetch_ms"`
	CatMetadataMS  int `mapstructure:"cat_metadata_ms"`
}

// Keychain locates and unlocks the wallet's encrypted key material
// (core.Keychain.Save / core.LoadKeychain).
type Keychain struct {
	Path  string `mapstructure:"path"`
	Label string `mapstructure:"label"`
}

// Services points at the external collaborators spec §9 names (the CLVM
// VM and the CAT metadata service) that walletd's cmd layer adapts to
// concrete implementations.
type Services struct {
	CatMetadataURL string `mapstructure:"cat_metadata_url"`
}

// Storage is where walletd persists the MemStore's durable counterpart;
// Non-goal in spec §6 for now, reserved so a future Store backend has a
// config home without another layering pass.
type Storage struct {
	DBPath string `mapstructure:"db_path"`
}

// Logging sets the level of the sirupsen/logrus logger the CLI hands to
// core.SetKeychainLogger and core.SetSecurityLogger.
type Logging struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// Config is walletd's full layered configuration.
type Config struct {
	Network  Network  `mapstructure:"network"`
	Timeouts Timeouts `mapstructure:"timeouts"`
	Keychain Keychain `mapstructure:"keychain"`
	Storage  Storage  `mapstructure:"storage"`
	Logging  Logging  `mapstructure:"logging"`
	Services Services `mapstructure:"services"`
}

// AppConfig is the process-wide loaded configuration, populated by Load or
// LoadFromEnv — mirrors the teacher's package-level AppConfig convention.
var AppConfig Config

func defaults() Config {
	return Config{
		Network: Network{
			NetworkID:       "mainnet",
			TargetPeers:     3,
			DNSBatchSize:    4,
			ConnBatchSize:   10,
			DiscoveryOn:     true,
			ProtocolVersion: 1,
			TLSCertPath:     "wallet.crt",
			TLSKeyPath:      "wallet.key",
		},
		Keychain: Keychain{
			Path:  "wallet.keystore",
			Label: "default",
		},
		Storage: Storage{
			DBPath: "walletd.db",
		},
		Logging: Logging{
			Level: "info",
		},
		Services: Services{
			CatMetadataURL: "https://api.example/cat-metadata",
		},
	}
}

// Load reads walletd.yaml (optionally walletd.<env>.yaml merged on top)
// from the working directory and /etc/walletd, then lets WALLETD_*
// environment variables override any field — the same precedence order
// as the teacher's Load(env).
func Load(env string) (*Config, error) {
	cfg := defaults()

	v := viper.New()
	v.SetConfigName("walletd")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/walletd")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading walletd config: %w", err)
		}
	}

	if env != "" {
		v.SetConfigName("walletd." + env)
		if err := v.MergeInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("merging walletd.%s config: %w", env, err)
			}
		}
	}

	v.SetEnvPrefix("WALLETD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal walletd config: %w", err)
	}

	AppConfig = cfg
	return &cfg, nil
}

// LoadFromEnv selects the deployment environment from WALLETD_ENV (falling
// back to utils.EnvOrDefault's cached lookup) before delegating to Load.
func LoadFromEnv() (*Config, error) {
	env := utils.EnvOrDefault("WALLETD_ENV", "")
	return Load(env)
}

// Resolve fills zero fields from core.DefaultTimeouts so a config file only
// needs to name the legs it wants to override from spec §5's defaults.
func (t Timeouts) Resolve() core.Timeouts {
	d := core.DefaultTimeouts()
	resolve := func(ms int, fallback time.Duration) time.Duration {
		if ms <= 0 {
			return fallback
		}
		return time.Duration(ms) * time.Millisecond
	}
	return core.Timeouts{
		Connection:   resolve(t.ConnectionMS, d.Connection),
		InitialPeak:  resolve(t.InitialPeakMS, d.InitialPeak),
		RequestPeers: resolve(t.RequestPeersMS, d.RequestPeers),
		DNS:          resolve(t.DNSMS, d.DNS),
		PuzzleFetch:  resolve(t.PuzzleFetchMS, d.PuzzleFetch),
		URIFetch:     resolve(t.URIFetchMS, d.URIFetch),
		CatMetadata:  resolve(t.CatMetadataMS, d.CatMetadata),
	}
}

// Resolve builds a core.DiscoveryConfig from Network, falling back to
// core.DefaultDiscoveryConfig's values for anything left at its zero value.
func (n Network) Resolve() core.DiscoveryConfig {
	d := core.DefaultDiscoveryConfig()
	cfg := core.DiscoveryConfig{
		SyncDelay:           d.SyncDelay,
		TargetPeers:         n.TargetPeers,
		DNSBatchSize:        n.DNSBatchSize,
		ConnectionBatchSize: n.ConnBatchSize,
		DiscoveryEnabled:    n.DiscoveryOn,
		ProtocolVersion:     n.ProtocolVersion,
		NetworkID:           n.NetworkID,
	}
	if cfg.TargetPeers == 0 {
		cfg.TargetPeers = d.TargetPeers
	}
	if cfg.DNSBatchSize == 0 {
		cfg.DNSBatchSize = d.DNSBatchSize
	}
	if cfg.ConnectionBatchSize == 0 {
		cfg.ConnectionBatchSize = d.ConnectionBatchSize
	}
	return cfg
}
