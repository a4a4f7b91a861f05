package core

// Peer discovery and connection loop (spec §4.3). Rewritten around the
// teacher's nat_traversal.go NATManager (kept as-is, wired in below) plus
// Dialer from connection_pool.go: a background task resolves DNS
// introducers, shuffles results the way peer_management.go's
// shufflePeerInfo did, and dials in TLS-wrapped batches.

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"math/big"
	"net"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
)

// Timeouts bundles the fixed constants from spec §5.
type Timeouts struct {
	Connection   time.Duration // 3s
	InitialPeak  time.Duration // 2s
	RequestPeers time.Duration // 3s
	DNS          time.Duration // 3s
	PuzzleFetch  time.Duration // 3s per leg
	URIFetch     time.Duration // 15s
	CatMetadata  time.Duration // 10s
}

// DefaultTimeouts mirrors spec §5's fixed constants.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Connection:   3 * time.Second,
		InitialPeak:  2 * time.Second,
		RequestPeers: 3 * time.Second,
		DNS:          3 * time.Second,
		PuzzleFetch:  3 * time.Second,
		URIFetch:     15 * time.Second,
		CatMetadata:  10 * time.Second,
	}
}

// DiscoveryConfig configures the background connection loop (spec §4.3,
// §5 "Resource bounds").
type DiscoveryConfig struct {
	SyncDelay           time.Duration // default ~3s
	TargetPeers         int           // default 3
	DNSBatchSize        int
	ConnectionBatchSize int // default 10
	DiscoveryEnabled    bool
	ProtocolVersion     uint32
	NetworkID           string
}

// DefaultDiscoveryConfig matches spec §4.3/§5's stated defaults.
func DefaultDiscoveryConfig() DiscoveryConfig {
	return DiscoveryConfig{
		SyncDelay:           3 * time.Second,
		TargetPeers:         3,
		DNSBatchSize:        4,
		ConnectionBatchSize: 10,
		DiscoveryEnabled:    true,
	}
}

// Discovery runs the peer discovery and connection loop against a PeerPool.
type Discovery struct {
	pool       *PeerPool
	introducers []string
	cfg        DiscoveryConfig
	timeouts   Timeouts
	dialer     *Dialer
	tlsConfig  *tls.Config
	nat        *NATManager
	logger     *logrus.Entry
}

// NewDiscovery wires a Discovery loop. tlsConfig should come from
// NewTLSConfig/NewZeroTrustTLSConfig in security.go (spec §6 "ssl/wallet
// {crt,key}").
func NewDiscovery(pool *PeerPool, introducers []string, cfg DiscoveryConfig, timeouts Timeouts, tlsConfig *tls.Config) *Discovery {
	d := &Discovery{
		pool:        pool,
		introducers: introducers,
		cfg:         cfg,
		timeouts:    timeouts,
		dialer:      NewDialer(timeouts.Connection, timeouts.Connection),
		tlsConfig:   tlsConfig,
		logger:      logrus.WithField("component", "discovery"),
	}
	if nat, err := NewNATManager(); err == nil {
		d.nat = nat
	} else {
		d.logger.Warnf("NAT discovery unavailable: %v", err)
	}
	return d
}

// AddTrustedPeer registers a user-managed peer that bypasses discovery
// (spec §4.3 "User-managed peers bypass discovery and are trusted").
func (d *Discovery) AddTrustedPeer(ip string) { d.pool.Trust(ip) }

// Run blocks, ticking every SyncDelay, until ctx is cancelled (spec §4.3:
// "A background task runs forever").
func (d *Discovery) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.SyncDelay)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Discovery) tick(ctx context.Context) {
	if d.pool.Count() >= d.cfg.TargetPeers || !d.cfg.DiscoveryEnabled {
		return
	}

	candidates := d.resolveIntroducers(ctx)
	shuffle(candidates)

	for i := 0; i < len(candidates); i += d.cfg.ConnectionBatchSize {
		if d.pool.Count() >= d.cfg.TargetPeers {
			return
		}
		end := i + d.cfg.ConnectionBatchSize
		if end > len(candidates) {
			end = len(candidates)
		}
		for _, addr := range candidates[i:end] {
			if d.pool.Count() >= d.cfg.TargetPeers {
				return
			}
			d.connectOne(ctx, addr)
		}
	}
}

// resolveIntroducers performs batched DNS lookups bounded by DNSBatchSize
// introducers at a time, each lookup bounded by Timeouts.DNS.
func (d *Discovery) resolveIntroducers(ctx context.Context) []string {
	var out []string
	for i := 0; i < len(d.introducers); i += d.cfg.DNSBatchSize {
		end := i + d.cfg.DNSBatchSize
		if end > len(d.introducers) {
			end = len(d.introducers)
		}
		for _, host := range d.introducers[i:end] {
			lctx, cancel := context.WithTimeout(ctx, d.timeouts.DNS)
			addrs, err := net.DefaultResolver.LookupHost(lctx, host)
			cancel()
			if err != nil {
				d.logger.Warnf("dns lookup %s: %v", host, err)
				continue
			}
			for _, a := range addrs {
				out = append(out, net.JoinHostPort(a, "8444"))
			}
		}
	}
	return out
}

// connectOne dials, TLS-handshakes, verifies protocol/network id, and
// registers addr with the pool; failures ban addr for the process lifetime
// unless it is a trusted peer (spec §4.3).
func (d *Discovery) connectOne(ctx context.Context, addr string) {
	if d.pool.IsBanned(addr) {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, d.timeouts.Connection)
	defer cancel()

	raw, err := d.dialer.Dial(dctx, addr)
	if err != nil {
		d.logger.Warnf("dial %s: %v", addr, err)
		d.pool.Ban(addr)
		return
	}

	var conn net.Conn = raw
	if d.tlsConfig != nil {
		tlsConn := tls.Client(raw, d.tlsConfig)
		if err := tlsConn.HandshakeContext(dctx); err != nil {
			d.logger.Warnf("tls handshake %s: %v", addr, err)
			_ = raw.Close()
			d.pool.Ban(addr)
			return
		}
		conn = tlsConn
	}

	link := NewPeerLink(conn, addr)
	hsCtx, hsCancel := context.WithTimeout(ctx, d.timeouts.Connection)
	info, err := link.Handshake(hsCtx, d.cfg.ProtocolVersion, d.cfg.NetworkID)
	hsCancel()
	if err != nil || info.ProtocolVersion != d.cfg.ProtocolVersion || info.NetworkID != d.cfg.NetworkID {
		d.logger.Warnf("handshake rejected %s: %v", addr, err)
		_ = link.Close()
		d.pool.Ban(addr)
		return
	}

	if err := d.pool.Add(link); err != nil {
		d.logger.Warnf("pool add %s: %v", addr, err)
		return
	}

	if d.nat != nil {
		if _, portStr, err := net.SplitHostPort(addr); err == nil {
			if port, err := strconv.Atoi(portStr); err == nil {
				if err := d.nat.Map(port); err != nil {
					d.logger.Debugf("nat map %s: %v", addr, err)
				}
			}
		}
	}

	if d.pool.Count() > d.cfg.TargetPeers {
		d.pool.Remove(addr)
		return
	}
	d.logger.Infof("connected to %s", addr)
}

// shuffle performs a cryptographically random Fisher-Yates shuffle, the
// same pattern as the teacher's shufflePeerInfo/Sample in
// peer_management.go.
func shuffle(items []string) {
	for i := len(items) - 1; i > 0; i-- {
		jBig, err := rand.Int(rand.Reader, big.NewInt(int64(i+1)))
		if err != nil {
			return
		}
		j := int(jBig.Int64())
		items[i], items[j] = items[j], items[i]
	}
}
