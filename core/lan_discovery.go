package core

// LAN discovery supplement (SPEC_FULL domain stack: "LAN mDNS + NAT mapping
// supplement DNS-introducer discovery"). Adapted from the teacher's
// network.go NewNode/HandlePeerFound: a libp2p host plus an mDNS notifee,
// except a discovered peer is wrapped as a PeerLink (via a raw libp2p
// stream) and registered with the PeerPool exactly like a TLS-dialed peer,
// rather than broadcast over pubsub.

import (
	"context"
	"fmt"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/sirupsen/logrus"
)

// walletProtocol is the libp2p stream protocol ID PeerLink frames travel
// over when a peer is reached via LAN discovery instead of a direct TLS
// dial.
const walletProtocol = protocol.ID("/lightwallet/peerlink/1.0.0")

// LANDiscovery wraps a libp2p host used solely for mDNS peer discovery on a
// local network; it hands every peer it finds to the same PeerPool a
// Discovery (discovery.go) dials into via DNS introducers.
type LANDiscovery struct {
	host   host.Host
	pool   *PeerPool
	cfg    DiscoveryConfig
	logger *logrus.Entry
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLANDiscovery creates a libp2p host listening on listenAddr and
// registers it for mDNS discovery under discoveryTag (spec §4.3's LAN
// discovery supplement).
func NewLANDiscovery(pool *PeerPool, cfg DiscoveryConfig, listenAddr, discoveryTag string) (*LANDiscovery, error) {
	ctx, cancel := context.WithCancel(context.Background())
	h, err := libp2p.New(libp2p.ListenAddrStrings(listenAddr))
	if err != nil {
		cancel()
		return nil, errInternal("create libp2p host", err)
	}

	ld := &LANDiscovery{
		host:   h,
		pool:   pool,
		cfg:    cfg,
		logger: logrus.WithField("component", "lan-discovery"),
		ctx:    ctx,
		cancel: cancel,
	}

	h.SetStreamHandler(walletProtocol, ld.handleInboundStream)

	if svc, err := mdns.NewMdnsService(h, discoveryTag, ld); err == nil {
		_ = svc
	} else {
		ld.logger.Warnf("mdns unavailable: %v", err)
	}

	return ld, nil
}

var _ mdns.Notifee = (*LANDiscovery)(nil)

// HandlePeerFound implements mdns.Notifee: on discovering a peer, open a
// wallet-protocol stream, wrap it as a PeerLink, handshake and register
// with the pool, mirroring the teacher's HandlePeerFound but feeding
// PeerPool instead of a bare map.
func (ld *LANDiscovery) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == ld.host.ID() {
		return
	}
	if ld.pool.Count() >= ld.cfg.TargetPeers {
		return
	}
	ip := info.ID.String()
	if ld.pool.IsBanned(ip) {
		return
	}

	connCtx, cancel := context.WithTimeout(ld.ctx, DefaultTimeouts().Connection)
	defer cancel()
	if err := ld.host.Connect(connCtx, info); err != nil {
		ld.logger.Warnf("connect %s: %v", ip, err)
		return
	}
	stream, err := ld.host.NewStream(connCtx, info.ID, walletProtocol)
	if err != nil {
		ld.logger.Warnf("open stream %s: %v", ip, err)
		return
	}

	link := NewPeerLink(stream, ip)
	hsCtx, hsCancel := context.WithTimeout(ld.ctx, DefaultTimeouts().Connection)
	hs, err := link.Handshake(hsCtx, ld.cfg.ProtocolVersion, ld.cfg.NetworkID)
	hsCancel()
	if err != nil || hs.NetworkID != ld.cfg.NetworkID {
		_ = link.Close()
		ld.pool.Ban(ip)
		return
	}
	if err := ld.pool.Add(link); err != nil {
		ld.logger.Debugf("pool add %s: %v", ip, err)
		return
	}
	ld.logger.Infof("connected to %s via mDNS", ip)
}

// handleInboundStream wraps a peer-initiated stream as a PeerLink and adds
// it to the pool. No handshake is exchanged on an inbound stream; the peer
// joins the pool as soon as its stream opens.
func (ld *LANDiscovery) handleInboundStream(s network.Stream) {
	ip := fmt.Sprintf("%s", s.Conn().RemotePeer())
	link := NewPeerLink(s, ip)
	if err := ld.pool.Add(link); err != nil {
		ld.logger.Debugf("pool add inbound %s: %v", ip, err)
		_ = link.Close()
	}
}

// Close shuts down the libp2p host.
func (ld *LANDiscovery) Close() error {
	ld.cancel()
	return ld.host.Close()
}
