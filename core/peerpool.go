package core

// PeerPool: the set of live PeerLinks with peak tracking, ban/trust sets,
// and deterministic selection (spec §4.2). Rewritten from the teacher's
// PeerManagement, which wrapped a single libp2p Node; PeerPool instead owns
// a map of independent PeerLink sessions the way spec §2 describes ("set of
// live PeerLinks"), with no back-reference to the owning SyncManager (spec
// §9 "no back-reference from pool -> manager").

import (
	"sort"
	"sync"
)

// PeerInfo is the per-peer bookkeeping row from spec §4.2.
type PeerInfo struct {
	Link             *PeerLink
	ClaimedPeakHeight uint32
	PeakHeaderHash    Bytes32
	insertOrder       int
}

// PeerPool holds every currently connected peer plus the sticky ban/trust
// sets (spec §3 "Peer lifecycle": ban is sticky for the process lifetime
// unless trusted; trusted peers are never banned).
type PeerPool struct {
	mu      sync.Mutex
	peers   map[string]*PeerInfo
	banned  map[string]struct{}
	trusted map[string]struct{}
	seq     int
}

// NewPeerPool returns an empty pool.
func NewPeerPool() *PeerPool {
	return &PeerPool{
		peers:   make(map[string]*PeerInfo),
		banned:  make(map[string]struct{}),
		trusted: make(map[string]struct{}),
	}
}

// Trust marks ip as trusted: never banned, bypasses discovery (spec §4.3
// "User-managed peers bypass discovery and are trusted").
func (p *PeerPool) Trust(ip string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.trusted[ip] = struct{}{}
	delete(p.banned, ip)
}

// IsBanned reports whether ip is currently on the sticky ban list.
func (p *PeerPool) IsBanned(ip string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, banned := p.banned[ip]
	return banned
}

// Add inserts link (spec §4.2 "add"): rejects if ip is banned and not
// trusted, or if already present — in the latter case the duplicate is
// closed rather than replacing the existing entry.
func (p *PeerPool) Add(link *PeerLink) error {
	ip := link.IP()
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, banned := p.banned[ip]; banned {
		if _, trusted := p.trusted[ip]; !trusted {
			_ = link.Close()
			return errWallet("peer is banned", nil)
		}
	}
	if _, exists := p.peers[ip]; exists {
		_ = link.Close()
		return errWallet("peer already connected", nil)
	}
	p.seq++
	p.peers[ip] = &PeerInfo{Link: link, insertOrder: p.seq}
	return nil
}

// Remove drops ip, closing its recv task via PeerLink.Close (spec §4.2
// "remove").
func (p *PeerPool) Remove(ip string) {
	p.mu.Lock()
	info, ok := p.peers[ip]
	if ok {
		delete(p.peers, ip)
	}
	p.mu.Unlock()
	if ok {
		_ = info.Link.Close()
	}
}

// Ban marks ip banned and removes it, unless it is trusted, in which case
// Ban is a no-op (spec §4.2 "ban").
func (p *PeerPool) Ban(ip string) {
	p.mu.Lock()
	if _, trusted := p.trusted[ip]; trusted {
		p.mu.Unlock()
		return
	}
	p.banned[ip] = struct{}{}
	info, ok := p.peers[ip]
	if ok {
		delete(p.peers, ip)
	}
	p.mu.Unlock()
	if ok {
		_ = info.Link.Close()
	}
}

// Count returns the current number of connected peers.
func (p *PeerPool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}

// Peak returns (max_height, header_hash_of_max) across all peers, ties
// broken by insertion order (spec §4.2 "peak").
func (p *PeerPool) Peak() (uint32, Bytes32, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *PeerInfo
	for _, info := range p.peers {
		if best == nil ||
			info.ClaimedPeakHeight > best.ClaimedPeakHeight ||
			(info.ClaimedPeakHeight == best.ClaimedPeakHeight && info.insertOrder < best.insertOrder) {
			best = info
		}
	}
	if best == nil {
		return 0, Bytes32{}, false
	}
	return best.ClaimedPeakHeight, best.PeakHeaderHash, true
}

// Acquire returns the peer with the highest claimed peak, used for ad-hoc
// queries (spec §4.2 "acquire"). Selection is deterministic and single-pass
// (spec §4.2): ties broken by insertion order so repeated calls against an
// unchanged pool snapshot are stable.
func (p *PeerPool) Acquire() (*PeerLink, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var best *PeerInfo
	for _, info := range p.peers {
		if best == nil ||
			info.ClaimedPeakHeight > best.ClaimedPeakHeight ||
			(info.ClaimedPeakHeight == best.ClaimedPeakHeight && info.insertOrder < best.insertOrder) {
			best = info
		}
	}
	if best == nil {
		return nil, false
	}
	return best.Link, true
}

// UpdatePeak records a peer's claimed peak (spec §4.2 "update_peak", driven
// by a NewPeakWallet inbound event).
func (p *PeerPool) UpdatePeak(ip string, height uint32, headerHash Bytes32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	info, ok := p.peers[ip]
	if !ok {
		return
	}
	info.ClaimedPeakHeight = height
	info.PeakHeaderHash = headerHash
}

// IPs returns the connected peer IPs in insertion order.
func (p *PeerPool) IPs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	infos := make([]*PeerInfo, 0, len(p.peers))
	ips := make([]string, 0, len(p.peers))
	for ip, info := range p.peers {
		infos = append(infos, info)
		ips = append(ips, ip)
	}
	sort.Slice(ips, func(i, j int) bool {
		return p.peers[ips[i]].insertOrder < p.peers[ips[j]].insertOrder
	})
	_ = infos
	return ips
}

// Peers returns every currently connected PeerLink, in insertion order —
// used by SyncManager to attach a recv forwarder to each peer at startup.
func (p *PeerPool) Peers() []*PeerLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	type entry struct {
		link  *PeerLink
		order int
	}
	entries := make([]entry, 0, len(p.peers))
	for _, info := range p.peers {
		entries = append(entries, entry{info.Link, info.insertOrder})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })
	links := make([]*PeerLink, len(entries))
	for i, e := range entries {
		links[i] = e.link
	}
	return links
}

// CloseAll tears down every connected peer — used on wallet/network switch
// (spec §5 "Cancellation").
func (p *PeerPool) CloseAll() {
	p.mu.Lock()
	links := make([]*PeerLink, 0, len(p.peers))
	for _, info := range p.peers {
		links = append(links, info.Link)
	}
	p.peers = make(map[string]*PeerInfo)
	p.mu.Unlock()
	for _, l := range links {
		_ = l.Close()
	}
}
