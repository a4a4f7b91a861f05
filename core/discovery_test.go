package core

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

func acceptAndHandshake(t *testing.T, ln net.Listener, protocolVersion uint32, networkID string) {
	t.Helper()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		br := bufio.NewReader(conn)
		req, err := readFrame(br)
		if err != nil {
			return
		}
		_ = writeFrame(conn, Frame{Type: MsgHandshake, ID: req.ID, Data: encodeHandshake(protocolVersion, networkID)})
	}()
}

func TestDiscoveryConnectOneSucceeds(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	acceptAndHandshake(t, ln, 7, "testnet")

	pool := NewPeerPool()
	cfg := DefaultDiscoveryConfig()
	cfg.ProtocolVersion = 7
	cfg.NetworkID = "testnet"
	cfg.TargetPeers = 5
	d := NewDiscovery(pool, nil, cfg, DefaultTimeouts(), nil)

	d.connectOne(context.Background(), ln.Addr().String())

	if pool.Count() != 1 {
		t.Fatalf("expected 1 connected peer, got %d", pool.Count())
	}
}

func TestDiscoveryConnectOneBansOnDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close() // nobody listening now; dial should be refused

	pool := NewPeerPool()
	cfg := DefaultDiscoveryConfig()
	timeouts := DefaultTimeouts()
	timeouts.Connection = 500 * time.Millisecond
	d := NewDiscovery(pool, nil, cfg, timeouts, nil)

	d.connectOne(context.Background(), addr)

	if !pool.IsBanned(addr) {
		t.Fatalf("expected a failed dial to ban the address")
	}
	if pool.Count() != 0 {
		t.Fatalf("expected no peers connected after a dial failure")
	}
}

func TestDiscoveryConnectOneBansOnHandshakeMismatch(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	acceptAndHandshake(t, ln, 99, "wrong-network")

	pool := NewPeerPool()
	cfg := DefaultDiscoveryConfig()
	cfg.ProtocolVersion = 7
	cfg.NetworkID = "testnet"
	d := NewDiscovery(pool, nil, cfg, DefaultTimeouts(), nil)

	d.connectOne(context.Background(), ln.Addr().String())

	if !pool.IsBanned(ln.Addr().String()) {
		t.Fatalf("expected a mismatched handshake to ban the address")
	}
	if pool.Count() != 0 {
		t.Fatalf("expected no peers connected after a handshake mismatch")
	}
}

func TestDiscoveryConnectOneSkipsAlreadyBannedAddress(t *testing.T) {
	pool := NewPeerPool()
	addr := "10.0.0.1:8444"
	pool.Ban(addr)

	d := NewDiscovery(pool, nil, DefaultDiscoveryConfig(), DefaultTimeouts(), nil)
	d.connectOne(context.Background(), addr)

	if pool.Count() != 0 {
		t.Fatalf("expected connectOne to skip an already-banned address without connecting")
	}
}

func TestDiscoveryTickNoopWhenDiscoveryDisabled(t *testing.T) {
	pool := NewPeerPool()
	cfg := DefaultDiscoveryConfig()
	cfg.DiscoveryEnabled = false
	d := NewDiscovery(pool, []string{"introducer.example"}, cfg, DefaultTimeouts(), nil)

	d.tick(context.Background())

	if pool.Count() != 0 {
		t.Fatalf("expected tick to be a no-op when discovery is disabled")
	}
}

func TestDiscoveryTickNoopWhenAtTargetPeers(t *testing.T) {
	pool := NewPeerPool()
	link := newTestPeerLink(t, "1.1.1.1")
	if err := pool.Add(link); err != nil {
		t.Fatalf("Add: %v", err)
	}
	cfg := DefaultDiscoveryConfig()
	cfg.TargetPeers = 1
	d := NewDiscovery(pool, []string{"introducer.example"}, cfg, DefaultTimeouts(), nil)

	d.tick(context.Background())

	if pool.Count() != 1 {
		t.Fatalf("expected tick to leave the pool untouched once at target, got %d", pool.Count())
	}
}

func TestDiscoveryAddTrustedPeerMarksPoolTrusted(t *testing.T) {
	pool := NewPeerPool()
	d := NewDiscovery(pool, nil, DefaultDiscoveryConfig(), DefaultTimeouts(), nil)
	d.AddTrustedPeer("7.7.7.7")
	pool.Ban("7.7.7.7")
	if pool.IsBanned("7.7.7.7") {
		t.Fatalf("expected a trusted address to be immune to Ban")
	}
}

func TestShuffleIsAPermutation(t *testing.T) {
	items := []string{"a", "b", "c", "d", "e"}
	original := append([]string(nil), items...)
	shuffle(items)

	if len(items) != len(original) {
		t.Fatalf("expected shuffle to preserve length")
	}
	seen := make(map[string]bool, len(items))
	for _, v := range items {
		seen[v] = true
	}
	for _, v := range original {
		if !seen[v] {
			t.Fatalf("expected shuffle to be a permutation, missing %q", v)
		}
	}
}

func TestShuffleHandlesEmptyAndSingleton(t *testing.T) {
	empty := []string{}
	shuffle(empty)
	single := []string{"only"}
	shuffle(single)
	if single[0] != "only" {
		t.Fatalf("expected a singleton slice to be unchanged")
	}
}
