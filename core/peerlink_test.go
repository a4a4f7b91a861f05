package core

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"
)

func newPipedPeerLink(t *testing.T, ip string) (*PeerLink, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	pl := NewPeerLink(client, ip)
	t.Cleanup(func() { _ = pl.Close(); _ = server.Close() })
	return pl, server
}

func TestPeerLinkRequestRoundTrip(t *testing.T) {
	pl, server := newPipedPeerLink(t, "1.2.3.4")
	go func() {
		br := bufio.NewReader(server)
		req, err := readFrame(br)
		if err != nil {
			return
		}
		_ = writeFrame(server, Frame{Type: MsgRespondCoinState, ID: req.ID, Data: []byte("ok")})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := pl.Request(ctx, MsgRequestCoinState, []byte("req"))
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if string(reply.Data) != "ok" {
		t.Fatalf("expected reply data 'ok', got %q", reply.Data)
	}
}

func TestPeerLinkHandshakeRoundTrip(t *testing.T) {
	pl, server := newPipedPeerLink(t, "1.2.3.5")
	go func() {
		br := bufio.NewReader(server)
		req, err := readFrame(br)
		if err != nil {
			return
		}
		_ = writeFrame(server, Frame{Type: MsgHandshake, ID: req.ID, Data: encodeHandshake(7, "testnet")})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	info, err := pl.Handshake(ctx, 7, "testnet")
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if info.ProtocolVersion != 7 || info.NetworkID != "testnet" {
		t.Fatalf("unexpected handshake info: %+v", info)
	}
}

func TestPeerLinkSendTransactionRejected(t *testing.T) {
	pl, server := newPipedPeerLink(t, "1.2.3.6")
	go func() {
		br := bufio.NewReader(server)
		req, err := readFrame(br)
		if err != nil {
			return
		}
		_ = writeFrame(server, Frame{Type: MsgTransactionAck, ID: req.ID, Data: []byte{1}})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := pl.SendTransaction(ctx, []byte("bundle")); err == nil {
		t.Fatalf("expected an error when the peer rejects the transaction")
	}
}

func TestPeerLinkRequestTimesOutOnNoReply(t *testing.T) {
	pl, _ := newPipedPeerLink(t, "1.2.3.7")
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := pl.Request(ctx, MsgRequestCoinState, []byte("req"))
	if err != ErrTimeout {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

func TestPeerLinkUnsolicitedReplyReportsError(t *testing.T) {
	pl, server := newPipedPeerLink(t, "1.2.3.8")
	go func() {
		id := uint16(999)
		_ = writeFrame(server, Frame{Type: MsgRespondCoinState, ID: &id, Data: []byte("x")})
	}()

	select {
	case evt := <-pl.Inbound():
		if evt.Type != MsgUnsolicitedError || evt.Err == nil {
			t.Fatalf("expected an UnsolicitedError event, got %+v", evt)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the unsolicited-reply event")
	}
}

func TestPeerLinkCloseAbortsPendingRequest(t *testing.T) {
	pl, _ := newPipedPeerLink(t, "1.2.3.9")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		_, err := pl.Request(ctx, MsgRequestCoinState, []byte("req"))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	_ = pl.Close()

	select {
	case err := <-errCh:
		if err != ErrCancelled {
			t.Fatalf("expected ErrCancelled after Close, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for the aborted request to return")
	}
}
