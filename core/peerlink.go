package core

// PeerLink: one duplex session to a full node (spec §4.1). Rewritten from
// the teacher's network.go Node — the libp2p host/stream machinery is
// dropped; a PeerLink runs over any io.ReadWriteCloser (a TLS conn or a
// libp2p stream) and does "framed request/reply with 16-bit id correlation
// plus an inbound event stream", which is what a full-node wallet protocol
// actually looks like.

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

// MessageType enumerates the wire protocol frames from spec §6.
type MessageType uint8

const (
	MsgHandshake MessageType = iota
	MsgNewPeakWallet
	MsgCoinStateUpdate
	MsgRequestCoinState
	MsgRespondCoinState
	MsgRejectCoinState
	MsgRequestPuzzleState
	MsgRespondPuzzleState
	MsgRejectPuzzleState
	MsgRequestPuzzleSolution
	MsgRespondPuzzleSolution
	MsgRejectPuzzleSolution
	MsgRequestRemoveCoinSubscriptions
	MsgRequestRemovePuzzleSubscriptions
	MsgRespondRemoveSubscriptions
	MsgSendTransaction
	MsgTransactionAck
	MsgUnsolicitedError
)

// maxInFlight bounds concurrent requests per peer (spec §5 resource bounds,
// §4.1 "max 65535 in flight").
const maxInFlight = 65535

// Frame is one length-prefixed binary record: (msg_type, id?, data).
type Frame struct {
	Type MessageType
	ID   *uint16
	Data []byte
}

func writeFrame(w io.Writer, f Frame) error {
	hasID := byte(0)
	var idBytes [2]byte
	if f.ID != nil {
		hasID = 1
		binary.BigEndian.PutUint16(idBytes[:], *f.ID)
	}
	body := make([]byte, 0, 2+len(idBytes)+len(f.Data))
	body = append(body, byte(f.Type), hasID)
	if hasID == 1 {
		body = append(body, idBytes[:]...)
	}
	body = append(body, f.Data...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

func readFrame(r io.Reader) (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, err
	}
	if len(body) < 2 {
		return Frame{}, fmt.Errorf("peerlink: short frame")
	}
	f := Frame{Type: MessageType(body[0])}
	hasID := body[1]
	off := 2
	if hasID == 1 {
		if len(body) < off+2 {
			return Frame{}, fmt.Errorf("peerlink: truncated id")
		}
		id := binary.BigEndian.Uint16(body[off : off+2])
		f.ID = &id
		off += 2
	}
	f.Data = body[off:]
	return f, nil
}

// InboundEvent is one element of PeerLink's event stream (spec §4.1):
// Handshake | NewPeakWallet | CoinStateUpdate | UnsolicitedError.
type InboundEvent struct {
	Type      MessageType
	Handshake *HandshakeInfo
	Peak      *Peak
	Coins     []CoinState
	Err       error
}

// HandshakeInfo is the negotiated session info from spec §4.3
// ("verify protocol and network id").
type HandshakeInfo struct {
	ProtocolVersion uint32
	NetworkID       string
	NodeID          string
}

type pendingReq struct {
	replyCh chan Frame
}

// PeerLink represents one duplex session (spec §4.1).
type PeerLink struct {
	conn   io.ReadWriteCloser
	ip     string
	logger *logrus.Entry

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint16]*pendingReq
	nextID  uint16
	freeIDs []uint16

	idSem *semaphore.Weighted

	inbound chan InboundEvent

	closeOnce sync.Once
	closed    chan struct{}
}

// NewPeerLink wraps an already-connected, already-authenticated duplex
// conn (TLS socket or libp2p stream) into a PeerLink and starts its single
// receive task. Dropping the link (Close) aborts that task (spec §3
// "Ownership").
func NewPeerLink(conn io.ReadWriteCloser, ip string) *PeerLink {
	pl := &PeerLink{
		conn:    conn,
		ip:      ip,
		logger:  logrus.WithField("peer", ip),
		pending: make(map[uint16]*pendingReq),
		idSem:   semaphore.NewWeighted(maxInFlight),
		inbound: make(chan InboundEvent, 64),
		closed:  make(chan struct{}),
	}
	go pl.recvLoop()
	return pl
}

// IP returns the peer's address, used as the PeerPool map key.
func (pl *PeerLink) IP() string { return pl.ip }

// Inbound returns the event stream (spec §4.1).
func (pl *PeerLink) Inbound() <-chan InboundEvent { return pl.inbound }

// Close tears down the connection and aborts the receive task.
func (pl *PeerLink) Close() error {
	var err error
	pl.closeOnce.Do(func() {
		close(pl.closed)
		err = pl.conn.Close()
		pl.mu.Lock()
		for id, req := range pl.pending {
			close(req.replyCh)
			delete(pl.pending, id)
		}
		pl.mu.Unlock()
	})
	return err
}

// acquireID reserves a 16-bit id from the bounded pool (spec §4.1,
// invariant 6 in spec §8: "for any two in-flight requests on the same peer,
// their ids are distinct").
func (pl *PeerLink) acquireID(ctx context.Context) (uint16, error) {
	if err := pl.idSem.Acquire(ctx, 1); err != nil {
		return 0, err
	}
	pl.mu.Lock()
	defer pl.mu.Unlock()
	var id uint16
	if n := len(pl.freeIDs); n > 0 {
		id = pl.freeIDs[n-1]
		pl.freeIDs = pl.freeIDs[:n-1]
	} else {
		id = pl.nextID
		pl.nextID++
	}
	return id, nil
}

func (pl *PeerLink) releaseID(id uint16) {
	pl.mu.Lock()
	pl.freeIDs = append(pl.freeIDs, id)
	pl.mu.Unlock()
	pl.idSem.Release(1)
}

// Request performs a single round-trip (spec §4.1): body goes out tagged
// with a fresh id, the matching reply (same id) is returned. On ctx
// deadline the id returns to the pool and ErrTimeout is reported.
func (pl *PeerLink) Request(ctx context.Context, msgType MessageType, data []byte) (Frame, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRequestTimeout)
		defer cancel()
	}
	id, err := pl.acquireID(ctx)
	if err != nil {
		return Frame{}, errInternal("acquire request id", err)
	}
	defer pl.releaseID(id)

	replyCh := make(chan Frame, 1)
	pl.mu.Lock()
	pl.pending[id] = &pendingReq{replyCh: replyCh}
	pl.mu.Unlock()

	defer func() {
		pl.mu.Lock()
		delete(pl.pending, id)
		pl.mu.Unlock()
	}()

	if err := pl.writeFrame(Frame{Type: msgType, ID: &id, Data: data}); err != nil {
		return Frame{}, errInternal("write request", err)
	}

	select {
	case reply, ok := <-replyCh:
		if !ok {
			return Frame{}, ErrCancelled
		}
		return reply, nil
	case <-ctx.Done():
		return Frame{}, ErrTimeout
	case <-pl.closed:
		return Frame{}, ErrCancelled
	}
}

func (pl *PeerLink) writeFrame(f Frame) error {
	pl.writeMu.Lock()
	defer pl.writeMu.Unlock()
	return writeFrame(pl.conn, f)
}

// SubscribeCoins is idempotent on the peer: the peer begins pushing
// CoinStateUpdate for these ids (spec §4.1).
func (pl *PeerLink) SubscribeCoins(ctx context.Context, ids []Bytes32) error {
	_, err := pl.Request(ctx, MsgRequestCoinState, encodeIDs(ids))
	return err
}

// SubscribePuzzles is idempotent on the peer.
func (pl *PeerLink) SubscribePuzzles(ctx context.Context, hashes []Bytes32) error {
	_, err := pl.Request(ctx, MsgRequestPuzzleState, encodeIDs(hashes))
	return err
}

// RequestPuzzleAndSolution fetches a parent's reveal+solution at height.
func (pl *PeerLink) RequestPuzzleAndSolution(ctx context.Context, parentID Bytes32, height uint32) ([]byte, []byte, error) {
	req := make([]byte, 36)
	copy(req, parentID[:])
	binary.BigEndian.PutUint32(req[32:], height)
	reply, err := pl.Request(ctx, MsgRequestPuzzleSolution, req)
	if err != nil {
		return nil, nil, err
	}
	if reply.Type == MsgRejectPuzzleSolution {
		return nil, nil, errInternal("peer rejected puzzle/solution request", nil)
	}
	return decodePuzzleSolution(reply.Data)
}

// RequestCoinState fetches coin states for ids, optionally subscribing.
func (pl *PeerLink) RequestCoinState(ctx context.Context, ids []Bytes32, minHeight *uint32, headerHash Bytes32, subscribe bool) ([]CoinState, error) {
	data := encodeCoinStateRequest(ids, minHeight, headerHash, subscribe)
	reply, err := pl.Request(ctx, MsgRequestCoinState, data)
	if err != nil {
		return nil, err
	}
	if reply.Type == MsgRejectCoinState {
		return nil, errInternal("peer rejected coin state request", nil)
	}
	return decodeCoinStates(reply.Data)
}

// SendTransaction submits a bundle and waits for the ack (spec §4.10
// submit path).
func (pl *PeerLink) SendTransaction(ctx context.Context, bundle []byte) error {
	reply, err := pl.Request(ctx, MsgSendTransaction, bundle)
	if err != nil {
		return err
	}
	if reply.Type != MsgTransactionAck {
		return errInternal("unexpected reply to SendTransaction", nil)
	}
	if len(reply.Data) > 0 && reply.Data[0] != 0 {
		return errWallet("transaction rejected by peer", nil)
	}
	return nil
}

// recvLoop is the PeerLink's single receive task (spec §3 "Each PeerLink
// owns one receive task; dropping the link aborts the task"). Frames
// carrying a known id are routed to the matching reply channel; all others
// route to the inbound stream by msg_type. An id-bearing frame with no
// matching request is misbehavior and is reported upstream as an
// UnsolicitedError so PeerPool can ban the peer (spec §4.1, §8 scenario 5).
func (pl *PeerLink) recvLoop() {
	defer close(pl.inbound)
	br := bufio.NewReader(pl.conn)
	for {
		f, err := readFrame(br)
		if err != nil {
			select {
			case pl.inbound <- InboundEvent{Type: MsgUnsolicitedError, Err: err}:
			case <-pl.closed:
			default:
			}
			return
		}

		if f.ID != nil {
			pl.mu.Lock()
			req, ok := pl.pending[*f.ID]
			pl.mu.Unlock()
			if !ok {
				pl.logger.Warnf("unsolicited reply id %d: peer misbehavior", *f.ID)
				select {
				case pl.inbound <- InboundEvent{Type: MsgUnsolicitedError, Err: fmt.Errorf("unknown id %d", *f.ID)}:
				case <-pl.closed:
					return
				}
				continue
			}
			select {
			case req.replyCh <- f:
			default:
			}
			continue
		}

		evt := InboundEvent{Type: f.Type}
		switch f.Type {
		case MsgHandshake:
			hs, err := decodeHandshake(f.Data)
			if err != nil {
				evt = InboundEvent{Type: MsgUnsolicitedError, Err: err}
			} else {
				evt.Handshake = hs
			}
		case MsgNewPeakWallet:
			pk, err := decodePeak(f.Data)
			if err != nil {
				evt = InboundEvent{Type: MsgUnsolicitedError, Err: err}
			} else {
				evt.Peak = pk
			}
		case MsgCoinStateUpdate:
			cs, err := decodeCoinStates(f.Data)
			if err != nil {
				evt = InboundEvent{Type: MsgUnsolicitedError, Err: err}
			} else {
				evt.Coins = cs
			}
		}
		select {
		case pl.inbound <- evt:
		case <-pl.closed:
			return
		}
	}
}

// Handshake performs the initial protocol/network-id exchange (spec §4.3).
// It is a request/reply like any other, but kept as a named method for
// callers performing the discovery loop's handshake step.
func (pl *PeerLink) Handshake(ctx context.Context, protocolVersion uint32, networkID string) (*HandshakeInfo, error) {
	data := encodeHandshake(protocolVersion, networkID)
	reply, err := pl.Request(ctx, MsgHandshake, data)
	if err != nil {
		return nil, err
	}
	return decodeHandshake(reply.Data)
}

//--------------------------------------------------------------------------
// Wire encode/decode helpers — plain length-prefixed binary, not a
// CLVM-level codec (the real CLVM wire format is an external collaborator
// per spec §1/§9); these just need to be internally consistent.
//--------------------------------------------------------------------------

func encodeIDs(ids []Bytes32) []byte {
	out := make([]byte, 4, 4+len(ids)*32)
	binary.BigEndian.PutUint32(out, uint32(len(ids)))
	for _, id := range ids {
		out = append(out, id[:]...)
	}
	return out
}

func decodeIDs(data []byte) ([]Bytes32, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("peerlink: short id list")
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < n*32 {
		return nil, fmt.Errorf("peerlink: truncated id list")
	}
	out := make([]Bytes32, n)
	for i := range out {
		copy(out[i][:], data[i*32:(i+1)*32])
	}
	return out, nil
}

func encodeHandshake(protocolVersion uint32, networkID string) []byte {
	out := make([]byte, 4, 4+2+len(networkID))
	binary.BigEndian.PutUint32(out, protocolVersion)
	out = append(out, byte(len(networkID)>>8), byte(len(networkID)))
	out = append(out, []byte(networkID)...)
	return out
}

func decodeHandshake(data []byte) (*HandshakeInfo, error) {
	if len(data) < 6 {
		return nil, fmt.Errorf("peerlink: short handshake")
	}
	ver := binary.BigEndian.Uint32(data[:4])
	nlen := int(data[4])<<8 | int(data[5])
	if len(data) < 6+nlen {
		return nil, fmt.Errorf("peerlink: truncated handshake")
	}
	return &HandshakeInfo{ProtocolVersion: ver, NetworkID: string(data[6 : 6+nlen])}, nil
}

func encodePeak(p Peak) []byte {
	out := make([]byte, 36)
	binary.BigEndian.PutUint32(out, p.Height)
	copy(out[4:], p.HeaderHash[:])
	return out
}

func decodePeak(data []byte) (*Peak, error) {
	if len(data) < 36 {
		return nil, fmt.Errorf("peerlink: short peak")
	}
	p := &Peak{Height: binary.BigEndian.Uint32(data[:4])}
	copy(p.HeaderHash[:], data[4:36])
	return p, nil
}

func encodeCoinStates(states []CoinState) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(len(states)))
	for _, cs := range states {
		out = append(out, encodeCoinState(cs)...)
	}
	return out
}

func encodeCoinState(cs CoinState) []byte {
	buf := make([]byte, 0, 32+32+8+1+4+1+4)
	buf = append(buf, cs.Coin.ParentID[:]...)
	buf = append(buf, cs.Coin.PuzzleHash[:]...)
	var amt [8]byte
	binary.BigEndian.PutUint64(amt[:], cs.Coin.Amount)
	buf = append(buf, amt[:]...)
	buf = appendOptionalHeight(buf, cs.CreatedHeight)
	buf = appendOptionalHeight(buf, cs.SpentHeight)
	return buf
}

func appendOptionalHeight(buf []byte, h *uint32) []byte {
	if h == nil {
		return append(buf, 0)
	}
	var v [4]byte
	binary.BigEndian.PutUint32(v[:], *h)
	return append(append(buf, 1), v[:]...)
}

func decodeCoinStates(data []byte) ([]CoinState, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("peerlink: short coin state list")
	}
	n := binary.BigEndian.Uint32(data[:4])
	off := 4
	out := make([]CoinState, 0, n)
	for i := uint32(0); i < n; i++ {
		cs, next, err := decodeCoinStateAt(data, off)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
		off = next
	}
	return out, nil
}

func decodeCoinStateAt(data []byte, off int) (CoinState, int, error) {
	if len(data) < off+72 {
		return CoinState{}, 0, fmt.Errorf("peerlink: truncated coin state")
	}
	var cs CoinState
	copy(cs.Coin.ParentID[:], data[off:off+32])
	copy(cs.Coin.PuzzleHash[:], data[off+32:off+64])
	cs.Coin.Amount = binary.BigEndian.Uint64(data[off+64 : off+72])
	off += 72
	h, off2, err := decodeOptionalHeight(data, off)
	if err != nil {
		return CoinState{}, 0, err
	}
	cs.CreatedHeight = h
	off = off2
	h, off2, err = decodeOptionalHeight(data, off)
	if err != nil {
		return CoinState{}, 0, err
	}
	cs.SpentHeight = h
	return cs, off2, nil
}

func decodeOptionalHeight(data []byte, off int) (*uint32, int, error) {
	if len(data) < off+1 {
		return nil, 0, fmt.Errorf("peerlink: truncated optional height")
	}
	if data[off] == 0 {
		return nil, off + 1, nil
	}
	if len(data) < off+5 {
		return nil, 0, fmt.Errorf("peerlink: truncated height value")
	}
	v := binary.BigEndian.Uint32(data[off+1 : off+5])
	return &v, off + 5, nil
}

func encodeCoinStateRequest(ids []Bytes32, minHeight *uint32, headerHash Bytes32, subscribe bool) []byte {
	out := encodeIDs(ids)
	out = appendOptionalHeight(out, minHeight)
	out = append(out, headerHash[:]...)
	if subscribe {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	return out
}

func decodePuzzleSolution(data []byte) ([]byte, []byte, error) {
	if len(data) < 8 {
		return nil, nil, fmt.Errorf("peerlink: short puzzle/solution")
	}
	plen := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < plen {
		return nil, nil, fmt.Errorf("peerlink: truncated puzzle")
	}
	puzzle := data[:plen]
	data = data[plen:]
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("peerlink: missing solution length")
	}
	slen := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < slen {
		return nil, nil, fmt.Errorf("peerlink: truncated solution")
	}
	return puzzle, data[:slen], nil
}

// defaultRequestTimeout backs the "connection 3s" default from spec §5 for
// callers that don't carry their own deadline.
const defaultRequestTimeout = 3 * time.Second
