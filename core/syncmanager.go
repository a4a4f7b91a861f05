package core

// SyncManager orchestrates the sync pipeline (spec §4.5, §4.12, §9). It is
// the only component that mutates the Store's coin-state table from peer
// traffic: per-peer recv loops forward InboundEvents onto a single bounded
// command channel, which SyncManager's own goroutine drains one at a time
// (spec §5 "SyncManager receives every command through a bounded channel;
// no other task mutates its internal fields").
//
// Grounded on the teacher's network.go Node (owns ctx/cancel, a
// single-threaded command loop) and replication.go's
// channel+waitgroup-shutdown shape. Event fan-out is in-process via
// EventSink (see DESIGN.md for why libp2p-pubsub was dropped).

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// commandTag discriminates SyncManager's command channel (spec §9 "Cyclic
// ownership": SyncManager owns the receiver, every other component gets a
// clone of the sender — a Go channel value is already a shareable handle,
// so "clone" here is simply passing Sender() around).
type commandTag uint8

const (
	cmdPeerConnected commandTag = iota
	cmdPeerEvent
	cmdSubscribeCoins
	cmdStop
)

type command struct {
	tag   commandTag
	peer  *PeerLink
	event InboundEvent
	ids   []Bytes32
}

// SyncManager runs the per-coin sync pipeline (spec §4.5) against inbound
// peer traffic and fans out SyncEvents to any number of subscribers.
type SyncManager struct {
	store Store
	pool  *PeerPool

	cmds   chan command
	sinks  []EventSink
	sinkMu sync.Mutex

	wg     sync.WaitGroup
	cancel context.CancelFunc
	logger *logrus.Entry
}

// NewSyncManager wires a SyncManager. bufSize bounds the command channel
// (spec §5's bounded-channel requirement).
func NewSyncManager(store Store, pool *PeerPool, bufSize int) *SyncManager {
	return &SyncManager{
		store:  store,
		pool:   pool,
		cmds:   make(chan command, bufSize),
		logger: logrus.WithField("component", "sync-manager"),
	}
}

// Subscribe registers an EventSink for the lifetime of the SyncManager
// (SPEC_FULL supplement 3).
func (m *SyncManager) Subscribe(sink EventSink) {
	m.sinkMu.Lock()
	defer m.sinkMu.Unlock()
	m.sinks = append(m.sinks, sink)
}

func (m *SyncManager) emit(e SyncEvent) {
	m.sinkMu.Lock()
	sinks := append([]EventSink(nil), m.sinks...)
	m.sinkMu.Unlock()
	for _, s := range sinks {
		s.HandleSyncEvent(e)
	}
}

// HandleSyncEvent makes SyncManager itself an EventSink, so the background
// queues (PuzzleQ, NftUriQ, CatInfoQ, PendingTxQ) can be wired with the
// manager as their sink and have their events re-broadcast to every
// subscriber alongside the peer-sourced ones, instead of each queue having
// to track its own subscriber list.
func (m *SyncManager) HandleSyncEvent(e SyncEvent) { m.emit(e) }

// Sender returns a handle other components (PeerLink recv forwarders,
// queues asking for new subscriptions) use to post commands — the
// "sender clone" from spec §9's cyclic-ownership note.
func (m *SyncManager) Sender() chan<- command { return m.cmds }

// Start begins the single command-processing goroutine and one
// peer-forwarding goroutine per currently-connected peer.
func (m *SyncManager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.wg.Add(1)
	go m.run(ctx)

	for _, peer := range m.pool.Peers() {
		m.WatchPeer(ctx, peer)
	}
}

// WatchPeer starts forwarding one peer's inbound events onto the command
// channel; call once per newly-registered PeerLink.
func (m *SyncManager) WatchPeer(ctx context.Context, peer *PeerLink) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-peer.Inbound():
				if !ok {
					return
				}
				select {
				case m.cmds <- command{tag: cmdPeerEvent, peer: peer, event: evt}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
}

// Stop cancels every running task and drains outstanding work.
func (m *SyncManager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *SyncManager) run(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-m.cmds:
			m.handle(ctx, cmd)
		}
	}
}

func (m *SyncManager) handle(ctx context.Context, cmd command) {
	switch cmd.tag {
	case cmdPeerEvent:
		m.handlePeerEvent(ctx, cmd.peer, cmd.event)
	case cmdSubscribeCoins:
		if peer, ok := m.pool.Acquire(); ok {
			_ = peer.SubscribeCoins(ctx, cmd.ids)
		}
	case cmdStop:
		return
	}
}

// handlePeerEvent applies spec §4.5's sync pipeline to a CoinStateUpdate,
// or reacts to NewPeakWallet/UnsolicitedError. A coin-state update that
// fails to apply, or an unknown-id reply (UnsolicitedError), bans and
// removes the peer (spec §9 Open Question, resolved toward the safer
// behavior).
func (m *SyncManager) handlePeerEvent(ctx context.Context, peer *PeerLink, evt InboundEvent) {
	switch evt.Type {
	case MsgNewPeakWallet:
		if evt.Peak != nil && peer != nil {
			m.pool.UpdatePeak(peer.IP(), evt.Peak.Height, evt.Peak.HeaderHash)
			m.emit(SyncEvent{Tag: EventDerivationIndex})
		}
	case MsgCoinStateUpdate:
		if err := m.applyCoinStates(ctx, evt.Coins); err != nil {
			m.logger.Warnf("apply coin states: %v", err)
			if peer != nil {
				m.banAndRemove(peer)
			}
			return
		}
		m.emit(SyncEvent{Tag: EventCoinsUpdated, Coins: evt.Coins})
	case MsgUnsolicitedError:
		m.logger.Warnf("peer misbehavior: %v", evt.Err)
		if peer != nil {
			m.banAndRemove(peer)
		}
	}
}

// banAndRemove implements spec §9's resolved Open Question: a
// peer-event-forwarding failure bans and removes the offending peer.
// PeerPool.Ban already removes the entry and closes the link (unless the
// peer is trusted, in which case it is deliberately kept).
func (m *SyncManager) banAndRemove(peer *PeerLink) {
	m.pool.Ban(peer.IP())
}

// applyCoinStates implements spec §4.5's three steps for a batch of
// updates in one transaction.
func (m *SyncManager) applyCoinStates(ctx context.Context, states []CoinState) error {
	if len(states) == 0 {
		return nil
	}
	tx, err := m.store.Tx(ctx)
	if err != nil {
		return err
	}
	var unclassified []CoinState
	for _, cs := range states {
		if err := tx.UpsertCoinState(cs); err != nil {
			_ = tx.Rollback()
			return err
		}
		if d, err := m.store.SyntheticKey(ctx, cs.Coin.PuzzleHash); err == nil {
			if err := tx.MarkCoinSynced(cs.ID(), &d.P2PuzzleHash); err != nil {
				_ = tx.Rollback()
				return err
			}
		} else {
			unclassified = append(unclassified, cs)
		}
	}
	_ = unclassified // PuzzleQ picks these up via Store.UnclassifiedCoins
	return tx.Commit()
}

// runQueues starts all four background queues against this SyncManager's
// event sink, returning once ctx is cancelled and every queue has
// returned.
func (m *SyncManager) runQueues(ctx context.Context, pq *PuzzleQ, nq *NftUriQ, cq *CatInfoQ, tq *PendingTxQ) {
	var wg sync.WaitGroup
	run := func(f func(context.Context)) {
		wg.Add(1)
		go func() { defer wg.Done(); f(ctx) }()
	}
	if pq != nil {
		run(func(c context.Context) { pq.Run(c, 500*time.Millisecond) })
	}
	if nq != nil {
		run(func(c context.Context) { nq.Run(c, 2*time.Second) })
	}
	if cq != nil {
		run(func(c context.Context) { cq.Run(c, time.Second) })
	}
	if tq != nil {
		run(func(c context.Context) { tq.Run(c, 5*time.Second) })
	}
	wg.Wait()
}

// RunQueues starts PuzzleQ/NftUriQ/CatInfoQ/PendingTxQ as background
// tasks; blocks until ctx is cancelled.
func (m *SyncManager) RunQueues(ctx context.Context, pq *PuzzleQ, nq *NftUriQ, cq *CatInfoQ, tq *PendingTxQ) {
	m.runQueues(ctx, pq, nq, cq, tq)
}
