// Package sync drives the node's sync state machine: NotSync, HeaderSync,
// TxHashSetDownload, TxHashSetValidation and BodySync. It holds no network
// code of its own — the p2p layer calls into it with peer-advertised state
// and block/header/archive data as it arrives, and reads back what to
// request next. This mirrors the way the teacher's own p2p.Syncer sits
// between the wire layer and the chain, except state here is explicit
// rather than implied by which message handler fired.
package sync

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/grincore/node/consensus"
	"github.com/grincore/node/internal/chain"
	"github.com/grincore/node/internal/txhashset"
)

// State is a position in the sync state machine.
type State int

const (
	NotSync State = iota
	HeaderSync
	TxHashSetDownload
	TxHashSetValidation
	BodySync
)

func (s State) String() string {
	switch s {
	case NotSync:
		return "NotSync"
	case HeaderSync:
		return "HeaderSync"
	case TxHashSetDownload:
		return "TxHashSetDownload"
	case TxHashSetValidation:
		return "TxHashSetValidation"
	case BodySync:
		return "BodySync"
	default:
		return "Unknown"
	}
}

// diffThreshold is how far behind the best known peer's total difficulty we
// tolerate before leaving NotSync. Grin-family nodes use a small multiple
// of the expected per-block difficulty gain; a flat constant here avoids
// needing a live difficulty estimate just to decide whether to sync.
const diffThreshold = consensus.Difficulty(2)

// PeerInfo is the advertised state of a remote peer, as kept current by
// Ping/Pong and Hand/Shake handling in the p2p layer.
type PeerInfo struct {
	Addr            string
	TotalDifficulty consensus.Difficulty
	Height          uint64
	Capabilities    consensus.Capabilities
}

// Syncer tracks sync state against a Chain and decides what to request
// next. All exported methods are safe for concurrent use.
type Syncer struct {
	mu    sync.Mutex
	state State
	chain *chain.Chain

	// target is the best peer state sync is currently chasing.
	target PeerInfo

	// horizonHeader is the header chosen for TxHashSetDownload, set when
	// entering that state and consumed entering TxHashSetValidation.
	horizonHeader *consensus.BlockHeader

	// disagreeingPeers counts how many times each peer has offered a
	// horizon header inconsistent with others, for the drop policy in
	// spec §4.8's peer behavior invariants.
	disagreeingPeers map[string]int
}

// NewSyncer returns a Syncer starting in NotSync against c.
func NewSyncer(c *chain.Chain) *Syncer {
	return &Syncer{
		state:            NotSync,
		chain:            c,
		disagreeingPeers: make(map[string]int),
	}
}

// State returns the current sync state.
func (s *Syncer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Evaluate compares our header_head against a peer's advertised total
// difficulty and height, entering HeaderSync if we're far enough behind.
// Called on every Ping/Pong from a connected peer.
func (s *Syncer) Evaluate(peer PeerInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()

	head := s.chain.HeaderHead()
	if s.state == NotSync && peer.TotalDifficulty > head.TotalDifficulty+diffThreshold {
		s.target = peer
		s.state = HeaderSync
		logrus.Infof("sync: entering HeaderSync, peer %s at td %d vs our %d", peer.Addr, peer.TotalDifficulty, head.TotalDifficulty)
	}
}

// BuildLocator returns the locator to send with GetHeaders while in
// HeaderSync.
func (s *Syncer) BuildLocator() consensus.Locator {
	return s.chain.Locator()
}

// ReceiveHeaders processes a batch of headers received during HeaderSync
// and advances the state machine once sync_head has caught up with the
// target peer's advertised difficulty.
func (s *Syncer) ReceiveHeaders(headers []consensus.BlockHeader) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != HeaderSync {
		return nil
	}

	for i := range headers {
		if err := s.chain.ProcessBlockHeader(&headers[i]); err != nil {
			if ruleErr, ok := err.(*consensus.RuleError); !ok || ruleErr.Kind != consensus.Orphan {
				return fmt.Errorf("sync: process header: %w", err)
			}
		}
	}

	head := s.chain.HeaderHead()
	if head.TotalDifficulty < s.target.TotalDifficulty {
		return nil
	}

	return s.advanceFromHeaderSync()
}

// advanceFromHeaderSync decides whether body_head is far enough behind
// header_head to warrant a TxHashSet snapshot, or whether a direct
// BodySync from the current body_head is enough. Caller holds s.mu.
func (s *Syncer) advanceFromHeaderSync() error {
	head := s.chain.HeaderHead()
	body := s.chain.BodyHead()

	if head.Height > body.Height && head.Height-body.Height > consensus.CutThroughHorizon {
		target := head.Height - consensus.CutThroughHorizon
		header := s.chain.GetHeader(head.Hash)
		for header != nil && header.Height > target {
			header = s.chain.GetHeader(header.Previous)
		}
		if header == nil {
			return fmt.Errorf("sync: could not resolve horizon header at height %d", target)
		}
		s.horizonHeader = header
		s.state = TxHashSetDownload
		logrus.Infof("sync: entering TxHashSetDownload at height %d", header.Height)
		return nil
	}

	s.state = BodySync
	logrus.Infof("sync: entering BodySync from height %d to %d", body.Height, head.Height)
	return nil
}

// HorizonHeader returns the header TxHashSetDownload should request an
// archive for, or nil if not in that state.
func (s *Syncer) HorizonHeader() *consensus.BlockHeader {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != TxHashSetDownload {
		return nil
	}
	return s.horizonHeader
}

// ReceiveTxHashSetArchive validates a downloaded snapshot against the
// chosen horizon header: recomputed roots must match the header's
// committed roots, and the sum-to-zero equation must hold. On success it
// moves to BodySync for the remaining blocks; on failure the caller (which
// knows which peer served the archive) should ban that peer and retry
// download from another, per the peer behavior invariants in spec §4.8.
func (s *Syncer) ReceiveTxHashSetArchive(set *txhashset.TxHashSet, totalEmission uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != TxHashSetDownload {
		return fmt.Errorf("sync: not expecting a TxHashSet archive in state %s", s.state)
	}
	s.state = TxHashSetValidation

	header := s.horizonHeader
	outRoot, rpRoot, kernRoot, err := set.Roots()
	if err != nil {
		return s.failValidation(fmt.Errorf("sync: compute roots: %w", err))
	}
	if string(header.OutputRoot) != string(outRoot[:]) ||
		string(header.RangeProofRoot) != string(rpRoot[:]) ||
		string(header.KernelRoot) != string(kernRoot[:]) {
		return s.failValidation(fmt.Errorf("sync: txhashset roots do not match header at height %d", header.Height))
	}

	if err := set.Validate(totalEmission, true); err != nil {
		return s.failValidation(fmt.Errorf("sync: txhashset sum check: %w", err))
	}

	s.state = BodySync
	logrus.Infof("sync: txhashset validated at height %d, entering BodySync", header.Height)
	return nil
}

// failValidation resets to TxHashSetDownload so a retry against another
// peer can proceed; caller holds s.mu.
func (s *Syncer) failValidation(err error) error {
	s.state = TxHashSetDownload
	logrus.Warnf("sync: %v, retrying download from another peer", err)
	return err
}

// NoteHorizonDisagreement records that addr reported a horizon header
// inconsistent with what the rest of the peer set is reporting. Per spec
// §4.8's open question on horizon negotiation, the policy here never moves
// Z backward to accommodate a disagreeing peer (that direction is the
// exploitable one); it only accumulates a count so the caller can drop
// peers that persistently disagree.
func (s *Syncer) NoteHorizonDisagreement(addr string) (shouldDrop bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disagreeingPeers[addr]++
	return s.disagreeingPeers[addr] >= 3
}

// BodySyncRange returns the inclusive block height range BodySync should
// request bodies for, from multiple peers in parallel.
func (s *Syncer) BodySyncRange() (from, to uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	body := s.chain.BodyHead()
	head := s.chain.HeaderHead()
	return body.Height + 1, head.Height
}

// ReceiveBlock applies a block fetched during BodySync. Once body_head
// catches up to header_head, sync returns to NotSync.
func (s *Syncer) ReceiveBlock(b *consensus.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != BodySync {
		return nil
	}

	if err := s.chain.ProcessBlock(b); err != nil {
		if ruleErr, ok := err.(*consensus.RuleError); !ok || ruleErr.Kind != consensus.Orphan {
			return err
		}
	}

	body := s.chain.BodyHead()
	head := s.chain.HeaderHead()
	if body.Height >= head.Height {
		s.state = NotSync
		logrus.Infof("sync: body_head caught up to header_head at height %d, returning to NotSync", body.Height)
	}
	return nil
}
