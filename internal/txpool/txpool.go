// Package txpool holds not-yet-mined transactions as two DAGs — a
// stempool for transactions still in Dandelion's stem phase and a txpool
// for transactions that have fluffed or are otherwise eligible for
// mining — and picks a deterministic, weight-bounded subset for the next
// block. Inputs reference outputs only by commitment, so the pool tracks
// dependency edges between pool transactions explicitly rather than
// relying on any transaction-hash linkage.
package txpool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/grincore/node/consensus"
	"github.com/grincore/node/internal/txhashset"
	"github.com/grincore/node/secp256k1zkp"
)

// ParentState classifies what a pool transaction's input commitment
// resolves to.
type ParentState int

const (
	Unknown ParentState = iota
	OnChain
	InPool
	Orphan
)

// minFeeRatePerWeight is a pool admission policy, not a consensus rule: the
// sources don't fix a number, so a conservative non-zero floor is used to
// keep the pool from filling with fee-less spam. Measured in base units
// per unit of consensus.Transaction.Weight().
const minFeeRatePerWeight = 1

// maxPoolWeight bounds total pool weight before eviction kicks in. Chosen
// as a small multiple of MaxBlockWeight so a handful of blocks' worth of
// backlog can accumulate without unbounded growth.
const maxPoolWeight = consensus.MaxBlockWeight * 10

// entry is one pool transaction plus the bookkeeping needed for ordering
// and dependency resolution.
type entry struct {
	tx       *consensus.Transaction
	hash     consensus.Hash
	seq      uint64 // insertion order, used as the age tiebreak
	feeRate  float64
	fromStem bool
}

// Pool is the mempool: a stempool and a txpool DAG sharing one conflict
// index, since an input can only ever be spent by one transaction across
// both.
type Pool struct {
	mu sync.Mutex

	set    *txhashset.TxHashSet
	height uint64 // body_head height; next block is height+1

	stempool map[string]*entry // keyed by tx hash
	txpool   map[string]*entry

	// spentBy maps an input commitment to the pool transaction (by hash)
	// currently spending it, across both pools.
	spentBy map[secp256k1zkp.Commitment]string

	// createdBy maps an output commitment to the pool transaction that
	// creates it, so a later transaction's input can resolve to InPool.
	createdBy map[secp256k1zkp.Commitment]string

	nextSeq uint64
}

// New returns an empty Pool validating against set at the given chain
// height.
func New(set *txhashset.TxHashSet, height uint64) *Pool {
	return &Pool{
		set:       set,
		height:    height,
		stempool:  make(map[string]*entry),
		txpool:    make(map[string]*entry),
		spentBy:   make(map[secp256k1zkp.Commitment]string),
		createdBy: make(map[secp256k1zkp.Commitment]string),
	}
}

// SetHeight updates the height used for lock_height and mineability
// checks, called whenever body_head advances.
func (p *Pool) SetHeight(height uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.height = height
}

// inputState resolves what in.Commit currently refers to: an unspent
// on-chain output, an output created by another pool transaction, or
// neither. Caller holds p.mu.
func (p *Pool) inputState(commit secp256k1zkp.Commitment) ParentState {
	if p.set.Unspent(commit) {
		return OnChain
	}
	if _, ok := p.createdBy[commit]; ok {
		return InPool
	}
	return Orphan
}

// AddToPool validates tx and inserts it into the stempool (if fromStem) or
// the txpool, rejecting duplicates, conflicts, underpriced transactions,
// and anything that would introduce a cycle in the pool DAG.
func (p *Pool) AddToPool(tx *consensus.Transaction, fromStem bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := tx.Validate(); err != nil {
		return err
	}

	hash := tx.Hash()
	key := string(hash)
	if _, exists := p.stempool[key]; exists {
		return consensus.NewRuleError(consensus.InvalidTransaction, "transaction %s already in stempool", hash)
	}
	if _, exists := p.txpool[key]; exists {
		return consensus.NewRuleError(consensus.InvalidTransaction, "transaction %s already in txpool", hash)
	}

	weight := tx.Weight()
	if weight == 0 {
		return consensus.NewRuleError(consensus.InvalidTransaction, "empty transaction")
	}
	if feeRate := float64(tx.Fee()) / float64(weight); feeRate < minFeeRatePerWeight {
		return consensus.NewRuleError(consensus.InvalidTransaction, "fee rate %f below minimum %f", feeRate, float64(minFeeRatePerWeight))
	}

	for _, k := range tx.Kernels {
		if k.LockHeight > p.height+1 {
			return consensus.NewRuleError(consensus.InvalidKernelFeatures, "kernel lock_height %d exceeds next height %d", k.LockHeight, p.height+1)
		}
	}

	for _, in := range tx.Inputs {
		if p.inputState(in.Commit) == Orphan {
			return consensus.NewRuleError(consensus.InvalidTransaction, "input %s does not reference an unspent or pool output", in.Commit)
		}
		if owner, spent := p.spentBy[in.Commit]; spent {
			return consensus.NewRuleError(consensus.DuplicateCommitment, "input %s conflicts with pool transaction %x", in.Commit, owner)
		}
	}

	if p.introducesCycle(tx) {
		return consensus.NewRuleError(consensus.InvalidTransaction, "transaction would introduce a cycle in the pool DAG")
	}

	if err := p.makeRoom(weight); err != nil {
		return err
	}

	e := &entry{
		tx:       tx,
		hash:     hash,
		seq:      p.nextSeq,
		feeRate:  float64(tx.Fee()) / float64(weight),
		fromStem: fromStem,
	}
	p.nextSeq++

	if fromStem {
		p.stempool[key] = e
	} else {
		p.txpool[key] = e
	}
	for _, in := range tx.Inputs {
		p.spentBy[in.Commit] = key
	}
	for _, out := range tx.Outputs {
		p.createdBy[out.Commit] = key
	}

	return nil
}

// introducesCycle runs a DFS from tx's inputs' InPool parents looking for a
// path back to an output tx itself creates. Since a commitment carries no
// transaction-hash binding, a would-be cycle A -> B -> C -> A is otherwise
// undetectable until it's too late. Caller holds p.mu.
func (p *Pool) introducesCycle(tx *consensus.Transaction) bool {
	created := make(map[secp256k1zkp.Commitment]struct{}, len(tx.Outputs))
	for _, out := range tx.Outputs {
		created[out.Commit] = struct{}{}
	}

	visited := make(map[string]bool)
	var visit func(key string) bool
	visit = func(key string) bool {
		if visited[key] {
			return false
		}
		visited[key] = true
		e := p.lookup(key)
		if e == nil {
			return false
		}
		for _, in := range e.tx.Inputs {
			if _, ok := created[in.Commit]; ok {
				return true
			}
			if parentKey, ok := p.createdBy[in.Commit]; ok {
				if visit(parentKey) {
					return true
				}
			}
		}
		return false
	}

	for _, in := range tx.Inputs {
		if parentKey, ok := p.createdBy[in.Commit]; ok {
			if visit(parentKey) {
				return true
			}
		}
	}
	return false
}

func (p *Pool) lookup(key string) *entry {
	if e, ok := p.txpool[key]; ok {
		return e
	}
	return p.stempool[key]
}

// makeRoom evicts lowest-fee-per-weight txpool transactions (never ones
// whose every input is already OnChain-only downstream of nothing else
// in the pool — i.e. leaf transactions that other pool transactions don't
// depend on) until there is room for weight more, or returns an error if
// the pool is already saturated with transactions that can't be evicted.
// Caller holds p.mu.
func (p *Pool) makeRoom(weight uint64) error {
	if p.totalWeight()+weight <= maxPoolWeight {
		return nil
	}

	depended := make(map[string]bool)
	for _, e := range p.txpool {
		for _, in := range e.tx.Inputs {
			if parentKey, ok := p.createdBy[in.Commit]; ok {
				depended[parentKey] = true
			}
		}
	}

	var candidates []*entry
	for key, e := range p.txpool {
		if !depended[key] {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].feeRate < candidates[j].feeRate })

	for _, e := range candidates {
		if p.totalWeight()+weight <= maxPoolWeight {
			return nil
		}
		p.removeEntry(string(e.hash), p.txpool)
	}

	if p.totalWeight()+weight > maxPoolWeight {
		return consensus.NewRuleError(consensus.InvalidTransaction, "pool is full and no evictable transaction remains")
	}
	return nil
}

func (p *Pool) totalWeight() uint64 {
	var total uint64
	for _, e := range p.txpool {
		total += e.tx.Weight()
	}
	for _, e := range p.stempool {
		total += e.tx.Weight()
	}
	return total
}

func (p *Pool) removeEntry(key string, from map[string]*entry) {
	e, ok := from[key]
	if !ok {
		return
	}
	delete(from, key)
	for _, in := range e.tx.Inputs {
		if p.spentBy[in.Commit] == key {
			delete(p.spentBy, in.Commit)
		}
	}
	for _, out := range e.tx.Outputs {
		if p.createdBy[out.Commit] == key {
			delete(p.createdBy, out.Commit)
		}
	}
}

// isMineable reports whether every input of e.tx resolves to an on-chain
// output or to another mineable pool transaction, with no lock_height
// beyond the next block height. visited guards against cycles (which
// AddToPool already rejects, but a defensive stop is cheap). Caller holds
// p.mu.
func (p *Pool) isMineable(e *entry, visited map[string]bool) bool {
	key := string(e.hash)
	if visited[key] {
		return false
	}
	visited[key] = true

	for _, k := range e.tx.Kernels {
		if k.LockHeight > p.height+1 {
			return false
		}
	}

	for _, in := range e.tx.Inputs {
		switch p.inputState(in.Commit) {
		case OnChain:
			// Maturity of on-chain coinbase inputs is enforced again,
			// authoritatively, when the selected block is actually applied
			// via internal/txhashset; re-deriving output creation height
			// here would duplicate state the pool doesn't otherwise keep.
		case InPool:
			parentKey := p.createdBy[in.Commit]
			parent, ok := p.txpool[parentKey]
			if !ok || !p.isMineable(parent, visited) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// SelectForBlock returns a deterministic, weight-bounded set of mineable
// txpool transactions: a Kahn-style topological traversal (parents before
// children) tiebroken by age then descending fee rate.
func (p *Pool) SelectForBlock(maxWeight uint64) []*consensus.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	mineable := make(map[string]*entry)
	for key, e := range p.txpool {
		if p.isMineable(e, make(map[string]bool)) {
			mineable[key] = e
		}
	}

	indegree := make(map[string]int, len(mineable))
	for key, e := range mineable {
		for _, in := range e.tx.Inputs {
			if parentKey, ok := p.createdBy[in.Commit]; ok {
				if _, isMineableParent := mineable[parentKey]; isMineableParent {
					indegree[key]++
				}
			}
		}
	}

	ready := func() []*entry {
		var r []*entry
		for key, e := range mineable {
			if indegree[key] == 0 {
				r = append(r, e)
			}
		}
		sort.Slice(r, func(i, j int) bool {
			if r[i].seq != r[j].seq {
				return r[i].seq < r[j].seq
			}
			return r[i].feeRate > r[j].feeRate
		})
		return r
	}

	var selected []*consensus.Transaction
	var totalWeight uint64
	remaining := make(map[string]*entry, len(mineable))
	for k, e := range mineable {
		remaining[k] = e
	}

	for len(remaining) > 0 {
		next := ready()
		if len(next) == 0 {
			break // a cycle slipped through; stop rather than loop forever
		}

		progressed := false
		for _, e := range next {
			key := string(e.hash)
			if _, ok := remaining[key]; !ok {
				continue
			}
			w := e.tx.Weight()
			if totalWeight+w > maxWeight {
				delete(remaining, key)
				continue
			}
			selected = append(selected, e.tx)
			totalWeight += w
			delete(remaining, key)
			delete(mineable, key)
			progressed = true

			for _, out := range e.tx.Outputs {
				for ck, ce := range remaining {
					for _, in := range ce.tx.Inputs {
						if in.Commit == out.Commit {
							indegree[ck]--
						}
					}
				}
			}
		}
		if !progressed {
			break
		}
	}

	return selected
}

// ReconcileBlock removes every pool transaction whose outputs or kernels
// are now on-chain, and invalidates any pool transaction whose input was
// spent by b while the competing output it created is absent from b.
func (p *Pool) ReconcileBlock(b *consensus.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	onChainOutputs := make(map[secp256k1zkp.Commitment]struct{}, len(b.Outputs))
	for _, out := range b.Outputs {
		onChainOutputs[out.Commit] = struct{}{}
	}
	onChainKernels := make(map[string]struct{}, len(b.Kernels))
	for _, k := range b.Kernels {
		onChainKernels[string(k.Hash())] = struct{}{}
	}

	for _, pool := range []map[string]*entry{p.txpool, p.stempool} {
		for key, e := range pool {
			mined := false
			for _, out := range e.tx.Outputs {
				if _, ok := onChainOutputs[out.Commit]; ok {
					mined = true
					break
				}
			}
			if !mined {
				for _, k := range e.tx.Kernels {
					if _, ok := onChainKernels[string(k.Hash())]; ok {
						mined = true
						break
					}
				}
			}
			if mined {
				p.removeEntry(key, pool)
			}
		}
	}

	for _, in := range b.Inputs {
		owner, ok := p.spentBy[in.Commit]
		if !ok {
			continue
		}
		for _, pool := range []map[string]*entry{p.txpool, p.stempool} {
			if e, ok := pool[owner]; ok {
				stillProvided := false
				for _, out := range e.tx.Outputs {
					if _, ok := onChainOutputs[out.Commit]; ok {
						stillProvided = true
						break
					}
				}
				if !stillProvided {
					p.removeEntry(owner, pool)
				}
			}
		}
	}
}

// TransactionsByShortID indexes every pool transaction's kernels by their
// short id relative to blockHash, for CompactBlock hydration: a peer that
// already holds a transaction from earlier gossip doesn't need it resent
// in full just because it was mined.
func (p *Pool) TransactionsByShortID(blockHash consensus.Hash) map[string]*consensus.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[string]*consensus.Transaction)
	for _, pool := range []map[string]*entry{p.txpool, p.stempool} {
		for _, e := range pool {
			for _, k := range e.tx.Kernels {
				id := k.Hash().ShortID(blockHash)
				out[id.String()] = e.tx
			}
		}
	}
	return out
}

// Len returns the number of transactions held in the txpool and stempool.
func (p *Pool) Len() (txpool, stempool int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.txpool), len(p.stempool)
}

func (p *Pool) String() string {
	txn, stem := p.Len()
	return fmt.Sprintf("txpool: %d, stempool: %d", txn, stem)
}
