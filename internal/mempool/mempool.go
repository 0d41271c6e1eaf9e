// Package mempool implements the thread-safe pending-transaction pool
// described in spec §4.5. It performs no validation of its own — callers
// validate before calling Add — and rejects rather than evicts when full,
// a deliberate DoS posture (spec §4.5 policy).
package mempool

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/klingecoin/node/internal/metrics"
	"github.com/klingecoin/node/pkg/types"
)

// Outcome is the result of an Add attempt.
type Outcome int

const (
	// Accepted means the transaction was admitted.
	Accepted Outcome = iota
	// Duplicate means the transaction's hash was already present.
	Duplicate
	// Full means the pool was at MEMPOOL_MAX and the transaction was
	// rejected (spec §4.5: reject, never evict).
	Full
)

// ErrNotFound is returned by Get for an absent hash.
var ErrNotFound = errors.New("mempool: transaction not found")

type entry struct {
	tx       types.Transaction
	arrival  time.Time
	sequence uint64 // stable tie-break for equal fee rates
}

// Pool is the mapping from tx_hash to (Transaction, arrival_time)
// described in spec §3, guarded by a single lock (spec §4.5, §5).
type Pool struct {
	mu        sync.Mutex
	entries   map[types.Hash]*entry
	maxSize   int
	expirySec int64
	nextSeq   uint64
	metrics   *metrics.Metrics
}

// New creates an empty pool bounded to maxSize entries, pruning anything
// older than expirySec.
func New(maxSize int, expirySec int64) *Pool {
	return &Pool{
		entries:   make(map[types.Hash]*entry),
		maxSize:   maxSize,
		expirySec: expirySec,
	}
}

// SetMetrics wires a metrics bundle the pool reports its size and
// admitted-transaction count through. Nil-safe.
func (p *Pool) SetMetrics(m *metrics.Metrics) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.metrics = m
}

// Add admits tx, returning Accepted, Duplicate, or Full. The caller must
// have already validated tx; Add performs no checks beyond the invariants
// it owns (size, duplicates).
func (p *Pool) Add(tx types.Transaction) Outcome {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[tx.TxHash]; exists {
		return Duplicate
	}
	if len(p.entries) >= p.maxSize {
		return Full
	}

	p.entries[tx.TxHash] = &entry{
		tx:       tx,
		arrival:  time.Now(),
		sequence: p.nextSeq,
	}
	p.nextSeq++
	if p.metrics != nil {
		p.metrics.TxProcessed.Inc()
		p.metrics.MempoolSize.Set(float64(len(p.entries)))
	}
	return Accepted
}

// Remove drops the given transaction hashes, used after they are mined
// into an accepted block.
func (p *Pool) Remove(hashes []types.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		delete(p.entries, h)
	}
	if p.metrics != nil {
		p.metrics.MempoolSize.Set(float64(len(p.entries)))
	}
}

// Select returns up to maxCount transactions ordered by fee_rate
// descending, ties broken by arrival order (spec §4.5).
func (p *Pool) Select(maxCount int) []types.Transaction {
	p.mu.Lock()
	defer p.mu.Unlock()

	ordered := make([]*entry, 0, len(p.entries))
	for _, e := range p.entries {
		ordered = append(ordered, e)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].tx.FeeRate != ordered[j].tx.FeeRate {
			return ordered[i].tx.FeeRate > ordered[j].tx.FeeRate
		}
		return ordered[i].sequence < ordered[j].sequence
	})

	if maxCount < 0 || maxCount > len(ordered) {
		maxCount = len(ordered)
	}
	out := make([]types.Transaction, maxCount)
	for i := 0; i < maxCount; i++ {
		out[i] = ordered[i].tx
	}
	return out
}

// PruneExpired drops entries older than expirySec and returns how many
// were removed (spec §4.5).
func (p *Pool) PruneExpired() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-time.Duration(p.expirySec) * time.Second)
	removed := 0
	for hash, e := range p.entries {
		if e.arrival.Before(cutoff) {
			delete(p.entries, hash)
			removed++
		}
	}
	if removed > 0 && p.metrics != nil {
		p.metrics.MempoolSize.Set(float64(len(p.entries)))
	}
	return removed
}

// Contains reports whether hash is currently pooled.
func (p *Pool) Contains(hash types.Hash) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.entries[hash]
	return ok
}

// Get returns the pooled transaction for hash, or ErrNotFound.
func (p *Pool) Get(hash types.Hash) (types.Transaction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[hash]
	if !ok {
		return types.Transaction{}, ErrNotFound
	}
	return e.tx, nil
}

// Size returns the number of pooled transactions.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
