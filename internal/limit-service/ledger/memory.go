package ledger

import (
	"context"
	"fmt"
	"hash/fnv"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

const shardCount = 32

type rowID struct {
	batch string
	key   numbers.Key
}

type rowState struct {
	total    decimal.Decimal
	stakes   int64
	weighted decimal.Decimal
	reduced  decimal.Decimal
	users    map[string]decimal.Decimal
	updated  time.Time
}

type shard struct {
	mu   sync.Mutex
	rows map[rowID]*rowState
}

type postingID struct {
	batch string
	ref   string
}

type postingState int

const (
	postingPending postingState = iota
	postingCommitted
	postingReversing
	postingReversed
)

type journalRecord struct {
	userID  string
	entries []posted
	state   postingState
}

// MemoryLedger guarda os totais em shards com mutex.
// Um lançamento trava seus shards em ordem crescente, então chaves diferentes andam em paralelo.
type MemoryLedger struct {
	shards [shardCount]shard

	journalMu sync.Mutex
	journal   map[postingID]*journalRecord

	now func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	l := &MemoryLedger{
		journal: make(map[postingID]*journalRecord),
		now:     time.Now,
	}
	for i := range l.shards {
		l.shards[i].rows = make(map[rowID]*rowState)
	}
	return l
}

func shardOf(id rowID) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id.batch))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(id.key.String()))
	return int(h.Sum32() % shardCount)
}

// lockShards trava os shards das chaves sem repetir e em ordem crescente
func (l *MemoryLedger) lockShards(batch string, entries []Entry) func() {
	set := make(map[int]struct{}, len(entries))
	for _, e := range entries {
		set[shardOf(rowID{batch: batch, key: e.Key})] = struct{}{}
	}
	idx := make([]int, 0, len(set))
	for i := range set {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	for _, i := range idx {
		l.shards[i].mu.Lock()
	}
	return func() {
		for j := len(idx) - 1; j >= 0; j-- {
			l.shards[idx[j]].mu.Unlock()
		}
	}
}

func (l *MemoryLedger) row(id rowID) (*rowState, bool) {
	r, ok := l.shards[shardOf(id)].rows[id]
	return r, ok
}

func (l *MemoryLedger) CurrentUsage(_ context.Context, batchID string, k numbers.Key) (decimal.Decimal, error) {
	id := rowID{batch: batchID, key: k}
	s := &l.shards[shardOf(id)]
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.rows[id]; ok {
		return r.total, nil
	}
	return decimal.Zero, nil
}

func (l *MemoryLedger) Increment(_ context.Context, p Posting) error {
	if err := checkHeader(p); err != nil {
		return err
	}
	entries, err := consolidate(p.Entries)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: no entries", ErrInvalidPosting)
	}

	pid := postingID{batch: p.BatchID, ref: p.Ref}
	l.journalMu.Lock()
	if _, exists := l.journal[pid]; exists {
		l.journalMu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicatePosting, p.Ref)
	}
	rec := &journalRecord{userID: p.UserID, state: postingPending}
	l.journal[pid] = rec
	l.journalMu.Unlock()

	now := l.now()
	unlock := l.lockShards(p.BatchID, entries)
	entries, err = decide(p, entries, func(k numbers.Key) (decimal.Decimal, error) {
		if r, ok := l.row(rowID{batch: p.BatchID, key: k}); ok {
			return r.total, nil
		}
		return decimal.Zero, nil
	})
	if err != nil {
		unlock()
		l.journalMu.Lock()
		delete(l.journal, pid)
		l.journalMu.Unlock()
		return err
	}
	for _, e := range entries {
		id := rowID{batch: p.BatchID, key: e.Key}
		r, ok := l.row(id)
		if !ok {
			r = &rowState{users: make(map[string]decimal.Decimal)}
			l.shards[shardOf(id)].rows[id] = r
		}
		r.total = r.total.Add(e.Amount)
		r.stakes += e.StakeCount
		r.weighted = r.weighted.Add(e.Amount.Mul(e.Factor))
		if isReduced(e.Factor) {
			r.reduced = r.reduced.Add(e.Amount)
		}
		if p.UserID != "" {
			r.users[p.UserID] = r.users[p.UserID].Add(e.Amount)
		}
		r.updated = now
	}
	unlock()

	l.journalMu.Lock()
	rec.entries = postedFrom(entries)
	rec.state = postingCommitted
	l.journalMu.Unlock()
	return nil
}

func (l *MemoryLedger) Decrement(_ context.Context, p Posting) error {
	if err := checkHeader(p); err != nil {
		return err
	}

	pid := postingID{batch: p.BatchID, ref: p.Ref}
	l.journalMu.Lock()
	rec, ok := l.journal[pid]
	switch {
	case !ok:
		l.journalMu.Unlock()
		return fmt.Errorf("%w: posting %s not found", ErrConsistencyViolation, p.Ref)
	case rec.state == postingReversed:
		l.journalMu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyReversed, p.Ref)
	case rec.state != postingCommitted:
		l.journalMu.Unlock()
		return fmt.Errorf("%w: posting %s is being written", ErrLedgerWriteConflict, p.Ref)
	}
	plan, err := planReversal(rec.entries, p.Entries)
	if err != nil {
		l.journalMu.Unlock()
		return err
	}
	rec.state = postingReversing
	userID := rec.userID
	l.journalMu.Unlock()

	if err := l.applyReversal(p.BatchID, userID, plan); err != nil {
		l.journalMu.Lock()
		rec.state = postingCommitted
		l.journalMu.Unlock()
		return err
	}

	l.journalMu.Lock()
	if markReversed(rec.entries, plan) {
		rec.state = postingReversed
	} else {
		rec.state = postingCommitted
	}
	l.journalMu.Unlock()
	return nil
}

// applyReversal valida todas as linhas antes de alterar qualquer uma
func (l *MemoryLedger) applyReversal(batch, userID string, plan []Entry) error {
	unlock := l.lockShards(batch, plan)
	defer unlock()

	for _, e := range plan {
		r, ok := l.row(rowID{batch: batch, key: e.Key})
		if !ok {
			return fmt.Errorf("%w: no total for %s", ErrConsistencyViolation, e.Key)
		}
		if r.total.LessThan(e.Amount) {
			return fmt.Errorf("%w: %s would go negative", ErrConsistencyViolation, e.Key)
		}
	}

	now := l.now()
	for _, e := range plan {
		id := rowID{batch: batch, key: e.Key}
		r, _ := l.row(id)
		r.total = r.total.Sub(e.Amount)
		if r.total.IsZero() {
			delete(l.shards[shardOf(id)].rows, id)
			continue
		}
		r.stakes -= e.StakeCount
		if r.stakes < 0 {
			r.stakes = 0
		}
		r.weighted = r.weighted.Sub(e.Amount.Mul(e.Factor))
		if isReduced(e.Factor) {
			r.reduced = decimal.Max(decimal.Zero, r.reduced.Sub(e.Amount))
		}
		if userID != "" {
			left := r.users[userID].Sub(e.Amount)
			if left.IsPositive() {
				r.users[userID] = left
			} else {
				delete(r.users, userID)
			}
		}
		r.updated = now
	}
	return nil
}

// Rows trava todos os shards para devolver uma foto consistente do período
func (l *MemoryLedger) Rows(_ context.Context, batchID string) ([]Row, error) {
	for i := range l.shards {
		l.shards[i].mu.Lock()
	}
	var out []Row
	for i := range l.shards {
		for id, r := range l.shards[i].rows {
			if id.batch != batchID {
				continue
			}
			row := Row{
				BatchID:           batchID,
				Key:               id.key,
				TotalAmount:       r.total,
				StakeCount:        r.stakes,
				WeightedFactorSum: r.weighted,
				ReducedAmount:     r.reduced,
				MaxUserAmount:     decimal.Zero,
				UniqueUsers:       len(r.users),
				LastUpdated:       r.updated,
			}
			for _, a := range r.users {
				if a.GreaterThan(row.MaxUserAmount) {
					row.MaxUserAmount = a
				}
			}
			out = append(out, row)
		}
	}
	for i := len(l.shards) - 1; i >= 0; i-- {
		l.shards[i].mu.Unlock()
	}

	sortRows(out)
	return out, nil
}

func (l *MemoryLedger) Contributions(_ context.Context, batchID string, k numbers.Key) ([]Contribution, error) {
	id := rowID{batch: batchID, key: k}
	s := &l.shards[shardOf(id)]
	s.mu.Lock()
	var out []Contribution
	if r, ok := s.rows[id]; ok {
		for u, a := range r.users {
			out = append(out, Contribution{UserID: u, Amount: a})
		}
	}
	s.mu.Unlock()
	sortContributions(out)
	return out, nil
}

func sortContributions(cs []Contribution) {
	sort.Slice(cs, func(i, j int) bool {
		if !cs[i].Amount.Equal(cs[j].Amount) {
			return cs[i].Amount.GreaterThan(cs[j].Amount)
		}
		return cs[i].UserID < cs[j].UserID
	})
}
