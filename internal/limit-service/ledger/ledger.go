package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

var (
	ErrInvalidPosting       = errors.New("ledger: invalid posting")
	ErrConsistencyViolation = errors.New("ledger: consistency violation")
	ErrLedgerWriteConflict  = errors.New("ledger: write conflict")
	ErrDuplicatePosting     = errors.New("ledger: posting already applied")
	ErrAlreadyReversed      = errors.New("ledger: posting already reversed")
)

var one = decimal.NewFromInt(1)

// Entry é o valor de uma chave dentro de um lançamento.
// Factor zero significa 1.0; StakeCount zero significa uma aposta.
type Entry struct {
	Key        numbers.Key     `json:"key"`
	Amount     decimal.Decimal `json:"amount"`
	Factor     decimal.Decimal `json:"factor"`
	StakeCount int64           `json:"stakeCount"`
}

// FactorFunc decide o fator de uma chave a partir do uso lido com a linha travada.
// Roda dentro da escrita do ledger: não pode fazer I/O nem chamar o ledger.
type FactorFunc func(k numbers.Key, usage decimal.Decimal) decimal.Decimal

// Posting é a unidade atômica de escrita: todas as chaves ou nenhuma.
// Ref identifica o pedido e impede aplicar ou estornar duas vezes.
type Posting struct {
	BatchID string  `json:"batchId"`
	Ref     string  `json:"ref"`
	UserID  string  `json:"userId"`
	Entries []Entry `json:"entries"`
	// Decide, quando presente, substitui o Factor das entradas no Increment
	Decide FactorFunc `json:"-"`
}

// Row é o total acumulado de uma chave no período
type Row struct {
	BatchID           string          `json:"batchId"`
	Key               numbers.Key     `json:"key"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	StakeCount        int64           `json:"stakeCount"`
	WeightedFactorSum decimal.Decimal `json:"weightedFactorSum"`
	ReducedAmount     decimal.Decimal `json:"reducedAmount"`
	MaxUserAmount     decimal.Decimal `json:"maxUserAmount"`
	UniqueUsers       int             `json:"uniqueUsers"`
	LastUpdated       time.Time       `json:"lastUpdated"`
}

// AvgFactor é o fator médio ponderado pelo valor
func (r Row) AvgFactor() decimal.Decimal {
	if !r.TotalAmount.IsPositive() {
		return one
	}
	return r.WeightedFactorSum.Div(r.TotalAmount)
}

// Contribution é quanto um usuário apostou numa chave
type Contribution struct {
	UserID string          `json:"userId"`
	Amount decimal.Decimal `json:"amount"`
}

// Ledger mantém os totais por (período, categoria, número).
// Nenhum outro caminho grava nessas linhas.
type Ledger interface {
	CurrentUsage(ctx context.Context, batchID string, k numbers.Key) (decimal.Decimal, error)
	Increment(ctx context.Context, p Posting) error
	// Decrement estorna o lançamento Ref; sem Entries estorna tudo o que ainda não foi estornado
	Decrement(ctx context.Context, p Posting) error
	Rows(ctx context.Context, batchID string) ([]Row, error)
	Contributions(ctx context.Context, batchID string, k numbers.Key) ([]Contribution, error)
}

func checkHeader(p Posting) error {
	if p.BatchID == "" {
		return fmt.Errorf("%w: batch id required", ErrInvalidPosting)
	}
	if p.Ref == "" {
		return fmt.Errorf("%w: ref required", ErrInvalidPosting)
	}
	return nil
}

// consolidate valida e junta entradas da mesma chave, em ordem de chave
func consolidate(entries []Entry) ([]Entry, error) {
	type acc struct {
		amount   decimal.Decimal
		weighted decimal.Decimal
		stakes   int64
	}
	merged := make(map[numbers.Key]*acc, len(entries))
	keys := make([]numbers.Key, 0, len(entries))

	for _, e := range entries {
		if !e.Key.Category.Valid() || e.Key.Number == "" {
			return nil, fmt.Errorf("%w: bad key %q", ErrInvalidPosting, e.Key)
		}
		if !e.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: amount must be positive for %s", ErrInvalidPosting, e.Key)
		}
		f := e.Factor
		if f.IsZero() {
			f = one
		}
		if f.IsNegative() || f.GreaterThan(one) {
			return nil, fmt.Errorf("%w: factor %s out of range for %s", ErrInvalidPosting, f, e.Key)
		}
		stakes := e.StakeCount
		if stakes <= 0 {
			stakes = 1
		}

		a, ok := merged[e.Key]
		if !ok {
			a = &acc{}
			merged[e.Key] = a
			keys = append(keys, e.Key)
		}
		a.amount = a.amount.Add(e.Amount)
		a.weighted = a.weighted.Add(e.Amount.Mul(f))
		a.stakes += stakes
	}

	numbers.SortKeys(keys)
	out := make([]Entry, 0, len(keys))
	for _, k := range keys {
		a := merged[k]
		out = append(out, Entry{Key: k, Amount: a.amount, Factor: a.weighted.Div(a.amount), StakeCount: a.stakes})
	}
	return out, nil
}

// decide aplica p.Decide às entradas já consolidadas.
// usage lê o total da chave e só é chamado com a linha travada.
func decide(p Posting, entries []Entry, usage func(numbers.Key) (decimal.Decimal, error)) ([]Entry, error) {
	if p.Decide == nil {
		return entries, nil
	}
	out := make([]Entry, len(entries))
	for i, e := range entries {
		u, err := usage(e.Key)
		if err != nil {
			return nil, err
		}
		f := p.Decide(e.Key, u)
		if !f.IsPositive() || f.GreaterThan(one) {
			return nil, fmt.Errorf("%w: factor %s out of range for %s", ErrInvalidPosting, f, e.Key)
		}
		e.Factor = f
		out[i] = e
	}
	return out, nil
}

// posted é uma entrada gravada junto com o quanto dela já foi estornado
type posted struct {
	Entry
	ReversedAmount decimal.Decimal
	ReversedStakes int64
}

func postedFrom(entries []Entry) []posted {
	out := make([]posted, len(entries))
	for i, e := range entries {
		out[i] = posted{Entry: e, ReversedAmount: decimal.Zero}
	}
	return out
}

func (p posted) remaining() decimal.Decimal { return p.Amount.Sub(p.ReversedAmount) }

func (p posted) remainingStakes() int64 {
	if n := p.StakeCount - p.ReversedStakes; n > 0 {
		return n
	}
	return 0
}

// planReversal decide o que estornar a partir do que foi lançado e ainda está aberto.
// O fator vem sempre do lançamento original.
func planReversal(recorded []posted, requested []Entry) ([]Entry, error) {
	if len(requested) == 0 {
		var out []Entry
		for _, p := range recorded {
			if p.remaining().IsPositive() {
				out = append(out, Entry{Key: p.Key, Amount: p.remaining(), Factor: p.Factor, StakeCount: p.remainingStakes()})
			}
		}
		if len(out) == 0 {
			return nil, fmt.Errorf("%w: nothing left to reverse", ErrAlreadyReversed)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
		return out, nil
	}

	req, err := consolidate(requested)
	if err != nil {
		return nil, err
	}
	byKey := make(map[numbers.Key]posted, len(recorded))
	for _, p := range recorded {
		byKey[p.Key] = p
	}

	out := make([]Entry, 0, len(req))
	for _, r := range req {
		p, ok := byKey[r.Key]
		if !ok {
			return nil, fmt.Errorf("%w: %s is not part of the posting", ErrConsistencyViolation, r.Key)
		}
		left := p.remaining()
		if !left.IsPositive() {
			return nil, fmt.Errorf("%w: %s", ErrAlreadyReversed, r.Key)
		}
		if r.Amount.GreaterThan(left) {
			return nil, fmt.Errorf("%w: reversal of %s for %s exceeds open %s", ErrConsistencyViolation, r.Amount, r.Key, left)
		}
		r.Factor = p.Factor
		if r.Amount.Equal(left) || r.StakeCount > p.remainingStakes() {
			r.StakeCount = p.remainingStakes()
		}
		out = append(out, r)
	}
	return out, nil
}

// markReversed soma o plano ao que já foi estornado; true quando nada mais fica aberto
func markReversed(recorded []posted, plan []Entry) bool {
	idx := make(map[numbers.Key]int, len(recorded))
	for i, p := range recorded {
		idx[p.Key] = i
	}
	for _, e := range plan {
		i, ok := idx[e.Key]
		if !ok {
			continue
		}
		recorded[i].ReversedAmount = recorded[i].ReversedAmount.Add(e.Amount)
		recorded[i].ReversedStakes += e.StakeCount
	}
	for _, p := range recorded {
		if p.remaining().IsPositive() {
			return false
		}
	}
	return true
}

func sortRows(rs []Row) {
	sort.Slice(rs, func(i, j int) bool { return rs[i].Key.Less(rs[j].Key) })
}

func isReduced(factor decimal.Decimal) bool { return factor.LessThan(one) }
