package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/ledger"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/rules"
	"github.com/radieske/lotto-limit-engine/pkg/contracts/events"
)

// Reason explica o fator aplicado à aposta
type Reason string

const (
	ReasonNormal    Reason = "NORMAL"
	ReasonBlocked   Reason = "BLOCKED"
	ReasonOverQuota Reason = "OVER_QUOTA"
)

var (
	FactorNormal  = decimal.NewFromInt(1)
	FactorReduced = decimal.NewFromFloat(0.5)
)

var (
	ErrInvalidAmount = errors.New("engine: amount must be positive")
	ErrEmptyOrder    = errors.New("engine: order has no items")
	ErrBatchRequired = errors.New("engine: batch id required")
)

// Stake é uma linha digitada pelo apostador
type Stake struct {
	Category numbers.Category `json:"category"`
	Number   string           `json:"number"`
	Amount   decimal.Decimal  `json:"amount"`
}

// Verdict é o resultado da validação de uma chave.
// Bloqueio e estouro de cota não são erros: a aposta entra com fator reduzido.
type Verdict struct {
	Key             numbers.Key     `json:"key"`
	Raw             string          `json:"raw"`
	Amount          decimal.Decimal `json:"amount"`
	Lines           int             `json:"lines"`
	IsBlocked       bool            `json:"isBlocked"`
	BlockReason     string          `json:"blockReason,omitempty"`
	CurrentUsage    decimal.Decimal `json:"currentUsage"`
	EffectiveQuota  decimal.Decimal `json:"effectiveQuota"`
	RemainingQuota  decimal.Decimal `json:"remainingQuota"`
	Factor          decimal.Decimal `json:"factor"`
	Reason          Reason          `json:"reason"`
	BaseRate        decimal.Decimal `json:"baseRate"`
	ReferencePayout decimal.Decimal `json:"referencePayout"`
	Covers          []string        `json:"covers,omitempty"`
}

// Publisher entrega os eventos do motor (Kafka em produção)
type Publisher interface {
	PublishStakesCommitted(ctx context.Context, e events.StakesCommitted) error
	PublishOrderReversed(ctx context.Context, e events.OrderReversed) error
	PublishRulesChanged(ctx context.Context, e events.RulesChanged) error
}

type Engine struct {
	log     *zap.Logger
	rules   *rules.Store
	ledger  ledger.Ledger
	publ    Publisher
	metrics *Metrics
	now     func() time.Time
}

// New aceita publ nil quando não há broker
func New(log *zap.Logger, rs *rules.Store, l ledger.Ledger, publ Publisher, m *Metrics) *Engine {
	return &Engine{log: log, rules: rs, ledger: l, publ: publ, metrics: m, now: time.Now}
}

// prepare carrega taxa, bloqueio e cota da chave, sem olhar o uso
func (e *Engine) prepare(ctx context.Context, k numbers.Key, raw string, amount decimal.Decimal, lines int) (Verdict, error) {
	rate, err := e.rules.BasePayoutRate(ctx, k.Category)
	if err != nil {
		return Verdict{}, err
	}
	v := Verdict{
		Key:            k,
		Raw:            raw,
		Amount:         amount,
		Lines:          lines,
		CurrentUsage:   decimal.Zero,
		EffectiveQuota: decimal.Zero,
		RemainingQuota: decimal.Zero,
		BaseRate:       rate,
	}
	if k.Category == numbers.Tote {
		v.Covers = numbers.ToteCoverage(k)
	}

	blocked, why, err := e.rules.IsBlocked(ctx, k)
	if err != nil {
		return Verdict{}, err
	}
	if blocked {
		v.IsBlocked = true
		v.BlockReason = why
	} else {
		quota, err := e.rules.EffectiveQuota(ctx, k)
		if err != nil {
			return Verdict{}, err
		}
		v.EffectiveQuota = quota
	}
	v.decide(decimal.Zero)
	return v, nil
}

// decide aplica bloqueio (tem precedência) e depois a cota sobre usage
func (v *Verdict) decide(usage decimal.Decimal) {
	v.Factor, v.Reason = FactorNormal, ReasonNormal
	if v.IsBlocked {
		v.Factor, v.Reason = FactorReduced, ReasonBlocked
	} else {
		v.CurrentUsage = usage
		v.RemainingQuota = decimal.Max(decimal.Zero, v.EffectiveQuota.Sub(usage))
		if usage.Add(v.Amount).GreaterThan(v.EffectiveQuota) {
			v.Factor, v.Reason = FactorReduced, ReasonOverQuota
		}
	}
	v.ReferencePayout = v.Amount.Mul(v.BaseRate).Mul(v.Factor)
}

// classify avalia a chave contra o uso atual do ledger; não grava nada
func (e *Engine) classify(ctx context.Context, batchID string, k numbers.Key, raw string, amount decimal.Decimal, lines int) (Verdict, error) {
	v, err := e.prepare(ctx, k, raw, amount, lines)
	if err != nil {
		return Verdict{}, err
	}
	if !v.IsBlocked {
		usage, err := e.ledger.CurrentUsage(ctx, batchID, k)
		if err != nil {
			return Verdict{}, fmt.Errorf("current usage: %w", err)
		}
		v.decide(usage)
	}
	e.metrics.validated.WithLabelValues(string(k.Category), string(v.Reason)).Inc()
	return v, nil
}

// ValidateStake valida uma aposta isolada sem gravar no ledger
func (e *Engine) ValidateStake(ctx context.Context, c numbers.Category, raw string, amount decimal.Decimal, batchID string) (Verdict, error) {
	if batchID == "" {
		return Verdict{}, ErrBatchRequired
	}
	k, err := numbers.Normalize(raw, c)
	if err != nil {
		return Verdict{}, err
	}
	if !amount.IsPositive() {
		return Verdict{}, fmt.Errorf("%w: %s", ErrInvalidAmount, amount)
	}
	return e.classify(ctx, batchID, k, raw, amount, 1)
}

type group struct {
	key    numbers.Key
	raw    string
	amount decimal.Decimal
	lines  int
}

// consolidate junta linhas da mesma chave (ex.: permutações do tote) na ordem em que aparecem
func consolidate(items []group) []group {
	idx := make(map[numbers.Key]int, len(items))
	var out []group
	for _, it := range items {
		if i, ok := idx[it.key]; ok {
			out[i].amount = out[i].amount.Add(it.amount)
			out[i].lines += it.lines
			continue
		}
		idx[it.key] = len(out)
		out = append(out, it)
	}
	return out
}

func normalizeStakes(stakes []Stake) ([]group, error) {
	items := make([]group, 0, len(stakes))
	for i, s := range stakes {
		k, err := numbers.Normalize(s.Number, s.Category)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		if !s.Amount.IsPositive() {
			return nil, fmt.Errorf("item %d: %w: %s", i, ErrInvalidAmount, s.Amount)
		}
		items = append(items, group{key: k, raw: s.Number, amount: s.Amount, lines: 1})
	}
	return items, nil
}

// ValidateSubmission valida um pedido com várias linhas; chaves repetidas são avaliadas pelo valor somado
func (e *Engine) ValidateSubmission(ctx context.Context, batchID string, stakes []Stake) ([]Verdict, error) {
	if batchID == "" {
		return nil, ErrBatchRequired
	}
	if len(stakes) == 0 {
		return nil, ErrEmptyOrder
	}
	items, err := normalizeStakes(stakes)
	if err != nil {
		return nil, err
	}

	merged := consolidate(items)
	out := make([]Verdict, 0, len(merged))
	for _, g := range merged {
		v, err := e.classify(ctx, batchID, g.key, g.raw, g.amount, g.lines)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

type CommitRequest struct {
	BatchID  string
	OrderID  string
	UserID   string
	Verdicts []Verdict
}

type CommitResult struct {
	CommitID    string          `json:"commitId"`
	BatchID     string          `json:"batchId"`
	OrderID     string          `json:"orderId"`
	Items       []Verdict       `json:"items"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	TotalPayout decimal.Decimal `json:"totalReferencePayout"`
	CommittedAt time.Time       `json:"committedAt"`
}

// CommitStakes consolida por chave e grava tudo em um único lançamento atômico.
// O fator de cada chave é decidido pelo ledger com a linha travada, contra o uso
// daquele momento, então commits concorrentes não estouram a cota juntos.
func (e *Engine) CommitStakes(ctx context.Context, req CommitRequest) (CommitResult, error) {
	if req.BatchID == "" {
		return CommitResult{}, ErrBatchRequired
	}
	if len(req.Verdicts) == 0 {
		return CommitResult{}, ErrEmptyOrder
	}
	if req.OrderID == "" {
		req.OrderID = uuid.New().String()
	}

	items := make([]group, 0, len(req.Verdicts))
	for _, v := range req.Verdicts {
		k, err := numbers.Normalize(v.Key.Number, v.Key.Category)
		if err != nil {
			return CommitResult{}, fmt.Errorf("commit key %s: %w", v.Key, err)
		}
		if k != v.Key {
			return CommitResult{}, fmt.Errorf("%w: key %s is not normalized (want %s)", numbers.ErrInvalidFormat, v.Key, k)
		}
		if !v.Amount.IsPositive() {
			return CommitResult{}, fmt.Errorf("%w: %s for %s", ErrInvalidAmount, v.Amount, v.Key)
		}
		lines := v.Lines
		if lines <= 0 {
			lines = 1
		}
		items = append(items, group{key: k, raw: v.Raw, amount: v.Amount, lines: lines})
	}

	res := CommitResult{
		CommitID:    uuid.New().String(),
		BatchID:     req.BatchID,
		OrderID:     req.OrderID,
		TotalAmount: decimal.Zero,
		TotalPayout: decimal.Zero,
	}
	merged := consolidate(items)
	res.Items = make([]Verdict, 0, len(merged))
	entries := make([]ledger.Entry, 0, len(merged))
	for _, g := range merged {
		v, err := e.prepare(ctx, g.key, g.raw, g.amount, g.lines)
		if err != nil {
			return CommitResult{}, err
		}
		res.Items = append(res.Items, v)
		entries = append(entries, ledger.Entry{Key: v.Key, Amount: v.Amount, Factor: v.Factor, StakeCount: int64(v.Lines)})
	}

	byKey := make(map[numbers.Key]*Verdict, len(res.Items))
	for i := range res.Items {
		byKey[res.Items[i].Key] = &res.Items[i]
	}
	decide := func(k numbers.Key, usage decimal.Decimal) decimal.Decimal {
		v, ok := byKey[k]
		if !ok {
			return decimal.Zero
		}
		v.decide(usage)
		return v.Factor
	}

	err := e.ledger.Increment(ctx, ledger.Posting{BatchID: req.BatchID, Ref: req.OrderID, UserID: req.UserID, Entries: entries, Decide: decide})
	if err != nil {
		e.ledgerError(err)
		return CommitResult{}, fmt.Errorf("commit order %s: %w", req.OrderID, err)
	}
	for _, v := range res.Items {
		res.TotalAmount = res.TotalAmount.Add(v.Amount)
		res.TotalPayout = res.TotalPayout.Add(v.ReferencePayout)
	}
	res.CommittedAt = e.now()

	e.metrics.commits.Inc()
	for _, v := range res.Items {
		e.metrics.committed.WithLabelValues(string(v.Key.Category)).Add(v.Amount.InexactFloat64())
	}
	e.log.Info("stakes committed",
		zap.String("batch_id", req.BatchID),
		zap.String("order_id", req.OrderID),
		zap.Int("keys", len(res.Items)),
		zap.String("total", res.TotalAmount.String()))

	if e.publ != nil {
		ev := events.StakesCommitted{
			CommitID: res.CommitID, BatchID: res.BatchID, OrderID: res.OrderID, UserID: req.UserID,
			TotalAmount: res.TotalAmount, Ts: res.CommittedAt,
		}
		for _, v := range res.Items {
			ev.Lines = append(ev.Lines, stakeLine(v))
		}
		if err := e.publ.PublishStakesCommitted(ctx, ev); err != nil {
			e.log.Warn("publish stakes_committed failed", zap.String("order_id", req.OrderID), zap.Error(err))
		}
	}
	return res, nil
}

func stakeLine(v Verdict) events.StakeLine {
	return events.StakeLine{
		Category:        string(v.Key.Category),
		Number:          v.Key.Number,
		Amount:          v.Amount,
		Factor:          v.Factor,
		Reason:          string(v.Reason),
		ReferencePayout: v.ReferencePayout,
	}
}

type ReverseRequest struct {
	BatchID string
	OrderID string
	UserID  string
	// Items vazio estorna o pedido inteiro
	Items []Stake
}

type ReverseResult struct {
	BatchID     string          `json:"batchId"`
	OrderID     string          `json:"orderId"`
	Keys        []numbers.Key   `json:"keys,omitempty"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	ReversedAt  time.Time       `json:"reversedAt"`
}

// ReverseOrder estorna um pedido gravado; um segundo estorno retorna ledger.ErrAlreadyReversed
func (e *Engine) ReverseOrder(ctx context.Context, req ReverseRequest) (ReverseResult, error) {
	if req.BatchID == "" {
		return ReverseResult{}, ErrBatchRequired
	}
	if req.OrderID == "" {
		return ReverseResult{}, fmt.Errorf("%w: order id required", ledger.ErrInvalidPosting)
	}
	items, err := normalizeStakes(req.Items)
	if err != nil {
		return ReverseResult{}, err
	}

	res := ReverseResult{BatchID: req.BatchID, OrderID: req.OrderID, TotalAmount: decimal.Zero}
	var entries []ledger.Entry
	for _, g := range consolidate(items) {
		entries = append(entries, ledger.Entry{Key: g.key, Amount: g.amount, StakeCount: int64(g.lines)})
		res.Keys = append(res.Keys, g.key)
		res.TotalAmount = res.TotalAmount.Add(g.amount)
	}

	if err := e.ledger.Decrement(ctx, ledger.Posting{BatchID: req.BatchID, Ref: req.OrderID, Entries: entries}); err != nil {
		e.ledgerError(err)
		return ReverseResult{}, fmt.Errorf("reverse order %s: %w", req.OrderID, err)
	}
	res.ReversedAt = e.now()
	e.metrics.reversals.Inc()
	e.log.Info("order reversed", zap.String("batch_id", req.BatchID), zap.String("order_id", req.OrderID), zap.Int("keys", len(entries)))

	if e.publ != nil {
		ev := events.OrderReversed{BatchID: req.BatchID, OrderID: req.OrderID, UserID: req.UserID, TotalAmount: res.TotalAmount, Ts: res.ReversedAt}
		for _, en := range entries {
			ev.Lines = append(ev.Lines, events.StakeLine{Category: string(en.Key.Category), Number: en.Key.Number, Amount: en.Amount})
		}
		if err := e.publ.PublishOrderReversed(ctx, ev); err != nil {
			e.log.Warn("publish order_reversed failed", zap.String("order_id", req.OrderID), zap.Error(err))
		}
	}
	return res, nil
}

func (e *Engine) ledgerError(err error) {
	kind := "other"
	switch {
	case errors.Is(err, ledger.ErrDuplicatePosting):
		kind = "duplicate"
	case errors.Is(err, ledger.ErrAlreadyReversed):
		kind = "already_reversed"
	case errors.Is(err, ledger.ErrConsistencyViolation):
		kind = "consistency"
		e.log.Error("ledger consistency violation", zap.Error(err))
	case errors.Is(err, ledger.ErrLedgerWriteConflict):
		kind = "write_conflict"
	case errors.Is(err, ledger.ErrInvalidPosting):
		kind = "invalid"
	}
	e.metrics.ledgerErrors.WithLabelValues(kind).Inc()
}
