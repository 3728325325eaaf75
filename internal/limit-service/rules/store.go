package rules

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

// Repository persiste regras e bloqueios
type Repository interface {
	LoadSnapshot(ctx context.Context) (*Snapshot, error)
	UpsertRule(ctx context.Context, r Rule) error
	DeactivateRule(ctx context.Context, t RuleType, c numbers.Category, number string) (bool, error)
	// UpsertBlocked grava todas as entradas em uma única transação
	UpsertBlocked(ctx context.Context, entries []BlockedEntry) (int, error)
	DeactivateBlocked(ctx context.Context, keys []numbers.Key) (int, error)
}

// Notifier avisa outras instâncias que as regras mudaram
type Notifier interface {
	NotifyRulesChanged(ctx context.Context) error
}

// lookup é um passo da cadeia de fallback
type lookup func(s *Snapshot, k numbers.Key) (decimal.Decimal, bool)

var quotaChain = []lookup{
	func(s *Snapshot, k numbers.Key) (decimal.Decimal, bool) {
		return s.rule(RuleNumberQuota, k.Category, k.Number)
	},
	func(s *Snapshot, k numbers.Key) (decimal.Decimal, bool) {
		return s.rule(RuleDefaultQuota, k.Category, "")
	},
	func(_ *Snapshot, k numbers.Key) (decimal.Decimal, bool) {
		v, ok := SystemQuotas[k.Category]
		return v, ok
	},
}

var payoutChain = []lookup{
	func(s *Snapshot, k numbers.Key) (decimal.Decimal, bool) {
		return s.rule(RulePayout, k.Category, "")
	},
	func(_ *Snapshot, k numbers.Key) (decimal.Decimal, bool) {
		v, ok := SystemPayoutRates[k.Category]
		return v, ok
	},
}

func resolve(chain []lookup, s *Snapshot, k numbers.Key) (decimal.Decimal, bool) {
	for _, step := range chain {
		if v, ok := step(s, k); ok {
			return v, true
		}
	}
	return decimal.Zero, false
}

// Store expõe as regras ativas com cache e invalidação na escrita.
// Leituras podem ficar defasadas no máximo pelo TTL do cache.
type Store struct {
	repo     Repository
	cache    *Cache
	notifier Notifier
	log      *zap.Logger
	group    singleflight.Group
}

// NewStore aceita notifier nil (instância única)
func NewStore(repo Repository, cache *Cache, notifier Notifier, log *zap.Logger) *Store {
	return &Store{repo: repo, cache: cache, notifier: notifier, log: log}
}

func (s *Store) snapshot(ctx context.Context) (*Snapshot, error) {
	snap, gen, ok := s.cache.Get()
	if ok {
		return snap, nil
	}
	v, err, _ := s.group.Do(strconv.FormatUint(gen, 10), func() (any, error) {
		loaded, err := s.repo.LoadSnapshot(ctx)
		if err != nil {
			return nil, err
		}
		s.cache.Put(loaded, gen)
		return loaded, nil
	})
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return v.(*Snapshot), nil
}

// Invalidate descarta o cache local (chamado também pelo listener Redis)
func (s *Store) Invalidate() { s.cache.Invalidate() }

func (s *Store) changed(ctx context.Context) {
	s.cache.Invalidate()
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyRulesChanged(ctx); err != nil {
		s.log.Warn("rules invalidation broadcast failed", zap.Error(err))
	}
}

// BasePayoutRate retorna a taxa ativa ou o padrão do sistema
func (s *Store) BasePayoutRate(ctx context.Context, c numbers.Category) (decimal.Decimal, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	v, ok := resolve(payoutChain, snap, numbers.Key{Category: c})
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: payout rate for %q", ErrRuleNotFound, c)
	}
	return v, nil
}

// EffectiveQuota: cota do número, senão da categoria, senão do sistema
func (s *Store) EffectiveQuota(ctx context.Context, k numbers.Key) (decimal.Decimal, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	v, ok := resolve(quotaChain, snap, k)
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: quota for %s", ErrRuleNotFound, k)
	}
	return v, nil
}

// IsBlocked retorna também o motivo cadastrado
func (s *Store) IsBlocked(ctx context.Context, k numbers.Key) (bool, string, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return false, "", err
	}
	b, ok := snap.blockedEntry(k)
	return ok, b.Reason, nil
}

func (s *Store) SetPayoutRate(ctx context.Context, c numbers.Category, rate decimal.Decimal) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", numbers.ErrUnknownCategory, c)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("%w: payout rate must be positive", ErrInvalidValue)
	}
	return s.upsert(ctx, Rule{Type: RulePayout, Category: c, Value: rate, Active: true})
}

func (s *Store) SetDefaultQuota(ctx context.Context, c numbers.Category, amount decimal.Decimal) error {
	if !c.Valid() {
		return fmt.Errorf("%w: %q", numbers.ErrUnknownCategory, c)
	}
	if amount.IsNegative() {
		return fmt.Errorf("%w: quota must not be negative", ErrInvalidValue)
	}
	return s.upsert(ctx, Rule{Type: RuleDefaultQuota, Category: c, Value: amount, Active: true})
}

// SetNumberQuota espera a chave já normalizada
func (s *Store) SetNumberQuota(ctx context.Context, k numbers.Key, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("%w: quota must not be negative", ErrInvalidValue)
	}
	return s.upsert(ctx, Rule{Type: RuleNumberQuota, Category: k.Category, Number: k.Number, Value: amount, Active: true})
}

func (s *Store) upsert(ctx context.Context, r Rule) error {
	if err := s.repo.UpsertRule(ctx, r); err != nil {
		return fmt.Errorf("upsert %s rule: %w", r.Type, err)
	}
	s.changed(ctx)
	return nil
}

// RemoveNumberQuota desativa a cota específica; o número volta para a cota da categoria
func (s *Store) RemoveNumberQuota(ctx context.Context, k numbers.Key) (bool, error) {
	ok, err := s.repo.DeactivateRule(ctx, RuleNumberQuota, k.Category, k.Number)
	if err != nil {
		return false, fmt.Errorf("deactivate number quota: %w", err)
	}
	if ok {
		s.changed(ctx)
	}
	return ok, nil
}

// AddBlockedNumbers expande cada número da entrada e grava tudo em uma transação.
// filter vazio mantém todas as categorias geradas. Retorna quantas linhas foram gravadas.
func (s *Store) AddBlockedNumbers(ctx context.Context, rawInput string, filter numbers.Category, reason string) (int, error) {
	keys, err := expandInput(rawInput, filter)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	entries := make([]BlockedEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, BlockedEntry{Key: k, Reason: reason, Active: true})
	}
	n, err := s.repo.UpsertBlocked(ctx, entries)
	if err != nil {
		return 0, fmt.Errorf("upsert blocked numbers: %w", err)
	}
	s.changed(ctx)
	return n, nil
}

// RemoveBlockedNumbers desfaz a mesma expansão usada no bloqueio
func (s *Store) RemoveBlockedNumbers(ctx context.Context, rawInput string, filter numbers.Category) (int, error) {
	keys, err := expandInput(rawInput, filter)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}
	n, err := s.repo.DeactivateBlocked(ctx, keys)
	if err != nil {
		return 0, fmt.Errorf("deactivate blocked numbers: %w", err)
	}
	if n > 0 {
		s.changed(ctx)
	}
	return n, nil
}

func expandInput(rawInput string, filter numbers.Category) ([]numbers.Key, error) {
	if filter != "" && !filter.Valid() {
		return nil, fmt.Errorf("%w: %q", numbers.ErrUnknownCategory, filter)
	}
	tokens := numbers.SplitInputs(rawInput)
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no numbers in %q", numbers.ErrInvalidFormat, rawInput)
	}

	seen := make(map[numbers.Key]struct{})
	var keys []numbers.Key
	for _, tok := range tokens {
		exp, err := numbers.PermutationsForBlocking(tok)
		if err != nil {
			return nil, err
		}
		for _, e := range exp {
			if filter != "" && e.Key.Category != filter {
				continue
			}
			if _, dup := seen[e.Key]; dup {
				continue
			}
			seen[e.Key] = struct{}{}
			keys = append(keys, e.Key)
		}
	}
	numbers.SortKeys(keys)
	return keys, nil
}

// BlockedEntries lista os bloqueios ativos, opcionalmente de uma categoria
func (s *Store) BlockedEntries(ctx context.Context, filter numbers.Category) ([]BlockedEntry, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]BlockedEntry, 0, len(snap.blocked))
	for _, b := range snap.blocked {
		if filter == "" || b.Key.Category == filter {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key.Less(out[j].Key) })
	return out, nil
}

// Overview é a visão efetiva das regras para o painel administrativo
type Overview struct {
	PayoutRates   map[numbers.Category]decimal.Decimal `json:"payoutRates"`
	DefaultQuotas map[numbers.Category]decimal.Decimal `json:"defaultQuotas"`
	NumberQuotas  []Rule                               `json:"numberQuotas"`
	BlockedCount  int                                  `json:"blockedCount"`
}

func (s *Store) Overview(ctx context.Context) (Overview, error) {
	snap, err := s.snapshot(ctx)
	if err != nil {
		return Overview{}, err
	}
	ov := Overview{
		PayoutRates:   make(map[numbers.Category]decimal.Decimal, len(numbers.Categories)),
		DefaultQuotas: make(map[numbers.Category]decimal.Decimal, len(numbers.Categories)),
		BlockedCount:  len(snap.blocked),
	}
	for _, c := range numbers.Categories {
		k := numbers.Key{Category: c}
		ov.PayoutRates[c], _ = resolve(payoutChain, snap, k)
		ov.DefaultQuotas[c], _ = resolve(quotaChain[1:], snap, k)
	}
	for _, r := range snap.rules {
		if r.Type == RuleNumberQuota {
			ov.NumberQuotas = append(ov.NumberQuotas, r)
		}
	}
	sort.Slice(ov.NumberQuotas, func(i, j int) bool {
		a := numbers.Key{Category: ov.NumberQuotas[i].Category, Number: ov.NumberQuotas[i].Number}
		b := numbers.Key{Category: ov.NumberQuotas[j].Category, Number: ov.NumberQuotas[j].Number}
		return a.Less(b)
	})
	return ov, nil
}
