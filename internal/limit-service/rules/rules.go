package rules

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

// RuleType diferencia taxa de pagamento, cota padrão da categoria e cota por número
type RuleType string

const (
	RulePayout       RuleType = "payout"
	RuleDefaultQuota RuleType = "default_quota"
	RuleNumberQuota  RuleType = "number_quota"
)

var (
	ErrRuleNotFound = errors.New("rules: rule not found")
	ErrInvalidValue = errors.New("rules: invalid value")
)

// Valores do sistema quando nenhuma regra ativa existe
var (
	SystemPayoutRates = map[numbers.Category]decimal.Decimal{
		numbers.TwoTop:    decimal.NewFromInt(90),
		numbers.TwoBottom: decimal.NewFromInt(90),
		numbers.ThreeTop:  decimal.NewFromInt(900),
		numbers.Tote:      decimal.NewFromInt(150),
	}
	SystemQuotas = map[numbers.Category]decimal.Decimal{
		numbers.TwoTop:    decimal.NewFromInt(10000),
		numbers.TwoBottom: decimal.NewFromInt(10000),
		numbers.ThreeTop:  decimal.NewFromInt(5000),
		numbers.Tote:      decimal.NewFromInt(3000),
	}
)

// Rule é uma regra de negócio; Number vazio para regras da categoria inteira
type Rule struct {
	Type      RuleType         `json:"type"`
	Category  numbers.Category `json:"category"`
	Number    string           `json:"number,omitempty"`
	Value     decimal.Decimal  `json:"value"`
	Active    bool             `json:"active"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

func (r Rule) id() ruleID { return ruleID{Type: r.Type, Category: r.Category, Number: r.Number} }

// BlockedEntry marca uma chave com fator reduzido
type BlockedEntry struct {
	Key       numbers.Key `json:"key"`
	Reason    string      `json:"reason"`
	Active    bool        `json:"active"`
	CreatedAt time.Time   `json:"createdAt"`
}

type ruleID struct {
	Type     RuleType
	Category numbers.Category
	Number   string
}

// Snapshot é uma visão imutável das regras ativas.
// Um bloqueio em lote entra inteiro em um snapshot ou não entra.
type Snapshot struct {
	rules    map[ruleID]Rule
	blocked  map[numbers.Key]BlockedEntry
	LoadedAt time.Time
}

// NewSnapshot descarta linhas inativas
func NewSnapshot(rs []Rule, blocked []BlockedEntry, loadedAt time.Time) *Snapshot {
	s := &Snapshot{
		rules:    make(map[ruleID]Rule, len(rs)),
		blocked:  make(map[numbers.Key]BlockedEntry, len(blocked)),
		LoadedAt: loadedAt,
	}
	for _, r := range rs {
		if r.Active {
			s.rules[r.id()] = r
		}
	}
	for _, b := range blocked {
		if b.Active {
			s.blocked[b.Key] = b
		}
	}
	return s
}

func (s *Snapshot) rule(t RuleType, c numbers.Category, number string) (decimal.Decimal, bool) {
	r, ok := s.rules[ruleID{Type: t, Category: c, Number: number}]
	if !ok {
		return decimal.Zero, false
	}
	return r.Value, true
}

func (s *Snapshot) blockedEntry(k numbers.Key) (BlockedEntry, bool) {
	b, ok := s.blocked[k]
	return b, ok
}
