package rules

import (
	"context"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

// Seed é o arquivo YAML aplicado na subida do serviço (RULES_SEED_FILE)
type Seed struct {
	PayoutRates   map[string]float64 `yaml:"payout_rates"`
	DefaultQuotas map[string]float64 `yaml:"default_quotas"`
	NumberQuotas  []SeedNumberQuota  `yaml:"number_quotas"`
	Blocked       []SeedBlocked      `yaml:"blocked"`
}

type SeedNumberQuota struct {
	Category string  `yaml:"category"`
	Number   string  `yaml:"number"`
	Amount   float64 `yaml:"amount"`
}

type SeedBlocked struct {
	Input    string `yaml:"input"`
	Category string `yaml:"category"`
	Reason   string `yaml:"reason"`
}

func LoadSeedFile(path string) (*Seed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return ParseSeed(b)
}

func ParseSeed(b []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &s, nil
}

// ApplySeed grava as regras do arquivo via Store (upserts, pode rodar a cada boot)
func ApplySeed(ctx context.Context, st *Store, s *Seed) error {
	for name, v := range s.PayoutRates {
		c, err := numbers.ParseCategory(name)
		if err != nil {
			return err
		}
		if err := st.SetPayoutRate(ctx, c, decimal.NewFromFloat(v)); err != nil {
			return err
		}
	}
	for name, v := range s.DefaultQuotas {
		c, err := numbers.ParseCategory(name)
		if err != nil {
			return err
		}
		if err := st.SetDefaultQuota(ctx, c, decimal.NewFromFloat(v)); err != nil {
			return err
		}
	}
	for _, q := range s.NumberQuotas {
		c, err := numbers.ParseCategory(q.Category)
		if err != nil {
			return err
		}
		k, err := numbers.Normalize(q.Number, c)
		if err != nil {
			return err
		}
		if err := st.SetNumberQuota(ctx, k, decimal.NewFromFloat(q.Amount)); err != nil {
			return err
		}
	}
	for _, b := range s.Blocked {
		var filter numbers.Category
		if b.Category != "" {
			c, err := numbers.ParseCategory(b.Category)
			if err != nil {
				return err
			}
			filter = c
		}
		if _, err := st.AddBlockedNumbers(ctx, b.Input, filter, b.Reason); err != nil {
			return fmt.Errorf("seed blocked %q: %w", b.Input, err)
		}
	}
	return nil
}
