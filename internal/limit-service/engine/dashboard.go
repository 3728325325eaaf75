package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/ledger"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/risk"
)

func (e *Engine) payoutRates(ctx context.Context) (map[numbers.Category]decimal.Decimal, error) {
	rates := make(map[numbers.Category]decimal.Decimal, len(numbers.Categories))
	for _, c := range numbers.Categories {
		r, err := e.rules.BasePayoutRate(ctx, c)
		if err != nil {
			return nil, err
		}
		rates[c] = r
	}
	return rates, nil
}

// RiskDashboard monta o painel de risco do período a partir do ledger
func (e *Engine) RiskDashboard(ctx context.Context, batchID string) (risk.Report, error) {
	if batchID == "" {
		return risk.Report{}, ErrBatchRequired
	}
	rows, err := e.ledger.Rows(ctx, batchID)
	if err != nil {
		return risk.Report{}, fmt.Errorf("ledger rows: %w", err)
	}
	rates, err := e.payoutRates(ctx)
	if err != nil {
		return risk.Report{}, err
	}
	return risk.Analyze(batchID, rows, rates, e.now()), nil
}

// QuotaDashboard mostra o consumo de cota de cada número com apostas no período
func (e *Engine) QuotaDashboard(ctx context.Context, batchID string) (risk.QuotaReport, error) {
	if batchID == "" {
		return risk.QuotaReport{}, ErrBatchRequired
	}
	rows, err := e.ledger.Rows(ctx, batchID)
	if err != nil {
		return risk.QuotaReport{}, fmt.Errorf("ledger rows: %w", err)
	}

	quotas := make(map[numbers.Key]decimal.Decimal, len(rows))
	for _, r := range rows {
		q, err := e.rules.EffectiveQuota(ctx, r.Key)
		if err != nil {
			return risk.QuotaReport{}, err
		}
		quotas[r.Key] = q
	}
	ov, err := e.rules.Overview(ctx)
	if err != nil {
		return risk.QuotaReport{}, err
	}
	return risk.QuotaUsage(batchID, rows, quotas, ov.DefaultQuotas, e.now()), nil
}

// NumberDetail é a visão de um número: uso, cota, bloqueio, risco e apostadores
type NumberDetail struct {
	BatchID       string                `json:"batchId"`
	Key           numbers.Key           `json:"key"`
	Covers        []string              `json:"covers,omitempty"`
	IsBlocked     bool                  `json:"isBlocked"`
	BlockReason   string                `json:"blockReason,omitempty"`
	Usage         risk.QuotaNumber      `json:"usage"`
	StakeCount    int64                 `json:"stakeCount"`
	Risk          *risk.NumberRisk      `json:"risk,omitempty"`
	Assessment    *risk.Assessment      `json:"assessment,omitempty"`
	Contributions []ledger.Contribution `json:"contributions"`
}

func (e *Engine) NumberUsage(ctx context.Context, batchID string, c numbers.Category, raw string) (NumberDetail, error) {
	if batchID == "" {
		return NumberDetail{}, ErrBatchRequired
	}
	k, err := numbers.Normalize(raw, c)
	if err != nil {
		return NumberDetail{}, err
	}

	blocked, why, err := e.rules.IsBlocked(ctx, k)
	if err != nil {
		return NumberDetail{}, err
	}
	quota, err := e.rules.EffectiveQuota(ctx, k)
	if err != nil {
		return NumberDetail{}, err
	}
	rate, err := e.rules.BasePayoutRate(ctx, c)
	if err != nil {
		return NumberDetail{}, err
	}
	rows, err := e.ledger.Rows(ctx, batchID)
	if err != nil {
		return NumberDetail{}, fmt.Errorf("ledger rows: %w", err)
	}
	contrib, err := e.ledger.Contributions(ctx, batchID, k)
	if err != nil {
		return NumberDetail{}, fmt.Errorf("ledger contributions: %w", err)
	}
	if contrib == nil {
		contrib = []ledger.Contribution{}
	}

	det := NumberDetail{
		BatchID:       batchID,
		Key:           k,
		IsBlocked:     blocked,
		BlockReason:   why,
		Usage:         risk.QuotaUsageOf(k, decimal.Zero, quota),
		Contributions: contrib,
	}
	if c == numbers.Tote {
		det.Covers = numbers.ToteCoverage(k)
	}

	grand := decimal.Zero
	var row *ledger.Row
	for i := range rows {
		grand = grand.Add(rows[i].TotalAmount)
		if rows[i].Key == k {
			row = &rows[i]
		}
	}
	if row != nil {
		det.Usage = risk.QuotaUsageOf(k, row.TotalAmount, quota)
		det.StakeCount = row.StakeCount
		nr := risk.Evaluate(*row, grand, rate)
		as := risk.Assess(nr)
		det.Risk = &nr
		det.Assessment = &as
	}
	return det, nil
}
