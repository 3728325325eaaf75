package risk

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/ledger"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

const (
	StatusSafe    = "safe"
	StatusWarning = "warning"
	StatusDanger  = "danger"
)

var riskyUsage = decimal.NewFromInt(90)

const quotaTop = 5

type QuotaNumber struct {
	Key         numbers.Key     `json:"key"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	Quota       decimal.Decimal `json:"quota"`
	Remaining   decimal.Decimal `json:"remaining"`
	UsagePct    decimal.Decimal `json:"usagePct"`
}

type QuotaCategory struct {
	Category     numbers.Category `json:"category"`
	Label        string           `json:"label"`
	DefaultQuota decimal.Decimal  `json:"defaultQuota"`
	TotalAmount  decimal.Decimal  `json:"totalAmount"`
	Numbers      int              `json:"numbers"`
	Exceeded     []QuotaNumber    `json:"exceeded"`
	Risky        []QuotaNumber    `json:"risky"`
	Top          []QuotaNumber    `json:"top"`
	Status       string           `json:"status"`
}

// QuotaReport mostra o consumo das cotas por categoria
type QuotaReport struct {
	BatchID     string          `json:"batchId"`
	GeneratedAt time.Time       `json:"generatedAt"`
	Categories  []QuotaCategory `json:"categories"`
}

// QuotaUsageOf calcula uso e saldo de uma chave; quota zero conta como esgotada
func QuotaUsageOf(k numbers.Key, total, quota decimal.Decimal) QuotaNumber {
	q := QuotaNumber{
		Key:         k,
		TotalAmount: total,
		Quota:       quota,
		Remaining:   decimal.Max(decimal.Zero, quota.Sub(total)),
		UsagePct:    decimal.Zero,
	}
	if quota.IsPositive() {
		q.UsagePct = pct(total, quota).Round(2)
	} else if total.IsPositive() {
		q.UsagePct = hundred
	}
	return q
}

// QuotaUsage: excedidos (total > cota), arriscados (>= 90% da cota) e os maiores volumes
func QuotaUsage(batchID string, rows []ledger.Row, quotas map[numbers.Key]decimal.Decimal, defaults map[numbers.Category]decimal.Decimal, now time.Time) QuotaReport {
	byCat := make(map[numbers.Category][]QuotaNumber, len(numbers.Categories))
	for _, r := range rows {
		q, ok := quotas[r.Key]
		if !ok {
			q = defaults[r.Key.Category]
		}
		byCat[r.Key.Category] = append(byCat[r.Key.Category], QuotaUsageOf(r.Key, r.TotalAmount, q))
	}

	rep := QuotaReport{BatchID: batchID, GeneratedAt: now}
	for _, c := range numbers.Categories {
		qc := QuotaCategory{
			Category:     c,
			Label:        c.Label(),
			DefaultQuota: defaults[c],
			TotalAmount:  decimal.Zero,
			Exceeded:     []QuotaNumber{},
			Risky:        []QuotaNumber{},
			Top:          []QuotaNumber{},
			Status:       StatusSafe,
		}
		items := byCat[c]
		sort.SliceStable(items, func(i, j int) bool {
			if !items[i].TotalAmount.Equal(items[j].TotalAmount) {
				return items[i].TotalAmount.GreaterThan(items[j].TotalAmount)
			}
			return items[i].Key.Less(items[j].Key)
		})

		for i, it := range items {
			qc.Numbers++
			qc.TotalAmount = qc.TotalAmount.Add(it.TotalAmount)
			switch {
			case it.TotalAmount.GreaterThan(it.Quota):
				qc.Exceeded = append(qc.Exceeded, it)
			case it.UsagePct.GreaterThanOrEqual(riskyUsage):
				qc.Risky = append(qc.Risky, it)
			}
			if i < quotaTop {
				qc.Top = append(qc.Top, it)
			}
		}

		switch {
		case len(qc.Exceeded) > 0:
			qc.Status = StatusDanger
		case len(qc.Risky) > 0:
			qc.Status = StatusWarning
		}
		rep.Categories = append(rep.Categories, qc)
	}
	return rep
}

// Assessment classifica cada componente do score de um número
type Assessment struct {
	Concentration string `json:"concentration"`
	Factor        string `json:"factor"`
	User          string `json:"user"`
}

func grade(v decimal.Decimal, danger, warning int64) string {
	switch {
	case v.GreaterThan(decimal.NewFromInt(danger)):
		return StatusDanger
	case v.GreaterThan(decimal.NewFromInt(warning)):
		return StatusWarning
	}
	return StatusSafe
}

// Assess: concentração >10/>5, fator >20/>10, usuário >60/>30
func Assess(nr NumberRisk) Assessment {
	return Assessment{
		Concentration: grade(nr.Concentration, 10, 5),
		Factor:        grade(nr.FactorRisk, 20, 10),
		User:          grade(nr.UserConcentration, 60, 30),
	}
}
