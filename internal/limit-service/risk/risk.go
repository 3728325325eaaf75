package risk

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/ledger"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

var Levels = []Level{LevelHigh, LevelMedium, LevelLow}

// Action recomendada ao operador para cada nível
type Action string

const (
	ActionOK    Action = "OK"
	ActionWatch Action = "WATCH"
	ActionStop  Action = "STOP"
)

// Pesos do score composto e limites dos níveis
var (
	weightConcentration = decimal.NewFromFloat(0.4)
	weightFactor        = decimal.NewFromFloat(0.3)
	weightUser          = decimal.NewFromFloat(0.2)
	weightTrend         = decimal.NewFromFloat(0.1)

	thresholdHigh   = decimal.NewFromInt(80)
	thresholdMedium = decimal.NewFromInt(50)

	// alertas de concentração para números de nível médio
	alertConcentration = decimal.NewFromInt(8)
	alertTop           = 5

	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// NumberRisk é a análise de uma linha do ledger
type NumberRisk struct {
	Key               numbers.Key     `json:"key"`
	TotalAmount       decimal.Decimal `json:"totalAmount"`
	StakeCount        int64           `json:"stakeCount"`
	UniqueUsers       int             `json:"uniqueUsers"`
	AvgFactor         decimal.Decimal `json:"avgFactor"`
	BaseRate          decimal.Decimal `json:"baseRate"`
	PotentialPayout   decimal.Decimal `json:"potentialPayout"`
	Concentration     decimal.Decimal `json:"concentrationPct"`
	FactorRisk        decimal.Decimal `json:"factorRiskPct"`
	UserConcentration decimal.Decimal `json:"userConcentrationPct"`
	Trend             decimal.Decimal `json:"trend"`
	Score             decimal.Decimal `json:"riskScore"`
	Level             Level           `json:"riskLevel"`
	Action            Action          `json:"recommendedAction"`
}

type LevelSummary struct {
	Count       int             `json:"count"`
	TotalAmount decimal.Decimal `json:"totalAmount"`
	TotalPayout decimal.Decimal `json:"totalPayout"`
}

type CategorySummary struct {
	Category        numbers.Category `json:"category"`
	Label           string           `json:"label"`
	Numbers         int              `json:"numbers"`
	High            int              `json:"high"`
	Medium          int              `json:"medium"`
	Low             int              `json:"low"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	PotentialPayout decimal.Decimal  `json:"potentialPayout"`
	AvgScore        decimal.Decimal  `json:"avgRiskScore"`
}

type Overall struct {
	GrandTotal           decimal.Decimal `json:"grandTotal"`
	TotalPotentialPayout decimal.Decimal `json:"totalPotentialPayout"`
	TotalNumbers         int             `json:"totalNumbers"`
	HighCount            int             `json:"highCount"`
	MediumCount          int             `json:"mediumCount"`
	LowCount             int             `json:"lowCount"`
	MaxConcentration     decimal.Decimal `json:"maxConcentrationPct"`
	FactorImpactPct      decimal.Decimal `json:"factorImpactPct"`
	WeightedAvgFactor    decimal.Decimal `json:"weightedAvgFactor"`
}

type Alert struct {
	Type          string          `json:"type"` // danger | warning
	Key           numbers.Key     `json:"key"`
	Level         Level           `json:"riskLevel"`
	Score         decimal.Decimal `json:"riskScore"`
	Concentration decimal.Decimal `json:"concentrationPct"`
	Message       string          `json:"message"`
}

// Report é o painel de risco de um período
type Report struct {
	BatchID         string                 `json:"batchId"`
	GeneratedAt     time.Time              `json:"generatedAt"`
	Numbers         []NumberRisk           `json:"numbers"`
	Levels          map[Level]LevelSummary `json:"levels"`
	Categories      []CategorySummary      `json:"categories"`
	Overall         Overall                `json:"overall"`
	Alerts          []Alert                `json:"alerts"`
	Recommendations []string               `json:"recommendations"`
}

func pct(part, whole decimal.Decimal) decimal.Decimal {
	if !whole.IsPositive() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred)
}

// LevelOf classifica o score: HIGH >= 80, MEDIUM >= 50, senão LOW
func LevelOf(score decimal.Decimal) Level {
	switch {
	case score.GreaterThanOrEqual(thresholdHigh):
		return LevelHigh
	case score.GreaterThanOrEqual(thresholdMedium):
		return LevelMedium
	}
	return LevelLow
}

func actionOf(l Level) Action {
	switch l {
	case LevelHigh:
		return ActionStop
	case LevelMedium:
		return ActionWatch
	}
	return ActionOK
}

// Score = 0.4 concentração + 0.3 risco de fator + 0.2 concentração por usuário + 0.1 tendência
func Score(concentration, factorRisk, userConcentration, trend decimal.Decimal) decimal.Decimal {
	return concentration.Mul(weightConcentration).
		Add(factorRisk.Mul(weightFactor)).
		Add(userConcentration.Mul(weightUser)).
		Add(trend.Mul(weightTrend))
}

// Evaluate calcula as métricas de uma linha dado o total do período
func Evaluate(row ledger.Row, grandTotal, baseRate decimal.Decimal) NumberRisk {
	avg := row.AvgFactor()
	nr := NumberRisk{
		Key:               row.Key,
		TotalAmount:       row.TotalAmount,
		StakeCount:        row.StakeCount,
		UniqueUsers:       row.UniqueUsers,
		AvgFactor:         avg.Round(4),
		BaseRate:          baseRate,
		PotentialPayout:   baseRate.Mul(row.WeightedFactorSum).Round(2),
		Concentration:     pct(row.TotalAmount, grandTotal).Round(2),
		FactorRisk:        one.Sub(avg).Mul(hundred).Round(2),
		UserConcentration: pct(row.MaxUserAmount, row.TotalAmount).Round(2),
		Trend:             decimal.Zero,
	}
	nr.Score = Score(nr.Concentration, nr.FactorRisk, nr.UserConcentration, nr.Trend).Round(2)
	nr.Level = LevelOf(nr.Score)
	nr.Action = actionOf(nr.Level)
	return nr
}

// Analyze monta o painel de risco a partir das linhas do ledger.
// rates traz a taxa base de cada categoria.
func Analyze(batchID string, rows []ledger.Row, rates map[numbers.Category]decimal.Decimal, now time.Time) Report {
	grand := decimal.Zero
	weighted := decimal.Zero
	reduced := decimal.Zero
	for _, r := range rows {
		grand = grand.Add(r.TotalAmount)
		weighted = weighted.Add(r.WeightedFactorSum)
		reduced = reduced.Add(r.ReducedAmount)
	}

	rep := Report{
		BatchID:     batchID,
		GeneratedAt: now,
		Numbers:     make([]NumberRisk, 0, len(rows)),
		Levels:      make(map[Level]LevelSummary, len(Levels)),
	}
	for _, l := range Levels {
		rep.Levels[l] = LevelSummary{TotalAmount: decimal.Zero, TotalPayout: decimal.Zero}
	}

	for _, r := range rows {
		rep.Numbers = append(rep.Numbers, Evaluate(r, grand, rates[r.Key.Category]))
	}
	sort.SliceStable(rep.Numbers, func(i, j int) bool {
		a, b := rep.Numbers[i], rep.Numbers[j]
		if !a.Score.Equal(b.Score) {
			return a.Score.GreaterThan(b.Score)
		}
		if !a.TotalAmount.Equal(b.TotalAmount) {
			return a.TotalAmount.GreaterThan(b.TotalAmount)
		}
		return a.Key.Less(b.Key)
	})

	cats := make(map[numbers.Category]*CategorySummary, len(numbers.Categories))
	scoreSum := make(map[numbers.Category]decimal.Decimal, len(numbers.Categories))
	for _, c := range numbers.Categories {
		cats[c] = &CategorySummary{Category: c, Label: c.Label(), TotalAmount: decimal.Zero, PotentialPayout: decimal.Zero, AvgScore: decimal.Zero}
	}

	ov := Overall{
		GrandTotal:           grand,
		TotalPotentialPayout: decimal.Zero,
		TotalNumbers:         len(rows),
		MaxConcentration:     decimal.Zero,
		FactorImpactPct:      pct(reduced, grand).Round(2),
		WeightedAvgFactor:    one,
	}
	if grand.IsPositive() {
		ov.WeightedAvgFactor = weighted.Div(grand).Round(4)
	}

	for _, nr := range rep.Numbers {
		ls := rep.Levels[nr.Level]
		ls.Count++
		ls.TotalAmount = ls.TotalAmount.Add(nr.TotalAmount)
		ls.TotalPayout = ls.TotalPayout.Add(nr.PotentialPayout)
		rep.Levels[nr.Level] = ls

		cs, ok := cats[nr.Key.Category]
		if !ok {
			continue
		}
		cs.Numbers++
		cs.TotalAmount = cs.TotalAmount.Add(nr.TotalAmount)
		cs.PotentialPayout = cs.PotentialPayout.Add(nr.PotentialPayout)
		scoreSum[nr.Key.Category] = scoreSum[nr.Key.Category].Add(nr.Score)
		switch nr.Level {
		case LevelHigh:
			cs.High++
			ov.HighCount++
		case LevelMedium:
			cs.Medium++
			ov.MediumCount++
		default:
			cs.Low++
			ov.LowCount++
		}

		ov.TotalPotentialPayout = ov.TotalPotentialPayout.Add(nr.PotentialPayout)
		if nr.Concentration.GreaterThan(ov.MaxConcentration) {
			ov.MaxConcentration = nr.Concentration
		}
	}

	for _, c := range numbers.Categories {
		cs := cats[c]
		if cs.Numbers > 0 {
			cs.AvgScore = scoreSum[c].Div(decimal.NewFromInt(int64(cs.Numbers))).Round(2)
		}
		rep.Categories = append(rep.Categories, *cs)
	}

	rep.Overall = ov
	rep.Alerts = alerts(rep.Numbers)
	rep.Recommendations = recommendations(ov)
	return rep
}

// alerts olha só os primeiros números do ranking
func alerts(ranked []NumberRisk) []Alert {
	var out []Alert
	for i, nr := range ranked {
		if i >= alertTop {
			break
		}
		switch {
		case nr.Level == LevelHigh:
			out = append(out, Alert{
				Type: "danger", Key: nr.Key, Level: nr.Level, Score: nr.Score, Concentration: nr.Concentration,
				Message: fmt.Sprintf("%s %s is high risk (score %s), consider stopping sales", nr.Key.Category.Label(), nr.Key.Number, nr.Score.StringFixed(2)),
			})
		case nr.Level == LevelMedium && nr.Concentration.GreaterThan(alertConcentration):
			out = append(out, Alert{
				Type: "warning", Key: nr.Key, Level: nr.Level, Score: nr.Score, Concentration: nr.Concentration,
				Message: fmt.Sprintf("%s %s holds %s%% of the batch", nr.Key.Category.Label(), nr.Key.Number, nr.Concentration.StringFixed(2)),
			})
		}
	}
	return out
}

func recommendations(ov Overall) []string {
	var out []string
	if ov.HighCount > 0 {
		out = append(out, fmt.Sprintf("stop or lower the quota of %d high risk numbers", ov.HighCount))
	}
	if ov.MediumCount > 0 {
		out = append(out, fmt.Sprintf("watch %d medium risk numbers", ov.MediumCount))
	}
	if ov.MaxConcentration.GreaterThan(decimal.NewFromInt(10)) {
		out = append(out, fmt.Sprintf("max concentration at %s%%, spread limits across numbers", ov.MaxConcentration.StringFixed(2)))
	}
	if ov.FactorImpactPct.GreaterThan(decimal.NewFromInt(20)) {
		out = append(out, fmt.Sprintf("%s%% of the volume was taken at reduced factor, review blocked numbers and quotas", ov.FactorImpactPct.StringFixed(2)))
	}
	if len(out) == 0 {
		out = append(out, "risk within normal range")
	}
	return out
}
