package risk

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/ledger"
	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

var (
	k921 = numbers.Key{Category: numbers.ThreeTop, Number: "921"}
	k13  = numbers.Key{Category: numbers.TwoTop, Number: "13"}
	t123 = numbers.Key{Category: numbers.Tote, Number: "123"}

	rates = map[numbers.Category]decimal.Decimal{
		numbers.TwoTop: d(90), numbers.TwoBottom: d(90), numbers.ThreeTop: d(900), numbers.Tote: d(150),
	}
)

func sampleRows() []ledger.Row {
	return []ledger.Row{
		{Key: k13, TotalAmount: d(300), StakeCount: 5, WeightedFactorSum: d(300), MaxUserAmount: d(100), UniqueUsers: 3},
		{Key: k921, TotalAmount: d(600), StakeCount: 2, WeightedFactorSum: d(300), ReducedAmount: d(600), MaxUserAmount: d(600), UniqueUsers: 1},
		{Key: t123, TotalAmount: d(100), StakeCount: 2, WeightedFactorSum: d(100), MaxUserAmount: d(50), UniqueUsers: 2},
	}
}

func TestLevelOf(t *testing.T) {
	assert.Equal(t, LevelLow, LevelOf(d(49.99)))
	assert.Equal(t, LevelMedium, LevelOf(d(50)))
	assert.Equal(t, LevelMedium, LevelOf(d(79.99)))
	assert.Equal(t, LevelHigh, LevelOf(d(80)))
}

func TestScoreWeights(t *testing.T) {
	got := Score(d(100), d(100), d(100), d(100))
	assert.True(t, d(100).Equal(got))

	got = Score(d(50), d(0), d(0), d(0))
	assert.True(t, d(20).Equal(got))
}

func TestAnalyze(t *testing.T) {
	now := time.Date(2026, 1, 10, 10, 0, 0, 0, time.UTC)
	rep := Analyze("20260116", sampleRows(), rates, now)

	require.Len(t, rep.Numbers, 3)

	t.Run("should rank by score", func(t *testing.T) {
		assert.Equal(t, k921, rep.Numbers[0].Key)
		assert.Equal(t, k13, rep.Numbers[1].Key)
		assert.Equal(t, t123, rep.Numbers[2].Key)
	})

	t.Run("should compute per number metrics", func(t *testing.T) {
		top := rep.Numbers[0]
		assert.True(t, d(60).Equal(top.Concentration))
		assert.True(t, d(50).Equal(top.FactorRisk))
		assert.True(t, d(100).Equal(top.UserConcentration))
		assert.True(t, d(59).Equal(top.Score))
		assert.Equal(t, LevelMedium, top.Level)
		assert.Equal(t, ActionWatch, top.Action)
		assert.True(t, d(270000).Equal(top.PotentialPayout))
		assert.True(t, d(0.5).Equal(top.AvgFactor))

		second := rep.Numbers[1]
		assert.True(t, d(33.33).Equal(second.UserConcentration))
		assert.True(t, d(18.67).Equal(second.Score))
		assert.Equal(t, LevelLow, second.Level)
		assert.Equal(t, ActionOK, second.Action)
	})

	t.Run("should summarize levels and categories", func(t *testing.T) {
		assert.Equal(t, 1, rep.Levels[LevelMedium].Count)
		assert.True(t, d(270000).Equal(rep.Levels[LevelMedium].TotalPayout))
		assert.Equal(t, 2, rep.Levels[LevelLow].Count)
		assert.Equal(t, 0, rep.Levels[LevelHigh].Count)

		require.Len(t, rep.Categories, 4)
		three := rep.Categories[2]
		assert.Equal(t, numbers.ThreeTop, three.Category)
		assert.Equal(t, 1, three.Medium)
		assert.True(t, d(59).Equal(three.AvgScore))
		assert.Equal(t, 0, rep.Categories[1].Numbers)
	})

	t.Run("should compute overall metrics", func(t *testing.T) {
		ov := rep.Overall
		assert.True(t, d(1000).Equal(ov.GrandTotal))
		assert.True(t, d(312000).Equal(ov.TotalPotentialPayout))
		assert.True(t, d(60).Equal(ov.MaxConcentration))
		assert.True(t, d(60).Equal(ov.FactorImpactPct))
		assert.True(t, d(0.7).Equal(ov.WeightedAvgFactor))
		assert.Equal(t, 3, ov.TotalNumbers)
	})

	t.Run("should raise concentration warning", func(t *testing.T) {
		require.Len(t, rep.Alerts, 1)
		assert.Equal(t, "warning", rep.Alerts[0].Type)
		assert.Equal(t, k921, rep.Alerts[0].Key)
		assert.NotEmpty(t, rep.Recommendations)
	})
}

func TestAnalyzeEmptyBatch(t *testing.T) {
	rep := Analyze("20260116", nil, rates, time.Now())
	assert.Empty(t, rep.Numbers)
	assert.True(t, rep.Overall.GrandTotal.IsZero())
	assert.True(t, decimal.NewFromInt(1).Equal(rep.Overall.WeightedAvgFactor))
	assert.Equal(t, []string{"risk within normal range"}, rep.Recommendations)
}

func TestAlertsOnlyTopRanked(t *testing.T) {
	var ranked []NumberRisk
	for i := 0; i < 7; i++ {
		ranked = append(ranked, NumberRisk{Key: numbers.Key{Category: numbers.ThreeTop, Number: "10" + string(rune('0'+i))}, Level: LevelHigh, Score: d(85)})
	}
	out := alerts(ranked)
	assert.Len(t, out, alertTop)
	for _, a := range out {
		assert.Equal(t, "danger", a.Type)
	}
}

func TestQuotaUsage(t *testing.T) {
	quotas := map[numbers.Key]decimal.Decimal{k921: d(500)}
	defaults := map[numbers.Category]decimal.Decimal{
		numbers.TwoTop: d(10000), numbers.TwoBottom: d(10000), numbers.ThreeTop: d(5000), numbers.Tote: d(110),
	}
	rep := QuotaUsage("20260116", sampleRows(), quotas, defaults, time.Now())
	require.Len(t, rep.Categories, 4)

	two := rep.Categories[0]
	assert.Equal(t, StatusSafe, two.Status)
	require.Len(t, two.Top, 1)
	assert.True(t, d(3).Equal(two.Top[0].UsagePct))

	three := rep.Categories[2]
	assert.Equal(t, StatusDanger, three.Status)
	require.Len(t, three.Exceeded, 1)
	assert.True(t, three.Exceeded[0].Remaining.IsZero())

	tote := rep.Categories[3]
	assert.Equal(t, StatusWarning, tote.Status)
	require.Len(t, tote.Risky, 1)
	assert.True(t, d(10).Equal(tote.Risky[0].Remaining))

	assert.Equal(t, StatusSafe, rep.Categories[1].Status)
	assert.Empty(t, rep.Categories[1].Top)
}

func TestAssess(t *testing.T) {
	a := Assess(NumberRisk{Concentration: d(12), FactorRisk: d(15), UserConcentration: d(20)})
	assert.Equal(t, Assessment{Concentration: StatusDanger, Factor: StatusWarning, User: StatusSafe}, a)
}
