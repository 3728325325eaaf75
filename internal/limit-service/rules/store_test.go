package rules

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

type countingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *countingNotifier) NotifyRulesChanged(context.Context) error {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
	return nil
}

func newTestStore(ttl time.Duration) (*Store, *MemoryRepository, *countingNotifier) {
	repo := NewMemoryRepository()
	n := &countingNotifier{}
	return NewStore(repo, NewCache(ttl), n, zap.NewNop()), repo, n
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestBasePayoutRate(t *testing.T) {
	ctx := context.Background()
	st, _, _ := newTestStore(time.Minute)

	t.Run("should fall back to system defaults", func(t *testing.T) {
		for c, want := range SystemPayoutRates {
			got, err := st.BasePayoutRate(ctx, c)
			require.NoError(t, err)
			assert.True(t, want.Equal(got), "category %s", c)
		}
	})

	t.Run("should use active payout rule", func(t *testing.T) {
		require.NoError(t, st.SetPayoutRate(ctx, numbers.ThreeTop, dec(800)))
		got, err := st.BasePayoutRate(ctx, numbers.ThreeTop)
		require.NoError(t, err)
		assert.True(t, dec(800).Equal(got))
	})

	t.Run("should fail for unknown category", func(t *testing.T) {
		_, err := st.BasePayoutRate(ctx, numbers.Category("x"))
		assert.ErrorIs(t, err, ErrRuleNotFound)
	})

	t.Run("should reject non positive rate", func(t *testing.T) {
		err := st.SetPayoutRate(ctx, numbers.TwoTop, decimal.Zero)
		assert.ErrorIs(t, err, ErrInvalidValue)
	})
}

func TestEffectiveQuotaChain(t *testing.T) {
	ctx := context.Background()
	st, _, _ := newTestStore(time.Minute)
	key := numbers.Key{Category: numbers.ThreeTop, Number: "123"}

	got, err := st.EffectiveQuota(ctx, key)
	require.NoError(t, err)
	assert.True(t, dec(5000).Equal(got), "system constant")

	require.NoError(t, st.SetDefaultQuota(ctx, numbers.ThreeTop, dec(2000)))
	got, err = st.EffectiveQuota(ctx, key)
	require.NoError(t, err)
	assert.True(t, dec(2000).Equal(got), "category default")

	require.NoError(t, st.SetNumberQuota(ctx, key, dec(300)))
	got, err = st.EffectiveQuota(ctx, key)
	require.NoError(t, err)
	assert.True(t, dec(300).Equal(got), "number override")

	other, err := st.EffectiveQuota(ctx, numbers.Key{Category: numbers.ThreeTop, Number: "124"})
	require.NoError(t, err)
	assert.True(t, dec(2000).Equal(other))

	removed, err := st.RemoveNumberQuota(ctx, key)
	require.NoError(t, err)
	assert.True(t, removed)
	got, err = st.EffectiveQuota(ctx, key)
	require.NoError(t, err)
	assert.True(t, dec(2000).Equal(got), "back to category default")

	removed, err = st.RemoveNumberQuota(ctx, key)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAddBlockedNumbers(t *testing.T) {
	ctx := context.Background()

	t.Run("should expand permutations into every category", func(t *testing.T) {
		st, _, n := newTestStore(time.Minute)
		count, err := st.AddBlockedNumbers(ctx, "13", "", "hot")
		require.NoError(t, err)
		assert.Equal(t, 4, count)
		assert.Equal(t, 1, n.calls)

		for _, k := range []numbers.Key{
			{Category: numbers.TwoTop, Number: "13"},
			{Category: numbers.TwoTop, Number: "31"},
			{Category: numbers.TwoBottom, Number: "13"},
			{Category: numbers.TwoBottom, Number: "31"},
		} {
			blocked, reason, err := st.IsBlocked(ctx, k)
			require.NoError(t, err)
			assert.True(t, blocked, k.String())
			assert.Equal(t, "hot", reason)
		}
	})

	t.Run("should apply category filter and bulk input", func(t *testing.T) {
		st, _, _ := newTestStore(time.Minute)
		count, err := st.AddBlockedNumbers(ctx, "157, 13", numbers.Tote, "")
		require.NoError(t, err)
		assert.Equal(t, 1, count)

		entries, err := st.BlockedEntries(ctx, "")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, numbers.Key{Category: numbers.Tote, Number: "157"}, entries[0].Key)
	})

	t.Run("should be idempotent", func(t *testing.T) {
		st, _, _ := newTestStore(time.Minute)
		_, err := st.AddBlockedNumbers(ctx, "112", "", "")
		require.NoError(t, err)
		count, err := st.AddBlockedNumbers(ctx, "112 211", "", "again")
		require.NoError(t, err)
		assert.Equal(t, 4, count)

		entries, err := st.BlockedEntries(ctx, "")
		require.NoError(t, err)
		assert.Len(t, entries, 4)
	})

	t.Run("should reject the whole batch on a bad token", func(t *testing.T) {
		st, _, _ := newTestStore(time.Minute)
		_, err := st.AddBlockedNumbers(ctx, "13 1234", "", "")
		assert.ErrorIs(t, err, numbers.ErrInvalidFormat)

		entries, err := st.BlockedEntries(ctx, "")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("should unblock the same expansion", func(t *testing.T) {
		st, _, _ := newTestStore(time.Minute)
		_, err := st.AddBlockedNumbers(ctx, "921", "", "")
		require.NoError(t, err)
		n, err := st.RemoveBlockedNumbers(ctx, "921", numbers.ThreeTop)
		require.NoError(t, err)
		assert.Equal(t, 6, n)

		entries, err := st.BlockedEntries(ctx, "")
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, numbers.Tote, entries[0].Key.Category)
	})
}

func TestStoreCacheStaleness(t *testing.T) {
	ctx := context.Background()
	st, repo, _ := newTestStore(5 * time.Second)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	st.cache.now = func() time.Time { return now }
	key := numbers.Key{Category: numbers.TwoTop, Number: "99"}

	blocked, _, err := st.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, blocked)

	// escrita direta no repositório (outra instância, sem aviso)
	_, err = repo.UpsertBlocked(ctx, []BlockedEntry{{Key: key, Active: true}})
	require.NoError(t, err)

	blocked, _, err = st.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.False(t, blocked, "served from cache within ttl")

	now = now.Add(5 * time.Second)
	blocked, _, err = st.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, blocked, "visible after ttl")
}

func TestStoreInvalidate(t *testing.T) {
	ctx := context.Background()
	st, repo, _ := newTestStore(time.Hour)
	key := numbers.Key{Category: numbers.TwoTop, Number: "99"}

	_, _, err := st.IsBlocked(ctx, key)
	require.NoError(t, err)
	_, err = repo.UpsertBlocked(ctx, []BlockedEntry{{Key: key, Active: true}})
	require.NoError(t, err)

	st.Invalidate()
	blocked, _, err := st.IsBlocked(ctx, key)
	require.NoError(t, err)
	assert.True(t, blocked)
}

func TestCacheDropsLoadStartedBeforeInvalidate(t *testing.T) {
	c := NewCache(time.Minute)
	_, gen, ok := c.Get()
	assert.False(t, ok)

	c.Invalidate()
	assert.False(t, c.Put(NewSnapshot(nil, nil, time.Now()), gen))

	_, gen, _ = c.Get()
	assert.True(t, c.Put(NewSnapshot(nil, nil, time.Now()), gen))
	_, _, ok = c.Get()
	assert.True(t, ok)
}

func TestOverview(t *testing.T) {
	ctx := context.Background()
	st, _, _ := newTestStore(time.Minute)
	require.NoError(t, st.SetDefaultQuota(ctx, numbers.Tote, dec(1000)))
	require.NoError(t, st.SetNumberQuota(ctx, numbers.Key{Category: numbers.TwoTop, Number: "07"}, dec(50)))
	_, err := st.AddBlockedNumbers(ctx, "44", "", "")
	require.NoError(t, err)

	ov, err := st.Overview(ctx)
	require.NoError(t, err)
	assert.True(t, dec(1000).Equal(ov.DefaultQuotas[numbers.Tote]))
	assert.True(t, dec(10000).Equal(ov.DefaultQuotas[numbers.TwoTop]))
	assert.True(t, dec(150).Equal(ov.PayoutRates[numbers.Tote]))
	require.Len(t, ov.NumberQuotas, 1)
	assert.Equal(t, "07", ov.NumberQuotas[0].Number)
	assert.Equal(t, 2, ov.BlockedCount)
}

func TestApplySeed(t *testing.T) {
	ctx := context.Background()
	st, _, _ := newTestStore(time.Minute)

	seed, err := ParseSeed([]byte(`
payout_rates:
  3_top: 850
default_quotas:
  tote: 2500
number_quotas:
  - category: 2_bottom
    number: "7"
    amount: 100
blocked:
  - input: "157"
    category: 3_top
    reason: seed
`))
	require.NoError(t, err)
	require.NoError(t, ApplySeed(ctx, st, seed))

	rate, err := st.BasePayoutRate(ctx, numbers.ThreeTop)
	require.NoError(t, err)
	assert.True(t, dec(850).Equal(rate))

	q, err := st.EffectiveQuota(ctx, numbers.Key{Category: numbers.TwoBottom, Number: "07"})
	require.NoError(t, err)
	assert.True(t, dec(100).Equal(q))

	entries, err := st.BlockedEntries(ctx, numbers.ThreeTop)
	require.NoError(t, err)
	assert.Len(t, entries, 6)
}
