package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/lotto-limit-engine/internal/limit-service/numbers"
)

const batch = "20260116"

var (
	k921  = numbers.Key{Category: numbers.ThreeTop, Number: "921"}
	k13   = numbers.Key{Category: numbers.TwoTop, Number: "13"}
	tote1 = numbers.Key{Category: numbers.Tote, Number: "123"}
	half  = decimal.NewFromFloat(0.5)
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func usage(t *testing.T, l Ledger, k numbers.Key) decimal.Decimal {
	t.Helper()
	u, err := l.CurrentUsage(context.Background(), batch, k)
	require.NoError(t, err)
	return u
}

func TestMemoryLedgerIncrement(t *testing.T) {
	ctx := context.Background()

	t.Run("should start at zero", func(t *testing.T) {
		l := NewMemoryLedger()
		assert.True(t, usage(t, l, k921).IsZero())
	})

	t.Run("should create and accumulate rows", func(t *testing.T) {
		l := NewMemoryLedger()
		require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o1", UserID: "u1",
			Entries: []Entry{{Key: k921, Amount: d(100)}, {Key: k13, Amount: d(20), Factor: half}}}))
		require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o2", UserID: "u2",
			Entries: []Entry{{Key: k921, Amount: d(50)}}}))

		assert.True(t, d(150).Equal(usage(t, l, k921)))
		assert.True(t, d(20).Equal(usage(t, l, k13)))

		rows, err := l.Rows(ctx, batch)
		require.NoError(t, err)
		require.Len(t, rows, 2)
		assert.Equal(t, k13, rows[0].Key)
		assert.True(t, d(10).Equal(rows[0].WeightedFactorSum))
		assert.True(t, d(20).Equal(rows[0].ReducedAmount))

		r := rows[1]
		assert.Equal(t, k921, r.Key)
		assert.Equal(t, int64(2), r.StakeCount)
		assert.Equal(t, 2, r.UniqueUsers)
		assert.True(t, d(100).Equal(r.MaxUserAmount))
		assert.True(t, d(150).Equal(r.WeightedFactorSum))
		assert.True(t, decimal.NewFromInt(1).Equal(r.AvgFactor()))
	})

	t.Run("should merge entries of the same key", func(t *testing.T) {
		l := NewMemoryLedger()
		require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o1",
			Entries: []Entry{{Key: tote1, Amount: d(50)}, {Key: tote1, Amount: d(30)}}}))
		rows, err := l.Rows(ctx, batch)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, d(80).Equal(rows[0].TotalAmount))
		assert.Equal(t, int64(2), rows[0].StakeCount)
	})

	t.Run("should reject duplicate posting", func(t *testing.T) {
		l := NewMemoryLedger()
		p := Posting{BatchID: batch, Ref: "o1", Entries: []Entry{{Key: k921, Amount: d(10)}}}
		require.NoError(t, l.Increment(ctx, p))
		assert.ErrorIs(t, l.Increment(ctx, p), ErrDuplicatePosting)
		assert.True(t, d(10).Equal(usage(t, l, k921)))
	})

	t.Run("should reject invalid posting without side effects", func(t *testing.T) {
		l := NewMemoryLedger()
		err := l.Increment(ctx, Posting{BatchID: batch, Ref: "o1",
			Entries: []Entry{{Key: k921, Amount: d(10)}, {Key: k13, Amount: d(-1)}}})
		assert.ErrorIs(t, err, ErrInvalidPosting)
		assert.True(t, usage(t, l, k921).IsZero())

		assert.ErrorIs(t, l.Increment(ctx, Posting{Ref: "x", Entries: []Entry{{Key: k921, Amount: d(1)}}}), ErrInvalidPosting)
		assert.ErrorIs(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "x"}), ErrInvalidPosting)
		assert.ErrorIs(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "y",
			Entries: []Entry{{Key: k921, Amount: d(1), Factor: d(2)}}}), ErrInvalidPosting)
	})

	t.Run("batches are independent", func(t *testing.T) {
		l := NewMemoryLedger()
		require.NoError(t, l.Increment(ctx, Posting{BatchID: "20260101", Ref: "o1", Entries: []Entry{{Key: k921, Amount: d(10)}}}))
		assert.True(t, usage(t, l, k921).IsZero())
		rows, err := l.Rows(ctx, batch)
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestMemoryLedgerDecrement(t *testing.T) {
	ctx := context.Background()

	t.Run("increment then decrement restores usage and deletes row", func(t *testing.T) {
		l := NewMemoryLedger()
		require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "base", Entries: []Entry{{Key: k13, Amount: d(40)}}}))
		require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o1", UserID: "u1",
			Entries: []Entry{{Key: k921, Amount: d(100)}, {Key: k13, Amount: d(60)}}}))

		require.NoError(t, l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1"}))
		assert.True(t, usage(t, l, k921).IsZero())
		assert.True(t, d(40).Equal(usage(t, l, k13)))

		rows, err := l.Rows(ctx, batch)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, k13, rows[0].Key)
		assert.Equal(t, 0, rows[0].UniqueUsers)
	})

	t.Run("double reversal is rejected", func(t *testing.T) {
		l := NewMemoryLedger()
		require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o1", Entries: []Entry{{Key: k921, Amount: d(100)}}}))
		require.NoError(t, l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1"}))
		assert.ErrorIs(t, l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1"}), ErrAlreadyReversed)
		assert.True(t, usage(t, l, k921).IsZero())
	})

	t.Run("explicit items use the posted factor", func(t *testing.T) {
		l := NewMemoryLedger()
		require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o1", Entries: []Entry{{Key: k921, Amount: d(100), Factor: half}}}))
		require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o2", Entries: []Entry{{Key: k921, Amount: d(100)}}}))

		require.NoError(t, l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1", Entries: []Entry{{Key: k921, Amount: d(100)}}}))
		rows, err := l.Rows(ctx, batch)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, d(100).Equal(rows[0].WeightedFactorSum))
		assert.True(t, rows[0].ReducedAmount.IsZero())
		assert.Equal(t, int64(1), rows[0].StakeCount)
	})

	t.Run("reversal above posted amount is a consistency violation", func(t *testing.T) {
		l := NewMemoryLedger()
		require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o1",
			Entries: []Entry{{Key: k921, Amount: d(100)}, {Key: k13, Amount: d(10)}}}))

		err := l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1",
			Entries: []Entry{{Key: k921, Amount: d(50)}, {Key: k13, Amount: d(11)}}})
		assert.ErrorIs(t, err, ErrConsistencyViolation)
		assert.True(t, d(100).Equal(usage(t, l, k921)), "nothing applied")

		err = l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1", Entries: []Entry{{Key: tote1, Amount: d(1)}}})
		assert.ErrorIs(t, err, ErrConsistencyViolation)

		require.NoError(t, l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1"}), "posting still reversible")
	})

	t.Run("unknown posting is a consistency violation", func(t *testing.T) {
		l := NewMemoryLedger()
		assert.ErrorIs(t, l.Decrement(ctx, Posting{BatchID: batch, Ref: "nope"}), ErrConsistencyViolation)
	})
}

func TestMemoryLedgerConcurrentIncrements(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	const n = 200
	amount := d(7)

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- l.Increment(ctx, Posting{BatchID: batch, Ref: fmt.Sprintf("o%d", i), UserID: fmt.Sprintf("u%d", i%5),
				Entries: []Entry{{Key: k921, Amount: amount}, {Key: numbers.Key{Category: numbers.TwoTop, Number: fmt.Sprintf("%02d", i%10)}, Amount: amount}}})
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.True(t, amount.Mul(d(n)).Equal(usage(t, l, k921)))

	rows, err := l.Rows(ctx, batch)
	require.NoError(t, err)
	total := decimal.Zero
	for _, r := range rows {
		if r.Key.Category == numbers.TwoTop {
			total = total.Add(r.TotalAmount)
		}
	}
	assert.True(t, amount.Mul(d(n)).Equal(total))
}

func TestMemoryLedgerConcurrentReversal(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o1", Entries: []Entry{{Key: k921, Amount: d(100)}}}))
	require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o2", Entries: []Entry{{Key: k921, Amount: d(100)}}}))

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1"}); err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
	assert.True(t, d(100).Equal(usage(t, l, k921)))
}

func TestContributions(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o1", UserID: "alice", Entries: []Entry{{Key: k921, Amount: d(30)}}}))
	require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o2", UserID: "bob", Entries: []Entry{{Key: k921, Amount: d(70)}}}))
	require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o3", UserID: "alice", Entries: []Entry{{Key: k921, Amount: d(10)}}}))

	cs, err := l.Contributions(ctx, batch, k921)
	require.NoError(t, err)
	require.Len(t, cs, 2)
	assert.Equal(t, "bob", cs[0].UserID)
	assert.Equal(t, "alice", cs[1].UserID)
	assert.True(t, d(40).Equal(cs[1].Amount))
}

func TestPlanReversal(t *testing.T) {
	recorded := postedFrom([]Entry{
		{Key: k921, Amount: d(100), Factor: half, StakeCount: 3},
		{Key: k13, Amount: d(20), Factor: decimal.NewFromInt(1), StakeCount: 1},
	})

	plan, err := planReversal(recorded, nil)
	require.NoError(t, err)
	require.Len(t, plan, 2)
	assert.Equal(t, k13, plan[0].Key)

	plan, err = planReversal(recorded, []Entry{{Key: k921, Amount: d(40)}})
	require.NoError(t, err)
	require.Len(t, plan, 1)
	assert.True(t, half.Equal(plan[0].Factor))
	assert.Equal(t, int64(1), plan[0].StakeCount)

	plan, err = planReversal(recorded, []Entry{{Key: k921, Amount: d(100)}})
	require.NoError(t, err)
	assert.Equal(t, int64(3), plan[0].StakeCount)

	t.Run("should plan only what is still open", func(t *testing.T) {
		rec := postedFrom([]Entry{
			{Key: k921, Amount: d(100), Factor: half, StakeCount: 3},
			{Key: k13, Amount: d(20), Factor: decimal.NewFromInt(1), StakeCount: 1},
		})
		assert.False(t, markReversed(rec, []Entry{{Key: k921, Amount: d(40), StakeCount: 1}}))

		plan, err := planReversal(rec, nil)
		require.NoError(t, err)
		require.Len(t, plan, 2)
		assert.True(t, d(60).Equal(plan[1].Amount))
		assert.Equal(t, int64(2), plan[1].StakeCount)

		_, err = planReversal(rec, []Entry{{Key: k921, Amount: d(61)}})
		assert.ErrorIs(t, err, ErrConsistencyViolation)

		assert.True(t, markReversed(rec, plan))
		_, err = planReversal(rec, nil)
		assert.ErrorIs(t, err, ErrAlreadyReversed)
		_, err = planReversal(rec, []Entry{{Key: k13, Amount: d(1)}})
		assert.ErrorIs(t, err, ErrAlreadyReversed)
	})
}

func TestMemoryLedgerPartialReversal(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger()
	k34 := numbers.Key{Category: numbers.TwoTop, Number: "34"}

	require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o1", UserID: "u1",
		Entries: []Entry{{Key: k13, Amount: d(50)}, {Key: k34, Amount: d(70)}}}))

	require.NoError(t, l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1", Entries: []Entry{{Key: k13, Amount: d(50)}}}))
	assert.True(t, usage(t, l, k13).IsZero())
	assert.True(t, d(70).Equal(usage(t, l, k34)))

	t.Run("should reject reversing the same item again", func(t *testing.T) {
		err := l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1", Entries: []Entry{{Key: k13, Amount: d(50)}}})
		assert.ErrorIs(t, err, ErrAlreadyReversed)
	})

	t.Run("should reverse the remaining item", func(t *testing.T) {
		require.NoError(t, l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1", Entries: []Entry{{Key: k34, Amount: d(30)}}}))
		assert.True(t, d(40).Equal(usage(t, l, k34)))

		require.NoError(t, l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1"}))
		assert.True(t, usage(t, l, k34).IsZero())
		assert.ErrorIs(t, l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1"}), ErrAlreadyReversed)
	})
}

func TestMemoryLedgerDecide(t *testing.T) {
	ctx := context.Background()
	quota := d(2000)
	one := decimal.NewFromInt(1)

	t.Run("should decide factors against usage under the lock", func(t *testing.T) {
		l := NewMemoryLedger()
		const n = 100

		var wg sync.WaitGroup
		var mu sync.Mutex
		normal := 0
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				var f decimal.Decimal
				err := l.Increment(ctx, Posting{BatchID: batch, Ref: fmt.Sprintf("o%d", i),
					Entries: []Entry{{Key: k921, Amount: d(100)}},
					Decide: func(_ numbers.Key, u decimal.Decimal) decimal.Decimal {
						f = one
						if u.Add(d(100)).GreaterThan(quota) {
							f = half
						}
						return f
					}})
				assert.NoError(t, err)
				if f.Equal(one) {
					mu.Lock()
					normal++
					mu.Unlock()
				}
			}(i)
		}
		wg.Wait()

		assert.Equal(t, 20, normal)
		rows, err := l.Rows(ctx, batch)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, d(10000).Equal(rows[0].TotalAmount))
		// 20 x 100 a 1.0 + 80 x 100 a 0.5
		assert.True(t, d(6000).Equal(rows[0].WeightedFactorSum))
		assert.True(t, d(8000).Equal(rows[0].ReducedAmount))
	})

	t.Run("should reverse with the decided factor", func(t *testing.T) {
		l := NewMemoryLedger()
		require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o1", Entries: []Entry{{Key: k921, Amount: d(100)}},
			Decide: func(numbers.Key, decimal.Decimal) decimal.Decimal { return half }}))
		require.NoError(t, l.Increment(ctx, Posting{BatchID: batch, Ref: "o2", Entries: []Entry{{Key: k921, Amount: d(100)}}}))

		require.NoError(t, l.Decrement(ctx, Posting{BatchID: batch, Ref: "o1"}))
		rows, err := l.Rows(ctx, batch)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.True(t, d(100).Equal(rows[0].WeightedFactorSum))
		assert.True(t, rows[0].ReducedAmount.IsZero())
	})

	t.Run("should reject out of range factor and leave nothing behind", func(t *testing.T) {
		l := NewMemoryLedger()
		p := Posting{BatchID: batch, Ref: "o1", Entries: []Entry{{Key: k921, Amount: d(100)}, {Key: k13, Amount: d(10)}},
			Decide: func(k numbers.Key, _ decimal.Decimal) decimal.Decimal {
				if k == k921 {
					return d(2)
				}
				return one
			}}
		assert.ErrorIs(t, l.Increment(ctx, p), ErrInvalidPosting)
		assert.True(t, usage(t, l, k13).IsZero())

		p.Decide = nil
		require.NoError(t, l.Increment(ctx, p), "ref is free again")
	})
}
