package numbers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keysOf(exp []Expansion, c Category) []string {
	var out []string
	for _, e := range exp {
		if e.Key.Category == c {
			out = append(out, e.Key.Number)
		}
	}
	return out
}

func TestNormalize(t *testing.T) {
	t.Run("should pad two digit categories", func(t *testing.T) {
		k, err := Normalize("5", TwoTop)
		require.NoError(t, err)
		assert.Equal(t, Key{Category: TwoTop, Number: "05"}, k)

		k, err = Normalize(" 4-2 ", TwoBottom)
		require.NoError(t, err)
		assert.Equal(t, "42", k.Number)
	})

	t.Run("should keep three top literal", func(t *testing.T) {
		k, err := Normalize("921", ThreeTop)
		require.NoError(t, err)
		assert.Equal(t, "921", k.Number)

		k, err = Normalize("7", ThreeTop)
		require.NoError(t, err)
		assert.Equal(t, "007", k.Number)
	})

	t.Run("should sort tote digits", func(t *testing.T) {
		k, err := Normalize("921", Tote)
		require.NoError(t, err)
		assert.Equal(t, Key{Category: Tote, Number: "129"}, k)
	})

	t.Run("should pad short tote input to two digits", func(t *testing.T) {
		k, err := Normalize("7", Tote)
		require.NoError(t, err)
		assert.Equal(t, "07", k.Number)

		k, err = Normalize("31", Tote)
		require.NoError(t, err)
		assert.Equal(t, "31", k.Number)
	})

	t.Run("should reject empty and oversized input", func(t *testing.T) {
		_, err := Normalize("abc", TwoTop)
		assert.ErrorIs(t, err, ErrInvalidFormat)

		_, err = Normalize("", Tote)
		assert.ErrorIs(t, err, ErrInvalidFormat)

		_, err = Normalize("123", TwoTop)
		assert.ErrorIs(t, err, ErrInvalidFormat)

		_, err = Normalize("1234", ThreeTop)
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})

	t.Run("should reject unknown category", func(t *testing.T) {
		_, err := Normalize("12", Category("4_top"))
		assert.ErrorIs(t, err, ErrUnknownCategory)
	})
}

func TestNormalizeTotePermutationsCollapse(t *testing.T) {
	inputs := Permutations("157")
	require.Len(t, inputs, 6)

	tote := map[Key]struct{}{}
	three := map[Key]struct{}{}
	for _, in := range inputs {
		k, err := Normalize(in, Tote)
		require.NoError(t, err)
		tote[k] = struct{}{}

		k, err = Normalize(in, ThreeTop)
		require.NoError(t, err)
		three[k] = struct{}{}
	}
	assert.Len(t, tote, 1)
	assert.Len(t, three, 6)
}

func TestPermutationsForBlocking(t *testing.T) {
	t.Run("two distinct digits block both orders in both categories", func(t *testing.T) {
		exp, err := PermutationsForBlocking("13")
		require.NoError(t, err)
		assert.Len(t, exp, 4)
		assert.Equal(t, []string{"13", "31"}, keysOf(exp, TwoTop))
		assert.Equal(t, []string{"13", "31"}, keysOf(exp, TwoBottom))
		for _, e := range exp {
			assert.Equal(t, "13", e.Source)
		}
	})

	t.Run("repeated digits collapse", func(t *testing.T) {
		exp, err := PermutationsForBlocking("11")
		require.NoError(t, err)
		assert.Len(t, exp, 2)
		assert.Equal(t, []string{"11"}, keysOf(exp, TwoTop))
		assert.Equal(t, []string{"11"}, keysOf(exp, TwoBottom))
	})

	t.Run("three distinct digits", func(t *testing.T) {
		exp, err := PermutationsForBlocking("157")
		require.NoError(t, err)
		assert.Equal(t, []string{"157", "175", "517", "571", "715", "751"}, keysOf(exp, ThreeTop))
		assert.Equal(t, []string{"157"}, keysOf(exp, Tote))
	})

	t.Run("three digits with repetition", func(t *testing.T) {
		exp, err := PermutationsForBlocking("211")
		require.NoError(t, err)
		assert.Equal(t, []string{"112", "121", "211"}, keysOf(exp, ThreeTop))
		assert.Equal(t, []string{"112"}, keysOf(exp, Tote))
	})

	t.Run("is idempotent", func(t *testing.T) {
		a, err := PermutationsForBlocking("921")
		require.NoError(t, err)
		b, err := PermutationsForBlocking("921")
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("rejects other lengths", func(t *testing.T) {
		_, err := PermutationsForBlocking("1")
		assert.ErrorIs(t, err, ErrInvalidFormat)
		_, err = PermutationsForBlocking("1234")
		assert.ErrorIs(t, err, ErrInvalidFormat)
	})
}

func TestToteCoverage(t *testing.T) {
	assert.Equal(t, []string{"123", "132", "213", "231", "312", "321"}, ToteCoverage(Key{Category: Tote, Number: "123"}))
	assert.Equal(t, []string{"555"}, ToteCoverage(Key{Category: Tote, Number: "555"}))
	assert.Equal(t, []string{"42"}, ToteCoverage(Key{Category: TwoTop, Number: "42"}))
}

func TestSplitInputs(t *testing.T) {
	assert.Equal(t, []string{"12", "345", "67", "890"}, SplitInputs("12, 345;67\n 890 "))
	assert.Empty(t, SplitInputs(" ,; "))
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("3_top")
	require.NoError(t, err)
	assert.Equal(t, ThreeTop, c)
	assert.Equal(t, 3, c.Width())

	_, err = ParseCategory("lotto")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}
