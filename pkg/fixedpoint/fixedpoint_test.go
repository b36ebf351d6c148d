package fixedpoint

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("comma_and_dot_separators_agree", func(t *testing.T) {
		dot, err := Parse("10.5", 9)
		require.NoError(t, err)
		comma, err := Parse("10,5", 9)
		require.NoError(t, err)
		assert.Equal(t, 0, dot.Cmp(comma))
		assert.Equal(t, "10500000000", dot.String())
	})

	t.Run("missing_integer_part", func(t *testing.T) {
		v, err := Parse(".25", 9)
		require.NoError(t, err)
		assert.Equal(t, "250000000", v.String())
	})

	t.Run("truncates_excess_fraction", func(t *testing.T) {
		v, err := Parse("1.123456789999", 9)
		require.NoError(t, err)
		assert.Equal(t, "1123456789", v.String())
	})

	t.Run("exceeds_64_bits", func(t *testing.T) {
		v, err := Parse("92233720368547758079", 9)
		require.NoError(t, err)
		assert.Equal(t, "92233720368547758079000000000", v.String())
	})

	t.Run("invalid_input", func(t *testing.T) {
		for _, in := range []string{"", "abc", "1.2.3", "1a.5", "--1", "-", ".", "1.-5"} {
			_, err := Parse(in, 9)
			assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", in)
		}
	})

	t.Run("negative_keeps_sign_below_one", func(t *testing.T) {
		// "-0" parses to an unsigned zero, so the sign must survive the
		// integer part going through big.Int.
		v, err := Parse("-0.5", 9)
		require.NoError(t, err)
		assert.Equal(t, "-500000000", v.String())

		v, err = Parse("-1.5", 9)
		require.NoError(t, err)
		assert.Equal(t, "-1500000000", v.String())
	})
}

func TestParseUint64(t *testing.T) {
	v, err := ParseUint64("1.5", 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_500_000_000), v)

	_, err = ParseUint64("99999999999999999999", 9)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	for _, in := range []string{"-0.5", "-1"} {
		_, err = ParseUint64(in, 9)
		assert.ErrorIs(t, err, ErrInvalidAmount, "input %q", in)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "1.500000000", FormatUint64(1_500_000_000, 9))
	assert.Equal(t, "0.000000001", FormatUint64(1, 9))
	assert.Equal(t, "0.000000000", FormatUint64(0, 9))
	assert.Equal(t, "12", Format(big.NewInt(12), 0))
}

func TestRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 999_999_999, 1_000_000_000, 1_500_000_000, 18_446_744_073_709_551_615}
	for _, d := range []int{0, 1, 6, 9} {
		for _, x := range cases {
			in := new(big.Int).SetUint64(x)
			out, err := Parse(Format(in, d), d)
			require.NoError(t, err)
			assert.Equal(t, 0, in.Cmp(out), "x=%d decimals=%d", x, d)
		}
	}
}
