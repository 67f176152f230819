package token

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1", "1000000000000000000"},
		{"0.1", "100000000000000000"},
		{"1.1", "1100000000000000000"},
		{"0", "0"},
		{"0.000000000000000001", "1"},
	}
	for _, tt := range tests {
		got, err := ParseUnits(tt.in, 18)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.Dec(), tt.in)
	}
}

func TestParseUnitsRejects(t *testing.T) {
	for _, in := range []string{"-1", "abc", "0.0000000000000000001", ""} {
		_, err := ParseUnits(in, 18)
		assert.ErrorIs(t, err, ErrInvalidAmount, in)
	}
}

func TestFormatUnits(t *testing.T) {
	x, _ := uint256.FromDecimal("1100000000000000000")
	assert.Equal(t, "1.1", FormatUnits(x, 18))
	assert.Equal(t, "0", FormatUnits(new(uint256.Int), 18))
}

func TestUnitsOverflow(t *testing.T) {
	_, err := Units(^uint64(0), 77)
	require.ErrorIs(t, err, ErrOverflow)
}
