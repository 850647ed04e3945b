package price

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		input  string
		want   int
		wantOK bool
	}{
		{"plain", "6500 kr", 6500, true},
		{"space thousands", "1 500 kr", 1500, true},
		{"nbsp thousands", "1\u00a0800 kr", 1800, true},
		{"narrow nbsp", "12\u202f000 kr", 12000, true},
		{"dot thousands", "12.500 kr", 12500, true},
		{"comma millions", "1,250,000 kr", 1250000, true},
		{"decimal not grouped", "99,50 kr", 99, true},
		{"leading text", "Pris: 450 kr", 450, true},
		{"first token wins", "2 st för 300 kr", 2, true},
		{"no digits", "Bortskänkes", 0, false},
		{"empty", "", 0, false},
		{"four digit group is separate", "1 2345", 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := Parse(tt.input)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParse_OverflowSaturates(t *testing.T) {
	t.Parallel()

	n, ok := Parse("99999999999999999999 kr")
	assert.True(t, ok)
	assert.Equal(t, math.MaxInt, n)

	budget := 1500
	assert.False(t, WithinBudget("99999999999999999999 kr", &budget, IncludeUnknown))
}

func TestWithinBudget(t *testing.T) {
	t.Parallel()

	budget := 1500

	assert.False(t, WithinBudget("1 800 kr", &budget, IncludeUnknown))
	assert.True(t, WithinBudget("1 500 kr", &budget, IncludeUnknown))
	assert.True(t, WithinBudget("900 kr", &budget, IncludeUnknown))
	assert.True(t, WithinBudget("999 999 kr", nil, ExcludeUnknown))

	assert.True(t, WithinBudget("Bud", &budget, IncludeUnknown))
	assert.False(t, WithinBudget("Bud", &budget, ExcludeUnknown))
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	p, err := ParsePolicy("")
	require.NoError(t, err)
	assert.Equal(t, IncludeUnknown, p)

	p, err = ParsePolicy(" Exclude ")
	require.NoError(t, err)
	assert.Equal(t, ExcludeUnknown, p)

	_, err = ParsePolicy("maybe")
	assert.Error(t, err)
}
