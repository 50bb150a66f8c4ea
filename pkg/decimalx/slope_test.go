package decimalx

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func ints(vs ...int64) []decimal.Decimal {
	res := make([]decimal.Decimal, 0, len(vs))
	for _, v := range vs {
		res = append(res, decimal.NewFromInt(v))
	}
	return res
}

func TestSlope(t *testing.T) {
	testCases := []struct {
		name string
		ds   []decimal.Decimal
		want string
	}{
		{
			name: "rising",
			ds:   ints(1, 2, 3, 4),
			// 归一化后 0, 1/3, 2/3, 1
			want: "0.3333",
		},
		{
			name: "big num",
			ds:   ints(100, 200, 300),
			want: "0.5",
		},
		{
			name: "flat",
			ds:   ints(5, 5, 5),
			want: "0",
		},
		{
			name: "single",
			ds:   ints(5),
			want: "0",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			slope := Slope(tc.ds)
			assert.Equal(t, tc.want, slope.Round(4).String())
		})
	}
}

func TestLinearRegression(t *testing.T) {
	// y = 1 + 2x
	slope, intercept := LinearRegression(ints(3, 5, 7, 9))
	assert.Equal(t, "2", slope.Round(8).String())
	assert.Equal(t, "1", intercept.Round(8).String())

	slope, intercept = LinearRegression(ints(4))
	assert.True(t, slope.IsZero())
	assert.Equal(t, "4", intercept.String())
}

func TestAverageTrueRange(t *testing.T) {
	highs := ints(12, 13, 15)
	lows := ints(10, 11, 12)
	closes := ints(11, 12, 14)
	// tr: 2, max(2, 2, 0)=2, max(3, 3, 0)=3
	atr := AverageTrueRange(highs, lows, closes)
	assert.Equal(t, "2.3333", atr.Round(4).String())

	assert.True(t, AverageTrueRange(nil, nil, nil).IsZero())
	assert.True(t, AverageTrueRange(ints(1), ints(1, 2), ints(1)).IsZero())
}

func TestMean(t *testing.T) {
	assert.Equal(t, "2", Mean(ints(1, 2, 3)).String())
	assert.True(t, Mean(nil).IsZero())
}
