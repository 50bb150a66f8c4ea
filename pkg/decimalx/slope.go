package decimalx

import (
	"github.com/shopspring/decimal"
)

// Slope 归一化后的线性回归斜率, 所有值相同时返回 0
func Slope(ds []decimal.Decimal) decimal.Decimal {
	if len(ds) < 2 {
		return decimal.Zero
	}

	// 归一化
	maxY, minY := ds[0], ds[0]
	for _, d := range ds {
		maxY = decimal.Max(maxY, d)
		minY = decimal.Min(minY, d)
	}
	diff := maxY.Sub(minY)
	if diff.IsZero() {
		return decimal.Zero
	}
	normalizedY := make([]decimal.Decimal, 0, len(ds))
	for _, d := range ds {
		normalizedY = append(normalizedY, d.Sub(minY).Div(diff))
	}

	slope, _ := LinearRegression(normalizedY)
	return slope
}

// LinearRegression 最小二乘拟合 y = intercept + slope*x, x 取 1..n
func LinearRegression(ds []decimal.Decimal) (slope, intercept decimal.Decimal) {
	if len(ds) == 0 {
		return decimal.Zero, decimal.Zero
	}
	if len(ds) == 1 {
		return decimal.Zero, ds[0]
	}

	sumX, sumY, sumXY, sumX2 := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for i, d := range ds {
		x := decimal.NewFromInt(int64(i + 1))
		sumX = sumX.Add(x)
		sumY = sumY.Add(d)
		sumXY = sumXY.Add(x.Mul(d))
		sumX2 = sumX2.Add(x.Mul(x))
	}

	n := decimal.NewFromInt(int64(len(ds)))
	denominator := n.Mul(sumX2).Sub(sumX.Mul(sumX))
	if denominator.IsZero() {
		return decimal.Zero, sumY.Div(n)
	}
	slope = n.Mul(sumXY).Sub(sumX.Mul(sumY)).Div(denominator)
	intercept = sumY.Sub(slope.Mul(sumX)).Div(n)
	return slope, intercept
}
