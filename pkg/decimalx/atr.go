package decimalx

import "github.com/shopspring/decimal"

// AverageTrueRange 平均真实波幅
// true range = max(high-low, |high-prevClose|, |low-prevClose|), 第一根只取 high-low
func AverageTrueRange(highs, lows, closes []decimal.Decimal) decimal.Decimal {
	n := len(highs)
	if n == 0 || len(lows) != n || len(closes) != n {
		return decimal.Zero
	}
	ranges := make([]decimal.Decimal, 0, n)
	for i := 0; i < n; i++ {
		tr := highs[i].Sub(lows[i])
		if i > 0 {
			prevClose := closes[i-1]
			tr = decimal.Max(tr, highs[i].Sub(prevClose).Abs(), lows[i].Sub(prevClose).Abs())
		}
		ranges = append(ranges, tr)
	}
	return Mean(ranges)
}
