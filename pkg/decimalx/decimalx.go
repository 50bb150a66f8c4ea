package decimalx

import "github.com/shopspring/decimal"

func MustFromString(s string) decimal.Decimal {
	f, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return f
}

// FromPtr 将可选的浮点配置转为 decimal, nil 表示未设置
func FromPtr(f *float64) (decimal.Decimal, bool) {
	if f == nil {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(*f), true
}

func Sum(ds []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, d := range ds {
		sum = sum.Add(d)
	}
	return sum
}

// Mean 算术平均, 空切片返回 0
func Mean(ds []decimal.Decimal) decimal.Decimal {
	if len(ds) == 0 {
		return decimal.Zero
	}
	return Sum(ds).Div(decimal.NewFromInt(int64(len(ds))))
}
