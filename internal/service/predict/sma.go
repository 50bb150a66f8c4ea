package predict

import (
	"context"
	"fmt"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
)

// SMACross 双均线交叉: 短期均线上穿长期均线做多, 下穿做空, 无交叉放弃
type SMACross struct {
	source KlineSource
	short  int
	long   int
}

var _ Predictor = (*SMACross)(nil)

func NewSMACross(source KlineSource, short, long int) (*SMACross, error) {
	if short <= 0 || long <= short {
		return nil, fmt.Errorf("invalid sma periods short=%d long=%d", short, long)
	}
	return &SMACross{source: source, short: short, long: long}, nil
}

func (s *SMACross) Predict(ctx context.Context, pair exchange.TradingPair, count int, interval exchange.Interval) (Signal, error) {
	// 需要多一根判断交叉
	count = max(count, s.long+1)
	klines, err := fetch(ctx, s.source, pair, count, interval)
	if err != nil {
		return Signal{}, err
	}
	if len(klines) < s.long+1 {
		return Discard("insufficient data for calculation"), nil
	}

	last := len(klines) - 1
	shortMA := smaAt(klines, s.short, last)
	longMA := smaAt(klines, s.long, last)
	prevShortMA := smaAt(klines, s.short, last-1)
	prevLongMA := smaAt(klines, s.long, last-1)

	var score float64
	if !longMA.IsZero() {
		score = shortMA.Sub(longMA).Abs().Div(longMA).InexactFloat64()
	}

	switch {
	case prevShortMA.LessThanOrEqual(prevLongMA) && shortMA.GreaterThan(longMA):
		// 金叉
		return Signal{
			Action: ActionBuy,
			Score:  score,
			Reason: fmt.Sprintf("golden cross: short MA(%.4f) crosses above long MA(%.4f)",
				shortMA.InexactFloat64(), longMA.InexactFloat64()),
		}, nil
	case prevShortMA.GreaterThanOrEqual(prevLongMA) && shortMA.LessThan(longMA):
		// 死叉
		return Signal{
			Action: ActionSell,
			Score:  score,
			Reason: fmt.Sprintf("death cross: short MA(%.4f) crosses below long MA(%.4f)",
				shortMA.InexactFloat64(), longMA.InexactFloat64()),
		}, nil
	}
	return Discard(fmt.Sprintf("no cross: short MA(%.4f), long MA(%.4f)",
		shortMA.InexactFloat64(), longMA.InexactFloat64())), nil
}

// smaAt 以 index 结尾的 period 根K线收盘均价
func smaAt(klines []exchange.Kline, period, index int) decimal.Decimal {
	if index < period-1 || index >= len(klines) {
		return decimal.Zero
	}
	sum := decimal.Zero
	for i := index - period + 1; i <= index; i++ {
		sum = sum.Add(klines[i].Close)
	}
	return sum.Div(decimal.NewFromInt(int64(period)))
}
