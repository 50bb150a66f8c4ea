package predict

import (
	"context"
	"fmt"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/pkg/decimalx"
	"github.com/shopspring/decimal"
)

// MeanReversion 线性回归截距加 multiplier 倍 ATR 作为回归带
// 收盘价在带上方做空, 否则做多, 偏离越大分数越高
type MeanReversion struct {
	source     KlineSource
	multiplier decimal.Decimal
	// period 至少需要的K线数量
	period int
}

var (
	_ Predictor    = (*MeanReversion)(nil)
	_ BandProvider = (*MeanReversion)(nil)
)

func NewMeanReversion(source KlineSource, multiplier float64, period int) *MeanReversion {
	if period < 2 {
		period = 2
	}
	return &MeanReversion{
		source:     source,
		multiplier: decimal.NewFromFloat(multiplier),
		period:     period,
	}
}

func (m *MeanReversion) Band(klines []exchange.Kline) (decimal.Decimal, error) {
	if len(klines) < 2 {
		return decimal.Zero, fmt.Errorf("band needs 2 klines, got %d: %w", len(klines), ErrNotEnoughKlines)
	}
	highs, lows, closes := exchange.HighLowClose(klines)
	_, intercept := decimalx.LinearRegression(closes)
	atr := decimalx.AverageTrueRange(highs, lows, closes)
	return intercept.Add(m.multiplier.Mul(atr)), nil
}

func (m *MeanReversion) Predict(ctx context.Context, pair exchange.TradingPair, count int, interval exchange.Interval) (Signal, error) {
	klines, err := fetch(ctx, m.source, pair, count, interval)
	if err != nil {
		return Signal{}, err
	}
	if len(klines) < m.period {
		return Discard(fmt.Sprintf("insufficient klines: %d < %d", len(klines), m.period)), nil
	}
	band, err := m.Band(klines)
	if err != nil {
		return Signal{}, err
	}
	closePrice := klines[len(klines)-1].Close
	if closePrice.IsZero() {
		return Discard("zero close price"), nil
	}

	score := closePrice.Sub(band).Abs().Div(closePrice).InexactFloat64()
	perc := closePrice.Div(band).Sub(decimal.NewFromInt(1)).Mul(decimal.NewFromInt(100))
	if closePrice.GreaterThan(band) {
		return Signal{
			Action: ActionSell,
			Score:  score,
			Reason: fmt.Sprintf("above band %s by %s%%", band.StringFixed(4), perc.StringFixed(2)),
		}, nil
	}
	return Signal{
		Action: ActionBuy,
		Score:  score,
		Reason: fmt.Sprintf("below band %s by %s%%", band.StringFixed(4), perc.StringFixed(2)),
	}, nil
}
