package checker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/internal/service/predict"
	"github.com/KNICEX/trading-automaton/pkg/decimalx"
	"github.com/shopspring/decimal"
)

// RangeThreshold 以 ATR 为尺度的止盈止损
// 顺势移动达到 gain 倍 ATR 或逆势移动达到 loss 倍 ATR 时平仓
type RangeThreshold struct {
	klines    predict.KlineSource
	count     int
	timeframe exchange.Interval

	gain, loss       decimal.Decimal
	hasGain, hasLoss bool
}

var _ PositionChecker = (*RangeThreshold)(nil)

func NewRangeThreshold(klines predict.KlineSource, count int, timeframe exchange.Interval, gain, loss *float64) (*RangeThreshold, error) {
	r := &RangeThreshold{klines: klines, count: count, timeframe: timeframe}
	r.gain, r.hasGain = decimalx.FromPtr(gain)
	r.loss, r.hasLoss = decimalx.FromPtr(loss)
	if !r.hasGain && !r.hasLoss {
		return nil, ErrNoLimit
	}
	return r, nil
}

func (r *RangeThreshold) Check(ctx context.Context, pos exchange.Position) (Verdict, error) {
	klines, err := r.klines.Klines(ctx, exchange.GetKlinesReq{
		TradingPair: pos.TradingPair,
		Interval:    r.timeframe,
		Limit:       r.count,
	})
	if err != nil {
		return "", fmt.Errorf("relative %s: %w", pos.Id, err)
	}
	atr := decimalx.AverageTrueRange(exchange.HighLowClose(klines))
	if !atr.IsPositive() {
		return Keep, nil
	}

	move := pos.CurrentPrice.Sub(pos.OpenPrice).Mul(pos.Side.Sign())
	if r.hasGain && move.GreaterThanOrEqual(r.gain.Mul(atr)) {
		slog.Debug("favourable range crossed", "position", pos.Id, "move", move, "atr", atr)
		return Close, nil
	}
	if r.hasLoss && move.Neg().GreaterThanOrEqual(r.loss.Mul(atr)) {
		slog.Debug("adverse range crossed", "position", pos.Id, "move", move, "atr", atr)
		return Close, nil
	}
	return Keep, nil
}

// MeanReversionBand 价格越过回归带后平仓, 多单向上越过, 空单向下越过
type MeanReversionBand struct {
	klines    predict.KlineSource
	band      predict.BandProvider
	count     int
	timeframe exchange.Interval
}

var _ PositionChecker = (*MeanReversionBand)(nil)

func NewMeanReversionBand(klines predict.KlineSource, band predict.BandProvider, count int, timeframe exchange.Interval) *MeanReversionBand {
	return &MeanReversionBand{klines: klines, band: band, count: count, timeframe: timeframe}
}

// ReversionCount 检查器周期换算后的K线数量, 覆盖自动交易的同一段时间
func ReversionCount(automatonTimeframe, checkerTimeframe exchange.Interval, automatonCount int) int {
	a, c := automatonTimeframe.Duration(), checkerTimeframe.Duration()
	// 检查器周期更粗时沿用自动交易的数量
	if a <= 0 || c <= 0 || a < c {
		return automatonCount
	}
	return int(a/c) * automatonCount
}

func (m *MeanReversionBand) Check(ctx context.Context, pos exchange.Position) (Verdict, error) {
	klines, err := m.klines.Klines(ctx, exchange.GetKlinesReq{
		TradingPair: pos.TradingPair,
		Interval:    m.timeframe,
		Limit:       m.count,
	})
	if err != nil {
		return "", fmt.Errorf("reversion %s: %w", pos.Id, err)
	}
	band, err := m.band.Band(klines)
	if err != nil {
		return "", fmt.Errorf("reversion %s: %w", pos.Id, err)
	}
	switch pos.Side {
	case exchange.Buy:
		if pos.CurrentPrice.GreaterThanOrEqual(band) {
			slog.Debug("overtaken band", "position", pos.Id, "band", band)
			return Close, nil
		}
	case exchange.Sell:
		if pos.CurrentPrice.LessThanOrEqual(band) {
			slog.Debug("overtaken band", "position", pos.Id, "band", band)
			return Close, nil
		}
	}
	return Keep, nil
}

// FixedThreshold 按持仓盈亏绝对值平仓
type FixedThreshold struct {
	gain, loss       decimal.Decimal
	hasGain, hasLoss bool
}

var _ PositionChecker = (*FixedThreshold)(nil)

func NewFixedThreshold(gain, loss *float64) (*FixedThreshold, error) {
	f := &FixedThreshold{}
	f.gain, f.hasGain = decimalx.FromPtr(gain)
	f.loss, f.hasLoss = decimalx.FromPtr(loss)
	if !f.hasGain && !f.hasLoss {
		return nil, ErrNoLimit
	}
	return f, nil
}

func (f *FixedThreshold) Check(ctx context.Context, pos exchange.Position) (Verdict, error) {
	return limitVerdict(pos.Result, f.gain, f.loss, f.hasGain, f.hasLoss, Close), nil
}

func limitVerdict(v, gain, loss decimal.Decimal, hasGain, hasLoss bool, hit Verdict) Verdict {
	if hasGain && v.GreaterThanOrEqual(gain) {
		return hit
	}
	if hasLoss && v.LessThanOrEqual(loss.Neg()) {
		return hit
	}
	return Keep
}
