package predict

import (
	"context"
	"errors"
	"fmt"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
)

var ErrNotEnoughKlines = errors.New("not enough klines")

type Action string

const (
	ActionBuy     Action = "buy"
	ActionSell    Action = "sell"
	ActionDiscard Action = "discard"
)

func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionBuy, ActionSell, ActionDiscard:
		return a, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Side 转为下单方向, Discard 返回 false
func (a Action) Side() (exchange.Side, bool) {
	switch a {
	case ActionBuy:
		return exchange.Buy, true
	case ActionSell:
		return exchange.Sell, true
	}
	return "", false
}

// Signal 一次预测的结果, Score 越大越优先
type Signal struct {
	Action Action
	Score  float64
	Reason string
}

func Discard(reason string) Signal {
	return Signal{Action: ActionDiscard, Reason: reason}
}

type Predictor interface {
	Predict(ctx context.Context, pair exchange.TradingPair, count int, interval exchange.Interval) (Signal, error)
}

type PredictorFunc func(ctx context.Context, pair exchange.TradingPair, count int, interval exchange.Interval) (Signal, error)

func (f PredictorFunc) Predict(ctx context.Context, pair exchange.TradingPair, count int, interval exchange.Interval) (Signal, error) {
	return f(ctx, pair, count, interval)
}

// BandProvider 均值回归带, 供 reversion 检查器复用
type BandProvider interface {
	Band(klines []exchange.Kline) (decimal.Decimal, error)
}

// KlineSource broker.Client 满足该接口
type KlineSource interface {
	Klines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error)
}

func fetch(ctx context.Context, source KlineSource, pair exchange.TradingPair, count int, interval exchange.Interval) ([]exchange.Kline, error) {
	klines, err := source.Klines(ctx, exchange.GetKlinesReq{
		TradingPair: pair,
		Interval:    interval,
		Limit:       count,
	})
	if err != nil {
		return nil, fmt.Errorf("get klines %s %s: %w", pair, interval, err)
	}
	return klines, nil
}
