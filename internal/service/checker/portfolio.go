package checker

import (
	"context"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/pkg/decimalx"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

type Aggregate func(results []decimal.Decimal) decimal.Decimal

var (
	// AggregateSum totalfixed 使用
	AggregateSum Aggregate = decimalx.Sum
	// AggregateMean totalrelative 使用
	AggregateMean Aggregate = decimalx.Mean
)

// PortfolioThreshold 组合盈亏聚合后越过上下限时全部平仓
type PortfolioThreshold struct {
	aggregate        Aggregate
	gain, loss       decimal.Decimal
	hasGain, hasLoss bool
}

var _ PortfolioChecker = (*PortfolioThreshold)(nil)

func NewPortfolioThreshold(aggregate Aggregate, gain, loss *float64) (*PortfolioThreshold, error) {
	p := &PortfolioThreshold{aggregate: aggregate}
	p.gain, p.hasGain = decimalx.FromPtr(gain)
	p.loss, p.hasLoss = decimalx.FromPtr(loss)
	if !p.hasGain && !p.hasLoss {
		return nil, ErrNoLimit
	}
	return p, nil
}

func (p *PortfolioThreshold) CheckAll(ctx context.Context, positions []exchange.Position) (Verdict, error) {
	if len(positions) == 0 {
		return Keep, nil
	}
	results := lo.Map(positions, func(pos exchange.Position, _ int) decimal.Decimal {
		return pos.Result
	})
	return limitVerdict(p.aggregate(results), p.gain, p.loss, p.hasGain, p.hasLoss, CloseAll), nil
}
