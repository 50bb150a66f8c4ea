package portfolio

import (
	"context"
	"fmt"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/shopspring/decimal"
)

var (
	_ Sizer = FixedSizer{}
	_ Sizer = (*MarginSizer)(nil)
)

// FixedSizer 使用品种配置的固定数量
type FixedSizer struct{}

func (FixedSizer) Size(ctx context.Context, cur config.Currency, limit int) (SizeResult, error) {
	qty := decimal.NewFromFloat(cur.Quantity)
	if !qty.IsPositive() {
		return SizeResult{Reason: fmt.Sprintf("%s has no fixed quantity", cur.Symbol)}, nil
	}
	return SizeResult{Quantity: qty, Validated: true}, nil
}

// MarginSizer 可用保证金平均分给每个并发仓位
// 数量 = 可用保证金 / 并发上限 / 单位保证金, 向下取整到品种配置数量的整数倍
type MarginSizer struct {
	preserver *Preserver
	account   Account
}

func NewMarginSizer(preserver *Preserver, account Account) *MarginSizer {
	return &MarginSizer{preserver: preserver, account: account}
}

func (s *MarginSizer) Size(ctx context.Context, cur config.Currency, limit int) (SizeResult, error) {
	if limit <= 0 {
		return SizeResult{}, fmt.Errorf("invalid concurrent limit %d", limit)
	}
	step := decimal.NewFromFloat(cur.Quantity)
	if !step.IsPositive() {
		step = decimal.NewFromInt(1)
	}

	usable, err := s.preserver.FreeMargin(ctx)
	if err != nil {
		return SizeResult{}, err
	}
	margin, err := s.account.Margin(ctx, cur.Pair, step)
	if err != nil {
		return SizeResult{}, fmt.Errorf("get margin %s: %w", cur.Pair, err)
	}
	if !margin.IsPositive() {
		return SizeResult{Reason: fmt.Sprintf("%s margin per unit is %s", cur.Pair, margin)}, nil
	}
	marginPerUnit := margin.Div(step)

	units := usable.Div(decimal.NewFromInt(int64(limit))).Div(marginPerUnit)
	qty := units.Div(step).Floor().Mul(step)
	if !qty.IsPositive() {
		return SizeResult{Reason: fmt.Sprintf("usable margin %s too low for %s", usable.StringFixed(2), cur.Pair)}, nil
	}
	return SizeResult{Quantity: qty, Validated: true}, nil
}

// NewSizer 按配置选择计算方式
func NewSizer(policy string, preserver *Preserver, account Account) (Sizer, error) {
	switch policy {
	case config.SizingFixed:
		return FixedSizer{}, nil
	case config.SizingMargin:
		return NewMarginSizer(preserver, account), nil
	}
	return nil, fmt.Errorf("unknown sizing policy %q", policy)
}
