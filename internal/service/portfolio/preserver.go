package portfolio

import (
	"context"
	"fmt"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
)

// Preserver 资金保护: 限制保证金占用比例, 过滤高风险品种
type Preserver struct {
	account       Account
	fundsRisk     decimal.Decimal
	allowHighRisk bool
}

func NewPreserver(account Account, cfg config.PreserverConfig) *Preserver {
	return &Preserver{
		account:       account,
		fundsRisk:     decimal.NewFromFloat(cfg.FundsRisk),
		allowHighRisk: cfg.AllowHighRisk,
	}
}

// Allowed 高风险品种只有在配置允许时才交易
func (p *Preserver) Allowed(cur config.Currency) bool {
	return !cur.HighRisk() || p.allowHighRisk
}

// FreeMargin 还能使用的保证金 = funds_risk * 总资金 - 已用, 不小于 0
func (p *Preserver) FreeMargin(ctx context.Context) (decimal.Decimal, error) {
	funds, err := p.account.Funds(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("get funds: %w", err)
	}
	free := p.fundsRisk.Mul(funds.Total).Sub(funds.Used())
	return decimal.Max(free, decimal.Zero), nil
}

// CheckMargin 开仓所需保证金是否在可用范围内
func (p *Preserver) CheckMargin(ctx context.Context, pair exchange.TradingPair, quantity decimal.Decimal) (bool, error) {
	free, err := p.FreeMargin(ctx)
	if err != nil {
		return false, err
	}
	toUse, err := p.account.Margin(ctx, pair, quantity)
	if err != nil {
		return false, fmt.Errorf("get margin %s: %w", pair, err)
	}
	return toUse.LessThanOrEqual(free), nil
}
