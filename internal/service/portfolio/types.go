package portfolio

import (
	"context"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
)

// Account 资金与保证金查询, broker.Client 满足
type Account interface {
	Funds(ctx context.Context) (exchange.Funds, error)
	Margin(ctx context.Context, pair exchange.TradingPair, quantity decimal.Decimal) (decimal.Decimal, error)
}

type Sizer interface {
	// Size 计算开仓数量, limit 为同时持仓上限
	Size(ctx context.Context, cur config.Currency, limit int) (SizeResult, error)
}

type SizeResult struct {
	Quantity  decimal.Decimal
	Validated bool   // 是否可以开仓
	Reason    string // 不能开仓的原因
}
