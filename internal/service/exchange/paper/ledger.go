package paper

import (
	"sort"
	"sync"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
)

// Ledger 模拟盘账户: 持仓和已实现余额.
// 会话只是挂在账本上, 切换模式关闭会话不影响账本
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*exchange.Position
	balance   decimal.Decimal
}

func NewLedger(initialBalance decimal.Decimal) *Ledger {
	return &Ledger{
		positions: make(map[string]*exchange.Position),
		balance:   initialBalance,
	}
}

// Balance 已实现余额, 不含浮动盈亏
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balance
}

func (l *Ledger) pairs() []exchange.TradingPair {
	l.mu.RLock()
	defer l.mu.RUnlock()
	seen := make(map[exchange.TradingPair]struct{}, len(l.positions))
	res := make([]exchange.TradingPair, 0, len(l.positions))
	for _, p := range l.positions {
		if _, ok := seen[p.TradingPair]; ok {
			continue
		}
		seen[p.TradingPair] = struct{}{}
		res = append(res, p.TradingPair)
	}
	return res
}

func (l *Ledger) snapshot() []exchange.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	res := make([]exchange.Position, 0, len(l.positions))
	for _, p := range l.positions {
		res = append(res, *p)
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].Id < res[j].Id
	})
	return res
}

// equity 需持有锁
func (l *Ledger) equity() decimal.Decimal {
	total := l.balance
	for _, p := range l.positions {
		total = total.Add(p.Result)
	}
	return total
}

// usedMargin 需持有锁
func (l *Ledger) usedMargin(leverage decimal.Decimal) decimal.Decimal {
	used := decimal.Zero
	for _, p := range l.positions {
		used = used.Add(p.OpenPrice.Mul(p.Quantity).Div(leverage))
	}
	return used
}
