package exchange

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side 仓位方向
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// Sign 多头为 1, 空头为 -1
func (s Side) Sign() decimal.Decimal {
	if s == Sell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

func ParseSide(s string) (Side, error) {
	switch Side(s) {
	case Buy, Sell:
		return Side(s), nil
	default:
		return "", fmt.Errorf("unknown side %q", s)
	}
}

// Mode 账户模式, 同一时刻只有一个会话处于活跃状态
type Mode string

const (
	ModeDemo Mode = "demo"
	ModeLive Mode = "live"
)

func (m Mode) Other() Mode {
	if m == ModeLive {
		return ModeDemo
	}
	return ModeLive
}

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDemo, ModeLive:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Position 持仓快照, 经纪商是唯一数据源, 只在一次轮询内有效
type Position struct {
	Id           string
	TradingPair  TradingPair
	Side         Side
	Quantity     decimal.Decimal
	OpenPrice    decimal.Decimal
	CurrentPrice decimal.Decimal
	// Result 当前盈亏(未实现), 平仓后即为已实现盈亏
	Result    decimal.Decimal
	Mode      Mode
	UpdatedAt time.Time
}

func (p Position) Profitable() bool {
	return p.Result.IsPositive()
}

// Funds 账户资金
type Funds struct {
	Total decimal.Decimal
	Free  decimal.Decimal
}

func (f Funds) Used() decimal.Decimal {
	return f.Total.Sub(f.Free)
}
