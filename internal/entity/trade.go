package entity

import (
	"time"
)

// Trade 交易日志, 记录开平仓以及一轮开仓汇总
type Trade struct {
	Id          int64  `gorm:"primaryKey;autoIncrement"`
	Kind        string `gorm:"index"`
	BaseSymbol  string `gorm:"index"`
	QuoteSymbol string `gorm:"index"`
	PositionId  string `gorm:"index"`
	Side        string
	Quantity    string
	OpenPrice   string
	ClosePrice  string
	Result      string
	Mode        string `gorm:"index"` // demo / live
	Count       int
	Message     string
	CreatedAt   time.Time `gorm:"index"`
}

const (
	TradeKindOpened    = "opened"
	TradeKindClosed    = "closed"
	TradeKindClosedAll = "closed_all"
)
