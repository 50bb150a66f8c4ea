package exchange

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradingPair 交易对
type TradingPair struct {
	Base  string
	Quote string
}

// 常见 Quote 列表, 长的放前面避免 USDT 被识别成 USD
var knownQuotes = []string{"USDT", "BUSD", "USDC", "USD", "EUR", "GBP", "JPY", "CHF", "BTC", "ETH"}

func SplitSymbol(s string) (string, string) {
	s = strings.ToUpper(s)
	for _, q := range knownQuotes {
		if strings.HasSuffix(s, q) && len(s) > len(q) {
			return strings.TrimSuffix(s, q), q
		}
	}
	// fallback
	return s, ""
}

// ParseTradingPair 支持 BTC/USDT, BTC-USDT, BTCUSDT, EURUSD
func ParseTradingPair(s string) (TradingPair, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for _, sep := range []string{"/", "-", "_"} {
		if base, quote, ok := strings.Cut(s, sep); ok {
			if base == "" || quote == "" {
				return TradingPair{}, fmt.Errorf("invalid trading pair %q", s)
			}
			return TradingPair{Base: base, Quote: quote}, nil
		}
	}
	base, quote := SplitSymbol(s)
	if quote == "" {
		return TradingPair{}, fmt.Errorf("unknown quote asset in %q", s)
	}
	return TradingPair{Base: base, Quote: quote}, nil
}

func (s TradingPair) IsZero() bool {
	return s.Base == "" || s.Quote == ""
}

func (s TradingPair) ToString() string {
	return fmt.Sprintf("%s%s", s.Base, s.Quote)
}

func (s TradingPair) ToSlashString() string {
	return fmt.Sprintf("%s/%s", s.Base, s.Quote)
}

func (s TradingPair) String() string {
	return s.ToSlashString()
}

type Interval string

func (i Interval) ToString() string {
	return string(i)
}

// Duration K线周期时长, 未知周期返回 0
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval2h:
		return 2 * time.Hour
	case Interval4h:
		return 4 * time.Hour
	case Interval6h:
		return 6 * time.Hour
	case Interval8h:
		return 8 * time.Hour
	case Interval12h:
		return 12 * time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval3d:
		return 72 * time.Hour
	case Interval1w:
		return 7 * 24 * time.Hour
	default:
		return 0
	}
}

const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval2h  Interval = "2h"
	Interval4h  Interval = "4h"
	Interval6h  Interval = "6h"
	Interval8h  Interval = "8h"
	Interval12h Interval = "12h"
	Interval1d  Interval = "1d"
	Interval3d  Interval = "3d"
	Interval1w  Interval = "1w"
)

type Kline struct {
	OpenTime         time.Time
	CloseTime        time.Time
	Open             decimal.Decimal
	Close            decimal.Decimal
	High             decimal.Decimal
	Low              decimal.Decimal
	Volume           decimal.Decimal // 成交量
	QuoteAssetVolume decimal.Decimal // 成交额
}

// Closes 提取收盘价
func Closes(kLines []Kline) []decimal.Decimal {
	res := make([]decimal.Decimal, len(kLines))
	for i, k := range kLines {
		res[i] = k.Close
	}
	return res
}

// HighLowClose 拆分最高/最低/收盘价, 用于 ATR 计算
func HighLowClose(kLines []Kline) (highs, lows, closes []decimal.Decimal) {
	highs = make([]decimal.Decimal, len(kLines))
	lows = make([]decimal.Decimal, len(kLines))
	closes = make([]decimal.Decimal, len(kLines))
	for i, k := range kLines {
		highs[i], lows[i], closes[i] = k.High, k.Low, k.Close
	}
	return highs, lows, closes
}

type GetKlinesReq struct {
	TradingPair TradingPair
	Interval    Interval
	Limit       int
}

// MarketService 行情数据, 公共接口无需鉴权
type MarketService interface {
	Ticker(ctx context.Context, tradingPair TradingPair) (decimal.Decimal, error)
	GetKlines(ctx context.Context, req GetKlinesReq) ([]Kline, error)
}
