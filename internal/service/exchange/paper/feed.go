package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
)

// MarketHours 可选接口, 行情源能判断开市状态时实现
type MarketHours interface {
	MarketOpen(ctx context.Context, tradingPair exchange.TradingPair) (bool, error)
}

type Trend string

const (
	TrendUp       Trend = "up"
	TrendDown     Trend = "down"
	TrendVolatile Trend = "volatile"
	TrendSideways Trend = "sideways"
)

// MockFeed 内存行情源, 用于测试和离线模拟
type MockFeed struct {
	mu      sync.RWMutex
	klines  map[string][]exchange.Kline // key: tradingPair_interval
	prices  map[string]decimal.Decimal
	closed  map[string]bool
	missing map[string]bool
}

var (
	_ exchange.MarketService = (*MockFeed)(nil)
	_ MarketHours            = (*MockFeed)(nil)
)

func NewMockFeed() *MockFeed {
	return &MockFeed{
		klines:  make(map[string][]exchange.Kline),
		prices:  make(map[string]decimal.Decimal),
		closed:  make(map[string]bool),
		missing: make(map[string]bool),
	}
}

func klineKey(tradingPair exchange.TradingPair, interval exchange.Interval) string {
	return tradingPair.ToString() + "_" + interval.ToString()
}

// SetPrice 设置最新价, 覆盖 K 线收盘价
func (f *MockFeed) SetPrice(tradingPair exchange.TradingPair, price decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prices[tradingPair.ToString()] = price
	delete(f.missing, tradingPair.ToString())
}

// ClearPrice 模拟暂时没有报价
func (f *MockFeed) ClearPrice(tradingPair exchange.TradingPair) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.missing[tradingPair.ToString()] = true
}

func (f *MockFeed) SetMarketOpen(tradingPair exchange.TradingPair, open bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed[tradingPair.ToString()] = !open
}

func (f *MockFeed) AddKlines(tradingPair exchange.TradingPair, interval exchange.Interval, klines []exchange.Kline) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.klines[klineKey(tradingPair, interval)] = klines
}

// GenerateKlines 按趋势生成 count 根 K 线, 并把最新价设为最后一根收盘价
func (f *MockFeed) GenerateKlines(tradingPair exchange.TradingPair, interval exchange.Interval,
	startTime time.Time, basePrice float64, count int, trend Trend) {
	klines := make([]exchange.Kline, count)
	for i := 0; i < count; i++ {
		var price float64
		switch trend {
		case TrendUp:
			price = basePrice * (1 + float64(i)*0.005)
		case TrendDown:
			price = basePrice * (1 - float64(i)*0.005)
		case TrendVolatile:
			if i%2 == 0 {
				price = basePrice * (1 + float64(i%10)*0.002)
			} else {
				price = basePrice * (1 - float64(i%10)*0.002)
			}
		default:
			price = basePrice * (1 + (float64(i%5)-2)*0.001)
		}

		openTime := startTime.Add(time.Duration(i) * interval.Duration())
		klines[i] = exchange.Kline{
			OpenTime:         openTime,
			CloseTime:        openTime.Add(interval.Duration()),
			Open:             decimal.NewFromFloat(price * 0.999),
			Close:            decimal.NewFromFloat(price),
			High:             decimal.NewFromFloat(price * 1.005),
			Low:              decimal.NewFromFloat(price * 0.995),
			Volume:           decimal.NewFromFloat(1000 + float64(i)*10),
			QuoteAssetVolume: decimal.NewFromFloat(price * (1000 + float64(i)*10)),
		}
	}
	f.AddKlines(tradingPair, interval, klines)
	if count > 0 {
		f.SetPrice(tradingPair, klines[count-1].Close)
	}
}

func (f *MockFeed) Ticker(ctx context.Context, tradingPair exchange.TradingPair) (decimal.Decimal, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	symbol := tradingPair.ToString()
	if f.closed[symbol] {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, exchange.ErrMarketClosed)
	}
	if f.missing[symbol] {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, exchange.ErrNoPrice)
	}
	price, ok := f.prices[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", symbol, exchange.ErrProductUnavailable)
	}
	return price, nil
}

// GetKlines 返回最近 Limit 根 K 线, Limit 为 0 时返回全部
func (f *MockFeed) GetKlines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	all := f.klines[klineKey(req.TradingPair, req.Interval)]
	if req.Limit > 0 && len(all) > req.Limit {
		all = all[len(all)-req.Limit:]
	}
	res := make([]exchange.Kline, len(all))
	copy(res, all)
	return res, nil
}

func (f *MockFeed) MarketOpen(ctx context.Context, tradingPair exchange.TradingPair) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return !f.closed[tradingPair.ToString()], nil
}
