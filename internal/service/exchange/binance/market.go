package binance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const (
	MainnetURL = "https://fapi.binance.com"
	TestnetURL = "https://testnet.binancefuture.com"

	defaultInfoTTL = 10 * time.Minute
)

var _ exchange.MarketService = (*MarketService)(nil)

// MarketService 合约公开行情, 不需要鉴权
type MarketService struct {
	cli *futures.Client

	infoTTL time.Duration
	infoMu  sync.Mutex
	info    map[string]futures.Symbol
	infoAt  time.Time
}

// NewMarketService 创建市场数据服务, baseURL 为空时使用主网
func NewMarketService(baseURL string) *MarketService {
	cli := futures.NewClient("", "")
	if baseURL != "" {
		cli.BaseURL = baseURL
	}
	return &MarketService{cli: cli, infoTTL: defaultInfoTTL}
}

func (m *MarketService) convertKlines(klines []*futures.Kline) ([]exchange.Kline, error) {
	kls := make([]exchange.Kline, len(klines))
	for i, k := range klines {
		var vals [6]decimal.Decimal
		for j, s := range []string{k.Open, k.Close, k.High, k.Low, k.Volume, k.QuoteAssetVolume} {
			d, err := decimal.NewFromString(s)
			if err != nil {
				return nil, fmt.Errorf("parse kline %d: %w", k.OpenTime, err)
			}
			vals[j] = d
		}
		kls[i] = exchange.Kline{
			OpenTime:         time.UnixMilli(k.OpenTime),
			CloseTime:        time.UnixMilli(k.CloseTime),
			Open:             vals[0],
			Close:            vals[1],
			High:             vals[2],
			Low:              vals[3],
			Volume:           vals[4],
			QuoteAssetVolume: vals[5],
		}
	}
	return kls, nil
}

func (m *MarketService) GetKlines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error) {
	svc := m.cli.NewKlinesService().Symbol(req.TradingPair.ToString()) // 币安合约API使用 BTCUSDT 格式，不是 BTC/USDT
	if req.Interval.ToString() != "" {
		svc.Interval(req.Interval.ToString())
	}
	if req.Limit > 0 {
		svc.Limit(req.Limit)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, mapError(err, nil)
	}
	return m.convertKlines(res)
}

func (m *MarketService) Ticker(ctx context.Context, tradingPair exchange.TradingPair) (decimal.Decimal, error) {
	prices, err := m.cli.NewListPricesService().Symbol(tradingPair.ToString()).Do(ctx)
	if err != nil {
		return decimal.Zero, mapError(err, nil)
	}
	if len(prices) == 0 || prices[0].Price == "" {
		return decimal.Zero, fmt.Errorf("%s: %w", tradingPair.ToString(), exchange.ErrNoPrice)
	}
	return decimal.NewFromString(prices[0].Price)
}

// symbol 交易规则, 带缓存
func (m *MarketService) symbol(ctx context.Context, tradingPair exchange.TradingPair) (futures.Symbol, bool, error) {
	m.infoMu.Lock()
	defer m.infoMu.Unlock()

	if m.info == nil || time.Since(m.infoAt) > m.infoTTL {
		res, err := m.cli.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return futures.Symbol{}, false, mapError(err, nil)
		}
		info := make(map[string]futures.Symbol, len(res.Symbols))
		for _, s := range res.Symbols {
			info[s.Symbol] = s
		}
		m.info = info
		m.infoAt = time.Now()
	}
	s, ok := m.info[tradingPair.ToString()]
	return s, ok, nil
}

// MarketOpen 交易对状态为 TRADING 视为开市
func (m *MarketService) MarketOpen(ctx context.Context, tradingPair exchange.TradingPair) (bool, error) {
	s, ok, err := m.symbol(ctx, tradingPair)
	if err != nil {
		return false, err
	}
	return ok && s.Status == "TRADING", nil
}

// lotLimits 下单数量上下限
func (m *MarketService) lotLimits(ctx context.Context, tradingPair exchange.TradingPair) *quantityLimits {
	s, ok, err := m.symbol(ctx, tradingPair)
	if err != nil || !ok {
		return nil
	}
	f := s.LotSizeFilter()
	if f == nil {
		return nil
	}
	min, err1 := decimal.NewFromString(f.MinQuantity)
	max, err2 := decimal.NewFromString(f.MaxQuantity)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &quantityLimits{min: min, max: max}
}
