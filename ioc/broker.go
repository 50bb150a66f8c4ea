package ioc

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/KNICEX/trading-automaton/internal/observ"
	"github.com/KNICEX/trading-automaton/internal/service/broker"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/internal/service/exchange/binance"
	"github.com/KNICEX/trading-automaton/internal/service/exchange/paper"
	"github.com/KNICEX/trading-automaton/internal/service/notification"
	"github.com/shopspring/decimal"
)

// configCredentials 从 broker.credentials 读取凭证
type configCredentials struct {
	creds map[string]exchange.Credentials
	// 本地模拟盘不需要凭证
	paperDemo bool
}

func (c configCredentials) Credentials(ctx context.Context, mode exchange.Mode) (exchange.Credentials, error) {
	if mode == exchange.ModeDemo && c.paperDemo {
		return exchange.Credentials{}, nil
	}
	cred, ok := c.creds[string(mode)]
	if !ok || cred.Empty() {
		return exchange.Credentials{}, fmt.Errorf("%s: %w", mode, exchange.ErrMissingCredentials)
	}
	return cred, nil
}

func InitCredentials(cfg config.BrokerConfig) exchange.CredentialProvider {
	return configCredentials{
		creds:     cfg.Credentials,
		paperDemo: cfg.Demo.Backend == config.BackendPaper,
	}
}

// InitPaperFeed 模拟盘行情, mock 模式下为每个品种和周期生成K线
func InitPaperFeed(cfg config.BrokerConfig, currencies []config.Currency, count int, intervals ...exchange.Interval) exchange.MarketService {
	if cfg.Paper.Feed != "mock" {
		return binance.NewMarketService(binance.MainnetURL)
	}
	feed := paper.NewMockFeed()
	for _, cur := range currencies {
		for _, interval := range intervals {
			start := time.Now().Add(-time.Duration(count) * interval.Duration())
			feed.GenerateKlines(cur.Pair, interval, start, 100, count, paper.TrendVolatile)
		}
	}
	return feed
}

// InitSessionFactory live 总是币安主网, demo 按 broker.demo.backend 选择模拟盘或测试网
func InitSessionFactory(cfg config.BrokerConfig, feed exchange.MarketService) exchange.SessionFactory {
	httpClient := &http.Client{Timeout: 30 * time.Second}
	// 模拟盘账本只建一次, 来回切换模式时新会话挂回同一账本
	ledger := paper.NewLedger(decimal.NewFromFloat(cfg.Paper.Balance))
	return exchange.SessionFactoryFunc(func(ctx context.Context, mode exchange.Mode) (exchange.Session, error) {
		switch mode {
		case exchange.ModeLive:
			return binance.NewSession(mode, binance.MainnetURL, binance.WithHTTPClient(httpClient)), nil
		case exchange.ModeDemo:
			if cfg.Demo.Backend == config.BackendBinance {
				return binance.NewSession(mode, binance.TestnetURL, binance.WithHTTPClient(httpClient)), nil
			}
			return paper.NewSession(feed, ledger,
				paper.WithLeverage(cfg.Paper.Leverage),
				paper.WithQuantityLimits(decimal.NewFromFloat(cfg.Paper.MinQuantity), decimal.NewFromFloat(cfg.Paper.MaxQuantity)),
			), nil
		}
		return nil, fmt.Errorf("%s: %w", mode, exchange.ErrModeNotConfigured)
	})
}

func InitBrokerClient(cfg config.BrokerConfig, factory exchange.SessionFactory, creds exchange.CredentialProvider,
	parent notification.Sink, reporter observ.ErrorReporter, metrics *observ.Metrics) *broker.Client {
	mode, err := exchange.ParseMode(cfg.Mode)
	if err != nil {
		panic(err)
	}
	return broker.NewClient(factory, creds, mode, parent,
		broker.WithRateLimit(cfg.RateLimit, max(int(cfg.RateLimit), 1)),
		broker.WithMaxPriceRetries(cfg.MaxPriceRetries),
		broker.WithMaxNoPriceRetries(cfg.MaxNoPriceRetries),
		broker.WithNoPriceBackoff(cfg.NoPriceBackoff),
		broker.WithReporter(reporter),
		broker.WithRecorder(metrics),
	)
}
