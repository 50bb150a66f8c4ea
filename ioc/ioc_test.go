package ioc

import (
	"context"
	"testing"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/internal/service/exchange/paper"
	"github.com/KNICEX/trading-automaton/internal/service/llm"
	"github.com/KNICEX/trading-automaton/internal/service/predict"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopKlines struct{}

func (nopKlines) Klines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error) {
	return nil, nil
}

func predictorConfig(kind string) config.PredictorConfig {
	var cfg config.PredictorConfig
	cfg.Kind = kind
	cfg.MeanReversion.Multiplier = 2
	cfg.MeanReversion.Period = 20
	cfg.SMA.Short = 7
	cfg.SMA.Long = 25
	return cfg
}

func TestInitPredictor(t *testing.T) {
	noLLM := func() llm.Service {
		t.Fatal("llm should not be built")
		return nil
	}

	p, band, err := InitPredictor(predictorConfig(PredictorMeanReversion), nopKlines{}, noLLM)
	require.NoError(t, err)
	assert.Same(t, band, p)

	p, _, err = InitPredictor(predictorConfig(PredictorSMA), nopKlines{}, noLLM)
	require.NoError(t, err)
	assert.IsType(t, &predict.SMACross{}, p)

	cfg := predictorConfig(PredictorEnsemble)
	cfg.Ensemble.Weights = map[string]float64{PredictorMeanReversion: 2, PredictorSMA: 1}
	p, _, err = InitPredictor(cfg, nopKlines{}, noLLM)
	require.NoError(t, err)
	assert.IsType(t, &predict.Ensemble{}, p)

	cfg.Ensemble.Weights = map[string]float64{"astrology": 1}
	_, _, err = InitPredictor(cfg, nopKlines{}, noLLM)
	assert.Error(t, err)

	_, _, err = InitPredictor(predictorConfig("bogus"), nopKlines{}, noLLM)
	assert.Error(t, err)
}

func TestInitCredentials(t *testing.T) {
	cfg := config.BrokerConfig{Credentials: map[string]exchange.Credentials{
		"live": {ApiKey: "k", ApiSecret: "s"},
	}}
	cfg.Demo.Backend = config.BackendPaper
	creds := InitCredentials(cfg)

	cred, err := creds.Credentials(context.Background(), exchange.ModeDemo)
	require.NoError(t, err)
	assert.True(t, cred.Empty())

	cred, err = creds.Credentials(context.Background(), exchange.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, "k", cred.ApiKey)

	cfg.Demo.Backend = config.BackendBinance
	_, err = InitCredentials(cfg).Credentials(context.Background(), exchange.ModeDemo)
	assert.ErrorIs(t, err, exchange.ErrMissingCredentials)
}

func TestInitSessionFactory(t *testing.T) {
	var cfg config.BrokerConfig
	cfg.Demo.Backend = config.BackendPaper
	cfg.Paper.Balance = 1000
	cfg.Paper.Leverage = 10
	cfg.Paper.Feed = "mock"
	cur := config.Currency{Symbol: "BTCUSDT", Pair: exchange.TradingPair{Base: "BTC", Quote: "USDT"}}
	feed := InitPaperFeed(cfg, []config.Currency{cur}, 50, exchange.Interval15m)
	require.IsType(t, &paper.MockFeed{}, feed)

	klines, err := feed.GetKlines(context.Background(), exchange.GetKlinesReq{TradingPair: cur.Pair, Interval: exchange.Interval15m, Limit: 20})
	require.NoError(t, err)
	assert.Len(t, klines, 20)

	factory := InitSessionFactory(cfg, feed)
	sess, err := factory.NewSession(context.Background(), exchange.ModeDemo)
	require.NoError(t, err)
	assert.IsType(t, &paper.Session{}, sess)

	_, err = factory.NewSession(context.Background(), exchange.Mode("sandbox"))
	assert.ErrorIs(t, err, exchange.ErrModeNotConfigured)
}

func TestInitSessionFactoryKeepsPaperLedger(t *testing.T) {
	ctx := context.Background()
	var cfg config.BrokerConfig
	cfg.Demo.Backend = config.BackendPaper
	cfg.Paper.Balance = 1000
	cfg.Paper.Leverage = 10
	cfg.Paper.Feed = "mock"
	cur := config.Currency{Symbol: "BTCUSDT", Pair: exchange.TradingPair{Base: "BTC", Quote: "USDT"}}
	factory := InitSessionFactory(cfg, InitPaperFeed(cfg, []config.Currency{cur}, 50, exchange.Interval15m))

	first, err := factory.NewSession(ctx, exchange.ModeDemo)
	require.NoError(t, err)
	require.NoError(t, first.Login(ctx, exchange.Credentials{}))
	id, err := first.OpenPosition(ctx, exchange.OpenPositionReq{
		TradingPair: cur.Pair,
		Side:        exchange.Buy,
		Quantity:    decimal.NewFromInt(1),
	})
	require.NoError(t, err)
	// 切到 live 时旧会话被关闭
	require.NoError(t, first.Close(ctx))

	second, err := factory.NewSession(ctx, exchange.ModeDemo)
	require.NoError(t, err)
	require.NoError(t, second.Login(ctx, exchange.Credentials{}))
	positions, err := second.Positions(ctx)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, id, positions[0].Id)

	_, err = second.ClosePosition(ctx, id)
	require.NoError(t, err)
	funds, err := second.Funds(ctx)
	require.NoError(t, err)
	assert.True(t, funds.Total.Equal(second.(*paper.Session).Balance()))
}
