package config

import (
	"strings"
	"testing"
	"time"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadYAML(t *testing.T, content string) (Config, error) {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(content)))
	return Load(v)
}

func TestLoad(t *testing.T) {
	cfg, err := loadYAML(t, `
broker:
  mode: live
  credentials:
    live:
      api_key: key
      api_secret: secret
automaton:
  interval: 5m
  currencies:
    - symbol: BTC/USDT
      quantity: 0.01
    - symbol: EURUSD
      quantity: 1000
      risk: 1
checkers:
  activate: [fixed, relative]
  fixed:
    gain: 50
    damper:
      activate: true
      max: 2
  relative:
    gain: 1.5
    loss: 1
    timeframe: 5m
`)
	require.NoError(t, err)

	assert.Equal(t, "live", cfg.Broker.Mode)
	assert.Equal(t, "key", cfg.Broker.Credentials["live"].ApiKey)
	assert.Equal(t, 5*time.Minute, cfg.Automaton.Interval)
	assert.Equal(t, 3, cfg.Automaton.ConcurrentMovements)
	assert.Equal(t, 20, cfg.Broker.MaxPriceRetries)
	assert.Equal(t, time.Second, cfg.Broker.NoPriceBackoff)
	assert.Equal(t, exchange.TradingPair{Base: "EUR", Quote: "USD"}, cfg.Automaton.Currencies[1].Pair)
	assert.True(t, cfg.Automaton.Currencies[1].HighRisk())

	fixed := cfg.Checkers.Params["fixed"]
	require.NotNil(t, fixed.Gain)
	assert.Equal(t, 50.0, *fixed.Gain)
	assert.Nil(t, fixed.Loss)
	assert.Equal(t, "fixed", fixed.Type)
	assert.True(t, fixed.Damper.Activate)
	assert.Equal(t, 2, fixed.Damper.Max)
	assert.Equal(t, 5*time.Minute, fixed.Damper.Timeout)

	relative := cfg.Checkers.Params["relative"]
	assert.Equal(t, "5m", relative.Timeframe)
	assert.Equal(t, 30*time.Second, relative.Sleep)

	cur, ok := cfg.Currency(exchange.TradingPair{Base: "BTC", Quote: "USDT"})
	assert.True(t, ok)
	assert.Equal(t, 0.01, cur.Quantity)
}

func TestLoadDamperMax(t *testing.T) {
	cfg, err := loadYAML(t, `
automaton:
  currencies:
    - symbol: BTCUSDT
      quantity: 1
checkers:
  activate: [fixed, relative]
  fixed:
    gain: 10
    damper:
      activate: true
      max: 0
  relative:
    gain: 1
`)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Checkers.Params["fixed"].Damper.Max)
	assert.Equal(t, 3, cfg.Checkers.Params["relative"].Damper.Max)
}

func TestLoadInvalid(t *testing.T) {
	testCases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no currencies",
			content: "automaton:\n  sizing: margin\n",
			wantErr: "automaton.currencies is empty",
		},
		{
			name: "fixed sizing without quantity",
			content: `
automaton:
  currencies:
    - symbol: BTCUSDT
`,
			wantErr: "needs a positive quantity",
		},
		{
			name: "bad mode",
			content: `
broker:
  mode: paper
automaton:
  sizing: margin
  currencies:
    - symbol: BTCUSDT
`,
			wantErr: "broker.mode",
		},
		{
			name: "bad symbol",
			content: `
automaton:
  currencies:
    - symbol: NOPE
      quantity: 1
`,
			wantErr: "currency 0",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadYAML(t, tc.content)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}
