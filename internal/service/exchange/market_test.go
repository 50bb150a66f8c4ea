package exchange

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTradingPair(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    TradingPair
		wantErr bool
	}{
		{name: "slash", input: "btc/usdt", want: TradingPair{Base: "BTC", Quote: "USDT"}},
		{name: "dash", input: "ETH-USDC", want: TradingPair{Base: "ETH", Quote: "USDC"}},
		{name: "concat", input: "BTCUSDT", want: TradingPair{Base: "BTC", Quote: "USDT"}},
		{name: "forex", input: "EURUSD", want: TradingPair{Base: "EUR", Quote: "USD"}},
		{name: "empty base", input: "/USDT", wantErr: true},
		{name: "unknown quote", input: "FOOBAR", wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTradingPair(tc.input)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestIntervalDuration(t *testing.T) {
	assert.Equal(t, 15*time.Minute, Interval15m.Duration())
	assert.Equal(t, 4*time.Hour, Interval4h.Duration())
	assert.Equal(t, time.Duration(0), Interval("7m").Duration())
}

func TestSideSign(t *testing.T) {
	assert.Equal(t, "1", Buy.Sign().String())
	assert.Equal(t, "-1", Sell.Sign().String())
	assert.Equal(t, Sell, Buy.Opposite())
	assert.Equal(t, ModeLive, ModeDemo.Other())
}
