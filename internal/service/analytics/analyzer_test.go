package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KNICEX/trading-automaton/internal/entity"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTradeRepo struct {
	closed []entity.Trade
	mode   string
	err    error
}

func (f *fakeTradeRepo) Create(ctx context.Context, trade entity.Trade) (int64, error) {
	return 0, nil
}

func (f *fakeTradeRepo) FindRecent(ctx context.Context, limit int) ([]entity.Trade, error) {
	return nil, nil
}

func (f *fakeTradeRepo) FindByPositionId(ctx context.Context, positionId string) ([]entity.Trade, error) {
	return nil, nil
}

func (f *fakeTradeRepo) FindClosed(ctx context.Context, mode string) ([]entity.Trade, error) {
	f.mode = mode
	return f.closed, f.err
}

func (f *fakeTradeRepo) SumResult(ctx context.Context, mode string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func closedTrades(base time.Time) []entity.Trade {
	rows := []struct {
		side   exchange.Side
		result string
	}{
		{exchange.Buy, "10"},
		{exchange.Sell, "-4"},
		{exchange.Buy, "0"},
		{exchange.Sell, "6"},
		{exchange.Buy, "-8"},
	}
	trades := make([]entity.Trade, 0, len(rows))
	for i, r := range rows {
		trades = append(trades, entity.Trade{
			Kind:      entity.TradeKindClosed,
			Side:      string(r.side),
			Result:    r.result,
			Mode:      string(exchange.ModeDemo),
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		})
	}
	return trades
}

func TestAnalyze(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	fake := &fakeTradeRepo{closed: closedTrades(base)}
	a := NewAnalyzer(fake)
	a.now = func() time.Time { return base.Add(24 * time.Hour) }

	report, err := a.Analyze(context.Background(), exchange.ModeDemo)
	require.NoError(t, err)
	assert.Equal(t, "demo", fake.mode)
	assert.Equal(t, exchange.ModeDemo, report.Mode)
	assert.Equal(t, base, report.StartTime)
	assert.Equal(t, 4*time.Hour, report.Duration)
	assert.Equal(t, base.Add(24*time.Hour), report.GeneratedAt)
	assert.Equal(t, "4", report.TotalPnL.String())

	tm := report.Trading
	assert.Equal(t, 5, tm.TotalTrades)
	assert.Equal(t, 2, tm.WinningTrades)
	assert.Equal(t, 2, tm.LosingTrades)
	assert.Equal(t, 1, tm.BreakevenTrades)
	assert.Equal(t, "0.4", tm.WinRate.String())
	assert.Equal(t, "8", tm.AvgWin.String())
	assert.Equal(t, "-6", tm.AvgLoss.String())
	assert.Equal(t, "1.33", tm.ProfitFactor.StringFixed(2))
	assert.Equal(t, "10", tm.LargestWin.String())
	assert.Equal(t, "-8", tm.LargestLoss.String())
	assert.Equal(t, 3, tm.LongTrades)
	assert.Equal(t, 2, tm.ShortTrades)
	assert.Equal(t, "0.33", tm.LongWinRate.StringFixed(2))
	assert.Equal(t, "0.5", tm.ShortWinRate.String())

	require.Len(t, report.Equity, 5)
	balances := make([]string, 0, 5)
	for _, p := range report.Equity {
		balances = append(balances, p.Balance.String())
	}
	assert.Equal(t, []string{"10", "6", "6", "12", "4"}, balances)
	assert.Equal(t, "4", report.Equity[1].Drawdown.String())
	assert.Equal(t, "8", report.Risk.MaxDrawdown.String())
	assert.Equal(t, "0.67", report.Risk.MaxDrawdownPercent.StringFixed(2))
}

func TestAnalyzeEmpty(t *testing.T) {
	a := NewAnalyzer(&fakeTradeRepo{})
	report, err := a.Analyze(context.Background(), exchange.ModeLive)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Trading.TotalTrades)
	assert.True(t, report.TotalPnL.IsZero())
	assert.Empty(t, report.Equity)
	assert.NotEmpty(t, report.String())
}

func TestAnalyzeRepoError(t *testing.T) {
	boom := errors.New("boom")
	a := NewAnalyzer(&fakeTradeRepo{err: boom})
	_, err := a.Analyze(context.Background(), exchange.ModeDemo)
	assert.ErrorIs(t, err, boom)
}

func TestBuildUnparsableResult(t *testing.T) {
	report := Build([]entity.Trade{
		{Kind: entity.TradeKindClosed, Result: "", Side: string(exchange.Buy)},
		{Kind: entity.TradeKindClosed, Result: "-2", Side: string(exchange.Buy)},
	})
	assert.Equal(t, 1, report.Trading.BreakevenTrades)
	assert.Equal(t, "-2", report.TotalPnL.String())
	// 峰值为0时不计算比例
	assert.Equal(t, "2", report.Risk.MaxDrawdown.String())
	assert.True(t, report.Risk.MaxDrawdownPercent.IsZero())
}
