package checker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var btc = exchange.TradingPair{Base: "BTC", Quote: "USDT"}

func d(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v)
}

func f(v float64) *float64 {
	return &v
}

type fakeKlines struct {
	klines []exchange.Kline
	err    error
	reqs   []exchange.GetKlinesReq
}

func (k *fakeKlines) Klines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error) {
	k.reqs = append(k.reqs, req)
	return k.klines, k.err
}

// flat 收盘价不变, 高低各偏 1, ATR 为 2
func flat(price float64, n int) []exchange.Kline {
	res := make([]exchange.Kline, n)
	for i := range res {
		res[i] = exchange.Kline{Open: d(price), Close: d(price), High: d(price + 1), Low: d(price - 1)}
	}
	return res
}

func pos(id string, side exchange.Side, open, current, result float64) exchange.Position {
	return exchange.Position{
		Id:           id,
		TradingPair:  btc,
		Side:         side,
		Quantity:     d(1),
		OpenPrice:    d(open),
		CurrentPrice: d(current),
		Result:       d(result),
		Mode:         exchange.ModeDemo,
	}
}

func TestRangeThreshold(t *testing.T) {
	testCases := []struct {
		name string
		pos  exchange.Position
		want Verdict
	}{
		{name: "buy gain crossed", pos: pos("1", exchange.Buy, 100, 102.5, 2.5), want: Close},
		{name: "buy inside range", pos: pos("1", exchange.Buy, 100, 101, 1), want: Keep},
		{name: "buy loss crossed", pos: pos("1", exchange.Buy, 100, 97.5, -2.5), want: Close},
		{name: "sell gain crossed", pos: pos("1", exchange.Sell, 100, 97, 3), want: Close},
		{name: "sell inside range", pos: pos("1", exchange.Sell, 100, 101, -1), want: Keep},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			source := &fakeKlines{klines: flat(100, 14)}
			c, err := NewRangeThreshold(source, 14, exchange.Interval1h, f(1), f(1))
			require.NoError(t, err)
			got, err := c.Check(context.Background(), tc.pos)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, exchange.GetKlinesReq{TradingPair: btc, Interval: exchange.Interval1h, Limit: 14}, source.reqs[0])
		})
	}

	_, err := NewRangeThreshold(&fakeKlines{}, 14, exchange.Interval1h, nil, nil)
	assert.ErrorIs(t, err, ErrNoLimit)

	c, err := NewRangeThreshold(&fakeKlines{err: exchange.ErrRequest}, 14, exchange.Interval1h, f(1), nil)
	require.NoError(t, err)
	_, err = c.Check(context.Background(), pos("1", exchange.Buy, 100, 100, 0))
	assert.ErrorIs(t, err, exchange.ErrRequest)
}

type fixedBand decimal.Decimal

func (b fixedBand) Band(klines []exchange.Kline) (decimal.Decimal, error) {
	return decimal.Decimal(b), nil
}

func TestMeanReversionBand(t *testing.T) {
	c := NewMeanReversionBand(&fakeKlines{klines: flat(100, 10)}, fixedBand(d(105)), 40, exchange.Interval15m)
	testCases := []struct {
		name string
		pos  exchange.Position
		want Verdict
	}{
		{name: "buy reached band", pos: pos("1", exchange.Buy, 100, 105, 5), want: Close},
		{name: "buy below band", pos: pos("1", exchange.Buy, 100, 104, 4), want: Keep},
		{name: "sell above band", pos: pos("1", exchange.Sell, 110, 106, 4), want: Keep},
		{name: "sell reached band", pos: pos("1", exchange.Sell, 110, 104, 6), want: Close},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := c.Check(context.Background(), tc.pos)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReversionCount(t *testing.T) {
	assert.Equal(t, 400, ReversionCount(exchange.Interval1h, exchange.Interval15m, 100))
	assert.Equal(t, 100, ReversionCount(exchange.Interval15m, exchange.Interval15m, 100))
	assert.Equal(t, 100, ReversionCount("bogus", exchange.Interval15m, 100))
	assert.Equal(t, 100, ReversionCount(exchange.Interval15m, exchange.Interval1h, 100))
}

func TestFixedThreshold(t *testing.T) {
	c, err := NewFixedThreshold(f(10), f(5))
	require.NoError(t, err)
	for result, want := range map[float64]Verdict{10: Close, 12: Close, 0: Keep, -4.9: Keep, -5: Close} {
		got, err := c.Check(context.Background(), pos("1", exchange.Buy, 100, 100, result))
		require.NoError(t, err)
		assert.Equal(t, want, got, "result %v", result)
	}

	lossOnly, err := NewFixedThreshold(nil, f(5))
	require.NoError(t, err)
	got, _ := lossOnly.Check(context.Background(), pos("1", exchange.Buy, 100, 100, 1000))
	assert.Equal(t, Keep, got)

	_, err = NewFixedThreshold(nil, nil)
	assert.ErrorIs(t, err, ErrNoLimit)
}

func TestPortfolioThreshold(t *testing.T) {
	positions := []exchange.Position{
		pos("1", exchange.Buy, 100, 100, 6),
		pos("2", exchange.Buy, 100, 100, 6),
	}
	sum, err := NewPortfolioThreshold(AggregateSum, f(10), nil)
	require.NoError(t, err)
	got, err := sum.CheckAll(context.Background(), positions)
	require.NoError(t, err)
	assert.Equal(t, CloseAll, got)

	mean, err := NewPortfolioThreshold(AggregateMean, f(10), nil)
	require.NoError(t, err)
	got, err = mean.CheckAll(context.Background(), positions)
	require.NoError(t, err)
	assert.Equal(t, Keep, got)

	got, err = sum.CheckAll(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, Keep, got)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{TypeFixed, TypeRelative, TypeReversion, TypeTotalFixed, TypeTotalRelative}, r.Names())

	deps := Deps{Klines: &fakeKlines{}, Band: fixedBand(d(1)), Timeframe: exchange.Interval15m, Count: 100}
	_, err := r.New(config.CheckerConfig{Type: "bogus"}, deps)
	assert.ErrorIs(t, err, ErrUnknownChecker)

	_, err = r.New(config.CheckerConfig{Type: TypeFixed}, deps)
	assert.ErrorIs(t, err, ErrNoLimit)

	e, err := r.New(config.CheckerConfig{Type: TypeTotalFixed, Gain: f(1)}, deps)
	require.NoError(t, err)
	assert.IsType(t, wholePortfolio{}, e)

	e, err = r.New(config.CheckerConfig{Type: TypeReversion, Timeframe: "5m"}, deps)
	require.NoError(t, err)
	band := e.(eachPosition).checker.(*MeanReversionBand)
	assert.Equal(t, 300, band.count)
	assert.Equal(t, exchange.Interval5m, band.timeframe)

	_, err = r.New(config.CheckerConfig{Type: TypeReversion}, Deps{Klines: &fakeKlines{}})
	assert.Error(t, err)

	assert.Error(t, r.Register(TypeFixed, newFixed))
}

type fakeBroker struct {
	mu         sync.Mutex
	positions  []exchange.Position
	refreshErr error
	refreshes  int
}

func (b *fakeBroker) Refresh(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshes++
	return b.refreshErr
}

func (b *fakeBroker) Positions(ctx context.Context) ([]exchange.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]exchange.Position(nil), b.positions...), nil
}

func (b *fakeBroker) Refreshes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshes
}

type recordingHandler struct {
	mu        sync.Mutex
	decisions []Decision
	pruned    []string
}

func (h *recordingHandler) HandleVerdict(ctx context.Context, d Decision) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decisions = append(h.decisions, d)
	return nil
}

func (h *recordingHandler) Prune(checker string, liveIds []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pruned = liveIds
}

type checkFunc func(ctx context.Context, pos exchange.Position) (Verdict, error)

func (fn checkFunc) Check(ctx context.Context, pos exchange.Position) (Verdict, error) {
	return fn(ctx, pos)
}

func TestLoopTick(t *testing.T) {
	broker := &fakeBroker{positions: []exchange.Position{
		pos("a", exchange.Buy, 100, 110, 10),
		pos("b", exchange.Buy, 100, 90, -10),
		pos("c", exchange.Sell, 100, 100, 0),
	}}
	handler := &recordingHandler{}
	evaluator := EachPosition(checkFunc(func(ctx context.Context, p exchange.Position) (Verdict, error) {
		switch p.Id {
		case "a":
			return Close, nil
		case "b":
			return Keep, nil
		}
		return "", errors.New("no klines")
	}))

	loop := NewLoop("fixed", evaluator, broker, handler, time.Second, 0)
	assert.Equal(t, "checker/fixed", loop.Name())
	require.NoError(t, loop.Tick(context.Background()))

	require.Len(t, handler.decisions, 2)
	assert.Equal(t, Decision{Checker: "fixed", Verdict: Close, Position: broker.positions[0]}, handler.decisions[0])
	assert.Equal(t, Keep, handler.decisions[1].Verdict)
	assert.Equal(t, []string{"a", "b", "c"}, handler.pruned)
}

func TestLoopTickRefreshError(t *testing.T) {
	broker := &fakeBroker{refreshErr: exchange.ErrConnection, positions: []exchange.Position{pos("a", exchange.Buy, 1, 1, 1)}}
	handler := &recordingHandler{}
	loop := NewLoop("fixed", EachPosition(checkFunc(func(ctx context.Context, p exchange.Position) (Verdict, error) {
		return Close, nil
	})), broker, handler, time.Second, 0)

	assert.ErrorIs(t, loop.Tick(context.Background()), exchange.ErrConnection)
	assert.Empty(t, handler.decisions)
}

func TestLoopRunStopsOnCancel(t *testing.T) {
	broker := &fakeBroker{}
	loop := NewLoop("totalfixed", WholePortfolio(nil), broker, &recordingHandler{}, 10*time.Millisecond, 0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = loop.Run(ctx)
	}()
	require.Eventually(t, func() bool { return broker.Refreshes() >= 2 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
}
