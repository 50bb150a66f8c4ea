package notification

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/KNICEX/trading-automaton/internal/entity"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingNotifier struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingNotifier) Notify(ctx context.Context, event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.err
}

func (r *recordingNotifier) Name() string {
	return "recording"
}

func (r *recordingNotifier) kinds() []Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]Kind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestMediatorFanOut(t *testing.T) {
	a := &recordingNotifier{}
	b := &recordingNotifier{err: errors.New("down")}
	m := NewMediator([]Notifier{a, b})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	m.Handle(ctx, NewEvent(PositionsOpened))
	m.Handle(ctx, NewEvent(ConnectionError))

	require.Eventually(t, func() bool {
		return len(a.kinds()) == 2 && len(b.kinds()) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []Kind{PositionsOpened, ConnectionError}, a.kinds())

	cancel()
	<-done
}

func TestMediatorDoesNotBlockWhenFull(t *testing.T) {
	dropped := 0
	m := NewMediator(nil, WithBuffer(1), WithDropHook(func(event Event) {
		dropped++
	}))

	start := time.Now()
	m.Handle(context.Background(), NewEvent(PositionsOpened))
	m.Handle(context.Background(), NewEvent(PositionsOpened))
	m.Handle(context.Background(), NewEvent(PositionsOpened))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 2, dropped)
}

func TestMediatorDrainsOnStop(t *testing.T) {
	rec := &recordingNotifier{}
	m := NewMediator([]Notifier{rec})
	m.Handle(context.Background(), NewEvent(ModeSwapped))
	m.Handle(context.Background(), NewEvent(MarketClosed))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	m.Run(ctx)
	assert.Len(t, rec.kinds(), 2)
}

type fakeTradeRepo struct {
	trades []entity.Trade
}

func (f *fakeTradeRepo) Create(ctx context.Context, trade entity.Trade) (int64, error) {
	f.trades = append(f.trades, trade)
	return int64(len(f.trades)), nil
}

func (f *fakeTradeRepo) FindRecent(ctx context.Context, limit int) ([]entity.Trade, error) {
	return f.trades, nil
}

func (f *fakeTradeRepo) FindByPositionId(ctx context.Context, positionId string) ([]entity.Trade, error) {
	return nil, nil
}

func (f *fakeTradeRepo) FindClosed(ctx context.Context, mode string) ([]entity.Trade, error) {
	return nil, nil
}

func (f *fakeTradeRepo) SumResult(ctx context.Context, mode string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func TestJournalNotifier(t *testing.T) {
	fake := &fakeTradeRepo{}
	j := NewJournalNotifier(fake)

	closed := NewEvent(PositionClosed)
	closed.Position = &exchange.Position{
		Id:          "BTCUSDT_buy",
		TradingPair: exchange.TradingPair{Base: "BTC", Quote: "USDT"},
		Side:        exchange.Buy,
		Mode:        exchange.ModeDemo,
	}
	closed.Result = decimal.NewFromFloat(3.5)

	require.NoError(t, j.Notify(context.Background(), closed))
	require.NoError(t, j.Notify(context.Background(), NewEvent(MarketClosed)))

	require.Len(t, fake.trades, 1)
	trade := fake.trades[0]
	assert.Equal(t, entity.TradeKindClosed, trade.Kind)
	assert.Equal(t, "BTC", trade.BaseSymbol)
	assert.Equal(t, "BTCUSDT_buy", trade.PositionId)
	assert.Equal(t, "3.5", trade.Result)
	assert.Equal(t, "demo", trade.Mode)
}
