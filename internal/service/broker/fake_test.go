package broker

import (
	"context"
	"sync"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/internal/service/notification"
	"github.com/shopspring/decimal"
)

// fakeSession 按调用顺序返回预设错误的会话
type fakeSession struct {
	mu   sync.Mutex
	mode exchange.Mode

	loginErr    error
	openErrs    []error
	closeErrs   []error
	refreshErrs []error

	positions   []exchange.Position
	closeResult decimal.Decimal

	loginCalls, openCalls, closeCalls, refreshCalls int
	closed                                          bool
}

var _ exchange.Session = (*fakeSession)(nil)

func newFakeSession(mode exchange.Mode) *fakeSession {
	return &fakeSession{mode: mode}
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (f *fakeSession) Mode() exchange.Mode { return f.mode }

func (f *fakeSession) Login(ctx context.Context, cred exchange.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loginCalls++
	return f.loginErr
}

func (f *fakeSession) Refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	return pop(&f.refreshErrs)
}

func (f *fakeSession) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeSession) Positions(ctx context.Context) ([]exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]exchange.Position, len(f.positions))
	copy(res, f.positions)
	return res, nil
}

func (f *fakeSession) Funds(ctx context.Context) (exchange.Funds, error) {
	return exchange.Funds{Total: decimal.NewFromInt(1000), Free: decimal.NewFromInt(1000)}, nil
}

func (f *fakeSession) OpenPosition(ctx context.Context, req exchange.OpenPositionReq) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.openCalls++
	if err := pop(&f.openErrs); err != nil {
		return "", err
	}
	id := req.TradingPair.ToString() + "_" + string(req.Side)
	f.positions = append(f.positions, exchange.Position{Id: id, TradingPair: req.TradingPair, Side: req.Side, Quantity: req.Quantity, Mode: f.mode})
	return id, nil
}

func (f *fakeSession) ClosePosition(ctx context.Context, id string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	if err := pop(&f.closeErrs); err != nil {
		return decimal.Zero, err
	}
	for i, p := range f.positions {
		if p.Id == id {
			f.positions = append(f.positions[:i], f.positions[i+1:]...)
			return f.closeResult, nil
		}
	}
	return decimal.Zero, exchange.ErrPositionNotFound
}

func (f *fakeSession) Margin(ctx context.Context, pair exchange.TradingPair, qty decimal.Decimal) (decimal.Decimal, error) {
	return qty, nil
}

func (f *fakeSession) MarketOpen(ctx context.Context, pair exchange.TradingPair) (bool, error) {
	return true, nil
}

func (f *fakeSession) Ticker(ctx context.Context, pair exchange.TradingPair) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

func (f *fakeSession) GetKlines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error) {
	return nil, nil
}

func (f *fakeSession) calls() (open, closeN, refresh, login int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.openCalls, f.closeCalls, f.refreshCalls, f.loginCalls
}

type fakeFactory struct {
	mu       sync.Mutex
	sessions map[exchange.Mode]*fakeSession
	created  map[exchange.Mode]int
}

func newFakeFactory(sessions ...*fakeSession) *fakeFactory {
	f := &fakeFactory{sessions: make(map[exchange.Mode]*fakeSession), created: make(map[exchange.Mode]int)}
	for _, s := range sessions {
		f.sessions[s.mode] = s
	}
	return f
}

func (f *fakeFactory) NewSession(ctx context.Context, mode exchange.Mode) (exchange.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[mode]
	if !ok {
		return nil, exchange.ErrModeNotConfigured
	}
	f.created[mode]++
	return s, nil
}

type fakeCreds map[exchange.Mode]exchange.Credentials

func (f fakeCreds) Credentials(ctx context.Context, mode exchange.Mode) (exchange.Credentials, error) {
	c, ok := f[mode]
	if !ok {
		return exchange.Credentials{}, exchange.ErrMissingCredentials
	}
	return c, nil
}

var bothCreds = fakeCreds{
	exchange.ModeDemo: {ApiKey: "demo", ApiSecret: "demo"},
	exchange.ModeLive: {ApiKey: "live", ApiSecret: "live"},
}

type recordingSink struct {
	mu     sync.Mutex
	events []notification.Event
}

func (r *recordingSink) Handle(ctx context.Context, event notification.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingSink) kinds() []notification.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]notification.Kind, 0, len(r.events))
	for _, e := range r.events {
		res = append(res, e.Kind)
	}
	return res
}

func (r *recordingSink) last() notification.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type countingReporter struct {
	mu    sync.Mutex
	count int
}

func (c *countingReporter) Report(component string, err error, kv ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
}
