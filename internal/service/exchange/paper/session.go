package paper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var errInsufficientFunds = errors.New("insufficient free margin")

// Session 本地模拟盘会话, 价格来自行情源, 持仓和资金记在 Ledger 上
type Session struct {
	feed   exchange.MarketService
	ledger *Ledger

	mu       sync.RWMutex
	loggedIn bool
	closed   bool

	leverage decimal.Decimal
	minQty   decimal.Decimal
	maxQty   decimal.Decimal
	now      func() time.Time
}

var _ exchange.Session = (*Session)(nil)

type Option func(s *Session)

func WithLeverage(leverage int) Option {
	return func(s *Session) {
		if leverage > 0 {
			s.leverage = decimal.NewFromInt(int64(leverage))
		}
	}
}

// WithQuantityLimits 单笔数量限制, 为零表示不限制
func WithQuantityLimits(min, max decimal.Decimal) Option {
	return func(s *Session) {
		s.minQty = min
		s.maxQty = max
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// NewSession 在账本上打开一个会话, 同一账本可以先后挂多个会话
func NewSession(feed exchange.MarketService, ledger *Ledger, opts ...Option) *Session {
	s := &Session{
		feed:     feed,
		ledger:   ledger,
		leverage: decimal.NewFromInt(20),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Mode() exchange.Mode {
	return exchange.ModeDemo
}

// Login 模拟盘不校验凭证
func (s *Session) Login(ctx context.Context, cred exchange.Credentials) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("paper session closed: %w", exchange.ErrConnection)
	}
	s.loggedIn = true
	return nil
}

func (s *Session) checkAlive() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("paper session closed: %w", exchange.ErrConnection)
	}
	if !s.loggedIn {
		return fmt.Errorf("paper session not logged in: %w", exchange.ErrRequest)
	}
	return nil
}

// Refresh 用最新价重新估值所有持仓, 拿不到价格的持仓保留上次估值
func (s *Session) Refresh(ctx context.Context) error {
	if err := s.checkAlive(); err != nil {
		return err
	}
	prices := make(map[exchange.TradingPair]decimal.Decimal)
	for _, pair := range s.ledger.pairs() {
		price, err := s.feed.Ticker(ctx, pair)
		if err != nil {
			continue
		}
		prices[pair] = price
	}

	s.ledger.mu.Lock()
	defer s.ledger.mu.Unlock()
	for _, p := range s.ledger.positions {
		if price, ok := prices[p.TradingPair]; ok {
			s.revalue(p, price)
		}
	}
	return nil
}

func (s *Session) revalue(p *exchange.Position, price decimal.Decimal) {
	p.CurrentPrice = price
	p.Result = price.Sub(p.OpenPrice).Mul(p.Quantity).Mul(p.Side.Sign())
	p.UpdatedAt = s.now()
}

// Close 只断开会话, 账本保留
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.loggedIn = false
	return nil
}

func (s *Session) Positions(ctx context.Context) ([]exchange.Position, error) {
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	return s.ledger.snapshot(), nil
}

func (s *Session) Funds(ctx context.Context) (exchange.Funds, error) {
	if err := s.checkAlive(); err != nil {
		return exchange.Funds{}, err
	}
	s.ledger.mu.RLock()
	defer s.ledger.mu.RUnlock()
	total := s.ledger.equity()
	return exchange.Funds{
		Total: total,
		Free:  total.Sub(s.ledger.usedMargin(s.leverage)),
	}, nil
}

func (s *Session) checkQuantity(qty decimal.Decimal) error {
	if !s.minQty.IsZero() && qty.LessThan(s.minQty) {
		return &exchange.QuantityError{Bound: exchange.QuantityMin, Limit: s.minQty}
	}
	if !s.maxQty.IsZero() && qty.GreaterThan(s.maxQty) {
		return &exchange.QuantityError{Bound: exchange.QuantityMax, Limit: s.maxQty}
	}
	return nil
}

func (s *Session) OpenPosition(ctx context.Context, req exchange.OpenPositionReq) (string, error) {
	if err := s.checkQuantity(req.Quantity); err != nil {
		return "", err
	}
	price, err := s.feed.Ticker(ctx, req.TradingPair)
	if err != nil {
		return "", err
	}
	if err := s.checkAlive(); err != nil {
		return "", err
	}

	l := s.ledger
	l.mu.Lock()
	defer l.mu.Unlock()
	required := price.Mul(req.Quantity).Div(s.leverage)
	if required.GreaterThan(l.equity().Sub(l.usedMargin(s.leverage))) {
		return "", fmt.Errorf("open %s %s: %w", req.TradingPair, req.Side, errInsufficientFunds)
	}

	now := s.now()
	id := uuid.NewString()
	l.positions[id] = &exchange.Position{
		Id:           id,
		TradingPair:  req.TradingPair,
		Side:         req.Side,
		Quantity:     req.Quantity,
		OpenPrice:    price,
		CurrentPrice: price,
		Result:       decimal.Zero,
		Mode:         exchange.ModeDemo,
		UpdatedAt:    now,
	}
	return id, nil
}

func (s *Session) ClosePosition(ctx context.Context, id string) (decimal.Decimal, error) {
	if err := s.checkAlive(); err != nil {
		return decimal.Zero, err
	}
	l := s.ledger
	l.mu.RLock()
	p, ok := l.positions[id]
	var pair exchange.TradingPair
	if ok {
		pair = p.TradingPair
	}
	l.mu.RUnlock()
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", id, exchange.ErrPositionNotFound)
	}

	price, err := s.feed.Ticker(ctx, pair)
	if err != nil {
		return decimal.Zero, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// 两次加锁之间可能已被并发平仓
	p, ok = l.positions[id]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", id, exchange.ErrPositionNotFound)
	}
	s.revalue(p, price)
	l.balance = l.balance.Add(p.Result)
	delete(l.positions, id)
	return p.Result, nil
}

func (s *Session) Margin(ctx context.Context, tradingPair exchange.TradingPair, quantity decimal.Decimal) (decimal.Decimal, error) {
	price, err := s.feed.Ticker(ctx, tradingPair)
	if err != nil {
		return decimal.Zero, err
	}
	return price.Mul(quantity).Div(s.leverage), nil
}

func (s *Session) MarketOpen(ctx context.Context, tradingPair exchange.TradingPair) (bool, error) {
	if hours, ok := s.feed.(MarketHours); ok {
		return hours.MarketOpen(ctx, tradingPair)
	}
	_, err := s.feed.Ticker(ctx, tradingPair)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, exchange.ErrMarketClosed), errors.Is(err, exchange.ErrProductUnavailable):
		return false, nil
	default:
		return false, err
	}
}

func (s *Session) Ticker(ctx context.Context, tradingPair exchange.TradingPair) (decimal.Decimal, error) {
	return s.feed.Ticker(ctx, tradingPair)
}

func (s *Session) GetKlines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error) {
	return s.feed.GetKlines(ctx, req)
}

// Balance 已实现余额, 不含浮动盈亏
func (s *Session) Balance() decimal.Decimal {
	return s.ledger.Balance()
}
