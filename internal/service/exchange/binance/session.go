package binance

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

var _ exchange.Session = (*Session)(nil)

// Session 币安 U 本位合约会话, 单向持仓模式.
// 仓位 id 为 交易对_方向, 例如 BTCUSDT_buy
type Session struct {
	*MarketService

	mode       exchange.Mode
	baseURL    string
	leverage   int
	httpClient *http.Client

	mu  sync.RWMutex
	cli *futures.Client
	// 本会话内已设置过杠杆的交易对
	leveraged map[string]bool
}

type Option func(s *Session)

func WithLeverage(leverage int) Option {
	return func(s *Session) {
		if leverage > 0 {
			s.leverage = leverage
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(s *Session) {
		s.httpClient = client
	}
}

// NewSession baseURL 为空时 live 使用主网, demo 使用测试网
func NewSession(mode exchange.Mode, baseURL string, opts ...Option) *Session {
	if baseURL == "" {
		baseURL = MainnetURL
		if mode == exchange.ModeDemo {
			baseURL = TestnetURL
		}
	}
	s := &Session{
		mode:      mode,
		baseURL:   baseURL,
		leverage:  20,
		leveraged: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.MarketService = NewMarketService(baseURL)
	if s.httpClient != nil {
		s.MarketService.cli.HTTPClient = s.httpClient
	}
	return s
}

func (s *Session) Mode() exchange.Mode {
	return s.mode
}

func (s *Session) client() (*futures.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cli == nil {
		return nil, fmt.Errorf("binance %s session not logged in: %w", s.mode, exchange.ErrRequest)
	}
	return s.cli, nil
}

// Login 创建带签名的客户端并校验凭证
func (s *Session) Login(ctx context.Context, cred exchange.Credentials) error {
	if cred.Empty() {
		return exchange.ErrMissingCredentials
	}
	cli := futures.NewClient(cred.ApiKey, cred.ApiSecret)
	cli.BaseURL = s.baseURL
	if s.httpClient != nil {
		cli.HTTPClient = s.httpClient
	}
	if _, err := cli.NewGetAccountService().Do(ctx); err != nil {
		return fmt.Errorf("binance login: %w", mapError(err, nil))
	}

	s.mu.Lock()
	s.cli = cli
	s.leveraged = make(map[string]bool)
	s.mu.Unlock()
	return nil
}

func (s *Session) Refresh(ctx context.Context) error {
	cli, err := s.client()
	if err != nil {
		return err
	}
	if err := cli.NewPingService().Do(ctx); err != nil {
		return fmt.Errorf("binance ping: %w", mapError(err, nil))
	}
	return nil
}

func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cli = nil
	return nil
}

func positionId(symbol string, side exchange.Side) string {
	return symbol + "_" + string(side)
}

func parsePositionId(id string) (string, exchange.Side, error) {
	symbol, side, ok := strings.Cut(id, "_")
	if !ok {
		return "", "", fmt.Errorf("invalid position id %q: %w", id, exchange.ErrPositionNotFound)
	}
	sd, err := exchange.ParseSide(side)
	if err != nil {
		return "", "", fmt.Errorf("invalid position id %q: %w", id, exchange.ErrPositionNotFound)
	}
	return symbol, sd, nil
}

func (s *Session) convertPosition(v *futures.PositionRisk) (exchange.Position, bool, error) {
	amt, err := decimal.NewFromString(v.PositionAmt)
	if err != nil {
		return exchange.Position{}, false, err
	}
	// 币安会返回数量为 0 的空仓位
	if amt.IsZero() {
		return exchange.Position{}, false, nil
	}
	entry, err := decimal.NewFromString(v.EntryPrice)
	if err != nil {
		return exchange.Position{}, false, err
	}
	mark, err := decimal.NewFromString(v.MarkPrice)
	if err != nil {
		return exchange.Position{}, false, err
	}
	pnl, err := decimal.NewFromString(v.UnRealizedProfit)
	if err != nil {
		return exchange.Position{}, false, err
	}
	side := exchange.Buy
	if amt.IsNegative() {
		side = exchange.Sell
	}
	base, quote := exchange.SplitSymbol(v.Symbol)
	return exchange.Position{
		Id:           positionId(v.Symbol, side),
		TradingPair:  exchange.TradingPair{Base: base, Quote: quote},
		Side:         side,
		Quantity:     amt.Abs(),
		OpenPrice:    entry,
		CurrentPrice: mark,
		Result:       pnl,
		Mode:         s.mode,
		UpdatedAt:    time.Now(),
	}, true, nil
}

func (s *Session) positionRisk(ctx context.Context, cli *futures.Client, symbol string) ([]exchange.Position, error) {
	svc := cli.NewGetPositionRiskService()
	if symbol != "" {
		svc.Symbol(symbol)
	}
	res, err := svc.Do(ctx)
	if err != nil {
		return nil, mapError(err, nil)
	}
	positions := make([]exchange.Position, 0, len(res))
	for _, v := range res {
		p, ok, err := s.convertPosition(v)
		if err != nil {
			return nil, fmt.Errorf("parse position %s: %w", v.Symbol, err)
		}
		if ok {
			positions = append(positions, p)
		}
	}
	sort.Slice(positions, func(i, j int) bool {
		return positions[i].Id < positions[j].Id
	})
	return positions, nil
}

func (s *Session) Positions(ctx context.Context) ([]exchange.Position, error) {
	cli, err := s.client()
	if err != nil {
		return nil, err
	}
	return s.positionRisk(ctx, cli, "")
}

func (s *Session) Funds(ctx context.Context) (exchange.Funds, error) {
	cli, err := s.client()
	if err != nil {
		return exchange.Funds{}, err
	}
	account, err := cli.NewGetAccountService().Do(ctx)
	if err != nil {
		return exchange.Funds{}, mapError(err, nil)
	}
	total, err := decimal.NewFromString(account.TotalMarginBalance)
	if err != nil {
		return exchange.Funds{}, err
	}
	// MaxWithdrawAmount 已扣除挂单锁定的保证金, 比 AvailableBalance 准确
	free, err := decimal.NewFromString(account.MaxWithdrawAmount)
	if err != nil {
		return exchange.Funds{}, err
	}
	return exchange.Funds{Total: total, Free: free}, nil
}

func (s *Session) ensureLeverage(ctx context.Context, cli *futures.Client, symbol string) error {
	s.mu.RLock()
	done := s.leveraged[symbol]
	s.mu.RUnlock()
	if done {
		return nil
	}
	if _, err := cli.NewChangeLeverageService().Symbol(symbol).Leverage(s.leverage).Do(ctx); err != nil {
		return mapError(err, nil)
	}
	s.mu.Lock()
	s.leveraged[symbol] = true
	s.mu.Unlock()
	return nil
}

func futuresSide(side exchange.Side) futures.SideType {
	if side == exchange.Sell {
		return futures.SideTypeSell
	}
	return futures.SideTypeBuy
}

func (s *Session) OpenPosition(ctx context.Context, req exchange.OpenPositionReq) (string, error) {
	cli, err := s.client()
	if err != nil {
		return "", err
	}
	symbol := req.TradingPair.ToString()
	if err := s.ensureLeverage(ctx, cli, symbol); err != nil {
		return "", err
	}
	_, err = cli.NewCreateOrderService().
		Symbol(symbol).
		Side(futuresSide(req.Side)).
		PositionSide(futures.PositionSideTypeBoth).
		Type(futures.OrderTypeMarket).
		Quantity(req.Quantity.String()).
		Do(ctx)
	if err != nil {
		return "", mapError(err, s.lotLimits(ctx, req.TradingPair))
	}
	return positionId(symbol, req.Side), nil
}

func (s *Session) ClosePosition(ctx context.Context, id string) (decimal.Decimal, error) {
	cli, err := s.client()
	if err != nil {
		return decimal.Zero, err
	}
	symbol, side, err := parsePositionId(id)
	if err != nil {
		return decimal.Zero, err
	}
	positions, err := s.positionRisk(ctx, cli, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	pos, ok := lo.Find(positions, func(item exchange.Position) bool {
		return item.Id == id
	})
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", id, exchange.ErrPositionNotFound)
	}

	resp, err := cli.NewCreateOrderService().
		Symbol(symbol).
		Side(futuresSide(side.Opposite())).
		PositionSide(futures.PositionSideTypeBoth).
		Type(futures.OrderTypeMarket).
		Quantity(pos.Quantity.String()).
		ReduceOnly(true).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT).
		Do(ctx)
	if err != nil {
		return decimal.Zero, mapError(err, s.lotLimits(ctx, pos.TradingPair))
	}

	avg, err := decimal.NewFromString(resp.AvgPrice)
	if err != nil || avg.IsZero() {
		// 成交均价缺失时用平仓前的浮动盈亏
		return pos.Result, nil
	}
	return avg.Sub(pos.OpenPrice).Mul(pos.Quantity).Mul(side.Sign()), nil
}

func (s *Session) Margin(ctx context.Context, tradingPair exchange.TradingPair, quantity decimal.Decimal) (decimal.Decimal, error) {
	price, err := s.Ticker(ctx, tradingPair)
	if err != nil {
		return decimal.Zero, err
	}
	return price.Mul(quantity).Div(decimal.NewFromInt(int64(s.leverage))), nil
}
