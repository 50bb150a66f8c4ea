package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KNICEX/trading-automaton/internal/observ"
	"github.com/KNICEX/trading-automaton/internal/schedule"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/internal/service/notification"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	defaultMaxPriceRetries   = 20
	defaultMaxNoPriceRetries = 10
	defaultNoPriceBackoff    = time.Second
	defaultCallTimeout       = time.Minute
)

var errNotStarted = fmt.Errorf("broker client not started: %w", exchange.ErrConnection)

// Recorder 经纪商调用指标
type Recorder interface {
	IncOrder(mode, side, outcome string)
	IncClose(mode, outcome string)
	SetResult(mode string, v float64)
}

type nopRecorder struct{}

func (nopRecorder) IncOrder(mode, side, outcome string) {}
func (nopRecorder) IncClose(mode, outcome string)       {}
func (nopRecorder) SetResult(mode string, v float64)    {}

// Client 进程内共享的经纪商适配器.
// 读写锁保护当前会话: 普通调用在整个调用期间持有读锁, 登录/重新鉴权/切换模式持有写锁,
// 所以切换模式会等待进行中的调用结束, 调用方也不会看到切换到一半的会话
type Client struct {
	factory  exchange.SessionFactory
	creds    exchange.CredentialProvider
	parent   notification.Sink
	reporter observ.ErrorReporter
	recorder Recorder
	limiter  *rate.Limiter

	mu      sync.RWMutex
	session exchange.Session
	mode    exchange.Mode

	resMu   sync.Mutex
	results decimal.Decimal

	// 批量平仓串行执行
	closeAllMu sync.Mutex

	maxPriceRetries   int
	maxNoPriceRetries int
	noPriceBackoff    time.Duration
	callTimeout       time.Duration
}

type Option func(c *Client)

// WithRateLimit 每秒调用次数, 非正数表示不限制
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithMaxPriceRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxPriceRetries = n
		}
	}
}

func WithMaxNoPriceRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxNoPriceRetries = n
		}
	}
}

func WithNoPriceBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.noPriceBackoff = d
	}
}

// WithCallTimeout 单次对外调用的超时, 调用不受上层取消影响
func WithCallTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.callTimeout = d
		}
	}
}

func WithReporter(reporter observ.ErrorReporter) Option {
	return func(c *Client) {
		c.reporter = reporter
	}
}

func WithRecorder(recorder Recorder) Option {
	return func(c *Client) {
		c.recorder = recorder
	}
}

func NewClient(factory exchange.SessionFactory, creds exchange.CredentialProvider, mode exchange.Mode,
	parent notification.Sink, opts ...Option) *Client {
	if parent == nil {
		parent = notification.Discard
	}
	c := &Client{
		factory:           factory,
		creds:             creds,
		parent:            parent,
		mode:              mode,
		reporter:          observ.NopReporter{},
		recorder:          nopRecorder{},
		limiter:           rate.NewLimiter(rate.Inf, 0),
		results:           decimal.Zero,
		maxPriceRetries:   defaultMaxPriceRetries,
		maxNoPriceRetries: defaultMaxNoPriceRetries,
		noPriceBackoff:    defaultNoPriceBackoff,
		callTimeout:       defaultCallTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) emit(ctx context.Context, event notification.Event) {
	c.parent.Handle(ctx, event)
}

// detach 调用一旦开始就不因上层取消而中断
func (c *Client) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.callTimeout)
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// login 为 mode 创建并登录新会话, 失败时向上抛出对应事件
func (c *Client) login(ctx context.Context, mode exchange.Mode) (exchange.Session, error) {
	cred, err := c.creds.Credentials(ctx, mode)
	if err != nil {
		if errors.Is(err, exchange.ErrMissingCredentials) {
			c.emit(ctx, notification.Event{Kind: notification.MissingCredentials, Mode: mode, At: time.Now()}.WithErr(err))
		}
		return nil, err
	}
	sess, err := c.factory.NewSession(ctx, mode)
	if err != nil {
		return nil, fmt.Errorf("create %s session: %w", mode, err)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	if err := sess.Login(ctx, cred); err != nil {
		if errors.Is(err, exchange.ErrInvalidCredentials) || errors.Is(err, exchange.ErrMissingCredentials) {
			c.emit(ctx, notification.Event{Kind: notification.MissingCredentials, Mode: mode, At: time.Now()}.WithErr(err))
		}
		_ = sess.Close(ctx)
		return nil, fmt.Errorf("login %s session: %w", mode, err)
	}
	return sess, nil
}

// Start 登录当前模式, 缺少凭证时直接返回不重试
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil {
		slog.Warn("broker client already started", "mode", c.mode)
		return nil
	}
	sess, err := c.login(ctx, c.mode)
	if err != nil {
		if errors.Is(err, exchange.ErrModeNotConfigured) {
			c.emit(ctx, notification.Event{Kind: notification.ModeFailure, Mode: c.mode, At: time.Now()}.WithErr(err))
		}
		return err
	}
	c.session = sess
	slog.Info("broker client started", "mode", c.mode)
	return nil
}

// Close 关闭当前会话
func (c *Client) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close(ctx)
	c.session = nil
	return err
}

func (c *Client) Mode() exchange.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// Results 当前模式下累计的已实现盈亏
func (c *Client) Results() decimal.Decimal {
	c.resMu.Lock()
	defer c.resMu.Unlock()
	return c.results
}

func (c *Client) addResult(mode exchange.Mode, result decimal.Decimal) {
	c.resMu.Lock()
	c.results = c.results.Add(result)
	total := c.results
	c.resMu.Unlock()
	c.recorder.SetResult(string(mode), total.InexactFloat64())
}

// withSession 在读锁内执行 fn, fn 期间不会发生会话切换
func (c *Client) withSession(fn func(sess exchange.Session, mode exchange.Mode) error) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return errNotStarted
	}
	return fn(c.session, c.mode)
}

func (c *Client) refreshOnce(ctx context.Context) (exchange.Session, error) {
	var current exchange.Session
	err := c.withSession(func(sess exchange.Session, mode exchange.Mode) error {
		current = sess
		if err := c.wait(ctx); err != nil {
			return err
		}
		return sess.Refresh(ctx)
	})
	return current, err
}

// Refresh 同步会话状态. 鉴权过期或网络错误时重新登录一次再重试一次,
// 仍失败则抛出 ConnectionError
func (c *Client) Refresh(ctx context.Context) error {
	sess, err := c.refreshOnce(ctx)
	if err == nil {
		return nil
	}
	if sess != nil && errors.Is(err, exchange.ErrRequest) {
		slog.Warn("broker refresh failed, re-authenticating", "error", err)
		if err = c.reauth(ctx, sess); err == nil {
			_, err = c.refreshOnce(ctx)
		}
		if err == nil {
			return nil
		}
	}
	c.emit(ctx, notification.NewEvent(notification.ConnectionError).WithErr(err))
	return fmt.Errorf("refresh broker session: %w", err)
}

func (c *Client) reauth(ctx context.Context, stale exchange.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	// 其他调用方已经重新登录或切换了会话
	if c.session != stale {
		return nil
	}
	cred, err := c.creds.Credentials(ctx, c.mode)
	if err != nil {
		return err
	}
	if err := c.wait(ctx); err != nil {
		return err
	}
	return c.session.Login(ctx, cred)
}

// OpenPosition 开仓, 价格变动时立即重试, 返回仓位 id
func (c *Client) OpenPosition(ctx context.Context, pair exchange.TradingPair, side exchange.Side, quantity decimal.Decimal) (string, error) {
	ctx, cancel := c.detach(ctx)
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		return "", err
	}

	req := exchange.OpenPositionReq{TradingPair: pair, Side: side, Quantity: quantity}
	var id string
	err := c.withSession(func(sess exchange.Session, mode exchange.Mode) error {
		for attempt := 0; ; attempt++ {
			if err := c.wait(ctx); err != nil {
				return err
			}
			var err error
			id, err = sess.OpenPosition(ctx, req)
			if err == nil {
				c.recorder.IncOrder(string(mode), string(side), "ok")
				slog.Info("position opened", "symbol", pair, "side", side, "quantity", quantity, "id", id, "attempts", attempt+1)
				return nil
			}

			var qe *exchange.QuantityError
			switch {
			case errors.Is(err, exchange.ErrPriceChanged):
				if attempt >= c.maxPriceRetries {
					c.recorder.IncOrder(string(mode), string(side), "price_changed")
					return fmt.Errorf("open %s: price kept changing after %d attempts: %w", pair, attempt+1, err)
				}
				slog.Debug("price changed, retrying open", "symbol", pair, "attempt", attempt+1)
				continue
			case errors.As(err, &qe):
				c.recorder.IncOrder(string(mode), string(side), "quantity")
				return err
			case errors.Is(err, exchange.ErrMarketClosed):
				c.recorder.IncOrder(string(mode), string(side), "market_closed")
				c.emit(ctx, notification.Event{Kind: notification.MarketClosed, Symbol: pair, Mode: mode, At: time.Now()})
				return err
			case errors.Is(err, exchange.ErrProductUnavailable):
				c.recorder.IncOrder(string(mode), string(side), "unavailable")
				c.emit(ctx, notification.Event{Kind: notification.ProductUnavailable, Symbol: pair, Mode: mode, At: time.Now()})
				return err
			default:
				c.recorder.IncOrder(string(mode), string(side), "error")
				c.reporter.Report("broker", err, "op", "open", "symbol", pair.String(), "side", side)
				return err
			}
		}
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// closeOnce 平掉单个仓位, 没有报价时固定退避重试, 仓位不存在视为已平仓
func (c *Client) closeOnce(ctx context.Context, sess exchange.Session, mode exchange.Mode, pos exchange.Position) (decimal.Decimal, bool, error) {
	for attempt := 0; ; attempt++ {
		if err := c.wait(ctx); err != nil {
			return decimal.Zero, false, err
		}
		result, err := sess.ClosePosition(ctx, pos.Id)
		switch {
		case err == nil:
			c.recorder.IncClose(string(mode), "ok")
			return result, true, nil
		case errors.Is(err, exchange.ErrPositionNotFound):
			c.recorder.IncClose(string(mode), "not_found")
			slog.Info("position already closed", "id", pos.Id, "symbol", pos.TradingPair)
			return decimal.Zero, false, nil
		case errors.Is(err, exchange.ErrNoPrice):
			if attempt >= c.maxNoPriceRetries {
				c.recorder.IncClose(string(mode), "no_price")
				return decimal.Zero, false, fmt.Errorf("close %s: no price after %d attempts: %w", pos.Id, attempt+1, err)
			}
			schedule.Wait(ctx, c.noPriceBackoff)
			continue
		case errors.Is(err, exchange.ErrMarketClosed):
			c.recorder.IncClose(string(mode), "market_closed")
			c.emit(ctx, notification.Event{Kind: notification.MarketClosed, Symbol: pos.TradingPair, Mode: mode, At: time.Now()})
			return decimal.Zero, false, err
		default:
			c.recorder.IncClose(string(mode), "error")
			c.reporter.Report("broker", err, "op", "close", "id", pos.Id, "symbol", pos.TradingPair.String())
			return decimal.Zero, false, err
		}
	}
}

// ClosePosition 平仓并累计已实现盈亏. 快照来自已被替换的会话时返回 ErrStaleSession
func (c *Client) ClosePosition(ctx context.Context, pos exchange.Position) (decimal.Decimal, error) {
	if mode := c.Mode(); pos.Mode != "" && pos.Mode != mode {
		return decimal.Zero, fmt.Errorf("close %s (%s) under %s: %w", pos.Id, pos.Mode, mode, exchange.ErrStaleSession)
	}
	ctx, cancel := c.detach(ctx)
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		return decimal.Zero, err
	}

	var realized decimal.Decimal
	err := c.withSession(func(sess exchange.Session, mode exchange.Mode) error {
		// Refresh 之后可能发生了切换
		if pos.Mode != "" && pos.Mode != mode {
			return fmt.Errorf("close %s (%s) under %s: %w", pos.Id, pos.Mode, mode, exchange.ErrStaleSession)
		}
		result, found, err := c.closeOnce(ctx, sess, mode, pos)
		if err != nil {
			return err
		}
		event := notification.Event{Kind: notification.PositionClosed, Symbol: pos.TradingPair, Mode: mode, At: time.Now()}
		snapshot := pos
		event.Position = &snapshot
		if found {
			realized = result
			c.addResult(mode, result)
			event.Result = result
		} else {
			// 已被其他途径平仓, 盈亏不再累计, 通知里带上最后已知的结果
			event.Result = pos.Result
		}
		c.emit(ctx, event)
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return realized, nil
}

// CloseAll 平掉当前会话的所有仓位, 串行执行
func (c *Client) CloseAll(ctx context.Context) (decimal.Decimal, error) {
	c.closeAllMu.Lock()
	defer c.closeAllMu.Unlock()

	ctx, cancel := c.detach(ctx)
	defer cancel()
	if err := c.Refresh(ctx); err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	err := c.withSession(func(sess exchange.Session, mode exchange.Mode) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		positions, err := sess.Positions(ctx)
		if err != nil {
			return fmt.Errorf("list positions: %w", err)
		}
		var errs []error
		closed := 0
		for _, pos := range positions {
			result, found, err := c.closeOnce(ctx, sess, mode, pos)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if found {
				total = total.Add(result)
				closed++
			}
		}
		c.addResult(mode, total)
		c.emit(ctx, notification.Event{
			Kind:   notification.AllPositionsClosed,
			Count:  closed,
			Result: total,
			Mode:   mode,
			At:     time.Now(),
		})
		return errors.Join(errs...)
	})
	return total, err
}

// SwapMode 在 demo 和 live 之间切换
func (c *Client) SwapMode(ctx context.Context) error {
	return c.ChangeMode(ctx, c.Mode().Other())
}

// ChangeMode 切换到 mode: 新会话登录成功后才关闭旧会话, 并清零累计盈亏.
// 失败时保留旧会话. 切换到当前模式什么也不做
func (c *Client) ChangeMode(ctx context.Context, mode exchange.Mode) error {
	ctx, cancel := c.detach(ctx)
	defer cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if mode == c.mode && c.session != nil {
		slog.Info("broker already in requested mode", "mode", mode)
		return nil
	}

	sess, err := c.login(ctx, mode)
	if err != nil {
		c.emit(ctx, notification.Event{Kind: notification.ModeFailure, Mode: mode, At: time.Now()}.WithErr(err))
		return fmt.Errorf("change mode to %s: %w", mode, err)
	}
	if c.session != nil {
		if err := c.session.Close(ctx); err != nil {
			slog.Warn("failed to close previous session", "mode", c.mode, "error", err)
		}
	}
	previous := c.mode
	c.session = sess
	c.mode = mode

	c.resMu.Lock()
	c.results = decimal.Zero
	c.resMu.Unlock()
	c.recorder.SetResult(string(mode), 0)

	slog.Info("broker mode changed", "from", previous, "to", mode)
	c.emit(ctx, notification.Event{Kind: notification.ModeSwapped, Mode: mode, At: time.Now()})
	return nil
}

func (c *Client) Positions(ctx context.Context) ([]exchange.Position, error) {
	var positions []exchange.Position
	err := c.withSession(func(sess exchange.Session, mode exchange.Mode) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		var err error
		positions, err = sess.Positions(ctx)
		return err
	})
	return positions, err
}

func (c *Client) Funds(ctx context.Context) (exchange.Funds, error) {
	var funds exchange.Funds
	err := c.withSession(func(sess exchange.Session, mode exchange.Mode) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		var err error
		funds, err = sess.Funds(ctx)
		return err
	})
	return funds, err
}

func (c *Client) Margin(ctx context.Context, pair exchange.TradingPair, quantity decimal.Decimal) (decimal.Decimal, error) {
	var margin decimal.Decimal
	err := c.withSession(func(sess exchange.Session, mode exchange.Mode) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		var err error
		margin, err = sess.Margin(ctx, pair, quantity)
		return err
	})
	return margin, err
}

func (c *Client) MarketOpen(ctx context.Context, pair exchange.TradingPair) (bool, error) {
	var open bool
	err := c.withSession(func(sess exchange.Session, mode exchange.Mode) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		var err error
		open, err = sess.MarketOpen(ctx, pair)
		return err
	})
	return open, err
}

func (c *Client) Klines(ctx context.Context, req exchange.GetKlinesReq) ([]exchange.Kline, error) {
	var klines []exchange.Kline
	err := c.withSession(func(sess exchange.Session, mode exchange.Mode) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		var err error
		klines, err = sess.GetKlines(ctx, req)
		return err
	})
	return klines, err
}

func (c *Client) Ticker(ctx context.Context, pair exchange.TradingPair) (decimal.Decimal, error) {
	var price decimal.Decimal
	err := c.withSession(func(sess exchange.Session, mode exchange.Mode) error {
		if err := c.wait(ctx); err != nil {
			return err
		}
		var err error
		price, err = sess.Ticker(ctx, pair)
		return err
	})
	return price, err
}
