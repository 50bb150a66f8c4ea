package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/KNICEX/trading-automaton/internal/schedule"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/internal/service/notification"
	"github.com/KNICEX/trading-automaton/internal/service/portfolio"
	"github.com/KNICEX/trading-automaton/internal/service/predict"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

const LoopName = "automaton"

type nopRecorder struct{}

func (nopRecorder) ObserveCycle(d time.Duration) {}

// Automaton 周期性地预测, 组装并执行开仓
type Automaton struct {
	cfg       config.AutomatonConfig
	broker    Broker
	predictor predict.Predictor
	sizer     portfolio.Sizer
	preserver *portfolio.Preserver
	executor  *Executor
	loops     *schedule.Registry
	parent    notification.Sink
	recorder  CycleRecorder

	state   atomic.Int32
	stateMu sync.Mutex

	// cycleMu 保证同一时间只有一个周期在执行
	cycleMu sync.Mutex
	last    []Transaction
}

var (
	_ Engine            = (*Automaton)(nil)
	_ notification.Sink = (*Automaton)(nil)
)

type Option func(a *Automaton)

func WithRecorder(recorder CycleRecorder) Option {
	return func(a *Automaton) {
		a.recorder = recorder
	}
}

func NewAutomaton(cfg config.AutomatonConfig, broker Broker, predictor predict.Predictor, sizer portfolio.Sizer,
	preserver *portfolio.Preserver, loops *schedule.Registry, parent notification.Sink, opts ...Option) *Automaton {
	if cfg.PredictConcurrency <= 0 {
		cfg.PredictConcurrency = 4
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 10 * time.Second
	}
	if cfg.MarketBackoff <= 0 {
		cfg.MarketBackoff = time.Minute
	}
	a := &Automaton{
		cfg:       cfg,
		broker:    broker,
		predictor: predictor,
		sizer:     sizer,
		preserver: preserver,
		executor:  NewExecutor(broker, preserver, cfg.FixTrend),
		loops:     loops,
		parent:    parent,
		recorder:  nopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Automaton) State() State {
	return State(a.state.Load())
}

func (a *Automaton) Start(ctx context.Context) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.State() == StateRunning {
		slog.Warn("automaton already running")
		return nil
	}
	a.state.Store(int32(StateRunning))
	a.loops.Go(ctx, LoopName, a.run)
	slog.Info("automaton started", "interval", a.cfg.Interval, "currencies", len(a.cfg.Currencies))
	return nil
}

func (a *Automaton) Stop() error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	if a.State() != StateRunning {
		slog.Warn("automaton not running", "state", a.State())
		return nil
	}
	a.loops.Stop(LoopName)
	a.state.Store(int32(StateStopped))
	slog.Info("automaton stopped")
	return nil
}

func (a *Automaton) run(ctx context.Context) {
	if a.cfg.StartDelay > 0 {
		slog.Info("automaton waiting for start", "delay", a.cfg.StartDelay)
		if !schedule.Wait(ctx, a.cfg.StartDelay) {
			return
		}
	}
	schedule.Every(ctx, LoopName, a.cfg.Interval, a.cfg.Cooldown, a.RunCycle)
}

// LastTransactions 最近一个周期的交易快照
func (a *Automaton) LastTransactions() []Transaction {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()
	return append([]Transaction(nil), a.last...)
}

// RunCycle 执行一个完整周期: 等待开市, 组装, 排序, 执行
func (a *Automaton) RunCycle(ctx context.Context) error {
	a.cycleMu.Lock()
	defer a.cycleMu.Unlock()

	currencies, ok := a.waitMarkets(ctx)
	if !ok {
		return nil
	}
	start := time.Now()
	defer func() {
		a.recorder.ObserveCycle(time.Since(start))
	}()

	txs := a.compose(ctx, currencies)
	defer func() {
		a.last = lo.Map(txs, func(tx *Transaction, _ int) Transaction { return *tx })
	}()

	if err := a.broker.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh before execute: %w", err)
	}
	positions, err := a.broker.Positions(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	slots := a.cfg.ConcurrentMovements - len(positions)
	selected := Rank(txs, slots)
	if ctx.Err() != nil {
		// 已停止, 不再执行
		for _, tx := range selected {
			tx.discard("automaton stopped")
		}
		return nil
	}

	opened := a.execute(ctx, selected)
	slog.Info("cycle completed", "composed", len(txs), "selected", len(selected), "opened", opened,
		"open_positions", len(positions))
	event := notification.NewEvent(notification.PositionsOpened)
	event.Count = opened
	a.Handle(ctx, event)
	return nil
}

// waitMarkets 没有开市的品种或连接出错时等待 market_backoff 后重试, 不算一个周期
func (a *Automaton) waitMarkets(ctx context.Context) ([]config.Currency, bool) {
	for ctx.Err() == nil {
		open, err := a.openCurrencies(ctx)
		switch {
		case err != nil:
			slog.Warn("check markets failed, backing off", "backoff", a.cfg.MarketBackoff, "error", err)
		case len(open) == 0:
			slog.Info("no market open, backing off", "backoff", a.cfg.MarketBackoff)
		default:
			return open, true
		}
		if !schedule.Wait(ctx, a.cfg.MarketBackoff) {
			break
		}
	}
	return nil, false
}

func (a *Automaton) openCurrencies(ctx context.Context) ([]config.Currency, error) {
	open := make([]config.Currency, 0, len(a.cfg.Currencies))
	for _, cur := range a.cfg.Currencies {
		if a.preserver != nil && !a.preserver.Allowed(cur) {
			slog.Debug("skip high risk currency", "symbol", cur.Pair)
			continue
		}
		ok, err := a.broker.MarketOpen(ctx, cur.Pair)
		if errors.Is(err, exchange.ErrConnection) || errors.Is(err, exchange.ErrRequest) {
			return nil, err
		}
		if err != nil {
			slog.Warn("check market failed", "symbol", cur.Pair, "error", err)
			continue
		}
		if ok {
			open = append(open, cur)
		}
	}
	return open, nil
}

func (a *Automaton) compose(ctx context.Context, currencies []config.Currency) []*Transaction {
	txs := lo.Map(currencies, func(cur config.Currency, _ int) *Transaction {
		return newTransaction(cur)
	})

	var eg errgroup.Group
	eg.SetLimit(a.cfg.PredictConcurrency)
	for _, tx := range txs {
		tx := tx
		eg.Go(func() error {
			a.composeOne(ctx, tx)
			return nil
		})
	}
	_ = eg.Wait()
	return txs
}

func (a *Automaton) composeOne(ctx context.Context, tx *Transaction) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered compose panic", "symbol", tx.Pair(), "panic", r)
			tx.fail(fmt.Errorf("compose panic: %v", r))
		}
	}()
	if ctx.Err() != nil {
		tx.discard("automaton stopped")
		return
	}

	signal, err := a.predictor.Predict(ctx, tx.Pair(), a.cfg.Count, a.cfg.TimeframeInterval())
	if err != nil {
		slog.Warn("predict failed", "symbol", tx.Pair(), "error", err)
		tx.fail(err)
		return
	}
	side, ok := signal.Action.Side()
	if !ok {
		slog.Debug("transaction discarded", "symbol", tx.Pair(), "reason", signal.Reason)
		tx.discard(signal.Reason)
		return
	}

	size, err := a.sizer.Size(ctx, tx.Currency, a.cfg.ConcurrentMovements)
	if err != nil {
		slog.Warn("size failed", "symbol", tx.Pair(), "error", err)
		tx.fail(err)
		return
	}
	if !size.Validated {
		tx.discard(size.Reason)
		return
	}
	tx.compose(side, size.Quantity, signal.Score, signal.Reason)
}

func (a *Automaton) execute(ctx context.Context, txs []*Transaction) int {
	var eg errgroup.Group
	eg.SetLimit(max(len(txs), 1))
	for _, tx := range txs {
		tx := tx
		eg.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("recovered execute panic", "symbol", tx.Pair(), "panic", r)
					tx.fail(fmt.Errorf("execute panic: %v", r))
				}
			}()
			if err := a.executor.Execute(ctx, tx); err != nil {
				slog.Warn("transaction failed", "symbol", tx.Pair(), "error", err)
			}
			return nil
		})
	}
	_ = eg.Wait()
	return lo.CountBy(txs, func(tx *Transaction) bool {
		return tx.Status == StatusCompleted
	})
}

// Handle 自动交易产生的事件交给上级
func (a *Automaton) Handle(ctx context.Context, event notification.Event) {
	a.parent.Handle(ctx, event)
}
