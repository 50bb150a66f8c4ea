package positioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/KNICEX/trading-automaton/internal/schedule"
	"github.com/KNICEX/trading-automaton/internal/service/checker"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/internal/service/filter"
	"github.com/KNICEX/trading-automaton/internal/service/notification"
	"github.com/shopspring/decimal"
)

// Broker broker.Client 满足
type Broker interface {
	checker.Broker
	ClosePosition(ctx context.Context, pos exchange.Position) (decimal.Decimal, error)
	CloseAll(ctx context.Context) (decimal.Decimal, error)
}

type VerdictRecorder interface {
	IncVerdict(checker, verdict string)
}

type nopRecorder struct{}

func (nopRecorder) IncVerdict(checker, verdict string) {}

type watcher struct {
	name   string
	loop   *checker.Loop
	filter *filter.Wrapper
}

// Positioner 管理所有检查器循环, 把检查器的决定落到 broker 上
type Positioner struct {
	broker   Broker
	loops    *schedule.Registry
	parent   notification.Sink
	recorder VerdictRecorder
	cooldown time.Duration

	watchers []*watcher
	filters  map[string]*filter.Wrapper

	mu      sync.Mutex
	started bool

	inflightMu sync.Mutex
	inflight   map[string]struct{}
}

var (
	_ checker.Handler   = (*Positioner)(nil)
	_ checker.Pruner    = (*Positioner)(nil)
	_ notification.Sink = (*Positioner)(nil)
)

type Option func(p *Positioner)

func WithRecorder(recorder VerdictRecorder) Option {
	return func(p *Positioner) {
		p.recorder = recorder
	}
}

// WithCooldown 检查器 tick 出错后的冷却时间
func WithCooldown(d time.Duration) Option {
	return func(p *Positioner) {
		p.cooldown = d
	}
}

func New(cfg config.CheckersConfig, factories *checker.Registry, deps checker.Deps, broker Broker,
	loops *schedule.Registry, parent notification.Sink, opts ...Option) (*Positioner, error) {
	p := &Positioner{
		broker:   broker,
		loops:    loops,
		parent:   parent,
		recorder: nopRecorder{},
		cooldown: 10 * time.Second,
		filters:  make(map[string]*filter.Wrapper, len(cfg.Activate)),
		inflight: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, name := range cfg.Activate {
		cc, ok := cfg.Params[name]
		if !ok {
			return nil, fmt.Errorf("checker %s has no config", name)
		}
		if _, dup := p.filters[name]; dup {
			return nil, fmt.Errorf("checker %s activated twice", name)
		}
		evaluator, err := factories.New(cc, deps)
		if err != nil {
			return nil, fmt.Errorf("checker %s: %w", name, err)
		}
		w := &watcher{
			name:   name,
			filter: filter.NewWrapper(cc.Damper.Activate, filter.NewDamper(cc.Damper.Max, cc.Damper.Timeout)),
		}
		w.loop = checker.NewLoop(name, evaluator, broker, p, cc.Sleep, p.cooldown)
		p.watchers = append(p.watchers, w)
		p.filters[name] = w.filter
	}
	return p, nil
}

func (p *Positioner) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("positioner already started")
		return nil
	}
	for _, w := range p.watchers {
		p.loops.Spawn(ctx, w.loop)
	}
	p.started = true
	slog.Info("positioner started", "checkers", len(p.watchers))
	return nil
}

// Stop 停止并等待所有检查器循环, 重复调用无副作用
func (p *Positioner) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		slog.Warn("positioner not running")
		return
	}
	for _, w := range p.watchers {
		p.loops.Stop(w.loop.Name())
	}
	p.started = false
	slog.Info("positioner stopped")
}

func (p *Positioner) Checkers() []string {
	names := make([]string, 0, len(p.watchers))
	for _, w := range p.watchers {
		names = append(names, w.name)
	}
	return names
}

func (p *Positioner) HandleVerdict(ctx context.Context, d checker.Decision) error {
	p.recorder.IncVerdict(d.Checker, string(d.Verdict))
	w := p.filters[d.Checker]

	switch d.Verdict {
	case checker.Close:
		if w != nil && w.Filter(d.Position) == filter.Keep {
			slog.Debug("close deferred by damper", "checker", d.Checker, "position", d.Position.Id)
			return nil
		}
		return p.closePosition(ctx, d)
	case checker.Keep:
		if w != nil {
			w.Observe(d.Position)
		}
		return nil
	case checker.CloseAll:
		total, err := p.broker.CloseAll(ctx)
		for _, f := range p.filters {
			f.Reset()
		}
		if err != nil {
			return fmt.Errorf("close all by %s: %w", d.Checker, err)
		}
		slog.Info("closed all positions", "checker", d.Checker, "result", total)
		return nil
	default:
		slog.Warn("unknown verdict", "checker", d.Checker, "verdict", d.Verdict)
		event := notification.NewEvent(notification.UnknownVerdict)
		event.Err = fmt.Sprintf("checker %s returned %q", d.Checker, d.Verdict)
		if d.Position.Id != "" {
			snapshot := d.Position
			event.Position = &snapshot
			event.Symbol = d.Position.TradingPair
		}
		p.Handle(ctx, event)
		return nil
	}
}

// closePosition 同一持仓同时只有一个平仓请求, 其余直接忽略
func (p *Positioner) closePosition(ctx context.Context, d checker.Decision) error {
	id := d.Position.Id
	p.inflightMu.Lock()
	if _, ok := p.inflight[id]; ok {
		p.inflightMu.Unlock()
		slog.Debug("close already in flight", "checker", d.Checker, "position", id)
		return nil
	}
	p.inflight[id] = struct{}{}
	p.inflightMu.Unlock()
	defer func() {
		p.inflightMu.Lock()
		delete(p.inflight, id)
		p.inflightMu.Unlock()
	}()

	result, err := p.broker.ClosePosition(ctx, d.Position)
	if errors.Is(err, exchange.ErrStaleSession) {
		slog.Info("skip close of stale position", "checker", d.Checker, "position", id)
		p.forget(id)
		return nil
	}
	if err != nil {
		return fmt.Errorf("close %s by %s: %w", id, d.Checker, err)
	}
	p.forget(id)
	slog.Info("position closed", "checker", d.Checker, "position", id,
		"symbol", d.Position.TradingPair, "result", result)
	return nil
}

func (p *Positioner) forget(id string) {
	for _, f := range p.filters {
		f.Forget(id)
	}
}

func (p *Positioner) Prune(checkerName string, liveIds []string) {
	if f, ok := p.filters[checkerName]; ok {
		f.Prune(liveIds)
	}
}

// Handle 检查器链上的事件交给上级
func (p *Positioner) Handle(ctx context.Context, event notification.Event) {
	p.parent.Handle(ctx, event)
}
