package checker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/internal/service/predict"
)

const (
	TypeRelative      = "relative"
	TypeReversion     = "reversion"
	TypeFixed         = "fixed"
	TypeTotalFixed    = "totalfixed"
	TypeTotalRelative = "totalrelative"
)

// Deps 构造检查器需要的外部依赖
type Deps struct {
	Klines predict.KlineSource
	Band   predict.BandProvider
	// 自动交易的周期和K线数量, 检查器未配置时沿用
	Timeframe exchange.Interval
	Count     int
}

type Factory func(cfg config.CheckerConfig, deps Deps) (Evaluator, error)

type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry 注册了全部内置检查器
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register(TypeRelative, newRelative)
	_ = r.Register(TypeReversion, newReversion)
	_ = r.Register(TypeFixed, newFixed)
	_ = r.Register(TypeTotalFixed, newPortfolio(AggregateSum))
	_ = r.Register(TypeTotalRelative, newPortfolio(AggregateMean))
	return r
}

func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("checker %s already registered", name)
	}
	r.factories[name] = f
	return nil
}

// New 按 cfg.Type 构造检查器
func (r *Registry) New(cfg config.CheckerConfig, deps Deps) (Evaluator, error) {
	r.mu.RLock()
	f, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChecker, cfg.Type)
	}
	e, err := f(cfg, deps)
	if err != nil {
		return nil, fmt.Errorf("build checker %s: %w", cfg.Type, err)
	}
	return e, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func timeframeOf(cfg config.CheckerConfig, deps Deps) exchange.Interval {
	if cfg.Timeframe != "" {
		return exchange.Interval(cfg.Timeframe)
	}
	return deps.Timeframe
}

func newRelative(cfg config.CheckerConfig, deps Deps) (Evaluator, error) {
	count := cfg.Count
	if count <= 0 {
		count = deps.Count
	}
	c, err := NewRangeThreshold(deps.Klines, count, timeframeOf(cfg, deps), cfg.Gain, cfg.Loss)
	if err != nil {
		return nil, err
	}
	return EachPosition(c), nil
}

func newReversion(cfg config.CheckerConfig, deps Deps) (Evaluator, error) {
	if deps.Band == nil {
		return nil, fmt.Errorf("reversion checker needs a band provider")
	}
	timeframe := timeframeOf(cfg, deps)
	count := cfg.Count
	if count <= 0 {
		count = ReversionCount(deps.Timeframe, timeframe, deps.Count)
	}
	return EachPosition(NewMeanReversionBand(deps.Klines, deps.Band, count, timeframe)), nil
}

func newFixed(cfg config.CheckerConfig, deps Deps) (Evaluator, error) {
	c, err := NewFixedThreshold(cfg.Gain, cfg.Loss)
	if err != nil {
		return nil, err
	}
	return EachPosition(c), nil
}

func newPortfolio(aggregate Aggregate) Factory {
	return func(cfg config.CheckerConfig, deps Deps) (Evaluator, error) {
		c, err := NewPortfolioThreshold(aggregate, cfg.Gain, cfg.Loss)
		if err != nil {
			return nil, err
		}
		return WholePortfolio(c), nil
	}
}
