package checker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/KNICEX/trading-automaton/internal/schedule"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/samber/lo"
)

// Loop 单个检查器的轮询循环
type Loop struct {
	name      string
	evaluator Evaluator
	broker    Broker
	handler   Handler
	sleep     time.Duration
	cooldown  time.Duration
}

var _ schedule.Task = (*Loop)(nil)

func NewLoop(name string, evaluator Evaluator, broker Broker, handler Handler, sleep, cooldown time.Duration) *Loop {
	if cooldown <= 0 {
		cooldown = 10 * time.Second
	}
	return &Loop{
		name:      name,
		evaluator: evaluator,
		broker:    broker,
		handler:   handler,
		sleep:     sleep,
		cooldown:  cooldown,
	}
}

func (l *Loop) Name() string {
	return "checker/" + l.name
}

func (l *Loop) Run(ctx context.Context) error {
	slog.Info("checker started", "checker", l.name, "sleep", l.sleep)
	schedule.Every(ctx, l.Name(), l.sleep, l.cooldown, l.Tick)
	slog.Info("checker stopped", "checker", l.name)
	return nil
}

// Tick 刷新一次持仓快照并分发决定
func (l *Loop) Tick(ctx context.Context) error {
	if err := l.broker.Refresh(ctx); err != nil {
		return fmt.Errorf("refresh: %w", err)
	}
	positions, err := l.broker.Positions(ctx)
	if err != nil {
		return fmt.Errorf("positions: %w", err)
	}
	if p, ok := l.handler.(Pruner); ok {
		p.Prune(l.name, lo.Map(positions, func(pos exchange.Position, _ int) string {
			return pos.Id
		}))
	}

	decisions, err := l.evaluator.Evaluate(ctx, positions)
	if err != nil {
		slog.Warn("checker evaluate failed", "checker", l.name, "error", err)
	}
	for _, d := range decisions {
		if ctx.Err() != nil {
			return nil
		}
		d.Checker = l.name
		if err := l.handler.HandleVerdict(ctx, d); err != nil {
			slog.Error("handle verdict failed", "checker", l.name, "verdict", d.Verdict,
				"position", d.Position.Id, "error", err)
		}
	}
	return nil
}
