package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/internal/service/portfolio"
	"github.com/samber/lo"
)

type Executor struct {
	broker    Broker
	preserver *portfolio.Preserver
	// fixTrend 开仓前先平掉同品种反方向的仓位
	fixTrend bool
}

func NewExecutor(broker Broker, preserver *portfolio.Preserver, fixTrend bool) *Executor {
	return &Executor{broker: broker, preserver: preserver, fixTrend: fixTrend}
}

// Execute 执行一个已组装的交易, 结果记录在 tx 上
func (e *Executor) Execute(ctx context.Context, tx *Transaction) error {
	if tx.Status != StatusComposed {
		return nil
	}
	pair := tx.Pair()

	if e.fixTrend {
		if err := e.fixOpposite(ctx, pair, tx.Side); err != nil {
			slog.Warn("fix trend failed", "symbol", pair, "error", err)
		}
	}

	if e.preserver != nil {
		ok, err := e.preserver.CheckMargin(ctx, pair, tx.Quantity)
		if err != nil {
			slog.Warn("margin check failed", "symbol", pair, "error", err)
		} else if !ok {
			slog.Warn("transaction may fail due to missing funds", "symbol", pair, "quantity", tx.Quantity)
		}
	}

	id, err := e.broker.OpenPosition(ctx, pair, tx.Side, tx.Quantity)
	if err != nil {
		tx.fail(err)
		var qe *exchange.QuantityError
		if errors.As(err, &qe) {
			slog.Warn("quantity out of bounds", "symbol", pair, "quantity", tx.Quantity, "bound", qe.Bound, "limit", qe.Limit)
		}
		return fmt.Errorf("open %s %s: %w", pair, tx.Side, err)
	}
	tx.complete(id)
	slog.Info("transaction completed", "symbol", pair, "side", tx.Side, "quantity", tx.Quantity,
		"score", tx.Score, "position", id)
	return nil
}

func (e *Executor) fixOpposite(ctx context.Context, pair exchange.TradingPair, side exchange.Side) error {
	if err := e.broker.Refresh(ctx); err != nil {
		return err
	}
	positions, err := e.broker.Positions(ctx)
	if err != nil {
		return err
	}
	opposite := lo.Filter(positions, func(pos exchange.Position, _ int) bool {
		return pos.TradingPair == pair && pos.Side == side.Opposite()
	})
	var errs []error
	for _, pos := range opposite {
		slog.Info("fixing trend", "symbol", pair, "position", pos.Id, "side", pos.Side)
		if _, err := e.broker.ClosePosition(ctx, pos); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
