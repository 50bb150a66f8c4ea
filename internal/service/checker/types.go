package checker

import (
	"context"
	"errors"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
)

var (
	ErrUnknownChecker = errors.New("unknown checker")
	ErrNoLimit        = errors.New("checker needs gain or loss")
)

type Verdict string

const (
	Close    Verdict = "close"
	Keep     Verdict = "keep"
	CloseAll Verdict = "close_all"
)

// Decision 检查器对单个持仓或整个组合给出的决定
type Decision struct {
	Checker  string
	Verdict  Verdict
	Position exchange.Position
	// Positions 组合检查器看到的快照
	Positions []exchange.Position
}

type PositionChecker interface {
	Check(ctx context.Context, pos exchange.Position) (Verdict, error)
}

type PortfolioChecker interface {
	CheckAll(ctx context.Context, positions []exchange.Position) (Verdict, error)
}

// Evaluator 统一两类检查器, 只对传入快照中的持仓给出决定
type Evaluator interface {
	Evaluate(ctx context.Context, positions []exchange.Position) ([]Decision, error)
}

type eachPosition struct {
	checker PositionChecker
}

func EachPosition(c PositionChecker) Evaluator {
	return eachPosition{checker: c}
}

// Evaluate 单个持仓出错不影响其它持仓
func (e eachPosition) Evaluate(ctx context.Context, positions []exchange.Position) ([]Decision, error) {
	decisions := make([]Decision, 0, len(positions))
	var errs []error
	for _, pos := range positions {
		verdict, err := e.checker.Check(ctx, pos)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		decisions = append(decisions, Decision{Verdict: verdict, Position: pos})
	}
	return decisions, errors.Join(errs...)
}

type wholePortfolio struct {
	checker PortfolioChecker
}

func WholePortfolio(c PortfolioChecker) Evaluator {
	return wholePortfolio{checker: c}
}

func (w wholePortfolio) Evaluate(ctx context.Context, positions []exchange.Position) ([]Decision, error) {
	if len(positions) == 0 {
		return nil, nil
	}
	verdict, err := w.checker.CheckAll(ctx, positions)
	if err != nil {
		return nil, err
	}
	return []Decision{{Verdict: verdict, Positions: positions}}, nil
}

// Broker 检查循环需要的交易接口, broker.Client 满足
type Broker interface {
	Refresh(ctx context.Context) error
	Positions(ctx context.Context) ([]exchange.Position, error)
}

type Handler interface {
	HandleVerdict(ctx context.Context, d Decision) error
}

// Pruner 可选, 每个 tick 拿到存活持仓后清理过期状态
type Pruner interface {
	Prune(checker string, liveIds []string)
}
