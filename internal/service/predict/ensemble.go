package predict

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"golang.org/x/sync/errgroup"
)

type Member struct {
	Name      string
	Predictor Predictor
	Weight    float64
}

// Ensemble 按权重投票
// 方向分 = 买入权重和 - 卖出权重和, 相对强度 = |方向分| / 总权重,
// 低于 threshold 放弃, 否则分数 = 同向成员加权分数 / 总权重 * 相对强度
type Ensemble struct {
	members   []Member
	threshold float64
}

var _ Predictor = (*Ensemble)(nil)

func NewEnsemble(threshold float64, members ...Member) (*Ensemble, error) {
	if len(members) == 0 {
		return nil, errors.New("ensemble without members")
	}
	for _, m := range members {
		if m.Weight <= 0 {
			return nil, fmt.Errorf("ensemble member %s: weight must be positive", m.Name)
		}
	}
	return &Ensemble{members: members, threshold: threshold}, nil
}

func (e *Ensemble) Predict(ctx context.Context, pair exchange.TradingPair, count int, interval exchange.Interval) (Signal, error) {
	signals := make([]Signal, len(e.members))
	errs := make([]error, len(e.members))

	var eg errgroup.Group
	for i, m := range e.members {
		i, m := i, m
		eg.Go(func() error {
			signals[i], errs[i] = m.Predictor.Predict(ctx, pair, count, interval)
			return nil
		})
	}
	_ = eg.Wait()

	var (
		direction, positive, negative, weights float64
		reasons                                []string
		failed                                 int
	)
	for i, m := range e.members {
		weights += m.Weight
		if errs[i] != nil {
			// 失败的成员视为观望
			failed++
			slog.Warn("ensemble member failed", "member", m.Name, "symbol", pair, "error", errs[i])
			continue
		}
		s := signals[i]
		switch s.Action {
		case ActionBuy:
			direction += m.Weight
			positive += s.Score * m.Weight
		case ActionSell:
			direction -= m.Weight
			negative += s.Score * m.Weight
		}
		reasons = append(reasons, fmt.Sprintf("%s=%s", m.Name, s.Action))
	}
	if failed == len(e.members) {
		return Signal{}, fmt.Errorf("all ensemble members failed: %w", errors.Join(errs...))
	}

	reason := strings.Join(reasons, ",")
	strength := abs(direction) / weights
	if strength < e.threshold || direction == 0 {
		return Discard(fmt.Sprintf("weak strength %.2f (%s)", strength, reason)), nil
	}
	if direction > 0 {
		return Signal{Action: ActionBuy, Score: positive / weights * strength, Reason: reason}, nil
	}
	return Signal{Action: ActionSell, Score: negative / weights * strength, Reason: reason}, nil
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
