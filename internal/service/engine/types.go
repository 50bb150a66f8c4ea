package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/KNICEX/trading-automaton/internal/config"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
)

type Engine interface {
	Start(ctx context.Context) error
	Stop() error
}

// Broker 自动交易需要的交易接口, broker.Client 满足
type Broker interface {
	Refresh(ctx context.Context) error
	Positions(ctx context.Context) ([]exchange.Position, error)
	MarketOpen(ctx context.Context, pair exchange.TradingPair) (bool, error)
	OpenPosition(ctx context.Context, pair exchange.TradingPair, side exchange.Side, quantity decimal.Decimal) (string, error)
	ClosePosition(ctx context.Context, pos exchange.Position) (decimal.Decimal, error)
}

type CycleRecorder interface {
	ObserveCycle(d time.Duration)
}

type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

type Status string

const (
	StatusInitiated Status = "initiated"
	StatusComposed  Status = "composed"
	StatusCompleted Status = "completed"
	StatusDiscarded Status = "discarded"
	StatusFailed    Status = "failed"
)

// Transaction 一个周期内对单个品种的开仓计划
// 状态只会从 Initiated/Composed 走到一个终态
type Transaction struct {
	Currency   config.Currency
	Side       exchange.Side
	Quantity   decimal.Decimal
	Score      float64
	Reason     string
	Status     Status
	PositionId string
	Err        error
}

func newTransaction(cur config.Currency) *Transaction {
	return &Transaction{Currency: cur, Status: StatusInitiated}
}

func (t *Transaction) Pair() exchange.TradingPair {
	return t.Currency.Pair
}

func (t *Transaction) final() bool {
	return t.Status == StatusCompleted || t.Status == StatusDiscarded || t.Status == StatusFailed
}

func (t *Transaction) compose(side exchange.Side, qty decimal.Decimal, score float64, reason string) {
	if t.Status != StatusInitiated {
		return
	}
	t.Side, t.Quantity, t.Score, t.Reason = side, qty, score, reason
	t.Status = StatusComposed
}

func (t *Transaction) discard(reason string) {
	if t.final() {
		return
	}
	t.Reason = reason
	t.Score = 0
	t.Status = StatusDiscarded
}

func (t *Transaction) fail(err error) {
	if t.final() {
		return
	}
	t.Err = err
	t.Status = StatusFailed
}

func (t *Transaction) complete(id string) {
	if t.Status != StatusComposed {
		return
	}
	t.PositionId = id
	t.Status = StatusCompleted
}

// Rank 取分数最高的 limit 个已组装交易, 其余组装好的交易被放弃
func Rank(txs []*Transaction, limit int) []*Transaction {
	composed := make([]*Transaction, 0, len(txs))
	for _, tx := range txs {
		if tx.Status == StatusComposed {
			composed = append(composed, tx)
		}
	}
	sort.SliceStable(composed, func(i, j int) bool {
		return composed[i].Score > composed[j].Score
	})
	if limit < 0 {
		limit = 0
	}
	if len(composed) <= limit {
		return composed
	}
	for _, tx := range composed[limit:] {
		tx.discard(fmt.Sprintf("ranked out, score %.4f", tx.Score))
	}
	return composed[:limit]
}
