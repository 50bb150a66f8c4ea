package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
)

type Kind string

const (
	PositionsOpened    Kind = "positions_opened"
	PositionClosed     Kind = "position_closed"
	AllPositionsClosed Kind = "all_positions_closed"
	MarketClosed       Kind = "market_closed"
	ProductUnavailable Kind = "product_unavailable"
	MissingCredentials Kind = "missing_credentials"
	ModeFailure        Kind = "mode_failure"
	ConnectionError    Kind = "connection_error"
	ModeSwapped        Kind = "mode_swapped"
	UnknownVerdict     Kind = "unknown_verdict"
)

// Event 沿处理链向上传递的事件
type Event struct {
	Kind     Kind                 `json:"kind"`
	Symbol   exchange.TradingPair `json:"symbol,omitempty"`
	Position *exchange.Position   `json:"position,omitempty"`
	Count    int                  `json:"count,omitempty"`
	Result   decimal.Decimal      `json:"result"`
	Mode     exchange.Mode        `json:"mode,omitempty"`
	Err      string               `json:"error,omitempty"`
	At       time.Time            `json:"at"`
}

func NewEvent(kind Kind) Event {
	return Event{Kind: kind, At: time.Now()}
}

func (e Event) WithErr(err error) Event {
	if err != nil {
		e.Err = err.Error()
	}
	return e
}

// Message 面向用户的可读文本
func (e Event) Message() string {
	switch e.Kind {
	case PositionsOpened:
		return fmt.Sprintf("opened %d positions", e.Count)
	case PositionClosed:
		if e.Position != nil {
			return fmt.Sprintf("closed %s %s position %s, result %s",
				e.Position.TradingPair, e.Position.Side, e.Position.Id, e.Result.StringFixed(2))
		}
		return fmt.Sprintf("closed position, result %s", e.Result.StringFixed(2))
	case AllPositionsClosed:
		return fmt.Sprintf("closed %d positions, total result %s", e.Count, e.Result.StringFixed(2))
	case MarketClosed:
		return fmt.Sprintf("market closed for %s", e.Symbol)
	case ProductUnavailable:
		return fmt.Sprintf("product %s unavailable", e.Symbol)
	case MissingCredentials:
		return fmt.Sprintf("missing or invalid credentials for %s mode", e.Mode)
	case ModeFailure:
		return fmt.Sprintf("failed to switch to %s mode: %s", e.Mode, e.Err)
	case ConnectionError:
		return fmt.Sprintf("connection error: %s", e.Err)
	case ModeSwapped:
		return fmt.Sprintf("switched to %s mode", e.Mode)
	default:
		return fmt.Sprintf("%s event", e.Kind)
	}
}

// Sink 处理链中的一环, 处理不了的事件交给上级
type Sink interface {
	Handle(ctx context.Context, event Event)
}

type SinkFunc func(ctx context.Context, event Event)

func (f SinkFunc) Handle(ctx context.Context, event Event) {
	f(ctx, event)
}

// Discard 丢弃所有事件, 用于没有上级的组件
var Discard Sink = SinkFunc(func(ctx context.Context, event Event) {})

// Notifier 面向用户的通知出口
type Notifier interface {
	Notify(ctx context.Context, event Event) error
	Name() string
}

type WebhookService interface {
	Send(ctx context.Context, url string, data map[string]any) error
}
