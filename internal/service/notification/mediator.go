package notification

import (
	"context"
	"log/slog"
	"time"
)

const (
	defaultBuffer        = 128
	defaultNotifyTimeout = 10 * time.Second
)

// Mediator 处理链顶端, 非阻塞地把事件分发给所有 Notifier.
// 缓冲区满时直接丢弃事件, 核心流程不等待通知确认
type Mediator struct {
	notifiers []Notifier
	events    chan Event
	timeout   time.Duration
	onDrop    func(event Event)
}

var _ Sink = (*Mediator)(nil)

type MediatorOption func(m *Mediator)

func WithBuffer(size int) MediatorOption {
	return func(m *Mediator) {
		if size > 0 {
			m.events = make(chan Event, size)
		}
	}
}

func WithNotifyTimeout(timeout time.Duration) MediatorOption {
	return func(m *Mediator) {
		m.timeout = timeout
	}
}

// WithDropHook 事件因缓冲区满被丢弃时回调
func WithDropHook(fn func(event Event)) MediatorOption {
	return func(m *Mediator) {
		m.onDrop = fn
	}
}

func NewMediator(notifiers []Notifier, opts ...MediatorOption) *Mediator {
	m := &Mediator{
		notifiers: notifiers,
		events:    make(chan Event, defaultBuffer),
		timeout:   defaultNotifyTimeout,
		onDrop:    func(event Event) {},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Mediator) Handle(ctx context.Context, event Event) {
	select {
	case m.events <- event:
	default:
		slog.Warn("notification buffer full, dropping event", "kind", event.Kind)
		m.onDrop(event)
	}
}

// Run 消费事件直到 ctx 取消, 取消后把缓冲区剩余事件发完
func (m *Mediator) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case event := <-m.events:
			m.dispatch(event)
		}
	}
}

func (m *Mediator) drain() {
	for {
		select {
		case event := <-m.events:
			m.dispatch(event)
		default:
			return
		}
	}
}

func (m *Mediator) dispatch(event Event) {
	for _, n := range m.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := n.Notify(ctx, event); err != nil {
			slog.Error("notifier failed", "notifier", n.Name(), "kind", event.Kind, "error", err)
		}
		cancel()
	}
}
