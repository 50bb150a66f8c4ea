package schedule

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"
)

const defaultJoinTimeout = 30 * time.Second

type loop struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// join 等待循环退出, 超时返回 false
func (l *loop) join(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-l.done:
		return true
	case <-timer.C:
		return false
	}
}

// Registry 管理所有周期循环, 只有 Stop/StopAll 能结束循环
type Registry struct {
	// 串行化注册, 同一 id 不会同时存在两个循环
	regMu sync.Mutex

	mu    sync.Mutex
	loops map[string]*loop

	joinTimeout time.Duration
}

type RegistryOption func(r *Registry)

// WithJoinTimeout 替换旧循环或单个 Stop 时等待退出的最长时间
func WithJoinTimeout(timeout time.Duration) RegistryOption {
	return func(r *Registry) {
		r.joinTimeout = timeout
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		loops:       make(map[string]*loop),
		joinTimeout: defaultJoinTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Go 启动循环, 同 id 已存在时先取消并等待旧循环退出再替换.
// 循环 ctx 继承 parent 的值但不继承 parent 的取消
func (r *Registry) Go(parent context.Context, id string, fn func(ctx context.Context)) {
	r.regMu.Lock()
	defer r.regMu.Unlock()

	if old := r.detach(id); old != nil {
		old.cancel()
		if !old.join(r.joinTimeout) {
			slog.Warn("previous loop did not exit in time, replacing anyway", "loop", id, "timeout", r.joinTimeout)
		}
	}

	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	l := &loop{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.loops[id] = l
	r.mu.Unlock()

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				slog.Error("loop panicked and exited", "loop", id, "panic", rec, "stack", string(debug.Stack()))
			}
			r.mu.Lock()
			if r.loops[id] == l {
				delete(r.loops, id)
			}
			r.mu.Unlock()
			cancel()
			close(l.done)
		}()
		fn(ctx)
	}()
}

// Spawn 以 task.Name() 为 id 启动任务
func (r *Registry) Spawn(parent context.Context, task Task) {
	name := task.Name()
	r.Go(parent, name, func(ctx context.Context) {
		if err := task.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("task exited with error", "task", name, "error", err)
		}
	})
}

func (r *Registry) detach(id string) *loop {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.loops[id]
	if !ok {
		return nil
	}
	delete(r.loops, id)
	return l
}

// Stop 取消并等待单个循环, id 不存在返回 false
func (r *Registry) Stop(id string) bool {
	l := r.detach(id)
	if l == nil {
		return false
	}
	l.cancel()
	if !l.join(r.joinTimeout) {
		slog.Warn("loop did not exit in time", "loop", id, "timeout", r.joinTimeout)
	}
	return true
}

// StopAll 先取消全部循环再统一等待, 返回超时未退出的循环 id
func (r *Registry) StopAll(timeout time.Duration) []string {
	r.mu.Lock()
	loops := r.loops
	r.loops = make(map[string]*loop)
	r.mu.Unlock()

	for _, l := range loops {
		l.cancel()
	}

	deadline := time.Now().Add(timeout)
	var stuck []string
	for id, l := range loops {
		remaining := time.Until(deadline)
		if remaining < time.Millisecond {
			remaining = time.Millisecond
		}
		if !l.join(remaining) {
			stuck = append(stuck, id)
		}
	}
	sort.Strings(stuck)
	if len(stuck) > 0 {
		slog.Error("loops did not exit before shutdown timeout", "loops", stuck, "timeout", timeout)
	} else {
		slog.Info("all loops stopped", "count", len(loops))
	}
	return stuck
}

// Active 当前运行中的循环 id, 已排序
func (r *Registry) Active() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.loops))
	for id := range r.loops {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) Running(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.loops[id]
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.loops)
}
