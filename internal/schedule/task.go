package schedule

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"time"
)

// Task 长期运行的任务, Run 只在 ctx 取消后返回
type Task interface {
	Run(ctx context.Context) error
	Name() string
}

// TickFunc 周期任务的单次执行
type TickFunc func(ctx context.Context) error

// Every 按固定节拍执行 tick 直到 ctx 取消,
// 单次 tick 报错或 panic 只记录日志, 冷却 cooldown 后继续, 循环不会自行退出
func Every(ctx context.Context, name string, interval, cooldown time.Duration, tick TickFunc) {
	for ctx.Err() == nil {
		start := time.Now()
		if err := safeTick(ctx, name, tick); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("tick failed, cooling down", "loop", name, "cooldown", cooldown, "error", err)
			Wait(ctx, cooldown)
			continue
		}
		WaitUntil(ctx, interval, start)
	}
}

var errPanic = errors.New("tick panicked")

func safeTick(ctx context.Context, name string, tick TickFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("recovered tick panic", "loop", name, "panic", r, "stack", string(debug.Stack()))
			err = errPanic
		}
	}()
	return tick(ctx)
}
