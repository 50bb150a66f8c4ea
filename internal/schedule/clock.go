package schedule

import (
	"context"
	"time"
)

// Wait 阻塞 d 时长, ctx 取消时立即返回 false, 完整等待返回 true
func Wait(ctx context.Context, d time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if d <= 0 {
		return true
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// WaitUntil 等到 start+interval, 扣除本轮已耗时间, 保证周期不漂移
func WaitUntil(ctx context.Context, interval time.Duration, start time.Time) bool {
	return Wait(ctx, interval-time.Since(start))
}
