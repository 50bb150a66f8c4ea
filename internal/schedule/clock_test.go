package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWait(t *testing.T) {
	t.Run("full duration", func(t *testing.T) {
		start := time.Now()
		ok := Wait(context.Background(), 50*time.Millisecond)
		assert.True(t, ok)
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("already cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		start := time.Now()
		ok := Wait(ctx, time.Hour)
		assert.False(t, ok)
		assert.Less(t, time.Since(start), 10*time.Millisecond)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(30*time.Millisecond, cancel)
		start := time.Now()
		ok := Wait(ctx, time.Hour)
		elapsed := time.Since(start)
		assert.False(t, ok)
		assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
		assert.Less(t, elapsed, time.Second)
	})
}

func TestWaitUntil(t *testing.T) {
	testCases := []struct {
		name     string
		interval time.Duration
		spent    time.Duration
		cancelAt time.Duration
		min      time.Duration
		max      time.Duration
	}{
		{
			name:     "subtracts work time",
			interval: 200 * time.Millisecond,
			spent:    150 * time.Millisecond,
			min:      40 * time.Millisecond,
			max:      150 * time.Millisecond,
		},
		{
			name:     "overdue returns at once",
			interval: 50 * time.Millisecond,
			spent:    100 * time.Millisecond,
			max:      10 * time.Millisecond,
		},
		{
			name:     "cancel before deadline",
			interval: time.Hour,
			cancelAt: 40 * time.Millisecond,
			min:      40 * time.Millisecond,
			max:      time.Second,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			if tc.cancelAt > 0 {
				time.AfterFunc(tc.cancelAt, cancel)
			}
			start := time.Now().Add(-tc.spent)
			begin := time.Now()
			WaitUntil(ctx, tc.interval, start)
			elapsed := time.Since(begin)
			assert.GreaterOrEqual(t, elapsed, tc.min)
			assert.Less(t, elapsed, tc.max)
		})
	}
}

func TestEveryRecoversPanic(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		Every(ctx, "test", time.Millisecond, time.Millisecond, func(ctx context.Context) error {
			calls++
			if calls == 1 {
				panic("boom")
			}
			if calls == 3 {
				cancel()
			}
			return nil
		})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.Equal(t, 3, calls)
}
