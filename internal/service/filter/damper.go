package filter

import (
	"sync"
	"time"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
)

type Verdict string

const (
	Close Verdict = "close"
	Keep  Verdict = "keep"
)

type entry struct {
	retries   int
	firstSeen time.Time
}

// Damper 平仓迟滞: 亏损仓位第一次触发平仓后, 在 timeout 窗口内最多推迟 max 次,
// 次数用完或窗口结束才确认平仓. 盈利仓位直接平仓
type Damper struct {
	max     int
	timeout time.Duration
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

type DamperOption func(d *Damper)

func WithNow(now func() time.Time) DamperOption {
	return func(d *Damper) {
		d.now = now
	}
}

func NewDamper(max int, timeout time.Duration, opts ...DamperOption) *Damper {
	if max < 0 {
		max = 0
	}
	d := &Damper{
		max:     max,
		timeout: timeout,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check 对一次平仓触发给出最终判定
func (d *Damper) Check(pos exchange.Position) Verdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pos.Profitable() {
		delete(d.entries, pos.Id)
		return Close
	}

	now := d.now()
	e, ok := d.entries[pos.Id]
	if !ok {
		e = &entry{retries: d.max, firstSeen: now}
		d.entries[pos.Id] = e
	}
	if e.retries <= 0 || now.Sub(e.firstSeen) >= d.timeout {
		delete(d.entries, pos.Id)
		return Close
	}
	e.retries--
	return Keep
}

// Observe 检查器判定保持时调用, 仓位转为盈利则清掉推迟状态
func (d *Damper) Observe(pos exchange.Position) {
	if !pos.Profitable() {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, pos.Id)
}

// Forget 仓位已平仓
func (d *Damper) Forget(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.entries, id)
}

// Prune 清掉不在 liveIds 中的仓位状态
func (d *Damper) Prune(liveIds []string) {
	live := make(map[string]struct{}, len(liveIds))
	for _, id := range liveIds {
		live[id] = struct{}{}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for id := range d.entries {
		if _, ok := live[id]; !ok {
			delete(d.entries, id)
		}
	}
}

// Reset 清空全部状态
func (d *Damper) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries = make(map[string]*entry)
}

func (d *Damper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// Retries 剩余推迟次数, 未跟踪返回 false
func (d *Damper) Retries(id string) (int, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[id]
	if !ok {
		return 0, false
	}
	return e.retries, true
}
