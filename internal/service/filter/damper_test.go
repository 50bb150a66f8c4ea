package filter

import (
	"testing"
	"time"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func position(id string, result int64) exchange.Position {
	return exchange.Position{Id: id, Result: decimal.NewFromInt(result)}
}

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time {
	return c.t
}

func TestDamperExhaustsBudget(t *testing.T) {
	d := NewDamper(2, time.Hour)
	losing := position("p1", -5)

	got := []Verdict{d.Check(losing), d.Check(losing), d.Check(losing)}
	assert.Equal(t, []Verdict{Keep, Keep, Close}, got)
	assert.Equal(t, 0, d.Len())
}

func TestDamperRetriesNeverIncrease(t *testing.T) {
	d := NewDamper(3, time.Hour)
	losing := position("p1", -1)
	prev := 4
	for i := 0; i < 3; i++ {
		d.Check(losing)
		r, ok := d.Retries("p1")
		assert.True(t, ok)
		assert.Less(t, r, prev)
		prev = r
	}
}

func TestDamperProfitableClearsWithoutClose(t *testing.T) {
	d := NewDamper(2, time.Hour)

	assert.Equal(t, Keep, d.Check(position("p1", -5)))
	assert.Equal(t, 1, d.Len())

	// 检查器第二次判定保持, 仓位已经转为盈利
	d.Observe(position("p1", 3))
	assert.Equal(t, 0, d.Len())

	// 再次亏损重新开始计数
	assert.Equal(t, Keep, d.Check(position("p1", -1)))
	r, _ := d.Retries("p1")
	assert.Equal(t, 1, r)
}

func TestDamperProfitableCloseImmediately(t *testing.T) {
	d := NewDamper(5, time.Hour)
	assert.Equal(t, Keep, d.Check(position("p1", -1)))
	assert.Equal(t, Close, d.Check(position("p1", 2)))
	assert.Equal(t, 0, d.Len())
}

func TestDamperTimeoutWindow(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	d := NewDamper(10, time.Minute, WithNow(clock.now))
	losing := position("p1", -1)

	assert.Equal(t, Keep, d.Check(losing))
	clock.t = clock.t.Add(30 * time.Second)
	assert.Equal(t, Keep, d.Check(losing))
	clock.t = clock.t.Add(30 * time.Second)
	assert.Equal(t, Close, d.Check(losing))
}

func TestDamperZeroMaxClosesAtOnce(t *testing.T) {
	d := NewDamper(0, time.Hour)
	assert.Equal(t, Close, d.Check(position("p1", -1)))
	assert.Equal(t, 0, d.Len())
}

func TestDamperPrune(t *testing.T) {
	d := NewDamper(3, time.Hour)
	d.Check(position("a", -1))
	d.Check(position("b", -1))
	d.Check(position("c", -1))
	d.Prune([]string{"b"})
	assert.Equal(t, 1, d.Len())
	_, ok := d.Retries("b")
	assert.True(t, ok)

	d.Forget("b")
	assert.Equal(t, 0, d.Len())
}

func TestWrapper(t *testing.T) {
	disabled := NewWrapper(false, NewDamper(3, time.Hour))
	assert.Equal(t, Close, disabled.Filter(position("p1", -1)))

	enabled := NewWrapper(true, NewDamper(1, time.Hour))
	assert.Equal(t, Keep, enabled.Filter(position("p1", -1)))
	assert.Equal(t, Close, enabled.Filter(position("p1", -1)))

	assert.False(t, NewWrapper(true, nil).Enabled())
}
