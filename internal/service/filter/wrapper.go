package filter

import "github.com/KNICEX/trading-automaton/internal/service/exchange"

// Wrapper 包装检查器的平仓判定, 关闭时所有平仓判定直接通过
type Wrapper struct {
	enabled bool
	damper  *Damper
}

func NewWrapper(enabled bool, damper *Damper) *Wrapper {
	if damper == nil {
		enabled = false
	}
	return &Wrapper{enabled: enabled, damper: damper}
}

func (w *Wrapper) Enabled() bool {
	return w.enabled
}

func (w *Wrapper) Filter(pos exchange.Position) Verdict {
	if !w.enabled {
		return Close
	}
	return w.damper.Check(pos)
}

func (w *Wrapper) Observe(pos exchange.Position) {
	if w.enabled {
		w.damper.Observe(pos)
	}
}

func (w *Wrapper) Forget(id string) {
	if w.enabled {
		w.damper.Forget(id)
	}
}

func (w *Wrapper) Prune(liveIds []string) {
	if w.enabled {
		w.damper.Prune(liveIds)
	}
}

func (w *Wrapper) Reset() {
	if w.enabled {
		w.damper.Reset()
	}
}
