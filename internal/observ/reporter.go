package observ

import (
	"fmt"
	"log/slog"
)

// ErrorReporter 错误出口, 只记录不抛出
type ErrorReporter interface {
	Report(component string, err error, kv ...any)
}

type reporter struct {
	logger  *slog.Logger
	metrics *Metrics
}

// NewErrorReporter metrics 可以为 nil
func NewErrorReporter(logger *slog.Logger, metrics *Metrics) ErrorReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &reporter{logger: logger, metrics: metrics}
}

func (r *reporter) Report(component string, err error, kv ...any) {
	defer func() {
		// 出口本身不能把异常带回核心流程
		if rec := recover(); rec != nil {
			slog.Error("error reporter panicked", "panic", fmt.Sprint(rec))
		}
	}()
	if err == nil {
		return
	}
	attrs := append([]any{"component", component, "error", err}, kv...)
	r.logger.Error("unrecoverable error", attrs...)
	if r.metrics != nil {
		r.metrics.IncError(component)
	}
}

// NopReporter 测试用
type NopReporter struct{}

func (NopReporter) Report(component string, err error, kv ...any) {}
