package observ

import (
	"context"
	"time"

	"github.com/KNICEX/trading-automaton/internal/service/notification"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics 进程内的 prometheus 指标, 通过 /metrics 暴露
//
//	automaton_orders_total{mode,side,outcome}   开仓请求
//	automaton_closes_total{mode,outcome}        平仓请求
//	automaton_verdicts_total{checker,verdict}   检查器判定
//	automaton_events_total{kind}                处理链上传的事件
//	automaton_errors_total{component}           上报到错误出口的异常
//	automaton_result{mode}                      当前模式的累计盈亏
//	automaton_cycle_seconds                     单轮交易耗时
type Metrics struct {
	orders   *prometheus.CounterVec
	closes   *prometheus.CounterVec
	verdicts *prometheus.CounterVec
	events   *prometheus.CounterVec
	errors   *prometheus.CounterVec
	dropped  prometheus.Counter
	result   *prometheus.GaugeVec
	cycle    prometheus.Histogram
}

var _ notification.Notifier = (*Metrics)(nil)

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automaton_orders_total",
			Help: "Open position requests by outcome",
		}, []string{"mode", "side", "outcome"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automaton_closes_total",
			Help: "Close position requests by outcome",
		}, []string{"mode", "outcome"}),
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automaton_verdicts_total",
			Help: "Checker verdicts",
		}, []string{"checker", "verdict"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automaton_events_total",
			Help: "Events propagated to the mediator",
		}, []string{"kind"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "automaton_errors_total",
			Help: "Unrecoverable errors reported out of band",
		}, []string{"component"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "automaton_events_dropped_total",
			Help: "Events dropped because the notification buffer was full",
		}),
		result: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "automaton_result",
			Help: "Running net result of the active mode",
		}, []string{"mode"}),
		cycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "automaton_cycle_seconds",
			Help:    "Duration of one trading cycle",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}
	reg.MustRegister(m.orders, m.closes, m.verdicts, m.events, m.errors, m.dropped, m.result, m.cycle)
	return m
}

// RegisterLoops 以 GaugeFunc 暴露当前运行中的循环数量
func (m *Metrics) RegisterLoops(reg prometheus.Registerer, count func() int) {
	reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "automaton_loops_active",
		Help: "Loops currently registered",
	}, func() float64 {
		return float64(count())
	}))
}

func (m *Metrics) IncOrder(mode, side, outcome string) {
	m.orders.WithLabelValues(mode, side, outcome).Inc()
}

func (m *Metrics) IncClose(mode, outcome string) {
	m.closes.WithLabelValues(mode, outcome).Inc()
}

func (m *Metrics) IncVerdict(checker, verdict string) {
	m.verdicts.WithLabelValues(checker, verdict).Inc()
}

func (m *Metrics) IncError(component string) {
	m.errors.WithLabelValues(component).Inc()
}

func (m *Metrics) IncDropped() {
	m.dropped.Inc()
}

func (m *Metrics) SetResult(mode string, v float64) {
	m.result.WithLabelValues(mode).Set(v)
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	m.cycle.Observe(d.Seconds())
}

// Notify 统计事件, 同时同步累计盈亏
func (m *Metrics) Notify(ctx context.Context, event notification.Event) error {
	m.events.WithLabelValues(string(event.Kind)).Inc()
	if event.Kind == notification.ModeSwapped && event.Mode != "" {
		m.result.WithLabelValues(string(event.Mode)).Set(0)
	}
	return nil
}

func (m *Metrics) Name() string {
	return "metrics"
}
