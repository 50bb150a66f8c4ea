package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/KNICEX/trading-automaton/internal/entity"
	"github.com/KNICEX/trading-automaton/internal/repo"
	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

func NewAnalyzer(trades repo.TradeRepo) *Analyzer {
	return &Analyzer{
		trades: trades,
		now:    time.Now,
	}
}

// Analyzer 基于交易日志生成绩效报告
type Analyzer struct {
	trades repo.TradeRepo
	now    func() time.Time
}

func (a *Analyzer) Analyze(ctx context.Context, mode exchange.Mode) (Report, error) {
	closed, err := a.trades.FindClosed(ctx, string(mode))
	if err != nil {
		return Report{}, fmt.Errorf("load closed trades: %w", err)
	}
	report := Build(closed)
	report.Mode = mode
	report.GeneratedAt = a.now()
	return report, nil
}

// ========== 性能报告（输出结果）==========

// Report 完整的性能分析报告
type Report struct {
	Mode      exchange.Mode
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	TotalPnL decimal.Decimal

	// 交易统计
	Trading TradingMetrics

	// 风险指标
	Risk RiskMetrics

	Equity []EquityPoint // 资金曲线

	// 生成时间
	GeneratedAt time.Time
}

func (r Report) String() string {
	bs, err := json.Marshal(r)
	if err != nil {
		return ""
	}
	return string(bs)
}

// TradingMetrics 交易统计
type TradingMetrics struct {
	TotalTrades     int
	WinningTrades   int
	LosingTrades    int
	BreakevenTrades int

	WinRate      decimal.Decimal // 胜率
	AvgWin       decimal.Decimal // 平均盈利
	AvgLoss      decimal.Decimal // 平均亏损
	ProfitFactor decimal.Decimal // 盈亏比（总盈利/总亏损）

	LargestWin  decimal.Decimal
	LargestLoss decimal.Decimal

	LongTrades   int
	ShortTrades  int
	LongWinRate  decimal.Decimal
	ShortWinRate decimal.Decimal
}

// RiskMetrics 风险指标
type RiskMetrics struct {
	MaxDrawdown        decimal.Decimal // 最大回撤, 以累计盈亏计
	MaxDrawdownPercent decimal.Decimal // 相对峰值的回撤比例, 峰值不为正时为0
}

// EquityPoint 资金曲线点
type EquityPoint struct {
	Timestamp time.Time
	Balance   decimal.Decimal
	Drawdown  decimal.Decimal
}

// Build 从按时间升序的平仓记录计算报告, 无法解析的 result 视为0
func Build(closed []entity.Trade) Report {
	var report Report
	if len(closed) == 0 {
		return report
	}
	report.StartTime = closed[0].CreatedAt
	report.EndTime = closed[len(closed)-1].CreatedAt
	report.Duration = report.EndTime.Sub(report.StartTime)

	results := lo.Map(closed, func(t entity.Trade, _ int) decimal.Decimal {
		d, err := decimal.NewFromString(t.Result)
		if err != nil {
			return decimal.Zero
		}
		return d
	})

	report.Trading = tradingMetrics(closed, results)
	report.Equity, report.Risk = equityCurve(closed, results)
	report.TotalPnL = report.Equity[len(report.Equity)-1].Balance
	return report
}

func tradingMetrics(closed []entity.Trade, results []decimal.Decimal) TradingMetrics {
	m := TradingMetrics{TotalTrades: len(closed)}
	grossWin, grossLoss := decimal.Zero, decimal.Zero
	var longWins, shortWins int
	for i, res := range results {
		switch res.Sign() {
		case 1:
			m.WinningTrades++
			grossWin = grossWin.Add(res)
			m.LargestWin = decimal.Max(m.LargestWin, res)
		case -1:
			m.LosingTrades++
			grossLoss = grossLoss.Add(res.Neg())
			m.LargestLoss = decimal.Min(m.LargestLoss, res)
		default:
			m.BreakevenTrades++
		}

		switch exchange.Side(closed[i].Side) {
		case exchange.Buy:
			m.LongTrades++
			if res.IsPositive() {
				longWins++
			}
		case exchange.Sell:
			m.ShortTrades++
			if res.IsPositive() {
				shortWins++
			}
		}
	}

	m.WinRate = ratio(m.WinningTrades, m.TotalTrades)
	m.LongWinRate = ratio(longWins, m.LongTrades)
	m.ShortWinRate = ratio(shortWins, m.ShortTrades)
	if m.WinningTrades > 0 {
		m.AvgWin = grossWin.Div(decimal.NewFromInt(int64(m.WinningTrades)))
	}
	if m.LosingTrades > 0 {
		m.AvgLoss = grossLoss.Div(decimal.NewFromInt(int64(m.LosingTrades))).Neg()
	}
	if grossLoss.IsPositive() {
		m.ProfitFactor = grossWin.Div(grossLoss)
	}
	return m
}

func equityCurve(closed []entity.Trade, results []decimal.Decimal) ([]EquityPoint, RiskMetrics) {
	var risk RiskMetrics
	equity := make([]EquityPoint, 0, len(results))
	balance, peak := decimal.Zero, decimal.Zero
	for i, res := range results {
		balance = balance.Add(res)
		peak = decimal.Max(peak, balance)
		drawdown := peak.Sub(balance)
		equity = append(equity, EquityPoint{
			Timestamp: closed[i].CreatedAt,
			Balance:   balance,
			Drawdown:  drawdown,
		})
		if drawdown.GreaterThan(risk.MaxDrawdown) {
			risk.MaxDrawdown = drawdown
			if peak.IsPositive() {
				risk.MaxDrawdownPercent = drawdown.Div(peak)
			}
		}
	}
	return equity, risk
}

func ratio(n, total int) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(n)).Div(decimal.NewFromInt(int64(total)))
}
