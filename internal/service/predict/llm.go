package predict

import (
	"context"
	"fmt"
	"strings"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/KNICEX/trading-automaton/internal/service/llm"
)

// LLM 把最近的K线交给大模型判断方向
type LLM struct {
	source KlineSource
	svc    llm.Service
	// maxKlines 控制 prompt 长度
	maxKlines int
}

var _ Predictor = (*LLM)(nil)

type LLMOption func(p *LLM)

func WithMaxKlines(n int) LLMOption {
	return func(p *LLM) {
		if n > 0 {
			p.maxKlines = n
		}
	}
}

func NewLLM(source KlineSource, svc llm.Service, opts ...LLMOption) *LLM {
	p := &LLM{
		source:    source,
		svc:       svc,
		maxKlines: 60,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type llmReply struct {
	Action string  `json:"action"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
}

func (p *LLM) Predict(ctx context.Context, pair exchange.TradingPair, count int, interval exchange.Interval) (Signal, error) {
	klines, err := fetch(ctx, p.source, pair, min(count, p.maxKlines), interval)
	if err != nil {
		return Signal{}, err
	}
	if len(klines) < 2 {
		return Discard("too little klines"), nil
	}

	answer, err := p.svc.AskOnce(ctx, llm.Question{Content: buildPrompt(pair, interval, klines)})
	if err != nil {
		return Signal{}, fmt.Errorf("ask llm %s: %w", pair, err)
	}
	var reply llmReply
	if err = llm.ExtractJSON(answer, &reply); err != nil {
		return Signal{}, err
	}
	action, err := ParseAction(strings.ToLower(strings.TrimSpace(reply.Action)))
	if err != nil {
		return Signal{}, err
	}
	if action == ActionDiscard {
		return Discard(reply.Reason), nil
	}
	return Signal{
		Action: action,
		Score:  min(max(reply.Score, 0), 1),
		Reason: reply.Reason,
	}, nil
}

func buildPrompt(pair exchange.TradingPair, interval exchange.Interval, klines []exchange.Kline) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "这是交易对 %s 最近的 %s K线数据(开盘时间,开,高,低,收,成交量):\n", pair.ToSlashString(), interval)
	for _, k := range klines {
		fmt.Fprintf(&sb, "%s,%s,%s,%s,%s,%s\n", k.OpenTime.UTC().Format("2006-01-02 15:04"),
			k.Open, k.High, k.Low, k.Close, k.Volume)
	}
	sb.WriteString("请判断下一个周期应该做多(buy), 做空(sell), 还是观望(discard), " +
		"没有明确趋势时请选择观望, 并给出一个0-1的置信度(score)以及原因(reason), 请按如下json格式回复我: " +
		`{"action": "buy | sell | discard", "score": 0-1, "reason": "判断的原因"}`)
	return sb.String()
}
