package notification

import (
	"context"

	"github.com/KNICEX/trading-automaton/internal/entity"
	"github.com/KNICEX/trading-automaton/internal/repo"
)

// journalNotifier 把开平仓事件写入交易日志, 其余事件忽略
type journalNotifier struct {
	repo repo.TradeRepo
}

func NewJournalNotifier(repo repo.TradeRepo) Notifier {
	return &journalNotifier{repo: repo}
}

func (j *journalNotifier) Notify(ctx context.Context, event Event) error {
	trade := entity.Trade{
		BaseSymbol:  event.Symbol.Base,
		QuoteSymbol: event.Symbol.Quote,
		Result:      event.Result.String(),
		Mode:        string(event.Mode),
		Count:       event.Count,
		Message:     event.Message(),
		CreatedAt:   event.At,
	}
	switch event.Kind {
	case PositionsOpened:
		trade.Kind = entity.TradeKindOpened
	case PositionClosed:
		trade.Kind = entity.TradeKindClosed
		if p := event.Position; p != nil {
			trade.BaseSymbol = p.TradingPair.Base
			trade.QuoteSymbol = p.TradingPair.Quote
			trade.PositionId = p.Id
			trade.Side = string(p.Side)
			trade.Quantity = p.Quantity.String()
			trade.OpenPrice = p.OpenPrice.String()
			trade.ClosePrice = p.CurrentPrice.String()
			if trade.Mode == "" {
				trade.Mode = string(p.Mode)
			}
		}
	case AllPositionsClosed:
		trade.Kind = entity.TradeKindClosedAll
	default:
		return nil
	}
	_, err := j.repo.Create(ctx, trade)
	return err
}

func (j *journalNotifier) Name() string {
	return "journal"
}
