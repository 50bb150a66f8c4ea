package repo

import (
	"context"
	"github.com/KNICEX/trading-automaton/internal/entity"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type TradeRepo interface {
	Create(ctx context.Context, trade entity.Trade) (int64, error)
	FindRecent(ctx context.Context, limit int) ([]entity.Trade, error)
	FindByPositionId(ctx context.Context, positionId string) ([]entity.Trade, error)
	// FindClosed 某模式下全部平仓记录, 按时间升序
	FindClosed(ctx context.Context, mode string) ([]entity.Trade, error)
	// SumResult 某模式下已平仓的累计盈亏
	SumResult(ctx context.Context, mode string) (decimal.Decimal, error)
}

type tradeRepo struct {
	db *gorm.DB
}

func NewTradeRepo(db *gorm.DB) TradeRepo {
	return &tradeRepo{
		db: db,
	}
}

func (r *tradeRepo) Create(ctx context.Context, trade entity.Trade) (int64, error) {
	err := r.db.WithContext(ctx).Create(&trade).Error
	if err != nil {
		return 0, err
	}
	return trade.Id, nil
}

func (r *tradeRepo) FindRecent(ctx context.Context, limit int) ([]entity.Trade, error) {
	var trades []entity.Trade
	err := r.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit).Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}

func (r *tradeRepo) FindByPositionId(ctx context.Context, positionId string) ([]entity.Trade, error) {
	var trades []entity.Trade
	err := r.db.WithContext(ctx).Where("position_id = ?", positionId).Order("id").Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}

func (r *tradeRepo) FindClosed(ctx context.Context, mode string) ([]entity.Trade, error) {
	var trades []entity.Trade
	err := r.db.WithContext(ctx).
		Where("mode = ? AND kind = ?", mode, entity.TradeKindClosed).
		Order("created_at, id").Find(&trades).Error
	if err != nil {
		return nil, err
	}
	return trades, nil
}

func (r *tradeRepo) SumResult(ctx context.Context, mode string) (decimal.Decimal, error) {
	var results []string
	err := r.db.WithContext(ctx).Model(&entity.Trade{}).
		Where("mode = ? AND kind = ?", mode, entity.TradeKindClosed).
		Pluck("result", &results).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, res := range results {
		d, err := decimal.NewFromString(res)
		if err != nil {
			continue
		}
		total = total.Add(d)
	}
	return total, nil
}
