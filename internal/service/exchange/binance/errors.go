package binance

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
)

type quantityLimits struct {
	min decimal.Decimal
	max decimal.Decimal
}

// mapError 把币安错误码映射到统一的错误分类
// 参考: https://developers.binance.com/docs/derivatives/usds-margined-futures/error-code
func mapError(err error, limits *quantityLimits) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -2014, -2015, -1022:
			return fmt.Errorf("%w: %w", exchange.ErrInvalidCredentials, err)
		case -1021, -1001, -1003, -1007:
			return fmt.Errorf("%w: %w", exchange.ErrRequest, err)
		case -4131:
			return fmt.Errorf("%w: %w", exchange.ErrPriceChanged, err)
		case -1008:
			return fmt.Errorf("%w: %w", exchange.ErrNoPrice, err)
		case -4003, -1013, -4164:
			qe := &exchange.QuantityError{Bound: exchange.QuantityMin}
			if limits != nil {
				qe.Limit = limits.min
			}
			return qe
		case -4005:
			qe := &exchange.QuantityError{Bound: exchange.QuantityMax}
			if limits != nil {
				qe.Limit = limits.max
			}
			return qe
		case -1121:
			return fmt.Errorf("%w: %w", exchange.ErrProductUnavailable, err)
		case -4140:
			return fmt.Errorf("%w: %w", exchange.ErrMarketClosed, err)
		case -2022:
			return fmt.Errorf("%w: %w", exchange.ErrPositionNotFound, err)
		}
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %w", exchange.ErrRequest, err)
	}
	return err
}
