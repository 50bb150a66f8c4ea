package exchange

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// 可重试错误, 在单次调用内部本地重试
var (
	ErrPriceChanged = errors.New("price changed")
	ErrNoPrice      = errors.New("no price available")
	ErrRequest      = errors.New("request failed")
)

// 单项终止错误, 只中止当前这一笔开平仓
var (
	ErrMarketClosed       = errors.New("market closed")
	ErrProductUnavailable = errors.New("product unavailable")
	ErrPositionNotFound   = errors.New("position not found")
)

// 会话级错误, 向上抛给通知链
var (
	ErrMissingCredentials = errors.New("missing credentials")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrModeNotConfigured  = errors.New("mode not configured")
	ErrConnection         = errors.New("connection error")
	ErrStaleSession       = errors.New("position snapshot belongs to a replaced session")
)

type QuantityBound string

const (
	QuantityMin QuantityBound = "min"
	QuantityMax QuantityBound = "max"
)

// QuantityError 下单数量越界, 同样的数量重试必然失败
type QuantityError struct {
	Bound QuantityBound
	Limit decimal.Decimal
}

func (e *QuantityError) Error() string {
	return fmt.Sprintf("quantity out of range: %s %s", e.Bound, e.Limit)
}

// IsTransient 判断错误是否可以本地重试
func IsTransient(err error) bool {
	return errors.Is(err, ErrPriceChanged) || errors.Is(err, ErrNoPrice) || errors.Is(err, ErrRequest)
}
