package exchange

import (
	"context"

	"github.com/shopspring/decimal"
)

// Credentials 某个模式下的登录凭证
type Credentials struct {
	ApiKey    string `mapstructure:"api_key"`
	ApiSecret string `mapstructure:"api_secret"`
}

func (c Credentials) Empty() bool {
	return c.ApiKey == "" || c.ApiSecret == ""
}

// CredentialProvider 凭证来源, 某模式未配置时返回 ErrMissingCredentials
type CredentialProvider interface {
	Credentials(ctx context.Context, mode Mode) (Credentials, error)
}

type OpenPositionReq struct {
	TradingPair TradingPair
	Side        Side
	Quantity    decimal.Decimal
}

// Session 单个模式下的经纪商会话, 同一时刻只有一个处于活跃状态
type Session interface {
	MarketService

	Mode() Mode
	Login(ctx context.Context, cred Credentials) error
	// Refresh 同步会话状态, 鉴权过期或网络错误返回 ErrRequest
	Refresh(ctx context.Context) error
	Close(ctx context.Context) error

	Positions(ctx context.Context) ([]Position, error)
	Funds(ctx context.Context) (Funds, error)
	// OpenPosition 市价开仓, 返回仓位 id
	OpenPosition(ctx context.Context, req OpenPositionReq) (string, error)
	// ClosePosition 市价平仓, 返回已实现盈亏
	ClosePosition(ctx context.Context, id string) (decimal.Decimal, error)
	// Margin 持有 quantity 数量所需保证金
	Margin(ctx context.Context, tradingPair TradingPair, quantity decimal.Decimal) (decimal.Decimal, error)
	MarketOpen(ctx context.Context, tradingPair TradingPair) (bool, error)
}

// SessionFactory 按模式创建新会话, 模式未配置返回 ErrModeNotConfigured
type SessionFactory interface {
	NewSession(ctx context.Context, mode Mode) (Session, error)
}

type SessionFactoryFunc func(ctx context.Context, mode Mode) (Session, error)

func (f SessionFactoryFunc) NewSession(ctx context.Context, mode Mode) (Session, error) {
	return f(ctx, mode)
}
