package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/KNICEX/trading-automaton/internal/service/exchange"
	"github.com/spf13/viper"
)

type Config struct {
	Log       LogConfig       `mapstructure:"log"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	DB        DBConfig        `mapstructure:"db"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Automaton AutomatonConfig `mapstructure:"automaton"`
	Preserver PreserverConfig `mapstructure:"preserver"`
	Checkers  CheckersConfig  `mapstructure:"checkers"`
	Predictor PredictorConfig `mapstructure:"predictor"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

type BrokerConfig struct {
	Mode        string                          `mapstructure:"mode"`
	Credentials map[string]exchange.Credentials `mapstructure:"credentials"`
	Demo        struct {
		// paper: 本地模拟盘, binance: 合约测试网
		Backend string `mapstructure:"backend"`
	} `mapstructure:"demo"`
	Paper             PaperConfig   `mapstructure:"paper"`
	RateLimit         float64       `mapstructure:"rate_limit"`
	MaxPriceRetries   int           `mapstructure:"max_price_retries"`
	MaxNoPriceRetries int           `mapstructure:"max_no_price_retries"`
	NoPriceBackoff    time.Duration `mapstructure:"no_price_backoff"`
}

type PaperConfig struct {
	Balance     float64 `mapstructure:"balance"`
	Leverage    int     `mapstructure:"leverage"`
	MinQuantity float64 `mapstructure:"min_quantity"`
	MaxQuantity float64 `mapstructure:"max_quantity"`
	// binance: 使用币安公开行情, mock: 随机游走行情
	Feed string `mapstructure:"feed"`
}

// Currency 可交易品种
type Currency struct {
	Symbol   string  `mapstructure:"symbol"`
	Quantity float64 `mapstructure:"quantity"`
	// Risk 风险等级, 1 为高风险
	Risk int `mapstructure:"risk"`

	Pair exchange.TradingPair `mapstructure:"-"`
}

func (c Currency) HighRisk() bool {
	return c.Risk == 1
}

type AutomatonConfig struct {
	Interval            time.Duration `mapstructure:"interval"`
	Count               int           `mapstructure:"count"`
	Timeframe           string        `mapstructure:"timeframe"`
	Currencies          []Currency    `mapstructure:"currencies"`
	ConcurrentMovements int           `mapstructure:"concurrent_movements"`
	FixTrend            bool          `mapstructure:"fix_trend"`
	// fixed: 按品种配置数量, margin: 按可用保证金计算
	Sizing             string        `mapstructure:"sizing"`
	MarketBackoff      time.Duration `mapstructure:"market_backoff"`
	StartDelay         time.Duration `mapstructure:"start_delay"`
	Cooldown           time.Duration `mapstructure:"cooldown"`
	PredictConcurrency int           `mapstructure:"predict_concurrency"`
}

func (a AutomatonConfig) TimeframeInterval() exchange.Interval {
	return exchange.Interval(a.Timeframe)
}

type PreserverConfig struct {
	// FundsRisk 允许用作保证金的资金比例
	FundsRisk     float64 `mapstructure:"funds_risk"`
	AllowHighRisk bool    `mapstructure:"allow_high_risk"`
}

type DamperConfig struct {
	Activate bool          `mapstructure:"activate"`
	Max      int           `mapstructure:"max"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type CheckerConfig struct {
	// Type 策略类型, 为空时取检查器名字
	Type      string        `mapstructure:"type"`
	Sleep     time.Duration `mapstructure:"sleep"`
	Gain      *float64      `mapstructure:"gain"`
	Loss      *float64      `mapstructure:"loss"`
	Count     int           `mapstructure:"count"`
	Timeframe string        `mapstructure:"timeframe"`
	Damper    DamperConfig  `mapstructure:"damper"`
}

type CheckersConfig struct {
	Activate []string `mapstructure:"activate"`
	// Params 按名字加载的检查器参数, 来自 checkers.<name>
	Params map[string]CheckerConfig `mapstructure:"-"`
}

type PredictorConfig struct {
	Kind          string `mapstructure:"kind"`
	MeanReversion struct {
		Multiplier float64 `mapstructure:"multiplier"`
		Period     int     `mapstructure:"period"`
	} `mapstructure:"mean_reversion"`
	SMA struct {
		Short int `mapstructure:"short"`
		Long  int `mapstructure:"long"`
	} `mapstructure:"sma"`
	LLM struct {
		Model string `mapstructure:"model"`
	} `mapstructure:"llm"`
	Ensemble struct {
		Weights map[string]float64 `mapstructure:"weights"`
		// Threshold 相对强度低于该值时放弃
		Threshold float64 `mapstructure:"threshold"`
	} `mapstructure:"ensemble"`
}

type NotifyConfig struct {
	Buffer  int    `mapstructure:"buffer"`
	Webhook string `mapstructure:"webhook"`
}

const (
	SizingFixed  = "fixed"
	SizingMargin = "margin"

	BackendPaper   = "paper"
	BackendBinance = "binance"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("http.addr", ":9090")
	v.SetDefault("db.dsn", "trading.db")

	v.SetDefault("broker.mode", string(exchange.ModeDemo))
	v.SetDefault("broker.demo.backend", BackendPaper)
	v.SetDefault("broker.paper.balance", 10000)
	v.SetDefault("broker.paper.leverage", 20)
	v.SetDefault("broker.paper.min_quantity", 0.001)
	v.SetDefault("broker.paper.max_quantity", 1000)
	v.SetDefault("broker.paper.feed", "binance")
	v.SetDefault("broker.rate_limit", 10)
	v.SetDefault("broker.max_price_retries", 20)
	v.SetDefault("broker.max_no_price_retries", 10)
	v.SetDefault("broker.no_price_backoff", time.Second)

	v.SetDefault("automaton.interval", 15*time.Minute)
	v.SetDefault("automaton.count", 100)
	v.SetDefault("automaton.timeframe", string(exchange.Interval15m))
	v.SetDefault("automaton.concurrent_movements", 3)
	v.SetDefault("automaton.sizing", SizingFixed)
	v.SetDefault("automaton.market_backoff", time.Minute)
	v.SetDefault("automaton.cooldown", 10*time.Second)
	v.SetDefault("automaton.predict_concurrency", 4)

	v.SetDefault("preserver.funds_risk", 0.5)

	v.SetDefault("predictor.kind", "mean_reversion")
	v.SetDefault("predictor.mean_reversion.multiplier", 2.0)
	v.SetDefault("predictor.mean_reversion.period", 20)
	v.SetDefault("predictor.sma.short", 7)
	v.SetDefault("predictor.sma.long", 25)
	v.SetDefault("predictor.llm.model", "gemini-1.5-flash")

	v.SetDefault("notify.buffer", 128)
}

// checkerDefaults maxSet 表示配置里显式给出了 damper.max, 0 也是合法值
func checkerDefaults(cc *CheckerConfig, name string, maxSet bool) {
	if cc.Type == "" {
		cc.Type = name
	}
	if cc.Sleep <= 0 {
		cc.Sleep = 30 * time.Second
	}
	if !maxSet {
		cc.Damper.Max = 3
	}
	if cc.Damper.Timeout <= 0 {
		cc.Damper.Timeout = 5 * time.Minute
	}
}

// Load 读取配置, 补全默认值并校验
func Load(v *viper.Viper) (Config, error) {
	setDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Checkers.Params = make(map[string]CheckerConfig, len(cfg.Checkers.Activate))
	for _, name := range cfg.Checkers.Activate {
		var cc CheckerConfig
		if err := v.UnmarshalKey("checkers."+name, &cc); err != nil {
			return Config{}, fmt.Errorf("unmarshal checker %s: %w", name, err)
		}
		checkerDefaults(&cc, name, v.IsSet("checkers."+name+".damper.max"))
		cfg.Checkers.Params[name] = cc
	}

	for i, c := range cfg.Automaton.Currencies {
		pair, err := exchange.ParseTradingPair(c.Symbol)
		if err != nil {
			return Config{}, fmt.Errorf("currency %d: %w", i, err)
		}
		cfg.Automaton.Currencies[i].Pair = pair
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := exchange.ParseMode(c.Broker.Mode); err != nil {
		errs = append(errs, fmt.Errorf("broker.mode: %w", err))
	}
	switch c.Broker.Demo.Backend {
	case BackendPaper, BackendBinance:
	default:
		errs = append(errs, fmt.Errorf("broker.demo.backend: unknown backend %q", c.Broker.Demo.Backend))
	}
	if c.Automaton.Interval <= 0 {
		errs = append(errs, errors.New("automaton.interval must be positive"))
	}
	if c.Automaton.TimeframeInterval().Duration() == 0 {
		errs = append(errs, fmt.Errorf("automaton.timeframe: unknown interval %q", c.Automaton.Timeframe))
	}
	if c.Automaton.ConcurrentMovements <= 0 {
		errs = append(errs, errors.New("automaton.concurrent_movements must be positive"))
	}
	if len(c.Automaton.Currencies) == 0 {
		errs = append(errs, errors.New("automaton.currencies is empty"))
	}
	switch c.Automaton.Sizing {
	case SizingFixed:
		for _, cur := range c.Automaton.Currencies {
			if cur.Quantity <= 0 {
				errs = append(errs, fmt.Errorf("automaton.currencies: %s needs a positive quantity for fixed sizing", cur.Symbol))
			}
		}
	case SizingMargin:
	default:
		errs = append(errs, fmt.Errorf("automaton.sizing: unknown policy %q", c.Automaton.Sizing))
	}
	if c.Preserver.FundsRisk <= 0 || c.Preserver.FundsRisk > 1 {
		errs = append(errs, errors.New("preserver.funds_risk must be in (0, 1]"))
	}
	for name, cc := range c.Checkers.Params {
		if cc.Damper.Max < 0 {
			errs = append(errs, fmt.Errorf("checkers.%s.damper.max must not be negative", name))
		}
		if cc.Timeframe != "" && exchange.Interval(cc.Timeframe).Duration() == 0 {
			errs = append(errs, fmt.Errorf("checkers.%s.timeframe: unknown interval %q", name, cc.Timeframe))
		}
	}
	return errors.Join(errs...)
}

// Currency 按交易对查找配置
func (c Config) Currency(pair exchange.TradingPair) (Currency, bool) {
	for _, cur := range c.Automaton.Currencies {
		if cur.Pair == pair {
			return cur, true
		}
	}
	return Currency{}, false
}
