package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Log            LoggingConfig        `yaml:"log"`
	Chain          ChainConfig          `yaml:"chain"`
	Contracts      ContractsConfig      `yaml:"contracts"`
	Market         MarketConfig         `yaml:"market"`
	Range          RangeConfig          `yaml:"range"`
	Rebalance      RebalanceConfig      `yaml:"rebalance"`
	Hedge          HedgeConfig          `yaml:"hedge"`
	Loop           LoopConfig           `yaml:"loop"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Standby        StandbyConfig        `yaml:"standby"`
	AutoInvest     AutoInvestConfig     `yaml:"auto_invest"`
	State          StateConfig          `yaml:"state"`
	Telegram       TelegramConfig       `yaml:"telegram"`
	Metrics        MetricsConfig        `yaml:"metrics"`
	Timescale      TimescaleConfig      `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ChainConfig struct {
	RPCURL         string        `yaml:"rpc_url"`
	ChainID        int64         `yaml:"chain_id"`
	PrivateKey     string        `yaml:"-"`
	ReadRetries    int           `yaml:"read_retries"`
	ReadBackoff    time.Duration `yaml:"read_backoff"`
	TxTimeout      time.Duration `yaml:"tx_timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
	DialTimeout    time.Duration `yaml:"dial_timeout"`
}

type ContractsConfig struct {
	Pool              string `yaml:"pool"`
	PositionManager   string `yaml:"position_manager"`
	SwapRouter        string `yaml:"swap_router"`
	Quoter            string `yaml:"quoter"`
	LendingPool       string `yaml:"lending_pool"`
	StableToken       string `yaml:"stable_token"`
	VolatileToken     string `yaml:"volatile_token"`
	VariableDebtToken string `yaml:"variable_debt_token"`
}

type MarketConfig struct {
	Symbol           string        `yaml:"symbol"`
	RSIShortInterval string        `yaml:"rsi_short_interval"`
	RSILongInterval  string        `yaml:"rsi_long_interval"`
	ATRInterval      string        `yaml:"atr_interval"`
	RSIPeriod        int           `yaml:"rsi_period"`
	ATRPeriod        int           `yaml:"atr_period"`
	BinanceURL       string        `yaml:"binance_url"`
	BybitURL         string        `yaml:"bybit_url"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RangeConfig tunes the volatility-driven range width and RSI skew.
type RangeConfig struct {
	SafetyFactor    float64 `yaml:"safety_factor"`
	TicksPerPercent float64 `yaml:"ticks_per_percent"`
	MinWidth        int     `yaml:"min_width"`
	MaxWidth        int     `yaml:"max_width"`
	BullishRSI      float64 `yaml:"bullish_rsi"`
	BearishRSI      float64 `yaml:"bearish_rsi"`
	OverboughtRSI   float64 `yaml:"overbought_rsi"`
	OversoldRSI     float64 `yaml:"oversold_rsi"`
	BullishSkew     float64 `yaml:"bullish_skew"`
	BearishSkew     float64 `yaml:"bearish_skew"`
	DampenedBullish float64 `yaml:"dampened_bullish_skew"`
	DampenedBearish float64 `yaml:"dampened_bearish_skew"`
}

type RebalanceConfig struct {
	TWAPWindow         time.Duration `yaml:"twap_window"`
	MaxTickDeviation   int           `yaml:"max_tick_deviation"`
	MinSwapUSD         float64       `yaml:"min_swap_usd"`
	BuyFraction        float64       `yaml:"buy_fraction"`
	SellFraction       float64       `yaml:"sell_fraction"`
	SlippageProtection *bool         `yaml:"slippage_protection"`
	SlippageBps        int           `yaml:"slippage_bps"`
	UseQuoter          bool          `yaml:"use_quoter"`
	MintHaircut        float64       `yaml:"mint_haircut"`
	ProfitVolatileDust float64       `yaml:"profit_volatile_dust_usd"`
	ProfitStableMinUSD float64       `yaml:"profit_stable_min_usd"`
}

func (r RebalanceConfig) SlippageProtectionValue() bool {
	if r.SlippageProtection == nil {
		return true
	}
	return *r.SlippageProtection
}

type HedgeConfig struct {
	Threshold            float64 `yaml:"threshold"`
	CriticalHealthFactor float64 `yaml:"critical_health_factor"`
	TargetHealthFactor   float64 `yaml:"target_health_factor"`
	HealthFactorCeiling  float64 `yaml:"health_factor_ceiling"`
	CollateralDustUSD    float64 `yaml:"collateral_dust_usd"`
}

type LoopConfig struct {
	MinInterval    time.Duration `yaml:"min_interval"`
	StatusInterval time.Duration `yaml:"status_interval"`
}

type CircuitBreakerConfig struct {
	FloorUSD          float64 `yaml:"floor_usd"`
	TargetStableRatio float64 `yaml:"target_stable_ratio"`
}

type StandbyConfig struct {
	PullbackFraction float64 `yaml:"pullback_fraction"`
}

type AutoInvestConfig struct {
	Enabled      bool    `yaml:"enabled"`
	ThresholdUSD float64 `yaml:"threshold_usd"`
}

type StateConfig struct {
	Backend     string `yaml:"backend"`
	SQLitePath  string `yaml:"sqlite_path"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisDB     int    `yaml:"redis_db"`
	InstanceKey string `yaml:"instance_key"`
}

// TelegramConfig controls alert delivery. Cooldown suppresses repeats of
// the same subject; a negative value disables suppression.
type TelegramConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Token    string        `yaml:"token"`
	ChatID   string        `yaml:"chat_id"`
	Cooldown time.Duration `yaml:"cooldown"`
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

func (m MetricsConfig) EnabledValue() bool {
	if m.Enabled == nil {
		return false
	}
	return *m.Enabled
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, err
	}
	return &cfg, validate(&cfg)
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Chain.ReadRetries == 0 {
		cfg.Chain.ReadRetries = 5
	}
	if cfg.Chain.ReadBackoff == 0 {
		cfg.Chain.ReadBackoff = 200 * time.Millisecond
	}
	if cfg.Chain.TxTimeout == 0 {
		cfg.Chain.TxTimeout = 2 * time.Minute
	}
	if cfg.Chain.ReconnectDelay == 0 {
		cfg.Chain.ReconnectDelay = 3 * time.Second
	}
	if cfg.Chain.DialTimeout == 0 {
		cfg.Chain.DialTimeout = 15 * time.Second
	}
	if cfg.Market.Symbol == "" {
		cfg.Market.Symbol = "ETHUSDT"
	}
	if cfg.Market.RSIShortInterval == "" {
		cfg.Market.RSIShortInterval = "15m"
	}
	if cfg.Market.RSILongInterval == "" {
		cfg.Market.RSILongInterval = "4h"
	}
	if cfg.Market.ATRInterval == "" {
		cfg.Market.ATRInterval = "1h"
	}
	if cfg.Market.RSIPeriod == 0 {
		cfg.Market.RSIPeriod = 14
	}
	if cfg.Market.ATRPeriod == 0 {
		cfg.Market.ATRPeriod = 14
	}
	if cfg.Market.BinanceURL == "" {
		cfg.Market.BinanceURL = "https://api.binance.com"
	}
	if cfg.Market.BybitURL == "" {
		cfg.Market.BybitURL = "https://api.bybit.com"
	}
	if cfg.Market.Timeout == 0 {
		cfg.Market.Timeout = 10 * time.Second
	}
	applyRangeDefaults(&cfg.Range)
	if cfg.Rebalance.TWAPWindow == 0 {
		cfg.Rebalance.TWAPWindow = 300 * time.Second
	}
	if cfg.Rebalance.MaxTickDeviation == 0 {
		cfg.Rebalance.MaxTickDeviation = 200
	}
	if cfg.Rebalance.MinSwapUSD == 0 {
		cfg.Rebalance.MinSwapUSD = 10
	}
	if cfg.Rebalance.BuyFraction == 0 {
		cfg.Rebalance.BuyFraction = 0.5
	}
	if cfg.Rebalance.SellFraction == 0 {
		cfg.Rebalance.SellFraction = 0.5
	}
	if cfg.Rebalance.SlippageProtection == nil {
		enabled := true
		cfg.Rebalance.SlippageProtection = &enabled
	}
	if cfg.Rebalance.SlippageBps == 0 {
		cfg.Rebalance.SlippageBps = 50
	}
	if cfg.Rebalance.MintHaircut == 0 {
		cfg.Rebalance.MintHaircut = 0.999
	}
	if cfg.Rebalance.ProfitVolatileDust == 0 {
		cfg.Rebalance.ProfitVolatileDust = 5
	}
	if cfg.Rebalance.ProfitStableMinUSD == 0 {
		cfg.Rebalance.ProfitStableMinUSD = 100
	}
	if cfg.Hedge.Threshold == 0 {
		cfg.Hedge.Threshold = 0.01
	}
	if cfg.Hedge.CriticalHealthFactor == 0 {
		cfg.Hedge.CriticalHealthFactor = 1.05
	}
	if cfg.Hedge.TargetHealthFactor == 0 {
		cfg.Hedge.TargetHealthFactor = 1.5
	}
	if cfg.Hedge.HealthFactorCeiling == 0 {
		cfg.Hedge.HealthFactorCeiling = 100
	}
	if cfg.Hedge.CollateralDustUSD == 0 {
		cfg.Hedge.CollateralDustUSD = 1
	}
	if cfg.Loop.MinInterval == 0 {
		cfg.Loop.MinInterval = 60 * time.Second
	}
	if cfg.Loop.StatusInterval == 0 {
		cfg.Loop.StatusInterval = 24 * time.Hour
	}
	if cfg.CircuitBreaker.TargetStableRatio == 0 {
		cfg.CircuitBreaker.TargetStableRatio = 0.8
	}
	if cfg.Standby.PullbackFraction == 0 {
		cfg.Standby.PullbackFraction = 0.05
	}
	if cfg.AutoInvest.ThresholdUSD == 0 {
		cfg.AutoInvest.ThresholdUSD = 50
	}
	if cfg.Telegram.Cooldown == 0 {
		cfg.Telegram.Cooldown = 10 * time.Minute
	}
	if cfg.State.Backend == "" {
		cfg.State.Backend = "sqlite"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/lp-hedge-bot.db"
	}
	if cfg.State.RedisAddr == "" {
		cfg.State.RedisAddr = "127.0.0.1:6379"
	}
	if cfg.State.InstanceKey == "" {
		cfg.State.InstanceKey = "default"
	}
	if cfg.Metrics.Enabled == nil {
		enabled := true
		cfg.Metrics.Enabled = &enabled
	}
	if cfg.Metrics.Address == "" {
		cfg.Metrics.Address = "127.0.0.1:9001"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
}

func applyRangeDefaults(r *RangeConfig) {
	if r.SafetyFactor == 0 {
		r.SafetyFactor = 4
	}
	if r.TicksPerPercent == 0 {
		r.TicksPerPercent = 100
	}
	if r.MinWidth == 0 {
		r.MinWidth = 500
	}
	if r.MaxWidth == 0 {
		r.MaxWidth = 4000
	}
	if r.BullishRSI == 0 {
		r.BullishRSI = 60
	}
	if r.BearishRSI == 0 {
		r.BearishRSI = 40
	}
	if r.OverboughtRSI == 0 {
		r.OverboughtRSI = 70
	}
	if r.OversoldRSI == 0 {
		r.OversoldRSI = 30
	}
	if r.BullishSkew == 0 {
		r.BullishSkew = 0.6
	}
	if r.BearishSkew == 0 {
		r.BearishSkew = 0.4
	}
	if r.DampenedBullish == 0 {
		r.DampenedBullish = 0.55
	}
	if r.DampenedBearish == 0 {
		r.DampenedBearish = 0.45
	}
}

// DefaultRange returns the range settings used when none are configured.
func DefaultRange() RangeConfig {
	var r RangeConfig
	applyRangeDefaults(&r)
	return r
}

func applyEnvOverrides(cfg *Config) error {
	if v := strings.TrimSpace(os.Getenv("BOT_PRIVATE_KEY")); v != "" {
		cfg.Chain.PrivateKey = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_RPC_URL")); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_CHAIN_ID")); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("BOT_CHAIN_ID: %w", err)
		}
		cfg.Chain.ChainID = id
	}
	if v := strings.TrimSpace(os.Getenv("BOT_TELEGRAM_TOKEN")); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_TELEGRAM_CHAT_ID")); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_TIMESCALE_DSN")); v != "" {
		cfg.Timescale.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("BOT_REDIS_ADDR")); v != "" {
		cfg.State.RedisAddr = v
	}
	return nil
}

func validate(cfg *Config) error {
	if cfg.Chain.RPCURL == "" {
		return errors.New("chain.rpc_url is required")
	}
	if cfg.Chain.ChainID <= 0 {
		return errors.New("chain.chain_id must be > 0")
	}
	if cfg.Chain.TxTimeout < 0 {
		return errors.New("chain.tx_timeout must be >= 0")
	}
	required := map[string]string{
		"contracts.pool":                cfg.Contracts.Pool,
		"contracts.position_manager":    cfg.Contracts.PositionManager,
		"contracts.swap_router":         cfg.Contracts.SwapRouter,
		"contracts.lending_pool":        cfg.Contracts.LendingPool,
		"contracts.stable_token":        cfg.Contracts.StableToken,
		"contracts.volatile_token":      cfg.Contracts.VolatileToken,
		"contracts.variable_debt_token": cfg.Contracts.VariableDebtToken,
	}
	for _, key := range []string{
		"contracts.pool",
		"contracts.position_manager",
		"contracts.swap_router",
		"contracts.lending_pool",
		"contracts.stable_token",
		"contracts.volatile_token",
		"contracts.variable_debt_token",
	} {
		if strings.TrimSpace(required[key]) == "" {
			return fmt.Errorf("%s is required", key)
		}
	}
	if cfg.Rebalance.UseQuoter && cfg.Contracts.Quoter == "" {
		return errors.New("contracts.quoter is required when rebalance.use_quoter is set")
	}
	if err := validateRange(cfg.Range); err != nil {
		return err
	}
	if cfg.Rebalance.BuyFraction <= 0 || cfg.Rebalance.BuyFraction > 1 {
		return errors.New("rebalance.buy_fraction must be in (0, 1]")
	}
	if cfg.Rebalance.SellFraction <= 0 || cfg.Rebalance.SellFraction > 1 {
		return errors.New("rebalance.sell_fraction must be in (0, 1]")
	}
	if cfg.Rebalance.SlippageBps < 0 || cfg.Rebalance.SlippageBps >= 10000 {
		return errors.New("rebalance.slippage_bps must be in [0, 10000)")
	}
	if cfg.Rebalance.MintHaircut <= 0 || cfg.Rebalance.MintHaircut > 1 {
		return errors.New("rebalance.mint_haircut must be in (0, 1]")
	}
	if cfg.Rebalance.MaxTickDeviation < 0 {
		return errors.New("rebalance.max_tick_deviation must be >= 0")
	}
	if cfg.Hedge.Threshold < 0 {
		return errors.New("hedge.threshold must be >= 0")
	}
	if cfg.Hedge.TargetHealthFactor < cfg.Hedge.CriticalHealthFactor {
		return errors.New("hedge.target_health_factor must be >= hedge.critical_health_factor")
	}
	if cfg.CircuitBreaker.FloorUSD < 0 {
		return errors.New("circuit_breaker.floor_usd must be >= 0")
	}
	if cfg.CircuitBreaker.TargetStableRatio < 0 || cfg.CircuitBreaker.TargetStableRatio > 1 {
		return errors.New("circuit_breaker.target_stable_ratio must be in [0, 1]")
	}
	if cfg.Standby.PullbackFraction <= 0 || cfg.Standby.PullbackFraction >= 1 {
		return errors.New("standby.pullback_fraction must be in (0, 1)")
	}
	switch cfg.State.Backend {
	case "sqlite", "redis":
	default:
		return fmt.Errorf("state.backend %q is not supported", cfg.State.Backend)
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return errors.New("timescale.dsn is required when timescale is enabled")
	}
	return nil
}

func validateRange(r RangeConfig) error {
	if r.SafetyFactor <= 0 {
		return errors.New("range.safety_factor must be > 0")
	}
	if r.MinWidth <= 0 || r.MaxWidth < r.MinWidth {
		return errors.New("range.min_width must be > 0 and <= range.max_width")
	}
	if r.BearishSkew > 0.5 || r.BullishSkew < 0.5 {
		return errors.New("range skew must satisfy bearish <= 0.5 <= bullish")
	}
	if r.DampenedBullish < 0.5 || r.DampenedBullish > r.BullishSkew {
		return errors.New("range.dampened_bullish_skew must be within [0.5, bullish_skew]")
	}
	if r.DampenedBearish > 0.5 || r.DampenedBearish < r.BearishSkew {
		return errors.New("range.dampened_bearish_skew must be within [bearish_skew, 0.5]")
	}
	return nil
}
