package strategy

import "math/big"

type State string

type Event string

const (
	StateActive        State = "ACTIVE"
	StateStandby       State = "STANDBY"
	StateCircuitBroken State = "CIRCUIT_BROKEN"
	StateSafeMode      State = "SAFE_MODE"
)

const (
	EventProfitSecured Event = "PROFIT_SECURED"
	EventPullback      Event = "PULLBACK"
	EventCircuitBreak  Event = "CIRCUIT_BREAK"
	EventBreakerReset  Event = "BREAKER_RESET"
	EventPanic         Event = "PANIC"
)

// PositionID is the decimal token id of a liquidity position NFT.
type PositionID string

const NoPosition PositionID = "none"

func (id PositionID) IsNone() bool {
	return id == "" || id == NoPosition
}

func (id PositionID) String() string {
	if id == "" {
		return string(NoPosition)
	}
	return string(id)
}

// PoolSnapshot is the pool state read for one decision. Price is expressed
// as stable units per volatile unit regardless of token order.
type PoolSnapshot struct {
	SqrtPriceX96     *big.Int
	Tick             int
	Liquidity        *big.Int
	TickSpacing      int
	Fee              uint32
	Token0           string
	Token1           string
	Price            float64
	VolatileIsToken0 bool
}

type TickRange struct {
	Lower int
	Upper int
}

// Contains reports whether tick lies in [Lower, Upper).
func (r TickRange) Contains(tick int) bool {
	return tick >= r.Lower && tick < r.Upper
}

type MarketSignal struct {
	ATR      float64
	RSIShort float64
	RSILong  float64
}

type HedgeState struct {
	HealthFactor  float64
	Debt          float64
	CollateralUSD float64
	DebtUSD       float64
}

// Balances holds human-unit amounts of the two assets.
type Balances struct {
	Stable   float64
	Volatile float64
}

func (b Balances) ValueUSD(price float64) float64 {
	return b.Stable + b.Volatile*price
}

type PositionInfo struct {
	ID        PositionID
	Range     TickRange
	Liquidity *big.Int
	Amounts   Balances
	Fees      Balances
}

func (p PositionInfo) Closed() bool {
	return p.Liquidity == nil || p.Liquidity.Sign() == 0
}

type SwapSide int

const (
	SellVolatile SwapSide = iota
	BuyVolatile
)

func (s SwapSide) String() string {
	if s == BuyVolatile {
		return "buy_volatile"
	}
	return "sell_volatile"
}

// SwapOrder is a single-pool swap in human units. Exact-input orders use
// AmountIn and MinOut (zero disables the floor); exact-output orders use
// AmountOut and MaxIn.
type SwapOrder struct {
	Side        SwapSide
	ExactOutput bool
	AmountIn    float64
	MinOut      float64
	AmountOut   float64
	MaxIn       float64
}
