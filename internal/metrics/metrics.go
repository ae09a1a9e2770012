package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

// Metrics groups the loop's counters and gauges. Fields are never nil.
type Metrics struct {
	Cycles            Counter
	CycleFailures     Counter
	BlocksSkipped     Counter
	Rebalances        Counter
	RebalancesAborted Counter
	HedgeAdjustments  Counter
	BorrowsRefused    Counter
	PanicExits        Counter
	CircuitBreaks     Counter
	StandbyEntries    Counter
	StandbyExits      Counter

	HealthFactor Gauge
	PortfolioUSD Gauge
	PoolTick     Gauge
}

type noop struct{}

func (noop) Inc() {}

func (noop) Set(float64) {}

func NewNoop() *Metrics {
	n := noop{}
	return &Metrics{
		Cycles:            n,
		CycleFailures:     n,
		BlocksSkipped:     n,
		Rebalances:        n,
		RebalancesAborted: n,
		HedgeAdjustments:  n,
		BorrowsRefused:    n,
		PanicExits:        n,
		CircuitBreaks:     n,
		StandbyEntries:    n,
		StandbyExits:      n,
		HealthFactor:      n,
		PortfolioUSD:      n,
		PoolTick:          n,
	}
}
