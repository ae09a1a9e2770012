package rebalance

import "lp-hedge-bot/internal/strategy"

type Kind int

const (
	KindAborted Kind = iota
	KindMinted
	KindProfitSecured
)

func (k Kind) String() string {
	switch k {
	case KindMinted:
		return "minted"
	case KindProfitSecured:
		return "profit_secured"
	default:
		return "aborted"
	}
}

// Outcome is the result of a rebalance that did not fail outright.
// Aborted outcomes left the old position untouched; Cause carries the
// reason for errors.Is checks.
type Outcome struct {
	Kind       Kind
	PositionID strategy.PositionID
	Range      strategy.TickRange
	Price      float64
	Reason     string
	Cause      error
}

func Minted(id strategy.PositionID, rng strategy.TickRange, price float64) Outcome {
	return Outcome{Kind: KindMinted, PositionID: id, Range: rng, Price: price}
}

func ProfitSecured(price float64) Outcome {
	return Outcome{Kind: KindProfitSecured, PositionID: strategy.NoPosition, Price: price}
}

func Aborted(reason string, cause error) Outcome {
	return Outcome{Kind: KindAborted, Reason: reason, Cause: cause}
}
