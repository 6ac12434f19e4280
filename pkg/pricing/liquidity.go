package pricing

import (
	"errors"
	"fmt"
	"sort"

	"github.com/helix-lab/helix/bookfeed/pkg/orderbook"
)

// ErrInvalidArgument marks caller misuse, as opposed to a book that simply
// cannot satisfy a request.
var ErrInvalidArgument = errors.New("invalid argument")

// Params are the cost inputs shared by every depth walk.
type Params struct {
	Fee         FeeModel `json:"fee"`
	SlippageBps float64  `json:"slippageBps"`
}

func (p Params) Validate() error {
	if !finite(p.Fee.FeeBps) || p.Fee.FeeBps < 0 {
		return fmt.Errorf("fee bps %v: %w", p.Fee.FeeBps, ErrInvalidArgument)
	}
	if !finite(p.SlippageBps) || p.SlippageBps < 0 {
		return fmt.Errorf("slippage bps %v: %w", p.SlippageBps, ErrInvalidArgument)
	}
	if c := p.Fee.Curve; c != nil && (!finite(c.Rate) || !finite(c.Exponent)) {
		return fmt.Errorf("fee curve %+v: %w", *c, ErrInvalidArgument)
	}
	return nil
}

// FillEstimate is the outcome of walking a side of the book for a size.
type FillEstimate struct {
	FilledShares  float64 `json:"filledShares"`
	TotalNotional float64 `json:"totalNotional"`
	TotalFees     float64 `json:"totalFees"`
	TotalSlippage float64 `json:"totalSlippage"`
	TotalAllIn    float64 `json:"totalAllIn"`
	AvgPrice      float64 `json:"avgPrice"`
	AvgAllIn      float64 `json:"avgAllIn"`
	LevelsUsed    int     `json:"levelsUsed"`
}

// EstimateBuy walks asks cheapest first to buy target shares. It reports
// false when the book cannot fill the whole target or target is not positive.
func EstimateBuy(asks []orderbook.Level, target float64, p Params) (FillEstimate, bool) {
	return estimate(normalize(asks, true), target, p, true)
}

// EstimateSell walks bids richest first; all-in is proceeds net of fees and
// slippage.
func EstimateSell(bids []orderbook.Level, target float64, p Params) (FillEstimate, bool) {
	return estimate(normalize(bids, false), target, p, false)
}

func estimate(levels []orderbook.Level, target float64, p Params, buy bool) (FillEstimate, bool) {
	if len(levels) == 0 || !finite(target) || target <= 0 {
		return FillEstimate{}, false
	}

	var est FillEstimate
	remaining := target
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		fill := min(remaining, lvl.Size)
		est.TotalNotional += lvl.Price * fill
		est.TotalFees += p.Fee.PerUnit(lvl.Price) * fill
		est.TotalSlippage += lvl.Price * p.SlippageBps / 10000 * fill
		est.FilledShares += fill
		est.LevelsUsed++
		remaining -= fill
	}
	if remaining > 0 {
		return FillEstimate{}, false
	}

	// Guard against the running sum drifting a hair away from target.
	est.FilledShares = target
	if buy {
		est.TotalAllIn = est.TotalNotional + est.TotalFees + est.TotalSlippage
	} else {
		est.TotalAllIn = est.TotalNotional - est.TotalFees - est.TotalSlippage
	}
	est.AvgPrice = est.TotalNotional / est.FilledShares
	est.AvgAllIn = est.TotalAllIn / est.FilledShares
	return est, true
}

// MaxBuySharesForLimit returns the largest size whose volume-weighted all-in
// cost stays at or below limit × (1 + maxDeviationBps/10000).
//
// Levels within tolerance are taken whole. The first level priced past the
// threshold contributes the exact partial fill that lands the average on the
// threshold and the walk stops there, even if a deeper level could still be
// absorbed.
func MaxBuySharesForLimit(asks []orderbook.Level, limit, maxDeviationBps float64, p Params) float64 {
	return maxForLimit(normalize(asks, true), limit, maxDeviationBps, p, true)
}

// MaxSellSharesForLimit is the bid-side mirror: the volume-weighted all-in
// proceeds may not fall below limit × (1 - maxDeviationBps/10000).
func MaxSellSharesForLimit(bids []orderbook.Level, limit, maxDeviationBps float64, p Params) float64 {
	return maxForLimit(normalize(bids, false), limit, maxDeviationBps, p, false)
}

func maxForLimit(levels []orderbook.Level, limit, devBps float64, p Params, buy bool) float64 {
	if len(levels) == 0 || !finite(limit) || !finite(devBps) || limit <= 0 {
		return 0
	}

	threshold := limit * (1 + devBps/10000)
	if !buy {
		threshold = limit * (1 - devBps/10000)
	}

	var shares, allIn float64
	for _, lvl := range levels {
		unit := unitAllIn(lvl.Price, p, buy)
		within := unit <= threshold
		if !buy {
			within = unit >= threshold
		}
		if within {
			shares += lvl.Size
			allIn += unit * lvl.Size
			continue
		}

		// (allIn + unit·f) / (shares + f) = threshold, solved for f.
		f := (threshold*shares - allIn) / (unit - threshold)
		if f > 0 && finite(f) {
			shares += min(f, lvl.Size)
		}
		break
	}
	return shares
}

func unitAllIn(price float64, p Params, buy bool) float64 {
	fee := p.Fee.PerUnit(price)
	slip := price * p.SlippageBps / 10000
	if buy {
		return price + fee + slip
	}
	return price - fee - slip
}

// normalize drops unusable levels and orders the rest by price priority.
func normalize(levels []orderbook.Level, ascending bool) []orderbook.Level {
	out := make([]orderbook.Level, 0, len(levels))
	for _, lvl := range levels {
		if !finite(lvl.Price) || !finite(lvl.Size) || lvl.Price <= 0 || lvl.Size <= 0 {
			continue
		}
		out = append(out, lvl)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ascending {
			return out[i].Price < out[j].Price
		}
		return out[i].Price > out[j].Price
	})
	return out
}
