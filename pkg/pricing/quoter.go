package pricing

import (
	"time"

	"github.com/helix-lab/helix/bookfeed/pkg/orderbook"
)

// DepthSource is anything that can hand out a book snapshot; ws.Feed is the
// production implementation.
type DepthSource interface {
	Orderbook(tokenID string, maxAge time.Duration, depth int) (orderbook.Snapshot, bool)
}

// Quoter prices live books from one source with fixed cost parameters.
// A stale or missing book yields no quote.
type Quoter struct {
	source DepthSource
	params Params
	maxAge time.Duration
}

func NewQuoter(source DepthSource, params Params, maxAge time.Duration) *Quoter {
	return &Quoter{source: source, params: params, maxAge: maxAge}
}

func (q *Quoter) Params() Params { return q.params }

func (q *Quoter) Buy(tokenID string, shares float64) (FillEstimate, bool) {
	snap, ok := q.source.Orderbook(tokenID, q.maxAge, -1)
	if !ok {
		return FillEstimate{}, false
	}
	return EstimateBuy(snap.Asks, shares, q.params)
}

func (q *Quoter) Sell(tokenID string, shares float64) (FillEstimate, bool) {
	snap, ok := q.source.Orderbook(tokenID, q.maxAge, -1)
	if !ok {
		return FillEstimate{}, false
	}
	return EstimateSell(snap.Bids, shares, q.params)
}

func (q *Quoter) MaxBuy(tokenID string, limit, maxDeviationBps float64) float64 {
	snap, ok := q.source.Orderbook(tokenID, q.maxAge, -1)
	if !ok {
		return 0
	}
	return MaxBuySharesForLimit(snap.Asks, limit, maxDeviationBps, q.params)
}

func (q *Quoter) MaxSell(tokenID string, limit, maxDeviationBps float64) float64 {
	snap, ok := q.source.Orderbook(tokenID, q.maxAge, -1)
	if !ok {
		return 0
	}
	return MaxSellSharesForLimit(snap.Bids, limit, maxDeviationBps, q.params)
}
