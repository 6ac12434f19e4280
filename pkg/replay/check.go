package replay

import (
	"fmt"
	"math"
	"strconv"

	"github.com/helix-lab/helix/bookfeed/pkg/orderbook"
	"github.com/helix-lab/helix/bookfeed/pkg/transport"
)

// CheckHeader is the layout of the sampled best-of-book output.
var CheckHeader = []string{"row", "token_id", "best_bid", "best_ask", "bid_size", "ask_size"}

type shadowBook struct {
	bids map[float64]float64
	asks map[float64]float64
}

// Checker replays rows into a Store alongside a plain map per token and
// compares the store's cached best levels against a full rescan.
type Checker struct {
	store  *orderbook.Store
	shadow map[string]*shadowBook
	every  int
	rows   int
	// Sample receives every compared top of book when set.
	Sample func(row int, top orderbook.TopOfBook) error
}

// NewChecker compares after every `every` applied rows; every <= 0 compares
// after each row.
func NewChecker(every int) *Checker {
	if every <= 0 {
		every = 1
	}
	return &Checker{store: orderbook.NewStore(), shadow: make(map[string]*shadowBook), every: every}
}

func (c *Checker) Store() *orderbook.Store { return c.store }
func (c *Checker) Rows() int               { return c.rows }

// Apply feeds one row to both books. Rows the store rejects are skipped on
// the shadow side too.
func (c *Checker) Apply(row Row) error {
	d := row.Diff
	if !c.store.Apply(d) {
		return nil
	}
	c.rows++

	sb, ok := c.shadow[d.TokenID]
	if !ok {
		sb = &shadowBook{bids: make(map[float64]float64), asks: make(map[float64]float64)}
		c.shadow[d.TokenID] = sb
	}
	levels := sb.asks
	if d.Side == transport.SideBid {
		levels = sb.bids
	}
	// Match the store's price-key rounding so float noise lands on one level.
	px := roundKey(d.Price)
	if d.Size <= 0 {
		delete(levels, px)
	} else {
		levels[px] = d.Size
	}

	if c.rows%c.every != 0 {
		return nil
	}
	return c.compare(d.TokenID, sb)
}

func (c *Checker) compare(tokenID string, sb *shadowBook) error {
	top, _ := c.store.TopOfBook(tokenID, 0)

	bid, bidSize, hasBid := best(sb.bids, func(a, b float64) bool { return a > b })
	ask, askSize, hasAsk := best(sb.asks, func(a, b float64) bool { return a < b })

	if top.HasBid != hasBid || (hasBid && (top.BestBid != bid || top.BestBidSize != bidSize)) {
		return fmt.Errorf("row %d token %s: bid cached=%v@%v rescan=%v@%v", c.rows, tokenID, top.BestBidSize, top.BestBid, bidSize, bid)
	}
	if top.HasAsk != hasAsk || (hasAsk && (top.BestAsk != ask || top.BestAskSize != askSize)) {
		return fmt.Errorf("row %d token %s: ask cached=%v@%v rescan=%v@%v", c.rows, tokenID, top.BestAskSize, top.BestAsk, askSize, ask)
	}
	if c.Sample != nil {
		return c.Sample(c.rows, top)
	}
	return nil
}

func best(levels map[float64]float64, better func(a, b float64) bool) (px, size float64, ok bool) {
	for p, s := range levels {
		if !ok || better(p, px) {
			px, size, ok = p, s, true
		}
	}
	return px, size, ok
}

func roundKey(price float64) float64 {
	return math.Round(price*1e8) / 1e8
}

// CheckRecord formats a sampled top of book for the output CSV.
func CheckRecord(row int, top orderbook.TopOfBook) []string {
	return []string{
		strconv.Itoa(row),
		top.TokenID,
		fmt.Sprintf("%.10g", top.BestBid),
		fmt.Sprintf("%.10g", top.BestAsk),
		fmt.Sprintf("%.10g", top.BestBidSize),
		fmt.Sprintf("%.10g", top.BestAskSize),
	}
}
