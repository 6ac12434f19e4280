package orderbook

import (
	"sort"
	"time"
)

// TopOfBook is the cached best price and size on each side.
// HasBid/HasAsk are false when the side is empty.
type TopOfBook struct {
	TokenID     string    `json:"tokenId"`
	BestBid     float64   `json:"bestBid,omitempty"`
	BestBidSize float64   `json:"bestBidSize,omitempty"`
	HasBid      bool      `json:"hasBid"`
	BestAsk     float64   `json:"bestAsk,omitempty"`
	BestAskSize float64   `json:"bestAskSize,omitempty"`
	HasAsk      bool      `json:"hasAsk"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Snapshot is a read-only copy of a book. Bids are sorted descending and
// asks ascending by price.
type Snapshot struct {
	TopOfBook
	Bids []Level `json:"bids,omitempty"`
	Asks []Level `json:"asks,omitempty"`
}

// TopOfBook returns the best prices for tokenID. It reports false when the
// token is unknown or, with maxAge > 0, when the book is older than maxAge.
func (s *Store) TopOfBook(tokenID string, maxAge time.Duration) (TopOfBook, bool) {
	b, ok := s.lookup(tokenID)
	if !ok {
		return TopOfBook{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s.stale(b, maxAge) {
		return TopOfBook{}, false
	}
	return b.top(tokenID), true
}

// Snapshot is TopOfBook plus up to depth levels per side. depth == 0 returns
// no levels and depth < 0 returns every level.
func (s *Store) Snapshot(tokenID string, maxAge time.Duration, depth int) (Snapshot, bool) {
	b, ok := s.lookup(tokenID)
	if !ok {
		return Snapshot{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s.stale(b, maxAge) {
		return Snapshot{}, false
	}
	snap := Snapshot{TopOfBook: b.top(tokenID)}
	if depth != 0 {
		snap.Bids = b.bids.sorted(depth)
		snap.Asks = b.asks.sorted(depth)
	}
	return snap, true
}

func (s *Store) stale(b *book, maxAge time.Duration) bool {
	return maxAge > 0 && s.now().Sub(b.updatedAt) > maxAge
}

func (b *book) top(tokenID string) TopOfBook {
	t := TopOfBook{TokenID: tokenID, UpdatedAt: b.updatedAt}
	if b.bids.hasBest {
		t.BestBid, t.BestBidSize, t.HasBid = b.bids.best.price(), b.bids.bestSize, true
	}
	if b.asks.hasBest {
		t.BestAsk, t.BestAskSize, t.HasAsk = b.asks.best.price(), b.asks.bestSize, true
	}
	return t
}

func (s *bookSide) sorted(limit int) []Level {
	keys := make([]priceKey, 0, len(s.levels))
	for k, size := range s.levels {
		if size > 0 && k > 0 {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return s.better(keys[i], keys[j]) })
	if limit > 0 && len(keys) > limit {
		keys = keys[:limit]
	}
	out := make([]Level, len(keys))
	for i, k := range keys {
		out[i] = Level{Price: k.price(), Size: s.levels[k]}
	}
	return out
}
