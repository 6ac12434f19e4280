package orderbook

import (
	"math"
	"sync"
	"time"

	"github.com/helix-lab/helix/bookfeed/pkg/transport"
)

// priceScale fixes the precision of level keys so float noise such as
// 0.1+0.2 and 0.3 land on the same level.
const priceScale = 1e8

type priceKey int64

func keyOf(price float64) priceKey {
	return priceKey(math.Round(price * priceScale))
}

func (k priceKey) price() float64 {
	return float64(k) / priceScale
}

// Level is one resting price level.
type Level struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

type bookSide struct {
	levels   map[priceKey]float64
	best     priceKey
	bestSize float64
	hasBest  bool
	// better reports whether a is a more favorable price than b.
	better func(a, b priceKey) bool
}

func newSide(better func(a, b priceKey) bool) bookSide {
	return bookSide{levels: make(map[priceKey]float64), better: better}
}

func (s *bookSide) apply(key priceKey, size float64) {
	if size <= 0 {
		if _, ok := s.levels[key]; !ok {
			return
		}
		delete(s.levels, key)
		if s.hasBest && key == s.best {
			s.rescan()
		}
		return
	}

	s.levels[key] = size
	switch {
	case !s.hasBest || s.better(key, s.best):
		s.best, s.bestSize, s.hasBest = key, size, true
	case key == s.best:
		s.bestSize = size
	}
}

// rescan is the slow path, only taken when the best level disappears.
func (s *bookSide) rescan() {
	s.best, s.bestSize, s.hasBest = 0, 0, false
	for key, size := range s.levels {
		if size <= 0 {
			continue
		}
		if !s.hasBest || s.better(key, s.best) {
			s.best, s.bestSize, s.hasBest = key, size, true
		}
	}
}

type book struct {
	mu        sync.RWMutex
	bids      bookSide
	asks      bookSide
	updatedAt time.Time
}

func newBook() *book {
	return &book{
		bids: newSide(func(a, b priceKey) bool { return a > b }),
		asks: newSide(func(a, b priceKey) bool { return a < b }),
	}
}

// Store holds the live books of one feed, keyed by token id.
type Store struct {
	mu    sync.RWMutex
	books map[string]*book
	now   func() time.Time
}

func NewStore() *Store {
	return &Store{books: make(map[string]*book), now: time.Now}
}

// WithClock replaces the time source used for UpdatedAt and staleness checks.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Apply is ApplyDiff for a normalized feed record.
func (s *Store) Apply(d transport.Diff) bool {
	return s.ApplyDiff(d.TokenID, d.Side, d.Price, d.Size)
}

// ApplyDiff sets the size resting at price on one side of a token's book.
// It returns false when the diff was dropped as invalid.
func (s *Store) ApplyDiff(tokenID string, side transport.Side, price, size float64) bool {
	if tokenID == "" || !finite(price) || !finite(size) || price <= 0 {
		return false
	}
	if side != transport.SideBid && side != transport.SideAsk {
		return false
	}
	// Prices below the key precision would collapse onto a zero level.
	key := keyOf(price)
	if key <= 0 {
		return false
	}

	b := s.bookFor(tokenID)

	b.mu.Lock()
	if side == transport.SideBid {
		b.bids.apply(key, size)
	} else {
		b.asks.apply(key, size)
	}
	b.updatedAt = s.now()
	b.mu.Unlock()
	return true
}

func (s *Store) bookFor(tokenID string) *book {
	s.mu.RLock()
	b, ok := s.books[tokenID]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.books[tokenID]; !ok {
		b = newBook()
		s.books[tokenID] = b
	}
	return b
}

func (s *Store) lookup(tokenID string) (*book, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[tokenID]
	return b, ok
}

// Reset drops every book. Used when a feed resynchronizes from scratch.
func (s *Store) Reset() {
	s.mu.Lock()
	s.books = make(map[string]*book)
	s.mu.Unlock()
}

// Len returns the number of tokens with a book.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.books)
}

func (s *Store) Tokens() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.books))
	for id := range s.books {
		out = append(out, id)
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
