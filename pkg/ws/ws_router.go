package ws

import (
	"fmt"
	"sort"
	"time"

	"github.com/helix-lab/helix/bookfeed/pkg/orderbook"
)

// Source is the read and subscribe surface of a feed.
type Source interface {
	Platform() string
	Status() Status
	Subscriptions() []string
	SubscribeMarketIDs(ids []string)
	StaleTimeout() time.Duration
	TopOfBook(tokenID string, maxAge time.Duration) (orderbook.TopOfBook, bool)
	Orderbook(tokenID string, maxAge time.Duration, depth int) (orderbook.Snapshot, bool)
}

// Router owns the feeds of every configured venue.
type Router struct {
	feeds map[string]*Feed
	order []string
}

func NewRouter(feeds ...*Feed) (*Router, error) {
	r := &Router{feeds: make(map[string]*Feed, len(feeds))}
	for _, f := range feeds {
		p := f.Platform()
		if _, dup := r.feeds[p]; dup {
			return nil, fmt.Errorf("duplicate feed for platform %q", p)
		}
		r.feeds[p] = f
		r.order = append(r.order, p)
	}
	sort.Strings(r.order)
	return r, nil
}

func (r *Router) Start() {
	for _, p := range r.order {
		r.feeds[p].Start()
	}
}

func (r *Router) Stop() {
	for _, p := range r.order {
		r.feeds[p].Stop()
	}
}

func (r *Router) Feed(platform string) (*Feed, bool) {
	f, ok := r.feeds[platform]
	return f, ok
}

// Source is Feed behind the Source interface, for the read API.
func (r *Router) Source(platform string) (Source, bool) {
	f, ok := r.feeds[platform]
	if !ok {
		return nil, false
	}
	return f, true
}

func (r *Router) Platforms() []string {
	return append([]string(nil), r.order...)
}

func (r *Router) Statuses() []Status {
	out := make([]Status, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.feeds[p].Status())
	}
	return out
}
