package pricing

import (
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helix-lab/helix/bookfeed/pkg/orderbook"
)

var twoAsks = []orderbook.Level{{Price: 0.40, Size: 100}, {Price: 0.42, Size: 50}}

func linear(bps float64) Params { return Params{Fee: FeeModel{FeeBps: bps}} }

func TestEstimateBuyWalksLevels(t *testing.T) {
	est, ok := EstimateBuy(twoAsks, 120, linear(100))
	require.True(t, ok)
	assert.Equal(t, 120.0, est.FilledShares)
	assert.InDelta(t, 48.4, est.TotalNotional, 1e-9)
	assert.InDelta(t, 0.484, est.TotalFees, 1e-9)
	assert.Zero(t, est.TotalSlippage)
	assert.InDelta(t, 48.884, est.TotalAllIn, 1e-9)
	assert.InDelta(t, 0.4033, est.AvgPrice, 1e-4)
	assert.InDelta(t, 48.884/120, est.AvgAllIn, 1e-9)
	assert.Equal(t, 2, est.LevelsUsed)
}

func TestEstimateBuyInsufficientDepth(t *testing.T) {
	_, ok := EstimateBuy(twoAsks, 200, linear(100))
	assert.False(t, ok)
}

func TestEstimateRejectsNonPositiveTarget(t *testing.T) {
	_, ok := EstimateBuy(twoAsks, 0, linear(0))
	assert.False(t, ok)
	_, ok = EstimateBuy(twoAsks, -5, linear(0))
	assert.False(t, ok)
	_, ok = EstimateSell(twoAsks, math.NaN(), linear(0))
	assert.False(t, ok)
	_, ok = EstimateBuy(nil, 1, linear(0))
	assert.False(t, ok)
}

func TestEstimateNormalizesLevels(t *testing.T) {
	messy := []orderbook.Level{
		{Price: 0.42, Size: 50},
		{Price: math.NaN(), Size: 10},
		{Price: 0.30, Size: 0},
		{Price: 0.40, Size: 100},
		{Price: -1, Size: 100},
	}
	est, ok := EstimateBuy(messy, 120, linear(0))
	require.True(t, ok)
	assert.InDelta(t, 48.4, est.TotalNotional, 1e-9)
}

func TestEstimateSellNetsCosts(t *testing.T) {
	bids := []orderbook.Level{{Price: 0.50, Size: 20}, {Price: 0.55, Size: 10}}
	est, ok := EstimateSell(bids, 15, Params{SlippageBps: 100})
	require.True(t, ok)
	assert.InDelta(t, 8.0, est.TotalNotional, 1e-9)
	assert.InDelta(t, 0.08, est.TotalSlippage, 1e-9)
	assert.InDelta(t, 7.92, est.TotalAllIn, 1e-9)
	assert.InDelta(t, 8.0/15, est.AvgPrice, 1e-9)
}

func TestEstimateBuyFillsWheneverDepthAllows(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		var levels []orderbook.Level
		total := 0.0
		for j := rng.Intn(6); j >= 0; j-- {
			size := float64(rng.Intn(100) + 1)
			levels = append(levels, orderbook.Level{Price: float64(rng.Intn(99)+1) / 100, Size: size})
			total += size
		}
		n := float64(rng.Intn(int(total)*2 + 1))
		est, ok := EstimateBuy(levels, n, linear(50))
		switch {
		case n <= 0:
			assert.False(t, ok)
		case n <= total:
			require.True(t, ok, "n=%v total=%v", n, total)
			assert.Equal(t, n, est.FilledShares)
		default:
			assert.False(t, ok, "n=%v total=%v", n, total)
		}
	}
}

func TestMaxBuySharesStopsAtThreshold(t *testing.T) {
	asks := []orderbook.Level{{Price: 0.40, Size: 100}, {Price: 0.50, Size: 100}}
	for _, tc := range []struct {
		name   string
		limit  float64
		devBps float64
		params Params
	}{
		{"no fees", 0.44, 0, linear(0)},
		{"deviation widens limit", 0.40, 1000, linear(0)},
		{"linear fee", 0.45, 0, linear(100)},
		{"curve fee with slippage", 0.45, 25, Params{Fee: FeeModel{FeeBps: 50, Curve: &Curve{Rate: 1, Exponent: 1}}, SlippageBps: 10}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			s := MaxBuySharesForLimit(asks, tc.limit, tc.devBps, tc.params)
			threshold := tc.limit * (1 + tc.devBps/10000)
			require.Greater(t, s, 100.0)
			require.Less(t, s, 200.0)

			est, ok := EstimateBuy(asks, s, tc.params)
			require.True(t, ok)
			assert.LessOrEqual(t, est.AvgAllIn, threshold+1e-9)

			over, ok := EstimateBuy(asks, s+0.01, tc.params)
			require.True(t, ok)
			assert.Greater(t, over.AvgAllIn, threshold)
		})
	}
}

func TestMaxBuySharesExactBoundary(t *testing.T) {
	asks := []orderbook.Level{{Price: 0.40, Size: 100}, {Price: 0.50, Size: 100}}
	assert.InDelta(t, 100+4/0.06, MaxBuySharesForLimit(asks, 0.44, 0, linear(0)), 1e-9)
}

func TestMaxBuySharesSinglePartialLevel(t *testing.T) {
	asks := []orderbook.Level{{Price: 0.40, Size: 100}, {Price: 0.50, Size: 100}, {Price: 0.60, Size: 100}}
	// the second level is clamped to its size and the walk stops even
	// though part of the third level would still fit
	assert.InDelta(t, 200, MaxBuySharesForLimit(asks, 0.49, 0, linear(0)), 1e-9)
}

func TestMaxBuySharesNeutralCases(t *testing.T) {
	asks := []orderbook.Level{{Price: 0.50, Size: 100}}
	assert.Zero(t, MaxBuySharesForLimit(asks, 0.44, 0, linear(0)), "first level already breaches")
	assert.Zero(t, MaxBuySharesForLimit(asks, 0, 0, linear(0)))
	assert.Zero(t, MaxBuySharesForLimit(asks, -1, 0, linear(0)))
	assert.Zero(t, MaxBuySharesForLimit(asks, math.NaN(), 0, linear(0)))
	assert.Zero(t, MaxBuySharesForLimit(nil, 0.5, 0, linear(0)))
	assert.Equal(t, 100.0, MaxBuySharesForLimit(asks, 0.6, 0, linear(0)), "whole book within limit")
}

func TestMaxSellSharesMirrorsBuy(t *testing.T) {
	bids := []orderbook.Level{{Price: 0.50, Size: 100}, {Price: 0.60, Size: 100}}
	s := MaxSellSharesForLimit(bids, 0.56, 0, linear(0))
	assert.InDelta(t, 100+4/0.06, s, 1e-9)

	est, ok := EstimateSell(bids, s, linear(0))
	require.True(t, ok)
	assert.GreaterOrEqual(t, est.AvgAllIn, 0.56-1e-9)
	over, _ := EstimateSell(bids, s+0.01, linear(0))
	assert.Less(t, over.AvgAllIn, 0.56)

	assert.Zero(t, MaxSellSharesForLimit(bids, 0.7, 0, linear(0)))
}

func TestParamsValidate(t *testing.T) {
	require.NoError(t, linear(100).Validate())
	assert.True(t, errors.Is(Params{SlippageBps: -1}.Validate(), ErrInvalidArgument))
	assert.True(t, errors.Is(linear(math.NaN()).Validate(), ErrInvalidArgument))
	assert.True(t, errors.Is(Params{Fee: FeeModel{Curve: &Curve{Rate: math.Inf(1)}}}.Validate(), ErrInvalidArgument))
}

type fakeSource struct {
	snap orderbook.Snapshot
	ok   bool
	age  time.Duration
}

func (f *fakeSource) Orderbook(_ string, maxAge time.Duration, _ int) (orderbook.Snapshot, bool) {
	f.age = maxAge
	return f.snap, f.ok
}

func TestQuoterUsesLiveBook(t *testing.T) {
	src := &fakeSource{ok: true, snap: orderbook.Snapshot{
		Asks: twoAsks,
		Bids: []orderbook.Level{{Price: 0.38, Size: 40}},
	}}
	q := NewQuoter(src, linear(100), 5*time.Second)

	est, ok := q.Buy("T", 120)
	require.True(t, ok)
	assert.InDelta(t, 48.4, est.TotalNotional, 1e-9)
	assert.Equal(t, 5*time.Second, src.age)

	_, ok = q.Sell("T", 50)
	assert.False(t, ok)
	assert.InDelta(t, 40, q.MaxSell("T", 0.30, 0), 1e-9)
	// 0.404 all-in fits whole, 0.4242 fits partially
	assert.InDelta(t, 100+0.1/0.0192, q.MaxBuy("T", 0.405, 0), 1e-6)

	src.ok = false
	_, ok = q.Buy("T", 1)
	assert.False(t, ok)
	assert.Zero(t, q.MaxBuy("T", 1, 0))
}
