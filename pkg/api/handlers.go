package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/helix-lab/helix/bookfeed/pkg/orderbook"
	"github.com/helix-lab/helix/bookfeed/pkg/pricing"
	"github.com/helix-lab/helix/bookfeed/pkg/solver"
	"github.com/helix-lab/helix/bookfeed/pkg/ws"
)

func abort(c *gin.Context, code int, msg string) {
	c.AbortWithStatusJSON(code, gin.H{"error": msg})
}

func (s *Server) health(c *gin.Context) {
	connected := 0
	for _, name := range s.names {
		if s.venues[name].source.Status().Connected {
			connected++
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "feeds": len(s.names), "connected": connected})
}

func (s *Server) listFeeds(c *gin.Context) {
	out := make([]ws.Status, 0, len(s.names))
	for _, name := range s.names {
		out = append(out, s.venues[name].source.Status())
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) venue(c *gin.Context) (venue, bool) {
	return s.venueNamed(c, c.Param("platform"))
}

func (s *Server) venueNamed(c *gin.Context, platform string) (venue, bool) {
	v, ok := s.venues[platform]
	if !ok {
		abort(c, http.StatusNotFound, "unknown platform")
	}
	return v, ok
}

// maxAge defaults to the feed's stale timeout; ?max_age_ms overrides it.
func maxAge(c *gin.Context, src ws.Source) (time.Duration, bool) {
	raw := c.Query("max_age_ms")
	if raw == "" {
		return src.StaleTimeout(), true
	}
	ms, err := strconv.Atoi(raw)
	if err != nil || ms < 0 {
		abort(c, http.StatusBadRequest, "max_age_ms must be a non-negative integer")
		return 0, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

func (s *Server) getBook(c *gin.Context) {
	v, ok := s.venue(c)
	if !ok {
		return
	}
	age, ok := maxAge(c, v.source)
	if !ok {
		return
	}
	depth := -1
	if raw := c.Query("depth"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			abort(c, http.StatusBadRequest, "depth must be an integer")
			return
		}
		depth = n
	}

	snap, ok := v.source.Orderbook(c.Param("token"), age, depth)
	if !ok {
		abort(c, http.StatusNotFound, "no fresh book for token")
		return
	}
	c.JSON(http.StatusOK, snap)
}

func (s *Server) getTop(c *gin.Context) {
	v, ok := s.venue(c)
	if !ok {
		return
	}
	age, ok := maxAge(c, v.source)
	if !ok {
		return
	}
	top, ok := v.source.TopOfBook(c.Param("token"), age)
	if !ok {
		abort(c, http.StatusNotFound, "no fresh book for token")
		return
	}
	c.JSON(http.StatusOK, top)
}

type quoteResponse struct {
	TokenID   string                `json:"tokenId"`
	Side      string                `json:"side"`
	Estimate  *pricing.FillEstimate `json:"estimate,omitempty"`
	MaxShares *float64              `json:"maxShares,omitempty"`
}

// getQuote prices a fill. With ?shares it walks the book for that size;
// with ?limit (and optional ?max_dev_bps) it returns the largest size
// within the limit.
func (s *Server) getQuote(c *gin.Context) {
	v, ok := s.venue(c)
	if !ok {
		return
	}
	token := c.Param("token")
	side := strings.ToLower(c.DefaultQuery("side", "buy"))
	if side != "buy" && side != "sell" {
		abort(c, http.StatusBadRequest, "side must be buy or sell")
		return
	}
	resp := quoteResponse{TokenID: token, Side: side}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.ParseFloat(raw, 64)
		if err != nil || limit <= 0 {
			abort(c, http.StatusBadRequest, "limit must be a positive number")
			return
		}
		dev, err := strconv.ParseFloat(c.DefaultQuery("max_dev_bps", "0"), 64)
		if err != nil || dev < 0 {
			abort(c, http.StatusBadRequest, "max_dev_bps must be a non-negative number")
			return
		}
		var shares float64
		if side == "buy" {
			shares = v.quoter.MaxBuy(token, limit, dev)
		} else {
			shares = v.quoter.MaxSell(token, limit, dev)
		}
		resp.MaxShares = &shares
		c.JSON(http.StatusOK, resp)
		return
	}

	shares, err := strconv.ParseFloat(c.Query("shares"), 64)
	if err != nil || shares <= 0 {
		abort(c, http.StatusBadRequest, "shares must be a positive number")
		return
	}
	var (
		est    pricing.FillEstimate
		filled bool
	)
	if side == "buy" {
		est, filled = v.quoter.Buy(token, shares)
	} else {
		est, filled = v.quoter.Sell(token, shares)
	}
	if !filled {
		abort(c, http.StatusNotFound, "book cannot fill the requested size")
		return
	}
	resp.Estimate = &est
	c.JSON(http.StatusOK, resp)
}

type subscribeRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

func (s *Server) subscribe(c *gin.Context) {
	v, ok := s.venue(c)
	if !ok {
		return
	}
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	v.source.SubscribeMarketIDs(req.IDs)
	c.JSON(http.StatusAccepted, gin.H{"subscriptions": v.source.Subscriptions()})
}

// solve forwards a solver request. Tokens without quotes are priced from
// the live book of ?platform when given.
func (s *Server) solve(c *gin.Context) {
	if s.solver == nil {
		abort(c, http.StatusServiceUnavailable, "solver not configured")
		return
	}
	var req solver.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}
	if platform := c.Query("platform"); platform != "" {
		v, ok := s.venueNamed(c, platform)
		if !ok {
			return
		}
		age := v.source.StaleTimeout()
		solver.FillQuotes(&req, func(tokenID string) (orderbook.TopOfBook, bool) {
			return v.source.TopOfBook(tokenID, age)
		})
	}
	if err := req.Validate(); err != nil {
		abort(c, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := s.solver.Solve(c.Request.Context(), &req)
	if err != nil {
		s.logger.Warn("solve failed", zap.Error(err))
		code := http.StatusInternalServerError
		if errors.Is(err, solver.ErrSolver) {
			code = http.StatusBadGateway
		}
		abort(c, code, err.Error())
		return
	}
	c.JSON(http.StatusOK, resp)
}
