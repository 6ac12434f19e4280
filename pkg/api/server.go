package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/helix-lab/helix/bookfeed/pkg/logger"
	"github.com/helix-lab/helix/bookfeed/pkg/pricing"
	"github.com/helix-lab/helix/bookfeed/pkg/solver"
	"github.com/helix-lab/helix/bookfeed/pkg/ws"
)

const shutdownTimeout = 5 * time.Second

// Venue is one feed exposed over HTTP with the cost model its books are
// priced with.
type Venue struct {
	Source ws.Source
	Params pricing.Params
}

// Solver is satisfied by *solver.Client.
type Solver interface {
	Solve(ctx context.Context, req *solver.Request) (*solver.Response, error)
}

type venue struct {
	source ws.Source
	quoter *pricing.Quoter
}

// Server is the read API over live books.
type Server struct {
	router *gin.Engine
	logger *zap.Logger
	venues map[string]venue
	names  []string
	solver Solver
}

// NewServer wires routes for venues. slv may be nil, in which case
// /arb/solve answers 503.
func NewServer(log *zap.Logger, venues []Venue, slv Solver) *Server {
	log = logger.OrNop(log).Named("api")
	s := &Server{
		logger: log,
		venues: make(map[string]venue, len(venues)),
		solver: slv,
	}
	for _, v := range venues {
		p := v.Source.Platform()
		s.venues[p] = venue{
			source: v.Source,
			quoter: pricing.NewQuoter(v.Source, v.Params, v.Source.StaleTimeout()),
		}
		s.names = append(s.names, p)
	}
	sort.Strings(s.names)

	router := gin.New()
	router.Use(ginzap.Ginzap(log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(log, true))
	s.router = router
	s.registerRoutes()
	return s
}

// Router returns the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) registerRoutes() {
	s.router.GET("/health", s.health)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	feeds := s.router.Group("/feeds")
	{
		feeds.GET("", s.listFeeds)
		feeds.GET("/:platform/books/:token", s.getBook)
		feeds.GET("/:platform/books/:token/top", s.getTop)
		feeds.GET("/:platform/quote/:token", s.getQuote)
		feeds.POST("/:platform/subscriptions", s.subscribe)
	}

	s.router.POST("/arb/solve", s.solve)
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting api server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
