package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/helix-lab/helix/bookfeed/pkg/api"
	"github.com/helix-lab/helix/bookfeed/pkg/config"
	"github.com/helix-lab/helix/bookfeed/pkg/logger"
	"github.com/helix-lab/helix/bookfeed/pkg/solver"
	"github.com/helix-lab/helix/bookfeed/pkg/ws"
)

func main() {
	cfgPath := flag.String("config", "", "config file (defaults to ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Fatal("gateway failed", zap.Error(err))
	}
	log.Info("gateway stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	feeds := make([]*ws.Feed, 0, len(cfg.Feeds))
	venues := make([]api.Venue, 0, len(cfg.Feeds))
	for _, fc := range cfg.Feeds {
		adapter, err := ws.AdapterFor(fc.Platform, fc.Channel)
		if err != nil {
			return err
		}
		feed := ws.NewFeed(adapter, fc.Connection(), log)
		feeds = append(feeds, feed)
		venues = append(venues, api.Venue{Source: feed, Params: fc.PricingParams()})
	}
	router, err := ws.NewRouter(feeds...)
	if err != nil {
		return err
	}

	var slv api.Solver
	if cfg.Solver.Command != "" {
		slv = solver.NewClient(cfg.Solver.Command, cfg.Solver.Args, cfg.Solver.Timeout(), log)
	}
	server := api.NewServer(log, venues, slv)

	for _, fc := range cfg.Feeds {
		feed, _ := router.Feed(fc.Platform)
		feed.SubscribeMarketIDs(fc.Markets)
	}
	router.Start()
	log.Info("feeds started", zap.Strings("platforms", router.Platforms()))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, cfg.HTTPAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		router.Stop()
		return nil
	})
	return g.Wait()
}
