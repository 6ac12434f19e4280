package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/helix-lab/helix/bookfeed/pkg/config"
	"github.com/helix-lab/helix/bookfeed/pkg/logger"
	"github.com/helix-lab/helix/bookfeed/pkg/replay"
	"github.com/helix-lab/helix/bookfeed/pkg/transport"
	"github.com/helix-lab/helix/bookfeed/pkg/ws"
)

const (
	progVersion = "bookfeed_recorder/1.0"
	rowChanSize = 8192
)

type metaInfo struct {
	Version    string   `json:"version"`
	Platform   string   `json:"platform"`
	Endpoint   string   `json:"endpoint"`
	Markets    []string `json:"markets"`
	StartTime  string   `json:"start_time"`
	OutputCSV  string   `json:"output_csv"`
	OutputMeta string   `json:"output_meta"`
}

func main() {
	cfgPath := flag.String("config", "", "config file (defaults to ./config.yaml)")
	platform := flag.String("platform", "polymarket", "feed to record, as named in the config")
	markets := flag.String("markets", "", "comma separated ids to subscribe in addition to the configured ones")
	out := flag.String("out", "data/replay/diffs.csv", "CSV file to write applied diffs")
	duration := flag.Duration("duration", time.Minute, "how long to record before exiting")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logger.New(cfg.LogLevel)
	defer log.Sync()

	if err := run(cfg, log, *platform, splitIDs(*markets), *out, *duration); err != nil {
		log.Fatal("recorder failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger, platform string, extra []string, out string, duration time.Duration) error {
	fc, ok := cfg.Feed(platform)
	if !ok {
		return fmt.Errorf("no feed configured for platform %q", platform)
	}
	adapter, err := ws.AdapterFor(fc.Platform, fc.Channel)
	if err != nil {
		return err
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	startWall := time.Now()
	runCtx, cancel := context.WithDeadline(rootCtx, startWall.Add(duration))
	defer cancel()

	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("mkdir output dir: %w", err)
	}
	ids := append(append([]string(nil), fc.Markets...), extra...)
	metaPath := sidecarMetaPath(out)
	if err := writeMeta(metaPath, metaInfo{
		Version:    progVersion,
		Platform:   fc.Platform,
		Endpoint:   fc.URL,
		Markets:    ids,
		StartTime:  startWall.Format(time.RFC3339Nano),
		OutputCSV:  out,
		OutputMeta: metaPath,
	}); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("open output csv: %w", err)
	}
	defer f.Close()

	// The feed goroutine blocks on a full channel rather than dropping rows.
	rowCh := make(chan replay.Row, rowChanSize)
	feed := ws.NewFeed(adapter, fc.Connection(), log)
	feed.OnDiff(func(d transport.Diff) {
		select {
		case rowCh <- replay.NewRow(d, time.Now()):
		case <-runCtx.Done():
		}
	})

	var rowsWritten atomic.Uint64
	writerErr := make(chan error, 1)
	go func() {
		n, err := replay.WriteLoop(context.Background(), f, rowCh)
		rowsWritten.Store(n)
		writerErr <- err
	}()

	log.Info("recording", zap.String("platform", fc.Platform), zap.Strings("markets", ids), zap.String("out", out))
	feed.SubscribeMarketIDs(ids)
	feed.Start()

	<-runCtx.Done()
	feed.Stop()
	close(rowCh)
	if err := <-writerErr; err != nil {
		return err
	}

	log.Info("recorded",
		zap.Duration("elapsed", time.Since(startWall).Truncate(time.Second)),
		zap.Uint64("rows", rowsWritten.Load()),
		zap.String("csv", out),
		zap.String("meta", metaPath),
	)
	return nil
}

func splitIDs(raw string) []string {
	var out []string
	for _, id := range strings.Split(raw, ",") {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}

func sidecarMetaPath(csvPath string) string {
	dir := filepath.Dir(csvPath)
	base := filepath.Base(csvPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(dir, name+".meta.json")
}

func writeMeta(path string, meta metaInfo) error {
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}
