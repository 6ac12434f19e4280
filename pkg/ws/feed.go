package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/helix-lab/helix/bookfeed/pkg/latency"
	"github.com/helix-lab/helix/bookfeed/pkg/logger"
	"github.com/helix-lab/helix/bookfeed/pkg/metrics"
	"github.com/helix-lab/helix/bookfeed/pkg/orderbook"
	"github.com/helix-lab/helix/bookfeed/pkg/transport"
)

const (
	dialTimeout  = 10 * time.Second
	writeTimeout = 5 * time.Second
	readLimit    = 4 << 20

	defaultHeartbeat    = 10 * time.Second
	defaultReconnectMin = 500 * time.Millisecond
	defaultReconnectMax = 30 * time.Second
)

type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Config is the connection half of a feed's settings.
type Config struct {
	URL              string
	APIKey           string
	Heartbeat        time.Duration
	ReconnectMin     time.Duration
	ReconnectMax     time.Duration
	ReadTimeout      time.Duration
	StaleTimeout     time.Duration
	MaxDepthLevels   int
	ResetOnReconnect bool
}

func (c Config) normalize() Config {
	if c.Heartbeat <= 0 {
		c.Heartbeat = defaultHeartbeat
	}
	if c.ReconnectMin <= 0 {
		c.ReconnectMin = defaultReconnectMin
	}
	if c.ReconnectMax <= 0 {
		c.ReconnectMax = defaultReconnectMax
	}
	if c.ReconnectMax < c.ReconnectMin {
		c.ReconnectMax = c.ReconnectMin
	}
	return c
}

type Status struct {
	Platform        string        `json:"platform"`
	State           string        `json:"state"`
	Connected       bool          `json:"connected"`
	SubscribedCount int           `json:"subscribedCount"`
	CacheSize       int           `json:"cacheSize"`
	LastMessageAt   time.Time     `json:"lastMessageAt"`
	MessageCount    uint64        `json:"messageCount"`
	ReconnectDelay  time.Duration `json:"reconnectDelayNs"`
}

// Feed keeps one venue's books in sync over a websocket. A single goroutine
// owns dial, read and reconnect, so diffs are applied in arrival order.
// Stop is terminal.
type Feed struct {
	cfg     Config
	adapter Adapter
	store   *orderbook.Store
	logger  *zap.Logger
	backoff *reconnectBackoff
	onDiff  func(transport.Diff)

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.Mutex
	state      State
	conn       *websocket.Conn
	subscribed map[string]struct{}
	running    bool
	stopped    bool

	delay         atomic.Int64
	lastMessageAt atomic.Int64
	messageCount  atomic.Uint64
}

func NewFeed(adapter Adapter, cfg Config, log *zap.Logger) *Feed {
	cfg = cfg.normalize()
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		cfg:        cfg,
		adapter:    adapter,
		store:      orderbook.NewStore(),
		logger:     logger.OrNop(log).Named("feed." + adapter.Platform()),
		backoff:    newReconnectBackoff(cfg.ReconnectMin, cfg.ReconnectMax),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		subscribed: make(map[string]struct{}),
	}
}

// OnDiff registers a hook called for every applied diff on the feed
// goroutine. It must be set before Start.
func (f *Feed) OnDiff(fn func(transport.Diff)) { f.onDiff = fn }

func (f *Feed) Platform() string            { return f.adapter.Platform() }
func (f *Feed) Store() *orderbook.Store     { return f.store }
func (f *Feed) StaleTimeout() time.Duration { return f.cfg.StaleTimeout }

// Start launches the connection loop. It does nothing once stopped or while
// the loop is already running.
func (f *Feed) Start() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped || f.running {
		return
	}
	f.running = true
	f.state = StateConnecting
	go f.run()
}

// Stop closes the connection and waits for the loop to exit. No diff is
// applied after Stop returns.
func (f *Feed) Stop() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	f.stopped = true
	running := f.running
	f.mu.Unlock()

	f.cancel()
	if running {
		<-f.done
	}

	f.mu.Lock()
	f.state = StateDisconnected
	f.mu.Unlock()
	metrics.FeedConnected.WithLabelValues(f.Platform()).Set(0)
}

// SubscribeMarketIDs tracks new ids. They are subscribed right away when the
// socket is open, and replayed on every reconnect.
func (f *Feed) SubscribeMarketIDs(ids []string) {
	f.mu.Lock()
	var added []string
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := f.subscribed[id]; ok {
			continue
		}
		f.subscribed[id] = struct{}{}
		added = append(added, id)
	}
	conn := f.conn
	f.mu.Unlock()

	if conn == nil {
		f.Start()
		return
	}
	for _, id := range added {
		if err := f.send(f.ctx, conn, f.adapter.Subscribe(id)); err != nil {
			f.logger.Warn("subscribe failed, will retry on reconnect", zap.String("id", id), zap.Error(err))
			return
		}
	}
}

// Subscriptions returns the tracked ids in sorted order.
func (f *Feed) Subscriptions() []string {
	f.mu.Lock()
	out := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		out = append(out, id)
	}
	f.mu.Unlock()
	sort.Strings(out)
	return out
}

func (f *Feed) Status() Status {
	f.mu.Lock()
	state, subs := f.state, len(f.subscribed)
	f.mu.Unlock()

	s := Status{
		Platform:        f.Platform(),
		State:           state.String(),
		Connected:       state == StateConnected,
		SubscribedCount: subs,
		CacheSize:       f.store.Len(),
		MessageCount:    f.messageCount.Load(),
		ReconnectDelay:  time.Duration(f.delay.Load()),
	}
	if ns := f.lastMessageAt.Load(); ns > 0 {
		s.LastMessageAt = time.Unix(0, ns)
	}
	return s
}

func (f *Feed) TopOfBook(tokenID string, maxAge time.Duration) (orderbook.TopOfBook, bool) {
	return f.store.TopOfBook(tokenID, maxAge)
}

// Orderbook returns up to depth levels per side (all when depth < 0),
// never more than MaxDepthLevels when that is set.
func (f *Feed) Orderbook(tokenID string, maxAge time.Duration, depth int) (orderbook.Snapshot, bool) {
	if limit := f.cfg.MaxDepthLevels; limit > 0 && (depth < 0 || depth > limit) {
		depth = limit
	}
	return f.store.Snapshot(tokenID, maxAge, depth)
}

func (f *Feed) run() {
	defer close(f.done)
	for {
		f.setState(StateConnecting)
		err := f.connect()
		if f.ctx.Err() != nil {
			return
		}

		delay := f.backoff.Next()
		f.delay.Store(int64(delay))
		metrics.FeedReconnects.WithLabelValues(f.Platform()).Inc()
		f.logger.Warn("feed down, reconnecting", zap.Error(err), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-f.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect runs one connection from dial to close.
func (f *Feed) connect() error {
	endpoint, err := f.adapter.Endpoint(f.cfg.URL, f.cfg.APIKey)
	if err != nil {
		f.setState(StateDisconnected)
		return err
	}

	dialCtx, cancelDial := context.WithTimeout(f.ctx, dialTimeout)
	conn, _, err := websocket.Dial(dialCtx, endpoint, nil)
	cancelDial()
	if err != nil {
		f.setState(StateDisconnected)
		return fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(readLimit)

	log := f.logger.With(zap.String("session", uuid.NewString()))
	connCtx, cancel := context.WithCancel(f.ctx)
	defer cancel()
	defer f.release(conn)

	ids := f.open(conn)
	log.Info("feed connected", zap.Int("subscriptions", len(ids)))
	for _, id := range ids {
		if err := f.send(connCtx, conn, f.adapter.Subscribe(id)); err != nil {
			return fmt.Errorf("subscribe %s: %w", id, err)
		}
	}
	go f.heartbeat(connCtx, conn, log)

	err = f.readLoop(connCtx, conn)
	log.Info("feed closed", zap.Error(err))
	return err
}

// open marks the socket live and returns the ids to replay.
func (f *Feed) open(conn *websocket.Conn) []string {
	f.backoff.Reset()
	f.delay.Store(int64(f.cfg.ReconnectMin))
	if f.cfg.ResetOnReconnect {
		f.store.Reset()
	}

	f.mu.Lock()
	f.state = StateConnected
	f.conn = conn
	ids := make([]string, 0, len(f.subscribed))
	for id := range f.subscribed {
		ids = append(ids, id)
	}
	f.mu.Unlock()

	metrics.FeedConnected.WithLabelValues(f.Platform()).Set(1)
	sort.Strings(ids)
	return ids
}

func (f *Feed) release(conn *websocket.Conn) {
	f.mu.Lock()
	f.state = StateDisconnected
	f.conn = nil
	f.mu.Unlock()
	metrics.FeedConnected.WithLabelValues(f.Platform()).Set(0)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (f *Feed) setState(s State) {
	f.mu.Lock()
	f.state = s
	f.mu.Unlock()
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		readCtx, cancel := ctx, context.CancelFunc(func() {})
		if f.cfg.ReadTimeout > 0 {
			readCtx, cancel = context.WithTimeout(ctx, f.cfg.ReadTimeout)
		}
		_, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.handleMessage(data)
	}
}

func (f *Feed) heartbeat(ctx context.Context, conn *websocket.Conn, log *zap.Logger) {
	ticker := time.NewTicker(f.cfg.Heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.send(ctx, conn, f.adapter.Heartbeat()); err != nil {
				log.Debug("heartbeat failed", zap.Error(err))
				return
			}
		}
	}
}

func (f *Feed) send(ctx context.Context, conn *websocket.Conn, msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(wctx, websocket.MessageText, payload)
}

// handleMessage applies one inbound payload. Only payloads that parse at the
// envelope level count as messages; bad records inside them are dropped
// one by one.
func (f *Feed) handleMessage(data []byte) {
	defer latency.Start("feed_message").Stop()

	platform := f.Platform()
	f.lastMessageAt.Store(time.Now().UnixNano())

	records, channel, err := splitPayload(data, f.adapter.EnvelopeKeys())
	if err != nil {
		metrics.FeedDropped.WithLabelValues(platform, "malformed").Inc()
		f.logger.Debug("dropping payload", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	f.messageCount.Add(1)
	metrics.FeedMessages.WithLabelValues(platform).Inc()

	applied := 0
	for _, record := range records {
		d, err := f.adapter.Decode(record)
		if err != nil {
			metrics.FeedDropped.WithLabelValues(platform, dropReason(err)).Inc()
			continue
		}
		if d.Channel == "" {
			d.Channel = channel
		}
		if !f.store.Apply(d) {
			metrics.FeedDropped.WithLabelValues(platform, "invalid_level").Inc()
			continue
		}
		applied++
		if f.onDiff != nil {
			f.onDiff(d)
		}
	}
	if applied > 0 {
		metrics.DiffsApplied.WithLabelValues(platform).Add(float64(applied))
	}
}
