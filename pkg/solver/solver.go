package solver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/helix-lab/helix/bookfeed/pkg/logger"
	"github.com/helix-lab/helix/bookfeed/pkg/orderbook"
)

// ErrSolver marks failures reported by, or caused by, the solver process.
var ErrSolver = errors.New("solver failed")

const defaultTimeout = 10 * time.Second

// Client runs an external dependency-arbitrage solver that reads one JSON
// Request on stdin and writes one JSON Response on stdout.
type Client struct {
	Command string
	Args    []string
	// Env is appended to the current process environment.
	Env     []string
	Timeout time.Duration

	logger *zap.Logger
}

func NewClient(command string, args []string, timeout time.Duration, log *zap.Logger) *Client {
	return &Client{Command: command, Args: args, Timeout: timeout, logger: logger.OrNop(log).Named("solver")}
}

func (c *Client) Solve(ctx context.Context, req *Request) (*Response, error) {
	if c.Command == "" {
		return nil, fmt.Errorf("%w: no command configured", ErrSolver)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("validate request: %w", err)
	}
	input, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Command, c.Args...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	start := time.Now()
	runErr := cmd.Run()
	log := c.logOrNop().With(
		zap.Int("tokens", len(req.Tokens)),
		zap.Duration("elapsed", time.Since(start)),
	)
	if ctx.Err() != nil {
		log.Warn("solver timed out", zap.Error(ctx.Err()))
		return nil, fmt.Errorf("%w: %v", ErrSolver, ctx.Err())
	}
	if runErr != nil {
		log.Warn("solver exited", zap.Error(runErr), zap.String("stderr", tail(stderr.String())))
		return nil, fmt.Errorf("%w: run %s: %v", ErrSolver, c.Command, runErr)
	}

	var resp Response
	if err := json.Unmarshal(lastLine(stdout.Bytes()), &resp); err != nil {
		return nil, fmt.Errorf("%w: decode output: %v", ErrSolver, err)
	}
	if resp.Status == StatusError {
		return nil, fmt.Errorf("%w: %s", ErrSolver, resp.Error)
	}
	log.Debug("solver finished", zap.Int("opportunities", len(resp.Opportunities)))
	return &resp, nil
}

func (c *Client) logOrNop() *zap.Logger {
	return logger.OrNop(c.logger)
}

// lastLine picks the final non-empty line so stray prints before the result
// do not break decoding.
func lastLine(out []byte) []byte {
	lines := bytes.Split(bytes.TrimSpace(out), []byte("\n"))
	return lines[len(lines)-1]
}

func tail(s string) string {
	const limit = 512
	s = strings.TrimSpace(s)
	if len(s) > limit {
		return s[len(s)-limit:]
	}
	return s
}

// TokenFromBook fills a solver token from a live top of book.
func TokenFromBook(top orderbook.TopOfBook, conditionID, outcome string) Token {
	t := Token{TokenID: top.TokenID, ConditionID: conditionID, Outcome: strings.ToUpper(outcome)}
	if top.HasAsk {
		t.Ask, t.AskSize = top.BestAsk, top.BestAskSize
	}
	if top.HasBid {
		t.Bid, t.BidSize = top.BestBid, top.BestBidSize
	}
	return t
}

// FillQuotes prices every token that carries neither an ask nor a bid from
// lookup. It returns how many tokens were filled.
func FillQuotes(req *Request, lookup func(tokenID string) (orderbook.TopOfBook, bool)) int {
	filled := 0
	for i := range req.Tokens {
		t := &req.Tokens[i]
		if t.Ask > 0 || t.Bid > 0 {
			continue
		}
		top, ok := lookup(t.TokenID)
		if !ok {
			continue
		}
		priced := TokenFromBook(top, t.ConditionID, t.Outcome)
		priced.FeeBps, priced.Label = t.FeeBps, t.Label
		*t = priced
		filled++
	}
	return filled
}
