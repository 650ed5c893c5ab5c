package provider

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig tunes the classified-failure retry loop.
type RetryConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	BackoffMultiplier float64
	MaxDelay          time.Duration

	// CanRetry is consulted before each retry; nil means always.
	CanRetry func() bool
}

// DefaultRetryConfig matches the built-in llm.yaml defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialDelay:      time.Second,
		BackoffMultiplier: 2,
		MaxDelay:          30 * time.Second,
	}
}

// RetryPhase marks the stage of a retry event.
type RetryPhase string

const (
	RetryPhaseRetrying  RetryPhase = "retrying"
	RetryPhaseExhausted RetryPhase = "exhausted"
)

// RetryEvent is surfaced to the event bus while the caller retries.
type RetryEvent struct {
	Phase         RetryPhase    `json:"phase"`
	Attempt       int           `json:"attempt"`
	TotalAttempts int           `json:"total_attempts"`
	Backoff       time.Duration `json:"backoff,omitempty"`
	Suggestion    string        `json:"suggestion,omitempty"`
}

// RetryEventFunc receives retry events for one dialog's in-flight generation.
type RetryEventFunc func(dialogID string, ev RetryEvent)

// Caller wraps a Provider with classified-failure retry, exponential backoff,
// rate limiting, and per-dialog persistent-problem bookkeeping.
type Caller struct {
	provider Provider
	cfg      RetryConfig
	limiter  *rate.Limiter // nil = unlimited
	onRetry  RetryEventFunc

	// problems records a rejected-provider marker per dialog, cleared on the
	// next successful generation. Deduplicates repeated 4xx noise.
	problemMu sync.Mutex
	problems  map[string]string
}

// NewCaller builds a retrying caller around p. rpm <= 0 disables rate limiting.
func NewCaller(p Provider, cfg RetryConfig, rpm int, onRetry RetryEventFunc) *Caller {
	var limiter *rate.Limiter
	if rpm > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	return &Caller{
		provider: p,
		cfg:      cfg,
		limiter:  limiter,
		onRetry:  onRetry,
		problems: make(map[string]string),
	}
}

// Provider returns the wrapped provider.
func (c *Caller) Provider() Provider { return c.provider }

// Problem returns the recorded persistent provider problem for a dialog, if any.
func (c *Caller) Problem(dialogID string) (string, bool) {
	c.problemMu.Lock()
	defer c.problemMu.Unlock()
	p, ok := c.problems[dialogID]
	return p, ok
}

// GenToReceiver streams a generation with retry. Once any chunk has reached
// recv, failures pass through without retry to avoid duplicated output.
func (c *Caller) GenToReceiver(ctx context.Context, dialogID string, req GenRequest, recv *Receiver) (GenResult, error) {
	var res GenResult
	err := c.withRetry(ctx, dialogID, func(attempt int) (streamed bool, err error) {
		guard := &guardedReceiver{inner: recv}
		res, err = c.provider.GenToReceiver(ctx, req, guard.receiver())
		return guard.emitted, err
	})
	return res, err
}

// GenMessages runs a batch generation with retry.
func (c *Caller) GenMessages(ctx context.Context, dialogID string, req GenRequest) ([]Message, GenResult, error) {
	var msgs []Message
	var res GenResult
	err := c.withRetry(ctx, dialogID, func(attempt int) (bool, error) {
		var err error
		msgs, res, err = c.provider.GenMessages(ctx, req)
		return false, err
	})
	return msgs, res, err
}

func (c *Caller) withRetry(ctx context.Context, dialogID string, fn func(attempt int) (streamed bool, err error)) error {
	total := c.cfg.MaxRetries + 1
	var lastErr error

	for attempt := 0; attempt < total; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		streamed, err := fn(attempt)
		if err == nil {
			c.clearProblem(dialogID)
			return nil
		}
		lastErr = err

		// Abort wins over any classification.
		if ctx.Err() != nil {
			return err
		}

		switch Classify(err) {
		case ClassRejected:
			c.recordProblem(dialogID, err.Error())
			return err
		case ClassFatal:
			return err
		}

		if streamed {
			// Partial output already delivered; a retry would duplicate it.
			return err
		}
		if attempt == total-1 {
			break
		}
		if c.cfg.CanRetry != nil && !c.cfg.CanRetry() {
			return err
		}

		backoff := c.backoff(attempt)
		c.emitRetry(dialogID, RetryEvent{
			Phase:         RetryPhaseRetrying,
			Attempt:       attempt + 1,
			TotalAttempts: total,
			Backoff:       backoff,
		})
		slog.Warn("llm call retrying",
			"dialog", dialogID,
			"provider", c.provider.Name(),
			"attempt", attempt+1,
			"total", total,
			"backoff", backoff,
			"error", err,
		)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	c.emitRetry(dialogID, RetryEvent{
		Phase:         RetryPhaseExhausted,
		TotalAttempts: total,
		Suggestion:    "check provider status and retry settings in .minds/llm.yaml",
	})
	slog.Error("llm call retries exhausted",
		"dialog", dialogID,
		"provider", c.provider.Name(),
		"attempts", total,
		"error", lastErr,
	)
	return lastErr
}

func (c *Caller) backoff(attempt int) time.Duration {
	d := c.cfg.InitialDelay
	for i := 0; i < attempt; i++ {
		d = time.Duration(float64(d) * c.cfg.BackoffMultiplier)
	}
	if c.cfg.MaxDelay > 0 && d > c.cfg.MaxDelay {
		d = c.cfg.MaxDelay
	}
	return d
}

func (c *Caller) emitRetry(dialogID string, ev RetryEvent) {
	if c.onRetry != nil {
		c.onRetry(dialogID, ev)
	}
}

func (c *Caller) recordProblem(dialogID, detail string) {
	c.problemMu.Lock()
	defer c.problemMu.Unlock()
	if _, dup := c.problems[dialogID]; !dup {
		c.problems[dialogID] = detail
	}
}

func (c *Caller) clearProblem(dialogID string) {
	c.problemMu.Lock()
	delete(c.problems, dialogID)
	c.problemMu.Unlock()
}

// guardedReceiver tracks whether any streaming output reached the caller.
type guardedReceiver struct {
	inner   *Receiver
	emitted bool
}

func (g *guardedReceiver) receiver() *Receiver {
	if g.inner == nil {
		g.inner = &Receiver{}
	}
	return &Receiver{
		OnThinkingChunk: func(s string) {
			g.emitted = true
			if g.inner.OnThinkingChunk != nil {
				g.inner.OnThinkingChunk(s)
			}
		},
		OnSayingStart: func() {
			g.emitted = true
			if g.inner.OnSayingStart != nil {
				g.inner.OnSayingStart()
			}
		},
		OnSayingChunk: func(s string) {
			g.emitted = true
			if g.inner.OnSayingChunk != nil {
				g.inner.OnSayingChunk(s)
			}
		},
		OnSayingFinish: func(s string) {
			g.emitted = true
			if g.inner.OnSayingFinish != nil {
				g.inner.OnSayingFinish(s)
			}
		},
		OnToolCall: func(tc ToolCall) {
			g.emitted = true
			if g.inner.OnToolCall != nil {
				g.inner.OnToolCall(tc)
			}
		},
	}
}
