// Package ai wraps the LLM providers behind a single completion interface.
// The pipeline stages (router, planner, responder) only ever see Provider.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mindloop/aria/internal/logging"
)

// Request is a single prompt completion request
type Request struct {
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Provider completes prompts. Implementations must respect ctx cancellation.
type Provider interface {
	// ID returns the provider identifier
	ID() string

	// Complete sends the prompt and returns the model's text output
	Complete(ctx context.Context, req *Request) (string, error)
}

// ErrNoProviders is returned when a chain has nothing configured
var ErrNoProviders = errors.New("no providers configured")

// Chain tries providers in order, with a per-call timeout. A timeout is
// treated the same as any other call failure.
type Chain struct {
	providers []Provider
	timeout   time.Duration
}

// NewChain builds a provider chain. A zero timeout defaults to 30s.
func NewChain(timeout time.Duration, providers ...Provider) *Chain {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Chain{providers: providers, timeout: timeout}
}

// ID returns the chain identifier
func (c *Chain) ID() string {
	return "chain"
}

// Complete tries each provider in order until one succeeds
func (c *Chain) Complete(ctx context.Context, req *Request) (string, error) {
	if len(c.providers) == 0 {
		return "", ErrNoProviders
	}
	var lastErr error
	for _, p := range c.providers {
		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		text, err := p.Complete(callCtx, req)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		logging.Warnf("[AI] Provider %s failed: %v", p.ID(), err)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("all providers failed: %w", lastErr)
}
