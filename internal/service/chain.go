package service

import (
	"net/url"

	"mediafetch/internal/core/ports"
)

// Predicate decides whether a strategy applies to a resolved URL. It must be
// a pure function of the URL.
type Predicate func(*url.URL) bool

type chainEntry struct {
	applies  Predicate
	strategy ports.Strategy
}

// Chain is an ordered list of retrieval strategies. The fallback registered
// at construction always runs last and applies to every URL, so a walk of
// the chain always ends in success or exhaustion.
type Chain struct {
	entries  []chainEntry
	fallback ports.Strategy
}

// NewChain creates a chain terminated by the given general fallback.
func NewChain(fallback ports.Strategy) *Chain {
	if fallback == nil {
		panic("service: chain requires a fallback strategy")
	}
	return &Chain{fallback: fallback}
}

// Register appends a strategy in priority order, ahead of the fallback.
func (c *Chain) Register(applies Predicate, strategy ports.Strategy) *Chain {
	c.entries = append(c.entries, chainEntry{applies: applies, strategy: strategy})
	return c
}

// For returns the strategies to try for u, in order.
func (c *Chain) For(u *url.URL) []ports.Strategy {
	out := make([]ports.Strategy, 0, len(c.entries)+1)
	for _, e := range c.entries {
		if e.applies == nil || e.applies(u) {
			out = append(out, e.strategy)
		}
	}
	return append(out, c.fallback)
}

// Names lists every registered strategy name, fallback last.
func (c *Chain) Names() []string {
	names := make([]string, 0, len(c.entries)+1)
	for _, e := range c.entries {
		names = append(names, e.strategy.Name())
	}
	return append(names, c.fallback.Name())
}
