// Package strategy hosts the core.Strategy plugin contract plus a Registry
// that aggregates proposals from every enabled strategy, deduping by
// symbol per spec.md's redesign note (§ "Re-architecture hints"): keep the
// highest-confidence proposal when two strategies disagree on the same
// symbol.
package strategy

import (
	"context"
	"fmt"

	"market_maker/internal/core"
)

// Registry owns an ordered set of Strategy plugins and aggregates their
// TradeProposals into one deduped slice per cycle.
type Registry struct {
	strategies []core.Strategy
	logger     core.Logger
}

// NewRegistry builds a Registry from the given strategies, evaluated in
// order.
func NewRegistry(logger core.Logger, strategies ...core.Strategy) *Registry {
	return &Registry{strategies: strategies, logger: logger}
}

// Propose runs every registered strategy against the same universe/quotes/
// portfolio snapshot and merges their proposals, keeping, per symbol, the
// proposal with the highest Confidence. A failing strategy is logged and
// skipped rather than aborting the cycle — one bad plugin shouldn't stall
// every other symbol's decision.
func (r *Registry) Propose(ctx context.Context, universe []string, quotes map[string]core.Quote, portfolio core.PortfolioState) ([]core.TradeProposal, error) {
	best := make(map[string]core.TradeProposal)

	for _, s := range r.strategies {
		proposals, err := s.Propose(ctx, universe, quotes, portfolio)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("strategy proposal failed, skipping", "strategy", s.Name(), "error", err.Error())
			}
			continue
		}
		for _, p := range proposals {
			existing, ok := best[p.Symbol]
			if !ok || p.Confidence.GreaterThan(existing.Confidence) {
				best[p.Symbol] = p
			}
		}
	}

	out := make([]core.TradeProposal, 0, len(best))
	for _, p := range best {
		out = append(out, p)
	}
	return out, nil
}

// Names returns the registered strategy names, in evaluation order, for
// logging and health reporting.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.strategies))
	for _, s := range r.strategies {
		names = append(names, s.Name())
	}
	return names
}

var _ core.Strategy = (*PassthroughStrategy)(nil)

// PassthroughStrategy is the trivial reference Strategy the core ships to
// exercise Registry wiring and tests. It never proposes a trade — real
// signal generation is deliberately out of scope per spec.md §1 and is
// wired in as a plugin.
type PassthroughStrategy struct {
	name string
}

// NewPassthroughStrategy returns a no-op Strategy identified by name.
func NewPassthroughStrategy(name string) *PassthroughStrategy {
	if name == "" {
		name = "passthrough"
	}
	return &PassthroughStrategy{name: name}
}

func (p *PassthroughStrategy) Name() string { return p.name }

func (p *PassthroughStrategy) Propose(ctx context.Context, universe []string, quotes map[string]core.Quote, portfolio core.PortfolioState) ([]core.TradeProposal, error) {
	if len(universe) == 0 {
		return nil, fmt.Errorf("strategy: empty universe")
	}
	return nil, nil
}
