// Package universe provides the default core.UniverseBuilder: a
// statically configured, flat symbol list. Regime-aware universe
// selection (volatility screens, volume/quality scoring) is deliberately a
// plugin surface per spec.md §1 — this is the reference implementation the
// core ships so the control loop has something to run against out of the
// box.
package universe

import (
	"context"
	"fmt"

	"market_maker/internal/core"
	"market_maker/internal/symbol"
)

// StaticBuilder returns a fixed, regime-independent symbol list, canonicalizing
// every entry through internal/symbol on construction so downstream keys are
// always in BASE-QUOTE form.
type StaticBuilder struct {
	symbols []string
}

// New builds a StaticBuilder from raw symbols (any alias form accepted),
// deduplicating after normalization.
func New(rawSymbols []string) *StaticBuilder {
	seen := make(map[string]struct{}, len(rawSymbols))
	var out []string
	for _, raw := range rawSymbols {
		canon := symbol.Normalize(raw)
		if _, ok := seen[canon]; ok {
			continue
		}
		seen[canon] = struct{}{}
		out = append(out, canon)
	}
	return &StaticBuilder{symbols: out}
}

// Build ignores regime and returns the configured symbol set. A real
// UniverseBuilder plugin would vary its output by regime (risk-on vs
// risk-off universes, volume/quality screens, etc); this reference
// implementation has no such model.
func (b *StaticBuilder) Build(ctx context.Context, regime string) ([]string, error) {
	if len(b.symbols) == 0 {
		return nil, fmt.Errorf("universe: no symbols configured")
	}
	return b.symbols, nil
}

var _ core.UniverseBuilder = (*StaticBuilder)(nil)
