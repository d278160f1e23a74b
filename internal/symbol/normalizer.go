// Package symbol canonicalizes exchange product identifiers into the
// BASE-QUOTE form used as map keys throughout the system.
package symbol

import "strings"

// aliasBase maps known base-currency aliases to their canonical ticker.
var aliasBase = map[string]string{
	"XBT": "BTC",
}

// aliasSymbol maps whole-symbol aliases (no separator, or non-USD quote
// spellings) to their canonical BASE-QUOTE form.
var aliasSymbol = map[string]string{
	"BTCUSD": "BTC-USD",
	"ETHUSD": "ETH-USD",
}

// Normalize converts any supported alias spelling of a symbol into the
// canonical upper-case, hyphen-delimited BASE-QUOTE form. It is idempotent:
// Normalize(Normalize(s)) == Normalize(s) for any symbol-like input.
func Normalize(raw string) string {
	s := strings.ToUpper(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, "/", "-")

	if canon, ok := aliasSymbol[s]; ok {
		s = canon
	}

	base, quote, hasSep := strings.Cut(s, "-")
	if !hasSep {
		// No separator: assume a trailing USD/USDC/USDT quote currency.
		for _, q := range []string{"USDC", "USDT", "USD"} {
			if strings.HasSuffix(s, q) && len(s) > len(q) {
				base, quote = s[:len(s)-len(q)], q
				hasSep = true
				break
			}
		}
	}
	if !hasSep {
		base, quote = s, "USD"
	}

	if canon, ok := aliasBase[base]; ok {
		base = canon
	}

	return base + "-" + quote
}

// Base returns the base-currency component of a canonical or alias symbol.
func Base(raw string) string {
	canon := Normalize(raw)
	base, _, _ := strings.Cut(canon, "-")
	return base
}

// Quote returns the quote-currency component of a canonical or alias symbol.
func Quote(raw string) string {
	canon := Normalize(raw)
	_, quote, _ := strings.Cut(canon, "-")
	return quote
}
