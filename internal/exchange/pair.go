package exchange

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Quote currencies a pair symbol may end with, longest first so that
// "USDT" wins over "USD".
var knownMarkets = []string{"USDT", "USDC", "BUSD", "USD", "EUR", "BTC", "ETH", "BNB"}

// pairRegex matches an upper-case concatenated symbol, e.g. ETHBTC.
var pairRegex = regexp.MustCompile(`^[A-Z0-9]{4,20}$`)

var (
	ErrInvalidPair   = errors.New("exchange: invalid pair symbol")
	ErrUnknownMarket = errors.New("exchange: unknown quote market")
)

// Pair is a parsed pair symbol.
type Pair struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Quote  string `json:"quote"`
}

// ParsePair splits a symbol into base and quote currency.
// Format: {BASE}{QUOTE}, e.g. ETHBTC → ETH / BTC.
func ParsePair(symbol string) (*Pair, error) {
	if !pairRegex.MatchString(symbol) {
		return nil, fmt.Errorf("%w: %q (expected upper-case {BASE}{QUOTE})", ErrInvalidPair, symbol)
	}
	for _, m := range knownMarkets {
		if strings.HasSuffix(symbol, m) && len(symbol) > len(m) {
			return &Pair{Symbol: symbol, Base: strings.TrimSuffix(symbol, m), Quote: m}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, symbol)
}

// PairMarket returns the quote currency of symbol.
func PairMarket(symbol string) (string, error) {
	p, err := ParsePair(symbol)
	if err != nil {
		return "", err
	}
	return p.Quote, nil
}

// ChangeMarket returns the symbol for the same base currency quoted in
// market.
func ChangeMarket(symbol, market string) (string, error) {
	p, err := ParsePair(symbol)
	if err != nil {
		return "", err
	}
	return p.Base + market, nil
}

// BaseCurrency returns the base currency of symbol, falling back to
// trimming market when the symbol does not parse.
func BaseCurrency(symbol, market string) string {
	if p, err := ParsePair(symbol); err == nil {
		return p.Base
	}
	return strings.TrimSuffix(symbol, market)
}
