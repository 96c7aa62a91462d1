// Package feed maintains live per-symbol prices and OHLCV details from the
// public ticker stream.
package feed

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/marketsync/internal/domain"
)

const iconBase = "https://assets.coincap.io/assets/icons/"

var topAssets = []struct {
	symbol string
	name   string
}{
	{"BTCUSDT", "Bitcoin"},
	{"ETHUSDT", "Ethereum"},
	{"BNBUSDT", "BNB"},
	{"XRPUSDT", "XRP"},
	{"ADAUSDT", "Cardano"},
	{"SOLUSDT", "Solana"},
	{"DOGEUSDT", "Dogecoin"},
	{"DOTUSDT", "Polkadot"},
	{"MATICUSDT", "Polygon"},
	{"LTCUSDT", "Litecoin"},
	{"TRXUSDT", "TRON"},
	{"SHIBUSDT", "Shiba Inu"},
	{"AVAXUSDT", "Avalanche"},
	{"LINKUSDT", "Chainlink"},
	{"BCHUSDT", "Bitcoin Cash"},
}

// DefaultCatalog returns the built-in list of tracked assets.
func DefaultCatalog() []domain.AssetInfo {
	out := make([]domain.AssetInfo, 0, len(topAssets))
	for _, a := range topAssets {
		out = append(out, domain.AssetInfo{
			Symbol:  a.symbol,
			Name:    a.name,
			IconRef: iconRef(a.symbol),
		})
	}
	return out
}

// CatalogFor returns the catalog entries for symbols, in the given order.
// An empty list selects the whole default catalog.
func CatalogFor(symbols []string) ([]domain.AssetInfo, error) {
	all := DefaultCatalog()
	if len(symbols) == 0 {
		return all, nil
	}

	bySymbol := make(map[string]domain.AssetInfo, len(all))
	for _, a := range all {
		bySymbol[a.Symbol] = a
	}

	out := make([]domain.AssetInfo, 0, len(symbols))
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if seen[s] {
			continue
		}
		a, ok := bySymbol[s]
		if !ok {
			return nil, fmt.Errorf("feed: unknown symbol %q", s)
		}
		seen[s] = true
		out = append(out, a)
	}
	return out, nil
}

func iconRef(symbol string) string {
	base := strings.ToLower(strings.TrimSuffix(symbol, "USDT"))
	return iconBase + base + "@2x.png"
}
