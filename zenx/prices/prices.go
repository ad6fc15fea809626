// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package prices fetches spot prices and 24-hour changes from the external
// price provider. Price data is a best-effort garnish on top of balances, so
// every failure mode here resolves to empty maps, never an error that could
// block wallet rendering.
package prices

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"time"

	"zenx.org/zenxw/zenx"
	"zenx.org/zenxw/zenx/zenxnet"
)

const (
	defaultEndpoint = "https://api.coingecko.com/api/v3/simple/price"
	requestTimeout  = 10 * time.Second
)

// providerIDs maps canonical asset ids to the provider's vocabulary. Unknown
// ids pass through unchanged, which works for the many assets whose canonical
// id already matches the provider's.
var providerIDs = map[string]string{
	"usdt": "tether",
	"usdc": "usd-coin",
	"bsc":  "binancecoin",
	"xrp":  "ripple",
}

// Quotes is the result of a Fetch. Both maps are keyed by the caller's
// canonical asset ids, not the provider's. An id the provider did not price
// is simply absent.
type Quotes struct {
	// Prices is the spot price in the requested fiat currency.
	Prices map[string]float64
	// Changes is the 24-hour percent change.
	Changes map[string]float64
}

func emptyQuotes() *Quotes {
	return &Quotes{
		Prices:  make(map[string]float64),
		Changes: make(map[string]float64),
	}
}

// Source fetches quotes from one provider endpoint.
type Source struct {
	endpoint string
	log      zenx.Logger
}

// NewSource constructs a Source for the default provider endpoint.
func NewSource(log zenx.Logger) *Source {
	return &Source{endpoint: defaultEndpoint, log: log}
}

// NewSourceURL constructs a Source against a specific endpoint. Used in tests
// and for self-hosted price proxies.
func NewSourceURL(endpoint string, log zenx.Logger) *Source {
	return &Source{endpoint: endpoint, log: log}
}

// Fetch retrieves spot price and 24h change for the given canonical asset
// ids in the given fiat currency, in a single batched request. Duplicate ids
// are collapsed. Any failure, from transport errors to a malformed body,
// returns empty maps. Partial provider responses are valid and yield partial
// maps.
func (s *Source) Fetch(ctx context.Context, assetIDs []string, baseCurrency string) *Quotes {
	if len(assetIDs) == 0 {
		return emptyQuotes()
	}

	vsCurrency := strings.ToLower(baseCurrency)

	// Dedupe and translate to provider ids, remembering the reverse mapping
	// so results come back under the caller's ids.
	canonical := make(map[string]string, len(assetIDs)) // provider id -> canonical id
	for _, id := range assetIDs {
		pid := id
		if mapped, found := providerIDs[id]; found {
			pid = mapped
		}
		canonical[pid] = id
	}
	providerList := make([]string, 0, len(canonical))
	for pid := range canonical {
		providerList = append(providerList, pid)
	}
	sort.Strings(providerList)

	q := make(url.Values)
	q.Set("ids", strings.Join(providerList, ","))
	q.Set("vs_currencies", vsCurrency)
	q.Set("include_24hr_change", "true")
	uri := s.endpoint + "?" + q.Encode()

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	// Provider shape: {"bitcoin": {"usd": 43000.1, "usd_24h_change": -1.2}}
	resp := make(map[string]map[string]float64)
	if err := zenxnet.Get(ctx, uri, &resp); err != nil {
		s.log.Debugf("price fetch failed: %v", err)
		return emptyQuotes()
	}

	changeKey := vsCurrency + "_24h_change"
	quotes := emptyQuotes()
	for pid, fields := range resp {
		id, found := canonical[pid]
		if !found {
			continue
		}
		price, found := fields[vsCurrency]
		if !found {
			continue
		}
		quotes.Prices[id] = price
		if change, found := fields[changeKey]; found {
			quotes.Changes[id] = change
		}
	}
	return quotes
}
