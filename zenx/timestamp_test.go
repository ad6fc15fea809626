package zenx

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNormalizeTimestampEquivalence(t *testing.T) {
	// The same instant as epoch seconds, epoch milliseconds, and an ISO
	// string must normalize identically.
	want := time.Unix(1700000000, 0)
	forms := []string{
		`1700000000`,
		`1700000000000`,
		`"1700000000"`,
		`"1700000000000"`,
		`"2023-11-14T22:13:20Z"`,
	}
	for _, form := range forms {
		got := NormalizeTimestamp(json.RawMessage(form))
		if !got.Equal(want) {
			t.Fatalf("NormalizeTimestamp(%s) = %v, want %v", form, got, want)
		}
	}
}

func TestNormalizeTimestampThreshold(t *testing.T) {
	// 999999999999 is the largest value read as seconds, 1000000000000 the
	// smallest read as milliseconds.
	secs := NormalizeTimestamp(json.RawMessage(`999999999999`))
	if !secs.Equal(time.Unix(999999999999, 0)) {
		t.Fatalf("below threshold read as %v", secs)
	}
	millis := NormalizeTimestamp(json.RawMessage(`1000000000000`))
	if !millis.Equal(time.UnixMilli(1000000000000)) {
		t.Fatalf("at threshold read as %v", millis)
	}
}

func TestNormalizeTimestampGarbage(t *testing.T) {
	for _, form := range []string{``, `"soon"`, `{"t":1}`, `true`} {
		if got := NormalizeTimestamp(json.RawMessage(form)); !got.IsZero() {
			t.Fatalf("NormalizeTimestamp(%q) = %v, want zero", form, got)
		}
	}
}

func TestCanonicalPriceID(t *testing.T) {
	tests := map[string]string{
		"bitcoin":    "bitcoin",
		"usdt-trc20": "usdt",
		"usdt-erc20": "usdt",
		"usdt-bep20": "usdt",
		"usdc-erc20": "usdc",
		"usdc-bep20": "usdc",
		"xrp":        "xrp",
		"mystery":    "mystery",
	}
	for chain, want := range tests {
		if got := CanonicalPriceID(chain); got != want {
			t.Fatalf("CanonicalPriceID(%q) = %q, want %q", chain, got, want)
		}
	}
}

func TestChainSymbol(t *testing.T) {
	tests := map[string]string{
		"bitcoin":    "BTC",
		"ethereum":   "ETH",
		"tron":       "TRX",
		"bsc":        "BNB",
		"usdt-trc20": "USDT",
		"usdc-bep20": "USDC",
		"solana":     "SOL",
		"xrp":        "XRP",
		"newchain":   "NEWCHAIN",
	}
	for chain, want := range tests {
		if got := ChainSymbol(chain); got != want {
			t.Fatalf("ChainSymbol(%q) = %q, want %q", chain, got, want)
		}
	}
}

func TestFiatCurrencyMeta(t *testing.T) {
	usd, found := FiatCurrencyMeta("usd")
	if !found || usd.Symbol != "$" {
		t.Fatalf("bad USD meta %+v found=%v", usd, found)
	}
	if _, found := FiatCurrencyMeta("XXX"); found {
		t.Fatal("unknown currency reported as known")
	}
}
