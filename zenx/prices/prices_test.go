package prices

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/decred/slog"
	"zenx.org/zenxw/zenx"
)

var tLogger = zenx.StdOutLogger("TPRICES", slog.LevelError, true)

func newTestSource(t *testing.T, handler http.HandlerFunc) *Source {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewSourceURL(srv.URL, tLogger)
}

func TestFetch(t *testing.T) {
	var gotIDs, gotCurrency string
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		gotIDs = r.URL.Query().Get("ids")
		gotCurrency = r.URL.Query().Get("vs_currencies")
		w.Write([]byte(`{
			"bitcoin": {"eur": 40000, "eur_24h_change": -2.5},
			"tether": {"eur": 0.92, "eur_24h_change": 0.01}
		}`))
	})

	q := src.Fetch(context.Background(), []string{"bitcoin", "usdt"}, "EUR")

	if gotCurrency != "eur" {
		t.Fatalf("currency not lower-cased: %q", gotCurrency)
	}
	// The usdt id must be translated to the provider's vocabulary.
	ids := strings.Split(gotIDs, ",")
	if len(ids) != 2 || ids[0] != "bitcoin" || ids[1] != "tether" {
		t.Fatalf("wrong provider ids %q", gotIDs)
	}

	// Results come back under the caller's ids.
	if q.Prices["bitcoin"] != 40000 || q.Prices["usdt"] != 0.92 {
		t.Fatalf("bad prices %+v", q.Prices)
	}
	if q.Changes["bitcoin"] != -2.5 {
		t.Fatalf("bad changes %+v", q.Changes)
	}
	if _, found := q.Prices["tether"]; found {
		t.Fatal("provider id leaked into results")
	}
}

func TestFetchDedupes(t *testing.T) {
	var requests int
	var gotIDs string
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		gotIDs = r.URL.Query().Get("ids")
		w.Write([]byte(`{}`))
	})
	src.Fetch(context.Background(), []string{"bitcoin", "bitcoin", "bitcoin"}, "USD")
	if requests != 1 {
		t.Fatalf("expected 1 batched request, got %d", requests)
	}
	if gotIDs != "bitcoin" {
		t.Fatalf("ids not deduplicated: %q", gotIDs)
	}
}

func TestFetchPartial(t *testing.T) {
	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"bitcoin": {"usd": 100.5, "usd_24h_change": 3}}`))
	})
	q := src.Fetch(context.Background(), []string{"bitcoin", "doge"}, "USD")
	if q.Prices["bitcoin"] != 100.5 {
		t.Fatalf("bad prices %+v", q.Prices)
	}
	if _, found := q.Prices["doge"]; found {
		t.Fatal("unpriced id should be absent, not zero")
	}
}

func TestFetchFailures(t *testing.T) {
	checkEmpty := func(tag string, q *Quotes) {
		t.Helper()
		if q == nil || len(q.Prices) != 0 || len(q.Changes) != 0 {
			t.Fatalf("%s: expected empty quotes, got %+v", tag, q)
		}
	}

	src := newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	checkEmpty("500", src.Fetch(context.Background(), []string{"bitcoin"}, "USD"))

	src = newTestSource(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("]]not json"))
	})
	checkEmpty("garbage", src.Fetch(context.Background(), []string{"bitcoin"}, "USD"))

	// Dead endpoint.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()
	dead := NewSourceURL(srv.URL, tLogger)
	checkEmpty("dead", dead.Fetch(context.Background(), []string{"bitcoin"}, "USD"))

	checkEmpty("no ids", src.Fetch(context.Background(), nil, "USD"))
}
