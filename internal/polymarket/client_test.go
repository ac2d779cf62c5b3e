package polymarket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rewired-gh/polysentry/internal/config"
)

const gammaEventsFixture = `[
	{
		"id": "ev1",
		"title": "Weather",
		"slug": "weather",
		"liquidity": 9000,
		"volume": 50000,
		"endDate": "2026-09-30T00:00:00Z",
		"markets": [
			{
				"id": "m1",
				"question": "Will it rain tomorrow?",
				"outcomes": "[\"Yes\",\"No\"]",
				"outcomePrices": "[\"0.62\",\"0.38\"]",
				"clobTokenIds": "[\"tok-yes\",\"tok-no\"]",
				"liquidityNum": 1500,
				"volumeNum": 20000,
				"active": true,
				"closed": false
			},
			{
				"id": "m2",
				"question": "Closed market",
				"outcomes": "[\"Yes\",\"No\"]",
				"outcomePrices": "[\"0.5\",\"0.5\"]",
				"clobTokenIds": "[]",
				"active": true,
				"closed": true
			},
			{
				"id": "m3",
				"question": "Under review",
				"outcomes": "[\"Yes\",\"No\"]",
				"outcomePrices": "[\"0.5\",\"0.5\"]",
				"clobTokenIds": "[]",
				"active": true,
				"closed": false,
				"reviewStatus": "in_review"
			},
			{
				"id": "m4",
				"question": "No token IDs",
				"outcomes": "[\"Yes\",\"No\"]",
				"outcomePrices": "[\"0.9\",\"0.1\"]",
				"clobTokenIds": "",
				"active": true,
				"closed": false
			}
		]
	}
]`

func testClient(gammaURL, clobURL string, useClob bool) *Client {
	return NewClient(config.APIConfig{
		GammaBaseURL:    gammaURL,
		ClobBaseURL:     clobURL,
		MarketsEndpoint: "/events",
		ActiveOnly:      true,
		ExcludeReview:   true,
		Timeout:         5 * time.Second,
		MaxRetries:      3,
		RetryDelayBase:  time.Millisecond,
		UseClobPrices:   useClob,
		ClobPriceSide:   "BUY",
		ClobBatchSize:   200,
	})
}

func TestScanNormalizesEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/events" {
			http.NotFound(w, r)
			return
		}
		if r.URL.Query().Get("active") != "true" || r.URL.Query().Get("closed") != "false" {
			t.Errorf("missing active/closed query params: %s", r.URL.RawQuery)
		}
		w.Write([]byte(gammaEventsFixture))
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL, false)
	snaps, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	// m1 yields two outcomes, m2 is closed, m3 in review, m4 yields two
	// outcomes with synthetic IDs.
	if len(snaps) != 4 {
		t.Fatalf("Scan returned %d snapshots, want 4: %+v", len(snaps), snaps)
	}

	first := snaps[0]
	if first.OutcomeID != "tok-yes" || first.MarketID != "m1" {
		t.Errorf("first snapshot = %+v", first)
	}
	if first.Price != 0.62 {
		t.Errorf("Price = %v, want 0.62", first.Price)
	}
	if first.EventTitle != "Weather" {
		t.Errorf("EventTitle = %q", first.EventTitle)
	}
	if first.MarketURL != "https://polymarket.com/event/weather" {
		t.Errorf("MarketURL = %q", first.MarketURL)
	}
	if first.Liquidity != 1500 || first.Volume != 20000 {
		t.Errorf("market-level numbers not used: %+v", first)
	}
	if first.Resolution == nil {
		t.Error("Resolution missing despite event endDate")
	}

	synthetic := snaps[2]
	if synthetic.OutcomeID != "m4:Yes" {
		t.Errorf("synthetic outcome ID = %q, want m4:Yes", synthetic.OutcomeID)
	}
	if synthetic.Liquidity != 9000 {
		t.Errorf("event-level liquidity fallback = %v, want 9000", synthetic.Liquidity)
	}
}

func TestScanSkipsInvalidRecords(t *testing.T) {
	fixture := `[
		{
			"id": "ev1",
			"title": "Mixed",
			"slug": "mixed",
			"markets": [
				{
					"id": "m1",
					"question": "One outcome out of range",
					"outcomes": "[\"Yes\",\"No\"]",
					"outcomePrices": "[\"1.7\",\"0.30\"]",
					"clobTokenIds": "[\"tok-yes\",\"tok-no\"]",
					"active": true,
					"closed": false
				},
				{
					"id": "",
					"question": "No market ID",
					"outcomes": "[\"Yes\"]",
					"outcomePrices": "[\"0.50\"]",
					"clobTokenIds": "[\"tok-anon\"]",
					"active": true,
					"closed": false
				}
			]
		}
	]`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(fixture))
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL, false)
	snaps, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}

	// A bad record skips itself, not its siblings or the batch.
	if len(snaps) != 1 {
		t.Fatalf("Scan returned %d snapshots, want 1: %+v", len(snaps), snaps)
	}
	if snaps[0].OutcomeID != "tok-no" || snaps[0].Price != 0.30 {
		t.Errorf("surviving snapshot = %+v, want tok-no at 0.30", snaps[0])
	}
}

func TestScanOverlaysClobPrices(t *testing.T) {
	var pricesCalled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events":
			w.Write([]byte(gammaEventsFixture))
		case "/prices":
			pricesCalled = true
			var reqs []clobPriceRequest
			if err := json.NewDecoder(r.Body).Decode(&reqs); err != nil {
				t.Errorf("bad prices payload: %v", err)
			}
			resp := map[string]map[string]string{
				"tok-yes": {"BUY": "0.71"},
			}
			json.NewEncoder(w).Encode(resp)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL, true)
	snaps, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if !pricesCalled {
		t.Fatal("CLOB prices endpoint never called")
	}

	var yesPrice, noPrice float64
	for _, s := range snaps {
		switch s.OutcomeID {
		case "tok-yes":
			yesPrice = s.Price
		case "tok-no":
			noPrice = s.Price
		}
	}
	if yesPrice != 0.71 {
		t.Errorf("overlaid price = %v, want 0.71", yesPrice)
	}
	// Tokens absent from the response keep their gamma price.
	if noPrice != 0.38 {
		t.Errorf("unoverlaid price = %v, want 0.38", noPrice)
	}
}

func TestScanClobFailureDegradesToGamma(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/events":
			w.Write([]byte(gammaEventsFixture))
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL, true)
	snaps, err := c.Scan(context.Background())
	if err != nil {
		t.Fatalf("CLOB failure must not fail the scan: %v", err)
	}
	if len(snaps) == 0 || snaps[0].Price != 0.62 {
		t.Errorf("gamma prices not kept: %+v", snaps)
	}
}

func TestFetchTrades(t *testing.T) {
	bare := `[{"id": "t1", "market": "tok-yes", "side": "BUY", "size": "100", "price": "0.5"}]`
	wrapped := `{"trades": [{"id": "t2", "market": "tok-no", "side": "SELL", "size": "50", "price": "0.4"}]}`

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("market") {
		case "tok-yes":
			w.Write([]byte(bare))
		case "tok-no":
			w.Write([]byte(wrapped))
		default:
			w.Write([]byte(`[]`))
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL, false)

	trades, err := c.FetchTrades(context.Background(), "tok-yes")
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if len(trades) != 1 || trades[0].ID != "t1" || trades[0].TokenID != "tok-yes" {
		t.Errorf("bare list decode = %+v", trades)
	}

	trades, err = c.FetchTrades(context.Background(), "tok-no")
	if err != nil {
		t.Fatalf("FetchTrades failed: %v", err)
	}
	if len(trades) != 1 || trades[0].ID != "t2" {
		t.Errorf("wrapped list decode = %+v", trades)
	}
}

func TestRetryOnServerError(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL, false)
	if _, err := c.Scan(context.Background()); err != nil {
		t.Fatalf("Scan should succeed on the third attempt: %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestNoRetryOnClientError(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL, false)
	if _, err := c.Scan(context.Background()); err == nil {
		t.Fatal("Scan should fail on 404")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", attempts)
	}
}

func TestRetriesExhausted(t *testing.T) {
	var attempts int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL, srv.URL, false)
	if _, err := c.Scan(context.Background()); err == nil {
		t.Fatal("Scan should fail once retries are exhausted")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}
