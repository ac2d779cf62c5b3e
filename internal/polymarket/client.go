// Package polymarket fetches and normalizes market data from the Gamma and
// CLOB APIs. The rest of the system consumes only OutcomeSnapshot and Trade
// values and never sees fetch mechanics.
package polymarket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rewired-gh/polysentry/internal/config"
	"github.com/rewired-gh/polysentry/internal/logger"
	"github.com/rewired-gh/polysentry/internal/models"
)

// FetchError reports an exhausted-retries failure talking to a data source.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Client provides access to the Polymarket APIs.
type Client struct {
	cfg        config.APIConfig
	httpClient *http.Client
}

// NewClient creates a Polymarket API client.
func NewClient(cfg config.APIConfig) *Client {
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// gammaEvent is an event from the Gamma events endpoint.
type gammaEvent struct {
	ID         string        `json:"id"`
	Title      string        `json:"title"`
	Slug       string        `json:"slug"`
	Liquidity  float64       `json:"liquidity"`
	Volume     float64       `json:"volume"`
	Volume24hr float64       `json:"volume24hr"`
	EndDate    string        `json:"endDate"`
	Markets    []gammaMarket `json:"markets"`
}

// gammaMarket is a market nested in a Gamma event. Outcomes, prices, and
// token IDs arrive as JSON-encoded strings.
type gammaMarket struct {
	ID            string  `json:"id"`
	Question      string  `json:"question"`
	Slug          string  `json:"slug"`
	Outcomes      string  `json:"outcomes"`
	OutcomePrices string  `json:"outcomePrices"`
	ClobTokenIds  string  `json:"clobTokenIds"`
	LiquidityNum  float64 `json:"liquidityNum"`
	VolumeNum     float64 `json:"volumeNum"`
	Volume24hr    float64 `json:"volume24hr"`
	EndDate       string  `json:"endDate"`
	Active        bool    `json:"active"`
	Closed        bool    `json:"closed"`
	ReviewStatus  string  `json:"reviewStatus"`
}

// Scan fetches active events and flattens them into one snapshot per
// tradable outcome. Markets with unusable outcome data are skipped, not
// fatal. When CLOB prices are enabled, gamma prices are overlaid with
// batched best-price quotes; a failed overlay degrades to gamma prices.
func (c *Client) Scan(ctx context.Context) ([]models.OutcomeSnapshot, error) {
	u, err := url.Parse(c.cfg.GammaBaseURL + c.cfg.MarketsEndpoint)
	if err != nil {
		return nil, &FetchError{Op: "markets", Err: err}
	}
	q := u.Query()
	if c.cfg.ActiveOnly {
		q.Set("active", "true")
		q.Set("closed", "false")
	}
	if c.cfg.Limit > 0 {
		q.Set("limit", strconv.Itoa(c.cfg.Limit))
	}
	u.RawQuery = q.Encode()

	body, err := c.getWithRetry(ctx, u.String())
	if err != nil {
		return nil, &FetchError{Op: "markets", Err: err}
	}

	var events []gammaEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, &FetchError{Op: "markets", Err: fmt.Errorf("decode events: %w", err)}
	}

	var snapshots []models.OutcomeSnapshot
	for _, ev := range events {
		snapshots = append(snapshots, c.normalizeEvent(ev)...)
	}

	if c.cfg.UseClobPrices {
		c.overlayClobPrices(ctx, snapshots)
	}
	return snapshots, nil
}

func (c *Client) normalizeEvent(ev gammaEvent) []models.OutcomeSnapshot {
	marketURL := ""
	if ev.Slug != "" {
		marketURL = "https://polymarket.com/event/" + ev.Slug
	}

	var snapshots []models.OutcomeSnapshot
	for _, m := range ev.Markets {
		if !m.Active || m.Closed {
			continue
		}
		if c.cfg.ExcludeReview && m.ReviewStatus == "in_review" {
			continue
		}

		var names, prices, tokenIDs []string
		if err := json.Unmarshal([]byte(m.Outcomes), &names); err != nil {
			continue
		}
		if err := json.Unmarshal([]byte(m.OutcomePrices), &prices); err != nil {
			continue
		}
		// Token IDs are optional; a synthetic ID stands in when absent.
		_ = json.Unmarshal([]byte(m.ClobTokenIds), &tokenIDs)

		resolution := parseTime(m.EndDate, ev.EndDate)
		liquidity := m.LiquidityNum
		if liquidity == 0 {
			liquidity = ev.Liquidity
		}
		volume := m.VolumeNum
		if volume == 0 {
			volume = ev.Volume
		}
		volume24h := m.Volume24hr
		if volume24h == 0 {
			volume24h = ev.Volume24hr
		}

		for i, name := range names {
			if i >= len(prices) {
				break
			}
			price, err := strconv.ParseFloat(prices[i], 64)
			if err != nil {
				continue
			}
			outcomeID := ""
			if i < len(tokenIDs) {
				outcomeID = tokenIDs[i]
			}
			if outcomeID == "" {
				outcomeID = m.ID + ":" + name
			}
			snap := models.OutcomeSnapshot{
				OutcomeID:   outcomeID,
				MarketID:    m.ID,
				MarketName:  m.Question,
				OutcomeName: name,
				EventTitle:  ev.Title,
				MarketURL:   marketURL,
				Price:       price,
				Liquidity:   liquidity,
				Volume:      volume,
				Volume24h:   volume24h,
				Resolution:  resolution,
			}
			if err := snap.Validate(); err != nil {
				logger.Debug("Skipping outcome %s in market %s: %v", name, m.ID, err)
				continue
			}
			snapshots = append(snapshots, snap)
		}
	}
	return snapshots
}

// overlayClobPrices replaces gamma prices with CLOB best prices for the
// configured side, batched to clob_batch_size token IDs per request.
func (c *Client) overlayClobPrices(ctx context.Context, snapshots []models.OutcomeSnapshot) {
	index := make(map[string][]int, len(snapshots))
	ids := make([]string, 0, len(snapshots))
	for i, snap := range snapshots {
		if _, seen := index[snap.OutcomeID]; !seen {
			ids = append(ids, snap.OutcomeID)
		}
		index[snap.OutcomeID] = append(index[snap.OutcomeID], i)
	}

	for start := 0; start < len(ids); start += c.cfg.ClobBatchSize {
		end := start + c.cfg.ClobBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		prices, err := c.fetchClobPrices(ctx, ids[start:end])
		if err != nil {
			logger.Warn("CLOB price batch failed, keeping gamma prices: %v", err)
			continue
		}
		for tokenID, price := range prices {
			for _, i := range index[tokenID] {
				snapshots[i].Price = price
			}
		}
	}
}

type clobPriceRequest struct {
	TokenID string `json:"token_id"`
	Side    string `json:"side"`
}

func (c *Client) fetchClobPrices(ctx context.Context, tokenIDs []string) (map[string]float64, error) {
	reqs := make([]clobPriceRequest, 0, len(tokenIDs))
	for _, id := range tokenIDs {
		reqs = append(reqs, clobPriceRequest{TokenID: id, Side: c.cfg.ClobPriceSide})
	}
	payload, err := json.Marshal(reqs)
	if err != nil {
		return nil, err
	}

	body, err := c.postWithRetry(ctx, c.cfg.ClobBaseURL+"/prices", payload)
	if err != nil {
		return nil, err
	}

	// Response: {token_id: {SIDE: "0.52"}}.
	var decoded map[string]map[string]string
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	prices := make(map[string]float64, len(decoded))
	for tokenID, sides := range decoded {
		raw, ok := sides[c.cfg.ClobPriceSide]
		if !ok {
			continue
		}
		price, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			continue
		}
		prices[tokenID] = price
	}
	return prices, nil
}

// FetchTrades returns recent trades for one outcome token.
func (c *Client) FetchTrades(ctx context.Context, tokenID string) ([]models.Trade, error) {
	u := c.cfg.ClobBaseURL + "/trades?market=" + url.QueryEscape(tokenID)
	body, err := c.getWithRetry(ctx, u)
	if err != nil {
		return nil, &FetchError{Op: "trades", Err: err}
	}

	var trades []models.Trade
	if err := json.Unmarshal(body, &trades); err == nil {
		return trades, nil
	}
	var wrapped struct {
		Trades []models.Trade `json:"trades"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, &FetchError{Op: "trades", Err: fmt.Errorf("decode trades: %w", err)}
	}
	return wrapped.Trades, nil
}

func (c *Client) getWithRetry(ctx context.Context, urlStr string) ([]byte, error) {
	return c.doWithRetry(ctx, http.MethodGet, urlStr, nil)
}

func (c *Client) postWithRetry(ctx context.Context, urlStr string, payload []byte) ([]byte, error) {
	return c.doWithRetry(ctx, http.MethodPost, urlStr, payload)
}

// doWithRetry performs the request with a bounded retry loop and linearly
// increasing backoff. Network errors and 5xx responses retry; other non-2xx
// statuses fail immediately.
func (c *Client) doWithRetry(ctx context.Context, method, urlStr string, payload []byte) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 1 {
			delay := c.cfg.RetryDelayBase * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reqBody *bytes.Reader
		if payload != nil {
			reqBody = bytes.NewReader(payload)
		} else {
			reqBody = bytes.NewReader(nil)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		body, err := readAll(resp)
		if err != nil {
			lastErr = err
			continue
		}
		return body, nil
	}
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func readAll(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseTime(values ...string) *time.Time {
	for _, v := range values {
		if v == "" {
			continue
		}
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05Z"} {
			if t, err := time.Parse(layout, v); err == nil {
				return &t
			}
		}
	}
	return nil
}
