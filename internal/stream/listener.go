// Package stream provides an optional live trade feed from the CLOB market
// websocket channel. Streamed trades flow into the same evaluation path as
// the polled trade sub-cycle.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rewired-gh/polysentry/internal/logger"
	"github.com/rewired-gh/polysentry/internal/models"
)

const (
	initialBackoff   = time.Second
	maxBackoff       = time.Minute
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 10 * time.Second
	readTimeout      = 70 * time.Second
)

// Listener maintains the websocket connection and forwards parsed trades.
type Listener struct {
	url             string
	trades          chan<- models.Trade
	lastPriceEvents bool

	mu       sync.Mutex
	assetIDs []string
	conn     *websocket.Conn
}

// NewListener creates a Listener that delivers trades to the given channel.
// includeLastPrice admits last_trade_price events, which carry no server
// trade ID; leave it off when the trades endpoint is polled too, otherwise
// the same fill can alert from both sources under different dedup IDs.
func NewListener(url string, trades chan<- models.Trade, includeLastPrice bool) *Listener {
	return &Listener{url: url, trades: trades, lastPriceEvents: includeLastPrice}
}

// SetAssetIDs replaces the token subscription set used on the next connect.
func (l *Listener) SetAssetIDs(ids []string) {
	l.mu.Lock()
	l.assetIDs = ids
	l.mu.Unlock()
}

// Run connects, subscribes, and reads until ctx is cancelled, reconnecting
// with capped exponential backoff on any failure.
func (l *Listener) Run(ctx context.Context) {
	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return
		}
		if err := l.connect(ctx); err != nil {
			logger.Warn("Stream connect failed: %v (retrying in %v)", err, backoff)
		} else {
			backoff = initialBackoff
			if err := l.readLoop(ctx); err != nil && ctx.Err() == nil {
				logger.Warn("Stream read error: %v", err)
			}
			l.close()
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (l *Listener) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	headers := http.Header{}
	headers.Set("Origin", "https://polymarket.com")

	url := l.url
	if !strings.HasSuffix(url, "/market") {
		url = strings.TrimSuffix(url, "/") + "/market"
	}

	conn, resp, err := dialer.DialContext(ctx, url, headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	l.mu.Lock()
	l.conn = conn
	ids := l.assetIDs
	l.mu.Unlock()

	sub := map[string]any{"type": "market", "assets_ids": ids}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(sub); err != nil {
		l.close()
		return fmt.Errorf("subscribe failed: %w", err)
	}
	logger.Info("Stream connected to %s (%d tokens)", url, len(ids))
	return nil
}

func (l *Listener) readLoop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		l.mu.Lock()
		conn := l.conn
		l.mu.Unlock()
		if conn == nil {
			return fmt.Errorf("connection is nil")
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		for _, trade := range ParseTrades(message, l.lastPriceEvents) {
			select {
			case l.trades <- trade:
			default:
				logger.Warn("Stream trade channel full, dropping trade %s", trade.ID)
			}
		}
	}
}

func (l *Listener) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		l.conn.Close()
		l.conn = nil
	}
}

// wsEvent covers the trade-bearing market channel events. The channel also
// carries book snapshots and price changes, which are ignored here.
type wsEvent struct {
	EventType       string `json:"event_type"`
	ID              string `json:"id"`
	Market          string `json:"market"`
	AssetID         string `json:"asset_id"`
	Price           string `json:"price"`
	Size            string `json:"size"`
	Side            string `json:"side"`
	Outcome         string `json:"outcome"`
	Maker           string `json:"maker_address"`
	Taker           string `json:"taker_address"`
	TransactionHash string `json:"transaction_hash"`
	Timestamp       string `json:"timestamp"`
}

// ParseTrades extracts trade records from one websocket message, which may
// be a single event or an array. Non-trade events yield nothing. Trade
// events keep the server's trade ID and transaction hash so deduplication
// lines up with the polled trades endpoint; last_trade_price events carry
// neither and are admitted only when includeLastPrice is set, under a
// content-derived ID.
func ParseTrades(data []byte, includeLastPrice bool) []models.Trade {
	var events []wsEvent
	if err := json.Unmarshal(data, &events); err != nil {
		var single wsEvent
		if err := json.Unmarshal(data, &single); err != nil {
			return nil
		}
		events = []wsEvent{single}
	}

	var trades []models.Trade
	for _, ev := range events {
		switch ev.EventType {
		case "trade":
		case "last_trade_price":
			if !includeLastPrice {
				continue
			}
		default:
			continue
		}
		if ev.AssetID == "" || ev.Price == "" {
			continue
		}
		id := ev.ID
		if id == "" && ev.TransactionHash == "" {
			id = streamTradeID(ev)
		}
		trades = append(trades, models.Trade{
			ID:              id,
			TokenID:         ev.Market,
			AssetID:         ev.AssetID,
			MakerAddress:    ev.Maker,
			TakerAddress:    ev.Taker,
			Side:            ev.Side,
			Outcome:         ev.Outcome,
			Size:            ev.Size,
			Price:           ev.Price,
			TransactionHash: ev.TransactionHash,
			Timestamp:       parseTimestamp(ev.Timestamp),
		})
	}
	return trades
}

// streamTradeID synthesizes a deterministic ID for events without one, keyed
// on asset, timestamp, and size so a replayed event maps to the same ID.
func streamTradeID(ev wsEvent) string {
	asset := ev.AssetID
	if len(asset) > 8 {
		asset = asset[:8]
	}
	ts := ev.Timestamp
	if ts == "" {
		ts = strconv.FormatInt(time.Now().UnixNano(), 10)
	}
	return fmt.Sprintf("ws-%s-%s-%s", asset, ts, ev.Size)
}

func parseTimestamp(v string) time.Time {
	if ts, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ts > 1e12 {
			return time.UnixMilli(ts)
		}
		return time.Unix(ts, 0)
	}
	return time.Now()
}
