package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"gridbot/internal/domain"
	"gridbot/internal/exchange"
)

const (
	// maxReconnects is the number of consecutive failed connection attempts
	// tolerated before the feed gives up.
	maxReconnects = 5
	// reconnectStep grows the backoff linearly per attempt.
	reconnectStep = 5 * time.Second
	// reconnectCap bounds the backoff.
	reconnectCap = 60 * time.Second
	// listenKeyKeepalive is how often the user-data listen key is renewed;
	// the venue expires keys after 60 minutes.
	listenKeyKeepalive = 30 * time.Minute
)

// Publisher is the slice of the event bus the order-update stream needs.
type Publisher interface {
	Publish(ctx context.Context, event domain.Event, order *domain.Order) error
}

// miniTickerEvent is the <symbol>@miniTicker stream payload.
type miniTickerEvent struct {
	EventTime int64  `json:"E"`
	Close     string `json:"c"`
}

// executionReport is the user-data stream's order update payload.
type executionReport struct {
	EventType    string `json:"e"`
	Symbol       string `json:"s"`
	Side         string `json:"S"`
	OrderType    string `json:"o"`
	OrderID      int64  `json:"i"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FilledQty    string `json:"z"`
	QuoteFilled  string `json:"Z"`
	OrderStatus  string `json:"X"`
	TransactTime int64  `json:"T"`
	EventTimeMs  int64  `json:"E"`
}

// SubscribeTicker streams price ticks from the miniTicker stream to the
// handler until ctx is cancelled, reconnecting with linear backoff on
// failure. It blocks for the life of the subscription.
func (c *Client) SubscribeTicker(ctx context.Context, pair string, handler exchange.TickerHandler) error {
	streamURL := fmt.Sprintf("%s/ws/%s@miniTicker", c.cfg.WsHost, strings.ToLower(pair))

	failures := 0
	var lastTick time.Time
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
		if err != nil {
			failures++
			if failures >= maxReconnects {
				return fmt.Errorf("binance: ticker feed: %d consecutive failures: %w", failures, domain.ErrWSDisconnect)
			}
			c.log.WarnContext(ctx, "ticker connect failed, backing off",
				slog.Int("attempt", failures),
				slog.String("error", err.Error()),
			)
			if !sleepCtx(ctx, backoff(failures)) {
				return ctx.Err()
			}
			continue
		}
		failures = 0
		c.log.InfoContext(ctx, "ticker feed connected", slog.String("stream", streamURL))

		err = c.readTicker(ctx, conn, handler, &lastTick)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.WarnContext(ctx, "ticker feed dropped, reconnecting",
			slog.String("error", err.Error()),
		)
		failures++
		if !sleepCtx(ctx, backoff(failures)) {
			return ctx.Err()
		}
	}
}

// readTicker pumps ticks from one connection until it drops or ctx ends,
// throttling callbacks to the configured ticker interval.
func (c *Client) readTicker(ctx context.Context, conn *websocket.Conn, handler exchange.TickerHandler, lastTick *time.Time) error {
	// Unblock ReadMessage when the context is cancelled.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var tick miniTickerEvent
		if err := json.Unmarshal(msg, &tick); err != nil {
			c.log.DebugContext(ctx, "skipping unparseable tick", slog.String("error", err.Error()))
			continue
		}
		price, err := strconv.ParseFloat(tick.Close, 64)
		if err != nil || price <= 0 {
			continue
		}

		now := time.Now()
		if c.cfg.TickerInterval > 0 && now.Sub(*lastTick) < c.cfg.TickerInterval {
			continue
		}
		*lastTick = now
		handler(ctx, price, time.UnixMilli(tick.EventTime).UTC())
	}
}

// SubscribeOrderUpdates opens the user-data stream and republishes order
// fills and cancellations on the bus, so live runs flow through the same
// event path as simulated ones. It blocks until ctx is cancelled.
func (c *Client) SubscribeOrderUpdates(ctx context.Context, bus Publisher) error {
	failures := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		listenKey, err := c.createListenKey(ctx)
		if err == nil {
			err = c.readUserStream(ctx, listenKey, bus)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		failures++
		if failures >= maxReconnects {
			return fmt.Errorf("binance: user stream: %d consecutive failures: %w", failures, domain.ErrWSDisconnect)
		}
		c.log.WarnContext(ctx, "user stream dropped, reconnecting",
			slog.Int("attempt", failures),
			slog.String("error", err.Error()),
		)
		if !sleepCtx(ctx, backoff(failures)) {
			return ctx.Err()
		}
	}
}

// readUserStream pumps one user-data connection, renewing the listen key
// periodically, until the connection drops.
func (c *Client) readUserStream(ctx context.Context, listenKey string, bus Publisher) error {
	streamURL := fmt.Sprintf("%s/ws/%s", c.cfg.WsHost, listenKey)
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("dial user stream: %w", err)
	}
	defer conn.Close()
	c.log.InfoContext(ctx, "user stream connected")

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(listenKeyKeepalive)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			case <-ticker.C:
				if err := c.keepAliveListenKey(ctx, listenKey); err != nil {
					c.log.WarnContext(ctx, "listen key keepalive failed",
						slog.String("error", err.Error()))
				}
			}
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var report executionReport
		if err := json.Unmarshal(msg, &report); err != nil || report.EventType != "executionReport" {
			continue
		}
		c.publishReport(ctx, report, bus)
	}
}

// publishReport maps one execution report to a bus event. Partial fills stay
// quiet; the core reacts to terminal states only.
func (c *Client) publishReport(ctx context.Context, report executionReport, bus Publisher) {
	order, err := reportToDomain(report)
	if err != nil {
		c.log.WarnContext(ctx, "unparseable execution report",
			slog.String("error", err.Error()))
		return
	}

	var event domain.Event
	switch order.Status {
	case domain.OrderStatusClosed:
		event = domain.EventOrderFilled
	case domain.OrderStatusCanceled:
		event = domain.EventOrderCancelled
	default:
		return
	}
	if err := bus.Publish(ctx, event, order); err != nil {
		c.log.WarnContext(ctx, "order event handler failed",
			slog.String("event", string(event)),
			slog.String("order_id", order.ID),
			slog.String("error", err.Error()),
		)
	}
}

// reportToDomain converts an execution report into the core's order entity.
func reportToDomain(r executionReport) (*domain.Order, error) {
	price, err := strconv.ParseFloat(r.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: report price %q: %w", r.Price, err)
	}
	amount, err := strconv.ParseFloat(r.Quantity, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: report quantity %q: %w", r.Quantity, err)
	}
	filled, err := strconv.ParseFloat(r.FilledQty, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: report filled %q: %w", r.FilledQty, err)
	}

	avg := 0.0
	if filled > 0 && r.QuoteFilled != "" {
		if quote, err := strconv.ParseFloat(r.QuoteFilled, 64); err == nil && quote > 0 {
			avg = quote / filled
		}
	}

	return &domain.Order{
		ID:                 strconv.FormatInt(r.OrderID, 10),
		Pair:               r.Symbol,
		Side:               sideToDomain(r.Side),
		Type:               typeToDomain(r.OrderType),
		Status:             statusToDomain(r.OrderStatus),
		Price:              price,
		Average:            avg,
		Amount:             amount,
		Filled:             filled,
		Remaining:          amount - filled,
		Timestamp:          r.TransactTime,
		LastTradeTimestamp: r.EventTimeMs,
	}, nil
}

// createListenKey requests a user-data stream key. The endpoint wants the
// API key header but no signature.
func (c *Client) createListenKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RestHost+"/api/v3/userDataStream", nil)
	if err != nil {
		return "", fmt.Errorf("binance: build listen key request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.signer.Key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("binance: listen key: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("binance: read listen key: %w", err)
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("binance: listen key status %d: %s: %w",
			resp.StatusCode, string(body), domain.ErrUnauthorized)
	}

	var out struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("binance: decode listen key: %w", err)
	}
	return out.ListenKey, nil
}

// keepAliveListenKey extends the listen key's lifetime.
func (c *Client) keepAliveListenKey(ctx context.Context, listenKey string) error {
	endpoint := c.cfg.RestHost + "/api/v3/userDataStream?listenKey=" + listenKey
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, nil)
	if err != nil {
		return fmt.Errorf("binance: build keepalive request: %w", err)
	}
	req.Header.Set("X-MBX-APIKEY", c.signer.Key)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("binance: keepalive: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("binance: keepalive status %d: %w", resp.StatusCode, domain.ErrUnauthorized)
	}
	return nil
}

// backoff returns the linear, capped reconnect delay for an attempt number.
func backoff(attempt int) time.Duration {
	d := time.Duration(attempt) * reconnectStep
	if d > reconnectCap {
		d = reconnectCap
	}
	return d
}

// sleepCtx waits for d, returning false if the context ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
