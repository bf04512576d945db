// Package binance implements the exchange service against a Binance-style
// spot REST and WebSocket API. Paper mode points the client at the testnet
// hosts; the request surface is identical.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"gridbot/internal/crypto"
	"gridbot/internal/domain"
	"gridbot/internal/exchange"
)

// Config holds the venue connection parameters.
type Config struct {
	RestHost  string // e.g. https://api.binance.com
	WsHost    string // e.g. wss://stream.binance.com:9443
	APIKey    string
	APISecret string
	Base      string // base asset, e.g. BTC
	Quote     string // quote asset, e.g. USDT
	// TickerInterval throttles how often ticker callbacks fire.
	TickerInterval time.Duration
}

// symbolFilters carries the venue's price/quantity granularity for a symbol.
type symbolFilters struct {
	tickSize decimal.Decimal
	stepSize decimal.Decimal
}

// Client is the live venue service. Prices and quantities travel as float64
// through the core; they are quantized to the venue's tick and step sizes
// with decimals only at this wire boundary.
type Client struct {
	cfg        Config
	signer     *crypto.HMACSigner
	httpClient *http.Client
	filters    symbolFilters
	log        *slog.Logger
}

// NewClient builds the client and fetches the symbol's trading filters so
// order prices and quantities can be rounded to what the venue accepts.
func NewClient(ctx context.Context, cfg Config, log *slog.Logger) (*Client, error) {
	c := &Client{
		cfg:    cfg,
		signer: crypto.NewHMACSigner(cfg.APIKey, cfg.APISecret),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		log: log.With(slog.String("component", "binance")),
	}
	if err := c.loadFilters(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// symbol returns the venue symbol, e.g. BTCUSDT.
func (c *Client) symbol() string {
	return strings.ToUpper(c.cfg.Base + c.cfg.Quote)
}

// loadFilters fetches exchangeInfo and records the PRICE_FILTER tick size
// and LOT_SIZE step size for the traded symbol.
func (c *Client) loadFilters(ctx context.Context) error {
	params := url.Values{}
	params.Set("symbol", c.symbol())
	body, err := c.doPublic(ctx, http.MethodGet, "/api/v3/exchangeInfo", params)
	if err != nil {
		return fmt.Errorf("binance: exchange info: %w", err)
	}

	var info exchangeInfoResponse
	if err := json.Unmarshal(body, &info); err != nil {
		return fmt.Errorf("binance: decode exchange info: %w", err)
	}
	for _, s := range info.Symbols {
		if s.Symbol != c.symbol() {
			continue
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				if d, err := decimal.NewFromString(f.TickSize); err == nil {
					c.filters.tickSize = d
				}
			case "LOT_SIZE":
				if d, err := decimal.NewFromString(f.StepSize); err == nil {
					c.filters.stepSize = d
				}
			}
		}
		return nil
	}
	return fmt.Errorf("binance: symbol %s not listed: %w", c.symbol(), domain.ErrDataUnavailable)
}

// formatPrice quantizes price down to the symbol's tick size.
func (c *Client) formatPrice(price float64) string {
	d := decimal.NewFromFloat(price)
	if !c.filters.tickSize.IsZero() {
		d = d.Div(c.filters.tickSize).Floor().Mul(c.filters.tickSize)
	}
	return d.String()
}

// formatQuantity quantizes qty down to the symbol's step size.
func (c *Client) formatQuantity(qty float64) string {
	d := decimal.NewFromFloat(qty)
	if !c.filters.stepSize.IsZero() {
		d = d.Div(c.filters.stepSize).Floor().Mul(c.filters.stepSize)
	}
	return d.String()
}

// PlaceLimitOrder submits a GTC limit order.
func (c *Client) PlaceLimitOrder(ctx context.Context, side domain.OrderSide, pair string, quantity, price float64) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(pair))
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", c.formatQuantity(quantity))
	params.Set("price", c.formatPrice(price))

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, fmt.Errorf("binance: place limit %s: %w", side, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode order: %w", err)
	}
	return resp.toDomain()
}

// PlaceMarketOrder submits a market order. The reference price is not sent;
// the venue fills at market.
func (c *Client) PlaceMarketOrder(ctx context.Context, side domain.OrderSide, pair string, quantity, _ float64) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(pair))
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", "MARKET")
	params.Set("quantity", c.formatQuantity(quantity))

	body, err := c.doSigned(ctx, http.MethodPost, "/api/v3/order", params)
	if err != nil {
		return nil, fmt.Errorf("binance: place market %s: %w", side, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode order: %w", err)
	}
	return resp.toDomain()
}

// CancelOrder cancels an open order by venue ID.
func (c *Client) CancelOrder(ctx context.Context, orderID, pair string) error {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(pair))
	params.Set("orderId", orderID)

	if _, err := c.doSigned(ctx, http.MethodDelete, "/api/v3/order", params); err != nil {
		return fmt.Errorf("binance: cancel %s: %w", orderID, err)
	}
	return nil
}

// FetchOrder returns the venue's current view of an order.
func (c *Client) FetchOrder(ctx context.Context, orderID, pair string) (*domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(pair))
	params.Set("orderId", orderID)

	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/order", params)
	if err != nil {
		return nil, fmt.Errorf("binance: fetch %s: %w", orderID, err)
	}

	var resp orderResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("binance: decode order: %w", err)
	}
	return resp.toDomain()
}

// CurrentPrice returns the latest traded price for the pair.
func (c *Client) CurrentPrice(ctx context.Context, pair string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(pair))

	body, err := c.doPublic(ctx, http.MethodGet, "/api/v3/ticker/price", params)
	if err != nil {
		return 0, fmt.Errorf("binance: ticker price: %w", err)
	}

	var resp tickerPrice
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("binance: decode ticker: %w", err)
	}
	price, err := strconv.ParseFloat(resp.Price, 64)
	if err != nil {
		return 0, fmt.Errorf("binance: parse ticker price %q: %w", resp.Price, err)
	}
	return price, nil
}

// Balances returns the free quote and base balances.
func (c *Client) Balances(ctx context.Context) (float64, float64, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return 0, 0, fmt.Errorf("binance: account: %w", err)
	}

	var resp accountResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, 0, fmt.Errorf("binance: decode account: %w", err)
	}

	var fiat, cryptoBal float64
	for _, b := range resp.Balances {
		free, err := strconv.ParseFloat(b.Free, 64)
		if err != nil {
			continue
		}
		switch strings.ToUpper(b.Asset) {
		case strings.ToUpper(c.cfg.Quote):
			fiat = free
		case strings.ToUpper(c.cfg.Base):
			cryptoBal = free
		}
	}
	return fiat, cryptoBal, nil
}

// Candles fetches up to limit klines starting at start.
func (c *Client) Candles(ctx context.Context, pair, interval string, start time.Time, limit int) ([]domain.Candle, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToUpper(pair))
	params.Set("interval", interval)
	if !start.IsZero() {
		params.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	body, err := c.doPublic(ctx, http.MethodGet, "/api/v3/klines", params)
	if err != nil {
		return nil, fmt.Errorf("binance: klines: %w", err)
	}
	return parseKlines(body)
}

// Close releases the HTTP client's idle connections; the WebSocket feeds
// shut down with their contexts.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// doPublic performs an unsigned request.
func (c *Client) doPublic(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	endpoint := c.cfg.RestHost + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	return c.do(ctx, method, endpoint, false)
}

// doSigned performs a signed request: the recvWindow and timestamp are
// appended, the query string is HMAC-signed, and the signature rides as the
// final parameter.
func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	params.Set("recvWindow", "5000")
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	query := params.Encode()
	query += "&signature=" + c.signer.Sign(query)
	return c.do(ctx, method, c.cfg.RestHost+path+"?"+query, true)
}

// do executes the request and surfaces venue error envelopes as wrapped
// errors.
func (c *Client) do(ctx context.Context, method, endpoint string, signed bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if signed {
		req.Header.Set("X-MBX-APIKEY", c.signer.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrRateLimited)
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("status %d code %d: %s: %w",
				resp.StatusCode, apiErr.Code, apiErr.Message, domain.ErrOrderRejected)
		}
		return nil, fmt.Errorf("status %d: %s: %w", resp.StatusCode, string(body), domain.ErrOrderRejected)
	}
	return body, nil
}

var _ exchange.Service = (*Client)(nil)
