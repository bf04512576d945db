package binance

import (
	"encoding/json"
	"fmt"
	"strconv"

	"gridbot/internal/domain"
)

// orderResponse is the venue's order payload, shared by the place, query,
// and cancel endpoints.
type orderResponse struct {
	Symbol              string `json:"symbol"`
	OrderID             int64  `json:"orderId"`
	ClientOrderID       string `json:"clientOrderId"`
	Price               string `json:"price"`
	OrigQty             string `json:"origQty"`
	ExecutedQty         string `json:"executedQty"`
	CummulativeQuoteQty string `json:"cummulativeQuoteQty"`
	Status              string `json:"status"`
	Type                string `json:"type"`
	Side                string `json:"side"`
	TransactTime        int64  `json:"transactTime"`
	Time                int64  `json:"time"`
	UpdateTime          int64  `json:"updateTime"`
}

// toDomain converts the venue order into the core's order entity.
func (r orderResponse) toDomain() (*domain.Order, error) {
	price, err := strconv.ParseFloat(r.Price, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: parse price %q: %w", r.Price, err)
	}
	amount, err := strconv.ParseFloat(r.OrigQty, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: parse origQty %q: %w", r.OrigQty, err)
	}
	filled, err := strconv.ParseFloat(r.ExecutedQty, 64)
	if err != nil {
		return nil, fmt.Errorf("binance: parse executedQty %q: %w", r.ExecutedQty, err)
	}

	avg := 0.0
	if filled > 0 && r.CummulativeQuoteQty != "" {
		if quote, err := strconv.ParseFloat(r.CummulativeQuoteQty, 64); err == nil && quote > 0 {
			avg = quote / filled
		}
	}

	ts := r.TransactTime
	if ts == 0 {
		ts = r.Time
	}

	order := &domain.Order{
		ID:                 strconv.FormatInt(r.OrderID, 10),
		Pair:               r.Symbol,
		Side:               sideToDomain(r.Side),
		Type:               typeToDomain(r.Type),
		Status:             statusToDomain(r.Status),
		Price:              price,
		Average:            avg,
		Amount:             amount,
		Filled:             filled,
		Remaining:          amount - filled,
		Timestamp:          ts,
		LastTradeTimestamp: r.UpdateTime,
	}
	return order, nil
}

func sideToDomain(s string) domain.OrderSide {
	if s == "SELL" {
		return domain.OrderSideSell
	}
	return domain.OrderSideBuy
}

func typeToDomain(t string) domain.OrderType {
	if t == "MARKET" {
		return domain.OrderTypeMarket
	}
	return domain.OrderTypeLimit
}

// statusToDomain collapses the venue's order states onto the core's
// open/closed/canceled triple. Rejected and expired orders surface as
// canceled so the cancellation path reclaims their reservations.
func statusToDomain(s string) domain.OrderStatus {
	switch s {
	case "FILLED":
		return domain.OrderStatusClosed
	case "CANCELED", "REJECTED", "EXPIRED", "EXPIRED_IN_MATCH":
		return domain.OrderStatusCanceled
	default: // NEW, PARTIALLY_FILLED, PENDING_CANCEL
		return domain.OrderStatusOpen
	}
}

// accountResponse carries the balances section of GET /api/v3/account.
type accountResponse struct {
	Balances []struct {
		Asset  string `json:"asset"`
		Free   string `json:"free"`
		Locked string `json:"locked"`
	} `json:"balances"`
}

// tickerPrice is GET /api/v3/ticker/price.
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// exchangeInfoResponse carries the per-symbol trading filters.
type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol  string `json:"symbol"`
		Filters []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			MinNotional string `json:"minNotional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// apiError is the venue's error envelope.
type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"msg"`
}

// parseKlines decodes the venue's kline arrays into candles. Each kline is a
// mixed-type JSON array: [openTime, open, high, low, close, volume, ...].
func parseKlines(body []byte) ([]domain.Candle, error) {
	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("binance: decode klines: %w", err)
	}

	candles := make([]domain.Candle, 0, len(raw))
	for _, k := range raw {
		if len(k) < 6 {
			return nil, fmt.Errorf("binance: kline with %d fields", len(k))
		}
		var openTime int64
		if err := json.Unmarshal(k[0], &openTime); err != nil {
			return nil, fmt.Errorf("binance: kline open time: %w", err)
		}
		vals := make([]float64, 5)
		for i := 1; i <= 5; i++ {
			var s string
			if err := json.Unmarshal(k[i], &s); err != nil {
				return nil, fmt.Errorf("binance: kline field %d: %w", i, err)
			}
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("binance: kline field %d %q: %w", i, s, err)
			}
			vals[i-1] = v
		}
		candles = append(candles, domain.Candle{
			Timestamp: openTime,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return candles, nil
}
