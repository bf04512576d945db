package binance

import (
	"testing"

	"gridbot/internal/domain"
)

func TestOrderResponseToDomain(t *testing.T) {
	resp := orderResponse{
		Symbol:              "BTCUSDT",
		OrderID:             123456,
		Price:               "95000.00",
		OrigQty:             "0.50000000",
		ExecutedQty:         "0.20000000",
		CummulativeQuoteQty: "18998.00",
		Status:              "PARTIALLY_FILLED",
		Type:                "LIMIT",
		Side:                "BUY",
		TransactTime:        1700000000000,
		UpdateTime:          1700000060000,
	}

	order, err := resp.toDomain()
	if err != nil {
		t.Fatalf("toDomain: %v", err)
	}

	if order.ID != "123456" || order.Pair != "BTCUSDT" {
		t.Errorf("identity wrong: %+v", order)
	}
	if order.Side != domain.OrderSideBuy || order.Type != domain.OrderTypeLimit {
		t.Errorf("side/type wrong: %v %v", order.Side, order.Type)
	}
	if order.Status != domain.OrderStatusOpen {
		t.Errorf("status = %v, want open for a partial fill", order.Status)
	}
	if order.Amount != 0.5 || order.Filled != 0.2 || order.Remaining != 0.3 {
		t.Errorf("quantities wrong: %+v", order)
	}
	// Average comes from the cumulative quote: 18998 / 0.2.
	if order.Average != 94990 {
		t.Errorf("Average = %v, want 94990", order.Average)
	}
	if order.Timestamp != 1700000000000 || order.LastTradeTimestamp != 1700000060000 {
		t.Errorf("timestamps wrong: %+v", order)
	}
}

func TestOrderResponseBadNumbers(t *testing.T) {
	resp := orderResponse{Price: "not-a-price", OrigQty: "1", ExecutedQty: "0"}
	if _, err := resp.toDomain(); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestStatusToDomain(t *testing.T) {
	tests := []struct {
		venue string
		want  domain.OrderStatus
	}{
		{"NEW", domain.OrderStatusOpen},
		{"PARTIALLY_FILLED", domain.OrderStatusOpen},
		{"PENDING_CANCEL", domain.OrderStatusOpen},
		{"FILLED", domain.OrderStatusClosed},
		{"CANCELED", domain.OrderStatusCanceled},
		{"REJECTED", domain.OrderStatusCanceled},
		{"EXPIRED", domain.OrderStatusCanceled},
		{"EXPIRED_IN_MATCH", domain.OrderStatusCanceled},
	}
	for _, tt := range tests {
		if got := statusToDomain(tt.venue); got != tt.want {
			t.Errorf("statusToDomain(%s) = %v, want %v", tt.venue, got, tt.want)
		}
	}
}

func TestParseKlines(t *testing.T) {
	body := []byte(`[
		[1700000000000, "95000.0", "95500.0", "94800.0", "95200.0", "12.5", 1700003599999, "0", 0, "0", "0", "0"],
		[1700003600000, "95200.0", "95600.0", "95000.0", "95400.0", "8.1", 1700007199999, "0", 0, "0", "0", "0"]
	]`)

	candles, err := parseKlines(body)
	if err != nil {
		t.Fatalf("parseKlines: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	c := candles[0]
	if c.Timestamp != 1700000000000 || c.Open != 95000 || c.High != 95500 ||
		c.Low != 94800 || c.Close != 95200 || c.Volume != 12.5 {
		t.Errorf("candle decoded wrong: %+v", c)
	}
}

func TestParseKlinesErrors(t *testing.T) {
	if _, err := parseKlines([]byte(`{"not":"an array"}`)); err == nil {
		t.Error("expected error for non-array body")
	}
	if _, err := parseKlines([]byte(`[[1700000000000, "1", "2"]]`)); err == nil {
		t.Error("expected error for short kline")
	}
	if _, err := parseKlines([]byte(`[[1700000000000, "x", "2", "3", "4", "5"]]`)); err == nil {
		t.Error("expected error for malformed price")
	}
}
