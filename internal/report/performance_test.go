package report

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"gridbot/internal/domain"
	"gridbot/internal/orderbook"
)

func equitySeries(values ...float64) []EquityPoint {
	out := make([]EquityPoint, len(values))
	for i, v := range values {
		out[i] = EquityPoint{Timestamp: 1700000000000 + int64(i)*3600_000, Equity: v}
	}
	return out
}

func TestBuildComputesROIAndDrawdown(t *testing.T) {
	book := orderbook.New()
	book.Add(&domain.Order{ID: "b1", Side: domain.OrderSideBuy, Status: domain.OrderStatusClosed}, nil)
	book.Add(&domain.Order{ID: "s1", Side: domain.OrderSideSell, Status: domain.OrderStatusOpen}, nil)

	// Peak 12000 to trough 9000 is a 25% drawdown.
	s := Build("BTC/USDT", equitySeries(10000, 12000, 9000, 11000), book, 12.5)

	if s.StartEquity != 10000 || s.EndEquity != 11000 {
		t.Errorf("equity bounds = %v..%v", s.StartEquity, s.EndEquity)
	}
	if s.ROIPercent != 10 {
		t.Errorf("ROI = %v, want 10", s.ROIPercent)
	}
	if s.MaxDrawdown != 25 {
		t.Errorf("MaxDrawdown = %v, want 25", s.MaxDrawdown)
	}
	if s.BuyOrders != 1 || s.SellOrders != 1 || s.FilledCount != 1 {
		t.Errorf("order counts = (%d, %d, %d)", s.BuyOrders, s.SellOrders, s.FilledCount)
	}
	if s.FeesPaid != 12.5 {
		t.Errorf("FeesPaid = %v", s.FeesPaid)
	}
	if s.Bars != 4 {
		t.Errorf("Bars = %d", s.Bars)
	}
}

func TestBuildEmptyRun(t *testing.T) {
	s := Build("BTC/USDT", nil, orderbook.New(), 0)
	if s.ROIPercent != 0 || s.MaxDrawdown != 0 || s.Bars != 0 {
		t.Errorf("empty run summary not zeroed: %+v", s)
	}
}

func TestWriteFileRoundtrip(t *testing.T) {
	s := Build("BTC/USDT", equitySeries(100, 110), orderbook.New(), 1)
	path := filepath.Join(t.TempDir(), "report.json")

	if err := s.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	var got Summary
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Pair != "BTC/USDT" || got.EndEquity != 110 {
		t.Errorf("roundtrip lost data: %+v", got)
	}
}

type fakeBlobWriter struct {
	key         string
	contentType string
	body        []byte
}

func (f *fakeBlobWriter) Put(_ context.Context, key string, r io.Reader, contentType string) error {
	f.key = key
	f.contentType = contentType
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return err
	}
	f.body = buf.Bytes()
	return nil
}

func (f *fakeBlobWriter) PutMultipart(ctx context.Context, key string, r io.Reader, _ int64) error {
	return f.Put(ctx, key, r, "")
}

func TestUpload(t *testing.T) {
	s := Build("BTC/USDT", equitySeries(100, 120), orderbook.New(), 0)
	w := &fakeBlobWriter{}

	if err := s.Upload(context.Background(), w, "reports/BTCUSDT-test.json"); err != nil {
		t.Fatalf("Upload: %v", err)
	}

	if w.key != "reports/BTCUSDT-test.json" || w.contentType != "application/json" {
		t.Errorf("uploaded as (%q, %q)", w.key, w.contentType)
	}
	var got Summary
	if err := json.Unmarshal(w.body, &got); err != nil {
		t.Fatalf("uploaded body not JSON: %v", err)
	}
	if got.ROIPercent != 20 {
		t.Errorf("ROI = %v, want 20", got.ROIPercent)
	}
}
