package dataset

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gridbot/internal/domain"
	"gridbot/internal/exchange"
)

func newTestLoader(blobs BlobOpener) *Loader {
	return NewLoader(blobs, slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func writeCSV(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "candles.csv")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	return path
}

const header = "timestamp,open,high,low,close,volume\n"

func TestLoadFileParsesTimestampFormats(t *testing.T) {
	// RFC3339, epoch seconds, and epoch milliseconds all land on the same
	// millisecond scale.
	path := writeCSV(t, header+
		"2024-01-01T00:00:00Z,100,110,90,105,12.5\n"+
		"1704070800,105,115,95,110,8\n"+
		"1704074400000,110,120,100,115,9\n")

	candles, err := newTestLoader(nil).Load(context.Background(), nil, path, "BTC/USDT", "1h", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(candles) != 3 {
		t.Fatalf("got %d candles, want 3", len(candles))
	}
	if candles[0].Timestamp != 1704067200000 {
		t.Errorf("RFC3339 timestamp = %d", candles[0].Timestamp)
	}
	if candles[1].Timestamp != 1704070800000 {
		t.Errorf("epoch seconds timestamp = %d", candles[1].Timestamp)
	}
	if candles[2].Timestamp != 1704074400000 {
		t.Errorf("epoch millis timestamp = %d", candles[2].Timestamp)
	}
	if candles[0].Open != 100 || candles[0].High != 110 || candles[0].Low != 90 ||
		candles[0].Close != 105 || candles[0].Volume != 12.5 {
		t.Errorf("OHLCV decoded wrong: %+v", candles[0])
	}
}

func TestLoadFileErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"no data rows", header, "no data rows"},
		{"short row", header + "1704067200,100,110,90\n", "columns"},
		{"bad timestamp", header + "someday,100,110,90,105,1\n", "neither RFC3339 nor epoch"},
		{"bad number", header + "1704067200,100,x,90,105,1\n", "column 3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeCSV(t, tt.body)
			_, err := newTestLoader(nil).Load(context.Background(), nil, path, "", "1h", time.Time{}, time.Time{})
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q missing %q", err, tt.want)
			}
		})
	}
}

func TestLoadRejectsOutOfOrderBars(t *testing.T) {
	path := writeCSV(t, header+
		"1704070800,1,1,1,1,1\n"+
		"1704067200,1,1,1,1,1\n")

	_, err := newTestLoader(nil).Load(context.Background(), nil, path, "", "1h", time.Time{}, time.Time{})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("error = %v, want ErrDataUnavailable", err)
	}
}

func TestLoadSlicesPeriod(t *testing.T) {
	path := writeCSV(t, header+
		"2024-01-01T00:00:00Z,1,1,1,1,1\n"+
		"2024-01-01T01:00:00Z,1,1,1,1,1\n"+
		"2024-01-01T02:00:00Z,1,1,1,1,1\n"+
		"2024-01-01T03:00:00Z,1,1,1,1,1\n")

	start := time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 2, 0, 0, 0, time.UTC)
	candles, err := newTestLoader(nil).Load(context.Background(), nil, path, "", "1h", start, end)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}
	if !candles[0].Time().Equal(start) || !candles[1].Time().Equal(end) {
		t.Errorf("bounds wrong: %v .. %v", candles[0].Time(), candles[1].Time())
	}
}

func TestLoadBlobRequiresStorage(t *testing.T) {
	_, err := newTestLoader(nil).Load(context.Background(), nil, "s3://bucket/data.csv", "", "1h", time.Time{}, time.Time{})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("error = %v, want ErrDataUnavailable", err)
	}
}

type fakeBlobs struct {
	key  string
	body string
}

func (f *fakeBlobs) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f.key = key
	return io.NopCloser(strings.NewReader(f.body)), nil
}

func TestLoadBlobStripsBucketFromURL(t *testing.T) {
	blobs := &fakeBlobs{body: header + "1704067200,1,2,0.5,1.5,3\n"}

	candles, err := newTestLoader(blobs).Load(context.Background(), nil,
		"s3://datasets/btc/1h.csv", "", "1h", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	// The reader is bound to its bucket; only the key goes through.
	if blobs.key != "btc/1h.csv" {
		t.Errorf("key = %q, want btc/1h.csv", blobs.key)
	}
	if len(candles) != 1 {
		t.Errorf("got %d candles", len(candles))
	}
}

// fakeVenue serves canned bars from its kline endpoint.
type fakeVenue struct {
	exchange.Service
	candles []domain.Candle
	calls   int
}

func (f *fakeVenue) Candles(_ context.Context, _, _ string, start time.Time, limit int) ([]domain.Candle, error) {
	f.calls++
	var out []domain.Candle
	for _, c := range f.candles {
		if !c.Time().Before(start) {
			out = append(out, c)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func TestLoadFetchesFromVenue(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	venue := &fakeVenue{}
	for i := 0; i < 5; i++ {
		venue.candles = append(venue.candles, domain.Candle{
			Timestamp: base.Add(time.Duration(i) * time.Hour).UnixMilli(),
			Close:     float64(100 + i),
		})
	}

	candles, err := newTestLoader(nil).Load(context.Background(), venue,
		"", "BTC/USDT", "1h", base, base.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(candles) != 5 {
		t.Errorf("got %d candles, want 5", len(candles))
	}
	if venue.calls == 0 {
		t.Error("venue never queried")
	}
}

func TestFetchRequiresPeriod(t *testing.T) {
	_, err := newTestLoader(nil).Load(context.Background(), &fakeVenue{},
		"", "BTC/USDT", "1h", time.Time{}, time.Time{})
	if !errors.Is(err, domain.ErrDataUnavailable) {
		t.Errorf("error = %v, want ErrDataUnavailable", err)
	}
}
