// Package dataset loads the OHLCV bars a backtest replays: from a local CSV
// file, from object storage via an s3:// URL, or — when no file is
// configured — fetched in chunks from the venue's kline endpoint.
package dataset

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gridbot/internal/domain"
	"gridbot/internal/exchange"
)

// fetchChunk is how many bars one venue request asks for.
const fetchChunk = 1000

// BlobOpener resolves an s3://bucket/key URL to a readable stream.
type BlobOpener interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
}

// Loader resolves a backtest dataset from whichever source the config
// names.
type Loader struct {
	blobs BlobOpener // nil when object storage is not configured
	log   *slog.Logger
}

// NewLoader builds a Loader. blobs may be nil; s3:// paths then fail with a
// configuration error.
func NewLoader(blobs BlobOpener, log *slog.Logger) *Loader {
	return &Loader{
		blobs: blobs,
		log:   log.With(slog.String("component", "dataset")),
	}
}

// Load returns the bars for the run. A non-empty dataFile wins: local path
// or s3:// URL. Otherwise bars are fetched from the venue over [start, end]
// at the given interval. The returned series is validated ascending and
// sliced to [start, end] when bounds are set.
func (l *Loader) Load(ctx context.Context, svc exchange.Service, dataFile, pair, interval string, start, end time.Time) ([]domain.Candle, error) {
	var (
		candles []domain.Candle
		err     error
	)
	switch {
	case strings.HasPrefix(dataFile, "s3://"):
		candles, err = l.loadBlob(ctx, dataFile)
	case dataFile != "":
		candles, err = l.loadFile(dataFile)
	default:
		candles, err = l.fetch(ctx, svc, pair, interval, start, end)
	}
	if err != nil {
		return nil, err
	}

	candles = slicePeriod(candles, start, end)
	if err := validateAscending(candles); err != nil {
		return nil, err
	}

	l.log.InfoContext(ctx, "dataset loaded",
		slog.Int("bars", len(candles)),
		slog.String("source", sourceName(dataFile)),
	)
	return candles, nil
}

func sourceName(dataFile string) string {
	switch {
	case strings.HasPrefix(dataFile, "s3://"):
		return "s3"
	case dataFile != "":
		return "file"
	default:
		return "exchange"
	}
}

// loadFile reads a CSV dataset from the local filesystem.
func (l *Loader) loadFile(path string) ([]domain.Candle, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("dataset: open %s: %w", path, err)
	}
	defer f.Close()
	return parseCSV(f)
}

// loadBlob reads a CSV dataset from object storage. The URL's bucket part is
// ignored; the blob reader is already bound to its configured bucket.
func (l *Loader) loadBlob(ctx context.Context, url string) ([]domain.Candle, error) {
	if l.blobs == nil {
		return nil, fmt.Errorf("dataset: %s requires s3 storage to be enabled: %w", url, domain.ErrDataUnavailable)
	}

	trimmed := strings.TrimPrefix(url, "s3://")
	_, key, found := strings.Cut(trimmed, "/")
	if !found || key == "" {
		return nil, fmt.Errorf("dataset: malformed s3 url %q: %w", url, domain.ErrDataUnavailable)
	}

	rc, err := l.blobs.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("dataset: get %s: %w", url, err)
	}
	defer rc.Close()
	return parseCSV(rc)
}

// fetch pulls bars from the venue in chunks of fetchChunk until end is
// reached.
func (l *Loader) fetch(ctx context.Context, svc exchange.Service, pair, interval string, start, end time.Time) ([]domain.Candle, error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("dataset: venue fetch needs start and end dates: %w", domain.ErrDataUnavailable)
	}

	var all []domain.Candle
	cursor := start
	for cursor.Before(end) {
		chunk, err := svc.Candles(ctx, pair, interval, cursor, fetchChunk)
		if err != nil {
			return nil, fmt.Errorf("dataset: fetch from %s: %w", cursor.Format(time.RFC3339), err)
		}
		if len(chunk) == 0 {
			break
		}
		all = append(all, chunk...)
		next := chunk[len(chunk)-1].Time()
		if !next.After(cursor) {
			break
		}
		cursor = next.Add(time.Millisecond)
	}
	return all, nil
}

// parseCSV decodes a timestamp,open,high,low,close,volume CSV with a header
// row. Timestamps are RFC3339 or epoch (seconds or milliseconds).
func parseCSV(r io.Reader) ([]domain.Candle, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	// Column counts are checked per row below, with the row number in the
	// error; the csv package's own field-count check would fire first.
	reader.FieldsPerRecord = -1

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("dataset: read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("dataset: csv has no data rows: %w", domain.ErrDataUnavailable)
	}

	candles := make([]domain.Candle, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) < 6 {
			return nil, fmt.Errorf("dataset: row %d has %d columns, want 6", i+2, len(row))
		}
		ts, err := parseTimestamp(row[0])
		if err != nil {
			return nil, fmt.Errorf("dataset: row %d: %w", i+2, err)
		}
		vals := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(row[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("dataset: row %d column %d: %w", i+2, j+1, err)
			}
			vals[j-1] = v
		}
		candles = append(candles, domain.Candle{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return candles, nil
}

// parseTimestamp accepts RFC3339 strings and epoch seconds or milliseconds.
func parseTimestamp(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q is neither RFC3339 nor epoch", s)
	}
	// Epoch seconds fit comfortably below 1e12 until the year 33658.
	if n < 1e12 {
		n *= 1000
	}
	return n, nil
}

// slicePeriod bounds the series to [start, end]. Zero times leave that bound
// open.
func slicePeriod(candles []domain.Candle, start, end time.Time) []domain.Candle {
	out := candles
	if !start.IsZero() {
		for i, c := range out {
			if !c.Time().Before(start) {
				out = out[i:]
				break
			}
			if i == len(out)-1 {
				return nil
			}
		}
	}
	if !end.IsZero() {
		for i, c := range out {
			if c.Time().After(end) {
				out = out[:i]
				break
			}
		}
	}
	return out
}

// validateAscending rejects out-of-order or duplicate bars.
func validateAscending(candles []domain.Candle) error {
	for i := 1; i < len(candles); i++ {
		if candles[i].Timestamp <= candles[i-1].Timestamp {
			return fmt.Errorf("dataset: bars out of order at index %d (%d after %d): %w",
				i, candles[i].Timestamp, candles[i-1].Timestamp, domain.ErrDataUnavailable)
		}
	}
	return nil
}
