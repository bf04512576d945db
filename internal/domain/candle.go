package domain

import "time"

// Candle is one OHLCV bar of market data.
type Candle struct {
	Timestamp int64 // bar open time, unix milliseconds
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Time returns the bar open time.
func (c Candle) Time() time.Time {
	return time.UnixMilli(c.Timestamp).UTC()
}

// Contains reports whether price traded within this bar's range.
func (c Candle) Contains(price float64) bool {
	return price >= c.Low && price <= c.High
}
