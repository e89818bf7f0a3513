package market

import "time"

// Candle is one OHLCV bar from the candle subscription; closes feed the
// volatility estimate that widens the quote grid.
type Candle struct {
	Asset    string
	Interval string
	Start    time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}
