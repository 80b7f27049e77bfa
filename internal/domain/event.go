package domain

import (
	"fmt"
)

// Tick is a single normalized bid/ask/last/volume observation for a symbol
// at a point in time. It is a clean domain type, independent of any wire
// format; price fields may be NaN when the upstream payload omitted them.
type Tick struct {
	Symbol    string  `json:"symbol"`
	Timestamp int64   `json:"ts"` // epoch milliseconds
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	Last      float64 `json:"last"`
	Volume    float64 `json:"volume"`
}

// Bar is an aggregated OHLCV observation for a symbol over a time interval.
type Bar struct {
	Symbol   string  `json:"symbol"`
	Interval string  `json:"interval"`
	Start    int64   `json:"start"` // epoch milliseconds
	End      int64   `json:"end"`   // epoch milliseconds
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	Volume   float64 `json:"volume"`
}

// Validate checks if the Tick has valid required fields.
func (t Tick) Validate() error {
	if t.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	if t.Timestamp <= 0 {
		return fmt.Errorf("timestamp must be positive, got: %d", t.Timestamp)
	}

	return nil
}

// Validate checks if the Bar has valid required fields.
func (b Bar) Validate() error {
	if b.Symbol == "" {
		return fmt.Errorf("symbol is required")
	}

	if b.Interval == "" {
		return fmt.Errorf("interval is required")
	}

	if b.End <= b.Start {
		return fmt.Errorf("end (%d) must be after start (%d)", b.End, b.Start)
	}

	return nil
}
