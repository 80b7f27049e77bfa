package domain

import (
	"testing"
)

func TestTickValidate(t *testing.T) {
	tests := []struct {
		name    string
		tick    Tick
		wantErr bool
	}{
		{
			name:    "valid tick",
			tick:    Tick{Symbol: "AAPL", Timestamp: 123456789, Bid: 100.1, Ask: 100.2, Last: 100.15, Volume: 10},
			wantErr: false,
		},
		{
			name:    "missing symbol",
			tick:    Tick{Timestamp: 123456789, Bid: 100.1},
			wantErr: true,
		},
		{
			name:    "zero timestamp",
			tick:    Tick{Symbol: "AAPL"},
			wantErr: true,
		},
		{
			name:    "negative timestamp",
			tick:    Tick{Symbol: "AAPL", Timestamp: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.tick.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBarValidate(t *testing.T) {
	valid := Bar{
		Symbol: "AAPL", Interval: "1m", Start: 1000, End: 61000,
		Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100,
	}

	tests := []struct {
		name    string
		mutate  func(Bar) Bar
		wantErr bool
	}{
		{
			name:    "valid bar",
			mutate:  func(b Bar) Bar { return b },
			wantErr: false,
		},
		{
			name:    "missing symbol",
			mutate:  func(b Bar) Bar { b.Symbol = ""; return b },
			wantErr: true,
		},
		{
			name:    "missing interval",
			mutate:  func(b Bar) Bar { b.Interval = ""; return b },
			wantErr: true,
		},
		{
			name:    "end equals start",
			mutate:  func(b Bar) Bar { b.End = b.Start; return b },
			wantErr: true,
		},
		{
			name:    "end before start",
			mutate:  func(b Bar) Bar { b.End = b.Start - 1; return b },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mutate(valid).Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
