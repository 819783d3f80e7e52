// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package marketdata is a thin typed query layer over an external quotes
// source, plus analytical helpers and technical indicators.
//
// Every operation returns a typed value or absent (nil) on invalid ticker,
// unknown period, insufficient history, or transport failure. Nothing in
// this package surfaces an error to the agents; absence is the signal.
package marketdata

import "time"

// Valid history periods. Unknown values yield absent, never an error.
var validPeriods = map[string]bool{
	"1d": true, "5d": true, "1mo": true, "3mo": true, "6mo": true,
	"1y": true, "2y": true, "5y": true, "10y": true, "ytd": true, "max": true,
}

// IsValidPeriod reports whether p is in the closed period set.
func IsValidPeriod(p string) bool { return validPeriods[p] }

// PriceSnapshot is a point-in-time quote. All market fields are optional;
// a nil pointer means the upstream source did not supply the value.
type PriceSnapshot struct {
	Ticker        string    `json:"ticker"`
	CurrentPrice  *float64  `json:"current_price,omitempty"`
	PreviousClose *float64  `json:"previous_close,omitempty"`
	DayHigh       *float64  `json:"day_high,omitempty"`
	DayLow        *float64  `json:"day_low,omitempty"`
	Volume        *int64    `json:"volume,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Fundamentals is a snapshot of slow-moving company metrics.
type Fundamentals struct {
	Ticker            string   `json:"ticker"`
	CompanyName       *string  `json:"company_name,omitempty"`
	MarketCap         *int64   `json:"market_cap,omitempty"`
	Sector            *string  `json:"sector,omitempty"`
	Industry          *string  `json:"industry,omitempty"`
	FiftyDayAvg       *float64 `json:"fifty_day_avg,omitempty"`
	TwoHundredDayAvg  *float64 `json:"two_hundred_day_avg,omitempty"`
	FiftyTwoWeekHigh  *float64 `json:"fifty_two_week_high,omitempty"`
	FiftyTwoWeekLow   *float64 `json:"fifty_two_week_low,omitempty"`
}

// PricePoint is one bar of OHLCV history.
type PricePoint struct {
	Date   time.Time `json:"date"`
	Open   *float64  `json:"open,omitempty"`
	High   *float64  `json:"high,omitempty"`
	Low    *float64  `json:"low,omitempty"`
	Close  *float64  `json:"close,omitempty"`
	Volume *int64    `json:"volume,omitempty"`
}

// PriceHistory is an ordered series of daily bars for one period.
type PriceHistory struct {
	Ticker string       `json:"ticker"`
	Period string       `json:"period"`
	Prices []PricePoint `json:"prices"`
}

// Closes extracts the non-nil closing prices in date order.
func (h *PriceHistory) Closes() []float64 {
	out := make([]float64, 0, len(h.Prices))
	for _, p := range h.Prices {
		if p.Close != nil {
			out = append(out, *p.Close)
		}
	}
	return out
}

// PriceChange is the delta between the start and end of a period.
type PriceChange struct {
	Ticker        string   `json:"ticker"`
	Period        string   `json:"period"`
	CurrentPrice  *float64 `json:"current_price,omitempty"`
	PreviousPrice *float64 `json:"previous_price,omitempty"`
	ChangeAmount  *float64 `json:"change_amount,omitempty"`
	ChangePercent *float64 `json:"change_percent,omitempty"`
}

// TechnicalReading is the result of one indicator calculation.
type TechnicalReading struct {
	Ticker        string         `json:"ticker"`
	IndicatorType string         `json:"indicator_type"`
	Value         *float64       `json:"value,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// PerformanceRow is one ticker's value for a comparison metric.
type PerformanceRow struct {
	Ticker string   `json:"ticker"`
	Metric string   `json:"metric"`
	Value  *float64 `json:"value,omitempty"`
}

// PerformanceComparison ranks a set of tickers by a metric, best first.
// Tickers whose metric could not be resolved sort last with a nil value.
type PerformanceComparison struct {
	Tickers []string         `json:"tickers"`
	Metric  string           `json:"metric"`
	Period  string           `json:"period"`
	Results []PerformanceRow `json:"results"`
}
