// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package marketdata

import (
	"context"
	"strings"
	"time"
)

// =============================================================================
// Technical indicators
// =============================================================================
//
// Each indicator fetches the shortest history period that covers its
// window, computes over the non-nil closes, and returns a TechnicalReading
// or nil. The market specialist is the only consumer.

// SMA computes the simple moving average over the trailing window.
// Window defaults to 50. Nil when history is shorter than the window.
func (s *Service) SMA(ctx context.Context, ticker string, window int) *TechnicalReading {
	if window <= 0 {
		window = 50
	}
	closes := s.closesFor(ctx, ticker, periodForWindow(window), window)
	if closes == nil {
		return nil
	}

	value := mean(closes[len(closes)-window:])
	return reading(ticker, "SMA", value, map[string]any{"window": window})
}

// EMA computes the span-weighted exponential moving average over the full
// series (alpha = 2/(window+1), seeded with the first close).
func (s *Service) EMA(ctx context.Context, ticker string, window int) *TechnicalReading {
	if window <= 0 {
		window = 50
	}
	closes := s.closesFor(ctx, ticker, periodForWindow(window), window)
	if closes == nil {
		return nil
	}

	series := emaSeries(closes, window)
	return reading(ticker, "EMA", series[len(series)-1], map[string]any{"window": window})
}

// RSI computes the relative strength index in [0, 100] from simple rolling
// means of gains and losses over the trailing period. Period defaults to 14.
func (s *Service) RSI(ctx context.Context, ticker string, period int) *TechnicalReading {
	if period <= 0 {
		period = 14
	}
	closes := s.closesFor(ctx, ticker, "3mo", period+1)
	if closes == nil {
		return nil
	}

	var gains, losses float64
	for i := len(closes) - period; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains += delta
		} else {
			losses -= delta
		}
	}
	gains /= float64(period)
	losses /= float64(period)

	var rsi float64
	if losses == 0 {
		rsi = 100
	} else {
		rs := gains / losses
		rsi = 100 - 100/(1+rs)
	}
	return reading(ticker, "RSI", rsi, map[string]any{"period": period})
}

// MACD computes the 12/26 EMA convergence-divergence value.
func (s *Service) MACD(ctx context.Context, ticker string) *TechnicalReading {
	closes := s.closesFor(ctx, ticker, "6mo", 26)
	if closes == nil {
		return nil
	}

	ema12 := emaSeries(closes, 12)
	ema26 := emaSeries(closes, 26)
	value := ema12[len(ema12)-1] - ema26[len(ema26)-1]
	return reading(ticker, "MACD", value, map[string]any{"fast_period": 12, "slow_period": 26})
}

// GoldenCross reports whether the 50-day SMA crossed above the 200-day SMA
// on the most recent bar. Nil when there is not enough history to compare
// two consecutive 200-day windows.
func (s *Service) GoldenCross(ctx context.Context, ticker string) *bool {
	closes := s.closesFor(ctx, ticker, "1y", 201)
	if closes == nil {
		return nil
	}

	n := len(closes)
	sma50Prev := mean(closes[n-51 : n-1])
	sma50Last := mean(closes[n-50:])
	sma200Prev := mean(closes[n-201 : n-1])
	sma200Last := mean(closes[n-200:])

	crossed := sma50Prev <= sma200Prev && sma50Last > sma200Last
	return &crossed
}

// closesFor fetches history and validates the minimum usable length.
func (s *Service) closesFor(ctx context.Context, ticker, period string, minLen int) []float64 {
	history := s.GetHistory(ctx, ticker, period)
	if history == nil {
		return nil
	}
	closes := history.Closes()
	if len(closes) < minLen {
		return nil
	}
	return closes
}

// periodForWindow picks the shortest period covering a moving-average window.
func periodForWindow(window int) string {
	if window <= 50 {
		return "6mo"
	}
	return "1y"
}

// emaSeries computes the adjust=false exponential moving average series.
func emaSeries(closes []float64, span int) []float64 {
	alpha := 2.0 / float64(span+1)
	out := make([]float64, len(closes))
	out[0] = closes[0]
	for i := 1; i < len(closes); i++ {
		out[i] = alpha*closes[i] + (1-alpha)*out[i-1]
	}
	return out
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func reading(ticker, kind string, value float64, params map[string]any) *TechnicalReading {
	return &TechnicalReading{
		Ticker:        strings.ToUpper(ticker),
		IndicatorType: kind,
		Value:         &value,
		Timestamp:     time.Now(),
		Parameters:    params,
	}
}
