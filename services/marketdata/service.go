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
	"log/slog"
	"sort"
	"strings"
	"time"
)

// Service is the absent-not-error façade over a QuotesSource.
//
// # Description
//
// Every method returns a typed value or nil. Upstream failures are logged
// and swallowed: the agents observe "no data" and adapt, which is the
// contract the tool layer depends on. The Service never panics and never
// returns an error.
//
// # Thread Safety
//
// Safe for concurrent use when the underlying QuotesSource is.
type Service struct {
	source QuotesSource
	logger *slog.Logger
}

// NewService wraps a quotes source.
func NewService(source QuotesSource, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{source: source, logger: logger}
}

// GetPrice returns a current snapshot, or nil when unavailable.
func (s *Service) GetPrice(ctx context.Context, ticker string) *PriceSnapshot {
	if ticker == "" {
		return nil
	}
	snap, err := s.source.Quote(ctx, ticker)
	if err != nil {
		s.logger.Debug("price unavailable", slog.String("ticker", ticker), slog.String("error", err.Error()))
		return nil
	}
	return snap
}

// GetFundamentals returns company metrics, or nil when unavailable.
func (s *Service) GetFundamentals(ctx context.Context, ticker string) *Fundamentals {
	if ticker == "" {
		return nil
	}
	f, err := s.source.Fundamentals(ctx, ticker)
	if err != nil {
		s.logger.Debug("fundamentals unavailable", slog.String("ticker", ticker), slog.String("error", err.Error()))
		return nil
	}
	return f
}

// GetHistory returns daily bars for a period, or nil when the period is
// outside the closed set or the source fails.
func (s *Service) GetHistory(ctx context.Context, ticker, period string) *PriceHistory {
	if ticker == "" || !IsValidPeriod(period) {
		return nil
	}
	h, err := s.source.History(ctx, ticker, period)
	if err != nil {
		s.logger.Debug("history unavailable",
			slog.String("ticker", ticker),
			slog.String("period", period),
			slog.String("error", err.Error()))
		return nil
	}
	if h == nil || len(h.Prices) == 0 {
		return nil
	}
	return h
}

// PriceChange computes the delta between the first and last close of a
// period. Nil when history is absent or has fewer than two usable closes.
func (s *Service) PriceChange(ctx context.Context, ticker, period string) *PriceChange {
	history := s.GetHistory(ctx, ticker, period)
	if history == nil {
		return nil
	}
	closes := history.Closes()
	if len(closes) < 2 {
		return nil
	}

	previous := closes[0]
	current := closes[len(closes)-1]
	amount := current - previous

	change := &PriceChange{
		Ticker:        strings.ToUpper(ticker),
		Period:        period,
		CurrentPrice:  &current,
		PreviousPrice: &previous,
		ChangeAmount:  &amount,
	}
	if previous != 0 {
		pct := amount / previous * 100
		change.ChangePercent = &pct
	}
	return change
}

// ComparePerformance ranks tickers by a metric, best first.
//
// Metrics: price_change_percent (default), price_change_amount,
// current_price, volume. Tickers whose metric cannot be resolved keep a
// nil value and sort last.
func (s *Service) ComparePerformance(ctx context.Context, tickers []string, metric, period string) *PerformanceComparison {
	if len(tickers) == 0 {
		return nil
	}
	if metric == "" {
		metric = "price_change_percent"
	}
	if period == "" {
		period = "1d"
	}

	upper := make([]string, len(tickers))
	results := make([]PerformanceRow, 0, len(tickers))
	for i, t := range tickers {
		upper[i] = strings.ToUpper(t)

		var value *float64
		switch metric {
		case "price_change_percent":
			if change := s.PriceChange(ctx, t, period); change != nil {
				value = change.ChangePercent
			}
		case "price_change_amount":
			if change := s.PriceChange(ctx, t, period); change != nil {
				value = change.ChangeAmount
			}
		case "current_price":
			if snap := s.GetPrice(ctx, t); snap != nil {
				value = snap.CurrentPrice
			}
		case "volume":
			if snap := s.GetPrice(ctx, t); snap != nil && snap.Volume != nil {
				v := float64(*snap.Volume)
				value = &v
			}
		default:
			return nil
		}
		results = append(results, PerformanceRow{Ticker: upper[i], Metric: metric, Value: value})
	}

	sort.SliceStable(results, func(i, j int) bool {
		vi, vj := results[i].Value, results[j].Value
		switch {
		case vi == nil:
			return false
		case vj == nil:
			return true
		default:
			return *vi > *vj
		}
	})

	return &PerformanceComparison{
		Tickers: upper,
		Metric:  metric,
		Period:  period,
		Results: results,
	}
}

// TopPerformers returns the best n rows of a comparison.
func (s *Service) TopPerformers(ctx context.Context, tickers []string, metric, period string, n int) []PerformanceRow {
	if n <= 0 {
		return []PerformanceRow{}
	}
	comparison := s.ComparePerformance(ctx, tickers, metric, period)
	if comparison == nil {
		return []PerformanceRow{}
	}
	if len(comparison.Results) > n {
		return comparison.Results[:n]
	}
	return comparison.Results
}

// Returns computes the percent return between two dates over a 1y history.
//
// When a date has no bar, the series endpoints substitute: the first close
// for a missing start, the last close for a missing end.
func (s *Service) Returns(ctx context.Context, ticker, startDate, endDate string) *float64 {
	startDt, err := time.Parse("2006-01-02", startDate)
	if err != nil {
		return nil
	}
	endDt, err := time.Parse("2006-01-02", endDate)
	if err != nil {
		return nil
	}

	history := s.GetHistory(ctx, ticker, "1y")
	if history == nil || len(history.Prices) < 2 {
		return nil
	}

	var startPrice, endPrice *float64
	for i := range history.Prices {
		p := &history.Prices[i]
		if p.Close == nil {
			continue
		}
		if sameDay(p.Date, startDt) {
			startPrice = p.Close
		}
		if sameDay(p.Date, endDt) {
			endPrice = p.Close
		}
	}
	if startPrice == nil {
		startPrice = history.Prices[0].Close
	}
	if endPrice == nil {
		endPrice = history.Prices[len(history.Prices)-1].Close
	}
	if startPrice == nil || endPrice == nil || *startPrice == 0 {
		return nil
	}

	ret := (*endPrice - *startPrice) / *startPrice * 100
	return &ret
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
