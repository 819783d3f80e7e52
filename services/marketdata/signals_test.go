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
	"math"
	"testing"
)

func serviceWith(closes ...float64) *Service {
	return NewService(&stubSource{histories: map[string]*PriceHistory{
		"TEST": historyOf(closes...),
	}}, nil)
}

func rising(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func TestSMA(t *testing.T) {
	svc := serviceWith(rising(60)...)

	r := svc.SMA(context.Background(), "test", 5)
	if r == nil || r.Value == nil {
		t.Fatal("SMA returned nil")
	}
	// Last 5 closes: 155..159, mean 157.
	if math.Abs(*r.Value-157.0) > 1e-9 {
		t.Errorf("SMA = %f, want 157", *r.Value)
	}
	if r.Ticker != "TEST" || r.IndicatorType != "SMA" {
		t.Errorf("reading = %s/%s", r.Ticker, r.IndicatorType)
	}
}

func TestSMAInsufficientHistory(t *testing.T) {
	svc := serviceWith(rising(10)...)
	if svc.SMA(context.Background(), "TEST", 50) != nil {
		t.Error("SMA with short history should be nil")
	}
}

func TestEMARecursive(t *testing.T) {
	closes := []float64{10, 11, 12, 13, 14}
	svc := serviceWith(closes...)

	r := svc.EMA(context.Background(), "TEST", 3)
	if r == nil || r.Value == nil {
		t.Fatal("EMA returned nil")
	}

	// alpha = 2/(3+1) = 0.5, seeded with the first close.
	want := closes[0]
	for _, c := range closes[1:] {
		want = 0.5*c + 0.5*want
	}
	if math.Abs(*r.Value-want) > 1e-9 {
		t.Errorf("EMA = %f, want %f", *r.Value, want)
	}
}

func TestRSIMonotonicSeries(t *testing.T) {
	ctx := context.Background()

	// Strictly rising closes: zero losses, RSI pegs at 100.
	up := serviceWith(rising(30)...)
	r := up.RSI(ctx, "TEST", 14)
	if r == nil || r.Value == nil {
		t.Fatal("RSI returned nil")
	}
	if *r.Value != 100 {
		t.Errorf("rising-series RSI = %f, want 100", *r.Value)
	}

	// Strictly falling closes: zero gains, RSI is 0.
	falling := make([]float64, 30)
	for i := range falling {
		falling[i] = 200 - float64(i)
	}
	down := serviceWith(falling...)
	r = down.RSI(ctx, "TEST", 14)
	if r == nil || r.Value == nil {
		t.Fatal("RSI returned nil")
	}
	if *r.Value != 0 {
		t.Errorf("falling-series RSI = %f, want 0", *r.Value)
	}
}

func TestRSIBalancedSeries(t *testing.T) {
	// Alternating ±1 deltas: equal mean gain and loss, RSI = 50.
	closes := make([]float64, 31)
	closes[0] = 100
	for i := 1; i < len(closes); i++ {
		if i%2 == 1 {
			closes[i] = closes[i-1] + 1
		} else {
			closes[i] = closes[i-1] - 1
		}
	}
	svc := serviceWith(closes...)

	r := svc.RSI(context.Background(), "TEST", 14)
	if r == nil || r.Value == nil {
		t.Fatal("RSI returned nil")
	}
	if math.Abs(*r.Value-50.0) > 1e-9 {
		t.Errorf("balanced RSI = %f, want 50", *r.Value)
	}
}

func TestMACDSign(t *testing.T) {
	ctx := context.Background()

	// Rising series: fast EMA above slow EMA, MACD positive.
	r := serviceWith(rising(60)...).MACD(ctx, "TEST")
	if r == nil || r.Value == nil {
		t.Fatal("MACD returned nil")
	}
	if *r.Value <= 0 {
		t.Errorf("rising-series MACD = %f, want > 0", *r.Value)
	}

	// Too short for the 26-bar slow EMA.
	if serviceWith(rising(20)...).MACD(ctx, "TEST") != nil {
		t.Error("MACD with 20 closes should be nil")
	}
}

func TestGoldenCross(t *testing.T) {
	ctx := context.Background()

	// Flat long tail then a sharp rally: the 50-day mean overtakes the
	// 200-day mean on the final bar.
	closes := make([]float64, 220)
	for i := range closes {
		closes[i] = 100
	}
	closes[len(closes)-1] = 400

	crossed := serviceWith(closes...).GoldenCross(ctx, "TEST")
	if crossed == nil {
		t.Fatal("GoldenCross returned nil")
	}
	if !*crossed {
		t.Error("expected a golden cross on the rally bar")
	}

	// A flat series never crosses.
	allFlat := make([]float64, 220)
	for i := range allFlat {
		allFlat[i] = 100
	}
	crossed = serviceWith(allFlat...).GoldenCross(ctx, "TEST")
	if crossed == nil {
		t.Fatal("GoldenCross returned nil")
	}
	if *crossed {
		t.Error("flat series should not cross")
	}

	// 200 closes is one short of comparing two consecutive windows.
	if serviceWith(rising(200)...).GoldenCross(ctx, "TEST") != nil {
		t.Error("200-close history should be nil")
	}
}
