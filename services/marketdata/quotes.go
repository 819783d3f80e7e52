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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// QuotesSource abstracts the external market-data provider.
//
// Implementations return an error on transport or parse failure; the
// Service layer converts those into absent values so agents only ever see
// data or "no data".
type QuotesSource interface {
	Quote(ctx context.Context, ticker string) (*PriceSnapshot, error)
	Fundamentals(ctx context.Context, ticker string) (*Fundamentals, error)
	History(ctx context.Context, ticker, period string) (*PriceHistory, error)
}

// =============================================================================
// Yahoo-style chart API client
// =============================================================================

// chartResponse is the subset of the chart endpoint payload we consume.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string   `json:"symbol"`
				RegularMarketPrice *float64 `json:"regularMarketPrice"`
				PreviousClose      *float64 `json:"chartPreviousClose"`
				DayHigh            *float64 `json:"regularMarketDayHigh"`
				DayLow             *float64 `json:"regularMarketDayLow"`
				Volume             *int64   `json:"regularMarketVolume"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// summaryResponse is the subset of the quoteSummary payload we consume.
type summaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			Price *struct {
				LongName  *string `json:"longName"`
				MarketCap *struct {
					Raw *int64 `json:"raw"`
				} `json:"marketCap"`
			} `json:"price"`
			AssetProfile *struct {
				Sector   *string `json:"sector"`
				Industry *string `json:"industry"`
			} `json:"assetProfile"`
			SummaryDetail *struct {
				FiftyDayAverage       *rawFloat `json:"fiftyDayAverage"`
				TwoHundredDayAverage  *rawFloat `json:"twoHundredDayAverage"`
				FiftyTwoWeekHigh      *rawFloat `json:"fiftyTwoWeekHigh"`
				FiftyTwoWeekLow       *rawFloat `json:"fiftyTwoWeekLow"`
			} `json:"summaryDetail"`
		} `json:"result"`
	} `json:"quoteSummary"`
}

type rawFloat struct {
	Raw *float64 `json:"raw"`
}

// YahooClient fetches quotes from a Yahoo-compatible chart API.
//
// # Description
//
// Two endpoints are used: /v8/finance/chart/{symbol} for quotes and
// history, and /v10/finance/quoteSummary/{symbol} for fundamentals. The
// base URL is overridable via QUOTES_BASE_URL for tests and proxies.
//
// # Thread Safety
//
// Safe for concurrent use.
type YahooClient struct {
	baseURL string
	client  *http.Client
}

// NewYahooClient creates a quotes client with a 10 second timeout.
func NewYahooClient() *YahooClient {
	base := os.Getenv("QUOTES_BASE_URL")
	if base == "" {
		base = "https://query1.finance.yahoo.com"
	}
	return &YahooClient{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// NewYahooClientWithBase creates a client against an explicit base URL.
func NewYahooClientWithBase(base string) *YahooClient {
	return &YahooClient{
		baseURL: strings.TrimRight(base, "/"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// Quote fetches a current price snapshot from the chart endpoint meta.
func (c *YahooClient) Quote(ctx context.Context, ticker string) (*PriceSnapshot, error) {
	parsed, err := c.chart(ctx, ticker, "1d")
	if err != nil {
		return nil, err
	}

	meta := parsed.Chart.Result[0].Meta
	if meta.RegularMarketPrice == nil {
		return nil, fmt.Errorf("marketdata: no price in chart meta for %s", ticker)
	}

	return &PriceSnapshot{
		Ticker:        strings.ToUpper(ticker),
		CurrentPrice:  meta.RegularMarketPrice,
		PreviousClose: meta.PreviousClose,
		DayHigh:       meta.DayHigh,
		DayLow:        meta.DayLow,
		Volume:        meta.Volume,
		Timestamp:     time.Now(),
	}, nil
}

// History fetches daily bars for a period from the chart endpoint.
func (c *YahooClient) History(ctx context.Context, ticker, period string) (*PriceHistory, error) {
	parsed, err := c.chart(ctx, ticker, period)
	if err != nil {
		return nil, err
	}

	result := parsed.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("marketdata: no quote series for %s", ticker)
	}
	quote := result.Indicators.Quote[0]

	history := &PriceHistory{
		Ticker: strings.ToUpper(ticker),
		Period: period,
	}
	for i, ts := range result.Timestamp {
		point := PricePoint{Date: time.Unix(ts, 0).UTC()}
		if i < len(quote.Open) {
			point.Open = quote.Open[i]
		}
		if i < len(quote.High) {
			point.High = quote.High[i]
		}
		if i < len(quote.Low) {
			point.Low = quote.Low[i]
		}
		if i < len(quote.Close) {
			point.Close = quote.Close[i]
		}
		if i < len(quote.Volume) {
			point.Volume = quote.Volume[i]
		}
		history.Prices = append(history.Prices, point)
	}
	return history, nil
}

// Fundamentals fetches company metrics from the quoteSummary endpoint.
func (c *YahooClient) Fundamentals(ctx context.Context, ticker string) (*Fundamentals, error) {
	endpoint := fmt.Sprintf("%s/v10/finance/quoteSummary/%s?modules=price,assetProfile,summaryDetail",
		c.baseURL, url.PathEscape(strings.ToUpper(ticker)))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var parsed summaryResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("marketdata: decoding quoteSummary: %w", err)
	}
	if len(parsed.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("marketdata: empty quoteSummary for %s", ticker)
	}

	r := parsed.QuoteSummary.Result[0]
	f := &Fundamentals{Ticker: strings.ToUpper(ticker)}
	if r.Price != nil {
		f.CompanyName = r.Price.LongName
		if r.Price.MarketCap != nil {
			f.MarketCap = r.Price.MarketCap.Raw
		}
	}
	if r.AssetProfile != nil {
		f.Sector = r.AssetProfile.Sector
		f.Industry = r.AssetProfile.Industry
	}
	if r.SummaryDetail != nil {
		if r.SummaryDetail.FiftyDayAverage != nil {
			f.FiftyDayAvg = r.SummaryDetail.FiftyDayAverage.Raw
		}
		if r.SummaryDetail.TwoHundredDayAverage != nil {
			f.TwoHundredDayAvg = r.SummaryDetail.TwoHundredDayAverage.Raw
		}
		if r.SummaryDetail.FiftyTwoWeekHigh != nil {
			f.FiftyTwoWeekHigh = r.SummaryDetail.FiftyTwoWeekHigh.Raw
		}
		if r.SummaryDetail.FiftyTwoWeekLow != nil {
			f.FiftyTwoWeekLow = r.SummaryDetail.FiftyTwoWeekLow.Raw
		}
	}
	return f, nil
}

// chart fetches and validates the chart endpoint payload.
func (c *YahooClient) chart(ctx context.Context, ticker, period string) (*chartResponse, error) {
	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?range=%s&interval=1d",
		c.baseURL, url.PathEscape(strings.ToUpper(ticker)), url.QueryEscape(period))

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	var parsed chartResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("marketdata: decoding chart response: %w", err)
	}
	if parsed.Chart.Error != nil {
		return nil, fmt.Errorf("marketdata: chart API error %s: %s",
			parsed.Chart.Error.Code, parsed.Chart.Error.Description)
	}
	if len(parsed.Chart.Result) == 0 {
		return nil, fmt.Errorf("marketdata: empty chart result for %s", ticker)
	}
	return &parsed, nil
}

func (c *YahooClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("marketdata: creating request: %w", err)
	}
	req.Header.Set("User-Agent", "entropy/1.0")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("marketdata: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("marketdata: reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("marketdata: status %d from quotes source", resp.StatusCode)
	}
	return body, nil
}
