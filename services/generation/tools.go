// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/entropy/services/llm"
	"github.com/AleutianAI/entropy/services/marketdata"
	"github.com/AleutianAI/entropy/services/retrieval"
)

// =============================================================================
// ToolBelt
// =============================================================================

// noDataResult is what the model sees when a tool comes back empty. Agents
// adapt to it; it is never an error.
const noDataResult = `{"result": "no data available"}`

// ToolHandler executes one tool call and returns a JSON string for the
// model. A returned error is converted to a no-data result by the belt.
type ToolHandler func(ctx context.Context, args json.RawMessage) (string, error)

// Tool pairs a wire declaration with its handler.
type Tool struct {
	Def     llm.ToolDef
	Handler ToolHandler
}

// ToolBelt is the uniform tool façade presented to one agent kind.
//
// # Description
//
// A registry name → handler over a closed set of tools. Stateless beyond
// the underlying indexes and clients; shared freely across concurrent
// agent runs. Execute never returns an error — failures degrade to a
// no-data result, per the propagation policy.
//
// # Thread Safety
//
// Immutable after construction. Safe for concurrent use.
type ToolBelt struct {
	tools  []Tool
	byName map[string]Tool
}

// NewToolBelt builds a belt from an ordered tool list.
func NewToolBelt(tools ...Tool) *ToolBelt {
	byName := make(map[string]Tool, len(tools))
	for _, t := range tools {
		byName[t.Def.Name] = t
	}
	return &ToolBelt{tools: tools, byName: byName}
}

// Defs returns the wire declarations in registration order.
func (b *ToolBelt) Defs() []llm.ToolDef {
	defs := make([]llm.ToolDef, len(b.tools))
	for i, t := range b.tools {
		defs[i] = t.Def
	}
	return defs
}

// Execute runs a named tool. Unknown names and handler failures both
// produce a no-data result string.
func (b *ToolBelt) Execute(ctx context.Context, name string, args json.RawMessage) string {
	tool, ok := b.byName[name]
	if !ok {
		slog.Warn("unknown tool requested", slog.String("tool", name))
		return noDataResult
	}
	out, err := tool.Handler(ctx, args)
	if err != nil {
		slog.Debug("tool returned no data", slog.String("tool", name), slog.String("error", err.Error()))
		return noDataResult
	}
	return out
}

// =============================================================================
// Retrieval tools
// =============================================================================

// NewsArticle is the tool-result shape for one retrieved article.
type NewsArticle struct {
	Title          string   `json:"title"`
	Text           string   `json:"text"`
	Tickers        []string `json:"tickers"`
	Publisher      string   `json:"publisher"`
	Link           string   `json:"link"`
	PublishedDate  string   `json:"published_date"`
	RelevanceScore float64  `json:"relevance_score"`
}

type searchNewsArgs struct {
	Query   string   `json:"query"`
	K       int      `json:"k"`
	Tickers []string `json:"tickers"`
}

// SearchNews runs a hybrid search and shapes the hits for the model.
// Exported because the diagnostic endpoint probes the same path.
func SearchNews(ctx context.Context, retriever *retrieval.HybridRetriever, query string, k int, tickers []string) []NewsArticle {
	slog.Debug(fmt.Sprintf("[BOUNDARY: Generation→Retrieval] Query: %q, k=%d, tickers=%v", query, k, tickers))

	if k <= 0 {
		k = 5
	}
	hits := retriever.Search(ctx, query, k, tickers)

	articles := make([]NewsArticle, 0, len(hits))
	for _, hit := range hits {
		doc, ok := retriever.Document(hit.DocID)
		if !ok {
			continue
		}
		text := doc.Body
		if len(text) > 500 {
			text = text[:500]
		}
		articles = append(articles, NewsArticle{
			Title:          doc.Title,
			Text:           text,
			Tickers:        doc.Tickers,
			Publisher:      doc.Publisher,
			Link:           doc.Link,
			PublishedDate:  doc.PublishedAt.Format("2006-01-02"),
			RelevanceScore: hit.Score,
		})
	}

	slog.Debug(fmt.Sprintf("[BOUNDARY: Retrieval→Generation] Returning %d articles", len(articles)))
	return articles
}

// NewsSearchTool exposes hybrid retrieval as search_news.
func NewsSearchTool(retriever *retrieval.HybridRetriever) Tool {
	return Tool{
		Def: llm.ToolDef{
			Name:        "search_news",
			Description: "Search the ingested news corpus for articles matching a query, optionally filtered to specific tickers. Returns titles, excerpts, publishers and dates.",
			InputSchema: llm.ObjectSchema(map[string]llm.ParamDef{
				"query":   {Type: "string", Description: "Free-text search query"},
				"k":       {Type: "integer", Description: "Number of articles to return (default 5)"},
				"tickers": {Type: "array", Description: "Restrict results to these ticker symbols", Items: &llm.ParamDef{Type: "string"}},
			}, "query"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args searchNewsArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("generation: bad search_news arguments: %w", err)
			}
			articles := SearchNews(ctx, retriever, args.Query, args.K, args.Tickers)
			return marshalResult(articles)
		},
	}
}

// =============================================================================
// Market data tools
// =============================================================================

type tickerArgs struct {
	Ticker string `json:"ticker"`
}

type tickerPeriodArgs struct {
	Ticker string `json:"ticker"`
	Period string `json:"period"`
}

type windowArgs struct {
	Ticker string `json:"ticker"`
	Window int    `json:"window"`
}

type compareArgs struct {
	Tickers []string `json:"tickers"`
	Metric  string   `json:"metric"`
	Period  string   `json:"period"`
	N       int      `json:"n"`
}

type returnsArgs struct {
	Ticker    string `json:"ticker"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

var periodEnum = []any{"1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "10y", "ytd", "max"}

func tickerSchema() llm.ToolSchema {
	return llm.ObjectSchema(map[string]llm.ParamDef{
		"ticker": {Type: "string", Description: "Stock ticker symbol, e.g. AAPL"},
	}, "ticker")
}

// PriceTool exposes a current quote as get_price, with boundary markers.
func PriceTool(market *marketdata.Service) Tool {
	return Tool{
		Def: llm.ToolDef{
			Name:        "get_price",
			Description: "Get the current price snapshot for a stock: price, previous close, day range, volume.",
			InputSchema: tickerSchema(),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args tickerArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("generation: bad get_price arguments: %w", err)
			}
			slog.Debug(fmt.Sprintf("[BOUNDARY: Generation→MarketData] Fetching price for ticker: %s", args.Ticker))
			snap := market.GetPrice(ctx, args.Ticker)
			if snap == nil {
				slog.Debug(fmt.Sprintf("[BOUNDARY: MarketData→Generation] No price data for %s", args.Ticker))
				return "", fmt.Errorf("no price data for %s", args.Ticker)
			}
			if snap.CurrentPrice != nil {
				slog.Debug(fmt.Sprintf("[BOUNDARY: MarketData→Generation] Price for %s: $%.2f", snap.Ticker, *snap.CurrentPrice))
			}
			return marshalResult(snap)
		},
	}
}

// FundamentalsTool exposes company metrics as get_fundamentals.
func FundamentalsTool(market *marketdata.Service) Tool {
	return Tool{
		Def: llm.ToolDef{
			Name:        "get_fundamentals",
			Description: "Get company fundamentals: market cap, sector, industry, moving averages, 52-week range.",
			InputSchema: tickerSchema(),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args tickerArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("generation: bad get_fundamentals arguments: %w", err)
			}
			return marshalOrAbsent(market.GetFundamentals(ctx, args.Ticker))
		},
	}
}

// HistoryTool exposes daily bars as get_history.
func HistoryTool(market *marketdata.Service) Tool {
	return Tool{
		Def: llm.ToolDef{
			Name:        "get_history",
			Description: "Get daily OHLCV price history for a stock over a period.",
			InputSchema: llm.ObjectSchema(map[string]llm.ParamDef{
				"ticker": {Type: "string", Description: "Stock ticker symbol"},
				"period": {Type: "string", Description: "History period", Enum: periodEnum},
			}, "ticker", "period"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args tickerPeriodArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("generation: bad get_history arguments: %w", err)
			}
			return marshalOrAbsent(market.GetHistory(ctx, args.Ticker, args.Period))
		},
	}
}

// PriceChangeTool exposes period deltas as price_change.
func PriceChangeTool(market *marketdata.Service) Tool {
	return Tool{
		Def: llm.ToolDef{
			Name:        "price_change",
			Description: "Get the price change (amount and percent) for a stock over a period.",
			InputSchema: llm.ObjectSchema(map[string]llm.ParamDef{
				"ticker": {Type: "string", Description: "Stock ticker symbol"},
				"period": {Type: "string", Description: "Change period", Enum: periodEnum},
			}, "ticker", "period"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args tickerPeriodArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("generation: bad price_change arguments: %w", err)
			}
			if args.Period == "" {
				args.Period = "1d"
			}
			return marshalOrAbsent(market.PriceChange(ctx, args.Ticker, args.Period))
		},
	}
}

// CompareTool exposes cross-stock ranking as compare_performance.
func CompareTool(market *marketdata.Service) Tool {
	return Tool{
		Def: llm.ToolDef{
			Name:        "compare_performance",
			Description: "Compare multiple stocks by a metric (price_change_percent, price_change_amount, current_price, volume), best first.",
			InputSchema: llm.ObjectSchema(map[string]llm.ParamDef{
				"tickers": {Type: "array", Description: "Ticker symbols to compare", Items: &llm.ParamDef{Type: "string"}},
				"metric":  {Type: "string", Description: "Comparison metric (default price_change_percent)"},
				"period":  {Type: "string", Description: "Comparison period (default 1d)", Enum: periodEnum},
			}, "tickers"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args compareArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("generation: bad compare_performance arguments: %w", err)
			}
			return marshalOrAbsent(market.ComparePerformance(ctx, args.Tickers, args.Metric, args.Period))
		},
	}
}

// TopPerformersTool exposes the top-n cut as top_performers.
func TopPerformersTool(market *marketdata.Service) Tool {
	return Tool{
		Def: llm.ToolDef{
			Name:        "top_performers",
			Description: "Find the top N stocks from a list by a performance metric.",
			InputSchema: llm.ObjectSchema(map[string]llm.ParamDef{
				"tickers": {Type: "array", Description: "Candidate ticker symbols", Items: &llm.ParamDef{Type: "string"}},
				"metric":  {Type: "string", Description: "Ranking metric (default price_change_percent)"},
				"period":  {Type: "string", Description: "Ranking period (default 1d)", Enum: periodEnum},
				"n":       {Type: "integer", Description: "Number of stocks to return (default 5)"},
			}, "tickers"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args compareArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("generation: bad top_performers arguments: %w", err)
			}
			if args.N <= 0 {
				args.N = 5
			}
			rows := market.TopPerformers(ctx, args.Tickers, args.Metric, args.Period, args.N)
			if len(rows) == 0 {
				return "", fmt.Errorf("no performance data")
			}
			return marshalResult(rows)
		},
	}
}

// ReturnsTool exposes date-range returns as calculate_returns.
func ReturnsTool(market *marketdata.Service) Tool {
	return Tool{
		Def: llm.ToolDef{
			Name:        "calculate_returns",
			Description: "Calculate the percent return for a stock between two dates (YYYY-MM-DD).",
			InputSchema: llm.ObjectSchema(map[string]llm.ParamDef{
				"ticker":     {Type: "string", Description: "Stock ticker symbol"},
				"start_date": {Type: "string", Description: "Start date, YYYY-MM-DD"},
				"end_date":   {Type: "string", Description: "End date, YYYY-MM-DD"},
			}, "ticker", "start_date", "end_date"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args returnsArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("generation: bad calculate_returns arguments: %w", err)
			}
			ret := market.Returns(ctx, args.Ticker, args.StartDate, args.EndDate)
			if ret == nil {
				return "", fmt.Errorf("no return data")
			}
			return marshalResult(map[string]any{"ticker": strings.ToUpper(args.Ticker), "return_percent": *ret})
		},
	}
}

// indicatorTool builds one of the window-parameterized indicator tools.
func indicatorTool(name, description string, run func(ctx context.Context, ticker string, window int) *marketdata.TechnicalReading) Tool {
	return Tool{
		Def: llm.ToolDef{
			Name:        name,
			Description: description,
			InputSchema: llm.ObjectSchema(map[string]llm.ParamDef{
				"ticker": {Type: "string", Description: "Stock ticker symbol"},
				"window": {Type: "integer", Description: "Lookback window in trading days"},
			}, "ticker"),
		},
		Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args windowArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("generation: bad %s arguments: %w", name, err)
			}
			return marshalOrAbsent(run(ctx, args.Ticker, args.Window))
		},
	}
}

// IndicatorTools builds the technical-indicator tool set for the market
// specialist.
func IndicatorTools(market *marketdata.Service) []Tool {
	return []Tool{
		indicatorTool("calculate_sma", "Calculate the simple moving average over a window (default 50 days).", market.SMA),
		indicatorTool("calculate_ema", "Calculate the exponential moving average over a window (default 50 days).", market.EMA),
		indicatorTool("calculate_rsi", "Calculate the relative strength index, 0-100 (default 14-day period).", func(ctx context.Context, ticker string, window int) *marketdata.TechnicalReading {
			if window <= 0 {
				window = 14
			}
			return market.RSI(ctx, ticker, window)
		}),
		{
			Def: llm.ToolDef{
				Name:        "calculate_macd",
				Description: "Calculate the MACD value (12-day EMA minus 26-day EMA).",
				InputSchema: tickerSchema(),
			},
			Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args tickerArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return "", fmt.Errorf("generation: bad calculate_macd arguments: %w", err)
				}
				return marshalOrAbsent(market.MACD(ctx, args.Ticker))
			},
		},
		{
			Def: llm.ToolDef{
				Name:        "detect_golden_cross",
				Description: "Detect whether the 50-day moving average just crossed above the 200-day moving average.",
				InputSchema: tickerSchema(),
			},
			Handler: func(ctx context.Context, raw json.RawMessage) (string, error) {
				var args tickerArgs
				if err := json.Unmarshal(raw, &args); err != nil {
					return "", fmt.Errorf("generation: bad detect_golden_cross arguments: %w", err)
				}
				crossed := market.GoldenCross(ctx, args.Ticker)
				if crossed == nil {
					return "", fmt.Errorf("insufficient history")
				}
				return marshalResult(map[string]any{"ticker": strings.ToUpper(args.Ticker), "golden_cross": *crossed})
			},
		},
	}
}

// =============================================================================
// Documentation tool
// =============================================================================

type docArgs struct {
	Section string `json:"section"`
}

// docSectionMarkers maps a requested section to the README headings that
// may introduce it.
var docSectionMarkers = map[string][]string{
	"setup":        {"## Setup", "## Installation", "## Getting Started"},
	"api":          {"## API", "## Endpoints", "## Usage"},
	"evaluation":   {"## Evaluation", "## Testing", "## Metrics"},
	"architecture": {"## Architecture", "## Design", "## Structure"},
}

// DocumentationTool serves README sections to the generalist so setup and
// capability questions never touch the specialists.
func DocumentationTool(readmePath string) Tool {
	return Tool{
		Def: llm.ToolDef{
			Name:        "get_documentation",
			Description: "Retrieve ENTROPY's documentation, optionally a single section: setup, api, evaluation, or architecture.",
			InputSchema: llm.ObjectSchema(map[string]llm.ParamDef{
				"section": {Type: "string", Description: "Documentation section", Enum: []any{"setup", "api", "evaluation", "architecture"}},
			}),
		},
		Handler: func(_ context.Context, raw json.RawMessage) (string, error) {
			var args docArgs
			if err := json.Unmarshal(raw, &args); err != nil {
				return "", fmt.Errorf("generation: bad get_documentation arguments: %w", err)
			}

			content, err := os.ReadFile(readmePath)
			if err != nil {
				return "", fmt.Errorf("generation: documentation not available: %w", err)
			}
			text := string(content)

			if args.Section == "" {
				return text, nil
			}
			for _, marker := range docSectionMarkers[strings.ToLower(args.Section)] {
				start := strings.Index(text, marker)
				if start < 0 {
					continue
				}
				rest := text[start:]
				if end := strings.Index(rest[len(marker):], "\n## "); end >= 0 {
					rest = rest[:len(marker)+end]
				}
				return rest, nil
			}
			return fmt.Sprintf("Section %q not found. Available: setup, api, evaluation, architecture", args.Section), nil
		},
	}
}

// =============================================================================
// Per-agent belts
// =============================================================================

// GeneralistBelt is the cheap-path tool set: news search, price,
// fundamentals, documentation.
func GeneralistBelt(retriever *retrieval.HybridRetriever, market *marketdata.Service, readmePath string) *ToolBelt {
	return NewToolBelt(
		NewsSearchTool(retriever),
		PriceTool(market),
		FundamentalsTool(market),
		DocumentationTool(readmePath),
	)
}

// MarketSpecialistBelt is the full market-data and indicator tool set.
func MarketSpecialistBelt(market *marketdata.Service) *ToolBelt {
	tools := []Tool{
		PriceTool(market),
		FundamentalsTool(market),
		HistoryTool(market),
		PriceChangeTool(market),
		CompareTool(market),
		TopPerformersTool(market),
		ReturnsTool(market),
	}
	tools = append(tools, IndicatorTools(market)...)
	return NewToolBelt(tools...)
}

// NewsSpecialistBelt is hybrid retrieval only, with its filter surface.
func NewsSpecialistBelt(retriever *retrieval.HybridRetriever) *ToolBelt {
	return NewToolBelt(NewsSearchTool(retriever))
}

// marshalResult JSON-encodes a tool result for the model.
func marshalResult(v any) (string, error) {
	out, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("generation: marshaling tool result: %w", err)
	}
	return string(out), nil
}

// marshalOrAbsent converts a typed-or-nil market result into JSON or an
// absence error. The belt turns the error into a no-data result.
func marshalOrAbsent[T any](v *T) (string, error) {
	if v == nil {
		return "", fmt.Errorf("no data")
	}
	return marshalResult(v)
}
