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
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// =============================================================================
// Task briefs and fingerprints
// =============================================================================

// coveredTickers is the closed symbol universe the service answers for.
var coveredTickers = []string{
	"AAPL", "MSFT", "GOOGL", "NVDA", "META", "AMZN", "JPM", "V", "BRK-B",
	"XOM", "CVX", "JNJ", "UNH", "PG", "KO", "NKE", "BA", "GE", "TSLA", "F",
}

// dollarTickerPattern matches $AAPL-style symbols; bareTickerPattern is
// the looser fallback used by the diagnostic endpoint.
var (
	dollarTickerPattern = regexp.MustCompile(`\$([A-Z]{1,5})\b`)
	bareTickerPattern   = regexp.MustCompile(`\b([A-Z]{2,5})\b`)
)

// Task is the unit of work handed to a specialist.
type Task struct {
	Kind      SpecialistKind
	Brief     string // focused instruction text for the specialist
	Context   string // formatted last ≤3 turns
	SessionID string
	Tickers   []string
}

// Fingerprint derives the dedupe/cache key: sha256 over the kind, the
// normalized brief, and the session id.
//
// Normalization reduces the brief to its topical anchor — the sorted
// ticker set when one was resolved — so a follow-up phrased differently
// ("What moved TSLA today?" then "Why did it move?") lands on the same
// fingerprint and is served from the pre-fetch cache.
func (t Task) Fingerprint() string {
	anchor := strings.Join(t.Tickers, ",")
	if anchor == "" {
		anchor = normalizeBrief(t.Brief)
	}
	sum := sha256.Sum256([]byte(string(t.Kind) + "|" + anchor + "|" + t.SessionID))
	return hex.EncodeToString(sum[:])
}

// normalizeBrief lowercases and collapses whitespace.
func normalizeBrief(brief string) string {
	return strings.Join(strings.Fields(strings.ToLower(brief)), " ")
}

// ExtractTickers finds covered symbols in the query, falling back to the
// most recent turns when the query names none (pronoun follow-ups).
func ExtractTickers(query string, turns []Turn) []string {
	found := tickersIn(strings.ToUpper(query))
	if len(found) == 0 {
		var recent []string
		for i := len(turns) - 1; i >= 0 && len(recent) < 3; i-- {
			if turns[i].Role == TurnUser || turns[i].Role == TurnAgent {
				recent = append(recent, strings.ToUpper(turns[i].Content))
			}
		}
		found = tickersIn(strings.Join(recent, " "))
	}
	sort.Strings(found)
	return found
}

// tickersIn matches whole tokens only, so single-letter symbols like V
// and F do not fire inside longer words.
func tickersIn(upper string) []string {
	tokens := map[string]bool{}
	for _, tok := range strings.FieldsFunc(upper, func(r rune) bool {
		return !(r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-')
	}) {
		tokens[tok] = true
	}
	var found []string
	for _, t := range coveredTickers {
		if tokens[t] {
			found = append(found, t)
		}
	}
	return found
}

// ExtractFirstTicker resolves a single symbol from free text: $AAPL first,
// then any bare 2-5 letter uppercase word that is a covered symbol, then
// any bare match at all. Used by the diagnostic endpoint.
func ExtractFirstTicker(query string) string {
	upper := strings.ToUpper(query)
	if m := dollarTickerPattern.FindStringSubmatch(upper); m != nil {
		return m[1]
	}
	for _, m := range bareTickerPattern.FindAllStringSubmatch(upper, -1) {
		for _, t := range coveredTickers {
			if m[1] == t {
				return t
			}
		}
	}
	if m := bareTickerPattern.FindStringSubmatch(upper); m != nil {
		return m[1]
	}
	return ""
}

// marketRequirementRules and newsFocusRules map query phrasing to brief
// bullets. Like the classification patterns, they are deliberately
// enumerated in one place.
var marketRequirementRules = []struct {
	pattern *regexp.Regexp
	bullet  string
}{
	{regexp.MustCompile(`(?i)\b(price|trading at|current)\b`), "- Current price and price changes"},
	{regexp.MustCompile(`(?i)\b(technical|indicator|rsi|macd|moving average)\b`), "- Technical indicators (RSI, MACD, moving averages)"},
	{regexp.MustCompile(`(?i)\b(compare|vs\.?|versus|compared to)\b`), "- Cross-stock comparison analysis"},
	{regexp.MustCompile(`(?i)\b(momentum|trend|direction)\b`), "- Momentum and trend analysis"},
	{regexp.MustCompile(`(?i)\b(fundamental|valuation|metrics)\b`), "- Fundamental metrics and valuation"},
}

var newsFocusRules = []struct {
	pattern *regexp.Regexp
	bullet  string
}{
	{regexp.MustCompile(`(?i)\b(recent|latest|today|this week)\b`), "- Focus on most recent articles"},
	{regexp.MustCompile(`(?i)\b(sentiment|mood|perception)\b`), "- Analyze market sentiment and tone"},
	{regexp.MustCompile(`(?i)\b(moved?|caused?|driven|impact)\b`), "- Identify price-moving events and catalysts"},
	{regexp.MustCompile(`(?i)\b(earnings|results|report)\b`), "- Focus on earnings and financial results"},
}

// BuildTask constructs a focused specialist brief from the query, the
// session's recent context, and per-kind requirement bullets.
func BuildTask(kind SpecialistKind, query, sessionID string, turns []Turn) Task {
	tickers := ExtractTickers(query, turns)
	tickerLine := "Determine from query"
	if len(tickers) > 0 {
		tickerLine = strings.Join(tickers, ", ")
	}

	var brief string
	switch kind {
	case KindMarket:
		brief = fmt.Sprintf(`Analyze: %s

Ticker(s): %s

Requirements:
%s

Provide comprehensive technical and fundamental analysis using all available market data tools.`,
			query, tickerLine, bulletize(query, marketRequirementRules, "- Comprehensive analysis based on query"))

	case KindNews:
		brief = fmt.Sprintf(`News analysis: %s

Ticker(s): %s

Search focus:
%s

Use hybrid retrieval to find relevant articles and synthesize a comprehensive narrative.`,
			query, tickerLine, bulletize(query, newsFocusRules, "- Comprehensive news coverage and synthesis"))

	default:
		brief = "Analyze: " + query
	}

	return Task{
		Kind:      kind,
		Brief:     brief,
		Context:   RecentContext(turns, 3),
		SessionID: sessionID,
		Tickers:   tickers,
	}
}

func bulletize(query string, rules []struct {
	pattern *regexp.Regexp
	bullet  string
}, fallback string) string {
	var bullets []string
	for _, r := range rules {
		if r.pattern.MatchString(query) {
			bullets = append(bullets, r.bullet)
		}
	}
	if len(bullets) == 0 {
		bullets = append(bullets, fallback)
	}
	return strings.Join(bullets, "\n")
}

// RecentContext formats the last maxTurns user/agent exchanges for a
// specialist's minimal context window, truncating long contents.
func RecentContext(turns []Turn, maxTurns int) string {
	if len(turns) == 0 {
		return "No prior conversation"
	}

	var kept []Turn
	for i := len(turns) - 1; i >= 0 && len(kept) < maxTurns*2; i-- {
		if turns[i].Role == TurnUser || turns[i].Role == TurnAgent {
			kept = append(kept, turns[i])
		}
	}
	if len(kept) == 0 {
		return "No prior conversation"
	}

	lines := make([]string, 0, len(kept))
	for i := len(kept) - 1; i >= 0; i-- {
		content := kept[i].Content
		if len(content) > 300 {
			content = content[:300] + "..."
		}
		role := "User"
		if kept[i].Role == TurnAgent {
			role = "Assistant"
		}
		lines = append(lines, role+": "+content)
	}
	return strings.Join(lines, "\n")
}
