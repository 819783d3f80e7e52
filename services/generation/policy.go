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
	"regexp"
	"strings"
)

// =============================================================================
// Decision Policy
// =============================================================================

// SpecialistKind identifies a specialist agent tier. The values double as
// the agent-tag suffix ("generalist+market_data", "generalist+news").
type SpecialistKind string

const (
	KindMarket SpecialistKind = "market_data"
	KindNews   SpecialistKind = "news"
)

// DecisionKind is the routing outcome class.
type DecisionKind int

const (
	// GeneralistOnly routes to the cheap path with no background work.
	GeneralistOnly DecisionKind = iota

	// ImmediateSpecialist runs a specialist now and synthesizes its output
	// into the response.
	ImmediateSpecialist

	// GeneralistThenPrefetch answers on the cheap path and speculatively
	// submits a specialist for the likely follow-up.
	GeneralistThenPrefetch
)

// prefetchMinConfidence gates background work: only predictions at or
// above this confidence schedule a pre-fetch.
const prefetchMinConfidence = 0.80

// powerUserThreshold is the query count after which a session counts as a
// power user for the analytical and news rules.
const powerUserThreshold = 10

// Decision is the policy verdict for one query.
type Decision struct {
	Kind       DecisionKind
	Specialist SpecialistKind
	Reason     string
	Confidence float64 // pre-fetch confidence; zero for non-prefetch kinds
}

// AgentTag renders the response agent label for this decision once a
// specialist's output was actually surfaced.
func (d Decision) AgentTag() string {
	switch d.Kind {
	case ImmediateSpecialist:
		return "generalist+" + string(d.Specialist)
	default:
		return "generalist"
	}
}

// Classification patterns. These are part of the routing contract — tests
// depend on them — so they live here in one place and nowhere else. All
// matching is case-insensitive against the raw query.
var (
	// Rule 1: technical jargon routes straight to the market specialist.
	technicalJargonPattern = regexp.MustCompile(`(?i)\b(rsi|macd|moving averages?|golden cross|death cross|ema|sma|bollinger|support|resistance|technical indicators?|momentum|oscillator|overbought|oversold)\b`)

	// Rule 2: explicit depth requests.
	depthRequestPattern = regexp.MustCompile(`(?i)\b(detailed analysis|comprehensive report|in.?depth|dive deeper|deep dive)\b`)

	// depthNewsPattern picks the news specialist for a depth request whose
	// phrasing leans on news language.
	depthNewsPattern = regexp.MustCompile(`(?i)\b(news|articles?|sentiment|narrative)\b`)

	// Rule 3: dissatisfaction follow-ups.
	dissatisfactionPattern = regexp.MustCompile(`(?i)(\bnot enough detail\b|\bnot enough\b|\btell me more\b|\belaborate\b|\bmore details?\b|^\s*why\??\s*$|\bwhy\?)`)

	// Rule 4: power-user analytical queries.
	analyticalPattern = regexp.MustCompile(`(?i)\b(compare|versus|vs\.?|top|best|worst|performance)\b`)

	// Rule 5: "what moved X" pre-fetch trigger.
	whatMovedPattern = regexp.MustCompile(`(?i)(what moved|why did .* move|what happened to)`)

	// Rule 6: follow-up phrasing, two-in-a-row triggers a market pre-fetch.
	followupPattern = regexp.MustCompile(`(?i)(\bwhy\b|\bhow\b|\bwhat about\b|\btell me\b|\bmore\b|\?)`)

	// Rule 7: power-user news queries.
	newsQueryPattern = regexp.MustCompile(`(?i)\b(news|latest|recent|update)\b`)
)

// Classify applies the ordered rule list to one query and session
// snapshot. Pure and deterministic: the same (query, view) pair always
// yields the same Decision.
//
// # Description
//
// Rules are evaluated in order; the first match wins:
//
//  1. technical jargon              → immediate market specialist
//  2. explicit depth request        → immediate specialist (news when the
//     phrasing leans on news, else market)
//  3. dissatisfaction follow-up     → immediate specialist on the prior
//     turn's topic
//  4. power-user analytical query   → immediate market specialist
//  5. "what moved X"                → generalist + news pre-fetch (0.85)
//  6. repeated follow-up pattern    → generalist + market pre-fetch (0.80)
//  7. power-user news query         → generalist + news pre-fetch (0.80)
//  8. otherwise                     → generalist only
func Classify(query string, view SessionView) Decision {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return Decision{Kind: GeneralistOnly, Reason: "empty_query"}
	}

	// Rule 1: technical jargon.
	if technicalJargonPattern.MatchString(trimmed) {
		return Decision{Kind: ImmediateSpecialist, Specialist: KindMarket, Reason: "technical_jargon"}
	}

	// Rule 2: explicit depth request.
	if depthRequestPattern.MatchString(trimmed) {
		kind := KindMarket
		if lastAgentTurnMentionsNews(view.Turns) || depthNewsPattern.MatchString(trimmed) {
			kind = KindNews
		}
		return Decision{Kind: ImmediateSpecialist, Specialist: kind, Reason: "depth_request"}
	}

	// Rule 3: dissatisfaction follow-up. Requires a previous user turn.
	if hasPriorUserTurn(view.Turns) && dissatisfactionPattern.MatchString(trimmed) {
		return Decision{Kind: ImmediateSpecialist, Specialist: priorTopic(view.Turns), Reason: "dissatisfaction"}
	}

	// Rule 4: power-user analytical.
	if view.Profile.QueryCount >= powerUserThreshold && analyticalPattern.MatchString(trimmed) {
		return Decision{Kind: ImmediateSpecialist, Specialist: KindMarket, Reason: "power_user_analytical"}
	}

	// Rule 5: "what moved X" pre-fetch.
	if whatMovedPattern.MatchString(trimmed) {
		return Decision{Kind: GeneralistThenPrefetch, Specialist: KindNews, Reason: "what_moved_pattern", Confidence: 0.85}
	}

	// Rule 6: two consecutive follow-up-shaped user turns.
	if lastTwoUserTurnsAreFollowups(view.Turns, trimmed) {
		return Decision{Kind: GeneralistThenPrefetch, Specialist: KindMarket, Reason: "followup_pattern", Confidence: 0.80}
	}

	// Rule 7: power-user news query.
	if view.Profile.QueryCount >= powerUserThreshold && newsQueryPattern.MatchString(trimmed) {
		return Decision{Kind: GeneralistThenPrefetch, Specialist: KindNews, Reason: "power_user_news", Confidence: 0.80}
	}

	return Decision{Kind: GeneralistOnly, Reason: "generalist_sufficient"}
}

// ShouldPrefetch reports whether this decision schedules background work.
func (d Decision) ShouldPrefetch() bool {
	return d.Kind == GeneralistThenPrefetch && d.Confidence >= prefetchMinConfidence
}

func hasPriorUserTurn(turns []Turn) bool {
	for _, t := range turns {
		if t.Role == TurnUser {
			return true
		}
	}
	return false
}

// lastAgentTurnMentionsNews reports whether the most recent exchange
// (everything since the last user turn) invoked search_news or produced
// an answer that reads like news.
func lastAgentTurnMentionsNews(turns []Turn) bool {
	for i := len(turns) - 1; i >= 0; i-- {
		switch turns[i].Role {
		case TurnUser:
			return false
		case TurnTool:
			if turns[i].Tool != nil && turns[i].Tool.Name == "search_news" {
				return true
			}
		case TurnAgent:
			if depthNewsPattern.MatchString(turns[i].Content) {
				return true
			}
		}
	}
	return false
}

// priorTopic resolves the dissatisfaction target from the prior turns: a
// generalist turn that invoked search_news anchors to news, a market tool
// anchors to market, and no topical anchor defaults to news.
func priorTopic(turns []Turn) SpecialistKind {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != TurnTool || turns[i].Tool == nil {
			continue
		}
		switch turns[i].Tool.Name {
		case "search_news":
			return KindNews
		case "get_price", "get_fundamentals", "get_history", "price_change",
			"compare_performance", "top_performers", "calculate_returns":
			return KindMarket
		}
	}
	return KindNews
}

// lastTwoUserTurnsAreFollowups checks the current query plus the most
// recent prior user turn for follow-up phrasing.
func lastTwoUserTurnsAreFollowups(turns []Turn, current string) bool {
	if !followupPattern.MatchString(current) {
		return false
	}
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == TurnUser {
			return followupPattern.MatchString(turns[i].Content)
		}
	}
	return false
}
