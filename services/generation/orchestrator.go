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
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/entropy/services/llm"
)

// =============================================================================
// Orchestrator
// =============================================================================

// DefaultSpecialistTimeout bounds how long an immediate query waits for its
// specialist before degrading to the anchor answer.
const DefaultSpecialistTimeout = 30 * time.Second

// conversationWindow is how many recent turns feed the generalist's
// conversation context.
const conversationWindow = 20

// synthesisTemperature fixes the fusion turn low for faithful merging.
const synthesisTemperature = 0.3

// QueryResult is the orchestrator's answer to one query.
type QueryResult struct {
	Response       string  `json:"response"`
	CostUSD        float64 `json:"cost_usd"`
	Agent          string  `json:"agent_used"`
	SessionID      string  `json:"session_id"`
	PrefetchActive bool    `json:"prefetch_active"`
}

// SessionStats is the per-session usage summary served over HTTP.
type SessionStats struct {
	SessionID    string  `json:"session_id"`
	QueryCount   int     `json:"query_count"`
	TurnCount    int     `json:"turn_count"`
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// Orchestrator routes queries across the generalist and the specialist
// pool according to the decision policy.
//
// # Description
//
// Every query is classified against the session snapshot, then follows one
// of three paths: generalist only; generalist anchor in parallel with an
// immediate specialist, fused by a synthesis turn; or generalist answer
// plus a speculative specialist pre-fetch for the predicted follow-up.
// Cached specialist results are consumed before any new submission, which
// is what makes pre-fetched follow-ups feel instant.
//
// # Thread Safety
//
// Safe for concurrent ProcessQuery calls; shared state lives in the
// session store, the pool, and the cost tracker, each internally locked.
type Orchestrator struct {
	generalist  *Agent
	specialists map[SpecialistKind]*Agent
	pool        *SpecialistPool
	sessions    *SessionStore
	costs       *llm.CostTracker
	specTimeout time.Duration
	logger      *slog.Logger
}

// OrchestratorConfig carries the tunables; zero values take defaults.
type OrchestratorConfig struct {
	PoolWorkers       int
	ResultTTL         time.Duration
	SpecialistTimeout time.Duration
}

// NewOrchestrator wires the agents, the pool, and the session store.
func NewOrchestrator(generalist *Agent, specialists map[SpecialistKind]*Agent, cfg OrchestratorConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SpecialistTimeout <= 0 {
		cfg.SpecialistTimeout = DefaultSpecialistTimeout
	}

	o := &Orchestrator{
		generalist:  generalist,
		specialists: specialists,
		sessions:    NewSessionStore(),
		costs:       llm.NewCostTracker(),
		specTimeout: cfg.SpecialistTimeout,
		logger:      logger,
	}
	o.pool = NewSpecialistPool(cfg.PoolWorkers, cfg.ResultTTL, o.runSpecialist)
	return o
}

// Sessions exposes the session store for read-side handlers.
func (o *Orchestrator) Sessions() *SessionStore { return o.sessions }

// Ready reports whether the orchestrator can serve queries.
func (o *Orchestrator) Ready() bool {
	return o.generalist != nil && o.pool != nil
}

// Stats assembles the usage summary for one session.
func (o *Orchestrator) Stats(sessionID string) SessionStats {
	return SessionStats{
		SessionID:    sessionID,
		QueryCount:   o.sessions.Profile(sessionID).QueryCount,
		TurnCount:    o.sessions.TurnCount(sessionID),
		TotalCostUSD: o.costs.SessionTotal(sessionID),
	}
}

// Totals returns cumulative spend and model-call count across sessions.
func (o *Orchestrator) Totals() (costUSD float64, calls int64) {
	return o.costs.Totals()
}

// ProcessQuery runs one query end to end: classify, route, answer, record.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query, sessionID string) QueryResult {
	ctx, span := otel.Tracer("entropy/generation").Start(ctx, "orchestrator.process_query")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", sessionID))

	if strings.TrimSpace(query) == "" {
		queriesTotal.WithLabelValues("empty_query").Inc()
		return QueryResult{Response: clarifyResponse, Agent: "generalist", SessionID: sessionID}
	}

	view := o.sessions.View(sessionID)
	decision := Classify(query, view)
	span.SetAttributes(attribute.String("decision.reason", decision.Reason))
	queriesTotal.WithLabelValues(decision.Reason).Inc()

	o.logger.Info("query classified",
		slog.String("session_id", sessionID),
		slog.String("reason", decision.Reason),
		slog.Int("decision_kind", int(decision.Kind)),
		slog.String("specialist", string(decision.Specialist)))

	o.sessions.AppendTurn(sessionID, Turn{Role: TurnUser, Content: query})

	var result QueryResult
	switch decision.Kind {
	case ImmediateSpecialist:
		result = o.immediatePath(ctx, query, sessionID, view, decision)
	case GeneralistThenPrefetch:
		result = o.prefetchPath(ctx, query, sessionID, view, decision)
	default:
		result = o.generalistPath(ctx, query, sessionID, view, decision)
	}

	o.sessions.UpdateProfileAfter(sessionID, query, result.Response, decision)
	return result
}

// generalistPath answers on the cheap tier alone.
func (o *Orchestrator) generalistPath(ctx context.Context, query, sessionID string, view SessionView, decision Decision) QueryResult {
	run := o.generalist.Run(ctx, o.conversation(view.Turns, query))
	o.recordAgentTurns(sessionID, run)
	o.sessions.AppendTurn(sessionID, Turn{
		Role: TurnAgent, Content: run.Text,
		CostUSD: run.CostUSD, TokensIn: run.TokensIn, TokensOut: run.TokensOut,
	})
	o.costs.Record(sessionID, run.CostUSD)
	return QueryResult{
		Response:  run.Text,
		CostUSD:   run.CostUSD,
		Agent:     "generalist",
		SessionID: sessionID,
	}
}

// prefetchPath answers with the generalist and speculatively warms the
// pool for the predicted follow-up. When a prior pre-fetch already
// produced a result for this task, the query is upgraded in place: the
// cached specialist output is synthesized into the response instead of a
// plain generalist answer, which is what makes predicted follow-ups feel
// instant. The pre-fetch cost is tracked against the session but never
// billed to a response that didn't consume it.
func (o *Orchestrator) prefetchPath(ctx context.Context, query, sessionID string, view SessionView, decision Decision) QueryResult {
	task := BuildTask(decision.Specialist, query, sessionID, view.Turns)

	if cached, ok := o.pool.TryGet(task.Fingerprint()); ok {
		o.logger.Info("pre-fetched specialist consumed",
			slog.String("session_id", sessionID),
			slog.String("specialist", string(cached.Kind)))
		return o.synthesize(ctx, query, sessionID, "", cached, 0, decision)
	}

	result := o.generalistPath(ctx, query, sessionID, view, decision)

	if decision.ShouldPrefetch() {
		if _, err := o.pool.Submit(task, true); err != nil {
			o.logger.Warn("pre-fetch submit rejected", slog.String("error", err.Error()))
		} else {
			result.PrefetchActive = true
			o.logger.Info("pre-fetch scheduled",
				slog.String("session_id", sessionID),
				slog.String("specialist", string(decision.Specialist)),
				slog.Float64("confidence", decision.Confidence))
		}
	}
	return result
}

// immediatePath runs the specialist now, with the generalist producing an
// anchor answer in parallel, then fuses the two. A cached specialist
// result skips straight to synthesis.
func (o *Orchestrator) immediatePath(ctx context.Context, query, sessionID string, view SessionView, decision Decision) QueryResult {
	task := BuildTask(decision.Specialist, query, sessionID, view.Turns)

	if cached, ok := o.pool.TryGet(task.Fingerprint()); ok {
		o.logger.Info("specialist served from cache",
			slog.String("session_id", sessionID),
			slog.String("specialist", string(decision.Specialist)))
		return o.synthesize(ctx, query, sessionID, "", cached, 0, decision)
	}

	fut, err := o.pool.Submit(task, false)
	if err != nil {
		o.logger.Error("specialist submit failed", slog.String("error", err.Error()))
		return o.generalistPath(ctx, query, sessionID, view, decision)
	}

	// Anchor answer runs while the specialist works.
	anchorAgent := o.generalist.WithSystemSuffix(anchorAddition)
	anchorDone := make(chan *AgentResult, 1)
	go func() {
		anchorDone <- anchorAgent.Run(ctx, o.conversation(view.Turns, query))
	}()

	spec, specErr := fut.Await(ctx, o.specTimeout)
	anchor := <-anchorDone
	o.recordAgentTurns(sessionID, anchor)

	if specErr != nil || spec == nil {
		poolTimeouts.Inc()
		trace.SpanFromContext(ctx).AddEvent("specialist missed deadline",
			trace.WithAttributes(attribute.String("specialist", string(decision.Specialist))))
		o.logger.Warn("specialist missed deadline",
			slog.String("session_id", sessionID),
			slog.String("specialist", string(decision.Specialist)))
		response := anchor.Text + specialistUnavailableNote
		o.sessions.AppendTurn(sessionID, Turn{
			Role: TurnAgent, Content: response,
			CostUSD: anchor.CostUSD, TokensIn: anchor.TokensIn, TokensOut: anchor.TokensOut,
		})
		o.costs.Record(sessionID, anchor.CostUSD)
		return QueryResult{Response: response, CostUSD: anchor.CostUSD, Agent: "generalist", SessionID: sessionID}
	}

	return o.synthesize(ctx, query, sessionID, anchor.Text, spec, anchor.CostUSD, decision)
}

// synthesize fuses the anchor and the specialist output into the final
// response via a tool-free low-temperature turn.
//
// The reported CostUSD covers everything the response consumed (anchor +
// specialist + synthesis). The session tracker only gets the anchor and
// synthesis spend here; specialist runs are recorded by the pool runner
// when they execute, whether or not a response ever consumes them.
func (o *Orchestrator) synthesize(ctx context.Context, query, sessionID, anchorText string, spec *SpecialistResult, anchorCost float64, decision Decision) QueryResult {
	if anchorText == "" {
		anchorText = "(no anchor answer; rely on the specialist analysis)"
	}

	prompt := fmt.Sprintf("Original query: %s\n\nAnchor answer:\n%s\n\nSpecialist analysis:\n%s\n\nProduce the final response.",
		query, anchorText, spec.Content)

	synth := o.generalist.WithoutTools(synthesisTemperature)
	synth.system = synthesisSystemPrompt
	run := synth.Run(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})

	total := anchorCost + spec.CostUSD + run.CostUSD
	o.sessions.AppendTurn(sessionID, Turn{
		Role: TurnAgent, Content: run.Text,
		CostUSD: total, TokensIn: run.TokensIn, TokensOut: run.TokensOut,
	})
	o.costs.Record(sessionID, anchorCost+run.CostUSD)
	return QueryResult{
		Response:  run.Text,
		CostUSD:   total,
		Agent:     "generalist+" + string(spec.Kind),
		SessionID: sessionID,
	}
}

// runSpecialist is the pool's TaskRunner: one specialist agent run over a
// minimal single-use context.
func (o *Orchestrator) runSpecialist(ctx context.Context, task Task) (*SpecialistResult, error) {
	agent, ok := o.specialists[task.Kind]
	if !ok {
		return nil, fmt.Errorf("generation: no specialist registered for kind %q", task.Kind)
	}

	start := time.Now()
	run := agent.Run(ctx, []llm.Message{{
		Role:    llm.RoleUser,
		Content: "Recent conversation:\n" + task.Context + "\n\nTask:\n" + task.Brief,
	}})

	o.costs.Record(task.SessionID, run.CostUSD)
	o.logger.Info("specialist run complete",
		slog.String("kind", string(task.Kind)),
		slog.String("session_id", task.SessionID),
		slog.Float64("cost_usd", run.CostUSD),
		slog.Duration("elapsed", time.Since(start)))

	return &SpecialistResult{
		Kind:      task.Kind,
		Content:   run.Text,
		CostUSD:   run.CostUSD,
		CreatedAt: time.Now(),
	}, nil
}

// recordAgentTurns appends the run's tool turns to the session log. The
// final agent turn is appended by the caller once the response text is
// settled (it may still gain a suffix or be replaced by synthesis).
func (o *Orchestrator) recordAgentTurns(sessionID string, run *AgentResult) {
	for i := range run.ToolTurns {
		tt := run.ToolTurns[i]
		o.sessions.AppendTurn(sessionID, Turn{
			Role:    TurnTool,
			Content: tt.Result,
			Tool:    &tt,
		})
	}
}

// conversation converts the recent session turns plus the current query
// into provider messages.
func (o *Orchestrator) conversation(turns []Turn, query string) []llm.Message {
	start := 0
	if len(turns) > conversationWindow {
		start = len(turns) - conversationWindow
	}

	var messages []llm.Message
	for _, t := range turns[start:] {
		switch t.Role {
		case TurnUser:
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: t.Content})
		case TurnAgent:
			messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: t.Content})
		}
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: query})
	return messages
}

// Shutdown drains the specialist pool.
func (o *Orchestrator) Shutdown(grace time.Duration) {
	o.pool.Shutdown(grace)
}
