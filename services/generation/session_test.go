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
	"strings"
	"testing"
	"time"
)

func TestAppendTurnMonotonicTimestamps(t *testing.T) {
	store := NewSessionStore()

	// Drive the clock backwards between appends.
	base := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	clock := []time.Time{base, base.Add(-time.Minute), base.Add(time.Second)}
	var i int
	store.now = func() time.Time {
		ts := clock[i]
		i++
		return ts
	}

	store.AppendTurn("s", Turn{Role: TurnUser, Content: "one"})
	store.AppendTurn("s", Turn{Role: TurnAgent, Content: "two"}) // clock regressed
	store.AppendTurn("s", Turn{Role: TurnUser, Content: "three"})

	turns := store.RecentTurns("s", 0)
	if len(turns) != 3 {
		t.Fatalf("turns = %d", len(turns))
	}
	if !turns[1].Timestamp.Equal(base) {
		t.Errorf("regressed timestamp not clamped: %v", turns[1].Timestamp)
	}
	for j := 1; j < len(turns); j++ {
		if turns[j].Timestamp.Before(turns[j-1].Timestamp) {
			t.Errorf("timestamps regress at %d: %v < %v", j, turns[j].Timestamp, turns[j-1].Timestamp)
		}
	}
}

func TestRecentTurnsCopiesAndCuts(t *testing.T) {
	store := NewSessionStore()
	for i := 0; i < 5; i++ {
		store.AppendTurn("s", userTurn("q"))
	}

	turns := store.RecentTurns("s", 2)
	if len(turns) != 2 {
		t.Fatalf("turns = %d, want 2", len(turns))
	}

	// Mutating the returned slice must not touch the store.
	turns[0].Content = "mutated"
	if store.RecentTurns("s", 0)[3].Content == "mutated" {
		t.Error("RecentTurns returned shared backing storage")
	}
}

func TestUpdateProfileAfter(t *testing.T) {
	store := NewSessionStore()

	store.UpdateProfileAfter("s", "hello", "a short answer", Decision{Reason: "generalist_sufficient"})
	p := store.Profile("s")
	if p.QueryCount != 1 || !p.LastResponseBrief || p.LastDissatisfied {
		t.Errorf("profile = %+v", p)
	}

	long := strings.Repeat("word ", 60)
	store.UpdateProfileAfter("s", "tell me more", long, Decision{Reason: "dissatisfaction"})
	p = store.Profile("s")
	if p.QueryCount != 2 {
		t.Errorf("query count = %d", p.QueryCount)
	}
	if p.LastResponseBrief {
		t.Error("60-word response flagged as brief")
	}
	if !p.LastDissatisfied {
		t.Error("dissatisfaction phrasing not flagged")
	}
}

func TestProfileDecisionWindow(t *testing.T) {
	store := NewSessionStore()
	reasons := []string{"a", "b", "c", "d", "e", "f", "g"}
	for _, r := range reasons {
		store.UpdateProfileAfter("s", "q", "r", Decision{Reason: r})
	}

	p := store.Profile("s")
	if len(p.RecentDecisions) != profileDecisionWindow {
		t.Fatalf("window = %d, want %d", len(p.RecentDecisions), profileDecisionWindow)
	}
	want := []string{"c", "d", "e", "f", "g"}
	for i, r := range want {
		if p.RecentDecisions[i] != r {
			t.Errorf("decision[%d] = %q, want %q", i, p.RecentDecisions[i], r)
		}
	}
}

func TestViewIsSnapshot(t *testing.T) {
	store := NewSessionStore()
	store.AppendTurn("s", userTurn("first"))
	view := store.View("s")

	store.AppendTurn("s", agentTurn("second"))
	if len(view.Turns) != 1 {
		t.Errorf("view grew after snapshot: %d turns", len(view.Turns))
	}
	if view.ID != "s" {
		t.Errorf("view id = %q", view.ID)
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	store := NewSessionStore()
	store.AppendTurn("a", userTurn("hello"))
	store.UpdateProfileAfter("a", "hello", "hi", Decision{Reason: "generalist_sufficient"})

	if store.TurnCount("b") != 0 {
		t.Error("new session saw another session's turns")
	}
	if store.Profile("b").QueryCount != 0 {
		t.Error("new session saw another session's profile")
	}
}
