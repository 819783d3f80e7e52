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
	"sync"
	"time"
)

// Turn roles.
const (
	TurnUser  = "user"
	TurnAgent = "agent"
	TurnTool  = "tool"
)

// briefResponseWordLimit is the token-ish threshold below which a response
// counts as "brief" in the profile. The policy's pre-fetch rules key on it.
const briefResponseWordLimit = 40

// profileDecisionWindow is how many recent query classifications the
// profile retains.
const profileDecisionWindow = 5

// Turn is one append-only entry in a session's conversation log.
type Turn struct {
	Role      string
	Content   string
	Timestamp time.Time
	CostUSD   float64
	TokensIn  int
	TokensOut int

	// Tool holds the structured record for tool turns; nil otherwise.
	Tool *ToolTurn
}

// Profile is the rolling per-session aggregate the routing policy reads.
type Profile struct {
	QueryCount        int
	RecentDecisions   []string // last N classification reasons, oldest first
	LastResponseBrief bool
	LastDissatisfied  bool
}

// Session is one user thread: ordered turns plus the profile.
type Session struct {
	ID      string
	Turns   []Turn
	Profile Profile
}

// SessionView is an immutable snapshot handed to the pure policy function.
type SessionView struct {
	ID      string
	Turns   []Turn
	Profile Profile
}

// SessionStore is the process-wide session map.
//
// # Description
//
// Create-on-first-use; sessions are never evicted in-process (they are
// small and short-lived, and persistence across restarts is explicitly out
// of scope). Turn timestamps are strictly monotonic per session: a clock
// regression is clamped to the predecessor's timestamp.
//
// # Thread Safety
//
// All access is guarded by a single mutex.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session

	// now is swappable for timestamp tests.
	now func() time.Time
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

func (s *SessionStore) getOrCreateLocked(id string) *Session {
	sess, ok := s.sessions[id]
	if !ok {
		sess = &Session{ID: id}
		s.sessions[id] = sess
	}
	return sess
}

// AppendTurn appends a turn, clamping its timestamp so the per-session
// sequence never regresses.
func (s *SessionStore) AppendTurn(sessionID string, t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now()
	}
	if n := len(sess.Turns); n > 0 && t.Timestamp.Before(sess.Turns[n-1].Timestamp) {
		t.Timestamp = sess.Turns[n-1].Timestamp
	}
	sess.Turns = append(sess.Turns, t)
}

// RecentTurns returns a copy of the last n turns.
func (s *SessionStore) RecentTurns(sessionID string, n int) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	turns := sess.Turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	return append([]Turn(nil), turns...)
}

// Profile returns a copy of the session's rolling profile.
func (s *SessionStore) Profile(sessionID string) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.getOrCreateLocked(sessionID).Profile
	p.RecentDecisions = append([]string(nil), p.RecentDecisions...)
	return p
}

// View returns an immutable snapshot for the policy: all turns plus the
// profile, copied under the lock.
func (s *SessionStore) View(sessionID string) SessionView {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	view := SessionView{
		ID:      sess.ID,
		Turns:   append([]Turn(nil), sess.Turns...),
		Profile: sess.Profile,
	}
	view.Profile.RecentDecisions = append([]string(nil), sess.Profile.RecentDecisions...)
	return view
}

// UpdateProfileAfter folds one completed query into the profile: query
// count, the classification window, the brief-response flag, and the
// dissatisfaction flag for the next classification.
func (s *SessionStore) UpdateProfileAfter(sessionID, query, response string, d Decision) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.getOrCreateLocked(sessionID)
	p := &sess.Profile

	p.QueryCount++
	p.RecentDecisions = append(p.RecentDecisions, d.Reason)
	if len(p.RecentDecisions) > profileDecisionWindow {
		p.RecentDecisions = p.RecentDecisions[len(p.RecentDecisions)-profileDecisionWindow:]
	}
	p.LastResponseBrief = len(strings.Fields(response)) < briefResponseWordLimit
	p.LastDissatisfied = dissatisfactionPattern.MatchString(strings.ToLower(query))
}

// TurnCount reports the number of turns in a session without copying.
func (s *SessionStore) TurnCount(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.getOrCreateLocked(sessionID).Turns)
}
