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
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTask(kind SpecialistKind, brief string) Task {
	return Task{Kind: kind, Brief: brief, SessionID: "s"}
}

// countingRunner completes instantly and counts invocations.
func countingRunner(calls *atomic.Int32) TaskRunner {
	return func(ctx context.Context, task Task) (*SpecialistResult, error) {
		calls.Add(1)
		return &SpecialistResult{Kind: task.Kind, Content: "result for " + task.Brief, CostUSD: 0.01}, nil
	}
}

// gatedPool starts a single-worker pool whose runner blocks until gate is
// closed (or the pool context is cancelled), recording execution order.
// The returned started channel receives one value per task that begins
// executing.
func gatedPool(t *testing.T, gate chan struct{}) (*SpecialistPool, *[]string, *sync.Mutex, chan string) {
	t.Helper()
	var mu sync.Mutex
	order := &[]string{}
	started := make(chan string, 64)

	runner := func(ctx context.Context, task Task) (*SpecialistResult, error) {
		started <- task.Brief
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		mu.Lock()
		*order = append(*order, task.Brief)
		mu.Unlock()
		return &SpecialistResult{Kind: task.Kind, Content: task.Brief}, nil
	}
	return NewSpecialistPool(1, time.Minute, runner), order, &mu, started
}

func TestPoolCachesResults(t *testing.T) {
	var calls atomic.Int32
	p := NewSpecialistPool(2, time.Minute, countingRunner(&calls))
	defer p.Shutdown(time.Second)

	task := newTask(KindNews, "what moved TSLA")
	fut, err := p.Submit(task, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	res, err := fut.Await(context.Background(), time.Second)
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if res.Content != "result for what moved TSLA" {
		t.Errorf("content = %q", res.Content)
	}
	if res.Fingerprint != task.Fingerprint() {
		t.Error("result not stamped with the task fingerprint")
	}

	// Second submit on the same fingerprint is served from cache.
	fut2, err := p.Submit(task, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res2, ok := fut2.TryGet(); !ok || res2.Content != res.Content {
		t.Error("cached submit should complete immediately with the same result")
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("runner ran %d times, want 1", got)
	}

	if _, ok := p.TryGet(task.Fingerprint()); !ok {
		t.Error("TryGet missed a cached fingerprint")
	}
	if _, ok := p.TryGet("no-such-fingerprint"); ok {
		t.Error("TryGet hit an unknown fingerprint")
	}
}

func TestPoolCoalescesInflight(t *testing.T) {
	gate := make(chan struct{})
	p, _, _, started := gatedPool(t, gate)
	defer p.Shutdown(time.Second)

	task := newTask(KindMarket, "RSI for AAPL")
	fut1, err := p.Submit(task, true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	<-started // runner holds the task now

	fut2, err := p.Submit(task, false)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if fut1 != fut2 {
		t.Error("in-flight submits on one fingerprint should share a Future")
	}

	close(gate)
	res, err := fut2.Await(context.Background(), time.Second)
	if err != nil || res.Content != "RSI for AAPL" {
		t.Fatalf("Await = %v, %v", res, err)
	}
}

func TestPoolImmediatesRunBeforePrefetches(t *testing.T) {
	gate := make(chan struct{})
	p, order, mu, started := gatedPool(t, gate)
	defer p.Shutdown(time.Second)

	// Occupy the single worker.
	blocker, _ := p.Submit(newTask(KindNews, "blocker"), false)
	<-started

	p.Submit(newTask(KindNews, "prefetch-1"), true)
	p.Submit(newTask(KindNews, "prefetch-2"), true)
	imm, _ := p.Submit(newTask(KindMarket, "immediate"), false)

	close(gate)
	if _, err := blocker.Await(context.Background(), time.Second); err != nil {
		t.Fatalf("blocker: %v", err)
	}
	if _, err := imm.Await(context.Background(), time.Second); err != nil {
		t.Fatalf("immediate: %v", err)
	}
	// Drain started signals so the remaining prefetches finish.
	for i := 0; i < 3; i++ {
		<-started
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(*order)
		mu.Unlock()
		if n == 4 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("only %d tasks completed", n)
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if (*order)[0] != "blocker" || (*order)[1] != "immediate" {
		t.Errorf("execution order = %v, want immediate ahead of prefetches", *order)
	}
}

func TestPoolPromotesPrefetchOnImmediateSubmit(t *testing.T) {
	gate := make(chan struct{})
	p, order, mu, started := gatedPool(t, gate)
	defer p.Shutdown(time.Second)

	p.Submit(newTask(KindNews, "blocker"), false)
	<-started

	target := newTask(KindNews, "promoted")
	pre, _ := p.Submit(target, true)
	p.Submit(newTask(KindNews, "other-prefetch"), true)

	// An immediate submit on the queued pre-fetch's fingerprint shares the
	// future and moves it ahead of the other pre-fetch.
	imm, _ := p.Submit(target, false)
	if pre != imm {
		t.Fatal("promotion should coalesce onto the queued future")
	}

	close(gate)
	if _, err := imm.Await(context.Background(), time.Second); err != nil {
		t.Fatalf("promoted task: %v", err)
	}
	for i := 0; i < 2; i++ {
		<-started
	}

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		n := len(*order)
		mu.Unlock()
		if n == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("queue did not drain")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if (*order)[1] != "promoted" {
		t.Errorf("execution order = %v, want promoted ahead of other-prefetch", *order)
	}
}

func TestPoolDropsOldestPrefetchWhenSaturated(t *testing.T) {
	gate := make(chan struct{})
	p, _, _, started := gatedPool(t, gate)
	defer func() {
		close(gate)
		p.Shutdown(time.Second)
	}()

	p.Submit(newTask(KindNews, "blocker"), false)
	<-started

	futures := make([]*Future, 0, maxQueueDepth)
	for i := 0; i < maxQueueDepth; i++ {
		fut, err := p.Submit(newTask(KindNews, fmt.Sprintf("prefetch-%d", i)), true)
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		futures = append(futures, fut)
	}

	// One past the cap reclaims the oldest pre-fetch slot.
	if _, err := p.Submit(newTask(KindNews, "overflow"), true); err != nil {
		t.Fatalf("overflow submit: %v", err)
	}
	if _, err := futures[0].Await(context.Background(), 50*time.Millisecond); err == nil {
		t.Error("oldest pre-fetch should have been dropped")
	}
	if _, err := futures[1].Await(context.Background(), 0); err == nil {
		t.Error("second pre-fetch resolved early; only the oldest should drop")
	}
}

func TestPoolRejectsPrefetchWhenQueueFullOfImmediates(t *testing.T) {
	gate := make(chan struct{})
	p, _, _, started := gatedPool(t, gate)
	defer func() {
		close(gate)
		p.Shutdown(time.Second)
	}()

	p.Submit(newTask(KindNews, "blocker"), false)
	<-started

	for i := 0; i < maxQueueDepth; i++ {
		if _, err := p.Submit(newTask(KindMarket, fmt.Sprintf("immediate-%d", i)), false); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}

	// No droppable pre-fetch in the queue: the speculative task loses.
	fut, err := p.Submit(newTask(KindNews, "speculative"), true)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if _, err := fut.Await(context.Background(), 50*time.Millisecond); err == nil {
		t.Error("speculative submit should have been rejected")
	}

	// Immediates are never dropped even past the cap.
	if _, err := p.Submit(newTask(KindMarket, "immediate-extra"), false); err != nil {
		t.Errorf("immediate past cap: %v", err)
	}
}

func TestPoolResultTTLExpires(t *testing.T) {
	var calls atomic.Int32
	p := NewSpecialistPool(1, 50*time.Millisecond, countingRunner(&calls))
	defer p.Shutdown(time.Second)

	task := newTask(KindNews, "ephemeral")
	fut, _ := p.Submit(task, false)
	if _, err := fut.Await(context.Background(), time.Second); err != nil {
		t.Fatalf("Await: %v", err)
	}
	if _, ok := p.TryGet(task.Fingerprint()); !ok {
		t.Fatal("fresh result missing from cache")
	}

	time.Sleep(150 * time.Millisecond)
	if _, ok := p.TryGet(task.Fingerprint()); ok {
		t.Error("expired result still served")
	}

	fut, _ = p.Submit(task, false)
	if _, err := fut.Await(context.Background(), time.Second); err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if got := calls.Load(); got != 2 {
		t.Errorf("runner ran %d times, want 2 after expiry", got)
	}
}

func TestPoolShutdown(t *testing.T) {
	gate := make(chan struct{})
	p, _, _, started := gatedPool(t, gate)

	p.Submit(newTask(KindNews, "blocker"), false)
	<-started
	queued, _ := p.Submit(newTask(KindNews, "queued"), true)

	// Short grace: the blocker only unblocks when its context is cancelled.
	p.Shutdown(20 * time.Millisecond)

	if _, err := queued.Await(context.Background(), 50*time.Millisecond); err != ErrPoolClosed {
		t.Errorf("queued future err = %v, want ErrPoolClosed", err)
	}
	if _, err := p.Submit(newTask(KindNews, "late"), false); err != ErrPoolClosed {
		t.Errorf("post-shutdown Submit err = %v, want ErrPoolClosed", err)
	}
}
