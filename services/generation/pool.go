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
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// =============================================================================
// Specialist Pool
// =============================================================================

// Pool defaults. Workers and TTL are env-overridable through the config
// layer; the cache cap bounds memory on long-lived processes.
const (
	DefaultPoolWorkers = 4
	DefaultResultTTL   = 300 * time.Second
	resultCacheSize    = 256
	maxQueueDepth      = 16
)

// ErrPoolClosed is returned by Submit after shutdown has begun.
var ErrPoolClosed = errors.New("generation: specialist pool closed")

// errDropped completes a pre-fetch future whose queue slot was reclaimed.
var errDropped = errors.New("generation: pre-fetch dropped under queue pressure")

// SpecialistResult is one completed specialist run.
type SpecialistResult struct {
	Kind        SpecialistKind
	Content     string
	CostUSD     float64
	CreatedAt   time.Time
	Fingerprint string
}

// TaskRunner executes one specialist task end to end (agent loop, tool
// calls, model calls). Injected so tests can script it.
type TaskRunner func(ctx context.Context, task Task) (*SpecialistResult, error)

// Future is a handle to an in-flight or completed specialist task.
//
// Thread Safety: safe for concurrent use; result fields are written once
// before done closes.
type Future struct {
	fingerprint string
	prefetch    bool

	done   chan struct{}
	result *SpecialistResult
	err    error
}

// TryGet returns the result without blocking.
func (f *Future) TryGet() (*SpecialistResult, bool) {
	select {
	case <-f.done:
		if f.err != nil {
			return nil, false
		}
		return f.result, true
	default:
		return nil, false
	}
}

// Await blocks up to timeout for the result. A zero timeout degenerates
// to TryGet.
func (f *Future) Await(ctx context.Context, timeout time.Duration) (*SpecialistResult, error) {
	if timeout <= 0 {
		if res, ok := f.TryGet(); ok {
			return res, nil
		}
		return nil, errors.New("generation: result pending")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-f.done:
		return f.result, f.err
	case <-timer.C:
		return nil, errors.New("generation: specialist deadline exceeded")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type poolItem struct {
	task Task
	fut  *Future
}

// SpecialistPool executes specialist Tasks on a bounded worker set with
// result caching.
//
// # Description
//
// W workers feed from a FIFO queue; immediate submissions are placed ahead
// of queued pre-fetches. Submissions are coalesced by fingerprint: while a
// Future for F is in flight, further submits return that same Future — an
// immediate submit on a pre-fetch fingerprint observes the pre-fetch's
// result, which is how instant follow-ups work. Completed results live in
// an expirable LRU (absolute TTL, capped size). When the queue saturates,
// the oldest unconsumed pre-fetch is dropped to make room; immediates are
// never dropped.
//
// # Thread Safety
//
// All mutable state is guarded by one mutex.
type SpecialistPool struct {
	mu   sync.Mutex
	cond *sync.Cond

	queue    []*poolItem
	inflight map[string]*Future
	results  *expirable.LRU[string, *SpecialistResult]

	runner TaskRunner
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSpecialistPool starts workers goroutines executing runner.
func NewSpecialistPool(workers int, ttl time.Duration, runner TaskRunner) *SpecialistPool {
	if workers <= 0 {
		workers = DefaultPoolWorkers
	}
	if ttl <= 0 {
		ttl = DefaultResultTTL
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &SpecialistPool{
		inflight: make(map[string]*Future),
		results:  expirable.NewLRU[string, *SpecialistResult](resultCacheSize, nil, ttl),
		runner:   runner,
		ctx:      ctx,
		cancel:   cancel,
	}
	p.cond = sync.NewCond(&p.mu)

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}

	slog.Info("specialist pool started", slog.Int("workers", workers), slog.Duration("ttl", ttl))
	return p
}

// Submit enqueues a task, coalescing onto any in-flight or cached Future
// for the same fingerprint.
//
// # Inputs
//
//   - task: The specialist task.
//   - prefetch: True for speculative background submissions. Pre-fetches
//     are droppable under queue pressure and sort behind immediates.
//
// # Outputs
//
//   - *Future: The (possibly shared) handle. Never nil on success.
//   - error: ErrPoolClosed after shutdown.
func (p *SpecialistPool) Submit(task Task, prefetch bool) (*Future, error) {
	fp := task.Fingerprint()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	// Unexpired cached result: return it as a completed future.
	if res, ok := p.results.Get(fp); ok {
		fut := &Future{fingerprint: fp, done: make(chan struct{}), result: res}
		close(fut.done)
		poolCacheHits.Inc()
		return fut, nil
	}

	// Coalesce onto the in-flight future. An immediate submit promotes a
	// queued pre-fetch so it cannot be dropped out from under the caller.
	if fut, ok := p.inflight[fp]; ok {
		if !prefetch && fut.prefetch {
			fut.prefetch = false
			p.promoteLocked(fp)
		}
		poolCoalesced.Inc()
		return fut, nil
	}

	fut := &Future{fingerprint: fp, prefetch: prefetch, done: make(chan struct{})}
	item := &poolItem{task: task, fut: fut}

	if len(p.queue) >= maxQueueDepth {
		if !p.dropOldestPrefetchLocked() {
			if prefetch {
				// Queue full of immediates; the speculative task loses.
				fut.err = errDropped
				close(fut.done)
				poolDrops.Inc()
				return fut, nil
			}
			// Immediates are never dropped; the queue grows past its cap.
		}
	}

	p.inflight[fp] = fut
	if prefetch {
		p.queue = append(p.queue, item)
	} else {
		p.insertBeforePrefetchesLocked(item)
	}
	poolSubmits.WithLabelValues(string(task.Kind), submitMode(prefetch)).Inc()

	p.cond.Signal()
	return fut, nil
}

// TryGet returns the cached result for a fingerprint, if present and
// unexpired.
func (p *SpecialistPool) TryGet(fingerprint string) (*SpecialistResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	res, ok := p.results.Get(fingerprint)
	if ok {
		poolCacheHits.Inc()
	}
	return res, ok
}

// insertBeforePrefetchesLocked keeps immediates FIFO among themselves but
// ahead of every queued pre-fetch.
func (p *SpecialistPool) insertBeforePrefetchesLocked(item *poolItem) {
	for i, queued := range p.queue {
		if queued.fut.prefetch {
			p.queue = append(p.queue[:i], append([]*poolItem{item}, p.queue[i:]...)...)
			return
		}
	}
	p.queue = append(p.queue, item)
}

// promoteLocked moves a queued item to the back of the immediate section.
func (p *SpecialistPool) promoteLocked(fingerprint string) {
	for i, queued := range p.queue {
		if queued.fut.fingerprint == fingerprint {
			item := queued
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			p.insertBeforePrefetchesLocked(item)
			return
		}
	}
}

// dropOldestPrefetchLocked reclaims the oldest unconsumed pre-fetch slot.
func (p *SpecialistPool) dropOldestPrefetchLocked() bool {
	for i, queued := range p.queue {
		if queued.fut.prefetch {
			p.queue = append(p.queue[:i], p.queue[i+1:]...)
			delete(p.inflight, queued.fut.fingerprint)
			queued.fut.err = errDropped
			close(queued.fut.done)
			poolDrops.Inc()
			slog.Debug("dropped oldest pre-fetch under queue pressure")
			return true
		}
	}
	return false
}

func (p *SpecialistPool) worker() {
	defer p.wg.Done()

	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 && p.closed {
			p.mu.Unlock()
			return
		}
		item := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		res, err := p.runner(p.ctx, item.task)
		if err == nil && res != nil {
			res.Fingerprint = item.fut.fingerprint
			if res.CreatedAt.IsZero() {
				res.CreatedAt = time.Now()
			}
		}

		p.mu.Lock()
		delete(p.inflight, item.fut.fingerprint)
		if err == nil && res != nil {
			p.results.Add(item.fut.fingerprint, res)
		}
		item.fut.result = res
		item.fut.err = err
		close(item.fut.done)
		p.mu.Unlock()

		if err != nil {
			slog.Warn("specialist task failed",
				slog.String("kind", string(item.task.Kind)),
				slog.String("error", err.Error()))
		}
	}
}

// Shutdown stops accepting submits, cancels queued futures, waits up to
// grace for running workers, then cancels their contexts and waits for
// them to unwind.
func (p *SpecialistPool) Shutdown(grace time.Duration) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	for _, queued := range p.queue {
		delete(p.inflight, queued.fut.fingerprint)
		queued.fut.err = ErrPoolClosed
		close(queued.fut.done)
	}
	p.queue = nil
	p.cond.Broadcast()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		p.cancel()
		<-done
	}
	p.cancel()
	slog.Info("specialist pool shut down")
}

func submitMode(prefetch bool) string {
	if prefetch {
		return "prefetch"
	}
	return "immediate"
}
