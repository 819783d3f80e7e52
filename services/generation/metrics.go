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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entropy",
		Subsystem: "generation",
		Name:      "queries_total",
		Help:      "Queries processed, labeled by routing decision reason.",
	}, []string{"reason"})

	poolSubmits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entropy",
		Subsystem: "generation",
		Name:      "pool_submits_total",
		Help:      "Specialist tasks enqueued, labeled by kind and submit mode.",
	}, []string{"kind", "mode"})

	poolCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entropy",
		Subsystem: "generation",
		Name:      "pool_cache_hits_total",
		Help:      "Specialist results served from the TTL cache.",
	})

	poolCoalesced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entropy",
		Subsystem: "generation",
		Name:      "pool_coalesced_total",
		Help:      "Submissions coalesced onto an in-flight future.",
	})

	poolDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entropy",
		Subsystem: "generation",
		Name:      "pool_prefetch_drops_total",
		Help:      "Pre-fetch tasks dropped under queue pressure.",
	})

	poolTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entropy",
		Subsystem: "generation",
		Name:      "specialist_timeouts_total",
		Help:      "Immediate specialist runs that missed the response deadline.",
	})
)
