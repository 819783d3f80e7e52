// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// searchesTotal counts retrieval calls by execution mode. The "none"
	// label marks calls served with no index loaded.
	searchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "entropy_retrieval_searches_total",
		Help: "Retrieval searches by mode (hybrid, lexical_only, semantic_only, none).",
	}, []string{"mode"})

	fusionSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "entropy_retrieval_fusion_seconds",
		Help:    "Wall time of a full hybrid search including both index probes.",
		Buckets: prometheus.DefBuckets,
	})
)
