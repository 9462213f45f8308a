/*
 *
 * tabpilot - a remote browser automation control plane
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the counters of a Browser.
type Metrics struct {
	Captures           prometheus.Counter
	CaptureRateLimited prometheus.Counter
	Navigations        *prometheus.CounterVec
	ContextsDestroyed  prometheus.Counter
	BarrierEvictions   prometheus.Counter
	LocatorRetries     prometheus.Counter

	// DOMContentLoaded and Loaded observe the time from commit to the
	// lifecycle event of main frame documents.
	DOMContentLoaded prometheus.Histogram
	Loaded           prometheus.Histogram
}

// NewMetrics creates the metrics and registers them on reg when it's not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Captures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabpilot_captures_total",
			Help: "Visible area captures requested from the host.",
		}),
		CaptureRateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabpilot_capture_rate_limited_total",
			Help: "Captures refused by the host for exceeding its rate limit.",
		}),
		Navigations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabpilot_navigations_total",
			Help: "Frame navigations by kind.",
		}, []string{"kind"}),
		ContextsDestroyed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabpilot_contexts_destroyed_total",
			Help: "Execution contexts destroyed by document changes and detaches.",
		}),
		BarrierEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabpilot_barrier_evictions_total",
			Help: "Readiness barriers dropped for staleness or capacity.",
		}),
		LocatorRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tabpilot_locator_retries_total",
			Help: "Retried attempts of selector based operations.",
		}),
		DOMContentLoaded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabpilot_dom_content_loaded_seconds",
			Help:    "Time from commit to DOMContentLoaded of main frame documents.",
			Buckets: prometheus.DefBuckets,
		}),
		Loaded: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tabpilot_loaded_seconds",
			Help:    "Time from commit to load of main frame documents.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Captures, m.CaptureRateLimited, m.Navigations, m.ContextsDestroyed,
			m.BarrierEvictions, m.LocatorRetries, m.DOMContentLoaded, m.Loaded,
		)
	}
	return m
}
