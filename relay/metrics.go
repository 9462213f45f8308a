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

package relay

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/liuxd6825/tabpilot/host"
)

type metrics struct {
	connections prometheus.Gauge
	requests    *prometheus.CounterVec
	events      *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tabpilot_relay_connections",
			Help: "Number of connected extensions.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabpilot_relay_requests_total",
			Help: "Requests sent to the extension by method and outcome.",
		}, []string{"method", "outcome"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tabpilot_relay_events_total",
			Help: "Events received from the extension.",
		}, []string{"event"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.requests, m.events)
	}
	return m
}

func (m *metrics) observeRequest(method string, err error) {
	m.requests.WithLabelValues(method, outcome(err)).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotConnected), errors.Is(err, ErrDisconnected):
		return "disconnected"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, host.ErrNotInstalled):
		return "not_installed"
	case errors.Is(err, host.ErrCaptureRateLimited):
		return "rate_limited"
	}
	return "error"
}
