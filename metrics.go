/*
   Copyright (c) 2023, btnmasher
   All rights reserved.
   Use of this source code is governed by a BSD-style
   license that can be found in the LICENSE file.
*/

package ircd

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the thin instrumentation surface an operator actually watches:
// connection and entity counts plus a few rate counters. Registered on a
// private registry so tests can build servers without double-registration
// panics.
type Metrics struct {
	registry *prometheus.Registry

	UsersOnline   prometheus.Gauge
	Channels      prometheus.Gauge
	ConnsAccepted prometheus.Counter
	Joins         prometheus.Counter
	CullSweeps    prometheus.Counter
	Snotices      prometheus.Counter
}

// NewMetrics builds the metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		UsersOnline: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ircd", Name: "users_online",
			Help: "Currently registered users.",
		}),
		Channels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "ircd", Name: "channels",
			Help: "Currently existing channels.",
		}),
		ConnsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ircd", Name: "connections_accepted_total",
			Help: "Connections accepted since start.",
		}),
		Joins: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ircd", Name: "channel_joins_total",
			Help: "Successful channel joins since start.",
		}),
		CullSweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ircd", Name: "cull_sweeps_total",
			Help: "Cull list applications that destroyed at least one object.",
		}),
		Snotices: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "ircd", Name: "snotices_total",
			Help: "Server notices emitted.",
		}),
	}
}

// Handler returns the scrape endpoint for this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes the scrape endpoint on its own listener, off the reactor
// goroutine. A failure is returned for the caller to log; metrics are never
// worth taking the server down over.
func (m *Metrics) Serve(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
