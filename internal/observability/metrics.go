// Package observability defines the Prometheus metrics of a grid run.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "densitygrid"

// Region outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomeSkipped = "skipped"
)

// Metrics holds the counters and histograms of the processing pipeline.
type Metrics struct {
	Registry *prometheus.Registry

	RegionsProcessed   *prometheus.CounterVec // labels: outcome={success,failure,skipped}
	RegionDuration     prometheus.Histogram
	CellsBuilt         prometheus.Counter
	CellsWithin        prometheus.Counter
	ObservationsLoaded *prometheus.CounterVec // labels: source
	DensityLayers      prometheus.Counter
	FilesWritten       *prometheus.CounterVec // labels: kind={vector,raster,mask,ascii,clipped,manifest}
	LastRunTimestamp   prometheus.Gauge
}

// NewMetrics creates the pipeline metrics on a fresh registry, so batch
// runs and tests never collide with the default registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,
		RegionsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "regions_processed_total",
			Help:      "Regions processed by outcome.",
		}, []string{"outcome"}),
		RegionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "region_duration_seconds",
			Help:      "Wall time spent on one region.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}),
		CellsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_built_total",
			Help:      "Lattice cells laid out.",
		}),
		CellsWithin: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_within_total",
			Help:      "Lattice cells whose centre lies inside the region.",
		}),
		ObservationsLoaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "observations_loaded_total",
			Help:      "Observations loaded by source tag.",
		}, []string{"source"}),
		DensityLayers: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "density_layers_total",
			Help:      "Density layers computed.",
		}),
		FilesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_written_total",
			Help:      "Output files written by kind.",
		}, []string{"kind"}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last run finished.",
		}),
	}

	reg.MustRegister(
		m.RegionsProcessed,
		m.RegionDuration,
		m.CellsBuilt,
		m.CellsWithin,
		m.ObservationsLoaded,
		m.DensityLayers,
		m.FilesWritten,
		m.LastRunTimestamp,
	)

	return m
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}

// ServerMetrics holds the metrics of the output file server.
type ServerMetrics struct {
	Registry *prometheus.Registry

	Requests        *prometheus.CounterVec // labels: route, code
	RequestDuration *prometheus.HistogramVec
	GridsAvailable  prometheus.Gauge
}

// NewServerMetrics creates the server metrics together with the Go runtime
// and process collectors.
func NewServerMetrics() *ServerMetrics {
	reg := prometheus.NewRegistry()

	m := &ServerMetrics{
		Registry: reg,
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		GridsAvailable: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "grids_available",
			Help:      "Completed region grids found by the last listing.",
		}),
	}

	reg.MustRegister(
		m.Requests,
		m.RequestDuration,
		m.GridsAvailable,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m
}
