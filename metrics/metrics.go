// Package metrics defines the Prometheus collectors of a calculation.
//
// Collectors are registered on a private registry so that independent calculations in one process, and
// parallel tests, do not share counters. All methods accept a nil *Metrics and then do nothing, which lets
// library code report unconditionally.
package metrics

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors of a calculation.
type Metrics struct {
	Registry *prometheus.Registry

	TasksDispatched    prometheus.Counter
	TasksCompleted     *prometheus.CounterVec
	TaskDuration       prometheus.Histogram
	LehmannTerms       *prometheus.CounterVec
	BlocksDiagonalized prometheus.Counter
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		TasksDispatched: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tasks_dispatched_total",
				Help: "Total number of tasks sent to workers by the master.",
			},
		),
		TasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tasks_completed_total",
				Help: "Total number of tasks completed, by rank.",
			},
			[]string{"rank"},
		),
		TaskDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "task_duration_seconds",
				Help:    "Duration of a single task in seconds.",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10, 100},
			},
		),
		LehmannTerms: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "lehmann_terms_total",
				Help: "Total number of Lehmann terms generated, by correlator.",
			},
			[]string{"correlator"},
		),
		BlocksDiagonalized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "blocks_diagonalized_total",
				Help: "Total number of Hamiltonian blocks diagonalized.",
			},
		),
	}

	m.Registry.MustRegister(
		m.TasksDispatched,
		m.TasksCompleted,
		m.TaskDuration,
		m.LehmannTerms,
		m.BlocksDiagonalized,
	)

	return m
}

func (m *Metrics) Dispatched() {
	if m == nil {
		return
	}
	m.TasksDispatched.Inc()
}

func (m *Metrics) Completed(rank int, d time.Duration) {
	if m == nil {
		return
	}
	m.TasksCompleted.WithLabelValues(strconv.Itoa(rank)).Inc()
	m.TaskDuration.Observe(d.Seconds())
}

func (m *Metrics) Terms(correlator string, n int) {
	if m == nil {
		return
	}
	m.LehmannTerms.WithLabelValues(correlator).Add(float64(n))
}

func (m *Metrics) Diagonalized() {
	if m == nil {
		return
	}
	m.BlocksDiagonalized.Inc()
}

// Handler returns the scrape handler of the private registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// StartServer serves the metrics on addr until shutdown is called.
func (m *Metrics) StartServer(addr string) (shutdown func(context.Context) error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("metrics server listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error %+v", err)
		}
	}()

	return server.Shutdown
}

// WriteText writes counters and histogram counts one per line, sorted by name.
func (m *Metrics) WriteText(w io.Writer) error {
	families, err := m.Registry.Gather()
	if err != nil {
		return errors.Wrap(err, "")
	}
	lines := make([]string, 0)
	for _, f := range families {
		for _, metric := range f.GetMetric() {
			labels := make([]string, 0)
			for _, l := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			name := f.GetName()
			if len(labels) > 0 {
				name += "{" + strings.Join(labels, ",") + "}"
			}
			switch {
			case metric.GetCounter() != nil:
				lines = append(lines, fmt.Sprintf("%s %g", name, metric.GetCounter().GetValue()))
			case metric.GetHistogram() != nil:
				lines = append(lines, fmt.Sprintf("%s_count %d", name, metric.GetHistogram().GetSampleCount()))
			}
		}
	}
	slices.Sort(lines)
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return errors.Wrap(err, "")
		}
	}
	return nil
}
