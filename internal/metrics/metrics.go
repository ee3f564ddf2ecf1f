// Package metrics defines the tracker's Prometheus instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Registry bundles every tracker metric with its own Prometheus registry,
// so tests can instantiate it without global-state collisions.
type Registry struct {
	reg *prometheus.Registry

	FramesTotal     *prometheus.CounterVec
	RepliesTotal    *prometheus.CounterVec
	Subscribers     prometheus.Gauge
	BroadcastsTotal *prometheus.CounterVec
	EventsDropped   prometheus.Counter
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	EpochBumps      prometheus.Counter
	ExtractedFiles  *prometheus.CounterVec
}

func New() *Registry {
	r := &Registry{
		reg: prometheus.NewRegistry(),

		FramesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_frames_total",
				Help: "Inbound source frames by kind and type",
			},
			[]string{"kind", "type"},
		),
		RepliesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_replies_total",
				Help: "Replies to the source by status code",
			},
			[]string{"status"},
		),
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tracker_subscribers",
				Help: "Connected display subscribers",
			},
		),
		BroadcastsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_broadcasts_total",
				Help: "Broker broadcasts by event type",
			},
			[]string{"type"},
		),
		EventsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_events_dropped_total",
				Help: "Events dropped on saturated subscriber queues",
			},
		),
		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_plugin_cache_hits_total",
				Help: "Plugin cache hits by plugin type",
			},
			[]string{"plugin"},
		),
		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_plugin_cache_misses_total",
				Help: "Plugin cache misses by plugin type",
			},
			[]string{"plugin"},
		),
		EpochBumps: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tracker_cache_epoch_bumps_total",
				Help: "Cache epoch bumps",
			},
		),
		ExtractedFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tracker_extracted_files_total",
				Help: "Asset files written by category",
			},
			[]string{"category"},
		),
	}

	r.reg.MustRegister(
		r.FramesTotal, r.RepliesTotal, r.Subscribers, r.BroadcastsTotal,
		r.EventsDropped, r.CacheHits, r.CacheMisses, r.EpochBumps,
		r.ExtractedFiles,
	)
	return r
}

// Handler serves the /metrics endpoint.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// CounterTotals sums one counter family across labels, keyed by the given
// label. Used by the status endpoint to report message counters without a
// second bookkeeping layer.
func (r *Registry) CounterTotals(family, label string) map[string]float64 {
	out := make(map[string]float64)
	families, err := r.reg.Gather()
	if err != nil {
		return out
	}
	for _, fam := range families {
		if fam.GetName() != family || fam.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range fam.GetMetric() {
			key := ""
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label {
					key = lp.GetValue()
				}
			}
			out[key] += m.GetCounter().GetValue()
		}
	}
	return out
}
