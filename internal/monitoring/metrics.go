package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	internalerrors "github.com/ruaan-deysel/ha-unraid-management-agent/internal/errors"
)

// SyncMetrics manages Prometheus instrumentation for the coordinator.
type SyncMetrics struct {
	fetchDuration  *prometheus.HistogramVec
	fetchResults   *prometheus.CounterVec
	fetchErrors    *prometheus.CounterVec
	lastSuccess    *prometheus.GaugeVec
	pollCycles     *prometheus.CounterVec
	streamEvents   *prometheus.CounterVec
	droppedEvents  *prometheus.CounterVec
	reconnectDelay prometheus.Histogram
	connection     *prometheus.GaugeVec
	availability   *prometheus.GaugeVec
	actions        *prometheus.CounterVec
}

var (
	syncMetricsInstance *SyncMetrics
	syncMetricsOnce     sync.Once
)

func getSyncMetrics() *SyncMetrics {
	syncMetricsOnce.Do(func() {
		syncMetricsInstance = newSyncMetrics()
	})
	return syncMetricsInstance
}

func newSyncMetrics() *SyncMetrics {
	m := &SyncMetrics{
		fetchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "uma",
				Subsystem: "sync",
				Name:      "fetch_duration_seconds",
				Help:      "Duration of per-domain REST fetches.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"domain"},
		),
		fetchResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uma",
				Subsystem: "sync",
				Name:      "fetch_total",
				Help:      "Per-domain fetch attempts partitioned by result.",
			},
			[]string{"domain", "result"},
		),
		fetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uma",
				Subsystem: "sync",
				Name:      "fetch_errors_total",
				Help:      "Per-domain fetch failures grouped by error type.",
			},
			[]string{"domain", "error_type"},
		),
		lastSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "uma",
				Subsystem: "sync",
				Name:      "domain_last_update_timestamp",
				Help:      "Unix timestamp of the last committed update per domain and source.",
			},
			[]string{"domain", "source"},
		),
		pollCycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uma",
				Subsystem: "sync",
				Name:      "poll_cycles_total",
				Help:      "Completed poll cycles partitioned by outcome.",
			},
			[]string{"result"},
		),
		streamEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uma",
				Subsystem: "sync",
				Name:      "stream_events_total",
				Help:      "Push events committed per domain.",
			},
			[]string{"domain"},
		),
		droppedEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uma",
				Subsystem: "sync",
				Name:      "stream_events_dropped_total",
				Help:      "Push events dropped before commit, by reason.",
			},
			[]string{"reason"},
		),
		reconnectDelay: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "uma",
				Subsystem: "sync",
				Name:      "stream_reconnect_delay_seconds",
				Help:      "Backoff delays applied before push stream reconnects.",
				Buckets:   []float64{0.5, 1, 2, 4, 8, 16, 30, 60},
			},
		),
		connection: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "uma",
				Subsystem: "sync",
				Name:      "stream_connection_state",
				Help:      "1 for the current push connection state, 0 otherwise.",
			},
			[]string{"state"},
		),
		availability: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "uma",
				Subsystem: "sync",
				Name:      "availability_state",
				Help:      "1 for the current availability state, 0 otherwise.",
			},
			[]string{"state"},
		),
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "uma",
				Subsystem: "sync",
				Name:      "actions_total",
				Help:      "Control actions invoked partitioned by action and result.",
			},
			[]string{"action", "result"},
		),
	}

	prometheus.MustRegister(
		m.fetchDuration,
		m.fetchResults,
		m.fetchErrors,
		m.lastSuccess,
		m.pollCycles,
		m.streamEvents,
		m.droppedEvents,
		m.reconnectDelay,
		m.connection,
		m.availability,
		m.actions,
	)

	return m
}

// FetchResult captures timing and outcome for one domain fetch.
type FetchResult struct {
	Domain    string
	Success   bool
	Error     error
	StartTime time.Time
	EndTime   time.Time
}

// RecordFetch records a single domain fetch.
func (m *SyncMetrics) RecordFetch(result FetchResult) {
	if m == nil {
		return
	}

	duration := result.EndTime.Sub(result.StartTime).Seconds()
	if duration < 0 {
		duration = 0
	}
	m.fetchDuration.WithLabelValues(result.Domain).Observe(duration)

	if result.Success {
		m.fetchResults.WithLabelValues(result.Domain, "success").Inc()
		return
	}
	m.fetchResults.WithLabelValues(result.Domain, "error").Inc()
	m.fetchErrors.WithLabelValues(result.Domain, classifyError(result.Error)).Inc()
}

// RecordCommit stamps the last update time for a domain.
func (m *SyncMetrics) RecordCommit(domain, source string, at time.Time) {
	if m == nil {
		return
	}
	m.lastSuccess.WithLabelValues(domain, source).Set(float64(at.Unix()))
	if source == "push" {
		m.streamEvents.WithLabelValues(domain).Inc()
	}
}

// RecordPollCycle counts a completed cycle.
func (m *SyncMetrics) RecordPollCycle(success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "total_failure"
	}
	m.pollCycles.WithLabelValues(result).Inc()
}

// RecordDropped counts a push event that was not committed.
func (m *SyncMetrics) RecordDropped(reason string) {
	if m == nil {
		return
	}
	m.droppedEvents.WithLabelValues(reason).Inc()
}

// RecordReconnectDelay observes a backoff wait.
func (m *SyncMetrics) RecordReconnectDelay(d time.Duration) {
	if m == nil {
		return
	}
	m.reconnectDelay.Observe(d.Seconds())
}

// SetConnectionState marks state as the active push connection state.
func (m *SyncMetrics) SetConnectionState(state ConnectionState) {
	if m == nil {
		return
	}
	for _, s := range allConnectionStates {
		value := 0.0
		if s == state {
			value = 1
		}
		m.connection.WithLabelValues(s.String()).Set(value)
	}
}

// SetAvailability marks state as the active availability state.
func (m *SyncMetrics) SetAvailability(state AvailabilityState) {
	if m == nil {
		return
	}
	for _, s := range []AvailabilityState{Available, Degraded, Unavailable} {
		value := 0.0
		if s == state {
			value = 1
		}
		m.availability.WithLabelValues(s.String()).Set(value)
	}
}

// RecordAction counts an invoked control action.
func (m *SyncMetrics) RecordAction(action string, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = classifyError(err)
	}
	m.actions.WithLabelValues(action, result).Inc()
}

func classifyError(err error) string {
	if err == nil {
		return "none"
	}
	if t := internalerrors.TypeOf(err); t != "" {
		return string(t)
	}
	return "unknown"
}
