package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Workspace metrics
	WorkspaceSlotsUsed = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paramd_workspace_slots_used",
			Help: "Number of allocated workspace slots, root included",
		},
	)

	WorkspaceSlotsCapacity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paramd_workspace_slots_capacity",
			Help: "Total number of workspace slots",
		},
	)

	WorkspaceSerial = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paramd_workspace_commit_serial",
			Help: "Global commit counter of the workspace",
		},
	)

	ParametersTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paramd_parameters_total",
			Help: "Number of parameters carrying a value",
		},
	)

	// Access metrics
	ParamReadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paramd_param_reads_total",
			Help: "Total number of parameter reads by result",
		},
		[]string{"result"},
	)

	ParamWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paramd_param_writes_total",
			Help: "Total number of parameter writes by result",
		},
		[]string{"result"},
	)

	WriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "paramd_param_write_duration_seconds",
			Help:    "Time taken to check, commit and journal a parameter write",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 8),
		},
	)

	// Security metrics
	PermissionDenied = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paramd_permission_denied_total",
			Help: "Total number of denied accesses by checker and mode",
		},
		[]string{"checker", "mode"},
	)

	// Persistence metrics
	PersistWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paramd_persist_writes_total",
			Help: "Total number of journaled persistent parameter writes by result",
		},
		[]string{"result"},
	)

	PersistRecordsSkipped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "paramd_persist_records_skipped_total",
			Help: "Total number of unreadable persistence records skipped at load",
		},
	)

	// Watcher metrics
	WatcherGroups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paramd_watcher_groups",
			Help: "Number of watcher groups registered with the service",
		},
	)

	WatcherConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "paramd_watcher_connections",
			Help: "Number of connected watcher clients",
		},
	)

	NotificationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paramd_notifications_total",
			Help: "Total number of change notifications by result",
		},
		[]string{"result"},
	)

	EventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paramd_events_dropped_total",
			Help: "Change events dropped because a subscriber fell behind",
		},
		[]string{"subscriber"},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paramd_api_requests_total",
			Help: "Total number of API requests by method and status",
		},
		[]string{"method", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paramd_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)
)

func init() {
	prometheus.MustRegister(WorkspaceSlotsUsed)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(WorkspaceSlotsCapacity)
	prometheus.MustRegister(WorkspaceSerial)
	prometheus.MustRegister(ParametersTotal)
	prometheus.MustRegister(ParamReadsTotal)
	prometheus.MustRegister(ParamWritesTotal)
	prometheus.MustRegister(WriteDuration)
	prometheus.MustRegister(PermissionDenied)
	prometheus.MustRegister(PersistWritesTotal)
	prometheus.MustRegister(PersistRecordsSkipped)
	prometheus.MustRegister(WatcherGroups)
	prometheus.MustRegister(WatcherConnections)
	prometheus.MustRegister(NotificationsTotal)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
