/*
Package metrics provides Prometheus collectors and health reporting for paramd.

Collectors are registered with the default registry at package init and
exposed through Handler. The groups are:

	workspace   paramd_workspace_slots_used, paramd_workspace_slots_capacity,
	            paramd_workspace_commit_serial, paramd_parameters_total
	access      paramd_param_reads_total{result}, paramd_param_writes_total{result},
	            paramd_param_write_duration_seconds
	security    paramd_permission_denied_total{checker,mode}
	persistence paramd_persist_writes_total{result},
	            paramd_persist_records_skipped_total
	watchers    paramd_watcher_groups, paramd_watcher_connections,
	            paramd_notifications_total{result}
	api         paramd_api_requests_total{method,status},
	            paramd_api_request_duration_seconds{method}

Workspace gauges are sampled by a Collector on an interval; everything else
is updated inline by the component that owns it.

Health and readiness are tracked per component, either as a recorded state
or as a probe evaluated on every query. The service is ready once every name
in CriticalComponents is registered and healthy:

	metrics.RegisterComponent("workspace", true, "")
	metrics.RegisterProbe("security", dispatcher.Ready)
	status := metrics.GetReadiness()

Timer measures an operation and records it on a histogram:

	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.WriteDuration)
*/
package metrics
