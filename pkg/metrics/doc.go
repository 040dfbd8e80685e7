/*
Package metrics defines and registers rrockerd's Prometheus metrics and
exposes the /metrics scrape handler, the health/readiness/liveness JSON
handlers, and a small Timer helper for histogram observations.

Metrics

	rrockerd_tasks_total{outcome}
	  Counter. Incremented once per admitted task when it finishes (or
	  fails to start), labeled "exited" or "failed".

	rrockerd_tasks_running
	  Gauge. Sampled periodically by Collector from the task registry;
	  counts tasks currently in the Running state.

	rrockerd_task_start_duration_seconds
	  Histogram. Time from StartTask admission to the isolated child's
	  pid being registered.

	rrockerd_fanout_chunks_written_total{stream}
	  Counter. Output chunks appended to a task's log, labeled "stdout"
	  or "stderr".

	rrockerd_fanout_active_readers
	  Gauge. Number of TaskOutputStream subscribers currently attached
	  across all task logs.

	rrockerd_api_requests_total{method, code}
	  Counter. Every RPC, labeled by method name and gRPC status code.

	rrockerd_api_request_duration_seconds{method}
	  Histogram. RPC handler duration.

	rrockerd_auth_rejections_total{reason}
	  Counter. Requests rejected by the peer authenticator, labeled by
	  rejection reason. Only rejections for an organization outside the
	  allowlist are counted, labeled "invalid_organization"; the other
	  authentication failures are not counted.

Collector polls the task registry on a 15s ticker rather than updating
rrockerd_tasks_running inline on every mutation, so a burst of StartTask/
StopTask calls costs one gauge write per tick instead of one per call.

Health

HealthHandler, ReadyHandler, and LivenessHandler back /health, /ready,
and /live. Components register their status via RegisterComponent;
GetReadiness additionally requires the process's own critical components
("grpc", "isolate") to be registered and healthy before reporting ready.
*/
package metrics
