/*
Package metrics exports tile cache metrics to Prometheus.

The Collector owns a private registry so several collectors can coexist in
tests. It satisfies the recorder interfaces the rest of the service reports
through:

  - types.MetricsRecorder for cache tier hits, misses, errors and sizes
  - types.StorageRecorder for object store requests
  - mrf.LoadRecorder for index loads

Usage:

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Path:      "/metrics",
		Namespace: "tilecache",
	}, logger)
	if err != nil {
		return err
	}
	router.Handle("/metrics", collector.Handler())

A nil Collector, or one built with Enabled false, ignores every call.

Exported series (namespace tilecache):

	requests_total{route,status}
	request_duration_seconds{route}
	cache_requests_total{tier,result}
	cache_size_bytes{tier}
	objectstore_requests_total{op,status}
	objectstore_request_duration_seconds{op}
	objectstore_bytes_total
	index_loads_total{result}
	index_load_duration_seconds
	buffer_pool_in_use
	breaker_state{name}
	errors_total{code}
*/
package metrics
