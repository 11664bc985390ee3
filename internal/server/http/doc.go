// Package httpserver is the REST surface of a replica: health, lifecycle
// status and operator controls, enqueueing work items and Prometheus metrics.
//
// Routes:
//
//	GET  /v1/healthz                 200 once initialized, 503 while Initializing
//	GET  /v1/status                  local snapshot, fleet summary, queue counts
//	POST /v1/status/start            resume processing
//	POST /v1/status/stop[?wait=30s]  request a drain
//	GET  /v1/status/history          recorded transitions, newest first
//	GET  /v1/queues                  configured queue names
//	GET  /v1/queues/{name}           visible/invisible counts
//	POST /v1/queues/{name}/messages  enqueue {"type","id","data","delay"}
//	GET  /metrics                    Prometheus exposition
package httpserver
