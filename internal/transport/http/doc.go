// Package http implements the HTTP handlers of the catpipe service. Handlers
// stay thin: they decode and validate the request, call into the job queue,
// the operations manager or the health service, and render the result with
// go-chi/render. Errors go through middleware.RespondError so every failure
// has the same JSON shape.
//
// # Endpoints
//
//	POST /api/v1/runs               queue a run (202 Accepted)
//	GET  /api/v1/runs               list runs, ?status= and ?limit=
//	GET  /api/v1/runs/{id}          job, live snapshot and report
//	GET  /api/v1/runs/{id}/report   final or in-progress report
//	POST /api/v1/runs/{id}/cancel   cancel a pending or running run
//	GET  /api/v1/pipeline           registered steps in execution order
//	GET  /api/v1/metrics            websocket and queue counters
//	GET  /api/v1/version            build information
//	GET  /healthz[/ready|/live]     health probes
//	GET  /metrics                   Prometheus exposition
//
// Live progress is streamed separately over /ws by the websocket package.
package http
