// Package services holds the service-layer pieces that sit between the HTTP
// handlers and the pipeline runtime.
//
// # Available Services
//
//	- HealthService: health, readiness and liveness checks plus system stats
//
// Collaborators are consumed through small interfaces (ClientCounter,
// QueueStatsSource, OperationLister) so the websocket hub, the job queue and
// the operations manager can be swapped for mocks in tests:
//
//	hub := &MockClientCounter{}
//	hub.On("ClientCount").Return(3)
//	svc := NewHealthService(paths, hub, queue, runs, logger)
package services
