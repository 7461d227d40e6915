// Package app wires the catpipe server together and owns its lifecycle.
//
// # Initialization Flow
//
//	1. Validate configuration and build the slog logger
//	2. Resolve and create the output directories
//	3. Initialize OpenTelemetry and the pipeline metrics
//	4. Create the websocket hub, the pipeline manager and the job queue
//	5. Mount middleware and handlers on a chi router
//	6. Create the HTTP server
//
// # Usage
//
//	application, err := app.NewApplication(cfg, nil)
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// Run blocks until the context is cancelled or SIGINT/SIGTERM arrives, then
// stops the server, drains the job queue, closes websocket clients and
// flushes telemetry.
package app
