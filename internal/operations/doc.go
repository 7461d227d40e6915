// Package operations runs the catpipe pipeline: load a labeled categorical
// dataset, tabulate its frequencies, split it into train, eval and test
// partitions, fit and score a classifier, render images and export the
// artifacts.
//
// Manager executes the registered steps in dependency order. Each step
// reads what earlier steps left in the shared OperationState and adds its
// own results. A failing step fails the run and every step depending on it
// is skipped; steps may be retried per RetryConfig, but validation errors
// never are. StatusBroadcaster keeps a snapshot per run and pushes every
// change to the WebSocket hub. JobQueue runs requests on a worker pool for
// the HTTP server.
//
// Example usage:
//
//	svc := operations.NewServices(cfg, paths, store, tracer, logger)
//	manager := operations.NewManager(hub, nil, operations.ConfigFrom(cfg), logger)
//	if err := operations.RegisterPipeline(manager, svc, logger); err != nil {
//		return err
//	}
//	manager.SetReportWriter(operations.NewReportFileWriter(paths))
//
//	resp, err := manager.Execute(ctx, operations.OperationRequest{
//		Run: domain.RunRequest{DataPath: "Test00.txt", Ratios: []float64{0.6, 0.2, 0.2}},
//	})
package operations
