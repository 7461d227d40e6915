package services

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"catpipe/internal/config"
	"catpipe/internal/operations"
	"catpipe/pkg/contracts"
)

// ClientCounter reports connected websocket clients
type ClientCounter interface {
	ClientCount() int
}

// QueueStatsSource reports job queue statistics
type QueueStatsSource interface {
	GetQueueStats() map[string]interface{}
}

// OperationLister lists the runs currently executing
type OperationLister interface {
	ListOperations() []*operations.OperationState
}

// HealthService provides health check functionality
type HealthService struct {
	version   string
	paths     *config.Paths
	hub       ClientCounter
	queue     QueueStatsSource
	runs      OperationLister
	startTime time.Time
	logger    *slog.Logger
}

// HealthStatus represents the health status response
type HealthStatus struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Runtime   map[string]interface{} `json:"runtime,omitempty"`
	Services  map[string]interface{} `json:"services,omitempty"`
}

// ServiceHealth represents individual service health
type ServiceHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Uptime  string `json:"uptime,omitempty"`
}

// SystemStats represents system statistics
type SystemStats struct {
	UptimeSeconds    float64                `json:"uptime_seconds"`
	ReportFiles      int                    `json:"report_files"`
	ReportBytes      int64                  `json:"report_bytes"`
	ImageFiles       int                    `json:"image_files"`
	WebSocketClients int                    `json:"websocket_clients"`
	ActiveRuns       int                    `json:"active_runs"`
	Queue            map[string]interface{} `json:"queue,omitempty"`
	GoVersion        string                 `json:"go_version"`
	OS               string                 `json:"os"`
	Arch             string                 `json:"arch"`
}

// NewHealthService creates a health service. Any collaborator may be nil;
// readiness then reports it as not ready.
func NewHealthService(paths *config.Paths, hub ClientCounter, queue QueueStatsSource, runs OperationLister, logger *slog.Logger) *HealthService {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "health_service"))

	logger.Info("health_service_initialized",
		slog.String("version", contracts.Version))

	return &HealthService{
		version:   contracts.Version,
		paths:     paths,
		hub:       hub,
		queue:     queue,
		runs:      runs,
		startTime: time.Now(),
		logger:    logger,
	}
}

// HealthCheck returns overall health status
func (hs *HealthService) HealthCheck(ctx context.Context) HealthStatus {
	hs.logger.DebugContext(ctx, "health_check",
		slog.Duration("uptime", time.Since(hs.startTime)))

	return HealthStatus{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   hs.version,
	}
}

// ReadinessCheck returns readiness status
func (hs *HealthService) ReadinessCheck(ctx context.Context) HealthStatus {
	status := HealthStatus{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   hs.version,
		Services: map[string]interface{}{
			"websocket": hs.checkWebSocketHealth(),
			"queue":     hs.checkQueueHealth(),
			"storage":   hs.checkStorageHealth(),
		},
	}

	for name, service := range status.Services {
		if sh, ok := service.(ServiceHealth); ok && sh.Status != "ready" {
			status.Status = "not_ready"
			hs.logger.WarnContext(ctx, "service_not_ready",
				slog.String("service", name),
				slog.String("message", sh.Message))
		}
	}

	return status
}

// LivenessCheck returns liveness status
func (hs *HealthService) LivenessCheck(ctx context.Context) HealthStatus {
	return HealthStatus{
		Status:    "alive",
		Timestamp: time.Now(),
		Version:   hs.version,
		Runtime: map[string]interface{}{
			"uptime":     time.Since(hs.startTime).Seconds(),
			"go_version": runtime.Version(),
			"goroutines": runtime.NumGoroutine(),
		},
	}
}

// Version returns version information
func (hs *HealthService) Version() map[string]interface{} {
	info := contracts.GetVersionInfo()
	return map[string]interface{}{
		"version":       info.Version,
		"api_version":   info.APIVersion,
		"report_format": info.ReportFormat,
		"build_time":    info.BuildTime,
		"git_commit":    info.GitCommit,
		"go_version":    info.GoVersion,
		"os":            info.OS,
		"arch":          info.Architecture,
		"uptime":        time.Since(hs.startTime).Seconds(),
		"start_time":    hs.startTime.Format(time.RFC3339),
	}
}

// SystemStats returns system statistics
func (hs *HealthService) SystemStats(ctx context.Context) SystemStats {
	stats := SystemStats{
		UptimeSeconds: time.Since(hs.startTime).Seconds(),
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
	}

	if hs.paths != nil {
		stats.ReportFiles, stats.ReportBytes = countFiles(hs.paths.ReportsDir)
		stats.ImageFiles, _ = countFiles(hs.paths.ImagesDir)
	}
	if hs.hub != nil {
		stats.WebSocketClients = hs.hub.ClientCount()
	}
	if hs.runs != nil {
		stats.ActiveRuns = len(hs.runs.ListOperations())
	}
	if hs.queue != nil {
		stats.Queue = hs.queue.GetQueueStats()
	}

	hs.logger.DebugContext(ctx, "system_stats_collected",
		slog.Int("report_files", stats.ReportFiles),
		slog.Int("active_runs", stats.ActiveRuns))

	return stats
}

func countFiles(dir string) (int, int64) {
	var files int
	var size int64
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err == nil && !info.IsDir() {
			files++
			size += info.Size()
		}
		return nil
	})
	return files, size
}

func (hs *HealthService) checkWebSocketHealth() ServiceHealth {
	if hs.hub == nil {
		return ServiceHealth{Status: "not_ready", Message: "websocket hub not initialized"}
	}
	return ServiceHealth{
		Status:  "ready",
		Message: fmt.Sprintf("%d clients connected", hs.hub.ClientCount()),
		Uptime:  time.Since(hs.startTime).String(),
	}
}

func (hs *HealthService) checkQueueHealth() ServiceHealth {
	if hs.queue == nil {
		return ServiceHealth{Status: "not_ready", Message: "job queue not initialized"}
	}
	stats := hs.queue.GetQueueStats()
	size, _ := stats["queue_size"].(int)
	capacity, _ := stats["queue_cap"].(int)
	if capacity > 0 && size >= capacity {
		return ServiceHealth{Status: "not_ready", Message: "job queue is full"}
	}
	return ServiceHealth{Status: "ready", Message: "job queue accepting runs"}
}

// checkStorageHealth checks that the output directories exist
func (hs *HealthService) checkStorageHealth() ServiceHealth {
	if hs.paths == nil {
		return ServiceHealth{Status: "not_ready", Message: "output paths not resolved"}
	}
	for _, dir := range []string{hs.paths.ReportsDir, hs.paths.ImagesDir} {
		info, err := os.Stat(dir)
		if err != nil {
			return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("output directory unavailable: %v", err)}
		}
		if !info.IsDir() {
			return ServiceHealth{Status: "not_ready", Message: fmt.Sprintf("%s is not a directory", dir)}
		}
	}
	return ServiceHealth{Status: "ready", Message: "output directories available"}
}

// GetDetailedHealth returns comprehensive health information
func (hs *HealthService) GetDetailedHealth(ctx context.Context) map[string]interface{} {
	return map[string]interface{}{
		"health":    hs.HealthCheck(ctx),
		"readiness": hs.ReadinessCheck(ctx),
		"liveness":  hs.LivenessCheck(ctx),
		"stats":     hs.SystemStats(ctx),
	}
}
