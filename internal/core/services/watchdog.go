package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/disk"

	"bewo-chat/internal/core/ports"
)

// DiskUsageFunc returns used percent for path
type DiskUsageFunc func(ctx context.Context, path string) (float64, error)

// GopsutilDiskUsage reads the real filesystem usage
func GopsutilDiskUsage(ctx context.Context, path string) (float64, error) {
	stat, err := disk.UsageWithContext(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("disk usage %s: %w", path, err)
	}
	return stat.UsedPercent, nil
}

// WatchdogConfig drives the self-healing purge
type WatchdogConfig struct {
	Interval      time.Duration
	DiskPath      string
	DiskThreshold float64 // percent; purge only above it
	Retention     time.Duration
}

// Watchdog purges processed webhook audit logs when the disk fills up.
// Purge rule, all must hold: disk usage above threshold, row older than
// retention, status processed. Messages are never purged.
type Watchdog struct {
	logs      ports.WebhookRepository
	cfg       WatchdogConfig
	diskUsage DiskUsageFunc
	now       func() time.Time
}

func NewWatchdog(logs ports.WebhookRepository, cfg WatchdogConfig, usage DiskUsageFunc) *Watchdog {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = "/"
	}
	if cfg.DiskThreshold <= 0 {
		cfg.DiskThreshold = 80
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 7 * 24 * time.Hour
	}
	if usage == nil {
		usage = GopsutilDiskUsage
	}
	return &Watchdog{logs: logs, cfg: cfg, diskUsage: usage, now: time.Now}
}

// Threshold is shown on the dashboard
func (w *Watchdog) Threshold() float64 {
	return w.cfg.DiskThreshold
}

// Run checks on every tick until ctx is done
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	slog.Info("🐕 Watchdog started",
		"interval", w.cfg.Interval.String(),
		"disk_threshold", w.cfg.DiskThreshold,
	)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.Check(ctx); err != nil {
				slog.Error("Watchdog check failed", "error", err)
			}
		}
	}
}

// Check runs one resource check and returns the number of purged rows
func (w *Watchdog) Check(ctx context.Context) (int64, error) {
	usage, err := w.diskUsage(ctx, w.cfg.DiskPath)
	if err != nil {
		return 0, err
	}
	if usage < w.cfg.DiskThreshold {
		slog.Debug("Watchdog: disk usage OK, no purge needed", "disk_percent", usage)
		return 0, nil
	}

	cutoff := w.now().Add(-w.cfg.Retention)
	slog.Warn("Watchdog: disk usage above threshold, purging processed webhook logs",
		"disk_percent", usage,
		"threshold", w.cfg.DiskThreshold,
		"cutoff", cutoff,
	)
	purged, err := w.logs.PurgeProcessedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purge webhook logs: %w", err)
	}
	slog.Info("Watchdog: purge finished", "purged", purged)
	return purged, nil
}
