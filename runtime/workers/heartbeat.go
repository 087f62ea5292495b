package workers

import (
	"chat-relay/observability"
	"chat-relay/runtime"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/shirou/gopsutil/process"
)

const DefaultHeartbeatInterval = 30 * time.Second

// CountsSource exposes the registry sizes reported by the heartbeat.
type CountsSource interface {
	Counts() runtime.Counts
}

// HeartbeatWorker periodically samples the relay process and logs a summary
// of the live state. Samples are kept in Stats for the /stats endpoint.
type HeartbeatWorker struct {
	log      *slog.Logger
	stats    *observability.Stats
	counts   CountsSource
	interval time.Duration
}

func NewHeartbeatWorker(log *slog.Logger, stats *observability.Stats, counts CountsSource, interval time.Duration) *HeartbeatWorker {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &HeartbeatWorker{log: log, stats: stats, counts: counts, interval: interval}
}

func (w *HeartbeatWorker) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.beat(p)
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping heartbeat")
			return nil
		case <-ticker.C:
			w.beat(p)
		}
	}
}

func (w *HeartbeatWorker) beat(p *process.Process) {
	sample, err := sampleProcess(p)
	if err != nil {
		w.log.Error("Failed to collect self stats", "error", err)
	} else {
		w.stats.RecordProcess(sample)
	}

	counts := w.counts.Counts()
	latest := w.stats.GetLatest()
	w.log.Info("Heartbeat",
		"sessions", counts.Sessions,
		"present", counts.Present,
		"connected", counts.Connected,
		"groups", counts.Groups,
		"open_connections", latest.OpenConnections,
		"rss_bytes", latest.Process.RssBytes,
		"cpu_percent", latest.Process.CpuPercent,
	)
}

// sampleProcess retrieves memory, CPU and OS status of the given process.
func sampleProcess(p *process.Process) (observability.ProcessStats, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return observability.ProcessStats{}, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return observability.ProcessStats{}, err
	}
	status, err := p.Status()
	if err != nil {
		return observability.ProcessStats{}, err
	}
	return observability.ProcessStats{
		Pid:        p.Pid,
		Status:     status,
		CpuPercent: cpuPercent,
		RssBytes:   memInfo.RSS,
	}, nil
}
