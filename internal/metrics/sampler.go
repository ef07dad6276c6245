package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	psnet "github.com/shirou/gopsutil/v3/net"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/rickgao/tcp-relay/internal/sink"
)

// SamplerConfig holds host sampler configuration.
type SamplerConfig struct {
	Interval time.Duration // <= 0 disables the loop; Sample still works
	DiskPath string        // Filesystem whose usage is reported
	ClientID string        // ClientID the samples are published under
}

// DefaultSamplerConfig returns default configuration.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		Interval: 15 * time.Second,
		DiskPath: "/",
		ClientID: sink.ServerClientID,
	}
}

// probes reads host counters. Swapped out in tests.
type probes struct {
	cpuPercent func() (float64, error)
	memUsedMB  func() (float64, error)
	diskPct    func(path string) (float64, error)
	procCount  func() (int, error)
	netBytes   func() (sent, recv uint64, err error)
}

func hostProbes() probes {
	return probes{
		cpuPercent: func() (float64, error) {
			// Interval 0 compares against the previous call.
			pct, err := cpu.Percent(0, false)
			if err != nil || len(pct) == 0 {
				return 0, err
			}
			return pct[0], nil
		},
		memUsedMB: func() (float64, error) {
			vm, err := mem.VirtualMemory()
			if err != nil {
				return 0, err
			}
			return float64(vm.Used) / 1024 / 1024, nil
		},
		diskPct: func(path string) (float64, error) {
			u, err := disk.Usage(path)
			if err != nil {
				return 0, err
			}
			return u.UsedPercent, nil
		},
		procCount: func() (int, error) {
			pids, err := process.Pids()
			return len(pids), err
		},
		netBytes: func() (uint64, uint64, error) {
			counters, err := psnet.IOCounters(false)
			if err != nil || len(counters) == 0 {
				return 0, 0, err
			}
			return counters[0].BytesSent, counters[0].BytesRecv, nil
		},
	}
}

// Sampler periodically publishes host SystemMetrics.
type Sampler struct {
	cfg    SamplerConfig
	out    sink.MetricsPublisher
	logger *slog.Logger
	probe  probes
	now    func() time.Time

	// Previous network counters for rate computation. Only touched by the
	// goroutine calling Sample.
	lastAt   time.Time
	lastSent uint64
	lastRecv uint64
}

// NewSampler creates a Sampler publishing to out.
func NewSampler(cfg SamplerConfig, out sink.MetricsPublisher, logger *slog.Logger) *Sampler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DiskPath == "" {
		cfg.DiskPath = DefaultSamplerConfig().DiskPath
	}
	if cfg.ClientID == "" {
		cfg.ClientID = sink.ServerClientID
	}
	return &Sampler{
		cfg:    cfg,
		out:    out,
		logger: logger,
		probe:  hostProbes(),
		now:    time.Now,
	}
}

// Run publishes a sample every Interval until ctx is cancelled.
func (s *Sampler) Run(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		s.logger.Info("host sampler disabled")
		return nil
	}

	s.logger.Info("host sampler started", "interval", s.cfg.Interval, "client_id", s.cfg.ClientID)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Sample() // Prime the cpu and network baselines

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.out.PublishMetrics(s.cfg.ClientID, s.Sample())
		}
	}
}

// Sample reads the host once. Probes that fail leave their field zero.
func (s *Sampler) Sample() sink.SystemMetrics {
	now := s.now()
	m := sink.SystemMetrics{Timestamp: now}

	var err error
	if m.CPUUsage, err = s.probe.cpuPercent(); err != nil {
		s.logger.Debug("cpu sample failed", "error", err)
	}
	if m.MemoryUsage, err = s.probe.memUsedMB(); err != nil {
		s.logger.Debug("memory sample failed", "error", err)
	}
	if m.DiskUsage, err = s.probe.diskPct(s.cfg.DiskPath); err != nil {
		s.logger.Debug("disk sample failed", "path", s.cfg.DiskPath, "error", err)
	}
	if m.ProcessCount, err = s.probe.procCount(); err != nil {
		s.logger.Debug("process count failed", "error", err)
	}

	sent, recv, err := s.probe.netBytes()
	if err != nil {
		s.logger.Debug("network sample failed", "error", err)
		return m
	}
	if !s.lastAt.IsZero() && sent >= s.lastSent && recv >= s.lastRecv {
		if secs := now.Sub(s.lastAt).Seconds(); secs > 0 {
			m.Network.UploadSpeed = float64(sent-s.lastSent) / secs
			m.Network.DownloadSpeed = float64(recv-s.lastRecv) / secs
			m.Network.TotalSpeed = m.Network.UploadSpeed + m.Network.DownloadSpeed
		}
	}
	s.lastAt, s.lastSent, s.lastRecv = now, sent, recv
	return m
}
