package observability

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/process"
)

// Snapshot is the relay activity exposed on /api/stats.
type Snapshot struct {
	Online             int       `json:"online"`
	ConnectionsTotal   uint64    `json:"connections_total"`
	AuthFailures       uint64    `json:"auth_failures"`
	Evictions          uint64    `json:"evictions"`
	MessagesRouted     uint64    `json:"messages_routed"`
	DeliveryFailures   uint64    `json:"delivery_failures"`
	MalformedEnvelopes uint64    `json:"malformed_envelopes"`
	PresencePushes     uint64    `json:"presence_pushes"`
	CPUPercent         float64   `json:"cpu_percent"`
	RSSBytes           uint64    `json:"rss_bytes"`
	AllocMemMb         uint64    `json:"alloc_mem_mb"`
	NumGC              uint32    `json:"num_gc"`
	Goroutines         int       `json:"goroutines"`
	SampledAt          time.Time `json:"sampled_at"`
}

// Stats gathers counters from the hot path and samples process metrics
// on an interval. Counters are lock free; only the sampled view is guarded.
type Stats struct {
	log      *slog.Logger
	interval time.Duration
	online   func() int

	connections        atomic.Uint64
	authFailures       atomic.Uint64
	evictions          atomic.Uint64
	routed             atomic.Uint64
	deliveryFailures   atomic.Uint64
	malformedEnvelopes atomic.Uint64
	presencePushes     atomic.Uint64

	mu     sync.RWMutex
	latest Snapshot
}

func NewStats(log *slog.Logger, interval time.Duration) *Stats {
	return &Stats{log: log, interval: interval, online: func() int { return 0 }}
}

// WithOnline plugs the source of the online session count.
func (s *Stats) WithOnline(online func() int) *Stats {
	s.online = online
	return s
}

func (s *Stats) IncrConnections() { s.connections.Add(1) }
func (s *Stats) IncrAuthFailures() { s.authFailures.Add(1) }
func (s *Stats) IncrEvictions() { s.evictions.Add(1) }
func (s *Stats) IncrRouted() { s.routed.Add(1) }
func (s *Stats) IncrDeliveryFailures() { s.deliveryFailures.Add(1) }
func (s *Stats) IncrMalformed() { s.malformedEnvelopes.Add(1) }
func (s *Stats) AddPresencePushes(n int) { s.presencePushes.Add(uint64(n)) }

// Counters returns the live counter values without process metrics.
func (s *Stats) Counters() Snapshot {
	return Snapshot{
		Online:             s.online(),
		ConnectionsTotal:   s.connections.Load(),
		AuthFailures:       s.authFailures.Load(),
		Evictions:          s.evictions.Load(),
		MessagesRouted:     s.routed.Load(),
		DeliveryFailures:   s.deliveryFailures.Load(),
		MalformedEnvelopes: s.malformedEnvelopes.Load(),
		PresencePushes:     s.presencePushes.Load(),
		SampledAt:          time.Now().UTC(),
	}
}

// Latest returns the counters merged with the last process sample.
func (s *Stats) Latest() Snapshot {
	snapshot := s.Counters()
	s.mu.RLock()
	defer s.mu.RUnlock()
	snapshot.CPUPercent = s.latest.CPUPercent
	snapshot.RSSBytes = s.latest.RSSBytes
	snapshot.AllocMemMb = s.latest.AllocMemMb
	snapshot.NumGC = s.latest.NumGC
	snapshot.Goroutines = s.latest.Goroutines
	return snapshot
}

// Run samples the process every interval until the context is canceled.
func (s *Stats) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sample(p)
		}
	}
}

func (s *Stats) sample(p *process.Process) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var rss uint64
	if memInfo, err := p.MemoryInfo(); err != nil {
		s.log.Debug("Failed to read process memory", "error", err)
	} else {
		rss = memInfo.RSS
	}
	cpu, err := p.CPUPercent()
	if err != nil {
		s.log.Debug("Failed to read process cpu", "error", err)
	}

	s.mu.Lock()
	s.latest = Snapshot{
		CPUPercent: cpu,
		RSSBytes:   rss,
		AllocMemMb: m.Alloc / 1024 / 1024,
		NumGC:      m.NumGC,
		Goroutines: runtime.NumGoroutine(),
	}
	s.mu.Unlock()

	c := s.Counters()
	s.log.Debug("Relay stats",
		"online", c.Online,
		"routed", c.MessagesRouted,
		"delivery_failures", c.DeliveryFailures,
		"goroutines", runtime.NumGoroutine())
}
