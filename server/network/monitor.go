package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	commonlog "carecomms/server/common/log"
	"carecomms/server/domain"
	"carecomms/server/stream"
)

const (
	defaultProbeInterval = 10 * time.Second
	defaultProbeTimeout  = 5 * time.Second

	// Probe round-trips slower than this count as a poor connection.
	poorLatencyThreshold = 750 * time.Millisecond
)

// Monitor probes the hub and publishes connectivity as replay-latest
// streams. Registered triggers run once per offline-to-online transition;
// the sync coordinator hooks in there.
type Monitor struct {
	probeURL string
	interval time.Duration
	http     *http.Client

	online  *stream.Broadcaster[bool]
	quality *stream.Broadcaster[domain.ConnectionQuality]

	mu       sync.Mutex
	last     bool
	hasLast  bool
	triggers []func(context.Context)
}

func NewMonitor(probeURL string, interval, timeout time.Duration) *Monitor {
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}
	return &Monitor{
		probeURL: probeURL,
		interval: interval,
		http:     &http.Client{Timeout: timeout},
		online:   stream.NewBroadcaster[bool](),
		quality:  stream.NewBroadcaster[domain.ConnectionQuality](),
	}
}

// CheckConnectivity is the one-shot probe: a reachable hub that answers
// below 5xx counts as online.
func (m *Monitor) CheckConnectivity(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.probeURL, nil)
	if err != nil {
		return false
	}
	start := time.Now()
	resp, err := m.http.Do(req)
	if err != nil {
		m.record(false, 0)
		return false
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 500 {
		m.record(false, 0)
		return false
	}
	m.record(true, time.Since(start))
	return true
}

// Start runs the probe loop until ctx ends. The first probe fires
// immediately so subscribers get a state without waiting a full interval.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.CheckConnectivity(ctx)
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CheckConnectivity(ctx)
			}
		}
	}()
}

// OnOnline registers a trigger invoked on every offline-to-online edge,
// including a first probe that lands online, so ops enqueued before the
// probe loop settles still replay.
func (m *Monitor) OnOnline(fn func(context.Context)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.triggers = append(m.triggers, fn)
}

func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

func (m *Monitor) Online(ctx context.Context) <-chan bool {
	return m.online.Subscribe(ctx)
}

func (m *Monitor) Quality(ctx context.Context) <-chan domain.ConnectionQuality {
	return m.quality.Subscribe(ctx)
}

func (m *Monitor) record(online bool, latency time.Duration) {
	m.mu.Lock()
	wasOnline := m.last
	hadState := m.hasLast
	m.last = online
	m.hasLast = true
	triggers := append([]func(context.Context){}, m.triggers...)
	m.mu.Unlock()

	if !hadState || wasOnline != online {
		m.online.Publish(online)
		commonlog.Infof("event=network_monitor action=transition online=%t latency_ms=%d", online, latency.Milliseconds())
	}
	m.quality.Publish(qualityFor(online, latency))

	if online && !wasOnline {
		for _, fn := range triggers {
			go fn(context.Background())
		}
	}
}

func qualityFor(online bool, latency time.Duration) domain.ConnectionQuality {
	if !online {
		return domain.QualityOffline
	}
	if latency >= poorLatencyThreshold {
		return domain.QualityPoor
	}
	return domain.QualityGood
}
