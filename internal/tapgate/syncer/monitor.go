package syncer

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Pinger is the reachability probe, satisfied by the authority client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ConnectivityMonitor probes the authority on an interval and fires a
// sync when connectivity comes back.  It runs as a background goroutine
// and is safe to stop via its context or the Stop method.
type ConnectivityMonitor struct {
	pinger   Pinger
	onOnline func()
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger
	online   atomic.Bool
	cancel   context.CancelFunc
	done     chan struct{}
}

// MonitorConfig holds the parameters for NewConnectivityMonitor.
type MonitorConfig struct {
	// Interval is how often the probe runs.  Defaults to 30 seconds.
	Interval time.Duration

	// ProbeTimeout bounds one probe.  Defaults to 3 seconds.
	ProbeTimeout time.Duration
}

// NewConnectivityMonitor creates a monitor but does not start it.
// onOnline is invoked on every offline-to-online transition; it must
// not block (Coordinator.TriggerSync qualifies).
func NewConnectivityMonitor(p Pinger, cfg MonitorConfig, onOnline func(), logger zerolog.Logger) *ConnectivityMonitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeout := cfg.ProbeTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	return &ConnectivityMonitor{
		pinger:   p,
		onOnline: onOnline,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Online reports the result of the most recent probe.
func (m *ConnectivityMonitor) Online() bool {
	return m.online.Load()
}

// Start begins the background probe loop.  It probes immediately on
// startup, then repeats on the configured interval.  The loop exits
// when ctx is cancelled or Stop is called.
func (m *ConnectivityMonitor) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)

	go m.loop(ctx)

	m.logger.Debug().Dur("interval", m.interval).Msg("connectivity monitor started")
}

// Stop signals the monitor to exit and waits for it to finish.
func (m *ConnectivityMonitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

func (m *ConnectivityMonitor) loop(ctx context.Context) {
	defer close(m.done)

	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *ConnectivityMonitor) probe(ctx context.Context) {
	probeCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	err := m.pinger.Ping(probeCtx)
	nowOnline := err == nil
	wasOnline := m.online.Swap(nowOnline)

	switch {
	case nowOnline && !wasOnline:
		m.logger.Info().Msg("authority reachable, triggering sync")
		if m.onOnline != nil {
			m.onOnline()
		}
	case !nowOnline && wasOnline:
		m.logger.Info().Err(err).Msg("authority unreachable, offline mode")
	}
}
