package resilience

import (
	"context"
	"sync"
	"time"
)

// Prober proves connection liveness on demand. The health monitor never
// touches the socket itself; the gateway service implements this with a
// lightweight presence call.
type Prober interface {
	Probe(ctx context.Context) error
}

// MonitorConfig holds tuning for the health monitor.
type MonitorConfig struct {
	// Interval between liveness probes. Default: 60s.
	Interval time.Duration

	// ProbeTimeout bounds each probe call. Default: 10s.
	ProbeTimeout time.Duration

	// OnProbe is called after every successful probe.
	OnProbe func(at time.Time)

	// OnFailure is called when a probe errors. The monitor keeps running;
	// tearing the connection down is the caller's decision.
	OnFailure func(err error, at time.Time)
}

func (c *MonitorConfig) withDefaults() MonitorConfig {
	cfg := *c
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	return cfg
}

// HealthMonitor detects silent connection death: a socket can stop moving
// data without ever firing a close event, and only a periodic probe
// catches that. Probe failures are reported as data, never panics.
type HealthMonitor struct {
	cfg    MonitorConfig
	prober Prober

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	lastPing time.Time

	// now is overridable for tests.
	now func() time.Time
}

// NewHealthMonitor creates a stopped monitor.
func NewHealthMonitor(prober Prober, cfg MonitorConfig) *HealthMonitor {
	return &HealthMonitor{
		cfg:    cfg.withDefaults(),
		prober: prober,
		now:    time.Now,
	}
}

// Start begins periodic probing. Calling Start on a running monitor
// restarts it; there is never more than one active timer.
func (m *HealthMonitor) Start() {
	m.mu.Lock()
	oldStop, oldDone := m.stop, m.done
	stop := make(chan struct{})
	done := make(chan struct{})
	m.stop = stop
	m.done = done
	m.mu.Unlock()

	// The old loop must be fully gone before the new one is scheduled,
	// otherwise two tickers can briefly coexist.
	if oldStop != nil {
		close(oldStop)
		<-oldDone
	}
	go m.run(stop, done)
}

// Stop cancels the probe timer and waits for the probe loop to exit.
// Idempotent when already stopped.
func (m *HealthMonitor) Stop() {
	m.mu.Lock()
	oldStop, oldDone := m.stop, m.done
	m.stop = nil
	m.done = nil
	m.mu.Unlock()

	if oldStop != nil {
		close(oldStop)
		<-oldDone
	}
}

// IsHealthy reports whether the last successful probe is recent enough:
// within two probe intervals. False if nothing ever succeeded.
func (m *HealthMonitor) IsHealthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.lastPing.IsZero() {
		return false
	}
	return m.now().Sub(m.lastPing) < 2*m.cfg.Interval
}

// LastPing returns the time of the last successful probe, zero if none.
func (m *HealthMonitor) LastPing() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastPing
}

func (m *HealthMonitor) run(stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			m.probe()
		}
	}
}

func (m *HealthMonitor) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProbeTimeout)
	err := m.prober.Probe(ctx)
	cancel()

	at := m.now()
	if err != nil {
		if m.cfg.OnFailure != nil {
			// Dispatched off the probe loop so the handler may call Stop
			// without deadlocking against it.
			go m.cfg.OnFailure(err, at)
		}
		return
	}

	m.mu.Lock()
	m.lastPing = at
	m.mu.Unlock()

	if m.cfg.OnProbe != nil {
		m.cfg.OnProbe(at)
	}
}
