package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/synapselabs/bridge/internal/creds"
	"github.com/synapselabs/bridge/internal/journal"
	"github.com/synapselabs/bridge/internal/metrics"
	"github.com/synapselabs/bridge/internal/resilience"
)

// Config holds supervision timeouts. Zero values get defaults.
type Config struct {
	ConnectTimeout time.Duration // per-attempt ceiling, default 30s
	InitTimeout    time.Duration // first-connection ceiling, default 120s
	ProbeInterval  time.Duration // liveness probe period, default 60s
	ProbeTimeout   time.Duration // per-probe ceiling, default 10s
	RestartDelay   time.Duration // pause after a forced restart, default 2s
}

func (c *Config) withDefaults() Config {
	cfg := *c
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.InitTimeout <= 0 {
		cfg.InitTimeout = 120 * time.Second
	}
	if cfg.ProbeInterval <= 0 {
		cfg.ProbeInterval = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 10 * time.Second
	}
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = 2 * time.Second
	}
	return cfg
}

// Status is a point-in-time view of the supervised connection.
type Status struct {
	Connected bool                       `json:"connected"`
	Halted    bool                       `json:"halted"`
	Healthy   bool                       `json:"healthy"`
	LastPing  time.Time                  `json:"last_ping"`
	Circuit   resilience.BreakerSnapshot `json:"-"`
}

var errInitTimeout = errors.New("gateway initialization timed out")

// Service owns the socket lifecycle. It serializes connection attempts,
// gates them through the circuit breaker, keeps the health monitor running
// while connected, and purges credentials when the classifier says the
// stored session is dead.
//
// Errors from the socket never propagate out of the service; they become
// breaker transitions, journal events and log lines.
type Service struct {
	cfg    Config
	dialer Dialer
	store  creds.Store
	jour   journal.Journal
	log    *slog.Logger

	breaker *resilience.Breaker
	monitor *resilience.HealthMonitor

	mu         sync.Mutex
	sock       Socket
	gen        uint64 // bumped on every connect and teardown; stale events are dropped
	connecting bool
	halted     bool
	stopped    bool
	retryTimer *time.Timer

	readyOnce sync.Once
	ready     chan struct{} // closed after the first successful connection
}

// NewService wires the resilience components around the dialer.
func NewService(dialer Dialer, store creds.Store, jour journal.Journal, cfg Config, log *slog.Logger) *Service {
	s := &Service{
		cfg:    cfg.withDefaults(),
		dialer: dialer,
		store:  store,
		jour:   jour,
		log:    log,
		ready:  make(chan struct{}),
	}

	s.breaker = resilience.NewBreaker(resilience.BreakerConfig{
		OnStateChange: s.onCircuitChange,
	})
	s.monitor = resilience.NewHealthMonitor(s, resilience.MonitorConfig{
		Interval:     s.cfg.ProbeInterval,
		ProbeTimeout: s.cfg.ProbeTimeout,
		OnProbe:      s.onHealthProbe,
		OnFailure:    s.onHealthFailure,
	})
	return s
}

// Start launches the first connection attempt and arms the initialization
// watchdog: not being connected within InitTimeout counts as a connection
// failure and feeds back into the breaker.
func (s *Service) Start() {
	go s.attempt()
	go s.initWatchdog()
}

// Stop halts supervision and closes the live socket, if any.
func (s *Service) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancelRetryLocked()
	sock := s.sock
	s.sock = nil
	s.gen++
	s.mu.Unlock()

	s.monitor.Stop()
	if sock != nil {
		_ = sock.Close()
	}
}

// ForceRestart is the operator override: purge credentials no matter what,
// reset the circuit, wait briefly and reconnect from scratch.
func (s *Service) ForceRestart(ctx context.Context) error {
	s.mu.Lock()
	s.halted = false
	s.cancelRetryLocked()
	sock := s.sock
	s.sock = nil
	s.gen++
	s.mu.Unlock()

	s.monitor.Stop()
	if sock != nil {
		_ = sock.Close()
	}

	if err := s.store.Clear(ctx); err != nil {
		return err
	}
	metrics.CredentialClears.Inc()
	s.breaker.Reset()
	s.record(journal.Event{Kind: journal.KindForceRestart})
	s.log.Warn("Force restart requested, credentials cleared")

	s.mu.Lock()
	s.scheduleRetryLocked(s.cfg.RestartDelay)
	s.mu.Unlock()
	return nil
}

// Status returns the current connection view for the ops surface.
func (s *Service) Status() Status {
	s.mu.Lock()
	connected := s.sock != nil
	halted := s.halted
	s.mu.Unlock()

	return Status{
		Connected: connected,
		Halted:    halted,
		Healthy:   s.monitor.IsHealthy(),
		LastPing:  s.monitor.LastPing(),
		Circuit:   s.breaker.Snapshot(),
	}
}

// Probe implements resilience.Prober against the live socket.
func (s *Service) Probe(ctx context.Context) error {
	s.mu.Lock()
	sock := s.sock
	s.mu.Unlock()

	if sock == nil {
		return errors.New("no live connection")
	}
	return sock.Ping(ctx)
}

// attempt runs one gated connection attempt. At most one runs at a time.
func (s *Service) attempt() {
	s.mu.Lock()
	if s.stopped || s.halted || s.connecting || s.sock != nil {
		s.mu.Unlock()
		return
	}
	if !s.breaker.CanAttempt() {
		wait := s.breaker.Snapshot().TimeUntilNextAttempt
		s.scheduleRetryLocked(wait)
		s.mu.Unlock()
		return
	}
	s.connecting = true
	gen := s.gen
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout)
	defer cancel()

	session, err := s.store.Load(ctx)
	if err != nil && !errors.Is(err, creds.ErrNotFound) {
		s.log.Warn("Failed to load session, pairing fresh", "error", err)
		session = nil
	}

	start := time.Now()
	sock, err := s.dialer.Dial(ctx, session)
	metrics.ConnectLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		s.mu.Lock()
		s.connecting = false
		s.mu.Unlock()
		s.failure(gen, err, journal.KindAttemptFailed)
		return
	}

	s.mu.Lock()
	s.connecting = false
	// Stop or ForceRestart may have run while the dial was in flight; a
	// stale success must not resurrect the service or shadow a socket the
	// restart path is about to own.
	if s.stopped || gen != s.gen {
		// A restart's own retry may have come and gone while this dial
		// held the connecting flag, so re-arm it. attempt re-checks the
		// breaker gate, so an extra immediate retry is harmless.
		if !s.stopped && !s.halted {
			s.scheduleRetryLocked(0)
		}
		s.mu.Unlock()
		_ = sock.Close()
		return
	}
	s.gen++
	gen = s.gen
	s.sock = sock
	s.mu.Unlock()

	if blob := sock.Session(); len(blob) > 0 {
		if err := s.store.Save(context.Background(), blob); err != nil {
			s.log.Warn("Failed to persist session", "error", err)
		}
	}

	s.breaker.OnSuccess()
	s.monitor.Start()
	metrics.Reconnects.Inc()
	s.record(journal.Event{Kind: journal.KindConnected})
	s.log.Info("Gateway connected")
	s.readyOnce.Do(func() { close(s.ready) })

	go s.watch(gen, sock)
}

// watch waits for the socket to die and routes the terminal error through
// the failure path.
func (s *Service) watch(gen uint64, sock Socket) {
	err, ok := <-sock.Done()
	if !ok || err == nil {
		err = errors.New("connection closed")
	}
	s.failure(gen, err, journal.KindDisconnected)
}

// failure is the single path for every kind of connection failure: dial
// errors, abnormal closes and health-probe failures all land here with the
// same consequences.
func (s *Service) failure(gen uint64, err error, kind journal.EventKind) {
	s.mu.Lock()
	if gen != s.gen || s.stopped {
		s.mu.Unlock()
		return
	}
	sock := s.sock
	s.sock = nil
	s.gen++
	s.mu.Unlock()

	s.monitor.Stop()
	if sock != nil {
		_ = sock.Close()
	}

	cls := resilience.Classify(err)
	metrics.ConnectionFailures.WithLabelValues(cls.Category.String()).Inc()
	s.record(journal.Event{
		Kind:     kind,
		Category: cls.Category.String(),
		Detail:   err.Error(),
	})
	s.log.Warn("Gateway connection failed",
		"kind", string(kind),
		"category", cls.Category.String(),
		"error", err,
	)

	if cls.ClearCredentials {
		if cerr := s.store.Clear(context.Background()); cerr != nil {
			s.log.Error("Failed to clear credentials", "error", cerr)
		} else {
			metrics.CredentialClears.Inc()
			s.record(journal.Event{Kind: journal.KindCredsCleared, Category: cls.Category.String()})
			s.log.Warn("Credentials cleared, re-pairing required on next connect")
		}
	}

	s.breaker.OnFailure(err)

	if !cls.Retryable {
		s.mu.Lock()
		s.halted = true
		s.mu.Unlock()
		s.record(journal.Event{Kind: journal.KindManualRequired, Category: cls.Category.String()})
		s.log.Error("Not retryable, manual restart required", "category", cls.Category.String())
		return
	}

	wait := s.breaker.Snapshot().TimeUntilNextAttempt
	s.mu.Lock()
	s.scheduleRetryLocked(wait)
	s.mu.Unlock()
}

// onHealthProbe runs after each successful liveness probe.
func (s *Service) onHealthProbe(at time.Time) {
	metrics.HealthProbes.Inc()
	s.log.Debug("Health probe ok", "at", at.Format(time.RFC3339))
}

// onHealthFailure runs when a liveness probe errors: tear down the socket
// and treat it exactly like a connection failure.
func (s *Service) onHealthFailure(err error, at time.Time) {
	metrics.HealthProbeFailures.Inc()

	s.mu.Lock()
	gen := s.gen
	s.mu.Unlock()
	s.failure(gen, err, journal.KindHealthFailure)
}

// onCircuitChange surfaces breaker transitions to logs, metrics and the
// journal.
func (s *Service) onCircuitChange(c resilience.StateChange) {
	metrics.CircuitState.Set(float64(c.State))

	s.record(journal.Event{
		Kind:         journal.KindCircuitChange,
		State:        c.State.String(),
		FailureCount: c.FailureCount,
	})

	attrs := []any{"state", c.State.String(), "failures", c.FailureCount}
	if !c.NextAttempt.IsZero() && c.Delay > 0 {
		attrs = append(attrs, "retry_in", c.Delay.Round(time.Millisecond))
	}
	s.log.Info("Circuit state changed", attrs...)
}

// initWatchdog enforces the first-connection ceiling.
func (s *Service) initWatchdog() {
	timer := time.NewTimer(s.cfg.InitTimeout)
	defer timer.Stop()

	select {
	case <-s.ready:
	case <-timer.C:
		s.mu.Lock()
		gen := s.gen
		connected := s.sock != nil
		s.mu.Unlock()
		if !connected {
			s.failure(gen, errInitTimeout, journal.KindAttemptFailed)
		}
	}
}

// scheduleRetryLocked replaces any pending retry timer. The previous timer
// is cancelled, not ignored, so two attempts can never race. Caller holds
// s.mu.
func (s *Service) scheduleRetryLocked(d time.Duration) {
	s.cancelRetryLocked()
	if d < 0 {
		d = 0
	}
	s.retryTimer = time.AfterFunc(d, s.attempt)
}

func (s *Service) cancelRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
}

func (s *Service) record(ev journal.Event) {
	if s.jour == nil {
		return
	}
	if err := s.jour.Record(context.Background(), ev); err != nil {
		s.log.Warn("Failed to record journal event", "kind", string(ev.Kind), "error", err)
	}
}
