package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/synapselabs/bridge/internal/creds"
	"github.com/synapselabs/bridge/internal/journal"
	"github.com/synapselabs/bridge/internal/resilience"
)

type fakeSocket struct {
	mu      sync.Mutex
	done    chan error
	pingErr error
	closed  bool
	session []byte
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{done: make(chan error, 1), session: []byte("session-blob")}
}

func (s *fakeSocket) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}

func (s *fakeSocket) Session() []byte { return s.session }

func (s *fakeSocket) Done() <-chan error { return s.done }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeSocket) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSocket) die(err error) {
	s.done <- err
	close(s.done)
}

type fakeDialer struct {
	mu    sync.Mutex
	errs  []error // consumed one per Dial; nil entry means success
	socks []*fakeSocket
}

func (d *fakeDialer) Dial(ctx context.Context, session []byte) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.errs) > 0 {
		err := d.errs[0]
		d.errs = d.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	sock := newFakeSocket()
	d.socks = append(d.socks, sock)
	return sock, nil
}

func (d *fakeDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.socks)
}

func (d *fakeDialer) sock(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.socks[i]
}

// blockingDialer parks every Dial until released, so tests can interleave
// lifecycle calls with an in-flight connection attempt.
type blockingDialer struct {
	mu      sync.Mutex
	started chan struct{}
	release chan struct{}
	socks   []*fakeSocket
}

func newBlockingDialer() *blockingDialer {
	return &blockingDialer{
		started: make(chan struct{}, 8),
		release: make(chan struct{}),
	}
}

func (d *blockingDialer) Dial(ctx context.Context, session []byte) (Socket, error) {
	d.started <- struct{}{}
	<-d.release

	d.mu.Lock()
	defer d.mu.Unlock()
	sock := newFakeSocket()
	d.socks = append(d.socks, sock)
	return sock, nil
}

func (d *blockingDialer) sock(i int) *fakeSocket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.socks) {
		return nil
	}
	return d.socks[i]
}

type fakeStore struct {
	mu     sync.Mutex
	blob   []byte
	clears int
	saves  int
}

func (s *fakeStore) Load(ctx context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blob == nil {
		return nil, creds.ErrNotFound
	}
	return s.blob, nil
}

func (s *fakeStore) Save(ctx context.Context, session []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = session
	s.saves++
	return nil
}

func (s *fakeStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blob = nil
	s.clears++
	return nil
}

func (s *fakeStore) cleared() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clears
}

func (s *fakeStore) saved() ([]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blob, s.saves
}

func newTestService(t *testing.T, dialer *fakeDialer, store *fakeStore) (*Service, *journal.Memory) {
	t.Helper()
	jour := journal.NewMemory(0)
	s := NewService(dialer, store, jour, Config{
		ConnectTimeout: time.Second,
		InitTimeout:    5 * time.Second,
		ProbeInterval:  time.Minute,
		RestartDelay:   10 * time.Millisecond,
	}, slog.Default())

	// Fast breaker so retries fire within the test.
	s.breaker = resilience.NewBreaker(resilience.BreakerConfig{
		BaseDelay:     time.Millisecond,
		MaxDelay:      10 * time.Millisecond,
		OnStateChange: s.onCircuitChange,
	})
	t.Cleanup(s.Stop)
	return s, jour
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func hasEvent(t *testing.T, jour *journal.Memory, kind journal.EventKind) bool {
	t.Helper()
	events, err := jour.Recent(context.Background(), 0)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	for _, ev := range events {
		if ev.Kind == kind {
			return true
		}
	}
	return false
}

func TestServiceConnectsAndPersistsSession(t *testing.T) {
	dialer := &fakeDialer{}
	store := &fakeStore{}
	s, jour := newTestService(t, dialer, store)

	s.Start()
	waitFor(t, time.Second, func() bool {
		_, saves := store.saved()
		return s.Status().Connected && saves >= 1
	})

	if blob, _ := store.saved(); string(blob) != "session-blob" {
		t.Errorf("session not persisted, got %q", blob)
	}
	if got := s.Status().Circuit.State; got != resilience.StateClosed {
		t.Errorf("circuit = %v, want closed", got)
	}
	if !hasEvent(t, jour, journal.KindConnected) {
		t.Error("missing connected journal event")
	}
}

func TestServiceRetriesTransientFailures(t *testing.T) {
	dialer := &fakeDialer{errs: []error{
		errors.New("network error"),
		errors.New("connection refused"),
		nil,
	}}
	store := &fakeStore{}
	s, jour := newTestService(t, dialer, store)

	s.Start()
	waitFor(t, time.Second, func() bool { return s.Status().Connected })

	if store.cleared() != 0 {
		t.Error("transient failures must not clear credentials")
	}
	if !hasEvent(t, jour, journal.KindAttemptFailed) {
		t.Error("missing attempt_failed journal event")
	}
	// Success resets the breaker completely.
	snap := s.Status().Circuit
	if snap.State != resilience.StateClosed || snap.FailureCount != 0 {
		t.Errorf("circuit after recovery = %+v", snap)
	}
}

func TestServiceHaltsOnLogout(t *testing.T) {
	dialer := &fakeDialer{errs: []error{errors.New("logged out")}}
	store := &fakeStore{blob: []byte("old-session")}
	s, jour := newTestService(t, dialer, store)

	s.Start()
	waitFor(t, time.Second, func() bool { return s.Status().Halted })

	if store.cleared() != 1 {
		t.Errorf("clears = %d, want 1", store.cleared())
	}
	if dialer.dials() != 0 {
		t.Error("no successful dial expected")
	}
	if !hasEvent(t, jour, journal.KindManualRequired) {
		t.Error("missing manual_required journal event")
	}
	if !hasEvent(t, jour, journal.KindCredsCleared) {
		t.Error("missing creds_cleared journal event")
	}

	// Halted means no further attempts, ever.
	time.Sleep(50 * time.Millisecond)
	if s.Status().Connected {
		t.Error("halted service must not reconnect")
	}
}

func TestServiceReconnectsAfterConflict(t *testing.T) {
	dialer := &fakeDialer{}
	store := &fakeStore{}
	s, jour := newTestService(t, dialer, store)

	s.Start()
	waitFor(t, time.Second, func() bool { return dialer.dials() >= 1 })

	// Another session takes over: conflict tears the connection down,
	// clears credentials, but stays retryable.
	dialer.sock(0).die(errors.New("Stream Errored (conflict)"))

	waitFor(t, time.Second, func() bool { return dialer.dials() >= 2 })
	if store.cleared() < 1 {
		t.Error("conflict must clear credentials")
	}
	if !dialer.sock(0).isClosed() {
		t.Error("dead socket must be closed")
	}
	if !hasEvent(t, jour, journal.KindDisconnected) {
		t.Error("missing disconnected journal event")
	}
}

func TestServiceHealthFailureTearsDown(t *testing.T) {
	dialer := &fakeDialer{}
	store := &fakeStore{}
	s, jour := newTestService(t, dialer, store)

	s.Start()
	waitFor(t, time.Second, func() bool { return dialer.dials() >= 1 })

	s.onHealthFailure(errors.New("ping timeout"), time.Now())

	waitFor(t, time.Second, func() bool { return dialer.dials() >= 2 })
	if !dialer.sock(0).isClosed() {
		t.Error("health failure must tear down the socket")
	}
	if !hasEvent(t, jour, journal.KindHealthFailure) {
		t.Error("missing health_failure journal event")
	}
}

func TestServiceForceRestart(t *testing.T) {
	dialer := &fakeDialer{errs: []error{errors.New("logged out")}}
	store := &fakeStore{blob: []byte("old")}
	s, _ := newTestService(t, dialer, store)

	s.Start()
	waitFor(t, time.Second, func() bool { return s.Status().Halted })

	if err := s.ForceRestart(context.Background()); err != nil {
		t.Fatalf("ForceRestart: %v", err)
	}

	waitFor(t, time.Second, func() bool { return s.Status().Connected })
	if s.Status().Halted {
		t.Error("force restart must clear the halt")
	}
	if store.cleared() < 2 {
		t.Errorf("clears = %d, want unconditional clear on restart", store.cleared())
	}
}

func TestServiceProbeWithoutSocket(t *testing.T) {
	s, _ := newTestService(t, &fakeDialer{}, &fakeStore{})

	if err := s.Probe(context.Background()); err == nil {
		t.Error("Probe without a live socket must error")
	}
}

func TestServiceStopRacesInFlightDial(t *testing.T) {
	dialer := newBlockingDialer()
	store := &fakeStore{}
	jour := journal.NewMemory(0)
	s := NewService(dialer, store, jour, Config{
		ConnectTimeout: time.Second,
		ProbeInterval:  time.Minute,
	}, slog.Default())

	s.Start()
	<-dialer.started

	// Stop lands while the dial is parked; the late success must be
	// discarded, not installed.
	s.Stop()
	close(dialer.release)

	waitFor(t, time.Second, func() bool {
		sock := dialer.sock(0)
		return sock != nil && sock.isClosed()
	})
	if s.Status().Connected {
		t.Error("stale dial success resurrected a stopped service")
	}
	if hasEvent(t, jour, journal.KindConnected) {
		t.Error("stopped service must not report connected")
	}
}

func TestServiceForceRestartRacesInFlightDial(t *testing.T) {
	dialer := newBlockingDialer()
	store := &fakeStore{}
	jour := journal.NewMemory(0)
	s := NewService(dialer, store, jour, Config{
		ConnectTimeout: time.Second,
		ProbeInterval:  time.Minute,
		RestartDelay:   10 * time.Millisecond,
	}, slog.Default())
	t.Cleanup(s.Stop)

	s.Start()
	<-dialer.started

	if err := s.ForceRestart(context.Background()); err != nil {
		t.Fatalf("ForceRestart: %v", err)
	}

	// The pre-restart dial finishes now; its socket belongs to a dead
	// generation and must be closed, and the service must still end up
	// connected through a fresh dial.
	close(dialer.release)

	waitFor(t, time.Second, func() bool { return s.Status().Connected })
	waitFor(t, time.Second, func() bool {
		sock := dialer.sock(0)
		return sock != nil && sock.isClosed()
	})
	if live := dialer.sock(1); live == nil || live.isClosed() {
		t.Error("restart's own socket should be live")
	}
}

func TestServiceInitCeilingFeedsBreaker(t *testing.T) {
	dialer := newBlockingDialer()
	store := &fakeStore{}
	jour := journal.NewMemory(0)
	s := NewService(dialer, store, jour, Config{
		ConnectTimeout: time.Second,
		InitTimeout:    30 * time.Millisecond,
		ProbeInterval:  time.Minute,
	}, slog.Default())
	t.Cleanup(func() {
		s.Stop()
		close(dialer.release)
	})

	s.Start()
	<-dialer.started

	// The dial never finishes; the watchdog must count a failure.
	waitFor(t, time.Second, func() bool {
		return hasEvent(t, jour, journal.KindAttemptFailed)
	})
	if got := s.Status().Circuit.FailureCount; got < 1 {
		t.Errorf("failureCount = %d, want >= 1 after init ceiling", got)
	}

	events, _ := jour.Recent(context.Background(), 0)
	for _, ev := range events {
		if ev.Kind == journal.KindAttemptFailed && ev.Category != "timeout" {
			t.Errorf("init ceiling failure classified %q, want timeout", ev.Category)
		}
	}
}

func TestServiceInitWatchdogSilentOnceConnected(t *testing.T) {
	dialer := &fakeDialer{}
	store := &fakeStore{}
	jour := journal.NewMemory(0)
	s := NewService(dialer, store, jour, Config{
		ConnectTimeout: time.Second,
		InitTimeout:    30 * time.Millisecond,
		ProbeInterval:  time.Minute,
	}, slog.Default())
	t.Cleanup(s.Stop)

	s.Start()
	waitFor(t, time.Second, func() bool { return s.Status().Connected })

	// Outlive the ceiling; a connected service must see no synthetic
	// failure.
	time.Sleep(60 * time.Millisecond)
	if hasEvent(t, jour, journal.KindAttemptFailed) {
		t.Error("watchdog fired after successful connection")
	}
	if got := s.Status().Circuit.FailureCount; got != 0 {
		t.Errorf("failureCount = %d, want 0", got)
	}
}

func TestServiceStaleSocketEventIgnored(t *testing.T) {
	dialer := &fakeDialer{}
	store := &fakeStore{}
	s, _ := newTestService(t, dialer, store)

	s.Start()
	waitFor(t, time.Second, func() bool { return dialer.dials() >= 1 })

	first := dialer.sock(0)
	first.die(errors.New("network error"))
	waitFor(t, time.Second, func() bool { return dialer.dials() >= 2 })

	failures := s.Status().Circuit.FailureCount
	// A duplicate failure report for the already-replaced socket must not
	// touch the breaker.
	s.failure(0, errors.New("network error"), journal.KindDisconnected)
	if got := s.Status().Circuit.FailureCount; got != failures {
		t.Errorf("stale event changed failureCount: %d -> %d", failures, got)
	}
}
