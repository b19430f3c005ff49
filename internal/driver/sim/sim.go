// Package sim is a stand-in gateway driver for local runs and demos. It
// speaks no real protocol; it produces sockets that connect, answer pings
// and die on a configurable schedule so the supervisor can be exercised
// without a live messaging account.
package sim

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/synapselabs/bridge/internal/gateway"
)

// Config controls how unreliable the simulated gateway is.
type Config struct {
	// DialFailRate is the probability (0.0-1.0) that a dial fails.
	DialFailRate float64

	// DialLatency is added to every dial.
	DialLatency time.Duration

	// MeanLifetime is the average time before a connection drops.
	// Zero means connections never drop on their own.
	MeanLifetime time.Duration
}

// Dialer implements gateway.Dialer.
type Dialer struct {
	cfg Config
}

// New creates a simulated dialer.
func New(cfg Config) *Dialer {
	return &Dialer{cfg: cfg}
}

// Dial produces a simulated socket.
func (d *Dialer) Dial(ctx context.Context, session []byte) (gateway.Socket, error) {
	if d.cfg.DialLatency > 0 {
		select {
		case <-time.After(d.cfg.DialLatency):
		case <-ctx.Done():
			return nil, errors.New("connection timed out")
		}
	}

	if d.cfg.DialFailRate > 0 && rand.Float64() < d.cfg.DialFailRate {
		return nil, errors.New("network error: simulated dial failure")
	}

	s := &socket{
		done:    make(chan error, 1),
		session: []byte(`{"driver":"sim"}`),
	}
	if d.cfg.MeanLifetime > 0 {
		lifetime := time.Duration(rand.ExpFloat64() * float64(d.cfg.MeanLifetime))
		s.killer = time.AfterFunc(lifetime, func() {
			s.die(errors.New("connection closed by peer"))
		})
	}
	return s, nil
}

type socket struct {
	mu      sync.Mutex
	done    chan error
	dead    bool
	killer  *time.Timer
	session []byte
}

func (s *socket) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return errors.New("connection closed")
	}
	return nil
}

func (s *socket) Session() []byte { return s.session }

func (s *socket) Done() <-chan error { return s.done }

func (s *socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.killer != nil {
		s.killer.Stop()
	}
	if !s.dead {
		s.dead = true
		close(s.done)
	}
	return nil
}

func (s *socket) die(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dead {
		return
	}
	s.dead = true
	s.done <- err
	close(s.done)
}
