// Package remote models the authority tasks are synced to and the
// connectivity check that gates a delivery attempt.
package remote

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/url"
	"sync"
	"time"

	"taskpulse/internal/domain"
)

type Authority interface {
	Deliver(ctx context.Context, tasks []domain.Task) error
}

type Connectivity interface {
	IsConnected(ctx context.Context) bool
}

var ErrUnavailable = errors.New("server unavailable")

// Simulated stands in for a server that does not exist yet: each delivery
// succeeds with probability SuccessRate.
type Simulated struct {
	SuccessRate float64

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewSimulated(successRate float64) *Simulated {
	return &Simulated{SuccessRate: successRate, rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (s *Simulated) Deliver(ctx context.Context, _ []domain.Task) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	roll := s.rnd.Float64()
	s.mu.Unlock()
	if roll >= s.SuccessRate {
		return ErrUnavailable
	}
	return nil
}

// Static reports a fixed connectivity state.
type Static bool

func (c Static) IsConnected(context.Context) bool { return bool(c) }

// Probe reports connectivity by opening a TCP connection to Addr.
type Probe struct {
	Addr    string
	Timeout time.Duration
}

// ProbeFor builds a Probe against the host of rawURL, defaulting the port
// from the scheme.
func ProbeFor(rawURL string, timeout time.Duration) (Probe, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Probe{}, err
	}
	host := u.Host
	if u.Port() == "" {
		port := "80"
		if u.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(u.Hostname(), port)
	}
	return Probe{Addr: host, Timeout: timeout}, nil
}

func (p Probe) IsConnected(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := net.Dialer{Timeout: timeout}
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
