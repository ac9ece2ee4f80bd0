// SPDX-License-Identifier: MPL-2.0

package sshpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/crypto/ssh"
)

type (
	// DialFunc establishes an authenticated SSH client. Injectable for tests.
	DialFunc func(ctx context.Context, host string, port int) (*ssh.Client, error)

	// Options configures a Pool. Zero-value fields fall back to defaults.
	Options struct {
		// BaseBackoff is the backoff unit (default 1s).
		BaseBackoff time.Duration
		// MaxBackoff caps the exponential window (default 60s).
		MaxBackoff time.Duration
		// ProbeInterval bounds how stale a cached client may be before a
		// liveness probe is required (default 30s).
		ProbeInterval time.Duration
		// Dial defaults to the package's ssh_config-aware dialer.
		Dial DialFunc
		// Now is the clock, injectable for tests.
		Now func() time.Time
		// Logger receives connection lifecycle events.
		Logger *log.Logger
	}

	// HostState is the health/backoff record kept per host. Created on first
	// use, mutated on every success or failure, never destroyed.
	HostState struct {
		LastFailureAt       time.Time
		ConsecutiveFailures int
		BackoffUntil        time.Time
	}

	// AcquireOptions controls one Acquire call.
	AcquireOptions struct {
		// Port overrides the resolved SSH port when non-zero.
		Port int
		// NoWait fails fast with a BackoffError instead of waiting out an
		// active backoff window.
		NoWait bool
		// OnWait reports the remaining wait before each backoff sleep.
		OnWait func(remaining time.Duration)
	}

	// BackoffError reports an Acquire refused because the host is inside an
	// active backoff window.
	BackoffError struct {
		Host  string
		Until time.Time
	}

	// Pool is the per-host connection registry. All state is guarded by mu;
	// MarkHealthy and ReportFailure are safe under concurrent access from
	// multiple in-flight execs.
	Pool struct {
		mu      sync.Mutex
		opts    Options
		hosts   map[string]*HostState
		clients map[string]*cachedClient
	}

	cachedClient struct {
		client    *ssh.Client
		lastProbe time.Time
	}
)

func (e *BackoffError) Error() string {
	return fmt.Sprintf("host %s is in backoff until %s", e.Host, e.Until.Format(time.RFC3339))
}

// DefaultOptions returns the production pool configuration.
func DefaultOptions() Options {
	return Options{
		BaseBackoff:   time.Second,
		MaxBackoff:    60 * time.Second,
		ProbeInterval: 30 * time.Second,
	}
}

// NewPool builds a pool with the given options.
func NewPool(opts Options) *Pool {
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 60 * time.Second
	}
	if opts.ProbeInterval <= 0 {
		opts.ProbeInterval = 30 * time.Second
	}
	if opts.Dial == nil {
		opts.Dial = Dial
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Pool{
		opts:    opts,
		hosts:   make(map[string]*HostState),
		clients: make(map[string]*cachedClient),
	}
}

// Acquire returns a healthy client for host, waiting out any active backoff
// window (or failing fast per options), probing the cached client's liveness,
// and dialing a fresh connection when needed.
func (p *Pool) Acquire(ctx context.Context, host string, o AcquireOptions) (*ssh.Client, error) {
	if err := p.awaitBackoff(ctx, host, o); err != nil {
		return nil, err
	}

	if client := p.probeCached(host); client != nil {
		return client, nil
	}

	client, err := p.opts.Dial(ctx, host, o.Port)
	if err != nil {
		p.ReportFailure(host, err)
		return nil, fmt.Errorf("connecting to %s: %w", host, err)
	}

	p.mu.Lock()
	p.clients[host] = &cachedClient{client: client, lastProbe: p.opts.Now()}
	p.mu.Unlock()
	p.MarkHealthy(host)
	p.opts.Logger.Debug("ssh connection established", "host", host)
	return client, nil
}

// MarkHealthy resets the host's failure streak immediately. Called after any
// successful exec, not only after dialing.
func (p *Pool) MarkHealthy(host string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry := p.entryLocked(host)
	entry.ConsecutiveFailures = 0
	entry.BackoffUntil = time.Time{}
}

// ReportFailure records a connection failure and extends the backoff window
// exponentially (capped). The window never shrinks while failures persist.
func (p *Pool) ReportFailure(host string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry := p.entryLocked(host)
	now := p.opts.Now()
	entry.LastFailureAt = now
	entry.ConsecutiveFailures++

	delay := p.opts.BaseBackoff << uint(entry.ConsecutiveFailures)
	if delay > p.opts.MaxBackoff || delay <= 0 {
		delay = p.opts.MaxBackoff
	}
	until := now.Add(delay)
	if until.After(entry.BackoffUntil) {
		entry.BackoffUntil = until
	}

	if dead, ok := p.clients[host]; ok {
		_ = dead.client.Close()
		delete(p.clients, host)
	}
	p.opts.Logger.Warn("ssh failure", "host", host, "consecutive", entry.ConsecutiveFailures, "backoff_until", entry.BackoffUntil, "err", err)
}

// State returns a copy of the host's health record.
func (p *Pool) State(host string) (HostState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	entry, ok := p.hosts[host]
	if !ok {
		return HostState{}, false
	}
	return *entry, true
}

// Close drops all cached clients. Health records are kept.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for host, c := range p.clients {
		_ = c.client.Close()
		delete(p.clients, host)
	}
}

// awaitBackoff blocks until the host's backoff window has elapsed, honoring
// context cancellation. The window is re-read each iteration because a
// concurrent failure may extend it.
func (p *Pool) awaitBackoff(ctx context.Context, host string, o AcquireOptions) error {
	for {
		p.mu.Lock()
		entry := p.entryLocked(host)
		remaining := entry.BackoffUntil.Sub(p.opts.Now())
		until := entry.BackoffUntil
		p.mu.Unlock()

		if remaining <= 0 {
			return nil
		}
		if o.NoWait {
			return &BackoffError{Host: host, Until: until}
		}
		if o.OnWait != nil {
			o.OnWait(remaining)
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// probeCached returns the cached client if it is fresh or answers a keepalive
// probe, dropping it otherwise.
func (p *Pool) probeCached(host string) *ssh.Client {
	p.mu.Lock()
	cached, ok := p.clients[host]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	fresh := p.opts.Now().Sub(cached.lastProbe) < p.opts.ProbeInterval
	p.mu.Unlock()

	if fresh {
		return cached.client
	}
	if _, _, err := cached.client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
		p.mu.Lock()
		if current, ok := p.clients[host]; ok && current == cached {
			_ = current.client.Close()
			delete(p.clients, host)
		}
		p.mu.Unlock()
		p.opts.Logger.Debug("dropping stale ssh connection", "host", host)
		return nil
	}

	p.mu.Lock()
	cached.lastProbe = p.opts.Now()
	p.mu.Unlock()
	return cached.client
}

func (p *Pool) entryLocked(host string) *HostState {
	entry, ok := p.hosts[host]
	if !ok {
		entry = &HostState{}
		p.hosts[host] = entry
	}
	return entry
}
