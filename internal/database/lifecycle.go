package database

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrNotConnected is returned by Start when every attempt failed.
var ErrNotConnected = errors.New("database not connected")

// Status is the observable state of a backend connection.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Pinger is implemented by every identity store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Lifecycle owns the connect/heartbeat loop of one backend and exposes its
// availability to the session manager and the health endpoint.
type Lifecycle struct {
	name        string
	pinger      Pinger
	policy      RetryPolicy
	pingTimeout time.Duration
	log         *slog.Logger

	mu     sync.RWMutex
	status Status
}

func NewLifecycle(name string, p Pinger, policy RetryPolicy, log *slog.Logger) *Lifecycle {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.Backoff == nil {
		policy.Backoff = func(int) time.Duration { return 0 }
	}
	if log == nil {
		log = slog.Default()
	}
	return &Lifecycle{
		name:        name,
		pinger:      p,
		policy:      policy,
		pingTimeout: 5 * time.Second,
		log:         log,
		status:      StatusDisconnected,
	}
}

// Start pings the backend until it answers or the policy is exhausted.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.setStatus(StatusConnecting)

	var lastErr error
	for attempt := 1; attempt <= l.policy.MaxAttempts; attempt++ {
		if lastErr = l.ping(ctx); lastErr == nil {
			l.setStatus(StatusConnected)
			l.log.Info("store_connected", slog.String("store", l.name), slog.Int("attempt", attempt))
			return nil
		}
		l.log.Warn("store_connect_failed",
			slog.String("store", l.name),
			slog.Int("attempt", attempt),
			slog.String("err", lastErr.Error()),
		)
		if attempt == l.policy.MaxAttempts {
			break
		}
		if !sleepCtx(ctx, l.policy.Backoff(attempt)) {
			lastErr = ctx.Err()
			break
		}
	}
	l.setStatus(StatusDisconnected)
	return fmt.Errorf("database.Start %s: %w: %w", l.name, ErrNotConnected, lastErr)
}

// Watch pings the backend every interval and flips availability on change.
// It returns when ctx is done.
func (l *Lifecycle) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Check(ctx)
		}
	}
}

// Check runs a single heartbeat and returns the resulting status.
func (l *Lifecycle) Check(ctx context.Context) Status {
	err := l.ping(ctx)
	prev := l.Status()
	next := StatusConnected
	if err != nil {
		next = StatusDisconnected
	}
	if prev != next {
		l.setStatus(next)
		if err != nil {
			l.log.Error("store_disconnected", slog.String("store", l.name), slog.String("err", err.Error()))
		} else {
			l.log.Info("store_reconnected", slog.String("store", l.name))
		}
	}
	return next
}

func (l *Lifecycle) Available() bool { return l.Status() == StatusConnected }

func (l *Lifecycle) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *Lifecycle) Name() string { return l.name }

func (l *Lifecycle) setStatus(s Status) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}

func (l *Lifecycle) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.pingTimeout)
	defer cancel()
	return l.pinger.Ping(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
