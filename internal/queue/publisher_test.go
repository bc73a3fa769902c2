package queue

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// silentBroker accepts TCP connections and never answers the AMQP handshake.
func silentBroker(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		conns []net.Conn
	)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		_ = ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			_ = c.Close()
		}
	})
	return "amqp://guest:guest@" + ln.Addr().String() + "/"
}

func testEvent() SessionEvent {
	return SessionEvent{Type: EventLogin, IdentityID: "u1", OccurredAt: time.Now().UTC()}
}

func TestPublish_SilentBrokerFailsWithinBound(t *testing.T) {
	p := NewPublisher(silentBroker(t), nil)
	p.dialTimeout = 200 * time.Millisecond
	defer p.Close()

	start := time.Now()
	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			errs[i] = p.Publish(ctx, testEvent())
		}(i)
	}
	wg.Wait()

	assert.Less(t, time.Since(start), time.Second)
	for _, err := range errs {
		assert.Error(t, err)
	}
}

func TestPublish_CooldownAfterFailedDial(t *testing.T) {
	p := NewPublisher(silentBroker(t), nil)
	p.dialTimeout = 100 * time.Millisecond
	defer p.Close()

	now := time.Now()
	p.now = func() time.Time { return now }

	err := p.Publish(context.Background(), testEvent())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBrokerUnavailable)

	start := time.Now()
	err = p.Publish(context.Background(), testEvent())
	assert.ErrorIs(t, err, ErrBrokerUnavailable)
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	// once the cooldown has passed the publisher dials again
	now = now.Add(time.Minute)
	err = p.Publish(context.Background(), testEvent())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBrokerUnavailable)
	assert.Equal(t, 2, p.failures)
}

func TestPublish_ContextDeadlineCapsDial(t *testing.T) {
	p := NewPublisher(silentBroker(t), nil)
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	start := time.Now()
	assert.Error(t, p.Publish(ctx, testEvent()))
	assert.Less(t, time.Since(start), time.Second)
}
