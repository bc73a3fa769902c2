package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ricart/storefront/internal/database"
)

// ErrBrokerUnavailable is returned while a dial is in flight or during the
// cooldown after a failed one.
var ErrBrokerUnavailable = errors.New("broker unavailable")

// DefaultDialTimeout bounds TCP connect plus the AMQP handshake.
const DefaultDialTimeout = 2 * time.Second

// Publisher sends SessionEvents to the session.events queue.  It keeps a
// single connection and channel open and re-dials on a later publish after
// either one is closed.  Only one dial runs at a time and it never holds the
// lock, so callers fail fast instead of queueing behind an unreachable broker.
type Publisher struct {
	url         string
	log         *slog.Logger
	dialTimeout time.Duration
	cooldown    func(attempt int) time.Duration
	now         func() time.Time

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	dialing  bool
	failures int
	nextDial time.Time
}

func NewPublisher(url string, log *slog.Logger) *Publisher {
	if log == nil {
		log = slog.Default()
	}
	return &Publisher{
		url:         url,
		log:         log,
		dialTimeout: DefaultDialTimeout,
		cooldown:    database.ExponentialBackoff(time.Second, 30*time.Second),
		now:         time.Now,
	}
}

// Publish marshals ev and publishes it as a persistent message.
func (p *Publisher) Publish(ctx context.Context, ev SessionEvent) error {
	const op = "queue.Publish"

	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%s: marshal: %w", op, err)
	}

	ch, err := p.channel(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.PublishWithContext(ctx,
		"",               // default exchange
		SessionQueueName, // routing key = queue name
		false,            // mandatory
		false,            // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		p.mu.Lock()
		if p.ch == ch {
			p.reset()
		}
		p.mu.Unlock()
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// channel returns the open channel or dials a new one outside the lock.
func (p *Publisher) channel(ctx context.Context) (*amqp.Channel, error) {
	p.mu.Lock()
	if p.ch != nil && !p.ch.IsClosed() && p.conn != nil && !p.conn.IsClosed() {
		ch := p.ch
		p.mu.Unlock()
		return ch, nil
	}
	if p.dialing || p.now().Before(p.nextDial) {
		p.mu.Unlock()
		return nil, ErrBrokerUnavailable
	}
	p.reset()
	p.dialing = true
	p.mu.Unlock()

	conn, ch, err := p.dial(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.dialing = false
	if err != nil {
		p.failures++
		wait := p.cooldown(p.failures)
		if wait < time.Second {
			wait = time.Second
		}
		p.nextDial = p.now().Add(wait)
		p.log.Warn("rabbitmq_dial_failed",
			slog.String("err", err.Error()),
			slog.Duration("retry_in", wait),
		)
		return nil, err
	}
	p.failures = 0
	p.conn, p.ch = conn, ch
	p.log.Info("rabbitmq_connected", slog.String("queue", SessionQueueName))
	return ch, nil
}

func (p *Publisher) dial(ctx context.Context) (*amqp.Connection, *amqp.Channel, error) {
	timeout := p.dialTimeout
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return nil, nil, fmt.Errorf("dial: %w", context.DeadlineExceeded)
	}

	conn, err := amqp.DialConfig(p.url, amqp.Config{
		Heartbeat: 10 * time.Second,
		Locale:    "en_US",
		Dial:      amqp.DefaultDial(timeout),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("channel open: %w", err)
	}
	if _, err := ch.QueueDeclare(SessionQueueName, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, nil, fmt.Errorf("queue declare: %w", err)
	}
	return conn, ch, nil
}

// reset drops the current connection.  Caller holds mu.
func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.ch, p.conn = nil, nil
}

// Close releases the broker connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}
