// Package mq provides a RabbitMQ publisher for the presentation feed, with
// automatic reconnection and confirm-based delivery.
package mq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"mascotas.dev/petwatch/pkg/metrics"
)

// Publisher pushes presentation-feed messages onto a queue. It manages the
// connection in the background and reconnects after failures; Publish blocks
// until the broker confirms delivery or the retry budget is exhausted.
type Publisher struct {
	m               *sync.Mutex
	logger          *slog.Logger
	connection      *amqp.Connection
	channel         *amqp.Channel
	done            chan bool
	notifyConnClose chan *amqp.Error
	notifyChanClose chan *amqp.Error
	notifyConfirm   chan amqp.Confirmation
	queueName       string
	isReady         bool
	metrics         *metrics.MQMetrics // Optional metrics
}

const (
	// When reconnecting to the server after connection failure.
	reconnectDelay = 5 * time.Second

	// When setting up the channel after a channel exception.
	reInitDelay = 2 * time.Second

	// Initial backoff delay for Publish retries.
	initialBackoff = 100 * time.Millisecond

	// Maximum backoff delay for Publish retries.
	maxBackoff = 10 * time.Second

	// Backoff multiplier for exponential backoff.
	backoffMultiplier = 2

	// Maximum number of retry attempts before giving up.
	maxRetryAttempts = 5
)

var (
	errNotConnected       = errors.New("not connected to a server")
	errAlreadyClosed      = errors.New("already closed: not connected to the server")
	errShutdown           = errors.New("publisher is shutting down")
	errMaxRetriesExceeded = errors.New("maximum retry attempts exceeded")
)

// NewPublisher creates a publisher for the given queue and automatically
// attempts to connect to the broker in the background.
func NewPublisher(queueName, addr string, l *slog.Logger) *Publisher {
	p := Publisher{
		m:         &sync.Mutex{},
		logger:    l,
		queueName: queueName,
		done:      make(chan bool),
	}
	go p.handleReconnect(addr)
	return &p
}

// SetMetrics sets the metrics collector for this publisher.
// This should be called before the first Publish.
func (p *Publisher) SetMetrics(m *metrics.MQMetrics) {
	p.metrics = m
}

// handleReconnect waits for a connection error on notifyConnClose and then
// continuously attempts to reconnect.
func (p *Publisher) handleReconnect(addr string) {
	for {
		p.m.Lock()
		p.isReady = false
		p.m.Unlock()

		p.logger.Info("attempting to connect")

		if p.metrics != nil {
			p.metrics.ReconnectAttempts.Inc()
		}

		conn, err := p.connect(addr)
		if err != nil {
			p.logger.Error("failed to connect, retrying", "error", err)

			select {
			case <-p.done:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		if done := p.handleReInit(conn); done {
			break
		}
	}
}

// connect creates a new AMQP connection.
func (p *Publisher) connect(addr string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(addr)
	if err != nil {
		if p.metrics != nil {
			p.metrics.ConnectionStatus.Set(0)
		}
		return nil, err
	}

	p.changeConnection(conn)
	p.logger.Info("connected")

	if p.metrics != nil {
		p.metrics.ConnectionStatus.Set(1)
	}

	return conn, nil
}

// handleReInit waits for a channel error and then continuously attempts to
// re-initialize the channel.
func (p *Publisher) handleReInit(conn *amqp.Connection) bool {
	for {
		p.m.Lock()
		p.isReady = false
		p.m.Unlock()

		err := p.init(conn)
		if err != nil {
			p.logger.Error("failed to initialize channel, retrying", "error", err)

			select {
			case <-p.done:
				return true
			case <-p.notifyConnClose:
				p.logger.Info("connection closed, reconnecting...")
				return false
			case <-time.After(reInitDelay):
			}
			continue
		}

		select {
		case <-p.done:
			return true
		case <-p.notifyConnClose:
			p.logger.Info("connection closed, reconnecting...")
			return false
		case <-p.notifyChanClose:
			p.logger.Info("channel closed, re-running init...")
		}
	}
}

// init initializes the channel and declares the queue.
func (p *Publisher) init(conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return err
	}

	err = ch.Confirm(false)
	if err != nil {
		return err
	}
	_, err = ch.QueueDeclare(
		p.queueName,
		false, // Durable
		false, // Delete when unused
		false, // Exclusive
		false, // No-wait
		nil,   // Arguments
	)
	if err != nil {
		return err
	}

	p.changeChannel(ch)
	p.m.Lock()
	p.isReady = true
	p.m.Unlock()
	p.logger.Info("publisher init done")

	return nil
}

// changeConnection takes a new connection and updates the close listener.
func (p *Publisher) changeConnection(connection *amqp.Connection) {
	p.connection = connection
	p.notifyConnClose = make(chan *amqp.Error, 1)
	p.connection.NotifyClose(p.notifyConnClose)
}

// changeChannel takes a new channel and updates the channel listeners.
func (p *Publisher) changeChannel(channel *amqp.Channel) {
	p.channel = channel
	p.notifyChanClose = make(chan *amqp.Error, 1)
	p.notifyConfirm = make(chan amqp.Confirmation, 1)
	p.channel.NotifyClose(p.notifyChanClose)
	p.channel.NotifyPublish(p.notifyConfirm)
}

// Publish pushes data onto the queue and waits for broker confirmation.
// While the publisher is disconnected it retries with exponential backoff,
// giving the background reconnect loop time to succeed. After
// maxRetryAttempts failed attempts it returns errMaxRetriesExceeded.
func (p *Publisher) Publish(ctx context.Context, data []byte) error {
	var timer *prometheus.Timer
	if p.metrics != nil {
		timer = prometheus.NewTimer(p.metrics.PushDuration.WithLabelValues(p.queueName))
		defer timer.ObserveDuration()
	}

	backoff := initialBackoff
	retryCount := 0

	for {
		if retryCount >= maxRetryAttempts {
			p.logger.Error("maximum retry attempts exceeded",
				"retry_count", retryCount,
				"max_attempts", maxRetryAttempts)

			if p.metrics != nil {
				p.metrics.PushFailures.WithLabelValues(p.queueName, "max_retries_exceeded").Inc()
			}

			return errMaxRetriesExceeded
		}

		p.m.Lock()
		isReady := p.isReady
		p.m.Unlock()

		if !isReady {
			p.logger.Info("not connected, waiting for reconnection",
				"backoff", backoff,
				"retry_count", retryCount)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return errShutdown
			case <-time.After(backoff):
				backoff *= backoffMultiplier
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				retryCount++
				continue
			}
		}

		err := p.UnsafePublish(ctx, data)
		if err != nil {
			p.logger.Error("publish failed, retrying with backoff",
				"error", err,
				"backoff", backoff,
				"retry_count", retryCount)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return errShutdown
			case <-time.After(backoff):
				backoff *= backoffMultiplier
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				retryCount++
				continue
			}
		}

		select {
		case <-ctx.Done():
			if p.metrics != nil {
				p.metrics.PushFailures.WithLabelValues(p.queueName, "context_canceled").Inc()
			}
			return ctx.Err()
		case confirm := <-p.notifyConfirm:
			if confirm.Ack {
				if p.metrics != nil {
					p.metrics.MessagesPushed.WithLabelValues(p.queueName).Inc()
				}

				p.logger.Debug("publish confirmed", "delivery_tag", confirm.DeliveryTag, "retry_count", retryCount)
				return nil
			}
			p.logger.Warn("publish not acknowledged, retrying",
				"delivery_tag", confirm.DeliveryTag,
				"backoff", backoff)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.done:
				return errShutdown
			case <-time.After(backoff):
				backoff *= backoffMultiplier
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
				retryCount++
				continue
			}
		}
	}
}

// UnsafePublish pushes to the queue without waiting for confirmation.
// No guarantees are provided for whether the broker receives the message.
func (p *Publisher) UnsafePublish(ctx context.Context, data []byte) error {
	p.m.Lock()
	if !p.isReady {
		p.m.Unlock()
		return errNotConnected
	}
	p.m.Unlock()

	return p.channel.PublishWithContext(
		ctx,
		"",          // Exchange
		p.queueName, // Routing key
		false,       // Mandatory
		false,       // Immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        data,
		},
	)
}

// Close cleanly shuts down the channel and connection. It always stops the
// background reconnect loop, even when the broker never came up.
func (p *Publisher) Close() error {
	p.m.Lock()
	// isReady is read and written in two places, so the lock is held until
	// shutdown is complete.
	defer p.m.Unlock()

	select {
	case <-p.done:
		return errAlreadyClosed
	default:
	}
	close(p.done)

	if !p.isReady {
		return nil
	}
	err := p.channel.Close()
	if err != nil {
		return err
	}
	err = p.connection.Close()
	if err != nil {
		return err
	}

	p.isReady = false

	if p.metrics != nil {
		p.metrics.ConnectionStatus.Set(0)
	}

	return nil
}
