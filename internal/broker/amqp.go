// Package broker publishes request events to other processes.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/streadway/amqp"

	"therapyline/pkg/logger"
	"therapyline/pkg/types"
)

var ErrSinkClosed = errors.New("amqp sink closed")

// amqpChannel is the part of *amqp.Channel the sink uses.
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// dialFunc opens a channel and returns a closer for its connection.
type dialFunc func(url string) (amqpChannel, func() error, error)

// Envelope is the message body published for each notification.
type Envelope struct {
	Event  *types.Event          `json:"event"`
	Policy types.RecipientPolicy `json:"policy"`
}

// AMQPSink publishes every notification to a durable fanout exchange.
// A failed publish drops the channel; the next publish redials.
type AMQPSink struct {
	url      string
	exchange string
	dial     dialFunc
	log      *logger.Logger

	mu        sync.Mutex
	channel   amqpChannel
	closeConn func() error
	closed    bool
}

// NewAMQPSink connects to url and declares exchange.
func NewAMQPSink(url, exchange string, log *logger.Logger) (*AMQPSink, error) {
	return newAMQPSink(url, exchange, dialAMQP, log)
}

func newAMQPSink(url, exchange string, dial dialFunc, log *logger.Logger) (*AMQPSink, error) {
	s := &AMQPSink{
		url:      url,
		exchange: exchange,
		dial:     dial,
		log:      log.Named("amqp"),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.connectLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func dialAMQP(url string) (amqpChannel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return ch, conn.Close, nil
}

// connectLocked dials and declares the exchange. Caller holds mu.
func (s *AMQPSink) connectLocked() error {
	ch, closeConn, err := s.dial(s.url)
	if err != nil {
		return fmt.Errorf("failed to connect to amqp broker: %w", err)
	}

	if err := ch.ExchangeDeclare(
		s.exchange,
		"fanout",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = closeConn()
		return fmt.Errorf("failed to declare exchange %s: %w", s.exchange, err)
	}

	s.channel = ch
	s.closeConn = closeConn
	return nil
}

// dropLocked discards a broken channel. Caller holds mu.
func (s *AMQPSink) dropLocked() {
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.closeConn != nil {
		_ = s.closeConn()
		s.closeConn = nil
	}
}

func (s *AMQPSink) Name() string {
	return "amqp:" + s.exchange
}

// Publish sends n to the exchange, routed by event type.
func (s *AMQPSink) Publish(ctx context.Context, n *types.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	body, err := json.Marshal(Envelope{Event: n.Event, Policy: n.Policy})
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSinkClosed
	}
	if s.channel == nil {
		if err := s.connectLocked(); err != nil {
			return err
		}
		s.log.Info("Reconnected to amqp broker", logger.String("exchange", s.exchange))
	}

	err = s.channel.Publish(
		s.exchange,
		n.Event.Type,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.NewString(),
			Timestamp:    time.Now().UTC(),
			Type:         n.Event.Type,
			Body:         body,
		},
	)
	if err != nil {
		s.dropLocked()
		return fmt.Errorf("failed to publish %s: %w", n.Event.Type, err)
	}
	return nil
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dropLocked()
	return nil
}
