package kafka

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/Ramsey-B/clover/pkg/tracing"
)

// MessageHandler processes one incoming message. A returned error retries the
// same message after a backoff; the offset is committed only once it succeeds.
// Handlers drop malformed messages by returning nil.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

// Reader is the part of kafka.Reader the consumer uses
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type ConsumerConfig struct {
	Brokers       []string
	Topic         string
	ConsumerGroup string
}

// Consumer reads one topic in a consumer group, one message at a time, so a
// partition never moves past a record that has not been handled
type Consumer struct {
	reader  Reader
	topic   string
	handler MessageHandler
	logger  ectologger.Logger

	// delay between attempts at the same message
	retryDelay time.Duration

	cancel context.CancelFunc
	done   sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig, logger ectologger.Logger, handler MessageHandler) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.ConsumerGroup,
		StartOffset:    kafka.FirstOffset,
		MinBytes:       1,
		MaxBytes:       10 << 20,
		MaxWait:        500 * time.Millisecond,
		CommitInterval: time.Second,
	})
	return NewConsumerWithReader(reader, cfg.Topic, logger, handler)
}

// NewConsumerWithReader builds a consumer over an existing reader
func NewConsumerWithReader(reader Reader, topic string, logger ectologger.Logger, handler MessageHandler) *Consumer {
	return &Consumer{
		reader:     reader,
		topic:      topic,
		handler:    handler,
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Start launches the read loop and returns immediately
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	c.done.Add(1)
	go func() {
		defer c.done.Done()
		c.run(ctx)
	}()

	c.logger.WithContext(ctx).WithField("topic", c.topic).Info("Kafka consumer started")
	return nil
}

// Stop ends the read loop, waits for the in-flight message and closes the
// reader
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.done.Wait()
	return c.reader.Close()
}

func (c *Consumer) run(ctx context.Context) {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		switch {
		case ctx.Err() != nil, errors.Is(err, io.EOF):
			c.logger.WithContext(ctx).WithField("topic", c.topic).Info("Kafka consumer stopped")
			return
		case err != nil:
			c.logger.WithContext(ctx).WithError(err).WithField("topic", c.topic).Error("Failed to fetch message")
			continue
		}

		if c.handle(ctx, msg) {
			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				c.logger.WithContext(ctx).WithError(err).WithField("offset", msg.Offset).Error("Failed to commit message")
			}
		}
	}
}

// handle runs the handler until it succeeds. It reports false when the
// consumer stopped first, leaving the message uncommitted for redelivery.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{msg: &msg})
	ctx, span := tracing.StartSpan(ctx, "kafka.Consumer.handle")
	defer span.End()

	attempt := 0
	for {
		attempt++
		err := c.handler(ctx, msg)
		if err == nil {
			return true
		}
		tracing.RecordError(span, err)

		c.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"topic":      msg.Topic,
			"partition":  msg.Partition,
			"offset":     msg.Offset,
			"event_type": Header(msg, HeaderEventType),
			"attempt":    attempt,
		}).Warn("Message handler failed, retrying")

		select {
		case <-ctx.Done():
			return false
		case <-time.After(c.retryDelay):
		}
	}
}
