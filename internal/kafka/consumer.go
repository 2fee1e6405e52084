package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Handler must return nil only when processing succeeded and the offset
// may be committed. A non-nil error leaves the message in the retry
// loop; when retries run out the message is parked on its dead-letter
// topic before the group offset moves past it.
type Handler func(ctx context.Context, m kafka.Message) error

// deadLetterer is the synchronous write surface of kafka.Writer.
type deadLetterer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Consumer struct {
	r          *kafka.Reader
	dlq        deadLetterer
	dlqClose   func() error
	log        *zap.Logger
	workers    int
	maxRetries int
}

func NewConsumer(brokers []string, group string, topics []string, workers int, log *zap.Logger) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	}
	if len(topics) == 1 {
		cfg.Topic = topics[0]
	} else {
		cfg.GroupTopics = topics
	}
	if workers <= 0 {
		workers = 1
	}
	// topic left empty: dead letters carry "<source topic>.dlq" per message
	dlq := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &Consumer{
		r:          kafka.NewReader(cfg),
		dlq:        dlq,
		dlqClose:   dlq.Close,
		log:        log,
		workers:    workers,
		maxRetries: 5,
	}
}

func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()
	defer c.dlqClose()

	jobs := make(chan kafka.Message, 1024)

	for i := 0; i < c.workers; i++ {
		go func() {
			for m := range jobs {
				if !c.handle(ctx, h, m) {
					continue
				}
				if err := c.r.CommitMessages(ctx, m); err != nil {
					c.log.Error("commit failed", zap.Error(err))
				}
			}
		}()
	}

	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			close(jobs)
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case jobs <- m:
		case <-ctx.Done():
			close(jobs)
			return nil
		}
	}
}

// handle runs the retry loop and reports whether the offset may be
// committed. Group commits are high-water marks, not per-message acks:
// with several workers on one reader, committing any later offset
// implicitly commits this one. An exhausted message is therefore written
// to its dead-letter topic first; if that write fails the offset is held
// back so the message is not silently dropped.
func (c *Consumer) handle(ctx context.Context, h Handler, m kafka.Message) bool {
	err := c.process(ctx, h, m)
	if err == nil {
		return true
	}

	dead := kafka.Message{
		Topic: m.Topic + ".dlq",
		Key:   m.Key,
		Value: m.Value,
		Headers: append(append([]kafka.Header(nil), m.Headers...),
			kafka.Header{Key: "x-dlq-error", Value: []byte(err.Error())}),
	}
	if derr := c.dlq.WriteMessages(ctx, dead); derr != nil {
		c.log.Error("dead-letter write failed, holding offset",
			zap.String("topic", m.Topic),
			zap.Int64("offset", m.Offset),
			zap.Error(derr))
		return false
	}
	c.log.Warn("message dead-lettered after retries",
		zap.String("topic", m.Topic),
		zap.Int64("offset", m.Offset),
		zap.Error(err))
	return true
}

// process retries the handler with exponential backoff before giving up.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) error {
	backoff := 200 * time.Millisecond
	var err error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err = h(ctx, m); err == nil {
			return nil
		}
		c.log.Warn("handler error",
			zap.String("topic", m.Topic),
			zap.Int("attempt", attempt),
			zap.Error(err))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}
