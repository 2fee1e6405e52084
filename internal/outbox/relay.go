package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Store interface {
	PendingBatch(ctx context.Context, n int) ([]Event, error)
	MarkSent(ctx context.Context, ids []int64) error
	MarkFailed(ctx context.Context, id int64, errMsg string) error
	ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error)
}

// Producer is the synchronous write surface of kafka.Writer. The relay
// needs the write acknowledged before it marks a row sent.
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Relay drains the outbox into the bus. It is the only publisher for
// events written by the intake transaction.
type Relay struct {
	Log       *zap.Logger
	Store     Store
	Producer  Producer
	BatchSize int
	Interval  time.Duration
	// StaleAfter bounds how long a claim may sit in_progress before a
	// tick hands it back to pending.
	StaleAfter time.Duration
}

func NewRelay(log *zap.Logger, store Store, prod Producer) *Relay {
	return &Relay{
		Log:        log,
		Store:      store,
		Producer:   prod,
		BatchSize:  100,
		Interval:   500 * time.Millisecond,
		StaleAfter: 30 * time.Second,
	}
}

func (r *Relay) Run(ctx context.Context) error {
	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Log.Info("outbox relay stopping")
			return nil
		case <-t.C:
			if err := r.tick(ctx); err != nil {
				r.Log.Error("outbox tick failed", zap.Error(err))
			}
		}
	}
}

func (r *Relay) tick(ctx context.Context) error {
	if n, err := r.Store.ReclaimStale(ctx, time.Now().Add(-r.StaleAfter)); err != nil {
		return err
	} else if n > 0 {
		r.Log.Warn("reclaimed stalled outbox rows", zap.Int64("count", n))
	}

	events, err := r.Store.PendingBatch(ctx, r.BatchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, len(events))
	for i, e := range events {
		msgs[i] = kafka.Message{
			Key:   []byte(e.Key),
			Value: e.Payload,
			Headers: []kafka.Header{
				{Key: "x-event-type", Value: []byte(e.Type)},
				{Key: "x-event-version", Value: []byte("1")},
			},
		}
	}

	// one batched write; kafka-go reports per-message results via
	// WriteErrors when only part of the batch made it
	werr := r.Producer.WriteMessages(ctx, msgs...)
	var perMsg kafka.WriteErrors
	if werr != nil && !errors.As(werr, &perMsg) {
		perMsg = make(kafka.WriteErrors, len(events))
		for i := range perMsg {
			perMsg[i] = werr
		}
	}

	sent := make([]int64, 0, len(events))
	for i, e := range events {
		if perMsg != nil && perMsg[i] != nil {
			r.Log.Error("outbox publish failed", zap.Int64("id", e.ID), zap.Error(perMsg[i]))
			if merr := r.Store.MarkFailed(ctx, e.ID, perMsg[i].Error()); merr != nil {
				r.Log.Error("outbox mark failed error", zap.Error(merr))
			}
			continue
		}
		sent = append(sent, e.ID)
	}
	if len(sent) > 0 {
		if err := r.Store.MarkSent(ctx, sent); err != nil {
			return err
		}
		r.Log.Info("outbox dispatched", zap.Int("count", len(sent)))
	}
	return nil
}
