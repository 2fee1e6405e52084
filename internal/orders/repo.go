package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repo struct{ DB *pgxpool.Pool }

// CreateOrder writes the order row and its OrderPlaced outbox row in one
// transaction, so the fact "order was accepted" cannot be lost between
// the store write and the publish.
func (r *Repo) CreateOrder(ctx context.Context, o Order, placed Envelope) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(order_id, product_id, quantity, customer_email, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, o.OrderID, o.ProductID, o.Quantity, o.CustomerEmail, string(o.Status), o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO outbox(key, event_type, payload, status)
		VALUES ($1, $2, $3, 'pending')
	`, o.OrderID, placed.EventType, mustJSON(placed))
	if err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	var o Order
	var status string
	err := r.DB.QueryRow(ctx, `
		SELECT order_id, product_id, quantity, customer_email, status, created_at
		FROM orders WHERE order_id=$1
	`, orderID).Scan(&o.OrderID, &o.ProductID, &o.Quantity, &o.CustomerEmail, &status, &o.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound
	}
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	return o, nil
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE order_id=$1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return Status(s), nil
}

// Finalize moves a PENDING order to its terminal status. The condition
// in the update keeps terminal states immutable under redelivery.
func (r *Repo) Finalize(ctx context.Context, orderID string, to Status) error {
	if !CanTransition(StatusPending, to) {
		return fmt.Errorf("invalid transition to %s", to)
	}
	ct, err := r.DB.Exec(ctx, `
		UPDATE orders SET status=$2 WHERE order_id=$1 AND status=$3
	`, orderID, string(to), string(StatusPending))
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	if _, err := r.GetOrderStatus(ctx, orderID); err != nil {
		return err
	}
	return ErrAlreadyFinal
}

func mustJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
