package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type InventoryRepo struct{ DB *pgxpool.Pool }

// Outcomes recorded in the processed_events marker.
const (
	AdjustOutcomeApplied    = "ADJUSTED"
	AdjustOutcomeNotFound   = "NOT_FOUND"
	AdjustOutcomeOutOfStock = "OUT_OF_STOCK"
)

type AdjustResult struct {
	Outcome   string
	Duplicate bool // marker was already present; Outcome is the prior result
	Available int  // stock seen when the outcome was decided
}

func (r *InventoryRepo) GetItem(ctx context.Context, productID string) (InventoryItem, error) {
	var it InventoryItem
	err := r.DB.QueryRow(ctx, `SELECT product_id, stock FROM inventory WHERE product_id=$1`, productID).
		Scan(&it.ProductID, &it.Stock)
	if errors.Is(err, pgx.ErrNoRows) {
		return InventoryItem{}, ErrNotFound
	}
	if err != nil {
		return InventoryItem{}, err
	}
	return it, nil
}

// AdjustStock applies the decrement for one order exactly once. The
// processed marker and the stock mutation commit in the same transaction;
// a redelivered event hits the marker and gets the recorded outcome back
// instead of a second decrement. The sufficiency check runs under a row
// lock, so concurrent orders for the same product serialize and stock
// never goes negative. Only transient store errors are returned as err;
// those roll everything back so the bus retry re-runs the operation.
func (r *InventoryRepo) AdjustStock(ctx context.Context, orderID, productID string, qty int) (AdjustResult, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return AdjustResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO processed_events(handler, order_id, outcome)
		VALUES ('inventory', $1, '')
		ON CONFLICT (handler, order_id) DO NOTHING
	`, orderID)
	if err != nil {
		return AdjustResult{}, err
	}
	if ct.RowsAffected() == 0 {
		var outcome string
		err := tx.QueryRow(ctx, `
			SELECT outcome FROM processed_events WHERE handler='inventory' AND order_id=$1
		`, orderID).Scan(&outcome)
		if err != nil {
			return AdjustResult{}, err
		}
		return AdjustResult{Outcome: outcome, Duplicate: true}, tx.Commit(ctx)
	}

	res := AdjustResult{}
	var stock int
	err = tx.QueryRow(ctx, `SELECT stock FROM inventory WHERE product_id=$1 FOR UPDATE`, productID).Scan(&stock)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		res.Outcome = AdjustOutcomeNotFound
	case err != nil:
		return AdjustResult{}, err
	case stock < qty:
		res.Outcome = AdjustOutcomeOutOfStock
		res.Available = stock
	default:
		ct, err := tx.Exec(ctx, `
			UPDATE inventory SET stock = stock - $2
			WHERE product_id=$1 AND stock >= $2
		`, productID, qty)
		if err != nil {
			return AdjustResult{}, err
		}
		if ct.RowsAffected() != 1 {
			// guarded above under the lock; treat as transient
			return AdjustResult{}, fmt.Errorf("conditional decrement failed for %s", productID)
		}
		res.Outcome = AdjustOutcomeApplied
		res.Available = stock - qty
	}

	_, err = tx.Exec(ctx, `
		UPDATE processed_events SET outcome=$2 WHERE handler='inventory' AND order_id=$1
	`, orderID, res.Outcome)
	if err != nil {
		return AdjustResult{}, err
	}
	return res, tx.Commit(ctx)
}

// Restock compensates a decremented order when payment later fails. The
// restock marker makes the compensation single-shot under redelivery.
// Returns true when stock was put back by this call.
func (r *InventoryRepo) Restock(ctx context.Context, orderID, productID string, qty int) (bool, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `
		INSERT INTO processed_events(handler, order_id, outcome)
		VALUES ('restock', $1, 'RESTOCKED')
		ON CONFLICT (handler, order_id) DO NOTHING
	`, orderID)
	if err != nil {
		return false, err
	}
	if ct.RowsAffected() == 0 {
		return false, tx.Commit(ctx)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE inventory SET stock = stock + $2 WHERE product_id=$1
	`, productID, qty); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}
