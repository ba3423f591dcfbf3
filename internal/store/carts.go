package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/autoparts-store/internal/database"
	"github.com/safar/autoparts-store/internal/models"
	"github.com/safar/autoparts-store/internal/pricing"
	"github.com/shopspring/decimal"
)

// FindCart returns the user's current cart without items, or
// ErrOrderNotFound when the user has none.
func FindCart(ctx context.Context, q Querier, userID int64) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND status = 'cart'`

	if err := scanOrder(q.QueryRowContext(ctx, query, userID), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("find cart: %w", err)
	}

	return order, nil
}

// EnsureCart returns the user's cart locked FOR UPDATE, creating it first when
// missing. The partial unique index orders_one_cart_per_user turns concurrent
// first adds into a single row: the loser's insert is a no-op and it then
// blocks on the winner's row lock.
func EnsureCart(ctx context.Context, tx *sql.Tx, userID int64, currency string) (order *models.Order, created bool, err error) {
	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO orders (user_id, status, currency, created_at, updated_at, version)
		 VALUES ($1, 'cart', $2, NOW(), NOW(), 1)
		 ON CONFLICT (user_id) WHERE status = 'cart' DO NOTHING
		 RETURNING id`,
		userID, currency).Scan(&id)
	switch {
	case err == nil:
		created = true
	case errors.Is(err, sql.ErrNoRows):
	case database.IsForeignKeyViolation(err):
		return nil, false, database.ErrUserNotFound
	default:
		return nil, false, fmt.Errorf("create cart: %w", err)
	}

	order = &models.Order{}
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 AND status = 'cart' FOR UPDATE`
	if err := scanOrder(tx.QueryRowContext(ctx, query, userID), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, database.ErrOrderNotFound
		}
		return nil, false, fmt.Errorf("lock cart: %w", err)
	}

	return order, created, nil
}

// FindItem returns the cart line for partID, or nil when there is none.
func FindItem(ctx context.Context, tx *sql.Tx, orderID, partID int64) (*models.OrderItem, error) {
	item := &models.OrderItem{}

	err := tx.QueryRowContext(ctx,
		`SELECT id, order_id, part_id, quantity, unit_price, line_total, created_at, updated_at
		 FROM order_items
		 WHERE order_id = $1 AND part_id = $2`,
		orderID, partID,
	).Scan(
		&item.ID,
		&item.OrderID,
		&item.PartID,
		&item.Quantity,
		&item.UnitPrice,
		&item.LineTotal,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find item: %w", err)
	}

	return item, nil
}

func InsertItem(ctx context.Context, tx *sql.Tx, orderID, partID int64, quantity int, unitPrice decimal.Decimal) error {
	lineTotal, err := pricing.LineTotal(quantity, unitPrice)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO order_items (order_id, part_id, quantity, unit_price, line_total, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`,
		orderID, partID, quantity, pricing.Round(unitPrice), lineTotal)
	if err != nil {
		return fmt.Errorf("insert order item: %w", err)
	}

	return nil
}

// SetItemQuantity rewrites quantity and line total of an existing line,
// keeping the unit price captured when the line was first added.
func SetItemQuantity(ctx context.Context, tx *sql.Tx, item *models.OrderItem, quantity int) error {
	lineTotal, err := pricing.LineTotal(quantity, item.UnitPrice)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE order_items
		 SET quantity = $1, line_total = $2, updated_at = NOW()
		 WHERE id = $3`,
		quantity, lineTotal, item.ID)
	if err != nil {
		return fmt.Errorf("update order item: %w", err)
	}

	item.Quantity = quantity
	item.LineTotal = lineTotal
	return nil
}

// DeleteItem removes the line for partID. A missing line is not an error.
func DeleteItem(ctx context.Context, tx *sql.Tx, orderID, partID int64) (bool, error) {
	result, err := tx.ExecContext(ctx,
		`DELETE FROM order_items WHERE order_id = $1 AND part_id = $2`,
		orderID, partID)
	if err != nil {
		return false, fmt.Errorf("delete order item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("get rows affected: %w", err)
	}

	return rowsAffected > 0, nil
}

func DeleteAllItems(ctx context.Context, tx *sql.Tx, orderID int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM order_items WHERE order_id = $1`, orderID); err != nil {
		return fmt.Errorf("clear order items: %w", err)
	}
	return nil
}
