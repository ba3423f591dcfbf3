package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/safar/autoparts-store/internal/database"
	"github.com/safar/autoparts-store/internal/models"
	"github.com/safar/autoparts-store/internal/pricing"
)

const orderColumns = `id, user_id, status, delivery_method, ship_to_name, ship_to_phone, ship_to_address,
	subtotal, discount_total, shipping_total, tax_total, grand_total, currency, notes,
	created_at, updated_at, version`

func scanOrder(row interface{ Scan(...any) error }, o *models.Order) error {
	return row.Scan(
		&o.ID,
		&o.UserID,
		&o.Status,
		&o.DeliveryMethod,
		&o.ShipToName,
		&o.ShipToPhone,
		&o.ShipToAddress,
		&o.Subtotal,
		&o.DiscountTotal,
		&o.ShippingTotal,
		&o.TaxTotal,
		&o.GrandTotal,
		&o.Currency,
		&o.Notes,
		&o.CreatedAt,
		&o.UpdatedAt,
		&o.Version,
	)
}

// GetOrder loads an order with its items.
func GetOrder(ctx context.Context, q Querier, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	if err := scanOrder(q.QueryRowContext(ctx, query, id), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	items, err := ListOrderItems(ctx, q, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	return order, nil
}

// LockOrder takes the row lock every order mutation is serialized on.
func LockOrder(ctx context.Context, tx *sql.Tx, id int64) (*models.Order, error) {
	order := &models.Order{}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`

	if err := scanOrder(tx.QueryRowContext(ctx, query, id), order); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("lock order: %w", err)
	}

	return order, nil
}

func ListOrderItems(ctx context.Context, q Querier, orderID int64) ([]models.OrderItem, error) {
	query := `
		SELECT id, order_id, part_id, quantity, unit_price, line_total, created_at, updated_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY id`

	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
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
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// RecomputeTotals derives subtotal and grand total from the current item rows
// and the stored adjustments, and writes them back on the same transaction.
func RecomputeTotals(ctx context.Context, tx *sql.Tx, order *models.Order, policy pricing.Policy) error {
	items, err := ListOrderItems(ctx, tx, order.ID)
	if err != nil {
		return err
	}

	lines := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		lines = append(lines, pricing.Line{Quantity: it.Quantity, UnitPrice: it.UnitPrice})
	}

	totals, err := policy.Compute(lines, pricing.Adjustments{
		Discount: order.DiscountTotal,
		Shipping: order.ShippingTotal,
		Tax:      order.TaxTotal,
	})
	if err != nil {
		return err
	}

	err = tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET subtotal = $1, discount_total = $2, shipping_total = $3, tax_total = $4, grand_total = $5,
		     updated_at = NOW(), version = version + 1
		 WHERE id = $6
		 RETURNING updated_at, version`,
		totals.Subtotal, totals.DiscountTotal, totals.ShippingTotal, totals.TaxTotal, totals.GrandTotal, order.ID,
	).Scan(&order.UpdatedAt, &order.Version)
	if err != nil {
		return fmt.Errorf("update order totals: %w", err)
	}

	order.Subtotal = totals.Subtotal
	order.DiscountTotal = totals.DiscountTotal
	order.ShippingTotal = totals.ShippingTotal
	order.TaxTotal = totals.TaxTotal
	order.GrandTotal = totals.GrandTotal
	order.Items = items

	return nil
}

func UpdateOrderStatus(ctx context.Context, tx *sql.Tx, order *models.Order, to models.OrderStatus) error {
	err := tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET status = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2
		 RETURNING updated_at, version`,
		to, order.ID,
	).Scan(&order.UpdatedAt, &order.Version)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}

	order.Status = to
	return nil
}

// UpdateShipping writes the non-nil fields of info.
func UpdateShipping(ctx context.Context, tx *sql.Tx, order *models.Order, info models.ShippingInfo) error {
	err := tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET delivery_method = COALESCE($1, delivery_method),
		     ship_to_name    = COALESCE($2, ship_to_name),
		     ship_to_phone   = COALESCE($3, ship_to_phone),
		     ship_to_address = COALESCE($4, ship_to_address),
		     updated_at = NOW(), version = version + 1
		 WHERE id = $5
		 RETURNING delivery_method, ship_to_name, ship_to_phone, ship_to_address, updated_at, version`,
		info.DeliveryMethod, info.ShipToName, info.ShipToPhone, info.ShipToAddress, order.ID,
	).Scan(
		&order.DeliveryMethod,
		&order.ShipToName,
		&order.ShipToPhone,
		&order.ShipToAddress,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		return fmt.Errorf("update shipping: %w", err)
	}

	return nil
}

func UpdateNotes(ctx context.Context, tx *sql.Tx, order *models.Order, notes string) error {
	err := tx.QueryRowContext(ctx,
		`UPDATE orders
		 SET notes = $1, updated_at = NOW(), version = version + 1
		 WHERE id = $2
		 RETURNING updated_at, version`,
		notes, order.ID,
	).Scan(&order.UpdatedAt, &order.Version)
	if err != nil {
		return fmt.Errorf("update notes: %w", err)
	}

	order.Notes = &notes
	return nil
}

func InsertStatusChange(ctx context.Context, tx *sql.Tx, orderID int64, from *models.OrderStatus, to models.OrderStatus, actor models.Actor) error {
	var actorID *int64
	if actor.UserID != 0 {
		actorID = &actor.UserID
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO order_status_history (order_id, from_status, to_status, actor_id, actor_role, created_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		orderID, from, to, actorID, actor.Role)
	if err != nil {
		return fmt.Errorf("insert status change: %w", err)
	}

	return nil
}

func ListStatusHistory(ctx context.Context, q Querier, orderID int64) ([]models.StatusChange, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, from_status, to_status, actor_id, actor_role, created_at
		 FROM order_status_history
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	defer rows.Close()

	history := []models.StatusChange{}
	for rows.Next() {
		var c models.StatusChange
		if err := rows.Scan(&c.ID, &c.OrderID, &c.FromStatus, &c.ToStatus, &c.ActorID, &c.ActorRole, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status change: %w", err)
		}
		history = append(history, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return history, nil
}

// ListOrdersCursor pages through a user's placed orders, newest first. Carts
// are excluded.
func ListOrdersCursor(ctx context.Context, q Querier, userID int64, cursor string, limit int) (*CursorPage[models.Order], error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND status <> 'cart'
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := q.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage[models.Order]{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

// ListOrders is the back-office listing; an empty status lists everything
// except carts.
func ListOrders(ctx context.Context, q Querier, status models.OrderStatus, page, pageSize int) (*OffsetPage[models.Order], error) {
	where := `status <> 'cart'`
	args := []any{}
	if status != "" {
		where = `status = $1`
		args = append(args, status)
	}

	var total int64
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE `+where, args...).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count orders: %w", err)
	}

	offset := (page - 1) * pageSize
	query := fmt.Sprintf(`
		SELECT %s
		FROM orders
		WHERE %s
		ORDER BY updated_at DESC, id DESC
		LIMIT $%d OFFSET $%d`, orderColumns, where, len(args)+1, len(args)+2)

	rows, err := q.QueryContext(ctx, query, append(args, pageSize, offset)...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := scanOrder(rows, &order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(orders, total, page, pageSize), nil
}

// ClaimStaleOrders locks up to limit orders in status that have not been
// touched since before. Rows locked by other workers are skipped.
func ClaimStaleOrders(ctx context.Context, tx *sql.Tx, status models.OrderStatus, before time.Time, limit int) ([]*models.Order, error) {
	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE status = $1
		  AND updated_at < $2
		ORDER BY updated_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.QueryContext(ctx, query, status, before, limit)
	if err != nil {
		return nil, fmt.Errorf("claim stale orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		order := &models.Order{}
		if err := scanOrder(rows, order); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return orders, nil
}
