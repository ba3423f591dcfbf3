package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/safar/autoparts-store/internal/database"
	"github.com/safar/autoparts-store/internal/models"
	"github.com/shopspring/decimal"
)

const partColumns = `id, sku, name, price, is_active, created_at, updated_at`

func scanPart(row interface{ Scan(...any) error }, p *models.Part) error {
	return row.Scan(&p.ID, &p.SKU, &p.Name, &p.Price, &p.IsActive, &p.CreatedAt, &p.UpdatedAt)
}

// CreatePart seeds the catalog; catalog management itself lives elsewhere.
func CreatePart(ctx context.Context, q Querier, sku, name string, price decimal.Decimal) (*models.Part, error) {
	part := &models.Part{}

	query := `
		INSERT INTO parts (sku, name, price, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, TRUE, NOW(), NOW())
		RETURNING ` + partColumns

	if err := scanPart(q.QueryRowContext(ctx, query, sku, name, price), part); err != nil {
		return nil, fmt.Errorf("create part: %w", err)
	}

	return part, nil
}

// GetPart returns the current catalog price and availability of a part.
func GetPart(ctx context.Context, q Querier, id int64) (*models.Part, error) {
	part := &models.Part{}

	query := `SELECT ` + partColumns + ` FROM parts WHERE id = $1`

	if err := scanPart(q.QueryRowContext(ctx, query, id), part); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrPartNotFound
		}
		return nil, fmt.Errorf("get part: %w", err)
	}

	return part, nil
}

func SetPartActive(ctx context.Context, q Querier, id int64, active bool) error {
	result, err := q.ExecContext(ctx,
		`UPDATE parts SET is_active = $1, updated_at = NOW() WHERE id = $2`,
		active, id)
	if err != nil {
		return fmt.Errorf("set part active: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return database.ErrPartNotFound
	}

	return nil
}
