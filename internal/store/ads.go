package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/safar/autoparts-store/internal/database"
	"github.com/safar/autoparts-store/internal/models"
)

const creativeColumns = `id, placement, title, subtitle, image_url, alt_text, target_url, weight, status,
	starts_at, ends_at, created_at, updated_at`

func scanCreative(row interface{ Scan(...any) error }, c *models.AdCreative) error {
	return row.Scan(
		&c.ID,
		&c.Placement,
		&c.Title,
		&c.Subtitle,
		&c.ImageURL,
		&c.AltText,
		&c.TargetURL,
		&c.Weight,
		&c.Status,
		&c.StartsAt,
		&c.EndsAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}

// CreateCreative is used by back-office tooling and tests.
func CreateCreative(ctx context.Context, q Querier, c *models.AdCreative) error {
	if c.Weight == 0 {
		c.Weight = 1
	}
	if c.Status == "" {
		c.Status = models.CreativeActive
	}

	query := `
		INSERT INTO ad_creatives (placement, title, subtitle, image_url, alt_text, target_url, weight, status,
			starts_at, ends_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW(), NOW())
		RETURNING ` + creativeColumns

	row := q.QueryRowContext(ctx, query,
		c.Placement, c.Title, c.Subtitle, c.ImageURL, c.AltText, c.TargetURL, c.Weight, c.Status,
		c.StartsAt, c.EndsAt)
	if err := scanCreative(row, c); err != nil {
		return fmt.Errorf("create creative: %w", err)
	}

	return nil
}

func GetCreative(ctx context.Context, q Querier, id int64) (*models.AdCreative, error) {
	c := &models.AdCreative{}

	query := `SELECT ` + creativeColumns + ` FROM ad_creatives WHERE id = $1`

	if err := scanCreative(q.QueryRowContext(ctx, query, id), c); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrCreativeNotFound
		}
		return nil, fmt.Errorf("get creative: %w", err)
	}

	return c, nil
}

// ListLiveCreatives returns the active creatives of a placement whose window
// contains now.
func ListLiveCreatives(ctx context.Context, q Querier, placement string, now time.Time) ([]models.AdCreative, error) {
	query := `
		SELECT ` + creativeColumns + `
		FROM ad_creatives
		WHERE placement = $1
		  AND status = 'active'
		  AND (starts_at IS NULL OR starts_at <= $2)
		  AND (ends_at IS NULL OR ends_at >= $2)
		ORDER BY id`

	rows, err := q.QueryContext(ctx, query, placement, now)
	if err != nil {
		return nil, fmt.Errorf("list creatives: %w", err)
	}
	defer rows.Close()

	creatives := []models.AdCreative{}
	for rows.Next() {
		var c models.AdCreative
		if err := scanCreative(rows, &c); err != nil {
			return nil, fmt.Errorf("scan creative: %w", err)
		}
		creatives = append(creatives, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return creatives, nil
}

func InsertClick(ctx context.Context, q Querier, click *models.AdClick) error {
	err := q.QueryRowContext(ctx,
		`INSERT INTO ad_clicks (creative_id, placement, target_url, referer, ip, user_agent,
			utm_source, utm_medium, utm_campaign, utm_term, utm_content, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
			NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, ''), NULLIF($11, ''), NOW())
		 RETURNING id, created_at`,
		click.CreativeID, click.Placement, click.TargetURL, click.Referer, click.IP, click.UserAgent,
		click.UTMSource, click.UTMMedium, click.UTMCampaign, click.UTMTerm, click.UTMContent,
	).Scan(&click.ID, &click.CreatedAt)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return database.ErrCreativeNotFound
		}
		return fmt.Errorf("insert ad click: %w", err)
	}

	return nil
}

func ListClicks(ctx context.Context, q Querier, creativeID int64) ([]models.AdClick, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, creative_id, placement, target_url,
			COALESCE(referer, ''), COALESCE(ip, ''), COALESCE(user_agent, ''),
			COALESCE(utm_source, ''), COALESCE(utm_medium, ''), COALESCE(utm_campaign, ''),
			COALESCE(utm_term, ''), COALESCE(utm_content, ''), created_at
		 FROM ad_clicks
		 WHERE creative_id = $1
		 ORDER BY id`,
		creativeID)
	if err != nil {
		return nil, fmt.Errorf("list ad clicks: %w", err)
	}
	defer rows.Close()

	var clicks []models.AdClick
	for rows.Next() {
		var c models.AdClick
		err := rows.Scan(&c.ID, &c.CreativeID, &c.Placement, &c.TargetURL,
			&c.Referer, &c.IP, &c.UserAgent,
			&c.UTMSource, &c.UTMMedium, &c.UTMCampaign, &c.UTMTerm, &c.UTMContent, &c.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan ad click: %w", err)
		}
		clicks = append(clicks, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return clicks, nil
}
