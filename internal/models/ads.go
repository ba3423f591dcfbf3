package models

import "time"

type CreativeStatus string

const (
	CreativeActive CreativeStatus = "active"
	CreativePaused CreativeStatus = "paused"
)

type AdCreative struct {
	ID        int64          `json:"id"`
	Placement string         `json:"placement"`
	Title     *string        `json:"title,omitempty"`
	Subtitle  *string        `json:"subtitle,omitempty"`
	ImageURL  string         `json:"image_url"`
	AltText   *string        `json:"alt_text,omitempty"`
	TargetURL *string        `json:"target_url,omitempty"`
	Weight    int            `json:"weight"`
	Status    CreativeStatus `json:"status"`
	StartsAt  *time.Time     `json:"starts_at,omitempty"`
	EndsAt    *time.Time     `json:"ends_at,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// LiveAt reports whether the creative may be served at t: active and inside
// its inclusive window, with nil bounds left open.
func (c *AdCreative) LiveAt(t time.Time) bool {
	if c.Status != CreativeActive {
		return false
	}
	if c.StartsAt != nil && t.Before(*c.StartsAt) {
		return false
	}
	if c.EndsAt != nil && t.After(*c.EndsAt) {
		return false
	}
	return true
}

type AdClick struct {
	ID          int64     `json:"id"`
	CreativeID  int64     `json:"creative_id"`
	Placement   string    `json:"placement"`
	TargetURL   string    `json:"target_url"`
	Referer     string    `json:"referer,omitempty"`
	IP          string    `json:"ip,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
	UTMSource   string    `json:"utm_source,omitempty"`
	UTMMedium   string    `json:"utm_medium,omitempty"`
	UTMCampaign string    `json:"utm_campaign,omitempty"`
	UTMTerm     string    `json:"utm_term,omitempty"`
	UTMContent  string    `json:"utm_content,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}
