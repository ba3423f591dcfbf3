// Package cache keeps short-lived copies of the live creatives per placement
// in redis so ad rendering does not hit postgres on every page view.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/safar/autoparts-store/internal/ads"
	"github.com/safar/autoparts-store/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 30 * time.Second

func creativesKey(placement string) string {
	return fmt.Sprintf("ads:creatives:%s", placement)
}

// CreativeCache is a read-through ads.Repository. Clicks go straight to the
// wrapped repository. When redis fails, or the breaker is open, reads fall
// through to the wrapped repository.
type CreativeCache struct {
	next ads.Repository
	rdb  *redis.Client
	ttl  time.Duration
	sf   singleflight.Group
	cb   *gobreaker.CircuitBreaker
	log  *logrus.Logger
}

func NewCreativeCache(next ads.Repository, rdb *redis.Client, ttl time.Duration, log *logrus.Logger) *CreativeCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	st := gobreaker.Settings{
		Name:        "AdsRedis",
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Warnf("circuit breaker %s changed from %s to %s", name, from, to)
		},
	}

	return &CreativeCache{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		cb:   gobreaker.NewCircuitBreaker(st),
		log:  log,
	}
}

// ListLiveCreatives may return creatives fetched up to ttl ago. Callers must
// re-check each creative's window against their own clock.
func (c *CreativeCache) ListLiveCreatives(ctx context.Context, placement string, now time.Time) ([]models.AdCreative, error) {
	key := creativesKey(placement)

	val, err := c.cb.Execute(func() (interface{}, error) {
		res, err := c.rdb.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return res, nil
	})
	if err != nil {
		c.log.WithField("placement", placement).WithError(err).Warn("creative cache unavailable, reading from database")
		return c.next.ListLiveCreatives(ctx, placement, now)
	}

	if val != nil {
		var creatives []models.AdCreative
		if err := json.Unmarshal([]byte(val.(string)), &creatives); err == nil {
			return creatives, nil
		}
		c.log.WithField("key", key).Error("failed to decode cached creatives")
	}

	result, err, _ := c.sf.Do(key, func() (interface{}, error) {
		// Shared by every waiter, so the first caller going away must not
		// cancel it.
		ctx := context.WithoutCancel(ctx)
		creatives, err := c.next.ListLiveCreatives(ctx, placement, now)
		if err != nil {
			return nil, err
		}

		data, err := json.Marshal(creatives)
		if err != nil {
			return creatives, nil
		}
		_, err = c.cb.Execute(func() (interface{}, error) {
			return nil, c.rdb.Set(ctx, key, data, c.ttl).Err()
		})
		if err != nil {
			c.log.WithField("key", key).WithError(err).Warn("failed to write creative cache")
		}
		return creatives, nil
	})
	if err != nil {
		return nil, err
	}

	return result.([]models.AdCreative), nil
}

func (c *CreativeCache) InsertClick(ctx context.Context, click *models.AdClick) error {
	return c.next.InsertClick(ctx, click)
}

// Invalidate drops the cached creatives of the given placements.
func (c *CreativeCache) Invalidate(ctx context.Context, placements ...string) error {
	if len(placements) == 0 {
		return nil
	}
	keys := make([]string, 0, len(placements))
	for _, p := range placements {
		keys = append(keys, creativesKey(p))
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate creatives: %w", err)
	}
	return nil
}
