// Package ads picks creatives for page placements and issues the signed
// click-through links that lead to their targets.
package ads

import (
	"math/rand/v2"
	"time"

	"github.com/safar/autoparts-store/internal/models"
)

const DefaultCap = 5

// Placements is the canonical set every full ad response carries, even when
// empty. Other keys are served on request with DefaultCap.
var Placements = []string{"hero", "grid", "sticky", "inline", "generic", "footer"}

var caps = map[string]int{
	"hero":    1,
	"grid":    6,
	"sticky":  1,
	"inline":  3,
	"generic": 5,
}

// Cap returns the maximum number of creatives served for placement.
func Cap(placement string) int {
	if n, ok := caps[placement]; ok {
		return n
	}
	return DefaultCap
}

// Rand is the randomness Select draws from. *rand.Rand from math/rand/v2
// satisfies it.
type Rand interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.IntN(n) }

// Eligible keeps the creatives that are live at now.
func Eligible(creatives []models.AdCreative, now time.Time) []models.AdCreative {
	live := make([]models.AdCreative, 0, len(creatives))
	for i := range creatives {
		if creatives[i].LiveAt(now) {
			live = append(live, creatives[i])
		}
	}
	return live
}

func weight(c *models.AdCreative) int {
	if c.Weight < 1 {
		return 1
	}
	return c.Weight
}

// Select draws up to n creatives from pool by weight, without replacement.
// Creatives whose id is not in seen are preferred: when at least one exists,
// only those are drawn from. pool is not modified.
func Select(pool []models.AdCreative, seen map[int64]bool, n int, rng Rand) []models.AdCreative {
	if n <= 0 || len(pool) == 0 {
		return []models.AdCreative{}
	}

	candidates := make([]int, 0, len(pool))
	for i := range pool {
		if !seen[pool[i].ID] {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		for i := range pool {
			candidates = append(candidates, i)
		}
	}

	picked := make([]models.AdCreative, 0, min(n, len(candidates)))
	for len(picked) < n && len(candidates) > 0 {
		total := 0
		for _, i := range candidates {
			total += weight(&pool[i])
		}

		draw := rng.IntN(total) + 1
		chosen := len(candidates) - 1
		acc := 0
		for k, i := range candidates {
			acc += weight(&pool[i])
			if draw <= acc {
				chosen = k
				break
			}
		}

		picked = append(picked, pool[candidates[chosen]])
		candidates = append(candidates[:chosen], candidates[chosen+1:]...)
	}

	return picked
}
