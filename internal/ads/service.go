package ads

import (
	"context"
	"database/sql"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/safar/autoparts-store/internal/database"
	"github.com/safar/autoparts-store/internal/models"
	"github.com/safar/autoparts-store/internal/store"
	"github.com/sirupsen/logrus"
)

// Repository is the persistence the ad engine needs. The redis cache wraps
// one of these.
type Repository interface {
	ListLiveCreatives(ctx context.Context, placement string, now time.Time) ([]models.AdCreative, error)
	InsertClick(ctx context.Context, click *models.AdClick) error
}

type sqlRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &sqlRepository{db: db}
}

func (r *sqlRepository) ListLiveCreatives(ctx context.Context, placement string, now time.Time) ([]models.AdCreative, error) {
	return store.ListLiveCreatives(ctx, r.db, placement, now)
}

func (r *sqlRepository) InsertClick(ctx context.Context, click *models.AdClick) error {
	return store.InsertClick(ctx, r.db, click)
}

// Creative is the public shape of a served ad.
type Creative struct {
	ID       int64  `json:"id"`
	Src      string `json:"src"`
	Alt      string `json:"alt"`
	Href     string `json:"href,omitempty"`
	Title    string `json:"title,omitempty"`
	Subtitle string `json:"subtitle,omitempty"`
}

// ClickMeta is the request context recorded with a click.
type ClickMeta struct {
	Referer   string
	IP        string
	UserAgent string
}

type Options struct {
	// ClickBaseURL prefixes signed links, e.g. "https://shop.example". Empty
	// yields relative links.
	ClickBaseURL string
	Rand         Rand
	Now          func() time.Time
}

type Service struct {
	repo    Repository
	signer  *Signer
	baseURL string
	log     *logrus.Logger
	now     func() time.Time

	mu  sync.Mutex
	rng Rand
}

func NewService(repo Repository, signer *Signer, opts Options, log *logrus.Logger) *Service {
	s := &Service{
		repo:    repo,
		signer:  signer,
		baseURL: strings.TrimRight(opts.ClickBaseURL, "/"),
		log:     log,
		now:     opts.Now,
		rng:     opts.Rand,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.rng == nil {
		s.rng = globalRand{}
	}
	return s
}

func (s *Service) intN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.IntN(n)
}

// Serve picks creatives for one placement. An empty pool yields an empty
// slice, never an error.
func (s *Service) Serve(ctx context.Context, placement string, seen map[int64]bool) ([]Creative, error) {
	now := s.now()

	creatives, err := s.repo.ListLiveCreatives(ctx, placement, now)
	if err != nil {
		return nil, err
	}

	// The repository may be a cache older than now.
	pool := Eligible(creatives, now)
	picked := Select(pool, seen, Cap(placement), randFunc(s.intN))

	out := make([]Creative, 0, len(picked))
	for i := range picked {
		out = append(out, s.present(&picked[i], placement))
	}
	return out, nil
}

// ServeAll fills every canonical placement, keyed by placement. seen returns
// the seen set for a placement.
func (s *Service) ServeAll(ctx context.Context, seen func(placement string) map[int64]bool) (map[string][]Creative, error) {
	out := make(map[string][]Creative, len(Placements))
	for _, p := range Placements {
		creatives, err := s.Serve(ctx, p, seen(p))
		if err != nil {
			return nil, err
		}
		out[p] = creatives
	}
	return out, nil
}

// Click verifies a signed link, records the click and returns the target to
// redirect to. A click that cannot be stored is logged and still redirected.
func (s *Service) Click(ctx context.Context, q url.Values, meta ClickMeta) (string, error) {
	link, err := s.signer.Verify(q)
	if err != nil {
		return "", err
	}

	click := &models.AdClick{
		CreativeID: link.CreativeID,
		Placement:  link.Placement,
		TargetURL:  link.Target,
		Referer:    meta.Referer,
		IP:         meta.IP,
		UserAgent:  meta.UserAgent,
	}
	if u, err := url.Parse(link.Target); err == nil {
		utm := u.Query()
		click.UTMSource = utm.Get("utm_source")
		click.UTMMedium = utm.Get("utm_medium")
		click.UTMCampaign = utm.Get("utm_campaign")
		click.UTMTerm = utm.Get("utm_term")
		click.UTMContent = utm.Get("utm_content")
	}

	if err := s.repo.InsertClick(ctx, click); err != nil {
		if errors.Is(err, database.ErrCreativeNotFound) {
			return "", err
		}
		s.log.WithFields(logrus.Fields{
			"creative_id": link.CreativeID,
			"placement":   link.Placement,
		}).WithError(err).Error("failed to record ad click")
	}

	return link.Target, nil
}

func (s *Service) present(c *models.AdCreative, placement string) Creative {
	out := Creative{ID: c.ID, Src: c.ImageURL}
	if c.Title != nil {
		out.Title = *c.Title
	}
	if c.Subtitle != nil {
		out.Subtitle = *c.Subtitle
	}
	switch {
	case c.AltText != nil:
		out.Alt = *c.AltText
	case c.Title != nil:
		out.Alt = *c.Title
	}
	if c.TargetURL != nil && *c.TargetURL != "" {
		out.Href = s.baseURL + "/ads/click?" + s.signer.Sign(c.ID, *c.TargetURL, placement).Encode()
	}
	return out
}

type randFunc func(n int) int

func (f randFunc) IntN(n int) int { return f(n) }
