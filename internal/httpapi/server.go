// Package httpapi exposes carts, orders and ads over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/safar/autoparts-store/internal/ads"
	"github.com/safar/autoparts-store/internal/models"
	"github.com/safar/autoparts-store/internal/pricing"
	"github.com/safar/autoparts-store/internal/store"
	"github.com/sirupsen/logrus"
)

// OrderService is implemented by *orders.Service.
type OrderService interface {
	GetCart(ctx context.Context, userID int64) (*models.Order, error)
	AddItem(ctx context.Context, userID, partID int64, quantity int) (*models.Order, bool, error)
	UpdateItem(ctx context.Context, userID, partID int64, quantity int) (*models.Order, error)
	RemoveItem(ctx context.Context, userID, partID int64) (*models.Order, error)
	Clear(ctx context.Context, userID int64) (*models.Order, error)
	Submit(ctx context.Context, actor models.Actor, info models.ShippingInfo, notes *string) (*models.Order, error)
	Transition(ctx context.Context, orderID int64, to models.OrderStatus, actor models.Actor) (*models.Order, error)
	UpdateShipping(ctx context.Context, orderID int64, info models.ShippingInfo, actor models.Actor) (*models.Order, error)
	AddNote(ctx context.Context, orderID int64, text string, actor models.Actor) (*models.Order, error)
	SetAdjustments(ctx context.Context, orderID int64, adj pricing.Adjustments, actor models.Actor) (*models.Order, error)
	GetOrder(ctx context.Context, orderID int64, actor models.Actor) (*models.Order, error)
	History(ctx context.Context, orderID int64, actor models.Actor) ([]models.StatusChange, error)
	ListUserOrders(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage[models.Order], error)
	ListOrders(ctx context.Context, status models.OrderStatus, page, pageSize int) (*store.OffsetPage[models.Order], error)
}

// AdService is implemented by *ads.Service.
type AdService interface {
	Serve(ctx context.Context, placement string, seen map[int64]bool) ([]ads.Creative, error)
	ServeAll(ctx context.Context, seen func(placement string) map[int64]bool) (map[string][]ads.Creative, error)
	Click(ctx context.Context, q url.Values, meta ads.ClickMeta) (string, error)
}

type Server struct {
	router    chi.Router
	orders    OrderService
	ads       AdService
	jwtSecret []byte
	log       *logrus.Logger
}

func NewServer(orders OrderService, adsSvc AdService, jwtSecret []byte, log *logrus.Logger) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		orders:    orders,
		ads:       adsSvc,
		jwtSecret: jwtSecret,
		log:       log,
	}
	s.registerRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	r := s.router
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/ads", s.handleAds)
	r.Get("/ads/click", s.handleAdClick)

	r.Group(func(r chi.Router) {
		r.Use(authenticate(s.jwtSecret))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", s.handleGetCart)
			r.Post("/items", s.handleAddItem)
			r.Put("/items/{partID}", s.handleUpdateItem)
			r.Delete("/items/{partID}", s.handleRemoveItem)
			r.Delete("/clear", s.handleClearCart)
		})

		r.Post("/checkout/submit", s.handleSubmit)

		r.Route("/orders", func(r chi.Router) {
			r.Get("/", s.handleListMyOrders)
			r.Get("/{orderID}", s.handleGetOrder)
			r.Patch("/{orderID}/shipping", s.handleUpdateShipping)
			r.Put("/{orderID}/notes", s.handleAddNote)
		})

		r.Route("/admin/orders", func(r chi.Router) {
			r.Use(requireStaff)

			r.Get("/", s.handleAdminListOrders)
			r.Get("/{orderID}", s.handleGetOrder)
			r.Get("/{orderID}/history", s.handleHistory)
			r.Patch("/{orderID}/status", s.handleTransition)
			r.Patch("/{orderID}/shipping", s.handleUpdateShipping)
			r.Patch("/{orderID}/adjustments", s.handleAdjustments)
			r.Put("/{orderID}/notes", s.handleAddNote)
		})
	})
}
