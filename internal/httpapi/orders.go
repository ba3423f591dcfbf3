package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/safar/autoparts-store/internal/models"
	"github.com/safar/autoparts-store/internal/pricing"
	"github.com/safar/autoparts-store/internal/store"
	"github.com/shopspring/decimal"
)

type addItemReq struct {
	PartID   int64 `json:"part_id"`
	Quantity int   `json:"quantity"`
}

type updateItemReq struct {
	Quantity int `json:"quantity"`
}

type shippingReq struct {
	DeliveryMethod *models.DeliveryMethod `json:"delivery_method"`
	ShipToName     *string                `json:"ship_to_name"`
	ShipToPhone    *string                `json:"ship_to_phone"`
	ShipToAddress  *string                `json:"ship_to_address"`
}

func (req shippingReq) info() models.ShippingInfo {
	return models.ShippingInfo{
		DeliveryMethod: req.DeliveryMethod,
		ShipToName:     req.ShipToName,
		ShipToPhone:    req.ShipToPhone,
		ShipToAddress:  req.ShipToAddress,
	}
}

type submitReq struct {
	shippingReq
	Notes *string `json:"notes"`
}

type statusReq struct {
	Status models.OrderStatus `json:"status"`
}

type noteReq struct {
	Notes string `json:"notes"`
}

type adjustmentsReq struct {
	DiscountTotal decimal.Decimal `json:"discount_total"`
	ShippingTotal decimal.Decimal `json:"shipping_total"`
	TaxTotal      decimal.Decimal `json:"tax_total"`
}

func parseID(w http.ResponseWriter, r *http.Request, param string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		respondError(w, r, http.StatusBadRequest, "bad_request", "invalid "+param)
		return 0, false
	}
	return id, true
}

func (s *Server) handleGetCart(w http.ResponseWriter, r *http.Request) {
	cart, err := s.orders.GetCart(r.Context(), actorFrom(r).UserID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, cart)
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	var req addItemReq
	if !decodeJSON(w, r, &req) {
		return
	}

	cart, added, err := s.orders.AddItem(r.Context(), actorFrom(r).UserID, req.PartID, req.Quantity)
	if err != nil {
		respondErr(w, r, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	respondJSON(w, r, status, cart)
}

func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	partID, ok := parseID(w, r, "partID")
	if !ok {
		return
	}
	var req updateItemReq
	if !decodeJSON(w, r, &req) {
		return
	}

	cart, err := s.orders.UpdateItem(r.Context(), actorFrom(r).UserID, partID, req.Quantity)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, cart)
}

func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	partID, ok := parseID(w, r, "partID")
	if !ok {
		return
	}

	cart, err := s.orders.RemoveItem(r.Context(), actorFrom(r).UserID, partID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, cart)
}

func (s *Server) handleClearCart(w http.ResponseWriter, r *http.Request) {
	cart, err := s.orders.Clear(r.Context(), actorFrom(r).UserID)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, cart)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitReq
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := s.orders.Submit(r.Context(), actorFrom(r), req.info(), req.Notes)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusCreated, order)
}

func (s *Server) handleListMyOrders(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	cursor := r.URL.Query().Get("cursor")
	if _, err := store.DecodeCursor(cursor); err != nil {
		respondError(w, r, http.StatusBadRequest, "bad_request", "invalid cursor")
		return
	}

	page, err := s.orders.ListUserOrders(r.Context(), actorFrom(r).UserID, cursor, limit)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, page)
}

func (s *Server) handleAdminListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(q.Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	result, err := s.orders.ListOrders(r.Context(), models.OrderStatus(q.Get("status")), page, pageSize)
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, result)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "orderID")
	if !ok {
		return
	}

	order, err := s.orders.GetOrder(r.Context(), id, actorFrom(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, order)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "orderID")
	if !ok {
		return
	}

	history, err := s.orders.History(r.Context(), id, actorFrom(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, history)
}

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "orderID")
	if !ok {
		return
	}
	var req statusReq
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := s.orders.Transition(r.Context(), id, req.Status, actorFrom(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, order)
}

func (s *Server) handleUpdateShipping(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "orderID")
	if !ok {
		return
	}
	var req shippingReq
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := s.orders.UpdateShipping(r.Context(), id, req.info(), actorFrom(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, order)
}

func (s *Server) handleAddNote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "orderID")
	if !ok {
		return
	}
	var req noteReq
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := s.orders.AddNote(r.Context(), id, req.Notes, actorFrom(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, order)
}

func (s *Server) handleAdjustments(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r, "orderID")
	if !ok {
		return
	}
	var req adjustmentsReq
	if !decodeJSON(w, r, &req) {
		return
	}

	order, err := s.orders.SetAdjustments(r.Context(), id, pricing.Adjustments{
		Discount: req.DiscountTotal,
		Shipping: req.ShippingTotal,
		Tax:      req.TaxTotal,
	}, actorFrom(r))
	if err != nil {
		respondErr(w, r, err)
		return
	}
	respondJSON(w, r, http.StatusOK, order)
}
