// Package orders holds the order lifecycle: the status machine, the cart that
// precedes it and the mutations allowed at each status.
package orders

import (
	"fmt"
	"strings"

	"github.com/safar/autoparts-store/internal/database"
	"github.com/safar/autoparts-store/internal/models"
)

var transitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusCart:      {models.OrderStatusPending, models.OrderStatusCanceled},
	models.OrderStatusPending:   {models.OrderStatusConfirmed, models.OrderStatusCanceled},
	models.OrderStatusConfirmed: {models.OrderStatusPreparing, models.OrderStatusCanceled},
	models.OrderStatusPreparing: {models.OrderStatusShipped, models.OrderStatusCanceled},
	models.OrderStatusShipped:   {models.OrderStatusCompleted, models.OrderStatusCanceled},
}

// NextStatuses lists the statuses reachable from s in one step.
func NextStatuses(s models.OrderStatus) []models.OrderStatus {
	return append([]models.OrderStatus(nil), transitions[s]...)
}

func CanTransition(from, to models.OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// checkTransition validates the edge and who may take it. Checkout is the
// owner's alone; cancellation is open to staff and the system reaper; every
// other edge is staff only.
func checkTransition(order *models.Order, to models.OrderStatus, actor models.Actor) error {
	if !CanTransition(order.Status, to) {
		return fmt.Errorf("%w: %s -> %s", database.ErrInvalidTransition, order.Status, to)
	}

	switch {
	case order.Status == models.OrderStatusCart && to == models.OrderStatusPending:
		if !isOwner(order, actor) {
			return fmt.Errorf("%w: only the owner can submit a cart", database.ErrForbidden)
		}
	case to == models.OrderStatusCanceled:
		if actor.Role != models.RoleStaff && actor.Role != models.RoleSystem {
			return fmt.Errorf("%w: only staff can cancel orders", database.ErrForbidden)
		}
	default:
		if actor.Role != models.RoleStaff {
			return fmt.Errorf("%w: only staff can move an order to %s", database.ErrForbidden, to)
		}
	}

	return nil
}

func isOwner(order *models.Order, actor models.Actor) bool {
	return actor.Role == models.RoleCustomer && actor.UserID == order.UserID
}

// canView: owners see their own orders, staff see everything.
func canView(order *models.Order, actor models.Actor) bool {
	return actor.Role == models.RoleStaff || actor.Role == models.RoleSystem || isOwner(order, actor)
}

// checkShippingEdit: shipping stays editable until the order is terminal.
// Customers lose edit rights once staff confirm the order.
func checkShippingEdit(order *models.Order, actor models.Actor) error {
	if order.Status.Terminal() {
		return fmt.Errorf("%w: order %d is %s", database.ErrOrderLocked, order.ID, order.Status)
	}
	switch {
	case actor.Role == models.RoleStaff:
		return nil
	case isOwner(order, actor):
		if order.Status == models.OrderStatusCart || order.Status == models.OrderStatusPending {
			return nil
		}
		return fmt.Errorf("%w: order %d is %s", database.ErrOrderLocked, order.ID, order.Status)
	}
	return database.ErrForbidden
}

// checkAdjustments: discount, shipping and tax stay editable while the order
// is confirmed or earlier.
func checkAdjustments(order *models.Order, actor models.Actor) error {
	if actor.Role != models.RoleStaff {
		return fmt.Errorf("%w: only staff can adjust totals", database.ErrForbidden)
	}
	switch order.Status {
	case models.OrderStatusCart, models.OrderStatusPending, models.OrderStatusConfirmed:
		return nil
	}
	return fmt.Errorf("%w: order %d is %s", database.ErrOrderLocked, order.ID, order.Status)
}

// validateCheckout requires a delivery method, a recipient name and phone,
// and an address for anything but pickup.
func validateCheckout(order *models.Order) error {
	if order.DeliveryMethod == nil || !order.DeliveryMethod.Valid() {
		return database.NewValidationError("delivery_method", "must be one of pickup, courier, post")
	}
	if blank(order.ShipToName) {
		return database.NewValidationError("ship_to_name", "is required")
	}
	if blank(order.ShipToPhone) {
		return database.NewValidationError("ship_to_phone", "is required")
	}
	if order.DeliveryMethod.RequiresAddress() && blank(order.ShipToAddress) {
		return database.NewValidationError("ship_to_address", "is required for %s delivery", *order.DeliveryMethod)
	}
	return nil
}

func validateShipping(info models.ShippingInfo) error {
	if info.DeliveryMethod != nil && !info.DeliveryMethod.Valid() {
		return database.NewValidationError("delivery_method", "must be one of pickup, courier, post")
	}
	return nil
}

func blank(s *string) bool {
	return s == nil || strings.TrimSpace(*s) == ""
}
