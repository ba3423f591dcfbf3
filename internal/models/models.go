package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

// Part is the slice of the catalog the order core reads: identity, current
// price and whether it can still be sold.
type Part struct {
	ID        int64           `json:"id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `json:"price"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type OrderStatus string

const (
	OrderStatusCart      OrderStatus = "cart"
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusConfirmed OrderStatus = "confirmed"
	OrderStatusPreparing OrderStatus = "preparing"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCanceled  OrderStatus = "canceled"
)

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusCart, OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing,
		OrderStatusShipped, OrderStatusCompleted, OrderStatusCanceled:
		return true
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCanceled
}

type DeliveryMethod string

const (
	DeliveryPickup  DeliveryMethod = "pickup"
	DeliveryCourier DeliveryMethod = "courier"
	DeliveryPost    DeliveryMethod = "post"
)

func (m DeliveryMethod) Valid() bool {
	return m == DeliveryPickup || m == DeliveryCourier || m == DeliveryPost
}

// RequiresAddress is false only for in-store pickup.
func (m DeliveryMethod) RequiresAddress() bool {
	return m == DeliveryCourier || m == DeliveryPost
}

type Order struct {
	ID             int64           `json:"id"`
	UserID         int64           `json:"user_id"`
	Status         OrderStatus     `json:"status"`
	DeliveryMethod *DeliveryMethod `json:"delivery_method,omitempty"`
	ShipToName     *string         `json:"ship_to_name,omitempty"`
	ShipToPhone    *string         `json:"ship_to_phone,omitempty"`
	ShipToAddress  *string         `json:"ship_to_address,omitempty"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountTotal  decimal.Decimal `json:"discount_total"`
	ShippingTotal  decimal.Decimal `json:"shipping_total"`
	TaxTotal       decimal.Decimal `json:"tax_total"`
	GrandTotal     decimal.Decimal `json:"grand_total"`
	Currency       string          `json:"currency"`
	Notes          *string         `json:"notes,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Version        int             `json:"version"`
	Items          []OrderItem     `json:"items,omitempty"`
	Owner          *OrderOwner     `json:"owner,omitempty"`
}

// OrderOwner is the customer identity shown to staff next to an order.
type OrderOwner struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type OrderItem struct {
	ID        int64           `json:"id"`
	OrderID   int64           `json:"order_id"`
	PartID    int64           `json:"part_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ShippingInfo is a partial update: nil fields are left as they are.
type ShippingInfo struct {
	DeliveryMethod *DeliveryMethod `json:"delivery_method,omitempty"`
	ShipToName     *string         `json:"ship_to_name,omitempty"`
	ShipToPhone    *string         `json:"ship_to_phone,omitempty"`
	ShipToAddress  *string         `json:"ship_to_address,omitempty"`
}

type ActorRole string

const (
	RoleCustomer ActorRole = "customer"
	RoleStaff    ActorRole = "staff"
	RoleSystem   ActorRole = "system"
)

type Actor struct {
	UserID int64     `json:"user_id"`
	Role   ActorRole `json:"role"`
}

func SystemActor() Actor {
	return Actor{Role: RoleSystem}
}

type StatusChange struct {
	ID         int64        `json:"id"`
	OrderID    int64        `json:"order_id"`
	FromStatus *OrderStatus `json:"from_status,omitempty"`
	ToStatus   OrderStatus  `json:"to_status"`
	ActorID    *int64       `json:"actor_id,omitempty"`
	ActorRole  ActorRole    `json:"actor_role"`
	CreatedAt  time.Time    `json:"created_at"`
}
