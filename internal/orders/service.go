package orders

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/safar/autoparts-store/internal/database"
	"github.com/safar/autoparts-store/internal/models"
	"github.com/safar/autoparts-store/internal/pricing"
	"github.com/safar/autoparts-store/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Options struct {
	Currency string
	Policy   pricing.Policy
}

// Service runs every cart and order mutation in one transaction: lock the
// order row, change it, recompute totals, commit.
type Service struct {
	db       *sql.DB
	opts     Options
	txOpts   database.TxOptions
	readOpts database.TxOptions
	log      *logrus.Logger
}

func NewService(db *sql.DB, opts Options, log *logrus.Logger) *Service {
	if opts.Currency == "" {
		opts.Currency = "DZD"
	}
	return &Service{
		db:       db,
		opts:     opts,
		txOpts:   database.DefaultTxOptions(),
		readOpts: database.ReadOnlyTxOptions(),
		log:      log,
	}
}

// GetCart returns the user's cart with items. A user without a cart gets an
// empty, unsaved one.
func (s *Service) GetCart(ctx context.Context, userID int64) (*models.Order, error) {
	var cart *models.Order
	err := database.WithTransaction(ctx, s.db, s.readOpts, func(tx *sql.Tx) error {
		var err error
		cart, err = store.FindCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		cart.Items, err = store.ListOrderItems(ctx, tx, cart.ID)
		return err
	})
	if errors.Is(err, database.ErrOrderNotFound) {
		return s.emptyCart(userID), nil
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *Service) GetOrCreateCart(ctx context.Context, userID int64) (*models.Order, error) {
	var cart *models.Order
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		var err error
		cart, err = s.ensureCart(ctx, tx, userID)
		if err != nil {
			return err
		}
		cart.Items, err = store.ListOrderItems(ctx, tx, cart.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// AddItem adds quantity units of partID to the user's cart, creating the cart
// on first use. An existing line is incremented and keeps its original unit
// price; a new line snapshots the current catalog price. added reports
// whether a new line was inserted.
func (s *Service) AddItem(ctx context.Context, userID, partID int64, quantity int) (cart *models.Order, added bool, err error) {
	if err := pricing.CheckQuantity(quantity); err != nil {
		return nil, false, err
	}

	err = database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		added = false

		var err error
		cart, err = s.ensureCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		item, err := store.FindItem(ctx, tx, cart.ID, partID)
		if err != nil {
			return err
		}

		if item != nil {
			if err := store.SetItemQuantity(ctx, tx, item, item.Quantity+quantity); err != nil {
				return err
			}
		} else {
			price, err := s.sellablePrice(ctx, tx, partID)
			if err != nil {
				return err
			}
			if err := store.InsertItem(ctx, tx, cart.ID, partID, quantity, price); err != nil {
				return err
			}
			added = true
		}

		return store.RecomputeTotals(ctx, tx, cart, s.opts.Policy)
	})
	if err != nil {
		return nil, false, err
	}
	return cart, added, nil
}

// UpdateItem sets the absolute quantity of partID in the cart. Zero or less
// removes the line; a part not yet in the cart is added at the current
// catalog price.
func (s *Service) UpdateItem(ctx context.Context, userID, partID int64, quantity int) (*models.Order, error) {
	if quantity <= 0 {
		return s.RemoveItem(ctx, userID, partID)
	}
	if err := pricing.CheckQuantity(quantity); err != nil {
		return nil, err
	}

	var cart *models.Order
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		var err error
		cart, err = s.ensureCart(ctx, tx, userID)
		if err != nil {
			return err
		}

		item, err := store.FindItem(ctx, tx, cart.ID, partID)
		if err != nil {
			return err
		}

		if item != nil {
			if err := store.SetItemQuantity(ctx, tx, item, quantity); err != nil {
				return err
			}
		} else {
			price, err := s.sellablePrice(ctx, tx, partID)
			if err != nil {
				return err
			}
			if err := store.InsertItem(ctx, tx, cart.ID, partID, quantity, price); err != nil {
				return err
			}
		}

		return store.RecomputeTotals(ctx, tx, cart, s.opts.Policy)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// RemoveItem deletes the line for partID. Removing a part that is not in the
// cart, or from a user with no cart, is a no-op.
func (s *Service) RemoveItem(ctx context.Context, userID, partID int64) (*models.Order, error) {
	return s.mutateExistingCart(ctx, userID, func(tx *sql.Tx, cart *models.Order) error {
		_, err := store.DeleteItem(ctx, tx, cart.ID, partID)
		return err
	})
}

// Clear deletes every line and zeroes the cart's aggregates.
func (s *Service) Clear(ctx context.Context, userID int64) (*models.Order, error) {
	return s.mutateExistingCart(ctx, userID, func(tx *sql.Tx, cart *models.Order) error {
		if err := store.DeleteAllItems(ctx, tx, cart.ID); err != nil {
			return err
		}
		cart.DiscountTotal = decimal.Zero
		cart.ShippingTotal = decimal.Zero
		cart.TaxTotal = decimal.Zero
		return nil
	})
}

// Submit checks the user's cart out: shipping details and notes are applied,
// totals are frozen from the current lines and the order moves to pending.
func (s *Service) Submit(ctx context.Context, actor models.Actor, info models.ShippingInfo, notes *string) (*models.Order, error) {
	if err := validateShipping(info); err != nil {
		return nil, err
	}

	var order *models.Order
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		cart, err := s.lockCart(ctx, tx, actor.UserID)
		if errors.Is(err, database.ErrOrderNotFound) {
			return database.ErrEmptyCart
		}
		if err != nil {
			return err
		}

		if err := checkTransition(cart, models.OrderStatusPending, actor); err != nil {
			return err
		}

		if err := store.RecomputeTotals(ctx, tx, cart, s.opts.Policy); err != nil {
			return err
		}
		if len(cart.Items) == 0 {
			return database.ErrEmptyCart
		}

		if err := store.UpdateShipping(ctx, tx, cart, info); err != nil {
			return err
		}
		if err := validateCheckout(cart); err != nil {
			return err
		}
		if notes != nil {
			if err := store.UpdateNotes(ctx, tx, cart, *notes); err != nil {
				return err
			}
		}

		if err := s.applyTransition(ctx, tx, cart, models.OrderStatusPending, actor); err != nil {
			return err
		}
		order = cart
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// Transition moves an order along the status machine.
func (s *Service) Transition(ctx context.Context, orderID int64, to models.OrderStatus, actor models.Actor) (*models.Order, error) {
	if !to.Valid() {
		return nil, database.NewValidationError("status", "unknown status %q", to)
	}
	if to == models.OrderStatusPending {
		// Checkout needs the cart lock and validation that Submit performs.
		order, err := s.GetOrder(ctx, orderID, actor)
		if err != nil {
			return nil, err
		}
		if err := checkTransition(order, to, actor); err != nil {
			return nil, err
		}
		return s.Submit(ctx, actor, models.ShippingInfo{}, nil)
	}

	var order *models.Order
	err := s.withOrder(ctx, orderID, func(tx *sql.Tx, o *models.Order) error {
		if err := checkTransition(o, to, actor); err != nil {
			return err
		}
		if err := s.applyTransition(ctx, tx, o, to, actor); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateShipping changes delivery details without touching the status.
func (s *Service) UpdateShipping(ctx context.Context, orderID int64, info models.ShippingInfo, actor models.Actor) (*models.Order, error) {
	if err := validateShipping(info); err != nil {
		return nil, err
	}

	var order *models.Order
	err := s.withOrder(ctx, orderID, func(tx *sql.Tx, o *models.Order) error {
		if err := checkShippingEdit(o, actor); err != nil {
			return err
		}
		if err := store.UpdateShipping(ctx, tx, o, info); err != nil {
			return err
		}
		if o.Status != models.OrderStatusCart {
			if err := validateCheckout(o); err != nil {
				return err
			}
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// AddNote overwrites the order notes. Allowed at any status.
func (s *Service) AddNote(ctx context.Context, orderID int64, text string, actor models.Actor) (*models.Order, error) {
	var order *models.Order
	err := s.withOrder(ctx, orderID, func(tx *sql.Tx, o *models.Order) error {
		if actor.Role != models.RoleStaff && !isOwner(o, actor) {
			return database.ErrForbidden
		}
		if err := store.UpdateNotes(ctx, tx, o, text); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// SetAdjustments replaces discount, shipping and tax and recomputes the grand
// total.
func (s *Service) SetAdjustments(ctx context.Context, orderID int64, adj pricing.Adjustments, actor models.Actor) (*models.Order, error) {
	if err := adj.Validate(); err != nil {
		return nil, err
	}

	var order *models.Order
	err := s.withOrder(ctx, orderID, func(tx *sql.Tx, o *models.Order) error {
		if err := checkAdjustments(o, actor); err != nil {
			return err
		}
		o.DiscountTotal = adj.Discount
		o.ShippingTotal = adj.Shipping
		o.TaxTotal = adj.Tax
		if err := store.RecomputeTotals(ctx, tx, o, s.opts.Policy); err != nil {
			return err
		}
		order = o
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetOrder returns the order with its items. Staff also get the owner's
// identity.
func (s *Service) GetOrder(ctx context.Context, orderID int64, actor models.Actor) (*models.Order, error) {
	var order *models.Order
	err := database.WithTransaction(ctx, s.db, s.readOpts, func(tx *sql.Tx) error {
		var err error
		order, err = s.visibleOrder(ctx, tx, orderID, actor)
		if err != nil {
			return err
		}
		if actor.Role != models.RoleStaff {
			return nil
		}
		owner, err := store.GetUser(ctx, tx, order.UserID)
		if err != nil {
			return err
		}
		order.Owner = &models.OrderOwner{ID: owner.ID, Name: owner.Name, Email: owner.Email}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (s *Service) History(ctx context.Context, orderID int64, actor models.Actor) ([]models.StatusChange, error) {
	var history []models.StatusChange
	err := database.WithTransaction(ctx, s.db, s.readOpts, func(tx *sql.Tx) error {
		if _, err := s.visibleOrder(ctx, tx, orderID, actor); err != nil {
			return err
		}
		var err error
		history, err = store.ListStatusHistory(ctx, tx, orderID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return history, nil
}

func (s *Service) visibleOrder(ctx context.Context, q store.Querier, orderID int64, actor models.Actor) (*models.Order, error) {
	order, err := store.GetOrder(ctx, q, orderID)
	if err != nil {
		return nil, err
	}
	if !canView(order, actor) {
		// Do not reveal other users' order ids.
		return nil, database.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) ListUserOrders(ctx context.Context, userID int64, cursor string, limit int) (*store.CursorPage[models.Order], error) {
	return store.ListOrdersCursor(ctx, s.db, userID, cursor, limit)
}

func (s *Service) ListOrders(ctx context.Context, status models.OrderStatus, page, pageSize int) (*store.OffsetPage[models.Order], error) {
	if status != "" && !status.Valid() {
		return nil, database.NewValidationError("status", "unknown status %q", status)
	}
	return store.ListOrders(ctx, s.db, status, page, pageSize)
}

// CancelStale cancels up to batch orders in status untouched since before,
// acting as the system. Returns the number canceled.
func (s *Service) CancelStale(ctx context.Context, status models.OrderStatus, before time.Time, batch int) (int, error) {
	actor := models.SystemActor()
	canceled := 0

	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		canceled = 0
		stale, err := store.ClaimStaleOrders(ctx, tx, status, before, batch)
		if err != nil {
			return err
		}
		for _, o := range stale {
			if err := checkTransition(o, models.OrderStatusCanceled, actor); err != nil {
				return err
			}
			if err := s.applyTransition(ctx, tx, o, models.OrderStatusCanceled, actor); err != nil {
				return err
			}
			canceled++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return canceled, nil
}

func (s *Service) applyTransition(ctx context.Context, tx *sql.Tx, o *models.Order, to models.OrderStatus, actor models.Actor) error {
	from := o.Status
	if err := store.UpdateOrderStatus(ctx, tx, o, to); err != nil {
		return err
	}
	if err := store.InsertStatusChange(ctx, tx, o.ID, &from, to, actor); err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"order_id":   o.ID,
		"from":       from,
		"to":         to,
		"actor_id":   actor.UserID,
		"actor_role": actor.Role,
	}).Info("order status changed")
	return nil
}

func (s *Service) ensureCart(ctx context.Context, tx *sql.Tx, userID int64) (*models.Order, error) {
	cart, created, err := store.EnsureCart(ctx, tx, userID, s.opts.Currency)
	if err != nil {
		return nil, err
	}
	if created {
		actor := models.Actor{UserID: userID, Role: models.RoleCustomer}
		if err := store.InsertStatusChange(ctx, tx, cart.ID, nil, models.OrderStatusCart, actor); err != nil {
			return nil, err
		}
		s.log.WithFields(logrus.Fields{"order_id": cart.ID, "user_id": userID}).Info("cart created")
	}
	return cart, nil
}

func (s *Service) lockCart(ctx context.Context, tx *sql.Tx, userID int64) (*models.Order, error) {
	found, err := store.FindCart(ctx, tx, userID)
	if err != nil {
		return nil, err
	}
	cart, err := store.LockOrder(ctx, tx, found.ID)
	if err != nil {
		return nil, err
	}
	if cart.Status != models.OrderStatusCart {
		// Submitted between the lookup and the lock.
		return nil, database.ErrOrderNotFound
	}
	return cart, nil
}

// mutateExistingCart runs fn on the user's locked cart and recomputes totals.
// A user without a cart gets an empty summary and fn is not run.
func (s *Service) mutateExistingCart(ctx context.Context, userID int64, fn func(*sql.Tx, *models.Order) error) (*models.Order, error) {
	var cart *models.Order
	err := database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		var err error
		cart, err = s.lockCart(ctx, tx, userID)
		if errors.Is(err, database.ErrOrderNotFound) {
			cart = s.emptyCart(userID)
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(tx, cart); err != nil {
			return err
		}
		return store.RecomputeTotals(ctx, tx, cart, s.opts.Policy)
	})
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *Service) withOrder(ctx context.Context, orderID int64, fn func(*sql.Tx, *models.Order) error) error {
	return database.WithRetry(ctx, s.db, s.txOpts, func(tx *sql.Tx) error {
		order, err := store.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if err := fn(tx, order); err != nil {
			return err
		}
		order.Items, err = store.ListOrderItems(ctx, tx, order.ID)
		return err
	})
}

func (s *Service) sellablePrice(ctx context.Context, tx *sql.Tx, partID int64) (decimal.Decimal, error) {
	part, err := store.GetPart(ctx, tx, partID)
	if err != nil {
		return decimal.Zero, err
	}
	if !part.IsActive {
		return decimal.Zero, database.NewValidationError("part_id", "part %d is not available", partID)
	}
	return part.Price, nil
}

func (s *Service) emptyCart(userID int64) *models.Order {
	return &models.Order{
		UserID:        userID,
		Status:        models.OrderStatusCart,
		Subtotal:      decimal.Zero,
		DiscountTotal: decimal.Zero,
		ShippingTotal: decimal.Zero,
		TaxTotal:      decimal.Zero,
		GrandTotal:    decimal.Zero,
		Currency:      s.opts.Currency,
		Items:         []models.OrderItem{},
	}
}
