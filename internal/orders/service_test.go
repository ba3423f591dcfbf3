package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/safar/autoparts-store/internal/database"
	"github.com/safar/autoparts-store/internal/dbtest"
	"github.com/safar/autoparts-store/internal/models"
	"github.com/safar/autoparts-store/internal/pricing"
	"github.com/safar/autoparts-store/internal/store"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type fixture struct {
	db    *sql.DB
	svc   *Service
	owner models.Actor
	staff models.Actor
	partP *models.Part
	partQ *models.Part
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Postgres(t)
	ctx := context.Background()

	log := logrus.New()
	log.Out = io.Discard

	user, err := store.CreateUser(ctx, db, "buyer@example.com", "Buyer")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	clerk, err := store.CreateUser(ctx, db, "clerk@example.com", "Clerk")
	if err != nil {
		t.Fatalf("Create staff user: %v", err)
	}

	partP, err := store.CreatePart(ctx, db, "BRK-PAD-001", "Brake pads", decimal.RequireFromString("1500.00"))
	if err != nil {
		t.Fatalf("Create part P: %v", err)
	}
	partQ, err := store.CreatePart(ctx, db, "OIL-FLT-002", "Oil filter", decimal.RequireFromString("2300.00"))
	if err != nil {
		t.Fatalf("Create part Q: %v", err)
	}

	return &fixture{
		db:    db,
		svc:   NewService(db, Options{Currency: "DZD", Policy: pricing.DefaultPolicy()}, log),
		owner: models.Actor{UserID: user.ID, Role: models.RoleCustomer},
		staff: models.Actor{UserID: clerk.ID, Role: models.RoleStaff},
		partP: partP,
		partQ: partQ,
	}
}

func strPtr(s string) *string { return &s }

func methodPtr(m models.DeliveryMethod) *models.DeliveryMethod { return &m }

func assertInvariants(t *testing.T, o *models.Order) {
	t.Helper()
	sum := decimal.Zero
	for _, it := range o.Items {
		want := it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity)))
		if !it.LineTotal.Equal(want) {
			t.Errorf("line %d: line_total %s, want %s", it.PartID, it.LineTotal, want)
		}
		sum = sum.Add(it.LineTotal)
	}
	if !o.Subtotal.Equal(sum) {
		t.Errorf("subtotal %s, want sum of lines %s", o.Subtotal, sum)
	}
	grand := o.Subtotal.Sub(o.DiscountTotal).Add(o.ShippingTotal).Add(o.TaxTotal)
	if !grand.IsNegative() && !o.GrandTotal.Equal(grand) {
		t.Errorf("grand_total %s, want %s", o.GrandTotal, grand)
	}
}

func (f *fixture) fillCart(t *testing.T) *models.Order {
	t.Helper()
	ctx := context.Background()
	if _, _, err := f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, 2); err != nil {
		t.Fatalf("Add P: %v", err)
	}
	cart, _, err := f.svc.AddItem(ctx, f.owner.UserID, f.partQ.ID, 1)
	if err != nil {
		t.Fatalf("Add Q: %v", err)
	}
	return cart
}

func TestCartTotalsScenario(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cart := f.fillCart(t)
	assertInvariants(t, cart)

	cart, err := f.svc.SetAdjustments(ctx, cart.ID, pricing.Adjustments{
		Discount: decimal.RequireFromString("500.00"),
		Shipping: decimal.RequireFromString("300.00"),
	}, f.staff)
	if err != nil {
		t.Fatalf("Set adjustments: %v", err)
	}

	if cart.Subtotal.StringFixed(2) != "5300.00" {
		t.Errorf("Expected subtotal 5300.00, got %s", cart.Subtotal.StringFixed(2))
	}
	if cart.GrandTotal.StringFixed(2) != "5100.00" {
		t.Errorf("Expected grand total 5100.00, got %s", cart.GrandTotal.StringFixed(2))
	}
	assertInvariants(t, cart)

	stored, err := store.GetOrder(ctx, f.db, cart.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if !stored.GrandTotal.Equal(cart.GrandTotal) {
		t.Errorf("Persisted grand total %s, returned %s", stored.GrandTotal, cart.GrandTotal)
	}
}

func TestAddSamePartAccumulates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, added, err := f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, 2)
	if err != nil {
		t.Fatalf("First add: %v", err)
	}
	if !added {
		t.Error("First add should insert a line")
	}

	cart, added, err := f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, 3)
	if err != nil {
		t.Fatalf("Second add: %v", err)
	}
	if added {
		t.Error("Second add should update the existing line")
	}

	if len(cart.Items) != 1 {
		t.Fatalf("Expected 1 line, got %d", len(cart.Items))
	}
	if cart.Items[0].Quantity != 5 {
		t.Errorf("Expected quantity 5, got %d", cart.Items[0].Quantity)
	}
	assertInvariants(t, cart)
}

func TestUnitPriceIsSnapshotted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if _, _, err := f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, 1); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := f.db.ExecContext(ctx, `UPDATE parts SET price = 9999 WHERE id = $1`, f.partP.ID); err != nil {
		t.Fatalf("Reprice: %v", err)
	}

	cart, _, err := f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, 1)
	if err != nil {
		t.Fatalf("Add again: %v", err)
	}
	if cart.Items[0].UnitPrice.StringFixed(2) != "1500.00" {
		t.Errorf("Unit price should stay 1500.00, got %s", cart.Items[0].UnitPrice)
	}
}

func TestAddItemValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, 0)
	if !database.IsValidation(err) {
		t.Errorf("Expected validation error for zero quantity, got %v", err)
	}

	_, _, err = f.svc.AddItem(ctx, f.owner.UserID, 424242, 1)
	if !errors.Is(err, database.ErrPartNotFound) {
		t.Errorf("Expected part not found, got %v", err)
	}

	if err := store.SetPartActive(ctx, f.db, f.partQ.ID, false); err != nil {
		t.Fatalf("Deactivate part: %v", err)
	}
	_, _, err = f.svc.AddItem(ctx, f.owner.UserID, f.partQ.ID, 1)
	if !database.IsValidation(err) {
		t.Errorf("Expected validation error for inactive part, got %v", err)
	}

	_, _, err = f.svc.AddItem(ctx, 987654, f.partP.ID, 1)
	if !errors.Is(err, database.ErrUserNotFound) {
		t.Errorf("Expected user not found, got %v", err)
	}
}

func TestOversizedQuantityIsValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, pricing.MaxQuantity+1)
	if !database.IsValidation(err) {
		t.Errorf("Expected validation error for quantity above int4, got %v", err)
	}

	_, _, err = f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, 10_000_000)
	if !database.IsValidation(err) {
		t.Errorf("Expected validation error for oversized line total, got %v", err)
	}

	if _, _, err := f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, 5_000_000); err != nil {
		t.Fatalf("Add large quantity: %v", err)
	}

	_, _, err = f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, 2_000_000)
	if !database.IsValidation(err) {
		t.Errorf("Expected validation error for accumulated quantity, got %v", err)
	}

	_, _, err = f.svc.AddItem(ctx, f.owner.UserID, f.partQ.ID, 2_000_000)
	if !database.IsValidation(err) {
		t.Errorf("Expected validation error for oversized subtotal, got %v", err)
	}

	_, err = f.svc.UpdateItem(ctx, f.owner.UserID, f.partP.ID, pricing.MaxQuantity+1)
	if !database.IsValidation(err) {
		t.Errorf("Expected validation error on update, got %v", err)
	}

	cart, err := f.svc.GetCart(ctx, f.owner.UserID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != 5_000_000 {
		t.Fatalf("Expected the single 5000000-unit line to be untouched, got %+v", cart.Items)
	}
	if cart.Subtotal.StringFixed(2) != "7500000000.00" {
		t.Errorf("Expected subtotal 7500000000.00, got %s", cart.Subtotal.StringFixed(2))
	}
	assertInvariants(t, cart)
}

func TestUpdateAndRemoveItems(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if _, err := f.svc.RemoveItem(ctx, f.owner.UserID, f.partP.ID); err != nil {
		t.Fatalf("Remove without cart should be a no-op: %v", err)
	}

	f.fillCart(t)

	cart, err := f.svc.UpdateItem(ctx, f.owner.UserID, f.partP.ID, 4)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	assertInvariants(t, cart)
	if cart.Subtotal.StringFixed(2) != "8300.00" {
		t.Errorf("Expected subtotal 8300.00, got %s", cart.Subtotal.StringFixed(2))
	}

	cart, err = f.svc.UpdateItem(ctx, f.owner.UserID, f.partQ.ID, 0)
	if err != nil {
		t.Fatalf("Update to zero: %v", err)
	}
	if len(cart.Items) != 1 {
		t.Errorf("Expected 1 line after zero update, got %d", len(cart.Items))
	}

	cart, err = f.svc.RemoveItem(ctx, f.owner.UserID, f.partQ.ID)
	if err != nil {
		t.Fatalf("Removing an absent line should be a no-op: %v", err)
	}
	assertInvariants(t, cart)

	cart, err = f.svc.Clear(ctx, f.owner.UserID)
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(cart.Items) != 0 || !cart.Subtotal.IsZero() || !cart.GrandTotal.IsZero() {
		t.Errorf("Clear should zero the cart, got %d items, subtotal %s", len(cart.Items), cart.Subtotal)
	}
}

func TestConcurrentFirstAddCreatesOneCart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	concurrency := 8
	var wg sync.WaitGroup
	errs := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, 1)
			errs <- err
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("Concurrent add failed: %v", err)
		}
	}

	var carts int
	if err := f.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM orders WHERE user_id = $1 AND status = 'cart'`, f.owner.UserID).Scan(&carts); err != nil {
		t.Fatalf("Count carts: %v", err)
	}
	if carts != 1 {
		t.Errorf("Expected exactly one cart, got %d", carts)
	}

	cart, err := f.svc.GetCart(ctx, f.owner.UserID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if len(cart.Items) != 1 || cart.Items[0].Quantity != concurrency {
		t.Errorf("Expected one line with quantity %d, got %+v", concurrency, cart.Items)
	}
	assertInvariants(t, cart)
}

func TestSubmitCheckout(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.svc.Submit(ctx, f.owner, models.ShippingInfo{}, nil)
	if !errors.Is(err, database.ErrEmptyCart) {
		t.Errorf("Expected empty cart without a cart, got %v", err)
	}

	f.fillCart(t)
	if _, err := f.svc.Clear(ctx, f.owner.UserID); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	_, err = f.svc.Submit(ctx, f.owner, models.ShippingInfo{DeliveryMethod: methodPtr(models.DeliveryPickup)}, nil)
	if !errors.Is(err, database.ErrEmptyCart) {
		t.Errorf("Expected empty cart after clear, got %v", err)
	}

	f.fillCart(t)

	_, err = f.svc.Submit(ctx, f.owner, models.ShippingInfo{
		DeliveryMethod: methodPtr(models.DeliveryCourier),
		ShipToName:     strPtr("Amine"),
		ShipToPhone:    strPtr("+213555000000"),
		ShipToAddress:  strPtr(""),
	}, nil)
	var ve *database.ValidationError
	if !errors.As(err, &ve) || ve.Field != "ship_to_address" {
		t.Fatalf("Expected ship_to_address validation error, got %v", err)
	}

	cart, err := f.svc.GetCart(ctx, f.owner.UserID)
	if err != nil {
		t.Fatalf("Get cart: %v", err)
	}
	if cart.Status != models.OrderStatusCart || cart.DeliveryMethod != nil {
		t.Errorf("Failed submit must not leave partial writes, got status %s method %v", cart.Status, cart.DeliveryMethod)
	}

	order, err := f.svc.Submit(ctx, f.owner, models.ShippingInfo{
		DeliveryMethod: methodPtr(models.DeliveryPickup),
		ShipToName:     strPtr("Amine"),
		ShipToPhone:    strPtr("+213555000000"),
	}, strPtr("call before pickup"))
	if err != nil {
		t.Fatalf("Submit pickup: %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected pending, got %s", order.Status)
	}
	if order.Subtotal.StringFixed(2) != "5300.00" {
		t.Errorf("Expected frozen subtotal 5300.00, got %s", order.Subtotal.StringFixed(2))
	}
	assertInvariants(t, order)

	next, _, err := f.svc.AddItem(ctx, f.owner.UserID, f.partP.ID, 1)
	if err != nil {
		t.Fatalf("Add after submit: %v", err)
	}
	if next.ID == order.ID {
		t.Error("Adding after checkout must open a new cart")
	}
}

func (f *fixture) submitted(t *testing.T) *models.Order {
	t.Helper()
	f.fillCart(t)
	order, err := f.svc.Submit(context.Background(), f.owner, models.ShippingInfo{
		DeliveryMethod: methodPtr(models.DeliveryCourier),
		ShipToName:     strPtr("Amine"),
		ShipToPhone:    strPtr("+213555000000"),
		ShipToAddress:  strPtr("12 Rue Didouche, Alger"),
	}, nil)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return order
}

func TestLifecycleToCompleted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	order := f.submitted(t)

	for _, to := range []models.OrderStatus{
		models.OrderStatusConfirmed,
		models.OrderStatusPreparing,
		models.OrderStatusShipped,
		models.OrderStatusCompleted,
	} {
		var err error
		order, err = f.svc.Transition(ctx, order.ID, to, f.staff)
		if err != nil {
			t.Fatalf("Transition to %s: %v", to, err)
		}
		if order.Status != to {
			t.Errorf("Expected %s, got %s", to, order.Status)
		}
	}

	_, err := f.svc.Transition(ctx, order.ID, models.OrderStatusPending, f.staff)
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition from completed, got %v", err)
	}
	_, err = f.svc.Transition(ctx, order.ID, models.OrderStatusCanceled, f.staff)
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition completed -> canceled, got %v", err)
	}

	before, err := store.GetOrder(ctx, f.db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	_, err = f.svc.UpdateShipping(ctx, order.ID, models.ShippingInfo{ShipToName: strPtr("Someone else")}, f.staff)
	if !errors.Is(err, database.ErrOrderLocked) {
		t.Errorf("Expected order locked, got %v", err)
	}
	after, err := store.GetOrder(ctx, f.db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if *after.ShipToName != *before.ShipToName || after.Version != before.Version {
		t.Error("Locked order must not change")
	}

	if _, err := f.svc.AddNote(ctx, order.ID, "delivered to front desk", f.staff); err != nil {
		t.Errorf("Notes are allowed at any status: %v", err)
	}

	history, err := f.svc.History(ctx, order.ID, f.owner)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := []models.OrderStatus{
		models.OrderStatusCart,
		models.OrderStatusPending,
		models.OrderStatusConfirmed,
		models.OrderStatusPreparing,
		models.OrderStatusShipped,
		models.OrderStatusCompleted,
	}
	if len(history) != len(want) {
		t.Fatalf("Expected %d history rows, got %d", len(want), len(history))
	}
	for i, h := range history {
		if h.ToStatus != want[i] {
			t.Errorf("History[%d] = %s, want %s", i, h.ToStatus, want[i])
		}
	}
}

func TestTransitionRules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cart := f.fillCart(t)

	_, err := f.svc.Transition(ctx, cart.ID, models.OrderStatusShipped, f.staff)
	if !errors.Is(err, database.ErrInvalidTransition) {
		t.Errorf("Expected invalid transition cart -> shipped, got %v", err)
	}

	_, err = f.svc.Transition(ctx, cart.ID, models.OrderStatusPending, f.staff)
	if !errors.Is(err, database.ErrForbidden) {
		t.Errorf("Staff cannot submit a cart, got %v", err)
	}

	order := f.submitted(t)

	_, err = f.svc.Transition(ctx, order.ID, models.OrderStatusConfirmed, f.owner)
	if !errors.Is(err, database.ErrForbidden) {
		t.Errorf("Owner cannot confirm, got %v", err)
	}

	canceled, err := f.svc.Transition(ctx, order.ID, models.OrderStatusCanceled, f.staff)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if len(canceled.Items) != 2 {
		t.Errorf("Canceled orders keep their items, got %d", len(canceled.Items))
	}

	_, err = f.svc.Transition(ctx, order.ID, models.OrderStatus("lost"), f.staff)
	if !database.IsValidation(err) {
		t.Errorf("Expected validation error for unknown status, got %v", err)
	}
}

func TestAdjustmentsAndNegativeTotals(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	cart := f.fillCart(t)

	order, err := f.svc.SetAdjustments(ctx, cart.ID, pricing.Adjustments{
		Discount: decimal.RequireFromString("6000.00"),
	}, f.staff)
	if err != nil {
		t.Fatalf("Set adjustments: %v", err)
	}
	if !order.GrandTotal.IsZero() {
		t.Errorf("Clamped grand total should be 0, got %s", order.GrandTotal)
	}

	log := logrus.New()
	log.Out = io.Discard
	permissive := NewService(f.db, Options{Currency: "DZD", Policy: pricing.Policy{ClampNegative: false}}, log)
	order, err = permissive.SetAdjustments(ctx, cart.ID, pricing.Adjustments{
		Discount: decimal.RequireFromString("6000.00"),
	}, f.staff)
	if err != nil {
		t.Fatalf("Set adjustments: %v", err)
	}
	if order.GrandTotal.StringFixed(2) != "-700.00" {
		t.Errorf("Permissive grand total should be -700.00, got %s", order.GrandTotal.StringFixed(2))
	}

	_, err = f.svc.SetAdjustments(ctx, cart.ID, pricing.Adjustments{}, f.owner)
	if !errors.Is(err, database.ErrForbidden) {
		t.Errorf("Customers cannot adjust totals, got %v", err)
	}
}

func TestOrderVisibility(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	order := f.submitted(t)

	other, err := store.CreateUser(ctx, f.db, "other@example.com", "Other")
	if err != nil {
		t.Fatalf("Create user: %v", err)
	}
	stranger := models.Actor{UserID: other.ID, Role: models.RoleCustomer}

	if _, err := f.svc.GetOrder(ctx, order.ID, stranger); !errors.Is(err, database.ErrOrderNotFound) {
		t.Errorf("Strangers should not see the order, got %v", err)
	}
	mine, err := f.svc.GetOrder(ctx, order.ID, f.owner)
	if err != nil {
		t.Fatalf("Owner should see the order: %v", err)
	}
	if mine.Owner != nil {
		t.Errorf("Owner identity is for staff views only, got %+v", mine.Owner)
	}

	viewed, err := f.svc.GetOrder(ctx, order.ID, f.staff)
	if err != nil {
		t.Fatalf("Staff should see the order: %v", err)
	}
	if viewed.Owner == nil || viewed.Owner.ID != f.owner.UserID || viewed.Owner.Name != "Buyer" || viewed.Owner.Email != "buyer@example.com" {
		t.Errorf("Expected staff view to carry the owner, got %+v", viewed.Owner)
	}
	if len(viewed.Items) != 2 {
		t.Errorf("Expected 2 items in staff view, got %d", len(viewed.Items))
	}

	page, err := f.svc.ListUserOrders(ctx, f.owner.UserID, "", 10)
	if err != nil {
		t.Fatalf("List user orders: %v", err)
	}
	if len(page.Items) != 1 || page.HasMore {
		t.Errorf("Expected one placed order, got %d (has_more=%v)", len(page.Items), page.HasMore)
	}

	admin, err := f.svc.ListOrders(ctx, models.OrderStatusPending, 1, 20)
	if err != nil {
		t.Fatalf("List orders: %v", err)
	}
	if admin.Total != 1 {
		t.Errorf("Expected 1 pending order, got %d", admin.Total)
	}
}

func TestCancelStale(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	order := f.submitted(t)
	cart := f.fillCart(t)

	if _, err := f.db.ExecContext(ctx,
		`UPDATE orders SET updated_at = NOW() - INTERVAL '10 days' WHERE id = $1`, order.ID); err != nil {
		t.Fatalf("Age order: %v", err)
	}

	n, err := f.svc.CancelStale(ctx, models.OrderStatusPending, time.Now().Add(-7*24*time.Hour), 10)
	if err != nil {
		t.Fatalf("Cancel stale: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 canceled order, got %d", n)
	}

	n, err = f.svc.CancelStale(ctx, models.OrderStatusCart, time.Now().Add(-24*time.Hour), 10)
	if err != nil {
		t.Fatalf("Cancel stale carts: %v", err)
	}
	if n != 0 {
		t.Errorf("Fresh cart %d should survive, canceled %d", cart.ID, n)
	}

	history, err := store.ListStatusHistory(ctx, f.db, order.ID)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	last := history[len(history)-1]
	if last.ToStatus != models.OrderStatusCanceled || last.ActorRole != models.RoleSystem {
		t.Errorf("Expected system cancellation, got %s by %s", last.ToStatus, last.ActorRole)
	}
}

func ExampleCanTransition() {
	fmt.Println(CanTransition(models.OrderStatusShipped, models.OrderStatusCompleted))
	fmt.Println(CanTransition(models.OrderStatusCompleted, models.OrderStatusPending))
	// Output:
	// true
	// false
}
