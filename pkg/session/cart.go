package session

import (
	"context"
	"strconv"

	"hardwarestore/pkg/ledger"
)

// Availability reports how many units of a product can still be ordered.
type Availability interface {
	AvailableQuantity(ctx context.Context, productID int64) (int, error)
}

// Carts edits the cart of a session, validating quantities against live stock.
// Stock is not reserved until checkout.
type Carts struct {
	store *Store
	stock Availability
}

// NewCarts binds carts to a session store and a stock source.
func NewCarts(store *Store, stock Availability) *Carts {
	return &Carts{store: store, stock: stock}
}

func cartKey(productID int64) string {
	return strconv.FormatInt(productID, 10)
}

func (c *Carts) check(ctx context.Context, op string, productID int64, qty int) error {
	available, err := c.stock.AvailableQuantity(ctx, productID)
	if err != nil {
		return err
	}
	if qty > available {
		return ledger.Errorf(ledger.KindInsufficientStock, op, "only %d units of product %d available", available, productID)
	}
	return nil
}

// Add puts qty more units of a product in the cart.
func (c *Carts) Add(ctx context.Context, sess *Session, productID int64, qty int) error {
	const op = "add to cart"
	if qty <= 0 {
		return ledger.Errorf(ledger.KindInvalidInput, op, "quantity must be positive")
	}
	if sess.Cart == nil {
		sess.Cart = map[string]int{}
	}
	total := sess.Cart[cartKey(productID)] + qty
	if err := c.check(ctx, op, productID, total); err != nil {
		return err
	}
	sess.Cart[cartKey(productID)] = total
	return c.store.Save(sess)
}

// Update sets the quantity of a product already in the cart.
func (c *Carts) Update(ctx context.Context, sess *Session, productID int64, qty int) error {
	const op = "update cart"
	if qty <= 0 {
		return ledger.Errorf(ledger.KindInvalidInput, op, "quantity must be positive")
	}
	if _, ok := sess.Cart[cartKey(productID)]; !ok {
		return ledger.Errorf(ledger.KindNotFound, op, "product %d is not in the cart", productID)
	}
	if err := c.check(ctx, op, productID, qty); err != nil {
		return err
	}
	sess.Cart[cartKey(productID)] = qty
	return c.store.Save(sess)
}

// Remove drops a product from the cart. Removing an absent product is a no-op.
func (c *Carts) Remove(sess *Session, productID int64) error {
	delete(sess.Cart, cartKey(productID))
	return c.store.Save(sess)
}

// Clear empties the cart, typically after checkout.
func (c *Carts) Clear(sess *Session) error {
	sess.Cart = map[string]int{}
	return c.store.Save(sess)
}
