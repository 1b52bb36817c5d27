package ledger

import (
	"context"
	"sort"
)

// Cart maps product ids to the desired quantity.
type Cart map[int64]int

// ProductIDs returns the cart's products in ascending order.
func (c Cart) ProductIDs() []int64 {
	ids := make([]int64, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Checkout turns a cart into a website order in one transaction. If any line
// cannot be reserved nothing is kept. Lines are reserved in ascending product id
// so concurrent checkouts take lot locks in the same order.
func (l *Ledger) Checkout(ctx context.Context, clientID int64, cart Cart) (int64, error) {
	var orderID int64
	err := l.update(ctx, "checkout", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "checkout"
		if len(cart) == 0 {
			return Errorf(KindInvalidInput, op, "cart is empty")
		}
		for id, qty := range cart {
			if qty <= 0 {
				return Errorf(KindInvalidInput, op, "quantity for product %d must be positive", id)
			}
		}
		id, err := l.createOrder(ctx, tx, out, clientID, ChannelWebsite)
		if err != nil {
			return err
		}
		for _, productID := range cart.ProductIDs() {
			if _, err := l.addItem(ctx, tx, out, id, productID, cart[productID]); err != nil {
				return err
			}
		}
		orderID = id
		return nil
	})
	return orderID, err
}
