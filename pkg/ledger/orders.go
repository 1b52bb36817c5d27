package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"hardwarestore/pkg/events"
)

var hundred = decimal.NewFromInt(100)

// CreateOrder opens an empty order for an existing client.
func (l *Ledger) CreateOrder(ctx context.Context, clientID int64, channel Channel) (int64, error) {
	var id int64
	err := l.update(ctx, "create_order", func(ctx context.Context, tx Tx, out *outbox) error {
		var err error
		id, err = l.createOrder(ctx, tx, out, clientID, channel)
		return err
	})
	return id, err
}

func (l *Ledger) createOrder(ctx context.Context, tx Tx, out *outbox, clientID int64, channel Channel) (int64, error) {
	const op = "create order"
	switch channel {
	case ChannelWebsite, ChannelAdmin:
	default:
		return 0, Errorf(KindInvalidInput, op, "unknown order channel %q", channel)
	}
	if _, err := tx.Client(ctx, clientID); err != nil {
		return 0, orFound(err, op, "client", clientID)
	}
	o := Order{
		ClientID:     clientID,
		Channel:      channel,
		Status:       StatusNew,
		RefundStatus: RefundNone,
		CreatedAt:    l.now().UTC(),
	}
	if err := tx.InsertOrder(ctx, &o); err != nil {
		return 0, err
	}
	out.add(events.OrderCreated, o.ID, map[string]any{"client_id": clientID, "channel": string(channel)})
	return o.ID, nil
}

// AddItem reserves qty units of a product on the order. The oldest lot that can
// cover the whole quantity is used; quantities are never split across lots.
func (l *Ledger) AddItem(ctx context.Context, orderID, productID int64, qty int) (int64, error) {
	var id int64
	err := l.update(ctx, "add_item", func(ctx context.Context, tx Tx, out *outbox) error {
		var err error
		id, err = l.addItem(ctx, tx, out, orderID, productID, qty)
		return err
	})
	return id, err
}

func (l *Ledger) addItem(ctx context.Context, tx Tx, out *outbox, orderID, productID int64, qty int) (int64, error) {
	const op = "add item"
	if qty <= 0 {
		return 0, Errorf(KindInvalidInput, op, "quantity must be positive")
	}
	if _, err := tx.Order(ctx, orderID, true); err != nil {
		return 0, orFound(err, op, "order", orderID)
	}
	product, err := tx.Product(ctx, productID)
	if err != nil {
		return 0, orFound(err, op, "product", productID)
	}
	lots, err := tx.ProductLots(ctx, productID, true)
	if err != nil {
		return 0, err
	}
	var chosen *Lot
	for i := range lots {
		if lots[i].Available() >= qty {
			chosen = &lots[i]
			break
		}
	}
	if chosen == nil {
		return 0, Errorf(KindInsufficientStock, op, "no lot of product %d has %d units available", productID, qty)
	}
	if err := chosen.Reserve(qty); err != nil {
		return 0, err
	}
	if err := tx.UpdateLot(ctx, *chosen); err != nil {
		return 0, err
	}
	lotID := chosen.ID
	item := OrderItem{
		OrderID:      orderID,
		ProductID:    productID,
		LotID:        &lotID,
		Quantity:     qty,
		PriceAtOrder: product.Price,
	}
	if err := tx.InsertItem(ctx, &item); err != nil {
		return 0, err
	}
	out.add(events.OrderItemAdded, orderID, map[string]any{
		"order_item_id":  item.ID,
		"product_id":     productID,
		"lot_id":         lotID,
		"quantity":       qty,
		"price_at_order": item.PriceAtOrder.StringFixed(2),
	})
	return item.ID, nil
}

// RemoveItem deletes an order line and releases its reservation.
func (l *Ledger) RemoveItem(ctx context.Context, itemID int64) error {
	return l.update(ctx, "remove_item", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "remove item"
		item, err := tx.Item(ctx, itemID)
		if err != nil {
			return orFound(err, op, "order item", itemID)
		}
		if err := releaseItem(ctx, tx, item); err != nil {
			return err
		}
		if err := tx.DeleteItem(ctx, itemID); err != nil {
			return err
		}
		out.add(events.OrderItemRemoved, item.OrderID, map[string]any{
			"order_item_id": itemID,
			"product_id":    item.ProductID,
			"quantity":      item.Quantity,
		})
		return nil
	})
}

// releaseItem gives the item's quantity back to its lot. A lot that no longer
// exists is skipped.
func releaseItem(ctx context.Context, tx Tx, item OrderItem) error {
	if item.LotID == nil {
		return nil
	}
	lot, err := tx.Lot(ctx, *item.LotID, true)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	lot.Release(item.Quantity)
	return tx.UpdateLot(ctx, lot)
}

// UpdateStatus sets the fulfilment status. Reaching delivered also finishes the order.
func (l *Ledger) UpdateStatus(ctx context.Context, orderID int64, status Status) error {
	return l.update(ctx, "update_status", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "update status"
		next, err := ParseStatus(string(status))
		if err != nil {
			return err
		}
		o, err := tx.Order(ctx, orderID, true)
		if err != nil {
			return orFound(err, op, "order", orderID)
		}
		if l.strict && !o.Status.CanAdvanceTo(next) {
			return Errorf(KindInvalidState, op, "order %d cannot move from %s to %s", orderID, o.Status, next)
		}
		prev := o.Status
		o.Status = next
		if next == StatusDelivered {
			o.Finished = true
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out.add(events.OrderStatusChanged, orderID, map[string]any{
			"from":     string(prev),
			"to":       string(next),
			"finished": o.Finished,
		})
		return nil
	})
}

// ApplyDiscount sets the order discount, or clears it when discountID is nil.
func (l *Ledger) ApplyDiscount(ctx context.Context, orderID int64, discountID *int64) error {
	return l.update(ctx, "apply_discount", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "apply discount"
		o, err := tx.Order(ctx, orderID, true)
		if err != nil {
			return orFound(err, op, "order", orderID)
		}
		payload := map[string]any{"discount_id": nil}
		if discountID != nil {
			d, err := tx.Discount(ctx, *discountID)
			if err != nil {
				return orFound(err, op, "discount", *discountID)
			}
			id := d.ID
			o.DiscountID = &id
			payload["discount_id"] = id
			payload["discount_percent"] = d.Percent.String()
		} else {
			o.DiscountID = nil
		}
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out.add(events.OrderDiscountApplied, orderID, payload)
		return nil
	})
}

// Payable is the discounted order total rounded to cents.
func (l *Ledger) Payable(ctx context.Context, orderID int64) (decimal.Decimal, error) {
	var amount decimal.Decimal
	err := l.view(ctx, "payable", func(ctx context.Context, tx Tx) error {
		d, err := orderDetail(ctx, tx, orderID)
		if err != nil {
			return err
		}
		amount = d.Payable
		return nil
	})
	return amount, err
}

// PayableAmount applies a percentage discount to total and rounds to 2 places.
func PayableAmount(total, percent decimal.Decimal) decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(percent.Div(hundred))
	return total.Mul(factor).Round(2)
}

// ProcessRefund cancels an order completely: reservations are released, the
// items and the order are deleted.
func (l *Ledger) ProcessRefund(ctx context.Context, orderID int64) error {
	return l.update(ctx, "process_refund", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "process refund"
		o, err := tx.Order(ctx, orderID, true)
		if err != nil {
			return orFound(err, op, "order", orderID)
		}
		items, err := tx.OrderItems(ctx, orderID)
		if err != nil {
			return err
		}
		released := 0
		for _, it := range items {
			if err := releaseItem(ctx, tx, it); err != nil {
				return err
			}
			if err := tx.DeleteItem(ctx, it.ID); err != nil {
				return err
			}
			released += it.Quantity
		}
		if err := tx.DeleteOrder(ctx, orderID); err != nil {
			if KindOf(err) == KindConstraintViolation {
				return Wrap(KindRefundFailed, op, err)
			}
			return err
		}
		if _, err := tx.Order(ctx, orderID, false); !errors.Is(err, ErrNotFound) {
			if err == nil {
				return Errorf(KindRefundFailed, op, "order %d still exists after refund", orderID)
			}
			return Wrap(KindRefundFailed, op, err)
		}
		out.add(events.OrderRefunded, orderID, map[string]any{
			"client_id":         o.ClientID,
			"items":             len(items),
			"quantity_released": released,
		})
		return nil
	})
}

// UpdateRefundStatus records the progress of a refund request. Inventory is not
// touched. Only delivered orders may have a refund requested.
func (l *Ledger) UpdateRefundStatus(ctx context.Context, orderID int64, status RefundStatus) error {
	return l.update(ctx, "update_refund_status", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "update refund status"
		next, err := ParseRefundStatus(string(status))
		if err != nil {
			return err
		}
		o, err := tx.Order(ctx, orderID, true)
		if err != nil {
			return orFound(err, op, "order", orderID)
		}
		if next != RefundNone && o.Status != StatusDelivered {
			return Errorf(KindInvalidState, op, "order %d is not delivered", orderID)
		}
		prev := o.RefundStatus
		o.RefundStatus = next
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out.add(events.OrderRefundStatusChanged, orderID, map[string]any{"from": string(prev), "to": string(next)})
		return nil
	})
}

// SubmitFeedback stores client feedback on a delivered order. Feedback is written once.
func (l *Ledger) SubmitFeedback(ctx context.Context, orderID int64, text string) error {
	return l.update(ctx, "submit_feedback", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "submit feedback"
		text = strings.TrimSpace(text)
		if text == "" {
			return Errorf(KindInvalidInput, op, "feedback text is required")
		}
		o, err := tx.Order(ctx, orderID, true)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err != nil || o.Status != StatusDelivered {
			return Errorf(KindInvalidState, op, "order %d not found or not delivered", orderID)
		}
		if o.Feedback != nil {
			return Errorf(KindInvalidState, op, "feedback for order %d was already submitted", orderID)
		}
		o.Feedback = &text
		if err := tx.UpdateOrder(ctx, o); err != nil {
			return err
		}
		out.add(events.OrderFeedbackSubmitted, orderID, map[string]any{"client_id": o.ClientID})
		return nil
	})
}

// Order returns an order with its items and amounts.
func (l *Ledger) Order(ctx context.Context, orderID int64) (OrderDetail, error) {
	var d OrderDetail
	err := l.view(ctx, "order", func(ctx context.Context, tx Tx) error {
		var err error
		d, err = orderDetail(ctx, tx, orderID)
		return err
	})
	return d, err
}

func orderDetail(ctx context.Context, tx Tx, orderID int64) (OrderDetail, error) {
	const op = "order"
	o, err := tx.Order(ctx, orderID, false)
	if err != nil {
		return OrderDetail{}, orFound(err, op, "order", orderID)
	}
	items, err := tx.OrderItems(ctx, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	d := OrderDetail{Order: o, Items: items, Total: decimal.Zero}
	for _, it := range items {
		d.Total = d.Total.Add(it.Subtotal())
		if d.Refundable {
			continue
		}
		p, err := tx.Product(ctx, it.ProductID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return OrderDetail{}, err
		}
		d.Refundable = err == nil && p.Refundable
	}
	percent := decimal.Zero
	if o.DiscountID != nil {
		disc, err := tx.Discount(ctx, *o.DiscountID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return OrderDetail{}, err
		}
		if err == nil {
			percent = disc.Percent
		}
	}
	d.Payable = PayableAmount(d.Total, percent)
	d.CanReview = o.Status == StatusDelivered && o.Feedback == nil
	return d, nil
}

// OrderSummaries lists orders with client, handler and discount details, newest first.
func (l *Ledger) OrderSummaries(ctx context.Context, f OrderFilter) ([]OrderSummary, error) {
	var rows []OrderSummary
	err := l.view(ctx, "order_summaries", func(ctx context.Context, tx Tx) error {
		var err error
		rows, err = tx.OrderSummaries(ctx, f)
		return err
	})
	if err != nil {
		return nil, err
	}
	for i := range rows {
		percent := decimal.Zero
		if rows[i].DiscountPercent.Valid {
			percent = rows[i].DiscountPercent.Decimal
		}
		rows[i].Payable = PayableAmount(rows[i].Total, percent)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].OrderID > rows[j].OrderID
		}
		return rows[i].CreatedAt.After(rows[j].CreatedAt)
	})
	return rows, nil
}

// OrderItems lists the lines of an order.
func (l *Ledger) OrderItems(ctx context.Context, orderID int64) ([]OrderItem, error) {
	var items []OrderItem
	err := l.view(ctx, "order_items", func(ctx context.Context, tx Tx) error {
		if _, err := tx.Order(ctx, orderID, false); err != nil {
			return orFound(err, "order items", "order", orderID)
		}
		var err error
		items, err = tx.OrderItems(ctx, orderID)
		return err
	})
	return items, err
}

// AvailableLots is the catalog feed: every lot with stock left.
func (l *Ledger) AvailableLots(ctx context.Context) ([]AvailableLot, error) {
	var lots []AvailableLot
	err := l.view(ctx, "available_lots", func(ctx context.Context, tx Tx) error {
		var err error
		lots, err = tx.AvailableLots(ctx)
		return err
	})
	return lots, err
}

// AvailableQuantity sums the available units over all lots of a product.
func (l *Ledger) AvailableQuantity(ctx context.Context, productID int64) (int, error) {
	var total int
	err := l.view(ctx, "available_quantity", func(ctx context.Context, tx Tx) error {
		if _, err := tx.Product(ctx, productID); err != nil {
			return orFound(err, "available quantity", "product", productID)
		}
		lots, err := tx.ProductLots(ctx, productID, false)
		if err != nil {
			return err
		}
		total = availableOf(lots)
		return nil
	})
	return total, err
}

func availableOf(lots []Lot) int {
	total := 0
	for _, lot := range lots {
		if a := lot.Available(); a > 0 {
			total += a
		}
	}
	return total
}

// ManagerClients lists the distinct clients whose orders the employee handles.
func (l *Ledger) ManagerClients(ctx context.Context, employeeID int64) ([]Client, error) {
	var clients []Client
	err := l.view(ctx, "manager_clients", func(ctx context.Context, tx Tx) error {
		if _, err := tx.Employee(ctx, employeeID); err != nil {
			return orFound(err, "manager clients", "employee", employeeID)
		}
		var err error
		clients, err = tx.HandledClients(ctx, employeeID)
		return err
	})
	return clients, err
}

// CanManage reports whether the employee handles at least one order of the client.
func (l *Ledger) CanManage(ctx context.Context, employeeID, clientID int64) (bool, error) {
	var ok bool
	err := l.view(ctx, "can_manage", func(ctx context.Context, tx Tx) error {
		orders, err := tx.Orders(ctx, OrderFilter{ClientID: clientID, EmployeeID: employeeID})
		if err != nil {
			return err
		}
		ok = len(orders) > 0
		return nil
	})
	return ok, err
}

// CanManageOrder reports whether the employee handles the order or any other
// order of the same client. New web orders carry no handler, so access follows
// the client.
func (l *Ledger) CanManageOrder(ctx context.Context, employeeID, orderID int64) (bool, error) {
	var ok bool
	err := l.view(ctx, "can_manage_order", func(ctx context.Context, tx Tx) error {
		o, err := tx.Order(ctx, orderID, false)
		if err != nil {
			return orFound(err, "can manage order", "order", orderID)
		}
		if o.EmployeeID != nil && *o.EmployeeID == employeeID {
			ok = true
			return nil
		}
		handled, err := tx.Orders(ctx, OrderFilter{ClientID: o.ClientID, EmployeeID: employeeID})
		if err != nil {
			return err
		}
		ok = len(handled) > 0
		return nil
	})
	return ok, err
}

// AssignHandler sets the handling employee on every order of a client. A nil
// employeeID removes the handler.
func (l *Ledger) AssignHandler(ctx context.Context, clientID int64, employeeID *int64) (int64, error) {
	var n int64
	err := l.update(ctx, "assign_handler", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "assign handler"
		if _, err := tx.Client(ctx, clientID); err != nil {
			return orFound(err, op, "client", clientID)
		}
		if employeeID != nil {
			if _, err := tx.Employee(ctx, *employeeID); err != nil {
				return orFound(err, op, "employee", *employeeID)
			}
		}
		var err error
		n, err = tx.SetClientHandler(ctx, clientID, employeeID)
		return err
	})
	return n, err
}
