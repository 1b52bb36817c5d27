package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"hardwarestore/pkg/ledger"
)

// tx gives a transaction access to one copy of the state. Row locks are implicit
// because transactions never overlap.
type tx struct {
	d        *data
	writable bool
	owned    map[string]bool
}

var _ ledger.Tx = (*tx)(nil)

// Table names used for copy-on-write.
const (
	tableClients    = "clients"
	tableEmployees  = "employees"
	tableCategories = "categories"
	tableProducts   = "products"
	tableDiscounts  = "discounts"
	tableLots       = "lots"
	tableOrders     = "orders"
	tableItems      = "order_items"
	tableSequences  = "sequences"
)

// write fails in read-only transactions and gives the transaction its own copy
// of table before the first change.
func (t *tx) write(op, table string) error {
	if !t.writable {
		return ledger.Errorf(ledger.KindConstraintViolation, op, "write in read-only transaction")
	}
	t.own(table)
	return nil
}

func (t *tx) own(table string) {
	if t.owned[table] {
		return
	}
	if t.owned == nil {
		t.owned = map[string]bool{}
	}
	t.owned[table] = true
	switch table {
	case tableClients:
		t.d.Clients = cloneMap(t.d.Clients, nil)
	case tableEmployees:
		t.d.Employees = cloneMap(t.d.Employees, nil)
	case tableCategories:
		t.d.Categories = cloneMap(t.d.Categories, nil)
	case tableProducts:
		t.d.Products = cloneMap(t.d.Products, nil)
	case tableDiscounts:
		t.d.Discounts = cloneMap(t.d.Discounts, nil)
	case tableLots:
		t.d.Lots = cloneMap(t.d.Lots, nil)
	case tableOrders:
		t.d.Orders = cloneMap(t.d.Orders, cloneOrder)
	case tableItems:
		t.d.Items = cloneMap(t.d.Items, cloneItem)
	case tableSequences:
		t.d.Sequences = cloneMap(t.d.Sequences, nil)
	}
}

// next allocates an id from the named sequence.
func (t *tx) next(seq string) int64 {
	t.own(tableSequences)
	return t.next(seq)
}

func missing(op, what string, id int64) error {
	return ledger.Errorf(ledger.KindNotFound, op, "%s %d not found", what, id)
}

func violation(op, format string, args ...any) error {
	return ledger.Errorf(ledger.KindConstraintViolation, op, format, args...)
}

func sortedKeys[V any](m map[int64]V) []int64 {
	keys := make([]int64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Clients

func (t *tx) InsertClient(_ context.Context, c *ledger.Client) error {
	const op = "insert client"
	if err := t.write(op, tableClients); err != nil {
		return err
	}
	if c.Login != "" {
		for _, other := range t.d.Clients {
			if strings.EqualFold(other.Login, c.Login) {
				return ledger.Errorf(ledger.KindConflict, op, "login %q already exists", c.Login)
			}
		}
	}
	c.ID = t.next("clients")
	t.d.Clients[c.ID] = *c
	return nil
}

func (t *tx) UpdateClient(_ context.Context, c ledger.Client) error {
	const op = "update client"
	if err := t.write(op, tableClients); err != nil {
		return err
	}
	if _, ok := t.d.Clients[c.ID]; !ok {
		return missing(op, "client", c.ID)
	}
	t.d.Clients[c.ID] = c
	return nil
}

func (t *tx) DeleteClient(_ context.Context, id int64) error {
	const op = "delete client"
	if err := t.write(op, tableClients); err != nil {
		return err
	}
	if _, ok := t.d.Clients[id]; !ok {
		return missing(op, "client", id)
	}
	for _, o := range t.d.Orders {
		if o.ClientID == id {
			return violation(op, "client %d still has orders", id)
		}
	}
	delete(t.d.Clients, id)
	return nil
}

func (t *tx) Client(_ context.Context, id int64) (ledger.Client, error) {
	c, ok := t.d.Clients[id]
	if !ok {
		return ledger.Client{}, missing("client", "client", id)
	}
	return c, nil
}

func (t *tx) ClientByLogin(_ context.Context, login string) (ledger.Client, error) {
	for _, id := range sortedKeys(t.d.Clients) {
		if c := t.d.Clients[id]; c.Login != "" && strings.EqualFold(c.Login, login) {
			return c, nil
		}
	}
	return ledger.Client{}, ledger.Errorf(ledger.KindNotFound, "client by login", "client %q not found", login)
}

func (t *tx) Clients(_ context.Context) ([]ledger.Client, error) {
	out := make([]ledger.Client, 0, len(t.d.Clients))
	for _, id := range sortedKeys(t.d.Clients) {
		out = append(out, t.d.Clients[id])
	}
	return out, nil
}

func (t *tx) HandledClients(_ context.Context, employeeID int64) ([]ledger.Client, error) {
	seen := map[int64]bool{}
	for _, o := range t.d.Orders {
		if o.EmployeeID != nil && *o.EmployeeID == employeeID {
			seen[o.ClientID] = true
		}
	}
	out := []ledger.Client{}
	for _, id := range sortedKeys(t.d.Clients) {
		if seen[id] {
			out = append(out, t.d.Clients[id])
		}
	}
	return out, nil
}

// Employees

func (t *tx) InsertEmployee(_ context.Context, e *ledger.Employee) error {
	const op = "insert employee"
	if err := t.write(op, tableEmployees); err != nil {
		return err
	}
	if e.Login != "" {
		for _, other := range t.d.Employees {
			if strings.EqualFold(other.Login, e.Login) {
				return ledger.Errorf(ledger.KindConflict, op, "login %q already exists", e.Login)
			}
		}
	}
	e.ID = t.next("employees")
	t.d.Employees[e.ID] = *e
	return nil
}

func (t *tx) UpdateEmployee(_ context.Context, e ledger.Employee) error {
	const op = "update employee"
	if err := t.write(op, tableEmployees); err != nil {
		return err
	}
	if _, ok := t.d.Employees[e.ID]; !ok {
		return missing(op, "employee", e.ID)
	}
	for id, other := range t.d.Employees {
		if id != e.ID && e.Login != "" && strings.EqualFold(other.Login, e.Login) {
			return ledger.Errorf(ledger.KindConflict, op, "login %q already exists", e.Login)
		}
	}
	t.d.Employees[e.ID] = e
	return nil
}

func (t *tx) Employee(_ context.Context, id int64) (ledger.Employee, error) {
	e, ok := t.d.Employees[id]
	if !ok {
		return ledger.Employee{}, missing("employee", "employee", id)
	}
	return e, nil
}

func (t *tx) EmployeeByLogin(_ context.Context, login string) (ledger.Employee, error) {
	for _, id := range sortedKeys(t.d.Employees) {
		if e := t.d.Employees[id]; e.Login != "" && strings.EqualFold(e.Login, login) {
			return e, nil
		}
	}
	return ledger.Employee{}, ledger.Errorf(ledger.KindNotFound, "employee by login", "employee %q not found", login)
}

func (t *tx) Employees(_ context.Context) ([]ledger.Employee, error) {
	out := make([]ledger.Employee, 0, len(t.d.Employees))
	for _, id := range sortedKeys(t.d.Employees) {
		out = append(out, t.d.Employees[id])
	}
	return out, nil
}

// Categories and products

func (t *tx) InsertCategory(_ context.Context, c *ledger.Category) error {
	if err := t.write("insert category", tableCategories); err != nil {
		return err
	}
	c.ID = t.next("categories")
	t.d.Categories[c.ID] = *c
	return nil
}

func (t *tx) Categories(_ context.Context) ([]ledger.Category, error) {
	out := make([]ledger.Category, 0, len(t.d.Categories))
	for _, id := range sortedKeys(t.d.Categories) {
		out = append(out, t.d.Categories[id])
	}
	return out, nil
}

func (t *tx) InsertProduct(_ context.Context, p *ledger.Product) error {
	const op = "insert product"
	if err := t.write(op, tableProducts); err != nil {
		return err
	}
	if _, ok := t.d.Categories[p.CategoryID]; !ok {
		return violation(op, "category %d does not exist", p.CategoryID)
	}
	p.ID = t.next("products")
	t.d.Products[p.ID] = *p
	return nil
}

func (t *tx) UpdateProduct(_ context.Context, p ledger.Product) error {
	const op = "update product"
	if err := t.write(op, tableProducts); err != nil {
		return err
	}
	if _, ok := t.d.Products[p.ID]; !ok {
		return missing(op, "product", p.ID)
	}
	if _, ok := t.d.Categories[p.CategoryID]; !ok {
		return violation(op, "category %d does not exist", p.CategoryID)
	}
	t.d.Products[p.ID] = p
	return nil
}

func (t *tx) Product(_ context.Context, id int64) (ledger.Product, error) {
	p, ok := t.d.Products[id]
	if !ok {
		return ledger.Product{}, missing("product", "product", id)
	}
	return p, nil
}

func (t *tx) Products(_ context.Context) ([]ledger.Product, error) {
	out := make([]ledger.Product, 0, len(t.d.Products))
	for _, id := range sortedKeys(t.d.Products) {
		out = append(out, t.d.Products[id])
	}
	return out, nil
}

// Discounts

func (t *tx) InsertDiscount(_ context.Context, d *ledger.Discount) error {
	if err := t.write("insert discount", tableDiscounts); err != nil {
		return err
	}
	d.ID = t.next("discounts")
	t.d.Discounts[d.ID] = *d
	return nil
}

func (t *tx) UpdateDiscount(_ context.Context, d ledger.Discount) error {
	const op = "update discount"
	if err := t.write(op, tableDiscounts); err != nil {
		return err
	}
	if _, ok := t.d.Discounts[d.ID]; !ok {
		return missing(op, "discount", d.ID)
	}
	t.d.Discounts[d.ID] = d
	return nil
}

func (t *tx) Discount(_ context.Context, id int64) (ledger.Discount, error) {
	d, ok := t.d.Discounts[id]
	if !ok {
		return ledger.Discount{}, missing("discount", "discount", id)
	}
	return d, nil
}

func (t *tx) Discounts(_ context.Context) ([]ledger.Discount, error) {
	out := make([]ledger.Discount, 0, len(t.d.Discounts))
	for _, id := range sortedKeys(t.d.Discounts) {
		out = append(out, t.d.Discounts[id])
	}
	return out, nil
}

// Lots

func checkLot(op string, l ledger.Lot) error {
	if l.OnHand < 0 || l.Reserved < 0 || l.Reserved > l.OnHand {
		return violation(op, "lot %d violates quantity constraints (on hand %d, reserved %d)", l.ID, l.OnHand, l.Reserved)
	}
	return nil
}

func (t *tx) InsertLot(_ context.Context, l *ledger.Lot) error {
	const op = "insert lot"
	if err := t.write(op, tableLots); err != nil {
		return err
	}
	if _, ok := t.d.Products[l.ProductID]; !ok {
		return violation(op, "product %d does not exist", l.ProductID)
	}
	if err := checkLot(op, *l); err != nil {
		return err
	}
	l.ID = t.next("lots")
	t.d.Lots[l.ID] = *l
	return nil
}

func (t *tx) UpdateLot(_ context.Context, l ledger.Lot) error {
	const op = "update lot"
	if err := t.write(op, tableLots); err != nil {
		return err
	}
	if _, ok := t.d.Lots[l.ID]; !ok {
		return missing(op, "lot", l.ID)
	}
	if err := checkLot(op, l); err != nil {
		return err
	}
	t.d.Lots[l.ID] = l
	return nil
}

func (t *tx) Lot(_ context.Context, id int64, _ bool) (ledger.Lot, error) {
	l, ok := t.d.Lots[id]
	if !ok {
		return ledger.Lot{}, missing("lot", "lot", id)
	}
	return l, nil
}

func (t *tx) ProductLots(_ context.Context, productID int64, _ bool) ([]ledger.Lot, error) {
	out := []ledger.Lot{}
	for _, l := range t.d.Lots {
		if l.ProductID == productID {
			out = append(out, l)
		}
	}
	sortLots(out)
	return out, nil
}

func sortLots(lots []ledger.Lot) {
	sort.Slice(lots, func(i, j int) bool {
		if !lots[i].ReceivedAt.Equal(lots[j].ReceivedAt) {
			return lots[i].ReceivedAt.Before(lots[j].ReceivedAt)
		}
		return lots[i].ID < lots[j].ID
	})
}

func (t *tx) Lots(_ context.Context) ([]ledger.Lot, error) {
	out := make([]ledger.Lot, 0, len(t.d.Lots))
	for _, id := range sortedKeys(t.d.Lots) {
		out = append(out, t.d.Lots[id])
	}
	return out, nil
}

func (t *tx) AvailableLots(_ context.Context) ([]ledger.AvailableLot, error) {
	lots := make([]ledger.Lot, 0, len(t.d.Lots))
	for _, l := range t.d.Lots {
		if l.Available() > 0 {
			lots = append(lots, l)
		}
	}
	sortLots(lots)
	sort.SliceStable(lots, func(i, j int) bool { return lots[i].ProductID < lots[j].ProductID })
	out := make([]ledger.AvailableLot, 0, len(lots))
	for _, l := range lots {
		p, ok := t.d.Products[l.ProductID]
		if !ok {
			continue
		}
		out = append(out, ledger.AvailableLot{
			LotID:         l.ID,
			ProductID:     p.ID,
			ProductName:   p.Name,
			Available:     l.Available(),
			ReceivedAt:    l.ReceivedAt,
			PurchasePrice: l.PurchasePrice,
			SalePrice:     p.Price,
		})
	}
	return out, nil
}

// Orders

func (t *tx) InsertOrder(_ context.Context, o *ledger.Order) error {
	const op = "insert order"
	if err := t.write(op, tableOrders); err != nil {
		return err
	}
	if _, ok := t.d.Clients[o.ClientID]; !ok {
		return violation(op, "client %d does not exist", o.ClientID)
	}
	o.ID = t.next("orders")
	t.d.Orders[o.ID] = cloneOrder(*o)
	return nil
}

func (t *tx) Order(_ context.Context, id int64, _ bool) (ledger.Order, error) {
	o, ok := t.d.Orders[id]
	if !ok {
		return ledger.Order{}, missing("order", "order", id)
	}
	return cloneOrder(o), nil
}

func (t *tx) UpdateOrder(_ context.Context, o ledger.Order) error {
	const op = "update order"
	if err := t.write(op, tableOrders); err != nil {
		return err
	}
	if _, ok := t.d.Orders[o.ID]; !ok {
		return missing(op, "order", o.ID)
	}
	if o.DiscountID != nil {
		if _, ok := t.d.Discounts[*o.DiscountID]; !ok {
			return violation(op, "discount %d does not exist", *o.DiscountID)
		}
	}
	if o.EmployeeID != nil {
		if _, ok := t.d.Employees[*o.EmployeeID]; !ok {
			return violation(op, "employee %d does not exist", *o.EmployeeID)
		}
	}
	t.d.Orders[o.ID] = cloneOrder(o)
	return nil
}

// DeleteOrder refuses to orphan order items, like the foreign key does in Postgres.
func (t *tx) DeleteOrder(_ context.Context, id int64) error {
	const op = "delete order"
	if err := t.write(op, tableOrders); err != nil {
		return err
	}
	if _, ok := t.d.Orders[id]; !ok {
		return missing(op, "order", id)
	}
	for _, it := range t.d.Items {
		if it.OrderID == id {
			return violation(op, "order %d still has items", id)
		}
	}
	delete(t.d.Orders, id)
	return nil
}

func (t *tx) match(o ledger.Order, f ledger.OrderFilter) bool {
	if f.ClientID != 0 && o.ClientID != f.ClientID {
		return false
	}
	if f.EmployeeID != 0 && (o.EmployeeID == nil || *o.EmployeeID != f.EmployeeID) {
		return false
	}
	return true
}

func (t *tx) Orders(_ context.Context, f ledger.OrderFilter) ([]ledger.Order, error) {
	out := []ledger.Order{}
	for _, o := range t.d.Orders {
		if t.match(o, f) {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// OrderSummaries joins orders the way the orders_with_details view does.
func (t *tx) OrderSummaries(ctx context.Context, f ledger.OrderFilter) ([]ledger.OrderSummary, error) {
	orders, err := t.Orders(ctx, f)
	if err != nil {
		return nil, err
	}
	totals := map[int64]decimal.Decimal{}
	for _, it := range t.d.Items {
		totals[it.OrderID] = totals[it.OrderID].Add(it.Subtotal())
	}
	out := make([]ledger.OrderSummary, 0, len(orders))
	for _, o := range orders {
		c := t.d.Clients[o.ClientID]
		s := ledger.OrderSummary{
			OrderID:      o.ID,
			CreatedAt:    o.CreatedAt,
			Status:       o.Status,
			Channel:      o.Channel,
			Finished:     o.Finished,
			ClientID:     o.ClientID,
			ClientName:   c.Name,
			ClientPhone:  c.Phone,
			EmployeeID:   o.EmployeeID,
			DiscountID:   o.DiscountID,
			RefundStatus: o.RefundStatus,
			Feedback:     o.Feedback,
			Total:        totals[o.ID],
		}
		if o.EmployeeID != nil {
			if e, ok := t.d.Employees[*o.EmployeeID]; ok {
				name := e.Name
				s.HandlerName = &name
			}
		}
		if o.DiscountID != nil {
			if d, ok := t.d.Discounts[*o.DiscountID]; ok {
				name := d.Name
				s.DiscountName = &name
				s.DiscountPercent = decimal.NewNullDecimal(d.Percent)
			}
		}
		out = append(out, s)
	}
	return out, nil
}

func (t *tx) SetClientHandler(_ context.Context, clientID int64, employeeID *int64) (int64, error) {
	const op = "set client handler"
	if err := t.write(op, tableOrders); err != nil {
		return 0, err
	}
	if employeeID != nil {
		if _, ok := t.d.Employees[*employeeID]; !ok {
			return 0, violation(op, "employee %d does not exist", *employeeID)
		}
	}
	var n int64
	for id, o := range t.d.Orders {
		if o.ClientID != clientID {
			continue
		}
		o.EmployeeID = clonePtr(employeeID)
		t.d.Orders[id] = o
		n++
	}
	return n, nil
}

// Items

func (t *tx) InsertItem(_ context.Context, it *ledger.OrderItem) error {
	const op = "insert order item"
	if err := t.write(op, tableItems); err != nil {
		return err
	}
	if _, ok := t.d.Orders[it.OrderID]; !ok {
		return violation(op, "order %d does not exist", it.OrderID)
	}
	if _, ok := t.d.Products[it.ProductID]; !ok {
		return violation(op, "product %d does not exist", it.ProductID)
	}
	if it.Quantity <= 0 {
		return violation(op, "quantity must be positive")
	}
	it.ID = t.next("order_items")
	t.d.Items[it.ID] = cloneItem(*it)
	return nil
}

func (t *tx) Item(_ context.Context, id int64) (ledger.OrderItem, error) {
	it, ok := t.d.Items[id]
	if !ok {
		return ledger.OrderItem{}, missing("order item", "order item", id)
	}
	return cloneItem(it), nil
}

func (t *tx) DeleteItem(_ context.Context, id int64) error {
	const op = "delete order item"
	if err := t.write(op, tableItems); err != nil {
		return err
	}
	if _, ok := t.d.Items[id]; !ok {
		return missing(op, "order item", id)
	}
	delete(t.d.Items, id)
	return nil
}

func (t *tx) OrderItems(_ context.Context, orderID int64) ([]ledger.OrderItem, error) {
	out := []ledger.OrderItem{}
	for _, id := range sortedKeys(t.d.Items) {
		if it := t.d.Items[id]; it.OrderID == orderID {
			out = append(out, cloneItem(it))
		}
	}
	return out, nil
}

// Reports

func (t *tx) SalesLines(_ context.Context) ([]ledger.SalesLine, error) {
	out := []ledger.SalesLine{}
	for _, id := range sortedKeys(t.d.Items) {
		it := t.d.Items[id]
		o, ok := t.d.Orders[it.OrderID]
		if !ok || o.Status != ledger.StatusDelivered || !o.Finished {
			continue
		}
		p, ok := t.d.Products[it.ProductID]
		if !ok {
			continue
		}
		c := t.d.Categories[p.CategoryID]
		out = append(out, ledger.SalesLine{
			OrderID:      o.ID,
			OrderTime:    o.CreatedAt,
			CategoryID:   p.CategoryID,
			CategoryName: c.Name,
			Quantity:     it.Quantity,
			PriceAtOrder: it.PriceAtOrder,
		})
	}
	return out, nil
}
