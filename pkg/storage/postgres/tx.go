package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"hardwarestore/pkg/ledger"
)

const (
	clientColumns = `client_id, client_fio, COALESCE(client_phone, '') AS client_phone,
		COALESCE(login, '') AS login, COALESCE(password_hash, '') AS password_hash`
	employeeColumns = `employee_id, employee_name, COALESCE(employee_phone, '') AS employee_phone,
		COALESCE(login, '') AS login, COALESCE(password_hash, '') AS password_hash`
	productColumns = `product_id, product_name, product_price_for_sale,
		refund_possibility = 'yes' AS refundable, category_id`
	lotColumns = `lot_id, product_id, quantity_current, quantity_in_transit,
		product_date_of_receipt, purchase_price`
	orderColumns = `order_id, client_id, order_channel, order_status, employee_id, discount_id,
		order_finished, client_feedback, refund_status, order_time`
	itemColumns = `order_items_id, order_id, product_id, lot_id, quantity, price_at_order`
)

type pgTx struct {
	tx *sqlx.Tx
}

var _ ledger.Tx = (*pgTx)(nil)

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func refundFlag(refundable bool) string {
	if refundable {
		return "yes"
	}
	return "no"
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func (t *pgTx) get(ctx context.Context, op string, dest any, query string, args ...any) error {
	return mapError(op, t.tx.GetContext(ctx, dest, query, args...))
}

func (t *pgTx) selectAll(ctx context.Context, op string, dest any, query string, args ...any) error {
	return mapError(op, t.tx.SelectContext(ctx, dest, query, args...))
}

// exec runs a statement that must touch exactly one row.
func (t *pgTx) exec(ctx context.Context, op string, query string, args ...any) error {
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return mapError(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapError(op, err)
	}
	if n == 0 {
		return ledger.Errorf(ledger.KindNotFound, op, "no rows affected")
	}
	return nil
}

// Clients

func (t *pgTx) InsertClient(ctx context.Context, c *ledger.Client) error {
	return mapError("insert client", t.tx.QueryRowxContext(ctx, `
		INSERT INTO clients (client_fio, client_phone, login, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING client_id`,
		c.Name, nullIfEmpty(c.Phone), nullIfEmpty(c.Login), nullIfEmpty(c.PasswordHash)).Scan(&c.ID))
}

func (t *pgTx) UpdateClient(ctx context.Context, c ledger.Client) error {
	return t.exec(ctx, "update client", `
		UPDATE clients SET client_fio = $1, client_phone = $2, login = $3, password_hash = $4
		WHERE client_id = $5`,
		c.Name, nullIfEmpty(c.Phone), nullIfEmpty(c.Login), nullIfEmpty(c.PasswordHash), c.ID)
}

func (t *pgTx) DeleteClient(ctx context.Context, id int64) error {
	return t.exec(ctx, "delete client", `DELETE FROM clients WHERE client_id = $1`, id)
}

func (t *pgTx) Client(ctx context.Context, id int64) (ledger.Client, error) {
	var c ledger.Client
	err := t.get(ctx, "client", &c, `SELECT `+clientColumns+` FROM clients WHERE client_id = $1`, id)
	return c, err
}

func (t *pgTx) ClientByLogin(ctx context.Context, login string) (ledger.Client, error) {
	var c ledger.Client
	err := t.get(ctx, "client by login", &c,
		`SELECT `+clientColumns+` FROM clients WHERE lower(login) = lower($1)`, login)
	return c, err
}

func (t *pgTx) Clients(ctx context.Context) ([]ledger.Client, error) {
	out := []ledger.Client{}
	err := t.selectAll(ctx, "clients", &out, `SELECT `+clientColumns+` FROM clients ORDER BY client_id`)
	return out, err
}

func (t *pgTx) HandledClients(ctx context.Context, employeeID int64) ([]ledger.Client, error) {
	out := []ledger.Client{}
	err := t.selectAll(ctx, "handled clients", &out, `
		SELECT `+clientColumns+` FROM clients
		WHERE client_id IN (SELECT client_id FROM orders WHERE employee_id = $1)
		ORDER BY client_id`, employeeID)
	return out, err
}

// Employees

func (t *pgTx) InsertEmployee(ctx context.Context, e *ledger.Employee) error {
	return mapError("insert employee", t.tx.QueryRowxContext(ctx, `
		INSERT INTO employees (employee_name, employee_phone, login, password_hash)
		VALUES ($1, $2, $3, $4)
		RETURNING employee_id`,
		e.Name, nullIfEmpty(e.Phone), nullIfEmpty(e.Login), nullIfEmpty(e.PasswordHash)).Scan(&e.ID))
}

func (t *pgTx) UpdateEmployee(ctx context.Context, e ledger.Employee) error {
	return t.exec(ctx, "update employee", `
		UPDATE employees SET employee_name = $1, employee_phone = $2, login = $3, password_hash = $4
		WHERE employee_id = $5`,
		e.Name, nullIfEmpty(e.Phone), nullIfEmpty(e.Login), nullIfEmpty(e.PasswordHash), e.ID)
}

func (t *pgTx) Employee(ctx context.Context, id int64) (ledger.Employee, error) {
	var e ledger.Employee
	err := t.get(ctx, "employee", &e, `SELECT `+employeeColumns+` FROM employees WHERE employee_id = $1`, id)
	return e, err
}

func (t *pgTx) EmployeeByLogin(ctx context.Context, login string) (ledger.Employee, error) {
	var e ledger.Employee
	err := t.get(ctx, "employee by login", &e,
		`SELECT `+employeeColumns+` FROM employees WHERE lower(login) = lower($1)`, login)
	return e, err
}

func (t *pgTx) Employees(ctx context.Context) ([]ledger.Employee, error) {
	out := []ledger.Employee{}
	err := t.selectAll(ctx, "employees", &out, `SELECT `+employeeColumns+` FROM employees ORDER BY employee_id`)
	return out, err
}

// Categories and products

func (t *pgTx) InsertCategory(ctx context.Context, c *ledger.Category) error {
	return mapError("insert category", t.tx.QueryRowxContext(ctx,
		`INSERT INTO categories (category_name) VALUES ($1) RETURNING category_id`, c.Name).Scan(&c.ID))
}

func (t *pgTx) Categories(ctx context.Context) ([]ledger.Category, error) {
	out := []ledger.Category{}
	err := t.selectAll(ctx, "categories", &out,
		`SELECT category_id, category_name FROM categories ORDER BY category_id`)
	return out, err
}

func (t *pgTx) InsertProduct(ctx context.Context, p *ledger.Product) error {
	return mapError("insert product", t.tx.QueryRowxContext(ctx, `
		INSERT INTO products (product_name, product_price_for_sale, refund_possibility, category_id)
		VALUES ($1, $2, $3, $4)
		RETURNING product_id`,
		p.Name, p.Price, refundFlag(p.Refundable), p.CategoryID).Scan(&p.ID))
}

func (t *pgTx) UpdateProduct(ctx context.Context, p ledger.Product) error {
	return t.exec(ctx, "update product", `
		UPDATE products
		SET product_name = $1, product_price_for_sale = $2, refund_possibility = $3, category_id = $4
		WHERE product_id = $5`,
		p.Name, p.Price, refundFlag(p.Refundable), p.CategoryID, p.ID)
}

func (t *pgTx) Product(ctx context.Context, id int64) (ledger.Product, error) {
	var p ledger.Product
	err := t.get(ctx, "product", &p, `SELECT `+productColumns+` FROM products WHERE product_id = $1`, id)
	return p, err
}

func (t *pgTx) Products(ctx context.Context) ([]ledger.Product, error) {
	out := []ledger.Product{}
	err := t.selectAll(ctx, "products", &out, `SELECT `+productColumns+` FROM products ORDER BY product_id`)
	return out, err
}

// Discounts

func (t *pgTx) InsertDiscount(ctx context.Context, d *ledger.Discount) error {
	return mapError("insert discount", t.tx.QueryRowxContext(ctx, `
		INSERT INTO discounts (discount_name, discount_percent) VALUES ($1, $2)
		RETURNING discount_id`, d.Name, d.Percent).Scan(&d.ID))
}

func (t *pgTx) UpdateDiscount(ctx context.Context, d ledger.Discount) error {
	return t.exec(ctx, "update discount",
		`UPDATE discounts SET discount_name = $1, discount_percent = $2 WHERE discount_id = $3`,
		d.Name, d.Percent, d.ID)
}

func (t *pgTx) Discount(ctx context.Context, id int64) (ledger.Discount, error) {
	var d ledger.Discount
	err := t.get(ctx, "discount", &d,
		`SELECT discount_id, discount_name, discount_percent FROM discounts WHERE discount_id = $1`, id)
	return d, err
}

func (t *pgTx) Discounts(ctx context.Context) ([]ledger.Discount, error) {
	out := []ledger.Discount{}
	err := t.selectAll(ctx, "discounts", &out,
		`SELECT discount_id, discount_name, discount_percent FROM discounts ORDER BY discount_id`)
	return out, err
}

// Lots

func (t *pgTx) InsertLot(ctx context.Context, l *ledger.Lot) error {
	return mapError("insert lot", t.tx.QueryRowxContext(ctx, `
		INSERT INTO inventory (product_id, quantity_current, quantity_in_transit, product_date_of_receipt, purchase_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING lot_id`,
		l.ProductID, l.OnHand, l.Reserved, l.ReceivedAt, l.PurchasePrice).Scan(&l.ID))
}

func (t *pgTx) UpdateLot(ctx context.Context, l ledger.Lot) error {
	return t.exec(ctx, "update lot", `
		UPDATE inventory
		SET quantity_current = $1, quantity_in_transit = $2, purchase_price = $3
		WHERE lot_id = $4`,
		l.OnHand, l.Reserved, l.PurchasePrice, l.ID)
}

func (t *pgTx) Lot(ctx context.Context, id int64, lock bool) (ledger.Lot, error) {
	var l ledger.Lot
	err := t.get(ctx, "lot", &l, `SELECT `+lotColumns+` FROM inventory WHERE lot_id = $1`+forUpdate(lock), id)
	return l, err
}

// ProductLots locks rows in receipt order, so concurrent reservations queue on the
// same first row instead of deadlocking.
func (t *pgTx) ProductLots(ctx context.Context, productID int64, lock bool) ([]ledger.Lot, error) {
	out := []ledger.Lot{}
	err := t.selectAll(ctx, "product lots", &out, `
		SELECT `+lotColumns+` FROM inventory
		WHERE product_id = $1
		ORDER BY product_date_of_receipt, lot_id`+forUpdate(lock), productID)
	return out, err
}

func (t *pgTx) Lots(ctx context.Context) ([]ledger.Lot, error) {
	out := []ledger.Lot{}
	err := t.selectAll(ctx, "lots", &out, `SELECT `+lotColumns+` FROM inventory ORDER BY lot_id`)
	return out, err
}

func (t *pgTx) AvailableLots(ctx context.Context) ([]ledger.AvailableLot, error) {
	out := []ledger.AvailableLot{}
	err := t.selectAll(ctx, "available lots", &out, `
		SELECT lot_id, product_id, product_name, available_quantity, product_date_of_receipt,
		       purchase_price, product_price_for_sale
		FROM available_lots_for_order
		ORDER BY product_id, product_date_of_receipt, lot_id`)
	return out, err
}

// Orders

func (t *pgTx) InsertOrder(ctx context.Context, o *ledger.Order) error {
	return mapError("insert order", t.tx.QueryRowxContext(ctx, `
		INSERT INTO orders (client_id, order_channel, order_status, employee_id, discount_id,
		                    order_finished, client_feedback, refund_status, order_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING order_id`,
		o.ClientID, string(o.Channel), string(o.Status), o.EmployeeID, o.DiscountID,
		o.Finished, o.Feedback, string(o.RefundStatus), o.CreatedAt).Scan(&o.ID))
}

func (t *pgTx) Order(ctx context.Context, id int64, lock bool) (ledger.Order, error) {
	var o ledger.Order
	err := t.get(ctx, "order", &o, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`+forUpdate(lock), id)
	return o, err
}

func (t *pgTx) UpdateOrder(ctx context.Context, o ledger.Order) error {
	return t.exec(ctx, "update order", `
		UPDATE orders
		SET order_channel = $1, order_status = $2, employee_id = $3, discount_id = $4,
		    order_finished = $5, client_feedback = $6, refund_status = $7
		WHERE order_id = $8`,
		string(o.Channel), string(o.Status), o.EmployeeID, o.DiscountID,
		o.Finished, o.Feedback, string(o.RefundStatus), o.ID)
}

func (t *pgTx) DeleteOrder(ctx context.Context, id int64) error {
	return t.exec(ctx, "delete order", `DELETE FROM orders WHERE order_id = $1`, id)
}

func orderWhere(f ledger.OrderFilter, alias string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.ClientID != 0 {
		args = append(args, f.ClientID)
		conds = append(conds, fmt.Sprintf("%sclient_id = $%d", alias, len(args)))
	}
	if f.EmployeeID != 0 {
		args = append(args, f.EmployeeID)
		conds = append(conds, fmt.Sprintf("%semployee_id = $%d", alias, len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (t *pgTx) Orders(ctx context.Context, f ledger.OrderFilter) ([]ledger.Order, error) {
	where, args := orderWhere(f, "")
	out := []ledger.Order{}
	err := t.selectAll(ctx, "orders", &out,
		`SELECT `+orderColumns+` FROM orders`+where+` ORDER BY order_time DESC, order_id DESC`, args...)
	return out, err
}

func (t *pgTx) OrderSummaries(ctx context.Context, f ledger.OrderFilter) ([]ledger.OrderSummary, error) {
	where, args := orderWhere(f, "")
	out := []ledger.OrderSummary{}
	err := t.selectAll(ctx, "order summaries", &out, `
		SELECT order_id, order_time, order_status, order_channel, order_finished, client_id,
		       client_name, client_phone, employee_id, handler_name, discount_id, discount_name,
		       discount_percent, refund_status, client_feedback, total_amount
		FROM orders_with_details`+where+`
		ORDER BY order_time DESC, order_id DESC`, args...)
	return out, err
}

func (t *pgTx) SetClientHandler(ctx context.Context, clientID int64, employeeID *int64) (int64, error) {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET employee_id = $1 WHERE client_id = $2`, employeeID, clientID)
	if err != nil {
		return 0, mapError("set client handler", err)
	}
	n, err := res.RowsAffected()
	return n, mapError("set client handler", err)
}

// Items

func (t *pgTx) InsertItem(ctx context.Context, it *ledger.OrderItem) error {
	return mapError("insert order item", t.tx.QueryRowxContext(ctx, `
		INSERT INTO order_items (order_id, product_id, lot_id, quantity, price_at_order)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING order_items_id`,
		it.OrderID, it.ProductID, it.LotID, it.Quantity, it.PriceAtOrder).Scan(&it.ID))
}

func (t *pgTx) Item(ctx context.Context, id int64) (ledger.OrderItem, error) {
	var it ledger.OrderItem
	err := t.get(ctx, "order item", &it, `SELECT `+itemColumns+` FROM order_items WHERE order_items_id = $1`, id)
	return it, err
}

func (t *pgTx) DeleteItem(ctx context.Context, id int64) error {
	return t.exec(ctx, "delete order item", `DELETE FROM order_items WHERE order_items_id = $1`, id)
}

func (t *pgTx) OrderItems(ctx context.Context, orderID int64) ([]ledger.OrderItem, error) {
	out := []ledger.OrderItem{}
	err := t.selectAll(ctx, "order items", &out,
		`SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 ORDER BY order_items_id`, orderID)
	return out, err
}

// Reports

func (t *pgTx) SalesLines(ctx context.Context) ([]ledger.SalesLine, error) {
	out := []ledger.SalesLine{}
	err := t.selectAll(ctx, "sales lines", &out, `
		SELECT o.order_id, o.order_time, c.category_id, c.category_name, oi.quantity, oi.price_at_order
		FROM order_items oi
		JOIN orders o ON o.order_id = oi.order_id
		JOIN products p ON p.product_id = oi.product_id
		JOIN categories c ON c.category_id = p.category_id
		WHERE o.order_status = 'delivered' AND o.order_finished = TRUE
		ORDER BY oi.order_items_id`)
	return out, err
}
