package ledger

import "context"

// TxFunc is the body of a transaction. Returning an error rolls everything back.
type TxFunc func(ctx context.Context, tx Tx) error

// Store is the transactional boundary of the ledger. Update commits only when fn
// returns nil; View runs fn without write access.
type Store interface {
	Update(ctx context.Context, fn TxFunc) error
	View(ctx context.Context, fn TxFunc) error
}

// Tx is the data access surface available inside a transaction. Lookups return an
// error matching ErrNotFound when the row is absent. When lock is true the row is
// held until the transaction ends.
type Tx interface {
	InsertClient(ctx context.Context, c *Client) error
	UpdateClient(ctx context.Context, c Client) error
	DeleteClient(ctx context.Context, id int64) error
	Client(ctx context.Context, id int64) (Client, error)
	ClientByLogin(ctx context.Context, login string) (Client, error)
	Clients(ctx context.Context) ([]Client, error)
	HandledClients(ctx context.Context, employeeID int64) ([]Client, error)

	InsertEmployee(ctx context.Context, e *Employee) error
	UpdateEmployee(ctx context.Context, e Employee) error
	Employee(ctx context.Context, id int64) (Employee, error)
	EmployeeByLogin(ctx context.Context, login string) (Employee, error)
	Employees(ctx context.Context) ([]Employee, error)

	InsertCategory(ctx context.Context, c *Category) error
	Categories(ctx context.Context) ([]Category, error)

	InsertProduct(ctx context.Context, p *Product) error
	UpdateProduct(ctx context.Context, p Product) error
	Product(ctx context.Context, id int64) (Product, error)
	Products(ctx context.Context) ([]Product, error)

	InsertDiscount(ctx context.Context, d *Discount) error
	UpdateDiscount(ctx context.Context, d Discount) error
	Discount(ctx context.Context, id int64) (Discount, error)
	Discounts(ctx context.Context) ([]Discount, error)

	InsertLot(ctx context.Context, l *Lot) error
	UpdateLot(ctx context.Context, l Lot) error
	Lot(ctx context.Context, id int64, lock bool) (Lot, error)
	// ProductLots returns the lots of a product, oldest receipt date first.
	ProductLots(ctx context.Context, productID int64, lock bool) ([]Lot, error)
	Lots(ctx context.Context) ([]Lot, error)
	AvailableLots(ctx context.Context) ([]AvailableLot, error)

	InsertOrder(ctx context.Context, o *Order) error
	Order(ctx context.Context, id int64, lock bool) (Order, error)
	UpdateOrder(ctx context.Context, o Order) error
	DeleteOrder(ctx context.Context, id int64) error
	Orders(ctx context.Context, f OrderFilter) ([]Order, error)
	OrderSummaries(ctx context.Context, f OrderFilter) ([]OrderSummary, error)
	// SetClientHandler assigns employeeID to every order of the client and
	// returns the number of orders touched.
	SetClientHandler(ctx context.Context, clientID int64, employeeID *int64) (int64, error)

	InsertItem(ctx context.Context, it *OrderItem) error
	Item(ctx context.Context, id int64) (OrderItem, error)
	DeleteItem(ctx context.Context, id int64) error
	OrderItems(ctx context.Context, orderID int64) ([]OrderItem, error)

	// SalesLines returns the items of orders that are delivered and finished.
	SalesLines(ctx context.Context) ([]SalesLine, error)
}
