package ledger

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Role identifies who is signed in.
type Role string

const (
	RoleClient  Role = "client"
	RoleManager Role = "manager"
)

// Principal is the result of a successful login.
type Principal struct {
	Role Role   `json:"role"`
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// HashPassword returns the stored digest of a password.
func HashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Authenticate checks a login against the clients or employees table.
func (l *Ledger) Authenticate(ctx context.Context, role Role, login, password string) (Principal, error) {
	var p Principal
	err := l.view(ctx, "authenticate", func(ctx context.Context, tx Tx) error {
		const op = "authenticate"
		var (
			hash string
			err  error
		)
		switch role {
		case RoleClient:
			var c Client
			c, err = tx.ClientByLogin(ctx, login)
			p = Principal{Role: role, ID: c.ID, Name: c.Name}
			hash = c.PasswordHash
		case RoleManager:
			var e Employee
			e, err = tx.EmployeeByLogin(ctx, login)
			p = Principal{Role: role, ID: e.ID, Name: e.Name}
			hash = e.PasswordHash
		default:
			return Errorf(KindInvalidInput, op, "unknown role %q", role)
		}
		if errors.Is(err, ErrNotFound) {
			return Errorf(KindUnauthorized, op, "invalid login or password")
		}
		if err != nil {
			return err
		}
		if subtle.ConstantTimeCompare([]byte(hash), []byte(HashPassword(password))) != 1 {
			return Errorf(KindUnauthorized, op, "invalid login or password")
		}
		return nil
	})
	if err != nil {
		return Principal{}, err
	}
	return p, nil
}

// NewClient carries the fields accepted when registering a client.
type NewClient struct {
	Name     string
	Phone    string
	Login    string
	Password string
}

// CreateClient registers a client. Logins are unique.
func (l *Ledger) CreateClient(ctx context.Context, in NewClient) (int64, error) {
	var id int64
	err := l.update(ctx, "create_client", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "create client"
		if strings.TrimSpace(in.Name) == "" {
			return Errorf(KindInvalidInput, op, "client name is required")
		}
		if strings.TrimSpace(in.Login) == "" || in.Password == "" {
			return Errorf(KindInvalidInput, op, "login and password are required")
		}
		if _, err := tx.ClientByLogin(ctx, in.Login); err == nil {
			return Errorf(KindConflict, op, "login %q is taken", in.Login)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		c := Client{
			Name:         strings.TrimSpace(in.Name),
			Phone:        strings.TrimSpace(in.Phone),
			Login:        strings.TrimSpace(in.Login),
			PasswordHash: HashPassword(in.Password),
		}
		if err := tx.InsertClient(ctx, &c); err != nil {
			return err
		}
		id = c.ID
		return nil
	})
	return id, err
}

// UpdateClient renames a client. An empty phone keeps the current one.
func (l *Ledger) UpdateClient(ctx context.Context, id int64, name, phone string) error {
	return l.update(ctx, "update_client", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "update client"
		if strings.TrimSpace(name) == "" {
			return Errorf(KindInvalidInput, op, "client name is required")
		}
		c, err := tx.Client(ctx, id)
		if err != nil {
			return orFound(err, op, "client", id)
		}
		c.Name = strings.TrimSpace(name)
		if p := strings.TrimSpace(phone); p != "" {
			c.Phone = p
		}
		return tx.UpdateClient(ctx, c)
	})
}

// DeleteClient removes a client without orders.
func (l *Ledger) DeleteClient(ctx context.Context, id int64) error {
	return l.update(ctx, "delete_client", func(ctx context.Context, tx Tx, out *outbox) error {
		if _, err := tx.Client(ctx, id); err != nil {
			return orFound(err, "delete client", "client", id)
		}
		return tx.DeleteClient(ctx, id)
	})
}

// Clients lists every client.
func (l *Ledger) Clients(ctx context.Context) ([]Client, error) {
	var out []Client
	err := l.view(ctx, "clients", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Clients(ctx)
		return err
	})
	return out, err
}

// NewEmployee carries the fields accepted when hiring a manager.
type NewEmployee struct {
	Name     string
	Phone    string
	Login    string
	Password string
}

// CreateEmployee registers a manager. Logins are unique.
func (l *Ledger) CreateEmployee(ctx context.Context, in NewEmployee) (int64, error) {
	var id int64
	err := l.update(ctx, "create_employee", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "create employee"
		if strings.TrimSpace(in.Name) == "" {
			return Errorf(KindInvalidInput, op, "employee name is required")
		}
		if strings.TrimSpace(in.Login) == "" || in.Password == "" {
			return Errorf(KindInvalidInput, op, "login and password are required")
		}
		if _, err := tx.EmployeeByLogin(ctx, in.Login); err == nil {
			return Errorf(KindConflict, op, "login %q is taken", in.Login)
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		e := Employee{
			Name:         strings.TrimSpace(in.Name),
			Phone:        strings.TrimSpace(in.Phone),
			Login:        strings.TrimSpace(in.Login),
			PasswordHash: HashPassword(in.Password),
		}
		if err := tx.InsertEmployee(ctx, &e); err != nil {
			return err
		}
		id = e.ID
		return nil
	})
	return id, err
}

// UpdateEmployee renames a manager. An empty login keeps the current one.
func (l *Ledger) UpdateEmployee(ctx context.Context, id int64, name, login string) error {
	return l.update(ctx, "update_employee", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "update employee"
		if strings.TrimSpace(name) == "" {
			return Errorf(KindInvalidInput, op, "employee name is required")
		}
		e, err := tx.Employee(ctx, id)
		if err != nil {
			return orFound(err, op, "employee", id)
		}
		e.Name = strings.TrimSpace(name)
		if lg := strings.TrimSpace(login); lg != "" && lg != e.Login {
			other, err := tx.EmployeeByLogin(ctx, lg)
			if err == nil && other.ID != id {
				return Errorf(KindConflict, op, "login %q is taken", lg)
			}
			if err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
			e.Login = lg
		}
		return tx.UpdateEmployee(ctx, e)
	})
}

// Employees lists every manager.
func (l *Ledger) Employees(ctx context.Context) ([]Employee, error) {
	var out []Employee
	err := l.view(ctx, "employees", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Employees(ctx)
		return err
	})
	return out, err
}

// CreateCategory adds a product category.
func (l *Ledger) CreateCategory(ctx context.Context, name string) (int64, error) {
	var id int64
	err := l.update(ctx, "create_category", func(ctx context.Context, tx Tx, out *outbox) error {
		if strings.TrimSpace(name) == "" {
			return Errorf(KindInvalidInput, "create category", "category name is required")
		}
		c := Category{Name: strings.TrimSpace(name)}
		if err := tx.InsertCategory(ctx, &c); err != nil {
			return err
		}
		id = c.ID
		return nil
	})
	return id, err
}

// Categories lists every category.
func (l *Ledger) Categories(ctx context.Context) ([]Category, error) {
	var out []Category
	err := l.view(ctx, "categories", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Categories(ctx)
		return err
	})
	return out, err
}

func validateProduct(ctx context.Context, tx Tx, op string, p Product) error {
	if strings.TrimSpace(p.Name) == "" {
		return Errorf(KindInvalidInput, op, "product name is required")
	}
	if p.Price.IsNegative() {
		return Errorf(KindInvalidInput, op, "price must not be negative")
	}
	if err := categoryExists(ctx, tx, p.CategoryID); err != nil {
		return orFound(err, op, "category", p.CategoryID)
	}
	return nil
}

func categoryExists(ctx context.Context, tx Tx, id int64) error {
	cats, err := tx.Categories(ctx)
	if err != nil {
		return err
	}
	for _, c := range cats {
		if c.ID == id {
			return nil
		}
	}
	return ErrNotFound
}

// CreateProduct adds a catalog product.
func (l *Ledger) CreateProduct(ctx context.Context, p Product) (int64, error) {
	var id int64
	err := l.update(ctx, "create_product", func(ctx context.Context, tx Tx, out *outbox) error {
		p.Name = strings.TrimSpace(p.Name)
		if err := validateProduct(ctx, tx, "create product", p); err != nil {
			return err
		}
		if err := tx.InsertProduct(ctx, &p); err != nil {
			return err
		}
		id = p.ID
		return nil
	})
	return id, err
}

// UpdateProduct replaces a product's attributes. Existing order lines keep their price.
func (l *Ledger) UpdateProduct(ctx context.Context, p Product) error {
	return l.update(ctx, "update_product", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "update product"
		if _, err := tx.Product(ctx, p.ID); err != nil {
			return orFound(err, op, "product", p.ID)
		}
		p.Name = strings.TrimSpace(p.Name)
		if err := validateProduct(ctx, tx, op, p); err != nil {
			return err
		}
		return tx.UpdateProduct(ctx, p)
	})
}

// Products lists the catalog.
func (l *Ledger) Products(ctx context.Context) ([]Product, error) {
	var out []Product
	err := l.view(ctx, "products", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Products(ctx)
		return err
	})
	return out, err
}

func validateDiscount(op string, d Discount) error {
	if strings.TrimSpace(d.Name) == "" {
		return Errorf(KindInvalidInput, op, "discount name is required")
	}
	if d.Percent.IsNegative() || d.Percent.GreaterThan(hundred) {
		return Errorf(KindInvalidInput, op, "discount percent must be between 0 and 100")
	}
	return nil
}

// CreateDiscount adds a percentage discount.
func (l *Ledger) CreateDiscount(ctx context.Context, name string, percent decimal.Decimal) (int64, error) {
	var id int64
	err := l.update(ctx, "create_discount", func(ctx context.Context, tx Tx, out *outbox) error {
		d := Discount{Name: strings.TrimSpace(name), Percent: percent}
		if err := validateDiscount("create discount", d); err != nil {
			return err
		}
		if err := tx.InsertDiscount(ctx, &d); err != nil {
			return err
		}
		id = d.ID
		return nil
	})
	return id, err
}

// UpdateDiscount changes a discount. Orders referencing it pick up the new percent.
func (l *Ledger) UpdateDiscount(ctx context.Context, d Discount) error {
	return l.update(ctx, "update_discount", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "update discount"
		d.Name = strings.TrimSpace(d.Name)
		if err := validateDiscount(op, d); err != nil {
			return err
		}
		if _, err := tx.Discount(ctx, d.ID); err != nil {
			return orFound(err, op, "discount", d.ID)
		}
		return tx.UpdateDiscount(ctx, d)
	})
}

// Discounts lists every discount.
func (l *Ledger) Discounts(ctx context.Context) ([]Discount, error) {
	var out []Discount
	err := l.view(ctx, "discounts", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Discounts(ctx)
		return err
	})
	return out, err
}

// AddShipment records a new lot of a product.
func (l *Ledger) AddShipment(ctx context.Context, lot Lot) (int64, error) {
	var id int64
	err := l.update(ctx, "add_shipment", func(ctx context.Context, tx Tx, out *outbox) error {
		const op = "add shipment"
		if _, err := tx.Product(ctx, lot.ProductID); err != nil {
			return orFound(err, op, "product", lot.ProductID)
		}
		if err := lot.validate(); err != nil {
			return err
		}
		if lot.ReceivedAt.IsZero() {
			lot.ReceivedAt = l.now().UTC()
		}
		lot.ReceivedAt = truncateDay(lot.ReceivedAt)
		if err := tx.InsertLot(ctx, &lot); err != nil {
			return err
		}
		id = lot.ID
		return nil
	})
	return id, err
}

// UpdateLot overwrites the counters and purchase price of a lot.
func (l *Ledger) UpdateLot(ctx context.Context, lotID int64, onHand, reserved int, purchasePrice decimal.Decimal) error {
	return l.update(ctx, "update_lot", func(ctx context.Context, tx Tx, out *outbox) error {
		lot, err := tx.Lot(ctx, lotID, true)
		if err != nil {
			return orFound(err, "update lot", "lot", lotID)
		}
		lot.OnHand = onHand
		lot.Reserved = reserved
		lot.PurchasePrice = purchasePrice
		if err := lot.validate(); err != nil {
			return err
		}
		return tx.UpdateLot(ctx, lot)
	})
}

// Lots lists every inventory lot.
func (l *Ledger) Lots(ctx context.Context) ([]Lot, error) {
	var out []Lot
	err := l.view(ctx, "lots", func(ctx context.Context, tx Tx) error {
		var err error
		out, err = tx.Lots(ctx)
		return err
	})
	return out, err
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
