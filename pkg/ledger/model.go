package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// Channel records where an order was placed.
type Channel string

const (
	ChannelWebsite Channel = "website"
	ChannelAdmin   Channel = "admin"
)

// Client is a customer of the store.
type Client struct {
	ID           int64  `json:"client_id" db:"client_id"`
	Name         string `json:"client_fio" db:"client_fio"`
	Phone        string `json:"client_phone" db:"client_phone"`
	Login        string `json:"login,omitempty" db:"login"`
	PasswordHash string `json:"-" db:"password_hash"`
}

// Employee is a store manager who may handle orders.
type Employee struct {
	ID           int64  `json:"employee_id" db:"employee_id"`
	Name         string `json:"employee_name" db:"employee_name"`
	Phone        string `json:"employee_phone" db:"employee_phone"`
	Login        string `json:"login,omitempty" db:"login"`
	PasswordHash string `json:"-" db:"password_hash"`
}

// Category groups products for revenue reporting.
type Category struct {
	ID   int64  `json:"category_id" db:"category_id"`
	Name string `json:"category_name" db:"category_name"`
}

// Product is a catalog entry. Price is the current sale price; orders snapshot it.
type Product struct {
	ID         int64           `json:"product_id" db:"product_id"`
	Name       string          `json:"product_name" db:"product_name"`
	Price      decimal.Decimal `json:"price" db:"product_price_for_sale"`
	Refundable bool            `json:"refundable" db:"refundable"`
	CategoryID int64           `json:"category_id" db:"category_id"`
}

// Lot is a single delivery of a product. Reserved counts units held by open orders.
type Lot struct {
	ID            int64           `json:"lot_id" db:"lot_id"`
	ProductID     int64           `json:"product_id" db:"product_id"`
	OnHand        int             `json:"quantity_current" db:"quantity_current"`
	Reserved      int             `json:"quantity_in_transit" db:"quantity_in_transit"`
	ReceivedAt    time.Time       `json:"product_date_of_receipt" db:"product_date_of_receipt"`
	PurchasePrice decimal.Decimal `json:"purchase_price" db:"purchase_price"`
}

// Available returns the quantity that can still be reserved from the lot.
func (l Lot) Available() int {
	return l.OnHand - l.Reserved
}

// Reserve moves qty into the reserved pool.
func (l *Lot) Reserve(qty int) error {
	if qty <= 0 {
		return Errorf(KindInvalidInput, "reserve", "quantity must be positive")
	}
	if l.Available() < qty {
		return Errorf(KindInsufficientStock, "reserve", "lot %d has %d available, %d requested", l.ID, l.Available(), qty)
	}
	l.Reserved += qty
	return nil
}

// Release returns qty from the reserved pool, never dropping below zero.
func (l *Lot) Release(qty int) {
	l.Reserved -= qty
	if l.Reserved < 0 {
		l.Reserved = 0
	}
}

func (l Lot) validate() error {
	if l.OnHand < 0 || l.Reserved < 0 {
		return Errorf(KindInvalidInput, "lot", "quantities must not be negative")
	}
	if l.Reserved > l.OnHand {
		return Errorf(KindInvalidInput, "lot", "reserved quantity %d exceeds quantity on hand %d", l.Reserved, l.OnHand)
	}
	if l.PurchasePrice.IsNegative() {
		return Errorf(KindInvalidInput, "lot", "purchase price must not be negative")
	}
	return nil
}

// AvailableLot is a catalog row: a lot with stock left, joined with its product.
type AvailableLot struct {
	LotID         int64           `json:"lot_id" db:"lot_id"`
	ProductID     int64           `json:"product_id" db:"product_id"`
	ProductName   string          `json:"product_name" db:"product_name"`
	Available     int             `json:"available_quantity" db:"available_quantity"`
	ReceivedAt    time.Time       `json:"product_date_of_receipt" db:"product_date_of_receipt"`
	PurchasePrice decimal.Decimal `json:"purchase_price" db:"purchase_price"`
	SalePrice     decimal.Decimal `json:"product_price_for_sale" db:"product_price_for_sale"`
}

// Discount is a percentage applied to a whole order.
type Discount struct {
	ID      int64           `json:"discount_id" db:"discount_id"`
	Name    string          `json:"discount_name" db:"discount_name"`
	Percent decimal.Decimal `json:"discount_percent" db:"discount_percent"`
}

// Order is the header of a client order. Items are stored separately.
type Order struct {
	ID           int64        `json:"order_id" db:"order_id"`
	ClientID     int64        `json:"client_id" db:"client_id"`
	Channel      Channel      `json:"order_channel" db:"order_channel"`
	Status       Status       `json:"order_status" db:"order_status"`
	EmployeeID   *int64       `json:"employee_id,omitempty" db:"employee_id"`
	DiscountID   *int64       `json:"discount_id,omitempty" db:"discount_id"`
	Finished     bool         `json:"order_finished" db:"order_finished"`
	Feedback     *string      `json:"client_feedback,omitempty" db:"client_feedback"`
	RefundStatus RefundStatus `json:"refund_status" db:"refund_status"`
	CreatedAt    time.Time    `json:"order_time" db:"order_time"`
}

// OrderItem is one product line. PriceAtOrder is fixed when the line is added.
type OrderItem struct {
	ID           int64           `json:"order_item_id" db:"order_items_id"`
	OrderID      int64           `json:"order_id" db:"order_id"`
	ProductID    int64           `json:"product_id" db:"product_id"`
	LotID        *int64          `json:"lot_id,omitempty" db:"lot_id"`
	Quantity     int             `json:"quantity" db:"quantity"`
	PriceAtOrder decimal.Decimal `json:"price_at_order" db:"price_at_order"`
}

// Subtotal is quantity times the snapshotted price.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.PriceAtOrder.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderSummary is the denormalized order view used by dashboards.
type OrderSummary struct {
	OrderID         int64               `json:"order_id" db:"order_id"`
	CreatedAt       time.Time           `json:"order_time" db:"order_time"`
	Status          Status              `json:"order_status" db:"order_status"`
	Channel         Channel             `json:"order_channel" db:"order_channel"`
	Finished        bool                `json:"order_finished" db:"order_finished"`
	ClientID        int64               `json:"client_id" db:"client_id"`
	ClientName      string              `json:"client_name" db:"client_name"`
	ClientPhone     string              `json:"client_phone" db:"client_phone"`
	EmployeeID      *int64              `json:"employee_id,omitempty" db:"employee_id"`
	HandlerName     *string             `json:"handler_name,omitempty" db:"handler_name"`
	DiscountID      *int64              `json:"discount_id,omitempty" db:"discount_id"`
	DiscountName    *string             `json:"discount_name,omitempty" db:"discount_name"`
	DiscountPercent decimal.NullDecimal `json:"discount_percent" db:"discount_percent"`
	RefundStatus    RefundStatus        `json:"refund_status" db:"refund_status"`
	Feedback        *string             `json:"client_feedback,omitempty" db:"client_feedback"`
	Total           decimal.Decimal     `json:"total_amount" db:"total_amount"`
	Payable         decimal.Decimal     `json:"final_amount" db:"-"`
}

// OrderFilter narrows order listings. Zero fields match everything.
type OrderFilter struct {
	ClientID   int64
	EmployeeID int64
}

// OrderDetail is an order with its lines and computed amounts.
type OrderDetail struct {
	Order
	Items      []OrderItem     `json:"items"`
	Total      decimal.Decimal `json:"total_amount"`
	Payable    decimal.Decimal `json:"final_amount"`
	Refundable bool            `json:"refund_possibility"`
	CanReview  bool            `json:"can_review"`
}

// SalesLine is one item of a delivered and finished order, used by revenue reports.
type SalesLine struct {
	OrderID      int64           `db:"order_id"`
	OrderTime    time.Time       `db:"order_time"`
	CategoryID   int64           `db:"category_id"`
	CategoryName string          `db:"category_name"`
	Quantity     int             `db:"quantity"`
	PriceAtOrder decimal.Decimal `db:"price_at_order"`
}
