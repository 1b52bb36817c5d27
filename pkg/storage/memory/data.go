package memory

import (
	"hardwarestore/pkg/ledger"
)

// data is the whole store state and also the snapshot layout.
type data struct {
	Clients    map[int64]ledger.Client    `json:"clients"`
	Employees  map[int64]ledger.Employee  `json:"employees"`
	Categories map[int64]ledger.Category  `json:"categories"`
	Products   map[int64]ledger.Product   `json:"products"`
	Discounts  map[int64]ledger.Discount  `json:"discounts"`
	Lots       map[int64]ledger.Lot       `json:"lots"`
	Orders     map[int64]ledger.Order     `json:"orders"`
	Items      map[int64]ledger.OrderItem `json:"order_items"`
	Sequences  map[string]int64           `json:"sequences"`
}

func newData() *data {
	d := &data{}
	d.init()
	return d
}

// init makes sure every map exists after decoding a partial snapshot.
func (d *data) init() {
	if d.Clients == nil {
		d.Clients = map[int64]ledger.Client{}
	}
	if d.Employees == nil {
		d.Employees = map[int64]ledger.Employee{}
	}
	if d.Categories == nil {
		d.Categories = map[int64]ledger.Category{}
	}
	if d.Products == nil {
		d.Products = map[int64]ledger.Product{}
	}
	if d.Discounts == nil {
		d.Discounts = map[int64]ledger.Discount{}
	}
	if d.Lots == nil {
		d.Lots = map[int64]ledger.Lot{}
	}
	if d.Orders == nil {
		d.Orders = map[int64]ledger.Order{}
	}
	if d.Items == nil {
		d.Items = map[int64]ledger.OrderItem{}
	}
	if d.Sequences == nil {
		d.Sequences = map[string]int64{}
	}
}

func (d *data) next(seq string) int64 {
	d.Sequences[seq]++
	return d.Sequences[seq]
}

// fork returns a working copy that shares every table with d. A transaction
// copies a table before its first write, so d itself is never mutated.
func (d *data) fork() *data {
	c := *d
	return &c
}

func cloneMap[K comparable, V any](src map[K]V, deep func(V) V) map[K]V {
	out := make(map[K]V, len(src))
	for k, v := range src {
		if deep != nil {
			v = deep(v)
		}
		out[k] = v
	}
	return out
}

func cloneOrder(o ledger.Order) ledger.Order {
	o.EmployeeID = clonePtr(o.EmployeeID)
	o.DiscountID = clonePtr(o.DiscountID)
	o.Feedback = clonePtr(o.Feedback)
	return o
}

func cloneItem(it ledger.OrderItem) ledger.OrderItem {
	it.LotID = clonePtr(it.LotID)
	return it
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
