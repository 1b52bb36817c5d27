package ledger

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// CategoryRevenue is the revenue of one category over finished orders.
type CategoryRevenue struct {
	CategoryID   int64           `json:"category_id"`
	CategoryName string          `json:"category_name"`
	Revenue      decimal.Decimal `json:"revenue"`
}

// MonthlySales aggregates finished orders by calendar month (UTC).
type MonthlySales struct {
	Month         time.Time       `json:"sale_month"`
	Orders        int             `json:"total_orders"`
	Revenue       decimal.Decimal `json:"total_revenue"`
	AvgOrderValue decimal.Decimal `json:"avg_order_value"`
}

// CategoryRevenue reports revenue per category, highest first. Only delivered
// and finished orders count.
func (l *Ledger) CategoryRevenue(ctx context.Context) ([]CategoryRevenue, error) {
	var lines []SalesLine
	err := l.view(ctx, "category_revenue", func(ctx context.Context, tx Tx) error {
		var err error
		lines, err = tx.SalesLines(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return RevenueByCategory(lines), nil
}

// MonthlySales reports order count, revenue and average order value per month,
// newest month first.
func (l *Ledger) MonthlySales(ctx context.Context) ([]MonthlySales, error) {
	var lines []SalesLine
	err := l.view(ctx, "monthly_sales", func(ctx context.Context, tx Tx) error {
		var err error
		lines, err = tx.SalesLines(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return SalesByMonth(lines), nil
}

// RevenueByCategory groups sales lines by category.
func RevenueByCategory(lines []SalesLine) []CategoryRevenue {
	byID := map[int64]*CategoryRevenue{}
	for _, ln := range lines {
		row, ok := byID[ln.CategoryID]
		if !ok {
			row = &CategoryRevenue{CategoryID: ln.CategoryID, CategoryName: ln.CategoryName, Revenue: decimal.Zero}
			byID[ln.CategoryID] = row
		}
		row.Revenue = row.Revenue.Add(lineAmount(ln))
	}
	out := make([]CategoryRevenue, 0, len(byID))
	for _, row := range byID {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		return out[i].CategoryID < out[j].CategoryID
	})
	return out
}

// SalesByMonth groups sales lines by the month their order was placed.
func SalesByMonth(lines []SalesLine) []MonthlySales {
	type bucket struct {
		orders  map[int64]struct{}
		revenue decimal.Decimal
	}
	buckets := map[time.Time]*bucket{}
	for _, ln := range lines {
		t := ln.OrderTime.UTC()
		month := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		b, ok := buckets[month]
		if !ok {
			b = &bucket{orders: map[int64]struct{}{}, revenue: decimal.Zero}
			buckets[month] = b
		}
		b.orders[ln.OrderID] = struct{}{}
		b.revenue = b.revenue.Add(lineAmount(ln))
	}
	out := make([]MonthlySales, 0, len(buckets))
	for month, b := range buckets {
		n := len(b.orders)
		out = append(out, MonthlySales{
			Month:         month,
			Orders:        n,
			Revenue:       b.revenue,
			AvgOrderValue: b.revenue.Div(decimal.NewFromInt(int64(n))).Round(2),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month.After(out[j].Month) })
	return out
}

func lineAmount(ln SalesLine) decimal.Decimal {
	return ln.PriceAtOrder.Mul(decimal.NewFromInt(int64(ln.Quantity)))
}
