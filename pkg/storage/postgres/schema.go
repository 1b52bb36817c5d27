package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS schema_meta (
		id          INT PRIMARY KEY CHECK (id = 1),
		app_version TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS categories (
		category_id   BIGSERIAL PRIMARY KEY,
		category_name TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS clients (
		client_id     BIGSERIAL PRIMARY KEY,
		client_fio    TEXT NOT NULL,
		client_phone  TEXT,
		login         TEXT,
		password_hash TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS clients_login_key ON clients (lower(login))`,
	`CREATE TABLE IF NOT EXISTS employees (
		employee_id    BIGSERIAL PRIMARY KEY,
		employee_name  TEXT NOT NULL,
		employee_phone TEXT,
		login          TEXT,
		password_hash  TEXT
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS employees_login_key ON employees (lower(login))`,
	`CREATE TABLE IF NOT EXISTS discounts (
		discount_id      BIGSERIAL PRIMARY KEY,
		discount_name    TEXT NOT NULL,
		discount_percent NUMERIC(5,2) NOT NULL CHECK (discount_percent BETWEEN 0 AND 100)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		product_id             BIGSERIAL PRIMARY KEY,
		product_name           TEXT NOT NULL,
		product_price_for_sale NUMERIC(10,2) NOT NULL CHECK (product_price_for_sale >= 0),
		refund_possibility     VARCHAR(10) NOT NULL DEFAULT 'no',
		category_id            BIGINT NOT NULL REFERENCES categories (category_id)
	)`,
	`CREATE TABLE IF NOT EXISTS inventory (
		lot_id                  BIGSERIAL PRIMARY KEY,
		product_id              BIGINT NOT NULL REFERENCES products (product_id),
		quantity_current        INTEGER NOT NULL CHECK (quantity_current >= 0),
		quantity_in_transit     INTEGER NOT NULL DEFAULT 0 CHECK (quantity_in_transit >= 0),
		product_date_of_receipt DATE NOT NULL DEFAULT CURRENT_DATE,
		purchase_price          NUMERIC(10,2) NOT NULL DEFAULT 0,
		CHECK (quantity_in_transit <= quantity_current)
	)`,
	`CREATE INDEX IF NOT EXISTS inventory_product_receipt_idx ON inventory (product_id, product_date_of_receipt, lot_id)`,
	`CREATE TABLE IF NOT EXISTS orders (
		order_id        BIGSERIAL PRIMARY KEY,
		client_id       BIGINT NOT NULL REFERENCES clients (client_id),
		order_channel   VARCHAR(50) NOT NULL CHECK (order_channel IN ('website', 'admin')),
		order_status    TEXT NOT NULL DEFAULT 'new'
			CHECK (order_status IN ('new', 'in_progress', 'shipped', 'delivered')),
		employee_id     BIGINT REFERENCES employees (employee_id) ON DELETE SET NULL,
		discount_id     BIGINT REFERENCES discounts (discount_id) ON DELETE SET NULL,
		order_finished  BOOLEAN NOT NULL DEFAULT FALSE,
		client_feedback TEXT,
		refund_status   VARCHAR(20) NOT NULL DEFAULT 'none'
			CHECK (refund_status IN ('none', 'requested', 'processing', 'completed')),
		order_time      TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS orders_client_idx ON orders (client_id)`,
	`CREATE INDEX IF NOT EXISTS orders_employee_idx ON orders (employee_id)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		order_items_id BIGSERIAL PRIMARY KEY,
		order_id       BIGINT NOT NULL REFERENCES orders (order_id),
		product_id     BIGINT NOT NULL REFERENCES products (product_id),
		lot_id         BIGINT REFERENCES inventory (lot_id) ON DELETE SET NULL,
		quantity       INTEGER NOT NULL CHECK (quantity > 0),
		price_at_order NUMERIC(10,2) NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS order_items_order_idx ON order_items (order_id)`,
	`CREATE OR REPLACE VIEW orders_with_details AS
	SELECT o.order_id,
	       o.order_time,
	       o.order_status,
	       o.order_channel,
	       o.order_finished,
	       o.client_id,
	       c.client_fio AS client_name,
	       COALESCE(c.client_phone, '') AS client_phone,
	       o.employee_id,
	       e.employee_name AS handler_name,
	       o.discount_id,
	       d.discount_name,
	       d.discount_percent,
	       o.refund_status,
	       o.client_feedback,
	       COALESCE(SUM(oi.quantity * oi.price_at_order), 0) AS total_amount
	FROM orders o
	JOIN clients c ON c.client_id = o.client_id
	LEFT JOIN employees e ON e.employee_id = o.employee_id
	LEFT JOIN discounts d ON d.discount_id = o.discount_id
	LEFT JOIN order_items oi ON oi.order_id = o.order_id
	GROUP BY o.order_id, c.client_id, e.employee_id, d.discount_id`,
	`CREATE OR REPLACE VIEW available_lots_for_order AS
	SELECT i.lot_id,
	       i.product_id,
	       p.product_name,
	       i.quantity_current - i.quantity_in_transit AS available_quantity,
	       i.product_date_of_receipt,
	       i.purchase_price,
	       p.product_price_for_sale
	FROM inventory i
	JOIN products p ON p.product_id = i.product_id
	WHERE i.quantity_current - i.quantity_in_transit > 0`,
}

// Migrate creates the tables and views when they are missing. It is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	for i, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement %d: %w", i, err)
		}
	}
	return nil
}

// SchemaVersion returns the application version that last migrated the
// database, or "" for a fresh database.
func (s *Store) SchemaVersion(ctx context.Context) (string, error) {
	var v string
	err := s.db.GetContext(ctx, &v, `SELECT app_version FROM schema_meta WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read schema version: %w", err)
	}
	return v, nil
}

// RecordVersion stores the application version that owns the schema.
func (s *Store) RecordVersion(ctx context.Context, v string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO schema_meta (id, app_version) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET app_version = EXCLUDED.app_version`, v)
	if err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return nil
}
