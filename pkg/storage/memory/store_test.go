package memory

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hardwarestore/pkg/ledger"
)

func openTemp(t *testing.T, path string) *Store {
	t.Helper()
	s, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	return s
}

func seedProduct(ctx context.Context, tx ledger.Tx) (ledger.Product, error) {
	c := ledger.Category{Name: "Tools"}
	if err := tx.InsertCategory(ctx, &c); err != nil {
		return ledger.Product{}, err
	}
	p := ledger.Product{Name: "Saw", Price: decimal.RequireFromString("12.30"), CategoryID: c.ID}
	if err := tx.InsertProduct(ctx, &p); err != nil {
		return ledger.Product{}, err
	}
	return p, nil
}

func TestUpdateRollsBackOnError(t *testing.T) {
	s := openTemp(t, "")
	defer s.Close()
	ctx := context.Background()

	boom := errors.New("boom")
	err := s.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if _, err := seedProduct(ctx, tx); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		products, err := tx.Products(ctx)
		assert.NoError(t, err)
		assert.Empty(t, products)
		return nil
	}))
}

func TestViewIsReadOnly(t *testing.T) {
	s := openTemp(t, "")
	defer s.Close()

	err := s.View(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertCategory(ctx, &ledger.Category{Name: "x"})
	})
	assert.ErrorIs(t, err, ledger.ErrConstraintViolation)
}

func TestSnapshotSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.json")
	ctx := context.Background()

	s := openTemp(t, path)
	var productID int64
	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := seedProduct(ctx, tx)
		productID = p.ID
		if err != nil {
			return err
		}
		return tx.InsertLot(ctx, &ledger.Lot{
			ProductID:  p.ID,
			OnHand:     8,
			Reserved:   3,
			ReceivedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		})
	}))
	require.NoError(t, s.Close())

	reopened := openTemp(t, path)
	defer reopened.Close()
	require.NoError(t, reopened.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := tx.Product(ctx, productID)
		assert.NoError(t, err)
		assert.True(t, decimal.RequireFromString("12.30").Equal(p.Price))

		lots, err := tx.ProductLots(ctx, productID, false)
		assert.NoError(t, err)
		assert.Len(t, lots, 1)
		assert.Equal(t, 5, lots[0].Available())
		return nil
	}))

	// Sequences continue after a restart.
	require.NoError(t, reopened.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		c := ledger.Category{Name: "Paint"}
		assert.NoError(t, tx.InsertCategory(ctx, &c))
		assert.Equal(t, int64(2), c.ID)
		return nil
	}))
}

func TestConstraints(t *testing.T) {
	s := openTemp(t, "")
	defer s.Close()
	ctx := context.Background()

	err := s.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		return tx.InsertProduct(ctx, &ledger.Product{Name: "orphan", CategoryID: 42})
	})
	assert.ErrorIs(t, err, ledger.ErrConstraintViolation)

	err = s.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := seedProduct(ctx, tx)
		if err != nil {
			return err
		}
		return tx.InsertLot(ctx, &ledger.Lot{ProductID: p.ID, OnHand: 1, Reserved: 2})
	})
	assert.ErrorIs(t, err, ledger.ErrConstraintViolation)

	err = s.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		if err := tx.InsertClient(ctx, &ledger.Client{Name: "a", Login: "dup"}); err != nil {
			return err
		}
		return tx.InsertClient(ctx, &ledger.Client{Name: "b", Login: "DUP"})
	})
	assert.ErrorIs(t, err, ledger.ErrConflict)

	err = s.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		p, err := seedProduct(ctx, tx)
		if err != nil {
			return err
		}
		c := ledger.Client{Name: "c"}
		if err := tx.InsertClient(ctx, &c); err != nil {
			return err
		}
		o := ledger.Order{ClientID: c.ID, Status: ledger.StatusNew}
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return err
		}
		if err := tx.InsertItem(ctx, &ledger.OrderItem{OrderID: o.ID, ProductID: p.ID, Quantity: 1}); err != nil {
			return err
		}
		if err := tx.DeleteClient(ctx, c.ID); !errors.Is(err, ledger.ErrConstraintViolation) {
			return errors.New("client with orders was deleted")
		}
		return tx.DeleteOrder(ctx, o.ID)
	})
	assert.ErrorIs(t, err, ledger.ErrConstraintViolation)
}

func TestCanceledContext(t *testing.T) {
	s := openTemp(t, "")
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.Update(ctx, func(context.Context, ledger.Tx) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestClosedStore(t *testing.T) {
	s := openTemp(t, "")
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	err := s.View(context.Background(), func(context.Context, ledger.Tx) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReturnedRowsAreCopies(t *testing.T) {
	s := openTemp(t, "")
	defer s.Close()
	ctx := context.Background()

	var orderID int64
	require.NoError(t, s.Update(ctx, func(ctx context.Context, tx ledger.Tx) error {
		c := ledger.Client{Name: "c"}
		if err := tx.InsertClient(ctx, &c); err != nil {
			return err
		}
		text := "ok"
		o := ledger.Order{ClientID: c.ID, Status: ledger.StatusDelivered, Feedback: &text}
		if err := tx.InsertOrder(ctx, &o); err != nil {
			return err
		}
		orderID = o.ID
		text = "changed"
		return nil
	}))

	require.NoError(t, s.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		o, err := tx.Order(ctx, orderID, false)
		assert.NoError(t, err)
		assert.NotNil(t, o.Feedback)
		assert.Equal(t, "ok", *o.Feedback)
		*o.Feedback = "mutated"
		return nil
	}))
	require.NoError(t, s.View(ctx, func(ctx context.Context, tx ledger.Tx) error {
		o, err := tx.Order(ctx, orderID, false)
		assert.NoError(t, err)
		assert.Equal(t, "ok", *o.Feedback)
		return nil
	}))
}

func TestWritesCopyOnlyTouchedTables(t *testing.T) {
	ctx := context.Background()
	committed := newData()
	committed.Clients[1] = ledger.Client{ID: 1, Name: "first"}
	committed.Sequences["clients"] = 1
	text := "fine"
	committed.Orders[5] = ledger.Order{ID: 5, ClientID: 1, Feedback: &text}

	working := committed.fork()
	w := &tx{d: working, writable: true}
	require.NoError(t, w.InsertClient(ctx, &ledger.Client{Name: "second"}))

	assert.Len(t, committed.Clients, 1)
	assert.Len(t, working.Clients, 2)
	assert.Equal(t, int64(1), committed.Sequences["clients"])
	assert.Equal(t, int64(2), working.Sequences["clients"])
	assert.Equal(t, reflect.ValueOf(committed.Orders).Pointer(), reflect.ValueOf(working.Orders).Pointer(),
		"untouched tables are shared")

	o, err := w.Order(ctx, 5, true)
	require.NoError(t, err)
	changed := "edited"
	o.Feedback = &changed
	require.NoError(t, w.UpdateOrder(ctx, o))
	assert.Equal(t, "fine", *committed.Orders[5].Feedback)
	assert.Equal(t, "edited", *working.Orders[5].Feedback)

	ro := &tx{d: committed}
	assert.ErrorIs(t, ro.InsertClient(ctx, &ledger.Client{Name: "third"}), ledger.ErrConstraintViolation)
	assert.Len(t, committed.Clients, 1)
}
