package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hardwarestore/pkg/ledger"
)

type fakeStock map[int64]int

func (f fakeStock) AvailableQuantity(_ context.Context, productID int64) (int, error) {
	qty, ok := f[productID]
	if !ok {
		return 0, ledger.Errorf(ledger.KindNotFound, "available quantity", "product %d not found", productID)
	}
	return qty, nil
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func openStore(t *testing.T, ttl time.Duration) (*Store, *clock) {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "sessions.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	c := &clock{t: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s.now = c.now
	return s, c
}

func TestOpenValidates(t *testing.T) {
	_, err := Open("", time.Hour)
	assert.Error(t, err)
	_, err = Open(filepath.Join(t.TempDir(), "s.db"), 0)
	assert.Error(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	s, c := openStore(t, time.Hour)

	sess, err := s.Create(ledger.RoleClient, 7, "Ivan")
	require.NoError(t, err)
	require.NotEmpty(t, sess.Token)
	assert.Equal(t, c.t.Add(time.Hour), sess.ExpiresAt)

	got, err := s.Get(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, ledger.RoleClient, got.Role)
	assert.Equal(t, int64(7), got.SubjectID)
	assert.Equal(t, "Ivan", got.Name)
	assert.NotNil(t, got.Cart)

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get("")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(sess.Token))
	_, err = s.Get(sess.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete(sess.Token))
}

func TestSessionExpiry(t *testing.T) {
	s, c := openStore(t, 30*time.Minute)

	sess, err := s.Create("", 0, "")
	require.NoError(t, err)

	c.t = c.t.Add(20 * time.Minute)
	got, err := s.Get(sess.Token)
	require.NoError(t, err)
	require.NoError(t, s.Save(&got))

	// Saving slid the expiry forward.
	c.t = c.t.Add(20 * time.Minute)
	_, err = s.Get(sess.Token)
	require.NoError(t, err)

	c.t = c.t.Add(31 * time.Minute)
	_, err = s.Get(sess.Token)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweep(t *testing.T) {
	s, c := openStore(t, time.Minute)

	old, err := s.Create("", 0, "")
	require.NoError(t, err)
	c.t = c.t.Add(45 * time.Second)
	fresh, err := s.Create("", 0, "")
	require.NoError(t, err)

	c.t = c.t.Add(30 * time.Second)
	n, err := s.Sweep()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(old.Token)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(fresh.Token)
	assert.NoError(t, err)
}

func TestCartOperations(t *testing.T) {
	s, _ := openStore(t, time.Hour)
	carts := NewCarts(s, fakeStock{1: 5, 2: 1})
	ctx := context.Background()

	sess, err := s.Create(ledger.RoleClient, 1, "Ivan")
	require.NoError(t, err)

	require.NoError(t, carts.Add(ctx, &sess, 1, 2))
	require.NoError(t, carts.Add(ctx, &sess, 1, 3))
	assert.ErrorIs(t, carts.Add(ctx, &sess, 1, 1), ledger.ErrInsufficientStock)
	assert.ErrorIs(t, carts.Add(ctx, &sess, 1, 0), ledger.ErrInvalidInput)
	assert.ErrorIs(t, carts.Add(ctx, &sess, 99, 1), ledger.ErrNotFound)
	assert.Equal(t, 5, sess.Cart["1"])

	assert.ErrorIs(t, carts.Update(ctx, &sess, 2, 1), ledger.ErrNotFound)
	require.NoError(t, carts.Add(ctx, &sess, 2, 1))
	assert.ErrorIs(t, carts.Update(ctx, &sess, 2, 2), ledger.ErrInsufficientStock)
	require.NoError(t, carts.Update(ctx, &sess, 1, 4))

	stored, err := s.Get(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 4, "2": 1}, stored.Cart)

	cart, err := stored.LedgerCart()
	require.NoError(t, err)
	assert.Equal(t, ledger.Cart{1: 4, 2: 1}, cart)

	require.NoError(t, carts.Remove(&sess, 2))
	require.NoError(t, carts.Remove(&sess, 2))
	stored, err = s.Get(sess.Token)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"1": 4}, stored.Cart)

	require.NoError(t, carts.Clear(&sess))
	stored, err = s.Get(sess.Token)
	require.NoError(t, err)
	assert.Empty(t, stored.Cart)
}

func TestLedgerCartRejectsBadKeys(t *testing.T) {
	_, err := Session{Cart: map[string]int{"abc": 1}}.LedgerCart()
	assert.Error(t, err)
}
