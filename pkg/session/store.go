// Package session keeps login sessions and shopping carts in a bbolt file keyed by
// an opaque token. Every session has an explicit expiry; expired sessions are
// invisible to readers and removed on access or by Sweep.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"hardwarestore/pkg/ledger"
)

const (
	readWriteMode os.FileMode = 0600
	bucketName                = "sessions"
)

// ErrNotFound is returned for unknown or expired tokens.
var ErrNotFound = errors.New("session not found")

// Session is the value stored under a token.
type Session struct {
	Token     string         `json:"-"`
	Role      ledger.Role    `json:"role,omitempty"`
	SubjectID int64          `json:"subject_id,omitempty"`
	Name      string         `json:"name,omitempty"`
	Cart      map[string]int `json:"cart"`
	ExpiresAt time.Time      `json:"expires_at"`
}

// LedgerCart converts the stored cart, keyed by product id strings, for checkout.
func (s Session) LedgerCart() (ledger.Cart, error) {
	cart := make(ledger.Cart, len(s.Cart))
	for key, qty := range s.Cart {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid product id %q in cart: %w", key, err)
		}
		cart[id] = qty
	}
	return cart, nil
}

// Store persists sessions.
type Store struct {
	db  *bolt.DB
	ttl time.Duration
	now func() time.Time
}

// Open creates or opens the session file at path.
func Open(path string, ttl time.Duration) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("session file path is blank")
	}
	if ttl <= 0 {
		return nil, errors.New("session ttl must be positive")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, readWriteMode, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db, ttl: ttl, now: time.Now}, nil
}

// Close releases the file lock.
func (s *Store) Close() error {
	return s.db.Close()
}

// TTL is the lifetime granted on every save.
func (s *Store) TTL() time.Duration { return s.ttl }

// Create starts a new session. An anonymous session has no role.
func (s *Store) Create(role ledger.Role, subjectID int64, name string) (Session, error) {
	sess := Session{
		Token:     uuid.NewString(),
		Role:      role,
		SubjectID: subjectID,
		Name:      name,
		Cart:      map[string]int{},
	}
	if err := s.Save(&sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// Get loads a live session.
func (s *Store) Get(token string) (Session, error) {
	if token == "" {
		return Session{}, ErrNotFound
	}
	var (
		sess    Session
		expired bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket([]byte(bucketName)).Get([]byte(token))
		if raw == nil {
			return ErrNotFound
		}
		if err := json.Unmarshal(raw, &sess); err != nil {
			return err
		}
		expired = !s.now().Before(sess.ExpiresAt)
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	if expired {
		if err := s.Delete(token); err != nil {
			return Session{}, err
		}
		return Session{}, ErrNotFound
	}
	sess.Token = token
	if sess.Cart == nil {
		sess.Cart = map[string]int{}
	}
	return sess, nil
}

// Save writes the session and extends its expiry. Concurrent saves of one
// session are last-write-wins.
func (s *Store) Save(sess *Session) error {
	if sess.Token == "" {
		return errors.New("session token is blank")
	}
	sess.ExpiresAt = s.now().Add(s.ttl).UTC()
	raw, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(sess.Token), raw)
	})
}

// Delete removes a session. Unknown tokens are ignored.
func (s *Store) Delete(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(token))
	})
}

// Sweep removes every expired session and reports how many were dropped.
func (s *Store) Sweep() (int, error) {
	now := s.now()
	removed := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sess Session
			if err := json.Unmarshal(v, &sess); err != nil || !now.Before(sess.ExpiresAt) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	return removed, err
}
