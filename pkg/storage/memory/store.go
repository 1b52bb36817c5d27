// Package memory is an in-process ledger store. A single goroutine owns the data;
// transactions are shipped to it and run one at a time against a private copy that
// replaces the live state only when the transaction succeeds. The state is written
// to a JSON snapshot after every commit so it survives restarts.
package memory

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hardwarestore/pkg/ledger"
	"hardwarestore/pkg/logging"
)

const enqueueTimeout = 2 * time.Second

// ErrClosed is returned once the store has been closed.
var ErrClosed = errors.New("memory store is closed")

type request struct {
	ctx      context.Context
	fn       ledger.TxFunc
	writable bool
	reply    chan error
}

// Store implements ledger.Store.
type Store struct {
	requests        chan request
	closed          chan struct{}
	persistRequests chan *data
	snapshotPath    string
	state           *data
	log             zerolog.Logger
	wg              sync.WaitGroup
	closeOnce       sync.Once
}

// Open loads the snapshot at path, if any, and starts the store goroutines. An
// empty path keeps everything in memory.
func Open(path string, logger zerolog.Logger) (*Store, error) {
	loaded, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}
	if loaded == nil {
		loaded = newData()
	}
	s := &Store{
		requests:        make(chan request, 32),
		closed:          make(chan struct{}),
		persistRequests: make(chan *data, 1),
		snapshotPath:    path,
		state:           loaded,
		log:             logging.Component(logger, "memory-store"),
	}
	s.wg.Add(2)
	go s.loop()
	go s.persistenceLoop()
	return s, nil
}

// Update runs fn as a write transaction.
func (s *Store) Update(ctx context.Context, fn ledger.TxFunc) error {
	return s.do(ctx, fn, true)
}

// View runs fn as a read-only transaction.
func (s *Store) View(ctx context.Context, fn ledger.TxFunc) error {
	return s.do(ctx, fn, false)
}

func (s *Store) do(ctx context.Context, fn ledger.TxFunc, writable bool) error {
	req := request{ctx: ctx, fn: fn, writable: writable, reply: make(chan error, 1)}

	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()
	select {
	case s.requests <- req:
	case <-s.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("memory store is busy")
	}

	select {
	case err := <-req.reply:
		return err
	case <-s.closed:
		return ErrClosed
	}
}

// loop is the only goroutine touching s.state.
func (s *Store) loop() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.requests:
			req.reply <- s.run(req)
		case <-s.closed:
			return
		}
	}
}

func (s *Store) run(req request) (err error) {
	if err := req.ctx.Err(); err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("transaction panicked")
			err = errors.New("memory store: transaction panicked")
		}
	}()

	if !req.writable {
		return req.fn(req.ctx, &tx{d: s.state})
	}
	working := s.state.fork()
	if err := req.fn(req.ctx, &tx{d: working, writable: true}); err != nil {
		return err
	}
	if err := req.ctx.Err(); err != nil {
		return err
	}
	s.state = working
	s.queuePersist()
	return nil
}

// persistenceLoop writes snapshots off the transaction path.
func (s *Store) persistenceLoop() {
	defer s.wg.Done()
	for {
		select {
		case snap := <-s.persistRequests:
			s.save(snap)
		case <-s.closed:
			return
		}
	}
}

// queuePersist hands the latest state to the writer, replacing an unwritten one.
// Committed state is never mutated, so no copy is needed.
func (s *Store) queuePersist() {
	if s.snapshotPath == "" {
		return
	}
	select {
	case s.persistRequests <- s.state:
	default:
		select {
		case <-s.persistRequests:
		default:
		}
		s.persistRequests <- s.state
	}
}

func (s *Store) save(snap *data) {
	if err := writeSnapshot(s.snapshotPath, snap); err != nil {
		s.log.Error().Err(err).Str("path", s.snapshotPath).Msg("snapshot write failed")
	}
}

// Close stops the goroutines and writes a final snapshot.
func (s *Store) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.wg.Wait()
		if s.snapshotPath != "" {
			err = writeSnapshot(s.snapshotPath, s.state)
		}
	})
	return err
}

// readSnapshot loads the persisted JSON file if it exists.
func readSnapshot(path string) (*data, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}
	d := newData()
	if err := json.Unmarshal(raw, d); err != nil {
		return nil, err
	}
	d.init()
	return d, nil
}

// writeSnapshot replaces the file atomically.
func writeSnapshot(path string, d *data) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	raw, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return err
	}
	temp := path + ".tmp"
	if err := os.WriteFile(temp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(temp, path)
}
