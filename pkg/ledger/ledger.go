// Package ledger keeps orders and inventory lots consistent. Every exported operation
// runs as a single transaction against a Store.
package ledger

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"hardwarestore/pkg/events"
	"hardwarestore/pkg/logging"
)

// Recorder observes the outcome of each ledger operation.
type Recorder interface {
	Record(op string, kind Kind, elapsed time.Duration)
}

// Options tunes a Ledger. The zero value is usable.
type Options struct {
	// StrictStatus limits status changes to one forward step at a time.
	StrictStatus bool
	Publisher    events.Publisher
	Recorder     Recorder
	Logger       zerolog.Logger
	// Now is used for order timestamps; defaults to time.Now.
	Now func() time.Time
}

// Ledger implements the order and inventory operations.
type Ledger struct {
	store     Store
	strict    bool
	publisher events.Publisher
	recorder  Recorder
	log       zerolog.Logger
	now       func() time.Time
}

// New wires a ledger to its store.
func New(store Store, opts Options) *Ledger {
	l := &Ledger{
		store:     store,
		strict:    opts.StrictStatus,
		publisher: opts.Publisher,
		recorder:  opts.Recorder,
		log:       logging.Component(opts.Logger, "ledger"),
		now:       opts.Now,
	}
	if l.publisher == nil {
		l.publisher = events.Nop()
	}
	if l.now == nil {
		l.now = time.Now
	}
	return l
}

// update runs fn in a write transaction, records the outcome and publishes the
// collected events once the commit succeeded.
func (l *Ledger) update(ctx context.Context, op string, fn func(ctx context.Context, tx Tx, out *outbox) error) error {
	started := time.Now()
	var out outbox
	err := l.store.Update(ctx, func(ctx context.Context, tx Tx) error {
		out = outbox{}
		return fn(ctx, tx, &out)
	})
	l.observe(op, err, started)
	if err != nil {
		return err
	}
	l.flush(ctx, out)
	return nil
}

// view runs fn in a read-only transaction.
func (l *Ledger) view(ctx context.Context, op string, fn TxFunc) error {
	started := time.Now()
	err := l.store.View(ctx, fn)
	l.observe(op, err, started)
	return err
}

func (l *Ledger) observe(op string, err error, started time.Time) {
	kind := KindOf(err)
	if err != nil && kind == "" {
		kind = KindConstraintViolation
	}
	if l.recorder != nil {
		l.recorder.Record(op, kind, time.Since(started))
	}
	if err != nil {
		ev := l.log.Warn()
		if kind == KindConstraintViolation || kind == KindRefundFailed {
			ev = l.log.Error()
		}
		ev.Err(err).Str("op", op).Str("kind", string(kind)).Msg("ledger operation failed")
	}
}

// outbox collects events inside a transaction; they are only sent after commit.
type outbox []events.Event

func (o *outbox) add(eventType string, orderID int64, payload map[string]any) {
	*o = append(*o, events.New(eventType, orderID, payload))
}

func (l *Ledger) flush(ctx context.Context, out outbox) {
	for _, e := range out {
		if err := l.publisher.Publish(ctx, e); err != nil {
			l.log.Error().Err(err).Str("event", e.Type).Int64(logging.FieldOrderID, e.OrderID).Msg("event publish failed")
		}
	}
}
