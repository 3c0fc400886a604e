package kernel

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Handler reacts to one dispatched Event. A plain error is treated as
// recoverable: it is logged and the drain continues with the next handler.
// Wrap an error in Fatal to abort the drain and surface it to the engine.
type Handler func(Event) error

// Fatal marks err as unrecoverable, aborting the enclosing Drain call.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err}
}

type fatalError struct{ err error }

func (f *fatalError) Error() string { return f.err.Error() }
func (f *fatalError) Unwrap() error { return f.err }

// ErrReentrantDispatch is returned by Drain when called from within a
// handler that is itself running inside an active drain.
var ErrReentrantDispatch = errors.New("kernel: reentrant call to Drain")

// ErrDispatchActive is returned by Subscribe when called while a drain is
// in progress; subscription lists must not mutate mid-dispatch.
var ErrDispatchActive = errors.New("kernel: cannot subscribe while dispatch is active")

// Bus is a single-threaded, synchronous, FIFO event dispatcher. It carries
// no goroutines of its own: every call runs on the caller's goroutine,
// which is what makes a single engine's run bit-for-bit reproducible.
type Bus struct {
	subscribers map[Kind][]Handler
	queue       []Event
	dispatching bool
	nextSeq     uint64
	log         *zap.Logger
}

// NewBus builds an empty Bus. log may be nil, in which case a no-op logger
// is used.
func NewBus(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[Kind][]Handler),
		log:         log,
	}
}

// Subscribe registers h for events of kind k, invoked in registration
// order relative to other handlers on the same kind.
func (b *Bus) Subscribe(k Kind, h Handler) error {
	if b.dispatching {
		return ErrDispatchActive
	}
	b.subscribers[k] = append(b.subscribers[k], h)
	return nil
}

// Publish appends event to the queue, assigning it the next monotonic
// sequence number; every other envelope field is kept as the caller set
// it. Safe to call from within a handler during a drain.
func (b *Bus) Publish(e Event) {
	b.nextSeq++
	e.Seq = b.nextSeq
	b.queue = append(b.queue, e)
}

// Pending reports the number of events currently queued for dispatch.
func (b *Bus) Pending() int {
	return len(b.queue)
}

// Drain dequeues events in FIFO order, invoking every handler registered
// for each event's kind. Handlers may Publish further events during the
// same call; they are appended to the same queue and drained before this
// call returns. A recoverable handler error is logged and dispatch goes on;
// a Fatal error aborts the drain and is returned to the caller, and
// queued-but-undispatched events remain queued.
func (b *Bus) Drain() error {
	if b.dispatching {
		return ErrReentrantDispatch
	}
	b.dispatching = true
	defer func() { b.dispatching = false }()

	for len(b.queue) > 0 {
		event := b.queue[0]
		b.queue = b.queue[1:]

		for _, h := range b.subscribers[event.Kind] {
			err := h(event)
			if err == nil {
				continue
			}
			var fatal *fatalError
			if errors.As(err, &fatal) {
				return fmt.Errorf("kernel: handler for %s failed fatally: %w", event.Kind, fatal.err)
			}
			b.log.Warn("recoverable handler error", zap.String("kind", string(event.Kind)), zap.Error(err))
		}
	}
	return nil
}

// Drop discards all queued events without dispatching them, used when the
// engine is unwinding after a fatal error.
func (b *Bus) Drop() {
	b.queue = nil
}
