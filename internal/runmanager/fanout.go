package runmanager

import (
	"sync"

	"trades-ai/internal/kernel"
)

// FanOut multiplexes one run's event stream to any number of subscribers,
// grounded on `_examples/bally65-singularity/v1/internal/telemetry/hub.go`'s
// Hub (map of subscriber channels under a mutex, broadcast loop) but with
// two departures spec.md §4.4 requires the source hub doesn't have: a
// bounded ring buffer new subscribers replay from, and a non-blocking,
// drop-past-backlog write instead of the hub's unconditional blocking send.
type FanOut struct {
	mu          sync.Mutex
	ring        []kernel.Event
	ringLimit   int
	subs        map[int]chan kernel.Event
	nextSubID   int
	backlog     int
}

// NewFanOut builds a FanOut. ringLimit bounds replay history; backlog
// bounds each subscriber's channel before it is dropped.
func NewFanOut(ringLimit, backlog int) *FanOut {
	if ringLimit <= 0 {
		ringLimit = 1000
	}
	if backlog <= 0 {
		backlog = 256
	}
	return &FanOut{ring: make([]kernel.Event, 0, ringLimit), ringLimit: ringLimit, subs: make(map[int]chan kernel.Event), backlog: backlog}
}

// Push appends event to the ring (evicting the oldest entry past
// ringLimit) and attempts a non-blocking write to every live subscriber.
// A subscriber whose channel is full is dropped and its channel closed —
// spec.md §8's "run's execution time is bounded by the feed, not by [a
// stalled subscriber]" invariant depends on this never blocking.
func (f *FanOut) Push(event kernel.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.ring = append(f.ring, event)
	if len(f.ring) > f.ringLimit {
		f.ring = f.ring[len(f.ring)-f.ringLimit:]
	}

	for id, ch := range f.subs {
		select {
		case ch <- event:
		default:
			close(ch)
			delete(f.subs, id)
		}
	}
}

// Subscribe registers a new subscriber, returning an id to pass to
// Unsubscribe, its live channel, and a copy of the current ring contents
// for a late joiner to replay before reading the channel.
func (f *FanOut) Subscribe() (id int, ch <-chan kernel.Event, replay []kernel.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextSubID++
	id = f.nextSubID
	c := make(chan kernel.Event, f.backlog)
	f.subs[id] = c

	replay = make([]kernel.Event, len(f.ring))
	copy(replay, f.ring)
	return id, c, replay
}

// Unsubscribe removes and closes a subscriber's channel. Safe to call more
// than once or after the subscriber was already dropped for a full
// backlog.
func (f *FanOut) Unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subs[id]; ok {
		close(ch)
		delete(f.subs, id)
	}
}

// Close closes every live subscriber channel, called once a run reaches a
// terminal state so Stream callers observe channel closure as end-of-run.
func (f *FanOut) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		close(ch)
		delete(f.subs, id)
	}
}
