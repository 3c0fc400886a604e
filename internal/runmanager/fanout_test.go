package runmanager

import (
	"testing"
	"time"

	"trades-ai/internal/kernel"
)

func TestFanOutReplaysRingToLateSubscriber(t *testing.T) {
	f := NewFanOut(5, 10)
	for i := 0; i < 3; i++ {
		f.Push(kernel.Event{Kind: kernel.KindMarket, Seq: uint64(i)})
	}

	_, _, replay := f.Subscribe()
	if len(replay) != 3 {
		t.Fatalf("expected replay of 3 ring entries, got %d", len(replay))
	}
}

func TestFanOutRingEvictsOldestPastLimit(t *testing.T) {
	f := NewFanOut(2, 10)
	for i := 0; i < 5; i++ {
		f.Push(kernel.Event{Kind: kernel.KindMarket, Seq: uint64(i)})
	}

	_, _, replay := f.Subscribe()
	if len(replay) != 2 {
		t.Fatalf("expected ring capped at 2, got %d", len(replay))
	}
	if replay[0].Seq != 3 || replay[1].Seq != 4 {
		t.Fatalf("expected the two most recent events, got seqs %d,%d", replay[0].Seq, replay[1].Seq)
	}
}

func TestFanOutDeliversToLiveSubscriberInOrder(t *testing.T) {
	f := NewFanOut(10, 10)
	_, ch, _ := f.Subscribe()

	for i := 0; i < 3; i++ {
		f.Push(kernel.Event{Kind: kernel.KindMarket, Seq: uint64(i)})
	}

	for i := 0; i < 3; i++ {
		select {
		case ev := <-ch:
			if ev.Seq != uint64(i) {
				t.Fatalf("expected seq %d, got %d", i, ev.Seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
}

func TestFanOutDropsSubscriberPastBacklogWithoutBlockingPush(t *testing.T) {
	f := NewFanOut(10000, 2)
	_, slow, _ := f.Subscribe()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10000; i++ {
			f.Push(kernel.Event{Kind: kernel.KindMarket, Seq: uint64(i)})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Push blocked on a stalled subscriber; fan-out must never block the producer")
	}

	// the slow subscriber's channel should have been closed once its
	// backlog bound was exceeded.
	drained := 0
	for range slow {
		drained++
	}
	if drained > 2 {
		t.Fatalf("expected the stalled subscriber to be dropped near its backlog bound, drained %d", drained)
	}
}

func TestFanOutUnsubscribeClosesChannel(t *testing.T) {
	f := NewFanOut(10, 10)
	id, ch, _ := f.Subscribe()
	f.Unsubscribe(id)

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected channel closed after Unsubscribe")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}
