package events

import "testing"

func TestHub_PublishDeliversToSubscriber(t *testing.T) {
	h := NewHub(4)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(KindFresh, "pkg:build", "")

	ev := <-ch
	if ev.Kind != KindFresh || ev.Script != "pkg:build" {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestHub_SlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := NewHub(4)
	_, cancel := h.Subscribe() // never drained
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			h.Publish(KindOutputLine, "pkg:build", "line")
		}
		close(done)
	}()
	<-done
}

func TestHub_SnapshotSinceReturnsBufferedHistory(t *testing.T) {
	h := NewHub(2)
	h.Publish(KindFresh, "a", "")
	h.Publish(KindCached, "b", "")
	h.Publish(KindRunStarted, "c", "") // evicts "a" from a capacity-2 ring.

	snap := h.SnapshotSince(0)
	if len(snap) != 2 {
		t.Fatalf("expected ring capacity to bound the snapshot to 2, got %d", len(snap))
	}
	if snap[0].Script != "b" || snap[1].Script != "c" {
		t.Fatalf("expected oldest-first order b,c; got %+v", snap)
	}
}
