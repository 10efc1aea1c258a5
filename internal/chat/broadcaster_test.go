package chat

import (
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestBroadcasterToRoomAll(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r, zap.NewNop())
	a := newStub("s1", "alice")
	c := newStub("s2", "carol")
	outsider := newStub("s3", "oscar")
	r.Join("lobby", a)
	r.Join("lobby", c)
	r.Join("other", outsider)

	if n := b.ToRoomAll("lobby", presenceFrame("hello")); n != 2 {
		t.Fatalf("expected 2 deliveries, got %d", n)
	}
	if len(a.received()) != 1 || len(c.received()) != 1 {
		t.Fatalf("expected every member to receive exactly one frame")
	}
	if len(outsider.received()) != 0 {
		t.Fatalf("member of another room received the frame")
	}
}

func TestBroadcasterToRoomExceptSelf(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r, zap.NewNop())
	a := newStub("s1", "alice")
	c := newStub("s2", "carol")
	r.Join("lobby", a)
	r.Join("lobby", c)

	if n := b.ToRoomExceptSelf("lobby", presenceFrame("alice has joined"), a); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}
	if len(a.received()) != 0 {
		t.Fatalf("excluded member received the frame")
	}
	if len(c.received()) != 1 {
		t.Fatalf("expected other member to receive the frame")
	}
}

func TestBroadcasterCountsDroppedDeliveries(t *testing.T) {
	r := NewRegistry()
	b := NewBroadcaster(r, zap.NewNop())
	ok := newStub("s1", "alice")
	slow := &stubMember{id: "s2", identity: "bob", reject: true}
	r.Join("lobby", ok)
	r.Join("lobby", slow)

	if n := b.ToRoomAll("lobby", presenceFrame("x")); n != 1 {
		t.Fatalf("expected rejected delivery to be skipped, got %d", n)
	}
	if b.ToMember(slow, presenceFrame("x")) {
		t.Fatalf("expected direct delivery to report failure")
	}
}

func TestBroadcasterEmptyRoom(t *testing.T) {
	b := NewBroadcaster(NewRegistry(), nil)
	if n := b.ToRoomAll("nobody", presenceFrame("x")); n != 0 {
		t.Fatalf("expected 0 deliveries, got %d", n)
	}
}

func TestSequenceSerializesPerRoom(t *testing.T) {
	b := NewBroadcaster(NewRegistry(), zap.NewNop())

	var mu sync.Mutex
	active, maxActive := 0, 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Sequence("lobby", func() {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most one concurrent section per room, got %d", maxActive)
	}
	if len(b.locks.locks) != 0 {
		t.Fatalf("expected room locks to be released, got %d", len(b.locks.locks))
	}
}

func TestSequenceDoesNotBlockOtherRooms(t *testing.T) {
	b := NewBroadcaster(NewRegistry(), zap.NewNop())
	release := make(chan struct{})
	entered := make(chan struct{})

	go b.Sequence("a", func() {
		close(entered)
		<-release
	})
	<-entered

	done := make(chan struct{})
	go func() {
		b.Sequence("b", func() {})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("room b blocked behind room a")
	}
	close(release)
}
