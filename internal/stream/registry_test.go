package stream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func collect(ch <-chan []byte) []string {
	var out []string
	for chunk := range ch {
		out = append(out, string(chunk))
	}
	return out
}

func TestRegistry_ReplayFromStart(t *testing.T) {
	r := NewRegistry(time.Minute)
	s, err := r.Create("s1")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for _, chunk := range []string{"a", "b", "c"} {
		if err := s.Write([]byte(chunk)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	// Late subscriber sees everything written before it attached.
	ch, err := r.Subscribe(context.Background(), "s1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := s.Write([]byte("d")); err != nil {
		t.Fatalf("write: %v", err)
	}
	r.Finish("s1")

	got := collect(ch)
	want := []string{"a", "b", "c", "d"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestRegistry_ConcurrentSubscribersSeeSameSequence(t *testing.T) {
	r := NewRegistry(time.Minute)
	s, _ := r.Create("s1")

	const subscribers = 4
	results := make([][]string, subscribers)
	var wg sync.WaitGroup
	for i := 0; i < subscribers; i++ {
		ch, err := r.Subscribe(context.Background(), "s1")
		if err != nil {
			t.Fatalf("subscribe: %v", err)
		}
		wg.Add(1)
		go func(i int, ch <-chan []byte) {
			defer wg.Done()
			results[i] = collect(ch)
		}(i, ch)
	}

	chunks := []string{"one", "two", "three", "four", "five"}
	for _, chunk := range chunks {
		if err := s.Write([]byte(chunk)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	r.Finish("s1")
	wg.Wait()

	for i, got := range results {
		if len(got) != len(chunks) {
			t.Fatalf("subscriber %d: expected %d chunks, got %v", i, len(chunks), got)
		}
		for j := range chunks {
			if got[j] != chunks[j] {
				t.Errorf("subscriber %d diverged at %d: %q != %q", i, j, got[j], chunks[j])
			}
		}
	}
}

func TestRegistry_SubscribeAfterFinish(t *testing.T) {
	r := NewRegistry(time.Minute)
	s, _ := r.Create("s1")
	s.Write([]byte("x"))
	s.Write([]byte("y"))
	r.Finish("s1")

	ch, err := r.Subscribe(context.Background(), "s1")
	if err != nil {
		t.Fatalf("subscribe after finish: %v", err)
	}
	got := collect(ch)
	if len(got) != 2 || got[0] != "x" || got[1] != "y" {
		t.Errorf("unexpected replay %v", got)
	}
}

func TestRegistry_DuplicateCreate(t *testing.T) {
	r := NewRegistry(time.Minute)
	if _, err := r.Create("s1"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := r.Create("s1"); !errors.Is(err, ErrDuplicateStream) {
		t.Errorf("expected ErrDuplicateStream, got %v", err)
	}
}

func TestRegistry_UnknownStream(t *testing.T) {
	r := NewRegistry(time.Minute)
	if _, err := r.Subscribe(context.Background(), "nope"); !errors.Is(err, ErrNoSuchStream) {
		t.Errorf("expected ErrNoSuchStream, got %v", err)
	}
}

func TestStream_WriteAfterClose(t *testing.T) {
	r := NewRegistry(time.Minute)
	s, _ := r.Create("s1")
	r.Finish("s1")
	if err := s.Write([]byte("late")); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
}

func TestRegistry_SubscriberCancellation(t *testing.T) {
	r := NewRegistry(time.Minute)
	s, _ := r.Create("s1")
	s.Write([]byte("a"))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := r.Subscribe(ctx, "s1")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	<-ch
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("expected channel closed after cancellation")
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber did not terminate after cancellation")
	}
}

func TestRegistry_SweepExpiry(t *testing.T) {
	r := NewRegistry(50 * time.Millisecond)
	r.Create("done")
	r.Create("live")
	live, _ := r.Create("open")
	_ = live
	r.Finish("done")

	// Retention has not elapsed yet.
	if removed := r.Sweep(time.Now()); removed != 0 {
		t.Errorf("expected no sweep before retention, removed %d", removed)
	}

	if removed := r.Sweep(time.Now().Add(time.Second)); removed != 1 {
		t.Errorf("expected 1 swept, got %d", removed)
	}
	if r.Has("done") {
		t.Error("completed stream should be gone")
	}
	if !r.Has("live") || !r.Has("open") {
		t.Error("live streams must survive sweeps")
	}
}
