package notify

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestSinkDeliversInOrder(t *testing.T) {
	var (
		mu  sync.Mutex
		got []string
	)
	s := NewSink(8, func(_ context.Context, msg string) error {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
		return nil
	}, nil, nil)
	go s.Run(context.Background())

	for _, m := range []string{"a", "b", "c"} {
		s.Emit(m)
	}
	s.Close()

	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Fatalf("unexpected delivery %v", got)
	}
}

func TestSinkEmitNeverBlocks(t *testing.T) {
	release := make(chan struct{})
	s := NewSink(1, func(context.Context, string) error {
		<-release
		return nil
	}, nil, nil)
	go s.Run(context.Background())

	done := make(chan struct{})
	go func() {
		for i := 0; i < 50; i++ {
			s.Emit("progress")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked on a slow consumer")
	}
	if s.Dropped() == 0 {
		t.Fatal("expected dropped messages to be counted")
	}
	close(release)
	s.Close()
	before := s.Dropped()
	s.Emit("late")
	if s.Dropped() != before+1 {
		t.Fatal("emit after close should count as dropped")
	}
}
