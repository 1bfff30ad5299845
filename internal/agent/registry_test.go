package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mattjoyce/sharedstate/internal/document"
	"github.com/mattjoyce/sharedstate/internal/protocol"
)

func TestRegistryCreatesOnFirstUse(t *testing.T) {
	r := NewRegistry(document.ThemeKind)
	th, release, err := r.Acquire(context.Background(), "")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	if th.ID != DefaultThreadID {
		t.Fatalf("thread id = %q, want %q", th.ID, DefaultThreadID)
	}
	if string(th.Document()) != string(document.ThemeKind.Default()) {
		t.Fatalf("new thread should start from the default document")
	}
	if r.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", r.Len())
	}
}

func TestRegistryAcquireHonoursContext(t *testing.T) {
	r := NewRegistry(document.RecipeKind)
	_, release, err := r.Acquire(context.Background(), "t")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, _, err := r.Acquire(ctx, "t"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while held, got %v", err)
	}

	// Other threads are independent.
	_, releaseOther, err := r.Acquire(context.Background(), "other")
	if err != nil {
		t.Fatalf("acquire other thread: %v", err)
	}
	releaseOther()

	release()
	release() // second call is a no-op
	_, release2, err := r.Acquire(context.Background(), "t")
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	release2()
}

func TestRegistryReset(t *testing.T) {
	r := NewRegistry(document.RecipeKind)
	if r.Reset("missing") {
		t.Fatalf("reset of unknown thread should report false")
	}
	th, release, _ := r.Acquire(context.Background(), "t")
	th.document = []byte(`{"title":"x"}`)
	release()

	if !r.Reset("t") {
		t.Fatalf("reset should report existing thread")
	}
	th2, release2, _ := r.Acquire(context.Background(), "t")
	defer release2()
	if th2 == th {
		t.Fatalf("reset must discard the thread")
	}
}

func TestRegistryWaiterAfterResetGetsFreshThread(t *testing.T) {
	r := NewRegistry(document.RecipeKind)
	old, release, err := r.Acquire(context.Background(), "t")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	old.document = []byte(`{"title":"stale"}`)
	old.messages = append(old.messages, protocol.Message{ID: "m1", Role: "user", Content: "hi"})

	type acquired struct {
		th      *Thread
		release func()
		err     error
	}
	got := make(chan acquired, 1)
	go func() {
		th, rel, err := r.Acquire(context.Background(), "t")
		got <- acquired{th, rel, err}
	}()

	// Give the waiter time to block on the held thread.
	time.Sleep(20 * time.Millisecond)
	r.Reset("t")
	release()

	var a acquired
	select {
	case a = <-got:
	case <-time.After(time.Second):
		t.Fatalf("waiter never acquired the thread")
	}
	if a.err != nil {
		t.Fatalf("waiter acquire: %v", a.err)
	}
	defer a.release()

	if a.th == old {
		t.Fatalf("waiter was handed the discarded thread")
	}
	if len(a.th.Messages()) != 0 {
		t.Fatalf("fresh thread has %d messages, want 0", len(a.th.Messages()))
	}
	if string(a.th.Document()) != string(document.RecipeKind.Default()) {
		t.Fatalf("fresh thread should start from the default document")
	}
	if r.Len() != 1 {
		t.Fatalf("registry len = %d, want 1", r.Len())
	}
}
