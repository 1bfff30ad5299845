package agent

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/mattjoyce/sharedstate/internal/document"
	"github.com/mattjoyce/sharedstate/internal/protocol"
)

// DefaultThreadID is used when a request names no thread.
const DefaultThreadID = "default"

// Thread owns one conversation's document and message history. Its fields
// may only be touched while holding the thread's run slot.
type Thread struct {
	ID       string
	document json.RawMessage
	messages []protocol.Message

	slot chan struct{}
}

func newThread(id string, kind document.Kind) *Thread {
	return &Thread{
		ID:       id,
		document: kind.Default(),
		messages: []protocol.Message{},
		slot:     make(chan struct{}, 1),
	}
}

// Document returns the current document. Callers must hold the run slot.
func (t *Thread) Document() json.RawMessage { return t.document }

// Messages returns a copy of the message history. Callers must hold the
// run slot.
func (t *Thread) Messages() []protocol.Message {
	out := make([]protocol.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Registry maps thread identifiers to their owned state. Runs on the same
// thread are serialized; runs on different threads proceed independently.
type Registry struct {
	kind document.Kind

	mu      sync.Mutex
	threads map[string]*Thread
}

func NewRegistry(kind document.Kind) *Registry {
	return &Registry{kind: kind, threads: make(map[string]*Thread)}
}

// Acquire waits for exclusive use of the thread, creating it on first use.
// A caller still waiting when the thread is reset is handed the fresh
// thread. The returned release func must be called exactly once.
func (r *Registry) Acquire(ctx context.Context, threadID string) (*Thread, func(), error) {
	if threadID == "" {
		threadID = DefaultThreadID
	}
	for {
		th := r.lookup(threadID)
		select {
		case th.slot <- struct{}{}:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
		r.mu.Lock()
		current := r.threads[threadID] == th
		r.mu.Unlock()
		if !current {
			<-th.slot
			continue
		}
		var once sync.Once
		release := func() {
			once.Do(func() { <-th.slot })
		}
		return th, release, nil
	}
}

func (r *Registry) lookup(threadID string) *Thread {
	r.mu.Lock()
	defer r.mu.Unlock()
	th, ok := r.threads[threadID]
	if !ok {
		th = newThread(threadID, r.kind)
		r.threads[threadID] = th
	}
	return th
}

// Reset discards the thread's document and history. A run already holding
// the thread finishes against the discarded state; runs waiting on it and
// any later run start fresh. It reports whether the thread existed.
func (r *Registry) Reset(threadID string) bool {
	if threadID == "" {
		threadID = DefaultThreadID
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.threads[threadID]
	delete(r.threads, threadID)
	return ok
}

// Len returns the number of live threads.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.threads)
}
