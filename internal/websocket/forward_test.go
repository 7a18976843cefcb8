package websocket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChanges struct {
	ch      chan struct{}
	mu      sync.Mutex
	pending []string
}

func (f *fakeChanges) C() <-chan struct{} { return f.ch }

func (f *fakeChanges) Drain() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.pending
	f.pending = nil
	return out
}

func (f *fakeChanges) push(topics ...string) {
	f.mu.Lock()
	f.pending = append(f.pending, topics...)
	f.mu.Unlock()
	f.ch <- struct{}{}
}

func TestForwardBroadcastsResolvedTopics(t *testing.T) {
	hub := NewHub(nil)
	changes := &fakeChanges{ch: make(chan struct{}, 1)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Forward(context.Background(), changes, func(topic string) Message {
			if topic == "skip" {
				return Message{}
			}
			return Message{Type: TypeDomainUpdate, Data: topic}
		})
	}()

	changes.push("disks", "skip", "array")

	var got []string
	for len(got) < 2 {
		select {
		case raw := <-hub.broadcast:
			got = append(got, string(raw))
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for broadcast")
		}
	}
	assert.Equal(t, []string{
		`{"type":"domainUpdate","data":"disks"}`,
		`{"type":"domainUpdate","data":"array"}`,
	}, got)

	close(changes.ch)
	select {
	case <-done:
	case <-time.After(time.Second):
		require.Fail(t, "Forward did not return after the feed closed")
	}
}
