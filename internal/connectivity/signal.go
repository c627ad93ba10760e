// Package connectivity tracks whether the upstream origin is reachable and
// reacts to the device coming back online.
package connectivity

import (
	"context"
	"sync"
)

// Signal is a source of online/offline state. Subscribe delivers every
// transition until ctx ends; a slow subscriber only sees the latest state.
type Signal interface {
	Online() bool
	Subscribe(ctx context.Context) <-chan bool
}

type broadcaster struct {
	mu     sync.Mutex
	online bool
	subs   map[chan bool]struct{}
}

func (b *broadcaster) Online() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.online
}

func (b *broadcaster) Subscribe(ctx context.Context) <-chan bool {
	ch := make(chan bool, 1)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[chan bool]struct{})
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// set stores v and notifies subscribers when it differs from the current
// state. It reports whether a transition happened.
func (b *broadcaster) set(v bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.online == v {
		return false
	}
	b.online = v
	for ch := range b.subs {
		select {
		case <-ch:
		default:
		}
		ch <- v
	}
	return true
}

// Static is a Signal driven by hand. Used by one-shot commands and tests.
type Static struct {
	broadcaster
}

func NewStatic(online bool) *Static {
	s := &Static{}
	s.online = online
	return s
}

// Set changes the state, notifying subscribers on a transition.
func (s *Static) Set(online bool) {
	s.set(online)
}
