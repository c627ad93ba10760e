// Package notify keeps the short list of status messages shown to the user.
package notify

import (
	"sync"
	"time"
)

// Keep is how many toasts are retained.
const Keep = 3

type Toast struct {
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

// Toasts is a newest-first list capped at Keep entries. The zero value is
// ready to use.
type Toasts struct {
	mu    sync.Mutex
	items []Toast
}

func (t *Toasts) Push(msg string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append([]Toast{{Message: msg, At: time.Now().UTC()}}, t.items...)
	if len(t.items) > Keep {
		t.items = t.items[:Keep]
	}
}

// List returns a copy, newest first.
func (t *Toasts) List() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Toast{}, t.items...)
}

func (t *Toasts) Clear() {
	t.mu.Lock()
	t.items = nil
	t.mu.Unlock()
}
