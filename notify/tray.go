// Package notify surfaces synchronization outcomes to users and developers.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"todo-api/tasksync"
)

// DefaultTTL is how long a toast stays visible.
const DefaultTTL = 4 * time.Second

const subscriberBuffer = 8

// Toast is a transient user-facing notification.
type Toast struct {
	ID        string         `json:"id"`
	Level     tasksync.Level `json:"type"`
	Title     string         `json:"title"`
	CreatedAt time.Time      `json:"createdAt"`
}

// Tray keeps the visible toasts of one user, newest first.
type Tray struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	toasts []Toast
	timers map[string]*time.Timer
	subs   map[chan Toast]struct{}
}

// NewTray creates a Tray whose pushed notices expire after ttl. A ttl of zero
// or less keeps toasts until they are cleared.
func NewTray(ttl time.Duration) *Tray {
	return &Tray{ttl: ttl, now: time.Now, timers: make(map[string]*time.Timer), subs: make(map[chan Toast]struct{})}
}

// Push adds a toast and schedules its dismissal after ttl.
func (t *Tray) Push(title string, level tasksync.Level, ttl time.Duration) Toast {
	if level == "" {
		level = tasksync.LevelInfo
	}
	toast := Toast{ID: uuid.NewString(), Level: level, Title: title, CreatedAt: t.now()}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.toasts = append([]Toast{toast}, t.toasts...)
	if ttl > 0 {
		id := toast.ID
		t.timers[id] = time.AfterFunc(ttl, func() { t.Dismiss(id) })
	}
	for ch := range t.subs {
		select {
		case ch <- toast:
		default:
		}
	}
	return toast
}

// Subscribe returns a channel receiving every toast pushed from now on and a
// func that stops the subscription. A subscriber that falls behind misses
// toasts rather than blocking Push.
func (t *Tray) Subscribe() (<-chan Toast, func()) {
	ch := make(chan Toast, subscriberBuffer)
	t.mu.Lock()
	t.subs[ch] = struct{}{}
	t.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, ch)
			t.mu.Unlock()
		})
	}
}

// Dismiss removes a toast by id.
func (t *Tray) Dismiss(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if timer, ok := t.timers[id]; ok {
		timer.Stop()
		delete(t.timers, id)
	}
	for i, toast := range t.toasts {
		if toast.ID == id {
			t.toasts = append(t.toasts[:i:i], t.toasts[i+1:]...)
			return
		}
	}
}

// List returns the visible toasts, newest first.
func (t *Tray) List() []Toast {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Toast, len(t.toasts))
	copy(out, t.toasts)
	return out
}

// Clear removes every toast.
func (t *Tray) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, timer := range t.timers {
		timer.Stop()
		delete(t.timers, id)
	}
	t.toasts = nil
}

// Report turns user-initiated outcomes into toasts. Successful loads are not
// shown.
func (t *Tray) Report(_ context.Context, n tasksync.Notice) {
	if n.Op == tasksync.OpLoad && n.Level != tasksync.LevelError {
		return
	}
	t.Push(n.Title(), n.Level, t.ttl)
}
