// Package notify is the in-process notification bus used for observability.
//
// Publishing is synchronous: Publish returns a Delivery, and Delivery.Sync
// invokes every listener subscribed at that moment, in subscription order, on
// the calling goroutine. Nothing is queued, persisted or replayed, and no
// component relies on notifications for control flow.
package notify

import (
	"sync"

	"github.com/aretw0/kiln/pkg/core"
)

// Name identifies a kind of notification.
type Name string

const (
	CachedContentUsed    Name = "cached_content_used"
	SnapshotCreated      Name = "snapshot_created"
	StageStarted         Name = "stage_started"
	StageEnded           Name = "stage_ended"
	StageAborted         Name = "stage_aborted"
	CompilationSuspended Name = "compilation_suspended"
	CompilationStarted   Name = "compilation_started"
	CompilationEnded     Name = "compilation_ended"
)

// Event is one notification. Which fields are set depends on Name:
//
//	cached_content_used    Rep
//	snapshot_created       Rep, Snapshot
//	stage_*                Stage (and Err for stage_aborted)
//	compilation_suspended  Rep, Dependency, Snapshot
//	compilation_started    Rep
//	compilation_ended      Rep
type Event struct {
	Name       Name
	Rep        *core.Rep
	Dependency *core.Rep
	Snapshot   string
	Stage      string
	Err        error
}

// Listener receives events.
type Listener func(Event)

type subscription struct {
	id       uint64
	name     Name // empty matches every event
	listener Listener
}

// Center dispatches events to listeners. One center is created per
// compilation and handed to every component that publishes or listens.
// A nil *Center accepts publications and drops them.
type Center struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID uint64
}

// NewCenter creates an empty notification center.
func NewCenter() *Center {
	return &Center{}
}

// Subscribe registers listener for events named name and returns a function
// that removes it.
func (c *Center) Subscribe(name Name, listener Listener) (unsubscribe func()) {
	return c.subscribe(name, listener)
}

// SubscribeAll registers listener for every event.
func (c *Center) SubscribeAll(listener Listener) (unsubscribe func()) {
	return c.subscribe("", listener)
}

func (c *Center) subscribe(name Name, listener Listener) func() {
	if c == nil || listener == nil {
		return func() {}
	}

	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs = append(c.subs, subscription{id: id, name: name, listener: listener})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { c.unsubscribe(id) })
	}
}

func (c *Center) unsubscribe(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, s := range c.subs {
		if s.id == id {
			c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
			return
		}
	}
}

// Publish prepares e for delivery. Listeners run when Sync is called.
func (c *Center) Publish(e Event) *Delivery {
	return &Delivery{center: c, event: e}
}

// Len returns the number of active subscriptions.
func (c *Center) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.subs)
}

func (c *Center) listenersFor(name Name) []Listener {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Listener, 0, len(c.subs))
	for _, s := range c.subs {
		if s.name == "" || s.name == name {
			out = append(out, s.listener)
		}
	}
	return out
}

// Delivery is a published event waiting to be delivered.
type Delivery struct {
	center *Center
	event  Event
}

// Sync invokes every listener currently subscribed to the event, in
// subscription order, and returns once all of them have run. Listeners added
// or removed by a listener take effect from the next delivery.
func (d *Delivery) Sync() {
	if d == nil || d.center == nil {
		return
	}
	for _, l := range d.center.listenersFor(d.event.Name) {
		l(d.event)
	}
}
