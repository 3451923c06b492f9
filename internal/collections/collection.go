// Package collections implements the two bounded, FIFO-evicting in-memory
// stores — Devices and Diagnostics — plus their json:api rendering.
//
// Other bounded maps in this tree reach for otter/xsync, but both are
// LRU/cost-based: an update-in-place there is free to change eviction
// order. These two stores require the opposite — eviction policy is
// strictly oldest-first by insertion, and adding an existing id updates in
// place without reordering the eviction list — which neither otter nor a
// plain xsync.Map expresses on its own. This file is therefore a small
// hand-rolled ordered map (a slice FIFO of ids alongside the id->item map),
// a documented, deliberate exception to "prefer a library"; see DESIGN.md.
package collections

import (
	"sync"
	"time"
)

// Item is anything a Collection can hold: a Device or a Diagnostic.
// Attributes returns the type-specific fields to render under json:api's
// "attributes" key; it must not include id/type/created/updated, which the
// Collection adds itself.
type Item interface {
	TypeName() string
	Attributes() map[string]any
}

type record struct {
	item      Item
	createdAt time.Time
	updatedAt time.Time
}

// Collection is a bounded, FIFO-evicting, json:api-renderable store.
type Collection struct {
	mu         sync.Mutex
	maxSize    int
	order      []string // oldest first
	items      map[string]*record
	typeCounts map[string]int
}

// New returns an empty Collection bounded to maxSize items.
func New(maxSize int) *Collection {
	return &Collection{
		maxSize:    maxSize,
		items:      make(map[string]*record),
		typeCounts: make(map[string]int),
	}
}

// Add inserts or replaces the item at id. If id already exists, it is
// updated in place: updatedAt advances but insertion order (and thus
// eviction order) is untouched. If id is new and the collection is at
// capacity, the oldest entry is evicted first.
func (c *Collection) Add(id string, item Item) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := time.Now()

	if existing, ok := c.items[id]; ok {
		c.typeCounts[existing.item.TypeName()]--
		existing.item = item
		existing.updatedAt = now
		c.typeCounts[item.TypeName()]++
		return
	}

	if c.maxSize > 0 && len(c.order) >= c.maxSize {
		c.evictOldestLocked()
	}
	c.order = append(c.order, id)
	c.items[id] = &record{item: item, createdAt: now, updatedAt: now}
	c.typeCounts[item.TypeName()]++
}

func (c *Collection) evictOldestLocked() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	if rec, ok := c.items[oldest]; ok {
		c.typeCounts[rec.item.TypeName()]--
		delete(c.items, oldest)
	}
}

// Get returns the item at id along with its timestamps.
func (c *Collection) Get(id string) (item Item, createdAt, updatedAt time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.items[id]
	if !ok {
		return nil, time.Time{}, time.Time{}, false
	}
	return rec.item, rec.createdAt, rec.updatedAt, true
}

// Size returns the current item count.
func (c *Collection) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.order)
}

// Clear drops every item and resets all counters. A second Clear on an
// already-empty collection is a no-op.
func (c *Collection) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order = nil
	c.items = make(map[string]*record)
	c.typeCounts = make(map[string]int)
}

// snapshotLocked returns items in FIFO (insertion) order, for rendering.
func (c *Collection) snapshotLocked() []struct {
	id  string
	rec *record
} {
	out := make([]struct {
		id  string
		rec *record
	}, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, struct {
			id  string
			rec *record
		}{id: id, rec: c.items[id]})
	}
	return out
}
