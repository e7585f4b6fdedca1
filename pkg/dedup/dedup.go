package dedup

import (
	"container/list"
	"sync"
	"time"
)

// Deduper remembers ids for a bounded time and holds at most max of them.
// Expired ids are dropped on the next mark; when the set is still full the
// least recently marked id goes first.
type Deduper struct {
	mu    sync.Mutex
	ttl   time.Duration
	max   int
	seen  map[string]*list.Element
	order *list.List // of *entry, oldest mark at the front
	now   func() time.Time
}

type entry struct {
	id  string
	exp time.Time
}

func New(ttl time.Duration, max int) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if max <= 0 {
		max = 100000
	}
	return &Deduper{
		ttl:   ttl,
		max:   max,
		seen:  make(map[string]*list.Element),
		order: list.New(),
		now:   time.Now,
	}
}

// WithClock replaces the time source. Meant for tests.
func (d *Deduper) WithClock(now func() time.Time) *Deduper {
	d.mu.Lock()
	d.now = now
	d.mu.Unlock()
	return d
}

// Seen reports whether id was marked and has not expired yet.
func (d *Deduper) Seen(id string) bool {
	if id == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveLocked(id, d.now())
}

// Mark records id. Marking an id twice only refreshes its expiry.
func (d *Deduper) Mark(id string) {
	if id == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.markLocked(id, d.now())
}

// ShouldProcess marks id and reports whether it was new.
func (d *Deduper) ShouldProcess(id string) bool {
	if id == "" {
		return true
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if d.liveLocked(id, now) {
		return false
	}
	d.markLocked(id, now)
	return true
}

// Len returns the number of tracked ids. Expired ids not yet dropped count.
func (d *Deduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

func (d *Deduper) liveLocked(id string, now time.Time) bool {
	el, ok := d.seen[id]
	return ok && now.Before(el.Value.(*entry).exp)
}

func (d *Deduper) markLocked(id string, now time.Time) {
	exp := now.Add(d.ttl)
	if el, ok := d.seen[id]; ok {
		el.Value.(*entry).exp = exp
		d.order.MoveToBack(el)
	} else {
		d.seen[id] = d.order.PushBack(&entry{id: id, exp: exp})
	}

	for front := d.order.Front(); front != nil; front = d.order.Front() {
		e := front.Value.(*entry)
		if len(d.seen) <= d.max && now.Before(e.exp) {
			return
		}
		d.order.Remove(front)
		delete(d.seen, e.id)
	}
}
