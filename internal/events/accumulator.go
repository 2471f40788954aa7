package events

import "sync"

// entry is one captured (frame, type, payload) triple. Pool-allocated so a
// busy bus doesn't churn the allocator every frame.
type entry struct {
	frame   uint64
	typ     TypeID
	payload any
}

var entryPool = sync.Pool{New: func() any { return &entry{} }}

func newEntry(frame uint64, typ TypeID, payload any) *entry {
	e := entryPool.Get().(*entry)
	e.frame, e.typ, e.payload = frame, typ, payload
	return e
}

func releaseEntry(e *entry) {
	e.payload = nil
	entryPool.Put(e)
}

// Accumulator snapshots a source bus's current-frame events into a ring
// buffer spanning maxHistoryFrames, tagged by frame index and type. It is
// the flight-recorder/replay backbone: FlushTo replays entries newer than a
// caller-supplied tick into another bus's current buffer.
type Accumulator struct {
	mu       sync.Mutex
	capacity int
	ring     []*entry
	head     int
	size     int
}

// NewAccumulator builds an accumulator retaining at most maxHistoryFrames
// worth of captured entries (capacity is a frame's-worth heuristic, not a
// hard per-frame cap — bursty frames may hold more than one frame's
// entries live in the ring at once).
func NewAccumulator(maxHistoryFrames int) *Accumulator {
	if maxHistoryFrames <= 0 {
		maxHistoryFrames = 1
	}
	return &Accumulator{
		capacity: maxHistoryFrames * 64,
		ring:     make([]*entry, maxHistoryFrames*64),
	}
}

// Capture snapshots every event active on src this cycle, tagging each with
// src's current frame tick.
func (a *Accumulator) Capture(src *Bus) {
	frame := src.Tick()
	snap := src.snapshotActive()
	a.mu.Lock()
	defer a.mu.Unlock()
	for typ, payloads := range snap {
		for _, p := range payloads {
			a.pushLocked(newEntry(frame, typ, p))
		}
	}
}

func (a *Accumulator) pushLocked(e *entry) {
	if a.size == a.capacity {
		old := a.ring[a.head]
		if old != nil {
			releaseEntry(old)
		}
	} else {
		a.size++
	}
	a.ring[a.head] = e
	a.head = (a.head + 1) % a.capacity
}

// FlushTo appends every captured entry with frame > lastSeenTick into
// target's current buffer (append, never overwrite), preserving the order
// entries were captured in.
func (a *Accumulator) FlushTo(target *Bus, lastSeenTick uint64) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	type ordered struct {
		frame uint64
		typ   TypeID
		p     any
	}
	pending := make([]ordered, 0, a.size)
	for i := 0; i < a.size; i++ {
		idx := (a.head - a.size + i + a.capacity) % a.capacity
		e := a.ring[idx]
		if e == nil || e.frame <= lastSeenTick {
			continue
		}
		pending = append(pending, ordered{e.frame, e.typ, e.payload})
	}
	for _, o := range pending {
		target.PublishRaw(o.typ, o.p)
	}
	return len(pending)
}

// Len reports how many entries are currently retained.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.size
}
