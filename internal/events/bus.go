// Package events implements the Event Bus and Event Accumulator: the
// double-buffered publish/consume channel modules use to communicate
// same-frame facts (entity created, component added, gameplay events)
// without coupling to each other directly.
package events

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"simcore/internal/kernel"
)

// TypeID identifies a registered event type. Event types are not bounded to
// 256 like component types — the bus tracks "non-empty this cycle"
// membership with a sparse bitmap rather than a fixed-width mask.
type TypeID = kernel.EventTypeID

// channel is the per-event-type double buffer: current is the write target
// for this frame's Publish calls, read is what Consume sees after the last
// SwapBuffers. Payloads are stored as `any` so the Event Accumulator can
// move entries between buses without knowing each event type's Go type —
// Publish/Consume restore static typing at the call site via generics.
type channel struct {
	mu      sync.Mutex
	current []any
	read    []any
}

func (c *channel) publish(v any) {
	c.mu.Lock()
	c.current = append(c.current, v)
	c.mu.Unlock()
}

func (c *channel) swap() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.read, c.current = c.current, c.read[:0]
}

func (c *channel) readLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.read)
}

func (c *channel) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current[:0]
	c.read = c.read[:0]
}

func (c *channel) snapshotRead() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]any, len(c.read))
	copy(out, c.read)
	return out
}

// Bus is the per-repository event hub: one channel per registered event
// type, plus a sparse set of the type-ids whose read buffer is non-empty
// this cycle (activeIDs), refreshed on every SwapBuffers.
type Bus struct {
	mu        sync.RWMutex
	channels  map[TypeID]*channel
	activeIDs *roaring.Bitmap
	frameTick uint64
}

func NewBus() *Bus {
	return &Bus{
		channels:  make(map[TypeID]*channel),
		activeIDs: roaring.New(),
	}
}

func (b *Bus) channelFor(id TypeID) *channel {
	b.mu.RLock()
	if ch, ok := b.channels[id]; ok {
		b.mu.RUnlock()
		return ch
	}
	b.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.channels[id]; ok {
		return ch
	}
	ch := &channel{}
	b.channels[id] = ch
	return ch
}

// Publish appends event to id's current buffer. Visible to Consume only
// after the next SwapBuffers.
func Publish[T any](b *Bus, id TypeID, event T) {
	b.channelFor(id).publish(event)
}

// PublishRaw is the untyped counterpart used by the Event Accumulator's
// flush path, which moves payloads between buses without static type info.
func (b *Bus) PublishRaw(id TypeID, event any) {
	b.channelFor(id).publish(event)
}

// Consume returns the slice of events of type id visible this frame (i.e.
// promoted by the most recent SwapBuffers), type-asserted back to T. A
// payload that fails the assertion (wrong T passed by the caller) is
// silently skipped rather than panicking, mirroring the teacher's
// defensive-but-non-fatal event handling.
func Consume[T any](b *Bus, id TypeID) []T {
	raw := b.channelFor(id).snapshotRead()
	out := make([]T, 0, len(raw))
	for _, v := range raw {
		if tv, ok := v.(T); ok {
			out = append(out, tv)
		}
	}
	return out
}

// SwapBuffers atomically promotes every channel's current buffer to read,
// clears current, and recomputes activeIDs to be exactly the type-ids whose
// read buffer is now non-empty.
func (b *Bus) SwapBuffers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.frameTick++
	active := roaring.New()
	for id, ch := range b.channels {
		ch.swap()
		if ch.readLen() > 0 {
			active.Add(uint32(id))
		}
	}
	b.activeIDs = active
}

// ActiveEventIDs reports every event type with a non-empty read buffer this
// cycle. Reactive scheduler triggers poll this to decide whether a module
// watching a given event type should run.
func (b *Bus) ActiveEventIDs() []TypeID {
	b.mu.RLock()
	defer b.mu.RUnlock()
	arr := b.activeIDs.ToArray()
	out := make([]TypeID, len(arr))
	for i, v := range arr {
		out[i] = TypeID(v)
	}
	return out
}

func (b *Bus) IsActive(id TypeID) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.activeIDs.Contains(uint32(id))
}

// Tick returns the number of SwapBuffers calls so far — the bus's own frame
// counter, used by the Event Accumulator to tag entries.
func (b *Bus) Tick() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.frameTick
}

// snapshotActive returns, for every type with a non-empty read buffer, a
// copy of that buffer — the raw material the Event Accumulator captures
// once per frame.
func (b *Bus) snapshotActive() map[TypeID][]any {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[TypeID][]any, b.activeIDs.GetCardinality())
	for _, id32 := range b.activeIDs.ToArray() {
		id := TypeID(id32)
		if ch, ok := b.channels[id]; ok {
			out[id] = ch.snapshotRead()
		}
	}
	return out
}

// Reset clears every channel and the active set. The OnDemand and Shared
// providers call it next to Repository.SoftClear when a replica is returned
// to the pool.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.channels {
		ch.clear()
	}
	b.activeIDs = roaring.New()
	b.frameTick = 0
}
