package kernel

// DefaultChunkSize is the number of slots packed into one chunk before a
// fresh chunk is started. Chosen so common component sizes (16-64 bytes)
// keep a chunk in the neighborhood of the ~64KiB/chunk target from the
// system overview; wide components should register with a smaller size
// (see the chunkSize argument of Register).
const DefaultChunkSize = 1024

// chunk is one contiguous block of same-type component storage and the
// unit of dirty-tracking and bulk synchronization. version is bumped on any
// write through a versioned API; reads never touch it. entities and data
// are parallel dense slices: entities[i] is the entity index occupying
// data[i], enabling O(1) swap-remove.
type chunk[T any] struct {
	version  uint32
	entities []EntityIndex
	data     []T
}

func newChunk[T any](capacity int) *chunk[T] {
	return &chunk[T]{
		entities: make([]EntityIndex, 0, capacity),
		data:     make([]T, 0, capacity),
	}
}

func (c *chunk[T]) len() int { return len(c.data) }

func (c *chunk[T]) full(capacity int) bool { return len(c.data) >= capacity }

// bumpVersion raises the chunk's version to at least v; a no-op for v == 0,
// which is the "indexer" trusted-mutation path that must not mark the chunk
// dirty (see Table.GetRW).
func (c *chunk[T]) bumpVersion(v uint32) {
	if v != 0 && v > c.version {
		c.version = v
	}
}

// append adds entity/value as a new dense slot and returns its slot index.
func (c *chunk[T]) append(entity EntityIndex, value T) int {
	slot := len(c.data)
	c.entities = append(c.entities, entity)
	c.data = append(c.data, value)
	return slot
}

// swapRemove removes the slot, moving the last occupant into its place.
// Returns the entity that was moved into slot with ok=true; returns 0 with
// ok=false when slot was already the last one (nothing moved) or is out of
// range.
func (c *chunk[T]) swapRemove(slot int) (moved EntityIndex, ok bool) {
	last := len(c.data) - 1
	if slot < 0 || slot > last {
		return 0, false
	}
	movedEntity := c.entities[last]
	c.data[slot] = c.data[last]
	c.entities[slot] = movedEntity
	c.data = c.data[:last]
	c.entities = c.entities[:last]
	if last == slot {
		return 0, false
	}
	return movedEntity, true
}
