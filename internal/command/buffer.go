// Package command implements the deferred-write Command Buffer: a
// thread-local record-then-replay log of structural and state changes that
// a module records into during its turn, and the scheduler plays back onto
// the live repository in a deterministic order once the module's turn ends.
package command

import (
	"fmt"
	"sync"

	"simcore/internal/events"
	"simcore/internal/kernel"
)

// EntityRef names an entity a recorded command targets. A command can
// target either an entity that already existed when the buffer started
// recording (Entity set, Local unused) or one created earlier in the same
// buffer (Local set) — the latter isn't resolved to a real handle until
// Playback runs the matching create-entity op, which is what lets "add a
// component to the entity I just created this tick" work.
type EntityRef struct {
	local    int
	hasLocal bool
	entity   kernel.Entity
}

// Ref wraps an already-valid entity handle for use as a command target.
func Ref(e kernel.Entity) EntityRef { return EntityRef{entity: e} }

func (r EntityRef) resolve(ctx *playbackContext) (kernel.Entity, error) {
	if !r.hasLocal {
		return r.entity, nil
	}
	e, ok := ctx.localToEntity[r.local]
	if !ok {
		return kernel.Entity{}, fmt.Errorf("command: local entity %d not yet created in this buffer", r.local)
	}
	return e, nil
}

type op func(ctx *playbackContext) error

type playbackContext struct {
	repo          *kernel.Repository
	bus           *events.Bus
	localToEntity map[int]kernel.Entity
}

// Buffer is a single-threaded record target; the scheduler gives each
// module its own Buffer for the duration of one turn. Recording never
// touches the repository — all ops run later, during Playback.
type Buffer struct {
	mu         sync.Mutex
	ops        []op
	nextLocal  int
	failedLast []error
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

func (b *Buffer) record(o op) {
	b.mu.Lock()
	b.ops = append(b.ops, o)
	b.mu.Unlock()
}

// CreateEntity records entity creation and returns a ref usable by later
// commands in the same buffer, before the entity actually exists.
func (b *Buffer) CreateEntity() EntityRef {
	b.mu.Lock()
	local := b.nextLocal
	b.nextLocal++
	b.mu.Unlock()

	b.record(func(ctx *playbackContext) error {
		ctx.localToEntity[local] = ctx.repo.CreateEntity()
		return nil
	})
	return EntityRef{local: local, hasLocal: true}
}

// DestroyEntity records destruction of the entity named by ref.
func (b *Buffer) DestroyEntity(ref EntityRef) {
	b.record(func(ctx *playbackContext) error {
		e, err := ref.resolve(ctx)
		if err != nil {
			return err
		}
		return ctx.repo.DestroyEntity(e)
	})
}

// AddComponent records attaching a new component value to ref's entity.
func AddComponent[T any](b *Buffer, ref EntityRef, id kernel.ComponentTypeID, value T) {
	b.record(func(ctx *playbackContext) error {
		e, err := ref.resolve(ctx)
		if err != nil {
			return err
		}
		return kernel.AddComponent(ctx.repo, id, e, value)
	})
}

// SetComponent records an upsert of a component value on ref's entity.
func SetComponent[T any](b *Buffer, ref EntityRef, id kernel.ComponentTypeID, value T) {
	b.record(func(ctx *playbackContext) error {
		e, err := ref.resolve(ctx)
		if err != nil {
			return err
		}
		return kernel.SetComponent(ctx.repo, id, e, value)
	})
}

// SetLifecycle records a lifecycle-state transition on ref's entity.
func (b *Buffer) SetLifecycle(ref EntityRef, l kernel.Lifecycle) {
	b.record(func(ctx *playbackContext) error {
		e, err := ref.resolve(ctx)
		if err != nil {
			return err
		}
		return ctx.repo.SetLifecycle(e, l)
	})
}

// RemoveComponent records detaching a component type from ref's entity.
func (b *Buffer) RemoveComponent(ref EntityRef, id kernel.ComponentTypeID) {
	b.record(func(ctx *playbackContext) error {
		e, err := ref.resolve(ctx)
		if err != nil {
			return err
		}
		return ctx.repo.RemoveComponent(id, e)
	})
}

// PublishEvent records publishing event to the live event bus under typ.
func PublishEvent[T any](b *Buffer, typ events.TypeID, event T) {
	b.record(func(ctx *playbackContext) error {
		events.Publish(ctx.bus, typ, event)
		return nil
	})
}

// Playback applies every recorded op, in recorded order, against repo and
// bus. A failed step is recorded and skipped rather than aborting the rest
// of the batch — one module's bad write must not poison another's. The
// buffer is left empty and ready to record again.
func (b *Buffer) Playback(repo *kernel.Repository, bus *events.Bus) []error {
	b.mu.Lock()
	ops := b.ops
	b.ops = nil
	b.nextLocal = 0
	b.mu.Unlock()

	ctx := &playbackContext{repo: repo, bus: bus, localToEntity: make(map[int]kernel.Entity)}
	var failures []error
	for _, o := range ops {
		if err := o(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	b.mu.Lock()
	b.failedLast = failures
	b.mu.Unlock()
	return failures
}

// LastFailures returns the errors from the most recent Playback call, kept
// around for diagnostics/metrics consumers that poll rather than capture
// Playback's return value directly.
func (b *Buffer) LastFailures() []error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failedLast
}

// Len reports how many ops are currently queued (not yet played back).
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ops)
}

// PlaybackAllInOrder plays back buffers in the given slice order — the
// deterministic per-frame ordering the scheduler relies on: all modules in
// registration order, synchronous/frame-synced first, then completed async
// modules in completion order keyed by module id. Ordering itself is the
// caller's responsibility; this just folds the per-buffer failures together.
func PlaybackAllInOrder(buffers []*Buffer, repo *kernel.Repository, bus *events.Bus) map[int][]error {
	out := make(map[int][]error)
	for i, buf := range buffers {
		if buf == nil {
			continue
		}
		if errs := buf.Playback(repo, bus); len(errs) > 0 {
			out[i] = errs
		}
	}
	return out
}
