package command

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"simcore/internal/events"
	"simcore/internal/kernel"
)

type health struct {
	HP int
}

func Test_Buffer_CreateEntityIsDeferredUntilPlayback(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	buf := NewBuffer()

	// Act
	buf.CreateEntity()

	// Assert: recording never touches the repository.
	assert.Equal(t, 1, repo.EntityCount()) // only the singleton time entity

	errs := buf.Playback(repo, bus)
	assert.Empty(t, errs)
	assert.Equal(t, 2, repo.EntityCount())
}

func Test_Buffer_AddComponentToJustCreatedEntity(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	hpID, _, err := kernel.Register[health](repo.Registry(), "health", kernel.DefaultPolicy, 0, nil)
	assert.NoError(t, err)
	buf := NewBuffer()

	// Act: the ref returned by CreateEntity resolves at playback time, not now.
	ref := buf.CreateEntity()
	AddComponent(buf, ref, hpID, health{HP: 10})
	errs := buf.Playback(repo, bus)

	// Assert
	assert.Empty(t, errs)
	results := kernel.NewQuery(repo).With(hpID).Execute()
	assert.Len(t, results, 1)
	v, getErr := kernel.GetComponentRO[health](repo, hpID, results[0])
	assert.NoError(t, getErr)
	assert.Equal(t, 10, v.HP)
}

func Test_Buffer_DestroyEntityRecordedAgainstExistingRef(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	e := repo.CreateEntity()
	buf := NewBuffer()

	// Act
	buf.DestroyEntity(Ref(e))
	errs := buf.Playback(repo, bus)

	// Assert
	assert.Empty(t, errs)
	assert.False(t, repo.IsAlive(e))
}

func Test_Buffer_FailedStepIsSkippedNotAborting(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	hpID, _, _ := kernel.Register[health](repo.Registry(), "health", kernel.DefaultPolicy, 0, nil)
	e := repo.CreateEntity()
	buf := NewBuffer()

	// Act: remove a component that was never added (fails), followed by a
	// valid add on a different entity.
	buf.RemoveComponent(Ref(e), hpID)
	ref2 := buf.CreateEntity()
	AddComponent(buf, ref2, hpID, health{HP: 5})
	errs := buf.Playback(repo, bus)

	// Assert: one failure recorded, but the second op still applied.
	assert.Len(t, errs, 1)
	results := kernel.NewQuery(repo).With(hpID).Execute()
	assert.Len(t, results, 1)
}

func Test_Buffer_PublishEventVisibleAfterBusSwap(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	buf := NewBuffer()
	type spawned struct{ Count int }

	// Act
	PublishEvent(buf, events.TypeID(1), spawned{Count: 3})
	buf.Playback(repo, bus)
	bus.SwapBuffers()

	// Assert
	got := events.Consume[spawned](bus, events.TypeID(1))
	assert.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Count)
}

func Test_Buffer_PlaybackClearsBuffer(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	buf := NewBuffer()
	buf.CreateEntity()

	// Act
	buf.Playback(repo, bus)

	// Assert
	assert.Equal(t, 0, buf.Len())
}

func Test_PlaybackAllInOrder_AppliesEachBufferAndCollectsFailuresByIndex(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	hpID, _, _ := kernel.Register[health](repo.Registry(), "health", kernel.DefaultPolicy, 0, nil)
	good := NewBuffer()
	bad := NewBuffer()
	ref := good.CreateEntity()
	AddComponent(good, ref, hpID, health{HP: 1})
	bad.RemoveComponent(Ref(kernel.Entity{Index: 999, Generation: 1}), hpID)

	// Act
	failures := PlaybackAllInOrder([]*Buffer{good, bad}, repo, bus)

	// Assert
	assert.NotContains(t, failures, 0)
	assert.Contains(t, failures, 1)
}
