package kernel

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Repository_CreateEntityAssignsGenerationOne(t *testing.T) {
	// Arrange
	repo := NewRepository()

	// Act
	e := repo.CreateEntity()

	// Assert
	assert.Equal(t, uint32(1), e.Generation)
	assert.True(t, repo.IsAlive(e))
}

func Test_Repository_DestroyEntityInvalidatesHandle(t *testing.T) {
	// Arrange
	repo := NewRepository()
	e := repo.CreateEntity()

	// Act
	err := repo.DestroyEntity(e)

	// Assert
	assert.NoError(t, err)
	assert.False(t, repo.IsAlive(e))
}

func Test_Repository_RecycledIndexGetsNewGeneration(t *testing.T) {
	// Arrange
	repo := NewRepository()
	e1 := repo.CreateEntity()
	repo.DestroyEntity(e1)

	// Act
	e2 := repo.CreateEntity()

	// Assert: the stale handle must never again be reported alive (I4).
	assert.Equal(t, e1.Index, e2.Index)
	assert.NotEqual(t, e1.Generation, e2.Generation)
	assert.False(t, repo.IsAlive(e1))
	assert.True(t, repo.IsAlive(e2))
}

func Test_Repository_DestroyUnknownEntityFails(t *testing.T) {
	// Arrange
	repo := NewRepository()

	// Act
	err := repo.DestroyEntity(Entity{Index: 99, Generation: 1})

	// Assert
	assert.Error(t, err)
}

func Test_Repository_AddGetRemoveComponent(t *testing.T) {
	// Arrange
	repo := NewRepository()
	posID, _, err := Register[position](repo.Registry(), "position", DefaultPolicy, 0, nil)
	assert.NoError(t, err)
	e := repo.CreateEntity()

	// Act
	err = AddComponent(repo, posID, e, position{X: 1, Y: 2})
	assert.NoError(t, err)
	got, getErr := GetComponentRO[position](repo, posID, e)

	// Assert
	assert.NoError(t, getErr)
	assert.Equal(t, position{X: 1, Y: 2}, got)
	assert.True(t, repo.HasComponent(e, posID))

	// Act: remove
	err = repo.RemoveComponent(posID, e)

	// Assert
	assert.NoError(t, err)
	assert.False(t, repo.HasComponent(e, posID))
}

func Test_Repository_AddComponentTwiceFails(t *testing.T) {
	// Arrange
	repo := NewRepository()
	posID, _, _ := Register[position](repo.Registry(), "position", DefaultPolicy, 0, nil)
	e := repo.CreateEntity()
	AddComponent(repo, posID, e, position{})

	// Act
	err := AddComponent(repo, posID, e, position{X: 1})

	// Assert
	assert.Error(t, err)
}

func Test_Repository_SetComponentUpserts(t *testing.T) {
	// Arrange
	repo := NewRepository()
	posID, _, _ := Register[position](repo.Registry(), "position", DefaultPolicy, 0, nil)
	e := repo.CreateEntity()

	// Act: Set on an absent component creates it.
	err := SetComponent(repo, posID, e, position{X: 1})
	assert.NoError(t, err)
	// Act: Set again overwrites.
	err = SetComponent(repo, posID, e, position{X: 2})

	// Assert
	assert.NoError(t, err)
	v, _ := GetComponentRO[position](repo, posID, e)
	assert.Equal(t, float32(2), v.X)
}

func Test_Repository_GetComponentRWMarksChunkDirty(t *testing.T) {
	// Arrange
	repo := NewRepository()
	posID, _, _ := Register[position](repo.Registry(), "position", DefaultPolicy, 0, nil)
	e := repo.CreateEntity()
	AddComponent(repo, posID, e, position{})
	before := repo.GlobalVersion()

	// Act
	p, err := GetComponentRW[position](repo, posID, e)
	p.X = 5

	// Assert
	assert.NoError(t, err)
	assert.True(t, repo.HasComponentChanged(posID, before))
}

func Test_Repository_DestroyEntityRemovesItsComponents(t *testing.T) {
	// Arrange
	repo := NewRepository()
	posID, _, _ := Register[position](repo.Registry(), "position", DefaultPolicy, 0, nil)
	e := repo.CreateEntity()
	AddComponent(repo, posID, e, position{X: 1})

	// Act
	repo.DestroyEntity(e)

	// Assert
	_, err := GetComponentRO[position](repo, posID, e)
	assert.Error(t, err)
}

func Test_Repository_TickAdvancesGlobalTime(t *testing.T) {
	// Arrange
	repo := NewRepository()

	// Act
	gt := repo.Tick(0.016)

	// Assert
	assert.Equal(t, uint64(1), gt.FrameNumber)
	assert.InDelta(t, 0.016, gt.DeltaSeconds, 1e-6)
	assert.InDelta(t, 0.016, gt.TotalSeconds, 1e-6)
}

func Test_Repository_SoftClearResetsEverything(t *testing.T) {
	// Arrange
	repo := NewRepository()
	posID, _, _ := Register[position](repo.Registry(), "position", DefaultPolicy, 0, nil)
	e := repo.CreateEntity()
	AddComponent(repo, posID, e, position{X: 1})
	repo.Tick(0.1)

	// Act
	repo.SoftClear()

	// Assert
	assert.Equal(t, uint32(1), repo.GlobalVersion())
	assert.False(t, repo.IsAlive(e))
	assert.Equal(t, 1, repo.EntityCount()) // only the singleton time entity remains
}

func Test_Repository_SyncFromReplicatesSnapshotableComponents(t *testing.T) {
	// Arrange: replica shares the live repository's registry so type ids
	// agree without translation.
	live := NewRepository()
	reg := live.Registry()
	posID, _, _ := Register[position](reg, "position", DefaultPolicy, 0, nil)
	velID, _, _ := Register[velocity](reg, "velocity", TransientPolicy, 0, nil)
	replica := NewReplicaOf(reg)

	e := live.CreateEntity()
	AddComponent(live, posID, e, position{X: 1, Y: 2})
	AddComponent(live, velID, e, velocity{DX: 9})
	live.Tick(0.016)

	// Act
	err := replica.SyncFrom(live, FullMask256(), false, BitMask256{})

	// Assert
	assert.NoError(t, err)
	assert.True(t, replica.IsAlive(e))
	v, getErr := GetComponentRO[position](replica, posID, e)
	assert.NoError(t, getErr)
	assert.Equal(t, position{X: 1, Y: 2}, v)
	// velocity is TransientPolicy (not snapshotable) and includeTransient was
	// false, so it must not have crossed over.
	assert.False(t, replica.HasComponent(e, velID))
}

func Test_Repository_SyncFromOnlyCopiesMaskedTypes(t *testing.T) {
	// Arrange
	live := NewRepository()
	reg := live.Registry()
	posID, _, _ := Register[position](reg, "position", DefaultPolicy, 0, nil)
	velID, _, _ := Register[velocity](reg, "velocity", DefaultPolicy, 0, nil)
	replica := NewReplicaOf(reg)

	e := live.CreateEntity()
	AddComponent(live, posID, e, position{X: 1})
	AddComponent(live, velID, e, velocity{DX: 1})

	// Act: mask only includes position.
	err := replica.SyncFrom(live, NewBitMask256(posID), false, BitMask256{})

	// Assert
	assert.NoError(t, err)
	assert.True(t, replica.HasComponent(e, posID))
	assert.False(t, replica.HasComponent(e, velID))
}

func Test_Repository_SyncFromPurgesDeadEntities(t *testing.T) {
	// Arrange
	live := NewRepository()
	reg := live.Registry()
	posID, _, _ := Register[position](reg, "position", DefaultPolicy, 0, nil)
	replica := NewReplicaOf(reg)

	e := live.CreateEntity()
	AddComponent(live, posID, e, position{X: 1})
	replica.SyncFrom(live, FullMask256(), false, BitMask256{})
	assert.True(t, replica.IsAlive(e))

	// Act
	live.DestroyEntity(e)
	err := replica.SyncFrom(live, FullMask256(), false, BitMask256{})

	// Assert
	assert.NoError(t, err)
	assert.False(t, replica.IsAlive(e))
	_, getErr := GetComponentRO[position](replica, posID, e)
	assert.Error(t, getErr)
}

func Test_Repository_TagAndFindByTag(t *testing.T) {
	// Arrange
	repo := NewRepository()
	e := repo.CreateEntity()

	// Act
	err := repo.SetTag(e, "player")

	// Assert
	assert.NoError(t, err)
	found := repo.FindByTag("player")
	assert.Len(t, found, 1)
	assert.Equal(t, e, found[0])
}

func Test_Repository_SetParentTracksChildren(t *testing.T) {
	// Arrange
	repo := NewRepository()
	parent := repo.CreateEntity()
	child := repo.CreateEntity()

	// Act
	err := repo.SetParent(child, parent)

	// Assert
	assert.NoError(t, err)
}
