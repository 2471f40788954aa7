package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"simcore/internal/events"
	"simcore/internal/kernel"
)

type position struct{ X float32 }

func newFixture(t *testing.T) (*kernel.Repository, *events.Bus, *events.Accumulator) {
	t.Helper()
	repo := kernel.NewRepository()
	bus := events.NewBus()
	acc := events.NewAccumulator(4)
	return repo, bus, acc
}

func Test_DirectProvider_ReturnsLiveRepositoryItself(t *testing.T) {
	// Arrange
	repo, bus, acc := newFixture(t)
	src := NewSyncSource(repo, bus, acc)
	p := NewDirectProvider(src)

	// Act
	view, err := p.AcquireView()

	// Assert
	assert.NoError(t, err)
	assert.Same(t, repo, view.Repo)
	assert.Equal(t, KindDirect, p.Kind())
}

func Test_DoubleBufferProvider_UpdateSyncsReplicaFromLive(t *testing.T) {
	// Arrange
	repo, bus, acc := newFixture(t)
	posID, _, _ := kernel.Register[position](repo.Registry(), "position", kernel.DefaultPolicy, 0, nil)
	src := NewSyncSource(repo, bus, acc)
	p := NewDoubleBufferProvider(src, repo.Registry(), kernel.FullMask256(), false, kernel.BitMask256{})
	e := repo.CreateEntity()
	kernel.AddComponent(repo, posID, e, position{X: 5})

	// Act
	err := p.Update()
	view, _ := p.AcquireView()

	// Assert
	assert.NoError(t, err)
	v, getErr := kernel.GetComponentRO[position](view.Repo, posID, e)
	assert.NoError(t, getErr)
	assert.Equal(t, float32(5), v.X)
}

func Test_DoubleBufferProvider_AcquireReturnsSameReplicaToEveryCaller(t *testing.T) {
	// Arrange
	repo, bus, acc := newFixture(t)
	src := NewSyncSource(repo, bus, acc)
	p := NewDoubleBufferProvider(src, repo.Registry(), kernel.FullMask256(), false, kernel.BitMask256{})

	// Act
	v1, _ := p.AcquireView()
	v2, _ := p.AcquireView()

	// Assert
	assert.Same(t, v1.Repo, v2.Repo)
}

func Test_OnDemandProvider_AcquireSyncsAndReleaseReturnsToPool(t *testing.T) {
	// Arrange
	repo, bus, acc := newFixture(t)
	posID, _, _ := kernel.Register[position](repo.Registry(), "position", kernel.DefaultPolicy, 0, nil)
	src := NewSyncSource(repo, bus, acc)
	pool := NewPool(repo.Registry())
	p := NewOnDemandProvider(src, pool, kernel.FullMask256(), false, kernel.BitMask256{})
	e := repo.CreateEntity()
	kernel.AddComponent(repo, posID, e, position{X: 3})

	// Act
	view, err := p.AcquireView()
	assert.NoError(t, err)
	v, _ := kernel.GetComponentRO[position](view.Repo, posID, e)
	assert.Equal(t, float32(3), v.X)

	p.ReleaseView(view)

	// Assert: released replica was soft-cleared and returned to the pool.
	assert.Equal(t, 1, pool.Stats().Available)
}

func Test_OnDemandProvider_ExcludesTransientTypesByDefault(t *testing.T) {
	// Arrange
	repo, bus, acc := newFixture(t)
	transientID, _, _ := kernel.Register[position](repo.Registry(), "scratch", kernel.TransientPolicy, 0, nil)
	src := NewSyncSource(repo, bus, acc)
	pool := NewPool(repo.Registry())
	p := NewOnDemandProvider(src, pool, kernel.FullMask256(), false, kernel.BitMask256{})
	e := repo.CreateEntity()
	kernel.AddComponent(repo, transientID, e, position{X: 1})

	// Act
	view, _ := p.AcquireView()

	// Assert
	assert.False(t, view.Repo.HasComponent(e, transientID))
}

func Test_SharedProvider_SecondAcquireWithinConvoyReusesInstance(t *testing.T) {
	// Arrange
	repo, bus, acc := newFixture(t)
	src := NewSyncSource(repo, bus, acc)
	pool := NewPool(repo.Registry())
	p := NewSharedProvider(src, pool, kernel.FullMask256(), false, kernel.BitMask256{})

	// Act
	v1, _ := p.AcquireView()
	v2, _ := p.AcquireView()

	// Assert
	assert.Same(t, v1.Repo, v2.Repo)
}

func Test_SharedProvider_ReleaseOnlyReturnsToPoolAtZeroReaders(t *testing.T) {
	// Arrange
	repo, bus, acc := newFixture(t)
	src := NewSyncSource(repo, bus, acc)
	pool := NewPool(repo.Registry())
	p := NewSharedProvider(src, pool, kernel.FullMask256(), false, kernel.BitMask256{})
	v1, _ := p.AcquireView()
	p.AcquireView() // second reader in the convoy

	// Act: first release should not yet return the lease (still one reader).
	p.ReleaseView(v1)
	assert.Equal(t, 0, pool.Stats().Available)

	p.ReleaseView(v1)

	// Assert
	assert.Equal(t, 1, pool.Stats().Available)
}

func Test_Pool_WarmupPrecreatesReplicas(t *testing.T) {
	// Arrange
	reg := kernel.NewRegistry()
	pool := NewPool(reg)

	// Act
	pool.Warmup(3, nil)

	// Assert
	stats := pool.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 3, stats.Available)
}

func Test_Pool_RentBeyondWarmupGrowsPool(t *testing.T) {
	// Arrange
	reg := kernel.NewRegistry()
	pool := NewPool(reg)
	pool.Warmup(1, nil)
	pool.Rent()

	// Act: pool is empty, rent again should allocate fresh rather than block.
	l := pool.Rent()

	// Assert
	assert.NotNil(t, l)
	assert.Equal(t, 2, pool.Stats().Total)
}
