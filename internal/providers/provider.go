package providers

import (
	"sync"

	"simcore/internal/events"
	"simcore/internal/kernel"
)

// Kind names a snapshot provider strategy.
type Kind uint8

const (
	KindDirect Kind = iota
	KindDoubleBuffer
	KindOnDemand
	KindShared
)

func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "Direct"
	case KindDoubleBuffer:
		return "DoubleBuffer"
	case KindOnDemand:
		return "OnDemand"
	case KindShared:
		return "Shared"
	default:
		return "Unknown"
	}
}

// View is what AcquireView hands a module: an entity repository paired with
// the event-bus view synced alongside it.
type View struct {
	Repo *kernel.Repository
	Bus  *events.Bus
}

// Provider is the uniform interface every snapshot strategy exposes to the
// scheduler: acquire a view for a module's turn, release it when done, and
// update once per frame at the point the frame pipeline calls for it.
type Provider interface {
	Kind() Kind
	AcquireView() (*View, error)
	ReleaseView(v *View)
	Update() error
}

// SyncSource is the live side every non-Direct provider reads from.
type SyncSource struct {
	repo        *kernel.Repository
	bus         *events.Bus
	accumulator *events.Accumulator
}

// NewSyncSource bundles the authoritative repository, its live event bus and
// the accumulator recording that bus's history — the inputs every
// replicating provider needs.
func NewSyncSource(repo *kernel.Repository, bus *events.Bus, acc *events.Accumulator) *SyncSource {
	return &SyncSource{repo: repo, bus: bus, accumulator: acc}
}

// DirectProvider returns the authoritative repository itself: no replica, no
// update, no release action. Reserved for modules trusted to run inline on
// the scheduler thread against live state.
type DirectProvider struct {
	src *SyncSource
}

func NewDirectProvider(src *SyncSource) *DirectProvider { return &DirectProvider{src: src} }

func (p *DirectProvider) Kind() Kind { return KindDirect }

func (p *DirectProvider) AcquireView() (*View, error) {
	return &View{Repo: p.src.repo, Bus: p.src.bus}, nil
}

func (p *DirectProvider) ReleaseView(*View) {}

func (p *DirectProvider) Update() error { return nil }

// DoubleBufferProvider (GDB) holds one persistent replica synced once per
// frame and shared zero-copy by every module pointing at it.
type DoubleBufferProvider struct {
	src              *SyncSource
	mask             kernel.BitMask256
	includeTransient bool
	exclude          kernel.BitMask256

	mu           sync.Mutex
	replica      *kernel.Repository
	replicaBus   *events.Bus
	lastSeenTick uint64
}

func NewDoubleBufferProvider(src *SyncSource, registry *kernel.Registry, mask kernel.BitMask256, includeTransient bool, exclude kernel.BitMask256) *DoubleBufferProvider {
	return &DoubleBufferProvider{
		src:              src,
		mask:             mask,
		includeTransient: includeTransient,
		exclude:          exclude,
		replica:          kernel.NewReplicaOf(registry),
		replicaBus:       events.NewBus(),
	}
}

func (p *DoubleBufferProvider) Kind() Kind { return KindDoubleBuffer }

// Update performs the once-per-frame sync_from(live, union_mask) and flushes
// events accumulated on the live bus since the replica's last tick.
func (p *DoubleBufferProvider) Update() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.replica.SyncFrom(p.src.repo, p.mask, p.includeTransient, p.exclude); err != nil {
		return err
	}
	p.src.accumulator.FlushTo(p.replicaBus, p.lastSeenTick)
	p.replicaBus.SwapBuffers()
	p.lastSeenTick = p.src.bus.Tick()
	return nil
}

// AcquireView returns the replica directly (zero-copy, shared by every
// caller until the next Update).
func (p *DoubleBufferProvider) AcquireView() (*View, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &View{Repo: p.replica, Bus: p.replicaBus}, nil
}

func (p *DoubleBufferProvider) ReleaseView(*View) {}

// OnDemandProvider (SoD) owns a pool of replicas; each acquire pops one,
// syncs it against the live repository with this provider's mask, flushes
// events newer than its own last-seen tick, and hands it to the caller.
// Release soft-clears and returns it to the pool.
type OnDemandProvider struct {
	src              *SyncSource
	pool             *Pool
	mask             kernel.BitMask256
	includeTransient bool
	exclude          kernel.BitMask256
}

func NewOnDemandProvider(src *SyncSource, pool *Pool, mask kernel.BitMask256, includeTransient bool, exclude kernel.BitMask256) *OnDemandProvider {
	return &OnDemandProvider{src: src, pool: pool, mask: mask, includeTransient: includeTransient, exclude: exclude}
}

func (p *OnDemandProvider) Kind() Kind { return KindOnDemand }

// Update does nothing and records no tick: the sync, the event flush and
// the last-seen-tick bookkeeping all happen per acquire, on the lease.
func (p *OnDemandProvider) Update() error { return nil }

func (p *OnDemandProvider) AcquireView() (*View, error) {
	lease := p.pool.Rent()
	if err := lease.Repo.SyncFrom(p.src.repo, p.mask, p.includeTransient, p.exclude); err != nil {
		p.pool.Return(lease)
		return nil, err
	}
	p.src.accumulator.FlushTo(lease.Bus, lease.LastSeenTick)
	lease.Bus.SwapBuffers()
	lease.LastSeenTick = p.src.bus.Tick()
	return &View{Repo: lease.Repo, Bus: lease.Bus}, nil
}

func (p *OnDemandProvider) ReleaseView(v *View) {
	v.Repo.SoftClear()
	v.Bus.Reset()
	p.pool.Return(&Lease{Repo: v.Repo, Bus: v.Bus, LastSeenTick: 0})
}

// SharedProvider (Convoy) owns a single "current" replica shared by every
// acquirer within one frame: the first Acquire in a convoy pops/syncs a
// lease and sets active readers to 1; subsequent Acquire calls return the
// identical instance and bump the reader count. Release decrements; at
// zero the lease is soft-cleared and returned to the pool.
type SharedProvider struct {
	src              *SyncSource
	pool             *Pool
	mask             kernel.BitMask256
	includeTransient bool
	exclude          kernel.BitMask256

	mu            sync.Mutex
	current       *Lease
	activeReaders int
}

func NewSharedProvider(src *SyncSource, pool *Pool, mask kernel.BitMask256, includeTransient bool, exclude kernel.BitMask256) *SharedProvider {
	return &SharedProvider{src: src, pool: pool, mask: mask, includeTransient: includeTransient, exclude: exclude}
}

func (p *SharedProvider) Kind() Kind { return KindShared }

func (p *SharedProvider) Update() error { return nil }

func (p *SharedProvider) AcquireView() (*View, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		lease := p.pool.Rent()
		if err := lease.Repo.SyncFrom(p.src.repo, p.mask, p.includeTransient, p.exclude); err != nil {
			p.pool.Return(lease)
			return nil, err
		}
		p.src.accumulator.FlushTo(lease.Bus, lease.LastSeenTick)
		lease.Bus.SwapBuffers()
		lease.LastSeenTick = p.src.bus.Tick()
		p.current = lease
		p.activeReaders = 1
	} else {
		p.activeReaders++
	}
	return &View{Repo: p.current.Repo, Bus: p.current.Bus}, nil
}

func (p *SharedProvider) ReleaseView(*View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	p.activeReaders--
	if p.activeReaders <= 0 {
		lease := p.current
		p.current = nil
		p.activeReaders = 0
		lease.Repo.SoftClear()
		lease.Bus.Reset()
		lease.LastSeenTick = 0
		p.pool.Return(lease)
	}
}
