package scheduler

import (
	"time"

	"golang.org/x/sync/errgroup"

	"simcore/internal/command"
	"simcore/internal/events"
	"simcore/internal/kernel"
	"simcore/internal/providers"
)

// moduleEntry is everything the host tracks about one registered module,
// in registration order — registration order is also the deterministic
// command-buffer playback order the frame pipeline relies on.
type moduleEntry struct {
	module       Module
	policy       ExecutionPolicy
	mask         kernel.BitMask256
	provider     providers.Provider
	breaker      *CircuitBreaker
	trigger      triggerState
	ranThisFrame bool
	buf          *command.Buffer
	async        *asyncUnit
}

// asyncUnit tracks one in-flight Asynchronous dispatch that may span
// multiple frames.
type asyncUnit struct {
	done         chan error
	buf          *command.Buffer
	view         *providers.View
	dispatchedAt time.Time
	dispatchTick uint32
	timedOut     bool
}

// Host is the Module Host Kernel: module registration, provider
// auto-grouping and the seven-phase frame pipeline.
type Host struct {
	registry    *kernel.Registry
	repo        *kernel.Repository
	bus         *events.Bus
	accumulator *events.Accumulator
	src         *providers.SyncSource
	pool        *providers.Pool
	metrics     *Metrics
	timeCtrl    TimeController

	entries     []*moduleEntry
	byName      map[string]*moduleEntry
	initialized bool
}

func NewHost(repo *kernel.Repository, bus *events.Bus, maxHistoryFrames int, metrics *Metrics, timeCtrl TimeController) *Host {
	acc := events.NewAccumulator(maxHistoryFrames)
	return &Host{
		registry:    repo.Registry(),
		repo:        repo,
		bus:         bus,
		accumulator: acc,
		src:         providers.NewSyncSource(repo, bus, acc),
		pool:        providers.NewPool(repo.Registry()),
		metrics:     metrics,
		timeCtrl:    timeCtrl,
		byName:      make(map[string]*moduleEntry),
	}
}

// RegisterModule validates a module's policy and queues it for provider
// assignment at Initialize. Must be called before Initialize.
func (h *Host) RegisterModule(m Module) error {
	if h.initialized {
		return &kernel.Error{Kind: kernel.InvalidState, Message: "cannot register modules after Initialize"}
	}
	policy := m.Policy()
	if err := policy.Validate(); err != nil {
		return err
	}
	if _, exists := h.byName[m.Name()]; exists {
		return &kernel.Error{Kind: kernel.InvalidState, Message: "module already registered: " + m.Name()}
	}
	if reg, ok := m.(SystemRegistrar); ok {
		if err := reg.RegisterSystems(h.registry); err != nil {
			return err
		}
	}
	entry := &moduleEntry{
		module:  m,
		policy:  policy,
		mask:    maskFor(h.registry, m.RequiredComponents()),
		breaker: NewCircuitBreaker(policy.FailureThreshold, time.Duration(policy.CircuitResetTimeoutMS)*time.Millisecond),
		buf:     command.NewBuffer(),
	}
	h.entries = append(h.entries, entry)
	h.byName[m.Name()] = entry
	return nil
}

// Initialize groups registered modules into providers by (mode, strategy,
// target_frequency_hz) and locks further registration.
func (h *Host) Initialize() error {
	if h.initialized {
		return &kernel.Error{Kind: kernel.InvalidState, Message: "already initialized"}
	}

	groups := make(map[groupKey][]*moduleEntry)
	for _, e := range h.entries {
		groups[keyFor(e.policy)] = append(groups[keyFor(e.policy)], e)
	}

	for key, members := range groups {
		switch key.strategy {
		case Direct:
			for _, m := range members {
				m.provider = providers.NewDirectProvider(h.src)
			}
		case GDB:
			union := kernel.BitMask256{}
			for _, m := range members {
				union = union.Union(m.mask)
			}
			provider := providers.NewDoubleBufferProvider(h.src, h.registry, union, false, kernel.BitMask256{})
			for _, m := range members {
				m.provider = provider
			}
		case SoD:
			if len(members) == 1 {
				members[0].provider = providers.NewOnDemandProvider(h.src, h.pool, members[0].mask, false, kernel.BitMask256{})
			} else {
				union := kernel.BitMask256{}
				for _, m := range members {
					union = union.Union(m.mask)
				}
				provider := providers.NewSharedProvider(h.src, h.pool, union, false, kernel.BitMask256{})
				for _, m := range members {
					m.provider = provider
				}
			}
		}
	}

	h.initialized = true
	return nil
}

// Update runs one full frame: time advance, event bus swap, provider
// updates, module dispatch, async harvest, command playback and the final
// repository tick.
func (h *Host) Update(wallDelta float32) (kernel.GlobalTime, error) {
	// Phase 1: advance time.
	dt := h.timeCtrl.NextDelta(wallDelta)

	// Phase 2: snapshot events into the accumulator, then swap buffers.
	h.accumulator.Capture(h.bus)
	h.bus.SwapBuffers()

	// Phase 3: update every distinct provider once.
	seen := make(map[providers.Provider]bool)
	for _, e := range h.entries {
		if e.provider != nil && !seen[e.provider] {
			seen[e.provider] = true
			if err := e.provider.Update(); err != nil {
				return kernel.GlobalTime{}, err
			}
		}
	}

	// Phase 4: evaluate triggers and dispatch.
	var frameSynced []*moduleEntry
	for _, e := range h.entries {
		e.ranThisFrame = false
		if !e.breaker.CanRun() {
			continue
		}
		if !shouldRun(e.policy, &e.trigger, float64(wallDelta), h.bus, h.repo, e.module.WatchEvents(), e.module.WatchComponents()) {
			continue
		}

		switch e.policy.Mode {
		case Synchronous:
			h.dispatchSynchronous(e, dt)
		case FrameSynced:
			frameSynced = append(frameSynced, e)
		case Asynchronous:
			h.dispatchAsynchronous(e, dt)
		}
	}
	h.awaitFrameSynced(frameSynced, dt)

	// Phase 5: harvest completed asynchronous units.
	h.harvestAsync()

	// Phase 6: play back synchronous/frame-synced buffers in registration
	// order.
	for _, e := range h.entries {
		if e.ranThisFrame {
			if errs := e.buf.Playback(h.repo, h.bus); len(errs) > 0 && h.metrics != nil {
				h.metrics.recordOutcome(e.module.Name(), "playback_error")
			}
		}
	}

	// Phase 7: tick the live repository.
	gt := h.repo.Tick(dt)
	return gt, nil
}

func (h *Host) dispatchSynchronous(e *moduleEntry, dt float32) {
	view, err := e.provider.AcquireView()
	if err != nil {
		h.recordFailure(e)
		return
	}
	e.trigger.lastRunTick = h.repo.GlobalVersion()
	err = e.module.Tick(view, e.buf, dt)
	e.provider.ReleaseView(view)
	if err != nil {
		h.recordFailure(e)
		return
	}
	e.trigger.consumePeriod(e.policy)
	e.ranThisFrame = true
	h.recordSuccess(e)
}

// awaitFrameSynced dispatches every frame-synced module concurrently and
// blocks until all finish or time out, per-module, at
// max_expected_runtime_ms. A module that times out is marked failed and its
// buffer discarded; its goroutine is abandoned (not killed) rather than
// awaited further.
func (h *Host) awaitFrameSynced(entries []*moduleEntry, dt float32) {
	if len(entries) == 0 {
		return
	}
	var g errgroup.Group
	for _, e := range entries {
		e := e
		g.Go(func() error {
			view, err := e.provider.AcquireView()
			if err != nil {
				h.recordFailure(e)
				return nil
			}
			e.trigger.lastRunTick = h.repo.GlobalVersion()
			ch := make(chan error, 1)
			go func() { ch <- e.module.Tick(view, e.buf, dt) }()

			timeout := time.Duration(e.policy.MaxExpectedRuntimeMS) * time.Millisecond
			select {
			case err := <-ch:
				e.provider.ReleaseView(view)
				if err != nil {
					h.recordFailure(e)
					return nil
				}
				e.trigger.consumePeriod(e.policy)
				e.ranThisFrame = true
				h.recordSuccess(e)
			case <-time.After(timeout):
				if h.metrics != nil {
					h.metrics.recordTimeout(e.module.Name())
				}
				h.recordFailure(e)
				// Discard: a fresh buffer replaces the one the abandoned
				// goroutine may still be writing into.
				e.buf = command.NewBuffer()
				e.provider.ReleaseView(view)
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (h *Host) dispatchAsynchronous(e *moduleEntry, dt float32) {
	if e.async != nil {
		// A unit is already outstanding: accumulate skipped delta by simply
		// not consuming this frame's trigger period.
		return
	}
	view, err := e.provider.AcquireView()
	if err != nil {
		h.recordFailure(e)
		return
	}
	dispatchTick := h.repo.GlobalVersion()
	e.trigger.lastRunTick = dispatchTick
	buf := command.NewBuffer()
	done := make(chan error, 1)
	e.async = &asyncUnit{done: done, buf: buf, view: view, dispatchedAt: time.Now(), dispatchTick: dispatchTick}
	go func() { done <- e.module.Tick(view, buf, dt) }()
}

func (h *Host) harvestAsync() {
	for _, e := range h.entries {
		unit := e.async
		if unit == nil {
			continue
		}

		select {
		case err := <-unit.done:
			e.provider.ReleaseView(unit.view)
			if !unit.timedOut {
				if err != nil {
					h.recordFailure(e)
				} else {
					e.buf = unit.buf
					e.ranThisFrame = true
					e.trigger.consumePeriod(e.policy)
					h.recordSuccess(e)
				}
			}
			e.async = nil
		default:
			timeout := time.Duration(e.policy.MaxExpectedRuntimeMS) * time.Millisecond
			if !unit.timedOut && time.Since(unit.dispatchedAt) > timeout {
				unit.timedOut = true
				if h.metrics != nil {
					h.metrics.recordTimeout(e.module.Name())
				}
				h.recordFailure(e)
			}
		}
	}
}

func (h *Host) recordSuccess(e *moduleEntry) {
	e.breaker.RecordSuccess()
	if h.metrics != nil {
		h.metrics.recordOutcome(e.module.Name(), "success")
		h.metrics.setCircuitState(e.module.Name(), e.breaker.State())
	}
}

func (h *Host) recordFailure(e *moduleEntry) {
	e.breaker.RecordFailure()
	if h.metrics != nil {
		h.metrics.recordOutcome(e.module.Name(), "failure")
		h.metrics.setCircuitState(e.module.Name(), e.breaker.State())
	}
}

// Accumulator exposes the live event-history recorder so transport layers
// (network gateway) can tap it for outbound replication.
func (h *Host) Accumulator() *events.Accumulator { return h.accumulator }

// Repository exposes the authoritative repository.
func (h *Host) Repository() *kernel.Repository { return h.repo }

// Bus exposes the live event bus.
func (h *Host) Bus() *events.Bus { return h.bus }
