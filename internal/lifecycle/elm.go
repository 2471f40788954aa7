package lifecycle

import (
	"sync"

	"simcore/internal/command"
	"simcore/internal/events"
	"simcore/internal/kernel"
	"simcore/internal/providers"
	"simcore/internal/scheduler"
)

// DefaultTimeoutFrames is the fallback outstanding-ACK budget before
// check_timeouts force-completes a pending entity.
const DefaultTimeoutFrames = 300

// pendingState is which barrier a tracked entity is waiting on.
type pendingState uint8

const (
	pendingConstruction pendingState = iota
	pendingDestruction
)

type pendingEntity struct {
	state       pendingState
	outstanding map[string]bool
	startFrame  uint64
}

// ELM is the distinguished module implementing the construction/destruction
// ACK barrier: it knows the fixed set of participating module ids and, per
// pending entity, which of them have not yet acknowledged.
type ELM struct {
	mu            sync.Mutex
	participants  []string
	timeoutFrames uint64
	pending       map[kernel.Entity]*pendingEntity
	frame         uint64
	timeoutCount  int
}

func NewELM(participants []string, timeoutFrames uint64) *ELM {
	if timeoutFrames == 0 {
		timeoutFrames = DefaultTimeoutFrames
	}
	return &ELM{
		participants:  append([]string(nil), participants...),
		timeoutFrames: timeoutFrames,
		pending:       make(map[kernel.Entity]*pendingEntity),
	}
}

func (m *ELM) outstandingSet() map[string]bool {
	set := make(map[string]bool, len(m.participants))
	for _, p := range m.participants {
		set[p] = true
	}
	return set
}

// BeginConstruction marks entity Constructing and publishes ConstructionOrder
// for every participant to ACK.
func (m *ELM) BeginConstruction(entity kernel.Entity, typeID uint32, frame uint64, cmd *command.Buffer) {
	m.mu.Lock()
	m.pending[entity] = &pendingEntity{state: pendingConstruction, outstanding: m.outstandingSet(), startFrame: frame}
	m.mu.Unlock()

	cmd.SetLifecycle(command.Ref(entity), kernel.Constructing)
	command.PublishEvent(cmd, ConstructionOrderType, ConstructionOrder{Entity: entity, TypeID: typeID, Frame: frame})
}

// BeginDestruction marks entity Destructing and publishes DestructionOrder.
func (m *ELM) BeginDestruction(entity kernel.Entity, frame uint64, cmd *command.Buffer) {
	m.mu.Lock()
	m.pending[entity] = &pendingEntity{state: pendingDestruction, outstanding: m.outstandingSet(), startFrame: frame}
	m.mu.Unlock()

	cmd.SetLifecycle(command.Ref(entity), kernel.Destructing)
	command.PublishEvent(cmd, DestructionOrderType, DestructionOrder{Entity: entity, Frame: frame})
}

// ProcessConstructionAck removes ack.ModuleID from the entity's outstanding
// set. A failed ack aborts construction: publishes DestructionOrder and
// destroys the entity directly (it never reached Active, so no destruction
// barrier is owed). An ack for an untracked entity or an already-seen
// module id is a no-op (P7: idempotent).
func (m *ELM) ProcessConstructionAck(ack ConstructionAck, frame uint64, cmd *command.Buffer) {
	m.mu.Lock()
	pe, ok := m.pending[ack.Entity]
	if !ok || pe.state != pendingConstruction || !pe.outstanding[ack.ModuleID] {
		m.mu.Unlock()
		return
	}
	delete(pe.outstanding, ack.ModuleID)
	aborted := !ack.Success
	done := aborted || len(pe.outstanding) == 0
	if done {
		delete(m.pending, ack.Entity)
	}
	m.mu.Unlock()

	if aborted {
		command.PublishEvent(cmd, DestructionOrderType, DestructionOrder{Entity: ack.Entity, Frame: frame})
		cmd.DestroyEntity(command.Ref(ack.Entity))
		return
	}
	if done {
		cmd.SetLifecycle(command.Ref(ack.Entity), kernel.Active)
	}
}

// ProcessDestructionAck is the symmetric counterpart: once every
// participant has acked, the entity is destroyed.
func (m *ELM) ProcessDestructionAck(ack DestructionAck, cmd *command.Buffer) {
	m.mu.Lock()
	pe, ok := m.pending[ack.Entity]
	if !ok || pe.state != pendingDestruction || !pe.outstanding[ack.ModuleID] {
		m.mu.Unlock()
		return
	}
	delete(pe.outstanding, ack.ModuleID)
	done := len(pe.outstanding) == 0
	if done {
		delete(m.pending, ack.Entity)
	}
	m.mu.Unlock()

	if done {
		cmd.DestroyEntity(command.Ref(ack.Entity))
	}
}

// CheckTimeouts force-completes any pending entity whose barrier has been
// open longer than timeoutFrames: Active for a stalled construction,
// destroyed for a stalled destruction. Returns how many were force-completed
// this call.
func (m *ELM) CheckTimeouts(frame uint64, cmd *command.Buffer) int {
	m.mu.Lock()
	var expired []kernel.Entity
	for e, pe := range m.pending {
		if frame-pe.startFrame > m.timeoutFrames {
			expired = append(expired, e)
		}
	}
	states := make(map[kernel.Entity]pendingState, len(expired))
	for _, e := range expired {
		states[e] = m.pending[e].state
		delete(m.pending, e)
	}
	m.timeoutCount += len(expired)
	m.mu.Unlock()

	for _, e := range expired {
		switch states[e] {
		case pendingConstruction:
			cmd.SetLifecycle(command.Ref(e), kernel.Active)
		case pendingDestruction:
			cmd.DestroyEntity(command.Ref(e))
		}
	}
	return len(expired)
}

// TimeoutCount returns the cumulative number of force-completions performed
// by CheckTimeouts.
func (m *ELM) TimeoutCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.timeoutCount
}

// PendingCount returns how many entities are currently inside a barrier.
func (m *ELM) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// The methods below satisfy scheduler.Module so the ELM's ack-processing
// and timeout sweep run every frame alongside every other module, inline on
// the scheduler thread (Direct/Synchronous: the barrier needs to observe
// lifecycle transitions immediately, not through a replica lagging a
// frame).

func (m *ELM) Name() string { return "entity_lifecycle_module" }

func (m *ELM) Policy() scheduler.ExecutionPolicy {
	return scheduler.ExecutionPolicy{
		Mode:                  scheduler.Synchronous,
		Strategy:              scheduler.Direct,
		TargetFrequencyHz:     60,
		MaxExpectedRuntimeMS:  50,
		FailureThreshold:      1000000,
		CircuitResetTimeoutMS: 1000,
	}
}

func (m *ELM) RequiredComponents() []kernel.ComponentTypeID { return nil }

func (m *ELM) WatchEvents() []events.TypeID { return nil }

func (m *ELM) WatchComponents() []kernel.ComponentTypeID { return nil }

func (m *ELM) Tick(view *providers.View, cmd *command.Buffer, dt float32) error {
	m.mu.Lock()
	m.frame++
	frame := m.frame
	m.mu.Unlock()

	for _, ack := range events.Consume[ConstructionAck](view.Bus, ConstructionAckType) {
		m.ProcessConstructionAck(ack, frame, cmd)
	}
	for _, ack := range events.Consume[DestructionAck](view.Bus, DestructionAckType) {
		m.ProcessDestructionAck(ack, cmd)
	}
	m.CheckTimeouts(frame, cmd)
	return nil
}
