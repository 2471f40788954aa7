// Package lifecycle implements the Entity Lifecycle Module (ELM) — an ACK
// barrier coordinating multi-module entity construction and destruction —
// and the Network Gateway, an ELM participant that additionally waits on
// peer acknowledgements before a networked entity is allowed to go Active.
package lifecycle

import (
	"simcore/internal/events"
	"simcore/internal/kernel"
)

// Event type ids the ELM and gateway publish and consume. Picked well above
// the low range so application-defined event types don't collide by
// accident; there is no shared registry since EventTypeID is an open id
// space (see kernel.EventTypeID).
const (
	ConstructionOrderType events.TypeID = 9000 + iota
	ConstructionAckType
	DestructionOrderType
	DestructionAckType
	EntityLifecycleStatusType
)

// ConstructionOrder is published once an entity begins the construction
// barrier; every participating module is expected to ACK it.
type ConstructionOrder struct {
	Entity kernel.Entity
	TypeID uint32
	Frame  uint64
}

// ConstructionAck is a participant's response to a ConstructionOrder.
// Success=false aborts construction and destroys the entity.
type ConstructionAck struct {
	Entity   kernel.Entity
	ModuleID string
	Success  bool
	Error    string
}

// DestructionOrder is published once an entity begins the destruction
// barrier.
type DestructionOrder struct {
	Entity kernel.Entity
	Frame  uint64
	Reason string
}

// DestructionAck is a participant's response to a DestructionOrder.
type DestructionAck struct {
	Entity   kernel.Entity
	ModuleID string
	Success  bool
}

// EntityLifecycleStatus is a peer node reporting its own view of an
// entity's lifecycle state, consumed by the Network Gateway's reliable-init
// barrier.
type EntityLifecycleStatus struct {
	Entity kernel.Entity
	Node   string
	State  kernel.Lifecycle
}
