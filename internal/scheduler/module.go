package scheduler

import (
	"simcore/internal/command"
	"simcore/internal/events"
	"simcore/internal/kernel"
	"simcore/internal/providers"
)

// Module is the contract every host-kernel unit of work implements.
type Module interface {
	Name() string
	Policy() ExecutionPolicy
	// RequiredComponents restricts the module's provider sync mask; an empty
	// list means the full registered mask.
	RequiredComponents() []kernel.ComponentTypeID
	// WatchEvents/WatchComponents drive the reactive trigger; either or both
	// may be empty, meaning "no additional gate beyond frequency".
	WatchEvents() []events.TypeID
	WatchComponents() []kernel.ComponentTypeID
	// Tick runs the module's turn: it may read/write view.Repo and record
	// structural changes into cmd for later playback, and publish events
	// through view.Bus (visible to others only once swapped/synced).
	Tick(view *providers.View, cmd *command.Buffer, dt float32) error
}

// SystemRegistrar is an optional capability a Module may additionally
// implement to contribute systems to the shared registry at init time.
type SystemRegistrar interface {
	RegisterSystems(reg *kernel.Registry) error
}

func maskFor(reg *kernel.Registry, required []kernel.ComponentTypeID) kernel.BitMask256 {
	if len(required) == 0 {
		return kernel.FullMask256()
	}
	return kernel.NewBitMask256(required...)
}
