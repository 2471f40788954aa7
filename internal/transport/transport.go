// Package transport defines the abstract boundary between the simulation
// core and concrete network transports. The core never talks wire formats
// directly: a DataReader/DataWriter pair per message type is implemented by
// a translator layered above this module and driven by the network gateway
// or any module that needs wire I/O.
package transport

import (
	"simcore/internal/command"
	"simcore/internal/providers"
)

// DataReader consumes incoming samples of type T and enqueues the
// corresponding component/event changes through the command buffer. Poll is
// called once per module turn, same as any other read of view.
type DataReader[T any] interface {
	PollIngress(view *providers.View, cmd *command.Buffer) error
}

// DataWriter scans entities the local node is authoritative for and emits
// outbound samples of type T. Scan is called once per module turn against a
// read-only view.
type DataWriter[T any] interface {
	ScanAndPublish(view *providers.View) ([]T, error)
}

// ReaderFunc adapts a plain function to DataReader, for translators that
// don't need any state beyond closures.
type ReaderFunc[T any] func(view *providers.View, cmd *command.Buffer) error

func (f ReaderFunc[T]) PollIngress(view *providers.View, cmd *command.Buffer) error {
	return f(view, cmd)
}

// WriterFunc adapts a plain function to DataWriter.
type WriterFunc[T any] func(view *providers.View) ([]T, error)

func (f WriterFunc[T]) ScanAndPublish(view *providers.View) ([]T, error) {
	return f(view)
}
