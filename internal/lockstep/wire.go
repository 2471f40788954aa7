// Package lockstep implements the networked TimeController variants named
// by the system's time-controller plug-in contract: master/continuous,
// slave/continuous, master/lockstep and slave/lockstep. All four are driven
// by the same two wire event types published and consumed on the live
// event bus; none of them touch the repository directly.
package lockstep

import "simcore/internal/events"

// Event type ids for the two lockstep wire messages.
const (
	FrameOrderType events.TypeID = 9500 + iota
	FrameAckType
)

// FrameOrder is published by the master once per frame (continuous) or
// once per barrier step (lockstep): master -> every slave.
type FrameOrder struct {
	FrameID           uint64
	FixedDeltaSeconds float32
	Sequence          uint64
}

// FrameAck is a slave's acknowledgement that it has applied FrameOrder's
// frame id: slave -> master. Only meaningful under the lockstep variants;
// continuous slaves never publish it.
type FrameAck struct {
	FrameID          uint64
	NodeID           uint32
	TotalTimeSeconds float64
}
