package lockstep

import (
	"simcore/internal/events"
	"simcore/internal/kernel"
)

// SlaveLockstepController applies the fixed delta named by the most
// recently received FrameOrder and acks it back to the master. It
// initializes with currentFrame = -1 so it accepts frame 0. A backwards
// FrameOrder (frame id less than the last accepted one) is a protocol
// violation — per this module's own design decision, it fails fast by
// latching an error and stopping the clock (NextDelta returns 0 forever
// after), rather than silently snapping forward and hiding a master
// restart or duplicate delivery.
type SlaveLockstepController struct {
	bus          *events.Bus
	nodeID       uint32
	currentFrame int64
	totalTime    float64
	err          error
}

func NewSlaveLockstepController(bus *events.Bus, nodeID uint32) *SlaveLockstepController {
	return &SlaveLockstepController{bus: bus, nodeID: nodeID, currentFrame: -1}
}

func (c *SlaveLockstepController) NextDelta(wallDelta float32) float32 {
	if c.err != nil {
		return 0
	}

	orders := events.Consume[FrameOrder](c.bus, FrameOrderType)
	if len(orders) == 0 {
		return 0
	}
	order := orders[len(orders)-1]
	frameID := int64(order.FrameID)

	if frameID < c.currentFrame {
		c.err = &kernel.Error{Kind: kernel.InvalidState, Message: "lockstep slave received a backwards frame order"}
		return 0
	}
	if frameID == c.currentFrame {
		return 0 // duplicate delivery, already applied and acked
	}

	c.currentFrame = frameID
	c.totalTime += float64(order.FixedDeltaSeconds)
	events.Publish(c.bus, FrameAckType, FrameAck{
		FrameID:          order.FrameID,
		NodeID:           c.nodeID,
		TotalTimeSeconds: c.totalTime,
	})
	return order.FixedDeltaSeconds
}

// Err reports the latched protocol violation, if any. Once set, NextDelta
// always returns 0.
func (c *SlaveLockstepController) Err() error { return c.err }

// CurrentFrame is the last frame id this slave accepted, or -1 before the
// first FrameOrder arrives.
func (c *SlaveLockstepController) CurrentFrame() int64 { return c.currentFrame }

// SlaveContinuousController mirrors the most recent FrameOrder's delta with
// no ack barrier; if no order has arrived yet it passes the observed
// wall-clock delta straight through (never stalls).
type SlaveContinuousController struct {
	bus      *events.Bus
	lastSeen float32
	hasSeen  bool
}

func NewSlaveContinuousController(bus *events.Bus) *SlaveContinuousController {
	return &SlaveContinuousController{bus: bus}
}

func (c *SlaveContinuousController) NextDelta(wallDelta float32) float32 {
	orders := events.Consume[FrameOrder](c.bus, FrameOrderType)
	if len(orders) > 0 {
		c.lastSeen = orders[len(orders)-1].FixedDeltaSeconds
		c.hasSeen = true
	}
	if !c.hasSeen {
		return wallDelta
	}
	return c.lastSeen
}
