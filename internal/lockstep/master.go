package lockstep

import "simcore/internal/events"

// MasterLockstepController publishes FrameOrder(N+1) only once every known
// peer has acked FrameOrder(N): the strict barrier variant (P8). A slave
// slower than the others stalls the whole cluster, not just itself —
// NextDelta returns 0 (no simulation advance) while any ack is outstanding.
type MasterLockstepController struct {
	bus        *events.Bus
	fixedDelta float32
	peers      map[uint32]bool

	pendingFrame int64 // -1: no FrameOrder published yet
	sequence     uint64
	acked        map[uint32]bool
}

func NewMasterLockstepController(bus *events.Bus, fixedDelta float32, peerNodeIDs []uint32) *MasterLockstepController {
	peers := make(map[uint32]bool, len(peerNodeIDs))
	for _, id := range peerNodeIDs {
		peers[id] = true
	}
	return &MasterLockstepController{
		bus:          bus,
		fixedDelta:   fixedDelta,
		peers:        peers,
		pendingFrame: -1,
		acked:        make(map[uint32]bool, len(peers)),
	}
}

func (c *MasterLockstepController) NextDelta(wallDelta float32) float32 {
	for _, ack := range events.Consume[FrameAck](c.bus, FrameAckType) {
		if int64(ack.FrameID) == c.pendingFrame && c.peers[ack.NodeID] {
			c.acked[ack.NodeID] = true
		}
		// Late acks (frame < pendingFrame) and acks from unknown nodes are
		// silently dropped.
	}

	if c.pendingFrame >= 0 && !c.allAcked() {
		return 0
	}

	next := c.pendingFrame + 1
	c.sequence++
	events.Publish(c.bus, FrameOrderType, FrameOrder{
		FrameID:           uint64(next),
		FixedDeltaSeconds: c.fixedDelta,
		Sequence:          c.sequence,
	})
	c.pendingFrame = next
	c.acked = make(map[uint32]bool, len(c.peers))
	return c.fixedDelta
}

func (c *MasterLockstepController) allAcked() bool {
	for id := range c.peers {
		if !c.acked[id] {
			return false
		}
	}
	return true
}

// PendingFrame reports the frame id currently awaiting acks, or -1 if none
// has been published yet.
func (c *MasterLockstepController) PendingFrame() int64 { return c.pendingFrame }

// MasterContinuousController broadcasts the observed wall-clock delta every
// frame without any ack barrier: slaves follow along but a slow slave
// cannot stall the cluster. Used when determinism matters less than
// responsiveness.
type MasterContinuousController struct {
	bus      *events.Bus
	sequence uint64
	frame    uint64
}

func NewMasterContinuousController(bus *events.Bus) *MasterContinuousController {
	return &MasterContinuousController{bus: bus}
}

func (c *MasterContinuousController) NextDelta(wallDelta float32) float32 {
	c.sequence++
	events.Publish(c.bus, FrameOrderType, FrameOrder{
		FrameID:           c.frame,
		FixedDeltaSeconds: wallDelta,
		Sequence:          c.sequence,
	})
	c.frame++
	return wallDelta
}
