package lifecycle

import (
	"sync"

	"simcore/internal/command"
	"simcore/internal/events"
	"simcore/internal/kernel"
	"simcore/internal/providers"
	"simcore/internal/scheduler"
)

// Topology resolves which peer nodes participate in an entity type's
// reliable-init barrier. Transport translators own the actual network
// delivery; the gateway only needs to know who to wait for.
type Topology interface {
	PeersForType(typeID uint32) []string
}

type pendingPeerAck struct {
	remaining  map[string]bool
	startFrame uint64
}

// Gateway is an ELM participant: it ACKs every ConstructionOrder/
// DestructionOrder like any other module, except entities flagged
// pending_network_ack additionally wait for EntityLifecycleStatus reports
// from every expected peer before the gateway ACKs construction.
type Gateway struct {
	mu            sync.Mutex
	moduleID      string
	localNode     string
	topology      Topology
	timeoutFrames uint64

	pendingNetworkAck map[kernel.Entity]bool
	pendingPeers      map[kernel.Entity]*pendingPeerAck
	frame             uint64
	timeoutCount      int
}

func NewGateway(moduleID, localNode string, topology Topology, timeoutFrames uint64) *Gateway {
	if timeoutFrames == 0 {
		timeoutFrames = DefaultTimeoutFrames
	}
	return &Gateway{
		moduleID:          moduleID,
		localNode:         localNode,
		topology:          topology,
		timeoutFrames:     timeoutFrames,
		pendingNetworkAck: make(map[kernel.Entity]bool),
		pendingPeers:      make(map[kernel.Entity]*pendingPeerAck),
	}
}

// MarkPendingNetworkAck flags entity as requiring peer acknowledgement
// before this gateway ACKs its ConstructionOrder to the ELM. Call before
// ELM.BeginConstruction runs for a networked entity.
func (g *Gateway) MarkPendingNetworkAck(entity kernel.Entity) {
	g.mu.Lock()
	g.pendingNetworkAck[entity] = true
	g.mu.Unlock()
}

func (g *Gateway) handleConstructionOrder(order ConstructionOrder, cmd *command.Buffer) {
	g.mu.Lock()
	if !g.pendingNetworkAck[order.Entity] {
		g.mu.Unlock()
		g.ackConstruction(order.Entity, cmd)
		return
	}

	peers := g.topology.PeersForType(order.TypeID)
	expected := make(map[string]bool, len(peers))
	for _, p := range peers {
		if p != g.localNode {
			expected[p] = true
		}
	}
	if len(expected) == 0 {
		delete(g.pendingNetworkAck, order.Entity)
		g.mu.Unlock()
		g.ackConstruction(order.Entity, cmd)
		return
	}
	g.pendingPeers[order.Entity] = &pendingPeerAck{remaining: expected, startFrame: order.Frame}
	g.mu.Unlock()
}

func (g *Gateway) handleDestructionOrder(order DestructionOrder, cmd *command.Buffer) {
	g.mu.Lock()
	delete(g.pendingNetworkAck, order.Entity)
	delete(g.pendingPeers, order.Entity)
	g.mu.Unlock()

	command.PublishEvent(cmd, DestructionAckType, DestructionAck{Entity: order.Entity, ModuleID: g.moduleID})
}

// ReceiveLifecycleStatus removes fromNode from the peer set entity is
// waiting on. A status for an untracked entity, or a duplicate from a node
// already removed, is a no-op.
func (g *Gateway) ReceiveLifecycleStatus(status EntityLifecycleStatus, cmd *command.Buffer) {
	g.mu.Lock()
	pp, ok := g.pendingPeers[status.Entity]
	if !ok {
		g.mu.Unlock()
		return
	}
	delete(pp.remaining, status.Node)
	done := len(pp.remaining) == 0
	if done {
		delete(g.pendingPeers, status.Entity)
		delete(g.pendingNetworkAck, status.Entity)
	}
	g.mu.Unlock()

	if done {
		g.ackConstruction(status.Entity, cmd)
	}
}

// CheckTimeouts ACKs anyway any entity that has waited longer than
// timeoutFrames for its peers, clearing its marker. Returns how many were
// force-acked this call.
func (g *Gateway) CheckTimeouts(frame uint64, cmd *command.Buffer) int {
	g.mu.Lock()
	var expired []kernel.Entity
	for e, pp := range g.pendingPeers {
		if frame-pp.startFrame > g.timeoutFrames {
			expired = append(expired, e)
		}
	}
	for _, e := range expired {
		delete(g.pendingPeers, e)
		delete(g.pendingNetworkAck, e)
	}
	g.timeoutCount += len(expired)
	g.mu.Unlock()

	for _, e := range expired {
		g.ackConstruction(e, cmd)
	}
	return len(expired)
}

func (g *Gateway) ackConstruction(entity kernel.Entity, cmd *command.Buffer) {
	command.PublishEvent(cmd, ConstructionAckType, ConstructionAck{Entity: entity, ModuleID: g.moduleID, Success: true})
}

// TimeoutCount is the cumulative number of peer-wait timeouts forced ACKed.
func (g *Gateway) TimeoutCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.timeoutCount
}

// PendingPeerCount reports how many entities are currently waiting on peer
// acknowledgement.
func (g *Gateway) PendingPeerCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pendingPeers)
}

// scheduler.Module implementation: the gateway runs alongside the ELM,
// consuming ConstructionOrder/DestructionOrder/EntityLifecycleStatus.

func (g *Gateway) Name() string { return "network_gateway:" + g.moduleID }

func (g *Gateway) Policy() scheduler.ExecutionPolicy {
	return scheduler.ExecutionPolicy{
		Mode:                  scheduler.Synchronous,
		Strategy:              scheduler.Direct,
		TargetFrequencyHz:     60,
		MaxExpectedRuntimeMS:  50,
		FailureThreshold:      1000000,
		CircuitResetTimeoutMS: 1000,
	}
}

func (g *Gateway) RequiredComponents() []kernel.ComponentTypeID { return nil }

// WatchEvents returns nil: the gateway must run every period tick
// regardless of whether an order arrived, since CheckTimeouts needs to fire
// on a schedule, not only when new events are active.
func (g *Gateway) WatchEvents() []events.TypeID { return nil }

func (g *Gateway) WatchComponents() []kernel.ComponentTypeID { return nil }

func (g *Gateway) Tick(view *providers.View, cmd *command.Buffer, dt float32) error {
	g.mu.Lock()
	g.frame++
	frame := g.frame
	g.mu.Unlock()

	for _, order := range events.Consume[ConstructionOrder](view.Bus, ConstructionOrderType) {
		g.handleConstructionOrder(order, cmd)
	}
	for _, order := range events.Consume[DestructionOrder](view.Bus, DestructionOrderType) {
		g.handleDestructionOrder(order, cmd)
	}
	for _, status := range events.Consume[EntityLifecycleStatus](view.Bus, EntityLifecycleStatusType) {
		g.ReceiveLifecycleStatus(status, cmd)
	}
	g.CheckTimeouts(frame, cmd)
	return nil
}
