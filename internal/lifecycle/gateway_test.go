package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"simcore/internal/command"
	"simcore/internal/events"
	"simcore/internal/kernel"
	"simcore/internal/providers"
)

type staticTopology struct {
	peers map[uint32][]string
}

func (t staticTopology) PeersForType(typeID uint32) []string { return t.peers[typeID] }

func Test_Gateway_NoMarkerAcksImmediately(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	topo := staticTopology{peers: map[uint32][]string{1: {"node1", "node2"}}}
	gw := NewGateway("gateway", "node1", topo, 300)
	e := repo.CreateEntity()
	cmd := command.NewBuffer()

	// Act
	gw.handleConstructionOrder(ConstructionOrder{Entity: e, TypeID: 1, Frame: 0}, cmd)
	cmd.Playback(repo, bus)

	// Assert
	acks := events.Consume[ConstructionAck](bus, ConstructionAckType)
	assert.Len(t, acks, 0) // not yet swapped
	bus.SwapBuffers()
	acks = events.Consume[ConstructionAck](bus, ConstructionAckType)
	assert.Len(t, acks, 1)
	assert.True(t, acks[0].Success)
}

func Test_Gateway_MarkedEntityWithNoPeersAcksImmediately(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	topo := staticTopology{peers: map[uint32][]string{1: {"node1"}}}
	gw := NewGateway("gateway", "node1", topo, 300)
	e := repo.CreateEntity()
	cmd := command.NewBuffer()
	gw.MarkPendingNetworkAck(e)

	// Act
	gw.handleConstructionOrder(ConstructionOrder{Entity: e, TypeID: 1, Frame: 0}, cmd)
	cmd.Playback(repo, bus)
	bus.SwapBuffers()

	// Assert
	assert.Len(t, events.Consume[ConstructionAck](bus, ConstructionAckType), 1)
	assert.Equal(t, 0, gw.PendingPeerCount())
}

func Test_Gateway_WaitsForAllPeersBeforeAcking(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	topo := staticTopology{peers: map[uint32][]string{1: {"node1", "node2", "node3"}}}
	gw := NewGateway("gateway", "node1", topo, 300)
	e := repo.CreateEntity()
	cmd := command.NewBuffer()
	gw.MarkPendingNetworkAck(e)

	// Act
	gw.handleConstructionOrder(ConstructionOrder{Entity: e, TypeID: 1, Frame: 0}, cmd)
	cmd.Playback(repo, bus)
	bus.SwapBuffers()

	// Assert: no ack yet, one entity still waiting on its peers.
	assert.Len(t, events.Consume[ConstructionAck](bus, ConstructionAckType), 0)
	assert.Equal(t, 1, gw.PendingPeerCount())

	// Act: first peer reports, second peer reports.
	gw.ReceiveLifecycleStatus(EntityLifecycleStatus{Entity: e, Node: "node2", State: kernel.Active}, cmd)
	gw.ReceiveLifecycleStatus(EntityLifecycleStatus{Entity: e, Node: "node3", State: kernel.Active}, cmd)
	cmd.Playback(repo, bus)
	bus.SwapBuffers()

	// Assert
	assert.Len(t, events.Consume[ConstructionAck](bus, ConstructionAckType), 1)
	assert.Equal(t, 0, gw.PendingPeerCount())
}

func Test_Gateway_DuplicatePeerStatusIsIdempotent(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	topo := staticTopology{peers: map[uint32][]string{1: {"node1", "node2"}}}
	gw := NewGateway("gateway", "node1", topo, 300)
	e := repo.CreateEntity()
	cmd := command.NewBuffer()
	gw.MarkPendingNetworkAck(e)
	gw.handleConstructionOrder(ConstructionOrder{Entity: e, TypeID: 1, Frame: 0}, cmd)

	// Act: same node reports twice.
	gw.ReceiveLifecycleStatus(EntityLifecycleStatus{Entity: e, Node: "node2", State: kernel.Active}, cmd)
	gw.ReceiveLifecycleStatus(EntityLifecycleStatus{Entity: e, Node: "node2", State: kernel.Active}, cmd)
	cmd.Playback(repo, bus)
	bus.SwapBuffers()

	// Assert: already satisfied (only one peer expected), ack fired once.
	assert.Len(t, events.Consume[ConstructionAck](bus, ConstructionAckType), 1)
}

func Test_Gateway_DestructionOrderClearsPendingTracking(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	topo := staticTopology{peers: map[uint32][]string{1: {"node1", "node2"}}}
	gw := NewGateway("gateway", "node1", topo, 300)
	e := repo.CreateEntity()
	cmd := command.NewBuffer()
	gw.MarkPendingNetworkAck(e)
	gw.handleConstructionOrder(ConstructionOrder{Entity: e, TypeID: 1, Frame: 0}, cmd)
	assert.Equal(t, 1, gw.PendingPeerCount())

	// Act
	gw.handleDestructionOrder(DestructionOrder{Entity: e, Frame: 1}, cmd)

	// Assert
	assert.Equal(t, 0, gw.PendingPeerCount())
	cmd.Playback(repo, bus)
	bus.SwapBuffers()
	assert.Len(t, events.Consume[DestructionAck](bus, DestructionAckType), 1)
}

func Test_Gateway_TimeoutAcksAnyway(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	topo := staticTopology{peers: map[uint32][]string{1: {"node1", "node2"}}}
	gw := NewGateway("gateway", "node1", topo, 5)
	e := repo.CreateEntity()
	cmd := command.NewBuffer()
	gw.MarkPendingNetworkAck(e)
	gw.handleConstructionOrder(ConstructionOrder{Entity: e, TypeID: 1, Frame: 0}, cmd)

	// Act
	n := gw.CheckTimeouts(10, cmd)
	cmd.Playback(repo, bus)
	bus.SwapBuffers()

	// Assert
	assert.Equal(t, 1, n)
	assert.Len(t, events.Consume[ConstructionAck](bus, ConstructionAckType), 1)
	assert.Equal(t, 1, gw.TimeoutCount())
}

func Test_Gateway_TickDrainsOrdersAndStatuses(t *testing.T) {
	// Arrange
	repo := kernel.NewRepository()
	bus := events.NewBus()
	topo := staticTopology{peers: map[uint32][]string{1: {"node1"}}}
	gw := NewGateway("gateway", "node1", topo, 300)
	e := repo.CreateEntity()
	cmd := command.NewBuffer()
	events.Publish(bus, ConstructionOrderType, ConstructionOrder{Entity: e, TypeID: 1, Frame: 0})
	bus.SwapBuffers()

	// Act
	view := &providers.View{Repo: repo, Bus: bus}
	err := gw.Tick(view, cmd, 1.0/60.0)
	cmd.Playback(repo, bus)
	bus.SwapBuffers()

	// Assert
	assert.NoError(t, err)
	assert.Len(t, events.Consume[ConstructionAck](bus, ConstructionAckType), 1)
}
