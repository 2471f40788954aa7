package kernel

import "sync"

// PolicyFlags records what a registered component type may be used for.
// Flags are immutable after registration (I5): value/record-like types
// default to snapshotable, mutable heap-referencing types default to
// transient unless explicitly opted in by the caller of Register.
type PolicyFlags struct {
	Snapshotable bool // eligible for provider sync (unless transient-excluded)
	Recordable   bool // eligible for the flight recorder / event accumulator
	Saveable     bool // eligible for save/load surfaces layered above the core
	NeedsClone   bool // sync must deep-clone rather than shallow-assign ("snapshot_via_clone")
}

// DefaultPolicy is the policy new value-like component types should use.
var DefaultPolicy = PolicyFlags{Snapshotable: true, Recordable: true, Saveable: true}

// TransientPolicy is the policy for mutable heap-referencing state that must
// not be shared across snapshot replicas by default.
var TransientPolicy = PolicyFlags{Snapshotable: false, Recordable: false, Saveable: false}

type registration struct {
	id        ComponentTypeID
	name      string
	policy    PolicyFlags
	chunkSize int
	newTable  func() anyTable
}

// Registry assigns stable numeric ids to component types and records their
// policy flags. Each Repository owns its own Registry instance (or shares an
// immutable one) — there is no package-level global table, so tests that
// need isolation simply build a fresh Repository (see SPEC_FULL "no global
// mutable state").
type Registry struct {
	mu     sync.RWMutex
	byID   map[ComponentTypeID]*registration
	byName map[string]ComponentTypeID
	next   ComponentTypeID
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[ComponentTypeID]*registration),
		byName: make(map[string]ComponentTypeID),
	}
}

// Register assigns a new ComponentTypeID to name and returns a typed Table
// ready for CRUD. chunkSize <= 0 uses DefaultChunkSize. cloneFn is only
// consulted when policy.NeedsClone is set.
func Register[T any](r *Registry, name string, policy PolicyFlags, chunkSize int, cloneFn func(T) T) (ComponentTypeID, *Table[T], error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[name]; exists {
		return 0, nil, &Error{Kind: PolicyViolation, Message: "component type already registered: " + name}
	}
	if len(r.byID) >= MaxComponentTypes {
		return 0, nil, &Error{Kind: PolicyViolation, Message: "component type registry exhausted (256 types)"}
	}

	id := r.next
	r.next++

	table := NewTable[T](id, policy, chunkSize, cloneFn)
	r.byID[id] = &registration{
		id:        id,
		name:      name,
		policy:    policy,
		chunkSize: chunkSize,
		newTable:  func() anyTable { return NewTable[T](id, policy, chunkSize, cloneFn) },
	}
	r.byName[name] = id
	return id, table, nil
}

func (r *Registry) Policy(id ComponentTypeID) (PolicyFlags, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return PolicyFlags{}, false
	}
	return reg.policy, true
}

func (r *Registry) Name(id ComponentTypeID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.byID[id]
	if !ok {
		return "", false
	}
	return reg.name, true
}

func (r *Registry) IDByName(name string) (ComponentTypeID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	return id, ok
}

func (r *Registry) IsRegistered(id ComponentTypeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.byID[id]
	return ok
}

// NewTableFor instantiates a fresh, empty table matching id's concrete type
// and policy — used by Repository.SyncFrom's schema-propagation step when
// the destination has never seen this component type before.
func (r *Registry) NewTableFor(id ComponentTypeID) (anyTable, bool) {
	r.mu.RLock()
	reg, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return reg.newTable(), true
}

// RegisteredIDs returns every registered ComponentTypeID in ascending order.
func (r *Registry) RegisteredIDs() []ComponentTypeID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]ComponentTypeID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	return ids
}

// SnapshotableMask returns the union of every registered snapshotable type.
func (r *Registry) SnapshotableMask() BitMask256 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var m BitMask256
	for id, reg := range r.byID {
		if reg.policy.Snapshotable {
			m = m.Set(id)
		}
	}
	return m
}
