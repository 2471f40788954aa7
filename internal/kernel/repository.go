package kernel

import "sync"

type entityHeader struct {
	alive      bool
	generation uint32
	mask       BitMask256
	lifecycle  Lifecycle
}

// Repository composes the entity index, component tables and registry into
// the single object the rest of the system programs against: CRUD,
// querying, versioned access, ticking, masked replication (SyncFrom) and
// SoftClear.
type Repository struct {
	mu sync.RWMutex

	registry      *Registry
	headers       []entityHeader
	freeList      []EntityIndex
	globalVersion uint32

	tables        map[ComponentTypeID]anyTable
	globalTimeID  ComponentTypeID
	globalTimeTbl *Table[GlobalTime]
	timeEntity    Entity

	// Hierarchy/tag metadata (supplemented feature, SPEC_FULL). Graph edges
	// are entity indices, never owning pointers (§9 "cyclic references are
	// not permitted").
	parent   map[EntityIndex]EntityIndex
	children map[EntityIndex][]EntityIndex
	tags     map[EntityIndex]string
	byTag    map[string][]EntityIndex

	// Replica-only bookkeeping for SyncFrom's stale-mask invalidation (see
	// SyncFrom doc comment).
	syncLastVersion map[ComponentTypeID]uint32
	syncLastMask    BitMask256
}

// NewRepository creates an authoritative repository with its own Registry.
// NewReplicaOf should be used instead for a repository meant to be a
// snapshot-provider replica, so that component-type ids line up.
func NewRepository() *Repository {
	return newRepository(NewRegistry())
}

// NewReplicaOf creates a repository sharing reg — typically the Registry of
// the live/authoritative repository a provider will be snapshotting from,
// so that ComponentTypeIDs agree without any translation step.
func NewReplicaOf(reg *Registry) *Repository {
	return newRepository(reg)
}

func newRepository(reg *Registry) *Repository {
	r := &Repository{
		registry:        reg,
		tables:          make(map[ComponentTypeID]anyTable),
		parent:          make(map[EntityIndex]EntityIndex),
		children:        make(map[EntityIndex][]EntityIndex),
		tags:            make(map[EntityIndex]string),
		byTag:           make(map[string][]EntityIndex),
		syncLastVersion: make(map[ComponentTypeID]uint32),
		globalVersion:   1,
	}
	if id, ok := reg.IDByName(GlobalTimeTypeName); ok {
		r.globalTimeID = id
	} else {
		id, tbl, err := Register[GlobalTime](reg, GlobalTimeTypeName, DefaultPolicy, DefaultChunkSize, nil)
		if err != nil {
			panic(err)
		}
		r.globalTimeID = id
		r.globalTimeTbl = tbl
		r.tables[id] = tbl
	}
	if r.globalTimeTbl == nil {
		tbl, err := r.ensureTable(r.globalTimeID)
		if err == nil {
			if t, ok := tbl.(*Table[GlobalTime]); ok {
				r.globalTimeTbl = t
			}
		}
	}
	r.timeEntity = r.createEntityLocked()
	r.globalTimeTbl.Add(r.timeEntity.Index, GlobalTime{TimeScale: 1}, r.globalVersion)
	r.headers[r.timeEntity.Index].mask = r.headers[r.timeEntity.Index].mask.Set(r.globalTimeID)
	return r
}

func (r *Repository) Registry() *Registry { return r.registry }

func (r *Repository) GlobalVersion() uint32 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.globalVersion
}

// TimeEntity returns the singleton entity carrying the GlobalTime component.
func (r *Repository) TimeEntity() Entity { return r.timeEntity }

func (r *Repository) Time() GlobalTime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	gt, _ := r.globalTimeTbl.GetRO(r.timeEntity.Index)
	return gt
}

// Tick advances the global version and folds dt into the GlobalTime
// singleton. It does not decide dt itself — that's the scheduler's time
// controller's job (see package scheduler).
func (r *Repository) Tick(dt float32) GlobalTime {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.globalVersion++
	gt, _ := r.globalTimeTbl.GetRW(r.timeEntity.Index, r.globalVersion)
	gt.FrameNumber++
	gt.DeltaSeconds = dt
	gt.TotalSeconds += float64(dt)
	if gt.TimeScale == 0 {
		gt.TimeScale = 1
	}
	return *gt
}

// ---- entity lifecycle ----

func (r *Repository) CreateEntity() Entity {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.createEntityLocked()
	r.globalVersion++
	return e
}

func (r *Repository) createEntityLocked() Entity {
	if n := len(r.freeList); n > 0 {
		idx := r.freeList[n-1]
		r.freeList = r.freeList[:n-1]
		h := &r.headers[idx]
		h.alive = true
		h.generation++
		h.mask = BitMask256{}
		h.lifecycle = Active
		return Entity{Index: idx, Generation: h.generation}
	}
	idx := EntityIndex(len(r.headers))
	r.headers = append(r.headers, entityHeader{alive: true, generation: 1, lifecycle: Active})
	return Entity{Index: idx, Generation: 1}
}

// DestroyEntity invalidates e's handle (the slot is marked dead and freed;
// its generation is bumped when the slot is reused, I4) and removes its
// components from every table that carried them.
func (r *Repository) DestroyEntity(e Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isValidLocked(e) {
		return errEntityNotFound(e)
	}
	h := &r.headers[e.Index]
	for _, id := range r.registry.RegisteredIDs() {
		if h.mask.Test(id) {
			if tbl, ok := r.tables[id]; ok {
				tbl.RemoveEntity(e.Index, r.globalVersion+1)
			}
		}
	}
	r.cleanupRelationships(e.Index)
	h.alive = false
	h.mask = BitMask256{}
	r.freeList = append(r.freeList, e.Index)
	r.globalVersion++
	return nil
}

func (r *Repository) IsAlive(e Entity) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isValidLocked(e)
}

func (r *Repository) isValidLocked(e Entity) bool {
	if int(e.Index) >= len(r.headers) {
		return false
	}
	h := r.headers[e.Index]
	return h.alive && h.generation == e.Generation
}

func (r *Repository) Lifecycle(e Entity) (Lifecycle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.isValidLocked(e) {
		return 0, false
	}
	return r.headers[e.Index].lifecycle, true
}

func (r *Repository) SetLifecycle(e Entity, l Lifecycle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isValidLocked(e) {
		return errEntityNotFound(e)
	}
	r.headers[e.Index].lifecycle = l
	return nil
}

func (r *Repository) ComponentMask(e Entity) (BitMask256, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.isValidLocked(e) {
		return BitMask256{}, false
	}
	return r.headers[e.Index].mask, true
}

func (r *Repository) HasComponent(e Entity, id ComponentTypeID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.isValidLocked(e) {
		return false
	}
	return r.headers[e.Index].mask.Test(id)
}

// LiveEntities returns every currently-alive entity handle. Prefer Query()
// for masked iteration over large entity counts.
func (r *Repository) LiveEntities() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entity, 0, len(r.headers)-len(r.freeList))
	for idx, h := range r.headers {
		if h.alive {
			out = append(out, Entity{Index: EntityIndex(idx), Generation: h.generation})
		}
	}
	return out
}

func (r *Repository) EntityCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.headers) - len(r.freeList)
}

func (r *Repository) lookupTable(id ComponentTypeID) (anyTable, bool) {
	tbl, ok := r.tables[id]
	return tbl, ok
}

func (r *Repository) ensureTable(id ComponentTypeID) (anyTable, error) {
	if tbl, ok := r.tables[id]; ok {
		return tbl, nil
	}
	tbl, ok := r.registry.NewTableFor(id)
	if !ok {
		return nil, errUnregisteredComponent(id)
	}
	r.tables[id] = tbl
	return tbl, nil
}

// ---- typed component CRUD (package-level generics: methods can't carry
// their own type parameters in Go) ----

// AddComponent attaches a new component value to e. Returns
// ComponentAlreadyExists if e already carries this type.
func AddComponent[T any](r *Repository, id ComponentTypeID, e Entity, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isValidLocked(e) {
		return errEntityNotFound(e)
	}
	anyTbl, err := r.ensureTable(id)
	if err != nil {
		return err
	}
	tbl, ok := anyTbl.(*Table[T])
	if !ok {
		return errUnregisteredComponent(id)
	}
	r.globalVersion++
	if !tbl.Add(e.Index, v, r.globalVersion) {
		return errComponentExists(e, id)
	}
	r.headers[e.Index].mask = r.headers[e.Index].mask.Set(id)
	return nil
}

// SetComponent upserts a component value, creating it if absent.
func SetComponent[T any](r *Repository, id ComponentTypeID, e Entity, v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isValidLocked(e) {
		return errEntityNotFound(e)
	}
	anyTbl, err := r.ensureTable(id)
	if err != nil {
		return err
	}
	tbl, ok := anyTbl.(*Table[T])
	if !ok {
		return errUnregisteredComponent(id)
	}
	r.globalVersion++
	tbl.Set(e.Index, v, r.globalVersion)
	r.headers[e.Index].mask = r.headers[e.Index].mask.Set(id)
	return nil
}

// RemoveComponent detaches a component from e, if present.
func (r *Repository) RemoveComponent(id ComponentTypeID, e Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isValidLocked(e) {
		return errEntityNotFound(e)
	}
	tbl, ok := r.tables[id]
	if !ok {
		return errUnregisteredComponent(id)
	}
	r.globalVersion++
	if !tbl.RemoveEntity(e.Index, r.globalVersion) {
		return errComponentNotFound(e, id)
	}
	r.headers[e.Index].mask = r.headers[e.Index].mask.Clear(id)
	return nil
}

// GetComponentRO returns a read-only copy without bumping any chunk version.
func GetComponentRO[T any](r *Repository, id ComponentTypeID, e Entity) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var zero T
	if !r.isValidLocked(e) {
		return zero, errEntityNotFound(e)
	}
	anyTbl, ok := r.tables[id]
	if !ok {
		return zero, errUnregisteredComponent(id)
	}
	tbl, ok := anyTbl.(*Table[T])
	if !ok {
		return zero, errUnregisteredComponent(id)
	}
	v, ok := tbl.GetRO(e.Index)
	if !ok {
		return zero, errComponentNotFound(e, id)
	}
	return v, nil
}

// GetComponentRW returns a mutable pointer, stamping the owning chunk with
// the current global version.
func GetComponentRW[T any](r *Repository, id ComponentTypeID, e Entity) (*T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isValidLocked(e) {
		return nil, errEntityNotFound(e)
	}
	anyTbl, ok := r.tables[id]
	if !ok {
		return nil, errUnregisteredComponent(id)
	}
	tbl, ok := anyTbl.(*Table[T])
	if !ok {
		return nil, errUnregisteredComponent(id)
	}
	r.globalVersion++
	v, ok := tbl.GetRW(e.Index, r.globalVersion)
	if !ok {
		return nil, errComponentNotFound(e, id)
	}
	return v, nil
}

// HasComponentChanged reports whether type id has had any chunk write since
// version `since` — the predicate reactive triggers poll against.
func (r *Repository) HasComponentChanged(id ComponentTypeID, since uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tbl, ok := r.tables[id]
	if !ok {
		return false
	}
	return tbl.HasChanges(since)
}

// ---- hierarchy / tags (supplemented feature) ----

func (r *Repository) SetParent(child, parent Entity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isValidLocked(child) || !r.isValidLocked(parent) {
		return errEntityNotFound(child)
	}
	if old, ok := r.parent[child.Index]; ok {
		r.removeFromChildren(old, child.Index)
	}
	r.parent[child.Index] = parent.Index
	r.children[parent.Index] = append(r.children[parent.Index], child.Index)
	return nil
}

func (r *Repository) removeFromChildren(parent, child EntityIndex) {
	kids := r.children[parent]
	for i, k := range kids {
		if k == child {
			r.children[parent] = append(kids[:i], kids[i+1:]...)
			break
		}
	}
}

func (r *Repository) cleanupRelationships(idx EntityIndex) {
	if p, ok := r.parent[idx]; ok {
		r.removeFromChildren(p, idx)
		delete(r.parent, idx)
	}
	delete(r.children, idx)
	if tag, ok := r.tags[idx]; ok {
		r.removeFromTag(tag, idx)
		delete(r.tags, idx)
	}
}

func (r *Repository) removeFromTag(tag string, idx EntityIndex) {
	list := r.byTag[tag]
	for i, e := range list {
		if e == idx {
			r.byTag[tag] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (r *Repository) SetTag(e Entity, tag string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isValidLocked(e) {
		return errEntityNotFound(e)
	}
	if old, ok := r.tags[e.Index]; ok {
		r.removeFromTag(old, e.Index)
	}
	r.tags[e.Index] = tag
	r.byTag[tag] = append(r.byTag[tag], e.Index)
	return nil
}

func (r *Repository) FindByTag(tag string) []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idxs := r.byTag[tag]
	out := make([]Entity, 0, len(idxs))
	for _, idx := range idxs {
		out = append(out, Entity{Index: idx, Generation: r.headers[idx].generation})
	}
	return out
}

// ---- SoftClear ----

// SoftClear destroys every entity, resets every table, and resets
// global_version to 1. The repository remains registered (its Registry and
// table set survive). Used to return a pooled replica to a clean state
// before it's pushed back into a Pool.
func (r *Repository) SoftClear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.headers = r.headers[:0]
	r.freeList = r.freeList[:0]
	for _, tbl := range r.tables {
		tbl.Clear()
	}
	r.parent = make(map[EntityIndex]EntityIndex)
	r.children = make(map[EntityIndex][]EntityIndex)
	r.tags = make(map[EntityIndex]string)
	r.byTag = make(map[string][]EntityIndex)
	r.syncLastVersion = make(map[ComponentTypeID]uint32)
	r.syncLastMask = BitMask256{}
	r.globalVersion = 1
	r.timeEntity = r.createEntityLocked()
	r.globalTimeTbl.Add(r.timeEntity.Index, GlobalTime{TimeScale: 1}, r.globalVersion)
	r.headers[r.timeEntity.Index].mask = r.headers[r.timeEntity.Index].mask.Set(r.globalTimeID)
}

// SyncFrom replicates src into r according to mask (the provider's snapshot
// mask): every component type set in mask (intersected with each type's
// Snapshotable policy unless includeTransient is true, minus exclude) is
// brought up to date; every entity header is brought up to date too so
// entity liveness/generation agree between src and r. This is the operation
// snapshot providers call once per sync point (GDB once/frame, SoD per
// acquire).
//
// Types that leave the effective mask between calls are fully Clear()'d on r
// and have their syncLastVersion entry dropped, so that if the type later
// re-enters the mask it gets a full resync rather than a partial one bridged
// across the gap it was excluded for.
func (r *Repository) SyncFrom(src *Repository, mask BitMask256, includeTransient bool, exclude BitMask256) error {
	src.mu.RLock()
	srcHeaders := make([]entityHeader, len(src.headers))
	copy(srcHeaders, src.headers)
	srcVersion := src.globalVersion
	srcTables := make(map[ComponentTypeID]anyTable, len(src.tables))
	for id, tbl := range src.tables {
		srcTables[id] = tbl
	}
	src.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	effective := mask
	if !includeTransient {
		effective = effective.Intersection(r.registry.SnapshotableMask())
	}
	effective = effective.Subtract(exclude)

	// Types that dropped out of the effective mask since the last sync get
	// purged and forgotten so re-inclusion forces a full resync.
	for _, id := range r.registry.RegisteredIDs() {
		wasIn := r.syncLastMask.Test(id)
		isIn := effective.Test(id)
		if wasIn && !isIn {
			if tbl, ok := r.tables[id]; ok {
				tbl.Clear()
			}
			delete(r.syncLastVersion, id)
		}
	}

	// Bring entity headers up to date: liveness, generation, mask (restricted
	// to the effective types this replica actually tracks).
	if len(srcHeaders) > len(r.headers) {
		grow := make([]entityHeader, len(srcHeaders)-len(r.headers))
		r.headers = append(r.headers, grow...)
	}
	for idx := range srcHeaders {
		sh := srcHeaders[idx]
		dh := &r.headers[EntityIndex(idx)]
		if !sh.alive {
			if dh.alive {
				for _, id := range r.registry.RegisteredIDs() {
					if dh.mask.Test(id) {
						if tbl, ok := r.tables[id]; ok {
							tbl.RemoveEntity(EntityIndex(idx), srcVersion)
						}
					}
				}
			}
			dh.alive = false
			dh.generation = sh.generation
			dh.mask = BitMask256{}
			continue
		}
		dh.alive = true
		dh.generation = sh.generation
		dh.lifecycle = sh.lifecycle
		dh.mask = sh.mask.Intersection(effective)

		// Narrowed mask: evict any effective-tracked type this entity no
		// longer carries in the source.
		for _, id := range r.registry.RegisteredIDs() {
			if !effective.Test(id) {
				continue
			}
			if !sh.mask.Test(id) {
				if tbl, ok := r.tables[id]; ok {
					tbl.RemoveEntity(EntityIndex(idx), srcVersion)
				}
			}
		}
	}

	// Per-type dirty-chunk sync, schema propagated lazily via the shared
	// registry.
	for _, id := range r.registry.RegisteredIDs() {
		if !effective.Test(id) {
			continue
		}
		srcTbl, ok := srcTables[id]
		if !ok {
			continue
		}
		destTbl, err := r.ensureTable(id)
		if err != nil {
			return err
		}
		since := r.syncLastVersion[id]
		if err := destTbl.SyncFrom(srcTbl, since); err != nil {
			return err
		}
		r.syncLastVersion[id] = srcVersion
	}

	r.syncLastMask = effective
	r.globalVersion = srcVersion
	return nil
}
