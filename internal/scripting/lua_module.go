package scripting

import (
	"hash/fnv"
	"time"

	lua "github.com/yuin/gopher-lua"

	"simcore/internal/command"
	"simcore/internal/events"
	"simcore/internal/kernel"
	"simcore/internal/providers"
	"simcore/internal/scheduler"
)

// ScriptComponent is the single component type every Lua-authored
// component value is stored under: a plain string-keyed bag, since scripts
// have no way to register a new Go struct type at runtime. Components with
// different script-side shapes are distinguished by name, not by Go type.
type ScriptComponent = map[string]any

// ResourceLimits bounds what a single script tick may cost, mirroring the
// teacher's mod sandbox but scoped down to what this module actually
// enforces: a wall-clock budget on Tick, and a cap on entities a script may
// create in one turn (guards against a runaway spawn loop).
type ResourceLimits struct {
	MaxExecutionTime   time.Duration
	MaxEntitiesPerTick int
}

func DefaultResourceLimits() ResourceLimits {
	return ResourceLimits{
		MaxExecutionTime:   5 * time.Millisecond,
		MaxEntitiesPerTick: 1000,
	}
}

// LuaModule runs a single sandboxed Lua script as a scheduler.Module. The
// script is expected to define a global `tick(dt)` function; everything it
// does during that call is routed through the `ecs` table this module
// injects, which resolves to the current frame's view/cmd and is torn down
// again once Tick returns.
//
// Scripts never see the live *kernel.Repository or *events.Bus directly —
// only the narrow closures bound into `ecs` — the same restricted-surface
// approach the bridge it's grounded on uses for its own mod API.
type LuaModule struct {
	name   string
	policy scheduler.ExecutionPolicy
	limits ResourceLimits
	state  *lua.LState

	componentTypeID kernel.ComponentTypeID
	haveComponent   bool
}

// NewLuaModule compiles source into a fresh sandboxed VM and registers it
// under name. The script is loaded (top-level statements executed) once,
// here; Tick only invokes its `tick` global from then on.
func NewLuaModule(name, source string, policy scheduler.ExecutionPolicy, limits ResourceLimits) (*LuaModule, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	state := newSandboxedState()
	if err := state.DoString(source); err != nil {
		state.Close()
		return nil, &kernel.Error{Kind: kernel.InvalidState, Message: "scripting: failed to load script " + name + ": " + err.Error()}
	}
	return &LuaModule{name: name, policy: policy, limits: limits, state: state}, nil
}

func (m *LuaModule) Name() string                                { return m.name }
func (m *LuaModule) Policy() scheduler.ExecutionPolicy            { return m.policy }
func (m *LuaModule) RequiredComponents() []kernel.ComponentTypeID { return nil }
func (m *LuaModule) WatchEvents() []events.TypeID                 { return nil }
func (m *LuaModule) WatchComponents() []kernel.ComponentTypeID    { return nil }

// RegisterSystems claims the single component type scripts may attach,
// lazily, the first time any host registers this module — fulfils
// scheduler.SystemRegistrar.
func (m *LuaModule) RegisterSystems(reg *kernel.Registry) error {
	if m.haveComponent {
		return nil
	}
	id, _, err := kernel.Register[ScriptComponent](reg, "script:"+m.name, kernel.TransientPolicy, 0, nil)
	if err != nil {
		return err
	}
	m.componentTypeID = id
	m.haveComponent = true
	return nil
}

// Close releases the underlying Lua VM. A module is expected to live for
// the lifetime of the host it's registered on; Close is for tests and
// explicit unregistration paths.
func (m *LuaModule) Close() {
	m.state.Close()
}

// Tick invokes the script's tick(dt) function with a fresh ecs table bound
// to view/cmd, racing it against the module's MaxExecutionTime. A timeout
// abandons the Lua goroutine rather than killing it — gopher-lua has no
// safe preemption point, so the call is left running against m.state in
// the background; a script that times out repeatedly will eventually trip
// this module's circuit breaker via the scheduler's own failure accounting,
// which is the intended backstop, not this function.
func (m *LuaModule) Tick(view *providers.View, cmd *command.Buffer, dt float32) error {
	api := &scriptAPI{module: m, view: view, cmd: cmd, created: make(map[int]command.EntityRef)}
	ecsTable := api.buildTable(m.state)
	m.state.SetGlobal("ecs", ecsTable)

	fn := m.state.GetGlobal("tick")
	if fn == lua.LNil {
		return nil
	}

	done := make(chan error, 1)
	go func() {
		err := m.state.CallByParam(lua.P{
			Fn:      fn,
			NRet:    0,
			Protect: true,
		}, lua.LNumber(dt))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return &kernel.Error{Kind: kernel.InvalidState, Message: "scripting: " + m.name + " tick failed: " + err.Error()}
		}
		return nil
	case <-time.After(m.limits.MaxExecutionTime):
		return &kernel.Error{Kind: kernel.InvalidState, Message: "scripting: " + m.name + " tick exceeded its execution budget"}
	}
}

// scriptAPI is the per-tick closure state bound into the script's `ecs`
// table: it remembers entities the script created this tick (by the
// integer handle it handed back to Lua) so later ecs.add_component calls
// in the same tick can target them before they're real entities.
type scriptAPI struct {
	module  *LuaModule
	view    *providers.View
	cmd     *command.Buffer
	created map[int]command.EntityRef
	nextID  int
}

func (a *scriptAPI) buildTable(state *lua.LState) *lua.LTable {
	t := state.NewTable()
	t.RawSetString("create_entity", state.NewFunction(a.createEntity))
	t.RawSetString("destroy_entity", state.NewFunction(a.destroyEntity))
	t.RawSetString("add_component", state.NewFunction(a.addComponent))
	t.RawSetString("get_component", state.NewFunction(a.getComponent))
	t.RawSetString("has_component", state.NewFunction(a.hasComponent))
	t.RawSetString("query", state.NewFunction(a.query))
	t.RawSetString("fire_event", state.NewFunction(a.fireEvent))
	return t
}

// entityHandle renders a live entity as the {index=, generation=} table
// scripts pass back in on query/get_component/has_component calls — the
// only representation that round-trips through Lua for an entity that
// already exists, since it carries the generation a real Entity needs.
func entityHandle(state *lua.LState, e kernel.Entity) *lua.LTable {
	t := state.NewTable()
	t.RawSetString("index", lua.LNumber(e.Index))
	t.RawSetString("generation", lua.LNumber(e.Generation))
	return t
}

// resolveRef accepts either a plain number (a local handle returned by this
// same tick's create_entity, not yet a real entity) or a {index,
// generation} table (a handle to an entity that already exists, as
// returned by query) and returns a ref usable for recording a command.
func (a *scriptAPI) resolveRef(v lua.LValue) (command.EntityRef, bool) {
	if e, ok := resolveLiveEntity(v); ok {
		return command.Ref(e), true
	}
	if n, ok := v.(lua.LNumber); ok {
		ref, ok := a.created[int(n)]
		return ref, ok
	}
	return command.EntityRef{}, false
}

// resolveLiveEntity decodes a {index, generation} table handle into the
// kernel.Entity it names. Entities created earlier this same tick have no
// such handle yet — their creation is still only a recorded command — so
// this is only ever satisfied by handles that came out of query().
func resolveLiveEntity(v lua.LValue) (kernel.Entity, bool) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return kernel.Entity{}, false
	}
	idxNum, ok1 := tbl.RawGetString("index").(lua.LNumber)
	genNum, ok2 := tbl.RawGetString("generation").(lua.LNumber)
	if !ok1 || !ok2 {
		return kernel.Entity{}, false
	}
	return kernel.Entity{Index: kernel.EntityIndex(idxNum), Generation: uint32(genNum)}, true
}

func (a *scriptAPI) createEntity(l *lua.LState) int {
	if len(a.created) >= a.module.limits.MaxEntitiesPerTick {
		l.RaiseError("ecs.create_entity: exceeded max_entities_per_tick (%d)", a.module.limits.MaxEntitiesPerTick)
		return 0
	}
	ref := a.cmd.CreateEntity()
	handle := a.nextID
	a.nextID++
	a.created[handle] = ref
	l.Push(lua.LNumber(handle))
	return 1
}

func (a *scriptAPI) destroyEntity(l *lua.LState) int {
	ref, ok := a.resolveRef(l.Get(1))
	if !ok {
		l.RaiseError("ecs.destroy_entity: unknown entity handle")
		return 0
	}
	a.cmd.DestroyEntity(ref)
	return 0
}

// addComponent(handle, name, table) attaches a script component value,
// identified by name, to the entity named by handle. Every script
// component is registered under this module's single ScriptComponent type —
// the name just tags which logical component the payload represents.
func (a *scriptAPI) addComponent(l *lua.LState) int {
	ref, ok := a.resolveRef(l.Get(1))
	if !ok {
		l.RaiseError("ecs.add_component: unknown entity handle")
		return 0
	}
	name := l.CheckString(2)
	payload := l.CheckTable(3)

	value := luaTableToMap(payload)
	value["__name"] = name
	command.AddComponent(a.cmd, ref, a.module.componentTypeID, ScriptComponent(value))
	return 0
}

// query(name) lists every live entity carrying a script component tagged
// name, as a Lua array of entity handles. Reflects the repository as it
// stood at the start of this tick — entities this same tick's script has
// created aren't visible yet, since their creation is still only a
// recorded command.
func (a *scriptAPI) query(l *lua.LState) int {
	name := l.CheckString(1)
	result := l.NewTable()
	i := 1
	for _, e := range a.view.Repo.LiveEntities() {
		value, err := kernel.GetComponentRO[ScriptComponent](a.view.Repo, a.module.componentTypeID, e)
		if err != nil || value["__name"] != name {
			continue
		}
		result.RawSetInt(i, entityHandle(l, e))
		i++
	}
	l.Push(result)
	return 1
}

// getComponent(handle, name) returns the script component named name on
// handle's entity, or nil if it's absent or tagged under a different name.
func (a *scriptAPI) getComponent(l *lua.LState) int {
	e, ok := resolveLiveEntity(l.Get(1))
	if !ok {
		l.Push(lua.LNil)
		return 1
	}
	name := l.CheckString(2)
	value, err := kernel.GetComponentRO[ScriptComponent](a.view.Repo, a.module.componentTypeID, e)
	if err != nil || value["__name"] != name {
		l.Push(lua.LNil)
		return 1
	}
	clean := make(map[string]any, len(value))
	for k, v := range value {
		if k != "__name" {
			clean[k] = v
		}
	}
	lv, err := goToLua(l, clean)
	if err != nil {
		l.Push(lua.LNil)
		return 1
	}
	l.Push(lv)
	return 1
}

// hasComponent(handle, name) is getComponent without the payload copy.
func (a *scriptAPI) hasComponent(l *lua.LState) int {
	e, ok := resolveLiveEntity(l.Get(1))
	if !ok {
		l.Push(lua.LBool(false))
		return 1
	}
	name := l.CheckString(2)
	value, err := kernel.GetComponentRO[ScriptComponent](a.view.Repo, a.module.componentTypeID, e)
	l.Push(lua.LBool(err == nil && value["__name"] == name))
	return 1
}

// fireEvent(name, table) publishes a payload under a synthetic TypeID
// derived from hashing name, since scripts have no access to the host's
// compile-time event type registry. Two scripts that pick the same event
// name collide on the same TypeID by design — it's how they talk to each
// other.
func (a *scriptAPI) fireEvent(l *lua.LState) int {
	name := l.CheckString(1)
	var payload map[string]any
	if tbl, ok := l.Get(2).(*lua.LTable); ok {
		payload = luaTableToMap(tbl)
	}
	id := hashEventName(name)
	command.PublishEvent(a.cmd, id, payload)
	return 0
}

func hashEventName(name string) events.TypeID {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	// Reserve the low range for compiled-in event types; script events live
	// above 1<<20 so an unlucky hash can't collide with one of those.
	return events.TypeID(1<<20 + h.Sum32()%(1<<20))
}
