// Package scripting adapts sandboxed Lua scripts into the scheduler's
// Module contract, so third-party or modder-authored logic can be hosted
// without being compiled into the kernel.
package scripting

import (
	"fmt"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

func newSandboxedState() *lua.LState {
	state := lua.NewState()
	state.SetGlobal("io", lua.LNil)
	state.SetGlobal("dofile", lua.LNil)
	state.SetGlobal("loadfile", lua.LNil)
	state.SetGlobal("os", lua.LNil)
	state.SetGlobal("debug", lua.LNil)
	state.SetGlobal("package", lua.LNil)
	state.SetGlobal("require", lua.LNil)
	return state
}

// goToLua converts a Go value into an lua.LValue, descending into structs
// via reflection and slices/maps element-wise.
func goToLua(state *lua.LState, value any) (lua.LValue, error) {
	if value == nil {
		return lua.LNil, nil
	}
	switch v := value.(type) {
	case string:
		return lua.LString(v), nil
	case bool:
		return lua.LBool(v), nil
	case int:
		return lua.LNumber(float64(v)), nil
	case int64:
		return lua.LNumber(float64(v)), nil
	case float32:
		return lua.LNumber(float64(v)), nil
	case float64:
		return lua.LNumber(v), nil
	case map[string]any:
		table := state.NewTable()
		for key, val := range v {
			luaVal, err := goToLua(state, val)
			if err != nil {
				return nil, err
			}
			table.RawSetString(key, luaVal)
		}
		return table, nil
	default:
		return structToLua(state, value)
	}
}

func structToLua(state *lua.LState, value any) (lua.LValue, error) {
	v := reflect.ValueOf(value)
	t := reflect.TypeOf(value)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
		t = t.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil, fmt.Errorf("scripting: unsupported value type %T", value)
	}

	table := state.NewTable()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanInterface() {
			continue
		}
		name := t.Field(i).Name
		luaVal, err := goToLua(state, field.Interface())
		if err != nil {
			return nil, fmt.Errorf("scripting: field %s: %w", name, err)
		}
		table.RawSetString(name, luaVal)
	}
	return table, nil
}

// luaToGo converts an lua.LValue into a plain Go value suitable for storage
// in a script component (map[string]any), recursing into tables.
func luaToGo(value lua.LValue) any {
	switch v := value.(type) {
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return float64(v)
	case lua.LBool:
		return bool(v)
	case *lua.LTable:
		result := make(map[string]any)
		v.ForEach(func(key, val lua.LValue) {
			result[key.String()] = luaToGo(val)
		})
		return result
	default:
		return nil
	}
}

func luaTableToMap(table *lua.LTable) map[string]any {
	result := make(map[string]any)
	table.ForEach(func(key, val lua.LValue) {
		result[key.String()] = luaToGo(val)
	})
	return result
}
