// Package mbscript is the optional script/test-bench ABI (§6): byte-level
// backdoors into a named shared-memory space, exposed to a Lua sandbox
// so external test benches can poke at a channel's memory without
// going through the RPC protocol at all.
package mbscript

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/mbrpc/mbrpc/pkg/mbshm"
)

// SpaceResolver maps a channel name to the shared-memory space backing
// it, the name→space resolver required by §6.
type SpaceResolver func(channelName string) (*mbshm.Space, bool)

const spaceTypeName = "mbspace"

// Engine is a Lua sandbox with the space backdoor functions installed.
type Engine struct {
	L        *lua.LState
	resolver SpaceResolver
}

// New creates an Engine whose get_space(name) passes name unchanged to
// resolver.
func New(resolver SpaceResolver) *Engine {
	e := &Engine{L: lua.NewState(), resolver: resolver}
	e.registerBuiltins()
	return e
}

// Close releases the underlying Lua state.
func (e *Engine) Close() {
	e.L.Close()
}

// DoString runs script in the engine's Lua state.
func (e *Engine) DoString(script string) error {
	return e.L.DoString(script)
}

func (e *Engine) registerBuiltins() {
	mt := e.L.NewTypeMetatable(spaceTypeName)
	methods := e.L.NewTable()
	e.L.SetFuncs(methods, spaceMethods)
	e.L.SetField(mt, "__index", methods)

	e.L.SetGlobal("get_space", e.L.NewFunction(e.luaGetSpace))
}

func (e *Engine) luaGetSpace(L *lua.LState) int {
	name := L.CheckString(1)
	space, ok := e.resolver(name)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	ud := L.NewUserData()
	ud.Value = space
	L.SetMetatable(ud, L.GetTypeMetatable(spaceTypeName))
	L.Push(ud)
	return 1
}

func checkSpace(L *lua.LState) *mbshm.Space {
	ud := L.CheckUserData(1)
	space, ok := ud.Value.(*mbshm.Space)
	if !ok {
		L.ArgError(1, "expected a space handle from get_space")
		return nil
	}
	return space
}

var spaceMethods = map[string]lua.LGFunction{
	"read_u8":      spaceReadU8,
	"write_u8":     spaceWriteU8,
	"read_u16":     spaceReadU16,
	"write_u16":    spaceWriteU16,
	"read_u32":     spaceReadU32,
	"write_u32":    spaceWriteU32,
	"read_u64":     spaceReadU64,
	"write_u64":    spaceWriteU64,
	"read_string":  spaceReadString,
	"write_string": spaceWriteString,
}

func spaceReadU8(L *lua.LState) int {
	s := checkSpace(L)
	v, ok := s.ReadU8(uint64(L.CheckInt64(2)))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(v))
	return 1
}

func spaceWriteU8(L *lua.LState) int {
	s := checkSpace(L)
	ok := s.WriteU8(uint64(L.CheckInt64(2)), uint8(L.CheckInt(3)))
	L.Push(lua.LBool(ok))
	return 1
}

func spaceReadU16(L *lua.LState) int {
	s := checkSpace(L)
	v, ok := s.ReadU16(uint64(L.CheckInt64(2)))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(v))
	return 1
}

func spaceWriteU16(L *lua.LState) int {
	s := checkSpace(L)
	ok := s.WriteU16(uint64(L.CheckInt64(2)), uint16(L.CheckInt(3)))
	L.Push(lua.LBool(ok))
	return 1
}

func spaceReadU32(L *lua.LState) int {
	s := checkSpace(L)
	v, ok := s.ReadU32(uint64(L.CheckInt64(2)))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(v))
	return 1
}

func spaceWriteU32(L *lua.LState) int {
	s := checkSpace(L)
	ok := s.WriteU32(uint64(L.CheckInt64(2)), uint32(L.CheckInt64(3)))
	L.Push(lua.LBool(ok))
	return 1
}

func spaceReadU64(L *lua.LState) int {
	s := checkSpace(L)
	v, ok := s.ReadU64(uint64(L.CheckInt64(2)))
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(v))
	return 1
}

func spaceWriteU64(L *lua.LState) int {
	s := checkSpace(L)
	ok := s.WriteU64(uint64(L.CheckInt64(2)), uint64(L.CheckInt64(3)))
	L.Push(lua.LBool(ok))
	return 1
}

func spaceReadString(L *lua.LState) int {
	s := checkSpace(L)
	addr := uint64(L.CheckInt64(2))
	length := L.CheckInt(3)
	buf, ok := s.ReadSlice(addr, length)
	if !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(buf))
	return 1
}

func spaceWriteString(L *lua.LState) int {
	s := checkSpace(L)
	addr := uint64(L.CheckInt64(2))
	str := L.CheckString(3)
	ok := s.WriteSlice(addr, []byte(str))
	L.Push(lua.LBool(ok))
	return 1
}
