package config

import (
	lua "github.com/yuin/gopher-lua"
)

// blockedGlobals are removed from every VM before user code runs.
var blockedGlobals = []string{
	// system commands, environment and filesystem
	"os", "io",
	// loading external code
	"require", "dofile", "loadfile", "load", "loadstring", "module",
	// escaping the sandbox or the read-only platform table
	"debug", "getmetatable", "setmetatable", "rawget", "rawset", "rawequal",
	"getfenv", "setfenv", "collectgarbage",
}

// sandboxLuaVM strips everything from L that reaches outside the VM.
func sandboxLuaVM(L *lua.LState) {
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
}

// newSandboxedVM creates a Lua VM with sandboxing applied.
func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	sandboxLuaVM(L)
	return L
}
