package platform

import (
	lua "github.com/yuin/gopher-lua"
)

// GlobalName is the Lua global the platform table is bound to.
const GlobalName = "platform"

// Inject binds a read-only platform table describing info as a global in L.
// It must run before any user code is evaluated.
func Inject(L *lua.LState, info *Info) {
	t := L.NewTable()

	L.SetField(t, "os", lua.LString(info.OS))
	L.SetField(t, "arch", lua.LString(info.Arch))
	L.SetField(t, "is_linux", lua.LBool(info.IsLinux()))
	L.SetField(t, "is_macos", lua.LBool(info.IsMacOS()))
	L.SetField(t, "is_windows", lua.LBool(info.IsWindows()))

	if info.IsLinux() && info.Distro != "" {
		d := L.NewTable()
		L.SetField(d, "id", lua.LString(info.Distro))
		L.SetField(d, "family", lua.LString(info.Family))
		L.SetField(d, "release", lua.LString(info.Release))
		L.SetField(t, "distro", d)
	}

	for _, f := range []string{FamilyDebian, FamilyRHEL, FamilyFedora, FamilySUSE, FamilyArch, FamilyAlpine} {
		L.SetField(t, "is_"+f, lua.LBool(info.InFamily(f)))
	}

	// when(cond, value) yields value if cond holds and nil otherwise, so a
	// package table entry can disappear on hosts it does not apply to.
	L.SetField(t, "when", L.NewFunction(func(L *lua.LState) int {
		if L.CheckBool(1) {
			L.Push(L.Get(2))
		} else {
			L.Push(lua.LNil)
		}
		return 1
	}))

	L.SetGlobal(GlobalName, readOnly(L, t))
}

// readOnly returns an empty proxy whose metatable forwards reads to t and
// raises on writes.
func readOnly(L *lua.LState, t *lua.LTable) *lua.LTable {
	mt := L.NewTable()
	L.SetField(mt, "__index", t)
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		L.RaiseError("platform table is read-only")
		return 0
	}))
	L.SetField(mt, "__metatable", lua.LString("protected"))

	proxy := L.NewTable()
	L.SetMetatable(proxy, mt)
	return proxy
}
