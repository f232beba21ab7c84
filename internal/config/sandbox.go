package config

import (
	lua "github.com/yuin/gopher-lua"
)

// sandboxLuaVM strips everything that reaches outside the VM (os, io,
// module loading, debug). string, table and math stay available so
// manifests can build URLs.
func sandboxLuaVM(L *lua.LState) {
	for _, name := range []string{
		"os", "io", "debug",
		"require", "dofile", "loadfile", "load", "loadstring",
	} {
		L.SetGlobal(name, lua.LNil)
	}
}

func newSandboxedVM() *lua.LState {
	L := lua.NewState()
	sandboxLuaVM(L)
	return L
}
