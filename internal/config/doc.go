// Package config loads the installer configuration from galah.lua.
//
// The file is ordinary Lua evaluated in a sandboxed gopher-lua VM. It must
// assign a global table named galah:
//
//	galah = {
//	  server = "updates.example.org:80",
//	  public_key = "release.pub.pem",
//	  timeout = 30,
//	  max_index_size = 1048576,
//	  max_artifact_size = 536870912,
//	  workers = 2,
//	  state_dir = "/var/lib/galah",
//	  cache_dir = "/var/cache/galah",
//	  packages = {
//	    galah = "0.3.0",
//	    ["galah-agent"] = platform.when(platform.is_linux, "1.2.0"),
//	  },
//	}
//
// A read-only platform table describing the host is available while the
// file runs, so the desired package set can vary between machines. Entries
// that evaluate to nil are dropped.
//
// # Sandbox
//
// The os, io, and debug libraries are removed, as are require, dofile,
// loadfile, load, loadstring, getmetatable, setmetatable, rawget, rawset,
// rawequal, and collectgarbage. string, table, and math stay available.
// Evaluation is bound to the caller's context.
//
// # Errors
//
// Lua failures are reported as *ParseError and schema violations as
// *ValidationError. FormatError renders either for the terminal.
package config
