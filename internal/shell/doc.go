// Package shell configures the command-search path for provisioned tools.
//
// Changes are always session scoped. Apply edits the environment of the
// current process, which children started afterwards inherit. PrependPath
// builds a modified copy of an environment for a child process without
// touching the caller. ExportScript renders the same change as a snippet a
// parent shell can evaluate:
//
//	eval "$(portable env --shell bash)"
//
// Nothing in this package writes shell rc files or the persistent user or
// system environment.
//
// # Shell Detection
//
// DetectShell tries, in order:
//  1. $SHELL (POSIX systems)
//  2. the parent process name, via gopsutil
//  3. PSModulePath / ComSpec on Windows
package shell
