package shell

// PathEnv is the command-search path variable.
const PathEnv = "PATH"

// Environment variables consulted by shell detection.
const (
	envShell        = "SHELL"
	envComSpec      = "ComSpec"
	envPSModulePath = "PSModulePath"
)
