package config

// Lua manifest schema
const (
	luaGlobalPortable = "portable"
	luaFieldName      = "name"
	luaFieldURL       = "url"
	luaFieldArchive   = "archive"
	luaFieldInstall   = "install_dir"
	luaFieldBinDir    = "bin_dir"
	luaFieldEnvVar    = "env_var"
	luaFieldMinSize   = "min_size"
	luaFieldProbe     = "probe"
)

// EnvPrefix is the prefix of environment variables read into Settings
// (PORTABLE_ROOT, PORTABLE_LOG_LEVEL, ...).
const EnvPrefix = "PORTABLE"
