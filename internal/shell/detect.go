package shell

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// DetectShell detects the user's shell using multiple methods
func DetectShell(ctx context.Context) (*DetectionResult, error) {
	// Method 1: $SHELL (most reliable where it exists)
	if shell := os.Getenv(envShell); shell != "" {
		shellType := ParseShell(shell)
		if shellType.IsValid() {
			return &DetectionResult{
				Shell:      shellType,
				Method:     "$SHELL environment variable",
				ShellPath:  shell,
				Confidence: "high",
			}, nil
		}
	}

	// Method 2: parent process name
	if shellType, name := detectFromParentProcess(ctx); shellType.IsValid() {
		return &DetectionResult{
			Shell:      shellType,
			Method:     "parent process",
			ShellPath:  name,
			Confidence: "medium",
		}, nil
	}

	// Method 3: Windows environment hints
	if runtime.GOOS == "windows" {
		return detectFromWindowsEnv(), nil
	}

	return &DetectionResult{
		Shell:      ShellUnknown,
		Method:     "detection failed",
		ShellPath:  "",
		Confidence: "none",
	}, nil
}

// ParseShell maps a shell binary path or name to a shell type.
// Examples:
//   - /bin/bash -> bash
//   - /usr/bin/zsh -> zsh
//   - C:\Windows\System32\cmd.exe -> cmd
//   - pwsh -> powershell
func ParseShell(shellPath string) ShellType {
	// filepath.Base does not split on '\' outside Windows
	name := shellPath
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(strings.ToLower(name), ".exe")

	switch name {
	case "bash", "-bash":
		return ShellBash
	case "zsh", "-zsh":
		return ShellZsh
	case "fish", "-fish":
		return ShellFish
	case "powershell", "pwsh":
		return ShellPowerShell
	case "cmd":
		return ShellCmd
	default:
		return ShellUnknown
	}
}

func detectFromParentProcess(ctx context.Context) (ShellType, string) {
	parent, err := process.NewProcessWithContext(ctx, int32(os.Getppid()))
	if err != nil {
		return ShellUnknown, ""
	}
	name, err := parent.NameWithContext(ctx)
	if err != nil {
		return ShellUnknown, ""
	}
	return ParseShell(name), name
}

func detectFromWindowsEnv() *DetectionResult {
	if os.Getenv(envPSModulePath) != "" {
		return &DetectionResult{
			Shell:      ShellPowerShell,
			Method:     "PSModulePath environment variable",
			Confidence: "low",
		}
	}
	result := &DetectionResult{
		Shell:      ShellCmd,
		Method:     "ComSpec environment variable",
		Confidence: "low",
	}
	if comspec := os.Getenv(envComSpec); comspec != "" {
		result.ShellPath = filepath.Clean(comspec)
	}
	return result
}

// ValidateShell validates that a shell type is supported
func ValidateShell(shell ShellType) error {
	if !shell.IsValid() {
		return &UnsupportedShellError{Shell: shell.String()}
	}
	return nil
}

// GetSupportedShells returns a list of supported shells
func GetSupportedShells() []ShellType {
	return []ShellType{ShellBash, ShellZsh, ShellFish, ShellPowerShell, ShellCmd}
}
