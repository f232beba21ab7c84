package binary

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/ZebulonRouseFrantzich/portable/internal/shell"
)

// ErrNoProbe is returned by Probe when the manifest names no probe command.
var ErrNoProbe = errors.New("manifest has no probe command")

// probeTimeout bounds a single probe run.
const probeTimeout = 10 * time.Second

var versionRegex = regexp.MustCompile(`\d+\.\d+(?:\.\d+)?`)

// ProbeResult is the outcome of running the manifest's probe command.
type ProbeResult struct {
	Command []string
	Output  string
	Version string
}

// ExtractVersion returns the first dotted version number in output.
func ExtractVersion(output string) (string, error) {
	match := versionRegex.FindString(output)
	if match == "" {
		return "", fmt.Errorf("no version found in output")
	}
	return match, nil
}

// Probe runs the probe command from the binaries directory with PATH and
// the manifest's variable set as a provisioned session would see them.
func (m *Manager) Probe(ctx context.Context) (*ProbeResult, error) {
	if len(m.manifest.Probe) == 0 {
		return nil, ErrNoProbe
	}

	bin, err := m.probeBinary(m.manifest.Probe[0])
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, bin, m.manifest.Probe[1:]...)
	cmd.Env = shell.Environ(os.Environ(), m.binDir, m.ExtraEnv())
	cmd.Dir = m.target
	out, err := cmd.CombinedOutput()
	res := &ProbeResult{
		Command: append([]string{bin}, m.manifest.Probe[1:]...),
		Output:  strings.TrimSpace(string(out)),
	}
	if err != nil {
		return res, goerr.Wrap(err, "probe failed",
			goerr.V("command", strings.Join(res.Command, " ")),
			goerr.V("output", res.Output))
	}

	version, err := ExtractVersion(res.Output)
	if err != nil {
		return res, goerr.Wrap(err, "probe output has no version", goerr.V("output", res.Output))
	}
	res.Version = version
	m.logger.Debug("probed", "command", res.Command, "version", version)
	return res, nil
}

// probeBinary finds name inside the binaries directory. Windows archives
// ship "dot.exe" for a probe named "dot".
func (m *Manager) probeBinary(name string) (string, error) {
	candidates := []string{filepath.Join(m.binDir, name)}
	if runtime.GOOS == "windows" && filepath.Ext(name) == "" {
		candidates = append(candidates, filepath.Join(m.binDir, name+".exe"))
	}
	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
			return path, nil
		}
	}
	return "", goerr.New("probe command not found in binaries directory",
		goerr.V("name", name), goerr.V("bin_dir", m.binDir))
}
