package shell

import (
	"fmt"
	"maps"
	"os"
	"runtime"
	"slices"
	"strings"
)

// PrependPath returns a copy of env with dir as the first PATH entry. Other
// occurrences of dir are dropped so repeated calls do not grow PATH. A PATH
// variable is added when env has none. env itself is never modified.
func PrependPath(env []string, dir string) []string {
	return prependPathEnv(env, dir, string(os.PathListSeparator), runtime.GOOS == "windows")
}

// prependPathEnv is PrependPath with the list separator and key matching made
// explicit. Windows environment keys are case-insensitive ("Path").
func prependPathEnv(env []string, dir, sep string, foldCase bool) []string {
	out := make([]string, 0, len(env)+1)
	found := false
	for _, kv := range env {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !keyMatches(key, PathEnv, foldCase) || found {
			out = append(out, kv)
			continue
		}
		found = true
		out = append(out, key+"="+prependList(value, dir, sep))
	}
	if !found {
		out = append(out, PathEnv+"="+dir)
	}
	return out
}

// SetEnv returns a copy of env with key set to value.
func SetEnv(env []string, key, value string) []string {
	foldCase := runtime.GOOS == "windows"
	out := make([]string, 0, len(env)+1)
	set := false
	for _, kv := range env {
		k, _, ok := strings.Cut(kv, "=")
		if ok && keyMatches(k, key, foldCase) {
			if !set {
				out = append(out, k+"="+value)
				set = true
			}
			continue
		}
		out = append(out, kv)
	}
	if !set {
		out = append(out, key+"="+value)
	}
	return out
}

// Environ returns env with dir prepended to PATH and extra applied.
func Environ(env []string, dir string, extra map[string]string) []string {
	out := PrependPath(env, dir)
	for _, k := range sortedKeys(extra) {
		out = SetEnv(out, k, extra[k])
	}
	return out
}

// Apply prepends dir to PATH in the current process and sets the extra
// variables. Only this process and children it starts afterwards observe the
// change. A missing dir is not an error.
func Apply(dir string, extra map[string]string) error {
	if dir == "" {
		return fmt.Errorf("apply path: empty directory")
	}
	sep := string(os.PathListSeparator)
	if err := os.Setenv(PathEnv, prependList(os.Getenv(PathEnv), dir, sep)); err != nil {
		return fmt.Errorf("set %s: %w", PathEnv, err)
	}
	for _, k := range sortedKeys(extra) {
		if err := os.Setenv(k, extra[k]); err != nil {
			return fmt.Errorf("set %s: %w", k, err)
		}
	}
	return nil
}

func prependList(list, dir, sep string) string {
	entries := []string{dir}
	if list != "" {
		for _, e := range strings.Split(list, sep) {
			if e != dir {
				entries = append(entries, e)
			}
		}
	}
	return strings.Join(entries, sep)
}

func keyMatches(key, want string, foldCase bool) bool {
	if foldCase {
		return strings.EqualFold(key, want)
	}
	return key == want
}

func sortedKeys(m map[string]string) []string {
	return slices.Sorted(maps.Keys(m))
}

// Contains reports whether dir is an entry of the PATH-style list.
func Contains(list, dir string) bool {
	return slices.Contains(strings.Split(list, string(os.PathListSeparator)), dir)
}
