package build

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cochaviz/decant/internal/linkage"
)

// BrewfileName marks a workspace whose C dependencies come from Homebrew.
const BrewfileName = "Brewfile"

// ProbeEnvironment captures the environment `brew bundle exec` would give a
// build in dir. It returns nil when there is no Brewfile or no brew.
func ProbeEnvironment(ctx context.Context, dir string, runner linkage.Runner) (map[string]string, error) {
	brewfile := filepath.Join(dir, BrewfileName)
	if _, err := os.Stat(brewfile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if _, err := exec.LookPath("brew"); err != nil {
		return nil, nil
	}
	if runner == nil {
		runner = linkage.ExecRunner{}
	}

	out, err := runner.Output(ctx, "brew", "bundle", "exec", "--file", brewfile, "--", "env")
	if err != nil {
		return nil, fmt.Errorf("probe homebrew environment: %w", err)
	}
	return ParseEnv(out), nil
}

// ParseEnv parses KEY=value lines.
func ParseEnv(out []byte) map[string]string {
	env := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), "=")
		if !found || key == "" || strings.ContainsAny(key, " \t") {
			continue
		}
		env[key] = value
	}
	return env
}

// BrewEnv derives compiler and linker variables from a probed environment.
func BrewEnv(probed map[string]string) map[string]string {
	if len(probed) == 0 {
		return nil
	}
	env := make(map[string]string)
	if includes := splitPaths(probed["HOMEBREW_INCLUDE_PATHS"]); len(includes) > 0 {
		flags := "-I" + strings.Join(includes, " -I")
		env["CFLAGS"] = flags
		env["CPPFLAGS"] = flags
	}
	if libs := splitPaths(probed["HOMEBREW_LIBRARY_PATHS"]); len(libs) > 0 {
		env["LDFLAGS"] = "-L" + strings.Join(libs, " -L")
	}
	for _, key := range []string{"PATH", "PKG_CONFIG_PATH", "PKG_CONFIG_LIBDIR", "CMAKE_PREFIX_PATH"} {
		if value := probed[key]; value != "" {
			env[key] = value
		}
	}
	return env
}

func splitPaths(value string) []string {
	var out []string
	for _, p := range strings.Split(value, string(os.PathListSeparator)) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// CommandEnv overlays extra on base, a KEY=value list such as os.Environ().
// Keys from extra replace existing entries; the result is stable.
func CommandEnv(base []string, extra map[string]string) []string {
	out := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, ok := extra[key]; ok {
			continue
		}
		out = append(out, kv)
	}
	keys := make([]string, 0, len(extra))
	for key := range extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		out = append(out, key+"="+extra[key])
	}
	return out
}
