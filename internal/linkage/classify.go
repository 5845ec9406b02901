package linkage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/cochaviz/decant/arch"
	"github.com/cochaviz/decant/internal/logging"
)

// ErrUnsupportedHost is returned when a binary can only be inspected with
// tools the current host does not have.
var ErrUnsupportedHost = errors.New("linkage inspection is not supported on this host")

// Runner executes an external command and returns its standard output.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

const homebrewCoreTap = "homebrew/core"

var (
	cellarPrefixes = []string{
		"/opt/homebrew/Cellar/",
		"/usr/local/Cellar/",
		"/home/linuxbrew/.linuxbrew/Cellar/",
	}
	optPrefixes = []string{
		"/opt/homebrew/opt/",
		"/usr/local/opt/",
		"/home/linuxbrew/.linuxbrew/opt/",
	}
	publicUnmanagedPrefixes = []string{
		"/usr/local/",
		"/opt/homebrew/",
		"/home/linuxbrew/.linuxbrew/",
	}
	frameworkPrefixes = []string{
		"/System/Library/Frameworks/",
		"/Library/Frameworks/",
	}
	systemPrefixes = []string{
		"/lib/",
		"/lib32/",
		"/lib64/",
		"/usr/lib/",
		"/usr/lib32/",
		"/usr/lib64/",
		"/System/Library/",
	}
)

// Classifier finds and buckets the dynamic dependencies of built binaries.
type Classifier struct {
	Logger *slog.Logger
	Runner Runner
	// GOOS overrides the host operating system.
	GOOS string
	// ReadFile reads Homebrew install receipts.
	ReadFile func(string) ([]byte, error)
}

func (c *Classifier) logger() *slog.Logger {
	return logging.Ensure(c.Logger)
}

func (c *Classifier) runner() Runner {
	if c.Runner == nil {
		return ExecRunner{}
	}
	return c.Runner
}

func (c *Classifier) goos() string {
	if c.GOOS == "" {
		return runtime.GOOS
	}
	return c.GOOS
}

func (c *Classifier) readFile(path string) ([]byte, error) {
	if c.ReadFile == nil {
		return os.ReadFile(path)
	}
	return c.ReadFile(path)
}

// Classify inspects the binary at path, built for target, and sorts the
// libraries it loads into buckets.
func (c *Classifier) Classify(ctx context.Context, path string, target arch.Triple) (Linkage, error) {
	libs, err := c.Libraries(ctx, path, target)
	if err != nil {
		return Linkage{}, err
	}
	if target.Family() == arch.PE {
		return bucketDLLs(libs), nil
	}
	return c.Bucket(ctx, libs), nil
}

// Libraries lists the dynamic libraries the binary at path loads. Static
// archives have none.
func (c *Classifier) Libraries(ctx context.Context, path string, target arch.Triple) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".a", ".lib":
		return nil, nil
	}

	switch target.Family() {
	case arch.MachO:
		return machoLibraries(path)
	case arch.PE:
		return peLibraries(path)
	default:
		return c.elfLibraries(ctx, path)
	}
}

func (c *Classifier) elfLibraries(ctx context.Context, path string) ([]string, error) {
	static, err := isStaticELF(path)
	if err != nil {
		return nil, err
	}
	if static {
		return nil, nil
	}
	if c.goos() != "linux" {
		return nil, fmt.Errorf("%w: ldd requires a linux host, running on %s", ErrUnsupportedHost, c.goos())
	}

	out, err := c.runner().Output(ctx, "ldd", path)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", path, err)
	}
	libs := ParseLdd(out)
	for i, lib := range libs {
		if resolved, err := filepath.EvalSymlinks(lib); err == nil {
			libs[i] = resolved
		}
	}
	return libs, nil
}

// Bucket classifies library paths. Ownership lookups are best effort.
func (c *Classifier) Bucket(ctx context.Context, libs []string) Linkage {
	var out Linkage
	seen := make(map[string]bool, len(libs))
	for _, lib := range libs {
		if lib == "" || seen[lib] {
			continue
		}
		seen[lib] = true

		switch {
		case hasAnyPrefix(lib, frameworkPrefixes):
			out.Frameworks = append(out.Frameworks, Library{Path: lib})
		case homebrewFormula(lib) != "":
			out.Vendored = append(out.Vendored, c.homebrewLibrary(lib))
		case hasAnyPrefix(lib, publicUnmanagedPrefixes):
			out.PublicUnmanaged = append(out.PublicUnmanaged, Library{Path: lib})
		case hasAnyPrefix(lib, systemPrefixes):
			out.System = append(out.System, c.aptLibrary(ctx, lib))
		default:
			out.Other = append(out.Other, c.aptLibrary(ctx, lib))
		}
	}
	out.sort()
	return out
}

func (c *Classifier) homebrewLibrary(path string) Library {
	lib := Library{Path: path, PackageManager: ManagerHomebrew, Source: homebrewFormula(path)}
	receipt := homebrewReceiptPath(path)
	if receipt == "" {
		return lib
	}
	data, err := c.readFile(receipt)
	if err != nil {
		return lib
	}
	var parsed struct {
		Source struct {
			Tap string `json:"tap"`
		} `json:"source"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		c.logger().Debug("ignoring unreadable homebrew receipt", "path", receipt, "error", err)
		return lib
	}
	if tap := parsed.Source.Tap; tap != "" && tap != homebrewCoreTap {
		lib.Source = tap + "/" + lib.Source
	}
	return lib
}

// aptLibrary asks dpkg which package owns path. Failures leave the owner
// unset.
func (c *Classifier) aptLibrary(ctx context.Context, path string) Library {
	lib := Library{Path: path}
	if c.goos() != "linux" || !filepath.IsAbs(path) {
		return lib
	}
	out, err := c.runner().Output(ctx, "dpkg", "--search", path)
	if err != nil {
		return lib
	}
	if owner := parseDpkgSearch(out); owner != "" {
		lib.Source = owner
		lib.PackageManager = ManagerApt
	}
	return lib
}

// homebrewFormula returns the formula owning path, or "".
func homebrewFormula(path string) string {
	for _, prefix := range append(append([]string(nil), cellarPrefixes...), optPrefixes...) {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			formula, _, _ := strings.Cut(rest, "/")
			return formula
		}
	}
	return ""
}

// homebrewReceiptPath locates INSTALL_RECEIPT.json for a library inside a
// Homebrew keg.
func homebrewReceiptPath(path string) string {
	for _, prefix := range cellarPrefixes {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			parts := strings.SplitN(rest, "/", 3)
			if len(parts) < 3 {
				return ""
			}
			return prefix + parts[0] + "/" + parts[1] + "/INSTALL_RECEIPT.json"
		}
	}
	for _, prefix := range optPrefixes {
		if rest, ok := strings.CutPrefix(path, prefix); ok {
			formula, _, found := strings.Cut(rest, "/")
			if !found {
				return ""
			}
			return prefix + formula + "/INSTALL_RECEIPT.json"
		}
	}
	return ""
}

// parseDpkgSearch extracts the package name from "pkg:arch: /path" output.
func parseDpkgSearch(out []byte) string {
	line, _, _ := strings.Cut(strings.TrimSpace(string(out)), "\n")
	owner, _, found := strings.Cut(line, ": ")
	if !found {
		return ""
	}
	owner, _, _ = strings.Cut(owner, ",")
	owner, _, _ = strings.Cut(owner, ":")
	return strings.TrimSpace(owner)
}

func hasAnyPrefix(value string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(value, prefix) {
			return true
		}
	}
	return false
}
