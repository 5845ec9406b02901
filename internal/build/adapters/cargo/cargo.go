// Package cargo drives `cargo build` and feeds the artifacts it reports to
// the binary-expectation tracker.
package cargo

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/cochaviz/decant/internal/build"
	"github.com/cochaviz/decant/internal/logging"
	"github.com/cochaviz/decant/internal/workspace"
)

// Ensure Builder satisfies the cargo driver interface.
var _ build.CargoDriver = (*Builder)(nil)

// Builder runs cargo as a subprocess.
type Builder struct {
	Logger *slog.Logger
	// Stderr receives cargo's rendered diagnostics; defaults to os.Stderr.
	Stderr io.Writer
}

func (b *Builder) logger() *slog.Logger {
	if b != nil {
		return logging.Ensure(b.Logger)
	}
	return slog.Default()
}

// BuildCargo runs the step and reports each compiler artifact.
func (b *Builder) BuildCargo(ctx context.Context, step build.CargoBuildStep, expected *build.ExpectedBinaries) error {
	args := Args(step)
	logger := b.logger().With("target", step.Target)
	logger.Debug("running cargo", "args", strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = step.Dir
	cmd.Env = Env(os.Environ(), step)
	cmd.Stderr = b.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start cargo: %w", err)
	}

	readErr := drainMessages(stdout, func(p build.Produced) {
		if expected.FoundBin(p) {
			logger.Debug("found binary", "path", p.Path)
		}
	})
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("cargo build failed: %w", err)
	}
	return readErr
}

// Args returns the full command line for step.
func Args(step build.CargoBuildStep) []string {
	var args []string
	target := step.Target.String()
	switch step.CrossHelper {
	case build.CrossZigbuild:
		args = []string{"cargo", "zigbuild"}
		if step.ZigbuildTarget != "" {
			target = step.ZigbuildTarget
		}
	case build.CrossXwin:
		args = []string{"cargo", "xwin", "build"}
	default:
		args = []string{"cargo", "build"}
	}

	if step.Profile != "" {
		args = append(args, "--profile", step.Profile)
	}
	args = append(args, "--message-format=json-render-diagnostics", "--target", target)

	if len(step.Packages) == 0 {
		args = append(args, "--workspace")
	}
	for _, pkg := range step.Packages {
		args = append(args, "--package", pkg)
	}

	if step.Features.NoDefault {
		args = append(args, "--no-default-features")
	}
	if step.Features.All {
		args = append(args, "--all-features")
	} else if len(step.Features.Features) > 0 {
		args = append(args, "--features", strings.Join(step.Features.Features, ","))
	}
	return args
}

// Env returns the environment cargo runs with. RUSTFLAGS from base are kept
// and extended.
func Env(base []string, step build.CargoBuildStep) []string {
	extra := make(map[string]string, len(step.Env)+1)
	for k, v := range step.Env {
		extra[k] = v
	}
	if step.RustFlags != "" {
		flags := step.RustFlags
		for _, kv := range base {
			if existing, ok := strings.CutPrefix(kv, "RUSTFLAGS="); ok && existing != "" {
				flags = existing + " " + flags
			}
		}
		extra["RUSTFLAGS"] = flags
	}
	return build.CommandEnv(base, extra)
}

type message struct {
	Reason     string   `json:"reason"`
	PackageID  string   `json:"package_id"`
	Filenames  []string `json:"filenames"`
	Executable *string  `json:"executable"`
}

// ReadMessages decodes cargo's JSON message stream and calls found for every
// file of every compiler artifact. Lines that are not JSON are skipped.
func ReadMessages(r io.Reader, found func(build.Produced)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] != '{' {
			continue
		}
		var msg message
		if err := json.Unmarshal(line, &msg); err != nil {
			continue
		}
		if msg.Reason != "compiler-artifact" {
			continue
		}
		name, version, err := ParsePackageID(msg.PackageID)
		if err != nil {
			continue
		}
		pkgID := workspace.PackageID(name, version)
		for _, file := range msg.Filenames {
			found(build.Produced{PackageID: pkgID, Path: file, Symbols: others(msg.Filenames, file)})
		}
	}
	return scanner.Err()
}

// drainMessages is ReadMessages that consumes the rest of r when decoding
// stops early, so a writer blocked on a full pipe can exit.
func drainMessages(r io.Reader, found func(build.Produced)) error {
	err := ReadMessages(r, found)
	if err != nil {
		_, _ = io.Copy(io.Discard, r)
	}
	return err
}

// ParsePackageID extracts name and version from both cargo package id
// formats: "name 1.0.0 (source)" and "source#name@1.0.0" or "source#1.0.0".
func ParsePackageID(id string) (string, string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", "", fmt.Errorf("empty package id")
	}

	source, fragment, hasFragment := strings.Cut(id, "#")
	if !hasFragment {
		fields := strings.Fields(id)
		if len(fields) < 2 {
			return "", "", fmt.Errorf("malformed package id %q", id)
		}
		return fields[0], fields[1], nil
	}

	if name, version, ok := strings.Cut(fragment, "@"); ok {
		return name, version, nil
	}
	source, _, _ = strings.Cut(source, "?")
	source = strings.TrimRight(source, "/")
	name := source[strings.LastIndex(source, "/")+1:]
	if name == "" {
		return "", "", fmt.Errorf("malformed package id %q", id)
	}
	return name, fragment, nil
}

func others(files []string, skip string) []string {
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f != skip {
			out = append(out, f)
		}
	}
	return out
}
