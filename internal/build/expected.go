package build

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cochaviz/decant/arch"
	"github.com/cochaviz/decant/internal/graph"
	"github.com/cochaviz/decant/internal/linkage"
	"github.com/cochaviz/decant/internal/logging"
	"github.com/cochaviz/decant/internal/workspace"
)

// ExpectationState is where a step's binary expectations stand.
type ExpectationState string

const (
	ExpectationPending   ExpectationState = "pending"
	ExpectationRunning   ExpectationState = "running"
	ExpectationSatisfied ExpectationState = "satisfied"
	ExpectationFailed    ExpectationState = "failed"
)

var expectationTransitions = map[ExpectationState][]ExpectationState{
	ExpectationPending: {ExpectationRunning, ExpectationFailed},
	ExpectationRunning: {ExpectationSatisfied, ExpectationFailed},
}

// Produced is a file a build backend reports. Symbols lists candidate
// debug-info files emitted alongside it.
type Produced struct {
	PackageID string
	Path      string
	Symbols   []string
}

// Classifier inspects a built binary's dynamic dependencies.
type Classifier interface {
	Classify(ctx context.Context, path string, target arch.Triple) (linkage.Linkage, error)
}

// BuiltBinary is a binary that has been found, classified and copied.
type BuiltBinary struct {
	Binary      graph.BinaryIdx
	Path        string
	SymbolsPath string
	Linkage     linkage.Linkage
}

type expectation struct {
	binary  graph.BinaryIdx
	path    string
	symbols string
}

// ExpectedBinaries tracks the binaries one step promised to produce.
type ExpectedBinaries struct {
	Step string

	g            *graph.Graph
	state        ExpectationState
	expectations []expectation
}

// NewExpectedBinaries returns a pending tracker for bins.
func NewExpectedBinaries(g *graph.Graph, step string, bins []graph.BinaryIdx) *ExpectedBinaries {
	e := &ExpectedBinaries{Step: step, g: g, state: ExpectationPending}
	for _, idx := range bins {
		e.expectations = append(e.expectations, expectation{binary: idx})
	}
	return e
}

// State returns the current state.
func (e *ExpectedBinaries) State() ExpectationState {
	return e.state
}

func (e *ExpectedBinaries) transition(to ExpectationState) error {
	for _, allowed := range expectationTransitions[e.state] {
		if allowed == to {
			e.state = to
			return nil
		}
	}
	return fmt.Errorf("%s: invalid transition %s -> %s", e.Step, e.state, to)
}

// Start marks the step as running.
func (e *ExpectedBinaries) Start() error {
	return e.transition(ExpectationRunning)
}

// Fail marks the step as failed.
func (e *ExpectedBinaries) Fail() {
	if e.state == ExpectationPending || e.state == ExpectationRunning {
		e.state = ExpectationFailed
	}
}

// FoundBin records a produced file. Files nobody expects are ignored and
// reported as unmatched.
func (e *ExpectedBinaries) FoundBin(p Produced) bool {
	if e.state != ExpectationRunning {
		return false
	}
	name := filepath.Base(p.Path)
	matched := false
	for i := range e.expectations {
		exp := &e.expectations[i]
		bin := e.g.Binary(exp.binary)
		if !workspace.SamePackage(bin.PackageID, p.PackageID) || fileStem(bin.FileName) != fileStem(name) || filepath.Ext(bin.FileName) != filepath.Ext(name) {
			continue
		}
		exp.path = p.Path
		if ext := bin.Target.SymbolExt(); ext != "" {
			for _, candidate := range p.Symbols {
				if strings.HasSuffix(candidate, ext) {
					exp.symbols = candidate
					break
				}
			}
		}
		matched = true
	}
	return matched
}

// Finish ends the output stream. Every expected binary must have been found
// and still exist on disk.
func (e *ExpectedBinaries) Finish(exists func(string) bool) error {
	if exists == nil {
		exists = fileExists
	}
	var missing []MissingBinary
	for _, exp := range e.expectations {
		if exp.path != "" && exists(exp.path) {
			continue
		}
		bin := e.g.Binary(exp.binary)
		missing = append(missing, MissingBinary{Package: bin.PackageID, Binary: bin.FileName})
	}
	if len(missing) > 0 {
		if err := e.transition(ExpectationFailed); err != nil {
			return err
		}
		return &MissingBinariesError{Step: e.Step, Missing: missing}
	}
	return e.transition(ExpectationSatisfied)
}

// Process classifies every found binary and copies it, with its symbols, to
// each destination the graph recorded. Linkage failures are logged and
// recorded as empty linkage.
func (e *ExpectedBinaries) Process(ctx context.Context, classifier Classifier, logger *slog.Logger) ([]BuiltBinary, error) {
	if e.state != ExpectationSatisfied {
		return nil, fmt.Errorf("%s: cannot process binaries in state %s", e.Step, e.state)
	}
	logger = logging.Ensure(logger)

	built := make([]BuiltBinary, 0, len(e.expectations))
	for _, exp := range e.expectations {
		bin := e.g.Binary(exp.binary)
		var l linkage.Linkage
		if classifier != nil {
			var err error
			l, err = classifier.Classify(ctx, exp.path, bin.Target)
			if err != nil {
				logger.Warn("could not inspect linkage", "binary", bin.FileName, "target", bin.Target, "error", err)
				l = linkage.Linkage{}
			}
		}

		for _, dest := range bin.CopyExeTo {
			if err := CopyPath(exp.path, dest); err != nil {
				return built, fmt.Errorf("copy %s to %s: %w", bin.FileName, dest, err)
			}
		}
		if exp.symbols != "" {
			for _, dest := range bin.CopySymbolsTo {
				if err := CopyPath(exp.symbols, dest); err != nil {
					return built, fmt.Errorf("copy symbols of %s to %s: %w", bin.FileName, dest, err)
				}
			}
		} else if len(bin.CopySymbolsTo) > 0 {
			logger.Warn("no debug symbols produced", "binary", bin.FileName, "target", bin.Target)
		}

		recorded := l
		e.g.RecordBuilt(exp.binary, exp.path, exp.symbols, &recorded)
		built = append(built, BuiltBinary{Binary: exp.binary, Path: exp.path, SymbolsPath: exp.symbols, Linkage: l})
		logger.Debug("binary ready", "binary", bin.FileName, "target", bin.Target, "copies", len(bin.CopyExeTo))
	}
	return built, nil
}

func fileStem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// CopyPath copies a file or, for bundles such as .dSYM, a directory tree.
func CopyPath(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return copyFile(src, dst, info.Mode().Perm())
	}
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		return copyFile(p, target, info.Mode().Perm())
	})
}

func copyFile(src, dst string, mode fs.FileMode) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return nil
}

