// Package locate resolves the interpreter and script used to launch the
// external inference process. Resolution only checks that files exist; it
// never creates anything.
package locate

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

var (
	// ErrScriptNotFound is returned when no script candidate exists.
	ErrScriptNotFound = errors.New("script not found")
	// ErrInterpreterNotFound is returned when no interpreter candidate exists.
	ErrInterpreterNotFound = errors.New("interpreter not found")
)

// Error reports a failed resolution together with every candidate tried.
type Error struct {
	Err   error // ErrScriptNotFound or ErrInterpreterNotFound
	Name  string
	Tried []string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (tried: %s)", e.Err, e.Name, strings.Join(e.Tried, ", "))
}

func (e *Error) Unwrap() error { return e.Err }

// Target is a resolved launch: Interpreter[0] is an existing executable,
// Interpreter[1:] are its leading arguments, Script is an existing file.
type Target struct {
	Interpreter []string
	Script      string
}

// Argv returns the full command line for the target.
func (t *Target) Argv() []string {
	argv := make([]string, 0, len(t.Interpreter)+1)
	argv = append(argv, t.Interpreter...)
	return append(argv, t.Script)
}

// Locator resolves scripts relative to a project root.
type Locator struct {
	// ProjectRoot holds the development layout (<root>/<script>).
	ProjectRoot string
	// PackageDir is the packaged layout, relative to ProjectRoot.
	PackageDir string
	// VenvDirs are project-local virtual environment directories, in order.
	VenvDirs []string
	// SystemInterpreter is looked up on PATH when no venv interpreter exists.
	SystemInterpreter string
	// Interpreter, when set, is a full command line that replaces venv and
	// system lookup (e.g. "python3 -X utf8" or "$HOME/miniconda/bin/python").
	Interpreter string

	// stat and lookPath are replaced in tests.
	stat     func(string) (os.FileInfo, error)
	lookPath func(string) (string, error)
}

// New creates a locator with the given project root and defaults for the rest.
func New(projectRoot string) *Locator {
	return &Locator{
		ProjectRoot:       projectRoot,
		VenvDirs:          []string{".venv", "venv"},
		SystemInterpreter: defaultSystemInterpreter(),
	}
}

func defaultSystemInterpreter() string {
	if runtime.GOOS == "windows" {
		return "python"
	}
	return "python3"
}

// Locate resolves script to a launchable target. Script candidates are tried
// in order: development layout, packaged layout, then the name as given.
func (l *Locator) Locate(script string) (*Target, error) {
	scriptPath, err := l.ResolveScript(script)
	if err != nil {
		return nil, err
	}
	interp, err := l.ResolveInterpreter()
	if err != nil {
		return nil, err
	}
	return &Target{Interpreter: interp, Script: scriptPath}, nil
}

// ScriptCandidates lists every path ResolveScript checks, in order.
func (l *Locator) ScriptCandidates(script string) []string {
	var candidates []string
	if filepath.IsAbs(script) {
		return []string{filepath.Clean(script)}
	}
	if l.ProjectRoot != "" {
		candidates = append(candidates, filepath.Join(l.ProjectRoot, script))
		if l.PackageDir != "" {
			candidates = append(candidates, filepath.Join(l.ProjectRoot, l.PackageDir, script))
		}
	}
	if abs, err := filepath.Abs(script); err == nil {
		candidates = append(candidates, abs)
	} else {
		candidates = append(candidates, script)
	}
	return dedupe(candidates)
}

// ResolveScript returns the first existing regular file among ScriptCandidates.
func (l *Locator) ResolveScript(script string) (string, error) {
	if script == "" {
		return "", &Error{Err: ErrScriptNotFound, Name: "(empty)"}
	}
	candidates := l.ScriptCandidates(script)
	for _, path := range candidates {
		info, err := l.statFn()(path)
		if err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", &Error{Err: ErrScriptNotFound, Name: script, Tried: candidates}
}

// ResolveInterpreter returns the interpreter argv. A configured command line
// wins; otherwise the first project-local venv interpreter, then the system
// interpreter found on PATH.
func (l *Locator) ResolveInterpreter() ([]string, error) {
	if l.Interpreter != "" {
		return l.resolveOverride()
	}

	var tried []string
	for _, path := range l.venvCandidates() {
		tried = append(tried, path)
		if isExecutable(l.statFn(), path) {
			return []string{path}, nil
		}
	}

	name := l.SystemInterpreter
	if name == "" {
		name = defaultSystemInterpreter()
	}
	tried = append(tried, name+" (PATH)")
	if path, err := l.lookPathFn()(name); err == nil {
		return []string{path}, nil
	}
	return nil, &Error{Err: ErrInterpreterNotFound, Name: name, Tried: tried}
}

// resolveOverride splits the configured command line the way a POSIX shell
// would, expanding environment variables, and resolves its first word.
func (l *Locator) resolveOverride() ([]string, error) {
	fields, err := shell.Fields(l.Interpreter, os.Getenv)
	if err != nil || len(fields) == 0 {
		return nil, &Error{Err: ErrInterpreterNotFound, Name: l.Interpreter, Tried: []string{l.Interpreter}}
	}
	first := fields[0]
	if strings.ContainsRune(first, filepath.Separator) {
		if isExecutable(l.statFn(), first) {
			return fields, nil
		}
		return nil, &Error{Err: ErrInterpreterNotFound, Name: first, Tried: []string{first}}
	}
	path, err := l.lookPathFn()(first)
	if err != nil {
		return nil, &Error{Err: ErrInterpreterNotFound, Name: first, Tried: []string{first + " (PATH)"}}
	}
	fields[0] = path
	return fields, nil
}

func (l *Locator) venvCandidates() []string {
	if l.ProjectRoot == "" {
		return nil
	}
	var candidates []string
	for _, dir := range l.VenvDirs {
		base := filepath.Join(l.ProjectRoot, dir)
		if runtime.GOOS == "windows" {
			candidates = append(candidates, filepath.Join(base, "Scripts", "python.exe"))
		} else {
			candidates = append(candidates,
				filepath.Join(base, "bin", "python3"),
				filepath.Join(base, "bin", "python"),
			)
		}
	}
	return candidates
}

func (l *Locator) statFn() func(string) (os.FileInfo, error) {
	if l.stat != nil {
		return l.stat
	}
	return os.Stat
}

func (l *Locator) lookPathFn() func(string) (string, error) {
	if l.lookPath != nil {
		return l.lookPath
	}
	return exec.LookPath
}

func isExecutable(stat func(string) (os.FileInfo, error), path string) bool {
	info, err := stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode()&0111 != 0
}

func dedupe(paths []string) []string {
	seen := make(map[string]bool, len(paths))
	out := paths[:0]
	for _, p := range paths {
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
