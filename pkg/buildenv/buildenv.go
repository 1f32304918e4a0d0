// Package buildenv manages isolated Python build environments used to run PEP 517 backends: each
// is a bare `venv` (no pip) with a WheelBuilder's "requires" list installed into it, pooled and
// reused by the sorted requirement set so that repeated builds needing the same backend
// (`setuptools`, `flit_core`, ...) don't pay setup cost twice in one process. Grounded in
// pyinspect.Dynamic's use of dexec to shell out to a Python interpreter.
package buildenv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"

	"github.com/datawire/rip/pkg/python"
	"github.com/datawire/rip/pkg/python/pyinspect"
)

// Installer is the narrow interface buildenv needs to populate an isolated environment: resolve
// reqs against the running Python's markers/tags and install them under destDir's site-packages.
// Implemented by pkg/resolver+pkg/installer together, wired at the top (cmd/rip) to avoid a
// buildenv->resolver->packagedb->wheelbuilder->buildenv import cycle.
type Installer interface {
	ResolveAndInstall(ctx context.Context, requirements []string, plat python.Platform) error
}

// Env is one isolated build environment.
type Env struct {
	Dir         string
	Interpreter string
	Platform    python.Platform
}

// Pool pools Envs keyed by their sorted requirement list. The zero value is not usable; construct
// with New.
type Pool struct {
	BaseDir     string
	Interpreter string // e.g. "python3"; looked up with dexec.LookPath
	Installer   Installer

	mu   sync.Mutex
	envs map[string]*Env
}

func New(baseDir, interpreter string, installer Installer) *Pool {
	return &Pool{
		BaseDir:     baseDir,
		Interpreter: interpreter,
		Installer:   installer,
		envs:        make(map[string]*Env),
	}
}

// fingerprint returns a stable key for a requirement set, independent of input ordering.
func fingerprint(requirements []string) string {
	sorted := append([]string(nil), requirements...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x00")))
	return hex.EncodeToString(sum[:])
}

// Get returns the pooled Env for requirements, creating and populating it on first use.
func (p *Pool) Get(ctx context.Context, requirements []string) (*Env, error) {
	key := fingerprint(requirements)

	p.mu.Lock()
	if env, ok := p.envs[key]; ok {
		p.mu.Unlock()
		return env, nil
	}
	p.mu.Unlock()

	dir := filepath.Join(p.BaseDir, key)
	env, err := p.create(ctx, dir, requirements)
	if err != nil {
		return nil, fmt.Errorf("buildenv: %w", err)
	}

	p.mu.Lock()
	p.envs[key] = env
	p.mu.Unlock()
	return env, nil
}

func (p *Pool) create(ctx context.Context, dir string, requirements []string) (*Env, error) {
	if _, err := os.Stat(filepath.Join(dir, ".rip-complete")); err == nil {
		return p.describe(ctx, dir)
	}
	_ = os.RemoveAll(dir)

	dlog.Debugf(ctx, "buildenv: creating isolated build environment at %s for %v", dir, requirements)
	cmd := dexec.CommandContext(ctx, p.Interpreter, "-m", "venv", "--without-pip", "--clear", dir)
	cmd.DisableLogging = true
	if _, err := cmd.Output(); err != nil {
		return nil, fmt.Errorf("create venv: %w", err)
	}

	env, err := p.describe(ctx, dir)
	if err != nil {
		return nil, err
	}

	if len(requirements) > 0 {
		if err := p.Installer.ResolveAndInstall(ctx, requirements, env.Platform); err != nil {
			return nil, fmt.Errorf("install build requirements %v: %w", requirements, err)
		}
	}

	if err := os.WriteFile(filepath.Join(dir, ".rip-complete"), nil, 0o644); err != nil {
		return nil, fmt.Errorf("mark build environment complete: %w", err)
	}
	return env, nil
}

func (p *Pool) describe(ctx context.Context, dir string) (*Env, error) {
	interpreter := filepath.Join(dir, "bin", "python3")
	if _, err := os.Stat(interpreter); err != nil {
		interpreter = filepath.Join(dir, "bin", "python")
	}

	console, graphical, err := pyinspect.Shebangs(pyinspect.NativeFS{}, interpreter)
	if err != nil {
		return nil, fmt.Errorf("probe shebangs for %s: %w", interpreter, err)
	}

	dyn, err := pyinspect.Dynamic(ctx, interpreter)
	if err != nil {
		return nil, fmt.Errorf("probe interpreter %s: %w", interpreter, err)
	}

	plat := python.Platform{
		ConsoleShebang:   console,
		GraphicalShebang: graphical,
		Scheme:           dyn.Scheme,
		VersionInfo:      &dyn.VersionInfo,
		Tags:             dyn.Tags,
		Markers:          dyn.Markers,
	}
	if err := plat.Init(); err != nil {
		return nil, fmt.Errorf("normalize platform for %s: %w", dir, err)
	}

	return &Env{Dir: dir, Interpreter: interpreter, Platform: plat}, nil
}
