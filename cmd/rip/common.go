package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/datawire/dlib/dexec"
	"sigs.k8s.io/yaml"

	"github.com/datawire/rip/pkg/buildenv"
	"github.com/datawire/rip/pkg/filestore"
	"github.com/datawire/rip/pkg/httpcache"
	"github.com/datawire/rip/pkg/installer"
	"github.com/datawire/rip/pkg/packagedb"
	"github.com/datawire/rip/pkg/pep503"
	"github.com/datawire/rip/pkg/pep508"
	"github.com/datawire/rip/pkg/python"
	"github.com/datawire/rip/pkg/python/pyinspect"
	"github.com/datawire/rip/pkg/resolver"
	"github.com/datawire/rip/pkg/sourcefetch"
	"github.com/datawire/rip/pkg/wheelbuilder"
)

// cacheDir returns the on-disk cache root, per spec.md §6: "Under the OS user cache dir,
// <app>/pypi/".
func cacheDir() (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating user cache directory: %w", err)
	}
	return filepath.Join(base, "rip", "pypi"), nil
}

// interpreter resolves the Python interpreter to probe/target: the PYTHON environment variable if
// set (spec.md §6), else "python3" falling back to "python" (spec.md §6's probe order).
func interpreter() string {
	if p := os.Getenv("PYTHON"); p != "" {
		return p
	}
	if _, err := dexec.LookPath("python3"); err == nil {
		return "python3"
	}
	return "python"
}

// probePlatform inspects a live Python interpreter the same way
// pyinspect.Dynamic/pyinspect.Shebangs do for cmd_python_inspect.go, and fills in a
// python.Platform ready for use as a resolve/install target.
func probePlatform(ctx context.Context, exe string) (python.Platform, error) {
	var plat python.Platform

	console, graphical, err := pyinspect.Shebangs(pyinspect.NativeFS{}, exe)
	if err != nil {
		return plat, fmt.Errorf("probing interpreter %q: %w", exe, err)
	}
	dyn, err := pyinspect.Dynamic(ctx, console)
	if err != nil {
		return plat, fmt.Errorf("probing interpreter %q: %w", exe, err)
	}

	plat.ConsoleShebang = console
	plat.GraphicalShebang = graphical
	plat.Scheme = dyn.Scheme
	plat.VersionInfo = &dyn.VersionInfo
	plat.Tags = dyn.Tags
	plat.Markers = dyn.Markers
	plat.PyCompile, err = python.ExternalCompiler(console, "-m", "compileall")
	if err != nil {
		return plat, fmt.Errorf("setting up .pyc compiler for %q: %w", exe, err)
	}
	if err := plat.Init(); err != nil {
		return plat, err
	}
	return plat, nil
}

// platformFromFile reads a python.Platform from a YAML file, same shape as the teacher's
// cmd_layer_wheel.go --platform-file.
func platformFromFile(path string) (python.Platform, error) {
	var plat struct {
		python.Platform
		PyCompile []string
	}
	bs, err := os.ReadFile(path)
	if err != nil {
		return python.Platform{}, err
	}
	if err := yaml.Unmarshal(bs, &plat, yaml.DisallowUnknownFields); err != nil {
		return python.Platform{}, fmt.Errorf("%s: %w", path, err)
	}
	plat.Platform.PyCompile, err = python.ExternalCompiler(plat.PyCompile...)
	if err != nil {
		return python.Platform{}, err
	}
	if err := plat.Platform.Init(); err != nil {
		return python.Platform{}, err
	}
	return plat.Platform, nil
}

// buildEnvInstaller bridges pkg/resolver and pkg/installer to satisfy buildenv.Installer: the
// build-environment pool needs to resolve and install a PEP 517 backend's "requires" list into an
// isolated venv, which means running a nested nested resolve scoped to that venv's own platform.
// It's defined here (not in pkg/buildenv or pkg/resolver) to avoid an import cycle, the same
// reason pkg/resolver.Installer and pkg/buildenv.Installer are both narrow interfaces rather than
// concrete imports of each other.
type buildEnvInstaller struct {
	db               *packagedb.PackageDb
	preReleasePolicy resolver.PreReleaseResolution
	sdistPolicy      resolver.SDistResolution
}

func (b *buildEnvInstaller) ResolveAndInstall(ctx context.Context, requirements []string, plat python.Platform) error {
	r := &resolver.Resolver{
		DB:               b.db,
		Platform:         plat,
		PreReleasePolicy: b.preReleasePolicy,
		SDistPolicy:      b.sdistPolicy,
	}
	resolved, err := r.Resolve(ctx, requirements)
	if err != nil {
		return fmt.Errorf("build environment: resolve %v: %w", requirements, err)
	}
	inst := &installer.Installer{Requested: requestedSetOf(requirements)}
	return inst.Install(ctx, b.db, resolved, plat)
}

var _ buildenv.Installer = (*buildEnvInstaller)(nil)

// requestedSetOf parses requirement strings just far enough to pull out the package name, for
// Installer.Requested (spec.md §4.9 supplement: only directly-named packages get a REQUESTED
// marker). A requirement that fails to parse here will already have failed identically inside
// resolver.Resolve, so the error is simply ignored -- the caller is already handling that failure.
func requestedSetOf(requirements []string) map[pep503.NormalizedPackageName]bool {
	out := make(map[pep503.NormalizedPackageName]bool, len(requirements))
	for _, req := range requirements {
		parsed, err := pep508.ParseRequirement(req)
		if err != nil {
			continue
		}
		out[parsed.Name.Normalized()] = true
	}
	return out
}

// env is the fully-wired dependency graph shared by every subcommand: one FileStore/HttpCache
// pair, one PackageDb, one isolated build-environment pool, ready to resolve against indexURL and
// install into whatever python.Platform a subcommand picks.
type env struct {
	db   *packagedb.PackageDb
	pool *buildenv.Pool
}

func newEnv(indexURL string, plat python.Platform) (*env, error) {
	dir, err := cacheDir()
	if err != nil {
		return nil, err
	}
	store := filestore.New(filepath.Join(dir, "http"))
	httpClient := httpcache.New(store)
	fetcher := &sourcefetch.Fetcher{HTTP: httpClient}

	pyVersion, err := plat.VersionInfo.PEP440()
	if err != nil {
		return nil, err
	}

	builder := &wheelbuilder.Builder{
		Store:       store,
		Interpreter: interpreter(),
		KeepTmp:     os.Getenv("RIP_KEEP_BUILD_DIRS") != "",
		Fetch:       fetcher.Fetch,
	}
	db := packagedb.New(indexURL, httpClient, store, plat.Tags, pyVersion, builder)

	buildInstaller := &buildEnvInstaller{
		db:               db,
		preReleasePolicy: resolver.ExcludePreReleasesUnlessOnlyOption,
		sdistPolicy:      resolver.PreferWheels,
	}
	pool := buildenv.New(filepath.Join(dir, "..", "buildenvs"), interpreter(), buildInstaller)
	builder.Pool = pool

	return &env{db: db, pool: pool}, nil
}
