// Package wheelbuilder drives PEP 517 build backends (`prepare_metadata_for_build_wheel` /
// `build_wheel`) inside an isolated pkg/buildenv environment, fingerprinting sources so repeated
// builds of the same tree/archive hit pkg/filestore instead of re-invoking the backend.
package wheelbuilder

import (
	"context"
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/datawire/dlib/dexec"
	"github.com/datawire/dlib/dlog"

	"github.com/datawire/rip/pkg/buildenv"
	"github.com/datawire/rip/pkg/filestore"
	"github.com/datawire/rip/pkg/packagedb"
	"github.com/datawire/rip/pkg/pep345"
	"github.com/datawire/rip/pkg/riperr"
)

//go:embed driver.py
var driverScript string

const legacyBackend = "setuptools.build_meta:__legacy__"
const legacyRequires = "setuptools >= 40.8.0"

// pyprojectBuildSystem is the subset of pyproject.toml's `[build-system]` table this package
// cares about.
type pyprojectBuildSystem struct {
	BuildSystem struct {
		Requires     []string `toml:"requires"`
		BuildBackend string   `toml:"build-backend"`
	} `toml:"build-system"`
}

// Builder implements packagedb.Builder: it turns an sdist or source tree into a wheel (or just its
// metadata, when only metadata is needed), backed by a persistent cache keyed by source
// fingerprint and a pool of isolated build environments.
type Builder struct {
	Store       *filestore.Store
	Pool        *buildenv.Pool
	Interpreter string // the host "driver" interpreter used to run the PEP 517 shim, e.g. "python3"
	KeepTmp     bool   // mirrors RIP_KEEP_BUILD_DIRS
	Fetch       func(ctx context.Context, src packagedb.SourceRef, destDir string) error
}

var _ packagedb.Builder = (*Builder)(nil)

// PrepareMetadata extracts or cheaply computes core metadata for src, preferring the backend's
// `prepare_metadata_for_build_wheel` hook (which doesn't require a full build) when offered.
func (b *Builder) PrepareMetadata(ctx context.Context, src packagedb.SourceRef) (*pep345.Metadata, error) {
	workDir, cleanup, err := b.stageSource(ctx, src)
	defer cleanup()
	if err != nil {
		return nil, err
	}

	backend, env, err := b.prepareBackend(ctx, workDir)
	if err != nil {
		return nil, err
	}

	result, err := b.runDriver(ctx, env, driverRequest{
		Action:       "prepare_metadata_for_build_wheel",
		SourceDir:    workDir,
		BuildBackend: backend.BuildBackend,
	})
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(result.MetadataPath)
	if err != nil {
		return nil, riperr.Wrap(riperr.KindBuildBackendFailed, err, "read generated metadata")
	}
	return pep345.ParseMetadata(raw)
}

// BuildWheel produces a wheel for src, using a cached copy keyed by source fingerprint when one
// exists.
func (b *Builder) BuildWheel(ctx context.Context, src packagedb.SourceRef) (string, error) {
	fp, err := b.fingerprint(ctx, src)
	if err != nil {
		return "", err
	}
	if digest, ok := b.lookupFingerprint(fp); ok && b.Store.Has(digest) {
		dlog.Debugf(ctx, "wheelbuilder: cache hit for %s (fingerprint %s)", src.URL, fp)
		return b.Store.Path(digest), nil
	}

	workDir, cleanup, err := b.stageSource(ctx, src)
	defer cleanup()
	if err != nil {
		return "", err
	}

	backend, env, err := b.prepareBackend(ctx, workDir)
	if err != nil {
		return "", err
	}

	outDir, err := os.MkdirTemp("", "rip-wheel-out-")
	if err != nil {
		return "", riperr.Wrap(riperr.KindIO, err, "create wheel output dir")
	}
	defer func() { _ = os.RemoveAll(outDir) }()

	result, err := b.runDriver(ctx, env, driverRequest{
		Action:       "build_wheel",
		SourceDir:    workDir,
		BuildBackend: backend.BuildBackend,
		OutDir:       outDir,
	})
	if err != nil {
		return "", err
	}

	f, err := os.Open(result.WheelPath)
	if err != nil {
		return "", riperr.Wrap(riperr.KindBuildBackendFailed, err, "open produced wheel")
	}
	defer func() { _ = f.Close() }()
	digest, _, err := b.Store.Put(ctx, f)
	if err != nil {
		return "", riperr.Wrap(riperr.KindIO, err, "cache produced wheel")
	}

	if err := b.recordFingerprint(fp, digest); err != nil {
		dlog.Warnf(ctx, "wheelbuilder: failed to record fingerprint cache entry for %s: %v", src.URL, err)
	}

	return b.Store.Path(digest), nil
}

// fingerprints maps a source fingerprint to the content digest of the wheel last built for it, so
// repeated BuildWheel calls for the same source can skip straight to FileStore without re-running
// the backend. Kept as a flat directory of small files in the store directory, next to
// filestore's blobs/ tree rather than inside it, so that tree stays purely content-addressed.
func (b *Builder) fingerprintDir() string {
	return filepath.Join(b.Store.Dir, "fingerprints")
}

func (b *Builder) lookupFingerprint(fp string) (filestore.Digest, bool) {
	data, err := os.ReadFile(filepath.Join(b.fingerprintDir(), fp))
	if err != nil {
		return "", false
	}
	return filestore.Digest(strings.TrimSpace(string(data))), true
}

func (b *Builder) recordFingerprint(fp string, digest filestore.Digest) error {
	dir := b.fingerprintDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, fp), []byte(digest), 0o644)
}

type backendSpec struct {
	Requires     []string
	BuildBackend string
}

// prepareBackend reads pyproject.toml (falling back to the legacy setuptools shim per spec.md
// §4.7 step 4), resolves+installs its build requirements into a pooled isolated environment, and
// returns both.
func (b *Builder) prepareBackend(ctx context.Context, workDir string) (backendSpec, *buildenv.Env, error) {
	spec := backendSpec{Requires: []string{legacyRequires}, BuildBackend: legacyBackend}

	pyprojectPath := filepath.Join(workDir, "pyproject.toml")
	if data, err := os.ReadFile(pyprojectPath); err == nil {
		var doc pyprojectBuildSystem
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return backendSpec{}, nil, riperr.Wrap(riperr.KindNoPyProjectToml, err, "parse pyproject.toml")
		}
		if len(doc.BuildSystem.Requires) > 0 {
			spec.Requires = doc.BuildSystem.Requires
		}
		if doc.BuildSystem.BuildBackend != "" {
			spec.BuildBackend = doc.BuildSystem.BuildBackend
		}
	}

	env, err := b.Pool.Get(ctx, spec.Requires)
	if err != nil {
		return backendSpec{}, nil, riperr.Wrap(riperr.KindBuildBackendFailed, err, "prepare isolated build environment")
	}
	return spec, env, nil
}

type driverRequest struct {
	Action       string `json:"action"`
	SourceDir    string `json:"source_dir"`
	BuildBackend string `json:"build_backend"`
	OutDir       string `json:"out_dir,omitempty"`
}

type driverResult struct {
	MetadataPath string `json:"metadata_path,omitempty"`
	WheelPath    string `json:"wheel_path,omitempty"`
	Error        string `json:"error,omitempty"`
	Stage        string `json:"stage,omitempty"`
}

// runDriver writes driverScript to a temp file and invokes it with the environment's interpreter,
// passing the request as a JSON file and reading the response the same way. This mirrors
// pip's `_in_process.py` shim invocation, and the teacher's own pattern (cmd_python_inspect.go) of
// shelling out to a Python interpreter and parsing its JSON stdout.
func (b *Builder) runDriver(ctx context.Context, env *buildenv.Env, req driverRequest) (*driverResult, error) {
	driverPath := filepath.Join(os.TempDir(), "rip-pep517-driver.py")
	if err := os.WriteFile(driverPath, []byte(driverScript), 0o644); err != nil {
		return nil, riperr.Wrap(riperr.KindIO, err, "write PEP 517 driver script")
	}

	reqFile, err := os.CreateTemp("", "rip-pep517-req-*.json")
	if err != nil {
		return nil, riperr.Wrap(riperr.KindIO, err, "create driver request file")
	}
	defer func() { _ = os.Remove(reqFile.Name()) }()
	if err := json.NewEncoder(reqFile).Encode(req); err != nil {
		_ = reqFile.Close()
		return nil, riperr.Wrap(riperr.KindIO, err, "write driver request")
	}
	_ = reqFile.Close()

	respPath := reqFile.Name() + ".out"
	defer func() { _ = os.Remove(respPath) }()

	cmd := dexec.CommandContext(ctx, env.Interpreter, driverPath, reqFile.Name(), respPath)
	cmd.Dir = req.SourceDir
	cmd.DisableLogging = true
	_, err = cmd.Output()
	if err != nil {
		var exitErr *dexec.ExitError
		if errors.As(err, &exitErr) {
			err = fmt.Errorf("%w:\n > %s", err,
				strings.Join(strings.Split(string(exitErr.Stderr), "\n"), "\n > "))
		}
		return nil, riperr.Wrap(riperr.KindBuildBackendFailed, err, "run %s", req.Action)
	}

	raw, err := os.ReadFile(respPath)
	if err != nil {
		return nil, riperr.Wrap(riperr.KindBuildBackendFailed, err, "missing driver response for %s", req.Action)
	}
	var resp driverResult
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, riperr.Wrap(riperr.KindBuildBackendFailed, err, "malformed driver response for %s", req.Action)
	}
	if resp.Error != "" {
		return nil, riperr.New(riperr.KindBuildBackendFailed, "%s failed in stage %q: %s", req.Action, resp.Stage, resp.Error)
	}
	return &resp, nil
}

// stageSource copies an sdist archive (extracting it) or a source tree into a scratch work
// directory that the build backend can freely write into (PEP 517 backends are allowed to leave
// build artifacts next to the source).
func (b *Builder) stageSource(ctx context.Context, src packagedb.SourceRef) (dir string, cleanup func(), err error) {
	workDir, err := os.MkdirTemp("", "rip-build-")
	if err != nil {
		return "", func() {}, riperr.Wrap(riperr.KindIO, err, "create build work dir")
	}
	cleanup = func() {
		if b.KeepTmp {
			dlog.Infof(ctx, "wheelbuilder: keeping build dir %s (RIP_KEEP_BUILD_DIRS set)", workDir)
			return
		}
		_ = os.RemoveAll(workDir)
	}

	if b.Fetch != nil {
		if err := b.Fetch(ctx, src, workDir); err != nil {
			return "", cleanup, riperr.Wrap(riperr.KindIO, err, "stage source for %s", src.URL)
		}
		return workDir, cleanup, nil
	}

	if src.IsTree {
		localDir := strings.TrimPrefix(src.URL, "file://")
		if err := copyTree(localDir, workDir); err != nil {
			return "", cleanup, riperr.Wrap(riperr.KindIO, err, "copy source tree %s", localDir)
		}
		return workDir, cleanup, nil
	}

	return "", cleanup, riperr.New(riperr.KindIO, "wheelbuilder: no Fetch configured for sdist %s", src.URL)
}

func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer func() { _ = in.Close() }()
		out, err := os.Create(target)
		if err != nil {
			return err
		}
		defer func() { _ = out.Close() }()
		_, err = io.Copy(out, in)
		return err
	})
}

// fingerprint computes the source fingerprint: SHA-256 of the distribution, the version, and
// either a sorted file list with sizes and mtimes (trees) or the sdist's URL (sdists). The
// archive's bytes are not hashed, so an sdist served under an unchanged URL keeps its fingerprint
// even if its content changes.
func (b *Builder) fingerprint(ctx context.Context, src packagedb.SourceRef) (string, error) {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%s\x00%s\x00", src.Distribution, src.Version)

	if src.IsTree {
		localDir := strings.TrimPrefix(src.URL, "file://")
		var entries []string
		err := filepath.WalkDir(localDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			rel, _ := filepath.Rel(localDir, path)
			entries = append(entries, fmt.Sprintf("%s:%d:%d", rel, info.Size(), info.ModTime().UnixNano()))
			return nil
		})
		if err != nil {
			return "", riperr.Wrap(riperr.KindIO, err, "fingerprint source tree %s", localDir)
		}
		sort.Strings(entries)
		for _, e := range entries {
			h.Write([]byte(e))
			h.Write([]byte{0})
		}
	} else {
		h.Write([]byte(src.URL))
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
