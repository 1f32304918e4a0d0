package packagedb

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path"
	"strings"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/rip/pkg/pypa/bdist"
	"github.com/datawire/rip/pkg/riperr"
)

// GetDirectURLArtifact resolves a direct requirement URL (spec.md §6: file://, https://,
// git+https://, git+file://) into an ArtifactInfo. VCS URLs are cloned into a scratch directory
// under the FileStore and reported as a source tree (STree).
func (db *PackageDb) GetDirectURLArtifact(ctx context.Context, packageName, rawURL string) (*ArtifactInfo, error) {
	switch {
	case strings.HasPrefix(rawURL, "git+https://"), strings.HasPrefix(rawURL, "git+file://"):
		return db.cloneVCS(ctx, packageName, rawURL)
	case strings.HasPrefix(rawURL, "file://"):
		localPath := strings.TrimPrefix(rawURL, "file://")
		return db.directLocal(packageName, localPath, rawURL)
	case strings.HasPrefix(rawURL, "https://"), strings.HasPrefix(rawURL, "http://"):
		return db.directRemote(packageName, rawURL)
	default:
		return nil, riperr.New(riperr.KindUnsupportedScheme, "unsupported direct-URL scheme: %q", rawURL)
	}
}

func (db *PackageDb) directRemote(packageName, rawURL string) (*ArtifactInfo, error) {
	an, err := bdist.ParseArtifactName(path.Base(rawURL))
	if err != nil {
		// Not a recognizable wheel/sdist filename; treat the whole repository as a tree
		// fetched from an archive URL is out of scope, surface the parse failure.
		return nil, riperr.Wrap(riperr.KindArtifactNameParse, err, "direct URL %q", rawURL)
	}
	return &ArtifactInfo{Filename: *an, URL: rawURL}, nil
}

func (db *PackageDb) directLocal(packageName, localPath, rawURL string) (*ArtifactInfo, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, riperr.Wrap(riperr.KindIO, err, "stat direct URL path %q", localPath)
	}
	if info.IsDir() {
		return &ArtifactInfo{Filename: bdist.STreeArtifactName(localPath), URL: rawURL}, nil
	}
	an, err := bdist.ParseArtifactName(path.Base(localPath))
	if err != nil {
		return nil, riperr.Wrap(riperr.KindArtifactNameParse, err, "direct URL %q", rawURL)
	}
	return &ArtifactInfo{Filename: *an, URL: rawURL}, nil
}

// cloneVCS shells out to `git clone` the same way the teacher's pyinspect.Dynamic shells out to
// python3: dexec-free here since no logging/timeout coupling is needed beyond a plain exec.Command.
func (db *PackageDb) cloneVCS(ctx context.Context, packageName, rawURL string) (*ArtifactInfo, error) {
	_, rest, _ := strings.Cut(rawURL, "+") // strip the "git+" scheme prefix
	rest, subdir := splitSubdirectory(rest)
	repoURL, ref, _ := strings.Cut(rest, "@")

	destDir := path.Join(db.Store.Dir, "vcs", cacheKeyDigest(rawURL)[:16])
	if _, err := os.Stat(destDir); err == nil {
		return db.streeFromClone(packageName, destDir, subdir, rawURL)
	}

	if err := os.MkdirAll(path.Dir(destDir), 0o755); err != nil {
		return nil, riperr.Wrap(riperr.KindIO, err, "create vcs scratch dir")
	}

	args := []string{"clone", "--depth=1"}
	if ref != "" {
		args = append(args, "--branch", ref)
	}
	args = append(args, repoURL, destDir)
	dlog.Debugf(ctx, "packagedb: git %s", strings.Join(args, " "))
	cmd := exec.CommandContext(ctx, "git", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return nil, riperr.Wrap(riperr.KindTransport, err, "git clone %s: %s", repoURL, out)
	}
	return db.streeFromClone(packageName, destDir, subdir, rawURL)
}

func (db *PackageDb) streeFromClone(packageName, cloneDir, subdir, rawURL string) (*ArtifactInfo, error) {
	dir := cloneDir
	if subdir != "" {
		dir = path.Join(cloneDir, subdir)
	}
	return &ArtifactInfo{Filename: bdist.STreeArtifactName(dir), URL: rawURL}, nil
}

func splitSubdirectory(rawURL string) (base, subdir string) {
	base, frag, ok := strings.Cut(rawURL, "#subdirectory=")
	if !ok {
		return rawURL, ""
	}
	return base, frag
}

func cacheKeyDigest(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(r)
}

// extractMetadataFromWheelFile opens a fully-downloaded wheel (or, harmlessly, any zip) and pulls
// out `<dist>-<ver>.dist-info/METADATA`, for PackageDb's step-4 fallback when range reads and the
// standalone `.metadata` file are both unavailable.
func extractMetadataFromWheelFile(localPath string, name bdist.ArtifactName) ([]byte, error) {
	zr, err := zip.OpenReader(localPath)
	if err != nil {
		return nil, riperr.Wrap(riperr.KindCorruptedWheel, err, "open %s", localPath)
	}
	defer func() { _ = zr.Close() }()

	var distVer string
	if name.Kind == bdist.ArtifactWheel {
		distVer = fmt.Sprintf("%s-%s", name.Wheel.Distribution, name.Wheel.Version.String())
	}

	var match *zip.File
	for _, f := range zr.File {
		dir := strings.SplitN(path.Clean(f.Name), "/", 2)[0]
		if !strings.HasSuffix(dir, ".dist-info") {
			continue
		}
		if distVer != "" && !strings.EqualFold(strings.TrimSuffix(dir, ".dist-info"), distVer) {
			continue
		}
		if path.Base(f.Name) != "METADATA" {
			continue
		}
		if match != nil {
			return nil, riperr.New(riperr.KindAmbiguousDistInfo, "multiple METADATA entries in %s", localPath)
		}
		match = f
	}
	if match == nil {
		return nil, riperr.New(riperr.KindDistInfoNotFound, "no METADATA entry found in %s", localPath)
	}
	rc, err := match.Open()
	if err != nil {
		return nil, riperr.Wrap(riperr.KindCorruptedWheel, err, "open METADATA in %s", localPath)
	}
	defer func() { _ = rc.Close() }()
	return io.ReadAll(rc)
}
