// Package sourcefetch implements pkg/wheelbuilder.Builder.Fetch: given an sdist's URL or a local
// source tree, it stages the source into a scratch directory for the PEP 517 driver. Archives are
// downloaded through pkg/httpcache (so repeated builds of the same sdist don't re-fetch) and
// unpacked with github.com/mholt/archiver, which recognizes sdist's format set (tar.gz, tar.bz2,
// tar.xz, zip) by extension the same way pip's own `shutil.unpack_archive` does.
package sourcefetch

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/mholt/archiver/v3"

	"github.com/datawire/rip/pkg/httpcache"
	"github.com/datawire/rip/pkg/packagedb"
)

// Fetcher downloads (or copies) and unpacks a packagedb.SourceRef into a destination directory,
// suitable for wheelbuilder.Builder.Fetch.
type Fetcher struct {
	HTTP *httpcache.Client
}

// Fetch implements the `func(ctx, src, destDir) error` shape wheelbuilder.Builder.Fetch expects.
func (f *Fetcher) Fetch(ctx context.Context, src packagedb.SourceRef, destDir string) error {
	if src.IsTree {
		localDir := strings.TrimPrefix(src.URL, "file://")
		return copyTree(localDir, destDir)
	}

	result, err := f.HTTP.Get(ctx, src.URL)
	if err != nil {
		return fmt.Errorf("sourcefetch: download %s: %w", src.URL, err)
	}

	// archiver dispatches on the file extension, and httpcache's on-disk path is a bare
	// content digest with no extension -- stage a same-named symlink/copy next to the real
	// bytes so archiver.Unarchive can tell a .tar.gz sdist from a .zip one.
	named := filepath.Join(os.TempDir(), "rip-sdist-"+filestoreBaseName(src.URL))
	if err := linkOrCopy(result.Path(), named); err != nil {
		return fmt.Errorf("sourcefetch: stage %s: %w", src.URL, err)
	}
	defer func() { _ = os.Remove(named) }()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	if err := archiver.Unarchive(named, destDir); err != nil {
		return fmt.Errorf("sourcefetch: unpack %s: %w", src.URL, err)
	}
	return flattenSingleTopLevelDir(destDir)
}

func filestoreBaseName(url string) string {
	if i := strings.LastIndexByte(url, '/'); i >= 0 {
		return url[i+1:]
	}
	return url
}

func linkOrCopy(src, dst string) error {
	_ = os.Remove(dst)
	if err := os.Symlink(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()
	_, err = io.Copy(out, in)
	return err
}

// flattenSingleTopLevelDir hoists an sdist's conventional single top-level directory
// ("name-version/...") up to destDir, matching how pip stages sdists before invoking the build
// backend (the backend is run with destDir, not destDir/name-version, as its working directory).
func flattenSingleTopLevelDir(destDir string) error {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return err
	}
	if len(entries) != 1 || !entries[0].IsDir() {
		return nil
	}
	inner := filepath.Join(destDir, entries[0].Name())
	innerEntries, err := os.ReadDir(inner)
	if err != nil {
		return err
	}
	for _, e := range innerEntries {
		if err := os.Rename(filepath.Join(inner, e.Name()), filepath.Join(destDir, e.Name())); err != nil {
			return err
		}
	}
	return os.Remove(inner)
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
