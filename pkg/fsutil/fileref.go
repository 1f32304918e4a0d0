package fsutil

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

type FileReference interface {
	fs.FileInfo

	// FullName should follow io/fs rules: it should use forward-slashes, and it should be an
	// absolute path but without the leading "/".
	FullName() string

	Open() (io.ReadCloser, error)
}

// sortedFullNames returns vfs sorted the same way a tar/zip archiver would: part-wise, so that
// EOF < "/" < "-" and each directory's subtree stays contiguous (a plain string compare puts "a-b"
// between "a" and "a/b").
func sortedFullNames(vfs []FileReference) []FileReference {
	sort.Slice(vfs, func(i, j int) bool {
		iParts := strings.Split(vfs[i].FullName(), "/")
		jParts := strings.Split(vfs[j].FullName(), "/")
		for idx := 0; idx < len(iParts) || idx < len(jParts); idx++ {
			var iPart, jPart string
			if idx < len(iParts) {
				iPart = iParts[idx]
			}
			if idx < len(jParts) {
				jPart = jParts[idx]
			}
			if iPart != jPart {
				return iPart < jPart
			}
		}
		return false
	})
	return vfs
}

// MaterializeToDir writes vfs out under destRoot as real files, in dependency order (directories
// before their children). Timestamps after clampTime are clamped down to it, mirroring the
// reproducible-build clamping that the teacher's OCI-layer writer did for tar headers.
//
// This is the venv-install analogue of what used to be LayerFromFileReferences: instead of
// packing the tree into a tar stream for an image layer, it pours it directly onto disk.
func MaterializeToDir(vfs []FileReference, destRoot string, clampTime time.Time) error {
	for _, file := range sortedFullNames(vfs) {
		dst := filepath.Join(destRoot, filepath.FromSlash(file.FullName()))
		mtime := file.ModTime()
		if !clampTime.IsZero() && mtime.After(clampTime) {
			mtime = clampTime
		}

		switch {
		case file.IsDir():
			if err := os.MkdirAll(dst, 0o755); err != nil {
				return fmt.Errorf("fsutil.MaterializeToDir: mkdir %q: %w", file.FullName(), err)
			}
		case file.Mode()&fs.ModeSymlink != 0:
			target, err := readSymlinkTarget(file)
			if err != nil {
				return fmt.Errorf("fsutil.MaterializeToDir: symlink %q: %w", file.FullName(), err)
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return err
			}
			_ = os.Remove(dst)
			if err := os.Symlink(target, dst); err != nil {
				return fmt.Errorf("fsutil.MaterializeToDir: symlink %q: %w", file.FullName(), err)
			}
			continue
		default:
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return err
			}
			if err := writeRegularFile(dst, file); err != nil {
				return fmt.Errorf("fsutil.MaterializeToDir: write %q: %w", file.FullName(), err)
			}
		}

		if err := os.Chtimes(dst, mtime, mtime); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("fsutil.MaterializeToDir: chtimes %q: %w", file.FullName(), err)
		}
	}
	return nil
}

func writeRegularFile(dst string, file FileReference) error {
	reader, err := file.Open()
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	fh, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, file.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(fh, reader); err != nil {
		_ = fh.Close()
		return err
	}
	return fh.Close()
}

// readSymlinkTarget supports FileReference implementations that stash the link target behind
// Open() (as os.Readlink-backed references do) by reading the whole body as the target string.
func readSymlinkTarget(file FileReference) (string, error) {
	reader, err := file.Open()
	if err != nil {
		return "", err
	}
	defer func() { _ = reader.Close() }()
	data, err := io.ReadAll(reader)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
