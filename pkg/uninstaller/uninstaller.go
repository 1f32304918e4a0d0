// Package uninstaller implements spec.md §4.10: RECORD-driven removal of an installed
// distribution. It is the inverse of pkg/installer -- where the installer pours a wheel's
// in-memory vfs onto disk and has pkg/pypa/recording_installs write a RECORD naming every file it
// wrote, the uninstaller reads that RECORD back and deletes exactly the files it names.
package uninstaller

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/rip/pkg/riperr"
)

// Uninstaller removes a single installed distribution from a real directory tree, driven
// entirely by the RECORD file the installer wrote at install time.
type Uninstaller struct {
	// Root is the filesystem root RECORD's paths are relative to -- the parent directory of
	// the `.dist-info` directory (purelib or platlib), matching the base directory
	// pkg/pypa/recording_installs.Record used when it wrote RECORD's rows
	// (path.Dir(installedDistInfoDir)).
	Root string
}

// Uninstall deletes every file named by distInfoDir's RECORD, relative to u.Root. distInfoDir is
// the `.dist-info` directory name (e.g. "foo-1.0.dist-info"), not a full path.
//
// A RECORD row naming a file that's already gone is tolerated (spec.md §4.10: "missing files are
// tolerated"); any other stat/remove failure aborts immediately, leaving whatever was already
// removed removed -- partial uninstalls are not rolled back, matching the RECORD-driven removal
// the spec describes, and matching pip's own best-effort uninstall behavior. Empty directories
// left behind by the removed files are not cleaned up.
func (u *Uninstaller) Uninstall(ctx context.Context, distInfoDir string) error {
	recordPath := filepath.Join(u.Root, filepath.FromSlash(path.Join(distInfoDir, "RECORD")))

	f, err := os.Open(recordPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return riperr.Wrap(riperr.KindRecordFileMissing, err, "uninstaller: %s", distInfoDir)
		}
		return riperr.Wrap(riperr.KindIO, err, "uninstaller: open RECORD for %s", distInfoDir)
	}
	defer func() { _ = f.Close() }()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // RECORD rows may have trailing empty hash/size columns omitted

	removed := 0
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return riperr.Wrap(riperr.KindRecordFileInvalid, err, "uninstaller: parse RECORD for %s", distInfoDir)
		}
		if len(row) == 0 || row[0] == "" {
			continue
		}
		relPath := row[0]
		target := filepath.Join(u.Root, filepath.FromSlash(relPath))
		if err := os.Remove(target); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				dlog.Debugf(ctx, "uninstaller: %s: already absent, skipping", relPath)
				continue
			}
			return riperr.Wrap(riperr.KindIO, err, "uninstaller: remove %s", relPath)
		}
		removed++
	}
	dlog.Debugf(ctx, "uninstaller: removed %d files for %s", removed, distInfoDir)
	return nil
}
