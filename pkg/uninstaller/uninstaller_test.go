package uninstaller

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datawire/rip/pkg/riperr"
)

func writeRecord(t *testing.T, root, distInfoDir string, rows [][]string) {
	t.Helper()
	dir := filepath.Join(root, distInfoDir)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	f, err := os.Create(filepath.Join(dir, "RECORD"))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	w := csv.NewWriter(f)
	require.NoError(t, w.WriteAll(rows))
	w.Flush()
	require.NoError(t, w.Error())
}

func TestUninstallRemovesRecordedFiles(t *testing.T) {
	root := t.TempDir()
	const distInfoDir = "demo-1.0.dist-info"

	require.NoError(t, os.MkdirAll(filepath.Join(root, "demo"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, distInfoDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "demo", "__init__.py"), []byte("x = 1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, distInfoDir, "METADATA"), []byte("Name: demo\n"), 0o644))

	writeRecord(t, root, distInfoDir, [][]string{
		{"demo/__init__.py", "sha256=deadbeef", "6"},
		{filepath.ToSlash(filepath.Join(distInfoDir, "METADATA")), "sha256=deadbeef", "11"},
		{filepath.ToSlash(filepath.Join(distInfoDir, "RECORD")), "", ""},
	})

	u := &Uninstaller{Root: root}
	err := u.Uninstall(context.Background(), distInfoDir)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(root, "demo", "__init__.py"))
	assert.NoFileExists(t, filepath.Join(root, distInfoDir, "METADATA"))
	// RECORD itself is named by its own last row and so is removed too.
	assert.NoFileExists(t, filepath.Join(root, distInfoDir, "RECORD"))
	// The now-empty .dist-info directory is left behind (spec.md §4.10: directories aren't cleaned up).
	assert.DirExists(t, filepath.Join(root, distInfoDir))
}

func TestUninstallToleratesMissingFiles(t *testing.T) {
	root := t.TempDir()
	const distInfoDir = "demo-1.0.dist-info"

	require.NoError(t, os.MkdirAll(filepath.Join(root, distInfoDir), 0o755))
	writeRecord(t, root, distInfoDir, [][]string{
		{"demo/__init__.py", "sha256=deadbeef", "6"}, // never created
		{filepath.ToSlash(filepath.Join(distInfoDir, "RECORD")), "", ""},
	})

	u := &Uninstaller{Root: root}
	err := u.Uninstall(context.Background(), distInfoDir)
	assert.NoError(t, err)
}

func TestUninstallFailsWhenRecordMissing(t *testing.T) {
	root := t.TempDir()
	const distInfoDir = "demo-1.0.dist-info"
	require.NoError(t, os.MkdirAll(filepath.Join(root, distInfoDir), 0o755))

	u := &Uninstaller{Root: root}
	err := u.Uninstall(context.Background(), distInfoDir)
	require.Error(t, err)
	assert.ErrorIs(t, err, riperr.Of(riperr.KindRecordFileMissing))
}
