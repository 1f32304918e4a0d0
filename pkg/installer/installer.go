// Package installer materializes a resolved environment (pkg/resolver's output) into a real
// Python venv directory tree: for each resolved package it downloads-or-builds a wheel
// (pkg/packagedb.GetWheel), unpacks it with pkg/pypa/bdist.InstallWheel, chains the
// RECORD/entry-points/direct_url.json post-install hooks the teacher already wrote for OCI-layer
// installs, and pours the resulting in-memory tree onto disk with pkg/fsutil.MaterializeToDir --
// generalizing "build a container layer" to "populate a venv" (spec.md §4.9).
package installer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/rip/pkg/fsutil"
	"github.com/datawire/rip/pkg/packagedb"
	"github.com/datawire/rip/pkg/pep503"
	"github.com/datawire/rip/pkg/pypa/bdist"
	"github.com/datawire/rip/pkg/pypa/direct_url"
	"github.com/datawire/rip/pkg/pypa/entry_points"
	"github.com/datawire/rip/pkg/pypa/recording_installs"
	"github.com/datawire/rip/pkg/python"
	"github.com/datawire/rip/pkg/python/pep376"
	"github.com/datawire/rip/pkg/reproducible"
	"github.com/datawire/rip/pkg/resolver"
	"github.com/datawire/rip/pkg/riperr"
)

// Name is the value recorded in every installed `.dist-info/INSTALLER` file.
const Name = "rip"

// Installer implements resolver.Installer: it pours a resolved environment onto a real
// filesystem rooted according to plat.Scheme.
type Installer struct {
	// Requested is the normalized-name set of packages named directly by the user (as opposed
	// to pulled in transitively); only these get a `REQUESTED` marker file, mirroring pip's
	// own bookkeeping (spec.md §4.9 supplement, grounded in pep376.RecordRequested).
	Requested map[pep503.NormalizedPackageName]bool
}

var _ resolver.Installer = (*Installer)(nil)

// Install installs every entry of resolved into plat's venv layout, in the order given (the
// resolver already returns them sorted by normalized name, so installation order is
// deterministic and reproducible builds can rely on it).
func (inst *Installer) Install(ctx context.Context, db *packagedb.PackageDb, resolved []resolver.Resolved, plat python.Platform) error {
	now := reproducible.Now()
	for _, r := range resolved {
		dlog.Debugf(ctx, "installer: installing %s %s", r.Name, r.Version)
		if err := inst.installOne(ctx, db, r, plat, now); err != nil {
			return fmt.Errorf("installer: install %s %s: %w", r.Name, r.Version, err)
		}
	}
	return nil
}

func (inst *Installer) installOne(ctx context.Context, db *packagedb.PackageDb, r resolver.Resolved, plat python.Platform, clampTime time.Time) error {
	wheelPath, err := db.GetWheel(ctx, r.Artifact)
	if err != nil {
		return riperr.Wrap(riperr.KindIO, err, "materialize wheel for %s %s", r.Name, r.Version)
	}

	extras := make(map[string]bool, len(r.Extras))
	for _, e := range r.Extras {
		extras[e] = true
	}

	hookList := []bdist.PostInstallHook{
		entry_points.CreateScripts(plat, extras),
		recording_installs.Record("sha256", Name, directURLFor(r.Artifact)),
	}
	if inst.Requested != nil && inst.Requested[r.Name.Normalized()] {
		hookList = append(hookList, pep376.RecordRequested(""))
	}

	hooks := bdist.PostInstallHooks(hookList...)

	vfs, _, maxTime, err := bdist.InstallWheel(ctx, plat, time.Time{}, clampTime, wheelPath, hooks)
	if err != nil {
		return riperr.Wrap(riperr.KindCorruptedWheel, err, "unpack wheel %s", wheelPath)
	}

	refs := make([]fsutil.FileReference, 0, len(vfs))
	for _, ref := range vfs {
		refs = append(refs, ref)
	}
	if err := fsutil.MaterializeToDir(refs, "/", maxTime); err != nil {
		return riperr.Wrap(riperr.KindIO, err, "write files for %s %s", r.Name, r.Version)
	}
	return nil
}

// directURLFor builds the direct_url.json payload for an artifact that didn't come from a
// simple-index page (spec.md §3 DirectUrlJson, §4.9 step 9); index-sourced artifacts get no
// direct_url.json at all.
func directURLFor(a *packagedb.ArtifactInfo) *direct_url.DirectURL {
	if a.FromIndex() {
		return nil
	}
	switch {
	case strings.HasPrefix(a.URL, "git+"):
		rest := strings.TrimPrefix(a.URL, "git+")
		repoURL, ref, _ := strings.Cut(rest, "@")
		return &direct_url.DirectURL{
			URL: repoURL,
			VCSInfo: &direct_url.VCSInfo{
				VCS:               "git",
				RequestedRevision: ref,
				CommitID:          ref,
			},
		}
	case strings.HasPrefix(a.URL, "file://"):
		info := &direct_url.DirInfo{}
		if a.Filename.Kind != bdist.ArtifactSTree {
			// A direct local archive (not a tree): record it as an archive, not a directory.
			return &direct_url.DirectURL{URL: a.URL, ArchiveInfo: archiveInfoFor(a)}
		}
		return &direct_url.DirectURL{URL: a.URL, DirInfo: info}
	default:
		return &direct_url.DirectURL{URL: a.URL, ArchiveInfo: archiveInfoFor(a)}
	}
}

func archiveInfoFor(a *packagedb.ArtifactInfo) *direct_url.ArchiveInfo {
	if sum, ok := a.Hashes["sha256"]; ok && sum != "" {
		return &direct_url.ArchiveInfo{Hash: "sha256=" + sum}
	}
	return &direct_url.ArchiveInfo{}
}
