// Package packagedb is the facade a resolver talks to: per-package artifact listings, cached
// metadata extraction (choosing the cheapest of several strategies), and on-demand wheel/sdist
// materialization. It composes pkg/pep503 (simple-index HTML), pkg/httpcache (body caching),
// pkg/lazywheel (range-read metadata) and a caller-supplied Builder (for sdists/source trees),
// the same "facade over several narrow collaborators" shape as the teacher's bdist.InstallWheel
// composing wheel/rewritePython/entry_points.
package packagedb

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/sync/singleflight"

	"github.com/datawire/rip/pkg/filestore"
	"github.com/datawire/rip/pkg/httpcache"
	"github.com/datawire/rip/pkg/lazywheel"
	"github.com/datawire/rip/pkg/pep345"
	"github.com/datawire/rip/pkg/pep425"
	"github.com/datawire/rip/pkg/pep440"
	"github.com/datawire/rip/pkg/pep503"
	"github.com/datawire/rip/pkg/pypa/bdist"
	"github.com/datawire/rip/pkg/riperr"
)

// Builder is the narrow interface packagedb needs from a wheel builder. Defined here rather than
// imported from pkg/wheelbuilder to avoid an import cycle (wheelbuilder itself needs to resolve
// and install its isolated build environment's requirements, which goes back through a PackageDb).
type Builder interface {
	// PrepareMetadata extracts (or cheaply computes) core metadata for an sdist or source tree
	// without necessarily producing a wheel.
	PrepareMetadata(ctx context.Context, src SourceRef) (*pep345.Metadata, error)
	// BuildWheel produces a wheel file for src and returns its local path.
	BuildWheel(ctx context.Context, src SourceRef) (string, error)
}

// SourceRef identifies an sdist archive or a source tree to a Builder.
type SourceRef struct {
	Distribution string
	Version      string // "" for a source tree without a known version yet
	URL          string // sdist download URL, or "file://" + tree path
	IsTree       bool
}

// VersionArtifacts groups every artifact published for one version of a package, as returned by
// AvailableArtifacts.
type VersionArtifacts struct {
	Version   pep440.Version
	Artifacts []*ArtifactInfo
}

// ArtifactInfo is a parsed, immutable simple-index entry (spec.md §3's ArtifactInfo), or a
// synthetic one built for a direct-URL/VCS reference.
type ArtifactInfo struct {
	Filename                  bdist.ArtifactName
	URL                       string
	Hashes                    pep503.Hashes
	RequiresPython            pep440.Specifier
	DistInfoMetadataAvailable bool
	DistInfoMetadataHashes    pep503.Hashes
	Yanked                    bool
	YankedReason              string

	link *pep503.FileLink // nil for direct-URL/VCS artifacts
}

// FromIndex reports whether this artifact was discovered via a simple-index page, as opposed to
// a direct URL/VCS/local-directory requirement -- pkg/installer uses this to decide whether to
// write a direct_url.json (spec.md §4.9 step 9; only direct references get one).
func (a *ArtifactInfo) FromIndex() bool { return a.link != nil }

// nameState is the per-package-name cache entry: a memoized artifact listing plus an
// expand-at-most-once lock, mirroring spec.md §5's "writes coordinated by per-name locks".
type nameState struct {
	mu        sync.Mutex
	artifacts []VersionArtifacts
	fetched   bool
}

// PackageDb is the facade. The zero value is not usable; construct with New.
type PackageDb struct {
	Index       pep503.Client
	HTTP        *httpcache.Client
	Store       *filestore.Store
	Tags        pep425.Installer
	Python      *pep440.Version
	Builder     Builder
	AllowRanges bool

	namesMu sync.Mutex
	names   map[pep503.NormalizedPackageName]*nameState

	group singleflight.Group // coalesces concurrent fetches per (url, operation)
}

func New(indexBaseURL string, httpClient *httpcache.Client, store *filestore.Store, tags pep425.Installer, python *pep440.Version, builder Builder) *PackageDb {
	return &PackageDb{
		Index:       pep503.Client{BaseURL: indexBaseURL, Cache: httpClient, Python: python},
		HTTP:        httpClient,
		Store:       store,
		Tags:        tags,
		Python:      python,
		Builder:     builder,
		AllowRanges: true,
		names:       make(map[pep503.NormalizedPackageName]*nameState),
	}
}

func (db *PackageDb) nameStateFor(name pep503.PackageName) *nameState {
	db.namesMu.Lock()
	defer db.namesMu.Unlock()
	st, ok := db.names[name.Normalized()]
	if !ok {
		st = &nameState{}
		db.names[name.Normalized()] = st
	}
	return st
}

// AvailableArtifacts fetches (once per process, cached thereafter) the simple-index page for
// name, groups entries by version, and returns them sorted by version descending.
func (db *PackageDb) AvailableArtifacts(ctx context.Context, name pep503.PackageName) ([]VersionArtifacts, error) {
	st := db.nameStateFor(name)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.fetched {
		return st.artifacts, nil
	}

	links, err := db.Index.ListPackageFiles(ctx, name.String())
	if err != nil {
		return nil, riperr.Wrap(riperr.KindTransport, err, "fetch simple index for %q", name.String())
	}

	byVersion := make(map[string]*VersionArtifacts)
	var order []string
	for i := range links {
		link := links[i]
		an, err := bdist.ParseArtifactName(link.Text)
		if err != nil {
			dlog.Debugf(ctx, "packagedb: skipping unparsable artifact %q: %v", link.Text, err)
			continue
		}
		if pep503.Normalize(an.Distribution()) != name.Normalized() {
			dlog.Debugf(ctx, "packagedb: skipping %q: distribution %q does not match %q",
				link.Text, an.Distribution(), name.String())
			continue
		}

		reqPy, err := link.RequiresPython()
		if err != nil {
			dlog.Debugf(ctx, "packagedb: ignoring malformed data-requires-python for %q: %v", link.Text, err)
			reqPy = nil
		}
		yanked, reason := link.Yanked()
		distMetaAvail, distMetaHashes := link.DistInfoMetadata()

		info := &ArtifactInfo{
			Filename:                  *an,
			URL:                       link.HRef,
			Hashes:                    link.Hashes(),
			RequiresPython:            reqPy,
			DistInfoMetadataAvailable: distMetaAvail,
			DistInfoMetadataHashes:    distMetaHashes,
			Yanked:                    yanked,
			YankedReason:              reason,
			link:                      &link,
		}

		verStr := artifactVersionString(an)
		key := verStr
		group, ok := byVersion[key]
		if !ok {
			ver, err := pep440.ParseVersion(verStr)
			if err != nil {
				dlog.Debugf(ctx, "packagedb: skipping %q: unparsable version %q: %v", link.Text, verStr, err)
				continue
			}
			group = &VersionArtifacts{Version: *ver}
			byVersion[key] = group
			order = append(order, key)
		}
		group.Artifacts = append(group.Artifacts, info)
	}

	result := make([]VersionArtifacts, 0, len(order))
	for _, key := range order {
		result = append(result, *byVersion[key])
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version.Cmp(result[j].Version) > 0
	})

	st.artifacts = result
	st.fetched = true
	return result, nil
}

func artifactVersionString(an *bdist.ArtifactName) string {
	switch an.Kind {
	case bdist.ArtifactWheel:
		return an.Wheel.Version.String()
	case bdist.ArtifactSDist:
		return an.SDistVersion.String()
	default:
		return "0"
	}
}

// GetMetadata implements spec.md §4.6's 4-step cascade (plus WheelBuilder delegation for
// sdists/source trees), trying each artifact in order until one succeeds.
func (db *PackageDb) GetMetadata(ctx context.Context, artifacts []*ArtifactInfo) (*ArtifactInfo, *pep345.Metadata, error) {
	var errs []error
	for _, a := range artifacts {
		md, err := db.getOneMetadata(ctx, a)
		if err == nil {
			return a, md, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", a.URL, err))
	}
	return nil, nil, riperr.New(riperr.KindResolutionNoMatch,
		"no artifact yielded usable metadata out of %d candidate(s): %v", len(artifacts), errs)
}

func (db *PackageDb) getOneMetadata(ctx context.Context, a *ArtifactInfo) (*pep345.Metadata, error) {
	v, err, _ := db.group.Do("metadata:"+a.URL, func() (interface{}, error) {
		return db.getOneMetadataUncoalesced(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	return v.(*pep345.Metadata), nil
}

func (db *PackageDb) getOneMetadataUncoalesced(ctx context.Context, a *ArtifactInfo) (*pep345.Metadata, error) {
	// Step 1: cached metadata in FileStore, keyed by artifact URL.
	cacheDigest := filestore.Digest(cacheKeyDigest("metadata:" + a.URL))
	if db.Store.Has(cacheDigest) {
		rc, err := db.Store.Open(cacheDigest)
		if err == nil {
			defer func() { _ = rc.Close() }()
			var raw []byte
			raw, err = readAll(rc)
			if err == nil {
				md, err := pep345.ParseMetadata(raw)
				if err == nil {
					dlog.Debugf(ctx, "packagedb: metadata cache hit for %s", a.URL)
					return md, nil
				}
			}
		}
	}

	md, raw, err := db.fetchMetadata(ctx, a)
	if err != nil {
		return nil, err
	}
	if raw != nil {
		dst := db.Store.Path(cacheDigest)
		tmp := dst + ".tmp"
		err := os.MkdirAll(filepath.Dir(dst), 0o755)
		if err == nil {
			err = os.WriteFile(tmp, raw, 0o644)
		}
		if err == nil {
			err = os.Rename(tmp, dst)
		}
		if err != nil {
			dlog.Warnf(ctx, "packagedb: failed to cache metadata for %s: %v", a.URL, err)
		}
	}
	return md, nil
}

func (db *PackageDb) fetchMetadata(ctx context.Context, a *ArtifactInfo) (*pep345.Metadata, []byte, error) {
	if a.Filename.Kind == bdist.ArtifactSDist || a.Filename.Kind == bdist.ArtifactSTree {
		md, err := db.Builder.PrepareMetadata(ctx, db.sourceRefOf(a))
		if err != nil {
			return nil, nil, err
		}
		return md, nil, nil
	}

	// Step 2: PEP 658 standalone .metadata file.
	if a.DistInfoMetadataAvailable {
		dlog.Debugf(ctx, "packagedb: fetching dist-info-metadata for %s", a.URL)
		res, err := db.HTTP.Get(ctx, a.URL+".metadata")
		if err == nil {
			rc, err := res.Open()
			if err == nil {
				defer func() { _ = rc.Close() }()
				raw, err := readAll(rc)
				if err == nil {
					md, err := pep345.ParseMetadata(raw)
					if err == nil {
						return md, raw, nil
					}
				}
			}
		}
		dlog.Debugf(ctx, "packagedb: dist-info-metadata fetch for %s failed, falling back", a.URL)
	}

	// Step 3: range-read the wheel's METADATA via LazyWheelReader.
	if db.AllowRanges {
		rr, err := db.HTTP.NewRangeReader(ctx, a.URL)
		if err == nil && rr.SupportsRanges() {
			distVer := fmt.Sprintf("%s-%s", a.Filename.Wheel.Distribution, a.Filename.Wheel.Version.String())
			raw, md, err := lazywheel.ReadMetadata(ctx, rr, distVer)
			if err == nil {
				return md, raw, nil
			}
			dlog.Debugf(ctx, "packagedb: lazy metadata read for %s failed, falling back: %v", a.URL, err)
		}
	}

	// Step 4: download the whole artifact and extract METADATA from it.
	res, err := db.HTTP.Get(ctx, a.URL)
	if err != nil {
		return nil, nil, riperr.Wrap(riperr.KindTransport, err, "download %s", a.URL)
	}
	raw, err := extractMetadataFromWheelFile(res.Path(), a.Filename)
	if err != nil {
		return nil, nil, err
	}
	md, err := pep345.ParseMetadata(raw)
	if err != nil {
		return nil, nil, riperr.Wrap(riperr.KindMalformedMetadata, err, "parse METADATA from %s", a.URL)
	}
	return md, raw, nil
}

func (db *PackageDb) sourceRefOf(a *ArtifactInfo) SourceRef {
	return SourceRef{
		Distribution: a.Filename.Distribution(),
		URL:          a.URL,
		IsTree:       a.Filename.Kind == bdist.ArtifactSTree,
	}
}

// GetWheel ensures a wheel artifact exists on local disk (downloading it, or delegating to the
// Builder for sdists/source trees) and returns its local path.
func (db *PackageDb) GetWheel(ctx context.Context, a *ArtifactInfo) (string, error) {
	v, err, _ := db.group.Do("wheel:"+a.URL, func() (interface{}, error) {
		if a.Filename.Kind == bdist.ArtifactWheel {
			res, err := db.HTTP.Get(ctx, a.URL)
			if err != nil {
				return "", riperr.Wrap(riperr.KindTransport, err, "download wheel %s", a.URL)
			}
			return res.Path(), nil
		}
		return db.Builder.BuildWheel(ctx, db.sourceRefOf(a))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
