// Package resolver picks one version (and one artifact) for every package transitively required
// by a set of top-level specifiers, and can install the resulting environment. It walks the
// dependency graph breadth-first, prefetching each round's candidate lists concurrently per name
// with errgroup.Group (metadata is fetched one decided package at a time) and reporting
// unsatisfiable requirements with derror.MultiError the same way bdist.integrityCheck aggregates
// RECORD mismatches.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/datawire/dlib/derror"
	"github.com/datawire/dlib/dlog"
	"golang.org/x/sync/errgroup"

	"github.com/datawire/rip/pkg/packagedb"
	"github.com/datawire/rip/pkg/pep440"
	"github.com/datawire/rip/pkg/pep503"
	"github.com/datawire/rip/pkg/pep508"
	"github.com/datawire/rip/pkg/pypa/bdist"
	"github.com/datawire/rip/pkg/python"
	"github.com/datawire/rip/pkg/riperr"
)

// PreReleaseResolution controls whether a bare (non-pre-release-pinning) requirement may be
// satisfied by a pre-release version.
type PreReleaseResolution int

const (
	// DisallowPreReleases never considers a pre-release, even when no final release satisfies the
	// combined specifier for that name; the name comes up empty instead.
	DisallowPreReleases PreReleaseResolution = iota
	// ExcludePreReleasesUnlessOnlyOption only considers a.b0/a.rc1/... versions when no final
	// release satisfies the combined specifier for that name.
	ExcludePreReleasesUnlessOnlyOption
	// AllowPreReleases considers pre-releases on equal footing with final releases.
	AllowPreReleases
)

// SDistResolution controls which artifact of a version is used (a wheel, or an sdist/tree built
// locally by a packagedb.Builder), and whether wheels or sdists are considered at all. Versions
// are tried newest first under every policy; under OnlySDists and OnlyWheels a version with no
// usable artifact is skipped.
type SDistResolution int

const (
	// OnlyIfNecessary prefers a compatible wheel over the sdist/tree of the same version and uses
	// the sdist/tree only when that version has no compatible wheel; a newer sdist-only version
	// still wins over an older version that ships a wheel. Same selection as PreferWheels; the
	// two names exist because spec.md §4.8 lists both.
	OnlyIfNecessary SDistResolution = iota
	// PreferWheels selects exactly as OnlyIfNecessary does.
	PreferWheels
	// PreferSDists picks the sdist/source tree over a compatible wheel of the same version,
	// falling back to the wheel only when no sdist/tree is published for that version.
	PreferSDists
	// OnlySDists never selects a wheel artifact; a version with no sdist/tree is skipped as if it
	// had no usable artifacts at all.
	OnlySDists
	// OnlyWheels never selects an sdist/tree artifact (and never invokes the Builder); a version
	// with no compatible wheel is skipped.
	OnlyWheels
)

// Resolved is one decided package in the resulting environment.
type Resolved struct {
	Name     pep503.PackageName
	Version  pep440.Version
	Artifact *packagedb.ArtifactInfo
	// Extras is the set of normalized extra names that were requested for this package
	// somewhere in the requirement graph; pkg/installer uses it to gate entry points whose
	// entry_points.txt declaration names an extra (spec.md §4.9 step 7).
	Extras []string
}

// Resolver resolves and (optionally) installs a dependency set against one target Python
// environment.
type Resolver struct {
	DB               *packagedb.PackageDb
	Platform         python.Platform
	PreReleasePolicy PreReleaseResolution
	SDistPolicy      SDistResolution
	Installer        Installer // nil is fine if callers only need Resolve
}

// Installer is the narrow interface the resolved environment is handed to for materialization.
// Implemented by pkg/installer; kept here (rather than imported) so pkg/buildenv's Installer
// interface and this one can both be satisfied by the same concrete type at cmd/rip without a
// resolver<->installer import cycle.
type Installer interface {
	Install(ctx context.Context, db *packagedb.PackageDb, resolved []Resolved, plat python.Platform) error
}

// node is one in-progress package in the resolution graph.
type node struct {
	name         pep503.PackageName
	extras       map[string]bool
	combinedSpec pep440.Specifier
	requiredBy   []string        // human-readable provenance, for conflict diagnostics
	requirers    map[string]bool // distinct immediate-requirer provenance strings

	mu       sync.Mutex
	decided  bool
	resolved Resolved
}

// Resolve walks requirementStrs (PEP 508 requirement strings, as given on a command line or in a
// requirements file) to a fixed point: every transitively required name has exactly one decided
// version. It re-expands the frontier whenever a newly decided package's own Requires-Dist adds
// requirements for names not yet seen, or tightens an already-seen name's combined specifier.
func (r *Resolver) Resolve(ctx context.Context, requirementStrs []string) ([]Resolved, error) {
	nodes := make(map[pep503.NormalizedPackageName]*node)
	var order []pep503.NormalizedPackageName

	addRequirement := func(reqStr, provenance string, extra string) error {
		req, err := pep508.ParseRequirement(reqStr)
		if err != nil {
			return riperr.Wrap(riperr.KindUnsupportedFeature, err, "parse requirement %q", reqStr)
		}
		pyVer, err := r.Platform.VersionInfo.PEP440()
		if err != nil {
			return riperr.Wrap(riperr.KindUnsupportedFeature, err, "compute target Python version")
		}
		implName := r.Platform.Marker("implementation_name")
		if implName == "" {
			implName = "cpython"
		}
		env := pep508.Environment{
			PythonVersion:                fmt.Sprintf("%d.%d", r.Platform.VersionInfo.Major, r.Platform.VersionInfo.Minor),
			PythonFullVersion:            pyVer.String(),
			OSName:                       r.Platform.Marker("os_name"),
			SysPlatform:                  r.Platform.Marker("sys_platform"),
			PlatformRelease:              r.Platform.Marker("platform_release"),
			PlatformSystem:               r.Platform.Marker("platform_system"),
			PlatformVersion:              r.Platform.Marker("platform_version"),
			PlatformMachine:              r.Platform.Marker("platform_machine"),
			PlatformPythonImplementation: r.Platform.Marker("platform_python_implementation"),
			ImplementationName:           implName,
			ImplementationVersion:        r.Platform.Marker("implementation_version"),
			Extra:                        extra,
		}
		if req.Marker != nil {
			ok, err := req.Marker.Eval(env)
			if err != nil {
				return riperr.Wrap(riperr.KindUnsupportedFeature, err, "evaluate marker for %q", reqStr)
			}
			if !ok {
				return nil
			}
		}

		key := req.Name.Normalized()
		n, ok := nodes[key]
		if !ok {
			n = &node{name: req.Name, extras: map[string]bool{}, requirers: map[string]bool{}}
			nodes[key] = n
			order = append(order, key)
		}
		n.combinedSpec = append(n.combinedSpec, req.Specifier...)
		n.requiredBy = append(n.requiredBy, fmt.Sprintf("%s (from %s)", reqStr, provenance))
		n.requirers[provenance] = true
		for _, e := range req.Extras {
			n.extras[string(e.Normalized())] = true
		}

		// n was already Decided (spec.md §4.8's state machine) by an earlier round, and this
		// requirement -- discovered afterwards, from a different branch of the graph -- tightens
		// its combined specifier past the version already chosen. Rather than silently keep the
		// now-constraint-violating decision (or implement full candidate-discarding backtracking),
		// fail loudly: the decision is wrong and must be reported, not masked.
		if n.decided && !n.combinedSpec.Match(n.resolved.Version) {
			return riperr.New(riperr.KindResolutionConflict,
				"conflicting constraints on %s: %s was already selected, but this does not satisfy "+
					"the combined specifier %s (required by: %s)",
				n.name, n.resolved.Version, n.combinedSpec, strings.Join(n.requiredBy, "; "))
		}
		return nil
	}

	for _, reqStr := range requirementStrs {
		if err := addRequirement(reqStr, "command line", ""); err != nil {
			return nil, err
		}
	}

	processed := 0
	for processed < len(order) {
		// Prefetch this round's simple-index pages concurrently (spec.md §5: "fetches for
		// different names may be issued concurrently"); PackageDb memoizes per name, so deciding
		// sequentially afterwards just reads the warmed cache.
		round := order[processed:]
		group, gctx := errgroup.WithContext(ctx)
		for _, key := range round {
			name := nodes[key].name
			group.Go(func() error {
				_, err := r.DB.AvailableArtifacts(gctx, name)
				return err
			})
		}
		if err := group.Wait(); err != nil {
			return nil, riperr.Wrap(riperr.KindTransport, err, "prefetch candidate artifacts")
		}

		key := order[processed]
		processed++
		n := nodes[key]
		if n.decided {
			continue
		}

		resolved, err := r.decide(ctx, n)
		if err != nil {
			return nil, err
		}
		for e := range n.extras {
			resolved.Extras = append(resolved.Extras, e)
		}
		sort.Strings(resolved.Extras)
		n.decided = true
		n.resolved = resolved

		md, _, err := r.DB.GetMetadata(ctx, []*packagedb.ArtifactInfo{resolved.Artifact})
		if err != nil {
			return nil, riperr.Wrap(riperr.KindResolutionNoMatch, err, "fetch metadata for %s %s", n.name, resolved.Version)
		}

		for _, dep := range md.RequiresDist {
			extras := []string{""}
			for e := range n.extras {
				extras = append(extras, e)
			}
			for _, e := range extras {
				if err := addRequirement(dep.Raw, fmt.Sprintf("%s %s", n.name, resolved.Version), e); err != nil {
					if errors.Is(err, riperr.Of(riperr.KindResolutionConflict)) {
						return nil, err
					}
					dlog.Warnf(ctx, "resolver: skipping dependency %q of %s %s: %v", dep.Raw, n.name, resolved.Version, err)
				}
			}
		}
	}

	result := make([]Resolved, 0, len(order))
	for _, key := range order {
		result = append(result, nodes[key].resolved)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name.Normalized() < result[j].Name.Normalized()
	})
	return result, nil
}

// decide picks the single best-matching version+artifact for n out of everything the index
// offers, per spec.md §5's ordering: version descending, then wheel over sdist, then (among
// wheels) tag preference ascending (more specific first).
func (r *Resolver) decide(ctx context.Context, n *node) (Resolved, error) {
	versions, err := r.DB.AvailableArtifacts(ctx, n.name)
	if err != nil {
		return Resolved{}, riperr.Wrap(riperr.KindTransport, err, "list artifacts for %s", n.name)
	}

	var errs derror.MultiError
	var candidates []packagedb.VersionArtifacts
	for _, va := range versions {
		if !n.combinedSpec.Match(va.Version) {
			continue
		}
		if va.Version.IsPreRelease() && r.PreReleasePolicy != AllowPreReleases {
			continue
		}
		candidates = append(candidates, va)
	}
	if len(candidates) == 0 && r.PreReleasePolicy == ExcludePreReleasesUnlessOnlyOption {
		// Retry allowing pre-releases, since this policy is "only when no final release
		// satisfies" -- if we found nothing at all, a pre-release is better than nothing.
		// DisallowPreReleases skips this retry entirely: a pre-release is never acceptable.
		for _, va := range versions {
			if n.combinedSpec.Match(va.Version) {
				candidates = append(candidates, va)
			}
		}
	}

	for _, va := range candidates {
		artifact, yankErr := r.bestArtifact(va)
		if yankErr != nil {
			errs = append(errs, fmt.Errorf("%s: %w", va.Version.String(), yankErr))
			continue
		}
		if artifact == nil {
			continue
		}
		return Resolved{Name: n.name, Version: va.Version, Artifact: artifact}, nil
	}

	errs = append(errs, fmt.Errorf("required by: %s", strings.Join(n.requiredBy, "; ")))

	// Distinct requirers landing on an unsatisfiable combined specifier is a conflict (spec.md §7
	// sub-kind ConflictingConstraints, §8 scenario 6); a single requirer with no matching
	// published version at all is the plainer NoMatchingCandidate case.
	kind := riperr.KindResolutionNoMatch
	msg := "no version of %s satisfies %s: %v"
	if len(n.requirers) >= 2 {
		kind = riperr.KindResolutionConflict
		msg = "conflicting constraints on %s: no version satisfies the combined specifier %s: %v"
	}
	return Resolved{}, riperr.New(kind, msg, n.name, n.combinedSpec, errs)
}

// bestArtifact picks the artifact to use for one already-version-selected candidate: the
// most-preferred compatible wheel, or (per SDistPolicy) the sdist/tree. Yanked artifacts are never
// selected, not even for an exact `==` pin; when none of the version's unyanked artifacts is
// usable and at least one artifact is yanked, it returns a KindResolutionYankedRequired error.
func (r *Resolver) bestArtifact(va packagedb.VersionArtifacts) (*packagedb.ArtifactInfo, error) {
	var bestWheel *packagedb.ArtifactInfo
	bestPref := -1
	var sdist *packagedb.ArtifactInfo
	anyYanked := false

	for _, a := range va.Artifacts {
		if a.Yanked {
			anyYanked = true
			continue
		}
		r.considerArtifact(a, &bestWheel, &bestPref, &sdist)
	}

	if bestWheel == nil && sdist == nil && anyYanked {
		return nil, riperr.New(riperr.KindResolutionYankedRequired, "all artifacts for this version are yanked")
	}

	switch r.SDistPolicy {
	case OnlyWheels:
		return bestWheel, nil
	case OnlySDists:
		return sdist, nil
	case PreferSDists:
		if sdist != nil {
			return sdist, nil
		}
		return bestWheel, nil
	default: // OnlyIfNecessary, PreferWheels
		if bestWheel != nil {
			return bestWheel, nil
		}
		return sdist, nil
	}
}

func (r *Resolver) considerArtifact(a *packagedb.ArtifactInfo, bestWheel **packagedb.ArtifactInfo, bestPref *int, sdist **packagedb.ArtifactInfo) {
	if a.Filename.Kind == bdist.ArtifactWheel {
		if !a.Filename.Satisfies(r.Platform.Tags) {
			return
		}
		pref := r.Platform.Tags.Preference(a.Filename.Wheel.CompatibilityTag)
		if *bestWheel == nil || pref < *bestPref {
			*bestWheel = a
			*bestPref = pref
		}
		return
	}
	if *sdist == nil {
		*sdist = a
	}
}
