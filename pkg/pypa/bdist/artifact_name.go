package bdist

import (
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/datawire/rip/pkg/pep425"
	"github.com/datawire/rip/pkg/pep440"
)

// ArtifactKind distinguishes the three shapes a package release can be distributed in: a
// prebuilt wheel, a source distribution archive, or (only ever seen locally, never on an index) a
// plain source tree being installed in editable/development mode.
type ArtifactKind int

const (
	ArtifactWheel ArtifactKind = iota
	ArtifactSDist
	ArtifactSTree
)

func (k ArtifactKind) String() string {
	switch k {
	case ArtifactWheel:
		return "wheel"
	case ArtifactSDist:
		return "sdist"
	case ArtifactSTree:
		return "stree"
	default:
		return "unknown"
	}
}

// ArtifactName is the tagged union the spec calls ArtifactName: a wheel filename parses into
// FileNameData (Distribution/Version/BuildTag/CompatibilityTag); an sdist parses into a
// distribution+version pair with its archive format; a source tree has neither, only a
// filesystem path.
type ArtifactName struct {
	Kind ArtifactKind

	Wheel *FileNameData

	SDistDistribution string
	SDistVersion      pep440.Version
	SDistFormat       string // "tar.gz", "zip", etc.

	TreePath string
}

func (n ArtifactName) Distribution() string {
	switch n.Kind {
	case ArtifactWheel:
		return n.Wheel.Distribution
	case ArtifactSDist:
		return n.SDistDistribution
	default:
		return ""
	}
}

func (n ArtifactName) String() string {
	switch n.Kind {
	case ArtifactWheel:
		s, err := GenerateFilename(*n.Wheel)
		if err != nil {
			return fmt.Sprintf("<invalid wheel name: %v>", err)
		}
		return s
	case ArtifactSDist:
		return fmt.Sprintf("%s-%s.%s", n.SDistDistribution, n.SDistVersion.String(), n.SDistFormat)
	case ArtifactSTree:
		return n.TreePath
	default:
		return "<unknown artifact>"
	}
}

//nolint:gochecknoglobals // would be 'const'
var sdistSuffixes = []string{".tar.gz", ".tar.bz2", ".tar.xz", ".tar.Z", ".tar", ".zip"}

var reSDistName = regexp.MustCompile(`^(?P<distribution>.+)-(?P<version>[^-]+)$`)

// ParseArtifactName classifies filename as a wheel or sdist by its suffix, and parses out its
// distribution name and version. It never returns an ArtifactSTree -- callers construct those
// directly from a known filesystem path (there being no filename grammar to parse).
func ParseArtifactName(filename string) (*ArtifactName, error) {
	base := path.Base(filename)
	if strings.HasSuffix(base, ".whl") {
		data, err := ParseFilename(base)
		if err != nil {
			return nil, fmt.Errorf("bdist.ParseArtifactName: %w", err)
		}
		return &ArtifactName{Kind: ArtifactWheel, Wheel: data}, nil
	}

	for _, suffix := range sdistSuffixes {
		if !strings.HasSuffix(base, suffix) {
			continue
		}
		stem := strings.TrimSuffix(base, suffix)
		match := reSDistName.FindStringSubmatch(stem)
		if match == nil {
			return nil, fmt.Errorf("bdist.ParseArtifactName: invalid sdist filename: %q", filename)
		}
		ver, err := pep440.ParseVersion(match[reSDistName.SubexpIndex("version")])
		if err != nil {
			return nil, fmt.Errorf("bdist.ParseArtifactName: invalid sdist filename: %q: %w", filename, err)
		}
		return &ArtifactName{
			Kind:              ArtifactSDist,
			SDistDistribution: match[reSDistName.SubexpIndex("distribution")],
			SDistVersion:      *ver,
			SDistFormat:       strings.TrimPrefix(suffix, "."),
		}, nil
	}

	return nil, fmt.Errorf("bdist.ParseArtifactName: unrecognized artifact filename: %q", filename)
}

// STreeArtifactName builds an ArtifactSTree referring to a local, already-unpacked source
// directory (e.g. `pip install -e .`/`pip install ./some-dir`).
func STreeArtifactName(dir string) ArtifactName {
	return ArtifactName{Kind: ArtifactSTree, TreePath: dir}
}

// Satisfies reports whether this artifact, if built/installed, would count as a match for a
// compatibility tag set -- only meaningful for wheels; sdists and source trees are always
// potential matches since they're compiled locally against whatever interpreter is running.
func (n ArtifactName) Satisfies(installer pep425.Installer) bool {
	if n.Kind != ArtifactWheel {
		return true
	}
	return installer.Supports(n.Wheel.CompatibilityTag)
}
