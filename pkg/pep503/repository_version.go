// This file implements PEP 629 -- Versioning PyPI's Simple API, folded into
// pep503 because rip treats the repository-version check as part of parsing
// the simple-index document rather than as a standalone concern.
//
// https://www.python.org/dev/peps/pep-0629/

package pep503

import (
	"context"
	"fmt"

	"github.com/datawire/dlib/dlog"
	"golang.org/x/net/html"

	"github.com/datawire/rip/pkg/htmlutil"
	"github.com/datawire/rip/pkg/pep440"
)

//nolint:gochecknoglobals // Would be 'const'.
var supportedRepositoryVersion, _ = pep440.ParseVersion("1.0")

// RepositoryVersion reads the `<meta name="pypi:repository-version">` tag, defaulting to "1.0"
// when absent per PEP 629.
func RepositoryVersion(doc *html.Node) (*pep440.Version, error) {
	var verStr string
	err := htmlutil.VisitHTML(doc, nil, func(node *html.Node) error {
		if node.Type != html.ElementNode || node.Data != "meta" {
			return nil
		}
		name, _ := htmlutil.GetAttr(node, "", "name")
		if name != "pypi:repository-version" {
			return nil
		}
		if content, ok := htmlutil.GetAttr(node, "", "content"); ok {
			verStr = content
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if verStr == "" {
		verStr = "1.0"
	}
	return pep440.ParseVersion(verStr)
}

// checkRepositoryVersion fails if the document declares a repository-version with a major
// component newer than this client understands (spec: "Fail if the major part exceeds 1").
func checkRepositoryVersion(ctx context.Context, doc *html.Node) error {
	version, err := RepositoryVersion(doc)
	if err != nil {
		return err
	}
	if version.Major() > supportedRepositoryVersion.Major() {
		return fmt.Errorf("server's pypi:repository-version (%s) is not compatible with this client", version)
	}
	if version.Minor() > supportedRepositoryVersion.Minor() {
		dlog.Warnf(ctx, "server's pypi:repository-version (%s) is newer than this client", version)
	}
	return nil
}
