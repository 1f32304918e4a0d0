package pep503

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/datawire/rip/pkg/pep440"
)

// Hashes is the set of digests a simple-index entry published for a file, taken from the URL
// fragment (`#sha256=...`) per PEP 503.
type Hashes map[string]string

// Hashes extracts the `#sha256=...`/`#md5=...` fragment of the link's href.
func (l FileLink) Hashes() Hashes {
	u, err := url.Parse(l.HRef)
	if err != nil || u.Fragment == "" {
		return nil
	}
	keyvals, err := url.ParseQuery(u.Fragment)
	if err != nil {
		return nil
	}
	hashes := make(Hashes, len(keyvals))
	for key, vals := range keyvals {
		if len(vals) > 0 {
			hashes[key] = vals[0]
		}
	}
	if len(hashes) == 0 {
		return nil
	}
	return hashes
}

// Yanked reports PEP 592's `data-yanked` attribute: presence means yanked, and its value (when
// non-empty) is the reason.
func (l FileLink) Yanked() (yanked bool, reason string) {
	reason, yanked = l.DataAttrs["data-yanked"]
	return yanked, reason
}

// RequiresPython parses the `data-requires-python` attribute, if present. Go's html parser already
// HTML-unescapes attribute values (so `&gt;`/`&lt;` arrive as `>`/`<`), which resolves the open
// question in the design about whether callers must unescape it themselves.
func (l FileLink) RequiresPython() (pep440.Specifier, error) {
	raw, ok := l.DataAttrs["data-requires-python"]
	if !ok || strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return pep440.ParseSpecifier(raw)
}

// DistInfoMetadata reports PEP 658's `data-dist-info-metadata` attribute: available is true when
// the attribute is present at all, and hashes (if any) name the expected digest(s) of the
// standalone `.metadata` file. A bare attribute or literal "true" means "available, no hash" --
// this also covers the open question about non-hex values, which PyPI is observed to treat the
// same way.
func (l FileLink) DistInfoMetadata() (available bool, hashes Hashes) {
	raw, ok := l.DataAttrs["data-dist-info-metadata"]
	if !ok {
		return false, nil
	}
	if raw == "" || raw == "true" {
		return true, nil
	}
	keyvals, err := url.ParseQuery(raw)
	if err != nil {
		return true, nil
	}
	hashes = make(Hashes, len(keyvals))
	for key, vals := range keyvals {
		if len(vals) > 0 {
			hashes[key] = vals[0]
		}
	}
	if len(hashes) == 0 {
		return true, nil
	}
	return true, hashes
}

func (h Hashes) String() string {
	parts := make([]string, 0, len(h))
	for k, v := range h {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	return strings.Join(parts, ",")
}
