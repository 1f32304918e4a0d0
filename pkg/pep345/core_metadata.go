// This file implements the core-metadata format (PEP 345's Metadata-Version 1.2 and later,
// through the "Core metadata specifications" living standard): a permissive RFC822-ish key:value
// format with folded continuation lines, an optional Description body after a blank line, and a
// handful of multi-valued fields (Requires-Dist, Provides-Extra, ...).
package pep345

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/datawire/dlib/dlog"

	"github.com/datawire/rip/pkg/pep440"
	"github.com/datawire/rip/pkg/pep508"
	"github.com/datawire/rip/pkg/riperr"
)

// Metadata is a parsed core-metadata document (a wheel's `*.dist-info/METADATA`, or an sdist's
// `PKG-INFO`).
type Metadata struct {
	MetadataVersion string
	Name            string
	Version         pep440.Version
	RequiresPython  pep440.Specifier
	RequiresDist    []pep508.Requirement
	ProvidesExtra   []string
	Summary         string
	Description     string
	Fields          map[string][]string // every field, verbatim, for anything not promoted above
}

// ParseMetadata parses data as a core-metadata document. Unparsable Requires-Dist entries are
// skipped rather than failing the whole document, so that a single malformed dependency doesn't
// sink an otherwise-usable artifact. ParseMetadata has no context to log through, so it skips them
// without logging; RequiresDistWithLogging re-parses them and logs each failure.
func ParseMetadata(data []byte) (*Metadata, error) {
	fields, body, err := parseRFC822ish(data)
	if err != nil {
		return nil, riperr.Wrap(riperr.KindMalformedMetadata, err, "parse core metadata")
	}

	md := &Metadata{Fields: fields, Description: body}

	if v, ok := firstOf(fields, "Metadata-Version"); ok {
		md.MetadataVersion = v
	} else {
		return nil, riperr.New(riperr.KindMalformedMetadata, "missing required field Metadata-Version")
	}
	if major, _, ok := strings.Cut(md.MetadataVersion, "."); ok {
		if major >= "3" {
			return nil, riperr.New(riperr.KindUnsupportedMetadataVersion,
				"unsupported Metadata-Version: %s", md.MetadataVersion)
		}
	}

	name, ok := firstOf(fields, "Name")
	if !ok {
		return nil, riperr.New(riperr.KindMalformedMetadata, "missing required field Name")
	}
	md.Name = name

	verStr, ok := firstOf(fields, "Version")
	if !ok {
		return nil, riperr.New(riperr.KindMalformedMetadata, "missing required field Version")
	}
	ver, err := pep440.ParseVersion(verStr)
	if err != nil {
		return nil, riperr.Wrap(riperr.KindMalformedMetadata, err, "parse Version")
	}
	md.Version = *ver

	if v, ok := firstOf(fields, "Requires-Python"); ok && strings.TrimSpace(v) != "" {
		spec, err := pep440.ParseSpecifier(v)
		if err != nil {
			return nil, riperr.Wrap(riperr.KindMalformedMetadata, err, "parse Requires-Python")
		}
		md.RequiresPython = spec
	}

	if v, ok := firstOf(fields, "Summary"); ok {
		md.Summary = v
	}

	for _, raw := range fields["Requires-Dist"] {
		req, err := pep508.ParseRequirement(raw)
		if err != nil {
			// Skipped without logging: this function has no ctx to log through.
			// RequiresDistWithLogging re-parses these values and logs each failure.
			continue
		}
		md.RequiresDist = append(md.RequiresDist, *req)
	}
	md.ProvidesExtra = fields["Provides-Extra"]

	return md, nil
}

// RequiresDistWithLogging re-parses the raw Requires-Dist field values, logging (at Warn) any
// that fail to parse instead of silently dropping them -- for callers that have a context.Context
// to log through (ParseMetadata itself is context-free so it degrades silently).
func RequiresDistWithLogging(ctx contextLike, md *Metadata) []pep508.Requirement {
	raws := md.Fields["Requires-Dist"]
	reqs := make([]pep508.Requirement, 0, len(raws))
	for _, raw := range raws {
		req, err := pep508.ParseRequirement(raw)
		if err != nil {
			dlog.Warnf(ctx, "pep345: skipping unparsable Requires-Dist %q: %v", raw, err)
			continue
		}
		reqs = append(reqs, *req)
	}
	return reqs
}

// contextLike is context.Context under a local name; dlog needs a full context.Context to log
// through.
type contextLike = context.Context

func firstOf(fields map[string][]string, key string) (string, bool) {
	vals := fields[key]
	if len(vals) == 0 {
		return "", false
	}
	return vals[0], true
}

// parseRFC822ish implements the permissive grammar: a field name is one-or-more bytes in
// 0x21..0x7E excluding ':'; the separator is ':' then optional horizontal whitespace; a line
// beginning with space/tab continues the previous field's value, with the newline preserved
// (unlike MIME header folding, continuations are NOT joined with a space). The body is everything
// after the first blank line.
func parseRFC822ish(data []byte) (map[string][]string, string, error) {
	fields := make(map[string][]string)

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var curKey string
	var curVal strings.Builder
	haveCur := false

	flush := func() {
		if haveCur {
			fields[curKey] = append(fields[curKey], curVal.String())
			curVal.Reset()
			haveCur = false
		}
	}

	var bodyLines []string
	inBody := false

	for scanner.Scan() {
		line := scanner.Text()
		if inBody {
			bodyLines = append(bodyLines, line)
			continue
		}
		if line == "" {
			flush()
			inBody = true
			continue
		}
		if line[0] == ' ' || line[0] == '\t' {
			if !haveCur {
				return nil, "", fmt.Errorf("continuation line with no preceding field: %q", line)
			}
			curVal.WriteByte('\n')
			curVal.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, " "), "\t"))
			continue
		}
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			return nil, "", fmt.Errorf("malformed header line (no ':'): %q", line)
		}
		flush()
		curKey = strings.TrimSpace(line[:idx])
		curVal.WriteString(strings.TrimLeft(line[idx+1:], " \t"))
		haveCur = true
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, "", err
	}

	return fields, strings.Join(bodyLines, "\n"), nil
}
