//Package entry_points implementes the PyPA Entry points specification.
//
// https://packaging.python.org/en/latest/specifications/entry-points/
package entry_points

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"path"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/datawire/rip/pkg/fsutil"
	"github.com/datawire/rip/pkg/python"
	"github.com/datawire/rip/pkg/pypa/bdist"
	"github.com/datawire/rip/pkg/pypa/launchers"
)

var (
	scriptTmpl = template.Must(template.
			New("entry_point.py").
			Parse(`#!{{ .Shebang }}
# -*- coding: utf-8 -*-
import re
import sys
{{ if .Func }}from {{ .Module }} import {{ .Func }}{{ else }}import runpy{{ end }}
if __name__ == '__main__':
    sys.argv[0] = re.sub(r'(-script\.pyw|\.exe)?$', '', sys.argv[0])
    {{ if .Func }}sys.exit({{ .Func }}()){{ else }}sys.exit(runpy.run_module({{ printf "%q" .Module }}, run_name='__main__')){{ end }}
`))

	configParser = func() *python.ConfigParser {
		configParser := python.NewConfigParser()
		configParser.OptionTransform = func(str string) string { return str }
		configParser.Delimiters = []string{"="}
		return configParser
	}()

	// reFuncRef matches `module[:function][ [extras...]]`, per spec.md §4.9's entry-point
	// grammar. Extras are returned raw (comma-separated); the caller normalizes and checks
	// membership.
	reFuncRef = regexp.MustCompile(`^(?P<module>[\w\d_\-.]+)(:(?P<function>[\w\d_\-.]+))?(?:\s+\[(?P<extras>(?:[^,\]]+,?\s*)+)\])?$`)
)

// CreateScripts returns a PostInstallHook that turns `entry_points.txt`'s `console_scripts` and
// `gui_scripts` sections into launchers: a `#!`-shebang Python script on a non-Windows Platform,
// or an assembled distlib-style launcher (stub + shebang + zipped `__main__.py`) when
// plat.Windows is set. installedExtras is the normalized extra-name set this install actually
// selected; an entry point whose declaration names an extra not in that set is skipped rather
// than installed unconditionally (spec.md §4.9 step 7).
func CreateScripts(plat python.Platform, installedExtras map[string]bool) bdist.PostInstallHook {
	return func(ctx context.Context, clampTime time.Time, vfs map[string]fsutil.FileReference, installedDistInfoDir string) error {
		if err := plat.Init(); err != nil {
			return err
		}
		configFile, ok := vfs[path.Join(installedDistInfoDir, "entry_points.txt")]
		if !ok {
			return nil
		}
		configReader, err := configFile.Open()
		if err != nil {
			return err
		}

		configData, err := configParser.Parse(configReader)
		if err != nil {
			return err
		}

		interesting := map[string]struct {
			shebang string
			gui     bool
		}{
			"console_scripts": {plat.ConsoleShebang, false},
			"gui_scripts":     {plat.GraphicalShebang, true},
		}

		for sectionName, kind := range interesting {
			sectionData, ok := configData[sectionName]
			if !ok {
				continue
			}
			for k, v := range sectionData {
				m := reFuncRef.FindStringSubmatch(v)
				if m == nil {
					return fmt.Errorf("entry_points.txt: %q: %q: not a function reference: %q", sectionName, k, v)
				}
				module := m[reFuncRef.SubexpIndex("module")]
				function := m[reFuncRef.SubexpIndex("function")]
				extrasRaw := m[reFuncRef.SubexpIndex("extras")]

				if extrasRaw != "" && !extrasSatisfied(extrasRaw, installedExtras) {
					continue
				}

				if err := writeLauncher(vfs, plat, kind.shebang, kind.gui, k, module, function, clampTime); err != nil {
					return fmt.Errorf("%s: %s: %w", sectionName, k, err)
				}
			}
		}
		return nil
	}
}

// extrasSatisfied reports whether every extra named in a raw (possibly comma/space-separated)
// `[extras...]` clause is present in installedExtras.
func extrasSatisfied(raw string, installedExtras map[string]bool) bool {
	for _, e := range strings.Split(raw, ",") {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !installedExtras[e] {
			return false
		}
	}
	return true
}

func writeLauncher(
	vfs map[string]fsutil.FileReference,
	plat python.Platform,
	shebang string,
	gui bool,
	name, module, function string,
	clampTime time.Time,
) error {
	var buf bytes.Buffer
	if err := scriptTmpl.Execute(&buf, map[string]string{
		"Shebang": shebang,
		"Module":  module,
		"Func":    function,
	}); err != nil {
		return err
	}

	scriptName := name
	if plat.Windows {
		scriptName += ".exe"
	}
	content := buf.Bytes()
	if plat.Windows {
		stub, err := launchers.Stub(launchers.ArchFor(plat), gui)
		if err != nil {
			return err
		}
		content = launchers.Assemble(stub, shebang, content)
	}

	header := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     path.Join(plat.Scheme.Scripts[1:], scriptName),
		Mode:     0o755,
		Size:     int64(len(content)),
		ModTime:  clampTime,
	}
	vfs[header.Name] = &fsutil.InMemFileReference{
		FileInfo:  header.FileInfo(),
		MFullName: header.Name,
		MContent:  content,
	}
	return nil
}
