// Copyright (C) 2021-2022  Ambassador Labs
//
// SPDX-License-Identifier: Apache-2.0

// Package testutil holds test-only helpers shared across rip's packages, in the same spirit as
// the teacher's layer-comparison helpers: dump two trees into a stable textual form and diff the
// text, so a failing test prints something a human can read instead of a failed reflect.DeepEqual.
package testutil

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"text/tabwriter"

	"github.com/davecgh/go-spew/spew"
	"github.com/pmezard/go-difflib/difflib"
)

// DumpDirListing walks root and renders a stable, human-readable listing: one line per entry,
// mode bits, size, and path, analogous to the teacher's DumpLayerListing for tar layers.
func DumpDirListing(root string) (string, error) {
	ret := new(strings.Builder)
	table := tabwriter.NewWriter(ret, 0, 1, 1, ' ', 0)

	var paths []string
	if err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		paths = append(paths, p)
		return nil
	}); err != nil {
		return "", err
	}
	sort.Strings(paths)

	for _, p := range paths {
		info, err := os.Lstat(p)
		if err != nil {
			return "", err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return "", err
		}
		extra := ""
		if info.Mode()&os.ModeSymlink != 0 {
			target, err := os.Readlink(p)
			if err != nil {
				return "", err
			}
			extra = " -> " + target
		}
		if _, err := fmt.Fprintf(table, "\t%s\t% 10d\t%s%s\n",
			info.Mode().String(), info.Size(), filepath.ToSlash(rel), extra); err != nil {
			return "", err
		}
	}
	if err := table.Flush(); err != nil {
		return "", err
	}
	return ret.String(), nil
}

// DumpDirFull renders a tree's listing plus the full content of every regular file, for a
// second, fully-detailed diff pass once the listings already match.
func DumpDirFull(root string) (string, error) {
	spewConfig := spew.ConfigState{ //nolint:exhaustivestruct
		Indent:                  "  ",
		DisableCapacities:       true,
		DisablePointerAddresses: true,
		SortKeys:                true,
	}

	ret := new(strings.Builder)
	listing, err := DumpDirListing(root)
	if err != nil {
		return "", err
	}
	ret.WriteString(listing)

	var paths []string
	if err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			paths = append(paths, p)
		}
		return nil
	}); err != nil {
		return "", err
	}
	sort.Strings(paths)

	for _, p := range paths {
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return "", err
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return "", err
		}
		if _, err := fmt.Fprintf(ret, "%s =%s", filepath.ToSlash(rel), spewConfig.Sdump(content)); err != nil {
			return "", err
		}
	}
	return ret.String(), nil
}

// AssertEqualDirs compares two directory trees the way the teacher compared two tar layers: a
// quick listing diff first (for a readable failure), then a full content diff.
func AssertEqualDirs(t *testing.T, expRoot, actRoot string) bool {
	t.Helper()

	expListing, err := DumpDirListing(expRoot)
	if err != nil {
		t.Errorf("error dumping expected dir listing: %v", err)
		return false
	}
	actListing, err := DumpDirListing(actRoot)
	if err != nil {
		t.Errorf("error dumping actual dir listing: %v", err)
		return false
	}
	if expListing != actListing {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{ //nolint:exhaustivestruct
			A:        difflib.SplitLines(expListing),
			B:        difflib.SplitLines(actListing),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  1,
		})
		t.Errorf("Listing diff:\n%s", diff)
		return false
	}

	expFull, err := DumpDirFull(expRoot)
	if err != nil {
		t.Errorf("error dumping expected dir: %v", err)
		return false
	}
	actFull, err := DumpDirFull(actRoot)
	if err != nil {
		t.Errorf("error dumping actual dir: %v", err)
		return false
	}
	if expFull != actFull {
		diff, _ := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{ //nolint:exhaustivestruct
			A:        difflib.SplitLines(expFull),
			B:        difflib.SplitLines(actFull),
			FromFile: "Expected",
			ToFile:   "Actual",
			Context:  10,
		})
		t.Errorf("Full diff:\n%s", diff)
		return false
	}

	return true
}
