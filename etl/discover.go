package etl

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// DefaultAvailabilityPattern matches the scraper's timestamped snapshot names.
const DefaultAvailabilityPattern = "court_availability_*.csv"

var ErrNoInputFiles = errors.New("no input files matched")

// ExpandGlob is filepath.Glob plus "**", which matches any number of directories.
// Results are sorted and contain only regular files.
func ExpandGlob(pattern string) ([]string, error) {
	var matches []string
	if !strings.Contains(pattern, "**") {
		found, err := filepath.Glob(pattern)
		if err != nil {
			return nil, err
		}
		for _, m := range found {
			if isDir(m) {
				continue
			}
			matches = append(matches, m)
		}
		sort.Strings(matches)
		return matches, nil
	}

	idx := strings.Index(pattern, "**")
	root := strings.TrimRight(pattern[:idx], string(filepath.Separator)+"/")
	if root == "" {
		root = "."
	}
	root = filepath.Clean(root)

	rest := strings.TrimLeft(pattern[idx+2:], string(filepath.Separator)+"/")
	if rest == "" {
		rest = "*"
	}
	rest = filepath.ToSlash(rest)
	// A pattern without a separator after ** is matched against the base name only.
	baseOnly := !strings.Contains(rest, "/")
	if _, err := path.Match(rest, ""); err != nil {
		return nil, err
	}

	rootSlash := filepath.ToSlash(root)
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && errors.Is(err, fs.ErrNotExist) {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := strings.TrimLeft(strings.TrimPrefix(filepath.ToSlash(p), rootSlash), "/")
		if baseOnly {
			rel = path.Base(rel)
		}
		if matchAnyDepth(rest, rel) {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

// LatestFile returns the match with the greatest base name. Snapshot names embed a
// sortable timestamp, so that is the newest snapshot.
func LatestFile(pattern string) (string, error) {
	matches, err := ExpandGlob(pattern)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoInputFiles, pattern)
	}
	latest := matches[0]
	for _, m := range matches[1:] {
		lb, mb := filepath.Base(latest), filepath.Base(m)
		if mb > lb || (mb == lb && m > latest) {
			latest = m
		}
	}
	return latest, nil
}

// matchAnyDepth matches pattern against rel and against every suffix of rel that starts
// at a directory boundary, so "**/07/*.csv" finds 2025/07/x.csv.
func matchAnyDepth(pattern, rel string) bool {
	for {
		if ok, _ := path.Match(pattern, rel); ok {
			return true
		}
		i := strings.Index(rel, "/")
		if i < 0 {
			return false
		}
		rel = rel[i+1:]
	}
}

func isDir(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}
