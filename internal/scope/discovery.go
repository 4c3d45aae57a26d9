package scope

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"

	"shardrun/internal/config"
	"shardrun/pkg/logging"

	"github.com/bmatcuk/doublestar/v4"
)

// classPattern extracts class-level sub-unit names from test files. Only
// Python-style suites carry class sub-units; other phases shard at scope or
// method granularity.
var classPattern = regexp.MustCompile(`(?m)^class\s+(\w+)`)

// methodPattern names the individual test methods inside a class block, for
// the method-level slicing fallback when class sub-units are too few.
var methodPattern = regexp.MustCompile(`(?m)^\s*def (test_\w+)`)

// Discover scans the source tree for scopes that carry tests for the given
// phase. Every immediate subdirectory of root is a candidate scope; it
// becomes a Scope when at least one of the phase's file globs matches inside
// it. Never executes any discovered code.
func Discover(root string, phase config.Phase, pc config.PhaseConfig) ([]Scope, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to read scope root %s: %w", root, err)
	}

	testRe, err := regexp.Compile(pc.TestPattern)
	if err != nil {
		return nil, fmt.Errorf("invalid test pattern for phase %s: %w", phase, err)
	}

	var scopes []Scope
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name()[0] == '.' {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		files := matchTestFiles(dir, pc.FileGlobs)
		if len(files) == 0 {
			continue
		}
		scopes = append(scopes, Scope{
			ID:       entry.Name(),
			Phase:    phase,
			Dir:      dir,
			Files:    files,
			SubUnits: discoverSubUnits(files, testRe),
		})
	}

	sort.Slice(scopes, func(i, j int) bool { return scopes[i].ID < scopes[j].ID })
	logging.Debug("scope", "Discovered %d scopes for phase %s under %s", len(scopes), phase, root)
	return scopes, nil
}

// matchTestFiles resolves the phase's globs relative to a scope directory.
func matchTestFiles(dir string, globs []string) []string {
	var files []string
	fsys := os.DirFS(dir)
	for _, glob := range globs {
		matches, err := doublestar.Glob(fsys, glob)
		if err != nil {
			logging.Warn("scope", "Bad file glob %q: %v", glob, err)
			continue
		}
		for _, m := range matches {
			files = append(files, filepath.Join(dir, m))
		}
	}
	sort.Strings(files)
	return files
}

// discoverSubUnits splits files into class-level sub-units, attributing the
// test definitions that follow each class header to that class. Files without
// classes contribute no sub-units; callers fall back to whole-scope planning
// when too few sub-units exist.
func discoverSubUnits(files []string, testRe *regexp.Regexp) []SubUnit {
	counts := make(map[string]int)
	methods := make(map[string][]string)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			logging.Warn("scope", "Could not read %s: %v", file, err)
			continue
		}
		headers := classPattern.FindAllSubmatchIndex(data, -1)
		for i, h := range headers {
			name := string(data[h[2]:h[3]])
			end := len(data)
			if i+1 < len(headers) {
				end = headers[i+1][0]
			}
			block := data[h[1]:end]
			n := len(testRe.FindAll(block, -1))
			if n == 0 {
				n = 1 // empty classes still cost a fixture setup
			}
			counts[name] += n
			for _, m := range methodPattern.FindAllSubmatch(block, -1) {
				methods[name] = append(methods[name], string(m[1]))
			}
		}
	}

	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	subUnits := make([]SubUnit, 0, len(names))
	for _, name := range names {
		sort.Strings(methods[name])
		subUnits = append(subUnits, SubUnit{ID: name, Weight: counts[name], Tests: methods[name]})
	}
	return subUnits
}
