// Package sequence contains the discovery of the files to merge.
package sequence

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrEmpty is returned when no input file has been found.
var ErrEmpty = errors.New("no input files found")

var reNumber = regexp.MustCompile(`[0-9]+`)

// firstNumber returns the first number contained in a file name.
// The extension is excluded, since it can contain digits (mp4, m4s).
func firstNumber(name string) (uint64, bool) {
	m := reNumber.FindString(strings.TrimSuffix(name, filepath.Ext(name)))
	if m == "" {
		return 0, false
	}

	v, err := strconv.ParseUint(m, 10, 64)
	if err != nil {
		// too long to fit; saturate
		return ^uint64(0), true
	}

	return v, true
}

func hasExtension(name string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}

	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// Sort sorts file paths by the first number in their base name.
// Names without a number come first. Ties are broken by name.
func Sort(paths []string) {
	sort.SliceStable(paths, func(i, j int) bool {
		ni := filepath.Base(paths[i])
		nj := filepath.Base(paths[j])

		vi, oki := firstNumber(ni)
		vj, okj := firstNumber(nj)

		if oki != okj {
			return !oki
		}

		if vi != vj {
			return vi < vj
		}

		return ni < nj
	})
}

// Scan returns the regular files of dir whose extension is in extensions,
// ordered with Sort. An empty extension list accepts every file.
func Scan(dir string, extensions []string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var out []string

	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}

		name := entry.Name()

		// skip hidden and partially written files
		if strings.HasPrefix(name, ".") {
			continue
		}

		if !hasExtension(name, extensions) {
			continue
		}

		out = append(out, filepath.Join(dir, name))
	}

	Sort(out)

	return out, nil
}

// Resolve returns the sequence to merge.
// An explicit list of inputs is used as is, in the given order;
// otherwise dir is scanned.
func Resolve(inputs []string, dir string, extensions []string) ([]string, error) {
	if len(inputs) != 0 {
		for _, in := range inputs {
			fi, err := os.Stat(in)
			if err != nil {
				return nil, err
			}
			if fi.IsDir() {
				return nil, fmt.Errorf("'%s' is a directory", in)
			}
		}
		return append([]string(nil), inputs...), nil
	}

	out, err := Scan(dir, extensions)
	if err != nil {
		return nil, err
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrEmpty)
	}

	return out, nil
}
