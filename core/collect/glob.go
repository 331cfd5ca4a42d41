package collect

import (
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"go.rillflow.net/rill/def"
)

type walkOpts struct {
	hidden      bool
	followLinks bool
	maxDepth    int // 0: unbounded
	typ         def.PathType
}

// HasGlobMeta reports whether a pattern needs a walk at all.
func HasGlobMeta(pattern string) bool {
	return strings.ContainsAny(pattern, "*?[{")
}

/*
	walkGlob matches a glob pattern against a work dir tree and returns
	the matches as absolute paths, lexicographically sorted by relative
	name.  `**` crosses directory separators; `*` and `?` don't.
*/
func walkGlob(root string, pattern string, opts walkOpts) ([]string, error) {
	re, err := compileGlob(pattern)
	if err != nil {
		return nil, err
	}
	var matches []string
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		depth := strings.Count(rel, string(filepath.Separator)) + 1
		if opts.maxDepth > 0 && depth > opts.maxDepth {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		base := filepath.Base(rel)
		if !opts.hidden && strings.HasPrefix(base, ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		isDir := d.IsDir()
		if d.Type()&fs.ModeSymlink != 0 && opts.followLinks {
			if fi, err := os.Stat(path); err == nil {
				isDir = fi.IsDir()
			}
		}
		switch opts.typ {
		case def.PathFile:
			if isDir {
				return nil
			}
		case def.PathDir:
			if !isDir {
				return nil
			}
		}
		if re.MatchString(filepath.ToSlash(rel)) {
			matches = append(matches, path)
		}
		return nil
	})
	if walkErr != nil {
		return nil, walkErr
	}
	sort.Slice(matches, func(i, j int) bool {
		ri, _ := filepath.Rel(root, matches[i])
		rj, _ := filepath.Rel(root, matches[j])
		return ri < rj
	})
	return matches, nil
}

func compileGlob(pattern string) (*regexp.Regexp, error) {
	var out strings.Builder
	out.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		c := pattern[i]
		switch c {
		case '*':
			if i+1 < len(pattern) && pattern[i+1] == '*' {
				out.WriteString(".*")
				i++
			} else {
				out.WriteString("[^/]*")
			}
		case '?':
			out.WriteString("[^/]")
		default:
			out.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	out.WriteString("$")
	return regexp.Compile(out.String())
}
