package controls

import (
	"bufio"
	"bytes"
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
)

// maxScanFileSize bounds the files read by the pattern controls.
const maxScanFileSize = 4 << 20

var (
	// depDirGlob matches one path segment naming a dependency directory.
	depDirGlob = glob.MustCompile("{deps,node_modules,vendor,site-packages,.venv,venv}")
	// cacheDirGlob matches segments that never hold reviewable source.
	cacheDirGlob = glob.MustCompile("{__pycache__,.git}")
	// testPathGlob matches test and spec paths, matched against the
	// lower-cased relative path.
	testPathGlob = glob.MustCompile("*{test,spec}*")

	pythonGlob = glob.MustCompile("*.py")
	jsGlob     = glob.MustCompile("*.{js,mjs,cjs,jsx,ts,tsx,mts,cts}")
)

// language is a source language the pattern controls understand.
type language string

const (
	langPython     language = "python"
	langJavaScript language = "javascript"
)

// languageOf classifies a file by extension.
func languageOf(rel string) (language, bool) {
	base := path.Base(rel)
	switch {
	case pythonGlob.Match(base):
		return langPython, true
	case jsGlob.Match(base):
		return langJavaScript, true
	}
	return "", false
}

// bundleFile is a regular file inside the extracted bundle.
type bundleFile struct {
	Rel    string // slash-separated, relative to the bundle root
	Abs    string
	Size   int64
	InDeps bool
}

// inDeps reports whether any directory segment of rel is a dependency dir.
func inDeps(rel string) bool {
	segs := strings.Split(rel, "/")
	for _, s := range segs[:len(segs)-1] {
		if depDirGlob.Match(s) {
			return true
		}
	}
	return false
}

// isTestPath reports whether rel looks like test or spec code.
func isTestPath(rel string) bool {
	return testPathGlob.Match(strings.ToLower(rel))
}

// walkOptions selects the files returned by walkBundle.
type walkOptions struct {
	skipDeps  bool // do not descend into dependency directories
	skipCache bool // do not descend into __pycache__ and .git
	match     func(rel string) bool
}

// walkBundle lists the regular files of the bundle in lexical order.
// Symlinks are not followed.
func walkBundle(ctx context.Context, root string, opts walkOptions) ([]bundleFile, error) {
	var files []bundleFile
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if opts.skipDeps && depDirGlob.Match(d.Name()) {
				return filepath.SkipDir
			}
			if opts.skipCache && cacheDirGlob.Match(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if opts.match != nil && !opts.match(rel) {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		files = append(files, bundleFile{Rel: rel, Abs: p, Size: fi.Size(), InDeps: inDeps(rel)})
		return nil
	})
	return files, err
}

// sourceFiles lists Python and JavaScript files.
func sourceFiles(ctx context.Context, root string, includeDeps bool) ([]bundleFile, error) {
	return walkBundle(ctx, root, walkOptions{
		skipDeps:  !includeDeps,
		skipCache: true,
		match: func(rel string) bool {
			_, ok := languageOf(rel)
			return ok
		},
	})
}

// readLines reads a text file for line-oriented matching. Files over the size
// bound and files that look binary are returned as nil.
func readLines(f bundleFile) ([]string, error) {
	if f.Size > maxScanFileSize {
		return nil, nil
	}
	data, err := os.ReadFile(f.Abs)
	if err != nil {
		return nil, err
	}
	if bytes.IndexByte(data, 0) >= 0 {
		return nil, nil
	}
	var lines []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), maxScanFileSize)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}

// fileExists reports whether root/rel is a regular file.
func fileExists(root, rel string) bool {
	fi, err := os.Stat(filepath.Join(root, filepath.FromSlash(rel)))
	return err == nil && fi.Mode().IsRegular()
}
