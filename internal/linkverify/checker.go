// Package linkverify checks the generated site for internal references that
// do not resolve to a file in the output directory.
package linkverify

import (
	"context"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/logfields"
	"git.home.luguber.info/inful/docserve/internal/site"
)

// Checker verifies the internal links of a generated site.
type Checker struct {
	root        string
	concurrency int
}

// New creates a checker for the site in outputDir. A concurrency below one
// uses one worker per CPU.
func New(outputDir string, concurrency int) *Checker {
	if concurrency < 1 {
		concurrency = runtime.NumCPU()
	}
	return &Checker{root: outputDir, concurrency: concurrency}
}

// Check returns a dangling-href warning for every internal reference in an
// HTML page that does not resolve to an output file. Warnings are sorted by
// page then target.
func (c *Checker) Check(ctx context.Context) ([]site.Warning, error) {
	var pages []string
	err := filepath.WalkDir(c.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".html") {
			rel, err := filepath.Rel(c.root, p)
			if err != nil {
				return err
			}
			pages = append(pages, filepath.ToSlash(rel))
		}
		return nil
	})
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "walk output directory").
			WithContext("path", c.root).
			Build()
	}
	slog.Debug("Verifying output links", logfields.Count(len(pages)))

	var (
		mu       sync.Mutex
		warnings []site.Warning
		firstErr error
		wg       sync.WaitGroup
		sem      = make(chan struct{}, c.concurrency)
	)
	for _, page := range pages {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(page string) {
			defer wg.Done()
			defer func() { <-sem }()
			found, err := c.checkPage(page)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			warnings = append(warnings, found...)
		}(page)
	}
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(warnings, func(i, j int) bool {
		if warnings[i].Source != warnings[j].Source {
			return warnings[i].Source < warnings[j].Source
		}
		return warnings[i].Target < warnings[j].Target
	})
	return warnings, nil
}

func (c *Checker) checkPage(page string) ([]site.Warning, error) {
	f, err := os.Open(filepath.Join(c.root, filepath.FromSlash(page)))
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryFileSystem, "open output page").
			WithContext("page", page).
			Build()
	}
	defer func() { _ = f.Close() }()

	links, err := ExtractLinks(f)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []site.Warning
	for _, l := range links {
		if !IsInternal(l.URL) || seen[l.URL] {
			continue
		}
		seen[l.URL] = true
		if !c.resolves(page, l.URL) {
			out = append(out, site.Warning{
				Kind:    site.WarningDanglingRef,
				Source:  page,
				Target:  l.URL,
				Message: l.Tag + " " + l.Attribute + " does not resolve to an output file",
			})
		}
	}
	return out, nil
}

// resolves reports whether ref, found in page, names a file under the root.
// Directory references resolve to their index.html.
func (c *Checker) resolves(page, ref string) bool {
	target, ok := Resolve(page, ref)
	if !ok {
		return false
	}
	abs := filepath.Join(c.root, filepath.FromSlash(target))
	info, err := os.Stat(abs)
	if err != nil {
		return false
	}
	if info.IsDir() {
		info, err = os.Stat(filepath.Join(abs, "index.html"))
		return err == nil && !info.IsDir()
	}
	return true
}

// Resolve maps an internal reference found in page to a slash-separated path
// relative to the site root. It fails for references that leave the root.
func Resolve(page, ref string) (string, bool) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	p := u.Path
	if p == "" {
		return page, true
	}
	var joined string
	if strings.HasPrefix(p, "/") {
		joined = path.Clean(strings.TrimPrefix(p, "/"))
	} else {
		joined = path.Join(path.Dir(page), p)
	}
	if joined == ".." || strings.HasPrefix(joined, "../") {
		return "", false
	}
	if joined == "." {
		joined = ""
	}
	if strings.HasSuffix(p, "/") {
		return path.Join(joined, "index.html"), true
	}
	return joined, true
}
