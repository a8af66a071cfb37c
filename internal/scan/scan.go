// Package scan discovers the pages, assets and navigation manifest under a content root.
package scan

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/logfields"
)

// Kind classifies a discovered file.
type Kind int

const (
	KindPage Kind = iota
	KindAsset
	KindManifest
)

func (k Kind) String() string {
	switch k {
	case KindPage:
		return "page"
	case KindAsset:
		return "asset"
	case KindManifest:
		return "manifest"
	default:
		return "unknown"
	}
}

// Entry is one discovered file.
type Entry struct {
	Path    string // slash path relative to the root
	AbsPath string
	Kind    Kind
	Size    int64
	ModTime time.Time
}

// Options configures a Scanner.
type Options struct {
	IgnorePatterns []string
	NavFile        string
	// Exclude lists directories (absolute or relative to the working directory)
	// that are never scanned, typically the output directory when it lives
	// inside the content root.
	Exclude []string
}

// Scanner walks a content root.
type Scanner struct {
	root     string
	navFile  string
	patterns []glob.Glob
	exclude  []string // slash paths relative to root
}

// New creates a Scanner for root.
func New(root string, opts Options) (*Scanner, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "resolve content root").Fatal().Build()
	}

	s := &Scanner{root: absRoot, navFile: opts.NavFile}
	for _, p := range opts.IgnorePatterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "invalid ignore pattern").
				Fatal().
				WithContext("pattern", p).
				Build()
		}
		s.patterns = append(s.patterns, g)
	}
	for _, ex := range opts.Exclude {
		abs, err := filepath.Abs(ex)
		if err != nil {
			continue
		}
		if rel, ok := s.relative(abs); ok && rel != "." {
			s.exclude = append(s.exclude, rel)
		}
	}
	return s, nil
}

// Root returns the absolute content root.
func (s *Scanner) Root() string { return s.root }

// Scan takes a snapshot of the content root.
func (s *Scanner) Scan(ctx context.Context) (*Inventory, error) {
	if err := s.checkRoot(); err != nil {
		return nil, err
	}
	entries := make(map[string]Entry)
	if err := s.walk(ctx, s.root, entries); err != nil {
		return nil, err
	}
	inv := newInventory(s.root, entries)
	slog.Debug("Scanned content root",
		logfields.Path(s.root),
		slog.Int("pages", len(inv.Pages)),
		slog.Int("assets", len(inv.Assets)))
	return inv, nil
}

// Rescan patches prev with the current state of the changed paths. Changed
// directories are re-walked and removed paths drop their whole subtree, so the
// result matches a full Scan of the same filesystem state.
func (s *Scanner) Rescan(ctx context.Context, prev *Inventory, changed []string) (*Inventory, error) {
	if prev == nil {
		return s.Scan(ctx)
	}
	if err := s.checkRoot(); err != nil {
		return nil, err
	}

	entries := prev.entryMap()
	for _, p := range changed {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		rel, ok := s.relative(abs)
		if !ok {
			continue
		}
		if rel == "." {
			return s.Scan(ctx)
		}

		delete(entries, rel)
		for k := range entries {
			if strings.HasPrefix(k, rel+"/") {
				delete(entries, k)
			}
		}
		if s.ignoredRel(rel) {
			continue
		}

		info, err := os.Lstat(abs)
		if err != nil {
			// Removed (or unreadable) paths simply drop out of the inventory.
			continue
		}
		if info.IsDir() {
			if err := s.walk(ctx, abs, entries); err != nil {
				return nil, err
			}
			continue
		}
		if info.Mode().IsRegular() {
			entries[rel] = s.entry(rel, abs, info)
		}
	}
	return newInventory(s.root, entries), nil
}

// Ignored reports whether a filesystem path is outside the root or filtered by
// the ignore policy. Watchers use it to drop irrelevant events.
func (s *Scanner) Ignored(p string) bool {
	abs, err := filepath.Abs(p)
	if err != nil {
		return true
	}
	rel, ok := s.relative(abs)
	if !ok {
		return true
	}
	if rel == "." {
		return false
	}
	return s.ignoredRel(rel)
}

func (s *Scanner) checkRoot() error {
	info, err := os.Stat(s.root)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryScan, "content root is unreadable").
			Fatal().
			WithContext("root", s.root).
			Build()
	}
	if !info.IsDir() {
		return ferrors.ScanError("content root is not a directory").WithContext("root", s.root).Build()
	}
	if _, err := os.ReadDir(s.root); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryScan, "content root is unreadable").
			Fatal().
			WithContext("root", s.root).
			Build()
	}
	return nil
}

func (s *Scanner) walk(ctx context.Context, dir string, entries map[string]Entry) error {
	return filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if p == s.root {
				return ferrors.WrapError(err, ferrors.CategoryScan, "content root is unreadable").Fatal().Build()
			}
			slog.Warn("Skipping unreadable path", logfields.Path(p), logfields.Error(err))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		rel, ok := s.relative(p)
		if !ok || rel == "." {
			return nil
		}
		if s.ignoredRel(rel) {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		entries[rel] = s.entry(rel, p, info)
		return nil
	})
}

func (s *Scanner) entry(rel, abs string, info fs.FileInfo) Entry {
	return Entry{
		Path:    rel,
		AbsPath: abs,
		Kind:    s.classify(rel),
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}

func (s *Scanner) classify(rel string) Kind {
	if s.navFile != "" && rel == s.navFile {
		return KindManifest
	}
	if IsMarkdown(rel) {
		return KindPage
	}
	return KindAsset
}

// relative converts an absolute path into a slash path relative to the root.
func (s *Scanner) relative(abs string) (string, bool) {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	return rel, true
}

// ignoredRel applies the ignore policy to every segment of rel so that a
// path is ignored whenever one of its ancestor directories is.
func (s *Scanner) ignoredRel(rel string) bool {
	for _, ex := range s.exclude {
		if rel == ex || strings.HasPrefix(rel, ex+"/") {
			return true
		}
	}
	segments := strings.Split(rel, "/")
	for i, name := range segments {
		if strings.HasPrefix(name, ".") {
			return true
		}
		if i == len(segments)-1 && isEditorTemp(name) {
			return true
		}
		prefix := strings.Join(segments[:i+1], "/")
		for _, g := range s.patterns {
			if g.Match(prefix) || g.Match(name) {
				return true
			}
		}
	}
	return false
}

func isEditorTemp(name string) bool {
	if strings.HasSuffix(name, "~") {
		return true
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".swp", ".swx", ".tmp":
		return true
	}
	return len(name) > 1 && strings.HasPrefix(name, "#") && strings.HasSuffix(name, "#")
}

// IsMarkdown reports whether name has a markdown extension.
func IsMarkdown(name string) bool {
	switch strings.ToLower(path.Ext(name)) {
	case ".md", ".markdown", ".mdown", ".mkd":
		return true
	}
	return false
}

// Inventory is an ordered snapshot of the content root.
type Inventory struct {
	Root     string
	Pages    []Entry
	Assets   []Entry
	Manifest *Entry
}

func newInventory(root string, entries map[string]Entry) *Inventory {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	inv := &Inventory{Root: root}
	for _, k := range keys {
		e := entries[k]
		switch e.Kind {
		case KindPage:
			inv.Pages = append(inv.Pages, e)
		case KindAsset:
			inv.Assets = append(inv.Assets, e)
		case KindManifest:
			m := e
			inv.Manifest = &m
		}
	}
	return inv
}

func (inv *Inventory) entryMap() map[string]Entry {
	m := make(map[string]Entry, len(inv.Pages)+len(inv.Assets)+1)
	for _, e := range inv.Pages {
		m[e.Path] = e
	}
	for _, e := range inv.Assets {
		m[e.Path] = e
	}
	if inv.Manifest != nil {
		m[inv.Manifest.Path] = *inv.Manifest
	}
	return m
}

// Lookup finds an entry by relative path.
func (inv *Inventory) Lookup(rel string) (Entry, bool) {
	if inv.Manifest != nil && inv.Manifest.Path == rel {
		return *inv.Manifest, true
	}
	for _, list := range [][]Entry{inv.Pages, inv.Assets} {
		i := sort.Search(len(list), func(i int) bool { return list[i].Path >= rel })
		if i < len(list) && list[i].Path == rel {
			return list[i], true
		}
	}
	return Entry{}, false
}
