package git

import (
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	ggit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/logfields"
)

// MaxCommits bounds how far back the history walk goes.
const MaxCommits = 5000

// History answers last-modified lookups for files below a content root. The
// index is rebuilt lazily whenever HEAD moves.
type History struct {
	repo   *ggit.Repository
	prefix string // content root relative to the worktree, slash separated

	mu    sync.Mutex
	head  plumbing.Hash
	dates map[string]time.Time // worktree-relative path -> committer time
}

// Open finds the repository containing contentRoot.
func Open(contentRoot string) (*History, error) {
	abs, err := filepath.Abs(contentRoot)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryGit, "resolve content root").Build()
	}
	repo, err := ggit.PlainOpenWithOptions(abs, &ggit.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryGit, "content root is not inside a git repository").
			WithContext("root", abs).
			Build()
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryGit, "open worktree").Build()
	}

	top, err := filepath.EvalSymlinks(wt.Filesystem.Root())
	if err != nil {
		top = wt.Filesystem.Root()
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	rel, err := filepath.Rel(top, abs)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryGit, "locate content root in worktree").Build()
	}
	prefix := filepath.ToSlash(rel)
	if prefix == "." {
		prefix = ""
	}
	return &History{repo: repo, prefix: prefix}, nil
}

// Refresh rebuilds the index if HEAD changed since the last call.
func (h *History) Refresh() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ref, err := h.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			h.dates = map[string]time.Time{}
			return nil
		}
		return ferrors.WrapError(err, ferrors.CategoryGit, "resolve HEAD").Build()
	}
	if ref.Hash() == h.head && h.dates != nil {
		return nil
	}

	dates, err := h.index(ref.Hash())
	if err != nil {
		return err
	}
	h.head = ref.Hash()
	h.dates = dates
	slog.Debug("Indexed git history", slog.String("head", ref.Hash().String()[:8]), logfields.Count(len(dates)))
	return nil
}

// index walks first-parent history newest first; the first commit touching a
// path is its last modification.
func (h *History) index(from plumbing.Hash) (map[string]time.Time, error) {
	dates := make(map[string]time.Time)
	commit, err := h.repo.CommitObject(from)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryGit, "read HEAD commit").Build()
	}

	for n := 0; commit != nil && n < MaxCommits; n++ {
		tree, err := commit.Tree()
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryGit, "read commit tree").Build()
		}
		var parent *object.Commit
		var parentTree *object.Tree
		if commit.NumParents() > 0 {
			if parent, err = commit.Parent(0); err != nil {
				return nil, ferrors.WrapError(err, ferrors.CategoryGit, "read parent commit").Build()
			}
			if parentTree, err = parent.Tree(); err != nil {
				return nil, ferrors.WrapError(err, ferrors.CategoryGit, "read parent tree").Build()
			}
		}

		changes, err := object.DiffTree(parentTree, tree)
		if err != nil {
			return nil, ferrors.WrapError(err, ferrors.CategoryGit, "diff commit").Build()
		}
		for _, ch := range changes {
			name := ch.To.Name
			if name == "" {
				name = ch.From.Name
			}
			if _, seen := dates[name]; !seen {
				dates[name] = commit.Committer.When
			}
		}
		commit = parent
	}
	return dates, nil
}

// LastModified returns the committer time of the newest commit that touched
// rel, a slash path relative to the content root.
func (h *History) LastModified(rel string) (time.Time, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := rel
	if h.prefix != "" {
		key = h.prefix + "/" + strings.TrimPrefix(rel, "/")
	}
	when, ok := h.dates[key]
	return when, ok
}
