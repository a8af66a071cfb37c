// Package testutil holds filesystem and git fixtures shared by package tests.
package testutil

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
)

// WriteFile writes content to the slash path rel below root, creating parent
// directories, and returns the absolute path.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o750))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o600))
	return abs
}

// WriteTree writes every file of files below root.
func WriteTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		WriteFile(t, root, rel, content)
	}
}

// ReadTree returns every file below dir keyed by slash path.
func ReadTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		// #nosec G304 - test helper, paths are controlled by test code
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

// InitGitRepo initializes a repository in a temporary directory and returns
// it with its path.
func InitGitRepo(t *testing.T) (*git.Repository, string) {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	return repo, dir
}

// CommitFile writes rel below the repository worktree and commits it with
// the given author time.
func CommitFile(t *testing.T, repo *git.Repository, rel, content string, when time.Time) {
	t.Helper()
	wt, err := repo.Worktree()
	require.NoError(t, err)
	WriteFile(t, wt.Filesystem.Root(), rel, content)
	_, err = wt.Add(rel)
	require.NoError(t, err)
	_, err = wt.Commit("update "+rel, &git.CommitOptions{
		Author: &object.Signature{Name: "Docs", Email: "docs@example.com", When: when},
	})
	require.NoError(t, err)
}
