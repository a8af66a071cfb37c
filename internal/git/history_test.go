package git

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/testutil"
)

func TestHistory_LastModified(t *testing.T) {
	repo, dir := testutil.InitGitRepo(t)

	first := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	second := first.Add(48 * time.Hour)
	testutil.CommitFile(t, repo, "docs/a.md", "# A\n", first)
	testutil.CommitFile(t, repo, "docs/b.md", "# B\n", first.Add(time.Hour))
	testutil.CommitFile(t, repo, "docs/a.md", "# A v2\n", second)

	h, err := Open(filepath.Join(dir, "docs"))
	require.NoError(t, err)
	require.NoError(t, h.Refresh())

	when, ok := h.LastModified("a.md")
	require.True(t, ok)
	require.True(t, when.Equal(second), when)

	when, ok = h.LastModified("b.md")
	require.True(t, ok)
	require.True(t, when.Equal(first.Add(time.Hour)), when)

	_, ok = h.LastModified("missing.md")
	require.False(t, ok)

	third := second.Add(time.Hour)
	testutil.CommitFile(t, repo, "docs/b.md", "# B v2\n", third)
	require.NoError(t, h.Refresh())
	when, _ = h.LastModified("b.md")
	require.True(t, when.Equal(third), when)
}

func TestOpen_NotARepository(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryGit))
}
