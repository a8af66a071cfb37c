package build

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docserve/internal/config"
	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/site"
	"git.home.luguber.info/inful/docserve/internal/testutil"
)

// touch moves the modification time forward so change detection cannot
// depend on timestamp granularity.
func touch(t *testing.T, abs string, offset time.Duration) {
	t.Helper()
	when := time.Now().Add(offset)
	require.NoError(t, os.Chtimes(abs, when, when))
}

func newConfig(t *testing.T, root string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.RootDir = root
	cfg.OutputDir = filepath.Join(t.TempDir(), "site")
	cfg.Workers = 2
	return cfg
}

func newOrchestrator(t *testing.T, cfg *config.Config, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(cfg, opts...)
	require.NoError(t, err)
	return o
}

func keys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestClean_NestedNavigation(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "# A\n\nAlpha.\n")
	testutil.WriteFile(t, root, "b.md", "# B\n\n[back](a.md#top)\n")
	testutil.WriteFile(t, root, "nav.yaml", "[a, [b]]\n")
	testutil.WriteFile(t, root, "img/logo.png", "png")

	cfg := newConfig(t, root)
	o := newOrchestrator(t, cfg)

	rep, err := o.Clean(t.Context())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, rep.Outcome)
	require.Equal(t, ModeClean, rep.Mode)
	require.Equal(t, []string{"a.md", "b.md"}, rep.Rendered)
	require.NotEmpty(t, rep.BuildID)
	require.Equal(t, StateIdle, o.State())

	files := testutil.ReadTree(t, cfg.OutputDir)
	require.Equal(t, []string{"a/b/index.html", "a/index.html", "img/logo.png"}, keys(files))
	require.Contains(t, files["a/b/index.html"], `<a href="../index.html#top">back</a>`)
	require.Contains(t, files["a/b/index.html"], `<a href="../index.html">A</a>`, "breadcrumb links the parent")
	require.Equal(t, "png", files["img/logo.png"])

	snap := o.Snapshot()
	require.NotNil(t, snap)
	require.Equal(t, rep.Generation, snap.Generation)
	require.Equal(t, rep.Generation, o.Generation())
	page, asset := snap.Resolve("a/b/index.html")
	require.Nil(t, asset)
	require.Equal(t, "b.md", page.Source)
	require.Equal(t, files["a/b/index.html"], string(page.Document))
	_, asset = snap.Resolve("img/logo.png")
	require.NotNil(t, asset)

	_, err = os.Stat(cfg.OutputDir + "_stage")
	require.ErrorIs(t, err, fs.ErrNotExist)
	_, err = os.Stat(cfg.OutputDir + ".prev")
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestIncremental_MatchesCleanBuild(t *testing.T) {
	root := t.TempDir()
	a := testutil.WriteFile(t, root, "a.md", "# A\n\nSee [b](b.md).\n")
	testutil.WriteFile(t, root, "b.md", "---\ntitle: Bee\nweight: 2\n---\n# B\n\n## Details\n")
	testutil.WriteFile(t, root, "guide/index.md", "# Guide\n")
	testutil.WriteFile(t, root, "guide/setup.md", "# Setup\n\n[home](../a.md)\n")

	cfg := newConfig(t, root)
	inc := newOrchestrator(t, cfg)
	_, err := inc.Clean(t.Context())
	require.NoError(t, err)

	testutil.WriteFile(t, root, "a.md", "# A\n\nSee [b](b.md) and [setup](guide/setup.md).\n")
	touch(t, a, time.Hour)
	c := testutil.WriteFile(t, root, "guide/c.md", "# C\n")
	rep, err := inc.Incremental(t.Context(), []string{a, c})
	require.NoError(t, err)
	require.Equal(t, ModeIncremental, rep.Mode)
	require.NotContains(t, rep.Rendered, "b.md")

	cleanCfg := *cfg
	cleanCfg.OutputDir = filepath.Join(t.TempDir(), "clean")
	_, err = newOrchestrator(t, &cleanCfg).Clean(t.Context())
	require.NoError(t, err)

	require.Equal(t, testutil.ReadTree(t, cleanCfg.OutputDir), testutil.ReadTree(t, cfg.OutputDir))
}

func TestIncremental_OnlyChangedPageIsReprocessed(t *testing.T) {
	root := t.TempDir()
	a := testutil.WriteFile(t, root, "a.md", "# A\n\nfirst\n")
	testutil.WriteFile(t, root, "b.md", "# B\n\nstable\n")
	testutil.WriteFile(t, root, "nav.yaml", "- a\n- b\n")

	cfg := newConfig(t, root)
	o := newOrchestrator(t, cfg)
	_, err := o.Clean(t.Context())
	require.NoError(t, err)
	before := testutil.ReadTree(t, cfg.OutputDir)

	testutil.WriteFile(t, root, "a.md", "# A\n\nsecond\n")
	touch(t, a, time.Hour)
	rep, err := o.Incremental(t.Context(), []string{a})
	require.NoError(t, err)

	require.Equal(t, []string{"a.md"}, rep.Rendered)
	require.Equal(t, []string{"a.md"}, rep.Recomposed)
	require.Equal(t, 1, rep.CacheHits.Render)
	require.Equal(t, 1, rep.CacheHits.Compose)

	after := testutil.ReadTree(t, cfg.OutputDir)
	require.Equal(t, before["b/index.html"], after["b/index.html"])
	require.Contains(t, after["a/index.html"], "second")
}

func TestIncremental_NewTargetInvalidatesLinkingPage(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "# A\n\n[c](c.md)\n")
	testutil.WriteFile(t, root, "b.md", "# B\n")

	cfg := newConfig(t, root)
	o := newOrchestrator(t, cfg)
	rep, err := o.Clean(t.Context())
	require.NoError(t, err)
	require.Equal(t, OutcomeWarning, rep.Outcome)
	require.Equal(t, []site.Warning{site.BrokenLink("a.md", "c.md")}, rep.Warnings)

	c := testutil.WriteFile(t, root, "c.md", "# C\n")
	rep, err = o.Incremental(t.Context(), []string{c})
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, rep.Outcome)
	require.ElementsMatch(t, []string{"a.md", "c.md"}, rep.Rendered)

	files := testutil.ReadTree(t, cfg.OutputDir)
	require.Contains(t, files["a/index.html"], `<a href="../c/index.html">c</a>`)
}

func TestIncremental_RemovedPage(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "# A\n")
	b := testutil.WriteFile(t, root, "b.md", "# B\n")

	cfg := newConfig(t, root)
	o := newOrchestrator(t, cfg)
	_, err := o.Clean(t.Context())
	require.NoError(t, err)

	require.NoError(t, os.Remove(b))
	_, err = o.Incremental(t.Context(), []string{b})
	require.NoError(t, err)

	require.Equal(t, []string{"a/index.html"}, keys(testutil.ReadTree(t, cfg.OutputDir)))
	_, ok := o.Snapshot().Page("b.md")
	require.False(t, ok)
}

func TestNavigationErrorKeepsPublishedOutput(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "# A\n")
	testutil.WriteFile(t, root, "b.md", "# B\n")
	manifest := testutil.WriteFile(t, root, "nav.yaml", "- a\n- b\n")

	cfg := newConfig(t, root)
	o := newOrchestrator(t, cfg)
	good, err := o.Clean(t.Context())
	require.NoError(t, err)
	before := testutil.ReadTree(t, cfg.OutputDir)

	testutil.WriteFile(t, root, "nav.yaml", "- a\n- c.md\n")
	rep, err := o.Incremental(t.Context(), []string{manifest})
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryNavigation))
	require.Equal(t, OutcomeFailed, rep.Outcome)
	require.Equal(t, StateFailed, o.State())
	require.Equal(t, rep, o.LastReport())

	require.Equal(t, before, testutil.ReadTree(t, cfg.OutputDir))
	require.Equal(t, good.Generation, o.Snapshot().Generation)
	require.Equal(t, good.Generation, o.Generation())

	testutil.WriteFile(t, root, "nav.yaml", "- b\n- a\n")
	rep, err = o.Incremental(t.Context(), nil)
	require.NoError(t, err, "the manifest change carries into the next build")
	require.Greater(t, rep.Generation, good.Generation)
	require.Equal(t, StateIdle, o.State())
}

func TestStrictLinksFailTheBuild(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "# A\n\n[gone](missing.md)\n")

	cfg := newConfig(t, root)
	cfg.StrictLinks = true
	o := newOrchestrator(t, cfg)

	_, err := o.Clean(t.Context())
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryLink))
	require.Equal(t, ferrors.ExitWarningsAsError, ferrors.NewCLIErrorAdapter(false, nil).ExitCodeFor(err))

	_, statErr := os.Stat(cfg.OutputDir)
	require.ErrorIs(t, statErr, fs.ErrNotExist)
	require.Nil(t, o.Snapshot())
}

func TestAssetPageCollision(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "# A\n")
	testutil.WriteFile(t, root, "a/index.html", "<p>static</p>")

	_, err := newOrchestrator(t, newConfig(t, root)).Clean(t.Context())
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryNavigation))
}

func TestOutputInsideRootIsNotScanned(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "# A\n")

	cfg := config.Default()
	cfg.RootDir = root
	cfg.OutputDir = filepath.Join(root, "public")
	o := newOrchestrator(t, cfg)

	_, err := o.Clean(t.Context())
	require.NoError(t, err)
	rep, err := o.Clean(t.Context())
	require.NoError(t, err)
	require.Equal(t, 1, rep.Pages)
	require.Zero(t, rep.Assets)
}

func TestNew_RejectsOutputContainingRoot(t *testing.T) {
	tmp := t.TempDir()
	root := filepath.Join(tmp, "docs")
	src := testutil.WriteFile(t, root, "a.md", "# A\n")

	for _, out := range []string{tmp, root, filepath.Join(tmp, "docs") + "/.."} {
		cfg := config.Default()
		cfg.RootDir = root
		cfg.OutputDir = out
		_, err := New(cfg)
		require.Error(t, err, "output %s", out)
		require.True(t, ferrors.HasCategory(err, ferrors.CategoryValidation))
	}
	require.FileExists(t, src)
}

// supersedingSource supersedes the first build while it is scanning.
type supersedingSource struct {
	o    *Orchestrator
	once sync.Once
}

func (s *supersedingSource) Refresh() error {
	s.once.Do(s.o.Supersede)
	return nil
}

func (s *supersedingSource) LastModified(string) (time.Time, bool) { return time.Time{}, false }

func TestSupersededBuildIsDiscarded(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "# A\n")
	cfg := newConfig(t, root)

	src := &supersedingSource{}
	o := newOrchestrator(t, cfg, WithLastModified(src))
	src.o = o

	rep, err := o.Clean(t.Context())
	require.ErrorIs(t, err, ErrSuperseded)
	require.Equal(t, OutcomeSuperseded, rep.Outcome)
	require.Nil(t, o.Snapshot())
	_, statErr := os.Stat(cfg.OutputDir)
	require.ErrorIs(t, statErr, fs.ErrNotExist)

	rep, err = o.Incremental(t.Context(), nil)
	require.NoError(t, err)
	require.Equal(t, ModeClean, rep.Mode, "a superseded clean build carries into a clean build")
	require.Greater(t, uint64(rep.Generation), uint64(1))
	require.FileExists(t, filepath.Join(cfg.OutputDir, "a", "index.html"))
}

type captureSink struct {
	mu      sync.Mutex
	reports []*Report
}

func (c *captureSink) BuildFinished(_ context.Context, r *Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
}

func TestSinksSeeEveryOutcome(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "# A\n")
	cfg := newConfig(t, root)
	sink := &captureSink{}
	o := newOrchestrator(t, cfg, WithSink(sink))

	_, err := o.Clean(t.Context())
	require.NoError(t, err)
	testutil.WriteFile(t, root, "nav.yaml", "- missing\n")
	_, err = o.Clean(t.Context())
	require.Error(t, err)

	require.Len(t, sink.reports, 2)
	require.Equal(t, OutcomeSuccess, sink.reports[0].Outcome)
	require.Equal(t, OutcomeFailed, sink.reports[1].Outcome)
	require.NotEmpty(t, sink.reports[1].Error)
	require.Positive(t, sink.reports[0].StageDuration("render"))
}

func TestSlowSinkDoesNotBlockNextBuild(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "# A\n")
	cfg := newConfig(t, root)

	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	var calls atomic.Int32
	sink := SinkFunc(func(ctx context.Context, _ *Report) {
		entered <- struct{}{}
		if calls.Add(1) > 1 {
			return
		}
		select {
		case <-release:
		case <-ctx.Done():
		}
	})
	o := newOrchestrator(t, cfg, WithSink(sink))

	first := make(chan error, 1)
	go func() {
		_, err := o.Clean(t.Context())
		first <- err
	}()
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sink was not called")
	}

	testutil.WriteFile(t, root, "a.md", "# A2\n")
	done := make(chan error, 1)
	go func() {
		_, err := o.Incremental(t.Context(), []string{filepath.Join(root, "a.md")})
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("incremental build waited for the previous build's sink")
	}

	close(release)
	require.NoError(t, <-first)
}

func TestContentHashTracksPublishedBytes(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "# A\n")
	o := newOrchestrator(t, newConfig(t, root))

	first, err := o.Clean(t.Context())
	require.NoError(t, err)
	require.NotEmpty(t, first.ContentHash)
	require.Equal(t, first.ContentHash, o.Snapshot().ContentHash)

	again, err := o.Clean(t.Context())
	require.NoError(t, err)
	require.Equal(t, first.ContentHash, again.ContentHash)
	require.NotEqual(t, first.Generation, again.Generation)

	abs := testutil.WriteFile(t, root, "a.md", "# A\n\nChanged.\n")
	touch(t, abs, time.Second)
	changed, err := o.Incremental(t.Context(), []string{abs})
	require.NoError(t, err)
	require.NotEqual(t, first.ContentHash, changed.ContentHash)
}

func TestFrontMatterLastModWins(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "a.md", "---\nlastmod: 2024-05-06\n---\n# A\n")
	cfg := newConfig(t, root)
	o := newOrchestrator(t, cfg)

	_, err := o.Clean(t.Context())
	require.NoError(t, err)
	page, ok := o.Snapshot().Page("a.md")
	require.True(t, ok)
	require.Equal(t, "2024-05-06", page.LastModified.UTC().Format("2006-01-02"))
	require.Contains(t, string(page.Document), `<time datetime="2024-05-06T00:00:00Z">2024-05-06</time>`)
}
