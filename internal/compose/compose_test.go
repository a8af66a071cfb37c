package compose

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/nav"
	"git.home.luguber.info/inful/docserve/internal/site"
)

func testTree(t *testing.T) *nav.Tree {
	t.Helper()
	m, err := nav.ParseManifest([]byte("- index\n- Guide:\n  - guide/install.md\n  - guide/usage.md\n"))
	require.NoError(t, err)
	res, err := nav.Assemble(nav.Input{
		Pages: []nav.PageInfo{
			{Source: "index.md", Title: "Home"},
			{Source: "guide/install.md", Title: "Install"},
			{Source: "guide/usage.md", Title: "Usage"},
		},
		Manifest:  m,
		SiteTitle: "Docs",
	})
	require.NoError(t, err)
	return res.Tree
}

func input(t *testing.T, tree *nav.Tree, page string) Input {
	t.Helper()
	out, ok := tree.Output(page)
	require.True(t, ok)
	return Input{
		Page:         page,
		Output:       out,
		Title:        tree.Title(page),
		Content:      []byte("<p>body</p>"),
		Headings:     []site.Heading{{Level: 1, Text: "Top", ID: "top"}, {Level: 2, Text: "Setup", ID: "setup"}},
		LastModified: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Tree:         tree,
		SiteTitle:    "Docs",
	}
}

func TestCompose_DefaultLayout(t *testing.T) {
	tree := testTree(t)
	html, err := Default().Compose(input(t, tree, "guide/install.md"))
	require.NoError(t, err)
	doc := string(html)

	require.Contains(t, doc, "<title>Install | Docs</title>")
	require.Contains(t, doc, "<p>body</p>")
	require.Contains(t, doc, `<a class="active" aria-current="page" href="index.html">Install</a>`)
	require.Contains(t, doc, `<a href="../../index.html">Home</a>`)
	require.Contains(t, doc, `<a href="../usage/index.html">Usage</a>`)
	require.Contains(t, doc, `<span class="nav-section">Guide</span>`)
	require.Contains(t, doc, `<span aria-current="page">Install</span>`)
	require.Contains(t, doc, `rel="prev" href="../../index.html"`)
	require.Contains(t, doc, `rel="next" href="../usage/index.html"`)
	require.Contains(t, doc, `<a href="#setup">Setup</a>`)
	require.NotContains(t, doc, `href="#top"`)
	require.Contains(t, doc, `<time datetime="2026-03-04T05:06:07Z">2026-03-04</time>`)
	require.NotContains(t, doc, `href="/`, "links must stay relative")
}

func TestCompose_IsPure(t *testing.T) {
	tree := testTree(t)
	c := Default()
	in := input(t, tree, "guide/usage.md")

	a, err := c.Compose(in)
	require.NoError(t, err)
	b, err := c.Compose(in)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, c.Key(in), c.Key(in))
}

func TestKey_ChangesWithInputs(t *testing.T) {
	tree := testTree(t)
	c := Default()
	base := input(t, tree, "guide/usage.md")
	key := c.Key(base)

	changed := base
	changed.Content = []byte("<p>other</p>")
	require.NotEqual(t, key, c.Key(changed))

	changed = base
	changed.LastModified = base.LastModified.Add(time.Second)
	require.NotEqual(t, key, c.Key(changed))

	changed = base
	changed.Title = "Renamed"
	require.NotEqual(t, key, c.Key(changed))

	changed = base
	changed.Tree = nil
	require.NotEqual(t, key, c.Key(changed))

	custom, err := New(`{{.Title}}{{.Content}}{{.Sidebar}}`)
	require.NoError(t, err)
	require.NotEqual(t, key, custom.Key(base))
}

func TestNew_RequiredPlaceholders(t *testing.T) {
	_, err := New(`<html>{{.Title}}{{.Content}}</html>`)
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryTemplate))
	ce, ok := ferrors.AsClassified(err)
	require.True(t, ok)
	missing, _ := ce.Context().GetString("missing")
	require.Equal(t, ".Sidebar", missing)

	_, err = New(`{{if .Title}}{{.Title}}{{end}}{{with .Sidebar}}{{.}}{{end}}{{range .Breadcrumb}}{{end}}{{.Content}}`)
	require.NoError(t, err)
}

func TestNew_Malformed(t *testing.T) {
	_, err := New(`{{.Title}`)
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryTemplate))

	_, err = New(`{{.Title}}{{.Content}}{{.Sidebar}}{{.Nope}}`)
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryTemplate))
}

func TestCompose_WithoutTree(t *testing.T) {
	c, err := New(`<h1>{{.Title}}</h1>{{.Sidebar}}{{.Content}}`)
	require.NoError(t, err)
	out, err := c.Compose(Input{Page: "a.md", Output: "a/index.html", Title: "A & B", Content: []byte("<p>x</p>")})
	require.NoError(t, err)
	require.Equal(t, "<h1>A &amp; B</h1><p>x</p>", string(out))
}

func TestLoad(t *testing.T) {
	_, err := Load(t.TempDir() + "/missing.html")
	require.Error(t, err)
	require.True(t, ferrors.HasCategory(err, ferrors.CategoryTemplate))
	require.True(t, strings.Contains(err.Error(), "read page template"))
}
