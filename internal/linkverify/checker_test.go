package linkverify

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docserve/internal/site"
	"git.home.luguber.info/inful/docserve/internal/testutil"
)

func TestExtractLinks(t *testing.T) {
	links, err := ExtractLinks(strings.NewReader(`<html><head><link rel="stylesheet" href="style.css"></head>
<body><a href="../b/index.html">b</a><img src="img/x.png" alt="x"><a>none</a><script src="app.js"></script></body></html>`))
	require.NoError(t, err)
	require.Equal(t, []Link{
		{URL: "style.css", Tag: "link", Attribute: "href"},
		{URL: "../b/index.html", Tag: "a", Attribute: "href"},
		{URL: "img/x.png", Tag: "img", Attribute: "src"},
		{URL: "app.js", Tag: "script", Attribute: "src"},
	}, links)
}

func TestIsInternal(t *testing.T) {
	for ref, want := range map[string]bool{
		"../a/index.html":        true,
		"img.png?v=1#top":        true,
		"/abs/index.html":        true,
		"#section":               false,
		"":                       false,
		"https://example.com/x":  false,
		"//cdn.example.com/x.js": false,
		"mailto:me@example.com":  false,
		"javascript:void(0)":     false,
	} {
		require.Equal(t, want, IsInternal(ref), ref)
	}
}

func TestResolve(t *testing.T) {
	cases := []struct {
		page, ref, want string
		ok              bool
	}{
		{"a/b/index.html", "../../c/index.html", "c/index.html", true},
		{"a/b/index.html", "../", "a/index.html", true},
		{"a/b/index.html", "img.png#x", "a/b/img.png", true},
		{"a/b/index.html", "/top/", "top/index.html", true},
		{"index.html", "?q=1", "index.html", true},
		{"index.html", "../outside.html", "", false},
	}
	for _, tc := range cases {
		got, ok := Resolve(tc.page, tc.ref)
		require.Equal(t, tc.ok, ok, tc.ref)
		require.Equal(t, tc.want, got, tc.ref)
	}
}

func TestChecker_Check(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "index.html", `<a href="guide/index.html">guide</a><a href="guide/">dir</a><a href="https://example.com">ext</a><a href="#top">top</a>`)
	testutil.WriteFile(t, root, "guide/index.html", `<a href="../index.html">home</a><a href="../missing/index.html">m</a><img src="shot.png"><a href="../missing/index.html">again</a>`)
	testutil.WriteFile(t, root, "guide/style.css", `body{}`)
	testutil.WriteFile(t, root, "about/index.html", `<link href="../guide/style.css" rel="stylesheet"><a href="../../up.html">up</a>`)

	warnings, err := New(root, 2).Check(t.Context())
	require.NoError(t, err)
	require.Len(t, warnings, 3)

	require.Equal(t, site.WarningDanglingRef, warnings[0].Kind)
	require.Equal(t, "about/index.html", warnings[0].Source)
	require.Equal(t, "../../up.html", warnings[0].Target)

	require.Equal(t, "guide/index.html", warnings[1].Source)
	require.Equal(t, "../missing/index.html", warnings[1].Target)
	require.Equal(t, "guide/index.html", warnings[2].Source)
	require.Equal(t, "shot.png", warnings[2].Target)
	require.Contains(t, warnings[2].Message, "img src")
}

func TestChecker_CleanSite(t *testing.T) {
	root := t.TempDir()
	testutil.WriteFile(t, root, "index.html", `<a href="index.html">self</a>`)

	warnings, err := New(root, 0).Check(t.Context())
	require.NoError(t, err)
	require.Empty(t, warnings)
}

func TestChecker_MissingRoot(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope"), 1).Check(t.Context())
	require.Error(t, err)
}
