// Package markdown renders markdown pages to sanitized HTML fragments and
// rewrites internal links against a resolution snapshot.
package markdown

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/util"

	"git.home.luguber.info/inful/docserve/internal/site"
)

// ResolveContext is the read-only view of the site a single render sees.
type ResolveContext struct {
	Source  string            // source path of the page being rendered
	Output  string            // output path of the page being rendered
	Targets map[string]string // source path -> output path for every page and asset
}

// Result is the output of one render.
type Result struct {
	HTML     []byte
	Headings []site.Heading
	Warnings []site.Warning
	// Lookups records every resolution key consulted and what it resolved to
	// ("" for a miss). A cached result stays valid while Targets answers every
	// key the same way.
	Lookups map[string]string
}

// Valid reports whether a cached result for the same body would render
// identically against targets.
func (r *Result) Valid(targets map[string]string) bool {
	for key, out := range r.Lookups {
		if targets[key] != out {
			return false
		}
	}
	return true
}

// Renderer converts markdown bodies to HTML. It is safe for concurrent use.
type Renderer struct {
	md goldmark.Markdown
}

var stateKey = parser.NewContextKey()

// NewRenderer builds a renderer with GitHub flavored markdown, footnotes,
// definition lists and automatic heading ids. Raw HTML in the source is
// omitted from the output and unsafe link schemes are dropped.
func NewRenderer() *Renderer {
	md := goldmark.New(
		goldmark.WithExtensions(
			extension.GFM,
			extension.Footnote,
			extension.DefinitionList,
		),
		goldmark.WithParserOptions(
			parser.WithAutoHeadingID(),
			parser.WithASTTransformers(util.Prioritized(&pageTransformer{}, 100)),
		),
	)
	return &Renderer{md: md}
}

// Render converts body (front-matter already removed) into HTML.
func (r *Renderer) Render(body []byte, rc ResolveContext) (*Result, error) {
	st := &renderState{rc: rc, lookups: make(map[string]string)}
	pc := parser.NewContext()
	pc.Set(stateKey, st)

	var buf bytes.Buffer
	if err := r.md.Convert(body, &buf, parser.WithContext(pc)); err != nil {
		return nil, fmt.Errorf("markdown render %s: %w", rc.Source, err)
	}
	return &Result{
		HTML:     buf.Bytes(),
		Headings: st.headings,
		Warnings: st.warnings,
		Lookups:  st.lookups,
	}, nil
}

type renderState struct {
	rc       ResolveContext
	headings []site.Heading
	warnings []site.Warning
	lookups  map[string]string
}
