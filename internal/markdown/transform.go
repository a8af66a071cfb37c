package markdown

import (
	"strings"

	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"

	"git.home.luguber.info/inful/docserve/internal/site"
)

// pageTransformer rewrites internal link destinations and collects headings.
type pageTransformer struct{}

func (t *pageTransformer) Transform(doc *ast.Document, reader text.Reader, pc parser.Context) {
	st, ok := pc.Get(stateKey).(*renderState)
	if !ok {
		return
	}
	source := reader.Source()

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			h := site.Heading{Level: node.Level, Text: nodeText(node, source)}
			if id, ok := node.AttributeString("id"); ok {
				if b, ok := id.([]byte); ok {
					h.ID = string(b)
				}
			}
			st.headings = append(st.headings, h)
		case *ast.Link:
			node.Destination = st.rewrite(node.Destination)
		case *ast.Image:
			node.Destination = st.rewrite(node.Destination)
		}
		return ast.WalkContinue, nil
	})
}

func (st *renderState) rewrite(dest []byte) []byte {
	href, status := resolveLink(string(dest), st.rc, st.lookups)
	switch status {
	case linkResolved:
		return []byte(href)
	case linkBroken:
		st.warnings = append(st.warnings, site.BrokenLink(st.rc.Source, string(dest)))
	}
	return dest
}

// nodeText concatenates the text content of n's descendants.
func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(source))
			if t.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}
