// Package compose wraps rendered page fragments in the site layout.
package compose

import (
	"bytes"
	_ "embed"
	"encoding/binary"
	"fmt"
	"html/template"
	"io"
	"os"
	"strings"
	"text/template/parse"
	"time"

	"github.com/zeebo/xxh3"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/nav"
	"git.home.luguber.info/inful/docserve/internal/site"
)

//go:embed templates/page.html
var defaultTemplate string

// RequiredFields are the placeholders every page template must use.
var RequiredFields = []string{"Title", "Content", "Sidebar"}

// Input is everything a composed page depends on.
type Input struct {
	Page            string // source path
	Output          string // output path
	Title           string
	Description     string
	Content         []byte
	Headings        []site.Heading
	LastModified    time.Time
	Tree            *nav.Tree
	SiteTitle       string
	SiteDescription string
}

// Compositor applies one parsed page template. It is safe for concurrent use.
type Compositor struct {
	tmpl *template.Template
	id   uint64
}

// New parses a page template and checks it references the required fields.
func New(source string) (*Compositor, error) {
	tmpl, err := template.New("page").Option("missingkey=error").Parse(source)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTemplate, "malformed page template").
			Fatal().
			UserAction().
			Build()
	}

	used := make(map[string]bool)
	for _, t := range tmpl.Templates() {
		if t.Tree != nil {
			collectFields(t.Tree.Root, used)
		}
	}
	var missing []string
	for _, f := range RequiredFields {
		if !used[f] {
			missing = append(missing, "."+f)
		}
	}
	if len(missing) > 0 {
		return nil, ferrors.TemplateError("page template is missing required placeholders").
			Fatal().
			UserAction().
			WithContext("missing", strings.Join(missing, ", ")).
			Build()
	}
	// Placeholders that do not exist only fail on execution, so try once.
	if err := tmpl.Execute(io.Discard, pageData{}); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTemplate, "page template does not execute").
			Fatal().
			UserAction().
			Build()
	}
	return &Compositor{tmpl: tmpl, id: xxh3.HashString(source)}, nil
}

// Load reads and parses a template file.
func Load(path string) (*Compositor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTemplate, "read page template").
			Fatal().
			WithContext("path", path).
			Build()
	}
	c, err := New(string(data))
	if err != nil {
		if ce, ok := ferrors.AsClassified(err); ok {
			return nil, ce.WithContext("path", path)
		}
		return nil, err
	}
	return c, nil
}

// Default returns the compositor for the embedded layout.
func Default() *Compositor {
	c, err := New(defaultTemplate)
	if err != nil {
		panic(fmt.Sprintf("embedded page template: %v", err))
	}
	return c
}

type link struct {
	Title   string
	Href    string
	Current bool
}

type pageData struct {
	SiteTitle       string
	Title           string
	Description     string
	HomeURL         string
	Content         template.HTML
	Sidebar         template.HTML
	Breadcrumb      []link
	Prev            *link
	Next            *link
	TOC             []site.Heading
	LastModified    string
	LastModifiedISO string
}

// Compose produces the full HTML document for one page.
func (c *Compositor) Compose(in Input) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, c.data(in)); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryTemplate, "execute page template").
			WithContext("page", in.Page).
			Build()
	}
	return buf.Bytes(), nil
}

// Key hashes every input Compose reads. Equal keys produce identical output.
func (c *Compositor) Key(in Input) uint64 {
	h := xxh3.New()
	var num [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(num[:], v)
		_, _ = h.Write(num[:])
	}
	writeStr := func(s string) {
		writeUint(uint64(len(s)))
		_, _ = h.WriteString(s)
	}

	writeUint(c.id)
	writeStr(in.Page)
	writeStr(in.Output)
	writeStr(in.Title)
	writeStr(in.Description)
	writeStr(in.SiteTitle)
	writeStr(in.SiteDescription)
	writeUint(uint64(len(in.Content)))
	_, _ = h.Write(in.Content)
	writeUint(uint64(len(in.Headings)))
	for _, hd := range in.Headings {
		writeUint(uint64(hd.Level))
		writeStr(hd.Text)
		writeStr(hd.ID)
	}
	writeUint(uint64(in.LastModified.UnixNano()))
	if in.Tree != nil {
		writeUint(in.Tree.Signature())
	}
	return h.Sum64()
}

func (c *Compositor) data(in Input) pageData {
	d := pageData{
		SiteTitle:   in.SiteTitle,
		Title:       in.Title,
		Description: in.Description,
		Content:     template.HTML(in.Content), //nolint:gosec // produced by the safe-mode renderer
		HomeURL:     site.RelURL(in.Output, "index.html"),
	}
	if d.Description == "" {
		d.Description = in.SiteDescription
	}
	if !in.LastModified.IsZero() {
		d.LastModified = in.LastModified.UTC().Format("2006-01-02")
		d.LastModifiedISO = in.LastModified.UTC().Format(time.RFC3339)
	}
	for _, h := range in.Headings {
		if h.Level >= 2 && h.Level <= 3 && h.ID != "" {
			d.TOC = append(d.TOC, h)
		}
	}

	t := in.Tree
	if t == nil {
		return d
	}
	if pages := t.Pages(); len(pages) > 0 {
		if out, ok := t.Output(pages[0]); ok {
			d.HomeURL = site.RelURL(in.Output, out)
		}
	}
	d.Sidebar = sidebar(t, in.Page, in.Output)

	crumbs := t.Breadcrumb(in.Page)
	for i, cr := range crumbs {
		l := link{Title: cr.Title, Current: i == len(crumbs)-1}
		if cr.Page != "" {
			if out, ok := t.Output(cr.Page); ok {
				l.Href = site.RelURL(in.Output, out)
			}
		}
		d.Breadcrumb = append(d.Breadcrumb, l)
	}

	prev, next := t.Neighbors(in.Page)
	d.Prev = pageLink(t, prev, in.Output)
	d.Next = pageLink(t, next, in.Output)
	return d
}

func pageLink(t *nav.Tree, page, from string) *link {
	if page == "" {
		return nil
	}
	out, ok := t.Output(page)
	if !ok {
		return nil
	}
	return &link{Title: t.Title(page), Href: site.RelURL(from, out)}
}

func sidebar(t *nav.Tree, current, from string) template.HTML {
	var b strings.Builder
	writeNodes(&b, t, t.Node(t.Root()).Children, current, from)
	return template.HTML(b.String()) //nolint:gosec // every interpolated value is escaped
}

func writeNodes(b *strings.Builder, t *nav.Tree, ids []nav.NodeID, current, from string) {
	if len(ids) == 0 {
		return
	}
	b.WriteString("<ul>")
	for _, id := range ids {
		n := t.Node(id)
		b.WriteString("<li>")
		switch out, ok := t.Output(n.Page); {
		case n.Page == "" || !ok:
			fmt.Fprintf(b, `<span class="nav-section">%s</span>`, template.HTMLEscapeString(n.Title))
		case n.Page == current:
			fmt.Fprintf(b, `<a class="active" aria-current="page" href="%s">%s</a>`,
				template.HTMLEscapeString(site.RelURL(from, out)), template.HTMLEscapeString(n.Title))
		default:
			fmt.Fprintf(b, `<a href="%s">%s</a>`,
				template.HTMLEscapeString(site.RelURL(from, out)), template.HTMLEscapeString(n.Title))
		}
		writeNodes(b, t, n.Children, current, from)
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
}

// collectFields records the top-level field names a template tree references.
func collectFields(n parse.Node, used map[string]bool) {
	switch n := n.(type) {
	case *parse.ListNode:
		if n == nil {
			return
		}
		for _, c := range n.Nodes {
			collectFields(c, used)
		}
	case *parse.ActionNode:
		collectFields(n.Pipe, used)
	case *parse.PipeNode:
		if n == nil {
			return
		}
		for _, cmd := range n.Cmds {
			collectFields(cmd, used)
		}
	case *parse.CommandNode:
		for _, arg := range n.Args {
			collectFields(arg, used)
		}
	case *parse.FieldNode:
		if len(n.Ident) > 0 {
			used[n.Ident[0]] = true
		}
	case *parse.ChainNode:
		collectFields(n.Node, used)
	case *parse.IfNode:
		collectBranch(&n.BranchNode, used)
	case *parse.RangeNode:
		collectBranch(&n.BranchNode, used)
	case *parse.WithNode:
		collectBranch(&n.BranchNode, used)
	case *parse.TemplateNode:
		collectFields(n.Pipe, used)
	}
}

func collectBranch(n *parse.BranchNode, used map[string]bool) {
	collectFields(n.Pipe, used)
	collectFields(n.List, used)
	if n.ElseList != nil {
		collectFields(n.ElseList, used)
	}
}
