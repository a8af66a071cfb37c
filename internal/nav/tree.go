// Package nav assembles the site navigation tree from a manifest and the
// scanned page inventory, and derives output paths from it.
package nav

import (
	"encoding/binary"

	"github.com/zeebo/xxh3"
)

// NodeID indexes a node in a Tree's arena.
type NodeID int

// NoNode is the parent of the root.
const NoNode NodeID = -1

// Node is one entry of the navigation hierarchy. Page is empty for section headers.
type Node struct {
	ID       NodeID
	Title    string
	Page     string
	Slug     string
	Parent   NodeID
	Children []NodeID
	Depth    int
}

// Crumb is one breadcrumb element.
type Crumb struct {
	Title string
	Page  string
}

// Tree is an arena of navigation nodes. Node 0 is the root. Parent and child
// relations are indices, never pointers.
type Tree struct {
	nodes   []Node
	byPage  map[string]NodeID
	order   []string          // pages in pre-order traversal
	index   map[string]int    // page -> position in order
	sig     uint64
	outputs map[string]string // page -> output path, orphans included
	titles  map[string]string // page -> title, orphans included
}

func newTree(rootTitle string) *Tree {
	t := &Tree{
		byPage:  make(map[string]NodeID),
		outputs: make(map[string]string),
		titles:  make(map[string]string),
	}
	t.nodes = append(t.nodes, Node{ID: 0, Title: rootTitle, Parent: NoNode})
	return t
}

func (t *Tree) add(parent NodeID, title, page, slug string) NodeID {
	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, Node{
		ID:     id,
		Title:  title,
		Page:   page,
		Slug:   slug,
		Parent: parent,
		Depth:  t.nodes[parent].Depth + 1,
	})
	t.nodes[parent].Children = append(t.nodes[parent].Children, id)
	if page != "" {
		t.byPage[page] = id
		t.titles[page] = title
	}
	return id
}

// Root returns the root node id.
func (t *Tree) Root() NodeID { return 0 }

// Node returns the node with the given id.
func (t *Tree) Node(id NodeID) Node { return t.nodes[id] }

// Len returns the number of nodes including the root.
func (t *Tree) Len() int { return len(t.nodes) }

// Lookup returns the node that owns page.
func (t *Tree) Lookup(page string) (NodeID, bool) {
	id, ok := t.byPage[page]
	return id, ok
}

// Pages returns every page reachable from the root in traversal order.
func (t *Tree) Pages() []string { return t.order }

// Output returns the output path assigned to page.
func (t *Tree) Output(page string) (string, bool) {
	out, ok := t.outputs[page]
	return out, ok
}

// Outputs returns a copy of the page to output path mapping.
func (t *Tree) Outputs() map[string]string {
	m := make(map[string]string, len(t.outputs))
	for k, v := range t.outputs {
		m[k] = v
	}
	return m
}

// Title returns the navigation title of page.
func (t *Tree) Title(page string) string { return t.titles[page] }

// Breadcrumb returns the ancestor chain of page, ending with the page itself.
// The root is not part of the chain. Pages outside the tree get a single crumb.
func (t *Tree) Breadcrumb(page string) []Crumb {
	id, ok := t.byPage[page]
	if !ok {
		if title, known := t.titles[page]; known {
			return []Crumb{{Title: title, Page: page}}
		}
		return nil
	}
	var crumbs []Crumb
	for ; id > 0; id = t.nodes[id].Parent {
		n := t.nodes[id]
		crumbs = append(crumbs, Crumb{Title: n.Title, Page: n.Page})
	}
	for i, j := 0, len(crumbs)-1; i < j; i, j = i+1, j-1 {
		crumbs[i], crumbs[j] = crumbs[j], crumbs[i]
	}
	return crumbs
}

// Neighbors returns the pages before and after page in traversal order.
func (t *Tree) Neighbors(page string) (prev, next string) {
	i, ok := t.index[page]
	if !ok {
		return "", ""
	}
	if i > 0 {
		prev = t.order[i-1]
	}
	if i+1 < len(t.order) {
		next = t.order[i+1]
	}
	return prev, next
}

// Signature hashes everything a rendered sidebar depends on: the tree shape,
// titles and output paths. It is computed once when the tree is finalized.
func (t *Tree) Signature() uint64 { return t.sig }

func (t *Tree) hash() uint64 {
	h := xxh3.New()
	var buf [8]byte
	for _, n := range t.nodes {
		binary.LittleEndian.PutUint64(buf[:], uint64(n.Parent+1))
		_, _ = h.Write(buf[:])
		_, _ = h.WriteString(n.Title)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(n.Page)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(t.outputs[n.Page])
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

// finalize assigns output paths from the hierarchy, records traversal order
// and seals the signature. The tree is read-only afterwards apart from
// orphan output paths, which are not nodes.
func (t *Tree) finalize() {
	t.order = t.order[:0]
	var visit func(id NodeID, dir []string)
	visit = func(id NodeID, dir []string) {
		n := t.nodes[id]
		if id != 0 && n.Slug != "" {
			dir = append(append([]string(nil), dir...), n.Slug)
		}
		if n.Page != "" {
			t.outputs[n.Page] = outputFor(dir)
			t.order = append(t.order, n.Page)
		}
		for _, c := range n.Children {
			visit(c, dir)
		}
	}
	visit(0, nil)

	t.index = make(map[string]int, len(t.order))
	for i, p := range t.order {
		t.index[p] = i
	}
	t.sig = t.hash()
}
