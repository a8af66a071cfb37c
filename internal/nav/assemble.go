package nav

import (
	"path"
	"sort"
	"strings"

	"git.home.luguber.info/inful/docserve/internal/config"
	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/markdown"
	"git.home.luguber.info/inful/docserve/internal/site"
)

// PageInfo is what the assembler needs to know about a page.
type PageInfo struct {
	Source string
	Title  string
	Slug   string // front-matter slug, may be empty
	Weight int
}

// Input collects the assembler inputs.
type Input struct {
	Pages        []PageInfo // scan order
	Manifest     *Manifest  // nil derives the tree from the directory layout
	OrphanPolicy config.OrphanPolicy
	SiteTitle    string
}

// Result is the validated navigation.
type Result struct {
	Tree     *Tree
	Orphans  []string
	Warnings []site.Warning
}

// Assemble merges the manifest with the inventory. Explicit manifest order
// wins; pages the manifest does not list are handled by the orphan policy and,
// when auto-included, appended in scan order.
func Assemble(in Input) (*Result, error) {
	a := &assembler{
		in:    in,
		pages: make(map[string]PageInfo, len(in.Pages)),
		tree:  newTree(in.SiteTitle),
	}
	for _, p := range in.Pages {
		a.pages[p.Source] = p
	}

	res := &Result{Tree: a.tree}
	if in.Manifest == nil {
		a.derive()
	} else {
		if err := a.fromManifest(res); err != nil {
			return nil, err
		}
	}

	a.tree.finalize()
	for _, p := range res.Orphans {
		if _, inTree := a.tree.byPage[p]; !inTree {
			a.tree.outputs[p] = mirroredOutput(p, a.pages[p].Slug)
			a.tree.titles[p] = a.pages[p].Title
		}
	}
	if err := checkCollisions(a.tree); err != nil {
		return nil, err
	}
	return res, nil
}

type assembler struct {
	in    Input
	pages map[string]PageInfo
	tree  *Tree
}

func (a *assembler) fromManifest(res *Result) error {
	policy := a.in.OrphanPolicy
	if raw := a.in.Manifest.OrphanPolicy; raw != "" {
		policy = config.NormalizeOrphanPolicy(raw)
		if policy == "" {
			return ferrors.NavigationError("invalid orphan_policy in navigation manifest").
				WithContext("value", raw).
				Build()
		}
	}

	if err := a.addEntries(0, a.in.Manifest.Entries); err != nil {
		return err
	}

	var orphans []string
	for _, p := range a.in.Pages {
		if _, ok := a.tree.byPage[p.Source]; !ok {
			orphans = append(orphans, p.Source)
		}
	}
	if len(orphans) == 0 {
		return nil
	}

	switch policy {
	case config.OrphanAutoInclude:
		catchAll := a.in.Manifest.CatchAll
		if catchAll == "" {
			catchAll = DefaultCatchAll
		}
		section := a.tree.add(0, catchAll, "", Slugify(catchAll))
		for _, p := range orphans {
			info := a.pages[p]
			a.tree.add(section, info.Title, p, pageSlug(p, info.Slug))
		}
	case config.OrphanFail:
		return ferrors.NavigationError("pages are not referenced by the navigation manifest").
			WithContext("pages", strings.Join(orphans, ", ")).
			Build()
	default:
		res.Orphans = orphans
		for _, p := range orphans {
			res.Warnings = append(res.Warnings, site.OrphanPage(p))
		}
	}
	return nil
}

func (a *assembler) addEntries(parent NodeID, entries []Entry) error {
	for _, e := range entries {
		var id NodeID
		if e.Page == "" {
			id = a.tree.add(parent, e.Title, "", Slugify(e.Title))
		} else {
			source, ok := a.resolveRef(e.Page)
			if !ok {
				return ferrors.NavigationError("navigation manifest references a missing page").
					WithContext("page", e.Page).
					WithContext("line", e.Line).
					Build()
			}
			if _, dup := a.tree.byPage[source]; dup {
				return ferrors.NavigationError("page appears more than once in the navigation").
					WithContext("page", source).
					WithContext("line", e.Line).
					Build()
			}
			info := a.pages[source]
			title := e.Title
			if title == "" {
				title = info.Title
			}
			id = a.tree.add(parent, title, source, pageSlug(source, info.Slug))
		}
		if err := a.addEntries(id, e.Children); err != nil {
			return err
		}
	}
	return nil
}

// resolveRef maps a manifest page reference to a scanned source path.
func (a *assembler) resolveRef(ref string) (string, bool) {
	ref = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(ref), "./"), "/")
	ref = path.Clean(ref)
	for _, candidate := range []string{ref, ref + ".md", ref + "/index.md"} {
		if _, ok := a.pages[candidate]; ok {
			return candidate, true
		}
	}
	return "", false
}

// derive builds the tree from the directory layout: directories become
// sections, index.md becomes its directory's page, and siblings are ordered by
// weight, then name.
func (a *assembler) derive() {
	root := &dirNode{children: map[string]*dirNode{}}
	for _, p := range a.in.Pages {
		segments := strings.Split(p.Source, "/")
		d := root
		for _, seg := range segments[:len(segments)-1] {
			child, ok := d.children[seg]
			if !ok {
				child = &dirNode{name: seg, children: map[string]*dirNode{}}
				d.children[seg] = child
			}
			d = child
		}
		if isIndex(p.Source) && p.Slug == "" {
			info := p
			d.index = &info
			continue
		}
		d.pages = append(d.pages, p)
	}

	if root.index != nil {
		a.tree.add(0, root.index.Title, root.index.Source, "")
	}
	a.emit(root, 0)
}

type dirNode struct {
	name     string
	index    *PageInfo
	pages    []PageInfo
	children map[string]*dirNode
}

func (d *dirNode) weight() int {
	if d.index != nil {
		return d.index.Weight
	}
	return 0
}

func (a *assembler) emit(d *dirNode, parent NodeID) {
	type item struct {
		name   string
		weight int
		page   *PageInfo
		dir    *dirNode
	}
	items := make([]item, 0, len(d.pages)+len(d.children))
	for i := range d.pages {
		p := &d.pages[i]
		items = append(items, item{name: path.Base(p.Source), weight: p.Weight, page: p})
	}
	for name, child := range d.children {
		items = append(items, item{name: name, weight: child.weight(), dir: child})
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].weight != items[j].weight {
			return items[i].weight < items[j].weight
		}
		return items[i].name < items[j].name
	})

	for _, it := range items {
		if it.page != nil {
			a.tree.add(parent, it.page.Title, it.page.Source, pageSlug(it.page.Source, it.page.Slug))
			continue
		}
		title, page := markdown.TitleFromPath(it.dir.name), ""
		if it.dir.index != nil {
			title, page = it.dir.index.Title, it.dir.index.Source
		}
		id := a.tree.add(parent, title, page, Slugify(it.dir.name))
		a.emit(it.dir, id)
	}
}

func isIndex(source string) bool {
	stem := strings.TrimSuffix(path.Base(source), path.Ext(source))
	return strings.EqualFold(stem, "index")
}

func checkCollisions(t *Tree) error {
	seen := make(map[string]string, len(t.outputs))
	pages := make([]string, 0, len(t.outputs))
	for p := range t.outputs {
		pages = append(pages, p)
	}
	sort.Strings(pages)
	for _, p := range pages {
		out := t.outputs[p]
		if other, dup := seen[out]; dup {
			return ferrors.NavigationError("two pages resolve to the same output path").
				WithContext("output", out).
				WithContext("pages", other+", "+p).
				Build()
		}
		seen[out] = p
	}
	return nil
}
