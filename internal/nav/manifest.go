package nav

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
)

// DefaultCatchAll titles the section that collects auto-included pages.
const DefaultCatchAll = "More"

// Entry is one declared navigation item. Page is empty for section headers.
type Entry struct {
	Title    string
	Page     string
	Children []Entry
	Line     int
}

// Manifest is the parsed navigation declaration.
type Manifest struct {
	Entries      []Entry
	OrphanPolicy string // overrides the configured policy when set
	CatchAll     string
}

// ParseManifest decodes a navigation manifest. The document is either a
// sequence of entries or a mapping with a "nav" sequence plus options.
//
// Entries may be a page reference, a nested sequence (children of the
// previous entry), a single-key mapping {Title: page} / {Title: [children]}
// or a mapping with title, page and children keys.
func ParseManifest(data []byte) (*Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryNavigation, "invalid navigation manifest").Fatal().UserAction().Build()
	}

	m := &Manifest{CatchAll: DefaultCatchAll}
	if len(doc.Content) == 0 {
		return m, nil
	}

	p := &manifestParser{open: make(map[*yaml.Node]bool)}
	root, err := p.resolve(doc.Content[0])
	if err != nil {
		return nil, err
	}

	switch root.Kind {
	case yaml.SequenceNode:
		m.Entries, err = p.sequence(root)
		return m, err
	case yaml.MappingNode:
		for i := 0; i+1 < len(root.Content); i += 2 {
			key, value := root.Content[i].Value, root.Content[i+1]
			switch key {
			case "nav":
				seq, err := p.resolve(value)
				if err != nil {
					return nil, err
				}
				if seq.Kind != yaml.SequenceNode {
					return nil, manifestError(value, "nav must be a list")
				}
				if m.Entries, err = p.sequence(seq); err != nil {
					return nil, err
				}
			case "orphan_policy":
				m.OrphanPolicy = strings.TrimSpace(value.Value)
			case "catch_all":
				if v := strings.TrimSpace(value.Value); v != "" {
					m.CatchAll = v
				}
			default:
				return nil, manifestError(root.Content[i], fmt.Sprintf("unknown manifest key %q", key))
			}
		}
		return m, nil
	default:
		return nil, manifestError(root, "manifest must be a list or a mapping")
	}
}

type manifestParser struct {
	// open holds the collection nodes currently being parsed; an alias back
	// into one of them would make the navigation infinitely deep.
	open map[*yaml.Node]bool
}

func (p *manifestParser) resolve(n *yaml.Node) (*yaml.Node, error) {
	for n.Kind == yaml.AliasNode {
		if n.Alias == nil || p.open[n.Alias] {
			return nil, ferrors.NavigationError("navigation manifest contains a cycle").
				WithContext("line", n.Line).
				WithContext("anchor", n.Value).
				Build()
		}
		n = n.Alias
	}
	return n, nil
}

func (p *manifestParser) sequence(n *yaml.Node) ([]Entry, error) {
	p.open[n] = true
	defer delete(p.open, n)

	var entries []Entry
	for _, raw := range n.Content {
		item, err := p.resolve(raw)
		if err != nil {
			return nil, err
		}
		switch item.Kind {
		case yaml.ScalarNode:
			ref := strings.TrimSpace(item.Value)
			if ref == "" {
				return nil, manifestError(item, "empty page reference")
			}
			entries = append(entries, Entry{Page: ref, Line: item.Line})
		case yaml.SequenceNode:
			if len(entries) == 0 {
				return nil, manifestError(item, "nested list has no parent entry")
			}
			children, err := p.sequence(item)
			if err != nil {
				return nil, err
			}
			last := &entries[len(entries)-1]
			last.Children = append(last.Children, children...)
		case yaml.MappingNode:
			e, err := p.mapping(item)
			if err != nil {
				return nil, err
			}
			entries = append(entries, e)
		default:
			return nil, manifestError(item, "unsupported navigation entry")
		}
	}
	return entries, nil
}

func (p *manifestParser) mapping(n *yaml.Node) (Entry, error) {
	p.open[n] = true
	defer delete(p.open, n)

	e := Entry{Line: n.Line}
	structured := false
	for i := 0; i+1 < len(n.Content); i += 2 {
		switch n.Content[i].Value {
		case "title", "page", "children":
			structured = true
		}
	}

	if !structured {
		if len(n.Content) != 2 {
			return e, manifestError(n, "section entries take exactly one title")
		}
		e.Title = strings.TrimSpace(n.Content[0].Value)
		value, err := p.resolve(n.Content[1])
		if err != nil {
			return e, err
		}
		switch value.Kind {
		case yaml.ScalarNode:
			e.Page = strings.TrimSpace(value.Value)
		case yaml.SequenceNode:
			if e.Children, err = p.sequence(value); err != nil {
				return e, err
			}
		default:
			return e, manifestError(value, "section value must be a page or a list")
		}
		return e, nil
	}

	for i := 0; i+1 < len(n.Content); i += 2 {
		key := n.Content[i].Value
		value, err := p.resolve(n.Content[i+1])
		if err != nil {
			return e, err
		}
		switch key {
		case "title":
			e.Title = strings.TrimSpace(value.Value)
		case "page":
			e.Page = strings.TrimSpace(value.Value)
		case "children":
			if value.Kind != yaml.SequenceNode {
				return e, manifestError(value, "children must be a list")
			}
			if e.Children, err = p.sequence(value); err != nil {
				return e, err
			}
		default:
			return e, manifestError(n.Content[i], fmt.Sprintf("unknown entry key %q", key))
		}
	}
	if e.Title == "" && e.Page == "" {
		return e, manifestError(n, "entry needs a title or a page")
	}
	return e, nil
}

func manifestError(n *yaml.Node, msg string) error {
	return ferrors.NavigationError(msg).WithContext("line", n.Line).Build()
}
