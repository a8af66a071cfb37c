// Package site holds the data model shared by the build pipeline stages.
package site

import (
	"fmt"
	"time"

	"git.home.luguber.info/inful/docserve/internal/frontmatter"
)

// Generation identifies one build attempt. It only ever increases.
type Generation uint64

// Heading is one entry of a page's table of contents.
type Heading struct {
	Level int
	Text  string
	ID    string
}

// Page is a markdown source and everything derived from it during a build.
type Page struct {
	Source       string // slash path relative to the content root; the page identity
	Title        string
	Meta         frontmatter.Meta
	Body         []byte
	Hash         string
	Output       string // slash path relative to the output root
	LastModified time.Time
	HTML         []byte
	Headings     []Heading
	Document     []byte
}

// Asset is a static file copied verbatim to Output.
type Asset struct {
	Source  string
	Output  string
	Size    int64
	ModTime time.Time
}

// WarningKind classifies a non-fatal build finding.
type WarningKind string

const (
	WarningBrokenLink  WarningKind = "broken-link"
	WarningOrphanPage  WarningKind = "orphan-page"
	WarningDanglingRef WarningKind = "dangling-href"
)

// Warning is accumulated during a build and reported when it ends.
type Warning struct {
	Kind    WarningKind `json:"kind"`
	Source  string      `json:"source"`
	Target  string      `json:"target,omitempty"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	if w.Target != "" {
		return fmt.Sprintf("%s: %s: %s (%s)", w.Kind, w.Source, w.Message, w.Target)
	}
	return fmt.Sprintf("%s: %s: %s", w.Kind, w.Source, w.Message)
}

// BrokenLink returns the warning for an internal link with no target.
func BrokenLink(source, target string) Warning {
	return Warning{Kind: WarningBrokenLink, Source: source, Target: target, Message: "link target does not exist"}
}

// OrphanPage returns the warning for a page the navigation does not reach.
func OrphanPage(source string) Warning {
	return Warning{Kind: WarningOrphanPage, Source: source, Message: "page is not referenced by the navigation manifest"}
}
