package build

import (
	"encoding/binary"
	"strconv"

	"github.com/zeebo/xxh3"

	"git.home.luguber.info/inful/docserve/internal/nav"
	"git.home.luguber.info/inful/docserve/internal/site"
)

// SiteIndex is the immutable result of a successful build. Readers share it
// without locking; a newer build replaces it wholesale.
type SiteIndex struct {
	Generation site.Generation
	BuildID    string
	OutputDir  string
	Pages      []*site.Page // scan order
	Assets     []site.Asset
	Nav        *nav.Tree

	// ContentHash changes whenever a served byte could change: page
	// documents, asset paths, sizes and modification times.
	ContentHash string

	bySource map[string]*site.Page
	byOutput map[string]int // output path -> index into Pages, or -(asset index)-1
}

func newSiteIndex(gen site.Generation, buildID, outputDir string, pages []*site.Page, assets []site.Asset, tree *nav.Tree) *SiteIndex {
	idx := &SiteIndex{
		Generation: gen,
		BuildID:    buildID,
		OutputDir:  outputDir,
		Pages:      pages,
		Assets:     assets,
		Nav:        tree,
		bySource:   make(map[string]*site.Page, len(pages)),
		byOutput:   make(map[string]int, len(pages)+len(assets)),
	}
	for i, p := range pages {
		idx.bySource[p.Source] = p
		idx.byOutput[p.Output] = i
	}
	for i, a := range assets {
		idx.byOutput[a.Output] = -i - 1
	}
	idx.ContentHash = contentHash(pages, assets)
	return idx
}

func contentHash(pages []*site.Page, assets []site.Asset) string {
	h := xxh3.New()
	var num [8]byte
	writeUint := func(v uint64) {
		binary.LittleEndian.PutUint64(num[:], v)
		_, _ = h.Write(num[:])
	}
	for _, p := range pages {
		writeUint(uint64(len(p.Output)))
		_, _ = h.WriteString(p.Output)
		writeUint(uint64(len(p.Document)))
		_, _ = h.Write(p.Document)
	}
	for _, a := range assets {
		writeUint(uint64(len(a.Output)))
		_, _ = h.WriteString(a.Output)
		writeUint(uint64(a.Size))
		writeUint(uint64(a.ModTime.UnixNano()))
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// Page returns the page built from source.
func (x *SiteIndex) Page(source string) (*site.Page, bool) {
	p, ok := x.bySource[source]
	return p, ok
}

// Resolve maps an output path to the page or asset published there.
func (x *SiteIndex) Resolve(output string) (*site.Page, *site.Asset) {
	i, ok := x.byOutput[output]
	switch {
	case !ok:
		return nil, nil
	case i >= 0:
		return x.Pages[i], nil
	default:
		return nil, &x.Assets[-i-1]
	}
}
