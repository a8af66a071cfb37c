package build

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"git.home.luguber.info/inful/docserve/internal/compose"
	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/frontmatter"
	"git.home.luguber.info/inful/docserve/internal/logfields"
	"git.home.luguber.info/inful/docserve/internal/markdown"
	"git.home.luguber.info/inful/docserve/internal/nav"
	"git.home.luguber.info/inful/docserve/internal/scan"
	"git.home.luguber.info/inful/docserve/internal/site"
)

// buildRun is the working state of one build. Nothing it computes becomes
// visible to readers until commit.
type buildRun struct {
	o       *Orchestrator
	rep     *Report
	gen     site.Generation
	full    bool
	changed []string
	logger  *slog.Logger

	dirty    []string // changed paths relative to the content root
	inv      *scan.Inventory
	manifest *nav.Manifest
	sources  map[string]*sourceEntry
	navRes   *nav.Result
	targets  map[string]string
	pages    []*site.Page
	assets   []assetFile
	renders  map[string]*renderEntry
	composed map[string]*composeEntry
}

func (b *buildRun) execute(ctx context.Context) error {
	steps := []struct {
		state State
		name  string
		fn    func(context.Context) error
	}{
		{StateScanning, "scan", b.scan},
		{StateScanning, "navigation", b.assemble},
		{StateRendering, "render", b.render},
		{StateComposing, "compose", b.compose},
		{StateWriting, "write", b.write},
	}
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return err
		}
		if step.state == StateWriting && b.o.superseded(b.gen) {
			return ErrSuperseded
		}
		b.o.state.Store(int32(step.state))
		start := time.Now()
		err := step.fn(ctx)
		d := time.Since(start)
		b.rep.Stages = append(b.rep.Stages, StageTiming{Stage: step.name, Duration: d})
		b.logger.Debug("Stage finished", logfields.Stage(step.name), logfields.Duration(d))
		if err != nil {
			return err
		}
	}
	b.commit()
	return nil
}

func (b *buildRun) scan(ctx context.Context) error {
	o := b.o
	var err error
	if b.full {
		b.inv, err = o.scanner.Scan(ctx)
	} else {
		b.inv, err = o.scanner.Rescan(ctx, o.inventory, b.changed)
	}
	if err != nil {
		return err
	}
	b.rep.Pages = len(b.inv.Pages)
	b.rep.Assets = len(b.inv.Assets)

	for _, p := range b.changed {
		abs, err := filepath.Abs(p)
		if err != nil {
			continue
		}
		if rel, err := filepath.Rel(o.scanner.Root(), abs); err == nil {
			b.dirty = append(b.dirty, filepath.ToSlash(rel))
		}
	}

	if m := b.inv.Manifest; m != nil {
		data, err := os.ReadFile(m.AbsPath)
		if err != nil {
			return ferrors.WrapError(err, ferrors.CategoryNavigation, "read navigation manifest").
				Fatal().
				WithContext("path", m.Path).
				Build()
		}
		if b.manifest, err = nav.ParseManifest(data); err != nil {
			if ce, ok := ferrors.AsClassified(err); ok {
				return ce.WithContext("path", m.Path)
			}
			return err
		}
	}

	if o.lastMod != nil {
		if err := o.lastMod.Refresh(); err != nil {
			b.logger.Warn("Could not refresh git history", logfields.Error(err))
		}
	}

	b.sources = make(map[string]*sourceEntry, len(b.inv.Pages))
	for _, e := range b.inv.Pages {
		if cached, ok := o.sources[e.Path]; ok && !b.full && !b.isDirty(e.Path) &&
			cached.size == e.Size && cached.modTime.Equal(e.ModTime) {
			b.sources[e.Path] = cached
			b.rep.CacheHits.Source++
			continue
		}
		entry, err := readSource(e)
		if err != nil {
			return err
		}
		b.sources[e.Path] = entry
	}

	b.assets = make([]assetFile, 0, len(b.inv.Assets))
	for _, e := range b.inv.Assets {
		b.assets = append(b.assets, assetFile{
			Asset: site.Asset{Source: e.Path, Output: e.Path, Size: e.Size, ModTime: e.ModTime},
			abs:   e.AbsPath,
		})
	}
	return nil
}

func readSource(e scan.Entry) (*sourceEntry, error) {
	data, err := os.ReadFile(e.AbsPath)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryScan, "read page").
			Fatal().
			WithContext("page", e.Path).
			Build()
	}
	doc, err := frontmatter.Parse(data)
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRender, "invalid front matter").
			Fatal().
			UserAction().
			WithContext("page", e.Path).
			Build()
	}
	return &sourceEntry{
		modTime: e.ModTime,
		size:    e.Size,
		doc:     doc,
		title:   markdown.Title(doc.Meta.Title, doc.Body, e.Path),
	}, nil
}

// isDirty reports whether rel or one of its ancestor directories was named
// in the change set.
func (b *buildRun) isDirty(rel string) bool {
	for _, d := range b.dirty {
		if d == rel || d == "." || strings.HasPrefix(rel, d+"/") {
			return true
		}
	}
	return false
}

func (b *buildRun) assemble(context.Context) error {
	cfg := b.o.cfg
	infos := make([]nav.PageInfo, 0, len(b.inv.Pages))
	for _, e := range b.inv.Pages {
		s := b.sources[e.Path]
		infos = append(infos, nav.PageInfo{
			Source: e.Path,
			Title:  s.title,
			Slug:   s.doc.Meta.Slug,
			Weight: s.doc.Meta.Weight,
		})
	}

	res, err := nav.Assemble(nav.Input{
		Pages:        infos,
		Manifest:     b.manifest,
		OrphanPolicy: cfg.OrphanPolicy,
		SiteTitle:    cfg.Site.Title,
	})
	if err != nil {
		return err
	}
	b.navRes = res
	b.rep.Warnings = append(b.rep.Warnings, res.Warnings...)

	outputs := res.Tree.Outputs()
	b.targets = make(map[string]string, len(outputs)+len(b.assets))
	owner := make(map[string]string, len(outputs)+len(b.assets))
	for src, out := range outputs {
		b.targets[src] = out
		owner[out] = src
	}
	for _, a := range b.assets {
		if page, clash := owner[a.Output]; clash {
			return ferrors.NavigationError("an asset and a page resolve to the same output path").
				Fatal().
				WithContext("output", a.Output).
				WithContext("page", page).
				WithContext("asset", a.Source).
				Build()
		}
		b.targets[a.Source] = a.Output
		owner[a.Output] = a.Source
	}
	return nil
}

func (b *buildRun) lastModified(e scan.Entry, s *sourceEntry) time.Time {
	if !s.doc.Meta.LastMod.IsZero() {
		return s.doc.Meta.LastMod
	}
	if b.o.lastMod != nil {
		if when, ok := b.o.lastMod.LastModified(e.Path); ok {
			return when
		}
	}
	return e.ModTime
}

func (b *buildRun) render(ctx context.Context) error {
	o := b.o
	b.pages = make([]*site.Page, len(b.inv.Pages))
	results := make([]*markdown.Result, len(b.inv.Pages))
	var jobs []int

	for i, e := range b.inv.Pages {
		s := b.sources[e.Path]
		p := &site.Page{
			Source:       e.Path,
			Title:        s.title,
			Meta:         s.doc.Meta,
			Body:         s.doc.Body,
			Hash:         s.doc.Fingerprint,
			Output:       b.targets[e.Path],
			LastModified: b.lastModified(e, s),
		}
		b.pages[i] = p
		if c, ok := o.renders[p.Source]; ok && !b.full &&
			c.hash == p.Hash && c.output == p.Output && c.result.Valid(b.targets) {
			results[i] = c.result
			b.rep.CacheHits.Render++
			continue
		}
		jobs = append(jobs, i)
	}

	out := runOrdered(ctx, jobs, o.workers, func(i int) (*markdown.Result, error) {
		if o.superseded(b.gen) {
			return nil, ErrSuperseded
		}
		p := b.pages[i]
		return o.renderer.Render(p.Body, markdown.ResolveContext{
			Source:  p.Source,
			Output:  p.Output,
			Targets: b.targets,
		})
	})
	for k, r := range out {
		i := jobs[k]
		if r.Err != nil {
			if errors.Is(r.Err, ErrSuperseded) || ctx.Err() != nil {
				return r.Err
			}
			return ferrors.WrapError(r.Err, ferrors.CategoryRender, "render page").
				Fatal().
				WithContext("page", b.pages[i].Source).
				Build()
		}
		results[i] = r.Value
		b.rep.Rendered = append(b.rep.Rendered, b.pages[i].Source)
	}

	b.renders = make(map[string]*renderEntry, len(b.pages))
	var broken []string
	for i, p := range b.pages {
		r := results[i]
		p.HTML = r.HTML
		p.Headings = r.Headings
		b.rep.Warnings = append(b.rep.Warnings, r.Warnings...)
		for _, w := range r.Warnings {
			if w.Kind == site.WarningBrokenLink {
				broken = append(broken, w.Source+" -> "+w.Target)
			}
		}
		b.renders[p.Source] = &renderEntry{hash: p.Hash, output: p.Output, result: r}
	}

	if o.cfg.StrictLinks && len(broken) > 0 {
		return ferrors.LinkError("broken internal links").
			Fatal().
			UserAction().
			WithContext("count", len(broken)).
			WithContext("links", strings.Join(broken, ", ")).
			Build()
	}
	return nil
}

func (b *buildRun) compose(ctx context.Context) error {
	o := b.o
	cfg := o.cfg
	b.composed = make(map[string]*composeEntry, len(b.pages))
	inputs := make([]compose.Input, len(b.pages))
	keys := make([]uint64, len(b.pages))
	var jobs []int

	for i, p := range b.pages {
		inputs[i] = compose.Input{
			Page:            p.Source,
			Output:          p.Output,
			Title:           p.Title,
			Description:     p.Meta.Description,
			Content:         p.HTML,
			Headings:        p.Headings,
			LastModified:    p.LastModified,
			Tree:            b.navRes.Tree,
			SiteTitle:       cfg.Site.Title,
			SiteDescription: cfg.Site.Description,
		}
		keys[i] = o.compositor.Key(inputs[i])
		if c, ok := o.composed[p.Source]; ok && !b.full && c.key == keys[i] {
			p.Document = c.doc
			b.composed[p.Source] = c
			b.rep.CacheHits.Compose++
			continue
		}
		jobs = append(jobs, i)
	}

	out := runOrdered(ctx, jobs, o.workers, func(i int) ([]byte, error) {
		if o.superseded(b.gen) {
			return nil, ErrSuperseded
		}
		return o.compositor.Compose(inputs[i])
	})
	for k, r := range out {
		i := jobs[k]
		if r.Err != nil {
			return r.Err
		}
		p := b.pages[i]
		p.Document = r.Value
		b.composed[p.Source] = &composeEntry{key: keys[i], doc: r.Value}
		b.rep.Recomposed = append(b.rep.Recomposed, p.Source)
	}
	return nil
}

func (b *buildRun) write(ctx context.Context) error {
	stage, _ := stagingDirs(b.o.outputDir)
	if err := writeStage(ctx, stage, b.pages, b.assets); err != nil {
		abortStage(stage)
		return err
	}
	if b.o.superseded(b.gen) {
		abortStage(stage)
		return ErrSuperseded
	}
	if err := promoteStage(stage, b.o.outputDir); err != nil {
		abortStage(stage)
		return err
	}
	return nil
}

// commit publishes the build: caches, inventory and the new snapshot.
func (b *buildRun) commit() {
	o := b.o
	o.inventory = b.inv
	o.sources = b.sources
	o.renders = b.renders
	o.composed = b.composed

	assets := make([]site.Asset, len(b.assets))
	for i, a := range b.assets {
		assets[i] = a.Asset
	}
	idx := newSiteIndex(b.gen, b.rep.BuildID, o.outputDir, b.pages, assets, b.navRes.Tree)
	b.rep.ContentHash = idx.ContentHash
	o.snapshot.Store(idx)
	o.published.Store(uint64(b.gen))
}
