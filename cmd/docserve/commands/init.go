package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/docserve/internal/config"
	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
)

const starterIndex = `# Welcome

This site is built by docserve. Edit this page and save it; the browser
reloads with the change.

- [Getting started](getting-started.md)
`

const starterGuide = `---
title: Getting started
---

# Getting started

Add markdown files next to this one and list them in ` + "`nav.yaml`" + `.
`

const starterNav = `- index.md
- getting-started.md
`

// InitCmd implements the 'init' command.
type InitCmd struct {
	Force bool `help:"Overwrite existing files"`
}

func (i *InitCmd) Run(g *Global, root *CLI) error {
	out := g.out()
	_, _ = fmt.Fprintf(out, "Writing configuration to %s\n", root.Config)
	if err := config.Init(root.Config, i.Force); err != nil {
		return err
	}

	cfg := config.Default()
	files := []struct{ name, content string }{
		{"index.md", starterIndex},
		{"getting-started.md", starterGuide},
		{cfg.NavFile, starterNav},
	}
	dir := cfg.RootDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create content directory").
			WithContext("path", dir).
			Build()
	}
	for _, f := range files {
		p := filepath.Join(dir, f.name)
		if _, err := os.Stat(p); err == nil && !i.Force {
			_, _ = fmt.Fprintf(out, "Keeping existing %s\n", p)
			continue
		} else if err != nil && !errors.Is(err, os.ErrNotExist) {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "stat starter file").
				WithContext("path", p).
				Build()
		}
		if err := os.WriteFile(p, []byte(f.content), 0o644); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write starter file").
				WithContext("path", p).
				Build()
		}
		_, _ = fmt.Fprintf(out, "Wrote %s\n", p)
	}
	_, _ = fmt.Fprintln(out, "Initialized successfully")
	return nil
}
