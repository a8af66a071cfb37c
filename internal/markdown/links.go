package markdown

import (
	"net/url"
	"path"
	"strings"

	"git.home.luguber.info/inful/docserve/internal/site"
)

type linkStatus int

const (
	linkExternal linkStatus = iota
	linkResolved
	linkBroken
)

// resolveLink maps a source-relative destination to an output-relative href.
// External destinations and same-page anchors are returned unchanged with
// linkExternal. Every lookup key consulted is recorded in lookups.
func resolveLink(dest string, rc ResolveContext, lookups map[string]string) (string, linkStatus) {
	dest = strings.TrimSpace(dest)
	if dest == "" || strings.HasPrefix(dest, "#") || strings.HasPrefix(dest, "?") {
		return dest, linkExternal
	}
	if IsExternal(dest) {
		return dest, linkExternal
	}

	rawPath, suffix := splitSuffix(dest)
	decoded, err := url.PathUnescape(rawPath)
	if err != nil {
		decoded = rawPath
	}

	var target string
	if strings.HasPrefix(decoded, "/") {
		target = path.Clean(strings.TrimPrefix(decoded, "/"))
	} else {
		target = path.Join(path.Dir(rc.Source), decoded)
	}
	if target == ".." || strings.HasPrefix(target, "../") {
		return dest, linkBroken
	}

	for _, key := range candidates(target, strings.HasSuffix(decoded, "/")) {
		out, ok := rc.Targets[key]
		lookups[key] = out
		if ok {
			return site.RelURL(rc.Output, out) + suffix, linkResolved
		}
	}
	return dest, linkBroken
}

// candidates lists the source paths a link target may refer to, most specific first.
func candidates(target string, dirOnly bool) []string {
	if target == "." {
		return []string{"index.md", "README.md"}
	}
	if dirOnly {
		return []string{target + "/index.md", target + "/README.md"}
	}
	if path.Ext(target) != "" {
		return []string{target}
	}
	return []string{target, target + ".md", target + "/index.md", target + "/README.md"}
}

// splitSuffix separates "?query#fragment" from the path part of a destination.
func splitSuffix(dest string) (string, string) {
	if i := strings.IndexAny(dest, "?#"); i >= 0 {
		return dest[:i], dest[i:]
	}
	return dest, ""
}

// IsExternal reports whether dest carries a scheme or host and must be passed through.
func IsExternal(dest string) bool {
	if strings.HasPrefix(dest, "//") {
		return true
	}
	u, err := url.Parse(dest)
	if err != nil {
		// Unparseable destinations are never rewritten.
		return true
	}
	return u.Scheme != "" || u.Host != ""
}
