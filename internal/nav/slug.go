package nav

import (
	"path"
	"strings"

	"github.com/goliatone/go-slug"
)

// Slugify turns a title or file name into a URL path segment.
func Slugify(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if s, err := slug.Normalize(strings.ToLower(value)); err == nil && s != "" {
		return s
	}
	fallback := strings.ToLower(strings.Join(strings.Fields(value), "-"))
	return strings.Trim(strings.ReplaceAll(fallback, "/", "-"), "-")
}

// pageSlug returns the path segment a page contributes. Front-matter slugs
// win; index pages take the name of their directory, and the root index
// contributes nothing.
func pageSlug(source, metaSlug string) string {
	if metaSlug != "" {
		return Slugify(metaSlug)
	}
	stem := strings.TrimSuffix(path.Base(source), path.Ext(source))
	if strings.EqualFold(stem, "index") {
		dir := path.Dir(source)
		if dir == "." {
			return ""
		}
		return Slugify(path.Base(dir))
	}
	return Slugify(stem)
}

// mirroredOutput places a page outside the tree at its source location.
func mirroredOutput(source, metaSlug string) string {
	var dir []string
	if d := path.Dir(source); d != "." {
		for _, seg := range strings.Split(d, "/") {
			dir = append(dir, Slugify(seg))
		}
	}
	stem := strings.TrimSuffix(path.Base(source), path.Ext(source))
	if metaSlug != "" || !strings.EqualFold(stem, "index") {
		dir = append(dir, pageSlug(source, metaSlug))
	}
	return outputFor(dir)
}

func outputFor(dir []string) string {
	if len(dir) == 0 {
		return "index.html"
	}
	return strings.Join(dir, "/") + "/index.html"
}
