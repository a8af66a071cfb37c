package site

import "strings"

// RelURL returns the relative URL that leads from the document at output path
// from to the file at output path to. Both are slash paths relative to the
// output root.
func RelURL(from, to string) string {
	fromDir := splitPath(from)
	if len(fromDir) > 0 {
		fromDir = fromDir[:len(fromDir)-1]
	}
	toParts := splitPath(to)
	if len(toParts) == 0 {
		return strings.Repeat("../", len(fromDir))
	}

	i := 0
	for i < len(fromDir) && i < len(toParts)-1 && fromDir[i] == toParts[i] {
		i++
	}
	return strings.Repeat("../", len(fromDir)-i) + strings.Join(toParts[i:], "/")
}

func splitPath(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" || p == "." {
		return nil
	}
	return strings.Split(p, "/")
}
