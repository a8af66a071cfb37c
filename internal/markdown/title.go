package markdown

import (
	"bufio"
	"bytes"
	"path"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// FirstHeading returns the text of the first level-one ATX heading outside
// fenced code, or "" when there is none.
func FirstHeading(body []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	fence := ""
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimLeft(line, " ")
		if len(line)-len(trimmed) > 3 {
			continue
		}
		if marker := fenceMarker(trimmed); marker != "" {
			switch {
			case fence == "":
				fence = marker
			case strings.HasPrefix(trimmed, fence) && strings.TrimSpace(strings.TrimLeft(trimmed, fence[:1])) == "":
				fence = ""
			}
			continue
		}
		if fence != "" {
			continue
		}
		if trimmed == "#" {
			return ""
		}
		if strings.HasPrefix(trimmed, "# ") {
			text := strings.TrimSpace(trimmed[2:])
			text = strings.TrimSpace(strings.TrimRight(text, "#"))
			return strings.NewReplacer("`", "", "**", "").Replace(text)
		}
	}
	return ""
}

func fenceMarker(line string) string {
	for _, ch := range []string{"`", "~"} {
		if strings.HasPrefix(line, strings.Repeat(ch, 3)) {
			n := len(line) - len(strings.TrimLeft(line, ch))
			return strings.Repeat(ch, n)
		}
	}
	return ""
}

// TitleFromPath derives a display title from a file or directory name.
func TitleFromPath(p string) string {
	base := path.Base(p)
	base = strings.TrimSuffix(base, path.Ext(base))
	base = strings.NewReplacer("-", " ", "_", " ").Replace(base)
	// Casers are stateful, so each call gets its own.
	return cases.Title(language.English).String(strings.TrimSpace(base))
}

// Title picks a page title: front-matter first, then the first heading, then the file name.
func Title(metaTitle string, body []byte, source string) string {
	if metaTitle != "" {
		return metaTitle
	}
	if h := FirstHeading(body); h != "" {
		return h
	}
	return TitleFromPath(source)
}
