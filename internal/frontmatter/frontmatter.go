package frontmatter

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/adrg/frontmatter"
)

// ErrMissingClosingDelimiter indicates the document started with a YAML
// frontmatter delimiter but did not contain a closing delimiter.
var ErrMissingClosingDelimiter = errors.New("yaml frontmatter start delimiter found but closing delimiter is missing")

// Meta holds the front-matter keys the build pipeline understands.
type Meta struct {
	Title       string
	Slug        string
	Description string
	Weight      int
	LastMod     time.Time
}

// Document is a parsed markdown source: metadata, body and fingerprint.
type Document struct {
	Fields      map[string]any
	Meta        Meta
	Body        []byte
	Fingerprint string
}

// Parse splits src into front-matter and body. YAML (---), TOML (+++) and
// JSON ({ }) front-matter are accepted; a document without front-matter has
// empty Fields and Body equal to src.
func Parse(src []byte) (*Document, error) {
	if unterminatedYAML(src) {
		return nil, ErrMissingClosingDelimiter
	}

	fields := map[string]any{}
	body, err := frontmatter.Parse(bytes.NewReader(src), &fields)
	if err != nil {
		return nil, fmt.Errorf("parse frontmatter: %w", err)
	}
	if fields == nil {
		fields = map[string]any{}
	}

	fp, err := ComputeFingerprint(fields, body)
	if err != nil {
		return nil, err
	}

	return &Document{
		Fields:      fields,
		Meta:        metaFromFields(fields),
		Body:        body,
		Fingerprint: fp,
	}, nil
}

func metaFromFields(fields map[string]any) Meta {
	m := Meta{
		Title:       stringField(fields, "title"),
		Slug:        stringField(fields, "slug"),
		Description: stringField(fields, "description"),
	}
	switch w := fields["weight"].(type) {
	case int:
		m.Weight = w
	case int64:
		m.Weight = int(w)
	case float64:
		m.Weight = int(w)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(w)); err == nil {
			m.Weight = n
		}
	}
	switch v := fields["lastmod"].(type) {
	case time.Time:
		m.LastMod = v.UTC()
	case string:
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
				m.LastMod = t.UTC()
				break
			}
		}
	}
	return m
}

func stringField(fields map[string]any, key string) string {
	if v, ok := fields[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// unterminatedYAML reports a leading --- line without a matching closing line.
func unterminatedYAML(src []byte) bool {
	nl := "\n"
	if bytes.HasPrefix(src, []byte("---\r\n")) {
		nl = "\r\n"
	} else if !bytes.HasPrefix(src, []byte("---\n")) {
		return false
	}
	rest := src[len("---"+nl):]
	if bytes.HasPrefix(rest, []byte("---")) {
		return false
	}
	return !bytes.Contains(rest, []byte(nl+"---"))
}
