package config

import (
	"fmt"
	"strings"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
)

// OrphanPolicy decides what happens to pages the navigation manifest does not list.
type OrphanPolicy string

const (
	OrphanAutoInclude OrphanPolicy = "auto-include"
	OrphanWarn        OrphanPolicy = "warn"
	OrphanFail        OrphanPolicy = "fail"
)

// NormalizeOrphanPolicy canonicalizes user input; it returns "" for unknown values.
func NormalizeOrphanPolicy(raw string) OrphanPolicy {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.ReplaceAll(v, "_", "-")
	switch v {
	case "auto-include", "autoinclude", "include":
		return OrphanAutoInclude
	case "warn", "warning":
		return OrphanWarn
	case "fail", "error":
		return OrphanFail
	default:
		return ""
	}
}

// NormalizationResult captures adjustments made by Normalize.
type NormalizationResult struct{ Warnings []string }

// Normalize canonicalizes enumerated fields in place before defaults apply.
func Normalize(c *Config) (*NormalizationResult, error) {
	if c == nil {
		return nil, ferrors.InternalError("config nil").Build()
	}
	res := &NormalizationResult{}
	if raw := string(c.OrphanPolicy); raw != "" {
		p := NormalizeOrphanPolicy(raw)
		if p == "" {
			return nil, ferrors.ValidationError(fmt.Sprintf("invalid orphan_policy %q (want auto-include, warn or fail)", raw)).Build()
		}
		if string(p) != raw {
			res.Warnings = append(res.Warnings, fmt.Sprintf("orphan_policy normalized from %q to %q", raw, p))
		}
		c.OrphanPolicy = p
	}
	for i, pattern := range c.IgnorePatterns {
		c.IgnorePatterns[i] = strings.TrimSpace(pattern)
	}
	c.Site.Title = strings.TrimSpace(c.Site.Title)
	return res, nil
}
