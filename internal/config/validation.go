package config

import (
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gobwas/glob"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
)

// Validate checks field constraints after normalization and defaults.
func (c *Config) Validate() error {
	err := validation.ValidateStruct(c,
		validation.Field(&c.RootDir, validation.Required),
		validation.Field(&c.OutputDir, validation.Required, validation.By(func(value any) error {
			out, _ := value.(string)
			if c.RootDir == "" {
				return nil
			}
			if reason := outputConflict(c.RootDir, out); reason != "" {
				return validation.NewError("docserve.config.output_dir.placement", reason)
			}
			return nil
		})),
		validation.Field(&c.OrphanPolicy, validation.Required, validation.In(OrphanAutoInclude, OrphanWarn, OrphanFail)),
		validation.Field(&c.DebounceMS, validation.Min(0)),
		validation.Field(&c.ServeAddr, validation.Required),
		validation.Field(&c.NavFile, validation.Required, validation.By(func(value any) error {
			name, _ := value.(string)
			if strings.ContainsAny(name, `/\`) {
				return validation.NewError("docserve.config.nav_file.base_name", "must be a file name inside root_dir")
			}
			return nil
		})),
		validation.Field(&c.IgnorePatterns, validation.Each(validation.By(func(value any) error {
			pattern, _ := value.(string)
			if _, err := glob.Compile(pattern, '/'); err != nil {
				return validation.NewError("docserve.config.ignore_patterns.invalid", "invalid glob: "+err.Error())
			}
			return nil
		}))),
		validation.Field(&c.RebuildEvery, validation.Min(0)),
	)
	if err != nil {
		return ferrors.WrapError(err, ferrors.CategoryValidation, "invalid configuration").Fatal().UserAction().Build()
	}
	return nil
}
