package build

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"git.home.luguber.info/inful/docserve/internal/config"
	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/logfields"
	"git.home.luguber.info/inful/docserve/internal/site"
)

// stagingDirs returns the sibling directories used while publishing output.
func stagingDirs(outputDir string) (stage, prev string) {
	return outputDir + config.StagingSuffix, outputDir + config.BackupSuffix
}

// assetFile is an asset plus the absolute path it is copied from.
type assetFile struct {
	site.Asset
	abs string
}

// writeStage materializes a complete site in a fresh staging directory.
func writeStage(ctx context.Context, stage string, pages []*site.Page, assets []assetFile) error {
	if err := os.RemoveAll(stage); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "clear staging directory").
			Fatal().
			WithContext("staging", stage).
			Build()
	}
	if err := os.MkdirAll(stage, 0o755); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "create staging directory").
			Fatal().
			WithContext("staging", stage).
			Build()
	}

	for _, p := range pages {
		if err := ctx.Err(); err != nil {
			return err
		}
		dst := filepath.Join(stage, filepath.FromSlash(p.Output))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return writeError(err, p.Output)
		}
		if err := os.WriteFile(dst, p.Document, 0o644); err != nil {
			return writeError(err, p.Output)
		}
	}
	for _, a := range assets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := copyFile(a.abs, filepath.Join(stage, filepath.FromSlash(a.Output))); err != nil {
			return writeError(err, a.Output)
		}
	}
	return nil
}

func writeError(err error, output string) error {
	return ferrors.WrapError(err, ferrors.CategoryFileSystem, "write output file").
		Fatal().
		WithContext("output", output).
		Build()
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(filepath.Clean(src))
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.OpenFile(filepath.Clean(dst), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// promoteStage swaps the staging directory into place:
//  1. Remove a leftover outputDir.prev.
//  2. Move the existing outputDir (if any) to outputDir.prev.
//  3. Rename staging -> outputDir, restoring the backup if that fails.
//  4. Remove the backup.
func promoteStage(stage, outputDir string) error {
	_, prev := stagingDirs(outputDir)
	if err := os.RemoveAll(prev); err != nil {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "remove previous backup").
			Fatal().
			WithContext("path", prev).
			Build()
	}

	hadOutput := false
	if _, err := os.Stat(outputDir); err == nil {
		if err := os.Rename(outputDir, prev); err != nil {
			return ferrors.WrapError(err, ferrors.CategoryFileSystem, "backup existing output").
				Fatal().
				WithContext("output", outputDir).
				Build()
		}
		hadOutput = true
	} else if !errors.Is(err, fs.ErrNotExist) {
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "stat output directory").Fatal().Build()
	}

	if err := os.Rename(stage, outputDir); err != nil {
		if hadOutput {
			if restoreErr := os.Rename(prev, outputDir); restoreErr != nil {
				slog.Error("Failed to restore previous output", logfields.Path(outputDir), logfields.Error(restoreErr))
			}
		}
		return ferrors.WrapError(err, ferrors.CategoryFileSystem, "promote staging").
			Fatal().
			WithContext("staging", stage).
			Build()
	}

	if hadOutput {
		if err := os.RemoveAll(prev); err != nil {
			slog.Warn("Failed to remove previous backup", logfields.Path(prev), logfields.Error(err))
		}
	}
	slog.Debug("Promoted staging directory", logfields.Path(outputDir))
	return nil
}

// abortStage removes a staging directory after a failed write.
func abortStage(stage string) {
	if err := os.RemoveAll(stage); err != nil {
		slog.Warn("Failed to remove staging directory after abort", logfields.Path(stage), logfields.Error(err))
	}
}
