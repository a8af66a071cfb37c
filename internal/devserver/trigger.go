package devserver

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"git.home.luguber.info/inful/docserve/internal/build"
	"git.home.luguber.info/inful/docserve/internal/logfields"
)

// Notify records changed filesystem paths and restarts the debounce window.
func (s *Server) Notify(paths ...string) {
	s.mu.Lock()
	for _, p := range paths {
		s.paths[p] = struct{}{}
	}
	s.mu.Unlock()
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

// takePaths drains the accumulated paths.
func (s *Server) takePaths() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.paths))
	for p := range s.paths {
		out = append(out, p)
	}
	s.paths = map[string]struct{}{}
	sort.Strings(out)
	return out
}

// debounce waits for a quiet window after the last change, then requests one
// build. A window that closes during a build supersedes it; the pending slot
// holds at most one follow-up.
func (s *Server) debounce(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-s.kick:
			timer.Reset(s.window)
			fire = timer.C
		case <-fire:
			fire = nil
			if s.building.Load() > 0 {
				s.builder.Supersede()
			}
			select {
			case s.ready <- struct{}{}:
			default:
			}
		}
	}
}

// buildLoop runs requested incremental builds one after another.
func (s *Server) buildLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ready:
			_, _ = s.rebuild(ctx, false, s.takePaths())
		}
	}
}

// rebuild runs one build and tells browsers about the result.
func (s *Server) rebuild(ctx context.Context, full bool, paths []string) (*build.Report, error) {
	s.building.Add(1)
	defer s.building.Add(-1)

	var (
		rep *build.Report
		err error
	)
	if full {
		rep, err = s.builder.Clean(ctx)
	} else {
		slog.Info("Change detected; rebuilding", logfields.Count(len(paths)))
		rep, err = s.builder.Incremental(ctx, paths)
	}
	switch {
	case errors.Is(err, build.ErrSuperseded):
		// The follow-up build reports.
	case err != nil:
		slog.Warn("Rebuild failed; serving last good build", logfields.Error(err))
		if rep != nil {
			s.hub.Failed(rep.BuildID)
		}
	case rep != nil:
		s.hub.Reload(reloadToken(rep))
	}
	return rep, err
}

// reloadToken identifies the published content, so a rebuild that changes
// nothing a browser could see does not reload.
func reloadToken(rep *build.Report) string {
	if rep.ContentHash != "" {
		return rep.ContentHash
	}
	return strconv.FormatUint(uint64(rep.Generation), 10)
}
