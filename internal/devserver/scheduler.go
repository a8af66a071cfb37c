package devserver

import (
	"context"
	"log/slog"

	"github.com/go-co-op/gocron/v2"

	ferrors "git.home.luguber.info/inful/docserve/internal/foundation/errors"
	"git.home.luguber.info/inful/docserve/internal/logfields"
)

// startScheduler schedules the periodic clean rebuild. It returns nil when
// rebuild_interval is not set.
func (s *Server) startScheduler(ctx context.Context) (gocron.Scheduler, error) {
	every := s.cfg.RebuildEvery
	if every <= 0 {
		return nil, nil
	}
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, ferrors.WrapError(err, ferrors.CategoryRuntime, "create scheduler").Build()
	}
	_, err = sched.NewJob(
		gocron.DurationJob(every),
		gocron.NewTask(func() {
			slog.Info("Scheduled clean rebuild")
			if _, err := s.rebuild(ctx, true, nil); err != nil {
				slog.Warn("Scheduled rebuild did not publish", logfields.Error(err))
			}
		}),
		gocron.WithName("periodic-clean-rebuild"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = sched.Shutdown()
		return nil, ferrors.WrapError(err, ferrors.CategoryConfig, "schedule periodic rebuild").
			WithContext("interval", every.String()).
			Build()
	}
	sched.Start()
	slog.Info("Periodic clean rebuild enabled", logfields.Duration(every))
	return sched, nil
}
