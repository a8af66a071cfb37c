// Package metrics records build and dev server metrics.
//
// Components receive a Recorder and default to NoopRecorder, so metrics stay
// optional without nil checks at call sites:
//
//	reg := prometheus.NewRegistry()
//	orch, err := build.New(cfg, build.WithRecorder(metrics.NewPrometheusRecorder(reg)))
//
// HTTPHandler exposes a registry for scraping.
package metrics
