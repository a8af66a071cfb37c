package devserver

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/docserve/internal/build"
	"git.home.luguber.info/inful/docserve/internal/config"
	"git.home.luguber.info/inful/docserve/internal/history"
	"git.home.luguber.info/inful/docserve/internal/metrics"
	"git.home.luguber.info/inful/docserve/internal/testutil"
)

func siteConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	testutil.WriteFile(t, root, "index.md", "# Home\n\nhello world\n")
	testutil.WriteFile(t, root, "guide/intro.md", "# Intro\n\nSee [home](../index.md).\n")
	testutil.WriteFile(t, root, "img/logo.png", "png-bytes")

	cfg := config.Default()
	cfg.RootDir = root
	cfg.OutputDir = filepath.Join(t.TempDir(), "site")
	cfg.Workers = 2
	return cfg
}

func newOrchestrator(t *testing.T, cfg *config.Config, opts ...build.Option) *build.Orchestrator {
	t.Helper()
	o, err := build.New(cfg, opts...)
	require.NoError(t, err)
	return o
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHandler_ServesSnapshot(t *testing.T) {
	cfg := siteConfig(t)
	o := newOrchestrator(t, cfg)
	_, err := o.Clean(t.Context())
	require.NoError(t, err)

	s, err := New(cfg, o)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "hello world")
	require.Contains(t, body, `<script src="/livereload.js"></script>`)
	require.NotContains(t, body, "docserve-error-banner")

	onDisk, err := os.ReadFile(filepath.Join(o.OutputDir(), "index.html"))
	require.NoError(t, err)
	require.NotContains(t, string(onDisk), "livereload", "published output stays free of serve-time markup")

	resp, _ = get(t, ts.URL+"/guide/intro")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/guide/intro/", resp.Header.Get("Location"))

	resp, body = get(t, ts.URL+"/guide/intro/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `href="../../index.html"`)

	resp, body = get(t, ts.URL+"/img/logo.png")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "png-bytes", body)

	resp, _ = get(t, ts.URL+"/missing/")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = get(t, ts.URL+"/livereload.js")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "EventSource('/livereload')")
}

func TestHandler_LiveReloadDisabled(t *testing.T) {
	cfg := siteConfig(t)
	off := false
	cfg.LiveReload = &off
	o := newOrchestrator(t, cfg)
	_, err := o.Clean(t.Context())
	require.NoError(t, err)

	s, err := New(cfg, o)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	_, body := get(t, ts.URL+"/")
	require.NotContains(t, body, "livereload.js")
	resp, _ := get(t, ts.URL+"/livereload.js")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_FailedRebuildKeepsLastGoodBuild(t *testing.T) {
	cfg := siteConfig(t)
	o := newOrchestrator(t, cfg)
	_, err := o.Clean(t.Context())
	require.NoError(t, err)

	testutil.WriteFile(t, cfg.RootDir, "nav.yaml", "- index\n- nowhere.md\n")
	_, err = o.Clean(t.Context())
	require.Error(t, err)

	s, err := New(cfg, o)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "hello world")
	require.Contains(t, body, "docserve-error-banner")
	require.Contains(t, body, `href="/_docserve/errors"`)

	resp, body = get(t, ts.URL+"/_docserve/errors")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "Build failed")
	require.Contains(t, body, "nowhere.md")
	require.Contains(t, body, "The last good build is still being served")
}

func TestHandler_ErrorPageBeforeFirstGoodBuild(t *testing.T) {
	cfg := siteConfig(t)
	testutil.WriteFile(t, cfg.RootDir, "nav.yaml", "- index\n- nowhere.md\n")
	o := newOrchestrator(t, cfg)
	_, err := o.Clean(t.Context())
	require.Error(t, err)

	s, err := New(cfg, o)
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	for _, p := range []string{"/", "/guide/intro/", "/anything"} {
		resp, body := get(t, ts.URL+p)
		require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, p)
		require.Contains(t, body, "Build failed", p)
		require.Contains(t, body, "nowhere.md", p)
	}
	resp, _ := get(t, ts.URL+"/img/logo.png")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_StatusRebuildAndHistory(t *testing.T) {
	cfg := siteConfig(t)
	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	o := newOrchestrator(t, cfg, build.WithSink(store))
	s, err := New(cfg, o, WithHistory(store))
	require.NoError(t, err)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/_docserve/rebuild", "application/json", nil)
	require.NoError(t, err)
	var rep build.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rep))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, build.OutcomeSuccess, rep.Outcome)
	require.Equal(t, build.ModeClean, rep.Mode)

	resp, body := get(t, ts.URL+"/_docserve/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var status statusResponse
	require.NoError(t, json.Unmarshal([]byte(body), &status))
	require.Equal(t, "idle", status.State)
	require.Equal(t, uint64(rep.Generation), status.Generation)
	require.Equal(t, rep.BuildID, status.BuildID)
	require.Len(t, status.History, 1)
	require.Equal(t, rep.BuildID, status.History[0].BuildID)

	resp, _ = get(t, ts.URL+"/_docserve/rebuild")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandler_MetricsAndHealth(t *testing.T) {
	cfg := siteConfig(t)
	reg := prometheus.NewRegistry()
	rec := metrics.NewPrometheusRecorder(reg)
	o := newOrchestrator(t, cfg, build.WithRecorder(rec))
	s, err := New(cfg, o, WithRecorder(rec), WithMetricsHandler(metrics.HTTPHandler(reg)))
	require.NoError(t, err)
	_, err = s.rebuild(t.Context(), true, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	resp, body := get(t, ts.URL+"/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "docserve_livereload_broadcasts_total 1")
	require.Contains(t, body, "docserve_pages_rendered_total 2")

	resp, body = get(t, ts.URL+"/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"status":"ok"}`, body)
}

func TestHub_ReloadAndFailedEvents(t *testing.T) {
	rec := &countingRecorder{}
	hub := NewHub(rec)
	defer hub.Shutdown()
	ts := httptest.NewServer(hub)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	readUntil := func(want string) {
		t.Helper()
		for {
			line, err := reader.ReadString('\n')
			require.NoError(t, err)
			if strings.TrimSpace(line) == want {
				return
			}
		}
	}
	readUntil("data: 0")
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), rec.clients.Load())

	hub.Reload("3")
	hub.Reload("3")
	readUntil("data: 3")
	hub.Failed("build-x")
	readUntil("event: failed")
	readUntil("data: build-x")
	require.Equal(t, int32(1), rec.reloads.Load())

	hub.Reload("3")
	readUntil("data: 3")
	require.Equal(t, int32(2), rec.reloads.Load(), "recovery after a failure reloads with the same token")

	cancel()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)
}

func TestInject(t *testing.T) {
	doc := []byte("<html><body><p>x</p></BODY></html>")
	require.Equal(t,
		`<html><body><p>x</p><script src="/livereload.js"></script></BODY></html>`,
		string(inject(doc, true, false)))
	require.Equal(t, "<html><body><p>x</p></BODY></html>", string(doc))

	out := string(inject([]byte("<p>fragment</p>"), true, true))
	require.True(t, strings.HasPrefix(out, "<p>fragment</p><div id=\"docserve-error-banner\""))
	require.True(t, strings.HasSuffix(out, scriptTagString))

	require.Equal(t, doc, inject(doc, false, false))
}

const scriptTagString = `<script src="/livereload.js"></script>`

func TestOutputPath(t *testing.T) {
	for in, want := range map[string]string{
		"/":            "index.html",
		"/guide/":      "guide/index.html",
		"/guide/a.png": "guide/a.png",
		"/a/../b/":     "b/index.html",
		"/guide/intro": "guide/intro",
	} {
		got, ok := outputPath(in)
		require.True(t, ok, in)
		require.Equal(t, want, got, in)
	}
	_, ok := outputPath("/../etc/passwd")
	require.False(t, ok)
}
