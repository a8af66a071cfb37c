package devserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"git.home.luguber.info/inful/docserve/internal/build"
	"git.home.luguber.info/inful/docserve/internal/history"
	"git.home.luguber.info/inful/docserve/internal/logfields"
)

const (
	errorsPath     = "/_docserve/errors"
	statusPath     = "/_docserve/status"
	rebuildPath    = "/_docserve/rebuild"
	statusLimit    = 10
	maxStatusLimit = 100
)

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	if s.liveReload {
		mux.Handle("GET /livereload", s.hub)
		mux.HandleFunc("GET /livereload.js", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
			w.Header().Set("Cache-Control", "no-cache")
			_, _ = w.Write([]byte(reloadScript))
		})
	}
	mux.HandleFunc("GET "+errorsPath, func(w http.ResponseWriter, _ *http.Request) {
		s.writeErrorPage(w, http.StatusOK)
	})
	mux.HandleFunc("GET "+statusPath, s.handleStatus)
	mux.HandleFunc("POST "+rebuildPath, s.handleRebuild)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil && s.cfg.MetricsEnabled() {
		mux.Handle("GET "+s.cfg.Metrics.Path, s.metrics)
	}
	mux.HandleFunc("/", s.handleSite)
	return chain(mux)
}

// handleSite serves pages from the published snapshot and assets from the
// published output directory.
func (s *Server) handleSite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rel, ok := outputPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	snap := s.builder.Snapshot()
	if snap == nil {
		if isHTMLPath(rel) {
			s.writeErrorPage(w, http.StatusServiceUnavailable)
			return
		}
		http.NotFound(w, r)
		return
	}

	page, asset := snap.Resolve(rel)
	switch {
	case page != nil:
		rep := s.builder.LastReport()
		failed := rep != nil && rep.Outcome == build.OutcomeFailed
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		doc := inject(page.Document, s.liveReload, failed)
		w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
		if r.Method == http.MethodHead {
			return
		}
		_, _ = w.Write(doc)
	case asset != nil:
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filepath.Join(snap.OutputDir, filepath.FromSlash(asset.Output)))
	default:
		if !strings.HasSuffix(r.URL.Path, "/") {
			if p, _ := snap.Resolve(path.Join(rel, "index.html")); p != nil {
				http.Redirect(w, r, r.URL.Path+"/", http.StatusFound)
				return
			}
		}
		http.NotFound(w, r)
	}
}

// outputPath maps a request path to a slash path relative to the output root.
func outputPath(urlPath string) (string, bool) {
	rel := strings.TrimPrefix(urlPath, "/")
	if rel == "" || strings.HasSuffix(rel, "/") {
		rel += "index.html"
	}
	rel = path.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, "../") || strings.HasPrefix(rel, "/") {
		return "", false
	}
	return rel, true
}

// isHTMLPath reports whether a request most likely wants a page.
func isHTMLPath(rel string) bool {
	ext := path.Ext(rel)
	return ext == "" || ext == ".html" || ext == ".htm"
}

type statusResponse struct {
	State      string           `json:"state"`
	Generation uint64           `json:"generation"`
	BuildID    string           `json:"build_id,omitempty"`
	Uptime     float64          `json:"uptime"`
	Clients    int              `json:"livereload_clients"`
	LastBuild  *build.Report    `json:"last_build,omitempty"`
	History    []history.Record `json:"history,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		State:      s.builder.State().String(),
		Generation: uint64(s.builder.Generation()),
		Uptime:     time.Since(s.started).Seconds(),
		Clients:    s.hub.Clients(),
		LastBuild:  s.builder.LastReport(),
	}
	if snap := s.builder.Snapshot(); snap != nil {
		resp.BuildID = snap.BuildID
	}
	if s.history != nil {
		limit := statusLimit
		if v, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && v > 0 && v <= maxStatusLimit {
			limit = v
		}
		recs, err := s.history.Recent(r.Context(), limit)
		if err != nil {
			slog.Warn("Failed to read build history", logfields.Error(err))
		}
		resp.History = recs
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRebuild runs a clean build behind the build mutex and returns its report.
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	rep, err := s.rebuild(r.Context(), true, nil)
	status := http.StatusOK
	switch {
	case errors.Is(err, build.ErrSuperseded):
		status = http.StatusConflict
	case err != nil:
		status = http.StatusInternalServerError
	}
	if rep == nil {
		http.Error(w, "build did not run", http.StatusInternalServerError)
		return
	}
	writeJSON(w, status, rep)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		slog.Debug("Failed to write JSON response", logfields.Error(err))
	}
}
