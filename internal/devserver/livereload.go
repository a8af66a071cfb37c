package devserver

import (
	"bufio"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"git.home.luguber.info/inful/docserve/internal/logfields"
	"git.home.luguber.info/inful/docserve/internal/metrics"
)

const heartbeatInterval = 30 * time.Second

// event is one server-sent event. An empty name is the default "message" event.
type event struct {
	name string
	data string
}

// Hub manages SSE clients of the /livereload endpoint.
type Hub struct {
	mu       sync.Mutex
	nextID   int
	clients  map[int]*lrClient
	recorder metrics.Recorder
	closed   bool
	last     string
}

type lrClient struct {
	id   int
	ch   chan event
	done chan struct{}
}

// NewHub creates an empty hub.
func NewHub(rec metrics.Recorder) *Hub {
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Hub{clients: map[int]*lrClient{}, recorder: rec}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// ServeHTTP implements the SSE endpoint. A new client first receives the
// current generation so it only reloads on a later one.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	client := &lrClient{ch: make(chan event, 8), done: make(chan struct{})}
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "livereload shutting down", http.StatusServiceUnavailable)
		return
	}
	client.id = h.nextID
	h.nextID++
	h.clients[client.id] = client
	current := h.last
	count := len(h.clients)
	h.mu.Unlock()
	h.recorder.SetReloadClients(count)
	defer h.removeClient(client.id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	bw := bufio.NewWriter(w)
	write := func(s string) bool {
		if _, err := bw.WriteString(s); err != nil {
			slog.Debug("livereload write", logfields.Error(err))
			return false
		}
		if err := bw.Flush(); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if current == "" {
		current = "0"
	}
	if !write(": connected\n\n" + formatEvent(event{data: current})) {
		return
	}

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.done:
			return
		case <-hb.C:
			if !write(": ping\n\n") {
				return
			}
		case ev := <-client.ch:
			if !write(formatEvent(ev)) {
				return
			}
		}
	}
}

func formatEvent(ev event) string {
	s := ""
	if ev.name != "" {
		s = "event: " + ev.name + "\n"
	}
	return s + "data: " + ev.data + "\n\n"
}

func (h *Hub) removeClient(id int) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
		close(c.done)
	}
	count := len(h.clients)
	h.mu.Unlock()
	if ok {
		h.recorder.SetReloadClients(count)
	}
}

// Reload tells every client to reload for content token. Repeating the
// current token is a no-op unless a build failed in between.
func (h *Hub) Reload(token string) {
	h.mu.Lock()
	if h.closed || token == "" || token == h.last {
		h.mu.Unlock()
		return
	}
	h.last = token
	h.mu.Unlock()

	dropped := h.send(event{data: token})
	h.recorder.IncReloadBroadcast()
	slog.Debug("livereload broadcast", slog.String("token", token), logfields.Count(dropped))
}

// Failed tells clients the latest build failed so they can show the error
// banner. The next Reload is broadcast even if its token is unchanged, which
// clears the banner.
func (h *Hub) Failed(buildID string) {
	h.mu.Lock()
	h.last = ""
	h.mu.Unlock()
	h.send(event{name: "failed", data: buildID})
}

// send delivers ev to every client, dropping clients whose buffers are full.
func (h *Hub) send(ev event) int {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return 0
	}
	snapshot := make([]*lrClient, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.Unlock()

	dropped := 0
	for _, c := range snapshot {
		select {
		case c.ch <- ev:
		default:
			dropped++
			h.removeClient(c.id)
		}
	}
	return dropped
}

// Shutdown closes all clients and prevents future broadcasts.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	clients := h.clients
	h.clients = map[int]*lrClient{}
	h.mu.Unlock()
	for _, c := range clients {
		close(c.done)
	}
	h.recorder.SetReloadClients(0)
}

// reloadScript is served at /livereload.js.
const reloadScript = `(() => {
  if (window.__DOCSERVE_LR__) return;
  window.__DOCSERVE_LR__ = true;
  function banner(id) {
    if (document.getElementById('docserve-error-banner')) return;
    const el = document.createElement('div');
    el.id = 'docserve-error-banner';
    el.style.cssText = 'position:fixed;top:0;left:0;right:0;z-index:9999;padding:.5rem 1rem;background:#b00020;color:#fff;font:14px sans-serif';
    el.innerHTML = 'Latest build failed. <a style="color:#fff;text-decoration:underline" href="/_docserve/errors">Show errors</a>';
    document.body.prepend(el);
  }
  function connect() {
    const es = new EventSource('/livereload');
    let current = null;
    let failed = false;
    es.onmessage = (e) => {
      if (current === null) { current = e.data; return; }
      if (failed || e.data !== current) { console.log('[docserve] site rebuilt, reloading'); location.reload(); }
    };
    es.addEventListener('failed', (e) => { failed = true; banner(e.data); });
    es.onerror = () => { es.close(); setTimeout(connect, 2000); };
  }
  connect();
})();
`
