// Package httpapi serves the overlay and admin surface: aggregate snapshots,
// the archived event listing, SSE/WebSocket push, and the autoplay, replay
// and read-flag controls.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/you/bili-companion/internal/announce"
	"github.com/you/bili-companion/internal/core"
	"github.com/you/bili-companion/internal/state"
)

// Store is the archived-event query surface, backed by the sqlite sink.
type Store interface {
	CountEvents(ctx context.Context, filters Filters) (int64, error)
	ListEvents(ctx context.Context, filters Filters) ([]*core.ChatEvent, error)
}

// Aggregate is the live-state surface the API reads and administers.
type Aggregate interface {
	Snapshot() state.Snapshot
	SetAutoplay(on bool)
	Autoplay() bool
	ToggleRead(id string) (read bool, ok bool)
	Unread() []*core.ChatEvent
	Recompute(goal float64)
	EventByID(id string) (*core.ChatEvent, bool)
}

// Playlist is the announcement queue surface for manual play and clearing.
type Playlist interface {
	Enqueue(eventID string, markRead bool)
	Drain() int
	Len() int
}

type push struct {
	name string
	data []byte
}

type Server struct {
	httpServer *http.Server
	store      Store
	agg        Aggregate
	queue      Playlist
	opts       Options
	metrics    *Metrics
	limiter    *ipRateLimiter
	cors       *corsPolicy

	mu      sync.Mutex
	clients map[chan push]struct{}
	closed  bool
}

type Options struct {
	Addr        string
	Build       BuildInfo
	RateRPS     int
	RateBurst   int
	CORSOrigins []string
}

func New(store Store, agg Aggregate, queue Playlist, metrics *Metrics, opts Options) *Server {
	if metrics == nil {
		metrics = NewMetrics()
	}
	srv := &Server{
		store:   store,
		agg:     agg,
		queue:   queue,
		opts:    opts,
		metrics: metrics,
		limiter: newIPRateLimiter(opts.RateRPS, opts.RateBurst),
		cors:    newCORSPolicy(opts.CORSOrigins),
		clients: make(map[chan push]struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.wrap("/healthz", srv.handleHealthz))
	mux.HandleFunc("/info", srv.wrap("/info", srv.handleInfo))
	mux.HandleFunc("/stats", srv.wrap("/stats", srv.handleStats))
	mux.HandleFunc("/events", srv.wrap("/events", srv.handleEvents))
	mux.HandleFunc("/events/count", srv.wrap("/events/count", srv.handleCount))
	mux.HandleFunc("/announcements/unread", srv.wrap("/announcements/unread", srv.handleUnread))
	mux.HandleFunc("/announcements/play", srv.wrap("/announcements/play", srv.handlePlay))
	mux.HandleFunc("/announcements/toggle-read", srv.wrap("/announcements/toggle-read", srv.handleToggleRead))
	mux.HandleFunc("/queue/clear", srv.wrap("/queue/clear", srv.handleQueueClear))
	mux.HandleFunc("/autoplay", srv.wrap("/autoplay", srv.handleAutoplay))
	mux.HandleFunc("/goal", srv.wrap("/goal", srv.handleGoal))
	mux.HandleFunc("/stream", srv.wrap("/stream", srv.handleStream))
	mux.HandleFunc("/ws", srv.wrap("/ws", srv.handleWS))
	mux.Handle("/metrics", metrics.Handler())

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return srv
}

// Metrics exposes the collector bundle so the pipeline can feed the shared
// counters.
func (s *Server) Metrics() *Metrics { return s.metrics }

func (s *Server) wrap(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := newResponseRecorder(w)

		if handled, status := s.cors.handlePreflight(rec, r); handled {
			s.metrics.ObserveRequest(route, r.Method, status, time.Since(start))
			return
		}
		if !s.cors.applyHeaders(rec, r) {
			http.Error(rec, "origin not allowed", http.StatusForbidden)
			s.metrics.ObserveRequest(route, r.Method, http.StatusForbidden, time.Since(start))
			return
		}
		if !s.limiter.Allow(remoteIP(r)) {
			s.metrics.IncRateLimited()
			http.Error(rec, "rate limit exceeded", http.StatusTooManyRequests)
			s.metrics.ObserveRequest(route, r.Method, http.StatusTooManyRequests, time.Since(start))
			return
		}

		if gz, ok := maybeGzip(rec, r); ok {
			h(rec, r)
			_ = gz.Close()
		} else {
			h(rec, r)
		}
		s.metrics.ObserveRequest(route, r.Method, rec.Status(), time.Since(start))
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statsResponse struct {
	state.Snapshot
	QueueDepth int `json:"queue_depth"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Snapshot: s.agg.Snapshot()}
	if s.queue != nil {
		resp.QueueDepth = s.queue.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	rows, err := s.store.ListEvents(r.Context(), filters)
	if err != nil {
		http.Error(w, "list error", http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []*core.ChatEvent{}
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleCount(w http.ResponseWriter, r *http.Request) {
	filters, err := FiltersFromRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	count, err := s.store.CountEvents(r.Context(), filters)
	if err != nil {
		http.Error(w, "count error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": count})
}

func (s *Server) handleUnread(w http.ResponseWriter, _ *http.Request) {
	unread := s.agg.Unread()
	if unread == nil {
		unread = []*core.ChatEvent{}
	}
	writeJSON(w, http.StatusOK, unread)
}

// handlePlay queues a manual replay. Manual plays always mark the event read
// after playback, regardless of the autoplay flag.
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EventID == "" {
		http.Error(w, "event_id required", http.StatusBadRequest)
		return
	}
	if _, ok := s.agg.EventByID(body.EventID); !ok {
		http.Error(w, "unknown event", http.StatusNotFound)
		return
	}
	s.queue.Enqueue(body.EventID, true)
	s.Notify(announce.Notification{Type: announce.NotifyQueued, EventID: body.EventID})
	writeJSON(w, http.StatusOK, map[string]any{"queued": body.EventID})
}

func (s *Server) handleToggleRead(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		EventID string `json:"event_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.EventID == "" {
		http.Error(w, "event_id required", http.StatusBadRequest)
		return
	}
	read, ok := s.agg.ToggleRead(body.EventID)
	if !ok {
		http.Error(w, "unknown event", http.StatusNotFound)
		return
	}
	s.Notify(announce.Notification{Type: announce.NotifyReadChanged, EventID: body.EventID, Read: read})
	writeJSON(w, http.StatusOK, map[string]any{"event_id": body.EventID, "read": read})
}

func (s *Server) handleQueueClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	n := s.queue.Drain()
	s.Notify(announce.Notification{Type: announce.NotifyQueueCleared, Count: n})
	writeJSON(w, http.StatusOK, map[string]any{"cleared": n})
}

func (s *Server) handleAutoplay(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"enabled": s.agg.Autoplay()})
	case http.MethodPost:
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		s.agg.SetAutoplay(body.Enabled)
		writeJSON(w, http.StatusOK, map[string]any{"enabled": body.Enabled})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGoal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Goal float64 `json:"goal"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Goal <= 0 {
		http.Error(w, "goal must be positive", http.StatusBadRequest)
		return
	}
	s.agg.Recompute(body.Goal)
	writeJSON(w, http.StatusOK, s.agg.Snapshot())
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}

	clientCh, ok := s.subscribe()
	if !ok {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.unsubscribe(clientCh)

	s.metrics.IncSSEClients(1)
	defer s.metrics.IncSSEClients(-1)

	fmt.Fprintf(w, ":ok\n\n")
	flusher.Flush()

	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprintf(w, ":ping\n\n")
			flusher.Flush()
		case msg, ok := <-clientCh:
			if !ok {
				return
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", msg.name, msg.data)
			flusher.Flush()
		}
	}
}

func (s *Server) subscribe() (chan push, bool) {
	ch := make(chan push, 256)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, false
	}
	s.clients[ch] = struct{}{}
	return ch, true
}

func (s *Server) unsubscribe(ch chan push) {
	s.mu.Lock()
	delete(s.clients, ch)
	s.mu.Unlock()
}

func (s *Server) broadcast(msg push) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.clients {
		select {
		case ch <- msg:
		default:
			// Slow client: drop rather than stall the pipeline.
			s.metrics.IncBroadcastDrops("push")
		}
	}
}

// BroadcastEvent pushes a freshly archived event to connected overlays.
func (s *Server) BroadcastEvent(ev *core.ChatEvent) {
	data, err := json.Marshal(struct {
		Type  string          `json:"type"`
		Event *core.ChatEvent `json:"event"`
	}{"event", ev})
	if err != nil {
		return
	}
	s.broadcast(push{name: "event", data: data})
}

// Notify implements announce.Notifier: playback lifecycle updates fan out to
// overlay clients on the same channels as events.
func (s *Server) Notify(n announce.Notification) {
	if n.Type == announce.NotifyPlaybackComplete {
		s.metrics.IncPlaybacks()
	}
	data, err := json.Marshal(n)
	if err != nil {
		return
	}
	s.broadcast(push{name: "notice", data: data})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for ch := range s.clients {
		close(ch)
	}
	s.clients = make(map[chan push]struct{})
	s.mu.Unlock()
	return s.httpServer.Shutdown(ctx)
}
