// Package daemon provides the long-running local tally service: the shared
// snapshot slot, live event streams, the HTTP session API, chat posting and
// the connect redirect.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/theirongolddev/furnace/internal/connect"
	"github.com/theirongolddev/furnace/internal/dashboard"
	"github.com/theirongolddev/furnace/internal/model"
	"github.com/theirongolddev/furnace/internal/notify"
	"github.com/theirongolddev/furnace/internal/store"
	"github.com/theirongolddev/furnace/internal/tally"
)

const maxBodySize = 1 << 20 // 1 MB

// Config controls the daemon runtime behavior.
type Config struct {
	Addr         string
	EventsBuffer int
	StoreName    string
	// FlowURL returns the external authorization flow URL. It is read per
	// request.
	FlowURL func() string
}

// Deps are the collaborators the service drives.
type Deps struct {
	Store store.SnapshotStore
	// Slack is nil when no bot token/channel is configured.
	Slack *notify.Slack
	// Session seeds the daemon-owned burn session. Publisher and Slot are
	// replaced by the service itself.
	Session dashboard.Options
}

// Status is served at /v1/status.
type Status struct {
	StartedAt       time.Time      `json:"started_at"`
	Addr            string         `json:"addr"`
	Store           string         `json:"store"`
	SaveCount       int64          `json:"save_count"`
	LastSaveAt      time.Time      `json:"last_save_at"`
	LastError       string         `json:"last_error,omitempty"`
	EventCount      int            `json:"event_count"`
	SubscriberCount int            `json:"subscriber_count"`
	SlackEnabled    bool           `json:"slack_enabled"`
	Latest          model.Snapshot `json:"latest"`
}

// Service provides the daemon runtime and HTTP API.
type Service struct {
	cfg        Config
	store      store.SnapshotStore
	slack      *notify.Slack
	controller *dashboard.Controller

	// bus carries every accepted snapshot to the live streams and holds
	// the freshest view of the slot. saver writes the store behind it.
	bus   *tally.Bus
	saver *tally.AsyncPublisher

	mu          sync.RWMutex
	startedAt   time.Time
	saveCount   int64
	lastSaveAt  time.Time
	lastError   string
	nextEventID int64
	events      []tally.Event
}

// New returns a new daemon service with the provided config.
func New(cfg Config, deps Deps) *Service {
	if cfg.EventsBuffer < 1 {
		cfg.EventsBuffer = 200
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8787"
	}
	if cfg.StoreName == "" {
		cfg.StoreName = "memory"
	}
	if cfg.FlowURL == nil {
		cfg.FlowURL = func() string { return "" }
	}
	if deps.Store == nil {
		deps.Store = store.NewSlot()
	}

	s := &Service{
		cfg:       cfg,
		store:     deps.Store,
		slack:     deps.Slack,
		startedAt: time.Now(),
		bus:       tally.NewBus(),
	}
	s.saver = tally.Async(tally.PublisherFunc(s.save))

	opts := deps.Session
	opts.Publisher = tally.NewFanout(tally.PublisherFunc(s.announce), s.saver)
	opts.Slot = s
	if opts.History == nil {
		if h, ok := deps.Store.(store.History); ok {
			opts.History = h
		}
	}
	s.controller = dashboard.New(opts)
	return s
}

// Controller returns the daemon-owned session controller.
func (s *Service) Controller() *dashboard.Controller {
	return s.controller
}

// Handler returns the HTTP API.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/v1/status", s.handleStatus)
	mux.HandleFunc("/v1/events", s.handleEvents)
	mux.HandleFunc("/v1/stream", s.handleStream)
	mux.HandleFunc(tally.StreamPath, s.handleWebSocket)
	mux.HandleFunc("/v1/history", s.handleHistory)

	mux.HandleFunc(tally.SavePath, s.handleSave)
	mux.HandleFunc(tally.LatestPath, s.handleLatest)

	mux.HandleFunc("/api/slack/post", s.handleSlackPost)
	mux.HandleFunc("/api/slack/test", s.handleSlackTest)

	mux.Handle("/api/connect/start", connect.StartHandler(s.cfg.FlowURL))
	mux.Handle("/api/connect/callback", connect.CallbackHandler("/"))

	s.registerSessionRoutes(mux)
	return mux
}

// Run serves the HTTP API until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Seed the event log so /v1/events and new streams start from the slot.
	if snap, err := s.store.Latest(ctx); err == nil {
		s.appendEvent(tally.EventSnapshot, snap)
		_ = s.bus.Publish(ctx, snap)
	} else {
		log.Warn().Err(err).Msg("reading initial snapshot failed")
	}

	log.Info().Str("addr", s.cfg.Addr).Str("store", s.cfg.StoreName).Msg("furnace daemon listening")

	defer func() { _ = s.Close() }()
	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("daemon http server: %w", err)
	}
}

// Close flushes the pending store write of the daemon-owned session.
func (s *Service) Close() error {
	return s.saver.Close()
}

// Publish writes snap to the store and then announces it to streams. It
// serves external saves, which must not land after a failed write.
func (s *Service) Publish(ctx context.Context, snap model.Snapshot) error {
	if err := s.save(ctx, snap); err != nil {
		return err
	}
	return s.announce(ctx, snap)
}

// Latest returns the freshest snapshot: the last one announced, or the
// store's before anything was.
func (s *Service) Latest(ctx context.Context) (model.Snapshot, error) {
	if snap, ok := s.bus.Latest(); ok {
		return snap, nil
	}
	return s.store.Latest(ctx)
}

func (s *Service) save(ctx context.Context, snap model.Snapshot) error {
	err := s.store.Save(ctx, snap.Sanitize())

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.lastError = err.Error()
		log.Warn().Err(err).Str("store", s.cfg.StoreName).Msg("saving snapshot failed")
		return fmt.Errorf("saving snapshot: %w", err)
	}
	s.saveCount++
	s.lastSaveAt = time.Now()
	s.lastError = ""
	return nil
}

func (s *Service) announce(ctx context.Context, snap model.Snapshot) error {
	snap = snap.Sanitize()
	s.appendEvent(tally.EventUpdate, snap)
	return s.bus.Publish(ctx, snap)
}

func (s *Service) appendEvent(typ string, snap model.Snapshot) {
	s.mu.Lock()
	s.nextEventID++
	ev := tally.Event{
		ID:        s.nextEventID,
		Type:      typ,
		Topic:     tally.Topic,
		Timestamp: time.Now(),
		Snapshot:  snap,
	}
	s.mu.Unlock()

	s.publishEvent(ev)
}

// publishEvent appends ev to the bounded event log.
func (s *Service) publishEvent(ev tally.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	if len(s.events) > s.cfg.EventsBuffer {
		s.events = s.events[len(s.events)-s.cfg.EventsBuffer:]
	}
}

// streamEvent wraps a bus snapshot for the SSE and WebSocket feeds.
func (s *Service) streamEvent(typ string, snap model.Snapshot) tally.Event {
	s.mu.RLock()
	id := s.nextEventID
	s.mu.RUnlock()
	return tally.Event{
		ID:        id,
		Type:      typ,
		Topic:     tally.Topic,
		Timestamp: time.Now(),
		Snapshot:  snap,
	}
}

// subscribe opens a bus subscription. When nothing has been announced yet
// the current store snapshot is returned as the opening event.
func (s *Service) subscribe(ctx context.Context) (<-chan model.Snapshot, *tally.Event) {
	_, seeded := s.bus.Latest()
	ch, _ := s.bus.Subscribe(ctx)
	if seeded {
		return ch, nil
	}
	ev := s.currentEvent(ctx)
	return ch, &ev
}

func (s *Service) snapshotStatus(ctx context.Context) Status {
	latest, err := s.Latest(ctx)
	if err != nil {
		latest = model.ZeroSnapshot()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		StartedAt:       s.startedAt,
		Addr:            s.cfg.Addr,
		Store:           s.cfg.StoreName,
		SaveCount:       s.saveCount,
		LastSaveAt:      s.lastSaveAt,
		LastError:       s.lastError,
		EventCount:      len(s.events),
		SubscriberCount: s.bus.SubscriberCount(),
		SlackEnabled:    s.slack != nil,
		Latest:          latest,
	}
	if err != nil {
		st.LastError = err.Error()
	}
	return st
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.snapshotStatus(r.Context()))
}

func (s *Service) handleEvents(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	events := make([]tally.Event, len(s.events))
	copy(events, s.events)
	s.mu.RUnlock()

	writeJSON(w, http.StatusOK, events)
}

func (s *Service) handleHistory(w http.ResponseWriter, r *http.Request) {
	h, ok := s.store.(store.History)
	if !ok {
		writeError(w, http.StatusNotImplemented, "history not supported by store "+s.cfg.StoreName)
		return
	}
	records, err := h.History(r.Context(), 50)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if records == nil {
		records = []store.Record{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Service) currentEvent(ctx context.Context) tally.Event {
	latest, err := s.Latest(ctx)
	if err != nil {
		latest = model.ZeroSnapshot()
	}
	return tally.Event{
		Type:      tally.EventSnapshot,
		Topic:     tally.Topic,
		Timestamp: time.Now(),
		Snapshot:  latest,
	}
}

func (s *Service) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, opening := s.subscribe(r.Context())
	typ := tally.EventSnapshot
	if opening != nil {
		writeSSE(w, *opening)
		flusher.Flush()
		typ = tally.EventUpdate
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, s.streamEvent(typ, snap))
			flusher.Flush()
			typ = tally.EventUpdate
		}
	}
}

func writeSSE(w http.ResponseWriter, ev tally.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\n", ev.Type)
	_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket accept failed")
		return
	}
	defer func() { _ = conn.CloseNow() }()

	// Clients never send; CloseRead cancels ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	ch, opening := s.subscribe(ctx)

	write := func(ev tally.Event) error {
		data, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return conn.Write(wctx, websocket.MessageText, data)
	}

	typ := tally.EventSnapshot
	if opening != nil {
		if err := write(*opening); err != nil {
			return
		}
		typ = tally.EventUpdate
	}
	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "")
			return
		case snap, ok := <-ch:
			if !ok {
				return
			}
			if err := write(s.streamEvent(typ, snap)); err != nil {
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
			typ = tally.EventUpdate
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}
