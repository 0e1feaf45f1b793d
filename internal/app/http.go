package app

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/livevoice/internal/observe"
	"github.com/MrWong99/livevoice/internal/voice"
	"github.com/MrWong99/livevoice/pkg/archive"
)

const (
	// startTimeout bounds opening the devices and the channel.
	startTimeout = 30 * time.Second

	// stopTimeout bounds releasing a session on request.
	stopTimeout = 10 * time.Second

	// eventWriteTimeout bounds one websocket write to a subscriber.
	eventWriteTimeout = 5 * time.Second
)

// errorBody is the JSON response for failed requests.
type errorBody struct {
	Error   string       `json:"error"`
	Session *SessionInfo `json:"session,omitempty"`
}

// Handler returns the HTTP API wrapped in the observability middleware.
//
// Routes:
//
//	POST /v1/session/start   start a new session
//	POST /v1/session/stop    stop the current session
//	GET  /v1/session         current session snapshot
//	GET  /v1/session/events  websocket stream of session snapshots
//	GET  /v1/archive         archived sessions, newest first (?limit=N)
//	GET  /v1/archive/{id}    one archived session
//	GET  /healthz, /readyz   liveness and readiness
//	GET  /metrics            Prometheus scrape endpoint (when configured)
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/session/start", a.handleStart)
	mux.HandleFunc("POST /v1/session/stop", a.handleStop)
	mux.HandleFunc("GET /v1/session", a.handleSession)
	mux.HandleFunc("GET /v1/session/events", a.handleEvents)
	mux.HandleFunc("GET /v1/archive", a.handleArchiveList)
	mux.HandleFunc("GET /v1/archive/{id}", a.handleArchiveGet)
	a.health.Register(mux)
	if a.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	}
	return observe.Middleware(a.metrics)(mux)
}

func (a *App) handleStart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), startTimeout)
	defer cancel()

	info, err := a.sessions.Start(ctx)
	if err != nil {
		body := errorBody{Error: err.Error()}
		if info.ID != "" {
			body.Session = &info
		}
		writeJSON(w, statusFor(err), body)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (a *App) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), stopTimeout)
	defer cancel()

	info, err := a.sessions.Stop(ctx)
	if errors.Is(err, ErrNoSession) {
		writeError(w, err)
		return
	}
	if err != nil {
		// The session is closed; report the release errors alongside it.
		writeJSON(w, http.StatusOK, errorBody{Error: err.Error(), Session: &info})
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *App) handleSession(w http.ResponseWriter, _ *http.Request) {
	info, err := a.sessions.Info()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request) {
	updates, cancel, err := a.sessions.Subscribe()
	if err != nil {
		writeError(w, err)
		return
	}
	defer cancel()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn("session events: accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// The stream is one-way; CloseRead handles pings and the client's close.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case info, ok := <-updates:
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, info)
			wcancel()
			if err != nil {
				slog.Debug("session events: write failed", "err", err)
				return
			}
		}
	}
}

func (a *App) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	recs, err := a.archive.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (a *App) handleArchiveGet(w http.ResponseWriter, r *http.Request) {
	rec, err := a.archive.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// statusFor maps an error to the HTTP status code reported for it.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, ErrNoSession), errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, voice.ErrDeviceUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, voice.ErrChannelOpen):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorBody{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
