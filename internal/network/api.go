package network

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/MRamiBalles/mementos/server/internal/domain/library"
	"github.com/MRamiBalles/mementos/server/internal/engine"
	"github.com/MRamiBalles/mementos/server/internal/infra/storage"
	"github.com/MRamiBalles/mementos/server/internal/platform/logger"
	"github.com/MRamiBalles/mementos/server/internal/platform/metrics"
)

// RecapSource reads the persisted audit log of a session.
type RecapSource interface {
	GenerateRecap(ctx context.Context, sessionID string, sinceDay int) ([]storage.RecapEvent, error)
}

// API serves the desktop's HTTP endpoints.
type API struct {
	game          Game
	customization *storage.Customization
	recap         RecapSource // nil falls back to the in-memory event log
	hub           *Hub
	metrics       *metrics.Collector
	logger        *logger.Logger
}

// NewAPI wires the HTTP surface. hub and recap may be nil.
func NewAPI(game Game, customization *storage.Customization, recap RecapSource, hub *Hub, m *metrics.Collector, log *logger.Logger) *API {
	if m == nil {
		m = metrics.Get()
	}
	return &API{
		game:          game,
		customization: customization,
		recap:         recap,
		hub:           hub,
		metrics:       m,
		logger:        log,
	}
}

// Routes returns the request multiplexer.
func (a *API) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/session", a.handleSnapshot)
	mux.HandleFunc("POST /api/session/start", a.transition(a.game.Start))
	mux.HandleFunc("POST /api/session/pause", a.transition(a.game.Pause))
	mux.HandleFunc("POST /api/session/resume", a.transition(a.game.Resume))
	mux.HandleFunc("PUT /api/session/time-scale", a.handleTimeScale)

	mux.HandleFunc("GET /api/emails", a.handleEmails)
	mux.HandleFunc("POST /api/emails/{id}/read", a.byID(a.game.MarkEmailRead))

	mux.HandleFunc("GET /api/messages", a.handleMessages)
	mux.HandleFunc("DELETE /api/messages/{id}", a.byID(a.game.DismissMessage))

	mux.HandleFunc("GET /api/notifications", a.handleNotifications)
	mux.HandleFunc("DELETE /api/notifications/{id}", a.byID(a.game.AckNotification))
	mux.HandleFunc("POST /api/notifications/drain", a.handleDrain)

	mux.HandleFunc("GET /api/library", a.handleLibrary)
	mux.HandleFunc("GET /api/downloads", a.handleDownloads)
	mux.HandleFunc("POST /api/downloads", a.handleEnqueue)
	mux.HandleFunc("POST /api/downloads/{id}/pause", a.byID(a.game.PauseDownload))
	mux.HandleFunc("POST /api/downloads/{id}/resume", a.byID(a.game.ResumeDownload))

	mux.HandleFunc("GET /api/stats", a.handleStats)
	mux.HandleFunc("GET /api/timeline/epilogue", a.handleEpilogue)
	mux.HandleFunc("GET /api/recap", a.handleRecap)

	mux.HandleFunc("GET /api/customization/{key}", a.handleGetCustomization)
	mux.HandleFunc("PUT /api/customization/{key}", a.handlePutCustomization)
	mux.HandleFunc("DELETE /api/customization/{key}", a.handleDeleteCustomization)

	mux.HandleFunc("GET /metrics", a.metrics.Handler())
	mux.HandleFunc("GET /metrics/prometheus", a.metrics.PrometheusHandler())
	if a.hub != nil {
		mux.HandleFunc("GET /ws", a.hub.ServeWS)
	}

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// transition maps a state machine command to 200 with the new snapshot, or
// 409 when the command did not apply in the current state.
func (a *API) transition(fn func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !fn() {
			writeError(w, http.StatusConflict, "not allowed in state "+string(a.game.Snapshot().State))
			return
		}
		writeJSON(w, http.StatusOK, a.game.Snapshot())
	}
}

// byID maps an id command to 204, or 409 when nothing changed.
func (a *API) byID(fn func(string) bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !fn(id) {
			writeError(w, http.StatusConflict, "no change for "+id)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (a *API) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.game.Snapshot())
}

func (a *API) handleTimeScale(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TimeScale float64 `json:"time_scale"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := a.game.SetTimeScale(body.TimeScale); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, a.game.Snapshot())
}

func (a *API) handleEmails(w http.ResponseWriter, r *http.Request) {
	snap := a.game.Snapshot()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"emails":       snap.Emails,
		"unread_count": snap.UnreadCount,
	})
}

func (a *API) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.game.Snapshot().Messages)
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.game.Snapshot().Notifications)
}

func (a *API) handleDrain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.game.DrainNotifications())
}

func (a *API) handleLibrary(w http.ResponseWriter, r *http.Request) {
	category := library.Category(r.URL.Query().Get("category"))
	if category != "" && !validCategory(category) {
		writeError(w, http.StatusBadRequest, "unknown category "+string(category))
		return
	}
	sortKey := library.SortKey(r.URL.Query().Get("sort"))
	switch sortKey {
	case "":
		sortKey = library.SortByPurchaseDate
	case library.SortByPurchaseDate, library.SortBySize, library.SortByLastAccessed:
	default:
		writeError(w, http.StatusBadRequest, "unknown sort "+string(sortKey))
		return
	}
	writeJSON(w, http.StatusOK, a.game.Library().Browse(category, sortKey))
}

func validCategory(c library.Category) bool {
	for _, known := range library.Categories {
		if c == known {
			return true
		}
	}
	return false
}

func (a *API) handleDownloads(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.game.Snapshot().Downloads)
}

func (a *API) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ItemID string `json:"item_id"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1024)).Decode(&body); err != nil || body.ItemID == "" {
		writeError(w, http.StatusBadRequest, "item_id is required")
		return
	}
	item, added, err := a.game.EnqueueItem(body.ItemID)
	switch {
	case errors.Is(err, engine.ErrUnknownItem):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	case !added:
		writeError(w, http.StatusConflict, "already queued or platform offline")
	default:
		writeJSON(w, http.StatusCreated, item)
	}
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.game.Stats())
}

func (a *API) handleEpilogue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.game.Epilogue())
}

func (a *API) handleRecap(w http.ResponseWriter, r *http.Request) {
	sinceDay := 1
	if v := r.URL.Query().Get("since_day"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "since_day must be a positive integer")
			return
		}
		sinceDay = n
	}

	if a.recap != nil {
		recap, err := a.recap.GenerateRecap(r.Context(), a.game.SessionID(), sinceDay)
		if err == nil {
			writeJSON(w, http.StatusOK, recap)
			return
		}
		a.logger.Warn("recap from storage failed, using memory log", "error", err)
	}

	logged := a.game.Events()
	stored := make([]storage.GameEvent, 0, len(logged))
	for _, e := range logged {
		stored = append(stored, storage.FromDomain(a.game.SessionID(), e))
	}
	writeJSON(w, http.StatusOK, storage.Summarize(stored, sinceDay, a.game.HoursPerDay()))
}

func (a *API) handleGetCustomization(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !storage.ValidKey(key) {
		writeError(w, http.StatusNotFound, "unknown key "+key)
		return
	}
	blob := a.customization.Get(r.Context(), key)
	if blob == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", http.DetectContentType(blob))
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	_, _ = w.Write(blob)
}

func (a *API) handlePutCustomization(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !storage.ValidKey(key) {
		writeError(w, http.StatusNotFound, "unknown key "+key)
		return
	}
	blob, err := io.ReadAll(http.MaxBytesReader(w, r.Body, storage.MaxBlobSize))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "image too large")
		return
	}
	if err := a.customization.Set(r.Context(), key, blob); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleDeleteCustomization(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := a.customization.Reset(r.Context(), key); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
