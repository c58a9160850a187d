// Package api is the HTTP control surface of the playout engine.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"live-playout/internal/platform/metrics"
	"live-playout/internal/playout"

	"github.com/go-chi/chi/v5"
)

// Controller is the part of the player the control API drives.
// *playout.Player implements it.
type Controller interface {
	Snapshot() playout.Snapshot
	SkipCurrent() bool
	RequestResync() bool
}

// Handler exposes status and control endpoints using go-chi.
type Handler struct {
	ctl     Controller
	stop    func()
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler. stop ends the playout session; Metrics may
// be nil to disable metric recording (e.g. in tests).
func NewHandler(ctl Controller, stop func(), log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{ctl: ctl, stop: stop, log: log, metrics: m}
}

// Routes mounts the endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/status", h.Status)
	r.Route("/control", func(r chi.Router) {
		r.Post("/next", h.Next)
		r.Post("/reset", h.Reset)
		r.Post("/stop", h.Stop)
	})
}

// Status handles GET /status.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	snap := h.ctl.Snapshot()
	h.metrics.SetQueueDepth(snap.QueueDepth)
	writeJSON(w, http.StatusOK, snap)
}

// Next handles POST /control/next: the current clip is cut and the player
// moves to the next item.
func (h *Handler) Next(w http.ResponseWriter, r *http.Request) {
	if !h.ctl.SkipCurrent() {
		h.log.Debug("skip requested with no clip playing")
		writeJSON(w, http.StatusConflict, result{OK: false, Message: "no clip playing"})
		return
	}
	h.log.Info("skip to next clip")
	writeJSON(w, http.StatusOK, result{OK: true})
}

// Reset handles POST /control/reset: schedule-mode resyncs to the clock on
// the next item.
func (h *Handler) Reset(w http.ResponseWriter, r *http.Request) {
	if !h.ctl.RequestResync() {
		writeJSON(w, http.StatusConflict, result{OK: false, Message: "resync needs playlist mode"})
		return
	}
	h.log.Info("resync to schedule requested")
	writeJSON(w, http.StatusOK, result{OK: true})
}

// Stop handles POST /control/stop.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) {
	h.log.Info("stop requested")
	writeJSON(w, http.StatusAccepted, result{OK: true})
	if h.stop != nil {
		h.stop()
	}
}

type result struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
