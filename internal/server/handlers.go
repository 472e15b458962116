package server

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Iron-Ham/ralphloop/internal/session"
	"github.com/Iron-Ham/ralphloop/internal/state"
)

type sessionHandler struct {
	svc *session.Service
}

type listResponse struct {
	Sessions []state.Record `json:"sessions"`
	Count    int            `json:"count"`
}

// List handles GET /sessions. ?status= filters by status.
func (h *sessionHandler) List(w http.ResponseWriter, r *http.Request) {
	records, err := h.svc.Store().List(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	if want := r.URL.Query().Get("status"); want != "" {
		status, ok := state.ParseStatus(want)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown status: "+want)
			return
		}
		filtered := records[:0]
		for _, rec := range records {
			if rec.Status == status {
				filtered = append(filtered, rec)
			}
		}
		records = filtered
	}
	if records == nil {
		records = []state.Record{}
	}
	writeJSON(w, http.StatusOK, listResponse{Sessions: records, Count: len(records)})
}

// Get handles GET /sessions/{name}
func (h *sessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Store().Get(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Stop handles POST /sessions/{name}/stop
func (h *sessionHandler) Stop(w http.ResponseWriter, r *http.Request) {
	rec, err := h.svc.Stop(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Remove handles DELETE /sessions/{name}. ?force=true removes running sessions.
func (h *sessionHandler) Remove(w http.ResponseWriter, r *http.Request) {
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	if err := h.svc.Remove(r.Context(), chi.URLParam(r, "name"), force); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
