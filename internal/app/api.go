package app

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
)

// maxBodyBytes bounds API request bodies.
const maxBodyBytes = 64 << 10

// ListeningStatus is the body of the listening endpoints.
type ListeningStatus struct {
	Listening bool `json:"listening"`
}

// AskRequest is the body of POST /api/ask.
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse is the reply to POST /api/ask.
type AskResponse struct {
	Answer string `json:"answer"`
	Route  string `json:"route"`
	Error  string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Register adds the control API to mux, and the tool server when enabled:
//
//   - GET  /api/listening        current state
//   - PUT  /api/listening        set the state from {"listening": bool}
//   - POST /api/listening/toggle flip the state
//   - POST /api/ask              answer {"question": "..."} as text
func (a *App) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/listening", a.handleStatus)
	mux.HandleFunc("PUT /api/listening", a.handleSet)
	mux.HandleFunc("POST /api/listening/toggle", a.handleToggle)
	mux.HandleFunc("POST /api/ask", a.handleAsk)
	if a.tools != nil {
		mux.Handle(a.cfg.MCP.Path, a.tools.Handler())
	}
}

func (a *App) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ListeningStatus{Listening: a.Listening()})
}

func (a *App) handleToggle(w http.ResponseWriter, r *http.Request) {
	on, err := a.Toggle(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ListeningStatus{Listening: on})
}

func (a *App) handleSet(w http.ResponseWriter, r *http.Request) {
	var req ListeningStatus
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if err := a.SetListening(r.Context(), req.Listening); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ListeningStatus{Listening: a.Listening()})
}

func (a *App) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := decode(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "question is required"})
		return
	}

	ans, err := a.Ask(r.Context(), req.Question)
	switch {
	case errors.Is(err, ErrBusy):
		writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
	case err != nil && ans.Text == "":
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
	case err != nil:
		writeJSON(w, http.StatusOK, AskResponse{Answer: ans.Text, Route: string(ans.Route), Error: err.Error()})
	default:
		writeJSON(w, http.StatusOK, AskResponse{Answer: ans.Text, Route: string(ans.Route)})
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
