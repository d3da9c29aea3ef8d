package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"escape-progression-service/internal/app"
	"escape-progression-service/internal/domain"
)

// Handler exposes the progression engine over JSON HTTP.
type Handler struct {
	service *app.ProgressionService
	ws      *WSHandler
}

func NewHandler(service *app.ProgressionService) *Handler {
	return &Handler{service: service, ws: NewWSHandler(service)}
}

// Register wires all routes into the mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/teams", h.registerTeam)
	mux.HandleFunc("GET /api/teams/{id}", h.getTeam)
	mux.HandleFunc("GET /api/teams", h.listTeams)
	mux.HandleFunc("POST /api/progression/submit", h.submit)
	mux.HandleFunc("POST /api/progression/timeout", h.timeout)
	mux.HandleFunc("POST /api/progression/eliminate", h.eliminate)
	mux.HandleFunc("POST /api/progression/advance", h.advance)
	mux.HandleFunc("POST /api/progression/violation", h.violation)
	mux.HandleFunc("PUT /api/qualified/{level}", h.qualifySet)
	mux.HandleFunc("POST /api/qualified/{level}", h.qualifyAdd)
	mux.HandleFunc("GET /api/qualified/{level}", h.qualified)
	mux.HandleFunc("GET /api/levels/{level}/start", h.levelStart)
	mux.HandleFunc("GET /api/standings", h.standings)
	mux.HandleFunc("GET /api/standings/level/{level}", h.levelRanking)
	mux.HandleFunc("GET /ws", h.ws.ServeWS)
}

type registerRequest struct {
	TeamID  string   `json:"teamId"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type submitRequest struct {
	TeamID     string            `json:"teamId"`
	Level      int               `json:"level"`
	Submission domain.Submission `json:"submission"`
}

type timeoutRequest struct {
	TeamID string `json:"teamId"`
	Level  int    `json:"level"`
}

type eliminateRequest struct {
	TeamID string `json:"teamId"`
	Reason string `json:"reason"`
}

type advanceRequest struct {
	TeamID              string `json:"teamId"`
	OverrideElimination bool   `json:"overrideElimination"`
	Reason              string `json:"reason"`
}

type violationRequest struct {
	TeamID string `json:"teamId"`
	Reason string `json:"reason"`
}

type qualifySetRequest struct {
	TeamIDs []string `json:"teamIds"`
}

type qualifyAddRequest struct {
	TeamID string `json:"teamId"`
}

func (h *Handler) registerTeam(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	team, err := h.service.Register(r.Context(), req.TeamID, req.Name, req.Members)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, team)
}

func (h *Handler) getTeam(w http.ResponseWriter, r *http.Request) {
	team, err := h.service.GetTeam(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (h *Handler) listTeams(w http.ResponseWriter, r *http.Request) {
	filter := domain.TeamFilter{}
	q := r.URL.Query()
	if raw := q.Get("level"); raw != "" {
		if level, err := strconv.Atoi(raw); err == nil {
			filter.Level = level
		}
	}
	if raw := q.Get("eliminated"); raw != "" {
		v := raw == "true"
		filter.Eliminated = &v
	}
	if raw := q.Get("winner"); raw != "" {
		v := raw == "true"
		filter.Winner = &v
	}
	teams, err := h.service.ListTeams(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.service.Submit(r.Context(), req.TeamID, req.Level, req.Submission)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) timeout(w http.ResponseWriter, r *http.Request) {
	var req timeoutRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.service.Timeout(r.Context(), req.TeamID, req.Level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) eliminate(w http.ResponseWriter, r *http.Request) {
	var req eliminateRequest
	if !decode(w, r, &req) {
		return
	}
	team, err := h.service.Eliminate(r.Context(), req.TeamID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (h *Handler) advance(w http.ResponseWriter, r *http.Request) {
	var req advanceRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.service.Advance(r.Context(), req.TeamID, req.OverrideElimination, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) violation(w http.ResponseWriter, r *http.Request) {
	var req violationRequest
	if !decode(w, r, &req) {
		return
	}
	team, err := h.service.RecordViolation(r.Context(), req.TeamID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, team)
}

func (h *Handler) qualifySet(w http.ResponseWriter, r *http.Request) {
	level, ok := pathLevel(w, r)
	if !ok {
		return
	}
	var req qualifySetRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.service.QualifySet(r.Context(), level, req.TeamIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) qualifyAdd(w http.ResponseWriter, r *http.Request) {
	level, ok := pathLevel(w, r)
	if !ok {
		return
	}
	var req qualifyAddRequest
	if !decode(w, r, &req) {
		return
	}
	res, err := h.service.QualifyAdd(r.Context(), level, req.TeamID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) qualified(w http.ResponseWriter, r *http.Request) {
	level, ok := pathLevel(w, r)
	if !ok {
		return
	}
	members, err := h.service.Qualified(r.Context(), level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.QualifyResult{Level: level, Qualified: members})
}

func (h *Handler) levelStart(w http.ResponseWriter, r *http.Request) {
	level, ok := pathLevel(w, r)
	if !ok {
		return
	}
	info, err := h.service.LevelStart(r.Context(), level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *Handler) standings(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Standings(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) levelRanking(w http.ResponseWriter, r *http.Request) {
	level, ok := pathLevel(w, r)
	if !ok {
		return
	}
	entries, err := h.service.LevelRanking(r.Context(), level)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func pathLevel(w http.ResponseWriter, r *http.Request) (int, bool) {
	level, err := strconv.Atoi(r.PathValue("level"))
	if err != nil {
		writeError(w, domain.ErrInvalidLevel)
		return 0, false
	}
	return level, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrTeamNotFound), errors.Is(err, domain.ErrLevelNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidLevel), errors.Is(err, domain.ErrInvalidTeamID):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrLevelMismatch),
		errors.Is(err, domain.ErrAlreadyEliminated),
		errors.Is(err, domain.ErrTeamFinished),
		errors.Is(err, domain.ErrTeamExists):
		status = http.StatusConflict
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}
