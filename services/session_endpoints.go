package services

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/visaprep/backend/models"
)

// SessionEndpoints exposes the mock visa interview over HTTP.
type SessionEndpoints struct {
	lifecycle   *LifecycleManager
	engine      *TurnEngine
	synthesizer *FeedbackSynthesizer
}

func NewSessionEndpoints(lifecycle *LifecycleManager, engine *TurnEngine, synthesizer *FeedbackSynthesizer) *SessionEndpoints {
	return &SessionEndpoints{
		lifecycle:   lifecycle,
		engine:      engine,
		synthesizer: synthesizer,
	}
}

type TurnRequest struct {
	SessionID       string `json:"sessionId"`
	UserText        string `json:"userText"`
	ClientTurnToken string `json:"clientTurnToken"`
}

type FinishRequest struct {
	SessionID string `json:"sessionId"`
}

type GetSessionsResponse struct {
	Sessions []models.Session `json:"sessions"`
	Count    int              `json:"count"`
}

func (e *SessionEndpoints) RegisterRoutes(r chi.Router) {
	r.Route("/visa/mock", func(r chi.Router) {
		r.Post("/start", e.StartHandler)
		r.Post("/turn", e.TurnHandler)
		r.Post("/finish", e.FinishHandler)
		r.Get("/session", e.GetSessionHandler)
		r.Get("/sessions", e.GetSessionsHandler)
		r.Get("/sessions/{id}", e.GetSessionHandler)
	})
}

func (e *SessionEndpoints) StartHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeServiceError(w, r, ErrUnauthorized)
		return
	}

	result, err := e.lifecycle.Start(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// TurnHandler answers 200 for soft endings too; the body carries done and code.
func (e *SessionEndpoints) TurnHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeServiceError(w, r, ErrUnauthorized)
		return
	}

	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}

	result, err := e.engine.SubmitTurn(r.Context(), req.SessionID, user.ID, req.UserText, req.ClientTurnToken)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *SessionEndpoints) FinishHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeServiceError(w, r, ErrUnauthorized)
		return
	}

	var req FinishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "Invalid request body")
		return
	}

	result, err := e.synthesizer.Finalize(r.Context(), req.SessionID, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *SessionEndpoints) GetSessionHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeServiceError(w, r, ErrUnauthorized)
		return
	}

	sessionID := chi.URLParam(r, "id")
	if sessionID == "" {
		sessionID = r.URL.Query().Get("sessionId")
	}

	result, err := e.lifecycle.Resume(r.Context(), sessionID, user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (e *SessionEndpoints) GetSessionsHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeServiceError(w, r, ErrUnauthorized)
		return
	}

	sessions, err := e.lifecycle.List(r.Context(), user.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, GetSessionsResponse{Sessions: sessions, Count: len(sessions)})
}
