package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"

	"therapyline/internal/identity"
	"therapyline/internal/request"
	"therapyline/pkg/types"
)

// CreateRequestBody is the optional body of POST /api/session-requests.
type CreateRequestBody struct {
	Description string `json:"description"`
}

// CancelResponse confirms a cancellation.
type CancelResponse struct {
	Message string                `json:"message"`
	Request *types.SessionRequest `json:"request"`
}

// maxBodyBytes bounds request bodies; descriptions are far smaller.
const maxBodyBytes = 16 << 10

func caller(r *http.Request) *types.User {
	user, _ := identity.UserFromContext(r.Context())
	return user
}

// POST /api/session-requests
func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	var body CreateRequestBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		s.writeError(w, r, ErrBadRequest)
		return
	}

	childID, err := s.engine.ResolveChild(r.Context(), caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req, err := s.engine.CreateRequest(r.Context(), childID, body.Description)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, req)
}

// GET /api/session-requests/my. Writes null when the child has no request.
func (s *Server) getMyRequest(w http.ResponseWriter, r *http.Request) {
	childID, err := s.engine.ResolveChild(r.Context(), caller(r))
	if errors.Is(err, request.ErrNoChildLinked) {
		s.writeJSON(w, http.StatusOK, nil)
		return
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req, err := s.engine.ListMyRequest(r.Context(), childID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}

// GET /api/session-requests
func (s *Server) listActiveRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.engine.ListActiveRequests(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, requests)
}

// PUT /api/session-requests/{id}/accept
func (s *Server) acceptRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.engine.AcceptRequest(r.Context(), chi.URLParam(r, "id"), caller(r).ID)
	s.respondTransition(w, r, req, err)
}

// PUT /api/session-requests/{id}/decline
func (s *Server) declineRequest(w http.ResponseWriter, r *http.Request) {
	req, err := s.engine.DeclineRequest(r.Context(), chi.URLParam(r, "id"), caller(r).ID)
	s.respondTransition(w, r, req, err)
}

// PUT /api/session-requests/{id}/end
func (s *Server) endSession(w http.ResponseWriter, r *http.Request) {
	req, err := s.engine.EndSession(r.Context(), chi.URLParam(r, "id"), caller(r).ID)
	s.respondTransition(w, r, req, err)
}

// DELETE /api/session-requests/{id}
func (s *Server) cancelRequest(w http.ResponseWriter, r *http.Request) {
	childID, err := s.engine.ResolveChild(r.Context(), caller(r))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req, err := s.engine.CancelRequest(r.Context(), chi.URLParam(r, "id"), childID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, CancelResponse{Message: "Session request cancelled", Request: req})
}

func (s *Server) respondTransition(w http.ResponseWriter, r *http.Request, req *types.SessionRequest, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, req)
}
