package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homesync/internal/allowlist"
	"github.com/nerrad567/homesync/internal/protocol"
)

// handleListAllowList returns every allowed credential.
func (s *Server) handleListAllowList(w http.ResponseWriter, r *http.Request) {
	members, err := s.allowList.Members(r.Context())
	if err != nil {
		s.logger.Error("listing allow-list", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list allow-list")
		return
	}
	if members == nil {
		members = []allowlist.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"members": members,
		"count":   len(members),
	})
}

type allowRequest struct {
	Label string `json:"label"`
}

// handleAllowCredential adds a credential. The body is optional.
func (s *Server) handleAllowCredential(w http.ResponseWriter, r *http.Request) {
	var req allowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	cred, err := protocol.ParseCredential(chi.URLParam(r, "credential"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid credential")
		return
	}
	if err := s.allowList.Add(r.Context(), cred, req.Label); err != nil {
		s.logger.Error("adding credential", "credential", cred, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to add credential")
		return
	}

	s.logger.Info("credential allowed", "credential", cred, "by", subject(r))
	writeJSON(w, http.StatusOK, allowlist.Member{Credential: cred, Label: req.Label})
}

// handleRevokeCredential removes a credential.
func (s *Server) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	cred, err := protocol.ParseCredential(chi.URLParam(r, "credential"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid credential")
		return
	}

	err = s.allowList.Remove(r.Context(), cred)
	if errors.Is(err, allowlist.ErrNotFound) {
		writeError(w, http.StatusNotFound, "credential not in allow-list")
		return
	}
	if err != nil {
		s.logger.Error("removing credential", "credential", cred, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to remove credential")
		return
	}

	s.logger.Info("credential revoked", "credential", cred, "by", subject(r))
	w.WriteHeader(http.StatusNoContent)
}

func subject(r *http.Request) string {
	if c := claimsFrom(r.Context()); c != nil {
		return c.Subject
	}
	return ""
}
