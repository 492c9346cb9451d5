package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/lox/planti/internal/auth"
)

type magicLinkRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

type verifyRequest struct {
	Token string `json:"token" validate:"required,uuid"`
}

func (s *Server) handleMagicLink(w http.ResponseWriter, r *http.Request) {
	var req magicLinkRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	if err := s.auth.RequestMagicLink(r.Context(), req.Email); err != nil {
		log.Printf("api: request magic link: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to send magic link")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Magic link sent successfully"})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	token, user, err := s.auth.Verify(r.Context(), req.Token)
	if errors.Is(err, auth.ErrInvalidToken) {
		writeError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}
	if err != nil {
		log.Printf("api: verify magic link: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	auth.SetSessionCookie(w, token, s.secureCookies)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "user": user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, s.secureCookies)
	w.WriteHeader(http.StatusNoContent)
}
