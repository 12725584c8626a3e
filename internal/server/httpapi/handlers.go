package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dsmirnov/credvault/internal/common"
	"github.com/dsmirnov/credvault/internal/server/auth"
	"github.com/dsmirnov/credvault/internal/server/password"
	"github.com/dsmirnov/credvault/internal/server/services"
)

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	User         *userResponse `json:"user,omitempty"`
	AccessToken  string        `json:"accessToken"`
	RefreshToken string        `json:"refreshToken"`
}

type userResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}

	user, pair, err := s.users.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrInvalidEmail):
			writeError(w, http.StatusBadRequest, "INVALID_EMAIL", err.Error())
		case isWeakPassword(err):
			writeError(w, http.StatusBadRequest, "WEAK_PASSWORD", err.Error())
		case errors.Is(err, common.ErrorAlreadyExists):
			writeError(w, http.StatusConflict, "USER_EXISTS", "User with this email already exists")
		default:
			s.logger.Error(r.Context(), "register failed", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Registration failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, tokenResponse{
		User:         &userResponse{ID: user.ID, Email: user.Email},
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}

	user, pair, err := s.users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, common.ErrorUnauthorized) {
			writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid email or password")
			return
		}
		s.logger.Error(r.Context(), "login failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Login failed")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		User:         &userResponse{ID: user.ID, Email: user.Email},
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.RefreshToken == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Refresh token is required")
		return
	}

	pair, err := s.users.Refresh(req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrTokenExpired):
			writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Refresh token has expired")
		case errors.Is(err, auth.ErrTokenInvalidSignature), errors.Is(err, auth.ErrTokenMalformed):
			writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "Invalid refresh token")
		default:
			s.logger.Error(r.Context(), "refresh failed", "error", err)
			writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Refresh failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
	})
}

type credentialStatusResponse struct {
	Connected bool `json:"connected"`
	Valid     bool `json:"valid"`
}

func (s *Server) handleCredentialStatus(w http.ResponseWriter, r *http.Request) {
	payload, ok := payloadFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required")
		return
	}

	connected, err := s.gate.HasCredential(r.Context(), payload.UserID)
	if err != nil {
		s.logger.Error(r.Context(), "credential status failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Credential lookup failed")
		return
	}

	status := credentialStatusResponse{Connected: connected}
	if connected {
		status.Valid = s.gate.ValidateCredential(r.Context(), payload.UserID)
	}

	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	payload, ok := payloadFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required")
		return
	}

	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Provider token is required")
		return
	}

	if err := s.gate.Connect(r.Context(), payload.UserID, []byte(req.Token)); err != nil {
		s.logger.Error(r.Context(), "connect failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Storing credential failed")
		return
	}

	writeJSON(w, http.StatusOK, credentialStatusResponse{Connected: true})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	payload, ok := payloadFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required")
		return
	}

	if err := s.gate.Disconnect(r.Context(), payload.UserID); err != nil {
		s.logger.Error(r.Context(), "disconnect failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Removing credential failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	payload, ok := payloadFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Access token required")
		return
	}

	if err := s.users.DeleteAccount(r.Context(), payload.UserID); err != nil {
		s.logger.Error(r.Context(), "account deletion failed", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Account deletion failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func isWeakPassword(err error) bool {
	for _, rule := range []error{
		password.ErrPasswordTooShort,
		password.ErrPasswordNoUpper,
		password.ErrPasswordNoLower,
		password.ErrPasswordNoDigit,
	} {
		if errors.Is(err, rule) {
			return true
		}
	}
	return false
}
