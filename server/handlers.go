package server

import (
	"net/http"
	"strings"

	apperrors "github.com/jrsteele09/sider-auth/internal/errors"
	"github.com/jrsteele09/sider-auth/token"
	"github.com/jrsteele09/sider-auth/users"
	"github.com/rs/zerolog/log"
)

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	Name     string `json:"name"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type profileResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Username string `json:"username,omitempty"`
	Name     string `json:"name,omitempty"`
}

type authResponse struct {
	*token.Pair
	User profileResponse `json:"user"`
}

func toProfile(u *users.User) profileResponse {
	return profileResponse{
		ID:       u.ID,
		Email:    u.Email,
		Username: u.DisplayUsername(),
		Name:     u.Name,
	}
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]string{"status": "ok", "app": s.config.GetAppName()})
	}
}

// RegisterHandler creates a user and logs them in.
func (s *Server) RegisterHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req registerRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		email := users.NormaliseEmail(req.Email)
		if err := users.ValidateEmail(email); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := users.ValidatePasswordStrength(req.Password); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if _, err := s.users.GetByEmail(email); err == nil {
			writeError(w, http.StatusConflict, apperrors.ErrUserExists.Error())
			return
		}

		hash, err := users.HashPassword(req.Password)
		if err != nil {
			log.Err(err).Msg("[RegisterHandler] HashPassword")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		now := s.nowFunc()
		user := &users.User{
			Email:        email,
			Username:     strings.TrimSpace(req.Username),
			Name:         strings.TrimSpace(req.Name),
			PasswordHash: hash,
			DateJoined:   now,
			LastLogin:    now,
		}
		if err := s.users.Upsert(user); err != nil {
			log.Err(err).Str("email", email).Msg("[RegisterHandler] Upsert")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}

		pair, err := s.tokens.IssueTokens(user)
		if err != nil {
			log.Err(err).Str("userID", user.ID).Msg("[RegisterHandler] IssueTokens")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		log.Info().Str("userID", user.ID).Str("email", email).Msg("User registered")
		writeData(w, http.StatusCreated, authResponse{Pair: pair, User: toProfile(user)})
	}
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		email := users.NormaliseEmail(req.Email)
		if email == "" || req.Password == "" {
			writeError(w, http.StatusBadRequest, "email and password are required")
			return
		}

		user, err := s.users.GetByEmail(email)
		if err != nil || !user.CheckPassword(req.Password) {
			log.Warn().Str("email", email).Msg("Login rejected")
			writeError(w, http.StatusUnauthorized, apperrors.ErrInvalidCredentials.Error())
			return
		}
		if user.Blocked {
			writeError(w, http.StatusForbidden, apperrors.ErrUserBlocked.Error())
			return
		}

		if err := s.users.SetLastLogin(user.ID, s.nowFunc()); err != nil {
			log.Err(err).Str("userID", user.ID).Msg("[LoginHandler] SetLastLogin")
		}
		pair, err := s.tokens.IssueTokens(user)
		if err != nil {
			log.Err(err).Str("userID", user.ID).Msg("[LoginHandler] IssueTokens")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeData(w, http.StatusOK, authResponse{Pair: pair, User: toProfile(user)})
	}
}

func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.RefreshToken) == "" {
			writeError(w, http.StatusBadRequest, "refresh_token is required")
			return
		}

		pair, user, err := s.tokens.Refresh(req.RefreshToken)
		switch {
		case apperrors.Is(err, apperrors.ErrInvalidRefreshToken), apperrors.Is(err, apperrors.ErrRefreshTokenExpired):
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		case apperrors.Is(err, apperrors.ErrUserBlocked):
			writeError(w, http.StatusForbidden, err.Error())
			return
		case err != nil:
			log.Err(err).Msg("[RefreshHandler] Refresh")
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		writeData(w, http.StatusOK, authResponse{Pair: pair, User: toProfile(user)})
	}
}

// LogoutHandler revokes the refresh token in the body and the bearer access
// token when one is sent. It always succeeds.
func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		_ = decodeJSON(w, r, &req)
		s.tokens.RevokeRefreshToken(strings.TrimSpace(req.RefreshToken))

		if raw, err := bearerToken(r); err == nil {
			if err := s.tokens.RevokeAccessToken(raw); err != nil {
				log.Debug().Err(err).Msg("Access token not revoked on logout")
			}
		}
		writeData(w, http.StatusOK, map[string]any{})
	}
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) (*users.User, bool) {
	user, err := s.users.GetByID(UserIDFromContext(r.Context()))
	if err != nil {
		writeError(w, http.StatusUnauthorized, apperrors.ErrUserNotFound.Error())
		return nil, false
	}
	if user.Blocked {
		writeError(w, http.StatusForbidden, apperrors.ErrUserBlocked.Error())
		return nil, false
	}
	return user, true
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		writeData(w, http.StatusOK, toProfile(user))
	}
}

// ProfileHandler returns the profile with account timestamps, wrapped in a
// user object.
func (s *Server) ProfileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.currentUser(w, r)
		if !ok {
			return
		}
		user.Username = user.DisplayUsername()
		writeData(w, http.StatusOK, map[string]any{"user": user})
	}
}
