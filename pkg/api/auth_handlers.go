package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/httputil"
	"github.com/platinummonkey/invoicer/pkg/middleware"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/users"
)

const (
	oidcStateCookie = "invoicer_oidc_state"
	oidcStateTTL    = 10 * time.Minute
)

// writeSession issues a token for user
func (s *Server) writeSession(w http.ResponseWriter, r *http.Request, status int, user *users.User) {
	token, err := s.tokens.Generate(user)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	_ = httputil.WriteJSON(w, status, sessionResponse{Token: token, User: user})
}

// register handles POST /auth/register
func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	user, err := s.passwords.Register(r.Context(), req.Email, req.Password, req.CompanyName)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	observability.FromContext(r.Context()).WithField("user_id", user.ID.String()).Info("User registered")
	s.writeSession(w, r, http.StatusCreated, user)
}

// login handles POST /auth/login
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") || !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	user, err := s.passwords.Authenticate(r.Context(), users.NormalizeEmail(req.Email), req.Password)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, r, http.StatusOK, user)
}

// me handles GET /auth/me
func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	_ = httputil.WriteSuccess(w, middleware.GetUser(r))
}

// oidcLogin handles GET /auth/oidc/login
func (s *Server) oidcLogin(w http.ResponseWriter, r *http.Request) {
	if s.sso == nil {
		httputil.WriteNotFoundError(w, "single sign-on is not configured")
		return
	}

	state, err := auth.NewState()
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     oidcStateCookie,
		Value:    state,
		Path:     APIPrefix + "/auth/oidc",
		MaxAge:   int(oidcStateTTL.Seconds()),
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.sso.AuthCodeURL(state), http.StatusFound)
}

// oidcCallback handles GET /auth/oidc/callback. The first login provisions
// a free account.
func (s *Server) oidcCallback(w http.ResponseWriter, r *http.Request) {
	if s.sso == nil {
		httputil.WriteNotFoundError(w, "single sign-on is not configured")
		return
	}

	cookie, err := r.Cookie(oidcStateCookie)
	if err != nil || !auth.StatesEqual(cookie.Value, r.URL.Query().Get("state")) {
		httputil.WriteBadRequest(w, "invalid login state")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     oidcStateCookie,
		Path:     APIPrefix + "/auth/oidc",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		httputil.WriteUnauthorized(w, "login was not completed: "+errParam)
		return
	}

	identity, err := s.sso.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Warn("OIDC exchange failed")
		httputil.WriteUnauthorized(w, "login failed")
		return
	}

	user, err := auth.Provision(r.Context(), s.users, identity)
	if errors.Is(err, users.ErrEmailTaken) {
		httputil.WriteConflict(w, "an account with this email already exists")
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	s.writeSession(w, r, http.StatusOK, user)
}
