package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"walletsync/pkg/auth"
	"walletsync/pkg/model"
	"walletsync/pkg/store"
)

type ctxKey struct{}

type authRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func claimsFrom(r *http.Request) *auth.Claims {
	c, _ := r.Context().Value(ctxKey{}).(*auth.Claims)
	return c
}

// bearer extracts the token from the Authorization header, or from ?token=
// for browser websocket clients that cannot set headers.
func bearer(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

// requireToken accepts any token signed with the server secret.
func (s *Server) requireToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, err := auth.Parse(s.secret, bearer(r))
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, claims)))
	}
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return s.requireToken(func(w http.ResponseWriter, r *http.Request) {
		if c := claimsFrom(r); c == nil || !c.Admin {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next(w, r)
	})
}

// allowedFor reports whether the caller may act on userID's data.
func allowedFor(r *http.Request, userID string) bool {
	return claimsFrom(r).MayActFor(userID)
}

// handleRegister only allows the first admin to be created.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		s.internalError(w, "hash password", err)
		return
	}
	user, err := s.store.CreateFirstAdmin(model.User{Username: req.Username, PasswordHash: string(hash), IsAdmin: true})
	if errors.Is(err, store.ErrExists) {
		http.Error(w, "registration closed", http.StatusForbidden)
		return
	}
	if err != nil {
		s.internalError(w, "create admin", err)
		return
	}
	s.issueToken(w, user)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Username == "" || req.Password == "" {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	user, ok, err := s.store.GetAdmin(req.Username)
	if err != nil {
		s.internalError(w, "get admin", err)
		return
	}
	if !ok || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}
	s.issueToken(w, user)
}

func (s *Server) issueToken(w http.ResponseWriter, user model.User) {
	token, err := auth.Generate(s.secret, "", user.Username, user.IsAdmin, 24*time.Hour)
	if err != nil {
		s.internalError(w, "sign token", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}
