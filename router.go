package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"vpnadm/backend/auth"
	"vpnadm/backend/cert"
)

type ctxKey int

const (
	ctxKeyCorrelationID ctxKey = iota
	ctxKeyClientIP
	ctxKeyUsername
)

type MessagePayload struct {
	Message string `json:"message"`
}

func (app *VpnAdmin) router() chi.Router {
	r := chi.NewRouter()

	r.Use(app.correlationMiddleware)
	r.Use(app.clientIPMiddleware)
	r.Use(app.rateLimitMiddleware)
	r.Use(securityHeaders)

	r.Handle(*metricsPath, app.metricsHandler())

	r.Post("/auth/login", app.authLogin)
	r.Post("/auth/refresh", app.authRefresh)
	r.Post("/auth/logout", app.authLogout)

	r.Get("/login", app.sessionStatus)
	r.Post("/login", app.sessionLogin)
	r.With(app.authMiddleware).Post("/logout", app.sessionLogout)

	r.Route("/certificates", func(r chi.Router) {
		r.Use(app.authMiddleware)
		r.Use(app.csrfMiddleware)
		r.Get("/", app.certificateList)
		r.Get("/list", app.certificateList)
		r.Post("/generate", app.certificateGenerate)
		r.Get("/download/{name}", app.certificateDownload)
		r.Post("/revoke/{name}", app.certificateRevoke)
	})

	r.With(app.authMiddleware).Get("/ws", app.wsHandler)

	return r
}

func (app *VpnAdmin) correlationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if len(id) == 0 {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyCorrelationID, id)))
	})
}

func (app *VpnAdmin) clientIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := app.extractClientIP(r)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyClientIP, ip)))
	})
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// authMiddleware accepts either a server-side session cookie or a valid
// access token cookie and stashes the username in the request context.
func (app *VpnAdmin) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie(sessionCookieName); err == nil {
			if sess, ok := app.sessions.Get(c.Value); ok {
				ctx := context.WithValue(r.Context(), ctxKeyUsername, sess.Username)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}
		if c, err := r.Cookie(accessCookieName); err == nil {
			claims, err := app.auth.ValidateToken(c.Value, clientIP(r))
			if err == nil {
				ctx := context.WithValue(r.Context(), ctxKeyUsername, claims.Subject)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
			mapError(w, err)
			return
		}
		returnErrorMessage(w, http.StatusUnauthorized, errors.New("not authenticated"))
	})
}

func correlationID(r *http.Request) string {
	if id, ok := r.Context().Value(ctxKeyCorrelationID).(string); ok {
		return id
	}
	return ""
}

func clientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(ctxKeyClientIP).(string); ok {
		return ip
	}
	return r.RemoteAddr
}

func requestUser(r *http.Request) string {
	if u, ok := r.Context().Value(ctxKeyUsername).(string); ok {
		return u
	}
	return ""
}

func returnJson(w http.ResponseWriter, v interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(v)
}

func returnErrorMessage(w http.ResponseWriter, status int, err error) {
	rawJson, _ := json.Marshal(MessagePayload{Message: err.Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(rawJson); err != nil {
		log.Errorf("error sending response")
	}
}

// mapError translates domain errors to HTTP statuses. Policy errors keep
// their message; tool and filesystem failures surface as a generic 500.
func mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, cert.ErrInvalidName):
		returnErrorMessage(w, http.StatusUnprocessableEntity, err)
	case errors.Is(err, cert.ErrDuplicate):
		returnErrorMessage(w, http.StatusConflict, err)
	case errors.Is(err, cert.ErrNotFound):
		returnErrorMessage(w, http.StatusNotFound, err)
	case errors.Is(err, cert.ErrAlreadyRevoked):
		returnErrorMessage(w, http.StatusConflict, err)
	case errors.Is(err, auth.ErrInvalidCredentials):
		returnErrorMessage(w, http.StatusUnauthorized, err)
	case errors.Is(err, auth.ErrAccountLocked):
		returnErrorMessage(w, http.StatusTooManyRequests, err)
	case errors.Is(err, auth.ErrConfigurationMissing):
		returnErrorMessage(w, http.StatusServiceUnavailable, err)
	case errors.Is(err, auth.ErrTokenExpired), errors.Is(err, auth.ErrTokenInvalid), errors.Is(err, auth.ErrIPMismatch):
		returnErrorMessage(w, http.StatusUnauthorized, err)
	default:
		returnErrorMessage(w, http.StatusInternalServerError, errors.New("internal server error"))
	}
}
