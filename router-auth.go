package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"vpnadm/backend/audit"
	"vpnadm/backend/auth"
	"vpnadm/backend/session"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
	sessionCookieName = "session"
)

type AuthenticatePayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (app *VpnAdmin) recordAuthOutcome(r *http.Request, event audit.Event, username, outcome, detail string) {
	app.audit.Record(audit.Entry{
		CorrelationID: correlationID(r),
		Event:         event,
		Actor:         username,
		ClientIP:      clientIP(r),
		Outcome:       outcome,
		Detail:        detail,
	})
}

func setTokenCookies(w http.ResponseWriter, pair *auth.TokenPair) {
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    pair.AccessToken,
		Expires:  pair.AccessExpiry,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    pair.RefreshToken,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/auth",
	})
}

func clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Path:     path,
	})
}

// authLogin issues the JWT pair as cookies.
func (app *VpnAdmin) authLogin(w http.ResponseWriter, r *http.Request) {
	var payload AuthenticatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		returnErrorMessage(w, http.StatusBadRequest, errors.New("can't decode auth payload"))
		return
	}

	pair, err := app.auth.Authenticate(payload.Username, payload.Password, clientIP(r))
	if err != nil {
		event := audit.LoginFailure
		if errors.Is(err, auth.ErrAccountLocked) {
			event = audit.LoginLocked
			lockoutsTotal.Inc()
		}
		app.recordAuthOutcome(r, event, payload.Username, "failure", err.Error())
		authFailuresTotal.Inc()
		mapError(w, err)
		return
	}

	app.recordAuthOutcome(r, audit.LoginSuccess, payload.Username, "success", "token pair issued")
	setTokenCookies(w, pair)
	writeCSRFCookie(w)
	if err := returnJson(w, map[string]string{"username": payload.Username}); err != nil {
		return
	}
}

// authRefresh rotates the JWT pair using the refresh token cookie.
func (app *VpnAdmin) authRefresh(w http.ResponseWriter, r *http.Request) {
	c, err := r.Cookie(refreshCookieName)
	if err != nil {
		returnErrorMessage(w, http.StatusUnauthorized, errors.New("no refresh token"))
		return
	}
	pair, err := app.auth.RefreshToken(c.Value, clientIP(r))
	if err != nil {
		app.recordAuthOutcome(r, audit.LoginFailure, "", "failure", "refresh rejected")
		mapError(w, err)
		return
	}
	app.recordAuthOutcome(r, audit.TokenRefreshed, pair.Username, "success", "token pair rotated")
	setTokenCookies(w, pair)
	w.WriteHeader(http.StatusNoContent)
}

func (app *VpnAdmin) authLogout(w http.ResponseWriter, r *http.Request) {
	clearCookie(w, accessCookieName, "/")
	clearCookie(w, refreshCookieName, "/auth")
	clearCSRFCookie(w)
	app.recordAuthOutcome(r, audit.Logout, requestUser(r), "success", "jwt cookies cleared")
	w.WriteHeader(http.StatusNoContent)
}

// sessionStatus reports whether the caller holds a live session.
func (app *VpnAdmin) sessionStatus(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		if sess, ok := app.sessions.Get(c.Value); ok {
			returnJson(w, map[string]string{"username": sess.Username})
			return
		}
	}
	returnErrorMessage(w, http.StatusUnauthorized, errors.New("not authenticated"))
}

// sessionLogin is the session-cookie flow, separate from the JWT flow.
func (app *VpnAdmin) sessionLogin(w http.ResponseWriter, r *http.Request) {
	var payload AuthenticatePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		returnErrorMessage(w, http.StatusBadRequest, errors.New("can't decode auth payload"))
		return
	}

	if _, err := app.auth.Authenticate(payload.Username, payload.Password, clientIP(r)); err != nil {
		event := audit.LoginFailure
		if errors.Is(err, auth.ErrAccountLocked) {
			event = audit.LoginLocked
			lockoutsTotal.Inc()
		}
		app.recordAuthOutcome(r, event, payload.Username, "failure", err.Error())
		authFailuresTotal.Inc()
		mapError(w, err)
		return
	}

	token := session.NewToken()
	now := time.Now()
	app.sessions.Put(token, session.Session{
		Username:       payload.Username,
		ClientIP:       clientIP(r),
		CreatedAt:      now,
		ExpiresAt:      now.Add(24 * time.Hour),
		LastAccessedAt: now,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Path:     "/",
	})
	writeCSRFCookie(w)
	app.recordAuthOutcome(r, audit.LoginSuccess, payload.Username, "success", "session created")
	returnJson(w, map[string]string{"username": payload.Username})
}

func (app *VpnAdmin) sessionLogout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(sessionCookieName); err == nil {
		app.sessions.Delete(c.Value)
	}
	clearCookie(w, sessionCookieName, "/")
	clearCSRFCookie(w)
	app.recordAuthOutcome(r, audit.Logout, requestUser(r), "success", "session destroyed")
	w.WriteHeader(http.StatusNoContent)
}
