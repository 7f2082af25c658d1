package main

import (
	"encoding/json"
	"net/http"
	"net/mail"
)

const minPasswordLen = 9

type creds struct{ Email, Password string }

func (c creds) validate() (string, bool) {
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return "A valid email is required", false
	}
	if len(c.Password) < minPasswordLen {
		return "Password must be at least 9 characters", false
	}
	return "", true
}

func (a *App) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var c creds
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if msg, ok := c.validate(); !ok {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_INPUT", msg)
		return
	}

	pair, err := a.Auth.Signup(r.Context(), c.Email, c.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var c creds
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if c.Email == "" || c.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Email and password are required")
		return
	}

	pair, err := a.Auth.Login(r.Context(), c.Email, c.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, pair)
}

func (a *App) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var in struct{ Token string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Token is required")
		return
	}

	newToken, err := a.Auth.Refresh(r.Context(), in.Token)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, TokenPair{AccessToken: newToken})
}

func (a *App) HandleLogout(w http.ResponseWriter, r *http.Request) {
	var in struct{ Token string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.Token == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Token is required")
		return
	}
	if err := a.Auth.Logout(r.Context(), in.Token); err != nil {
		writeServiceError(w, err)
		return
	}
	writeSuccess(w, http.StatusOK, map[string]bool{"revoked": true})
}
