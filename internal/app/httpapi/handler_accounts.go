package httpapi

import (
	"net/http"

	"github.com/pglocator/pglocator/internal/app/services/accounts"
)

func (h *handler) signup(w http.ResponseWriter, r *http.Request) {
	var in accounts.SignupInput
	if !decodeJSON(w, r, &in) {
		return
	}
	id, err := h.app.Accounts.Signup(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("User created successfully", "userId", id))
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	session, err := h.app.Accounts.Login(r.Context(), in.Email, in.Password)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *handler) getProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Accounts.Profile(r.Context(), caller(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) updateProfile(w http.ResponseWriter, r *http.Request) {
	var in accounts.ProfileUpdate
	if !decodeJSON(w, r, &in) {
		return
	}
	p, err := h.app.Accounts.UpdateProfile(r.Context(), caller(r).ID, in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.app.Accounts.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *handler) toggleUserStatus(w http.ResponseWriter, r *http.Request) {
	var in struct {
		IsActive *bool `json:"isActive"`
	}
	if !decodeJSON(w, r, &in) {
		return
	}
	if in.IsActive == nil {
		h.writeError(w, r, badRequest("Missing required fields"))
		return
	}
	user, err := h.app.Accounts.SetActive(r.Context(), caller(r).ID, pathVar(r, "id"), *in.IsActive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, message("User status updated", "user", user))
}
