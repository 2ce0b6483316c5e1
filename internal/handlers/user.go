package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/storefront/apiserver/internal/services"
	"github.com/storefront/apiserver/types"
)

// UserService is the account self-service API used by UserHandler.
type UserService interface {
	GetByID(ctx context.Context, id int64) (types.User, error)
	UpdateProfile(ctx context.Context, id int64, in services.UpdateProfileInput) (types.User, error)
	ChangePassword(ctx context.Context, id int64, in services.ChangePasswordInput) error
	Deactivate(ctx context.Context, id int64) error
}

type UserHandler struct {
	users UserService
	responder
}

func NewUserHandler(users UserService, logger *slog.Logger) *UserHandler {
	return &UserHandler{users: users, responder: newResponder(logger)}
}

// UserRouter registers /users routes. Every route requires authentication.
func UserRouter(r chi.Router, users UserService, mw *AuthMiddleware, logger *slog.Logger) {
	handler := NewUserHandler(users, logger)

	r.Group(func(r chi.Router) {
		r.Use(mw.RequireAuth)
		r.Get("/me", handler.Me)
		r.Put("/me", handler.UpdateMe)
		r.Put("/me/password", handler.ChangePassword)
		r.Delete("/me", handler.DeactivateMe)
	})
}

// Me returns the current authenticated user.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	user, err := h.users.GetByID(r.Context(), principal.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req services.UpdateProfileInput
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	user, err := h.users.UpdateProfile(r.Context(), principal.UserID, req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (h *UserHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	var req services.ChangePasswordInput
	if err := decodeJSON(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}

	if err := h.users.ChangePassword(r.Context(), principal.UserID, req); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}

// DeactivateMe soft-deletes the caller's account and revokes its sessions.
func (h *UserHandler) DeactivateMe(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.principal(w, r)
	if !ok {
		return
	}

	if err := h.users.Deactivate(r.Context(), principal.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	writeData(w, http.StatusOK, nil)
}
