package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/marcogenualdo/authorize/internal/auth"
)

type LogoutHandler struct {
	binder auth.SessionBinder
	store  auth.AuthorizedClientStore
	logger *slog.Logger
}

func NewLogoutHandler(binder auth.SessionBinder, store auth.AuthorizedClientStore, logger *slog.Logger) *LogoutHandler {
	return &LogoutHandler{
		binder: binder,
		store:  store,
		logger: logger,
	}
}

// ServeHTTP destroys the session and forgets the authorized client behind it.
func (h *LogoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	principal, err := h.binder.Current(r)
	switch {
	case err == nil:
		if err := h.store.Remove(r.Context(), principal.RegistrationID, principal.Name); err != nil {
			h.logger.Warn("failed to remove authorized client", "error", err)
		}
	case !errors.Is(err, auth.ErrUnauthenticated):
		h.logger.Warn("failed to load session on logout", "error", err)
	}

	if err := h.binder.Destroy(r.Context(), w, r); err != nil {
		h.logger.Warn("failed to delete session", "error", err)
	}

	h.logger.Info("user logged out")

	http.Redirect(w, r, "/login", http.StatusFound)
}
