package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/garnizeh/rioforms/internal/session"
)

type SessionHandler struct {
	session Session
}

// Logout wipes local state and sends the browser to the upstream logout page.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	target, err := h.session.Logout(r.Context())
	if err != nil {
		if errors.Is(err, session.ErrOffline) {
			http.Error(w, "You are offline. Connect to the network before logging out.", http.StatusServiceUnavailable)
			return
		}
		logger.Error("logout", slog.Any("err", err))
		http.Error(w, "logout failed", http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}
