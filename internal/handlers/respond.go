package handlers

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"ShopAssist/server/internal/models"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}

// writeError maps the expected outcome taxonomy onto HTTP statuses. Anything
// outside the taxonomy is a storage-layer fault: logged, answered generically.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrUnauthenticated):
		writeMessage(w, http.StatusUnauthorized, "Authentication required")
	case errors.Is(err, models.ErrForbidden):
		writeMessage(w, http.StatusForbidden, "Not allowed")
	case errors.Is(err, models.ErrChatNotFound),
		errors.Is(err, models.ErrMessageNotFound),
		errors.Is(err, models.ErrAttachmentNotFound),
		errors.Is(err, models.ErrUserNotFound):
		writeMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidState):
		writeMessage(w, http.StatusConflict, "Operation not allowed in current chat state")
	case errors.Is(err, models.ErrChatUnavailable):
		writeMessage(w, http.StatusConflict, "Chat not available or already claimed")
	default:
		log.Printf("Internal error: %v", err)
		writeMessage(w, http.StatusInternalServerError, "Internal server error")
	}
}
