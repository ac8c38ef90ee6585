package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/okralab/okra-server/internal/services"
)

func (rt *Router) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		rt.logger.Error("encode response", zap.Error(err))
	}
}

func statusFor(code services.ErrorCode) int {
	switch code {
	case services.ErrorInvalid, services.ErrorMissingHeaders:
		return http.StatusBadRequest
	case services.ErrorInvalidCredentials, services.ErrorUnauthorized:
		return http.StatusUnauthorized
	case services.ErrorNotFound, services.ErrorNoTasksAvailable:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// participantError renders an error for the mobile client, which reads the
// "error" key.
func (rt *Router) participantError(w http.ResponseWriter, err error) {
	if se, ok := services.AsServiceError(err); ok {
		rt.writeJSON(w, statusFor(se.Code), map[string]string{"error": se.Message})
		return
	}
	rt.logger.Error("internal error", zap.Error(err))
	rt.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
}

// adminError renders an error for the operator frontend, which reads the
// "message" key.
func (rt *Router) adminError(w http.ResponseWriter, err error) {
	if se, ok := services.AsServiceError(err); ok {
		rt.writeJSON(w, statusFor(se.Code), map[string]string{"message": se.Message})
		return
	}
	rt.logger.Error("internal error", zap.Error(err))
	rt.writeJSON(w, http.StatusInternalServerError, map[string]string{"message": "Internal server error"})
}
