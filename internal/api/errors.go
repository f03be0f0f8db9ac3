package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/civil-registry/internal/model"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    model.ErrorKind `json:"kind"`
	Message string          `json:"message"`
}

// statusFor maps an error kind to its HTTP status. INVALID_TRANSITION and
// CONFLICT share 409; the body kind tells them apart.
func statusFor(kind model.ErrorKind) int {
	switch kind {
	case model.KindNotFound:
		return http.StatusNotFound
	case model.KindInvalidTransition, model.KindConflict:
		return http.StatusConflict
	case model.KindMissingReason:
		return http.StatusUnprocessableEntity
	case model.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

// writeError renders err with its classified kind. Store failures are
// logged and reported without internal detail.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := model.KindOf(err)
	msg := err.Error()
	if kind == model.KindStore {
		zap.L().Error("api: store error",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal store error"
	}
	writeJSON(w, statusFor(kind), errorBody{Error: errorDetail{Kind: kind, Message: msg}})
}
