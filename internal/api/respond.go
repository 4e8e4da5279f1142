package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"escrow-engine-go/internal/models"
	"escrow-engine-go/internal/store"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// versionBody carries the optional optimistic check of mutating trade endpoints.
type versionBody struct {
	Version int64 `json:"version"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("Failed to encode response", zap.Error(err))
	}
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, models.Envelope{Success: true, Data: data})
}

// writeError renders err as a structured failure. Unclassified errors are
// logged and reported generically.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		zap.L().Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		message = "internal error"
	}
	writeJSON(w, status, models.Envelope{Success: false, Message: message})
}

func statusFor(err error) int {
	switch store.Kind(err) {
	case "validation":
		return http.StatusBadRequest
	case "insufficient_balance", "method_inactive":
		return http.StatusUnprocessableEntity
	case "invalid_state", "conflict", "duplicate":
		return http.StatusConflict
	case "not_found":
		return http.StatusNotFound
	case "unauthorized":
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

// decodeJSON reads an optional JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: malformed request body: %v", store.ErrValidation, err)
	}
	return nil
}

func actorFrom(r *http.Request) models.Actor {
	actor, _ := models.ActorFromContext(r.Context())
	return actor
}

func pathId(r *http.Request) string {
	return mux.Vars(r)["id"]
}

// page reads limit/offset query parameters, leaving defaults to the services.
func page(r *http.Request) (int, int) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	return limit, offset
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !actorFrom(r).IsAdmin() {
			writeJSON(w, http.StatusForbidden, models.Envelope{Success: false, Message: "admin role required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}
