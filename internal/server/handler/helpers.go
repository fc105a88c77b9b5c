package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/openwager/wagerd/internal/domain"
)

// errorKind maps a domain error to the machine-readable kind string carried
// in error responses. Callers branch on the kind, never on the message.
func errorKind(err error) (string, int) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return "not_found", http.StatusNotFound
	case errors.Is(err, domain.ErrUnauthorized):
		return "unauthorized", http.StatusForbidden
	case errors.Is(err, domain.ErrInvalidParams):
		return "invalid_params", http.StatusBadRequest
	case errors.Is(err, domain.ErrMarketResolved):
		return "market_resolved", http.StatusConflict
	case errors.Is(err, domain.ErrMarketExpired):
		return "market_expired", http.StatusConflict
	case errors.Is(err, domain.ErrTooEarly):
		return "too_early", http.StatusConflict
	case errors.Is(err, domain.ErrNoPosition):
		return "no_position", http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientBalance):
		return "insufficient_balance", http.StatusConflict
	case errors.Is(err, domain.ErrTransferFailed):
		return "transfer_failed", http.StatusConflict
	case errors.Is(err, domain.ErrLockHeld):
		return "lock_held", http.StatusTooManyRequests
	default:
		return "internal", http.StatusInternalServerError
	}
}

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON error response with a machine-readable kind and a
// human-readable message.
func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"kind": kind, "error": msg})
}

// writeDomainError maps a domain error to its kind and status and writes the
// response. Internal errors get a generic message so details stay in the logs.
func writeDomainError(w http.ResponseWriter, err error) {
	kind, status := errorKind(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeError(w, status, kind, msg)
}

// pathID extracts and parses a uint64 path parameter using Go 1.22+ built-in
// routing (http.Request.PathValue).
func pathID(r *http.Request, name string) (uint64, error) {
	v := r.PathValue(name)
	id, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, errors.Join(domain.ErrInvalidParams, err)
	}
	return id, nil
}

// pathIndex extracts and parses a uint8 outcome index path parameter.
func pathIndex(r *http.Request, name string) (uint8, error) {
	v := r.PathValue(name)
	idx, err := strconv.ParseUint(v, 10, 8)
	if err != nil {
		return 0, errors.Join(domain.ErrInvalidParams, err)
	}
	return uint8(idx), nil
}

// decodeBody parses the request body as JSON into dst.
func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.Join(domain.ErrInvalidParams, err)
	}
	return nil
}
