package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/asaskevich/govalidator"

	"restaurant-pos/internal/apperr"
)

const maxBodyBytes = 1 << 20

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteProblem writes a simplified RFC 7807 Problem+JSON body.
func WriteProblem(w http.ResponseWriter, code int, typ, detail string) {
	w.Header().Set("Content-Type", "application/problem+json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   typ,
		"title":  http.StatusText(code),
		"status": code,
		"detail": detail,
	})
}

// StatusFor maps an error kind onto its HTTP status.
func StatusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindInvalidState:
		return http.StatusUnprocessableEntity
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// WriteError renders err as a problem. Internal errors hide their detail.
func WriteError(w http.ResponseWriter, err error) {
	kind := apperr.KindOf(err)
	detail := err.Error()
	if kind == apperr.KindInternal {
		detail = "internal error"
	}
	WriteProblem(w, StatusFor(kind), string(kind), detail)
}

// DecodeJSON reads one JSON object from the body into dst and runs the
// govalidator struct tags on it.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is empty")
		}
		return apperr.Validation("invalid JSON body: %v", err)
	}
	if _, err := govalidator.ValidateStruct(dst); err != nil {
		return apperr.Validation("%v", err)
	}
	return nil
}

// PathID returns the named path value, rejecting values that are not UUIDs.
func PathID(r *http.Request, key string) (string, error) {
	v := r.PathValue(key)
	if !govalidator.IsUUID(v) {
		return "", apperr.Validation("%s must be a UUID", key)
	}
	return v, nil
}

// QueryInt parses a non-negative integer query parameter with a default.
func QueryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
