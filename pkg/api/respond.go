package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/errdefs"
)

// errorBody is the wire shape of every failure: a user-safe detail and a
// stable machine-readable code.
type errorBody struct {
	Detail string `json:"detail"`
	Code   string `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// writeError maps err through the taxonomy: status from HTTPStatus, text
// from Message, code from Code. Handlers never pick status codes by hand.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errdefs.HTTPStatus(err)
	writeJSON(w, status, errorBody{Detail: errdefs.Message(err), Code: errdefs.Code(err)})
}

// decodeJSON parses the request body into v. Unknown fields are rejected so
// typos in payloads fail loudly instead of silently dropping settings.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %v: %w", err, errdefs.ErrBadRequest)
	}
	return nil
}

// decodeOptionalJSON parses a body that may legitimately be empty; absent
// bodies leave v at its zero value.
func decodeOptionalJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if err == nil || err == io.EOF {
		return nil
	}
	return fmt.Errorf("invalid request body: %v: %w", err, errdefs.ErrBadRequest)
}

// pathUUID parses a chi URL parameter as a UUID.
func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, errdefs.ErrBadRequest)
	}
	return id, nil
}

// queryUUID parses an optional query-string UUID; absent returns uuid.Nil.
func queryUUID(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", name, errdefs.ErrBadRequest)
	}
	return id, nil
}

// parseLimit reads limit/offset paging with bounds. Out-of-range values
// clamp rather than error.
func parseLimit(r *http.Request, def, max int) (limit, offset int) {
	limit = def
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > max {
		limit = max
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
