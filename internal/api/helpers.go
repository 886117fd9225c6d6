// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package api

import (
	"encoding/json"
	"net/http"

	"grimm.is/nautscan/internal/errors"
)

const (
	ErrInvalidBody = "Invalid request body"
	ErrNotFound    = "Not found"
)

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes a JSON error envelope.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, map[string]string{"error": msg})
}

// WriteKindError maps an internal error kind onto an HTTP status.
func WriteKindError(w http.ResponseWriter, err error) {
	switch errors.GetKind(err) {
	case errors.KindNotFound:
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.KindValidation:
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.KindAlreadyRunning:
		WriteError(w, http.StatusConflict, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// BindJSON decodes the request body into dest. It writes the error
// response itself and reports whether decoding succeeded.
func BindJSON[T any](w http.ResponseWriter, r *http.Request, dest *T) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		WriteError(w, http.StatusBadRequest, ErrInvalidBody)
		return false
	}
	return true
}
