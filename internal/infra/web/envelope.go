package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"vpn-subscription-shop/internal/domain"
)

// envelope is the uniform response shape: {"success":true,"data":...} or
// {"success":false,"error":"...","status":...}.
type envelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Status  int         `json:"status,omitempty"`
}

func writeData(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(envelope{Success: false, Error: msg, Status: code})
}

// writeDomainError maps domain sentinels onto HTTP codes; anything
// unknown becomes a 500 without leaking internals.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrLockBusy):
		writeError(w, http.StatusConflict, "operation already in progress")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
