package server

import (
	"errors"
	"net/http"

	"collabtext/internal/changeset"
	"collabtext/internal/collab"
	"collabtext/internal/store"
)

// errBadRequest marks request bodies that could not be decoded.
var errBadRequest = errors.New("bad request")

// classify maps an error to an HTTP status and a short code shared with the
// websocket protocol.
func classify(err error) (int, string) {
	var verr *changeset.ValidationError
	var rerr *collab.ReconciliationError
	switch {
	case errors.Is(err, errBadRequest), errors.As(err, &verr):
		return http.StatusBadRequest, "invalid"
	case errors.As(err, &rerr):
		return http.StatusConflict, "resync"
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, store.ErrExists):
		return http.StatusConflict, "exists"
	case errors.Is(err, store.ErrConflict):
		return http.StatusServiceUnavailable, "busy"
	}
	return http.StatusInternalServerError, "internal"
}
