package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/nci/satgate/catalog"
	"github.com/nci/satgate/jobs"
	"github.com/nci/satgate/processor"
	"github.com/nci/satgate/utils"
)

// upstreamError marks failures of a remote service the gateway depends on.
type upstreamError struct {
	err error
}

func (e *upstreamError) Error() string { return e.err.Error() }
func (e *upstreamError) Unwrap() error { return e.err }

// badRequest marks malformed request parameters.
type badRequest struct {
	msg string
}

func (e *badRequest) Error() string { return e.msg }

// errorStatus maps an error to its HTTP status. Anything not recognised
// is an internal failure.
func errorStatus(err error) int {
	var (
		rejected *utils.URLRejectedError
		bad      *badRequest
		upstream *upstreamError
	)
	switch {
	case errors.As(err, &bad):
		return http.StatusBadRequest
	case errors.As(err, &rejected):
		return http.StatusForbidden
	case utils.IsConfiguration(err), utils.IsBandNotFound(err):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrSceneNotFound), errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, processor.ErrNoData):
		return http.StatusUnprocessableEntity
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &upstream), utils.IsReadError(err):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

// fail writes err as a JSON error body. Internal failures are logged and
// their detail withheld from the client.
func fail(w http.ResponseWriter, logger zerolog.Logger, r *http.Request, err error) {
	status := errorStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		msg = http.StatusText(status)
	} else {
		logger.Debug().Err(err).Str("path", r.URL.Path).Int("status", status).Msg("request rejected")
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.Encode(v)
}
