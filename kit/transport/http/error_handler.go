package http

import (
	"net/http"

	"github.com/cheeseformice/ranking/kit/platform/errors"
	"github.com/cheeseformice/ranking/pkg/api"
)

// PlatformErrorCodeHeader shows the error code of platform error.
const PlatformErrorCodeHeader = "X-Platform-Error-Code"

// StatusCode returns the platform code of err and the HTTP status it maps to.
// Unknown codes map to 500.
func StatusCode(err error) (string, int) {
	code := errors.ErrorCode(err)
	status, ok := statusCodePlatformError[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return code, status
}

// ErrorBody converts err into the JSON error body and status of a response.
// It is meant to be passed to api.WithErrFn.
func ErrorBody(err error) (interface{}, int, error) {
	code, status := StatusCode(err)
	msg := errors.ErrorMessage(err)
	if code == errors.EInternal {
		msg = "An internal error has occurred"
	}
	return api.ErrBody{Code: code, Msg: msg}, status, nil
}

// ErrorCodeHeader sets the platform error code header of a response.
func ErrorCodeHeader(w http.ResponseWriter, err error) {
	code, _ := StatusCode(err)
	w.Header().Set(PlatformErrorCodeHeader, code)
}

// statusCodePlatformError is the map convert platform.Error to error
var statusCodePlatformError = map[string]int{
	errors.EInternal:           http.StatusInternalServerError,
	errors.EInvalid:            http.StatusBadRequest,
	errors.EUnknownTable:       http.StatusNotFound,
	errors.EUnknownStat:        http.StatusNotFound,
	errors.EPageTooFar:         http.StatusNotFound,
	errors.EUnavailable:        http.StatusServiceUnavailable,
	errors.ESourceUnreachable:  http.StatusBadGateway,
	errors.EAllocationFailure:  http.StatusInsufficientStorage,
	errors.EPersistenceFailure: http.StatusInternalServerError,
	errors.ECanceled:           http.StatusServiceUnavailable,
}
