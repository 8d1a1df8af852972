// Package api writes JSON responses and errors for HTTP handlers.
package api

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

type APIOptFn func(*API)

func WithLog(logger *zap.Logger) APIOptFn {
	return func(api *API) {
		api.logger = logger
	}
}

// WithErrFn sets how an error is turned into a response body and status.
func WithErrFn(fn func(err error) (interface{}, int, error)) APIOptFn {
	return func(api *API) {
		api.errFn = fn
	}
}

func WithPrettyJSON(b bool) APIOptFn {
	return func(api *API) {
		api.prettyJSON = b
	}
}

// API encodes responses. A nil *API is usable and writes compact JSON.
type API struct {
	logger *zap.Logger

	prettyJSON bool

	errFn func(err error) (interface{}, int, error)
}

func New(opts ...APIOptFn) *API {
	api := API{
		logger: zap.NewNop(),
		errFn: func(err error) (interface{}, int, error) {
			return ErrBody{
				Code: "internal error",
				Msg:  err.Error(),
			}, http.StatusInternalServerError, nil
		},
	}
	for _, o := range opts {
		o(&api)
	}
	return &api
}

// Respond writes v as JSON with the given status.
func (a *API) Respond(w http.ResponseWriter, status int, v interface{}) {
	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	if a != nil && a.prettyJSON {
		enc.SetIndent("", "\t")
	}

	w.WriteHeader(status)
	if err := enc.Encode(v); err != nil && a != nil {
		a.logger.Error("failed to encode response", zap.Error(err))
	}
}

// Err writes err using the error function of the API. Server side failures
// are logged at error level, client mistakes at debug level.
func (a *API) Err(w http.ResponseWriter, r *http.Request, err error) {
	if err == nil {
		return
	}
	if a == nil {
		a = New()
	}

	v, status, encErr := a.errFn(err)
	if encErr != nil {
		a.logger.Error("failed to write err to response writer", zap.Error(encErr))
		a.Respond(w, http.StatusInternalServerError, ErrBody{
			Code: "internal error",
			Msg:  "an unexpected error occurred",
		})
		return
	}

	fields := []zap.Field{zap.Error(err), zap.String("path", r.URL.Path), zap.Int("status", status)}
	if status >= http.StatusInternalServerError {
		a.logger.Error("api error encountered", fields...)
	} else {
		a.logger.Debug("api error encountered", fields...)
	}
	a.Respond(w, status, v)
}

type ErrBody struct {
	Code string `json:"code"`
	Msg  string `json:"message"`
}
