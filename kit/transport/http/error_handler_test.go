package http_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/cheeseformice/ranking"
	ierrors "github.com/cheeseformice/ranking/kit/platform/errors"
	kithttp "github.com/cheeseformice/ranking/kit/transport/http"
	"github.com/cheeseformice/ranking/pkg/api"
	"github.com/stretchr/testify/require"
)

func TestStatusCode(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{err: ranking.ErrUnknownTable("op", "x"), code: ierrors.EUnknownTable, status: http.StatusNotFound},
		{err: ranking.ErrUnknownStat("op", "player", "x"), code: ierrors.EUnknownStat, status: http.StatusNotFound},
		{err: ranking.ErrUnavailable("op", "player"), code: ierrors.EUnavailable, status: http.StatusServiceUnavailable},
		{err: ranking.ErrPageTooFar("op", 50, 5), code: ierrors.EPageTooFar, status: http.StatusNotFound},
		{err: ierrors.Errorf(ierrors.EInvalid, "op", "bad"), code: ierrors.EInvalid, status: http.StatusBadRequest},
		{err: errors.New("boom"), code: ierrors.EInternal, status: http.StatusInternalServerError},
		{err: context.Canceled, code: ierrors.ECanceled, status: http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		code, status := kithttp.StatusCode(tt.err)
		require.Equal(t, tt.code, code, tt.err.Error())
		require.Equal(t, tt.status, status, tt.err.Error())
	}
}

func TestErrorBody(t *testing.T) {
	body, status, err := kithttp.ErrorBody(ranking.ErrPageTooFar("query.GetPage", 50, 5))
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, api.ErrBody{
		Code: ierrors.EPageTooFar,
		Msg:  "page too far: rank 50 is beyond the 5 indexed samples",
	}, body)

	body, _, _ = kithttp.ErrorBody(errors.New("secret internals"))
	require.Equal(t, "An internal error has occurred", body.(api.ErrBody).Msg)
}
