package errors

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "plain", err: fmt.Errorf("boom"), want: EInternal},
		{name: "coded", err: &Error{Code: EUnknownStat}, want: EUnknownStat},
		{
			name: "nested without code",
			err:  &Error{Op: "outer", Err: &Error{Code: EPageTooFar}},
			want: EPageTooFar,
		},
		{
			name: "wrapped by fmt",
			err:  fmt.Errorf("query: %w", &Error{Code: EUnavailable}),
			want: EUnavailable,
		},
		{name: "canceled", err: fmt.Errorf("build: %w", context.Canceled), want: ECanceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}

func TestErrorMessageAndOp(t *testing.T) {
	err := &Error{
		Op: "scheduler.build",
		Err: &Error{
			Code: ESourceUnreachable,
			Op:   "source.Count",
			Msg:  "count rows of player",
			Err:  fmt.Errorf("dial tcp: refused"),
		},
	}

	require.Equal(t, "scheduler.build", ErrorOp(err))
	require.Equal(t, "count rows of player", ErrorMessage(err))
	require.Equal(t, "count rows of player: dial tcp: refused", err.Err.Error())
	require.Equal(t, "<unavailable>", (&Error{Code: EUnavailable}).Error())
}

func TestWrap(t *testing.T) {
	require.NoError(t, Wrap(nil, EInternal, "op", "msg"))

	cause := fmt.Errorf("disk full")
	err := Wrap(cause, EPersistenceFailure, "persist.Save", "write index")
	require.Equal(t, EPersistenceFailure, ErrorCode(err))
	require.ErrorIs(t, err, cause)
}

func TestMarshalJSON(t *testing.T) {
	err := &Error{
		Code: EPageTooFar,
		Msg:  "page 40 is beyond 10 samples",
		Op:   "query.GetPage",
		Err:  fmt.Errorf("out of range"),
	}
	b, merr := json.Marshal(err)
	require.NoError(t, merr)
	require.JSONEq(t, `{"code":"page too far","message":"page 40 is beyond 10 samples","op":"query.GetPage","error":"out of range"}`, string(b))
}
