package session

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("socket hang up")
	err := WrapError(cause, CodeDriverFailure, "close browser failed")

	assert.Contains(t, err.Error(), "DRIVER_FAILURE")
	assert.Contains(t, err.Error(), "socket hang up")
	assert.ErrorIs(t, err, cause)
}

func TestWrapError_NilPassthrough(t *testing.T) {
	assert.Nil(t, WrapError(nil, CodeDriverFailure, "whatever"))
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{
			name: "direct session error",
			err:  NewError(CodeNotFound, "browser gone"),
			want: CodeNotFound,
		},
		{
			name: "wrapped session error",
			err:  fmt.Errorf("acquire failed: %w", NewError(CodeCapacityExceeded, "full")),
			want: CodeCapacityExceeded,
		},
		{
			name: "plain error",
			err:  errors.New("boom"),
			want: CodeDriverFailure,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestIsNotFound(t *testing.T) {
	assert.True(t, IsNotFound(notFound("browser", "b1")))
	assert.False(t, IsNotFound(NewError(CodeDriverFailure, "nope")))
	assert.False(t, IsNotFound(errors.New("plain")))
}

func TestWrapDriver_ClassifiesTimeouts(t *testing.T) {
	werr := wrapDriver("launch browser", context.DeadlineExceeded)
	require.NotNil(t, werr)
	assert.Equal(t, CodeDriverTimeout, werr.Code)

	werr = wrapDriver("launch browser", context.Canceled)
	require.NotNil(t, werr)
	assert.Equal(t, CodeDriverTimeout, werr.Code)

	werr = wrapDriver("launch browser", errors.New("no such binary"))
	require.NotNil(t, werr)
	assert.Equal(t, CodeDriverFailure, werr.Code)

	assert.Nil(t, wrapDriver("noop", nil))
}
