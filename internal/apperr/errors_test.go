package apperr

import (
	"database/sql"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"plain error", sql.ErrNoRows, CodeInternal},
		{"direct", NotFound("message not found"), CodeNotFound},
		{"wrapped", fmt.Errorf("send: %w", Forbidden("not a member")), CodeForbidden},
		{"with cause", Wrap(CodeInvalidArgument, "bad args", sql.ErrNoRows), CodeInvalidArgument},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestError_Unwrap(t *testing.T) {
	err := Wrap(CodeInternal, "query failed", sql.ErrNoRows)
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.Equal(t, "query failed: sql: no rows in result set", err.Error())
}

func TestIs(t *testing.T) {
	assert.True(t, Is(Unauthorized("no identity"), CodeUnauthorized))
	assert.False(t, Is(Unauthorized("no identity"), CodeForbidden))
	assert.False(t, Is(nil, CodeInternal))
}

func TestPublic(t *testing.T) {
	assert.Equal(t, "empty content", Public(fmt.Errorf("edit: %w", InvalidArg("empty content"))))
	assert.Equal(t, "internal error", Public(sql.ErrConnDone))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, CodeUnauthorized.HTTPStatus())
	assert.Equal(t, http.StatusNotFound, CodeNotFound.HTTPStatus())
	assert.Equal(t, http.StatusForbidden, CodeForbidden.HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, CodeInvalidArgument.HTTPStatus())
	assert.Equal(t, http.StatusConflict, CodeConflict.HTTPStatus())
	assert.Equal(t, http.StatusTooManyRequests, CodeResourceExhausted.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, CodeInternal.HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Code("WHATEVER").HTTPStatus())
}
