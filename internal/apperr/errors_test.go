package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindsSurviveWrapping(t *testing.T) {
	cause := errors.New("dial tcp: i/o timeout")
	err := fmt.Errorf("send to whatsapp: %w", Transient(cause))

	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsValidation(err))
}

func TestValidationFieldsMessage(t *testing.T) {
	err := ValidationFields("invalid channel credentials", map[string]string{
		"twitter":  "missing",
		"linkedin": "missing key access_token",
	})

	assert.True(t, IsValidation(err))
	assert.Equal(t,
		"validation error: invalid channel credentials (linkedin: missing key access_token; twitter: missing)",
		err.Error())
	assert.Len(t, FieldsOf(fmt.Errorf("wrap: %w", err)), 2)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{Validation("bad"), http.StatusUnprocessableEntity},
		{NotFound("campaign", "c1"), http.StatusNotFound},
		{StateConflict("target", "t1"), http.StatusConflict},
		{GenerationUnavailable(errors.New("503")), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err))
	}
}
