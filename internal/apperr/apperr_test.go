package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusForbidden, HTTPStatus(ErrNotParticipant))
	assert.Equal(t, http.StatusNotFound, HTTPStatus(fmt.Errorf("load: %w", ErrConversationNotFound)))
	assert.Equal(t, http.StatusConflict, HTTPStatus(ErrEditWindowClosed))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(errors.New("boom")))
}

func TestMessageHidesCause(t *testing.T) {
	err := Internal("db error", errors.New("disk on fire"))
	assert.Equal(t, "db error", Message(err))
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Equal(t, "internal error", Message(errors.New("raw")))
}
