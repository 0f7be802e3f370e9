package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"chat-server/internal/auth"
	"chat-server/internal/config"
	"chat-server/internal/database"
	"chat-server/internal/models"
	"chat-server/internal/services"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: name", services.ErrInvalidInput), http.StatusBadRequest},
		{services.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: group", services.ErrNotFound), http.StatusNotFound},
		{database.ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: pending", services.ErrConflict), http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeError(rec, "test", tt.err)
		assert.Equal(t, tt.code, rec.Code, tt.err.Error())
	}
}

func TestAuthenticate(t *testing.T) {
	cfg := &config.Config{JWT: config.JWTConfig{Secret: []byte("s3cret"), ExpiresIn: time.Hour}}
	svc := auth.NewService(nil, cfg)
	user := &models.User{ID: uuid.New(), Username: "dana", Email: "d@x.io"}
	token, err := svc.GenerateToken(user)
	require.NoError(t, err)

	r := httptest.NewRequest(http.MethodGet, "/groups", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	got, err := authenticate(svc, r)
	require.NoError(t, err)
	assert.Equal(t, user.ID, got)

	r = httptest.NewRequest(http.MethodGet, "/groups", nil)
	_, err = authenticate(svc, r)
	assert.ErrorIs(t, err, auth.ErrMissingToken)
}

func TestGroupHandlersRejectAnonymous(t *testing.T) {
	cfg := &config.Config{JWT: config.JWTConfig{Secret: []byte("s3cret"), ExpiresIn: time.Hour}}
	h := NewGroupHandlers(nil, auth.NewService(nil, cfg))

	rec := httptest.NewRecorder()
	h.ListGroups(rec, httptest.NewRequest(http.MethodGet, "/groups", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/groups", nil)
	r.Header.Set("Authorization", "Bearer not-a-jwt")
	h.ListGroups(rec, r)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
