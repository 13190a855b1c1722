package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPredicates(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		notFound      bool
		validation    bool
		conflict      bool
		integrity     bool
		expectedState int
	}{
		{"not found", NewNotFoundError("node"), true, false, false, false, http.StatusNotFound},
		{"validation", NewValidationError("bad"), false, true, false, false, http.StatusBadRequest},
		{"conflict", NewConflictError("dup"), false, false, true, false, http.StatusConflict},
		{"integrity", NewGraphIntegrityError("loop"), false, true, false, true, http.StatusUnprocessableEntity},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := fmt.Errorf("outer: %w", tt.err)

			assert.Equal(t, tt.notFound, IsNotFound(wrapped))
			assert.Equal(t, tt.validation, IsValidation(wrapped))
			assert.Equal(t, tt.conflict, IsConflict(wrapped))
			assert.Equal(t, tt.integrity, IsGraphIntegrity(wrapped))
			assert.Equal(t, tt.expectedState, GetAppError(wrapped).HTTPStatus)
		})
	}
}

func TestWrap_KeepsTypeAndDoesNotMutateOriginal(t *testing.T) {
	original := NewNotFoundError("session")

	wrapped := Wrap(original, "load session")

	assert.True(t, IsNotFound(wrapped))
	assert.Equal(t, "load session: session not found", GetAppError(wrapped).Message)
	assert.Equal(t, "session not found", original.Message)
}

func TestWrap_PlainErrorBecomesInternal(t *testing.T) {
	cause := stderrors.New("boom")

	wrapped := Wrap(cause, "ctx")

	assert.True(t, IsInternal(wrapped))
	assert.ErrorIs(t, wrapped, cause)
	assert.Nil(t, Wrap(nil, "ctx"))
}

func TestHandler_Handle(t *testing.T) {
	h := NewHandler(zap.NewNop(), false)

	t.Run("app error keeps message and details", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)

		err := NewValidationError("incomplete").WithDetails(map[string]interface{}{"incomplete_nodes": []string{"a"}})
		h.Handle(rec, req, err)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), `"type":"VALIDATION"`)
		assert.Contains(t, rec.Body.String(), "incomplete_nodes")
	})

	t.Run("internal details hidden", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)

		h.Handle(rec, req, NewDatabaseError("query", stderrors.New("secret dsn")))

		require.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "secret dsn")
	})

	t.Run("recoverer", func(t *testing.T) {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/x", nil)

		h.Recoverer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("kaboom")
		})).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
