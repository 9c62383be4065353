package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

type stockErr struct{}

func (stockErr) Error() string { return "short" }
func (stockErr) Unwrap() error { return ErrBusinessRule }
func (stockErr) ProblemExtensions() map[string]any {
	return map[string]any{"available": 3}
}

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("wrap: %w", ErrNotFound), http.StatusNotFound},
		{ErrValidation, http.StatusBadRequest},
		{ErrBusinessRule, http.StatusBadRequest},
		{ErrConflict, http.StatusConflict},
		{ErrDuplicate, http.StatusConflict},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		RespondError(rec, tc.err)
		require.Equal(t, tc.status, rec.Code, tc.err.Error())
		require.Equal(t, problemContentType, rec.Header().Get("Content-Type"))
	}
}

func TestNewErrorKeepsMessageAndKind(t *testing.T) {
	missing := NewError("inventory: stock record not found", ErrNotFound)
	wrapped := fmt.Errorf("load: %w", missing)

	require.Equal(t, "inventory: stock record not found", missing.Error())
	require.ErrorIs(t, wrapped, missing)
	require.ErrorIs(t, wrapped, ErrNotFound)
	require.NotErrorIs(t, wrapped, ErrConflict)
	require.Equal(t, http.StatusNotFound, StatusOf(wrapped))
	require.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("boom")))

	rec := httptest.NewRecorder()
	RespondError(rec, wrapped)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, errors.New("pq: connection refused"))

	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Empty(t, body.Detail)
}

func TestRespondErrorCarriesExtensions(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondError(rec, stockErr{})

	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Equal(t, http.StatusBadRequest, body.Status)
	require.EqualValues(t, 3, body.Extensions["available"])
}
