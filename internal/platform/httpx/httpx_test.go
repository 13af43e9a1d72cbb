package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prenda-erp/prenda-erp/internal/shared"
)

func TestStatusForWrappedErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: rate", shared.ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: annul", shared.ErrPermissionDenied), http.StatusForbidden},
		{fmt.Errorf("ledger: %w", shared.ErrAlreadyVoided), http.StatusConflict},
		{fmt.Errorf("ledger: %w", shared.ErrNoOpenRegister), http.StatusConflict},
		{fmt.Errorf("credit: %w", shared.ErrNotFound), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, StatusFor(tc.err), tc.err.Error())
	}
}

func TestRespondErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, errors.New("pq: connection refused"))

	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Empty(t, body.Detail)
	assert.Equal(t, "Internal Error", body.Title)
}

func TestRespondErrorValidationDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, fmt.Errorf("%w: tasa_mora_diaria must be <= 5", shared.ErrValidation))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var body ProblemDetail
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.Contains(t, body.Detail, "tasa_mora_diaria")
}
