package apperror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindStatus(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, KindValidation.Status())
	require.Equal(t, http.StatusNotFound, KindNotFound.Status())
	require.Equal(t, http.StatusTooManyRequests, KindRateLimited.Status())
	require.Equal(t, http.StatusAccepted, KindNotReady.Status())
	require.Equal(t, http.StatusGatewayTimeout, KindTimeout.Status())
	require.Equal(t, http.StatusRequestEntityTooLarge, KindPayloadTooLarge.Status())
	require.Equal(t, http.StatusInternalServerError, KindInternal.Status())
}

func TestWrapPreservesInnerKind(t *testing.T) {
	inner := NotFound(`binary %s`, `sha256-x`)
	outer := Wrap(KindInternal, `fetch failed`, inner)
	require.Equal(t, KindNotFound, outer.Kind)
	require.ErrorIs(t, outer, inner)
}

func TestWrapNilCause(t *testing.T) {
	err := Wrap(KindInternal, `boom`, nil)
	require.Equal(t, KindInternal, err.Kind)
	require.Nil(t, err.Cause)
}

func TestKindOfPlainError(t *testing.T) {
	require.Equal(t, KindInternal, KindOf(errors.New(`plain`)))
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, http.StatusTooManyRequests, StatusOf(RateLimited(`too fast`)))
}
