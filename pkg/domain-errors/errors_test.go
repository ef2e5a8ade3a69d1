package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesCode(t *testing.T) {
	err := New(CodeExpiredCredential, "credential expired")
	assert.True(t, Is(err, CodeExpiredCredential))
	assert.False(t, Is(err, CodeMalformedCredential))
}

func TestIsSeesThroughWrapping(t *testing.T) {
	inner := Wrap(errors.New("connection refused"), CodeStoreUnavailable, "store submit failed")
	outer := fmt.Errorf("redeem: %w", inner)

	assert.True(t, Is(outer, CodeStoreUnavailable))
	assert.Equal(t, CodeStoreUnavailable, CodeOf(outer))
}

func TestCodeOfDefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain error")))
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		code Code
		want bool
	}{
		{CodeStoreUnavailable, true},
		{CodeTimeout, true},
		{CodeMalformedCredential, false},
		{CodeExpiredCredential, false},
		{CodeAlreadyRedeemed, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(New(tt.code, "x")))
		})
	}
}

func TestToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, ToHTTPStatus(CodeMalformedCredential))
	assert.Equal(t, http.StatusGone, ToHTTPStatus(CodeExpiredCredential))
	assert.Equal(t, http.StatusConflict, ToHTTPStatus(CodeAlreadyRedeemed))
	assert.Equal(t, http.StatusServiceUnavailable, ToHTTPStatus(CodeStoreUnavailable))
	assert.Equal(t, http.StatusInternalServerError, ToHTTPStatus(Code("unknown")))
}

func TestUnwrapPreservesCause(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(cause, CodeStoreUnavailable, "store unreachable")
	assert.ErrorIs(t, err, cause)
}
