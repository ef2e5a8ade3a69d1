package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "rollcall/pkg/domain-errors"
)

var issuedAt = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func TestIssueWindowIsExactlyTTL(t *testing.T) {
	cred, err := Issue("lecture-hall", "station-1", issuedAt, 300*time.Second)
	require.NoError(t, err)

	assert.True(t, cred.IssuedAt.Before(cred.ExpiresAt))
	assert.Equal(t, 300*time.Second, cred.ExpiresAt.Sub(cred.IssuedAt))
	assert.Equal(t, "lecture-hall", cred.BoundaryTag)
	assert.Equal(t, "station-1", cred.Issuer)
	assert.NotEmpty(t, cred.ID)
	assert.Equal(t, Checksum(cred.ID, issuedAt), cred.Checksum)
}

func TestIssueDefaultsTTL(t *testing.T) {
	cred, err := Issue("hall", "", issuedAt, 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultTTL, cred.ExpiresAt.Sub(cred.IssuedAt))
}

func TestRemainingClampsToZero(t *testing.T) {
	cred, err := Issue("hall", "", issuedAt, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cred.Remaining(issuedAt))
	assert.Equal(t, 30*time.Second, cred.Remaining(issuedAt.Add(30*time.Second)))
	// Clock past expiry, including a host clock jumping far forward.
	assert.Equal(t, time.Duration(0), cred.Remaining(issuedAt.Add(2*time.Minute)))
}

func TestPayloadRoundTrip(t *testing.T) {
	cred, err := Issue("hall", "station-1", issuedAt, 300*time.Second)
	require.NoError(t, err)

	raw, err := cred.Payload().Encode()
	require.NoError(t, err)

	decoded, err := DecodePayload(raw)
	require.NoError(t, err)
	assert.Equal(t, cred.ID, decoded.ID)
	assert.Equal(t, PayloadType, decoded.Type)
	assert.Equal(t, cred.ExpiresAt.Unix(), decoded.ExpiresAt)
	assert.NoError(t, decoded.VerifyChecksum())
}

func TestDecodePayloadStructuralFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{{{`},
		{"wrong type", `{"id":"atc-x","type":"gift_card","expires_at":1}`},
		{"missing id", `{"type":"attendance_check","expires_at":1}`},
		{"missing expiry", `{"id":"atc-x","type":"attendance_check"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePayload([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, dErrors.Is(err, dErrors.CodeMalformedCredential))
		})
	}
}

func TestValidateFreshness(t *testing.T) {
	cred, err := Issue("hall", "", issuedAt, 300*time.Second)
	require.NoError(t, err)
	p := cred.Payload()

	// t=0 and t=299 are fresh; t=300 (== expiresAt) and t=301 are not.
	assert.NoError(t, p.ValidateFreshness(issuedAt))
	assert.NoError(t, p.ValidateFreshness(issuedAt.Add(299*time.Second)))
	assert.True(t, dErrors.Is(p.ValidateFreshness(issuedAt.Add(300*time.Second)), dErrors.CodeExpiredCredential))
	assert.True(t, dErrors.Is(p.ValidateFreshness(issuedAt.Add(301*time.Second)), dErrors.CodeExpiredCredential))
}

func TestVerifyChecksumRejectsTamperedID(t *testing.T) {
	cred, err := Issue("hall", "", issuedAt, 300*time.Second)
	require.NoError(t, err)

	p := cred.Payload()
	p.ID = "atc-tampered01"
	err = p.VerifyChecksum()
	require.Error(t, err)
	assert.True(t, dErrors.Is(err, dErrors.CodeMalformedCredential))
}

func TestVerifyChecksumOptional(t *testing.T) {
	p := Payload{ID: "atc-x", Type: PayloadType, ExpiresAt: issuedAt.Unix()}
	assert.NoError(t, p.VerifyChecksum())
}

func TestChecksumDeterministic(t *testing.T) {
	a := Checksum("atc-abc", issuedAt)
	b := Checksum("atc-abc", issuedAt)
	c := Checksum("atc-abd", issuedAt)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 12)
}
