// Package credential defines the rotating attendance credential: the token
// itself, its QR wire payload, and the structural/temporal checks a captured
// payload must pass before redemption is attempted.
package credential

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"rollcall/internal/idgen"
	dErrors "rollcall/pkg/domain-errors"
)

// PayloadType is the discriminator carried by every credential payload.
// Captured frames without it are rejected as malformed.
const PayloadType = "attendance_check"

// DefaultTTL is the policy default validity window for issued credentials.
const DefaultTTL = 5 * time.Minute

// Credential is a short-lived, location-bound attendance token. Immutable
// once issued; validity depends only on the clock, never on how many holders
// have seen it.
type Credential struct {
	ID          string
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Checksum    string
	BoundaryTag string
	Issuer      string
}

// Issue mints a credential scoped to boundaryTag with a validity window of
// exactly ttl. Issuance is pure local computation and never fails for valid
// input; the only error source is the entropy pool behind ID generation.
func Issue(boundaryTag, issuer string, now time.Time, ttl time.Duration) (Credential, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	id, err := idgen.NewCredentialID()
	if err != nil {
		return Credential{}, fmt.Errorf("issue credential: %w", err)
	}
	return Credential{
		ID:          id,
		IssuedAt:    now,
		ExpiresAt:   now.Add(ttl),
		Checksum:    Checksum(id, now),
		BoundaryTag: boundaryTag,
		Issuer:      issuer,
	}, nil
}

// Checksum derives the tamper/typo check for a credential. Deterministic over
// (id, issuedAt); a cheap integrity hint, not a cryptographic guarantee.
func Checksum(id string, issuedAt time.Time) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", id, issuedAt.Unix())))
	return hex.EncodeToString(sum[:])[:12]
}

// Expired reports whether the credential is past its validity window.
func (c Credential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// Remaining returns the time left in the validity window, clamped to zero so
// a backwards clock adjustment never yields a negative countdown.
func (c Credential) Remaining(now time.Time) time.Duration {
	if d := c.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Payload returns the wire form rendered for QR-style optical capture.
func (c Credential) Payload() Payload {
	return Payload{
		ID:          c.ID,
		Type:        PayloadType,
		IssuedAt:    c.IssuedAt.Unix(),
		ExpiresAt:   c.ExpiresAt.Unix(),
		Checksum:    c.Checksum,
		BoundaryTag: c.BoundaryTag,
		Issuer:      c.Issuer,
	}
}

// Payload is the flat record serialized into the QR code and decoded back on
// the holder side.
type Payload struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	IssuedAt    int64  `json:"issued_at"`
	ExpiresAt   int64  `json:"expires_at"`
	Checksum    string `json:"checksum,omitempty"`
	BoundaryTag string `json:"boundary_tag,omitempty"`
	Issuer      string `json:"issuer,omitempty"`
}

// Encode serializes the payload for display.
func (p Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}

// DecodePayload parses a captured frame and verifies its structure. Returns
// CodeMalformedCredential when the discriminator, id, or expiry is missing or
// the frame is not valid JSON.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return Payload{}, dErrors.Wrap(err, dErrors.CodeMalformedCredential, "unparseable credential payload")
	}
	if err := p.ValidateStructure(); err != nil {
		return Payload{}, err
	}
	return p, nil
}

// ValidateStructure checks the required fields are present. Checksum
// verification is separate: payloads from older issuers may omit it.
func (p Payload) ValidateStructure() error {
	if p.Type != PayloadType {
		return dErrors.Newf(dErrors.CodeMalformedCredential, "unexpected payload type %q", p.Type)
	}
	if p.ID == "" {
		return dErrors.New(dErrors.CodeMalformedCredential, "credential id missing")
	}
	if p.ExpiresAt == 0 {
		return dErrors.New(dErrors.CodeMalformedCredential, "credential expiry missing")
	}
	return nil
}

// ValidateFreshness fails with CodeExpiredCredential when the validity window
// has closed. Expiry is inclusive: now == expiresAt is already expired.
func (p Payload) ValidateFreshness(now time.Time) error {
	if now.Unix() >= p.ExpiresAt {
		return dErrors.New(dErrors.CodeExpiredCredential, "credential expired, scan a fresh code")
	}
	return nil
}

// VerifyChecksum recomputes the checksum from the payload fields. Payloads
// without a checksum pass; a present but mismatched checksum is malformed.
func (p Payload) VerifyChecksum() error {
	if p.Checksum == "" {
		return nil
	}
	if Checksum(p.ID, time.Unix(p.IssuedAt, 0)) != p.Checksum {
		return dErrors.New(dErrors.CodeMalformedCredential, "credential checksum mismatch")
	}
	return nil
}
