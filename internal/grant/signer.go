// Package grant mints and validates the short-lived, DB-free grant tokens
// that authorize individual segment fetches, and evaluates whether a user
// may stream a tier-restricted album in the first place.
package grant

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// minSecretLen is the minimum acceptable HMAC key length.
const minSecretLen = 32

// Payload is the signed content of a grant token.
type Payload struct {
	StreamID       string `json:"sid"`
	TrackID        string `json:"tid"`
	VoiceID        string `json:"vid"`
	ContentVersion int64  `json:"cv"`
	UserID         string `json:"uid"`
	ExpiresAt      int64  `json:"exp"`
}

// WantPayload is what a validator expects a token to assert, compared
// field-by-field against the signed Payload.
type WantPayload struct {
	TrackID        string
	VoiceID        string
	ContentVersion int64
}

// Reason classifies why validation failed, or "ok" on success.
type Reason string

const (
	ReasonOK             Reason = "ok"
	ReasonExpired        Reason = "expired"
	ReasonWrongTrack     Reason = "wrong-track"
	ReasonWrongVoice     Reason = "wrong-voice"
	ReasonContentUpdated Reason = "content-updated"
	ReasonBadSignature   Reason = "bad-signature"
)

// ValidationResult is the outcome of Signer.Validate.
type ValidationResult struct {
	Valid   bool
	Reason  Reason
	Payload Payload
}

// Signer mints and validates HMAC-signed grant tokens.
type Signer struct {
	secret []byte
	ttl    time.Duration
}

// NewSigner creates a Signer. secret must be at least 32 bytes.
func NewSigner(secret []byte, ttl time.Duration) (*Signer, error) {
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("grant secret must be at least %d bytes, got %d", minSecretLen, len(secret))
	}
	return &Signer{secret: secret, ttl: ttl}, nil
}

// Mint serializes payload (stamping ExpiresAt from the signer's TTL) and
// returns "base64url(payload).hex(hmac-sha256)".
func (s *Signer) Mint(payload Payload) (string, error) {
	payload.ExpiresAt = time.Now().Add(s.ttl).Unix()

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshaling grant payload: %w", err)
	}
	encoded := base64.RawURLEncoding.EncodeToString(body)
	sig := s.sign(encoded)
	return encoded + "." + hex.EncodeToString(sig), nil
}

func (s *Signer) sign(encodedPayload string) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(encodedPayload))
	return mac.Sum(nil)
}

// Validate checks a token's signature, expiry, and that its claims match
// want, returning a reason on any mismatch.
func (s *Signer) Validate(token string, want WantPayload) (ValidationResult, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return ValidationResult{Valid: false, Reason: ReasonBadSignature}, nil
	}
	encoded, sigHex := parts[0], parts[1]

	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return ValidationResult{Valid: false, Reason: ReasonBadSignature}, nil
	}
	if !hmac.Equal(sig, s.sign(encoded)) {
		return ValidationResult{Valid: false, Reason: ReasonBadSignature}, nil
	}

	body, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return ValidationResult{Valid: false, Reason: ReasonBadSignature}, nil
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return ValidationResult{Valid: false, Reason: ReasonBadSignature}, nil
	}

	if time.Now().Unix() > payload.ExpiresAt {
		return ValidationResult{Valid: false, Reason: ReasonExpired, Payload: payload}, nil
	}
	if payload.TrackID != want.TrackID {
		return ValidationResult{Valid: false, Reason: ReasonWrongTrack, Payload: payload}, nil
	}
	if want.VoiceID != "" && payload.VoiceID != want.VoiceID {
		return ValidationResult{Valid: false, Reason: ReasonWrongVoice, Payload: payload}, nil
	}
	if payload.ContentVersion != want.ContentVersion {
		return ValidationResult{Valid: false, Reason: ReasonContentUpdated, Payload: payload}, nil
	}

	return ValidationResult{Valid: true, Reason: ReasonOK, Payload: payload}, nil
}
