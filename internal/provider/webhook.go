package provider

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
)

// SignatureHeader carries "sha256=" + hex(HMAC-SHA256(secret, raw body)).
const SignatureHeader = "X-Webhook-Signature"

const signaturePrefix = "sha256="

// Webhook event types.
const (
	EventPostCallTranscription = "post_call_transcription"
	EventBatchStatusUpdate     = "batch_status_update"
)

var (
	ErrSignatureVerification = errors.New("provider: webhook signature verification failed")
	ErrMissingSecret         = errors.New("provider: webhook secret not configured")
	ErrMalformedEnvelope     = errors.New("provider: malformed webhook envelope")
)

// Envelope is the outer webhook body.
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Sign returns the header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks header against the raw body in constant time.
func VerifySignature(secret string, body []byte, header string) error {
	if secret == "" {
		return ErrMissingSecret
	}
	header = strings.TrimSpace(header)
	if !strings.HasPrefix(header, signaturePrefix) {
		return ErrSignatureVerification
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return ErrSignatureVerification
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrSignatureVerification
	}
	return nil
}

// ParseEnvelope decodes the outer envelope. It does not interpret Data.
func ParseEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, ErrMalformedEnvelope
	}
	if env.Type == "" {
		return Envelope{}, ErrMalformedEnvelope
	}
	return env, nil
}

// DecodeConversation decodes a post_call_transcription data payload.
func DecodeConversation(data json.RawMessage) (Conversation, error) {
	var c Conversation
	if err := json.Unmarshal(data, &c); err != nil || c.ConversationID == "" {
		return Conversation{}, ErrMalformedEnvelope
	}
	return c, nil
}

// DecodeBatchStatus decodes a batch_status_update data payload. Both "batch_id"
// and "id" are accepted for the batch identifier.
func DecodeBatchStatus(data json.RawMessage) (BatchStatusUpdate, error) {
	var u struct {
		BatchStatusUpdate
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &u); err != nil {
		return BatchStatusUpdate{}, ErrMalformedEnvelope
	}
	if u.BatchID == "" {
		u.BatchID = u.ID
	}
	if u.BatchID == "" {
		return BatchStatusUpdate{}, ErrMalformedEnvelope
	}
	return u.BatchStatusUpdate, nil
}
