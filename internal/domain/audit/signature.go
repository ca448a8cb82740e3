package audit

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"time"

	"golang.org/x/crypto/blake2b"
)

// MaxKeySize is the longest signing key accepted by Sign.
const MaxKeySize = blake2b.Size

type signaturePayload struct {
	EventID    string `json:"eventId"`
	EntityType string `json:"entityType"`
	EntityID   string `json:"entityId"`
	Action     string `json:"action"`
	Actor      string `json:"actor"`
	Details    string `json:"details,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

func buildSignaturePayload(e *Event) signaturePayload {
	payload := signaturePayload{
		EventID:    e.EventID.String(),
		EntityType: string(e.EntityType),
		EntityID:   e.EntityID,
		Action:     string(e.Action),
		Actor:      e.Actor,
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(e.Details) > 0 {
		payload.Details = base64.StdEncoding.EncodeToString(e.Details)
	}
	return payload
}

// Sign computes a keyed BLAKE2b-256 MAC over the event.
func Sign(e *Event, key []byte) ([]byte, error) {
	data, err := json.Marshal(buildSignaturePayload(e))
	if err != nil {
		return nil, err
	}
	mac, err := blake2b.New256(key)
	if err != nil {
		return nil, err
	}
	_, _ = mac.Write(data)
	return mac.Sum(nil), nil
}

// Verify checks the signature for the event.
func Verify(e *Event, key []byte) (bool, error) {
	if len(e.Signature) == 0 {
		return false, nil
	}
	expected, err := Sign(e, key)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(expected, e.Signature) == 1, nil
}
