package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"

	"github.com/arung-agamani/denpa-relay/internal/canonicaljson"
	"github.com/arung-agamani/denpa-relay/internal/model"
)

// envelope builds the on-wire JSON body for event, with keys sorted
// lexicographically at every nesting level — the ordering consumers must
// replicate to recompute the signature.
func envelope(event model.Event) ([]byte, error) {
	return canonicaljson.Marshal(map[string]any{
		"event_type":  string(event.EventType),
		"description": event.Description,
		"data":        event.Data,
		"timestamp":   event.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

// sign computes hex(HMAC-SHA256(signingKey, body)), unprefixed; callers
// attach the "sha256=" scheme marker when building the header.
func sign(signingKey string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(signingKey))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
