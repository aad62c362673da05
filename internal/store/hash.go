package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

// MessageHash produces a deterministic identifier for a chat message so the
// same message is never anonymized twice within a conversation. Only the
// fields that affect anonymization participate in the hash.
func MessageHash(role, content string) string {
	payload := struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: role, Content: content}

	data, err := json.Marshal(payload)
	if err != nil {
		// Marshal of two strings cannot fail, but keep a stable fallback.
		data = []byte(role + "\x00" + content)
	}

	return fmt.Sprintf("%x", sha256.Sum256(data))
}
