package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for hashed identities. The version suffix allows the
// encoding to change without colliding with old values.
const (
	DomainSubscription = "livechat/subscription/v1"
	DomainResult       = "livechat/result/v1"
)

// Hash computes SHA256(domain || 0x00 || data) as lowercase hex.
func Hash(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// SubscriptionKey identifies a live query: the same name, caller and
// arguments (after canonicalization) always produce the same key.
func SubscriptionKey(name, userID string, args []byte) (string, error) {
	decoded, err := Decode(args)
	if err != nil {
		return "", fmt.Errorf("subscription key: %w", err)
	}
	payload, err := Marshal(map[string]any{
		"args":   decoded,
		"caller": userID,
		"name":   name,
	})
	if err != nil {
		return "", fmt.Errorf("subscription key: %w", err)
	}
	return Hash(DomainSubscription, payload), nil
}

// ResultHash hashes an encoded query result. encoding/json output is
// deterministic for structs and maps, so no re-canonicalization is needed.
func ResultHash(encoded []byte) string {
	return Hash(DomainResult, encoded)
}
