package idempotency

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint hashes the parts of a request that must match on replay.
// JSON bodies are canonicalized so key order and whitespace do not matter.
func Fingerprint(method, path, actor string, body []byte) string {
	h := sha256.New()
	for _, part := range []string{method, path, actor} {
		h.Write([]byte(part))
		h.Write([]byte{'|'})
	}
	h.Write(canonicalJSON(body))
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalJSON(body []byte) []byte {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return body
	}
	out, err := json.Marshal(v)
	if err != nil {
		return body
	}
	return out
}
