// Package signature provides HMAC-SHA256 webhook signing and verification.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
)

// maxCacheEntries bounds the signature cache. Timestamps are coarse
// (milliseconds shared across a dispatch batch), so identical
// (secret, payload, timestamp) triples recur when one event fans out to
// many subscriptions.
const maxCacheEntries = 1024

// Signer computes HMAC-SHA256 signatures for webhook payloads, caching
// results for repeated (secret, payload, timestamp) triples.
type Signer struct {
	mu    sync.Mutex
	cache map[cacheKey]string
}

type cacheKey struct {
	secretSum [32]byte
	bodySum   [32]byte
	timestamp int64
}

// NewSigner returns a new Signer.
func NewSigner() *Signer {
	return &Signer{cache: make(map[cacheKey]string)}
}

// Sign generates the HMAC-SHA256 signature for the given payload.
// The content to sign is "{unix_ms_timestamp}.{payload}".
// Returns a signature in the format "sha256=<hex>".
func (s *Signer) Sign(payload []byte, secret string, timestampMs int64) string {
	key := cacheKey{
		secretSum: sha256.Sum256([]byte(secret)),
		bodySum:   sha256.Sum256(payload),
		timestamp: timestampMs,
	}

	s.mu.Lock()
	if sig, ok := s.cache[key]; ok {
		s.mu.Unlock()
		return sig
	}
	s.mu.Unlock()

	sig := Sign(payload, secret, timestampMs)

	s.mu.Lock()
	if len(s.cache) >= maxCacheEntries {
		s.cache = make(map[cacheKey]string, maxCacheEntries)
	}
	s.cache[key] = sig
	s.mu.Unlock()

	return sig
}

// Sign generates the HMAC-SHA256 signature for the given payload.
// The content to sign is "{unix_ms_timestamp}.{payload}".
// Returns a signature in the format "sha256=<hex>".
func Sign(payload []byte, secret string, timestampMs int64) string {
	content := fmt.Sprintf("%d.%s", timestampMs, payload)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(content))
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
