package signature

import "crypto/hmac"

// Verify checks whether the given signature matches the expected
// HMAC-SHA256 signature for the payload, secret, and millisecond
// timestamp. Comparison is constant-time, suitable for verifying inbound
// signed callbacks built with the same construction.
func (s *Signer) Verify(payload []byte, secret string, timestampMs int64, sig string) bool {
	return Verify(payload, secret, timestampMs, sig)
}

// Verify checks whether the given signature matches the expected
// HMAC-SHA256 signature for the payload, secret, and millisecond
// timestamp, in constant time.
func Verify(payload []byte, secret string, timestampMs int64, sig string) bool {
	expected := Sign(payload, secret, timestampMs)
	return hmac.Equal([]byte(expected), []byte(sig))
}
