// Package cipher defines the negotiated-secret contract a completed
// handshake hands to the rest of the runtime (internal/session,
// internal/peer), per spec.md §3 and §4.5, along with the two concrete
// suites the exchange processor can negotiate.
package cipher

import "errors"

// Package is the capability contract a synchronizer produces once a
// handshake completes: symmetric encryption/decryption of application
// payloads, and (where the suite supports it) detached signing/
// verification over arbitrary transcripts.
type Package interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
	Sign(data []byte) ([]byte, error)
	Verify(data, signature []byte) error
	EncryptedSize(plaintextSize int) int
	SignatureSize() int
}

// ErrUnsupported is returned by Sign/Verify on suites whose handshake
// already authenticates the channel (the classic Noise XX suite), where a
// separate detached signature has no role to play.
var ErrUnsupported = errors.New("cipher: operation not supported by this suite")
