package cipher

import (
	"crypto/rand"
	"fmt"
	"io"

	"github.com/flynn/noise"
)

// SuiteClassic identifies the fallback suite: a standard Noise XX
// handshake over Curve25519, negotiated without post-quantum KEM
// involvement, for deployments that can't yet afford the larger
// Kyber768 handshake messages.
const SuiteClassic = "classic-noise-xx"

var noiseCipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// NoiseKeyPair is a Curve25519 static key pair used as the long-term
// identity key in the classic suite's handshake.
type NoiseKeyPair = noise.DHKey

// GenerateNoiseKeyPair creates a fresh Curve25519 static key pair.
func GenerateNoiseKeyPair() (NoiseKeyPair, error) {
	return noiseCipherSuite.GenerateKeypair(rand.Reader)
}

// NoiseHandshake drives one side of a Noise XX exchange. The exchange
// processor (internal/exchange) owns the message ordering; this type only
// turns processor stage transitions into WriteMessage/ReadMessage calls.
type NoiseHandshake struct {
	state *noise.HandshakeState
}

// NewNoiseHandshake starts a Noise XX handshake state machine.
func NewNoiseHandshake(initiator bool, staticKeyPair NoiseKeyPair, prologue []byte, random io.Reader) (*NoiseHandshake, error) {
	if random == nil {
		random = rand.Reader
	}
	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   noiseCipherSuite,
		Random:        random,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		Prologue:      prologue,
		StaticKeypair: staticKeyPair,
	})
	if err != nil {
		return nil, fmt.Errorf("cipher: start noise handshake: %w", err)
	}
	return &NoiseHandshake{state: state}, nil
}

// WriteMessage advances the handshake by one outbound step. send/recv are
// non-nil once the final handshake message has been produced.
func (h *NoiseHandshake) WriteMessage(payload []byte) (message []byte, send, recv *noise.CipherState, err error) {
	message, send, recv, err = h.state.WriteMessage(nil, payload)
	if err != nil {
		err = fmt.Errorf("cipher: noise write message: %w", err)
	}
	return
}

// ReadMessage advances the handshake by one inbound step.
func (h *NoiseHandshake) ReadMessage(message []byte) (payload []byte, send, recv *noise.CipherState, err error) {
	payload, send, recv, err = h.state.ReadMessage(nil, message)
	if err != nil {
		err = fmt.Errorf("cipher: noise read message: %w", err)
	}
	return
}

type noisePackage struct {
	send *noise.CipherState
	recv *noise.CipherState
}

// NewNoisePackage wraps a completed Noise handshake's CipherState pair
// behind the shared Package contract. Noise already authenticates the
// channel during the handshake itself, so Sign/Verify are unsupported
// here rather than re-deriving a detached signature scheme.
func NewNoisePackage(send, recv *noise.CipherState) Package {
	return &noisePackage{send: send, recv: recv}
}

func (p *noisePackage) Encrypt(plaintext []byte) ([]byte, error) {
	ciphertext, err := p.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("cipher: noise encrypt: %w", err)
	}
	return ciphertext, nil
}

func (p *noisePackage) Decrypt(ciphertext []byte) ([]byte, error) {
	plaintext, err := p.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("cipher: noise decrypt: %w", err)
	}
	return plaintext, nil
}

func (p *noisePackage) Sign([]byte) ([]byte, error)      { return nil, ErrUnsupported }
func (p *noisePackage) Verify([]byte, []byte) error      { return ErrUnsupported }
func (p *noisePackage) EncryptedSize(plaintextSize int) int { return plaintextSize + 16 }
func (p *noisePackage) SignatureSize() int               { return 0 }
