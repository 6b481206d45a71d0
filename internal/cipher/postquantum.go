package cipher

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"sync"

	"github.com/cloudflare/circl/kem"
	"github.com/cloudflare/circl/kem/kyber/kyber768"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// SuitePostQuantum identifies the default suite (spec.md §3): Kyber768 KEM
// plus Ed25519 transcript signatures, HKDF-derived session key, and
// ChaCha20-Poly1305 for the data-plane AEAD.
const SuitePostQuantum = "pq-kyber768"

// PostQuantumKeyPair is a Kyber768 encapsulation key pair.
type PostQuantumKeyPair struct {
	Public  kem.PublicKey
	Private kem.PrivateKey
}

// GeneratePostQuantumKeyPair creates a fresh Kyber768 key pair for one
// handshake attempt; the exchange processor discards it once the session
// key is derived (ephemeral, not the node's long-term identity key).
func GeneratePostQuantumKeyPair() (PostQuantumKeyPair, error) {
	scheme := kyber768.Scheme()
	public, private, err := scheme.GenerateKeyPair()
	if err != nil {
		return PostQuantumKeyPair{}, fmt.Errorf("cipher: generate kyber768 key pair: %w", err)
	}
	return PostQuantumKeyPair{Public: public, Private: private}, nil
}

// MarshalPublicKey serializes a Kyber768 public key for placement on the
// wire as a platform-parcel payload.
func MarshalPublicKey(public kem.PublicKey) ([]byte, error) {
	return public.MarshalBinary()
}

// UnmarshalPublicKey parses a Kyber768 public key received from a peer.
func UnmarshalPublicKey(raw []byte) (kem.PublicKey, error) {
	return kyber768.Scheme().UnmarshalBinaryPublicKey(raw)
}

// Encapsulate is invoked by the handshake acceptor against the initiator's
// public key, producing both the ciphertext to return and the shared
// secret the acceptor now holds.
func Encapsulate(peerPublic kem.PublicKey) (ciphertext, sharedSecret []byte, err error) {
	return kyber768.Scheme().Encapsulate(peerPublic)
}

// Decapsulate is invoked by the initiator against its own private key and
// the ciphertext the acceptor returned, recovering the same shared secret.
func Decapsulate(private kem.PrivateKey, ciphertext []byte) ([]byte, error) {
	return kyber768.Scheme().Decapsulate(private, ciphertext)
}

// DeriveSessionKey runs HKDF-SHA256 over the KEM shared secret, bound to
// the handshake transcript so a replayed secret from a different exchange
// cannot be substituted in.
func DeriveSessionKey(sharedSecret, transcript []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, sharedSecret, nil, transcript)
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("cipher: derive session key: %w", err)
	}
	return key, nil
}

// NewPostQuantumPackage builds the Package a completed post-quantum
// handshake hands off: an AEAD keyed by the derived session key, with
// Ed25519 signing/verification bound to each side's long-term identity
// key for authenticating subsequent platform traffic (e.g. heartbeats).
func NewPostQuantumPackage(sessionKey []byte, signingKey ed25519.PrivateKey, peerVerifyKey ed25519.PublicKey) (Package, error) {
	return newAEADPackage(sessionKey, signingKey, peerVerifyKey)
}

type aeadPackage struct {
	mu            sync.Mutex
	aead          cipherAEAD
	signingKey    ed25519.PrivateKey
	peerVerifyKey ed25519.PublicKey
}

// cipherAEAD narrows crypto/cipher.AEAD to what this package needs,
// matching what chacha20poly1305.New returns.
type cipherAEAD interface {
	NonceSize() int
	Overhead() int
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
}

func newAEADPackage(key []byte, signingKey ed25519.PrivateKey, peerVerifyKey ed25519.PublicKey) (*aeadPackage, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: build aead: %w", err)
	}
	return &aeadPackage{aead: aead, signingKey: signingKey, peerVerifyKey: peerVerifyKey}, nil
}

// Encrypt prepends a fresh random nonce to the sealed output, so the
// two directions of a connection never need to coordinate a counter.
func (p *aeadPackage) Encrypt(plaintext []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	nonce := make([]byte, p.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cipher: generate nonce: %w", err)
	}
	return p.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *aeadPackage) Decrypt(ciphertext []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	size := p.aead.NonceSize()
	if len(ciphertext) < size {
		return nil, fmt.Errorf("cipher: ciphertext shorter than nonce")
	}
	nonce, sealed := ciphertext[:size], ciphertext[size:]
	plaintext, err := p.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("cipher: decrypt: %w", err)
	}
	return plaintext, nil
}

func (p *aeadPackage) Sign(data []byte) ([]byte, error) {
	if p.signingKey == nil {
		return nil, ErrUnsupported
	}
	return ed25519.Sign(p.signingKey, data), nil
}

func (p *aeadPackage) Verify(data, signature []byte) error {
	if p.peerVerifyKey == nil {
		return ErrUnsupported
	}
	if !ed25519.Verify(p.peerVerifyKey, data, signature) {
		return fmt.Errorf("cipher: signature verification failed")
	}
	return nil
}

func (p *aeadPackage) EncryptedSize(plaintextSize int) int {
	return p.aead.NonceSize() + plaintextSize + p.aead.Overhead()
}

func (p *aeadPackage) SignatureSize() int { return ed25519.SignatureSize }
