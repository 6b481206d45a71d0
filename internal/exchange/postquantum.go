package exchange

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/brypt-mesh/node/internal/cipher"
)

// PostQuantumSynchronizer drives one side of the default Kyber768 +
// Ed25519 handshake (spec.md §3, §4.5): the initiator sends its ephemeral
// KEM public key; the acceptor encapsulates against it and replies with
// the ciphertext plus a detached signature over the transcript; both
// sides then hold the same HKDF-derived session key.
type PostQuantumSynchronizer struct {
	role Role

	signingKey    ed25519.PrivateKey
	peerVerifyKey ed25519.PublicKey

	ephemeral  cipher.PostQuantumKeyPair
	transcript []byte

	status Status
	pkg    cipher.Package
}

// NewPostQuantumSynchronizer builds a synchronizer for one handshake
// attempt. signingKey is this node's long-term Ed25519 identity key;
// peerVerifyKey is the expected peer's, known in advance (e.g. from its
// external identifier's bootstrap record).
func NewPostQuantumSynchronizer(role Role, signingKey ed25519.PrivateKey, peerVerifyKey ed25519.PublicKey) *PostQuantumSynchronizer {
	return &PostQuantumSynchronizer{role: role, signingKey: signingKey, peerVerifyKey: peerVerifyKey}
}

func (s *PostQuantumSynchronizer) Stages() int { return 2 }

func (s *PostQuantumSynchronizer) CurrentStatus() Status { return s.status }

// Initialize generates the initiator's ephemeral key pair and emits its
// public key; the acceptor has nothing to send until it sees that key.
func (s *PostQuantumSynchronizer) Initialize() (Status, []byte, error) {
	if s.role == RoleAcceptor {
		s.status = StatusProcessing
		return s.status, nil, nil
	}
	keyPair, err := cipher.GeneratePostQuantumKeyPair()
	if err != nil {
		s.status = StatusError
		return s.status, nil, err
	}
	s.ephemeral = keyPair
	public, err := cipher.MarshalPublicKey(keyPair.Public)
	if err != nil {
		s.status = StatusError
		return s.status, nil, err
	}
	s.transcript = append([]byte{}, public...)
	s.status = StatusProcessing
	return s.status, public, nil
}

// Synchronize consumes the peer's half of the exchange.
func (s *PostQuantumSynchronizer) Synchronize(in []byte) (Status, []byte, error) {
	if s.role == RoleAcceptor {
		return s.synchronizeAsAcceptor(in)
	}
	return s.synchronizeAsInitiator(in)
}

func (s *PostQuantumSynchronizer) synchronizeAsAcceptor(initiatorPublic []byte) (Status, []byte, error) {
	public, err := cipher.UnmarshalPublicKey(initiatorPublic)
	if err != nil {
		s.status = StatusError
		return s.status, nil, fmt.Errorf("exchange: parse initiator public key: %w", err)
	}
	ciphertext, sharedSecret, err := cipher.Encapsulate(public)
	if err != nil {
		s.status = StatusError
		return s.status, nil, fmt.Errorf("exchange: encapsulate: %w", err)
	}

	transcript := append(append([]byte{}, initiatorPublic...), ciphertext...)
	sessionKey, err := cipher.DeriveSessionKey(sharedSecret, transcript)
	if err != nil {
		s.status = StatusError
		return s.status, nil, err
	}
	pkg, err := cipher.NewPostQuantumPackage(sessionKey, s.signingKey, s.peerVerifyKey)
	if err != nil {
		s.status = StatusError
		return s.status, nil, err
	}
	s.pkg = pkg

	signature := ed25519.Sign(s.signingKey, transcript)
	verifyKey := s.signingKey.Public().(ed25519.PublicKey)
	out := encodeAcceptorReply(ciphertext, signature, verifyKey)

	s.status = StatusReady
	return s.status, out, nil
}

func (s *PostQuantumSynchronizer) synchronizeAsInitiator(reply []byte) (Status, []byte, error) {
	ciphertext, signature, acceptorVerifyKey, err := decodeAcceptorReply(reply)
	if err != nil {
		s.status = StatusError
		return s.status, nil, err
	}
	sharedSecret, err := cipher.Decapsulate(s.ephemeral.Private, ciphertext)
	if err != nil {
		s.status = StatusError
		return s.status, nil, fmt.Errorf("exchange: decapsulate: %w", err)
	}

	transcript := append(append([]byte{}, s.transcript...), ciphertext...)
	if !ed25519.Verify(acceptorVerifyKey, transcript, signature) {
		s.status = StatusError
		return s.status, nil, fmt.Errorf("exchange: acceptor transcript signature invalid")
	}
	if s.peerVerifyKey != nil && !bytes.Equal(s.peerVerifyKey, acceptorVerifyKey) {
		s.status = StatusError
		return s.status, nil, fmt.Errorf("exchange: acceptor identity key does not match expected peer")
	}

	sessionKey, err := cipher.DeriveSessionKey(sharedSecret, transcript)
	if err != nil {
		s.status = StatusError
		return s.status, nil, err
	}
	pkg, err := cipher.NewPostQuantumPackage(sessionKey, s.signingKey, acceptorVerifyKey)
	if err != nil {
		s.status = StatusError
		return s.status, nil, err
	}
	s.pkg = pkg
	s.status = StatusReady
	return s.status, nil, nil
}

func (s *PostQuantumSynchronizer) Finalize() (cipher.Package, bool) {
	if s.status != StatusReady || s.pkg == nil {
		return nil, false
	}
	return s.pkg, true
}

func encodeAcceptorReply(ciphertext, signature, verifyKey []byte) []byte {
	buf := make([]byte, 0, 2+len(ciphertext)+2+len(signature)+2+len(verifyKey))
	buf = appendLengthPrefixed(buf, ciphertext)
	buf = appendLengthPrefixed(buf, signature)
	buf = appendLengthPrefixed(buf, verifyKey)
	return buf
}

func decodeAcceptorReply(raw []byte) (ciphertext, signature, verifyKey []byte, err error) {
	rest := raw
	if ciphertext, rest, err = takeLengthPrefixed(rest); err != nil {
		return nil, nil, nil, err
	}
	if signature, rest, err = takeLengthPrefixed(rest); err != nil {
		return nil, nil, nil, err
	}
	if verifyKey, _, err = takeLengthPrefixed(rest); err != nil {
		return nil, nil, nil, err
	}
	return ciphertext, signature, verifyKey, nil
}

func appendLengthPrefixed(buf, data []byte) []byte {
	var size [2]byte
	binary.LittleEndian.PutUint16(size[:], uint16(len(data)))
	buf = append(buf, size[:]...)
	return append(buf, data...)
}

func takeLengthPrefixed(buf []byte) (data, rest []byte, err error) {
	if len(buf) < 2 {
		return nil, nil, fmt.Errorf("exchange: malformed acceptor reply: missing length prefix")
	}
	size := int(binary.LittleEndian.Uint16(buf[:2]))
	if len(buf) < 2+size {
		return nil, nil, fmt.Errorf("exchange: malformed acceptor reply: short field")
	}
	return buf[2 : 2+size], buf[2+size:], nil
}
