package mpc

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/cloudflare/circl/dh/x25519"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

// KeyPair is an X25519 key pair used on either side of the trust boundary:
// clients encrypt order fields to the cluster key, cluster nodes seal
// results back to the coordinator key.
type KeyPair struct {
	Public x25519.Key
	Secret x25519.Key
}

func GenerateKeyPair() (KeyPair, error) {
	var kp KeyPair
	if _, err := rand.Read(kp.Secret[:]); err != nil {
		return kp, fmt.Errorf("keygen: %w", err)
	}
	x25519.KeyGen(&kp.Public, &kp.Secret)
	return kp, nil
}

// Session is an authenticated-encryption context derived from an X25519
// shared secret. The AEAD key is the Keccak-256 of the raw shared point,
// so both sides derive it independently from (own secret, peer public).
type Session struct {
	aead cipher.AEAD
}

func NewSession(secret x25519.Key, peer x25519.Key) (*Session, error) {
	var shared x25519.Key
	if !x25519.Shared(&shared, &secret, &peer) {
		return nil, fmt.Errorf("session: low-order peer key")
	}
	aead, err := chacha20poly1305.NewX(ethcrypto.Keccak256(shared[:]))
	if err != nil {
		return nil, fmt.Errorf("session: %w", err)
	}
	return &Session{aead: aead}, nil
}

// fieldNonce derives a distinct nonce per envelope field from the base
// nonce. One base nonce therefore never repeats with the same key across
// fields.
func fieldNonce(base [NonceSize]byte, field byte) []byte {
	n := make([]byte, NonceSize)
	copy(n, base[:])
	n[NonceSize-1] ^= field
	return n
}

func fieldAD(label string, pairID uint64) []byte {
	ad := make([]byte, 0, len(label)+8)
	ad = append(ad, label...)
	ad = binary.LittleEndian.AppendUint64(ad, pairID)
	return ad
}

func (s *Session) seal(base [NonceSize]byte, field byte, label string, pairID uint64, plaintext []byte) []byte {
	return s.aead.Seal(nil, fieldNonce(base, field), plaintext, fieldAD(label, pairID))
}

func (s *Session) open(base [NonceSize]byte, field byte, label string, pairID uint64, ciphertext []byte) ([]byte, error) {
	pt, err := s.aead.Open(nil, fieldNonce(base, field), ciphertext, fieldAD(label, pairID))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", label, err)
	}
	return pt, nil
}

// DeriveTrader computes the anonymized 128-bit trader handle for a client
// key on one pair. The handle is stable per (key, pair) and reveals
// nothing about the key outside the boundary.
func DeriveTrader(clientKey x25519.Key, pairID uint64) book.TraderID {
	buf := make([]byte, 0, len(clientKey)+8)
	buf = append(buf, clientKey[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, pairID)
	var t book.TraderID
	copy(t[:], ethcrypto.Keccak256(buf)[:16])
	return t
}
