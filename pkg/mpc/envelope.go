package mpc

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cloudflare/circl/dh/x25519"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

const (
	NonceSize = chacha20poly1305.NonceSizeX
	tagSize   = chacha20poly1305.Overhead

	// ciphertext sizes: plaintext length + AEAD tag
	U64CipherSize    = 8 + tagSize
	SideCipherSize   = 1 + tagSize
	TraderCipherSize = 16 + tagSize
)

var ErrMalformedEnvelope = errors.New("malformed order envelope")

// field indices for nonce domain separation
const (
	fieldPrice byte = iota + 1
	fieldQuantity
	fieldSide
	fieldTrader
)

// Envelope is the submission container crossing the trust boundary. Every
// order field is an authenticated ciphertext of fixed size; the core never
// inspects or branches on plaintext order content.
type Envelope struct {
	Price     [U64CipherSize]byte
	Quantity  [U64CipherSize]byte
	Side      [SideCipherSize]byte
	Trader    [TraderCipherSize]byte
	ClientKey x25519.Key
	Nonce     [NonceSize]byte
}

// Validate performs the boundary checks possible without decryption.
func (e *Envelope) Validate() error {
	if e == nil {
		return ErrMalformedEnvelope
	}
	var zeroKey x25519.Key
	if e.ClientKey == zeroKey {
		return fmt.Errorf("%w: zero client key", ErrMalformedEnvelope)
	}
	var zeroNonce [NonceSize]byte
	if e.Nonce == zeroNonce {
		return fmt.Errorf("%w: zero nonce", ErrMalformedEnvelope)
	}
	return nil
}

// SealOrder encrypts one order to the cluster's public key. Runs on the
// client side of the boundary; the core only ever transports the result.
func SealOrder(client KeyPair, clusterPub x25519.Key, pairID uint64,
	price, quantity uint64, side book.Side, trader book.TraderID) (*Envelope, error) {

	if price == 0 || quantity == 0 {
		return nil, fmt.Errorf("%w: zero price or quantity", ErrMalformedEnvelope)
	}

	sess, err := NewSession(client.Secret, clusterPub)
	if err != nil {
		return nil, err
	}

	e := &Envelope{ClientKey: client.Public}
	if _, err := rand.Read(e.Nonce[:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}

	var u64buf [8]byte
	binary.LittleEndian.PutUint64(u64buf[:], price)
	copy(e.Price[:], sess.seal(e.Nonce, fieldPrice, "price", pairID, u64buf[:]))

	binary.LittleEndian.PutUint64(u64buf[:], quantity)
	copy(e.Quantity[:], sess.seal(e.Nonce, fieldQuantity, "quantity", pairID, u64buf[:]))

	copy(e.Side[:], sess.seal(e.Nonce, fieldSide, "side", pairID, []byte{byte(side)}))
	copy(e.Trader[:], sess.seal(e.Nonce, fieldTrader, "trader", pairID, trader[:]))
	return e, nil
}

// OpenOrder decrypts an envelope with the cluster secret. Only computation
// nodes ever call this; the resulting plaintext stays inside the boundary.
func OpenOrder(clusterSecret x25519.Key, pairID uint64, e *Envelope) (*book.Order, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	sess, err := NewSession(clusterSecret, e.ClientKey)
	if err != nil {
		return nil, err
	}

	priceRaw, err := sess.open(e.Nonce, fieldPrice, "price", pairID, e.Price[:])
	if err != nil {
		return nil, err
	}
	qtyRaw, err := sess.open(e.Nonce, fieldQuantity, "quantity", pairID, e.Quantity[:])
	if err != nil {
		return nil, err
	}
	sideRaw, err := sess.open(e.Nonce, fieldSide, "side", pairID, e.Side[:])
	if err != nil {
		return nil, err
	}
	traderRaw, err := sess.open(e.Nonce, fieldTrader, "trader", pairID, e.Trader[:])
	if err != nil {
		return nil, err
	}

	side := book.Side(sideRaw[0])
	if side != book.Buy && side != book.Sell {
		return nil, fmt.Errorf("%w: bad side byte", ErrMalformedEnvelope)
	}

	o := &book.Order{
		Price:    binary.LittleEndian.Uint64(priceRaw),
		Quantity: binary.LittleEndian.Uint64(qtyRaw),
		Side:     side,
	}
	copy(o.Trader[:], traderRaw)
	return o, nil
}

// envelopeJSON is the hex wire form used by the API and gossip transports.
type envelopeJSON struct {
	Price     string `json:"price"`
	Quantity  string `json:"quantity"`
	Side      string `json:"side"`
	Trader    string `json:"trader"`
	ClientKey string `json:"client_key"`
	Nonce     string `json:"nonce"`
}

func (e *Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(envelopeJSON{
		Price:     hex.EncodeToString(e.Price[:]),
		Quantity:  hex.EncodeToString(e.Quantity[:]),
		Side:      hex.EncodeToString(e.Side[:]),
		Trader:    hex.EncodeToString(e.Trader[:]),
		ClientKey: hex.EncodeToString(e.ClientKey[:]),
		Nonce:     hex.EncodeToString(e.Nonce[:]),
	})
}

func (e *Envelope) UnmarshalJSON(data []byte) error {
	var raw envelopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	fields := []struct {
		src string
		dst []byte
	}{
		{raw.Price, e.Price[:]},
		{raw.Quantity, e.Quantity[:]},
		{raw.Side, e.Side[:]},
		{raw.Trader, e.Trader[:]},
		{raw.ClientKey, e.ClientKey[:]},
		{raw.Nonce, e.Nonce[:]},
	}
	for _, f := range fields {
		b, err := hex.DecodeString(f.src)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
		}
		if len(b) != len(f.dst) {
			return fmt.Errorf("%w: field size %d, want %d", ErrMalformedEnvelope, len(b), len(f.dst))
		}
		copy(f.dst, b)
	}
	return nil
}
