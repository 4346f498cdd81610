package mpc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"

	"github.com/umbral-exchange/umbral/pkg/exchange/book"
)

func testKeys(t *testing.T) (client, cluster KeyPair) {
	t.Helper()
	var err error
	if client, err = GenerateKeyPair(); err != nil {
		t.Fatalf("client keygen: %v", err)
	}
	if cluster, err = GenerateKeyPair(); err != nil {
		t.Fatalf("cluster keygen: %v", err)
	}
	return client, cluster
}

func TestSealOpenRoundTrip(t *testing.T) {
	client, cluster := testKeys(t)
	trader := DeriveTrader(client.Public, 7)

	env, err := SealOrder(client, cluster.Public, 7, 100, 10, book.Buy, trader)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	order, err := OpenOrder(cluster.Secret, 7, env)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if order.Price != 100 || order.Quantity != 10 || order.Side != book.Buy || order.Trader != trader {
		t.Fatalf("decrypted order %+v", order)
	}
}

func TestCiphertextNeverEqualsPlaintext(t *testing.T) {
	client, cluster := testKeys(t)
	trader := DeriveTrader(client.Public, 1)

	env, err := SealOrder(client, cluster.Public, 1, 100, 10, book.Sell, trader)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	var price, qty [8]byte
	binary.LittleEndian.PutUint64(price[:], 100)
	binary.LittleEndian.PutUint64(qty[:], 10)

	if bytes.Contains(env.Price[:], price[:]) {
		t.Errorf("price ciphertext leaks plaintext bytes")
	}
	if bytes.Contains(env.Quantity[:], qty[:]) {
		t.Errorf("quantity ciphertext leaks plaintext bytes")
	}
	if env.Side[0] == byte(book.Sell) && env.Side[1] == 0 {
		t.Errorf("side ciphertext looks like plaintext")
	}
	if bytes.Contains(env.Trader[:], trader[:]) {
		t.Errorf("trader ciphertext leaks the handle")
	}
}

func TestOpenRejectsTampering(t *testing.T) {
	client, cluster := testKeys(t)
	intruder, _ := testKeys(t)
	trader := DeriveTrader(client.Public, 3)

	seal := func(t *testing.T) *Envelope {
		t.Helper()
		env, err := SealOrder(client, cluster.Public, 3, 100, 10, book.Buy, trader)
		if err != nil {
			t.Fatalf("seal: %v", err)
		}
		return env
	}

	tests := []struct {
		name   string
		mutate func(*Envelope)
		pairID uint64
	}{
		{name: "flipped price byte", mutate: func(e *Envelope) { e.Price[0] ^= 0xff }, pairID: 3},
		{name: "flipped trader byte", mutate: func(e *Envelope) { e.Trader[4] ^= 0x01 }, pairID: 3},
		{name: "swapped nonce", mutate: func(e *Envelope) { e.Nonce[0] ^= 0xff }, pairID: 3},
		{name: "replayed on another pair", mutate: func(e *Envelope) {}, pairID: 4},
		{name: "foreign client key", mutate: func(e *Envelope) { e.ClientKey = intruder.Public }, pairID: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := seal(t)
			tt.mutate(env)
			if _, err := OpenOrder(cluster.Secret, tt.pairID, env); err == nil {
				t.Errorf("OpenOrder accepted tampered envelope")
			}
		})
	}
}

func TestSealRejectsZeroFields(t *testing.T) {
	client, cluster := testKeys(t)
	if _, err := SealOrder(client, cluster.Public, 1, 0, 10, book.Buy, book.TraderID{}); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("zero price err = %v, want ErrMalformedEnvelope", err)
	}
	if _, err := SealOrder(client, cluster.Public, 1, 10, 0, book.Buy, book.TraderID{}); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("zero quantity err = %v, want ErrMalformedEnvelope", err)
	}
}

func TestEnvelopeJSONRoundTrip(t *testing.T) {
	client, cluster := testKeys(t)
	trader := DeriveTrader(client.Public, 9)

	env, err := SealOrder(client, cluster.Public, 9, 55, 5, book.Buy, trader)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}

	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back Envelope
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != *env {
		t.Fatalf("round trip changed envelope")
	}

	if _, err := OpenOrder(cluster.Secret, 9, &back); err != nil {
		t.Fatalf("open after round trip: %v", err)
	}
}

func TestEnvelopeJSONRejectsBadSizes(t *testing.T) {
	var e Envelope
	if err := json.Unmarshal([]byte(`{"price":"ab","quantity":"","side":"","trader":"","client_key":"","nonce":""}`), &e); !errors.Is(err, ErrMalformedEnvelope) {
		t.Fatalf("short fields err = %v, want ErrMalformedEnvelope", err)
	}
}

func TestDeriveTrader(t *testing.T) {
	client, _ := testKeys(t)
	other, _ := testKeys(t)

	a := DeriveTrader(client.Public, 1)
	if a != DeriveTrader(client.Public, 1) {
		t.Fatalf("handle not stable")
	}
	if a == DeriveTrader(client.Public, 2) {
		t.Fatalf("handle identical across pairs")
	}
	if a == DeriveTrader(other.Public, 1) {
		t.Fatalf("handle identical across clients")
	}
}
