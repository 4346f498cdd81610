// encrypt-order builds a sealed order envelope for submission to the
// exchange API. The plaintext price, quantity, and side never leave
// this process; the node only ever sees ciphertext.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/cloudflare/circl/dh/x25519"

	"github.com/umbral-exchange/umbral/pkg/api"
	"github.com/umbral-exchange/umbral/pkg/exchange/book"
	"github.com/umbral-exchange/umbral/pkg/mpc"
)

func main() {
	var (
		pairID    = flag.Uint64("pair", 1, "trading pair id")
		price     = flag.Uint64("price", 0, "limit price in ticks")
		qty       = flag.Uint64("qty", 0, "quantity in lots")
		sideStr   = flag.String("side", "buy", "buy or sell")
		keyHex    = flag.String("cluster-key", "", "cluster public key, hex")
		keyFile   = flag.String("cluster-key-file", "data/cluster.pub", "file holding the cluster public key")
		secretHex = flag.String("secret", "", "client secret key, hex (generated when empty)")
	)
	flag.Parse()

	if *price == 0 || *qty == 0 {
		fmt.Fprintln(os.Stderr, "price and qty must be positive")
		os.Exit(1)
	}
	side, err := parseSide(*sideStr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	clusterPub, err := loadClusterKey(*keyHex, *keyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cluster key: %v\n", err)
		os.Exit(1)
	}

	client, err := clientKey(*secretHex)
	if err != nil {
		fmt.Fprintf(os.Stderr, "client key: %v\n", err)
		os.Exit(1)
	}

	trader := mpc.DeriveTrader(client.Public, *pairID)
	env, err := mpc.SealOrder(client, clusterPub, *pairID, *price, *qty, side, trader)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seal: %v\n", err)
		os.Exit(1)
	}

	body, err := json.MarshalIndent(api.SubmitOrderRequest{
		PairID:   *pairID,
		Envelope: env,
	}, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Client secret: %s (KEEP SECRET!)\n", hex.EncodeToString(client.Secret[:]))
	fmt.Printf("Trader handle: %s\n\n", trader.Hex())
	fmt.Println("To submit this order:")
	fmt.Println("  POST http://localhost:8080/api/v1/orders")
	fmt.Println("  Content-Type: application/json")
	fmt.Println("  Body:")
	fmt.Println(string(body))
}

func parseSide(s string) (book.Side, error) {
	switch strings.ToLower(s) {
	case "buy":
		return book.Buy, nil
	case "sell":
		return book.Sell, nil
	}
	return 0, fmt.Errorf("side must be buy or sell, got %q", s)
}

func loadClusterKey(keyHex, keyFile string) (x25519.Key, error) {
	var key x25519.Key
	s := keyHex
	if s == "" {
		raw, err := os.ReadFile(keyFile)
		if err != nil {
			return key, err
		}
		s = strings.TrimSpace(string(raw))
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return key, err
	}
	if len(raw) != x25519.Size {
		return key, fmt.Errorf("want %d bytes, got %d", x25519.Size, len(raw))
	}
	copy(key[:], raw)
	return key, nil
}

// clientKey rebuilds a keypair from a hex secret, or generates a fresh
// one. Reusing the secret keeps the trader handle stable across orders.
func clientKey(secretHex string) (mpc.KeyPair, error) {
	if secretHex == "" {
		return mpc.GenerateKeyPair()
	}
	raw, err := hex.DecodeString(secretHex)
	if err != nil {
		return mpc.KeyPair{}, err
	}
	if len(raw) != x25519.Size {
		return mpc.KeyPair{}, fmt.Errorf("secret must be %d bytes, got %d", x25519.Size, len(raw))
	}
	var kp mpc.KeyPair
	copy(kp.Secret[:], raw)
	x25519.KeyGen(&kp.Public, &kp.Secret)
	return kp, nil
}
