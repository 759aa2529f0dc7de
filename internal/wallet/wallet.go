// Package wallet manages an account's on-disk RSA key material: generating
// a fresh keypair, writing it under a node's key_dir, and loading it back
// at boot. It replaces the teacher's wallet package (previously a bare
// placeholder with no implementation) with the account key-file handling
// §6 requires.
package wallet

import (
	"crypto/rsa"
	"fmt"
	"os"
	"path/filepath"

	internalcrypto "nexachain.dev/nexachain/internal/crypto"
)

const (
	privateKeyFile = "private.pem"
	publicKeyFile  = "public.pem"
)

// Account bundles a loaded keypair with the address derived from it.
type Account struct {
	Address    string
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

func accountDir(keyDir, address string) string {
	return filepath.Join(keyDir, address)
}

// Create generates a fresh RSA keypair, derives its address, and writes
// both keys as PEM files under keyDir/<address>/. The directory is created
// with 0700 permissions and the private key file with 0600, matching the
// sensitivity of the material.
func Create(keyDir string) (*Account, error) {
	priv, err := internalcrypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate keypair: %w", err)
	}
	address, err := internalcrypto.Address(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("wallet: derive address: %w", err)
	}

	dir := accountDir(keyDir, address)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("wallet: create account dir: %w", err)
	}

	privPEM, err := internalcrypto.EncodePrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), privPEM, 0o600); err != nil {
		return nil, fmt.Errorf("wallet: write private key: %w", err)
	}

	pubPEM, err := internalcrypto.EncodePublicKeyPEM(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), pubPEM, 0o644); err != nil {
		return nil, fmt.Errorf("wallet: write public key: %w", err)
	}

	return &Account{Address: address, PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// Load reads an existing account's keypair from keyDir/<address>/.
func Load(keyDir, address string) (*Account, error) {
	dir := accountDir(keyDir, address)
	privPEM, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, fmt.Errorf("wallet: read private key for %s: %w", address, err)
	}
	priv, err := internalcrypto.DecodePrivateKeyPEM(privPEM)
	if err != nil {
		return nil, fmt.Errorf("wallet: decode private key for %s: %w", address, err)
	}
	derivedAddr, err := internalcrypto.Address(&priv.PublicKey)
	if err != nil {
		return nil, err
	}
	if derivedAddr != address {
		return nil, fmt.Errorf("wallet: key at %s derives address %s, not %s", dir, derivedAddr, address)
	}
	return &Account{Address: address, PrivateKey: priv, PublicKey: &priv.PublicKey}, nil
}

// ListAddresses returns the addresses with key material under keyDir, in
// directory order.
func ListAddresses(keyDir string) ([]string, error) {
	entries, err := os.ReadDir(keyDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	addrs := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			addrs = append(addrs, e.Name())
		}
	}
	return addrs, nil
}
