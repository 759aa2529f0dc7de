// Package crypto implements nexachain's digest and signature primitives:
// SHA-256 digests, stable map hashing, and RSA-PSS sign/verify over a
// SHA-256 prehash. It is the basis of every transaction and block id.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"encoding/json"
	"encoding/pem"
	"sort"
)

// BlankSHA256 is the SHA-256 digest of the empty byte string, hex encoded.
// It is used uniformly for empty transaction-list hashes and the genesis
// block's parent_hash.
const BlankSHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

func init() {
	// Guard against a transcription mistake in the constant above: verify it
	// against the real digest of the empty string at package init time.
	if want := Digest(nil); want != BlankSHA256 {
		panic("crypto: BlankSHA256 constant does not match SHA256(\"\")")
	}
}

// Digest returns the hex-encoded SHA-256 digest of b. An empty/nil input
// still digests to BlankSHA256, matching the original hash_message
// fallback behaviour (the empty string is never special-cased away).
func Digest(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// DigestBytes returns the raw 32-byte SHA-256 digest of b.
func DigestBytes(b []byte) [32]byte {
	return sha256.Sum256(b)
}

// HashMap canonicalises a map by sorted key order, serialises the sorted
// pairs, and digests the result. It is the basis of every record id
// (transaction id, block mining_hash) wherever §4.2 calls for
// hash_map semantics over a set of named fields.
func HashMap(fields map[string]any) (string, error) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	ordered := make([]any, 0, len(keys)*2)
	for _, k := range keys {
		ordered = append(ordered, k, fields[k])
	}
	encoded, err := json.Marshal(ordered)
	if err != nil {
		return "", err
	}
	return Digest(encoded), nil
}

// GenerateKeyPair creates a fresh RSA keypair. 2048 bits matches common Go
// practice; the original source's public_exponent=17 is a non-idiomatic
// quirk and is not replicated here (crypto/rsa always uses 65537).
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// Sign produces an RSA-PSS signature over the SHA-256 prehash of msg.
func Sign(priv *rsa.PrivateKey, msg []byte) ([]byte, error) {
	digest := sha256.Sum256(msg)
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest[:], &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
}

// Verify reports whether sig is a valid RSA-PSS signature over the SHA-256
// prehash of msg under pub.
func Verify(pub *rsa.PublicKey, msg, sig []byte) bool {
	digest := sha256.Sum256(msg)
	err := rsa.VerifyPSS(pub, crypto.SHA256, digest[:], sig, &rsa.PSSOptions{
		SaltLength: rsa.PSSSaltLengthAuto,
		Hash:       crypto.SHA256,
	})
	return err == nil
}

// EncodePrivateKeyPEM serialises priv as a PKCS#8 PEM block, suitable for
// the account key files described in §6.
func EncodePrivateKeyPEM(priv *rsa.PrivateKey) ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// EncodePublicKeyPEM serialises pub as a PKIX PEM block.
func EncodePublicKeyPEM(pub *rsa.PublicKey) ([]byte, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// DecodePrivateKeyPEM parses a PKCS#8 PEM-encoded RSA private key.
func DecodePrivateKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errInvalidPEM
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, errInvalidPEM
	}
	return rsaKey, nil
}

// DecodePublicKeyPEM parses a PKIX PEM-encoded RSA public key.
func DecodePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errInvalidPEM
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, errInvalidPEM
	}
	return rsaKey, nil
}

// Address derives the fixed-length account address from a public key: the
// first 40 hex characters (20 bytes) of the SHA-256 digest of its PKIX
// encoding. Equality on the resulting string is byte equality.
func Address(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return Digest(der)[:40], nil
}

var errInvalidPEM = pemError("crypto: invalid PEM block")

type pemError string

func (e pemError) Error() string { return string(e) }
