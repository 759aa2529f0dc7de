// Package core holds nexachain's consensus data model: transactions,
// blocks, the genesis block, and the request/response envelopes exchanged
// during sync and leader election (§3).
package core

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"fmt"

	"nexachain.dev/nexachain/internal/codec"
	internalcrypto "nexachain.dev/nexachain/internal/crypto"
	internalerrors "nexachain.dev/nexachain/internal/errors"
)

// Transaction is the immutable record described in §3. SenderPubKey carries
// the DER-encoded RSA public key needed to verify Signature; Sender is the
// short address derived from it (crypto.Address) and is what WorldState
// keys accounts by. Recipient is an address; it may be empty for
// data-only transactions.
type Transaction struct {
	ID            string `json:"id"`
	Nonce         uint64 `json:"nonce"`
	Sender        string `json:"sender"`
	SenderPubKey  []byte `json:"sender_pub_key"`
	Recipient     string `json:"recipient,omitempty"`
	Amount        uint64 `json:"amount"`
	Data          []byte `json:"data,omitempty"`
	Timestamp     int64  `json:"timestamp"`
	Signature     []byte `json:"signature,omitempty"`
}

// canonicalFields returns the field set hashed/signed to produce ID, in the
// exact shape hash_map expects: every field except id and signature.
func (tx *Transaction) canonicalFields() map[string]any {
	return map[string]any{
		"nonce":          tx.Nonce,
		"sender":         tx.Sender,
		"sender_pub_key": tx.SenderPubKey,
		"recipient":      tx.Recipient,
		"amount":         tx.Amount,
		"data":           tx.Data,
		"timestamp":      tx.Timestamp,
	}
}

// ComputeID returns SHA256(canonical_encoding_without_signature), matching
// the §3 invariant id = SHA256(canonical_encoding_without_signature).
func (tx *Transaction) ComputeID() (string, error) {
	return internalcrypto.HashMap(tx.canonicalFields())
}

// NewTransaction builds an unsigned transaction with sender/address derived
// from pub, and stamps its id before returning (id depends on nothing Sign
// changes, so signing afterwards leaves it valid).
func NewTransaction(pub *rsa.PublicKey, recipient string, nonce, amount uint64, data []byte, timestamp int64) (*Transaction, error) {
	addr, err := internalcrypto.Address(pub)
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, err
	}
	tx := &Transaction{
		Nonce:        nonce,
		Sender:       addr,
		SenderPubKey: der,
		Recipient:    recipient,
		Amount:       amount,
		Data:         data,
		Timestamp:    timestamp,
	}
	id, err := tx.ComputeID()
	if err != nil {
		return nil, err
	}
	tx.ID = id
	return tx, nil
}

// Sign signs tx.ID under priv and stores the resulting signature. priv must
// correspond to tx.SenderPubKey.
func (tx *Transaction) Sign(priv *rsa.PrivateKey) error {
	sig, err := internalcrypto.Sign(priv, []byte(tx.ID))
	if err != nil {
		return err
	}
	tx.Signature = sig
	return nil
}

// Verify checks that tx.ID was computed correctly, that SenderPubKey
// derives tx.Sender, and that Signature verifies tx.ID under SenderPubKey.
func (tx *Transaction) Verify() error {
	if len(tx.Signature) == 0 {
		return fmt.Errorf("%w: tx %s", internalerrors.ErrNotSigned, tx.ID)
	}
	wantID, err := tx.ComputeID()
	if err != nil {
		return fmt.Errorf("%w: tx %s: %v", internalerrors.ErrBadSignature, tx.ID, err)
	}
	if wantID != tx.ID {
		return fmt.Errorf("%w: tx %s: id mismatch", internalerrors.ErrBadSignature, tx.ID)
	}
	pub, err := x509.ParsePKIXPublicKey(tx.SenderPubKey)
	if err != nil {
		return fmt.Errorf("%w: tx %s: %v", internalerrors.ErrBadSignature, tx.ID, err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return fmt.Errorf("%w: tx %s: not an RSA key", internalerrors.ErrBadSignature, tx.ID)
	}
	addr, err := internalcrypto.Address(rsaPub)
	if err != nil || addr != tx.Sender {
		return fmt.Errorf("%w: tx %s: sender/pubkey mismatch", internalerrors.ErrBadSignature, tx.ID)
	}
	if !internalcrypto.Verify(rsaPub, []byte(tx.ID), tx.Signature) {
		return fmt.Errorf("%w: tx %s", internalerrors.ErrBadSignature, tx.ID)
	}
	return nil
}

// ToFields converts tx to the map encoded after the TXN tag.
func (tx *Transaction) ToFields() map[string]any {
	f := tx.canonicalFields()
	f["id"] = tx.ID
	f["signature"] = tx.Signature
	return f
}

// Serialize encodes tx as a complete TXN wire message.
func (tx *Transaction) Serialize() ([]byte, error) {
	return codec.Encode(codec.TagTransaction, tx.ToFields())
}

// DeserializeTransaction decodes a TXN wire message into a Transaction.
func DeserializeTransaction(payload []byte) (*Transaction, error) {
	_, fields, err := codec.Decode(payload, codec.TagTransaction)
	if err != nil {
		return nil, err
	}
	return transactionFromFields(fields)
}

func transactionFromFields(fields map[string]any) (*Transaction, error) {
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("%w: %v", internalerrors.ErrBadMap, err)
	}
	return &tx, nil
}
