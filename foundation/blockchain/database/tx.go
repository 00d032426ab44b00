package database

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ardanlabs/powchain/foundation/blockchain/signature"
)

// ErrInvalidSignature is returned when a transaction signature does not
// verify against the sender's public key.
var ErrInvalidSignature = errors.New("invalid transaction signature")

// =============================================================================

// Tx is a signed transfer of value between two addresses. Fields are declared
// in lexicographic order of their JSON keys.
type Tx struct {
	Amount        uint64 `json:"amount"`
	FromAddress   string `json:"from_address"`
	FromPublicKey string `json:"from_public_key"`
	Signature     string `json:"signature"`
	ToAddress     string `json:"to_address"`
	TxID          string `json:"tx_id"`
}

// NewTx constructs a transaction from the owner of the private key and
// signs it.
func NewTx(privateKey *ecdsa.PrivateKey, toAddress string, amount uint64) (Tx, error) {
	if toAddress == "" {
		return Tx{}, errors.New("to address is required")
	}

	tx := Tx{
		Amount:        amount,
		FromAddress:   signature.PublicKeyToAddress(privateKey.PublicKey),
		FromPublicKey: signature.PublicKeyHex(&privateKey.PublicKey),
		ToAddress:     toAddress,
	}

	return tx.Sign(privateKey)
}

// Sign uses the specified private key to sign the transaction and assign
// the transaction id.
func (tx Tx) Sign(privateKey *ecdsa.PrivateKey) (Tx, error) {
	msg, err := tx.Message()
	if err != nil {
		return Tx{}, err
	}

	sig, err := signature.Sign(msg, privateKey)
	if err != nil {
		return Tx{}, fmt.Errorf("signing transaction: %w", err)
	}

	tx.Signature = sig
	tx.TxID = signature.Hash(tx.signedFields())

	return tx, nil
}

// Message returns the canonical bytes that are signed. The signature,
// addresses derived from the key and the id are not part of the message.
func (tx Tx) Message() ([]byte, error) {
	return json.Marshal(tx.signedFields())
}

// Validate checks the signature against the sender's public key.
func (tx Tx) Validate() error {
	msg, err := tx.Message()
	if err != nil {
		return err
	}

	if !signature.Verify(tx.FromPublicKey, msg, tx.Signature) {
		return ErrInvalidSignature
	}

	return nil
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	return fmt.Sprintf("%s->%s:%d", tx.FromAddress, tx.ToAddress, tx.Amount)
}

// signedFields returns the part of the transaction covered by the signature.
func (tx Tx) signedFields() any {
	return struct {
		Amount        uint64 `json:"amount"`
		FromPublicKey string `json:"from_public_key"`
		ToAddress     string `json:"to_address"`
	}{
		Amount:        tx.Amount,
		FromPublicKey: tx.FromPublicKey,
		ToAddress:     tx.ToAddress,
	}
}

// =============================================================================

// Set of payload kinds a block can carry.
const (
	KindTx   = "tx"
	KindMemo = "memo"
)

// Payload is one entry in a block's ordered list of transactions. It holds
// either a signed transaction or a free text memo.
type Payload struct {
	Kind string `json:"kind"`
	Memo string `json:"memo,omitempty"`
	Tx   *Tx    `json:"tx,omitempty"`
}

// TxPayload wraps a transaction for inclusion in a block.
func TxPayload(tx Tx) Payload {
	return Payload{Kind: KindTx, Tx: &tx}
}

// MemoPayload wraps free text for inclusion in a block.
func MemoPayload(memo string) Payload {
	return Payload{Kind: KindMemo, Memo: memo}
}

// Equal reports whether two payloads carry the same value.
func (p Payload) Equal(other Payload) bool {
	if p.Kind != other.Kind || p.Memo != other.Memo {
		return false
	}

	switch {
	case p.Tx == nil && other.Tx == nil:
		return true
	case p.Tx == nil || other.Tx == nil:
		return false
	}

	return *p.Tx == *other.Tx
}

// String implements the fmt.Stringer interface for logging.
func (p Payload) String() string {
	if p.Kind == KindTx && p.Tx != nil {
		return p.Tx.String()
	}
	return p.Memo
}
