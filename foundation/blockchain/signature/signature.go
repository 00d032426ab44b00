// Package signature provides helper functions for handling the blockchain
// signature needs.
package signature

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
)

// ZeroHash represents the hash of a value that could not be encoded.
const ZeroHash string = "0000000000000000000000000000000000000000000000000000000000000000"

// =============================================================================

// Hash returns a unique string for the value. The string is the lower case
// hex encoding of the SHA-256 of the JSON form of the value.
func Hash(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return ZeroHash
	}

	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Sign uses the specified private key to sign the message. The signature
// is returned as a hex string of the 65 byte [R|S|V] form.
func Sign(message []byte, privateKey *ecdsa.PrivateKey) (string, error) {

	// Prepare the data for signing.
	data := stamp(message)

	// Sign the hash with the private key to produce a signature.
	sig, err := crypto.Sign(data, privateKey)
	if err != nil {
		return "", err
	}

	// Check the public key extracted from the data and signature.
	publicKey, err := crypto.SigToPub(data, sig)
	if err != nil {
		return "", err
	}

	rs := sig[:crypto.RecoveryIDOffset]
	if !crypto.VerifySignature(crypto.FromECDSAPub(publicKey), data, rs) {
		return "", errors.New("invalid signature")
	}

	return hexutil.Encode(sig), nil
}

// Verify reports whether the signature was produced over the message by the
// private key that belongs to the specified public key.
func Verify(publicKey string, message []byte, sigStr string) bool {
	pub, err := hexutil.Decode(publicKey)
	if err != nil {
		return false
	}

	if _, err := crypto.UnmarshalPubkey(pub); err != nil {
		return false
	}

	sig, err := hexutil.Decode(sigStr)
	if err != nil || len(sig) != crypto.SignatureLength {
		return false
	}

	return crypto.VerifySignature(pub, stamp(message), sig[:crypto.RecoveryIDOffset])
}

// PublicKeyHex returns the hex encoding of the uncompressed public key.
func PublicKeyHex(publicKey *ecdsa.PublicKey) string {
	return hexutil.Encode(crypto.FromECDSAPub(publicKey))
}

// PublicKeyToAddress converts the public key into an address.
func PublicKeyToAddress(publicKey ecdsa.PublicKey) string {
	return crypto.PubkeyToAddress(publicKey).String()
}

// Address converts a hex encoded public key into its address.
func Address(publicKey string) (string, error) {
	pub, err := hexutil.Decode(publicKey)
	if err != nil {
		return "", fmt.Errorf("decoding public key: %w", err)
	}

	key, err := crypto.UnmarshalPubkey(pub)
	if err != nil {
		return "", fmt.Errorf("unmarshal public key: %w", err)
	}

	return PublicKeyToAddress(*key), nil
}

// =============================================================================

// stamp returns a hash of 32 bytes that represents this message with
// the powchain stamp embedded into the final hash.
func stamp(message []byte) []byte {

	// Hash the message into a 32 byte array. This will provide
	// a data length consistency with all messages.
	msgHash := crypto.Keccak256(message)

	// Signatures we produce when signing messages are always unique
	// to this blockchain.
	stamp := []byte("\x19Powchain Signed Message:\n32")

	return crypto.Keccak256(stamp, msgHash)
}
