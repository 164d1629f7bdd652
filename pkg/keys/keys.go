// Package keys implements the key material side of the messaging protocol:
// base58check identity encoding, deterministic messaging-key derivation from
// a seed phrase, and the ECIES construction used for message payloads.
package keys

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// publicKeyPrefix is the three-byte network prefix identity keys are wrapped
// with before base58 encoding.
var publicKeyPrefix = []byte{0xcd, 0x14, 0x0}

const compressedPubKeyLen = 33

// EncodePublicKey renders a public key in the prefixed base58check form used
// everywhere keys appear on the wire.
func EncodePublicKey(pub *secp256k1.PublicKey) string {
	payload := make([]byte, 0, len(publicKeyPrefix)+compressedPubKeyLen+4)
	payload = append(payload, publicKeyPrefix...)
	payload = append(payload, pub.SerializeCompressed()...)
	sum := checksum(payload)
	return base58.Encode(append(payload, sum[:]...))
}

// DecodePublicKey parses a prefixed base58check string back into a curve
// point, verifying the checksum and network prefix.
func DecodePublicKey(encoded string) (*secp256k1.PublicKey, error) {
	raw := base58.Decode(encoded)
	if len(raw) != len(publicKeyPrefix)+compressedPubKeyLen+4 {
		return nil, fmt.Errorf("public key %q has wrong length %d", encoded, len(raw))
	}
	payload, tail := raw[:len(raw)-4], raw[len(raw)-4:]
	sum := checksum(payload)
	if !bytes.Equal(tail, sum[:]) {
		return nil, fmt.Errorf("public key %q has bad checksum", encoded)
	}
	if !bytes.HasPrefix(payload, publicKeyPrefix) {
		return nil, fmt.Errorf("public key %q has unknown prefix", encoded)
	}
	pub, err := secp256k1.ParsePubKey(payload[len(publicKeyPrefix):])
	if err != nil {
		return nil, fmt.Errorf("parse public key %q: %w", encoded, err)
	}
	return pub, nil
}

func checksum(b []byte) [4]byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	var sum [4]byte
	copy(sum[:], second[:4])
	return sum
}
