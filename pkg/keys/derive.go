package keys

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
)

// SeedFromMnemonic validates a BIP-39 phrase and stretches it into the
// account seed.
func SeedFromMnemonic(mnemonic, passphrase string) ([]byte, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, passphrase)
	if err != nil {
		return nil, fmt.Errorf("invalid seed phrase: %w", err)
	}
	return seed, nil
}

// OwnerKeyFromSeed derives the account's owner key pair.
func OwnerKeyFromSeed(seed []byte) *secp256k1.PrivateKey {
	return deriveKey(seed, "owner")
}

// MessagingKeyFromSeed derives the messaging key registered under keyName.
// The same seed and name always yield the same key, so messages decrypt from
// any device holding the phrase.
func MessagingKeyFromSeed(seed []byte, keyName string) *secp256k1.PrivateKey {
	return deriveKey(seed, keyName)
}

func deriveKey(seed []byte, label string) *secp256k1.PrivateKey {
	material := make([]byte, 0, len(seed)+len(label))
	material = append(material, seed...)
	material = append(material, label...)
	first := sha256.Sum256(material)
	second := sha256.Sum256(first[:])
	return secp256k1.PrivKeyFromBytes(second[:])
}
