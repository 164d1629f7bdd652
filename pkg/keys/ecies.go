package keys

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

const (
	eciesNonceLen = 16
	eciesMACLen   = sha256.Size
	eciesOverhead = compressedPubKeyLen + eciesNonceLen + eciesMACLen
)

// Encrypt seals plaintext to the holder of pub using single-derivation
// ECIES: an ephemeral ECDH agreement keyed through SHA-512, AES-256-CTR for
// the body, and HMAC-SHA256 over nonce and body. The blob layout is
// ephemeral public key (33) || nonce (16) || body || MAC (32).
func Encrypt(pub *secp256k1.PublicKey, plaintext []byte) ([]byte, error) {
	ephemeral, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral key: %w", err)
	}
	encKey, macKey := deriveCipherKeys(ephemeral, pub)

	nonce := make([]byte, eciesNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	body := make([]byte, len(plaintext))
	cipher.NewCTR(block, nonce).XORKeyStream(body, plaintext)

	out := make([]byte, 0, eciesOverhead+len(plaintext))
	out = append(out, ephemeral.PubKey().SerializeCompressed()...)
	out = append(out, nonce...)
	out = append(out, body...)
	mac := hmac.New(sha256.New, macKey)
	mac.Write(out[compressedPubKeyLen:])
	return mac.Sum(out), nil
}

// Decrypt opens a single-derivation ECIES blob with priv.
func Decrypt(priv *secp256k1.PrivateKey, blob []byte) ([]byte, error) {
	if len(blob) < eciesOverhead {
		return nil, errors.New("ciphertext too short")
	}
	ephemeralPub, err := secp256k1.ParsePubKey(blob[:compressedPubKeyLen])
	if err != nil {
		return nil, fmt.Errorf("parse ephemeral key: %w", err)
	}
	encKey, macKey := deriveCipherKeys(priv, ephemeralPub)

	macStart := len(blob) - eciesMACLen
	mac := hmac.New(sha256.New, macKey)
	mac.Write(blob[compressedPubKeyLen:macStart])
	if !hmac.Equal(mac.Sum(nil), blob[macStart:]) {
		return nil, errors.New("ciphertext MAC mismatch")
	}

	nonce := blob[compressedPubKeyLen : compressedPubKeyLen+eciesNonceLen]
	body := blob[compressedPubKeyLen+eciesNonceLen : macStart]
	block, err := aes.NewCipher(encKey)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}
	plaintext := make([]byte, len(body))
	cipher.NewCTR(block, nonce).XORKeyStream(plaintext, body)
	return plaintext, nil
}

// EncryptShared seals a DM payload using double derivation: both parties can
// compute the shared scalar from their own private key and the other side's
// public key, so either direction opens with the same DecryptShared call.
func EncryptShared(theirPub *secp256k1.PublicKey, myPriv *secp256k1.PrivateKey, plaintext []byte) ([]byte, error) {
	return Encrypt(sharedPrivateKey(myPriv, theirPub).PubKey(), plaintext)
}

// DecryptShared opens a double-derivation blob produced by either DM party.
func DecryptShared(theirPub *secp256k1.PublicKey, myPriv *secp256k1.PrivateKey, blob []byte) ([]byte, error) {
	return Decrypt(sharedPrivateKey(myPriv, theirPub), blob)
}

// sharedPrivateKey hashes the ECDH x coordinate into a scalar both parties
// arrive at independently.
func sharedPrivateKey(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) *secp256k1.PrivateKey {
	shared := secp256k1.GenerateSharedSecret(priv, pub)
	scalar := sha256.Sum256(shared)
	return secp256k1.PrivKeyFromBytes(scalar[:])
}

// deriveCipherKeys runs the ECDH agreement and splits the SHA-512 of the
// shared x coordinate into cipher and MAC keys.
func deriveCipherKeys(priv *secp256k1.PrivateKey, pub *secp256k1.PublicKey) (encKey, macKey []byte) {
	shared := secp256k1.GenerateSharedSecret(priv, pub)
	k := sha512.Sum512(shared)
	return k[:32], k[32:]
}
