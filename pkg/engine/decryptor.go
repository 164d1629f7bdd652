package engine

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/tundrachat/tundra/pkg/chat"
	"github.com/tundrachat/tundra/pkg/keys"
)

// LocalDecryptor decrypts records with the messaging key derived from the
// account seed. Deployments that keep key material out of this process plug
// in the signer client instead; both satisfy Decryptor.
type LocalDecryptor struct {
	owner        string
	messagingKey *secp256k1.PrivateKey
}

func NewLocalDecryptor(ownerPublicKey string, seed []byte) *LocalDecryptor {
	return &LocalDecryptor{
		owner:        ownerPublicKey,
		messagingKey: keys.MessagingKeyFromSeed(seed, chat.DefaultKeyName),
	}
}

func (d *LocalDecryptor) Decrypt(ctx context.Context, msg chat.Message, groups []chat.AccessGroupEntry) (string, error) {
	ciphertext, err := hex.DecodeString(msg.MessageInfo.EncryptedText)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if msg.ChatType == chat.ChatTypeGroup {
		return d.decryptGroup(msg, groups, ciphertext)
	}
	return d.decryptDM(msg, ciphertext)
}

// decryptDM opens a double-derivation DM blob. The counterparty's messaging
// key is the sender's for inbound records and the recipient's for the user's
// own sent copies; both directions share the same derived scalar.
func (d *LocalDecryptor) decryptDM(msg chat.Message, ciphertext []byte) (string, error) {
	party := msg.SenderInfo
	if msg.SenderInfo.OwnerPublicKey == d.owner {
		party = msg.RecipientInfo
	}
	if party.GroupPublicKey == "" {
		return "", errors.New("record carries no counterparty messaging key")
	}
	partyPub, err := keys.DecodePublicKey(party.GroupPublicKey)
	if err != nil {
		return "", fmt.Errorf("counterparty messaging key: %w", err)
	}
	plaintext, err := keys.DecryptShared(partyPub, d.messagingKey, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// decryptGroup unlocks the group's shared private key with the user's member
// entry, then opens the record with the scalar shared between that key and
// the sender's messaging key. Without a member entry the record is
// undecryptable until the access-group set is refreshed, which is exactly
// what the missing-key sentinel triggers upstream.
func (d *LocalDecryptor) decryptGroup(msg chat.Message, groups []chat.AccessGroupEntry, ciphertext []byte) (string, error) {
	entry := chat.FindMemberEntry(groups, msg.RecipientInfo.OwnerPublicKey, msg.RecipientInfo.GroupKeyName)
	if entry == nil {
		return "", chat.ErrMissingAccessGroupKey
	}
	encryptedKey, err := hex.DecodeString(entry.Member.EncryptedKey)
	if err != nil {
		return "", fmt.Errorf("decode member key: %w", err)
	}
	groupKeyBytes, err := keys.Decrypt(d.messagingKey, encryptedKey)
	if err != nil {
		return "", fmt.Errorf("unlock group key: %w", err)
	}
	if msg.SenderInfo.GroupPublicKey == "" {
		return "", errors.New("record carries no sender messaging key")
	}
	senderPub, err := keys.DecodePublicKey(msg.SenderInfo.GroupPublicKey)
	if err != nil {
		return "", fmt.Errorf("sender messaging key: %w", err)
	}
	plaintext, err := keys.DecryptShared(senderPub, secp256k1.PrivKeyFromBytes(groupKeyBytes), ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
