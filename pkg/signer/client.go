// Package signer is the client for a delegated decryption service: a
// sidecar that holds the user's key material and decrypts records on the
// engine's behalf. Deployments that never let key material touch this
// process run in this mode instead of local decryption.
package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tundrachat/tundra/pkg/chat"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 4 << 20

	errorKindMissingKey = "MissingAccessGroupKey"
)

// Client talks to one signer endpoint on behalf of one account.
type Client struct {
	url   string
	owner string
	http  *http.Client
}

func NewClient(endpoint, ownerPublicKey string) *Client {
	return &Client{
		url:   strings.TrimRight(endpoint, "/"),
		owner: ownerPublicKey,
		http:  &http.Client{Timeout: defaultTimeout},
	}
}

type partyPayload struct {
	OwnerPublicKeyBase58Check       string
	AccessGroupPublicKeyBase58Check string `json:",omitempty"`
	AccessGroupKeyName              string `json:",omitempty"`
}

type accessGroupPayload struct {
	AccessGroupOwnerPublicKeyBase58Check string
	AccessGroupKeyName                   string
	AccessGroupPublicKeyBase58Check      string `json:",omitempty"`
	EncryptedKey                         string `json:",omitempty"`
}

type decryptRequest struct {
	OwnerPublicKeyBase58Check string
	ChatType                  string
	SenderInfo                partyPayload
	RecipientInfo             partyPayload
	EncryptedText             string
	AccessGroups              []accessGroupPayload
}

type decryptResponse struct {
	DecryptedText string
	ErrorKind     string
	Error         string
}

// Decrypt sends one record to the signer together with the access-group set
// it may need. A MissingAccessGroupKey answer maps to
// chat.ErrMissingAccessGroupKey so the retry layer treats delegated and
// local decryption identically.
func (c *Client) Decrypt(ctx context.Context, msg chat.Message, groups []chat.AccessGroupEntry) (string, error) {
	req := decryptRequest{
		OwnerPublicKeyBase58Check: c.owner,
		ChatType:                  string(msg.ChatType),
		SenderInfo:                toPartyPayload(msg.SenderInfo),
		RecipientInfo:             toPartyPayload(msg.RecipientInfo),
		EncryptedText:             msg.MessageInfo.EncryptedText,
		AccessGroups:              toGroupPayloads(groups),
	}
	var resp decryptResponse
	if err := c.postJSON(ctx, "/api/v0/decrypt", req, &resp); err != nil {
		return "", err
	}
	switch {
	case resp.ErrorKind == errorKindMissingKey:
		return "", fmt.Errorf("signer: %w", chat.ErrMissingAccessGroupKey)
	case resp.ErrorKind != "":
		return "", fmt.Errorf("signer: %s: %s", resp.ErrorKind, resp.Error)
	case resp.Error != "":
		return "", fmt.Errorf("signer: %s", resp.Error)
	}
	return resp.DecryptedText, nil
}

func toPartyPayload(p chat.PartyInfo) partyPayload {
	return partyPayload{
		OwnerPublicKeyBase58Check:       p.OwnerPublicKey,
		AccessGroupPublicKeyBase58Check: p.GroupPublicKey,
		AccessGroupKeyName:              p.GroupKeyName,
	}
}

func toGroupPayloads(groups []chat.AccessGroupEntry) []accessGroupPayload {
	out := make([]accessGroupPayload, len(groups))
	for i, g := range groups {
		out[i] = accessGroupPayload{
			AccessGroupOwnerPublicKeyBase58Check: g.OwnerPublicKey,
			AccessGroupKeyName:                   g.KeyName,
			AccessGroupPublicKeyBase58Check:      g.GroupPublicKey,
		}
		if g.Member != nil {
			out[i].EncryptedKey = g.Member.EncryptedKey
		}
	}
	return out
}

func (c *Client) postJSON(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read %s response: %w", path, err)
	}
	zerolog.Ctx(ctx).Trace().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("Signer call finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("signer returned HTTP %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
