// Package nodeapi is the client for a node's HTTP message API. It is the
// snapshot backend: stateless timestamp-windowed pages reflecting current
// committed state, with no cursors and no continuation signal.
package nodeapi

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
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 32 << 20
)

// Client talks to one node. Safe for concurrent use.
type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Error is a non-2xx response from the node.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("node returned HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("node returned HTTP %d", e.StatusCode)
}

// GetAllUserMessageThreads returns the newest message of every thread the
// user participates in, plus display profiles for the keys involved.
func (c *Client) GetAllUserMessageThreads(ctx context.Context, userPublicKey string) (*GetUserMessageThreadsResponse, error) {
	req := &GetUserMessageThreadsRequest{UserPublicKeyBase58Check: userPublicKey}
	var resp GetUserMessageThreadsResponse
	if err := c.postJSON(ctx, "/api/v0/get-all-user-message-threads", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPaginatedMessagesForDMThread returns up to MaxMessagesToFetch records
// older than StartTimeStamp for one DM thread, newest first.
func (c *Client) GetPaginatedMessagesForDMThread(ctx context.Context, req *GetPaginatedMessagesForDMThreadRequest) (*GetPaginatedMessagesForDMThreadResponse, error) {
	var resp GetPaginatedMessagesForDMThreadResponse
	if err := c.postJSON(ctx, "/api/v0/get-paginated-messages-for-dm-thread", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetPaginatedMessagesForGroupChatThread is the group-chat equivalent of the
// DM page call. The thread is identified by the group owner's key plus the
// group key name.
func (c *Client) GetPaginatedMessagesForGroupChatThread(ctx context.Context, req *GetPaginatedMessagesForGroupChatThreadRequest) (*GetPaginatedMessagesForGroupChatThreadResponse, error) {
	var resp GetPaginatedMessagesForGroupChatThreadResponse
	if err := c.postJSON(ctx, "/api/v0/get-paginated-messages-for-group-chat-thread", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAllUserAccessGroups returns every access group the user owns or is a
// member of.
func (c *Client) GetAllUserAccessGroups(ctx context.Context, publicKey string) (*GetAllUserAccessGroupsResponse, error) {
	req := &GetAllUserAccessGroupsRequest{PublicKeyBase58Check: publicKey}
	var resp GetAllUserAccessGroupsResponse
	if err := c.postJSON(ctx, "/api/v0/get-all-user-access-groups", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) postJSON(ctx context.Context, path string, reqBody, respBody any) error {
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
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
		Msg("Node API call finished")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var nodeErr struct {
			Error string `json:"error"`
		}
		_ = json.Unmarshal(body, &nodeErr)
		return &Error{StatusCode: resp.StatusCode, Message: nodeErr.Error}
	}
	if err := json.Unmarshal(body, respBody); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
