// Package indexer is the client for the GraphQL index over chain messages.
// It is the primary backend: cursor pagination for DM threads, timestamp
// windows for group chats. Any failure here is recoverable by retrying the
// same request against the node API.
package indexer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 32 << 20
)

// Client talks to one indexer endpoint. Safe for concurrent use.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(endpoint string) *Client {
	return &Client{
		url:  strings.TrimRight(endpoint, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
}

// QueryError is a GraphQL-level failure: the transport worked but the
// indexer rejected or failed the query.
type QueryError struct {
	Messages []string
}

func (e *QueryError) Error() string {
	if len(e.Messages) == 0 {
		return "indexer query failed"
	}
	return "indexer query failed: " + strings.Join(e.Messages, "; ")
}

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

type graphQLEnvelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// execute runs one query. Queries go out as POST; gateways that only accept
// GET for GraphQL answer 405, in which case the same query is retried as GET
// with the body moved into the query string.
func (c *Client) execute(ctx context.Context, query string, variables map[string]any, out any) error {
	resp, err := c.post(ctx, query, variables)
	if err != nil {
		return err
	}
	if resp.StatusCode == http.StatusMethodNotAllowed {
		_ = resp.Body.Close()
		zerolog.Ctx(ctx).Debug().Msg("Indexer rejected POST, retrying as GET")
		resp, err = c.get(ctx, query, variables)
		if err != nil {
			return err
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read indexer response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("indexer returned HTTP %d", resp.StatusCode)
	}
	var env graphQLEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("decode indexer response: %w", err)
	}
	if len(env.Errors) > 0 {
		qe := &QueryError{Messages: make([]string, len(env.Errors))}
		for i, e := range env.Errors {
			qe.Messages[i] = e.Message
		}
		return qe
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode indexer data: %w", err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, query string, variables map[string]any) (*http.Response, error) {
	payload, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post indexer query: %w", err)
	}
	return resp, nil
}

func (c *Client) get(ctx context.Context, query string, variables map[string]any) (*http.Response, error) {
	values := url.Values{}
	values.Set("query", query)
	if len(variables) > 0 {
		encoded, err := json.Marshal(variables)
		if err != nil {
			return nil, fmt.Errorf("encode variables: %w", err)
		}
		values.Set("variables", string(encoded))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?"+values.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get indexer query: %w", err)
	}
	return resp, nil
}
