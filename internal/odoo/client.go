// Package odoo implements the remote-source connector: an authenticated
// JSON-RPC 2.0 client that pages entity records out of an Odoo instance,
// and the pure field mapper that normalizes vendor shapes.
package odoo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/revpipe/revpipe/internal/domain"
	"github.com/revpipe/revpipe/internal/pkg/httpretry"
)

// ErrAuthFailed marks an authentication refusal: terminal for the current
// sync job, distinct from transient connection faults.
var ErrAuthFailed = errors.New("odoo: authentication failed")

// Config holds connection settings for one Odoo instance.
type Config struct {
	URL      string
	Database string
	Username string
	APIKey   string
	Timeout  time.Duration
	PageSize int
}

// Client is the JSON-RPC connector. It is stateless across jobs apart from
// the authenticated uid, and holds a single pooled HTTP client.
type Client struct {
	baseURL    string
	database   string
	username   string
	apiKey     string
	pageSize   int
	uid        atomic.Int64
	httpClient httpretry.HTTPDoer
	log        zerolog.Logger
	rpcSeq     atomic.Int64
}

// NewClient creates a connector for the given instance. The base URL is
// normalized: well-known RPC suffixes and trailing slashes are stripped.
func NewClient(cfg Config, log zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	pageSize := cfg.PageSize
	if pageSize == 0 {
		pageSize = 200
	}
	return &Client{
		baseURL:  normalizeBaseURL(cfg.URL),
		database: cfg.Database,
		username: cfg.Username,
		apiKey:   cfg.APIKey,
		pageSize: pageSize,
		httpClient: httpretry.NewRetryClient(&http.Client{Timeout: timeout}, 3,
			httpretry.WithLogger(log)),
		log: log.With().Str("component", "odoo").Logger(),
	}
}

// SetHTTPClient sets a custom HTTP client (useful for testing).
func (c *Client) SetHTTPClient(client httpretry.HTTPDoer) {
	c.httpClient = client
}

func normalizeBaseURL(raw string) string {
	u := strings.TrimRight(strings.TrimSpace(raw), "/")
	for _, suffix := range []string{"/jsonrpc", "/xmlrpc/2/common", "/xmlrpc/2/object", "/xmlrpc"} {
		u = strings.TrimSuffix(u, suffix)
	}
	return u
}

type rpcRequest struct {
	JSONRPC string                 `json:"jsonrpc"`
	Method  string                 `json:"method"`
	Params  map[string]interface{} `json:"params"`
	ID      int64                  `json:"id"`
}

type rpcError struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	if e.Data != nil {
		if m, ok := e.Data["message"].(string); ok && m != "" {
			return fmt.Sprintf("odoo: rpc error %d: %s: %s", e.Code, e.Message, m)
		}
	}
	return fmt.Sprintf("odoo: rpc error %d: %s", e.Code, e.Message)
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// call performs one JSON-RPC invocation against <base>/jsonrpc.
func (c *Client) call(ctx context.Context, service, method string, args []interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		Params: map[string]interface{}{
			"service": service,
			"method":  method,
			"args":    args,
		},
		ID: c.rpcSeq.Add(1),
	})
	if err != nil {
		return nil, fmt.Errorf("odoo: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/jsonrpc", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("odoo: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("odoo: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("odoo: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("odoo: http status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("odoo: parse response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, rpcResp.Error
	}
	return rpcResp.Result, nil
}

// Authenticate performs the two-step credential exchange: it obtains the
// numeric uid bound to subsequent model calls. The source returns `false`
// (not an error object) for invalid credentials.
func (c *Client) Authenticate(ctx context.Context) error {
	result, err := c.call(ctx, "common", "authenticate", []interface{}{
		c.database, c.username, c.apiKey, map[string]interface{}{},
	})
	if err != nil {
		return err
	}

	var uid int64
	if err := json.Unmarshal(result, &uid); err != nil {
		// `false` means the credentials were refused.
		var refused bool
		if json.Unmarshal(result, &refused) == nil && !refused {
			return ErrAuthFailed
		}
		return fmt.Errorf("odoo: unexpected authenticate result %s", truncate(string(result), 80))
	}
	if uid <= 0 {
		return ErrAuthFailed
	}

	c.uid.Store(uid)
	c.log.Info().Int64("uid", uid).Str("database", c.database).Msg("authenticated")
	return nil
}

// executeKW invokes a model method bound to the authenticated uid.
func (c *Client) executeKW(ctx context.Context, model, method string, positional []interface{}, kwargs map[string]interface{}) (json.RawMessage, error) {
	uid := c.uid.Load()
	if uid == 0 {
		if err := c.Authenticate(ctx); err != nil {
			return nil, err
		}
		uid = c.uid.Load()
	}
	return c.call(ctx, "object", "execute_kw", []interface{}{
		c.database, uid, c.apiKey, model, method, positional, kwargs,
	})
}

// Page is one fetched page of records plus the cursor for the next.
type Page struct {
	Records   []Record
	Next      int
	Exhausted bool
}

// FetchPage fetches one page of records for the entity starting at the
// given cursor (record offset). Filters and pagination are propagated
// verbatim; modifiedSince narrows to records written since that instant.
func (c *Client) FetchPage(ctx context.Context, entity domain.EntityType, cursor int, modifiedSince *time.Time) (*Page, error) {
	model := modelFor(entity)
	if model == "" {
		return nil, fmt.Errorf("odoo: unknown entity type %q", entity)
	}

	predicate := domainFor(entity)
	if modifiedSince != nil {
		predicate = append(predicate, []interface{}{
			"write_date", ">=", modifiedSince.UTC().Format("2006-01-02 15:04:05"),
		})
	}

	result, err := c.executeKW(ctx, model, "search_read",
		[]interface{}{predicate},
		map[string]interface{}{
			"fields": fieldsFor(entity),
			"limit":  c.pageSize,
			"offset": cursor,
			"order":  "id asc",
		})
	if err != nil {
		return nil, fmt.Errorf("odoo: fetch %s page at %d: %w", entity, cursor, err)
	}

	var records []Record
	if err := json.Unmarshal(result, &records); err != nil {
		return nil, fmt.Errorf("odoo: parse %s page: %w", entity, err)
	}

	page := &Page{
		Records:   records,
		Next:      cursor + len(records),
		Exhausted: len(records) < c.pageSize,
	}
	c.log.Debug().
		Str("entity", string(entity)).
		Int("cursor", cursor).
		Int("records", len(records)).
		Bool("exhausted", page.Exhausted).
		Msg("fetched page")
	return page, nil
}

// FetchAll walks every page for the entity, invoking fn per record. It
// stops on the first connector-level fault, preserving the unprocessed
// cursor in the returned error.
func (c *Client) FetchAll(ctx context.Context, entity domain.EntityType, modifiedSince *time.Time, fn func(Record) error) error {
	cursor := 0
	for {
		page, err := c.FetchPage(ctx, entity, cursor, modifiedSince)
		if err != nil {
			return fmt.Errorf("cursor %d: %w", cursor, err)
		}
		for _, rec := range page.Records {
			if err := fn(rec); err != nil {
				return err
			}
		}
		if page.Exhausted {
			return nil
		}
		cursor = page.Next
	}
}

// Close releases the connector. The pooled HTTP client needs no teardown;
// the uid is dropped so a reused client re-authenticates.
func (c *Client) Close() error {
	c.uid.Store(0)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
