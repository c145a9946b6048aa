// Package api is the HTTP client for the accounting backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"ledger/internal/core"
	"ledger/internal/log"
)

const maxErrorBody = 4 << 10

// Options configures a Client.
type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *log.Logger

	// OnUnauthorized receives every 401/403 answer. The error is still
	// returned to the caller; nothing is retried.
	OnUnauthorized func(*core.AuthorizationError)
}

// Client talks to the backend with a bearer credential.
type Client struct {
	base           *url.URL
	token          string
	http           *http.Client
	logger         *log.Logger
	onUnauthorized func(*core.AuthorizationError)
}

var _ Backend = (*Client)(nil)

// New builds a Client. The HTTP transport is wrapped with request logging.
func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", opts.BaseURL)
	}

	logger := log.OrDiscard(opts.Logger)
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	wrapped := *hc
	wrapped.Transport = log.NewTransport(hc.Transport, logger)

	return &Client{
		base:           base,
		token:          opts.Token,
		http:           &wrapped,
		logger:         logger.WithComponent(log.ComponentHTTP),
		onUnauthorized: opts.OnUnauthorized,
	}, nil
}

type itemsEnvelope[T any] struct {
	Items []T `json:"items"`
}

func (c *Client) ListAttachments(ctx context.Context, expenseID int64) ([]core.Attachment, error) {
	var out itemsEnvelope[core.Attachment]
	path := fmt.Sprintf("/api/expenses/%d/attachments", expenseID)
	if err := c.doJSON(ctx, "list attachments", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = []core.Attachment{}
	}
	return out.Items, nil
}

func (c *Client) DeleteAttachment(ctx context.Context, attachmentID int64) error {
	path := fmt.Sprintf("/api/attachments/%d", attachmentID)
	return c.doJSON(ctx, "delete attachment", http.MethodDelete, path, nil, nil)
}

func (c *Client) FetchAttachment(ctx context.Context, attachmentID int64) (*Content, error) {
	const op = "fetch attachment"
	req, err := c.newRequest(ctx, http.MethodGet, fmt.Sprintf("/api/attachments/%d?inline=1", attachmentID), nil)
	if err != nil {
		return nil, &core.TransferError{Op: op, Err: err}
	}
	resp, err := c.send(req, op)
	if err != nil {
		return nil, err
	}
	return &Content{
		Body: resp.Body,
		Mime: resp.Header.Get("Content-Type"),
		Size: resp.ContentLength,
	}, nil
}

func (c *Client) ListDrafts(ctx context.Context, monthID int64, scope core.DraftScope) ([]core.ExpenseDraft, error) {
	q := url.Values{}
	q.Set("kind", core.DraftKindExpense)
	q.Set("scope", string(scope))
	path := fmt.Sprintf("/api/months/%d/drafts?%s", monthID, q.Encode())

	var out itemsEnvelope[core.ExpenseDraft]
	if err := c.doJSON(ctx, "list drafts", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = []core.ExpenseDraft{}
	}
	return out.Items, nil
}

func (c *Client) CreateDraft(ctx context.Context, monthID int64, payload core.DraftPayload) (core.ExpenseDraft, error) {
	var out core.ExpenseDraft
	path := fmt.Sprintf("/api/months/%d/drafts/expenses", monthID)
	err := c.doJSON(ctx, "create draft", http.MethodPost, path, payload, &out)
	return out, err
}

func (c *Client) SubmitDraft(ctx context.Context, draftID int64) (core.CreatedExpense, error) {
	var out core.CreatedExpense
	path := fmt.Sprintf("/api/drafts/%d/submit", draftID)
	err := c.doJSON(ctx, "submit draft", http.MethodPost, path, struct{}{}, &out)
	return out, err
}

func (c *Client) DeleteDraft(ctx context.Context, draftID int64) error {
	path := fmt.Sprintf("/api/drafts/%d", draftID)
	return c.doJSON(ctx, "delete draft", http.MethodDelete, path, nil, nil)
}

func (c *Client) MonthSummary(ctx context.Context, monthID int64) (core.MonthSummary, error) {
	var out core.MonthSummary
	path := fmt.Sprintf("/api/months/%d/summary", monthID)
	err := c.doJSON(ctx, "month summary", http.MethodGet, path, nil, &out)
	return out, err
}

func (c *Client) CloseMonth(ctx context.Context, monthID int64) error {
	path := fmt.Sprintf("/api/months/%d/close", monthID)
	return c.doJSON(ctx, "close month", http.MethodPost, path, struct{}{}, nil)
}

func (c *Client) ReopenMonth(ctx context.Context, monthID int64) error {
	path := fmt.Sprintf("/api/months/%d/reopen", monthID)
	return c.doJSON(ctx, "reopen month", http.MethodPost, path, struct{}{}, nil)
}

func (c *Client) ListExpenses(ctx context.Context, monthID int64) ([]core.Expense, error) {
	var out itemsEnvelope[core.Expense]
	path := fmt.Sprintf("/api/months/%d/expenses", monthID)
	if err := c.doJSON(ctx, "list expenses", http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out.Items == nil {
		out.Items = []core.Expense{}
	}
	return out.Items, nil
}

func (c *Client) CreateExpense(ctx context.Context, monthID int64, payload core.DraftPayload) (core.CreatedExpense, error) {
	var out core.CreatedExpense
	path := fmt.Sprintf("/api/months/%d/expenses", monthID)
	err := c.doJSON(ctx, "create expense", http.MethodPost, path, payload, &out)
	return out, err
}

// doJSON sends body as JSON (when non-nil) and decodes the answer into out
// (when non-nil and the answer is JSON).
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		rdr = bytes.NewReader(raw)
	}
	req, err := c.newRequest(ctx, method, path, rdr)
	if err != nil {
		return &core.TransferError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.send(req, op)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || !strings.Contains(resp.Header.Get("Content-Type"), "json") {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return &core.TransferError{Op: op, Status: resp.StatusCode, Message: "invalid response", Err: err}
	}
	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(log.RequestIDHeader, uuid.NewString())
	return req, nil
}

// send executes req and maps failures to the error taxonomy. On success the
// caller owns resp.Body.
func (c *Client) send(req *http.Request, op string) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &core.TransferError{Op: op, Err: err}
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := errorMessage(raw)

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		aerr := &core.AuthorizationError{Status: resp.StatusCode, Message: msg}
		if c.onUnauthorized != nil {
			c.onUnauthorized(aerr)
		}
		return nil, aerr
	}
	if msg == "" {
		msg = "Request failed"
	}
	return nil, &core.TransferError{Op: op, Status: resp.StatusCode, Message: msg}
}

// errorMessage extracts {"detail": "..."} style messages and falls back to the
// raw body text.
func errorMessage(raw []byte) string {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return ""
	}
	var body struct {
		Detail  any    `json:"detail"`
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil {
		switch d := body.Detail.(type) {
		case string:
			return d
		case nil:
		default:
			if b, err := json.Marshal(d); err == nil {
				return string(b)
			}
		}
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}
	return text
}
