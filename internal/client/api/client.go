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
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"community-chat/internal/models"
	"community-chat/internal/pagination"
)

const DefaultTimeout = 10 * time.Second

// Kind classifies a failed call for the caller's retry and alert policy.
type Kind string

const (
	KindValidation Kind = "validation"
	KindTerminal   Kind = "terminal"
	KindTransient  Kind = "transient"
	// KindDuplicate means the idempotency key was already accepted.
	KindDuplicate  Kind = "duplicate"
)

// Error is returned by every Client call that does not succeed.
type Error struct {
	Kind    Kind
	Status  int
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("%s error: status %d: %s", e.Kind, e.Status, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, treating unknown errors as transient.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return KindTransient
}

func classify(status int) Kind {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return KindValidation
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusGone:
		return KindTerminal
	case http.StatusConflict:
		return KindDuplicate
	default:
		return KindTransient
	}
}

// Client talks to the community chat HTTP API as one user.
type Client struct {
	base  string
	token string
	hc    *http.Client
}

func NewClient(base, token string) *Client {
	return &Client{
		base:  base,
		token: token,
		hc: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// ListCommunities returns the caller's communities with unread projections.
func (c *Client) ListCommunities(ctx context.Context) ([]models.Community, error) {
	var out struct {
		Communities []models.Community `json:"communities"`
	}
	if err := c.do(ctx, http.MethodGet, "/communities", nil, &out); err != nil {
		return nil, err
	}
	return out.Communities, nil
}

// FetchPage reads one page of history. A nil cursor anchors the page on the
// caller's read marker and is only valid for pagination.Around.
func (c *Client) FetchPage(ctx context.Context, communityID int64, cursor *pagination.Cursor, dir pagination.Direction) (pagination.Page, error) {
	q := url.Values{}
	if cursor != nil {
		q.Set("cursor", cursor.String())
	}
	if intent := dir.MergeIntent(); intent != "" {
		q.Set("merge_intent", intent)
	}
	path := "/communities/" + strconv.FormatInt(communityID, 10) + "/messages"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var page pagination.Page
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return pagination.Page{}, err
	}
	return page, nil
}

// SendMessage posts a message. idempotencyKey may be empty.
func (c *Client) SendMessage(ctx context.Context, communityID int64, content, idempotencyKey string) (models.Message, error) {
	var msg models.Message
	path := "/communities/" + strconv.FormatInt(communityID, 10) + "/messages"
	headers := map[string]string{}
	if idempotencyKey != "" {
		headers["Idempotency-Key"] = idempotencyKey
	}
	if err := c.doWithHeaders(ctx, http.MethodPost, path, map[string]string{"content": content}, &msg, headers); err != nil {
		return models.Message{}, err
	}
	return msg, nil
}

// MarkRead advances the caller's read marker to messageID.
func (c *Client) MarkRead(ctx context.Context, communityID, messageID int64) error {
	path := "/communities/" + strconv.FormatInt(communityID, 10) + "/read"
	return c.do(ctx, http.MethodPost, path, map[string]int64{"message_id": messageID}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.doWithHeaders(ctx, method, path, body, out, nil)
}

func (c *Client) doWithHeaders(ctx context.Context, method, path string, body, out any, headers map[string]string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &Error{Kind: KindValidation, Message: "encode request", Err: err}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return &Error{Kind: KindValidation, Message: "build request", Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return &Error{Kind: KindTransient, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = http.StatusText(resp.StatusCode)
		}
		return &Error{Kind: classify(resp.StatusCode), Status: resp.StatusCode, Message: e.Error}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Kind: KindTransient, Status: resp.StatusCode, Message: "decode response", Err: err}
	}
	return nil
}
