// Package httpapi implements repository.DocumentRepository and the account
// calls over the relay's REST API.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/and161185/collabify/internal/errs"
	"github.com/and161185/collabify/internal/model"
)

const defaultTimeout = 15 * time.Second

// document is the JSON body exchanged with /api/documents and /api/drawings.
type document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type saveRequest struct {
	ID      string `json:"id"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content"`
}

type apiError struct {
	Error string `json:"error"`
}

// Client talks to the REST store with a bearer token.
type Client struct {
	r *resty.Client
}

// Option configures a Client.
type Option func(*resty.Client)

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option { return func(c *resty.Client) { c.SetTimeout(d) } }

// New constructs a Client for baseURL authenticated with token.
func New(baseURL, token string, opts ...Option) *Client {
	r := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetHeader("Accept", "application/json").
		SetTimeout(defaultTimeout)
	for _, o := range opts {
		o(r)
	}
	return &Client{r: r}
}

func collection(kind model.Kind) (string, error) {
	switch kind {
	case model.KindDocument, "":
		return "/api/documents", nil
	case model.KindDrawing:
		return "/api/drawings", nil
	}
	return "", fmt.Errorf("%w: %q", errs.ErrInvalidKind, kind)
}

// Get fetches one snapshot.
func (c *Client) Get(ctx context.Context, kind model.Kind, id string) (*model.DocumentSnapshot, error) {
	path, err := collection(kind)
	if err != nil {
		return nil, err
	}
	var doc document
	resp, err := c.r.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&doc).
		SetError(&apiError{}).
		Get(path + "/{id}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	snap := doc.snapshot(kind)
	return &snap, nil
}

// Put saves a snapshot with POST; the server assigns UpdatedAt.
func (c *Client) Put(ctx context.Context, snap model.DocumentSnapshot) (model.DocumentSnapshot, error) {
	path, err := collection(snap.Kind)
	if err != nil {
		return model.DocumentSnapshot{}, err
	}
	var doc document
	resp, err := c.r.R().
		SetContext(ctx).
		SetBody(saveRequest{ID: snap.DocID, Title: snap.Title, Content: snap.Content}).
		SetResult(&doc).
		SetError(&apiError{}).
		Post(path)
	if err := check(resp, err); err != nil {
		return model.DocumentSnapshot{}, err
	}
	if doc.ID == "" {
		doc.ID = snap.DocID
	}
	return doc.snapshot(snap.Kind), nil
}

// List returns the caller's saved items of kind.
func (c *Client) List(ctx context.Context, kind model.Kind) ([]model.DocumentSummary, error) {
	path, err := collection(kind)
	if err != nil {
		return nil, err
	}
	var docs []document
	resp, err := c.r.R().
		SetContext(ctx).
		SetResult(&docs).
		SetError(&apiError{}).
		Get(path)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	out := make([]model.DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, model.DocumentSummary{DocID: d.ID, Title: d.Title, UpdatedAt: d.UpdatedAt})
	}
	return out, nil
}

// Delete removes one snapshot.
func (c *Client) Delete(ctx context.Context, kind model.Kind, id string) error {
	path, err := collection(kind)
	if err != nil {
		return err
	}
	resp, err := c.r.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetError(&apiError{}).
		Delete(path + "/{id}")
	return check(resp, err)
}

func (d document) snapshot(kind model.Kind) model.DocumentSnapshot {
	if kind == "" {
		kind = model.KindDocument
	}
	return model.DocumentSnapshot{
		Kind:      kind,
		DocID:     d.ID,
		Title:     d.Title,
		Content:   d.Content,
		UpdatedAt: d.UpdatedAt,
	}
}

// check maps transport failures and non-2xx replies to errors, keeping the
// server's {"error": "..."} text when present.
func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	if !resp.IsError() {
		return nil
	}
	msg := http.StatusText(resp.StatusCode())
	if e, ok := resp.Error().(*apiError); ok && e.Error != "" {
		msg = e.Error
	}
	switch resp.StatusCode() {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", errs.ErrNotFound, msg)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", errs.ErrUnauthorized, msg)
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", errs.ErrAlreadyExists, msg)
	}
	return fmt.Errorf("api: %s (%d)", msg, resp.StatusCode())
}
