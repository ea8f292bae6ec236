// Package rest talks to a PostgREST-compatible HTTP endpoint, the API shape
// exposed by hosted Postgres backends.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/MrBigodon205/app-de-professor-sub003/internal/errors"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/models"
	"github.com/MrBigodon205/app-de-professor-sub003/internal/remote"
)

// TokenSource returns the bearer token of the signed-in user. Session
// handling lives outside the sync layer.
type TokenSource func(ctx context.Context) (string, error)

// Config holds REST connection configuration.
type Config struct {
	BaseURL string // e.g. https://project.example.co
	APIKey  string
	Token   TokenSource
	Timeout time.Duration
}

// Client implements remote.Client over HTTP.
type Client struct {
	config     Config
	httpClient *http.Client
}

var _ remote.Client = (*Client)(nil)

// New creates a Client.
func New(config Config) *Client {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
	}
}

func (c *Client) endpoint(t models.Table, params url.Values) string {
	u := strings.TrimRight(c.config.BaseURL, "/") + "/rest/v1/" + url.PathEscape(t.RemoteName())
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return u
}

func (c *Client) do(ctx context.Context, method string, t models.Table, params url.Values, body interface{}, prefer string) ([]byte, error) {
	if err := remote.CheckTable(t); err != nil {
		return nil, err
	}
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrInvalid, "encode request body", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(t, params), reader)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}
	if c.config.APIKey != "" {
		req.Header.Set("apikey", c.config.APIKey)
	}
	if c.config.Token != nil {
		token, err := c.config.Token(ctx)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.ErrRemoteAuth, "obtain access token", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	op := fmt.Sprintf("%s %s", method, t.RemoteName())
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, remote.ClassifyTransport(op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, remote.ClassifyTransport(op+": read body", err)
	}
	if resp.StatusCode >= 300 {
		return nil, apperrors.New(remote.ClassifyStatus(resp.StatusCode),
			fmt.Sprintf("%s failed with status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(data))))
	}
	return data, nil
}

// Select implements remote.Client.
func (c *Client) Select(ctx context.Context, t models.Table, q remote.Query) ([]remote.Record, error) {
	params := url.Values{"select": {"*"}}
	for _, f := range q.Eq {
		params.Add(f.Column, "eq."+fmt.Sprint(f.Value))
	}
	if q.Order != "" {
		params.Set("order", q.Order+".asc")
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	data, err := c.do(ctx, http.MethodGet, t, params, nil, "")
	if err != nil {
		return nil, err
	}
	var out []remote.Record
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrRemoteRejected, "decode select response", err)
	}
	return out, nil
}

// Insert implements remote.Client.
func (c *Client) Insert(ctx context.Context, t models.Table, rec remote.Record) error {
	_, err := c.do(ctx, http.MethodPost, t, nil, rec, "return=minimal")
	return err
}

// Update implements remote.Client.
func (c *Client) Update(ctx context.Context, t models.Table, id string, rec remote.Record) error {
	_, err := c.do(ctx, http.MethodPatch, t, url.Values{"id": {"eq." + id}}, rec, "return=minimal")
	return err
}

// Upsert implements remote.Client, merging on the id column.
func (c *Client) Upsert(ctx context.Context, t models.Table, rec remote.Record) error {
	_, err := c.do(ctx, http.MethodPost, t, url.Values{"on_conflict": {"id"}}, rec, "resolution=merge-duplicates,return=minimal")
	return err
}

// Delete implements remote.Client. PostgREST answers a delete that matched
// nothing with success, which keeps replays idempotent.
func (c *Client) Delete(ctx context.Context, t models.Table, id string) error {
	_, err := c.do(ctx, http.MethodDelete, t, url.Values{"id": {"eq." + id}}, nil, "return=minimal")
	return err
}
