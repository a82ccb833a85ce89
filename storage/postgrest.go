package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"todo-api/domain"
	"todo-api/session"
)

const (
	restPath         = "/rest/v1/"
	maxResponseBytes = 4 << 20 // 4 MiB
	preferReturnRows = "return=representation"
	preferReturnNone = "return=minimal"
)

// APIError is the error body returned by the hosted REST layer.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("rest api %d (%s): %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("rest api %d: %s", e.Status, msg)
}

// PostgREST talks to the hosted data service's REST interface. Requests carry
// the caller's access token when the context holds an authenticated session,
// so the backend's row-level security applies.
type PostgREST struct {
	baseURL    string
	apiKey     string
	serviceKey string
	client     *http.Client
}

// PostgRESTOption configures a PostgREST client.
type PostgRESTOption func(*PostgREST)

// WithServiceKey sets the bearer used when no user session is present.
func WithServiceKey(key string) PostgRESTOption {
	return func(p *PostgREST) { p.serviceKey = key }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) PostgRESTOption {
	return func(p *PostgREST) {
		if c != nil {
			p.client = c
		}
	}
}

// NewPostgREST creates a client for the project at projectURL.
func NewPostgREST(projectURL, apiKey string, opts ...PostgRESTOption) (*PostgREST, error) {
	u, err := url.Parse(strings.TrimRight(projectURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse project url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("project url %q must be absolute", projectURL)
	}
	if apiKey == "" {
		return nil, errors.New("api key is required")
	}
	p := &PostgREST{
		baseURL: u.String() + restPath,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Select lists rows matching filters in the given order.
func (p *PostgREST) Select(ctx context.Context, table string, filters []domain.Filter, order domain.Order) ([]domain.Task, error) {
	q, err := filterQuery(filters)
	if err != nil {
		return nil, err
	}
	q.Set("select", "*")
	if order.Column != "" {
		if !order.Column.Valid() {
			return nil, fmt.Errorf("unknown order column %q", order.Column)
		}
		dir := "asc"
		if order.Descending {
			dir = "desc"
		}
		q.Set("order", string(order.Column)+"."+dir)
	}
	var rows []domain.Task
	if err := p.do(ctx, http.MethodGet, table, q, nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Insert creates a row and returns it as stored.
func (p *PostgREST) Insert(ctx context.Context, table string, record domain.TaskPatch) ([]domain.Task, error) {
	body, err := sonic.ConfigStd.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	q := url.Values{}
	q.Set("select", "*")
	var rows []domain.Task
	if err := p.do(ctx, http.MethodPost, table, q, body, preferReturnRows, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Update applies patch to every row matching filters and returns the rows as
// stored.
func (p *PostgREST) Update(ctx context.Context, table string, patch domain.TaskPatch, filters []domain.Filter) ([]domain.Task, error) {
	if patch.Empty() {
		return nil, errors.New("update patch is empty")
	}
	if len(filters) == 0 {
		return nil, errors.New("update requires at least one filter")
	}
	q, err := filterQuery(filters)
	if err != nil {
		return nil, err
	}
	q.Set("select", "*")
	body, err := sonic.ConfigStd.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("encode patch: %w", err)
	}
	var rows []domain.Task
	if err := p.do(ctx, http.MethodPatch, table, q, body, preferReturnRows, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// Delete removes every row matching filters.
func (p *PostgREST) Delete(ctx context.Context, table string, filters []domain.Filter) error {
	if len(filters) == 0 {
		return errors.New("delete requires at least one filter")
	}
	q, err := filterQuery(filters)
	if err != nil {
		return err
	}
	return p.do(ctx, http.MethodDelete, table, q, nil, preferReturnNone, nil)
}

func filterQuery(filters []domain.Filter) (url.Values, error) {
	q := url.Values{}
	for _, f := range filters {
		if !f.Column.Valid() {
			return nil, fmt.Errorf("unknown filter column %q", f.Column)
		}
		q.Add(string(f.Column), "eq."+f.Value)
	}
	return q, nil
}

func (p *PostgREST) bearer(ctx context.Context) string {
	if tok := session.FromContext(ctx).AccessToken(); tok != "" {
		return tok
	}
	if p.serviceKey != "" {
		return p.serviceKey
	}
	return p.apiKey
}

func (p *PostgREST) do(ctx context.Context, method, table string, q url.Values, body []byte, prefer string, out *[]domain.Task) error {
	if table == "" || strings.ContainsAny(table, "/?#") {
		return fmt.Errorf("invalid table name %q", table)
	}
	target := p.baseURL + url.PathEscape(table)
	if len(q) > 0 {
		target += "?" + q.Encode()
	}
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", p.apiKey)
	req.Header.Set("Authorization", "Bearer "+p.bearer(ctx))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		if len(data) > 0 {
			_ = sonic.ConfigStd.Unmarshal(data, apiErr)
		}
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := sonic.ConfigStd.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode rows: %w", err)
	}
	return nil
}
