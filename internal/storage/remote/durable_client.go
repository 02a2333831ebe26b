// Package remote реализует DurableRepository поверх HTTP API внешней системы хранения.
package remote

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

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/drafts/internal/domain"
)

const (
	defaultTimeout   = 5 * time.Second
	maxErrorBodySize = 4 << 10
	idempotencyHdr   = "Idempotency-Key"
	operationIDHdr   = "X-Request-ID"
)

// Client ходит в REST API durable-хранилища:
//
//	POST   /records                       -> {"id": "..."}
//	PATCH  /records/{id}
//	DELETE /records/{id}
//	GET    /registrations?holder_id=&period=[&exclude_session_id=] -> {"exists": bool}
type Client struct {
	baseURL *url.URL
	http    *http.Client
	token   string
	logger  *log.Entry
}

// Option настраивает Client.
type Option func(*Client)

// WithHTTPClient подменяет http.Client (тесты, кастомный транспорт).
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) { client.http = c }
}

// WithToken задаёт bearer-токен сервисной учётной записи.
func WithToken(token string) Option {
	return func(client *Client) { client.token = token }
}

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(client *Client) { client.logger = logger }
}

// NewClient создаёт HTTP-адаптер durable-хранилища.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse durable base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("durable base url must be absolute: %q", baseURL)
	}

	client := &Client{
		baseURL: parsed,
		http:    &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(client)
	}
	if client.logger == nil {
		client.logger = log.WithField("component", "durable-http")
	}
	return client, nil
}

type createResponse struct {
	ID string `json:"id"`
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

func (c *Client) Create(ctx context.Context, record domain.DurableRecord) (string, error) {
	if strings.TrimSpace(record.IdempotencyKey) == "" {
		return "", domain.Fatal("create", domain.ErrIdempotencyKeyRequired)
	}

	var resp createResponse
	err := c.do(ctx, "create", http.MethodPost, "/records", nil, record, record.IdempotencyKey, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", domain.Fatal("create", errors.New("empty record id in response"))
	}
	return resp.ID, nil
}

func (c *Client) Update(ctx context.Context, id string, patch domain.RecordPatch) error {
	return c.do(ctx, "update", http.MethodPatch, "/records/"+url.PathEscape(id), nil, patch, "", nil)
}

func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, "delete", http.MethodDelete, "/records/"+url.PathEscape(id), nil, nil, "", nil)
}

func (c *Client) ExistsForHolderPeriod(ctx context.Context, holderID, period, excludeSessionID string) (bool, error) {
	query := url.Values{}
	query.Set("holder_id", holderID)
	query.Set("period", period)
	if excludeSessionID != "" {
		query.Set("exclude_session_id", excludeSessionID)
	}

	var resp existsResponse
	if err := c.do(ctx, "exists", http.MethodGet, "/registrations", query, nil, "", &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body any, idempotencyKey string, out any) error {
	target := *c.baseURL
	target.Path = c.baseURL.Path + path
	if query != nil {
		target.RawQuery = query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return domain.Fatal(op, fmt.Errorf("marshal request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), reader)
	if err != nil {
		return domain.Fatal(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set(idempotencyHdr, idempotencyKey)
	}
	if opID := domain.OperationIDFromContext(ctx); opID != "" {
		req.Header.Set(operationIDHdr, opID)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		// Сетевые ошибки и таймауты считаются временными.
		return domain.Transient(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return domain.Fatal(op, fmt.Errorf("decode response: %w", err))
		}
		return nil
	}

	detail, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	statusErr := fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(detail)))

	c.logger.WithFields(log.Fields{
		"op":     op,
		"status": resp.StatusCode,
	}).Debug("durable backend returned error status")

	return classifyStatus(op, resp.StatusCode, statusErr)
}

func classifyStatus(op string, status int, err error) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %v", domain.ErrRecordNotFound, err)
	case status == http.StatusConflict && op == "create":
		return fmt.Errorf("%w: %v", domain.ErrDuplicateRecord, err)
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests, status >= 500:
		return domain.Transient(op, err)
	default:
		return domain.Fatal(op, err)
	}
}

var (
	_ domain.DurableRepository = (*Client)(nil)
	_ domain.RegistrationIndex = (*Client)(nil)
)
