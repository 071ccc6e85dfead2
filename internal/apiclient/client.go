// Package apiclient talks to the salesboard HTTP API. Client satisfies
// board.PipelineAPI so a board can run against a live server.
package apiclient

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

	"salesboard/internal/domain"
	"salesboard/internal/realtime"
	"salesboard/internal/stages"
	"salesboard/internal/store"
)

const defaultTimeout = 10 * time.Second

// Error is a non-2xx API response. It matches the store sentinel for its
// status under errors.Is.
type Error struct {
	Status  int
	Message string
	Details map[string]string
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("api status %d: %s %v", e.Status, e.Message, e.Details)
}

func (e *Error) Unwrap() error {
	switch e.Status {
	case http.StatusBadRequest:
		return store.ErrInvalid
	case http.StatusNotFound:
		return store.ErrNotFound
	case http.StatusConflict:
		return store.ErrConflict
	default:
		return nil
	}
}

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New builds a client for baseURL such as http://localhost:8080. An empty
// token sends no Authorization header.
func New(baseURL string, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		token:      strings.TrimSpace(token),
		httpClient: httpClient,
	}
}

func (c *Client) FetchPipeline(ctx context.Context) (domain.PipelineBoard, error) {
	var board domain.PipelineBoard
	err := c.do(ctx, http.MethodGet, "/api/v1/pipeline", nil, &board)
	return board, err
}

func (c *Client) Stages(ctx context.Context) ([]stages.Stage, error) {
	var out struct {
		Stages []stages.Stage `json:"stages"`
	}
	err := c.do(ctx, http.MethodGet, "/api/v1/stages", nil, &out)
	return out.Stages, err
}

func (c *Client) UpdateStage(ctx context.Context, leadID string, stage string) error {
	return c.do(ctx, http.MethodPatch, leadPath(leadID, "stage"), domain.StageUpdateRequest{Stage: stage}, nil)
}

func (c *Client) MarkWon(ctx context.Context, leadID string) error {
	return c.do(ctx, http.MethodPost, leadPath(leadID, "won"), nil, nil)
}

func (c *Client) MarkLost(ctx context.Context, leadID string) error {
	return c.do(ctx, http.MethodPost, leadPath(leadID, "lost"), nil, nil)
}

func (c *Client) DeleteLead(ctx context.Context, leadID string) error {
	return c.do(ctx, http.MethodDelete, leadPath(leadID, ""), nil, nil)
}

func (c *Client) CreateLead(ctx context.Context, req domain.LeadCreateRequest) (domain.Lead, error) {
	var lead domain.Lead
	err := c.do(ctx, http.MethodPost, "/api/v1/leads", req, &lead)
	return lead, err
}

func (c *Client) CreateInvoice(ctx context.Context, req domain.InvoiceCreateRequest) (domain.Invoice, error) {
	var invoice domain.Invoice
	err := c.do(ctx, http.MethodPost, "/api/v1/invoices", req, &invoice)
	return invoice, err
}

func (c *Client) LeadInvoices(ctx context.Context, leadID string) ([]domain.Invoice, error) {
	var out domain.InvoiceListResponse
	err := c.do(ctx, http.MethodGet, leadPath(leadID, "invoices"), nil, &out)
	return out.Invoices, err
}

func (c *Client) NextInvoiceNumber(ctx context.Context) (string, error) {
	var out domain.NextNumberResponse
	err := c.do(ctx, http.MethodGet, "/api/v1/invoices/next-number", nil, &out)
	return out.InvoiceNumber, err
}

// Subscribe streams board events from /ws/pipeline until ctx is done.
func (c *Client) Subscribe(ctx context.Context, onEvent func(domain.BoardEvent)) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}
	return realtime.Subscribe(ctx, wsURL, c.authHeader(), onEvent)
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/ws/pipeline")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func (c *Client) authHeader() http.Header {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}
	return header
}

func (c *Client) do(ctx context.Context, method string, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header = c.authHeader()
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	apiErr := &Error{Status: resp.StatusCode}
	var payload struct {
		Error   string            `json:"error"`
		Details map[string]string `json:"details"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		apiErr.Message = payload.Error
		apiErr.Details = payload.Details
	} else {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func leadPath(leadID string, action string) string {
	p := "/api/v1/leads/" + url.PathEscape(leadID)
	if action != "" {
		p += "/" + action
	}
	return p
}
