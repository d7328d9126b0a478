package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/divvyhq/divvy/internal/auth"
	"github.com/divvyhq/divvy/internal/models"
)

// Ensure HTTPClient implements Client
var _ Client = (*HTTPClient)(nil)

// HTTPClient implements Client against the JSON sync API.
//
// Status mapping: 2xx success; 400/422 validation; 409 conflict; 401/403
// credential rejection; 404 not-found on fetches and a no-op on deletes
// (already gone); anything else, and any transport error from the round
// trip, is transient.
type HTTPClient struct {
	base  string
	http  *http.Client
	creds auth.CredentialSource
}

// NewHTTPClient creates a client for the sync service at baseURL.
func NewHTTPClient(baseURL string, creds auth.CredentialSource) *HTTPClient {
	return &HTTPClient{
		base:  strings.TrimRight(baseURL, "/"),
		http:  &http.Client{Timeout: 30 * time.Second},
		creds: creds,
	}
}

func entityPath(t models.EntityType) string {
	switch t {
	case models.EntityExpense:
		return "expenses"
	case models.EntityGroup:
		return "groups"
	case models.EntitySettlement:
		return "settlements"
	default:
		return strings.ToLower(string(t)) + "s"
	}
}

// Submit implements Client.
func (c *HTTPClient) Submit(ctx context.Context, op *models.SyncOperation) error {
	url := fmt.Sprintf("%s/v1/%s/%s", c.base, entityPath(op.EntityType), op.EntityID)

	var req *http.Request
	var err error
	switch op.Op {
	case models.OpDelete:
		req, err = http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	default:
		// CREATE and UPDATE are both idempotent upserts remotely.
		req, err = http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(op.Payload))
	}
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	// The server deduplicates redelivery by operation id.
	req.Header.Set("Idempotency-Key", fmt.Sprintf("op-%d", op.ID))

	resp, err := c.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound && op.Op == models.OpDelete:
		// Deleting something already gone is a success for convergence.
		return nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return &ValidationError{Reason: readBody(resp)}
	case resp.StatusCode == http.StatusConflict:
		return &ConflictError{Reason: readBody(resp)}
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	default:
		return fmt.Errorf("remote returned status %d: %s", resp.StatusCode, readBody(resp))
	}
}

// FetchExpense implements Client.
func (c *HTTPClient) FetchExpense(ctx context.Context, id string) (*models.Expense, []models.ExpenseSplit, error) {
	raw, err := c.fetch(ctx, models.EntityExpense, id)
	if err != nil {
		return nil, nil, err
	}
	return models.DecodeExpense(raw)
}

// FetchGroup implements Client.
func (c *HTTPClient) FetchGroup(ctx context.Context, id string) (*models.Group, error) {
	raw, err := c.fetch(ctx, models.EntityGroup, id)
	if err != nil {
		return nil, err
	}
	return models.DecodeGroup(raw)
}

// FetchSettlement implements Client.
func (c *HTTPClient) FetchSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	raw, err := c.fetch(ctx, models.EntitySettlement, id)
	if err != nil {
		return nil, err
	}
	return models.DecodeSettlement(raw)
}

func (c *HTTPClient) fetch(ctx context.Context, t models.EntityType, id string) (json.RawMessage, error) {
	url := fmt.Sprintf("%s/v1/%s/%s", c.base, entityPath(t), id)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	default:
		return nil, fmt.Errorf("remote returned status %d: %s", resp.StatusCode, readBody(resp))
	}
}

// do attaches the bearer credential and performs the round trip. Credential
// failures surface as auth.ErrUnauthenticated so the worker can defer the
// operation instead of failing it.
func (c *HTTPClient) do(req *http.Request) (*http.Response, error) {
	token, err := c.creds.Token(req.Context())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

func readBody(resp *http.Response) string {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
