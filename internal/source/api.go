package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/conflict"
)

// APIAdapter reads and writes records against a REST endpoint. Reads issue
// one authenticated GET for the full collection; writes POST each record.
type APIAdapter struct {
	client *http.Client
	logger *zap.Logger
}

// NewAPIAdapter creates an API adapter with the given per-call timeout.
func NewAPIAdapter(timeout time.Duration, logger *zap.Logger) *APIAdapter {
	return &APIAdapter{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Read fetches the endpoint's record collection. The response body may be
// either a bare JSON array or an object wrapping one under "data" or
// "records".
func (a *APIAdapter) Read(ctx context.Context, endpoint *Endpoint) ([]conflict.Record, error) {
	url, err := endpointURL(endpoint)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build API read request")
	}
	applyAuthentication(req, endpoint.Config.Authentication)
	for header, value := range endpoint.Config.Headers {
		req.Header.Set(header, value)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read from API endpoint %s", endpoint.ID)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, errors.Errorf("API endpoint %s returned status %d: %s", endpoint.ID, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	records, err := decodeRecords(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode response from API endpoint %s", endpoint.ID)
	}

	a.logger.Debug("API read completed",
		zap.String("endpoint_id", endpoint.ID),
		zap.Int("records", len(records)))

	return records, nil
}

// Write posts each record in the batch individually. The first failing
// record fails the batch, which the engine then retries as a unit.
func (a *APIAdapter) Write(ctx context.Context, endpoint *Endpoint, records []conflict.Record) error {
	url, err := endpointURL(endpoint)
	if err != nil {
		return err
	}

	for _, record := range records {
		payload, err := json.Marshal(record)
		if err != nil {
			return errors.Wrap(err, "failed to marshal record")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return errors.Wrap(err, "failed to build API write request")
		}
		req.Header.Set("Content-Type", "application/json")
		applyAuthentication(req, endpoint.Config.Authentication)
		for header, value := range endpoint.Config.Headers {
			req.Header.Set(header, value)
		}

		resp, err := a.client.Do(req)
		if err != nil {
			return errors.Wrapf(err, "failed to write to API endpoint %s", endpoint.ID)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return errors.Errorf("API endpoint %s rejected record with status %d", endpoint.ID, resp.StatusCode)
		}
	}

	a.logger.Debug("API batch written",
		zap.String("endpoint_id", endpoint.ID),
		zap.Int("records", len(records)))
	return nil
}

// Apply checks that a resolved value survives JSON serialization before the
// batch POST that carries it to the endpoint. Values that cannot serialize
// fail here, so the engine skips folding them instead of failing the whole
// record's write.
func (a *APIAdapter) Apply(_ context.Context, c *conflict.Conflict, res *conflict.Resolution) error {
	if res.ResolvedValue == nil {
		return nil
	}
	if _, err := json.Marshal(res.ResolvedValue); err != nil {
		return errors.Wrapf(err, "resolved value for %s.%s is not serializable", c.RecordID, c.Field)
	}

	a.logger.Debug("Resolution prepared for API target",
		zap.String("record_id", c.RecordID),
		zap.String("field", c.Field))
	return nil
}

// applyAuthentication sets the request auth header per the configured
// scheme: api_key, basic, or bearer.
func applyAuthentication(req *http.Request, auth *Authentication) {
	if auth == nil {
		return
	}

	switch strings.ToLower(auth.Scheme) {
	case "api_key":
		header := auth.Header
		if header == "" {
			header = "X-API-Key"
		}
		req.Header.Set(header, auth.APIKey)
	case "basic":
		req.SetBasicAuth(auth.Username, auth.Password)
	case "bearer":
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}
}

func endpointURL(endpoint *Endpoint) (string, error) {
	if endpoint.Config.BaseURL == "" {
		return "", errors.Errorf("API endpoint %s has no base URL configured", endpoint.ID)
	}
	url := strings.TrimRight(endpoint.Config.BaseURL, "/")
	if endpoint.Config.Path != "" {
		url += "/" + strings.TrimLeft(endpoint.Config.Path, "/")
	}
	return url, nil
}

func decodeRecords(body io.Reader) ([]conflict.Record, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}

	var records []conflict.Record
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(data, &wrapper); err != nil {
		return nil, fmt.Errorf("response is neither a record array nor an object: %w", err)
	}
	for _, key := range []string{"data", "records"} {
		if raw, ok := wrapper[key]; ok {
			if err := json.Unmarshal(raw, &records); err != nil {
				return nil, fmt.Errorf("failed to decode %q collection: %w", key, err)
			}
			return records, nil
		}
	}
	return nil, fmt.Errorf("response object has no data or records collection")
}
