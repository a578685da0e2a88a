// Package source defines the endpoint descriptors and reader/writer
// adapters the sync engine pulls data through.
package source

import (
	"context"

	"github.com/matterhub/sync-engine/internal/conflict"
)

// Endpoint type constants. Only database and api endpoints have functional
// adapters; file and external_service are declared for forward
// compatibility and read as empty.
const (
	TypeDatabase        = "database"
	TypeAPI             = "api"
	TypeFile            = "file"
	TypeExternalService = "external_service"
)

// Endpoint describes one side of a synchronization: where records live and
// how to reach them.
type Endpoint struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Type   string         `json:"type"`
	Config EndpointConfig `json:"config"`
}

// EndpointConfig carries the per-type connection settings. Fields are
// optional; each adapter validates the ones it needs.
type EndpointConfig struct {
	Table              string            `json:"table,omitempty"`
	Schema             string            `json:"schema,omitempty"`
	Query              string            `json:"query,omitempty"`
	BaseURL            string            `json:"base_url,omitempty"`
	Path               string            `json:"path,omitempty"`
	Authentication     *Authentication   `json:"authentication,omitempty"`
	Headers            map[string]string `json:"headers,omitempty"`
	BatchSize          int               `json:"batch_size,omitempty"`
	MaxRetries         int               `json:"max_retries,omitempty"`
	ConflictResolution string            `json:"conflict_resolution,omitempty"`
}

// Authentication describes how API requests are authenticated.
type Authentication struct {
	Scheme   string `json:"scheme"` // api_key, basic, bearer
	APIKey   string `json:"api_key,omitempty"`
	Header   string `json:"header,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Token    string `json:"token,omitempty"`
}

// Reader pulls the full record set from an endpoint.
type Reader interface {
	Read(ctx context.Context, endpoint *Endpoint) ([]conflict.Record, error)
}

// Writer pushes a batch of records to an endpoint.
type Writer interface {
	Write(ctx context.Context, endpoint *Endpoint, records []conflict.Record) error
}
