package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/matterhub/sync-engine/internal/conflict"
)

func apiTestEndpoint(baseURL string) *Endpoint {
	return &Endpoint{
		ID:   "api-1",
		Name: "practice management API",
		Type: TypeAPI,
		Config: EndpointConfig{
			BaseURL: baseURL,
			Path:    "/clients",
		},
	}
}

func TestAPIReadBareArray(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/clients", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]interface{}{
			{"id": "1", "name": "Acme LLP"},
			{"id": "2", "name": "Globex"},
		})
	}))
	defer server.Close()

	adapter := NewAPIAdapter(5*time.Second, zap.NewNop())
	records, err := adapter.Read(context.Background(), apiTestEndpoint(server.URL))
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "Acme LLP", records[0]["name"])
}

func TestAPIReadWrappedCollection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"total": 1,
			"data":  []map[string]interface{}{{"id": "1"}},
		})
	}))
	defer server.Close()

	adapter := NewAPIAdapter(5*time.Second, zap.NewNop())
	records, err := adapter.Read(context.Background(), apiTestEndpoint(server.URL))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "1", records[0]["id"])
}

func TestAPIReadErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer server.Close()

	adapter := NewAPIAdapter(5*time.Second, zap.NewNop())
	_, err := adapter.Read(context.Background(), apiTestEndpoint(server.URL))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestAPIReadMissingBaseURL(t *testing.T) {
	adapter := NewAPIAdapter(5*time.Second, zap.NewNop())
	_, err := adapter.Read(context.Background(), &Endpoint{ID: "api-1", Type: TypeAPI})
	require.Error(t, err)
}

func TestAPIWritePostsEachRecord(t *testing.T) {
	var mu sync.Mutex
	var received []map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var record map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&record))
		mu.Lock()
		received = append(received, record)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	adapter := NewAPIAdapter(5*time.Second, zap.NewNop())
	err := adapter.Write(context.Background(), apiTestEndpoint(server.URL), []conflict.Record{
		{"id": "1"},
		{"id": "2"},
	})
	require.NoError(t, err)
	assert.Len(t, received, 2)
}

func TestAPIWriteRejectedRecordFailsBatch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	adapter := NewAPIAdapter(5*time.Second, zap.NewNop())
	err := adapter.Write(context.Background(), apiTestEndpoint(server.URL), []conflict.Record{{"id": "1"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestAPIApplyRejectsNonSerializableValues(t *testing.T) {
	adapter := NewAPIAdapter(time.Second, zap.NewNop())
	c := &conflict.Conflict{RecordID: "1", Field: "callback"}

	err := adapter.Apply(context.Background(), c, &conflict.Resolution{ResolvedValue: make(chan int)})
	require.Error(t, err)

	require.NoError(t, adapter.Apply(context.Background(), c, &conflict.Resolution{ResolvedValue: map[string]interface{}{"priority": "high"}}))
	require.NoError(t, adapter.Apply(context.Background(), c, &conflict.Resolution{ResolvedValue: nil}))
}

func TestAPIAuthentication(t *testing.T) {
	tests := []struct {
		name   string
		auth   *Authentication
		verify func(t *testing.T, r *http.Request)
	}{
		{
			name: "api key default header",
			auth: &Authentication{Scheme: "api_key", APIKey: "secret"},
			verify: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "secret", r.Header.Get("X-API-Key"))
			},
		},
		{
			name: "api key custom header",
			auth: &Authentication{Scheme: "api_key", APIKey: "secret", Header: "X-Custom"},
			verify: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "secret", r.Header.Get("X-Custom"))
			},
		},
		{
			name: "basic",
			auth: &Authentication{Scheme: "basic", Username: "u", Password: "p"},
			verify: func(t *testing.T, r *http.Request) {
				user, pass, ok := r.BasicAuth()
				require.True(t, ok)
				assert.Equal(t, "u", user)
				assert.Equal(t, "p", pass)
			},
		},
		{
			name: "bearer",
			auth: &Authentication{Scheme: "bearer", Token: "tok"},
			verify: func(t *testing.T, r *http.Request) {
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				tt.verify(t, r)
				json.NewEncoder(w).Encode([]map[string]interface{}{})
			}))
			defer server.Close()

			endpoint := apiTestEndpoint(server.URL)
			endpoint.Config.Authentication = tt.auth

			adapter := NewAPIAdapter(5*time.Second, zap.NewNop())
			_, err := adapter.Read(context.Background(), endpoint)
			require.NoError(t, err)
		})
	}
}

func TestEndpointURLJoining(t *testing.T) {
	url, err := endpointURL(&Endpoint{Config: EndpointConfig{BaseURL: "http://api.local/", Path: "/v1/clients"}})
	require.NoError(t, err)
	assert.Equal(t, "http://api.local/v1/clients", url)

	url, err = endpointURL(&Endpoint{Config: EndpointConfig{BaseURL: "http://api.local"}})
	require.NoError(t, err)
	assert.Equal(t, "http://api.local", url)
}
