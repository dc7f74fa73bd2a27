package moderation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_Check(t *testing.T) {
	ctx := context.Background()

	t.Run("returns the verdict for clean text", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "POST", r.Method)
			assert.Equal(t, "/v1/moderate", r.URL.Path)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))

			var req checkRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "Summarize the following article", req.Text)

			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(Result{Flagged: false}); err != nil {
				t.Errorf("Failed to encode response: %v", err)
			}
		}))
		defer server.Close()

		client := NewClientWithOptions(ClientOptions{BaseURL: server.URL, APIKey: "test-api-key"})

		result, err := client.Check(ctx, "Summarize the following article")
		require.NoError(t, err)
		assert.False(t, result.Flagged)
		assert.Empty(t, result.Categories)
	})

	t.Run("flagged text is a result, not an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(Result{Flagged: true, Categories: []string{"hate", "violence"}}); err != nil {
				t.Errorf("Failed to encode response: %v", err)
			}
		}))
		defer server.Close()

		client := NewClient(server.URL)

		result, err := client.Check(ctx, "some flagged content")
		require.NoError(t, err)
		assert.True(t, result.Flagged)
		assert.Equal(t, []string{"hate", "violence"}, result.Categories)
	})

	t.Run("omits the Authorization header without an API key", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))

			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(Result{}); err != nil {
				t.Errorf("Failed to encode response: %v", err)
			}
		}))
		defer server.Close()

		client := NewClient(server.URL)

		_, err := client.Check(ctx, "text")
		require.NoError(t, err)
	})

	t.Run("retries server errors until success", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) < 3 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			if err := json.NewEncoder(w).Encode(Result{Flagged: false}); err != nil {
				t.Errorf("Failed to encode response: %v", err)
			}
		}))
		defer server.Close()

		client := NewClientWithOptions(ClientOptions{BaseURL: server.URL, RetryMax: 3, Timeout: 5 * time.Second})

		result, err := client.Check(ctx, "text")
		require.NoError(t, err)
		assert.False(t, result.Flagged)
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("non-retryable status surfaces as an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"text too long"}`))
		}))
		defer server.Close()

		client := NewClient(server.URL)

		result, err := client.Check(ctx, "text")
		require.Error(t, err)
		assert.Nil(t, result)
		assert.Contains(t, err.Error(), "status 400")
	})

	t.Run("malformed response body fails decoding", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte("not json"))
		}))
		defer server.Close()

		client := NewClient(server.URL)

		_, err := client.Check(ctx, "text")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unmarshal")
	})
}
