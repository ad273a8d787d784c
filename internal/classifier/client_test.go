package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/leafguard-go/internal/conf"
	"github.com/tphakala/leafguard-go/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewClient(&conf.ClassifierConfig{
		URL:     server.URL,
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return client
}

func TestClassifyDecodesRankedResults(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/predict", r.URL.Path)

		var req predictRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.Image)

		json.NewEncoder(w).Encode(predictResponse{
			Predictions: []Result{
				{Label: "rust", Confidence: 0.82},
				{Label: "leaf_spot", Confidence: 0.3},
			},
		})
	})

	results, err := client.Classify(context.Background(), []byte("image bytes"))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "rust", results[0].Label)
	assert.InDelta(t, 0.82, results[0].Confidence, 1e-9)
}

func TestClassifyEmptyPredictionList(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(predictResponse{})
	})

	results, err := client.Classify(context.Background(), []byte("image"))
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestClassifyServerError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	})

	_, err := client.Classify(context.Background(), []byte("image"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryClassifier))
}

func TestClassifyContextTimeout(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
		json.NewEncoder(w).Encode(predictResponse{})
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Classify(ctx, []byte("image"))
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryTimeout))
}

func TestNewClientRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := NewClient(&conf.ClassifierConfig{})
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfiguration))
}
