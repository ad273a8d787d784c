package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/tphakala/leafguard-go/internal/conf"
	"github.com/tphakala/leafguard-go/internal/errors"
	"github.com/tphakala/leafguard-go/internal/logging"
)

// Client calls a remote classifier service over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a classifier client from configuration.
func NewClient(cfg *conf.ClassifierConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.Newf("classifier URL is required").
			Component("classifier").
			Category(errors.CategoryConfiguration).
			Build()
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	client := &Client{
		baseURL: cfg.URL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.ForService("classifier"),
	}

	client.logger.Info("classifier client initialized",
		"base_url", cfg.URL,
		"timeout", timeout)

	return client, nil
}

type predictRequest struct {
	Image string `json:"image"` // base64-encoded processed image
}

type predictResponse struct {
	Predictions []Result `json:"predictions"`
}

// Classify sends the processed image to the classifier service and returns
// its ranked candidate list. The caller's context deadline bounds the call.
func (c *Client) Classify(ctx context.Context, image []byte) ([]Result, error) {
	payload, err := json.Marshal(predictRequest{
		Image: base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return nil, classifierError(err, "encode-request")
	}

	url := c.baseURL + "/predict"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, classifierError(err, "build-request")
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.New(ctx.Err()).
				Component("classifier").
				Category(errors.CategoryTimeout).
				Context("elapsed_ms", time.Since(start).Milliseconds()).
				Build()
		}
		return nil, classifierError(err, "request")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.logger.Error("classifier returned non-OK status",
			"status", resp.StatusCode,
			"body", string(body))
		return nil, classifierError(fmt.Errorf("classifier returned status %d", resp.StatusCode), "response-status")
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, classifierError(err, "decode-response")
	}

	c.logger.Debug("classification completed",
		"candidates", len(out.Predictions),
		"elapsed_ms", time.Since(start).Milliseconds())

	return out.Predictions, nil
}

func classifierError(err error, operation string) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryClassifier).
		Context("operation", operation).
		Build()
}
