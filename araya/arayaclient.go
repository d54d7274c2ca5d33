package araya

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/lmittmann/tint"
)

// ArayaClient relays Discord messages to the conversational API. The API
// is treated as a black box: a failure or timeout degrades to a canned
// fallback reply tagged `source_ai = "fallback"`, never an error shown
// to the user.
type ArayaClient struct {
	config     *ArayaClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func NewArayaClient(
	config *ArayaClientConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *ArayaClient {
	if logger == nil {
		logger = slog.Default()
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ArayaClient{
		config:     config,
		httpClient: httpClient,
		logger:     logger.With(loggerNameKey, "araya_client"),
	}
}

// ChatRelayRequest is the payload for the chat endpoint.
type ChatRelayRequest struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
	Context string `json:"context,omitempty"`
}

// ChatRelayResponse is the chat endpoint's reply.
type ChatRelayResponse struct {
	Response    string `json:"response"`
	Source      string `json:"source"`
	MemorySaved bool   `json:"memory_saved"`
}

// healthURL derives the health endpoint from the configured chat URL.
func (c *ArayaClient) healthURL() string {
	base := strings.TrimRight(c.config.URL, "/")
	base = strings.TrimSuffix(base, "/chat")
	return base + "/health"
}

// Chat sends a message to the conversational API and returns its reply.
// Errors wrap ErrExternalAPIUnavailable; callers should degrade to
// fallbackResponse rather than surfacing them.
func (c *ArayaClient) Chat(
	ctx context.Context,
	relay ChatRelayRequest,
) (*ChatRelayResponse, error) {
	ctx, cancel := withDefaultTimeout(ctx, c.config.Timeout)
	defer cancel()

	body, err := json.Marshal(relay)
	if err != nil {
		return nil, fmt.Errorf("error encoding chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.config.URL,
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalAPIUnavailable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "chat request failed", tint.Err(err))
		return nil, fmt.Errorf("%w: %w", ErrExternalAPIUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		c.logger.WarnContext(
			ctx,
			"chat request returned non-200",
			"status", resp.StatusCode,
		)
		return nil, fmt.Errorf(
			"%w: status %d",
			ErrExternalAPIUnavailable, resp.StatusCode,
		)
	}

	var relayResponse ChatRelayResponse
	if err := json.NewDecoder(resp.Body).Decode(&relayResponse); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExternalAPIUnavailable, err)
	}
	if relayResponse.Response == "" {
		return nil, fmt.Errorf("%w: empty response", ErrExternalAPIUnavailable)
	}
	return &relayResponse, nil
}

// Health probes the API's health endpoint, used by !status.
func (c *ArayaClient) Health(ctx context.Context) error {
	ctx, cancel := withDefaultTimeout(ctx, c.config.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.healthURL(),
		nil,
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExternalAPIUnavailable, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExternalAPIUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf(
			"%w: status %d",
			ErrExternalAPIUnavailable, resp.StatusCode,
		)
	}
	return nil
}
